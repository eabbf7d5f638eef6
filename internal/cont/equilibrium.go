package cont

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/avoura/bifurc/internal/dynamo"
	"github.com/avoura/bifurc/internal/equil"
	"github.com/avoura/bifurc/internal/linalg"
)

// EquilibriumProblem continues an equilibrium (or fixed point of a
// map) in one parameter. The augmented vector is [p, x...].
type EquilibriumProblem struct {
	sys   dynamo.System
	kind  dynamo.SystemKind
	param string

	jac  *mat.Dense
	fp   dynamo.State
	eigs *mat.Dense
}

func NewEquilibriumProblem(sys dynamo.System, kind dynamo.SystemKind, param string) (*EquilibriumProblem, error) {
	if _, err := sys.Param(param); err != nil {
		return nil, err
	}
	if _, err := kind.CheckedIterations(); err != nil {
		return nil, err
	}
	n := sys.Dim()
	return &EquilibriumProblem{
		sys:   sys,
		kind:  kind,
		param: param,
		jac:   mat.NewDense(n, n, nil),
		fp:    make(dynamo.State, n),
		eigs:  mat.NewDense(n, n, nil),
	}, nil
}

// SeedAug packs an equilibrium state and parameter value into the
// problem's augmented layout.
func (p *EquilibriumProblem) SeedAug(x dynamo.State, paramValue float64) []float64 {
	aug := make([]float64, len(x)+1)
	aug[0] = paramValue
	copy(aug[1:], x)
	return aug
}

func (p *EquilibriumProblem) Dim() int { return p.sys.Dim() }

func (p *EquilibriumProblem) ParamIndex() int { return 0 }

func (p *EquilibriumProblem) BranchType() string {
	if p.kind.IsMap {
		return "fixed_point"
	}
	return "equilibrium"
}

func (p *EquilibriumProblem) BranchMeta() BranchMeta {
	return BranchMeta{Param: p.param}
}

func (p *EquilibriumProblem) Record(aug []float64) ([]float64, float64) {
	return aug[1:], aug[0]
}

func (p *EquilibriumProblem) BuildAug(pt Point) ([]float64, error) {
	if len(pt.State) != p.sys.Dim() {
		return nil, dynamo.Invariantf("stored state length %d does not match system dimension %d", len(pt.State), p.sys.Dim())
	}
	return p.SeedAug(pt.State, pt.ParamValue), nil
}

func (p *EquilibriumProblem) Residual(aug []float64, out []float64) error {
	return dynamo.WithParam(p.sys, p.param, aug[0], func() error {
		return equil.Residual(p.sys, p.kind, dynamo.State(aug[1:]), dynamo.State(out))
	})
}

func (p *EquilibriumProblem) ExtJacobian(aug []float64, dst *mat.Dense) error {
	d := p.sys.Dim()
	return dynamo.WithParam(p.sys, p.param, aug[0], func() error {
		x := dynamo.State(aug[1:])
		if err := equil.ResidualParamDeriv(p.sys, p.kind, x, p.param, p.fp); err != nil {
			return err
		}
		for i := 0; i < d; i++ {
			dst.Set(i, 0, p.fp[i])
		}
		if err := equil.ResidualJacobian(p.sys, p.kind, x, p.jac); err != nil {
			return err
		}
		for i := 0; i < d; i++ {
			for j := 0; j < d; j++ {
				dst.Set(i, j+1, p.jac.At(i, j))
			}
		}
		return nil
	})
}

func (p *EquilibriumProblem) Diagnostics(aug []float64) (Diagnostics, error) {
	d := p.sys.Dim()
	var diag Diagnostics
	err := dynamo.WithParam(p.sys, p.param, aug[0], func() error {
		x := dynamo.State(aug[1:])
		if err := equil.SystemJacobian(p.sys, p.kind, x, p.eigs); err != nil {
			return err
		}
		vals, err := linalg.Eigenvalues(p.eigs)
		if err != nil {
			return err
		}
		linalg.SortEigenvaluesDesc(vals)
		diag.Eigenvalues = vals

		if p.kind.IsMap {
			diag.Tests = mapTests(vals)
			diag.Stable = allInsideUnitCircle(vals)
			iters, _ := p.kind.CheckedIterations()
			if iters > 1 {
				cur := x.Clone()
				next := make(dynamo.State, d)
				for i := 0; i < iters; i++ {
					diag.CyclePoints = append(diag.CyclePoints, cur.Clone())
					if err := p.sys.Eval(cur, next); err != nil {
						return err
					}
					copy(cur, next)
				}
			}
			return nil
		}

		if err := equil.ResidualJacobian(p.sys, p.kind, x, p.jac); err != nil {
			return err
		}
		diag.Tests = flowTests(vals, linalg.Det(p.jac), d)
		diag.Stable = allNegativeRealPart(vals)
		return nil
	})
	return diag, err
}

func (p *EquilibriumProblem) UpdateAfterStep(aug []float64) error { return nil }

// flowTests evaluates the equilibrium test functions: fold as det J,
// hopf as the real part of the product of pairwise eigenvalue sums,
// neutral saddle as the product over real pairs only.
func flowTests(vals []complex128, detJ float64, dim int) TestValues {
	if dim < 2 {
		return EquilibriumTests(detJ, 0, 0)
	}
	hopf := complex(1, 0)
	neutral := 1.0
	sawRealPair := false
	for i := 0; i < len(vals); i++ {
		for j := i + 1; j < len(vals); j++ {
			sum := vals[i] + vals[j]
			hopf *= sum
			if linalg.IsRealEig(vals[i], 1e-8) && linalg.IsRealEig(vals[j], 1e-8) {
				neutral *= real(sum)
				sawRealPair = true
			}
		}
	}
	if !sawRealPair {
		neutral = 1.0
	}
	return EquilibriumTests(detJ, real(hopf), neutral)
}

// mapTests evaluates fixed-point test functions over the multipliers:
// fold as prod(mu - 1), flip as prod(mu + 1), torus as the product of
// |mu|^2 - 1 over conjugate pairs.
func mapTests(vals []complex128) TestValues {
	foldC := complex(1, 0)
	flipC := complex(1, 0)
	torus := 1.0
	sawPair := false
	for _, mu := range vals {
		foldC *= mu - 1
		flipC *= mu + 1
		if imag(mu) > 1e-8 {
			// count each conjugate pair once
			m := real(mu)*real(mu) + imag(mu)*imag(mu)
			torus *= m - 1
			sawPair = true
		}
	}
	if !sawPair {
		torus = 1.0
	}
	return LimitCycleTests(real(foldC), real(flipC), torus)
}

func allNegativeRealPart(vals []complex128) bool {
	for _, v := range vals {
		if real(v) >= 0 {
			return false
		}
	}
	return true
}

func allInsideUnitCircle(vals []complex128) bool {
	for _, v := range vals {
		if math.Hypot(real(v), imag(v)) >= 1 {
			return false
		}
	}
	return true
}
