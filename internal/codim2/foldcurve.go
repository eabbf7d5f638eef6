package codim2

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/avoura/bifurc/internal/cont"
	"github.com/avoura/bifurc/internal/dynamo"
	"github.com/avoura/bifurc/internal/equil"
	"github.com/avoura/bifurc/internal/linalg"
)

// FoldCurve traces a fold (saddle-node) locus in two parameters. The
// augmented vector is [p1, p2, x...]; the defining scalar g comes from
// a bordered solve on the residual Jacobian, so g = 0 exactly where
// the Jacobian drops rank.
type FoldCurve struct {
	sys  dynamo.System
	kind dynamo.SystemKind
	p1   string
	p2   string
	n    int

	b   *borders
	jac *mat.Dense
	fp  dynamo.State
}

func NewFoldCurve(sys dynamo.System, kind dynamo.SystemKind, x dynamo.State, p1, p2 string) (*FoldCurve, error) {
	if err := checkParams(sys, p1, p2); err != nil {
		return nil, err
	}
	if _, err := kind.CheckedIterations(); err != nil {
		return nil, err
	}
	n := sys.Dim()
	if len(x) != n {
		return nil, dynamo.Configf("fold seed state length %d does not match system dimension %d", len(x), n)
	}
	p := &FoldCurve{
		sys: sys, kind: kind, p1: p1, p2: p2, n: n,
		jac: mat.NewDense(n, n, nil),
		fp:  make(dynamo.State, n),
	}
	if err := equil.ResidualJacobian(sys, kind, x, p.jac); err != nil {
		return nil, err
	}
	b, err := bordersFromMatrix(p.jac)
	if err != nil || b.phi == nil || b.psi == nil {
		b = uniformBorders(n)
	}
	p.b = b
	return p, nil
}

// uniformBorders is the structural fallback when no singular direction
// is available yet.
func uniformBorders(n int) *borders {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1 / math.Sqrt(float64(n))
	}
	return &borders{phi: v, psi: append([]float64(nil), v...)}
}

// SeedAug packs a fold point into the curve's augmented layout.
func (p *FoldCurve) SeedAug(x dynamo.State, p1v, p2v float64) []float64 {
	aug := make([]float64, p.n+2)
	aug[0] = p1v
	aug[1] = p2v
	copy(aug[2:], x)
	return aug
}

func (p *FoldCurve) Dim() int        { return p.n + 1 }
func (p *FoldCurve) ParamIndex() int { return 0 }

func (p *FoldCurve) BranchType() string { return "fold_curve" }

func (p *FoldCurve) Params() (string, string) { return p.p1, p.p2 }

func (p *FoldCurve) BranchMeta() cont.BranchMeta {
	return cont.BranchMeta{Param: p.p1, Param2: p.p2}
}

func (p *FoldCurve) Record(aug []float64) ([]float64, float64) {
	return aug[1:], aug[0]
}

func (p *FoldCurve) BuildAug(pt cont.Point) ([]float64, error) {
	if len(pt.State) != p.n+1 {
		return nil, dynamo.Invariantf("stored fold curve state length %d, want %d", len(pt.State), p.n+1)
	}
	aug := make([]float64, p.n+2)
	aug[0] = pt.ParamValue
	copy(aug[1:], pt.State)
	return aug, nil
}

func (p *FoldCurve) splitPoint(pt cont.Point) ([]float64, float64, float64, error) {
	if len(pt.State) != p.n+1 {
		return nil, 0, 0, dynamo.Invariantf("fold curve point state length %d, want %d", len(pt.State), p.n+1)
	}
	return pt.State[1:], pt.State[0], 0, nil
}

// defining evaluates the bordered scalar at the current parameter
// values, filling p.jac along the way.
func (p *FoldCurve) defining(x dynamo.State) (float64, error) {
	if err := equil.ResidualJacobian(p.sys, p.kind, x, p.jac); err != nil {
		return 0, err
	}
	g, _, err := borderedScalar(p.jac, p.b.phi, p.b.psi)
	return g, err
}

func (p *FoldCurve) Residual(aug []float64, out []float64) error {
	return withParams(p.sys, p.p1, aug[0], p.p2, aug[1], func() error {
		x := dynamo.State(aug[2:])
		if err := equil.Residual(p.sys, p.kind, x, dynamo.State(out[:p.n])); err != nil {
			return err
		}
		g, err := p.defining(x)
		if err != nil {
			return err
		}
		out[p.n] = g
		return nil
	})
}

func (p *FoldCurve) ExtJacobian(aug []float64, dst *mat.Dense) error {
	err := withParams(p.sys, p.p1, aug[0], p.p2, aug[1], func() error {
		x := dynamo.State(aug[2:])
		if err := equil.ResidualParamDeriv(p.sys, p.kind, x, p.p1, p.fp); err != nil {
			return err
		}
		for i := 0; i < p.n; i++ {
			dst.Set(i, 0, p.fp[i])
		}
		if err := equil.ResidualParamDeriv(p.sys, p.kind, x, p.p2, p.fp); err != nil {
			return err
		}
		for i := 0; i < p.n; i++ {
			dst.Set(i, 1, p.fp[i])
		}
		if err := equil.ResidualJacobian(p.sys, p.kind, x, p.jac); err != nil {
			return err
		}
		for i := 0; i < p.n; i++ {
			for j := 0; j < p.n; j++ {
				dst.Set(i, j+2, p.jac.At(i, j))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	// central differences for the defining row
	work := append([]float64(nil), aug...)
	for j := 0; j < p.n+2; j++ {
		eps := 1e-7 * (1 + math.Abs(aug[j]))
		work[j] = aug[j] + eps
		gp, err := p.definingAt(work)
		if err != nil {
			return err
		}
		work[j] = aug[j] - eps
		gm, err := p.definingAt(work)
		if err != nil {
			return err
		}
		work[j] = aug[j]
		dst.Set(p.n, j, (gp-gm)/(2*eps))
	}
	return nil
}

func (p *FoldCurve) definingAt(aug []float64) (float64, error) {
	var g float64
	err := withParams(p.sys, p.p1, aug[0], p.p2, aug[1], func() error {
		var derr error
		g, derr = p.defining(dynamo.State(aug[2:]))
		return derr
	})
	return g, err
}

func (p *FoldCurve) Diagnostics(aug []float64) (cont.Diagnostics, error) {
	var diag cont.Diagnostics
	err := withParams(p.sys, p.p1, aug[0], p.p2, aug[1], func() error {
		x := dynamo.State(aug[2:])
		if err := equil.SystemJacobian(p.sys, p.kind, x, p.jac); err != nil {
			return err
		}
		vals, err := linalg.Eigenvalues(p.jac)
		if err != nil {
			return err
		}
		linalg.SortEigenvaluesDesc(vals)
		diag.Eigenvalues = vals
		diag.Stable = stableSpectrum(vals, p.kind)
		return nil
	})
	if err != nil {
		return diag, err
	}
	ft, err := p.TestFunctions(aug)
	if err != nil {
		return diag, err
	}
	diag.Tests = cont.InertTests()
	diag.Curve = &cont.CurveTests{
		BogdanovTakens: ft.BogdanovTakens,
		Cusp:           ft.Cusp,
		ZeroHopf:       ft.ZeroHopf,
	}
	return diag, nil
}

func (p *FoldCurve) UpdateAfterStep(aug []float64) error {
	return withParams(p.sys, p.p1, aug[0], p.p2, aug[1], func() error {
		if err := equil.ResidualJacobian(p.sys, p.kind, dynamo.State(aug[2:]), p.jac); err != nil {
			return err
		}
		if err := p.b.update(p.jac); err != nil {
			return dynamo.Numericalf("fold curve border refresh failed: %v", err)
		}
		return nil
	})
}

// FoldTests are the codimension-two test functions along a fold curve:
// Bogdanov-Takens as the inner product of the right and left null
// vectors, cusp as the quadratic coefficient of the restricted normal
// form, zero-Hopf as the bialternate determinant.
type FoldTests struct {
	BogdanovTakens float64 `json:"bt"`
	Cusp           float64 `json:"cusp"`
	ZeroHopf       float64 `json:"zh"`
}

func (p *FoldCurve) TestFunctions(aug []float64) (FoldTests, error) {
	var ft FoldTests
	err := withParams(p.sys, p.p1, aug[0], p.p2, aug[1], func() error {
		x := dynamo.State(aug[2:])
		if err := equil.ResidualJacobian(p.sys, p.kind, x, p.jac); err != nil {
			return err
		}
		_, v, err := borderedScalar(p.jac, p.b.phi, p.b.psi)
		if err != nil {
			return err
		}
		_, w, err := borderedScalarT(p.jac, p.b.phi, p.b.psi)
		if err != nil {
			return err
		}
		v = normalizeOrKeep(v, p.b.phi)
		w = normalizeOrKeep(w, p.b.psi)
		ft.BogdanovTakens = dot(v, w)

		// scale w so <w, v> = 1 before projecting the quadratic term
		if s := dot(w, v); math.Abs(s) > 1e-12 {
			for i := range w {
				w[i] /= s
			}
		}
		bvv, err := bilinear(p.sys, x, v, v)
		if err != nil {
			return err
		}
		ft.Cusp = dot(w, bvv)

		if p.n >= 3 {
			ft.ZeroHopf = linalg.Det(linalg.Bialternate(p.jac))
		} else {
			ft.ZeroHopf = 1
		}
		return nil
	})
	return ft, err
}

func stableSpectrum(vals []complex128, kind dynamo.SystemKind) bool {
	for _, v := range vals {
		if kind.IsMap {
			if linalg.Modulus(v) >= 1 {
				return false
			}
		} else if real(v) >= 0 {
			return false
		}
	}
	return true
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
