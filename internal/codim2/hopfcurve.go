package codim2

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/avoura/bifurc/internal/cont"
	"github.com/avoura/bifurc/internal/dynamo"
	"github.com/avoura/bifurc/internal/linalg"
)

// HopfCurve traces a Hopf locus of a flow in two parameters. The
// augmented vector is [p1, p2, x..., kappa] with kappa = omega^2; the
// two defining scalars come from a two-bordered solve on J^2 + kappa I,
// which drops rank by two exactly when J has the pair +-i omega.
type HopfCurve struct {
	sys dynamo.System
	p1  string
	p2  string
	n   int

	pb  *pairBorders
	jac *mat.Dense
	red *mat.Dense
	fp  dynamo.State
}

func NewHopfCurve(sys dynamo.System, x dynamo.State, p1, p2 string, omega float64) (*HopfCurve, error) {
	if err := checkParams(sys, p1, p2); err != nil {
		return nil, err
	}
	n := sys.Dim()
	if len(x) != n {
		return nil, dynamo.Configf("hopf seed state length %d does not match system dimension %d", len(x), n)
	}
	if n < 2 {
		return nil, dynamo.Configf("a hopf curve needs at least two state variables")
	}
	if omega == 0 {
		return nil, dynamo.Configf("hopf frequency must be nonzero")
	}
	p := &HopfCurve{
		sys: sys, p1: p1, p2: p2, n: n,
		jac: mat.NewDense(n, n, nil),
		red: mat.NewDense(n, n, nil),
		fp:  make(dynamo.State, n),
	}
	if err := sys.Jacobian(x, p.jac); err != nil {
		return nil, err
	}
	p.reduce(omega * omega)
	pb, err := pairBordersFromMatrix(p.red)
	if err != nil {
		pb = axisPairBorders(n)
	}
	p.pb = pb
	return p, nil
}

// axisPairBorders falls back to the first two coordinate directions.
func axisPairBorders(n int) *pairBorders {
	v := mat.NewDense(n, 2, nil)
	w := mat.NewDense(n, 2, nil)
	v.Set(0, 0, 1)
	v.Set(1, 1, 1)
	w.Set(0, 0, 1)
	w.Set(1, 1, 1)
	return &pairBorders{v: v, w: w}
}

// reduce forms J^2 + kappa I from the Jacobian currently in p.jac.
func (p *HopfCurve) reduce(kappa float64) {
	p.red.Mul(p.jac, p.jac)
	for i := 0; i < p.n; i++ {
		p.red.Set(i, i, p.red.At(i, i)+kappa)
	}
}

// SeedAug packs a Hopf point into the curve's augmented layout.
func (p *HopfCurve) SeedAug(x dynamo.State, p1v, p2v, omega float64) []float64 {
	aug := make([]float64, p.n+3)
	aug[0] = p1v
	aug[1] = p2v
	copy(aug[2:], x)
	aug[p.n+2] = omega * omega
	return aug
}

func (p *HopfCurve) Dim() int        { return p.n + 2 }
func (p *HopfCurve) ParamIndex() int { return 0 }

func (p *HopfCurve) BranchType() string { return "hopf_curve" }

func (p *HopfCurve) Params() (string, string) { return p.p1, p.p2 }

func (p *HopfCurve) BranchMeta() cont.BranchMeta {
	return cont.BranchMeta{Param: p.p1, Param2: p.p2}
}

func (p *HopfCurve) Record(aug []float64) ([]float64, float64) {
	return aug[1:], aug[0]
}

func (p *HopfCurve) BuildAug(pt cont.Point) ([]float64, error) {
	if len(pt.State) != p.n+2 {
		return nil, dynamo.Invariantf("stored hopf curve state length %d, want %d", len(pt.State), p.n+2)
	}
	aug := make([]float64, p.n+3)
	aug[0] = pt.ParamValue
	copy(aug[1:], pt.State)
	return aug, nil
}

func (p *HopfCurve) splitPoint(pt cont.Point) ([]float64, float64, float64, error) {
	if len(pt.State) != p.n+2 {
		return nil, 0, 0, dynamo.Invariantf("hopf curve point state length %d, want %d", len(pt.State), p.n+2)
	}
	return pt.State[1 : p.n+1], pt.State[0], pt.State[p.n+1], nil
}

// defining evaluates the two bordered scalars, filling p.jac and
// p.red along the way.
func (p *HopfCurve) defining(x dynamo.State, kappa float64) (float64, float64, error) {
	if err := p.sys.Jacobian(x, p.jac); err != nil {
		return 0, 0, err
	}
	p.reduce(kappa)
	g1, g2, _, err := p.pb.solve(p.red)
	return g1, g2, err
}

func (p *HopfCurve) Residual(aug []float64, out []float64) error {
	return withParams(p.sys, p.p1, aug[0], p.p2, aug[1], func() error {
		x := dynamo.State(aug[2 : 2+p.n])
		if err := p.sys.Eval(x, dynamo.State(out[:p.n])); err != nil {
			return err
		}
		g1, g2, err := p.defining(x, aug[p.n+2])
		if err != nil {
			return err
		}
		out[p.n] = g1
		out[p.n+1] = g2
		return nil
	})
}

func (p *HopfCurve) ExtJacobian(aug []float64, dst *mat.Dense) error {
	err := withParams(p.sys, p.p1, aug[0], p.p2, aug[1], func() error {
		x := dynamo.State(aug[2 : 2+p.n])
		if err := p.sys.ParamDeriv(x, p.p1, p.fp); err != nil {
			return err
		}
		for i := 0; i < p.n; i++ {
			dst.Set(i, 0, p.fp[i])
		}
		if err := p.sys.ParamDeriv(x, p.p2, p.fp); err != nil {
			return err
		}
		for i := 0; i < p.n; i++ {
			dst.Set(i, 1, p.fp[i])
		}
		if err := p.sys.Jacobian(x, p.jac); err != nil {
			return err
		}
		for i := 0; i < p.n; i++ {
			for j := 0; j < p.n; j++ {
				dst.Set(i, j+2, p.jac.At(i, j))
			}
			dst.Set(i, p.n+2, 0)
		}
		return nil
	})
	if err != nil {
		return err
	}
	// central differences for the two defining rows
	work := append([]float64(nil), aug...)
	for j := 0; j < p.n+3; j++ {
		eps := 1e-7 * (1 + math.Abs(aug[j]))
		work[j] = aug[j] + eps
		gp1, gp2, err := p.definingAt(work)
		if err != nil {
			return err
		}
		work[j] = aug[j] - eps
		gm1, gm2, err := p.definingAt(work)
		if err != nil {
			return err
		}
		work[j] = aug[j]
		dst.Set(p.n, j, (gp1-gm1)/(2*eps))
		dst.Set(p.n+1, j, (gp2-gm2)/(2*eps))
	}
	return nil
}

func (p *HopfCurve) definingAt(aug []float64) (float64, float64, error) {
	var g1, g2 float64
	err := withParams(p.sys, p.p1, aug[0], p.p2, aug[1], func() error {
		var derr error
		g1, g2, derr = p.defining(dynamo.State(aug[2:2+p.n]), aug[p.n+2])
		return derr
	})
	return g1, g2, err
}

func (p *HopfCurve) Diagnostics(aug []float64) (cont.Diagnostics, error) {
	var diag cont.Diagnostics
	err := withParams(p.sys, p.p1, aug[0], p.p2, aug[1], func() error {
		x := dynamo.State(aug[2 : 2+p.n])
		if err := p.sys.Jacobian(x, p.jac); err != nil {
			return err
		}
		vals, err := linalg.Eigenvalues(p.jac)
		if err != nil {
			return err
		}
		linalg.SortEigenvaluesDesc(vals)
		diag.Eigenvalues = vals
		diag.Stable = stableSpectrum(vals, dynamo.Flow())
		return nil
	})
	if err != nil {
		return diag, err
	}
	ht, err := p.TestFunctions(aug)
	if err != nil {
		return diag, err
	}
	diag.Tests = cont.InertTests()
	diag.Curve = &cont.CurveTests{
		BogdanovTakens:  ht.BogdanovTakens,
		ZeroHopf:        ht.ZeroHopf,
		DoubleHopf:      ht.HopfHopf,
		GeneralizedHopf: ht.GeneralizedHopf,
	}
	return diag, nil
}

func (p *HopfCurve) UpdateAfterStep(aug []float64) error {
	return withParams(p.sys, p.p1, aug[0], p.p2, aug[1], func() error {
		if err := p.sys.Jacobian(dynamo.State(aug[2:2+p.n]), p.jac); err != nil {
			return err
		}
		p.reduce(aug[p.n+2])
		if err := p.pb.update(p.red); err != nil {
			return dynamo.Numericalf("hopf curve border refresh failed: %v", err)
		}
		return nil
	})
}

// HopfTests are the codimension-two test functions along a Hopf
// curve: Bogdanov-Takens as kappa itself, zero-Hopf as det J,
// Hopf-Hopf as the bialternate determinant shifted by kappa, and
// generalized Hopf as the first Lyapunov coefficient.
type HopfTests struct {
	BogdanovTakens  float64 `json:"bt"`
	ZeroHopf        float64 `json:"zh"`
	HopfHopf        float64 `json:"hh"`
	GeneralizedHopf float64 `json:"gh"`
}

func (p *HopfCurve) TestFunctions(aug []float64) (HopfTests, error) {
	var ht HopfTests
	err := withParams(p.sys, p.p1, aug[0], p.p2, aug[1], func() error {
		x := dynamo.State(aug[2 : 2+p.n])
		kappa := aug[p.n+2]
		if err := p.sys.Jacobian(x, p.jac); err != nil {
			return err
		}
		ht.BogdanovTakens = kappa
		ht.ZeroHopf = linalg.Det(p.jac)
		if p.n >= 3 {
			bialt := linalg.Bialternate(p.jac)
			m, _ := bialt.Dims()
			for i := 0; i < m; i++ {
				bialt.Set(i, i, bialt.At(i, i)+kappa)
			}
			ht.HopfHopf = linalg.Det(bialt)
		} else {
			ht.HopfHopf = 1
		}
		if kappa > 0 {
			// the projection formula degenerates when the frequency
			// collapses near a Bogdanov-Takens point
			l1, err := lyapunovFirst(p.sys, x, math.Sqrt(kappa))
			if err != nil {
				ht.GeneralizedHopf = math.NaN()
			} else {
				ht.GeneralizedHopf = l1
			}
		}
		return nil
	})
	return ht, err
}
