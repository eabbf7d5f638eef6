package codim2

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/avoura/bifurc/internal/cont"
	"github.com/avoura/bifurc/internal/cycle"
	"github.com/avoura/bifurc/internal/dynamo"
	"github.com/avoura/bifurc/internal/linalg"
)

// cycleCurve is the shared boundary-value core of the two-parameter
// limit cycle curves. The augmented vector is
//
//	[p1, u_0..u_ntst, z_00..z_{ntst-1,ncol-1}, T, p2 (, k)]
//
// and the shared rows are the collocation conditions, the interval
// continuity conditions, the periodic boundary condition and the
// frozen integral phase condition. Each concrete curve appends its
// own defining rows.
type cycleCurve struct {
	sys  dynamo.System
	p1   string
	p2   string
	dim  int
	ntst int
	ncol int
	sc   *cycle.Scheme

	upoldp   []float64
	phaseRef float64
	seedT    float64
	seed     []float64
}

// nms is the number of mesh and stage coordinates.
func (c *cycleCurve) nms() int { return (c.ntst + 1 + c.ntst*c.ncol) * c.dim }

func (c *cycleCurve) meshAt(aug []float64, i int) []float64 {
	off := 1 + i*c.dim
	return aug[off : off+c.dim]
}

func (c *cycleCurve) stageAt(aug []float64, i, s int) []float64 {
	off := 1 + (c.ntst+1)*c.dim + (i*c.ncol+s)*c.dim
	return aug[off : off+c.dim]
}

func (c *cycleCurve) tIndex() int  { return 1 + c.nms() }
func (c *cycleCurve) p2Index() int { return c.tIndex() + 1 }

// newCycleCurve validates the seed cycle and freezes the phase
// reference. lc is a recorded limit cycle state: mesh points, stage
// values and the period, at the system's current parameter values.
func newCycleCurve(sys dynamo.System, lc dynamo.State, ntst, ncol int, p1, p2 string) (*cycleCurve, error) {
	if err := checkParams(sys, p1, p2); err != nil {
		return nil, err
	}
	if ntst <= 0 {
		return nil, dynamo.Configf("mesh interval count must be positive, got %d", ntst)
	}
	sc, err := cycle.NewScheme(ncol)
	if err != nil {
		return nil, err
	}
	dim := sys.Dim()
	want := (ntst + 1 + ntst*ncol) * dim
	if len(lc) != want+1 {
		return nil, dynamo.Configf("cycle state length %d does not match mesh %dx%d in dimension %d", len(lc), ntst, ncol, dim)
	}
	T := lc[want]
	if T <= 0 {
		return nil, dynamo.Configf("cycle period must be positive, got %g", T)
	}
	c := &cycleCurve{
		sys: sys, p1: p1, p2: p2,
		dim: dim, ntst: ntst, ncol: ncol, sc: sc,
		seedT: T,
		seed:  append([]float64(nil), lc...),
	}
	c.upoldp = make([]float64, (ntst+1)*dim)
	f := make(dynamo.State, dim)
	for i := 0; i <= ntst; i++ {
		u := dynamo.State(lc[i*dim : (i+1)*dim])
		if err := sys.Eval(u, f); err != nil {
			return nil, err
		}
		for d := 0; d < dim; d++ {
			c.upoldp[i*dim+d] = T * f[d]
		}
	}
	for i := 0; i <= ntst; i++ {
		for d := 0; d < dim; d++ {
			c.phaseRef += lc[i*dim+d] * c.upoldp[i*dim+d]
		}
	}
	c.phaseRef /= float64(ntst + 1)
	return c, nil
}

// seedAug builds an augmented vector from the stored seed cycle and
// the system's current parameter values. extra appends any auxiliary
// unknowns after p2.
func (c *cycleCurve) seedAug(extra ...float64) ([]float64, error) {
	p1v, err := c.sys.Param(c.p1)
	if err != nil {
		return nil, err
	}
	p2v, err := c.sys.Param(c.p2)
	if err != nil {
		return nil, err
	}
	aug := make([]float64, 0, c.p2Index()+1+len(extra))
	aug = append(aug, p1v)
	aug = append(aug, c.seed[:c.nms()]...)
	aug = append(aug, c.seed[c.nms()], p2v)
	aug = append(aug, extra...)
	return aug, nil
}

func (c *cycleCurve) Params() (string, string) { return c.p1, c.p2 }

func (c *cycleCurve) Upoldp() []float64 {
	return append([]float64(nil), c.upoldp...)
}

func (c *cycleCurve) branchMeta() cont.BranchMeta {
	return cont.BranchMeta{
		Ntst: c.ntst, Ncol: c.ncol,
		Param: c.p1, Param2: c.p2,
		PhaseAnchor: c.phaseRef,
	}
}

// bvpRows writes the shared rows: ntst*ncol*dim collocation,
// ntst*dim continuity, dim boundary, one phase. Parameters must
// already be set. Returns the next free row index.
func (c *cycleCurve) bvpRows(aug, out []float64) (int, error) {
	T := aug[c.tIndex()]
	h := T / float64(c.ntst)
	fz := make([][]float64, c.ncol)
	for s := range fz {
		fz[s] = make([]float64, c.dim)
	}
	row := 0
	for i := 0; i < c.ntst; i++ {
		for s := 0; s < c.ncol; s++ {
			if err := c.sys.Eval(dynamo.State(c.stageAt(aug, i, s)), dynamo.State(fz[s])); err != nil {
				return 0, err
			}
		}
		u := c.meshAt(aug, i)
		for s := 0; s < c.ncol; s++ {
			z := c.stageAt(aug, i, s)
			for d := 0; d < c.dim; d++ {
				sum := 0.0
				for k := 0; k < c.ncol; k++ {
					sum += c.sc.A[s][k] * fz[k][d]
				}
				out[row] = z[d] - u[d] - h*sum
				row++
			}
		}
		next := c.meshAt(aug, i+1)
		for d := 0; d < c.dim; d++ {
			sum := 0.0
			for s := 0; s < c.ncol; s++ {
				sum += c.sc.Weights[s] * fz[s][d]
			}
			out[row] = next[d] - u[d] - h*sum
			row++
		}
	}
	u0 := c.meshAt(aug, 0)
	un := c.meshAt(aug, c.ntst)
	for d := 0; d < c.dim; d++ {
		out[row] = un[d] - u0[d]
		row++
	}
	phase := 0.0
	for i := 0; i <= c.ntst; i++ {
		u := c.meshAt(aug, i)
		for d := 0; d < c.dim; d++ {
			phase += u[d] * c.upoldp[i*c.dim+d]
		}
	}
	out[row] = phase/float64(c.ntst+1) - c.phaseRef
	row++
	return row, nil
}

// squareSize is the order of the bordered variational matrix: stage
// and interior mesh perturbations plus the period column.
func (c *cycleCurve) squareSize() int {
	return c.ntst*c.ncol*c.dim + c.ntst*c.dim + 1
}

// squareVariational assembles the linearized boundary-value matrix
// used for the LPC and PD defining scalars. Columns are stage
// perturbations, interior mesh perturbations and the period; the wrap
// of the last continuity row carries +1 for a periodic mode and -1
// for an antiperiodic one. Parameters must already be set.
func (c *cycleCurve) squareVariational(aug []float64, antiperiodic bool) (*mat.Dense, error) {
	n := c.squareSize()
	m := mat.NewDense(n, n, nil)
	T := aug[c.tIndex()]
	h := T / float64(c.ntst)
	nstage := c.ntst * c.ncol * c.dim
	tcol := n - 1
	jacs := make([]*mat.Dense, c.ncol)
	fz := make([][]float64, c.ncol)
	for s := range jacs {
		jacs[s] = mat.NewDense(c.dim, c.dim, nil)
		fz[s] = make([]float64, c.dim)
	}
	row := 0
	for i := 0; i < c.ntst; i++ {
		for s := 0; s < c.ncol; s++ {
			z := dynamo.State(c.stageAt(aug, i, s))
			if err := c.sys.Jacobian(z, jacs[s]); err != nil {
				return nil, err
			}
			if err := c.sys.Eval(z, dynamo.State(fz[s])); err != nil {
				return nil, err
			}
		}
		meshCol := nstage + i*c.dim
		for s := 0; s < c.ncol; s++ {
			for d := 0; d < c.dim; d++ {
				r := row + s*c.dim + d
				m.Set(r, (i*c.ncol+s)*c.dim+d, 1)
				m.Set(r, meshCol+d, m.At(r, meshCol+d)-1)
				for k := 0; k < c.ncol; k++ {
					kcol := (i*c.ncol + k) * c.dim
					for e := 0; e < c.dim; e++ {
						m.Set(r, kcol+e, m.At(r, kcol+e)-h*c.sc.A[s][k]*jacs[k].At(d, e))
					}
					m.Set(r, tcol, m.At(r, tcol)-c.sc.A[s][k]*fz[k][d]/float64(c.ntst))
				}
			}
		}
		row += c.ncol * c.dim
		// continuity: the next interior mesh point, wrapping to the
		// first with the mode's sign
		nextCol := nstage + (i+1)*c.dim
		sign := 1.0
		if i == c.ntst-1 {
			nextCol = nstage
			if antiperiodic {
				sign = -1
			}
		}
		for d := 0; d < c.dim; d++ {
			r := row + d
			m.Set(r, nextCol+d, m.At(r, nextCol+d)+sign)
			m.Set(r, meshCol+d, m.At(r, meshCol+d)-1)
			for s := 0; s < c.ncol; s++ {
				scol := (i*c.ncol + s) * c.dim
				for e := 0; e < c.dim; e++ {
					m.Set(r, scol+e, m.At(r, scol+e)-h*c.sc.Weights[s]*jacs[s].At(d, e))
				}
				m.Set(r, tcol, m.At(r, tcol)-c.sc.Weights[s]*fz[s][d]/float64(c.ntst))
			}
		}
		row += c.dim
	}
	// phase row over the interior mesh points
	for i := 0; i < c.ntst; i++ {
		for d := 0; d < c.dim; d++ {
			m.Set(row, nstage+i*c.dim+d, c.upoldp[i*c.dim+d]/float64(c.ntst+1))
		}
	}
	return m, nil
}

// monodromy computes the cycle's monodromy matrix at aug. Parameters
// must already be set.
func (c *cycleCurve) monodromy(aug []float64) (*mat.Dense, error) {
	return cycle.MonodromyMatrix(c.sys, c.sc, c.ntst, aug[c.tIndex()], func(i, s int) []float64 {
		return c.stageAt(aug, i, s)
	})
}

// diagnostics reports the Floquet multipliers and cycle stability.
func (c *cycleCurve) diagnostics(aug []float64) (cont.Diagnostics, error) {
	var diag cont.Diagnostics
	err := withParams(c.sys, c.p1, aug[0], c.p2, aug[c.p2Index()], func() error {
		mono, err := c.monodromy(aug)
		if err != nil {
			return err
		}
		vals, err := linalg.Eigenvalues(mono)
		if err != nil {
			return err
		}
		linalg.SortEigenvaluesDesc(vals)
		diag.Eigenvalues = vals
		diag.Tests = cycle.TestsFromMultipliers(vals)
		diag.Stable = cycle.StableFromMultipliers(vals)
		return nil
	})
	return diag, err
}

// numericalJacobian fills dst with forward differences of residual.
func numericalJacobian(residual func(aug, out []float64) error, aug []float64, d int, dst *mat.Dense) error {
	r0 := make([]float64, d)
	if err := residual(aug, r0); err != nil {
		return err
	}
	r1 := make([]float64, d)
	work := append([]float64(nil), aug...)
	for j := 0; j <= d; j++ {
		eps := 1e-7 * (1 + math.Abs(aug[j]))
		work[j] = aug[j] + eps
		if err := residual(work, r1); err != nil {
			return err
		}
		work[j] = aug[j]
		for i := 0; i < d; i++ {
			dst.Set(i, j, (r1[i]-r0[i])/eps)
		}
	}
	return nil
}

// record and rebuild helpers shared by all cycle curves.
func (c *cycleCurve) record(aug []float64) ([]float64, float64) {
	return aug[1:], aug[0]
}

func (c *cycleCurve) buildAug(pt cont.Point, d int) ([]float64, error) {
	if len(pt.State) != d {
		return nil, dynamo.Invariantf("stored cycle curve state length %d, want %d", len(pt.State), d)
	}
	aug := make([]float64, d+1)
	aug[0] = pt.ParamValue
	copy(aug[1:], pt.State)
	return aug, nil
}

// splitCycle drops the closing mesh point, delivering
// [u_0..u_{ntst-1}, stages, T] with the second parameter separate.
func (c *cycleCurve) splitCycle(pt cont.Point, d int, aux func(s []float64) float64) ([]float64, float64, float64, error) {
	if len(pt.State) != d {
		return nil, 0, 0, dynamo.Invariantf("cycle curve point state length %d, want %d", len(pt.State), d)
	}
	s := pt.State
	meshEnd := c.ntst * c.dim
	stageStart := (c.ntst + 1) * c.dim
	out := make([]float64, 0, c.ntst*(c.ncol+1)*c.dim+1)
	out = append(out, s[:meshEnd]...)
	out = append(out, s[stageStart:c.nms()]...)
	out = append(out, s[c.nms()])
	a := 0.0
	if aux != nil {
		a = aux(s)
	}
	return out, s[c.nms()+1], a, nil
}

// LPCCurve traces a fold-of-cycles locus: the cycle boundary value
// problem plus a bordered scalar on the periodic variational matrix,
// which is singular exactly where the cycle branch folds.
type LPCCurve struct {
	*cycleCurve
	b *borders
}

func NewLPCCurve(sys dynamo.System, lc dynamo.State, ntst, ncol int, p1, p2 string) (*LPCCurve, error) {
	c, err := newCycleCurve(sys, lc, ntst, ncol, p1, p2)
	if err != nil {
		return nil, err
	}
	return &LPCCurve{cycleCurve: c, b: goldenBorders(c.squareSize())}, nil
}

func (p *LPCCurve) SeedAug() ([]float64, error) { return p.seedAug() }

func (p *LPCCurve) Dim() int        { return p.nms() + 2 }
func (p *LPCCurve) ParamIndex() int { return 0 }

func (p *LPCCurve) BranchType() string { return "lpc_curve" }

func (p *LPCCurve) BranchMeta() cont.BranchMeta { return p.branchMeta() }

func (p *LPCCurve) Record(aug []float64) ([]float64, float64) { return p.record(aug) }

func (p *LPCCurve) BuildAug(pt cont.Point) ([]float64, error) { return p.buildAug(pt, p.Dim()) }

func (p *LPCCurve) splitPoint(pt cont.Point) ([]float64, float64, float64, error) {
	return p.splitCycle(pt, p.Dim(), nil)
}

func (p *LPCCurve) Residual(aug []float64, out []float64) error {
	return withParams(p.sys, p.p1, aug[0], p.p2, aug[p.p2Index()], func() error {
		row, err := p.bvpRows(aug, out)
		if err != nil {
			return err
		}
		sq, err := p.squareVariational(aug, false)
		if err != nil {
			return err
		}
		g, _, err := borderedScalar(sq, p.b.phi, p.b.psi)
		if err != nil {
			return err
		}
		out[row] = g
		return nil
	})
}

func (p *LPCCurve) ExtJacobian(aug []float64, dst *mat.Dense) error {
	return numericalJacobian(p.Residual, aug, p.Dim(), dst)
}

func (p *LPCCurve) Diagnostics(aug []float64) (cont.Diagnostics, error) {
	diag, err := p.diagnostics(aug)
	if err != nil {
		return diag, err
	}
	lt := lpcTestsFromMultipliers(diag.Eigenvalues)
	diag.Tests = cont.InertTests()
	diag.Curve = &cont.CurveTests{FoldFlip: lt.FoldFlip, FoldNS: lt.FoldNS}
	return diag, nil
}

// LPCTests are the codimension-two test functions along a cycle fold
// curve, read off the nontrivial Floquet multipliers: the flip product
// vanishes at a fold-flip point, the torus product at a fold-torus
// point.
type LPCTests struct {
	FoldFlip float64 `json:"fold_flip"`
	FoldNS   float64 `json:"fold_ns"`
}

func lpcTestsFromMultipliers(vals []complex128) LPCTests {
	tv := cycle.TestsFromMultipliers(vals)
	return LPCTests{FoldFlip: tv.PeriodDoubling, FoldNS: tv.NeimarkSacker}
}

func (p *LPCCurve) TestFunctions(aug []float64) (LPCTests, error) {
	var lt LPCTests
	err := withParams(p.sys, p.p1, aug[0], p.p2, aug[p.p2Index()], func() error {
		mono, err := p.monodromy(aug)
		if err != nil {
			return err
		}
		vals, err := linalg.Eigenvalues(mono)
		if err != nil {
			return err
		}
		lt = lpcTestsFromMultipliers(vals)
		return nil
	})
	return lt, err
}

func (p *LPCCurve) UpdateAfterStep(aug []float64) error {
	return withParams(p.sys, p.p1, aug[0], p.p2, aug[p.p2Index()], func() error {
		sq, err := p.squareVariational(aug, false)
		if err != nil {
			return err
		}
		if err := p.b.update(sq); err != nil {
			return dynamo.Numericalf("cycle fold curve border refresh failed: %v", err)
		}
		return nil
	})
}

// PDCurve traces a period doubling locus: the defining scalar comes
// from the antiperiodic variational matrix, singular exactly where a
// Floquet multiplier sits at -1.
type PDCurve struct {
	*cycleCurve
	b *borders
}

func NewPDCurve(sys dynamo.System, lc dynamo.State, ntst, ncol int, p1, p2 string) (*PDCurve, error) {
	c, err := newCycleCurve(sys, lc, ntst, ncol, p1, p2)
	if err != nil {
		return nil, err
	}
	return &PDCurve{cycleCurve: c, b: goldenBorders(c.squareSize())}, nil
}

func (p *PDCurve) SeedAug() ([]float64, error) { return p.seedAug() }

func (p *PDCurve) Dim() int        { return p.nms() + 2 }
func (p *PDCurve) ParamIndex() int { return 0 }

func (p *PDCurve) BranchType() string { return "pd_curve" }

func (p *PDCurve) BranchMeta() cont.BranchMeta { return p.branchMeta() }

func (p *PDCurve) Record(aug []float64) ([]float64, float64) { return p.record(aug) }

func (p *PDCurve) BuildAug(pt cont.Point) ([]float64, error) { return p.buildAug(pt, p.Dim()) }

func (p *PDCurve) splitPoint(pt cont.Point) ([]float64, float64, float64, error) {
	return p.splitCycle(pt, p.Dim(), nil)
}

func (p *PDCurve) Residual(aug []float64, out []float64) error {
	return withParams(p.sys, p.p1, aug[0], p.p2, aug[p.p2Index()], func() error {
		row, err := p.bvpRows(aug, out)
		if err != nil {
			return err
		}
		sq, err := p.squareVariational(aug, true)
		if err != nil {
			return err
		}
		g, _, err := borderedScalar(sq, p.b.phi, p.b.psi)
		if err != nil {
			return err
		}
		out[row] = g
		return nil
	})
}

func (p *PDCurve) ExtJacobian(aug []float64, dst *mat.Dense) error {
	return numericalJacobian(p.Residual, aug, p.Dim(), dst)
}

func (p *PDCurve) Diagnostics(aug []float64) (cont.Diagnostics, error) {
	diag, err := p.diagnostics(aug)
	if err != nil {
		return diag, err
	}
	pt := pdTestsFromMultipliers(diag.Eigenvalues)
	diag.Tests = cont.InertTests()
	diag.Curve = &cont.CurveTests{FoldFlip: pt.FoldFlip, FlipNS: pt.FlipNS}
	return diag, nil
}

// PDTests are the codimension-two test functions along a period
// doubling curve: the fold product vanishes at a fold-flip point, the
// torus product at a flip-torus point.
type PDTests struct {
	FoldFlip float64 `json:"fold_flip"`
	FlipNS   float64 `json:"flip_ns"`
}

func pdTestsFromMultipliers(vals []complex128) PDTests {
	tv := cycle.TestsFromMultipliers(vals)
	return PDTests{FoldFlip: tv.CycleFold, FlipNS: tv.NeimarkSacker}
}

func (p *PDCurve) TestFunctions(aug []float64) (PDTests, error) {
	var pt PDTests
	err := withParams(p.sys, p.p1, aug[0], p.p2, aug[p.p2Index()], func() error {
		mono, err := p.monodromy(aug)
		if err != nil {
			return err
		}
		vals, err := linalg.Eigenvalues(mono)
		if err != nil {
			return err
		}
		pt = pdTestsFromMultipliers(vals)
		return nil
	})
	return pt, err
}

func (p *PDCurve) UpdateAfterStep(aug []float64) error {
	return withParams(p.sys, p.p1, aug[0], p.p2, aug[p.p2Index()], func() error {
		sq, err := p.squareVariational(aug, true)
		if err != nil {
			return err
		}
		if err := p.b.update(sq); err != nil {
			return dynamo.Numericalf("period doubling curve border refresh failed: %v", err)
		}
		return nil
	})
}

// NSCurve traces a Neimark-Sacker (torus) locus. Beyond the cycle
// unknowns it carries k = cos(theta); the two defining scalars come
// from a two-bordered solve on M^2 - 2kM + I, which drops rank by two
// exactly when the monodromy M has the pair exp(+-i theta).
type NSCurve struct {
	*cycleCurve
	pb *pairBorders
}

func NewNSCurve(sys dynamo.System, lc dynamo.State, ntst, ncol int, p1, p2 string, k0 float64) (*NSCurve, error) {
	c, err := newCycleCurve(sys, lc, ntst, ncol, p1, p2)
	if err != nil {
		return nil, err
	}
	if math.Abs(k0) >= 1 {
		return nil, dynamo.Configf("torus rotation cosine must lie strictly inside (-1, 1), got %g", k0)
	}
	p := &NSCurve{cycleCurve: c}
	aug, err := p.seedAug(k0)
	if err != nil {
		return nil, err
	}
	err = withParams(sys, p1, aug[0], p2, aug[c.p2Index()], func() error {
		d, derr := p.torusMatrix(aug)
		if derr != nil {
			return derr
		}
		pb, perr := pairBordersFromMatrix(d)
		if perr != nil {
			pb = axisPairBorders(c.dim)
		}
		p.pb = pb
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (p *NSCurve) kIndex() int { return p.p2Index() + 1 }

func (p *NSCurve) SeedAug(k0 float64) ([]float64, error) { return p.seedAug(k0) }

func (p *NSCurve) Dim() int        { return p.nms() + 3 }
func (p *NSCurve) ParamIndex() int { return 0 }

func (p *NSCurve) BranchType() string { return "ns_curve" }

func (p *NSCurve) BranchMeta() cont.BranchMeta { return p.branchMeta() }

func (p *NSCurve) Record(aug []float64) ([]float64, float64) { return p.record(aug) }

func (p *NSCurve) BuildAug(pt cont.Point) ([]float64, error) { return p.buildAug(pt, p.Dim()) }

func (p *NSCurve) splitPoint(pt cont.Point) ([]float64, float64, float64, error) {
	return p.splitCycle(pt, p.Dim(), func(s []float64) float64 {
		return s[len(s)-1]
	})
}

// torusMatrix forms M^2 - 2kM + I from the monodromy at aug.
func (p *NSCurve) torusMatrix(aug []float64) (*mat.Dense, error) {
	mono, err := p.monodromy(aug)
	if err != nil {
		return nil, err
	}
	k := aug[p.kIndex()]
	d := mat.NewDense(p.dim, p.dim, nil)
	d.Mul(mono, mono)
	var scaled mat.Dense
	scaled.Scale(2*k, mono)
	d.Sub(d, &scaled)
	for i := 0; i < p.dim; i++ {
		d.Set(i, i, d.At(i, i)+1)
	}
	return d, nil
}

func (p *NSCurve) Residual(aug []float64, out []float64) error {
	return withParams(p.sys, p.p1, aug[0], p.p2, aug[p.p2Index()], func() error {
		row, err := p.bvpRows(aug, out)
		if err != nil {
			return err
		}
		d, err := p.torusMatrix(aug)
		if err != nil {
			return err
		}
		g1, g2, _, err := p.pb.solve(d)
		if err != nil {
			return err
		}
		out[row] = g1
		out[row+1] = g2
		return nil
	})
}

func (p *NSCurve) ExtJacobian(aug []float64, dst *mat.Dense) error {
	return numericalJacobian(p.Residual, aug, p.Dim(), dst)
}

func (p *NSCurve) Diagnostics(aug []float64) (cont.Diagnostics, error) {
	diag, err := p.diagnostics(aug)
	if err != nil {
		return diag, err
	}
	nt := nsTestsFromMultipliers(aug[p.kIndex()], diag.Eigenvalues)
	diag.Tests = cont.InertTests()
	diag.Curve = &cont.CurveTests{
		R1: nt.R1, R2: nt.R2, R3: nt.R3, R4: nt.R4,
		FoldNS: nt.FoldNS, FlipNS: nt.FlipNS,
		DoubleNS: nt.DoubleNS, Chenciner: nt.Chenciner,
	}
	return diag, nil
}

func (p *NSCurve) UpdateAfterStep(aug []float64) error {
	return withParams(p.sys, p.p1, aug[0], p.p2, aug[p.p2Index()], func() error {
		d, err := p.torusMatrix(aug)
		if err != nil {
			return err
		}
		if err := p.pb.update(d); err != nil {
			return dynamo.Numericalf("torus curve border refresh failed: %v", err)
		}
		return nil
	})
}

// NSTests are the codimension-two test functions along a torus curve:
// the strong resonances read off k = cos(theta), the fold and flip
// products of the nontrivial Floquet multipliers, and the product over
// the second torus pair. The Chenciner slot needs the torus normal
// form coefficient and stays neutral.
type NSTests struct {
	R1        float64 `json:"r1"`
	R2        float64 `json:"r2"`
	R3        float64 `json:"r3"`
	R4        float64 `json:"r4"`
	FoldNS    float64 `json:"fold_ns"`
	FlipNS    float64 `json:"flip_ns"`
	DoubleNS  float64 `json:"double_ns"`
	Chenciner float64 `json:"chenciner"`
}

func nsTestsFromMultipliers(k float64, vals []complex128) NSTests {
	tv := cycle.TestsFromMultipliers(vals)
	return NSTests{
		R1: k - 1, R2: k + 1, R3: k + 0.5, R4: k,
		FoldNS:    tv.CycleFold,
		FlipNS:    tv.PeriodDoubling,
		DoubleNS:  doubleTorusProduct(vals),
		Chenciner: 1,
	}
}

// doubleTorusProduct multiplies |mu|^2 - 1 over the complex pairs with
// the defining pair, the one closest to the unit circle, excluded.
func doubleTorusProduct(vals []complex128) float64 {
	best, bd := -1, math.Inf(1)
	for i, mu := range vals {
		if imag(mu) > 1e-8 {
			if d := math.Abs(real(mu)*real(mu) + imag(mu)*imag(mu) - 1); d < bd {
				best, bd = i, d
			}
		}
	}
	out, saw := 1.0, false
	for i, mu := range vals {
		if i == best || imag(mu) <= 1e-8 {
			continue
		}
		out *= real(mu)*real(mu) + imag(mu)*imag(mu) - 1
		saw = true
	}
	if !saw {
		return 1
	}
	return out
}

func (p *NSCurve) TestFunctions(aug []float64) (NSTests, error) {
	var nt NSTests
	err := withParams(p.sys, p.p1, aug[0], p.p2, aug[p.p2Index()], func() error {
		mono, err := p.monodromy(aug)
		if err != nil {
			return err
		}
		vals, err := linalg.Eigenvalues(mono)
		if err != nil {
			return err
		}
		nt = nsTestsFromMultipliers(aug[p.kIndex()], vals)
		return nil
	})
	return nt, err
}

// IsochroneCurve traces the locus of cycles with a fixed period: the
// cycle boundary value problem closed by T - T0 = 0, continued in two
// parameters.
type IsochroneCurve struct {
	*cycleCurve
}

func NewIsochroneCurve(sys dynamo.System, lc dynamo.State, ntst, ncol int, p1, p2 string) (*IsochroneCurve, error) {
	c, err := newCycleCurve(sys, lc, ntst, ncol, p1, p2)
	if err != nil {
		return nil, err
	}
	return &IsochroneCurve{cycleCurve: c}, nil
}

func (p *IsochroneCurve) SeedAug() ([]float64, error) { return p.seedAug() }

// Period is the frozen period this isochrone holds.
func (p *IsochroneCurve) Period() float64 { return p.seedT }

func (p *IsochroneCurve) Dim() int        { return p.nms() + 2 }
func (p *IsochroneCurve) ParamIndex() int { return 0 }

func (p *IsochroneCurve) BranchType() string { return "isochrone" }

func (p *IsochroneCurve) BranchMeta() cont.BranchMeta { return p.branchMeta() }

func (p *IsochroneCurve) Record(aug []float64) ([]float64, float64) { return p.record(aug) }

func (p *IsochroneCurve) BuildAug(pt cont.Point) ([]float64, error) {
	return p.buildAug(pt, p.Dim())
}

func (p *IsochroneCurve) splitPoint(pt cont.Point) ([]float64, float64, float64, error) {
	return p.splitCycle(pt, p.Dim(), nil)
}

func (p *IsochroneCurve) Residual(aug []float64, out []float64) error {
	return withParams(p.sys, p.p1, aug[0], p.p2, aug[p.p2Index()], func() error {
		row, err := p.bvpRows(aug, out)
		if err != nil {
			return err
		}
		out[row] = aug[p.tIndex()] - p.seedT
		return nil
	})
}

func (p *IsochroneCurve) ExtJacobian(aug []float64, dst *mat.Dense) error {
	return numericalJacobian(p.Residual, aug, p.Dim(), dst)
}

func (p *IsochroneCurve) Diagnostics(aug []float64) (cont.Diagnostics, error) {
	return p.diagnostics(aug)
}

func (p *IsochroneCurve) UpdateAfterStep(aug []float64) error { return nil }
