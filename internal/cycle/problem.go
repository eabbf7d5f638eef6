package cycle

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"

	"github.com/avoura/bifurc/internal/cont"
	"github.com/avoura/bifurc/internal/dynamo"
	"github.com/avoura/bifurc/internal/linalg"
)

// Problem continues a periodic orbit of a flow in one parameter using
// Gauss collocation on a uniform mesh. The augmented vector is
//
//	[u_0 .. u_ntst, z_{0,0} .. z_{ntst-1,ncol-1}, T, p]
//
// with time rescaled to the unit interval, so each interval has width
// 1/ntst and the vector field enters multiplied by the period T. The
// residual stacks the stage equations, the interval continuity
// equations, the periodic boundary rows u_ntst - u_0 and one integral
// phase row anchored to the frozen reference derivative.
type Problem struct {
	sys   dynamo.System
	param string
	ntst  int
	ncol  int
	n     int

	sc *Scheme

	// frozen phase reference, set at seeding and never touched by
	// the corrector
	upoldp [][]float64
	phase0 float64

	jac  *mat.Dense
	fval dynamo.State
	fder dynamo.State
}

func NewProblem(sys dynamo.System, param string, ntst, ncol int) (*Problem, error) {
	if _, err := sys.Param(param); err != nil {
		return nil, err
	}
	if ntst < 1 {
		return nil, dynamo.Configf("mesh interval count must be positive")
	}
	sc, err := NewScheme(ncol)
	if err != nil {
		return nil, err
	}
	n := sys.Dim()
	return &Problem{
		sys:   sys,
		param: param,
		ntst:  ntst,
		ncol:  ncol,
		n:     n,
		sc:    sc,
		jac:   mat.NewDense(n, n, nil),
		fval:  make(dynamo.State, n),
		fder:  make(dynamo.State, n),
	}, nil
}

// Layout offsets into the augmented vector.

func (p *Problem) meshOff(i int) int { return i * p.n }

func (p *Problem) stageOff(i, s int) int {
	return (p.ntst+1)*p.n + (i*p.ncol+s)*p.n
}

func (p *Problem) periodOff() int { return (p.ntst+1)*p.n + p.ntst*p.ncol*p.n }

func (p *Problem) Dim() int { return p.periodOff() + 1 }

func (p *Problem) ParamIndex() int { return p.periodOff() + 1 }

func (p *Problem) BranchType() string { return "limit_cycle" }

func (p *Problem) Ntst() int { return p.ntst }
func (p *Problem) Ncol() int { return p.ncol }

// Mesh returns the mesh points stored in aug, including the closing
// point u_ntst.
func (p *Problem) Mesh(aug []float64) [][]float64 {
	out := make([][]float64, p.ntst+1)
	for i := range out {
		out[i] = aug[p.meshOff(i) : p.meshOff(i)+p.n]
	}
	return out
}

func (p *Problem) Period(aug []float64) float64 { return aug[p.periodOff()] }

func (p *Problem) Record(aug []float64) ([]float64, float64) {
	return aug[:p.Dim()], aug[p.ParamIndex()]
}

func (p *Problem) BuildAug(pt cont.Point) ([]float64, error) {
	if len(pt.State) != p.Dim() {
		return nil, dynamo.Invariantf("stored cycle state length %d does not match problem dimension %d", len(pt.State), p.Dim())
	}
	aug := make([]float64, p.Dim()+1)
	copy(aug, pt.State)
	aug[p.ParamIndex()] = pt.ParamValue
	return aug, nil
}

func (p *Problem) BranchMeta() cont.BranchMeta {
	return cont.BranchMeta{
		Ntst:        p.ntst,
		Ncol:        p.ncol,
		Param:       p.param,
		PhaseAnchor: p.phase0,
	}
}

// Upoldp exposes the frozen phase reference, flattened over the mesh,
// so a stored branch can be resumed with the same phase constraint.
func (p *Problem) Upoldp() []float64 {
	if p.upoldp == nil {
		return nil
	}
	out := make([]float64, 0, (p.ntst+1)*p.n)
	for _, w := range p.upoldp {
		out = append(out, w...)
	}
	return out
}

// SetPhase restores a previously frozen phase constraint.
func (p *Problem) SetPhase(upoldp []float64, anchor float64) error {
	if len(upoldp) != (p.ntst+1)*p.n {
		return dynamo.Invariantf("phase reference length %d does not match mesh size %d", len(upoldp), (p.ntst+1)*p.n)
	}
	p.upoldp = make([][]float64, p.ntst+1)
	for i := range p.upoldp {
		w := make([]float64, p.n)
		copy(w, upoldp[i*p.n:(i+1)*p.n])
		p.upoldp[i] = w
	}
	p.phase0 = anchor
	return nil
}

// freezePhase records T*f(u_i) over the seed mesh and the matching
// integral value. The reference stays fixed for the lifetime of the
// branch; re-freezing it after corrector steps would let the orbit
// drift in phase.
func (p *Problem) freezePhase(aug []float64) error {
	T := p.Period(aug)
	return dynamo.WithParam(p.sys, p.param, aug[p.ParamIndex()], func() error {
		p.upoldp = make([][]float64, p.ntst+1)
		sum := 0.0
		for i := 0; i <= p.ntst; i++ {
			u := aug[p.meshOff(i) : p.meshOff(i)+p.n]
			w := make([]float64, p.n)
			if err := p.sys.Eval(u, w); err != nil {
				return err
			}
			for j := range w {
				w[j] *= T
				sum += u[j] * w[j]
			}
			p.upoldp[i] = w
		}
		p.phase0 = sum / float64(p.ntst+1)
		return nil
	})
}

func (p *Problem) phaseResidual(aug []float64) float64 {
	sum := 0.0
	for i := 0; i <= p.ntst; i++ {
		u := aug[p.meshOff(i) : p.meshOff(i)+p.n]
		w := p.upoldp[i]
		for j := range u {
			sum += u[j] * w[j]
		}
	}
	return sum/float64(p.ntst+1) - p.phase0
}

func (p *Problem) Residual(aug []float64, out []float64) error {
	if p.upoldp == nil {
		return dynamo.Invariantf("cycle problem has no phase reference; seed it first")
	}
	n, h := p.n, 1/float64(p.ntst)
	T := p.Period(aug)
	return dynamo.WithParam(p.sys, p.param, aug[p.ParamIndex()], func() error {
		row := 0
		fstage := make([][]float64, p.ncol)
		for s := range fstage {
			fstage[s] = make([]float64, n)
		}
		for i := 0; i < p.ntst; i++ {
			for s := 0; s < p.ncol; s++ {
				z := aug[p.stageOff(i, s) : p.stageOff(i, s)+n]
				if err := p.sys.Eval(z, fstage[s]); err != nil {
					return err
				}
			}
			u := aug[p.meshOff(i) : p.meshOff(i)+n]
			for s := 0; s < p.ncol; s++ {
				z := aug[p.stageOff(i, s) : p.stageOff(i, s)+n]
				for j := 0; j < n; j++ {
					acc := z[j] - u[j]
					for k := 0; k < p.ncol; k++ {
						acc -= h * T * p.sc.A[s][k] * fstage[k][j]
					}
					out[row] = acc
					row++
				}
			}
			unext := aug[p.meshOff(i+1) : p.meshOff(i+1)+n]
			for j := 0; j < n; j++ {
				acc := unext[j] - u[j]
				for s := 0; s < p.ncol; s++ {
					acc -= h * T * p.sc.Weights[s] * fstage[s][j]
				}
				out[row] = acc
				row++
			}
		}
		u0 := aug[p.meshOff(0) : p.meshOff(0)+n]
		uN := aug[p.meshOff(p.ntst) : p.meshOff(p.ntst)+n]
		for j := 0; j < n; j++ {
			out[row] = uN[j] - u0[j]
			row++
		}
		out[row] = p.phaseResidual(aug)
		return nil
	})
}

func (p *Problem) ExtJacobian(aug []float64, dst *mat.Dense) error {
	if p.upoldp == nil {
		return dynamo.Invariantf("cycle problem has no phase reference; seed it first")
	}
	n, h := p.n, 1/float64(p.ntst)
	T := p.Period(aug)
	tCol := p.periodOff()
	pCol := p.ParamIndex()
	dst.Zero()
	return dynamo.WithParam(p.sys, p.param, aug[pCol], func() error {
		row := 0
		for i := 0; i < p.ntst; i++ {
			// per-stage field values, Jacobians and parameter
			// derivatives for this interval
			fs := make([][]float64, p.ncol)
			js := make([]*mat.Dense, p.ncol)
			ps := make([][]float64, p.ncol)
			for s := 0; s < p.ncol; s++ {
				z := aug[p.stageOff(i, s) : p.stageOff(i, s)+n]
				fs[s] = make([]float64, n)
				if err := p.sys.Eval(z, fs[s]); err != nil {
					return err
				}
				js[s] = mat.NewDense(n, n, nil)
				if err := p.sys.Jacobian(z, js[s]); err != nil {
					return err
				}
				ps[s] = make([]float64, n)
				if err := p.sys.ParamDeriv(z, p.param, ps[s]); err != nil {
					return err
				}
			}
			for s := 0; s < p.ncol; s++ {
				zOff := p.stageOff(i, s)
				for j := 0; j < n; j++ {
					r := row + j
					dst.Set(r, zOff+j, dst.At(r, zOff+j)+1)
					dst.Set(r, p.meshOff(i)+j, -1)
					for k := 0; k < p.ncol; k++ {
						c := h * T * p.sc.A[s][k]
						for l := 0; l < n; l++ {
							col := p.stageOff(i, k) + l
							dst.Set(r, col, dst.At(r, col)-c*js[k].At(j, l))
						}
						dst.Set(r, tCol, dst.At(r, tCol)-h*p.sc.A[s][k]*fs[k][j])
						dst.Set(r, pCol, dst.At(r, pCol)-c*ps[k][j])
					}
				}
				row += n
			}
			for j := 0; j < n; j++ {
				r := row + j
				dst.Set(r, p.meshOff(i+1)+j, 1)
				dst.Set(r, p.meshOff(i)+j, -1)
				for s := 0; s < p.ncol; s++ {
					c := h * T * p.sc.Weights[s]
					for l := 0; l < n; l++ {
						col := p.stageOff(i, s) + l
						dst.Set(r, col, dst.At(r, col)-c*js[s].At(j, l))
					}
					dst.Set(r, tCol, dst.At(r, tCol)-h*p.sc.Weights[s]*fs[s][j])
					dst.Set(r, pCol, dst.At(r, pCol)-c*ps[s][j])
				}
			}
			row += n
		}
		for j := 0; j < n; j++ {
			r := row + j
			dst.Set(r, p.meshOff(p.ntst)+j, 1)
			dst.Set(r, p.meshOff(0)+j, -1)
		}
		row += n
		inv := 1 / float64(p.ntst+1)
		for i := 0; i <= p.ntst; i++ {
			for j := 0; j < n; j++ {
				dst.Set(row, p.meshOff(i)+j, p.upoldp[i][j]*inv)
			}
		}
		return nil
	})
}

// Monodromy returns the linearized return map of the orbit stored in
// aug.
func (p *Problem) Monodromy(aug []float64) (*mat.Dense, error) {
	var m *mat.Dense
	err := dynamo.WithParam(p.sys, p.param, aug[p.ParamIndex()], func() error {
		var err error
		m, err = MonodromyMatrix(p.sys, p.sc, p.ntst, p.Period(aug), func(i, s int) []float64 {
			return aug[p.stageOff(i, s) : p.stageOff(i, s)+p.n]
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// MonodromyMatrix composes the linearized per-interval transfer maps
// of the collocation scheme itself. Condensing the stage variables
// keeps the multipliers at the discretization's own accuracy; coarser
// one-step products lose several digits on the same mesh. Parameters
// must already be set on the system; stageAt returns the stage state
// for interval i, stage s.
func MonodromyMatrix(sys dynamo.System, sc *Scheme, ntst int, T float64, stageAt func(i, s int) []float64) (*mat.Dense, error) {
	n, c := sys.Dim(), sc.Ncol
	h := 1 / float64(ntst)
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	js := make([]*mat.Dense, c)
	for s := range js {
		js[s] = mat.NewDense(n, n, nil)
	}
	sMat := mat.NewDense(c*n, c*n, nil)
	rhs := mat.NewDense(c*n, n, nil)
	w := mat.NewDense(c*n, n, nil)
	step := mat.NewDense(n, n, nil)
	next := mat.NewDense(n, n, nil)
	for i := 0; i < ntst; i++ {
		for s := 0; s < c; s++ {
			if err := sys.Jacobian(stageAt(i, s), js[s]); err != nil {
				return nil, err
			}
		}
		// stage sensitivity to the left mesh point:
		// (I - hT A (x) J) W = [I; ...; I]
		sMat.Zero()
		rhs.Zero()
		for s := 0; s < c; s++ {
			for k := 0; k < c; k++ {
				coef := h * T * sc.A[s][k]
				for a := 0; a < n; a++ {
					for b := 0; b < n; b++ {
						v := -coef * js[k].At(a, b)
						if s == k && a == b {
							v++
						}
						sMat.Set(s*n+a, k*n+b, v)
					}
				}
			}
			for a := 0; a < n; a++ {
				rhs.Set(s*n+a, a, 1)
			}
		}
		var lu mat.LU
		lu.Factorize(sMat)
		if err := lu.SolveTo(w, false, rhs); err != nil {
			return nil, dynamo.Numericalf("monodromy stage system is singular at interval %d", i)
		}
		step.Zero()
		for a := 0; a < n; a++ {
			step.Set(a, a, 1)
		}
		for s := 0; s < c; s++ {
			coef := h * T * sc.Weights[s]
			for a := 0; a < n; a++ {
				for b := 0; b < n; b++ {
					acc := step.At(a, b)
					for l := 0; l < n; l++ {
						acc += coef * js[s].At(a, l) * w.At(s*n+l, b)
					}
					step.Set(a, b, acc)
				}
			}
		}
		next.Mul(step, m)
		m.Copy(next)
	}
	return m, nil
}

func halfStep(dst *mat.Dense, jac *mat.Dense, c float64) {
	n, _ := jac.Dims()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := c * jac.At(i, j)
			if i == j {
				v++
			}
			dst.Set(i, j, v)
		}
	}
}

// Multipliers returns the Floquet multipliers sorted by descending
// real part.
func (p *Problem) Multipliers(aug []float64) ([]complex128, error) {
	m, err := p.Monodromy(aug)
	if err != nil {
		return nil, err
	}
	vals, err := linalg.Eigenvalues(m)
	if err != nil {
		return nil, err
	}
	linalg.SortEigenvaluesDesc(vals)
	return vals, nil
}

// TrivialIndex locates the multiplier closest to +1. Every periodic
// orbit carries one; it is excluded from the test products.
func TrivialIndex(vals []complex128) int {
	best, bd := 0, math.Inf(1)
	for i, v := range vals {
		d := cmplx.Abs(v - 1)
		if d < bd {
			best, bd = i, d
		}
	}
	return best
}

func TestsFromMultipliers(vals []complex128) cont.TestValues {
	triv := TrivialIndex(vals)
	foldC := complex(1, 0)
	flipC := complex(1, 0)
	ns := 1.0
	sawPair := false
	for i, mu := range vals {
		if i == triv {
			continue
		}
		foldC *= mu - 1
		flipC *= mu + 1
		if imag(mu) > 1e-8 {
			m := real(mu)*real(mu) + imag(mu)*imag(mu)
			ns *= m - 1
			sawPair = true
		}
	}
	if !sawPair {
		ns = 1.0
	}
	return cont.LimitCycleTests(real(foldC), real(flipC), ns)
}

func StableFromMultipliers(vals []complex128) bool {
	triv := TrivialIndex(vals)
	for i, v := range vals {
		if i == triv {
			continue
		}
		if cmplx.Abs(v) > 1+1e-6 {
			return false
		}
	}
	return true
}

func (p *Problem) Diagnostics(aug []float64) (cont.Diagnostics, error) {
	vals, err := p.Multipliers(aug)
	if err != nil {
		return cont.Diagnostics{}, err
	}
	return cont.Diagnostics{
		Tests:       TestsFromMultipliers(vals),
		Eigenvalues: vals,
		Stable:      StableFromMultipliers(vals),
	}, nil
}

func (p *Problem) UpdateAfterStep(aug []float64) error { return nil }
