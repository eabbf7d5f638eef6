package homoclinic

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/avoura/bifurc/internal/cont"
	"github.com/avoura/bifurc/internal/cycle"
	"github.com/avoura/bifurc/internal/dynamo"
	"github.com/avoura/bifurc/internal/linalg"
)

// Problem continues a truncated homoclinic orbit. The augmented
// vector is [p1, mesh, stages, x0, p2, freed extras, Yu, Ys].
type Problem struct {
	sys   dynamo.System
	setup *Setup
	sc    *cycle.Scheme

	refMesh []float64
	refFlow []float64
}

func NewProblem(sys dynamo.System, setup *Setup) (*Problem, error) {
	if setup.Dim != sys.Dim() {
		return nil, dynamo.Configf("setup dimension %d does not match system dimension %d", setup.Dim, sys.Dim())
	}
	if err := setup.validate(); err != nil {
		return nil, err
	}
	sc, err := cycle.NewScheme(setup.Ncol)
	if err != nil {
		return nil, err
	}
	p := &Problem{sys: sys, setup: setup, sc: sc}
	if err := p.freezeReference(setup.Mesh); err != nil {
		return nil, err
	}
	return p, nil
}

// freezeReference snapshots the orbit and its flow for the phase
// conditions.
func (p *Problem) freezeReference(mesh []float64) error {
	s := p.setup
	p.refMesh = append(p.refMesh[:0], mesh...)
	p.refFlow = append(p.refFlow[:0], make([]float64, len(mesh))...)
	f := make(dynamo.State, s.Dim)
	for i := 0; i <= s.Ntst; i++ {
		if err := p.sys.Eval(dynamo.State(mesh[i*s.Dim:(i+1)*s.Dim]), f); err != nil {
			return err
		}
		copy(p.refFlow[i*s.Dim:], f)
	}
	return nil
}

// layout offsets within the augmented vector
func (p *Problem) meshAt(aug []float64, i int) []float64 {
	off := 1 + i*p.setup.Dim
	return aug[off : off+p.setup.Dim]
}

func (p *Problem) stageAt(aug []float64, i, s int) []float64 {
	off := 1 + (p.setup.Ntst+1)*p.setup.Dim + (i*p.setup.Ncol+s)*p.setup.Dim
	return aug[off : off+p.setup.Dim]
}

func (p *Problem) x0Off() int {
	return 1 + (p.setup.Ntst+1+p.setup.Ntst*p.setup.Ncol)*p.setup.Dim
}

func (p *Problem) x0At(aug []float64) []float64 {
	return aug[p.x0Off() : p.x0Off()+p.setup.Dim]
}

func (p *Problem) p2Index() int { return p.x0Off() + p.setup.Dim }

func (p *Problem) extrasOff() int { return p.p2Index() + 1 }

func (p *Problem) timeOf(aug []float64) float64 {
	if !p.setup.FreeTime {
		return p.setup.Time
	}
	return aug[p.extrasOff()]
}

func (p *Problem) eps0Of(aug []float64) float64 {
	if !p.setup.FreeEps0 {
		return p.setup.Eps0
	}
	idx := p.extrasOff()
	if p.setup.FreeTime {
		idx++
	}
	return aug[idx]
}

func (p *Problem) eps1Of(aug []float64) float64 {
	if !p.setup.FreeEps1 {
		return p.setup.Eps1
	}
	idx := p.extrasOff()
	if p.setup.FreeTime {
		idx++
	}
	if p.setup.FreeEps0 {
		idx++
	}
	return aug[idx]
}

func (p *Problem) riccatiOff() int { return p.extrasOff() + p.setup.FreeExtras() }

func (p *Problem) yuAt(aug []float64) []float64 {
	nm := p.setup.NNeg * p.setup.NPos
	return aug[p.riccatiOff() : p.riccatiOff()+nm]
}

func (p *Problem) ysAt(aug []float64) []float64 {
	nm := p.setup.NNeg * p.setup.NPos
	return aug[p.riccatiOff()+nm : p.riccatiOff()+2*nm]
}

func (p *Problem) Dim() int        { return p.setup.unknowns() }
func (p *Problem) ParamIndex() int { return 0 }

func (p *Problem) BranchType() string { return "homoclinic" }

func (p *Problem) BranchMeta() cont.BranchMeta {
	return cont.BranchMeta{
		Ntst: p.setup.Ntst, Ncol: p.setup.Ncol,
		Param: p.setup.Param1, Param2: p.setup.Param2,
	}
}

func (p *Problem) Record(aug []float64) ([]float64, float64) {
	return aug[1:], aug[0]
}

func (p *Problem) BuildAug(pt cont.Point) ([]float64, error) {
	if len(pt.State) != p.Dim() {
		return nil, dynamo.Invariantf("stored homoclinic state length %d, want %d", len(pt.State), p.Dim())
	}
	aug := make([]float64, p.Dim()+1)
	aug[0] = pt.ParamValue
	copy(aug[1:], pt.State)
	return aug, nil
}

func (p *Problem) Residual(aug []float64, out []float64) error {
	s := p.setup
	return withBoth(p.sys, s.Param1, aug[0], s.Param2, aug[p.p2Index()], func() error {
		dim := s.Dim
		T := p.timeOf(aug)
		h := 2 * T / float64(s.Ntst)
		fz := make([][]float64, s.Ncol)
		for k := range fz {
			fz[k] = make([]float64, dim)
		}
		row := 0
		for i := 0; i < s.Ntst; i++ {
			for k := 0; k < s.Ncol; k++ {
				if err := p.sys.Eval(dynamo.State(p.stageAt(aug, i, k)), dynamo.State(fz[k])); err != nil {
					return err
				}
			}
			u := p.meshAt(aug, i)
			for sIdx := 0; sIdx < s.Ncol; sIdx++ {
				z := p.stageAt(aug, i, sIdx)
				for d := 0; d < dim; d++ {
					sum := 0.0
					for k := 0; k < s.Ncol; k++ {
						sum += p.sc.A[sIdx][k] * fz[k][d]
					}
					out[row] = z[d] - u[d] - h*sum
					row++
				}
			}
			next := p.meshAt(aug, i+1)
			for d := 0; d < dim; d++ {
				sum := 0.0
				for k := 0; k < s.Ncol; k++ {
					sum += p.sc.Weights[k] * fz[k][d]
				}
				out[row] = next[d] - u[d] - h*sum
				row++
			}
		}

		// saddle condition
		x0 := p.x0At(aug)
		fx0 := make(dynamo.State, dim)
		if err := p.sys.Eval(dynamo.State(x0), fx0); err != nil {
			return err
		}
		for d := 0; d < dim; d++ {
			out[row] = fx0[d]
			row++
		}

		// phase conditions against the frozen reference
		nphase := s.FreeExtras() - 1
		if nphase >= 1 {
			phase := 0.0
			for i := 0; i <= s.Ntst; i++ {
				u := p.meshAt(aug, i)
				for d := 0; d < dim; d++ {
					phase += (u[d] - p.refMesh[i*dim+d]) * p.refFlow[i*dim+d]
				}
			}
			out[row] = phase / float64(s.Ntst+1)
			row++
		}
		if nphase >= 2 {
			// second phase row pins the drift along the reference
			// mesh direction
			phase := 0.0
			for i := 0; i < s.Ntst; i++ {
				for d := 0; d < dim; d++ {
					dref := p.refMesh[(i+1)*dim+d] - p.refMesh[i*dim+d]
					phase += (p.meshAt(aug, i)[d] - p.refMesh[i*dim+d]) * dref
				}
			}
			out[row] = phase / float64(s.Ntst)
			row++
		}

		// Riccati residuals for both subspaces
		jac := mat.NewDense(dim, dim, nil)
		if err := p.sys.Jacobian(dynamo.State(x0), jac); err != nil {
			return err
		}
		row = p.riccatiRows(jac, s.BasisU, s.NPos, p.yuAt(aug), out, row)
		row = p.riccatiRows(jac, s.BasisS, s.NNeg, p.ysAt(aug), out, row)

		// projection boundary conditions
		u0 := p.meshAt(aug, 0)
		un := p.meshAt(aug, s.Ntst)
		yu := p.yuAt(aug)
		for j := 0; j < s.NNeg; j++ {
			sum := 0.0
			for i := 0; i < dim; i++ {
				q := s.BasisU.At(i, s.NPos+j)
				for k := 0; k < s.NPos; k++ {
					q -= yu[j*s.NPos+k] * s.BasisU.At(i, k)
				}
				sum += (u0[i] - x0[i]) * q
			}
			out[row] = sum
			row++
		}
		ys := p.ysAt(aug)
		for j := 0; j < s.NPos; j++ {
			sum := 0.0
			for i := 0; i < dim; i++ {
				q := s.BasisS.At(i, s.NNeg+j)
				for k := 0; k < s.NNeg; k++ {
					q -= ys[j*s.NNeg+k] * s.BasisS.At(i, k)
				}
				sum += (un[i] - x0[i]) * q
			}
			out[row] = sum
			row++
		}

		// endpoint distances
		out[row] = distance(u0, dynamo.State(x0)) - p.eps0Of(aug)
		row++
		out[row] = distance(un, dynamo.State(x0)) - p.eps1Of(aug)
		return nil
	})
}

// riccatiRows writes T22*Y - Y*T11 + T21 - Y*T12*Y for the frame with
// the tracked subspace of size nsub leading, returning the next row.
func (p *Problem) riccatiRows(jac, basis *mat.Dense, nsub int, y []float64, out []float64, row int) int {
	dim := p.setup.Dim
	ncom := dim - nsub
	var tm mat.Dense
	tm.Mul(basis.T(), jac)
	var full mat.Dense
	full.Mul(&tm, basis)
	at := func(i, j int) float64 { return full.At(i, j) }
	// residual entry (r, c) for Y of shape ncom x nsub
	for r := 0; r < ncom; r++ {
		for c := 0; c < nsub; c++ {
			sum := at(nsub+r, c) // T21
			for k := 0; k < ncom; k++ {
				sum += at(nsub+r, nsub+k) * y[k*nsub+c] // T22*Y
			}
			for k := 0; k < nsub; k++ {
				sum -= y[r*nsub+k] * at(k, c) // Y*T11
			}
			// Y*T12*Y
			quad := 0.0
			for k := 0; k < nsub; k++ {
				t12y := 0.0
				for l := 0; l < ncom; l++ {
					t12y += at(k, nsub+l) * y[l*nsub+c]
				}
				quad += y[r*nsub+k] * t12y
			}
			sum -= quad
			out[row] = sum
			row++
		}
	}
	return row
}

func (p *Problem) ExtJacobian(aug []float64, dst *mat.Dense) error {
	d := p.Dim()
	r0 := make([]float64, d)
	if err := p.Residual(aug, r0); err != nil {
		return err
	}
	r1 := make([]float64, d)
	work := append([]float64(nil), aug...)
	for j := 0; j <= d; j++ {
		eps := math.Max(1e-7, 1e-7*math.Abs(aug[j]))
		work[j] = aug[j] + eps
		if err := p.Residual(work, r1); err != nil {
			return err
		}
		work[j] = aug[j]
		for i := 0; i < d; i++ {
			dst.Set(i, j, (r1[i]-r0[i])/eps)
		}
	}
	return nil
}

func (p *Problem) Diagnostics(aug []float64) (cont.Diagnostics, error) {
	s := p.setup
	var diag cont.Diagnostics
	err := withBoth(p.sys, s.Param1, aug[0], s.Param2, aug[p.p2Index()], func() error {
		jac := mat.NewDense(s.Dim, s.Dim, nil)
		if err := p.sys.Jacobian(dynamo.State(p.x0At(aug)), jac); err != nil {
			return err
		}
		vals, err := linalg.Eigenvalues(jac)
		if err != nil {
			return err
		}
		linalg.SortEigenvaluesDesc(vals)
		diag.Eigenvalues = vals
		diag.Tests = cont.EquilibriumTests(1, 1, 1)
		diag.Stable = false
		return nil
	})
	return diag, err
}

// UpdateAfterStep refreezes the phase reference on the accepted
// orbit.
func (p *Problem) UpdateAfterStep(aug []float64) error {
	s := p.setup
	mesh := aug[1 : 1+(s.Ntst+1)*s.Dim]
	return withBoth(p.sys, s.Param1, aug[0], s.Param2, aug[p.p2Index()], func() error {
		return p.freezeReference(mesh)
	})
}

// withBoth evaluates fn with both parameters set, restoring the old
// values afterwards.
func withBoth(sys dynamo.System, p1 string, v1 float64, p2 string, v2 float64, fn func() error) error {
	return dynamo.WithParam(sys, p1, v1, func() error {
		return dynamo.WithParam(sys, p2, v2, fn)
	})
}
