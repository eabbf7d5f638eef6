package cont

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/avoura/bifurc/internal/linalg"
)

const refineMaxIters = 12

// refineBifurcation locates the zero of the test function between two
// accepted points: a secant-interpolated seed followed by Newton on
// the residual augmented with the test value.
func (r *Runner) refineBifurcation(kind BifurcationType, augPrev, augCur []float64, gPrev, gNew float64) ([]float64, *Diagnostics, bool) {
	d := r.problem.Dim()
	n := d + 1

	s := gPrev / (gPrev - gNew)
	if s < 0 {
		s = 0
	} else if s > 1 {
		s = 1
	}
	y := make([]float64, n)
	for i := range y {
		y[i] = augPrev[i] + s*(augCur[i]-augPrev[i])
	}

	gScale := math.Max(1, math.Max(math.Abs(gPrev), math.Abs(gNew)))
	res := make([]float64, d)
	jext := mat.NewDense(d, n, nil)
	m := mat.NewDense(n, n, nil)
	rhs := make([]float64, n)

	var lastDiag *Diagnostics
	for it := 0; it < refineMaxIters; it++ {
		if err := r.problem.Residual(y, res); err != nil {
			return nil, nil, false
		}
		diag, err := r.problem.Diagnostics(y)
		if err != nil {
			return nil, nil, false
		}
		lastDiag = &diag
		g := diag.Tests.ValueFor(kind)
		if vecNorm(res) < 10*r.settings.CorrectorTol && math.Abs(g) < 1e-6*gScale {
			return y, &diag, true
		}

		if err := r.problem.ExtJacobian(y, jext); err != nil {
			return nil, nil, false
		}
		grad, err := r.testGradient(kind, y, g)
		if err != nil {
			return nil, nil, false
		}
		for i := 0; i < d; i++ {
			for j := 0; j < n; j++ {
				m.Set(i, j, jext.At(i, j))
			}
			rhs[i] = -res[i]
		}
		for j := 0; j < n; j++ {
			m.Set(d, j, grad[j])
		}
		rhs[d] = -g

		delta, err := linalg.Solve(m, rhs)
		if err != nil {
			return nil, nil, false
		}
		dn := vecNorm(delta)
		if dn > 1 {
			scale := 0.5 / dn
			for i := range delta {
				delta[i] *= scale
			}
		}
		for i := range y {
			y[i] += delta[i]
		}
		if !allFinite(y) {
			return nil, nil, false
		}
		if dn < r.settings.StepTol {
			break
		}
	}

	if lastDiag == nil {
		return nil, nil, false
	}
	if err := r.problem.Residual(y, res); err != nil {
		return nil, nil, false
	}
	g := lastDiag.Tests.ValueFor(kind)
	if vecNorm(res) < 10*r.settings.CorrectorTol && math.Abs(g) < 1e-4*gScale {
		return y, lastDiag, true
	}
	return nil, nil, false
}

// testGradient approximates the gradient of the monitored test value
// by forward differences over the augmented vector.
func (r *Runner) testGradient(kind BifurcationType, y []float64, g0 float64) ([]float64, error) {
	n := len(y)
	grad := make([]float64, n)
	pert := append([]float64(nil), y...)
	for i := 0; i < n; i++ {
		h := 1e-7 * math.Max(1, math.Abs(y[i]))
		pert[i] = y[i] + h
		diag, err := r.problem.Diagnostics(pert)
		if err != nil {
			return nil, err
		}
		grad[i] = (diag.Tests.ValueFor(kind) - g0) / h
		pert[i] = y[i]
	}
	return grad, nil
}
