package manifold

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/avoura/bifurc/internal/dynamo"
	"github.com/avoura/bifurc/internal/integrators"
	"github.com/avoura/bifurc/internal/linalg"
)

// CurveSettings configures one-dimensional manifold growth.
type CurveSettings struct {
	Eps             float64 `json:"eps"`
	TargetArclength float64 `json:"target_arclength"`
	Tol             float64 `json:"tol"`
	Dt              float64 `json:"dt"`
	MaxTime         float64 `json:"max_time"`
	MaxPoints       int     `json:"max_points"`

	// EigenIndex selects the eigenmode (1-based position in the
	// descending spectrum) when more than one real mode matches the
	// requested stability. Zero means the match must be unique.
	EigenIndex int `json:"eigen_index,omitempty"`

	Bounds *Bounds `json:"bounds,omitempty"`
}

func DefaultCurveSettings() CurveSettings {
	return CurveSettings{
		Eps:             1e-4,
		TargetArclength: 1,
		Tol:             1e-6,
		Dt:              1e-3,
		MaxTime:         100,
		MaxPoints:       4000,
	}
}

func (s CurveSettings) validate() error {
	if s.Eps <= 0 || s.TargetArclength <= 0 {
		return dynamo.Configf("manifold seed offset and target arclength must be positive")
	}
	if s.Tol <= 0 || s.Dt <= 0 || s.MaxTime <= 0 {
		return dynamo.Configf("manifold tolerance, step and time cap must be positive")
	}
	if s.MaxPoints < 2 {
		return dynamo.Configf("manifold point cap must be at least 2, got %d", s.MaxPoints)
	}
	return nil
}

// Curve is a directed one-dimensional manifold branch: flat points
// with cumulative arclength, one entry per sample.
type Curve struct {
	Dim       int       `json:"dim"`
	Points    []float64 `json:"points_flat"`
	Arclength []float64 `json:"arclength"`
	Direction int       `json:"direction"`
	Method    string    `json:"method"`
}

// Len is the number of samples on the curve.
func (c *Curve) Len() int {
	if c.Dim == 0 {
		return 0
	}
	return len(c.Points) / c.Dim
}

// Curve1D grows both directed branches of the one-dimensional
// manifold of the given stability at an equilibrium. The eigenmode
// must be real; the branch is traced by integrating the (possibly
// time-reversed) flow until the target arclength, with the final
// sample placed by bisection in time.
func Curve1D(sys dynamo.System, eq dynamo.State, stability Stability, settings CurveSettings) ([]Curve, error) {
	if err := settings.validate(); err != nil {
		return nil, err
	}
	dim := sys.Dim()
	if len(eq) != dim {
		return nil, dynamo.Configf("equilibrium state length %d does not match system dimension %d", len(eq), dim)
	}
	vec, err := selectRealMode(sys, eq, stability, settings.EigenIndex)
	if err != nil {
		return nil, err
	}
	curves := make([]Curve, 0, 2)
	for _, sign := range []float64{1, -1} {
		seed := make([]float64, dim)
		for i := range seed {
			seed[i] = eq[i] + sign*settings.Eps*vec[i]
		}
		c, err := growBranch(sys, seed, stability, int(sign), settings)
		if err != nil {
			return nil, err
		}
		curves = append(curves, *c)
	}
	return curves, nil
}

// selectRealMode picks the unit eigenvector of the real eigenmode
// matching the stability request.
func selectRealMode(sys dynamo.System, eq dynamo.State, stability Stability, eigenIndex int) ([]float64, error) {
	dim := sys.Dim()
	jac := mat.NewDense(dim, dim, nil)
	if err := sys.Jacobian(eq, jac); err != nil {
		return nil, err
	}
	vals, err := linalg.Eigenvalues(jac)
	if err != nil {
		return nil, err
	}
	linalg.SortEigenvaluesDesc(vals)
	eligible := func(lam complex128) bool {
		if math.Abs(imag(lam)) > 1e-8 {
			return false
		}
		if stability == Unstable {
			return real(lam) > 1e-9
		}
		return real(lam) < -1e-9
	}
	pick := -1
	if eigenIndex > 0 {
		if eigenIndex > len(vals) || !eligible(vals[eigenIndex-1]) {
			return nil, dynamo.Configf("requested eigen index %d is not an eligible real mode", eigenIndex)
		}
		pick = eigenIndex - 1
	} else {
		count := 0
		for i, lam := range vals {
			if eligible(lam) {
				count++
				pick = i
			}
		}
		if count == 0 {
			return nil, dynamo.Configf("no real %s eigenmode at the equilibrium", stability)
		}
		if count > 1 {
			return nil, dynamo.Configf("%d real %s eigenmodes, an eigen index is required", count, stability)
		}
	}
	cvec, err := linalg.EigenVector(jac, vals[pick])
	if err != nil {
		return nil, err
	}
	vec := make([]float64, dim)
	for i, z := range cvec {
		vec[i] = real(z)
	}
	if !normalize(vec) {
		return nil, dynamo.Numericalf("eigenvector of mode %d is degenerate", pick+1)
	}
	return vec, nil
}

func growBranch(sys dynamo.System, seed []float64, stability Stability, direction int, settings CurveSettings) (*Curve, error) {
	dim := len(seed)
	f := flowFunc(sys, stability)
	rk := integrators.NewRK4()

	c := &Curve{Dim: dim, Direction: direction, Method: "shooting_bvp"}
	x := append([]float64(nil), seed...)
	arc := 0.0
	c.Points = append(c.Points, x...)
	c.Arclength = append(c.Arclength, arc)

	t := 0.0
	prev := make([]float64, dim)
	for t < settings.MaxTime && len(c.Arclength) < settings.MaxPoints {
		copy(prev, x)
		prevArc := arc
		if err := rk.Step(f, &t, x, settings.Dt); err != nil {
			return nil, err
		}
		if !finite(x) {
			return nil, dynamo.Numericalf("manifold trajectory became non-finite at t=%g", t)
		}
		if !settings.Bounds.Contains(x) {
			// benign domain exit
			break
		}
		arc = prevArc + chord(prev, x)
		if arc >= settings.TargetArclength {
			hit, hitArc := bisectArclength(f, prev, prevArc, settings.Dt, settings.TargetArclength, settings.Tol)
			c.Points = append(c.Points, hit...)
			c.Arclength = append(c.Arclength, hitArc)
			return c, nil
		}
		c.Points = append(c.Points, x...)
		c.Arclength = append(c.Arclength, arc)
	}
	return c, nil
}

// bisectArclength locates the arclength hit inside one integration
// step. The chord arclength is strictly increasing in the substep, so
// bisection in time converges.
func bisectArclength(f integrators.Func, from []float64, fromArc, dt, target, tol float64) ([]float64, float64) {
	if tol < 1e-10 {
		tol = 1e-10
	}
	rk := integrators.NewRK4()
	lo, hi := 0.0, dt
	x := make([]float64, len(from))
	arc := fromArc
	for i := 0; i < 60; i++ {
		h := 0.5 * (lo + hi)
		copy(x, from)
		t := 0.0
		if err := rk.Step(f, &t, x, h); err != nil {
			break
		}
		arc = fromArc + chord(from, x)
		if math.Abs(arc-target) <= tol && i >= 8 {
			break
		}
		if arc < target {
			lo = h
		} else {
			hi = h
		}
	}
	return x, arc
}
