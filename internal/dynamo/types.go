package dynamo

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func (s State) Sub(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] - other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

func (s State) Dot(other State) float64 {
	sum := 0.0
	for i := range s {
		sum += s[i] * other[i]
	}
	return sum
}

func (s State) AXPY(alpha float64, other State) State {
	result := make(State, len(s))
	for i := range s {
		result[i] = s[i] + alpha*other[i]
	}
	return result
}

// System is the evaluator contract every solver in this module runs
// against: a parameterized vector field (or map) with first-order
// derivatives in both state and parameters.
type System interface {
	Dim() int
	ParamNames() []string
	Param(name string) (float64, error)
	SetParam(name string, value float64) error

	// Eval writes f(x) into out. For maps this is one application of
	// the map, not the fixed-point residual.
	Eval(x State, out State) error

	// Jacobian writes df/dx at x into dst, which must be Dim x Dim.
	Jacobian(x State, dst *mat.Dense) error

	// ParamDeriv writes df/dp for the named parameter into dst.
	ParamDeriv(x State, name string, dst State) error
}

// SystemKind distinguishes flows from iterated maps. For maps,
// Iterations is the number of compositions a fixed point is sought
// for (period of the cycle of the map).
type SystemKind struct {
	IsMap      bool
	Iterations int
}

func Flow() SystemKind { return SystemKind{} }

func MapKind(iterations int) SystemKind {
	return SystemKind{IsMap: true, Iterations: iterations}
}

// CheckedIterations returns the iteration count for maps, rejecting
// zero, and 1 for flows.
func (k SystemKind) CheckedIterations() (int, error) {
	if !k.IsMap {
		return 1, nil
	}
	if k.Iterations == 0 {
		return 0, Configf("map iteration count must be positive")
	}
	return k.Iterations, nil
}

// WithParam temporarily sets a parameter, runs fn, and restores the
// previous value regardless of the outcome.
func WithParam(sys System, name string, value float64, fn func() error) error {
	old, err := sys.Param(name)
	if err != nil {
		return err
	}
	if err := sys.SetParam(name, value); err != nil {
		return err
	}
	ferr := fn()
	if rerr := sys.SetParam(name, old); rerr != nil && ferr == nil {
		return rerr
	}
	return ferr
}
