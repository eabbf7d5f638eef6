// Package integrators provides the fixed-step time steppers used by
// the manifold engine and the Lyapunov analysis: classical RK4, the
// Tsitouras 5(4) pair run at its fifth-order weights, and a discrete
// map stepper.
package integrators

// Func evaluates a (possibly time-dependent) vector field, writing
// dx/dt into out.
type Func func(t float64, x, out []float64) error

// Stepper advances state in place by dt and updates t.
type Stepper interface {
	Step(f Func, t *float64, x []float64, dt float64) error
}
