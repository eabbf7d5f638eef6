// Package manifold grows invariant manifolds of equilibria and
// periodic orbits: one-dimensional branches by arclength-targeted
// shooting and two-dimensional surfaces as sequences of concentric
// rings advanced by per-vertex leaf shooting.
package manifold

import (
	"math"

	"github.com/avoura/bifurc/internal/dynamo"
	"github.com/avoura/bifurc/internal/integrators"
)

// Stability selects which invariant manifold is grown. Stable
// manifolds are traced in reversed time.
type Stability int

const (
	Unstable Stability = iota
	Stable
)

func (s Stability) String() string {
	if s == Stable {
		return "stable"
	}
	return "unstable"
}

// Bounds is an axis-aligned box; leaving it terminates growth
// benignly.
type Bounds struct {
	Min []float64 `json:"min"`
	Max []float64 `json:"max"`
}

func (b *Bounds) Contains(x []float64) bool {
	if b == nil {
		return true
	}
	for i, v := range x {
		if i < len(b.Min) && v < b.Min[i] {
			return false
		}
		if i < len(b.Max) && v > b.Max[i] {
			return false
		}
	}
	return true
}

// flowFunc adapts the system to the integrator contract, with the
// time reversal for stable manifolds folded in.
func flowFunc(sys dynamo.System, stability Stability) integrators.Func {
	sign := 1.0
	if stability == Stable {
		sign = -1
	}
	return func(_ float64, x, out []float64) error {
		if err := sys.Eval(dynamo.State(x), dynamo.State(out)); err != nil {
			return err
		}
		for i := range out {
			out[i] *= sign
		}
		return nil
	}
}

func finite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func chord(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func vnorm(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

func vdot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// normalize scales v to unit norm in place, reporting degeneracy.
func normalize(v []float64) bool {
	n := vnorm(v)
	if n < 1e-14 {
		return false
	}
	for i := range v {
		v[i] /= n
	}
	return true
}
