package manifold

import (
	"math"

	"github.com/avoura/bifurc/internal/integrators"
)

const (
	leafRefineAttempts   = 12
	leafSegmentSwitchMax = 24
	leafHitBisections    = 16
)

// leafFailure classifies why a single leaf shot did not produce a
// vertex. Each kind is counted in the surface diagnostics.
type leafFailure int

const (
	leafOK leafFailure = iota
	leafPlaneSolveNoConvergence
	leafSegmentSwitchLimitExceeded
	leafIntegratorNonFinite
	leafNoFirstHit
)

func (f leafFailure) String() string {
	switch f {
	case leafOK:
		return "ok"
	case leafPlaneSolveNoConvergence:
		return "plane_solve_no_convergence"
	case leafSegmentSwitchLimitExceeded:
		return "segment_switch_limit_exceeded"
	case leafIntegratorNonFinite:
		return "integrator_non_finite"
	case leafNoFirstHit:
		return "no_first_hit_within_max_time"
	}
	return "?"
}

// leafShooter integrates manifold leaves and locates their first
// crossing of an offset plane.
type leafShooter struct {
	f       integrators.Func
	rk      *integrators.RK4
	dt      float64
	maxTime float64
	planeTol float64
	bounds  *Bounds
}

type leafResult struct {
	point []float64
	time  float64
	fail  leafFailure
	exited bool
}

// shoot follows the leaf from base until its signed distance along
// outward first crosses delta upward, then sharpens the crossing by
// bisection in time.
func (ls *leafShooter) shoot(base, outward []float64, delta float64) leafResult {
	dim := len(base)
	x := append([]float64(nil), base...)
	prev := make([]float64, dim)
	t := 0.0
	uPrev := 0.0
	for t < ls.maxTime {
		copy(prev, x)
		tPrev := t
		if err := ls.rk.Step(ls.f, &t, x, ls.dt); err != nil || !finite(x) {
			return leafResult{fail: leafIntegratorNonFinite, time: t}
		}
		if !ls.bounds.Contains(x) {
			return leafResult{fail: leafNoFirstHit, time: t, exited: true}
		}
		u := signedOffset(x, base, outward)
		if uPrev < delta && u >= delta {
			hit, hitT := ls.bisectHit(prev, tPrev, base, outward, delta, u)
			if math.Abs(signedOffset(hit, base, outward)-delta) > 10*ls.planeTol {
				return leafResult{fail: leafPlaneSolveNoConvergence, time: hitT}
			}
			return leafResult{point: hit, time: hitT}
		}
		uPrev = u
	}
	return leafResult{fail: leafNoFirstHit, time: t}
}

func (ls *leafShooter) bisectHit(from []float64, tFrom float64, base, outward []float64, delta, uHi float64) ([]float64, float64) {
	lo, hi := 0.0, ls.dt
	x := append([]float64(nil), from...)
	h := hi
	for i := 0; i < leafHitBisections; i++ {
		h = 0.5 * (lo + hi)
		copy(x, from)
		t := 0.0
		if err := ls.rk.Step(ls.f, &t, x, h); err != nil {
			break
		}
		u := signedOffset(x, base, outward)
		if math.Abs(u-delta) <= ls.planeTol {
			break
		}
		if u < delta {
			lo = h
		} else {
			hi = h
		}
	}
	return x, tFrom + h
}

// signedOffset is the distance of x from base along the unit outward
// direction.
func signedOffset(x, base, outward []float64) float64 {
	sum := 0.0
	for i := range x {
		sum += (x[i] - base[i]) * outward[i]
	}
	return sum
}

// ringPlaneRoot walks the closed ring polyline from segment seg,
// solving Newton on the segment parameter for the crossing of the
// plane through base with normal n, switching segments when the root
// leaves [0, 1].
func ringPlaneRoot(ring []float64, dim, seg int, base, n []float64, planeTol float64) (int, float64, leafFailure) {
	count := len(ring) / dim
	if count < 2 {
		return 0, 0, leafPlaneSolveNoConvergence
	}
	at := func(i int) []float64 {
		i = ((i % count) + count) % count
		return ring[i*dim : (i+1)*dim]
	}
	for switches := 0; switches <= leafSegmentSwitchMax; switches++ {
		a := at(seg)
		b := at(seg + 1)
		ga := signedOffset(a, base, n)
		gb := signedOffset(b, base, n)
		if math.Abs(gb-ga) < 1e-14 {
			// parallel segment: bisect by stepping to the side with
			// the smaller residual
			if math.Abs(ga) <= planeTol {
				return ((seg % count) + count) % count, 0, leafOK
			}
			seg++
			continue
		}
		tau := ga / (ga - gb)
		if tau >= 0 && tau <= 1 {
			res := ga + tau*(gb-ga)
			if math.Abs(res) <= planeTol {
				return ((seg % count) + count) % count, tau, leafOK
			}
			return 0, 0, leafPlaneSolveNoConvergence
		}
		if tau > 1 {
			seg++
		} else {
			seg--
		}
	}
	return 0, 0, leafSegmentSwitchLimitExceeded
}

// ringTangent estimates the unit tangent at vertex i of a closed ring
// by the neighbor difference.
func ringTangent(ring []float64, dim, i int) []float64 {
	count := len(ring) / dim
	prev := ((i-1)%count + count) % count
	next := (i + 1) % count
	t := make([]float64, dim)
	for d := 0; d < dim; d++ {
		t[d] = ring[next*dim+d] - ring[prev*dim+d]
	}
	if !normalize(t) {
		t[0] = 1
	}
	return t
}

// outwardDirection points from the inward anchor through the vertex
// with the tangent component removed; a canonical axis stands in when
// the difference degenerates.
func outwardDirection(vertex, anchor, tangent []float64) []float64 {
	dim := len(vertex)
	w := make([]float64, dim)
	for i := range w {
		w[i] = vertex[i] - anchor[i]
	}
	proj := vdot(w, tangent)
	for i := range w {
		w[i] -= proj * tangent[i]
	}
	if normalize(w) {
		return w
	}
	// fall back to the axis least aligned with the tangent
	best := 0
	for i := 1; i < dim; i++ {
		if math.Abs(tangent[i]) < math.Abs(tangent[best]) {
			best = i
		}
	}
	for i := range w {
		w[i] = 0
	}
	w[best] = 1
	proj = vdot(w, tangent)
	for i := range w {
		w[i] -= proj * tangent[i]
	}
	normalize(w)
	return w
}
