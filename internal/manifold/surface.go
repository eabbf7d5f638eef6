package manifold

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/avoura/bifurc/internal/dynamo"
	"github.com/avoura/bifurc/internal/integrators"
	"github.com/avoura/bifurc/internal/linalg"
)

const spacingPasses = 8

// Termination reasons reported in SolverDiagnostics.
const (
	TermMaxRings              = "max_rings"
	TermMaxVertices           = "max_vertices"
	TermTargetRadius          = "target_radius"
	TermTargetArclength       = "target_arclength"
	TermBoundsExit            = "bounds_exit"
	TermRingTooSmall          = "ring_too_small"
	TermRingBuildFailed       = "ring_build_failed"
	TermRingSpacingFailed     = "ring_spacing_failed"
	TermQualityRejected       = "geodesic_quality_rejected"
	TermRingCandidateTooSmall = "ring_candidate_too_small"
)

// SurfaceSettings configures two-dimensional manifold growth.
type SurfaceSettings struct {
	InitialRadius float64 `json:"initial_radius"`
	RingPoints    int     `json:"ring_points"`

	Delta    float64 `json:"delta"`
	DeltaMin float64 `json:"delta_min"`
	Dt       float64 `json:"dt"`
	MaxTime  float64 `json:"max_time"`
	PlaneTol float64 `json:"plane_tol"`

	MaxRings    int `json:"max_rings"`
	MaxVertices int `json:"max_vertices"`
	MaxRingSize int `json:"max_ring_size"`

	TargetRadius    float64 `json:"target_radius"`
	TargetArclength float64 `json:"target_arclength"`

	MinSpacing float64 `json:"min_spacing"`
	MaxSpacing float64 `json:"max_spacing"`

	AlphaMin      float64 `json:"alpha_min"`
	AlphaMax      float64 `json:"alpha_max"`
	DeltaAlphaMin float64 `json:"delta_alpha_min"`
	DeltaAlphaMax float64 `json:"delta_alpha_max"`

	Bounds *Bounds `json:"bounds,omitempty"`
}

// LocalPreview is a small, fast profile for exploring a neighborhood
// of the seed.
func LocalPreview() SurfaceSettings {
	return SurfaceSettings{
		InitialRadius: 0.05,
		RingPoints:    16,
		Delta:         0.05,
		DeltaMin:      1e-4,
		Dt:            0.01,
		MaxTime:       50,
		PlaneTol:      1e-6,
		MaxRings:      10,
		MaxVertices:   5000,
		MaxRingSize:   256,
		TargetRadius:    1,
		TargetArclength: 2,
		MinSpacing:    0.002,
		MaxSpacing:    0.2,
		AlphaMin:      0.05,
		AlphaMax:      0.5,
		DeltaAlphaMin: 0.01,
		DeltaAlphaMax: 1,
	}
}

// LorenzGlobalKo reproduces the classic global view of the Lorenz
// origin's stable manifold.
func LorenzGlobalKo() SurfaceSettings {
	return SurfaceSettings{
		InitialRadius: 1,
		RingPoints:    36,
		Delta:         1,
		DeltaMin:      1e-3,
		Dt:            0.005,
		MaxTime:       200,
		PlaneTol:      1e-6,
		MaxRings:      60,
		MaxVertices:   100000,
		MaxRingSize:   2000,
		TargetRadius:    40,
		TargetArclength: 100,
		MinSpacing:    0.2,
		MaxSpacing:    4,
		AlphaMin:      0.05,
		AlphaMax:      0.6,
		DeltaAlphaMin: 0.02,
		DeltaAlphaMax: 2,
	}
}

func (s SurfaceSettings) validate() error {
	if s.InitialRadius <= 0 || s.RingPoints < 4 {
		return dynamo.Configf("initial ring needs a positive radius and at least 4 points")
	}
	if s.Delta <= 0 || s.DeltaMin <= 0 || s.DeltaMin > s.Delta {
		return dynamo.Configf("leaf distance %g with floor %g is not a valid range", s.Delta, s.DeltaMin)
	}
	if s.Dt <= 0 || s.MaxTime <= 0 || s.PlaneTol <= 0 {
		return dynamo.Configf("leaf integration step, time cap and plane tolerance must be positive")
	}
	if s.MaxRings <= 0 || s.MaxVertices <= 0 || s.MaxRingSize < 4 {
		return dynamo.Configf("ring, vertex and ring-size caps must be positive")
	}
	if s.MinSpacing < 0 || s.MaxSpacing <= s.MinSpacing {
		return dynamo.Configf("ring spacing range [%g, %g] is empty", s.MinSpacing, s.MaxSpacing)
	}
	if s.AlphaMax <= s.AlphaMin || s.DeltaAlphaMax <= s.DeltaAlphaMin {
		return dynamo.Configf("geodesic quality windows are empty")
	}
	return nil
}

// RingDiagnostic summarizes one accepted ring.
type RingDiagnostic struct {
	Radius   float64 `json:"radius"`
	Vertices int     `json:"vertices"`
}

// SolverDiagnostics is the growth post-mortem: why the run stopped
// and what the leaf solver struggled with.
type SolverDiagnostics struct {
	RingAttempts               int     `json:"ring_attempts"`
	PlaneSolveNoConvergence    int     `json:"plane_solve_no_convergence"`
	SegmentSwitchLimitExceeded int     `json:"segment_switch_limit_exceeded"`
	IntegratorNonFinite        int     `json:"integrator_non_finite"`
	NoFirstHitWithinMaxTime    int     `json:"no_first_hit_within_max_time"`
	FailedLeafPoints           int     `json:"failed_leaf_points"`
	FinalLeafDelta             float64 `json:"final_leaf_delta"`
	LeafDeltaFloor             float64 `json:"leaf_delta_floor"`
	MinLeafDeltaReached        bool    `json:"min_leaf_delta_reached"`
	MaxRadius                  float64 `json:"max_radius"`
	Termination                string  `json:"termination"`
	Detail                     string  `json:"detail,omitempty"`
}

// Surface is the delivered manifold geometry: flat vertices, flat
// triangle index triples, per-ring prefix offsets and diagnostics.
type Surface struct {
	Dim             int               `json:"dim"`
	Vertices        []float64         `json:"vertices_flat"`
	Triangles       []int             `json:"triangles"`
	RingOffsets     []int             `json:"ring_offsets"`
	RingDiagnostics []RingDiagnostic  `json:"ring_diagnostics"`
	Diagnostics     SolverDiagnostics `json:"solver_diagnostics"`
}

func (s *Surface) vertexCount() int { return len(s.Vertices) / s.Dim }

// RingCallback reports progress after each accepted ring.
type RingCallback func(ringIndex, totalVertices int, arclength float64)

type engine struct {
	sys       dynamo.System
	stability Stability
	settings  SurfaceSettings
	dim       int
	center    []float64
	shooter   *leafShooter
	surf      *Surface
	ring      []float64
	anchors   []float64
	delta     float64
	arclength float64
	cb        RingCallback
}

func (e *engine) record(fail leafFailure) {
	switch fail {
	case leafPlaneSolveNoConvergence:
		e.surf.Diagnostics.PlaneSolveNoConvergence++
	case leafSegmentSwitchLimitExceeded:
		e.surf.Diagnostics.SegmentSwitchLimitExceeded++
	case leafIntegratorNonFinite:
		e.surf.Diagnostics.IntegratorNonFinite++
	case leafNoFirstHit:
		e.surf.Diagnostics.NoFirstHitWithinMaxTime++
	}
}

// SurfaceFromEquilibrium grows the two-dimensional manifold of the
// requested stability at an equilibrium. The first surface vertex is
// the equilibrium itself (center cap); the initial ring is laid out
// in the two-dimensional invariant eigenspace.
func SurfaceFromEquilibrium(sys dynamo.System, eq dynamo.State, stability Stability, settings SurfaceSettings, cb RingCallback) (*Surface, error) {
	if err := settings.validate(); err != nil {
		return nil, err
	}
	dim := sys.Dim()
	if len(eq) != dim {
		return nil, dynamo.Configf("equilibrium state length %d does not match system dimension %d", len(eq), dim)
	}
	e1, e2, err := planeBasis(sys, eq, stability)
	if err != nil {
		return nil, err
	}

	e := newEngine(sys, stability, settings, append([]float64(nil), eq...), cb)

	// center cap: the equilibrium is vertex 0 and the first ring fans
	// out from it
	e.surf.Vertices = append(e.surf.Vertices, eq...)
	m := settings.RingPoints
	ring := make([]float64, m*dim)
	anchors := make([]float64, m*dim)
	for j := 0; j < m; j++ {
		th := 2 * math.Pi * float64(j) / float64(m)
		for d := 0; d < dim; d++ {
			ring[j*dim+d] = eq[d] + settings.InitialRadius*(math.Cos(th)*e1[d]+math.Sin(th)*e2[d])
			anchors[j*dim+d] = eq[d]
		}
	}
	e.acceptRing(ring, anchors, 1)
	for j := 0; j < m; j++ {
		e.surf.Triangles = append(e.surf.Triangles, 0, 1+j, 1+(j+1)%m)
	}
	e.grow()
	return e.surf, nil
}

func newEngine(sys dynamo.System, stability Stability, settings SurfaceSettings, center []float64, cb RingCallback) *engine {
	e := &engine{
		sys:       sys,
		stability: stability,
		settings:  settings,
		dim:       sys.Dim(),
		center:    center,
		delta:     settings.Delta,
		cb:        cb,
		surf:      &Surface{Dim: sys.Dim()},
	}
	e.shooter = &leafShooter{
		f:        flowFunc(sys, stability),
		rk:       integrators.NewRK4(),
		dt:       settings.Dt,
		maxTime:  settings.MaxTime,
		planeTol: settings.PlaneTol,
		bounds:   settings.Bounds,
	}
	e.surf.Diagnostics.LeafDeltaFloor = settings.DeltaMin
	return e
}

// acceptRing appends a ring to the surface and makes it current.
func (e *engine) acceptRing(ring, anchors []float64, offset int) {
	e.surf.RingOffsets = append(e.surf.RingOffsets, offset)
	e.surf.Vertices = append(e.surf.Vertices, ring...)
	count := len(ring) / e.dim
	radius := 0.0
	for j := 0; j < count; j++ {
		radius += chord(ring[j*e.dim:(j+1)*e.dim], e.center)
	}
	radius /= float64(count)
	if radius > e.surf.Diagnostics.MaxRadius {
		e.surf.Diagnostics.MaxRadius = radius
	}
	e.surf.RingDiagnostics = append(e.surf.RingDiagnostics, RingDiagnostic{Radius: radius, Vertices: count})
	e.ring = ring
	e.anchors = anchors
}

// grow runs the ring loop until a termination reason fires.
func (e *engine) grow() {
	for {
		if len(e.surf.RingOffsets) >= e.settings.MaxRings {
			e.finish(TermMaxRings, "")
			return
		}
		if e.surf.vertexCount() >= e.settings.MaxVertices {
			e.finish(TermMaxVertices, "")
			return
		}
		last := e.surf.RingDiagnostics[len(e.surf.RingDiagnostics)-1]
		if last.Radius >= e.settings.TargetRadius {
			e.finish(TermTargetRadius, "")
			return
		}
		if e.arclength >= e.settings.TargetArclength {
			e.finish(TermTargetArclength, "")
			return
		}
		next, anchors, reason := e.buildNextRing()
		if reason != "" {
			e.finish(reason, "")
			return
		}
		next, anchors, ok := e.adaptSpacing(next, anchors)
		if !ok {
			e.finish(TermRingSpacingFailed, "")
			return
		}
		if len(next)/e.dim < 4 {
			e.finish(TermRingTooSmall, "")
			return
		}
		exited := false
		for j := 0; j < len(next); j += e.dim {
			if !e.settings.Bounds.Contains(next[j : j+e.dim]) {
				exited = true
				break
			}
		}
		prev := e.ring
		prevOffset := e.surf.RingOffsets[len(e.surf.RingOffsets)-1]
		offset := e.surf.vertexCount()
		e.arclength += meanStrip(prev, next, e.dim)
		e.acceptRing(next, anchors, offset)
		stitchRings(e.surf, prev, next, prevOffset, offset)
		if e.cb != nil {
			e.cb(len(e.surf.RingOffsets)-1, e.surf.vertexCount(), e.arclength)
		}
		if exited {
			e.finish(TermBoundsExit, "")
			return
		}
	}
}

func (e *engine) finish(reason, detail string) {
	e.surf.Diagnostics.Termination = reason
	e.surf.Diagnostics.Detail = detail
	e.surf.Diagnostics.FinalLeafDelta = e.delta
}

// buildNextRing shoots one leaf per current vertex, retrying with a
// halved leaf distance until the geodesic quality windows accept the
// candidate.
func (e *engine) buildNextRing() (ring, anchors []float64, reason string) {
	count := len(e.ring) / e.dim
	for attempt := 0; attempt < leafRefineAttempts; attempt++ {
		e.surf.Diagnostics.RingAttempts++
		cand := make([]float64, 0, len(e.ring))
		candAnchors := make([]float64, 0, len(e.ring))
		failed := 0
		for j := 0; j < count; j++ {
			vertex := e.ring[j*e.dim : (j+1)*e.dim]
			anchor := e.anchors[j*e.dim : (j+1)*e.dim]
			tangent := ringTangent(e.ring, e.dim, j)
			outward := outwardDirection(vertex, anchor, tangent)
			res := e.shootWithShrink(vertex, outward)
			if res.fail != leafOK {
				failed++
				e.surf.Diagnostics.FailedLeafPoints++
				continue
			}
			cand = append(cand, res.point...)
			candAnchors = append(candAnchors, vertex...)
		}
		if failed > count/2 {
			return nil, nil, TermRingBuildFailed
		}
		if len(cand)/e.dim < 4 {
			return nil, nil, TermRingCandidateTooSmall
		}
		maxAngle, maxDeltaAngle := e.ringQuality(cand, candAnchors)
		if maxAngle <= e.settings.AlphaMax && maxDeltaAngle <= e.settings.DeltaAlphaMax {
			if maxAngle < e.settings.AlphaMin && maxDeltaAngle < e.settings.DeltaAlphaMin {
				limit := math.Max(e.settings.TargetRadius*0.25, 4*e.settings.Delta)
				e.delta = math.Min(e.delta*2, limit)
			}
			return cand, candAnchors, ""
		}
		if !e.shrinkDelta() {
			// floor reached, take the candidate as is
			return cand, candAnchors, ""
		}
	}
	return nil, nil, TermQualityRejected
}

// shootWithShrink retries a single leaf with halved distances down to
// the floor.
func (e *engine) shootWithShrink(vertex, outward []float64) leafResult {
	dl := e.delta
	var res leafResult
	for attempt := 0; attempt < leafRefineAttempts; attempt++ {
		res = e.shooter.shoot(vertex, outward, dl)
		if res.fail == leafOK {
			return res
		}
		e.record(res.fail)
		if res.fail == leafIntegratorNonFinite {
			return res
		}
		dl *= 0.5
		if dl < e.settings.DeltaMin {
			e.surf.Diagnostics.MinLeafDeltaReached = true
			return res
		}
	}
	return res
}

func (e *engine) shrinkDelta() bool {
	next := e.delta * 0.5
	if next < e.settings.DeltaMin {
		e.surf.Diagnostics.MinLeafDeltaReached = true
		e.delta = e.settings.DeltaMin
		return false
	}
	e.delta = next
	return true
}

// ringQuality evaluates the geodesic angle between incoming and
// outgoing strip segments and its distance-scaled variant.
func (e *engine) ringQuality(cand, candAnchors []float64) (maxAngle, maxDeltaAngle float64) {
	count := len(cand) / e.dim
	for j := 0; j < count; j++ {
		next := cand[j*e.dim : (j+1)*e.dim]
		vertex := candAnchors[j*e.dim : (j+1)*e.dim]
		// incoming segment comes from the anchor ring below
		anchor := e.anchorFor(j)
		angle := geodesicAngle(anchor, vertex, next)
		strip := chord(vertex, next)
		if angle > maxAngle {
			maxAngle = angle
		}
		if d := angle * strip; d > maxDeltaAngle {
			maxDeltaAngle = d
		}
	}
	return maxAngle, maxDeltaAngle
}

func (e *engine) anchorFor(j int) []float64 {
	count := len(e.anchors) / e.dim
	if count == 0 {
		return e.center
	}
	if j >= count {
		j = count - 1
	}
	return e.anchors[j*e.dim : (j+1)*e.dim]
}

// geodesicAngle is the angle at b between segments a->b and b->c.
func geodesicAngle(a, b, c []float64) float64 {
	dim := len(b)
	in := make([]float64, dim)
	out := make([]float64, dim)
	for i := 0; i < dim; i++ {
		in[i] = b[i] - a[i]
		out[i] = c[i] - b[i]
	}
	ni, no := vnorm(in), vnorm(out)
	if ni < 1e-14 || no < 1e-14 {
		return 0
	}
	cosv := vdot(in, out) / (ni * no)
	if cosv > 1 {
		cosv = 1
	}
	if cosv < -1 {
		cosv = -1
	}
	return math.Acos(cosv)
}

// adaptSpacing removes nearly-colinear crowded vertices and inserts
// midpoints on over-stretched edges by re-shooting at the midpoint
// anchor.
func (e *engine) adaptSpacing(ring, anchors []float64) ([]float64, []float64, bool) {
	dim := e.dim
	for pass := 0; pass < spacingPasses; pass++ {
		count := len(ring) / dim
		if count < 4 {
			return ring, anchors, count >= 4
		}
		changed := false

		// removal sweep
		keep := make([]bool, count)
		for j := range keep {
			keep[j] = true
		}
		for j := 0; j < count; j++ {
			prev := ((j-1)%count + count) % count
			next := (j + 1) % count
			sp := 0.5 * (chord(ring[prev*dim:(prev+1)*dim], ring[j*dim:(j+1)*dim]) +
				chord(ring[j*dim:(j+1)*dim], ring[next*dim:(next+1)*dim]))
			ang := geodesicAngle(ring[prev*dim:(prev+1)*dim], ring[j*dim:(j+1)*dim], ring[next*dim:(next+1)*dim])
			if sp < e.settings.MinSpacing && ang < 0.15 && sp*ang < 0.02 && count-1 >= 4 {
				keep[j] = false
				changed = true
				count--
			}
		}
		ring, anchors = filterRing(ring, anchors, dim, keep)
		count = len(ring) / dim

		// insertion sweep
		if count < e.settings.MaxRingSize {
			out := make([]float64, 0, len(ring))
			outAnchors := make([]float64, 0, len(anchors))
			for j := 0; j < count; j++ {
				next := (j + 1) % count
				a := ring[j*dim : (j+1)*dim]
				b := ring[next*dim : (next+1)*dim]
				out = append(out, a...)
				outAnchors = append(outAnchors, anchors[j*dim:(j+1)*dim]...)
				if chord(a, b) > e.settings.MaxSpacing && len(out)/dim < e.settings.MaxRingSize {
					mid, midAnchor, ok := e.insertMidpoint(anchors, dim, j, next)
					if ok {
						out = append(out, mid...)
						outAnchors = append(outAnchors, midAnchor...)
						changed = true
					}
				}
			}
			ring, anchors = out, outAnchors
		}
		if !changed {
			break
		}
	}
	return ring, anchors, len(ring)/e.dim >= 4
}

// insertMidpoint re-runs the leaf problem from the midpoint of the
// two predecessor anchors.
func (e *engine) insertMidpoint(anchors []float64, dim, j, next int) (point, anchor []float64, ok bool) {
	base := make([]float64, dim)
	midAnchor := make([]float64, dim)
	for d := 0; d < dim; d++ {
		base[d] = 0.5 * (anchors[j*dim+d] + anchors[next*dim+d])
		midAnchor[d] = 0.5 * (e.anchorFor(j)[d] + e.anchorFor(next)[d])
	}
	tangent := make([]float64, dim)
	for d := 0; d < dim; d++ {
		tangent[d] = anchors[next*dim+d] - anchors[j*dim+d]
	}
	if !normalize(tangent) {
		return nil, nil, false
	}
	// snap the base onto the predecessor ring polyline where it
	// crosses the midpoint plane, so the new leaf starts on the ring
	// rather than on the chord between the anchors
	if len(e.ring) >= 2*dim {
		seg, tau, fail := ringPlaneRoot(e.ring, dim, j, base, tangent, e.settings.PlaneTol)
		if fail == leafOK {
			count := len(e.ring) / dim
			ra := e.ring[seg*dim : (seg+1)*dim]
			rb := e.ring[((seg+1)%count)*dim : (((seg+1)%count)+1)*dim]
			for d := 0; d < dim; d++ {
				base[d] = (1-tau)*ra[d] + tau*rb[d]
			}
		} else {
			e.record(fail)
		}
	}
	outward := outwardDirection(base, midAnchor, tangent)
	res := e.shootWithShrink(base, outward)
	if res.fail != leafOK {
		e.surf.Diagnostics.FailedLeafPoints++
		return nil, nil, false
	}
	return res.point, base, true
}

func filterRing(ring, anchors []float64, dim int, keep []bool) ([]float64, []float64) {
	outR := make([]float64, 0, len(ring))
	outA := make([]float64, 0, len(anchors))
	for j, k := range keep {
		if !k {
			continue
		}
		outR = append(outR, ring[j*dim:(j+1)*dim]...)
		outA = append(outA, anchors[j*dim:(j+1)*dim]...)
	}
	return outR, outA
}

// meanStrip is the average chord between consecutive rings, the
// strip's arclength contribution.
func meanStrip(prev, next []float64, dim int) float64 {
	pc := len(prev) / dim
	nc := len(next) / dim
	if pc == 0 || nc == 0 {
		return 0
	}
	sum := 0.0
	for j := 0; j < nc; j++ {
		i := j * pc / nc
		sum += chord(next[j*dim:(j+1)*dim], prev[i*dim:(i+1)*dim])
	}
	return sum / float64(nc)
}

// stitchRings triangulates the band between two rings by a greedy
// walk in normalized arclength, starting at the nearest vertex pair.
func stitchRings(surf *Surface, prev, next []float64, prevOffset, nextOffset int) {
	dim := surf.Dim
	pc := len(prev) / dim
	nc := len(next) / dim
	if pc < 2 || nc < 2 {
		return
	}
	// nearest seed pair
	bi, bj, best := 0, 0, math.Inf(1)
	for i := 0; i < pc; i++ {
		for j := 0; j < nc; j++ {
			if d := chord(prev[i*dim:(i+1)*dim], next[j*dim:(j+1)*dim]); d < best {
				bi, bj, best = i, j, d
			}
		}
	}
	pp := ringParams(prev, dim)
	np := ringParams(next, dim)
	i, j := 0, 0
	for i < pc || j < nc {
		ci := (bi + i) % pc
		cj := (bj + j) % nc
		advancePrev := false
		if i >= pc {
			advancePrev = false
		} else if j >= nc {
			advancePrev = true
		} else {
			ti := circularDelta(pp[(ci+1)%pc] - pp[bi])
			tj := circularDelta(np[(cj+1)%nc] - np[bj])
			advancePrev = ti <= tj
		}
		if advancePrev {
			surf.Triangles = append(surf.Triangles,
				prevOffset+ci, nextOffset+cj, prevOffset+(ci+1)%pc)
			i++
		} else {
			surf.Triangles = append(surf.Triangles,
				prevOffset+ci, nextOffset+cj, nextOffset+(cj+1)%nc)
			j++
		}
	}
}

// ringParams returns normalized cumulative arclength parameters in
// [0, 1), uniform when the ring is degenerate.
func ringParams(ring []float64, dim int) []float64 {
	count := len(ring) / dim
	params := make([]float64, count)
	total := 0.0
	for j := 1; j < count; j++ {
		total += chord(ring[(j-1)*dim:j*dim], ring[j*dim:(j+1)*dim])
		params[j] = total
	}
	total += chord(ring[(count-1)*dim:count*dim], ring[:dim])
	if total <= 1e-14 {
		for j := range params {
			params[j] = float64(j) / float64(count)
		}
		return params
	}
	for j := range params {
		params[j] /= total
	}
	return params
}

// circularDelta wraps a parameter difference into [-0.5, 0.5].
func circularDelta(d float64) float64 {
	for d > 0.5 {
		d--
	}
	for d < -0.5 {
		d++
	}
	return d
}

// planeBasis builds an orthonormal pair spanning the two-dimensional
// invariant subspace of the requested stability.
func planeBasis(sys dynamo.System, eq dynamo.State, stability Stability) ([]float64, []float64, error) {
	dim := sys.Dim()
	jac := mat.NewDense(dim, dim, nil)
	if err := sys.Jacobian(eq, jac); err != nil {
		return nil, nil, err
	}
	vals, err := linalg.Eigenvalues(jac)
	if err != nil {
		return nil, nil, err
	}
	linalg.SortEigenvaluesDesc(vals)
	match := func(lam complex128) bool {
		if stability == Unstable {
			return real(lam) > 1e-9
		}
		return real(lam) < -1e-9
	}
	var cols [][]float64
	for _, lam := range vals {
		if !match(lam) || imag(lam) < -1e-10 {
			continue
		}
		vec, verr := linalg.EigenVector(jac, lam)
		if verr != nil {
			return nil, nil, verr
		}
		re := make([]float64, dim)
		im := make([]float64, dim)
		for i, z := range vec {
			re[i] = real(z)
			im[i] = imag(z)
		}
		cols = append(cols, re)
		if imag(lam) > 1e-10 {
			cols = append(cols, im)
		}
		if len(cols) >= 2 {
			break
		}
	}
	if len(cols) < 2 {
		return nil, nil, dynamo.Configf("the %s eigenspace at the equilibrium is not two-dimensional", stability)
	}
	e1 := cols[0]
	if !normalize(e1) {
		return nil, nil, dynamo.Numericalf("degenerate eigenvector in the manifold plane basis")
	}
	e2 := cols[1]
	proj := vdot(e2, e1)
	for i := range e2 {
		e2[i] -= proj * e1[i]
	}
	if !normalize(e2) {
		return nil, nil, dynamo.Numericalf("the manifold plane basis is rank deficient")
	}
	return e1, e2, nil
}
