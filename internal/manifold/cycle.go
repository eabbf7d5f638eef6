package manifold

import (
	"math"

	"github.com/avoura/bifurc/internal/cycle"
	"github.com/avoura/bifurc/internal/dynamo"
	"github.com/avoura/bifurc/internal/linalg"
)

// SurfaceFromCycle grows the two-dimensional manifold of a periodic
// orbit along a real Floquet mode. The first ring is the cycle offset
// by the initial radius along per-vertex normals; a negative
// multiplier doubles the ring so both sides of the cycle are covered
// before growth begins.
func SurfaceFromCycle(sys dynamo.System, lc dynamo.State, ntst, ncol int, stability Stability, floquetIndex int, settings SurfaceSettings, cb RingCallback) (*Surface, error) {
	if err := settings.validate(); err != nil {
		return nil, err
	}
	dim := sys.Dim()
	want := (ntst + 1 + ntst*ncol) * dim
	if len(lc) != want+1 {
		return nil, dynamo.Configf("cycle state length %d does not match mesh %dx%d in dimension %d", len(lc), ntst, ncol, dim)
	}
	period := lc[want]
	if period <= 0 {
		return nil, dynamo.Configf("cycle period must be positive, got %g", period)
	}
	sc, err := cycle.NewScheme(ncol)
	if err != nil {
		return nil, err
	}
	stageAt := func(i, s int) []float64 {
		off := (ntst+1)*dim + (i*ncol+s)*dim
		return lc[off : off+dim]
	}
	mono, err := cycle.MonodromyMatrix(sys, sc, ntst, period, stageAt)
	if err != nil {
		return nil, err
	}
	vals, err := linalg.Eigenvalues(mono)
	if err != nil {
		return nil, err
	}
	mu, err := selectFloquet(vals, stability, floquetIndex)
	if err != nil {
		return nil, err
	}

	// the cycle mesh without the closing point is the anchor ring
	core := append([]float64(nil), lc[:ntst*dim]...)
	anchorsBase := resampleClosedRing(core, dim, settings.RingPoints)

	ring := make([]float64, 0, 2*len(anchorsBase))
	anchors := make([]float64, 0, 2*len(anchorsBase))
	m := len(anchorsBase) / dim
	for _, side := range ringSides(mu) {
		for j := 0; j < m; j++ {
			a := anchorsBase[j*dim : (j+1)*dim]
			n := cycleNormal(anchorsBase, dim, j)
			for d := 0; d < dim; d++ {
				ring = append(ring, a[d]+side*settings.InitialRadius*n[d])
			}
			anchors = append(anchors, a...)
		}
	}

	center := make([]float64, dim)
	for j := 0; j < m; j++ {
		for d := 0; d < dim; d++ {
			center[d] += anchorsBase[j*dim+d]
		}
	}
	for d := range center {
		center[d] /= float64(m)
	}

	e := newEngine(sys, stability, settings, center, cb)
	e.acceptRing(ring, anchors, 0)
	e.grow()
	return e.surf, nil
}

// ringSides is one side for an orientable mode, both for a negative
// multiplier.
func ringSides(mu float64) []float64 {
	if mu < 0 {
		return []float64{1, -1}
	}
	return []float64{1}
}

// selectFloquet picks a real non-unit multiplier matching the
// requested stability. The index is 1-based into the descending
// spectrum and required when the choice is ambiguous.
func selectFloquet(vals []complex128, stability Stability, index int) (float64, error) {
	linalg.SortEigenvaluesDesc(vals)
	eligible := func(mu complex128) bool {
		if math.Abs(imag(mu)) > 1e-8 {
			return false
		}
		if math.Abs(real(mu)-1) < 1e-3 {
			// trivial multiplier
			return false
		}
		if stability == Unstable {
			return math.Abs(real(mu)) > 1+1e-6
		}
		return math.Abs(real(mu)) < 1-1e-6
	}
	if index > 0 {
		if index > len(vals) || !eligible(vals[index-1]) {
			return 0, dynamo.Configf("requested floquet index %d is not eligible", index)
		}
		return real(vals[index-1]), nil
	}
	pick := -1
	count := 0
	for i, mu := range vals {
		if eligible(mu) {
			count++
			pick = i
		}
	}
	if count == 0 {
		return 0, dynamo.Configf("no eligible real %s floquet multiplier", stability)
	}
	if count > 1 {
		return 0, dynamo.Configf("%d eligible floquet multipliers, an index is required", count)
	}
	return real(vals[pick]), nil
}

// resampleClosedRing redistributes a closed polyline onto n points at
// uniform arclength.
func resampleClosedRing(points []float64, dim, n int) []float64 {
	count := len(points) / dim
	if count == 0 || n <= 0 {
		return nil
	}
	// cumulative arclength including the closing edge
	cum := make([]float64, count+1)
	for j := 1; j <= count; j++ {
		cum[j] = cum[j-1] + chord(points[((j-1)%count)*dim:((j-1)%count+1)*dim], points[(j%count)*dim:(j%count+1)*dim])
	}
	total := cum[count]
	out := make([]float64, n*dim)
	if total <= 1e-14 {
		for j := 0; j < n; j++ {
			copy(out[j*dim:], points[:dim])
		}
		return out
	}
	seg := 0
	for j := 0; j < n; j++ {
		target := total * float64(j) / float64(n)
		for seg < count-1 && cum[seg+1] < target {
			seg++
		}
		span := cum[seg+1] - cum[seg]
		frac := 0.0
		if span > 1e-14 {
			frac = (target - cum[seg]) / span
		}
		a := points[seg*dim : (seg+1)*dim]
		b := points[((seg+1)%count)*dim : ((seg+1)%count+1)*dim]
		for d := 0; d < dim; d++ {
			out[j*dim+d] = (1-frac)*a[d] + frac*b[d]
		}
	}
	return out
}

// cycleNormal is a unit vector orthogonal to the local cycle tangent,
// chosen by projecting out the tangent from the least-aligned
// canonical axis.
func cycleNormal(ring []float64, dim, j int) []float64 {
	t := ringTangent(ring, dim, j)
	best := 0
	for i := 1; i < dim; i++ {
		if math.Abs(t[i]) < math.Abs(t[best]) {
			best = i
		}
	}
	n := make([]float64, dim)
	n[best] = 1
	proj := vdot(n, t)
	for i := range n {
		n[i] -= proj * t[i]
	}
	if !normalize(n) {
		n[best] = 1
	}
	return n
}
