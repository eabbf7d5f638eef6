package manifold

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/avoura/bifurc/internal/dynamo"
)

// planarSaddle is x' = a*x, y' = -y.
type planarSaddle struct{ a float64 }

func (s *planarSaddle) Dim() int             { return 2 }
func (s *planarSaddle) ParamNames() []string { return []string{"a"} }
func (s *planarSaddle) Param(name string) (float64, error) {
	if name != "a" {
		return 0, dynamo.Configf("unknown parameter: %s", name)
	}
	return s.a, nil
}
func (s *planarSaddle) SetParam(name string, v float64) error {
	if name != "a" {
		return dynamo.Configf("unknown parameter: %s", name)
	}
	s.a = v
	return nil
}
func (s *planarSaddle) Eval(x, out dynamo.State) error {
	out[0] = s.a * x[0]
	out[1] = -x[1]
	return nil
}
func (s *planarSaddle) Jacobian(x dynamo.State, dst *mat.Dense) error {
	dst.Set(0, 0, s.a)
	dst.Set(0, 1, 0)
	dst.Set(1, 0, 0)
	dst.Set(1, 1, -1)
	return nil
}
func (s *planarSaddle) ParamDeriv(x dynamo.State, name string, dst dynamo.State) error {
	dst[0], dst[1] = x[0], 0
	return nil
}

// expandingSaddle is x' = x, y' = 2y, z' = -z; its unstable manifold
// is the z = 0 plane.
type expandingSaddle struct{}

func (s *expandingSaddle) Dim() int             { return 3 }
func (s *expandingSaddle) ParamNames() []string { return nil }
func (s *expandingSaddle) Param(name string) (float64, error) {
	return 0, dynamo.Configf("unknown parameter: %s", name)
}
func (s *expandingSaddle) SetParam(name string, v float64) error {
	return dynamo.Configf("unknown parameter: %s", name)
}
func (s *expandingSaddle) Eval(x, out dynamo.State) error {
	out[0], out[1], out[2] = x[0], 2*x[1], -x[2]
	return nil
}
func (s *expandingSaddle) Jacobian(x dynamo.State, dst *mat.Dense) error {
	dst.Zero()
	dst.Set(0, 0, 1)
	dst.Set(1, 1, 2)
	dst.Set(2, 2, -1)
	return nil
}
func (s *expandingSaddle) ParamDeriv(x dynamo.State, name string, dst dynamo.State) error {
	return dynamo.Configf("unknown parameter: %s", name)
}

func TestCurve1DLinearSaddle(t *testing.T) {
	sys := &planarSaddle{a: 1}
	settings := DefaultCurveSettings()
	settings.TargetArclength = 0.5
	settings.Tol = 1e-6
	settings.Dt = 1e-3
	settings.MaxTime = 20
	settings.MaxPoints = 20000
	curves, err := Curve1D(sys, dynamo.State{0, 0}, Unstable, settings)
	if err != nil {
		t.Fatalf("Curve1D: %v", err)
	}
	if len(curves) != 2 {
		t.Fatalf("branch count = %d, want 2", len(curves))
	}
	dirs := map[int]bool{}
	for _, c := range curves {
		dirs[c.Direction] = true
		if c.Method != "shooting_bvp" {
			t.Errorf("method = %q, want shooting_bvp", c.Method)
		}
		for i := 1; i < c.Len(); i++ {
			if c.Arclength[i] < c.Arclength[i-1] {
				t.Fatalf("arclength not monotone at sample %d: %g < %g", i, c.Arclength[i], c.Arclength[i-1])
			}
		}
		final := c.Arclength[c.Len()-1]
		if math.Abs(final-0.5) > 1e-3 {
			t.Errorf("final arclength = %g, want 0.5 within 1e-3", final)
		}
		// the unstable manifold is the x axis
		for i := 0; i < c.Len(); i++ {
			if y := c.Points[i*c.Dim+1]; math.Abs(y) > 1e-8 {
				t.Fatalf("sample %d leaves the x axis: y = %g", i, y)
			}
		}
	}
	if !dirs[1] || !dirs[-1] {
		t.Errorf("directions = %v, want both +1 and -1", dirs)
	}
}

func TestCurve1DModeSelection(t *testing.T) {
	sys := &planarSaddle{a: 1}
	settings := DefaultCurveSettings()
	settings.EigenIndex = 2
	// index 2 in the descending spectrum is the stable mode
	if _, err := Curve1D(sys, dynamo.State{0, 0}, Unstable, settings); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("stable mode requested as unstable: err = %v, want config error", err)
	}
	settings.EigenIndex = 7
	if _, err := Curve1D(sys, dynamo.State{0, 0}, Unstable, settings); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("out of range index: err = %v, want config error", err)
	}

	two := &expandingSaddle{}
	settings = DefaultCurveSettings()
	settings.TargetArclength = 0.05
	if _, err := Curve1D(two, dynamo.State{0, 0, 0}, Unstable, settings); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("ambiguous unstable modes: err = %v, want config error", err)
	}
	settings.EigenIndex = 1
	if _, err := Curve1D(two, dynamo.State{0, 0, 0}, Unstable, settings); err != nil {
		t.Errorf("explicit index on ambiguous spectrum: %v", err)
	}
}

func TestCurveSettingsValidation(t *testing.T) {
	s := DefaultCurveSettings()
	s.Eps = 0
	if err := s.validate(); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("zero eps: err = %v, want config error", err)
	}
	s = DefaultCurveSettings()
	s.MaxPoints = 1
	if err := s.validate(); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("tiny point cap: err = %v, want config error", err)
	}
}

func planeSurfaceSettings() SurfaceSettings {
	return SurfaceSettings{
		InitialRadius: 0.1,
		RingPoints:    16,
		Delta:         0.05,
		DeltaMin:      1e-4,
		Dt:            0.01,
		MaxTime:       50,
		PlaneTol:      1e-6,
		MaxRings:      30,
		MaxVertices:   10000,
		MaxRingSize:   256,
		TargetRadius:  0.3,
		TargetArclength: 10,
		MinSpacing:    0,
		MaxSpacing:    10,
		AlphaMin:      1e-9,
		AlphaMax:      1.5,
		DeltaAlphaMin: 1e-12,
		DeltaAlphaMax: 10,
	}
}

func TestSurfacePlanarUnstableManifold(t *testing.T) {
	sys := &expandingSaddle{}
	eq := dynamo.State{0, 0, 0}
	var ringCalls int
	surf, err := SurfaceFromEquilibrium(sys, eq, Unstable, planeSurfaceSettings(), func(ring, verts int, arc float64) {
		ringCalls++
		if verts <= 0 || arc < 0 {
			t.Errorf("callback got verts=%d arc=%g", verts, arc)
		}
	})
	if err != nil {
		t.Fatalf("SurfaceFromEquilibrium: %v", err)
	}
	// center cap: the equilibrium is vertex 0
	for d := 0; d < 3; d++ {
		if surf.Vertices[d] != 0 {
			t.Fatalf("vertex 0 = %v, want the equilibrium", surf.Vertices[:3])
		}
	}
	if len(surf.RingOffsets) < 2 {
		t.Fatalf("only %d rings grown", len(surf.RingOffsets))
	}
	if ringCalls != len(surf.RingOffsets)-1 {
		t.Errorf("ring callbacks = %d, rings beyond the seed = %d", ringCalls, len(surf.RingOffsets)-1)
	}
	known := map[string]bool{
		TermMaxRings: true, TermMaxVertices: true, TermTargetRadius: true,
		TermTargetArclength: true, TermBoundsExit: true, TermRingTooSmall: true,
		TermRingBuildFailed: true, TermRingSpacingFailed: true,
		TermQualityRejected: true, TermRingCandidateTooSmall: true,
	}
	if !known[surf.Diagnostics.Termination] {
		t.Errorf("termination = %q", surf.Diagnostics.Termination)
	}
	if surf.Diagnostics.Termination != TermTargetRadius {
		t.Errorf("termination = %q, want %q on the expanding plane", surf.Diagnostics.Termination, TermTargetRadius)
	}
	vc := surf.vertexCount()
	for _, idx := range surf.Triangles {
		if idx < 0 || idx >= vc {
			t.Fatalf("triangle index %d outside [0, %d)", idx, vc)
		}
	}
	for _, off := range surf.RingOffsets {
		if off < 0 || off >= vc {
			t.Fatalf("ring offset %d outside [0, %d)", off, vc)
		}
	}
	// the manifold is the z = 0 plane and the leaves never leave it
	for i := 0; i < vc; i++ {
		if z := surf.Vertices[i*3+2]; math.Abs(z) > 1e-9 {
			t.Fatalf("vertex %d has z = %g, want 0", i, z)
		}
	}
	if surf.Diagnostics.MaxRadius < 0.3 {
		t.Errorf("max radius = %g, want at least the target 0.3", surf.Diagnostics.MaxRadius)
	}
}

// lorenz is the classic flow at (sigma, rho, beta) = (10, 28, 8/3).
type lorenz struct{}

func (l *lorenz) Dim() int             { return 3 }
func (l *lorenz) ParamNames() []string { return nil }
func (l *lorenz) Param(name string) (float64, error) {
	return 0, dynamo.Configf("unknown parameter: %s", name)
}
func (l *lorenz) SetParam(name string, v float64) error {
	return dynamo.Configf("unknown parameter: %s", name)
}
func (l *lorenz) Eval(x, out dynamo.State) error {
	out[0] = 10 * (x[1] - x[0])
	out[1] = x[0]*(28-x[2]) - x[1]
	out[2] = x[0]*x[1] - 8.0/3.0*x[2]
	return nil
}
func (l *lorenz) Jacobian(x dynamo.State, dst *mat.Dense) error {
	dst.Set(0, 0, -10)
	dst.Set(0, 1, 10)
	dst.Set(0, 2, 0)
	dst.Set(1, 0, 28-x[2])
	dst.Set(1, 1, -1)
	dst.Set(1, 2, -x[0])
	dst.Set(2, 0, x[1])
	dst.Set(2, 1, x[0])
	dst.Set(2, 2, -8.0/3.0)
	return nil
}
func (l *lorenz) ParamDeriv(x dynamo.State, name string, dst dynamo.State) error {
	return dynamo.Configf("unknown parameter: %s", name)
}

func TestSurfaceLorenzStableOrigin(t *testing.T) {
	settings := LorenzGlobalKo()
	settings.MaxRings = 6
	settings.MaxVertices = 5000
	surf, err := SurfaceFromEquilibrium(&lorenz{}, dynamo.State{0, 0, 0}, Stable, settings, nil)
	if err != nil {
		t.Fatalf("SurfaceFromEquilibrium: %v", err)
	}
	for d := 0; d < 3; d++ {
		if surf.Vertices[d] != 0 {
			t.Fatalf("vertex 0 = %v, want the origin", surf.Vertices[:3])
		}
	}
	if surf.Diagnostics.Termination == "" {
		t.Error("no termination reason recorded")
	}
	vc := surf.vertexCount()
	for _, idx := range surf.Triangles {
		if idx < 0 || idx >= vc {
			t.Fatalf("triangle index %d outside [0, %d)", idx, vc)
		}
	}
	for _, off := range surf.RingOffsets {
		if off < 0 || off >= vc {
			t.Fatalf("ring offset %d outside [0, %d)", off, vc)
		}
	}
	if surf.Diagnostics.MaxRadius < settings.InitialRadius {
		t.Errorf("max radius = %g, want at least the seed radius %g", surf.Diagnostics.MaxRadius, settings.InitialRadius)
	}
}

func TestSurfaceSettingsValidation(t *testing.T) {
	s := planeSurfaceSettings()
	s.DeltaMin = 1
	if err := s.validate(); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("floor above delta: err = %v, want config error", err)
	}
	s = planeSurfaceSettings()
	s.RingPoints = 3
	if err := s.validate(); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("three ring points: err = %v, want config error", err)
	}
	s = planeSurfaceSettings()
	s.MaxSpacing = 0
	if err := s.validate(); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("empty spacing range: err = %v, want config error", err)
	}
}

func TestSelectFloquet(t *testing.T) {
	vals := []complex128{2, 1, 0.5}
	mu, err := selectFloquet(vals, Unstable, 0)
	if err != nil || mu != 2 {
		t.Errorf("unstable pick = (%g, %v), want (2, nil)", mu, err)
	}
	mu, err = selectFloquet(vals, Stable, 0)
	if err != nil || mu != 0.5 {
		t.Errorf("stable pick = (%g, %v), want (0.5, nil)", mu, err)
	}
	if _, err := selectFloquet(vals, Unstable, 3); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("stable multiplier at index 3: err = %v, want config error", err)
	}
	if _, err := selectFloquet([]complex128{3, 2, 0.5}, Unstable, 0); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("ambiguous unstable multipliers: err = %v, want config error", err)
	}
	if _, err := selectFloquet([]complex128{1, 0.9995}, Stable, 0); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("only near-unit multipliers: err = %v, want config error", err)
	}
}

func TestResampleClosedRing(t *testing.T) {
	// unit square
	square := []float64{0, 0, 1, 0, 1, 1, 0, 1}
	out := resampleClosedRing(square, 2, 8)
	if len(out) != 16 {
		t.Fatalf("resampled length = %d, want 16", len(out))
	}
	for j := 0; j < 8; j++ {
		x, y := out[j*2], out[j*2+1]
		onEdge := x == 0 || x == 1 || y == 0 || y == 1
		if !onEdge {
			t.Errorf("resampled point %d = (%g, %g) off the square", j, x, y)
		}
	}
	// uniform arclength spacing on a perimeter of 4 means step 0.5
	d := chord(out[0:2], out[2:4])
	if math.Abs(d-0.5) > 1e-12 {
		t.Errorf("first spacing = %g, want 0.5", d)
	}
}

func TestSurfaceFromCycleValidation(t *testing.T) {
	sys := &expandingSaddle{}
	if _, err := SurfaceFromCycle(sys, dynamo.State{1, 2, 3}, 4, 2, Unstable, 0, planeSurfaceSettings(), nil); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("short cycle state: err = %v, want config error", err)
	}
}

func TestRingPlaneRoot(t *testing.T) {
	// unit square ring, plane x = 0.5 facing +x
	ring := []float64{0, 0, 1, 0, 1, 1, 0, 1}
	base := []float64{0.5, 0}
	n := []float64{1, 0}
	seg, tau, fail := ringPlaneRoot(ring, 2, 0, base, n, 1e-12)
	if fail != leafOK {
		t.Fatalf("plane root failed: %v", fail)
	}
	if seg != 0 || math.Abs(tau-0.5) > 1e-12 {
		t.Errorf("root at segment %d tau %g, want segment 0 tau 0.5", seg, tau)
	}
	// starting on a parallel segment must switch and still land
	seg, tau, fail = ringPlaneRoot(ring, 2, 1, base, n, 1e-12)
	if fail != leafOK {
		t.Fatalf("plane root with switching failed: %v", fail)
	}
	if got := signedOffset(segmentPoint(ring, 2, seg, tau), base, n); math.Abs(got) > 1e-12 {
		t.Errorf("residual after switching = %g", got)
	}
}

func TestInsertMidpointSnapsToRing(t *testing.T) {
	// predecessor ring: octagon of radius 1 in the z = 0 plane with
	// vertices at 22.5 + k*45 degrees, anchors on the half-radius copy
	e := newEngine(&expandingSaddle{}, Unstable, planeSurfaceSettings(), []float64{0, 0, 0}, nil)
	const m = 8
	e.ring = make([]float64, m*3)
	e.anchors = make([]float64, m*3)
	for k := 0; k < m; k++ {
		th := math.Pi/8 + 2*math.Pi*float64(k)/m
		e.ring[k*3], e.ring[k*3+1] = math.Cos(th), math.Sin(th)
		e.anchors[k*3], e.anchors[k*3+1] = 0.5*math.Cos(th), 0.5*math.Sin(th)
	}
	// candidate anchors on the unit circle at 0 and 90 degrees; their
	// chord midpoint (0.5, 0.5, 0) lies well inside the octagon
	cand := []float64{1, 0, 0, 0, 1, 0}
	point, anchor, ok := e.insertMidpoint(cand, 3, 0, 1)
	if !ok {
		t.Fatalf("midpoint insertion failed, diagnostics %+v", e.surf.Diagnostics)
	}
	// the inserted leaf must start on the octagon polyline, at the
	// midpoint of the vertices bracketing 45 degrees
	want := []float64{math.Cos(math.Pi/8) * math.Cos(math.Pi/4), math.Cos(math.Pi/8) * math.Sin(math.Pi/4), 0}
	for d := 0; d < 3; d++ {
		if math.Abs(anchor[d]-want[d]) > 1e-9 {
			t.Fatalf("anchor = %v, want %v", anchor, want)
		}
	}
	chordMid := []float64{0.5, 0.5, 0}
	tangent := []float64{-1 / math.Sqrt2, 1 / math.Sqrt2, 0}
	if got := signedOffset(anchor, chordMid, tangent); math.Abs(got) > 1e-9 {
		t.Errorf("anchor off the midpoint plane by %g", got)
	}
	if math.Abs(point[2]) > 1e-9 {
		t.Errorf("leaf point left the invariant plane: z = %g", point[2])
	}
	if chord(point, anchor) == 0 {
		t.Errorf("leaf point coincides with its anchor")
	}
}

func segmentPoint(ring []float64, dim, seg int, tau float64) []float64 {
	count := len(ring) / dim
	a := ring[seg*dim : (seg+1)*dim]
	b := ring[((seg+1)%count)*dim : ((seg+1)%count+1)*dim]
	out := make([]float64, dim)
	for d := 0; d < dim; d++ {
		out[d] = (1-tau)*a[d] + tau*b[d]
	}
	return out
}
