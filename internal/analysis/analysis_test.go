package analysis

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/avoura/bifurc/internal/dynamo"
	"github.com/avoura/bifurc/internal/integrators"
)

// linearFlow is x' = r*x.
type linearFlow struct{ r float64 }

func (s *linearFlow) Dim() int             { return 1 }
func (s *linearFlow) ParamNames() []string { return []string{"r"} }

func (s *linearFlow) Param(name string) (float64, error) {
	if name != "r" {
		return 0, dynamo.Configf("unknown parameter %q", name)
	}
	return s.r, nil
}

func (s *linearFlow) SetParam(name string, value float64) error {
	if name != "r" {
		return dynamo.Configf("unknown parameter %q", name)
	}
	s.r = value
	return nil
}

func (s *linearFlow) Eval(x, out dynamo.State) error {
	out[0] = s.r * x[0]
	return nil
}

func (s *linearFlow) Jacobian(x dynamo.State, dst *mat.Dense) error {
	dst.Set(0, 0, s.r)
	return nil
}

func (s *linearFlow) ParamDeriv(x dynamo.State, name string, dst dynamo.State) error {
	if name != "r" {
		return dynamo.Configf("unknown parameter %q", name)
	}
	dst[0] = x[0]
	return nil
}

// doublingMap is x -> 2x.
type doublingMap struct{}

func (doublingMap) Dim() int             { return 1 }
func (doublingMap) ParamNames() []string { return nil }

func (doublingMap) Param(name string) (float64, error) {
	return 0, dynamo.Configf("unknown parameter %q", name)
}

func (doublingMap) SetParam(name string, value float64) error {
	return dynamo.Configf("unknown parameter %q", name)
}

func (doublingMap) Eval(x, out dynamo.State) error {
	out[0] = 2 * x[0]
	return nil
}

func (doublingMap) Jacobian(x dynamo.State, dst *mat.Dense) error {
	dst.Set(0, 0, 2)
	return nil
}

func (doublingMap) ParamDeriv(x dynamo.State, name string, dst dynamo.State) error {
	return dynamo.Configf("unknown parameter %q", name)
}

func TestLyapunovLinearFlow(t *testing.T) {
	sys := &linearFlow{r: 1}
	settings := LyapunovSettings{Steps: 100, Dt: 0.05, QRStride: 10}
	exp, err := LyapunovSpectrum(sys, integrators.NewRK4(), dynamo.State{1}, settings)
	if err != nil {
		t.Fatalf("LyapunovSpectrum: %v", err)
	}
	if len(exp) != 1 {
		t.Fatalf("got %d exponents, want 1", len(exp))
	}
	if math.Abs(exp[0]-1.0) > 1e-2 {
		t.Errorf("exponent = %g, want 1.0 within 1e-2", exp[0])
	}
}

func TestLyapunovDoublingMap(t *testing.T) {
	settings := LyapunovSettings{Steps: 8, Dt: 1, QRStride: 1}
	exp, err := LyapunovSpectrum(doublingMap{}, integrators.NewDiscreteMap(), dynamo.State{0.3}, settings)
	if err != nil {
		t.Fatalf("LyapunovSpectrum: %v", err)
	}
	if math.Abs(exp[0]-math.Log(2)) > 1e-12 {
		t.Errorf("exponent = %g, want ln 2 = %g", exp[0], math.Log(2))
	}
}

func TestLyapunovValidation(t *testing.T) {
	sys := &linearFlow{r: 1}
	cases := []LyapunovSettings{
		{Steps: 0, Dt: 0.01, QRStride: 1},
		{Steps: 10, Dt: 0, QRStride: 1},
		{Steps: 10, Dt: 0.01, QRStride: 0},
	}
	for i, s := range cases {
		if _, err := LyapunovSpectrum(sys, integrators.NewRK4(), dynamo.State{1}, s); !errors.Is(err, dynamo.ErrConfig) {
			t.Errorf("case %d: got %v, want ErrConfig", i, err)
		}
	}
	if _, err := LyapunovSpectrum(sys, integrators.NewRK4(), dynamo.State{1, 2}, DefaultLyapunovSettings()); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("dimension mismatch: got %v, want ErrConfig", err)
	}
}

func TestKaplanYorke(t *testing.T) {
	got := KaplanYorke([]float64{0.1, 0, -1})
	if math.Abs(got-2.1) > 1e-12 {
		t.Errorf("KaplanYorke([0.1, 0, -1]) = %g, want 2.1", got)
	}
	if got := KaplanYorke(nil); got != 0 {
		t.Errorf("KaplanYorke(nil) = %g, want 0", got)
	}
	// order must not matter
	if got := KaplanYorke([]float64{-1, 0.1, 0}); math.Abs(got-2.1) > 1e-12 {
		t.Errorf("unsorted input = %g, want 2.1", got)
	}
	if got := KaplanYorke([]float64{0.5, 0.2}); got != 2 {
		t.Errorf("all non-negative = %g, want 2", got)
	}
}

func TestIsocline1DRoots(t *testing.T) {
	g := func(x dynamo.State) (float64, error) { return x[0]*x[0] - 0.25, nil }
	pts, err := Isocline1D(g, dynamo.State{0}, 0, AxisSpec{Var: 0, Min: -1, Max: 1, Samples: 21})
	if err != nil {
		t.Fatalf("Isocline1D: %v", err)
	}
	if pts.Dim != 1 || len(pts.Points) != 2 {
		t.Fatalf("got %d roots in dimension %d, want 2 in 1", len(pts.Points)/pts.Dim, pts.Dim)
	}
	if math.Abs(pts.Points[0]+0.5) > 1e-9 || math.Abs(pts.Points[1]-0.5) > 1e-9 {
		t.Errorf("roots = %v, want [-0.5, 0.5]", pts.Points)
	}
}

func TestIsocline2DLinear(t *testing.T) {
	g := func(x dynamo.State) (float64, error) { return x[0] + x[1], nil }
	frozen := dynamo.State{0, 0, 0.7}
	segs, err := Isocline2D(g, frozen, 0,
		AxisSpec{Var: 0, Min: -1, Max: 1, Samples: 25},
		AxisSpec{Var: 1, Min: -1, Max: 1, Samples: 25})
	if err != nil {
		t.Fatalf("Isocline2D: %v", err)
	}
	if segs.SegmentCount() == 0 {
		t.Fatal("no segments extracted")
	}
	if segs.Dim != 3 {
		t.Fatalf("dim = %d, want 3", segs.Dim)
	}
	n := len(segs.Points) / segs.Dim
	for _, idx := range segs.Indices {
		if idx < 0 || idx >= n {
			t.Fatalf("index %d outside %d points", idx, n)
		}
	}
	for p := 0; p < n; p++ {
		x, y, z := segs.Points[p*3], segs.Points[p*3+1], segs.Points[p*3+2]
		if x < -1-1e-12 || x > 1+1e-12 || y < -1-1e-12 || y > 1+1e-12 {
			t.Fatalf("point (%g, %g) outside the grid", x, y)
		}
		if math.Abs(x+y) > 1e-9 {
			t.Errorf("point (%g, %g) off the level set by %g", x, y, math.Abs(x+y))
		}
		if z != 0.7 {
			t.Errorf("frozen coordinate moved to %g", z)
		}
	}
}

func TestIsocline3DPlane(t *testing.T) {
	g := func(x dynamo.State) (float64, error) { return x[0], nil }
	ax := func(v int) AxisSpec { return AxisSpec{Var: v, Min: -1, Max: 1, Samples: 9} }
	tris, err := Isocline3D(g, dynamo.State{0, 0, 0}, 0, ax(0), ax(1), ax(2))
	if err != nil {
		t.Fatalf("Isocline3D: %v", err)
	}
	if len(tris.Indices) == 0 || len(tris.Indices)%3 != 0 {
		t.Fatalf("got %d indices, want a non-empty multiple of 3", len(tris.Indices))
	}
	n := len(tris.Points) / tris.Dim
	for _, idx := range tris.Indices {
		if idx < 0 || idx >= n {
			t.Fatalf("index %d outside %d points", idx, n)
		}
	}
	for p := 0; p < n; p++ {
		if math.Abs(tris.Points[p*3]) > 1e-12 {
			t.Errorf("vertex %d off the x = 0 plane: %g", p, tris.Points[p*3])
		}
	}
}

func TestIsoclineValidation(t *testing.T) {
	g := func(x dynamo.State) (float64, error) { return x[0], nil }
	frozen := dynamo.State{0, 0}
	ok := AxisSpec{Var: 0, Min: 0, Max: 1, Samples: 5}
	cases := []struct {
		name  string
		level float64
		axes  []AxisSpec
	}{
		{"nan level", math.NaN(), []AxisSpec{ok}},
		{"axis out of range", 0, []AxisSpec{{Var: 5, Min: 0, Max: 1, Samples: 5}}},
		{"duplicate axis", 0, []AxisSpec{ok, ok}},
		{"empty range", 0, []AxisSpec{{Var: 0, Min: 1, Max: 1, Samples: 5}}},
		{"too few samples", 0, []AxisSpec{{Var: 0, Min: 0, Max: 1, Samples: 1}}},
	}
	for _, tc := range cases {
		var err error
		switch len(tc.axes) {
		case 1:
			_, err = Isocline1D(g, frozen, tc.level, tc.axes[0])
		case 2:
			_, err = Isocline2D(g, frozen, tc.level, tc.axes[0], tc.axes[1])
		}
		if !errors.Is(err, dynamo.ErrConfig) {
			t.Errorf("%s: got %v, want ErrConfig", tc.name, err)
		}
	}
}
