package codim2

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/avoura/bifurc/internal/cont"
	"github.com/avoura/bifurc/internal/dynamo"
)

// foldSys has the fold locus a + b = 0 at x = 0:
// {x' = a + b + x^2, y' = x - y}.
type foldSys struct{ a, b float64 }

func (s *foldSys) Dim() int             { return 2 }
func (s *foldSys) ParamNames() []string { return []string{"a", "b"} }
func (s *foldSys) Param(name string) (float64, error) {
	switch name {
	case "a":
		return s.a, nil
	case "b":
		return s.b, nil
	}
	return 0, dynamo.Configf("unknown parameter: %s", name)
}
func (s *foldSys) SetParam(name string, v float64) error {
	switch name {
	case "a":
		s.a = v
	case "b":
		s.b = v
	default:
		return dynamo.Configf("unknown parameter: %s", name)
	}
	return nil
}
func (s *foldSys) Eval(x, out dynamo.State) error {
	out[0] = s.a + s.b + x[0]*x[0]
	out[1] = x[0] - x[1]
	return nil
}
func (s *foldSys) Jacobian(x dynamo.State, dst *mat.Dense) error {
	dst.Set(0, 0, 2*x[0])
	dst.Set(0, 1, 0)
	dst.Set(1, 0, 1)
	dst.Set(1, 1, -1)
	return nil
}
func (s *foldSys) ParamDeriv(x dynamo.State, name string, dst dynamo.State) error {
	dst[0] = 1
	dst[1] = 0
	return nil
}

// traceSys has the Hopf locus a + b = 1 with omega^2 = 1 - a^2:
// {x' = a x - y, y' = x + (b-1) y}.
type traceSys struct{ a, b float64 }

func (s *traceSys) Dim() int             { return 2 }
func (s *traceSys) ParamNames() []string { return []string{"a", "b"} }
func (s *traceSys) Param(name string) (float64, error) {
	switch name {
	case "a":
		return s.a, nil
	case "b":
		return s.b, nil
	}
	return 0, dynamo.Configf("unknown parameter: %s", name)
}
func (s *traceSys) SetParam(name string, v float64) error {
	switch name {
	case "a":
		s.a = v
	case "b":
		s.b = v
	default:
		return dynamo.Configf("unknown parameter: %s", name)
	}
	return nil
}
func (s *traceSys) Eval(x, out dynamo.State) error {
	out[0] = s.a*x[0] - x[1]
	out[1] = x[0] + (s.b-1)*x[1]
	return nil
}
func (s *traceSys) Jacobian(x dynamo.State, dst *mat.Dense) error {
	dst.Set(0, 0, s.a)
	dst.Set(0, 1, -1)
	dst.Set(1, 0, 1)
	dst.Set(1, 1, s.b-1)
	return nil
}
func (s *traceSys) ParamDeriv(x dynamo.State, name string, dst dynamo.State) error {
	if name == "a" {
		dst[0] = x[0]
		dst[1] = 0
	} else {
		dst[0] = 0
		dst[1] = x[1]
	}
	return nil
}

// cubicSys is the Hopf normal form with cubic coefficient s:
// {x' = -y + s x (x^2+y^2), y' = x + s y (x^2+y^2)}.
type cubicSys struct{ s float64 }

func (s *cubicSys) Dim() int             { return 2 }
func (s *cubicSys) ParamNames() []string { return []string{"s"} }
func (s *cubicSys) Param(name string) (float64, error) {
	if name != "s" {
		return 0, dynamo.Configf("unknown parameter: %s", name)
	}
	return s.s, nil
}
func (s *cubicSys) SetParam(name string, v float64) error {
	if name != "s" {
		return dynamo.Configf("unknown parameter: %s", name)
	}
	s.s = v
	return nil
}
func (s *cubicSys) Eval(x, out dynamo.State) error {
	r2 := x[0]*x[0] + x[1]*x[1]
	out[0] = -x[1] + s.s*x[0]*r2
	out[1] = x[0] + s.s*x[1]*r2
	return nil
}
func (s *cubicSys) Jacobian(x dynamo.State, dst *mat.Dense) error {
	dst.Set(0, 0, s.s*(3*x[0]*x[0]+x[1]*x[1]))
	dst.Set(0, 1, -1+2*s.s*x[0]*x[1])
	dst.Set(1, 0, 1+2*s.s*x[0]*x[1])
	dst.Set(1, 1, s.s*(x[0]*x[0]+3*x[1]*x[1]))
	return nil
}
func (s *cubicSys) ParamDeriv(x dynamo.State, name string, dst dynamo.State) error {
	r2 := x[0]*x[0] + x[1]*x[1]
	dst[0] = x[0] * r2
	dst[1] = x[1] * r2
	return nil
}

// linSys is a linear flow with two independent parameters:
// {x' = a x - y, y' = x + b y}.
type linSys struct{ a, b float64 }

func (s *linSys) Dim() int             { return 2 }
func (s *linSys) ParamNames() []string { return []string{"a", "b"} }
func (s *linSys) Param(name string) (float64, error) {
	switch name {
	case "a":
		return s.a, nil
	case "b":
		return s.b, nil
	}
	return 0, dynamo.Configf("unknown parameter: %s", name)
}
func (s *linSys) SetParam(name string, v float64) error {
	switch name {
	case "a":
		s.a = v
	case "b":
		s.b = v
	default:
		return dynamo.Configf("unknown parameter: %s", name)
	}
	return nil
}
func (s *linSys) Eval(x, out dynamo.State) error {
	out[0] = s.a*x[0] - x[1]
	out[1] = x[0] + s.b*x[1]
	return nil
}
func (s *linSys) Jacobian(x dynamo.State, dst *mat.Dense) error {
	dst.Set(0, 0, s.a)
	dst.Set(0, 1, -1)
	dst.Set(1, 0, 1)
	dst.Set(1, 1, s.b)
	return nil
}
func (s *linSys) ParamDeriv(x dynamo.State, name string, dst dynamo.State) error {
	if name == "a" {
		dst[0] = x[0]
		dst[1] = 0
	} else {
		dst[0] = 0
		dst[1] = x[1]
	}
	return nil
}

func curveSettings(maxSteps int) cont.Settings {
	return cont.Settings{
		StepSize:       0.05,
		MinStepSize:    1e-6,
		MaxStepSize:    0.1,
		MaxSteps:       maxSteps,
		CorrectorSteps: 10,
		CorrectorTol:   1e-8,
		StepTol:        1e-10,
	}
}

func TestBorderedScalarTracksSingularity(t *testing.T) {
	phi := []float64{0, 1}
	psi := []float64{0, 1}
	for _, e := range []float64{0, 0.3, -0.7} {
		m := mat.NewDense(2, 2, []float64{1, 0, 0, e})
		g, _, err := borderedScalar(m, phi, psi)
		if err != nil {
			t.Fatalf("borderedScalar(e=%v): %v", e, err)
		}
		if math.Abs(g-(-e)) > 1e-12 {
			t.Errorf("g(e=%v) = %v, want %v", e, g, -e)
		}
	}
}

func TestGoldenBordersDeterministic(t *testing.T) {
	b1 := goldenBorders(7)
	b2 := goldenBorders(7)
	norm := 0.0
	for i := range b1.phi {
		if b1.phi[i] != b2.phi[i] {
			t.Fatalf("golden borders are not reproducible at %d", i)
		}
		norm += b1.phi[i] * b1.phi[i]
	}
	if math.Abs(norm-1) > 1e-12 {
		t.Errorf("golden border norm^2 = %v, want 1", norm)
	}
}

func TestFoldCurveContinuation(t *testing.T) {
	sys := &foldSys{}
	p, err := NewFoldCurve(sys, dynamo.Flow(), dynamo.State{0, 0}, "a", "b")
	if err != nil {
		t.Fatalf("NewFoldCurve: %v", err)
	}
	seed := p.SeedAug(dynamo.State{0, 0}, 0, 0)
	r, err := cont.NewRunner(p, seed, curveSettings(5), true)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if _, err := r.RunSteps(50); err != nil {
		t.Fatalf("RunSteps: %v", err)
	}
	br, err := r.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	cv, err := Curve(p, br)
	if err != nil {
		t.Fatalf("Curve: %v", err)
	}
	if cv.Type != "fold_curve" {
		t.Errorf("curve type = %q, want fold_curve", cv.Type)
	}
	if cv.Param1 != "a" || cv.Param2 != "b" {
		t.Errorf("curve params = %q, %q", cv.Param1, cv.Param2)
	}
	if len(cv.Points) < 3 {
		t.Fatalf("got %d points, want at least 3", len(cv.Points))
	}
	for i, pt := range cv.Points {
		if math.Abs(pt.Param1+pt.Param2) > 1e-7 {
			t.Errorf("point %d: a+b = %v, want 0", i, pt.Param1+pt.Param2)
		}
		if math.Abs(pt.State[0]) > 1e-7 {
			t.Errorf("point %d: x = %v, want 0", i, pt.State[0])
		}
	}
	last := cv.Points[len(cv.Points)-1]
	if math.Abs(last.Param1) < 0.05 {
		t.Errorf("curve did not move in a: final a = %v", last.Param1)
	}
}

func TestFoldCurveTestFunctions(t *testing.T) {
	sys := &foldSys{}
	p, err := NewFoldCurve(sys, dynamo.Flow(), dynamo.State{0, 0}, "a", "b")
	if err != nil {
		t.Fatalf("NewFoldCurve: %v", err)
	}
	ft, err := p.TestFunctions(p.SeedAug(dynamo.State{0, 0}, 0, 0))
	if err != nil {
		t.Fatalf("TestFunctions: %v", err)
	}
	// null vectors of [[0,0],[1,-1]]: right (1,1)/sqrt2, left (1,0)
	if math.Abs(math.Abs(ft.BogdanovTakens)-1/math.Sqrt2) > 1e-8 {
		t.Errorf("BT = %v, want |BT| = %v", ft.BogdanovTakens, 1/math.Sqrt2)
	}
	if math.Abs(math.Abs(ft.Cusp)-math.Sqrt2) > 1e-6 {
		t.Errorf("cusp = %v, want |cusp| = %v", ft.Cusp, math.Sqrt2)
	}
	if ft.ZeroHopf != 1 {
		t.Errorf("ZH = %v, want 1 in dimension 2", ft.ZeroHopf)
	}
}

func TestFoldCurveValidation(t *testing.T) {
	sys := &foldSys{}
	if _, err := NewFoldCurve(sys, dynamo.Flow(), dynamo.State{0, 0}, "a", "a"); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("duplicate parameters: got %v, want ErrConfig", err)
	}
	if _, err := NewFoldCurve(sys, dynamo.Flow(), dynamo.State{0}, "a", "b"); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("short state: got %v, want ErrConfig", err)
	}
	if _, err := NewFoldCurve(sys, dynamo.Flow(), dynamo.State{0, 0}, "a", "c"); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("unknown parameter: got %v, want ErrConfig", err)
	}
}

func TestHopfCurveContinuation(t *testing.T) {
	sys := &traceSys{a: 0, b: 1}
	p, err := NewHopfCurve(sys, dynamo.State{0, 0}, "a", "b", 1)
	if err != nil {
		t.Fatalf("NewHopfCurve: %v", err)
	}
	seed := p.SeedAug(dynamo.State{0, 0}, 0, 1, 1)
	r, err := cont.NewRunner(p, seed, curveSettings(5), true)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if _, err := r.RunSteps(50); err != nil {
		t.Fatalf("RunSteps: %v", err)
	}
	br, err := r.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	cv, err := Curve(p, br)
	if err != nil {
		t.Fatalf("Curve: %v", err)
	}
	if cv.Type != "hopf_curve" {
		t.Errorf("curve type = %q, want hopf_curve", cv.Type)
	}
	if len(cv.Points) < 3 {
		t.Fatalf("got %d points, want at least 3", len(cv.Points))
	}
	for i, pt := range cv.Points {
		if math.Abs(pt.Param1+pt.Param2-1) > 1e-6 {
			t.Errorf("point %d: a+b = %v, want 1", i, pt.Param1+pt.Param2)
		}
		wantKappa := 1 - pt.Param1*pt.Param1
		if math.Abs(pt.Auxiliary-wantKappa) > 1e-6 {
			t.Errorf("point %d: kappa = %v, want %v", i, pt.Auxiliary, wantKappa)
		}
		if pt.Tests == nil {
			t.Fatalf("point %d carries no codim-2 test scalars", i)
		}
		if math.Abs(pt.Tests.BogdanovTakens-pt.Auxiliary) > 1e-12 {
			t.Errorf("point %d: BT scalar = %v, want kappa = %v", i, pt.Tests.BogdanovTakens, pt.Auxiliary)
		}
	}
}

func TestHopfCurveTestFunctions(t *testing.T) {
	sys := &traceSys{a: 0, b: 1}
	p, err := NewHopfCurve(sys, dynamo.State{0, 0}, "a", "b", 1)
	if err != nil {
		t.Fatalf("NewHopfCurve: %v", err)
	}
	ht, err := p.TestFunctions(p.SeedAug(dynamo.State{0, 0}, 0, 1, 1))
	if err != nil {
		t.Fatalf("TestFunctions: %v", err)
	}
	if math.Abs(ht.BogdanovTakens-1) > 1e-12 {
		t.Errorf("BT = %v, want kappa = 1", ht.BogdanovTakens)
	}
	if math.Abs(ht.ZeroHopf-1) > 1e-12 {
		t.Errorf("ZH = %v, want det J = 1", ht.ZeroHopf)
	}
	if ht.HopfHopf != 1 {
		t.Errorf("HH = %v, want 1 in dimension 2", ht.HopfHopf)
	}
	// the seed system is linear, so the first Lyapunov coefficient
	// vanishes
	if math.Abs(ht.GeneralizedHopf) > 1e-8 {
		t.Errorf("GH = %v, want 0 for a linear flow", ht.GeneralizedHopf)
	}
}

func TestHopfCurveDiagnosticsCachesCodim2Tests(t *testing.T) {
	sys := &traceSys{a: 0, b: 1}
	p, err := NewHopfCurve(sys, dynamo.State{0, 0}, "a", "b", 1)
	if err != nil {
		t.Fatalf("NewHopfCurve: %v", err)
	}
	diag, err := p.Diagnostics(p.SeedAug(dynamo.State{0, 0}, 0, 1, 1))
	if err != nil {
		t.Fatalf("Diagnostics: %v", err)
	}
	if diag.Curve == nil {
		t.Fatal("no codim-2 test scalars reported")
	}
	if math.Abs(diag.Curve.BogdanovTakens-1) > 1e-12 {
		t.Errorf("BT scalar = %v, want kappa = 1", diag.Curve.BogdanovTakens)
	}
	if math.Abs(diag.Curve.ZeroHopf-1) > 1e-12 {
		t.Errorf("ZH scalar = %v, want det J = 1", diag.Curve.ZeroHopf)
	}
	if diag.Tests != cont.InertTests() {
		t.Errorf("codim-1 slots = %+v, want inert", diag.Tests)
	}
}

func TestFoldCurveDiagnosticsCachesCodim2Tests(t *testing.T) {
	sys := &foldSys{}
	p, err := NewFoldCurve(sys, dynamo.Flow(), dynamo.State{0, 0}, "a", "b")
	if err != nil {
		t.Fatalf("NewFoldCurve: %v", err)
	}
	diag, err := p.Diagnostics(p.SeedAug(dynamo.State{0, 0}, 0, 0))
	if err != nil {
		t.Fatalf("Diagnostics: %v", err)
	}
	if diag.Curve == nil {
		t.Fatal("no codim-2 test scalars reported")
	}
	if math.Abs(math.Abs(diag.Curve.BogdanovTakens)-1/math.Sqrt2) > 1e-8 {
		t.Errorf("BT scalar = %v, want |BT| = %v", diag.Curve.BogdanovTakens, 1/math.Sqrt2)
	}
	if diag.Tests != cont.InertTests() {
		t.Errorf("codim-1 slots = %+v, want inert", diag.Tests)
	}
}

func TestDoubleTorusProduct(t *testing.T) {
	// the unit-circle pair is the defining one; the remaining pair
	// contributes |0.5 + 0.5i|^2 - 1 = -0.5
	vals := []complex128{
		1,
		complex(0.6, 0.8), complex(0.6, -0.8),
		complex(0.5, 0.5), complex(0.5, -0.5),
	}
	if got := doubleTorusProduct(vals); math.Abs(got+0.5) > 1e-12 {
		t.Errorf("double torus product = %v, want -0.5", got)
	}
	single := []complex128{1, complex(0.6, 0.8), complex(0.6, -0.8)}
	if got := doubleTorusProduct(single); got != 1 {
		t.Errorf("product with a single pair = %v, want 1", got)
	}
}

func TestHopfCurveValidation(t *testing.T) {
	sys := &traceSys{}
	if _, err := NewHopfCurve(sys, dynamo.State{0, 0}, "b", "b", 1); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("duplicate parameters: got %v, want ErrConfig", err)
	}
	if _, err := NewHopfCurve(sys, dynamo.State{0, 0}, "a", "b", 0); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("zero frequency: got %v, want ErrConfig", err)
	}
	if _, err := NewHopfCurve(sys, dynamo.State{0, 0, 0}, "a", "b", 1); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("wrong state length: got %v, want ErrConfig", err)
	}
}

func TestLyapunovFirstCubicNormalForm(t *testing.T) {
	// for z' = i z + s z |z|^2 the projection formula yields 2 s
	for _, s := range []float64{-0.5, 0.25} {
		sys := &cubicSys{s: s}
		l1, err := lyapunovFirst(sys, dynamo.State{0, 0}, 1)
		if err != nil {
			t.Fatalf("lyapunovFirst(s=%v): %v", s, err)
		}
		if math.Abs(l1-2*s) > 1e-5 {
			t.Errorf("l1(s=%v) = %v, want %v", s, l1, 2*s)
		}
	}
}

// seedCycle builds a synthetic recorded cycle for a 1x1 collocation
// mesh in dimension 2.
func seedCycle(T float64) dynamo.State {
	return dynamo.State{1, 0, 1, 0, 1, 0, T}
}

func TestLPCCurveResidualAtSeed(t *testing.T) {
	sys := &linSys{a: 1, b: 2}
	p, err := NewLPCCurve(sys, seedCycle(5), 1, 1, "a", "b")
	if err != nil {
		t.Fatalf("NewLPCCurve: %v", err)
	}
	if p.Dim() != 8 {
		t.Fatalf("Dim = %d, want 8", p.Dim())
	}
	aug, err := p.SeedAug()
	if err != nil {
		t.Fatalf("SeedAug: %v", err)
	}
	if len(aug) != p.Dim()+1 {
		t.Fatalf("seed length = %d, want %d", len(aug), p.Dim()+1)
	}
	out := make([]float64, p.Dim())
	if err := p.Residual(aug, out); err != nil {
		t.Fatalf("Residual: %v", err)
	}
	// the boundary rows and the phase row vanish on the seed cycle
	if out[4] != 0 || out[5] != 0 {
		t.Errorf("boundary rows = %v, %v, want 0", out[4], out[5])
	}
	if math.Abs(out[6]) > 1e-12 {
		t.Errorf("phase row = %v, want 0", out[6])
	}
}

func TestPDCurveSeedConversion(t *testing.T) {
	sys := &linSys{a: 1, b: 2}
	p, err := NewPDCurve(sys, seedCycle(5), 1, 1, "a", "b")
	if err != nil {
		t.Fatalf("NewPDCurve: %v", err)
	}
	aug, err := p.SeedAug()
	if err != nil {
		t.Fatalf("SeedAug: %v", err)
	}
	r, err := cont.NewRunner(p, aug, curveSettings(1), true)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	// the synthetic seed is not on a period doubling locus; the run
	// may stop without accepting a step, but the seed point must
	// survive the conversion
	r.RunSteps(5)
	br, err := r.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	cv, err := Curve(p, br)
	if err != nil {
		t.Fatalf("Curve: %v", err)
	}
	if cv.Type != "pd_curve" {
		t.Errorf("curve type = %q, want pd_curve", cv.Type)
	}
	if len(cv.Points) < 1 {
		t.Fatalf("no points delivered")
	}
	pt := cv.Points[0]
	// ntst*(ncol+1)*dim + 1 with the closing mesh point dropped
	if len(pt.State) != 5 {
		t.Fatalf("delivered state length = %d, want 5", len(pt.State))
	}
	if pt.State[len(pt.State)-1] != 5 {
		t.Errorf("delivered period = %v, want 5", pt.State[len(pt.State)-1])
	}
	if pt.Param1 != 1 || pt.Param2 != 2 {
		t.Errorf("delivered params = %v, %v, want 1, 2", pt.Param1, pt.Param2)
	}
}

func TestNSCurveValidation(t *testing.T) {
	sys := &linSys{a: 1, b: 2}
	if _, err := NewNSCurve(sys, seedCycle(5), 1, 1, "a", "b", 1.5); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("out-of-range rotation cosine: got %v, want ErrConfig", err)
	}
	if _, err := NewNSCurve(sys, seedCycle(5), 1, 1, "a", "a", 0.5); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("duplicate parameters: got %v, want ErrConfig", err)
	}
}

func TestIsochroneCurveValidation(t *testing.T) {
	sys := &linSys{a: 1, b: 2}
	if _, err := NewIsochroneCurve(sys, seedCycle(0), 1, 1, "a", "b"); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("zero period: got %v, want ErrConfig", err)
	}
	if _, err := NewIsochroneCurve(sys, seedCycle(5)[:5], 1, 1, "a", "b"); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("short cycle state: got %v, want ErrConfig", err)
	}
	p, err := NewIsochroneCurve(sys, seedCycle(5), 1, 1, "a", "b")
	if err != nil {
		t.Fatalf("NewIsochroneCurve: %v", err)
	}
	if p.Period() != 5 {
		t.Errorf("Period = %v, want 5", p.Period())
	}
}
