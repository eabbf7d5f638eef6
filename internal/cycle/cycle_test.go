package cycle

import (
	"errors"
	"math"
	"math/cmplx"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/avoura/bifurc/internal/cont"
	"github.com/avoura/bifurc/internal/dynamo"
)

// hopfSys is the normal form {x' = p x - y, y' = x + p y}.
type hopfSys struct{ p float64 }

func (s *hopfSys) Dim() int               { return 2 }
func (s *hopfSys) ParamNames() []string   { return []string{"p"} }
func (s *hopfSys) Param(name string) (float64, error) {
	if name != "p" {
		return 0, dynamo.Configf("unknown parameter: %s", name)
	}
	return s.p, nil
}
func (s *hopfSys) SetParam(name string, v float64) error {
	if name != "p" {
		return dynamo.Configf("unknown parameter: %s", name)
	}
	s.p = v
	return nil
}
func (s *hopfSys) Eval(x, out dynamo.State) error {
	out[0] = s.p*x[0] - x[1]
	out[1] = x[0] + s.p*x[1]
	return nil
}
func (s *hopfSys) Jacobian(x dynamo.State, dst *mat.Dense) error {
	dst.Set(0, 0, s.p)
	dst.Set(0, 1, -1)
	dst.Set(1, 0, 1)
	dst.Set(1, 1, s.p)
	return nil
}
func (s *hopfSys) ParamDeriv(x dynamo.State, name string, dst dynamo.State) error {
	dst[0] = x[0]
	dst[1] = x[1]
	return nil
}

// circleSys has an attracting unit circle traversed with period 2*pi.
type circleSys struct{ a float64 }

func (s *circleSys) Dim() int             { return 2 }
func (s *circleSys) ParamNames() []string { return []string{"a"} }
func (s *circleSys) Param(name string) (float64, error) {
	if name != "a" {
		return 0, dynamo.Configf("unknown parameter: %s", name)
	}
	return s.a, nil
}
func (s *circleSys) SetParam(name string, v float64) error {
	if name != "a" {
		return dynamo.Configf("unknown parameter: %s", name)
	}
	s.a = v
	return nil
}
func (s *circleSys) Eval(x, out dynamo.State) error {
	r2 := x[0]*x[0] + x[1]*x[1]
	out[0] = s.a*x[0]*(1-r2) - x[1]
	out[1] = s.a*x[1]*(1-r2) + x[0]
	return nil
}
func (s *circleSys) Jacobian(x dynamo.State, dst *mat.Dense) error {
	r2 := x[0]*x[0] + x[1]*x[1]
	dst.Set(0, 0, s.a*(1-r2)-2*s.a*x[0]*x[0])
	dst.Set(0, 1, -2*s.a*x[0]*x[1]-1)
	dst.Set(1, 0, -2*s.a*x[0]*x[1]+1)
	dst.Set(1, 1, s.a*(1-r2)-2*s.a*x[1]*x[1])
	return nil
}
func (s *circleSys) ParamDeriv(x dynamo.State, name string, dst dynamo.State) error {
	r2 := x[0]*x[0] + x[1]*x[1]
	dst[0] = x[0] * (1 - r2)
	dst[1] = x[1] * (1 - r2)
	return nil
}

func TestGaussSchemeTwoStage(t *testing.T) {
	sc, err := NewScheme(2)
	if err != nil {
		t.Fatalf("NewScheme: %v", err)
	}
	r3 := math.Sqrt(3)
	wantNodes := []float64{(3 - r3) / 6, (3 + r3) / 6}
	for i, c := range wantNodes {
		if math.Abs(sc.Nodes[i]-c) > 1e-12 {
			t.Errorf("node %d = %v, want %v", i, sc.Nodes[i], c)
		}
		if math.Abs(sc.Weights[i]-0.5) > 1e-12 {
			t.Errorf("weight %d = %v, want 0.5", i, sc.Weights[i])
		}
	}
	wantA := [][]float64{
		{0.25, 0.25 - r3/6},
		{0.25 + r3/6, 0.25},
	}
	for s := range wantA {
		for k := range wantA[s] {
			if math.Abs(sc.A[s][k]-wantA[s][k]) > 1e-12 {
				t.Errorf("a[%d][%d] = %v, want %v", s, k, sc.A[s][k], wantA[s][k])
			}
		}
	}
}

func TestGaussSchemeRowSums(t *testing.T) {
	sc, err := NewScheme(4)
	if err != nil {
		t.Fatalf("NewScheme: %v", err)
	}
	wsum := 0.0
	for _, w := range sc.Weights {
		wsum += w
	}
	if math.Abs(wsum-1) > 1e-12 {
		t.Errorf("weights sum to %v, want 1", wsum)
	}
	// row sums of the collocation matrix reproduce the nodes: the
	// constant field integrates exactly
	for s := range sc.A {
		sum := 0.0
		for _, v := range sc.A[s] {
			sum += v
		}
		if math.Abs(sum-sc.Nodes[s]) > 1e-12 {
			t.Errorf("row %d sums to %v, want node %v", s, sum, sc.Nodes[s])
		}
	}
}

func TestSchemeValidation(t *testing.T) {
	if _, err := NewScheme(0); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("degree 0: got %v, want config error", err)
	}
	if _, err := NewScheme(8); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("degree 8: got %v, want config error", err)
	}
	if _, err := NewProblem(&hopfSys{}, "p", 0, 4); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("ntst 0: got %v, want config error", err)
	}
	if _, err := NewProblem(&hopfSys{}, "q", 10, 4); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("unknown parameter: got %v, want config error", err)
	}
}

func TestHopfSeedGeometry(t *testing.T) {
	prob, err := NewProblem(&hopfSys{}, "p", 20, 4)
	if err != nil {
		t.Fatalf("NewProblem: %v", err)
	}
	aug, err := prob.SeedFromHopf(dynamo.State{0, 0}, 0, 0.1)
	if err != nil {
		t.Fatalf("SeedFromHopf: %v", err)
	}
	if len(aug) != prob.Dim()+1 {
		t.Fatalf("seed length %d, want %d", len(aug), prob.Dim()+1)
	}
	if T := prob.Period(aug); math.Abs(T-2*math.Pi) > 1e-9 {
		t.Errorf("seed period %v, want 2*pi", T)
	}
	mesh := prob.Mesh(aug)
	r0 := math.Hypot(mesh[0][0], mesh[0][1])
	if r0 <= 0 || r0 > 0.1+1e-12 {
		t.Errorf("seed radius %v outside (0, 0.1]", r0)
	}
	for i, u := range mesh {
		if r := math.Hypot(u[0], u[1]); math.Abs(r-r0) > 1e-10 {
			t.Errorf("mesh point %d has radius %v, want %v", i, r, r0)
		}
	}
	res := make([]float64, prob.Dim())
	if err := prob.Residual(aug, res); err != nil {
		t.Fatalf("Residual: %v", err)
	}
	norm := 0.0
	for _, v := range res {
		norm += v * v
	}
	if norm = math.Sqrt(norm); norm > 1e-3 {
		t.Errorf("seed residual norm %v, want below 1e-3", norm)
	}
}

func TestHopfSeedMultipliers(t *testing.T) {
	prob, err := NewProblem(&hopfSys{}, "p", 20, 4)
	if err != nil {
		t.Fatalf("NewProblem: %v", err)
	}
	aug, err := prob.SeedFromHopf(dynamo.State{0, 0}, 0, 0.1)
	if err != nil {
		t.Fatalf("SeedFromHopf: %v", err)
	}
	mult, err := prob.Multipliers(aug)
	if err != nil {
		t.Fatalf("Multipliers: %v", err)
	}
	if len(mult) != 2 {
		t.Fatalf("got %d multipliers, want 2", len(mult))
	}
	for i, mu := range mult {
		if cmplx.Abs(mu-1) > 1e-6 {
			t.Errorf("multiplier %d = %v, want 1 within 1e-6", i, mu)
		}
	}
}

func TestHopfContinuationOneStep(t *testing.T) {
	prob, err := NewProblem(&hopfSys{}, "p", 20, 4)
	if err != nil {
		t.Fatalf("NewProblem: %v", err)
	}
	aug, err := prob.SeedFromHopf(dynamo.State{0, 0}, 0, 0.1)
	if err != nil {
		t.Fatalf("SeedFromHopf: %v", err)
	}
	settings := cont.Settings{
		StepSize:       0.1,
		MinStepSize:    1e-5,
		MaxStepSize:    0.5,
		MaxSteps:       1,
		CorrectorSteps: 5,
		CorrectorTol:   1e-6,
		StepTol:        1e-6,
	}
	r, err := cont.NewRunner(prob, aug, settings, true)
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
	if len(br.Points) < 2 {
		t.Fatalf("got %d points, want at least 2", len(br.Points))
	}
	if br.Type != "limit_cycle" {
		t.Errorf("branch type %q, want limit_cycle", br.Type)
	}
	end := br.Points[br.Endpoint(true)]
	if math.Abs(end.ParamValue) > 1e-3 {
		t.Errorf("parameter moved to %v, want 0 within 1e-3", end.ParamValue)
	}
	augEnd, err := prob.BuildAug(end)
	if err != nil {
		t.Fatalf("BuildAug: %v", err)
	}
	mult, err := prob.Multipliers(augEnd)
	if err != nil {
		t.Fatalf("Multipliers: %v", err)
	}
	for i, mu := range mult {
		if cmplx.Abs(mu-1) > 1e-4 {
			t.Errorf("multiplier %d = %v, want 1 within 1e-4", i, mu)
		}
	}
	if len(br.Upoldp) != (prob.Ntst()+1)*2 {
		t.Errorf("stored phase reference length %d, want %d", len(br.Upoldp), (prob.Ntst()+1)*2)
	}
	if br.Meta.Ntst != 20 || br.Meta.Ncol != 4 || br.Meta.Param != "p" {
		t.Errorf("branch meta %+v missing collocation layout", br.Meta)
	}
}

func TestSeedFromOrbit(t *testing.T) {
	sys := &circleSys{a: 1}
	// integrate one lap and a bit around the attracting circle
	dt := 0.01
	steps := 700
	traj := make([]dynamo.State, 0, steps+1)
	times := make([]float64, 0, steps+1)
	x := dynamo.State{1, 0}
	tcur := 0.0
	for i := 0; i <= steps; i++ {
		traj = append(traj, x.Clone())
		times = append(times, tcur)
		// rk4
		k1 := make(dynamo.State, 2)
		k2 := make(dynamo.State, 2)
		k3 := make(dynamo.State, 2)
		k4 := make(dynamo.State, 2)
		sys.Eval(x, k1)
		sys.Eval(dynamo.State{x[0] + dt/2*k1[0], x[1] + dt/2*k1[1]}, k2)
		sys.Eval(dynamo.State{x[0] + dt/2*k2[0], x[1] + dt/2*k2[1]}, k3)
		sys.Eval(dynamo.State{x[0] + dt*k3[0], x[1] + dt*k3[1]}, k4)
		for j := range x {
			x[j] += dt / 6 * (k1[j] + 2*k2[j] + 2*k3[j] + k4[j])
		}
		tcur += dt
	}
	prob, err := NewProblem(sys, "a", 10, 3)
	if err != nil {
		t.Fatalf("NewProblem: %v", err)
	}
	aug, err := prob.SeedFromOrbit(traj, times, 1)
	if err != nil {
		t.Fatalf("SeedFromOrbit: %v", err)
	}
	if T := prob.Period(aug); math.Abs(T-2*math.Pi) > 1e-2 {
		t.Errorf("estimated period %v, want 2*pi within 1e-2", T)
	}
	for i, u := range prob.Mesh(aug) {
		if r := math.Hypot(u[0], u[1]); math.Abs(r-1) > 2e-2 {
			t.Errorf("mesh point %d has radius %v, want 1", i, r)
		}
	}
}

func TestSeedFromOrbitValidation(t *testing.T) {
	prob, err := NewProblem(&circleSys{a: 1}, "a", 10, 3)
	if err != nil {
		t.Fatalf("NewProblem: %v", err)
	}
	if _, err := prob.SeedFromOrbit([]dynamo.State{{1, 0}}, []float64{0, 1}, 1); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("mismatched lengths: got %v, want config error", err)
	}
	if _, err := prob.SeedFromOrbit([]dynamo.State{{1, 0}, {1, 0}}, []float64{0, 1}, 1); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("short trajectory: got %v, want config error", err)
	}
}

func TestSeedFromPDValidation(t *testing.T) {
	src, err := NewProblem(&hopfSys{}, "p", 10, 4)
	if err != nil {
		t.Fatalf("NewProblem: %v", err)
	}
	srcAug, err := src.SeedFromHopf(dynamo.State{0, 0}, 0, 0.1)
	if err != nil {
		t.Fatalf("SeedFromHopf: %v", err)
	}
	wrong, _ := NewProblem(&hopfSys{}, "p", 15, 4)
	if _, err := wrong.SeedFromPD(src, srcAug, 1e-3); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("mismatched mesh: got %v, want config error", err)
	}
	// the rotation has no multiplier near -1, so the seed must refuse
	doubled, _ := NewProblem(&hopfSys{}, "p", 20, 4)
	if _, err := doubled.SeedFromPD(src, srcAug, 1e-3); !errors.Is(err, dynamo.ErrNumerical) {
		t.Errorf("no flip mode: got %v, want numerical error", err)
	}
}

func TestCycleTestFunctions(t *testing.T) {
	before := TestsFromMultipliers([]complex128{1, complex(-0.9, 0)})
	after := TestsFromMultipliers([]complex128{1, complex(-1.1, 0)})
	if before.PeriodDoubling <= 0 || after.PeriodDoubling >= 0 {
		t.Errorf("flip test did not change sign: %v -> %v", before.PeriodDoubling, after.PeriodDoubling)
	}
	tv := TestsFromMultipliers([]complex128{1, complex(0.5, 0)})
	if math.Abs(tv.CycleFold-(-0.5)) > 1e-12 {
		t.Errorf("cycle fold test %v, want -0.5 with the trivial multiplier excluded", tv.CycleFold)
	}
	if tv.Fold != 1 || tv.Hopf != 1 || tv.NeutralSaddle != 1 {
		t.Errorf("equilibrium slots %v, want untouched", tv)
	}
	ns := TestsFromMultipliers([]complex128{1, complex(0.6, 0.9), complex(0.6, -0.9)})
	wantNS := 0.6*0.6 + 0.9*0.9 - 1
	if math.Abs(ns.NeimarkSacker-wantNS) > 1e-12 {
		t.Errorf("torus test %v, want %v", ns.NeimarkSacker, wantNS)
	}
}

func TestTrivialIndex(t *testing.T) {
	vals := []complex128{complex(0.3, 0), complex(1.02, 0), complex(-1, 0)}
	if got := TrivialIndex(vals); got != 1 {
		t.Errorf("TrivialIndex = %d, want 1", got)
	}
}

func TestStabilityExcludesTrivial(t *testing.T) {
	if !StableFromMultipliers([]complex128{1, complex(0.5, 0)}) {
		t.Error("contracting cycle reported unstable")
	}
	if StableFromMultipliers([]complex128{1, complex(1.5, 0)}) {
		t.Error("expanding cycle reported stable")
	}
}
