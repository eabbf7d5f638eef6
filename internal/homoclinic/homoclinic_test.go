package homoclinic

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/avoura/bifurc/internal/dynamo"
)

// saddleSys is the decoupled linear saddle x' = a*x, y' = -b*y.
type saddleSys struct{ a, b float64 }

func (s *saddleSys) Dim() int             { return 2 }
func (s *saddleSys) ParamNames() []string { return []string{"a", "b"} }
func (s *saddleSys) Param(name string) (float64, error) {
	switch name {
	case "a":
		return s.a, nil
	case "b":
		return s.b, nil
	}
	return 0, dynamo.Configf("unknown parameter: %s", name)
}
func (s *saddleSys) SetParam(name string, v float64) error {
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
func (s *saddleSys) Eval(x, out dynamo.State) error {
	out[0] = s.a * x[0]
	out[1] = -s.b * x[1]
	return nil
}
func (s *saddleSys) Jacobian(x dynamo.State, dst *mat.Dense) error {
	dst.Set(0, 0, s.a)
	dst.Set(0, 1, 0)
	dst.Set(1, 0, 0)
	dst.Set(1, 1, -s.b)
	return nil
}
func (s *saddleSys) ParamDeriv(x dynamo.State, name string, dst dynamo.State) error {
	switch name {
	case "a":
		dst[0], dst[1] = x[0], 0
	case "b":
		dst[0], dst[1] = 0, -x[1]
	default:
		return dynamo.Configf("unknown parameter: %s", name)
	}
	return nil
}

func TestInvariantBasesSplitsSpectrum(t *testing.T) {
	jac := mat.NewDense(2, 2, []float64{1, 0, 0, -2})
	nneg, npos, basisU, basisS, err := invariantBases(jac)
	if err != nil {
		t.Fatalf("invariantBases: %v", err)
	}
	if nneg != 1 || npos != 1 {
		t.Fatalf("split = %d+%d, want 1+1", nneg, npos)
	}
	if got := math.Abs(basisU.At(0, 0)); math.Abs(got-1) > 1e-10 {
		t.Errorf("unstable frame leading column = (%g, %g), want +-e1", basisU.At(0, 0), basisU.At(1, 0))
	}
	if got := math.Abs(basisS.At(1, 0)); math.Abs(got-1) > 1e-10 {
		t.Errorf("stable frame leading column = (%g, %g), want +-e2", basisS.At(0, 0), basisS.At(1, 0))
	}
	// frames are orthonormal
	var g mat.Dense
	g.Mul(basisU.T(), basisU)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(g.At(i, j)-want) > 1e-12 {
				t.Errorf("gram(%d,%d) = %g, want %g", i, j, g.At(i, j), want)
			}
		}
	}
}

func TestFromSaddleSeedGeometry(t *testing.T) {
	sys := &saddleSys{a: 1, b: 1}
	setup, err := FromSaddle(sys, dynamo.State{0, 0}, 4, 2, "a", "b", 0.1, 0.05)
	if err != nil {
		t.Fatalf("FromSaddle: %v", err)
	}
	if !setup.FreeTime || !setup.FreeEps1 || setup.FreeEps0 {
		t.Errorf("freed extras = (%v, %v, %v), want time and eps1 only",
			setup.FreeTime, setup.FreeEps0, setup.FreeEps1)
	}
	if setup.Time != 1 {
		t.Errorf("seed half-window = %g, want 1", setup.Time)
	}
	if setup.NNeg != 1 || setup.NPos != 1 {
		t.Fatalf("split = %d+%d, want 1+1", setup.NNeg, setup.NPos)
	}
	d0 := distance(setup.Mesh[:2], setup.X0)
	if math.Abs(d0-0.1) > 1e-12 {
		t.Errorf("start distance = %g, want 0.1", d0)
	}
	d1 := distance(setup.Mesh[len(setup.Mesh)-2:], setup.X0)
	if math.Abs(d1-0.05) > 1e-12 {
		t.Errorf("end distance = %g, want 0.05", d1)
	}
}

func TestSeedAugLayout(t *testing.T) {
	sys := &saddleSys{a: 1, b: 1}
	setup, err := FromSaddle(sys, dynamo.State{0, 0}, 3, 2, "a", "b", 0.1, 0.05)
	if err != nil {
		t.Fatalf("FromSaddle: %v", err)
	}
	prob, err := NewProblem(sys, setup)
	if err != nil {
		t.Fatalf("NewProblem: %v", err)
	}
	aug := setup.SeedAug(0.5, 0.25)
	if len(aug) != prob.Dim()+1 {
		t.Fatalf("aug length = %d, want %d", len(aug), prob.Dim()+1)
	}
	if aug[0] != 0.5 {
		t.Errorf("aug[0] = %g, want the first parameter 0.5", aug[0])
	}
	if got := aug[prob.p2Index()]; got != 0.25 {
		t.Errorf("second parameter slot = %g, want 0.25", got)
	}
	if got := aug[prob.extrasOff()]; got != setup.Time {
		t.Errorf("freed time slot = %g, want %g", got, setup.Time)
	}
	if got := aug[prob.extrasOff()+1]; got != setup.Eps1 {
		t.Errorf("freed eps1 slot = %g, want %g", got, setup.Eps1)
	}
	for i := prob.riccatiOff(); i < len(aug); i++ {
		if aug[i] != 0 {
			t.Fatalf("riccati seed at %d = %g, want 0", i, aug[i])
		}
	}
	yu, ys, err := setup.DecodeRiccati(aug[1:])
	if err != nil {
		t.Fatalf("DecodeRiccati: %v", err)
	}
	if len(yu) != setup.NNeg*setup.NPos || len(ys) != setup.NNeg*setup.NPos {
		t.Errorf("riccati blocks %dx%d, want %d entries each", len(yu), len(ys), setup.NNeg*setup.NPos)
	}
	if _, _, err := setup.DecodeRiccati(aug); !errors.Is(err, dynamo.ErrInvariant) {
		t.Errorf("DecodeRiccati on wrong length: err = %v, want invariant violation", err)
	}
}

func TestResidualVanishesOnStructuralRows(t *testing.T) {
	sys := &saddleSys{a: 1, b: 1}
	setup, err := FromSaddle(sys, dynamo.State{0, 0}, 4, 2, "a", "b", 0.1, 0.05)
	if err != nil {
		t.Fatalf("FromSaddle: %v", err)
	}
	prob, err := NewProblem(sys, setup)
	if err != nil {
		t.Fatalf("NewProblem: %v", err)
	}
	aug := setup.SeedAug(1, 1)
	res := make([]float64, prob.Dim())
	if err := prob.Residual(aug, res); err != nil {
		t.Fatalf("Residual: %v", err)
	}
	// at the straight-segment seed the saddle, phase, Riccati,
	// projection and distance rows are exact zeros; only the
	// collocation and continuity rows carry discretization error
	offset := setup.Ntst*setup.Ncol*setup.Dim + setup.Ntst*setup.Dim
	for i := offset; i < len(res); i++ {
		if math.Abs(res[i]) > 1e-10 {
			t.Errorf("structural row %d = %g, want 0", i, res[i])
		}
	}
	if prob.BranchType() != "homoclinic" {
		t.Errorf("branch type = %q, want homoclinic", prob.BranchType())
	}
	meta := prob.BranchMeta()
	if meta.Param != "a" || meta.Param2 != "b" || meta.Ntst != 4 || meta.Ncol != 2 {
		t.Errorf("branch meta = %+v", meta)
	}
	state, pv := prob.Record(aug)
	if pv != 1 || len(state) != prob.Dim() {
		t.Errorf("record = (%d values, %g), want (%d, 1)", len(state), pv, prob.Dim())
	}
}

func TestFromSaddleRejectsNonSaddle(t *testing.T) {
	sys := &saddleSys{a: -1, b: 1}
	if _, err := FromSaddle(sys, dynamo.State{0, 0}, 4, 2, "a", "b", 0.1, 0.05); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("node point: err = %v, want config error", err)
	}
}

func TestFromCycleValidation(t *testing.T) {
	sys := &saddleSys{a: 1, b: 1}
	if _, err := FromCycle(sys, nil, 4, 2, 4, 2, "a", "a"); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("duplicate parameters: err = %v, want config error", err)
	}
	if _, err := FromCycle(sys, dynamo.State{1, 2, 3}, 4, 2, 4, 2, "a", "b"); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("short cycle state: err = %v, want config error", err)
	}
	if _, err := FromCycle(sys, nil, 1, 2, 4, 2, "a", "b"); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("single source interval: err = %v, want config error", err)
	}
}

func TestHomotopySettingsValidation(t *testing.T) {
	s := DefaultHomotopySettings()
	s.Step = 0
	if err := s.validate(); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("zero step: err = %v, want config error", err)
	}
	s = DefaultHomotopySettings()
	s.Eps1Tol = 0
	if err := s.validate(); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("zero eps1 tolerance: err = %v, want config error", err)
	}
	s = DefaultHomotopySettings()
	s.TimeGrowth = 0.9
	if err := s.validate(); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("shrinking time growth: err = %v, want config error", err)
	}
}

func TestHomotopyRequiresSaddleSeed(t *testing.T) {
	sys := &saddleSys{a: 1, b: 1}
	setup, err := FromSaddle(sys, dynamo.State{0, 0}, 4, 2, "a", "b", 0.1, 0.05)
	if err != nil {
		t.Fatalf("FromSaddle: %v", err)
	}
	setup.FreeTime = false
	if _, err := NewHomotopy(sys, setup, DefaultHomotopySettings()); !errors.Is(err, dynamo.ErrConfig) {
		t.Errorf("fixed time seed: err = %v, want config error", err)
	}
}

func TestHomotopyProgressAndResult(t *testing.T) {
	sys := &saddleSys{a: 1, b: 1}
	setup, err := FromSaddle(sys, dynamo.State{0, 0}, 4, 2, "a", "b", 0.1, 0.05)
	if err != nil {
		t.Fatalf("FromSaddle: %v", err)
	}
	settings := DefaultHomotopySettings()
	settings.MaxSteps = 2
	h, err := NewHomotopy(sys, setup, settings)
	if err != nil {
		t.Fatalf("NewHomotopy: %v", err)
	}
	if h.Stage() != StageA {
		t.Errorf("initial stage = %v, want A", h.Stage())
	}
	pr, err := h.RunSteps(2)
	if err != nil {
		t.Fatalf("RunSteps: %v", err)
	}
	if !pr.Done && pr.StepsTaken != 2 {
		t.Errorf("progress = %+v", pr)
	}
	br, err := h.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if br.Type != "homotopy_saddle" {
		t.Errorf("branch type = %q, want homotopy_saddle", br.Type)
	}
	if len(br.Points) == 0 {
		t.Fatal("branch has no points")
	}
	if len(br.Indices) != len(br.Points) {
		t.Errorf("indices %d, points %d", len(br.Indices), len(br.Points))
	}
	if _, err := h.Result(); !errors.Is(err, dynamo.ErrInvariant) {
		t.Errorf("second Result: err = %v, want invariant violation", err)
	}
}
