// Package cont implements pseudo-arclength continuation: a predictor-
// corrector runner generic over a bordered problem, with test-function
// monitoring and secant-seeded bifurcation refinement.
package cont

import (
	"math"

	"github.com/avoura/bifurc/internal/dynamo"
)

// BifurcationType labels a detected codimension-one bifurcation.
type BifurcationType int

const (
	None BifurcationType = iota
	Fold
	Hopf
	NeutralSaddle
	CycleFold
	PeriodDoubling
	NeimarkSacker
	CodimTwo
)

func (b BifurcationType) String() string {
	switch b {
	case Fold:
		return "fold"
	case Hopf:
		return "hopf"
	case NeutralSaddle:
		return "neutral_saddle"
	case CycleFold:
		return "cycle_fold"
	case PeriodDoubling:
		return "period_doubling"
	case NeimarkSacker:
		return "neimark_sacker"
	case CodimTwo:
		return "codim2"
	}
	return "none"
}

// detectable lists the monitored slots in detection order.
var detectable = []BifurcationType{
	Fold, Hopf, NeutralSaddle, CycleFold, PeriodDoubling, NeimarkSacker,
}

// TestValues carries one scalar per monitored bifurcation. Problems
// fill their own triple and leave the other at 1, so the untouched
// slots can never produce a sign change.
type TestValues struct {
	Fold           float64 `json:"fold"`
	Hopf           float64 `json:"hopf"`
	NeutralSaddle  float64 `json:"neutral_saddle"`
	CycleFold      float64 `json:"cycle_fold"`
	PeriodDoubling float64 `json:"period_doubling"`
	NeimarkSacker  float64 `json:"neimark_sacker"`
}

func EquilibriumTests(fold, hopf, neutral float64) TestValues {
	return TestValues{
		Fold: fold, Hopf: hopf, NeutralSaddle: neutral,
		CycleFold: 1, PeriodDoubling: 1, NeimarkSacker: 1,
	}
}

func LimitCycleTests(cycleFold, pd, ns float64) TestValues {
	return TestValues{
		Fold: 1, Hopf: 1, NeutralSaddle: 1,
		CycleFold: cycleFold, PeriodDoubling: pd, NeimarkSacker: ns,
	}
}

func (tv TestValues) ValueFor(kind BifurcationType) float64 {
	switch kind {
	case Fold:
		return tv.Fold
	case Hopf:
		return tv.Hopf
	case NeutralSaddle:
		return tv.NeutralSaddle
	case CycleFold:
		return tv.CycleFold
	case PeriodDoubling:
		return tv.PeriodDoubling
	case NeimarkSacker:
		return tv.NeimarkSacker
	}
	return 1
}

// InertTests fills every slot with 1 for problems that monitor no
// codimension-one test functions. Two-parameter curves use it and
// carry their own named scalar set instead.
func InertTests() TestValues {
	return TestValues{
		Fold: 1, Hopf: 1, NeutralSaddle: 1,
		CycleFold: 1, PeriodDoubling: 1, NeimarkSacker: 1,
	}
}

func (tv TestValues) IsFinite() bool {
	for _, v := range []float64{tv.Fold, tv.Hopf, tv.NeutralSaddle, tv.CycleFold, tv.PeriodDoubling, tv.NeimarkSacker} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// CodimTwoType labels a codimension-two point detected along a
// two-parameter curve.
type CodimTwoType int

const (
	Cusp CodimTwoType = iota
	BogdanovTakens
	ZeroHopf
	DoubleHopf
	GeneralizedHopf
	CuspOfCycles
	FoldFlip
	FoldNeimarkSacker
	FlipNeimarkSacker
	DoubleNeimarkSacker
	GeneralizedPeriodDoubling
	Chenciner
	Resonance11
	Resonance12
	Resonance13
	Resonance14
)

func (c CodimTwoType) String() string {
	switch c {
	case Cusp:
		return "cusp"
	case BogdanovTakens:
		return "bogdanov_takens"
	case ZeroHopf:
		return "zero_hopf"
	case DoubleHopf:
		return "double_hopf"
	case GeneralizedHopf:
		return "generalized_hopf"
	case CuspOfCycles:
		return "cusp_of_cycles"
	case FoldFlip:
		return "fold_flip"
	case FoldNeimarkSacker:
		return "fold_ns"
	case FlipNeimarkSacker:
		return "flip_ns"
	case DoubleNeimarkSacker:
		return "double_ns"
	case GeneralizedPeriodDoubling:
		return "gpd"
	case Chenciner:
		return "chenciner"
	case Resonance11:
		return "resonance_1_1"
	case Resonance12:
		return "resonance_1_2"
	case Resonance13:
		return "resonance_1_3"
	case Resonance14:
		return "resonance_1_4"
	}
	return "none"
}

// codimTwoDetectable lists the monitored slots in detection order.
var codimTwoDetectable = []CodimTwoType{
	Cusp, BogdanovTakens, ZeroHopf, DoubleHopf, GeneralizedHopf,
	CuspOfCycles, FoldFlip, FoldNeimarkSacker, FlipNeimarkSacker,
	DoubleNeimarkSacker, GeneralizedPeriodDoubling, Chenciner,
	Resonance11, Resonance12, Resonance13, Resonance14,
}

// CurveTests carries one scalar per codimension-two point type
// monitored along a two-parameter curve. Slots the curve does not
// monitor stay zero and can never produce a sign change.
type CurveTests struct {
	Cusp            float64 `json:"cusp,omitempty"`
	BogdanovTakens  float64 `json:"bogdanov_takens,omitempty"`
	ZeroHopf        float64 `json:"zero_hopf,omitempty"`
	DoubleHopf      float64 `json:"double_hopf,omitempty"`
	GeneralizedHopf float64 `json:"generalized_hopf,omitempty"`
	CuspOfCycles    float64 `json:"cusp_of_cycles,omitempty"`
	FoldFlip        float64 `json:"fold_flip,omitempty"`
	FoldNS          float64 `json:"fold_ns,omitempty"`
	FlipNS          float64 `json:"flip_ns,omitempty"`
	DoubleNS        float64 `json:"double_ns,omitempty"`
	GPD             float64 `json:"gpd,omitempty"`
	Chenciner       float64 `json:"chenciner,omitempty"`
	R1              float64 `json:"resonance_1_1,omitempty"`
	R2              float64 `json:"resonance_1_2,omitempty"`
	R3              float64 `json:"resonance_1_3,omitempty"`
	R4              float64 `json:"resonance_1_4,omitempty"`
}

func (ct CurveTests) ValueFor(kind CodimTwoType) float64 {
	switch kind {
	case Cusp:
		return ct.Cusp
	case BogdanovTakens:
		return ct.BogdanovTakens
	case ZeroHopf:
		return ct.ZeroHopf
	case DoubleHopf:
		return ct.DoubleHopf
	case GeneralizedHopf:
		return ct.GeneralizedHopf
	case CuspOfCycles:
		return ct.CuspOfCycles
	case FoldFlip:
		return ct.FoldFlip
	case FoldNeimarkSacker:
		return ct.FoldNS
	case FlipNeimarkSacker:
		return ct.FlipNS
	case DoubleNeimarkSacker:
		return ct.DoubleNS
	case GeneralizedPeriodDoubling:
		return ct.GPD
	case Chenciner:
		return ct.Chenciner
	case Resonance11:
		return ct.R1
	case Resonance12:
		return ct.R2
	case Resonance13:
		return ct.R3
	case Resonance14:
		return ct.R4
	}
	return 0
}

// Eigenvalue is a JSON-friendly complex number.
type Eigenvalue struct {
	Re float64 `json:"re"`
	Im float64 `json:"im"`
}

func ToEigenvalues(vals []complex128) []Eigenvalue {
	out := make([]Eigenvalue, len(vals))
	for i, v := range vals {
		out[i] = Eigenvalue{Re: real(v), Im: imag(v)}
	}
	return out
}

func (e Eigenvalue) Complex() complex128 { return complex(e.Re, e.Im) }

// Point is one accepted continuation point. State excludes the
// continuation parameter, which is recorded separately.
type Point struct {
	State       dynamo.State   `json:"state"`
	ParamValue  float64        `json:"param_value"`
	Stable      bool           `json:"stable"`
	Eigenvalues []Eigenvalue   `json:"eigenvalues,omitempty"`
	CyclePoints []dynamo.State `json:"cycle_points,omitempty"`
	CurveTests  *CurveTests    `json:"curve_tests,omitempty"`
}

// Bifurcation marks a refined bifurcation point within a branch.
type Bifurcation struct {
	PointIndex int             `json:"point_index"`
	Kind       BifurcationType `json:"kind"`
	KindName   string          `json:"kind_name"`
}

// BranchMeta carries whatever a branch needs to be resumed later:
// the collocation layout for cycles, the active parameter names for
// two-parameter curves, and the frozen phase constants.
type BranchMeta struct {
	Ntst        int     `json:"ntst,omitempty"`
	Ncol        int     `json:"ncol,omitempty"`
	Param       string  `json:"param,omitempty"`
	Param2      string  `json:"param2,omitempty"`
	PhaseRef    float64 `json:"phase_ref,omitempty"`
	PhaseAnchor float64 `json:"phase_anchor,omitempty"`
}

// Branch is the delivered result of a continuation run. Indices
// parallels Points with signed step indices: the seed is 0, forward
// steps count up, backward steps count down, so an extended branch
// keeps a consistent ordering.
type Branch struct {
	Points       []Point       `json:"points"`
	Bifurcations []Bifurcation `json:"bifurcations"`
	Indices      []int         `json:"indices"`
	Type         string        `json:"type"`
	Upoldp       []float64     `json:"upoldp,omitempty"`
	Meta         BranchMeta    `json:"meta,omitempty"`
}

// Validate checks the structural invariants a stored branch must
// satisfy before it can be resumed.
func (b *Branch) Validate() error {
	if len(b.Indices) != len(b.Points) {
		return dynamo.Invariantf("branch index count %d does not match point count %d", len(b.Indices), len(b.Points))
	}
	seen := make(map[int]bool, len(b.Indices))
	for _, idx := range b.Indices {
		if seen[idx] {
			return dynamo.Invariantf("signed index %d appears more than once", idx)
		}
		seen[idx] = true
	}
	for _, bif := range b.Bifurcations {
		if bif.PointIndex < 0 || bif.PointIndex >= len(b.Points) {
			return dynamo.Invariantf("bifurcation position %d outside branch of %d points", bif.PointIndex, len(b.Points))
		}
	}
	return nil
}

// Endpoint returns the position of the point with the extremal signed
// index in the given direction.
func (b *Branch) Endpoint(forward bool) int {
	if len(b.Indices) == 0 {
		return -1
	}
	best := 0
	for i, idx := range b.Indices {
		if forward && idx > b.Indices[best] {
			best = i
		}
		if !forward && idx < b.Indices[best] {
			best = i
		}
	}
	return best
}

// Settings controls the predictor-corrector loop.
type Settings struct {
	StepSize       float64 `json:"step_size" yaml:"step_size"`
	MinStepSize    float64 `json:"min_step_size" yaml:"min_step_size"`
	MaxStepSize    float64 `json:"max_step_size" yaml:"max_step_size"`
	MaxSteps       int     `json:"max_steps" yaml:"max_steps"`
	CorrectorSteps int     `json:"corrector_steps" yaml:"corrector_steps"`
	CorrectorTol   float64 `json:"corrector_tolerance" yaml:"corrector_tolerance"`
	StepTol        float64 `json:"step_tolerance" yaml:"step_tolerance"`
}

func DefaultSettings() Settings {
	return Settings{
		StepSize:       0.01,
		MinStepSize:    1e-6,
		MaxStepSize:    0.1,
		MaxSteps:       100,
		CorrectorSteps: 10,
		CorrectorTol:   1e-8,
		StepTol:        1e-8,
	}
}

func (s Settings) Validate() error {
	if s.StepSize <= 0 {
		return dynamo.Configf("step size must be positive")
	}
	if s.MinStepSize <= 0 || s.MinStepSize > s.StepSize {
		return dynamo.Configf("min step size must be positive and not exceed the step size")
	}
	if s.MaxStepSize < s.StepSize {
		return dynamo.Configf("max step size must not be below the step size")
	}
	if s.MaxSteps <= 0 {
		return dynamo.Configf("max steps must be positive")
	}
	if s.CorrectorSteps <= 0 {
		return dynamo.Configf("corrector steps must be positive")
	}
	if s.CorrectorTol <= 0 {
		return dynamo.Configf("corrector tolerance must be positive")
	}
	if s.StepTol <= 0 {
		return dynamo.Configf("step tolerance must be positive")
	}
	return nil
}
