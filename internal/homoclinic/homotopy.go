package homoclinic

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/avoura/bifurc/internal/cont"
	"github.com/avoura/bifurc/internal/dynamo"
	"github.com/avoura/bifurc/internal/linalg"
)

// Homotopy stages. The run starts at a saddle equilibrium with a
// short segment along the unstable direction and tightens the
// connection in four stages: A and B drive the primary parameter
// until the endpoint projections onto the unstable directions nearly
// vanish, C shrinks eps1 while the parameter adjusts, D is the
// converged connection ready for regular continuation.
type HomotopyStage int

const (
	StageA HomotopyStage = iota
	StageB
	StageC
	StageD
)

func (s HomotopyStage) String() string {
	switch s {
	case StageA:
		return "A"
	case StageB:
		return "B"
	case StageC:
		return "C"
	case StageD:
		return "D"
	}
	return "?"
}

type HomotopySettings struct {
	Step           float64 `json:"step"`
	MaxSteps       int     `json:"max_steps"`
	CorrectorSteps int     `json:"corrector_steps"`
	CorrectorTol   float64 `json:"corrector_tol"`
	Eps1Tol        float64 `json:"eps1_tol"`
	TimeGrowth     float64 `json:"time_growth"`
}

func DefaultHomotopySettings() HomotopySettings {
	return HomotopySettings{
		Step:           0.01,
		MaxSteps:       400,
		CorrectorSteps: 12,
		CorrectorTol:   1e-8,
		Eps1Tol:        1e-5,
		TimeGrowth:     1.02,
	}
}

func (s HomotopySettings) validate() error {
	if s.Step == 0 {
		return dynamo.Configf("homotopy step must be nonzero")
	}
	if s.MaxSteps <= 0 || s.CorrectorSteps <= 0 {
		return dynamo.Configf("homotopy step counts must be positive")
	}
	if s.CorrectorTol <= 0 || s.Eps1Tol <= 0 {
		return dynamo.Configf("homotopy tolerances must be positive")
	}
	if s.TimeGrowth < 1 {
		return dynamo.Configf("homotopy time growth must be at least 1")
	}
	return nil
}

// eps1 shrink factors per stage.
var homotopyShrink = map[HomotopyStage]float64{
	StageA: 0.92,
	StageB: 0.88,
	StageC: 0.75,
}

// Homotopy grows a homoclinic connection out of a saddle equilibrium.
// It is progressive like the arclength runner: advance in batches,
// collect the branch once done.
type Homotopy struct {
	prob     *Problem
	settings HomotopySettings

	aug      []float64
	stage    HomotopyStage
	steps    int
	done     bool
	reason   string
	consumed bool

	points  []cont.Point
	bifs    []cont.Bifurcation
	indices []int
}

func NewHomotopy(sys dynamo.System, setup *Setup, settings HomotopySettings) (*Homotopy, error) {
	if err := settings.validate(); err != nil {
		return nil, err
	}
	if !setup.FreeTime || !setup.FreeEps1 || setup.FreeEps0 {
		return nil, dynamo.Configf("homotopy requires a saddle seed with time and eps1 freed")
	}
	prob, err := NewProblem(sys, setup)
	if err != nil {
		return nil, err
	}
	p1v, err := sys.Param(setup.Param1)
	if err != nil {
		return nil, err
	}
	p2v, err := sys.Param(setup.Param2)
	if err != nil {
		return nil, err
	}
	h := &Homotopy{prob: prob, settings: settings, stage: StageA}
	h.aug = setup.SeedAug(p1v, p2v)
	if err := h.appendPoint(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Homotopy) Stage() HomotopyStage { return h.stage }
func (h *Homotopy) Done() bool           { return h.done }
func (h *Homotopy) Reason() string       { return h.reason }

func (h *Homotopy) timeIdx() int { return h.prob.extrasOff() }
func (h *Homotopy) eps1Idx() int { return h.prob.extrasOff() + 1 }

// RunSteps advances up to n homotopy steps.
func (h *Homotopy) RunSteps(n int) (cont.StepResult, error) {
	for i := 0; i < n && !h.done; i++ {
		if err := h.stepOnce(); err != nil {
			h.done = true
			h.reason = "error"
			return h.progress(), err
		}
		h.steps++
		if h.steps >= h.settings.MaxSteps && !h.done {
			h.done = true
			h.reason = "max_steps"
		}
	}
	return h.progress(), nil
}

func (h *Homotopy) progress() cont.StepResult {
	return cont.StepResult{StepsTaken: h.steps, TotalSteps: h.settings.MaxSteps, Done: h.done}
}

func (h *Homotopy) stepOnce() error {
	trial := append([]float64(nil), h.aug...)
	frozen := 0
	shrink := homotopyShrink[h.stage]
	switch h.stage {
	case StageA, StageB:
		// the parameter drives, eps1 relaxes as a predictor nudge
		trial[0] += h.settings.Step
		trial[h.eps1Idx()] *= shrink
	case StageC:
		// eps1 drives down, the parameter is free
		trial[h.eps1Idx()] *= shrink
		trial[h.timeIdx()] *= h.settings.TimeGrowth
		frozen = h.eps1Idx()
	}

	if err := h.correct(trial, frozen); err != nil {
		h.done = true
		h.reason = "no_convergence"
		return nil
	}
	h.aug = trial
	if err := h.prob.UpdateAfterStep(h.aug); err != nil {
		return err
	}
	if err := h.appendPoint(); err != nil {
		return err
	}
	h.advanceStage()
	return nil
}

// correct runs damped Newton on the augmented vector with one
// coordinate held fixed.
func (h *Homotopy) correct(aug []float64, frozen int) error {
	d := h.prob.Dim()
	res := make([]float64, d)
	ext := mat.NewDense(d, d+1, nil)
	sq := mat.NewDense(d, d, nil)
	for it := 0; it < h.settings.CorrectorSteps; it++ {
		if err := h.prob.Residual(aug, res); err != nil {
			return err
		}
		if norm(res) < h.settings.CorrectorTol {
			return nil
		}
		if err := h.prob.ExtJacobian(aug, ext); err != nil {
			return err
		}
		for i := 0; i < d; i++ {
			col := 0
			for j := 0; j <= d; j++ {
				if j == frozen {
					continue
				}
				sq.Set(i, col, ext.At(i, j))
				col++
			}
		}
		rhs := make([]float64, d)
		for i := range rhs {
			rhs[i] = -res[i]
		}
		delta, err := linalg.Solve(sq, rhs)
		if err != nil {
			return err
		}
		damp := 1.0
		if n := norm(delta); n > 1 {
			damp = 0.5 / n
		}
		col := 0
		for j := 0; j <= d; j++ {
			if j == frozen {
				continue
			}
			aug[j] += damp * delta[col]
			col++
		}
	}
	if err := h.prob.Residual(aug, res); err != nil {
		return err
	}
	if norm(res) < 10*h.settings.CorrectorTol {
		return nil
	}
	return dynamo.NotConvergedf("homotopy corrector stalled at residual %g", norm(res))
}

// sProduct is the product of the endpoint projections onto the
// unstable directions. It vanishes when the endpoint has entered the
// stable cone.
func (h *Homotopy) sProduct() float64 {
	s := h.prob.setup
	un := h.prob.meshAt(h.aug, s.Ntst)
	x0 := h.prob.x0At(h.aug)
	prod := 1.0
	for j := 0; j < s.NPos; j++ {
		proj := 0.0
		for i := 0; i < s.Dim; i++ {
			proj += (un[i] - x0[i]) * s.BasisU.At(i, j)
		}
		prod *= math.Abs(proj)
	}
	return prod
}

func (h *Homotopy) advanceStage() {
	switch h.stage {
	case StageA:
		if h.sProduct() <= 1e-3 {
			h.transition(StageB)
		}
	case StageB:
		if h.sProduct() <= 1e-6 {
			h.transition(StageC)
		}
	case StageC:
		if h.prob.eps1Of(h.aug) <= h.settings.Eps1Tol {
			h.transition(StageD)
			h.done = true
			h.reason = "homotopy_complete"
		}
	}
}

func (h *Homotopy) transition(next HomotopyStage) {
	h.stage = next
	h.bifs = append(h.bifs, cont.Bifurcation{
		PointIndex: len(h.points) - 1,
		Kind:       cont.None,
		KindName:   "homotopy_stage_" + next.String(),
	})
}

func (h *Homotopy) appendPoint() error {
	diag, err := h.prob.Diagnostics(h.aug)
	if err != nil {
		return err
	}
	state, pv := h.prob.Record(h.aug)
	h.points = append(h.points, cont.Point{
		State:       append(dynamo.State(nil), state...),
		ParamValue:  pv,
		Stable:      diag.Stable,
		Eigenvalues: cont.ToEigenvalues(diag.Eigenvalues),
	})
	h.indices = append(h.indices, len(h.indices))
	return nil
}

// Result delivers the branch. It can be consumed once.
func (h *Homotopy) Result() (*cont.Branch, error) {
	if h.consumed {
		return nil, dynamo.Invariantf("homotopy result already consumed")
	}
	h.consumed = true
	return &cont.Branch{
		Points:       h.points,
		Bifurcations: h.bifs,
		Indices:      h.indices,
		Type:         "homotopy_saddle",
		Meta:         h.prob.BranchMeta(),
	}, nil
}

func norm(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}
