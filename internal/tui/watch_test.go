package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/avoura/bifurc/internal/cont"
	"github.com/avoura/bifurc/internal/dynamo"
)

// scriptedRunner hands out a fixed sequence of step results.
type scriptedRunner struct {
	script []cont.StepResult
	errAt  int
	calls  int
	branch *cont.Branch
}

func (s *scriptedRunner) RunSteps(batch int) (cont.StepResult, error) {
	if s.errAt > 0 && s.calls+1 == s.errAt {
		s.calls++
		return cont.StepResult{Done: true}, dynamo.Numericalf("corrector diverged")
	}
	res := s.script[s.calls]
	s.calls++
	return res, nil
}

func (s *scriptedRunner) Result() (*cont.Branch, error) {
	return s.branch, nil
}

func twoPointBranch() *cont.Branch {
	return &cont.Branch{
		Points: []cont.Point{
			{State: dynamo.State{1, 0}, ParamValue: -1},
			{State: dynamo.State{0.8, 0}, ParamValue: -0.64},
		},
		Indices: []int{0, 1},
		Type:    "equilibrium",
		Meta:    cont.BranchMeta{Param: "p"},
	}
}

func runMsg(t *testing.T, m *Model, msg tea.Msg) tea.Cmd {
	t.Helper()
	next, cmd := m.Update(msg)
	if next.(*Model) != m {
		t.Fatal("update replaced the model")
	}
	return cmd
}

func TestModelStepsUntilDone(t *testing.T) {
	r := &scriptedRunner{
		script: []cont.StepResult{
			{StepsTaken: 10, TotalSteps: 20},
			{StepsTaken: 20, TotalSteps: 20, Done: true},
		},
		branch: twoPointBranch(),
	}
	m := NewModel("saddle_node", r, 10)

	cmd := m.Init()
	if cmd == nil {
		t.Fatal("init issued no step command")
	}
	cmd = runMsg(t, m, cmd())
	if cmd == nil {
		t.Fatal("mid-run update should issue the next batch")
	}
	if m.Branch() != nil {
		t.Error("branch consumed before the run finished")
	}
	runMsg(t, m, cmd())
	if m.Branch() == nil {
		t.Fatal("finished run has no branch")
	}
	if m.Err() != nil {
		t.Errorf("unexpected error: %v", m.Err())
	}
	if r.calls != 2 {
		t.Errorf("runner called %d times, want 2", r.calls)
	}
}

func TestModelStopsOnRunnerError(t *testing.T) {
	r := &scriptedRunner{errAt: 1, branch: twoPointBranch()}
	m := NewModel("run", r, 5)
	runMsg(t, m, m.Init()())
	if m.Err() == nil {
		t.Fatal("runner error was dropped")
	}
	if m.Branch() == nil {
		t.Error("partial branch not kept after error")
	}
	if !strings.Contains(m.View(), "corrector diverged") {
		t.Error("view does not surface the error")
	}
}

func TestModelQuitWaitsForBatch(t *testing.T) {
	r := &scriptedRunner{
		script: []cont.StepResult{{StepsTaken: 10, TotalSteps: 100}},
		branch: twoPointBranch(),
	}
	m := NewModel("run", r, 10)
	cmd := m.Init()

	if quit := runMsg(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}); quit != nil {
		t.Error("quit with a batch in flight should wait for its result")
	}
	runMsg(t, m, cmd())
	if m.Branch() == nil {
		t.Error("quit run should keep the partial branch")
	}
	if r.calls != 1 {
		t.Errorf("runner called %d times after quit, want 1", r.calls)
	}
}

func TestViewShowsProgressAndBifurcations(t *testing.T) {
	r := &scriptedRunner{
		script: []cont.StepResult{{StepsTaken: 20, TotalSteps: 20, Done: true}},
	}
	br := twoPointBranch()
	br.Bifurcations = []cont.Bifurcation{{PointIndex: 1, Kind: cont.Fold, KindName: "fold"}}
	r.branch = br

	m := NewModel("saddle_node", r, 20)
	view := m.View()
	if !strings.Contains(view, "step 0/0") && !strings.Contains(view, "step") {
		t.Error("view missing the step counter")
	}
	runMsg(t, m, m.Init()())
	view = m.View()
	if !strings.Contains(view, "fold") {
		t.Error("finished view does not list the fold")
	}
	if !strings.Contains(view, "step 20/20") {
		t.Error("finished view does not show the final step count")
	}
}
