package cont

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/avoura/bifurc/internal/dynamo"
	"github.com/avoura/bifurc/internal/linalg"
)

const maxConsecutiveFailures = 20

// StepResult reports batch progress for progressive callers.
type StepResult struct {
	StepsTaken int  `json:"steps_taken"`
	TotalSteps int  `json:"total_steps"`
	Done       bool `json:"done"`
}

// Runner drives pseudo-arclength continuation over a Problem. It is
// progressive: callers advance it in batches and collect the branch
// once Done reports true.
type Runner struct {
	problem  Problem
	settings Settings
	forward  bool

	cur     []float64
	lastAug []float64
	prevTan []float64
	step    float64

	points  []Point
	indices []int
	bifs    []Bifurcation

	lastDiag   *Diagnostics
	taken      int
	nextIndex  int
	consecFail int
	done       bool
	reason     string
	consumed   bool

	base *Branch
}

// NewRunner starts a fresh continuation from seed, an augmented
// vector of length Dim()+1 with the continuation parameter last. The
// seed is recorded as the branch point with signed index 0.
func NewRunner(p Problem, seed []float64, settings Settings, forward bool) (*Runner, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	d := p.Dim()
	if len(seed) != d+1 {
		return nil, dynamo.Configf("seed length %d does not match problem dimension %d", len(seed), d+1)
	}
	r := &Runner{
		problem:  p,
		settings: settings,
		forward:  forward,
		cur:      append([]float64(nil), seed...),
		step:     settings.StepSize,
	}
	diag, err := p.Diagnostics(r.cur)
	if err != nil {
		return nil, err
	}
	r.appendPoint(r.cur, &diag, 0)
	r.lastAug = append([]float64(nil), r.cur...)
	r.lastDiag = &diag
	if r.forward {
		r.nextIndex = 1
	} else {
		r.nextIndex = -1
	}
	return r, nil
}

// NewExtensionRunner continues an existing branch past its extremal
// point in the given direction. The delivered branch merges the base
// with the newly computed points.
func NewExtensionRunner(p Problem, base *Branch, settings Settings, forward bool) (*Runner, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if err := base.Validate(); err != nil {
		return nil, err
	}
	end := base.Endpoint(forward)
	if end < 0 {
		return nil, dynamo.Configf("cannot extend an empty branch")
	}
	d := p.Dim()
	endPoint := base.Points[end]
	aug, err := buildAug(p, endPoint)
	if err != nil {
		return nil, err
	}
	if len(aug) != d+1 {
		return nil, dynamo.Invariantf("branch state dimension %d does not match problem dimension %d", len(aug), d+1)
	}

	r := &Runner{
		problem:  p,
		settings: settings,
		forward:  forward,
		cur:      aug,
		step:     settings.StepSize,
		base:     base,
	}
	diag, err := p.Diagnostics(aug)
	if err != nil {
		return nil, err
	}
	r.lastAug = append([]float64(nil), aug...)
	r.lastDiag = &diag

	// secant from the neighboring index seeds the tangent orientation
	endIdx := base.Indices[end]
	var wantNeighbor int
	if forward {
		wantNeighbor = endIdx - 1
	} else {
		wantNeighbor = endIdx + 1
	}
	for i, idx := range base.Indices {
		if idx == wantNeighbor {
			naug, err := buildAug(p, base.Points[i])
			if err != nil || len(naug) != d+1 {
				break
			}
			sec := make([]float64, d+1)
			for j := range sec {
				sec[j] = aug[j] - naug[j]
			}
			if normalize(sec) {
				r.prevTan = sec
			}
			break
		}
	}
	if forward {
		r.nextIndex = endIdx + 1
	} else {
		r.nextIndex = endIdx - 1
	}
	return r, nil
}

// Done reports whether the run has finished.
func (r *Runner) Done() bool { return r.done }

// Progress reports accepted steps against the step budget.
func (r *Runner) Progress() (int, int) { return r.taken, r.settings.MaxSteps }

// FinishReason names why the run stopped. Empty while running.
func (r *Runner) FinishReason() string { return r.reason }

// RunSteps advances the continuation by at most batch accepted or
// rejected predictor-corrector attempts.
func (r *Runner) RunSteps(batch int) (StepResult, error) {
	for i := 0; i < batch && !r.done; i++ {
		if err := r.stepOnce(); err != nil {
			r.done = true
			r.reason = "error"
			return StepResult{r.taken, r.settings.MaxSteps, true}, err
		}
	}
	return StepResult{r.taken, r.settings.MaxSteps, r.done}, nil
}

func (r *Runner) stepOnce() error {
	if r.taken >= r.settings.MaxSteps {
		r.done = true
		r.reason = "completed"
		return nil
	}

	tan, err := Tangent(r.problem, r.cur, r.prevTan)
	if err != nil {
		return err
	}
	if r.prevTan == nil {
		// orient the very first tangent along the requested direction
		// of the continuation parameter
		pi := r.problem.ParamIndex()
		if (r.forward && tan[pi] < 0) || (!r.forward && tan[pi] > 0) {
			for i := range tan {
				tan[i] = -tan[i]
			}
		}
	}

	pred := make([]float64, len(r.cur))
	for i := range pred {
		pred[i] = r.cur[i] + r.step*tan[i]
	}

	sol, err := r.correct(pred, tan)
	if err != nil {
		r.consecFail++
		r.step *= 0.5
		if r.step < r.settings.MinStepSize {
			r.done = true
			r.reason = "step_size_below_minimum"
		} else if r.consecFail >= maxConsecutiveFailures {
			r.done = true
			r.reason = "consecutive_failures"
		}
		return nil
	}

	r.consecFail = 0
	diag, err := r.problem.Diagnostics(sol)
	if err != nil {
		return err
	}

	sol, pd := r.detect(sol, &diag)

	idx := r.nextIndex
	r.appendPoint(sol, pd, idx)
	if r.forward {
		r.nextIndex++
	} else {
		r.nextIndex--
	}
	r.taken++

	r.cur = append(r.cur[:0], sol...)
	r.lastAug = append(r.lastAug[:0], sol...)
	r.lastDiag = pd
	r.prevTan = tan
	if err := r.problem.UpdateAfterStep(r.cur); err != nil {
		return err
	}

	r.step = math.Min(r.step*1.2, r.settings.MaxStepSize)
	if r.taken >= r.settings.MaxSteps {
		r.done = true
		r.reason = "completed"
	}
	return nil
}

// correct runs the bordered Newton corrector from the predictor,
// holding the iterate on the hyperplane orthogonal to the tangent.
func (r *Runner) correct(pred, tan []float64) ([]float64, error) {
	d := r.problem.Dim()
	n := d + 1
	cur := append([]float64(nil), pred...)
	res := make([]float64, d)
	jext := mat.NewDense(d, n, nil)
	m := mat.NewDense(n, n, nil)
	rhs := make([]float64, n)

	for it := 0; it < r.settings.CorrectorSteps; it++ {
		if err := r.problem.Residual(cur, res); err != nil {
			return nil, err
		}
		if vecNorm(res) < r.settings.CorrectorTol {
			return cur, nil
		}
		if err := r.problem.ExtJacobian(cur, jext); err != nil {
			return nil, err
		}
		for i := 0; i < d; i++ {
			for j := 0; j < n; j++ {
				m.Set(i, j, jext.At(i, j))
			}
			rhs[i] = -res[i]
		}
		planeDev := 0.0
		for j := 0; j < n; j++ {
			m.Set(d, j, tan[j])
			planeDev += tan[j] * (cur[j] - pred[j])
		}
		rhs[d] = -planeDev

		delta, err := linalg.Solve(m, rhs)
		if err != nil {
			return nil, err
		}
		dn := vecNorm(delta)
		if dn > 1 {
			scale := 0.5 / dn
			for i := range delta {
				delta[i] *= scale
			}
		}
		for i := range cur {
			cur[i] += delta[i]
		}
		if !allFinite(cur) {
			return nil, dynamo.Numericalf("corrector iterate became non-finite")
		}
		if dn < r.settings.StepTol {
			break
		}
	}

	if err := r.problem.Residual(cur, res); err != nil {
		return nil, err
	}
	// small slack on the final iterate
	if vecNorm(res) < 10*r.settings.CorrectorTol {
		return cur, nil
	}
	return nil, dynamo.NotConvergedf("corrector did not converge (residual %v)", vecNorm(res))
}

// detect scans the monitored test functions for sign changes between
// the previous accepted point and sol. A refined bifurcation point
// replaces the accepted point, so the branch keeps one point per
// signed index; if refinement fails the accepted point is flagged
// as-is.
func (r *Runner) detect(sol []float64, diag *Diagnostics) ([]float64, *Diagnostics) {
	prev := r.lastDiag
	if prev == nil {
		return sol, diag
	}
	out, outDiag := sol, diag
	if prev.Tests.IsFinite() && diag.Tests.IsFinite() {
		for _, kind := range detectable {
			gPrev := prev.Tests.ValueFor(kind)
			gNew := diag.Tests.ValueFor(kind)
			if gPrev == 0 || gNew == 0 || gPrev*gNew >= 0 {
				continue
			}
			if refined, rdiag, ok := r.refineBifurcation(kind, r.lastAug, sol, gPrev, gNew); ok {
				out, outDiag = refined, rdiag
			}
			r.bifs = append(r.bifs, Bifurcation{
				PointIndex: len(r.points),
				Kind:       kind,
				KindName:   kind.String(),
			})
		}
	}
	// codimension-two scalars along a curve are flagged at the accepted
	// point without Newton refinement
	if prev.Curve != nil && diag.Curve != nil {
		for _, kind := range codimTwoDetectable {
			gPrev := prev.Curve.ValueFor(kind)
			gNew := diag.Curve.ValueFor(kind)
			if !scalarFinite(gPrev) || !scalarFinite(gNew) || gPrev*gNew >= 0 {
				continue
			}
			r.bifs = append(r.bifs, Bifurcation{
				PointIndex: len(r.points),
				Kind:       CodimTwo,
				KindName:   kind.String(),
			})
		}
	}
	return out, outDiag
}

func (r *Runner) appendPoint(aug []float64, diag *Diagnostics, idx int) {
	state, param := r.problem.Record(aug)
	p := Point{
		State:       dynamo.State(append([]float64(nil), state...)),
		ParamValue:  param,
		Stable:      diag.Stable,
		Eigenvalues: ToEigenvalues(diag.Eigenvalues),
		CyclePoints: diag.CyclePoints,
	}
	if diag.Curve != nil {
		ct := *diag.Curve
		p.CurveTests = &ct
	}
	r.points = append(r.points, p)
	r.indices = append(r.indices, idx)
}

// buildAug reconstructs an augmented vector from a recorded point,
// deferring to the problem when its layout is not state-then-param.
func buildAug(p Problem, pt Point) ([]float64, error) {
	if b, ok := p.(augBuilder); ok {
		return b.BuildAug(pt)
	}
	aug := make([]float64, len(pt.State)+1)
	copy(aug, pt.State)
	aug[len(pt.State)] = pt.ParamValue
	return aug, nil
}

// Result delivers the branch and consumes the runner.
func (r *Runner) Result() (*Branch, error) {
	if r.consumed {
		return nil, dynamo.Invariantf("runner not initialized")
	}
	r.consumed = true

	if r.base == nil {
		return &Branch{
			Points:       r.points,
			Bifurcations: r.bifs,
			Indices:      r.indices,
			Type:         r.problem.BranchType(),
			Upoldp:       carriedUpoldp(r.problem),
			Meta:         carriedMeta(r.problem),
		}, nil
	}

	base := r.base
	out := &Branch{Type: base.Type, Upoldp: carriedUpoldp(r.problem), Meta: carriedMeta(r.problem)}
	if out.Upoldp == nil {
		out.Upoldp = base.Upoldp
	}
	if out.Meta == (BranchMeta{}) {
		out.Meta = base.Meta
	}
	if r.forward {
		out.Points = append(append([]Point(nil), base.Points...), r.points...)
		out.Indices = append(append([]int(nil), base.Indices...), r.indices...)
		out.Bifurcations = append([]Bifurcation(nil), base.Bifurcations...)
		for _, b := range r.bifs {
			b.PointIndex += len(base.Points)
			out.Bifurcations = append(out.Bifurcations, b)
		}
		return out, nil
	}

	// backward extension prepends in reversed order so the stored
	// points stay sorted by signed index
	rev := make([]Point, len(r.points))
	revIdx := make([]int, len(r.points))
	for i := range r.points {
		rev[len(r.points)-1-i] = r.points[i]
		revIdx[len(r.points)-1-i] = r.indices[i]
	}
	out.Points = append(rev, base.Points...)
	out.Indices = append(revIdx, base.Indices...)
	for _, b := range r.bifs {
		b.PointIndex = len(r.points) - 1 - b.PointIndex
		out.Bifurcations = append(out.Bifurcations, b)
	}
	for _, b := range base.Bifurcations {
		b.PointIndex += len(r.points)
		out.Bifurcations = append(out.Bifurcations, b)
	}
	return out, nil
}

func carriedUpoldp(p Problem) []float64 {
	if c, ok := p.(upoldpCarrier); ok {
		return c.Upoldp()
	}
	return nil
}

func carriedMeta(p Problem) BranchMeta {
	if c, ok := p.(metaCarrier); ok {
		return c.BranchMeta()
	}
	return BranchMeta{}
}

func scalarFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func vecNorm(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
