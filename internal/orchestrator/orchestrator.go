// Package orchestrator ties the continuation solvers together: it
// keeps named branches in a persistent registry, rebuilds problems
// from stored branches, switches between branch types at detected
// bifurcations, and drives any progressive runner to completion in
// cooperative batches.
package orchestrator

import (
	"log/slog"
	"math"

	"github.com/avoura/bifurc/internal/codim2"
	"github.com/avoura/bifurc/internal/cont"
	"github.com/avoura/bifurc/internal/cycle"
	"github.com/avoura/bifurc/internal/dynamo"
	"github.com/avoura/bifurc/internal/homoclinic"
)

// Runner is the progressive surface every continuation driver
// exposes: advance in batches, then consume the branch once done.
type Runner interface {
	RunSteps(batch int) (cont.StepResult, error)
	Result() (*cont.Branch, error)
}

// Orchestrator owns a branch registry and a logger. The zero batch
// size is replaced by a sensible default in Drive.
type Orchestrator struct {
	reg *Registry
	log *slog.Logger
}

func New(reg *Registry, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{reg: reg, log: log.With("component", "orchestrator")}
}

func (o *Orchestrator) Registry() *Registry { return o.reg }

// Drive advances r until it reports done, invoking cb (when non-nil)
// after every batch, and returns the delivered branch.
func (o *Orchestrator) Drive(r Runner, batch int, cb func(cont.StepResult)) (*cont.Branch, error) {
	if batch <= 0 {
		batch = 10
	}
	for {
		res, err := r.RunSteps(batch)
		if cb != nil {
			cb(res)
		}
		if err != nil {
			// deliver what was built before the failure
			br, rerr := r.Result()
			if rerr != nil {
				return nil, err
			}
			return br, err
		}
		if res.Done {
			break
		}
	}
	return r.Result()
}

// Run drives the runner to completion and stores the branch under
// name.
func (o *Orchestrator) Run(name string, r Runner, batch int, cb func(cont.StepResult)) (*cont.Branch, error) {
	br, err := o.Drive(r, batch, cb)
	if br != nil && o.reg != nil {
		if serr := o.reg.Save(name, br); serr != nil && err == nil {
			err = serr
		}
	}
	if br != nil {
		o.log.Info("branch complete", "name", name, "type", br.Type, "points", len(br.Points))
	}
	return br, err
}

// Extend loads a stored branch, continues it past the extremal point
// in the given direction, and stores the merged result back under the
// same name.
func (o *Orchestrator) Extend(name string, p cont.Problem, settings cont.Settings, forward bool, batch int) (*cont.Branch, error) {
	base, err := o.reg.Load(name)
	if err != nil {
		return nil, err
	}
	r, err := cont.NewExtensionRunner(p, base, settings, forward)
	if err != nil {
		return nil, err
	}
	merged, err := o.Drive(r, batch, nil)
	if merged != nil {
		if serr := o.reg.Save(name, merged); serr != nil && err == nil {
			err = serr
		}
	}
	return merged, err
}

// ProblemFor rebuilds the continuation problem a stored branch was
// produced by, using its metadata and endpoint. Homoclinic branches
// need their setup and are rebuilt through HomoclinicProblem instead.
func (o *Orchestrator) ProblemFor(sys dynamo.System, kind dynamo.SystemKind, br *cont.Branch) (cont.Problem, error) {
	end := br.Endpoint(true)
	if end < 0 {
		return nil, dynamo.Configf("cannot rebuild a problem from an empty branch")
	}
	pt := br.Points[end]

	switch br.Type {
	case "equilibrium", "fixed_point":
		return cont.NewEquilibriumProblem(sys, kind, br.Meta.Param)

	case "limit_cycle":
		p, err := cycle.NewProblem(sys, br.Meta.Param, br.Meta.Ntst, br.Meta.Ncol)
		if err != nil {
			return nil, err
		}
		if err := restorePhase(sys, p, br, pt); err != nil {
			return nil, err
		}
		return p, nil

	case "fold_curve":
		// state layout: [p2, x...]
		n := len(pt.State) - 1
		if n < 1 {
			return nil, dynamo.Invariantf("stored fold curve point has no state")
		}
		x := dynamo.State(pt.State[1:])
		var p *codim2.FoldCurve
		err := withCurveParams(sys, br.Meta, pt.ParamValue, pt.State[0], func() error {
			var cerr error
			p, cerr = codim2.NewFoldCurve(sys, kind, x, br.Meta.Param, br.Meta.Param2)
			return cerr
		})
		return p, err

	case "hopf_curve":
		// state layout: [p2, x..., kappa]
		n := len(pt.State) - 2
		if n < 2 {
			return nil, dynamo.Invariantf("stored hopf curve point has no state")
		}
		x := dynamo.State(pt.State[1 : 1+n])
		kappa := pt.State[len(pt.State)-1]
		if kappa <= 0 {
			return nil, dynamo.Invariantf("stored hopf curve point carries non-positive kappa %g", kappa)
		}
		var p *codim2.HopfCurve
		err := withCurveParams(sys, br.Meta, pt.ParamValue, pt.State[0], func() error {
			var cerr error
			p, cerr = codim2.NewHopfCurve(sys, x, br.Meta.Param, br.Meta.Param2, math.Sqrt(kappa))
			return cerr
		})
		return p, err

	case "lpc_curve", "pd_curve", "ns_curve", "isochrone":
		return o.cycleCurveFor(sys, br, pt)
	}
	return nil, dynamo.Configf("branch type %q cannot be rebuilt from its stored form", br.Type)
}

// cycleCurveFor rebuilds a two-parameter cycle curve from the
// endpoint state [mesh+stages, T, p2(, k)].
func (o *Orchestrator) cycleCurveFor(sys dynamo.System, br *cont.Branch, pt cont.Point) (cont.Problem, error) {
	dim := sys.Dim()
	nms := (br.Meta.Ntst + 1 + br.Meta.Ntst*br.Meta.Ncol) * dim
	want := nms + 2
	if br.Type == "ns_curve" {
		want++
	}
	if len(pt.State) != want {
		return nil, dynamo.Invariantf("stored %s state length %d, want %d", br.Type, len(pt.State), want)
	}
	lc := dynamo.State(pt.State[:nms+1])
	p2v := pt.State[nms+1]

	var prob cont.Problem
	err := withCurveParams(sys, br.Meta, pt.ParamValue, p2v, func() error {
		var cerr error
		switch br.Type {
		case "lpc_curve":
			prob, cerr = codim2.NewLPCCurve(sys, lc, br.Meta.Ntst, br.Meta.Ncol, br.Meta.Param, br.Meta.Param2)
		case "pd_curve":
			prob, cerr = codim2.NewPDCurve(sys, lc, br.Meta.Ntst, br.Meta.Ncol, br.Meta.Param, br.Meta.Param2)
		case "ns_curve":
			k0 := pt.State[len(pt.State)-1]
			prob, cerr = codim2.NewNSCurve(sys, lc, br.Meta.Ntst, br.Meta.Ncol, br.Meta.Param, br.Meta.Param2, k0)
		case "isochrone":
			prob, cerr = codim2.NewIsochroneCurve(sys, lc, br.Meta.Ntst, br.Meta.Ncol, br.Meta.Param, br.Meta.Param2)
		}
		return cerr
	})
	if err != nil {
		return nil, err
	}
	return prob, nil
}

// withCurveParams evaluates fn with both curve parameters pinned.
func withCurveParams(sys dynamo.System, meta cont.BranchMeta, p1v, p2v float64, fn func() error) error {
	return dynamo.WithParam(sys, meta.Param, p1v, func() error {
		return dynamo.WithParam(sys, meta.Param2, p2v, fn)
	})
}

// HomoclinicProblem rebuilds a homoclinic continuation from a stored
// branch and the setup of the run that produced it, remeshing onto
// (ntst, ncol).
func (o *Orchestrator) HomoclinicProblem(sys dynamo.System, prior *homoclinic.Setup, br *cont.Branch, ntst, ncol int) (*homoclinic.Problem, error) {
	if br.Type != "homoclinic" {
		return nil, dynamo.Configf("expected a homoclinic branch, got %q", br.Type)
	}
	end := br.Endpoint(true)
	if end < 0 {
		return nil, dynamo.Configf("cannot rebuild a problem from an empty branch")
	}
	pt := br.Points[end]
	setup, err := homoclinic.FromPrior(sys, prior, pt.State, pt.ParamValue, ntst, ncol)
	if err != nil {
		return nil, err
	}
	return homoclinic.NewProblem(sys, setup)
}
