package orchestrator

import (
	"math"

	"github.com/avoura/bifurc/internal/codim2"
	"github.com/avoura/bifurc/internal/cont"
	"github.com/avoura/bifurc/internal/cycle"
	"github.com/avoura/bifurc/internal/dynamo"
	"github.com/avoura/bifurc/internal/homoclinic"
)

// pickBifurcation returns the point of the occurrence-th detected
// bifurcation of the given kind (0-based, in branch order).
func pickBifurcation(br *cont.Branch, kind cont.BifurcationType, occurrence int) (cont.Point, error) {
	seen := 0
	for _, b := range br.Bifurcations {
		if b.Kind != kind {
			continue
		}
		if seen == occurrence {
			if b.PointIndex < 0 || b.PointIndex >= len(br.Points) {
				return cont.Point{}, dynamo.Invariantf("bifurcation position %d outside branch of %d points", b.PointIndex, len(br.Points))
			}
			return br.Points[b.PointIndex], nil
		}
		seen++
	}
	if seen == 0 {
		return cont.Point{}, dynamo.Configf("branch has no %s bifurcation", kind)
	}
	return cont.Point{}, dynamo.Configf("branch has only %d %s bifurcations, requested occurrence %d", seen, kind, occurrence)
}

// hopfFrequency reads the imaginary part of the critical pair off a
// recorded Hopf point.
func hopfFrequency(pt cont.Point) (float64, error) {
	best := -1
	for i, ev := range pt.Eigenvalues {
		if math.Abs(ev.Im) <= 1e-10 {
			continue
		}
		if best < 0 || math.Abs(ev.Re) < math.Abs(pt.Eigenvalues[best].Re) {
			best = i
		}
	}
	if best < 0 {
		return 0, dynamo.Numericalf("the hopf point carries no complex eigenvalue pair")
	}
	return math.Abs(pt.Eigenvalues[best].Im), nil
}

// nsAngleCos reads cos(theta) of the torus multiplier pair off a
// recorded Neimark-Sacker point.
func nsAngleCos(pt cont.Point) (float64, error) {
	best, bd := -1, math.Inf(1)
	for i, mu := range pt.Eigenvalues {
		if math.Abs(mu.Im) <= 1e-10 {
			continue
		}
		r := math.Hypot(mu.Re, mu.Im)
		if d := math.Abs(r - 1); d < bd {
			best, bd = i, d
		}
	}
	if best < 0 {
		return 0, dynamo.Numericalf("the neimark-sacker point carries no complex multiplier pair")
	}
	mu := pt.Eigenvalues[best]
	return mu.Re / math.Hypot(mu.Re, mu.Im), nil
}

// CycleFromHopf switches an equilibrium branch onto the limit-cycle
// branch born at its occurrence-th Hopf point.
func CycleFromHopf(sys dynamo.System, br *cont.Branch, occurrence, ntst, ncol int, amplitude float64) (*cycle.Problem, []float64, error) {
	if br.Type != "equilibrium" {
		return nil, nil, dynamo.Configf("hopf switching needs an equilibrium branch, got %q", br.Type)
	}
	pt, err := pickBifurcation(br, cont.Hopf, occurrence)
	if err != nil {
		return nil, nil, err
	}
	p, err := cycle.NewProblem(sys, br.Meta.Param, ntst, ncol)
	if err != nil {
		return nil, nil, err
	}
	seed, err := p.SeedFromHopf(pt.State, pt.ParamValue, amplitude)
	if err != nil {
		return nil, nil, err
	}
	return p, seed, nil
}

// CycleFromPD switches a limit-cycle branch onto the doubled-period
// branch at its occurrence-th period doubling. The returned problem
// has twice the interval count of the stored branch.
func CycleFromPD(sys dynamo.System, br *cont.Branch, occurrence int, eps float64) (*cycle.Problem, []float64, error) {
	src, pt, err := cycleProblemAt(sys, br, cont.PeriodDoubling, occurrence)
	if err != nil {
		return nil, nil, err
	}
	srcAug, err := src.BuildAug(pt)
	if err != nil {
		return nil, nil, err
	}
	dst, err := cycle.NewProblem(sys, br.Meta.Param, 2*br.Meta.Ntst, br.Meta.Ncol)
	if err != nil {
		return nil, nil, err
	}
	seed, err := dst.SeedFromPD(src, srcAug, eps)
	if err != nil {
		return nil, nil, err
	}
	return dst, seed, nil
}

// HomoclinicFromCycle builds a homoclinic setup from the endpoint of a
// limit-cycle branch whose orbit passes near a saddle.
func HomoclinicFromCycle(sys dynamo.System, br *cont.Branch, ntst, ncol int, p2 string) (*homoclinic.Setup, error) {
	if br.Type != "limit_cycle" {
		return nil, dynamo.Configf("homoclinic switching needs a limit-cycle branch, got %q", br.Type)
	}
	end := br.Endpoint(true)
	if end < 0 {
		return nil, dynamo.Configf("cannot switch from an empty branch")
	}
	pt := br.Points[end]
	var setup *homoclinic.Setup
	err := dynamo.WithParam(sys, br.Meta.Param, pt.ParamValue, func() error {
		var serr error
		setup, serr = homoclinic.FromCycle(sys, pt.State, br.Meta.Ntst, br.Meta.Ncol, ntst, ncol, br.Meta.Param, p2)
		return serr
	})
	if err != nil {
		return nil, err
	}
	return setup, nil
}

// FoldCurveFromBranch lifts the occurrence-th fold of an equilibrium
// branch into a two-parameter fold curve, seeded at the fold point
// with the second parameter at its current value.
func FoldCurveFromBranch(sys dynamo.System, kind dynamo.SystemKind, br *cont.Branch, occurrence int, p2 string) (*codim2.FoldCurve, []float64, error) {
	pt, err := pickBifurcation(br, cont.Fold, occurrence)
	if err != nil {
		return nil, nil, err
	}
	p2v, err := sys.Param(p2)
	if err != nil {
		return nil, nil, err
	}
	var p *codim2.FoldCurve
	err = dynamo.WithParam(sys, br.Meta.Param, pt.ParamValue, func() error {
		var cerr error
		p, cerr = codim2.NewFoldCurve(sys, kind, pt.State, br.Meta.Param, p2)
		return cerr
	})
	if err != nil {
		return nil, nil, err
	}
	return p, p.SeedAug(pt.State, pt.ParamValue, p2v), nil
}

// HopfCurveFromBranch lifts the occurrence-th Hopf point of an
// equilibrium branch into a two-parameter Hopf curve, reading the
// critical frequency off the recorded spectrum.
func HopfCurveFromBranch(sys dynamo.System, br *cont.Branch, occurrence int, p2 string) (*codim2.HopfCurve, []float64, error) {
	pt, err := pickBifurcation(br, cont.Hopf, occurrence)
	if err != nil {
		return nil, nil, err
	}
	omega, err := hopfFrequency(pt)
	if err != nil {
		return nil, nil, err
	}
	p2v, err := sys.Param(p2)
	if err != nil {
		return nil, nil, err
	}
	var p *codim2.HopfCurve
	err = dynamo.WithParam(sys, br.Meta.Param, pt.ParamValue, func() error {
		var cerr error
		p, cerr = codim2.NewHopfCurve(sys, pt.State, br.Meta.Param, p2, omega)
		return cerr
	})
	if err != nil {
		return nil, nil, err
	}
	return p, p.SeedAug(pt.State, pt.ParamValue, p2v, omega), nil
}

// LPCCurveFromBranch lifts the occurrence-th cycle fold of a
// limit-cycle branch into a two-parameter LPC curve.
func LPCCurveFromBranch(sys dynamo.System, br *cont.Branch, occurrence int, p2 string) (*codim2.LPCCurve, []float64, error) {
	pt, err := cycleCurvePoint(br, cont.CycleFold, occurrence)
	if err != nil {
		return nil, nil, err
	}
	var p *codim2.LPCCurve
	var seed []float64
	err = dynamo.WithParam(sys, br.Meta.Param, pt.ParamValue, func() error {
		var cerr error
		p, cerr = codim2.NewLPCCurve(sys, pt.State, br.Meta.Ntst, br.Meta.Ncol, br.Meta.Param, p2)
		if cerr != nil {
			return cerr
		}
		seed, cerr = p.SeedAug()
		return cerr
	})
	if err != nil {
		return nil, nil, err
	}
	return p, seed, nil
}

// PDCurveFromBranch lifts the occurrence-th period doubling of a
// limit-cycle branch into a two-parameter PD curve.
func PDCurveFromBranch(sys dynamo.System, br *cont.Branch, occurrence int, p2 string) (*codim2.PDCurve, []float64, error) {
	pt, err := cycleCurvePoint(br, cont.PeriodDoubling, occurrence)
	if err != nil {
		return nil, nil, err
	}
	var p *codim2.PDCurve
	var seed []float64
	err = dynamo.WithParam(sys, br.Meta.Param, pt.ParamValue, func() error {
		var cerr error
		p, cerr = codim2.NewPDCurve(sys, pt.State, br.Meta.Ntst, br.Meta.Ncol, br.Meta.Param, p2)
		if cerr != nil {
			return cerr
		}
		seed, cerr = p.SeedAug()
		return cerr
	})
	if err != nil {
		return nil, nil, err
	}
	return p, seed, nil
}

// NSCurveFromBranch lifts the occurrence-th Neimark-Sacker point of a
// limit-cycle branch into a two-parameter NS curve, seeding the torus
// angle from the recorded multiplier pair.
func NSCurveFromBranch(sys dynamo.System, br *cont.Branch, occurrence int, p2 string) (*codim2.NSCurve, []float64, error) {
	pt, err := cycleCurvePoint(br, cont.NeimarkSacker, occurrence)
	if err != nil {
		return nil, nil, err
	}
	k0, err := nsAngleCos(pt)
	if err != nil {
		return nil, nil, err
	}
	var p *codim2.NSCurve
	var seed []float64
	err = dynamo.WithParam(sys, br.Meta.Param, pt.ParamValue, func() error {
		var cerr error
		p, cerr = codim2.NewNSCurve(sys, pt.State, br.Meta.Ntst, br.Meta.Ncol, br.Meta.Param, p2, k0)
		if cerr != nil {
			return cerr
		}
		seed, cerr = p.SeedAug(k0)
		return cerr
	})
	if err != nil {
		return nil, nil, err
	}
	return p, seed, nil
}

// IsochroneFromBranch pins the period at the endpoint of a limit-cycle
// branch and continues the fixed-period orbit in two parameters.
func IsochroneFromBranch(sys dynamo.System, br *cont.Branch, p2 string) (*codim2.IsochroneCurve, []float64, error) {
	if br.Type != "limit_cycle" {
		return nil, nil, dynamo.Configf("isochrone switching needs a limit-cycle branch, got %q", br.Type)
	}
	end := br.Endpoint(true)
	if end < 0 {
		return nil, nil, dynamo.Configf("cannot switch from an empty branch")
	}
	pt := br.Points[end]
	var p *codim2.IsochroneCurve
	var seed []float64
	err := dynamo.WithParam(sys, br.Meta.Param, pt.ParamValue, func() error {
		var cerr error
		p, cerr = codim2.NewIsochroneCurve(sys, pt.State, br.Meta.Ntst, br.Meta.Ncol, br.Meta.Param, p2)
		if cerr != nil {
			return cerr
		}
		seed, cerr = p.SeedAug()
		return cerr
	})
	if err != nil {
		return nil, nil, err
	}
	return p, seed, nil
}

// cycleCurvePoint validates a limit-cycle branch and picks the
// bifurcation point a cycle curve starts from.
func cycleCurvePoint(br *cont.Branch, kind cont.BifurcationType, occurrence int) (cont.Point, error) {
	if br.Type != "limit_cycle" {
		return cont.Point{}, dynamo.Configf("%s curve switching needs a limit-cycle branch, got %q", kind, br.Type)
	}
	return pickBifurcation(br, kind, occurrence)
}

// cycleProblemAt rebuilds the collocation problem of a limit-cycle
// branch with its stored phase reference and returns the requested
// bifurcation point. A branch stored without the reference recovers
// it from the point itself.
func cycleProblemAt(sys dynamo.System, br *cont.Branch, kind cont.BifurcationType, occurrence int) (*cycle.Problem, cont.Point, error) {
	if br.Type != "limit_cycle" {
		return nil, cont.Point{}, dynamo.Configf("expected a limit-cycle branch, got %q", br.Type)
	}
	pt, err := pickBifurcation(br, kind, occurrence)
	if err != nil {
		return nil, cont.Point{}, err
	}
	p, err := cycle.NewProblem(sys, br.Meta.Param, br.Meta.Ntst, br.Meta.Ncol)
	if err != nil {
		return nil, cont.Point{}, err
	}
	if err := restorePhase(sys, p, br, pt); err != nil {
		return nil, cont.Point{}, err
	}
	return p, pt, nil
}

// restorePhase reinstates the stored phase reference, or rebuilds it
// as T*f(u_i) over the point's mesh when the branch predates phase
// persistence.
func restorePhase(sys dynamo.System, p *cycle.Problem, br *cont.Branch, pt cont.Point) error {
	if br.Upoldp != nil {
		return p.SetPhase(br.Upoldp, br.Meta.PhaseAnchor)
	}
	dim := sys.Dim()
	ntst := br.Meta.Ntst
	if len(pt.State) < (ntst+1)*dim+1 {
		return dynamo.Invariantf("stored cycle state length %d too short for mesh %d in dimension %d", len(pt.State), ntst, dim)
	}
	T := pt.State[len(pt.State)-1]
	upoldp := make([]float64, (ntst+1)*dim)
	anchor := 0.0
	err := dynamo.WithParam(sys, br.Meta.Param, pt.ParamValue, func() error {
		f := make(dynamo.State, dim)
		for i := 0; i <= ntst; i++ {
			u := dynamo.State(pt.State[i*dim : (i+1)*dim])
			if err := sys.Eval(u, f); err != nil {
				return err
			}
			for d := 0; d < dim; d++ {
				upoldp[i*dim+d] = T * f[d]
				anchor += u[d] * upoldp[i*dim+d]
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return p.SetPhase(upoldp, anchor/float64(ntst+1))
}
