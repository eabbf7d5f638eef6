package codim2

import (
	"github.com/avoura/bifurc/internal/cont"
	"github.com/avoura/bifurc/internal/dynamo"
)

// CurvePoint is one accepted point of a two-parameter curve, split
// back into the physical state, the two parameter values, and the
// curve's auxiliary unknown (kappa for Hopf, cos(theta) for NS).
type CurvePoint struct {
	State       dynamo.State      `json:"state"`
	Param1      float64           `json:"param1_value"`
	Param2      float64           `json:"param2_value"`
	Auxiliary   float64           `json:"auxiliary,omitempty"`
	Stable      bool              `json:"stable"`
	Eigenvalues []cont.Eigenvalue `json:"eigenvalues,omitempty"`
	Tests       *cont.CurveTests  `json:"tests,omitempty"`
}

// CurveBranch is the delivered result of a curve continuation.
type CurveBranch struct {
	Type         string             `json:"type"`
	Param1       string             `json:"param1"`
	Param2       string             `json:"param2"`
	Points       []CurvePoint       `json:"points"`
	Bifurcations []cont.Bifurcation `json:"bifurcations"`
	Indices      []int              `json:"indices"`
}

// CurveProblem is a continuation problem whose recorded points can be
// split into CurvePoints.
type CurveProblem interface {
	cont.Problem
	Params() (string, string)
	splitPoint(pt cont.Point) (state []float64, p2, aux float64, err error)
}

// Curve converts a raw continuation branch into the two-parameter
// curve form.
func Curve(p CurveProblem, br *cont.Branch) (*CurveBranch, error) {
	p1, p2 := p.Params()
	out := &CurveBranch{
		Type:         br.Type,
		Param1:       p1,
		Param2:       p2,
		Bifurcations: br.Bifurcations,
		Indices:      br.Indices,
	}
	for _, pt := range br.Points {
		state, p2v, aux, err := p.splitPoint(pt)
		if err != nil {
			return nil, err
		}
		out.Points = append(out.Points, CurvePoint{
			State:       state,
			Param1:      pt.ParamValue,
			Param2:      p2v,
			Auxiliary:   aux,
			Stable:      pt.Stable,
			Eigenvalues: pt.Eigenvalues,
			Tests:       pt.CurveTests,
		})
	}
	return out, nil
}

// checkParams validates a two-parameter selection against the system.
func checkParams(sys dynamo.System, p1, p2 string) error {
	if p1 == p2 {
		return dynamo.Configf("curve parameters must be distinct, got %q twice", p1)
	}
	if _, err := sys.Param(p1); err != nil {
		return err
	}
	if _, err := sys.Param(p2); err != nil {
		return err
	}
	return nil
}

// withParams evaluates fn with both curve parameters set, restoring
// the previous values afterwards.
func withParams(sys dynamo.System, p1 string, v1 float64, p2 string, v2 float64, fn func() error) error {
	return dynamo.WithParam(sys, p1, v1, func() error {
		return dynamo.WithParam(sys, p2, v2, fn)
	})
}
