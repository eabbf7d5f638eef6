package cont

import (
	"gonum.org/v1/gonum/mat"

	"github.com/avoura/bifurc/internal/dynamo"
)

// Diagnostics is the per-point information a problem reports after a
// corrector success: monitored test values, the local spectrum, and
// stability. Two-parameter curve problems additionally fill Curve
// with their codimension-two test scalars.
type Diagnostics struct {
	Tests       TestValues
	Curve       *CurveTests
	Eigenvalues []complex128
	Stable      bool
	CyclePoints []dynamo.State
}

// Problem is the bordered system the runner continues. The augmented
// vector has length Dim()+1; each problem fixes its own layout and
// exposes it through ParamIndex and Record.
type Problem interface {
	// Dim is the number of unknowns excluding the continuation
	// parameter.
	Dim() int

	// ParamIndex is the position of the primary continuation
	// parameter within the augmented vector, used to orient the
	// initial tangent.
	ParamIndex() int

	// Residual writes the Dim() defining equations at aug into out.
	Residual(aug []float64, out []float64) error

	// ExtJacobian writes the Dim() x (Dim()+1) Jacobian of the
	// residual with respect to the full augmented vector into dst.
	ExtJacobian(aug []float64, dst *mat.Dense) error

	// Diagnostics evaluates the test functions and spectrum at aug.
	Diagnostics(aug []float64) (Diagnostics, error)

	// UpdateAfterStep lets the problem refresh internal references
	// (borders, phase anchors) after an accepted point. A failed
	// refresh stops the run.
	UpdateAfterStep(aug []float64) error

	// Record splits an accepted augmented vector into the delivered
	// point state and parameter value.
	Record(aug []float64) (state []float64, paramValue float64)

	// BranchType names the branch this problem produces.
	BranchType() string
}

// upoldpCarrier is implemented by cycle problems that carry a frozen
// phase reference worth delivering with the branch.
type upoldpCarrier interface {
	Upoldp() []float64
}

// metaCarrier is implemented by problems whose branches need resume
// metadata beyond the type name.
type metaCarrier interface {
	BranchMeta() BranchMeta
}

// augBuilder is implemented by problems whose augmented layout cannot
// be reconstructed as state-then-parameter; extension runners use it
// to rebuild the endpoint vector.
type augBuilder interface {
	BuildAug(p Point) ([]float64, error)
}
