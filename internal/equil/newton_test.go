package equil

import (
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/avoura/bifurc/internal/dynamo"
	"github.com/avoura/bifurc/internal/eqn"
)

// closureSystem lets tests define piecewise fields the expression
// engine cannot express.
type closureSystem struct {
	dim  int
	eval func(x, out dynamo.State)
	jac  func(x dynamo.State, dst *mat.Dense)
}

func (c *closureSystem) Dim() int                                   { return c.dim }
func (c *closureSystem) ParamNames() []string                       { return nil }
func (c *closureSystem) Param(name string) (float64, error)         { return 0, dynamo.Configf("unknown parameter: %s", name) }
func (c *closureSystem) SetParam(name string, value float64) error  { return dynamo.Configf("unknown parameter: %s", name) }
func (c *closureSystem) Eval(x, out dynamo.State) error             { c.eval(x, out); return nil }
func (c *closureSystem) Jacobian(x dynamo.State, dst *mat.Dense) error {
	c.jac(x, dst)
	return nil
}
func (c *closureSystem) ParamDeriv(x dynamo.State, name string, dst dynamo.State) error {
	return dynamo.Configf("unknown parameter: %s", name)
}

func TestSolveFlowEquilibrium(t *testing.T) {
	sys, err := eqn.NewSystem(
		[]string{"x*x - p"},
		[]string{"x"},
		[]string{"p"}, []float64{4.0},
	)
	if err != nil {
		t.Fatal(err)
	}
	eq, err := Solve(sys, dynamo.Flow(), dynamo.State{1.5}, DefaultNewtonSettings())
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(eq.State[0]-2.0) > 1e-8 {
		t.Errorf("equilibrium at %v, want 2", eq.State[0])
	}
	// df/dx = 2x = 4 at the equilibrium
	if math.Abs(real(eq.Eigenvalues[0])-4.0) > 1e-8 {
		t.Errorf("eigenvalue %v, want 4", eq.Eigenvalues[0])
	}
}

func TestSolveTentMapFixedPoint(t *testing.T) {
	tent := &closureSystem{
		dim: 1,
		eval: func(x, out dynamo.State) {
			if x[0] < 0.5 {
				out[0] = 2 * x[0]
			} else {
				out[0] = 2 * (1 - x[0])
			}
		},
		jac: func(x dynamo.State, dst *mat.Dense) {
			if x[0] < 0.5 {
				dst.Set(0, 0, 2)
			} else {
				dst.Set(0, 0, -2)
			}
		},
	}
	eq, err := Solve(tent, dynamo.MapKind(1), dynamo.State{0.6}, DefaultNewtonSettings())
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(eq.State[0]-2.0/3.0) > 1e-9 {
		t.Errorf("fixed point %v, want 2/3", eq.State[0])
	}
	if math.Abs(real(eq.Eigenvalues[0])+2.0) > 1e-9 {
		t.Errorf("multiplier %v, want -2", eq.Eigenvalues[0])
	}
}

func TestSolveMapPeriodTwo(t *testing.T) {
	// logistic map at r = 3.2 has a stable period-2 orbit
	sys, err := eqn.NewSystem(
		[]string{"r*x*(1 - x)"},
		[]string{"x"},
		[]string{"r"}, []float64{3.2},
	)
	if err != nil {
		t.Fatal(err)
	}
	eq, err := Solve(sys, dynamo.MapKind(2), dynamo.State{0.5}, DefaultNewtonSettings())
	if err != nil {
		t.Fatal(err)
	}
	if len(eq.CyclePoints) != 2 {
		t.Fatalf("cycle points: got %d, want 2", len(eq.CyclePoints))
	}
	// the two points map into each other
	out := make(dynamo.State, 1)
	if err := sys.Eval(eq.CyclePoints[0], out); err != nil {
		t.Fatal(err)
	}
	if math.Abs(out[0]-eq.CyclePoints[1][0]) > 1e-8 {
		t.Errorf("orbit mismatch: f(%v) = %v, want %v", eq.CyclePoints[0][0], out[0], eq.CyclePoints[1][0])
	}
	// stable: |multiplier| < 1
	if m := real(eq.Eigenvalues[0]); math.Abs(m) >= 1 {
		t.Errorf("period-2 multiplier %v, want |m| < 1", m)
	}
}

func TestSolveValidation(t *testing.T) {
	sys, _ := eqn.NewSystem([]string{"x"}, []string{"x"}, nil, nil)
	if _, err := Solve(sys, dynamo.Flow(), dynamo.State{0, 0}, DefaultNewtonSettings()); err == nil || !strings.Contains(err.Error(), "dimension") {
		t.Errorf("dimension mismatch: got %v", err)
	}
	bad := DefaultNewtonSettings()
	bad.MaxSteps = 0
	if _, err := Solve(sys, dynamo.Flow(), dynamo.State{0}, bad); err == nil || !strings.Contains(err.Error(), "max steps") {
		t.Errorf("max steps: got %v", err)
	}
	bad = DefaultNewtonSettings()
	bad.Tol = 0
	if _, err := Solve(sys, dynamo.Flow(), dynamo.State{0}, bad); err == nil || !strings.Contains(err.Error(), "tolerance") {
		t.Errorf("tolerance: got %v", err)
	}
	if _, err := Solve(sys, dynamo.MapKind(0), dynamo.State{0}, DefaultNewtonSettings()); err == nil || !strings.Contains(err.Error(), "iteration") {
		t.Errorf("zero iterations: got %v", err)
	}
}

func TestMapJacobianChain(t *testing.T) {
	sys, err := eqn.NewSystem(
		[]string{"r*x*(1 - x)"},
		[]string{"x"},
		[]string{"r"}, []float64{3.2},
	)
	if err != nil {
		t.Fatal(err)
	}
	x := dynamo.State{0.3}
	chain := mat.NewDense(1, 1, nil)
	if err := SystemJacobian(sys, dynamo.MapKind(2), x, chain); err != nil {
		t.Fatal(err)
	}
	// central difference of f(f(x))
	h := 1e-6
	f2 := func(v float64) float64 {
		out := make(dynamo.State, 1)
		_ = sys.Eval(dynamo.State{v}, out)
		_ = sys.Eval(out.Clone(), out)
		return out[0]
	}
	want := (f2(x[0]+h) - f2(x[0]-h)) / (2 * h)
	if math.Abs(chain.At(0, 0)-want) > 1e-6 {
		t.Errorf("chained jacobian %v, central difference %v", chain.At(0, 0), want)
	}
}
