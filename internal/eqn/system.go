package eqn

import (
	"gonum.org/v1/gonum/mat"

	"github.com/avoura/bifurc/internal/dynamo"
)

// System is a vector field assembled from compiled expressions, one
// per state variable. It implements dynamo.System with exact
// derivatives via dual numbers.
type System struct {
	progs      []*Program
	vars       []string
	paramNames []string
	paramVals  []float64
	paramIdx   map[string]int

	stackF []float64
	stackD []Dual
	varsD  []Dual
	parsD  []Dual
}

// NewSystem compiles one equation per state variable. Parameter order
// is preserved from paramNames.
func NewSystem(equations, vars, paramNames []string, paramValues []float64) (*System, error) {
	if len(equations) != len(vars) {
		return nil, dynamo.Configf("equation count %d does not match variable count %d", len(equations), len(vars))
	}
	if len(paramNames) != len(paramValues) {
		return nil, dynamo.Configf("parameter name count %d does not match value count %d", len(paramNames), len(paramValues))
	}
	s := &System{
		vars:       append([]string(nil), vars...),
		paramNames: append([]string(nil), paramNames...),
		paramVals:  append([]float64(nil), paramValues...),
		paramIdx:   indexTable(paramNames),
	}
	maxStack := 0
	for _, eq := range equations {
		prog, err := Compile(eq, vars, paramNames)
		if err != nil {
			return nil, err
		}
		s.progs = append(s.progs, prog)
		if prog.StackSize() > maxStack {
			maxStack = prog.StackSize()
		}
	}
	s.stackF = make([]float64, maxStack)
	s.stackD = make([]Dual, maxStack)
	s.varsD = make([]Dual, len(vars))
	s.parsD = make([]Dual, len(paramNames))
	return s, nil
}

func (s *System) Dim() int { return len(s.vars) }

func (s *System) VarNames() []string { return s.vars }

func (s *System) ParamNames() []string { return s.paramNames }

func (s *System) Param(name string) (float64, error) {
	i, ok := s.paramIdx[name]
	if !ok {
		return 0, dynamo.Configf("unknown parameter: %s", name)
	}
	return s.paramVals[i], nil
}

func (s *System) SetParam(name string, value float64) error {
	i, ok := s.paramIdx[name]
	if !ok {
		return dynamo.Configf("unknown parameter: %s", name)
	}
	s.paramVals[i] = value
	return nil
}

func (s *System) Eval(x dynamo.State, out dynamo.State) error {
	if len(x) != len(s.vars) {
		return dynamo.Configf("state dimension %d does not match system dimension %d", len(x), len(s.vars))
	}
	for i, prog := range s.progs {
		out[i] = prog.Eval(x, s.paramVals, s.stackF)
	}
	return nil
}

func (s *System) Jacobian(x dynamo.State, dst *mat.Dense) error {
	n := len(s.vars)
	if len(x) != n {
		return dynamo.Configf("state dimension %d does not match system dimension %d", len(x), n)
	}
	for i := range s.parsD {
		s.parsD[i] = Con(s.paramVals[i])
	}
	for j := 0; j < n; j++ {
		for k := 0; k < n; k++ {
			s.varsD[k] = Con(x[k])
		}
		s.varsD[j] = Seed(x[j])
		for i, prog := range s.progs {
			dst.Set(i, j, prog.EvalDual(s.varsD, s.parsD, s.stackD).Eps)
		}
	}
	return nil
}

func (s *System) ParamDeriv(x dynamo.State, name string, dst dynamo.State) error {
	pi, ok := s.paramIdx[name]
	if !ok {
		return dynamo.Configf("unknown parameter: %s", name)
	}
	for k := range s.varsD {
		s.varsD[k] = Con(x[k])
	}
	for i := range s.parsD {
		s.parsD[i] = Con(s.paramVals[i])
	}
	s.parsD[pi] = Seed(s.paramVals[pi])
	for i, prog := range s.progs {
		dst[i] = prog.EvalDual(s.varsD, s.parsD, s.stackD).Eps
	}
	return nil
}

// Clone returns an independent copy sharing the compiled programs but
// not the mutable parameter values or scratch buffers.
func (s *System) Clone() *System {
	c := &System{
		progs:      s.progs,
		vars:       s.vars,
		paramNames: s.paramNames,
		paramVals:  append([]float64(nil), s.paramVals...),
		paramIdx:   s.paramIdx,
		stackF:     make([]float64, len(s.stackF)),
		stackD:     make([]Dual, len(s.stackD)),
		varsD:      make([]Dual, len(s.varsD)),
		parsD:      make([]Dual, len(s.parsD)),
	}
	return c
}
