package eqn

import (
	"math"

	"github.com/avoura/bifurc/internal/dynamo"
)

type opcode uint8

const (
	opConst opcode = iota
	opVar
	opParam
	opAdd
	opSub
	opMul
	opDiv
	opPow
	opNeg
	opSin
	opCos
	opExp
)

type instr struct {
	op  opcode
	idx int
}

// Program is a compiled expression evaluated on a value stack.
// Variables and parameters are resolved to indices at compile time,
// so evaluation does no name lookups.
type Program struct {
	code     []instr
	consts   []float64
	maxStack int
}

// Compile turns an expression into a Program against the given
// variable and parameter name tables.
func Compile(src string, vars, params []string) (*Program, error) {
	root, err := parse(src)
	if err != nil {
		return nil, err
	}
	varIdx := indexTable(vars)
	paramIdx := indexTable(params)
	prog := &Program{}
	if err := prog.emit(root, varIdx, paramIdx); err != nil {
		return nil, err
	}
	prog.maxStack = measureStack(prog.code)
	return prog, nil
}

func indexTable(names []string) map[string]int {
	m := make(map[string]int, len(names))
	for i, n := range names {
		m[n] = i
	}
	return m
}

func (p *Program) emit(n *node, varIdx, paramIdx map[string]int) error {
	switch n.kind {
	case nodeNum:
		p.consts = append(p.consts, n.num)
		p.code = append(p.code, instr{opConst, len(p.consts) - 1})
	case nodeSymbol:
		if i, ok := varIdx[n.name]; ok {
			p.code = append(p.code, instr{opVar, i})
		} else if i, ok := paramIdx[n.name]; ok {
			p.code = append(p.code, instr{opParam, i})
		} else {
			return dynamo.Configf("unknown symbol: %s", n.name)
		}
	case nodeUnary:
		if err := p.emit(n.arg, varIdx, paramIdx); err != nil {
			return err
		}
		p.code = append(p.code, instr{op: opNeg})
	case nodeBinary:
		if err := p.emit(n.left, varIdx, paramIdx); err != nil {
			return err
		}
		if err := p.emit(n.right, varIdx, paramIdx); err != nil {
			return err
		}
		var op opcode
		switch n.op {
		case '+':
			op = opAdd
		case '-':
			op = opSub
		case '*':
			op = opMul
		case '/':
			op = opDiv
		case '^':
			op = opPow
		}
		p.code = append(p.code, instr{op: op})
	case nodeCall:
		if err := p.emit(n.arg, varIdx, paramIdx); err != nil {
			return err
		}
		switch n.name {
		case "sin":
			p.code = append(p.code, instr{op: opSin})
		case "cos":
			p.code = append(p.code, instr{op: opCos})
		case "exp":
			p.code = append(p.code, instr{op: opExp})
		}
	}
	return nil
}

func measureStack(code []instr) int {
	depth, max := 0, 0
	for _, in := range code {
		switch in.op {
		case opConst, opVar, opParam:
			depth++
		case opAdd, opSub, opMul, opDiv, opPow:
			depth--
		}
		if depth > max {
			max = depth
		}
	}
	return max
}

// Eval runs the program over float64 values using the caller-supplied
// stack, which must hold at least StackSize elements.
func (p *Program) Eval(vars, params, stack []float64) float64 {
	sp := 0
	for _, in := range p.code {
		switch in.op {
		case opConst:
			stack[sp] = p.consts[in.idx]
			sp++
		case opVar:
			stack[sp] = vars[in.idx]
			sp++
		case opParam:
			stack[sp] = params[in.idx]
			sp++
		case opAdd:
			sp--
			stack[sp-1] += stack[sp]
		case opSub:
			sp--
			stack[sp-1] -= stack[sp]
		case opMul:
			sp--
			stack[sp-1] *= stack[sp]
		case opDiv:
			sp--
			stack[sp-1] /= stack[sp]
		case opPow:
			sp--
			stack[sp-1] = math.Pow(stack[sp-1], stack[sp])
		case opNeg:
			stack[sp-1] = -stack[sp-1]
		case opSin:
			stack[sp-1] = math.Sin(stack[sp-1])
		case opCos:
			stack[sp-1] = math.Cos(stack[sp-1])
		case opExp:
			stack[sp-1] = math.Exp(stack[sp-1])
		}
	}
	return stack[sp-1]
}

// EvalDual runs the program over dual numbers for forward-mode
// derivatives; seed whichever input the derivative is taken against.
func (p *Program) EvalDual(vars, params, stack []Dual) Dual {
	sp := 0
	for _, in := range p.code {
		switch in.op {
		case opConst:
			stack[sp] = Con(p.consts[in.idx])
			sp++
		case opVar:
			stack[sp] = vars[in.idx]
			sp++
		case opParam:
			stack[sp] = params[in.idx]
			sp++
		case opAdd:
			sp--
			stack[sp-1] = stack[sp-1].Add(stack[sp])
		case opSub:
			sp--
			stack[sp-1] = stack[sp-1].Sub(stack[sp])
		case opMul:
			sp--
			stack[sp-1] = stack[sp-1].Mul(stack[sp])
		case opDiv:
			sp--
			stack[sp-1] = stack[sp-1].Div(stack[sp])
		case opPow:
			sp--
			stack[sp-1] = stack[sp-1].Pow(stack[sp])
		case opNeg:
			stack[sp-1] = stack[sp-1].Neg()
		case opSin:
			stack[sp-1] = stack[sp-1].Sin()
		case opCos:
			stack[sp-1] = stack[sp-1].Cos()
		case opExp:
			stack[sp-1] = stack[sp-1].Exp()
		}
	}
	return stack[sp-1]
}

// StackSize reports the scratch stack depth Eval requires.
func (p *Program) StackSize() int { return p.maxStack }
