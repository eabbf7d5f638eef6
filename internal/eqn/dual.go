package eqn

import "math"

// Dual is a forward-mode autodiff scalar: Val carries the value, Eps
// the derivative with respect to the seeded input.
type Dual struct {
	Val float64
	Eps float64
}

func Con(v float64) Dual { return Dual{Val: v} }

func Seed(v float64) Dual { return Dual{Val: v, Eps: 1} }

func (a Dual) Add(b Dual) Dual { return Dual{a.Val + b.Val, a.Eps + b.Eps} }

func (a Dual) Sub(b Dual) Dual { return Dual{a.Val - b.Val, a.Eps - b.Eps} }

func (a Dual) Mul(b Dual) Dual {
	return Dual{a.Val * b.Val, a.Eps*b.Val + a.Val*b.Eps}
}

func (a Dual) Div(b Dual) Dual {
	inv := 1.0 / b.Val
	return Dual{a.Val * inv, (a.Eps - a.Val*inv*b.Eps) * inv}
}

func (a Dual) Neg() Dual { return Dual{-a.Val, -a.Eps} }

func (a Dual) Sin() Dual { return Dual{math.Sin(a.Val), math.Cos(a.Val) * a.Eps} }

func (a Dual) Cos() Dual { return Dual{math.Cos(a.Val), -math.Sin(a.Val) * a.Eps} }

func (a Dual) Exp() Dual {
	e := math.Exp(a.Val)
	return Dual{e, e * a.Eps}
}

// Pow handles the common case of a constant exponent exactly, so
// expressions like x^2 stay differentiable at x <= 0.
func (a Dual) Pow(b Dual) Dual {
	if b.Eps == 0 {
		v := math.Pow(a.Val, b.Val)
		return Dual{v, b.Val * math.Pow(a.Val, b.Val-1) * a.Eps}
	}
	v := math.Pow(a.Val, b.Val)
	return Dual{v, v * (b.Eps*math.Log(a.Val) + b.Val*a.Eps/a.Val)}
}
