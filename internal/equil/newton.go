// Package equil locates equilibria of flows and fixed points (or
// periodic points) of maps by damped Newton iteration, and computes
// their eigenpairs.
package equil

import (
	"gonum.org/v1/gonum/mat"

	"github.com/avoura/bifurc/internal/dynamo"
	"github.com/avoura/bifurc/internal/linalg"
)

type NewtonSettings struct {
	MaxSteps int
	Damping  float64
	Tol      float64
}

func DefaultNewtonSettings() NewtonSettings {
	return NewtonSettings{MaxSteps: 25, Damping: 1.0, Tol: 1e-9}
}

func (s NewtonSettings) validate() error {
	if s.MaxSteps <= 0 {
		return dynamo.Configf("newton max steps must be positive")
	}
	if s.Damping <= 0 {
		return dynamo.Configf("newton damping must be positive")
	}
	if s.Tol <= 0 {
		return dynamo.Configf("newton tolerance must be positive")
	}
	return nil
}

// Equilibrium is a converged equilibrium or fixed point together with
// its linearization.
type Equilibrium struct {
	State        dynamo.State
	Eigenvalues  []complex128
	Eigenvectors [][]complex128
	CyclePoints  []dynamo.State
}

// Residual writes the defining residual into out: f(x) for flows,
// f^k(x) - x for maps.
func Residual(sys dynamo.System, kind dynamo.SystemKind, x dynamo.State, out dynamo.State) error {
	iters, err := kind.CheckedIterations()
	if err != nil {
		return err
	}
	if !kind.IsMap {
		return sys.Eval(x, out)
	}
	cur := x.Clone()
	for i := 0; i < iters; i++ {
		if err := sys.Eval(cur, out); err != nil {
			return err
		}
		copy(cur, out)
	}
	for i := range out {
		out[i] = cur[i] - x[i]
	}
	return nil
}

// ResidualJacobian writes the Jacobian of the defining residual into
// dst: df/dx for flows, the chain product of per-iterate Jacobians
// minus the identity for maps.
func ResidualJacobian(sys dynamo.System, kind dynamo.SystemKind, x dynamo.State, dst *mat.Dense) error {
	if err := SystemJacobian(sys, kind, x, dst); err != nil {
		return err
	}
	if kind.IsMap {
		n := len(x)
		for i := 0; i < n; i++ {
			dst.Set(i, i, dst.At(i, i)-1)
		}
	}
	return nil
}

// SystemJacobian writes df/dx (flows) or d f^k/dx (maps, chain
// product along the orbit) into dst.
func SystemJacobian(sys dynamo.System, kind dynamo.SystemKind, x dynamo.State, dst *mat.Dense) error {
	iters, err := kind.CheckedIterations()
	if err != nil {
		return err
	}
	n := len(x)
	if !kind.IsMap || iters == 1 {
		if err := sys.Jacobian(x, dst); err != nil {
			return err
		}
		return nil
	}
	cur := x.Clone()
	step := mat.NewDense(n, n, nil)
	next := make(dynamo.State, n)
	var acc mat.Dense
	for i := 0; i < iters; i++ {
		if err := sys.Jacobian(cur, step); err != nil {
			return err
		}
		if i == 0 {
			acc.CloneFrom(step)
		} else {
			var tmp mat.Dense
			tmp.Mul(step, &acc)
			acc.CloneFrom(&tmp)
		}
		if err := sys.Eval(cur, next); err != nil {
			return err
		}
		copy(cur, next)
	}
	dst.Copy(&acc)
	return nil
}

// ResidualParamDeriv writes the derivative of the defining residual
// with respect to the named parameter, chained along the orbit for
// maps.
func ResidualParamDeriv(sys dynamo.System, kind dynamo.SystemKind, x dynamo.State, name string, dst dynamo.State) error {
	iters, err := kind.CheckedIterations()
	if err != nil {
		return err
	}
	if !kind.IsMap {
		return sys.ParamDeriv(x, name, dst)
	}
	n := len(x)
	cur := x.Clone()
	acc := make(dynamo.State, n)
	fp := make(dynamo.State, n)
	jac := mat.NewDense(n, n, nil)
	next := make(dynamo.State, n)
	for i := 0; i < iters; i++ {
		if err := sys.Jacobian(cur, jac); err != nil {
			return err
		}
		if err := sys.ParamDeriv(cur, name, fp); err != nil {
			return err
		}
		prev := append(dynamo.State(nil), acc...)
		for r := 0; r < n; r++ {
			sum := fp[r]
			for c := 0; c < n; c++ {
				sum += jac.At(r, c) * prev[c]
			}
			acc[r] = sum
		}
		if err := sys.Eval(cur, next); err != nil {
			return err
		}
		copy(cur, next)
	}
	copy(dst, acc)
	return nil
}

// Solve refines guess by damped Newton iteration and returns the
// equilibrium with its eigenpairs.
func Solve(sys dynamo.System, kind dynamo.SystemKind, guess dynamo.State, settings NewtonSettings) (*Equilibrium, error) {
	if err := settings.validate(); err != nil {
		return nil, err
	}
	n := sys.Dim()
	if len(guess) != n {
		return nil, dynamo.Configf("guess dimension %d does not match system dimension %d", len(guess), n)
	}
	if _, err := kind.CheckedIterations(); err != nil {
		return nil, err
	}

	x := guess.Clone()
	res := make(dynamo.State, n)
	jac := mat.NewDense(n, n, nil)
	converged := false
	for step := 0; step < settings.MaxSteps; step++ {
		if err := Residual(sys, kind, x, res); err != nil {
			return nil, err
		}
		if res.Norm() < settings.Tol {
			converged = true
			break
		}
		if err := ResidualJacobian(sys, kind, x, jac); err != nil {
			return nil, err
		}
		neg := make([]float64, n)
		for i := range res {
			neg[i] = -res[i]
		}
		delta, err := linalg.Solve(jac, neg)
		if err != nil {
			return nil, dynamo.Numericalf("jacobian is singular")
		}
		for i := range x {
			x[i] += settings.Damping * delta[i]
		}
		if !x.IsValid() {
			return nil, dynamo.Numericalf("newton iterate became non-finite")
		}
	}
	if !converged {
		if err := Residual(sys, kind, x, res); err != nil {
			return nil, err
		}
		if res.Norm() >= settings.Tol {
			return nil, dynamo.NotConvergedf("newton did not converge in %d steps (residual %v)", settings.MaxSteps, res.Norm())
		}
	}

	eq := &Equilibrium{State: x}
	if err := SystemJacobian(sys, kind, x, jac); err != nil {
		return nil, err
	}
	vals, err := linalg.Eigenvalues(jac)
	if err != nil {
		return nil, err
	}
	linalg.SortEigenvaluesDesc(vals)
	eq.Eigenvalues = vals
	for _, lambda := range vals {
		vec, err := linalg.EigenVector(jac, lambda)
		if err != nil {
			return nil, err
		}
		eq.Eigenvectors = append(eq.Eigenvectors, vec)
	}

	iters, _ := kind.CheckedIterations()
	if kind.IsMap && iters > 1 {
		cur := x.Clone()
		next := make(dynamo.State, n)
		for i := 0; i < iters; i++ {
			eq.CyclePoints = append(eq.CyclePoints, cur.Clone())
			if err := sys.Eval(cur, next); err != nil {
				return nil, err
			}
			copy(cur, next)
		}
	}
	return eq, nil
}
