// Package codim2 continues bifurcation loci in two parameters: fold
// and Hopf curves of equilibria, and LPC, PD, NS and isochrone curves
// of limit cycles. Every curve follows the same pattern: the second
// parameter joins the unknowns, one or two defining scalars come from
// a bordered linear solve, and the border vectors are refreshed after
// each accepted step to keep the bordered matrix well conditioned.
package codim2

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/avoura/bifurc/internal/dynamo"
	"github.com/avoura/bifurc/internal/linalg"
)

// borderedScalar solves [M, psi; phi^T, 0] [v; g] = [0; 1] and returns
// the defining scalar g with the near-null direction v.
func borderedScalar(m *mat.Dense, phi, psi []float64) (float64, []float64, error) {
	n, _ := m.Dims()
	big := mat.NewDense(n+1, n+1, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			big.Set(i, j, m.At(i, j))
		}
		big.Set(i, n, psi[i])
		big.Set(n, i, phi[i])
	}
	rhs := make([]float64, n+1)
	rhs[n] = 1
	sol, err := linalg.Solve(big, rhs)
	if err != nil {
		return 0, nil, dynamo.Numericalf("bordered system is singular")
	}
	return sol[n], sol[:n], nil
}

// borderedScalarT solves the transposed bordered system, yielding the
// left near-null direction.
func borderedScalarT(m *mat.Dense, phi, psi []float64) (float64, []float64, error) {
	n, _ := m.Dims()
	big := mat.NewDense(n+1, n+1, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			big.Set(i, j, m.At(j, i))
		}
		big.Set(i, n, phi[i])
		big.Set(n, i, psi[i])
	}
	rhs := make([]float64, n+1)
	rhs[n] = 1
	sol, err := linalg.Solve(big, rhs)
	if err != nil {
		return 0, nil, dynamo.Numericalf("transposed bordered system is singular")
	}
	return sol[n], sol[:n], nil
}

// borders keeps one left/right border pair for a rank-one deficiency.
type borders struct {
	phi []float64
	psi []float64
}

// bordersFromMatrix seeds the pair with the singular vectors of the
// smallest singular value.
func bordersFromMatrix(m *mat.Dense) (*borders, error) {
	v1, _, u1, _, err := linalg.SmallestSingularPair(m)
	if err != nil {
		return nil, err
	}
	normalizeOrKeep(v1, nil)
	normalizeOrKeep(u1, nil)
	return &borders{phi: v1, psi: u1}, nil
}

// goldenBorders fills a border pair with a golden-ratio sequence, a
// deterministic stand-in for a random direction when no structural
// guess is available.
func goldenBorders(n int) *borders {
	const frac = 0.6180339887498949
	phi := make([]float64, n)
	x := 0.5
	for i := range phi {
		x = math.Mod(x+frac, 1)
		phi[i] = x - 0.5
	}
	normalizeOrKeep(phi, nil)
	psi := append([]float64(nil), phi...)
	return &borders{phi: phi, psi: psi}
}

// update refreshes the pair from the bordered solves on the new
// matrix. A singular bordered system stops the continuation.
func (b *borders) update(m *mat.Dense) error {
	_, v, err := borderedScalar(m, b.phi, b.psi)
	if err != nil {
		return err
	}
	_, w, err := borderedScalarT(m, b.phi, b.psi)
	if err != nil {
		return err
	}
	b.phi = normalizeOrKeep(v, b.phi)
	b.psi = normalizeOrKeep(w, b.psi)
	return nil
}

// normalizeOrKeep normalizes v in place, falling back to old when the
// norm degenerates.
func normalizeOrKeep(v, old []float64) []float64 {
	sum := 0.0
	for _, x := range v {
		sum += x * x
	}
	n := math.Sqrt(sum)
	if n < 1e-12 || math.IsNaN(n) || math.IsInf(n, 0) {
		return old
	}
	for i := range v {
		v[i] /= n
	}
	return v
}

// pairBorders keeps orthonormal two-column borders for a rank-two
// deficiency (Hopf and NS curves).
type pairBorders struct {
	v *mat.Dense // n x 2, row border
	w *mat.Dense // n x 2, column border
}

func pairBordersFromMatrix(m *mat.Dense) (*pairBorders, error) {
	v1, v2, u1, u2, err := linalg.SmallestSingularPair(m)
	if err != nil {
		return nil, err
	}
	n := len(v1)
	v := mat.NewDense(n, 2, nil)
	w := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		v.Set(i, 0, v1[i])
		v.Set(i, 1, v2[i])
		w.Set(i, 0, u1[i])
		w.Set(i, 1, u2[i])
	}
	ov, err := linalg.Orthonormalize(v)
	if err != nil {
		return nil, err
	}
	ow, err := linalg.Orthonormalize(w)
	if err != nil {
		return nil, err
	}
	return &pairBorders{v: ov, w: ow}, nil
}

// solve computes the two defining scalars from
// [M, W; V^T, 0_2] X = [0; I_2] and returns the top n x 2 solution
// block. Near a rank-two drop the trailing 2x2 block is an orthogonal
// multiple of s*I + r*Omega, so the scalars are read from its rotation
// and reflection components, whichever pair dominates. The diagonal
// alone is not enough: the distance to the locus can sit entirely in
// the off-diagonal entries.
func (pb *pairBorders) solve(m *mat.Dense) (g1, g2 float64, x *mat.Dense, err error) {
	n, _ := m.Dims()
	big := mat.NewDense(n+2, n+2, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			big.Set(i, j, m.At(i, j))
		}
		big.Set(i, n, pb.w.At(i, 0))
		big.Set(i, n+1, pb.w.At(i, 1))
		big.Set(n, i, pb.v.At(i, 0))
		big.Set(n+1, i, pb.v.At(i, 1))
	}
	x = mat.NewDense(n, 2, nil)
	var g [2][2]float64
	for c := 0; c < 2; c++ {
		rhs := make([]float64, n+2)
		rhs[n+c] = 1
		sol, serr := linalg.Solve(big, rhs)
		if serr != nil {
			return 0, 0, nil, dynamo.Numericalf("two-bordered system is singular")
		}
		for i := 0; i < n; i++ {
			x.Set(i, c, sol[i])
		}
		g[0][c] = sol[n]
		g[1][c] = sol[n+1]
	}
	rot1, rot2 := (g[0][0]+g[1][1])/2, (g[1][0]-g[0][1])/2
	ref1, ref2 := (g[0][0]-g[1][1])/2, (g[1][0]+g[0][1])/2
	if rot1*rot1+rot2*rot2 >= ref1*ref1+ref2*ref2 {
		return rot1, rot2, x, nil
	}
	return ref1, ref2, x, nil
}

// update re-orthonormalizes the borders from the current solution
// blocks of the bordered system and its transpose.
func (pb *pairBorders) update(m *mat.Dense) error {
	_, _, x, err := pb.solve(m)
	if err != nil {
		return err
	}
	n, _ := m.Dims()
	mt := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			mt.Set(i, j, m.At(j, i))
		}
	}
	swapped := &pairBorders{v: pb.w, w: pb.v}
	_, _, y, err := swapped.solve(mt)
	if err != nil {
		return err
	}
	ox, err := linalg.Orthonormalize(x)
	if err != nil {
		return err
	}
	oy, err := linalg.Orthonormalize(y)
	if err != nil {
		return err
	}
	pb.v = ox
	pb.w = oy
	return nil
}
