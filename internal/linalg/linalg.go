// Package linalg wraps the gonum/mat decompositions behind the small
// set of operations the continuation solvers need: linear solves,
// eigenpairs, sign-stabilized QR, null vectors, and the bialternate
// product.
package linalg

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"

	"github.com/avoura/bifurc/internal/dynamo"
)

// Solve solves a*x = b by LU with partial pivoting.
func Solve(a *mat.Dense, b []float64) ([]float64, error) {
	var lu mat.LU
	lu.Factorize(a)
	x := mat.NewVecDense(len(b), nil)
	if err := lu.SolveVecTo(x, false, mat.NewVecDense(len(b), b)); err != nil {
		return nil, dynamo.Numericalf("singular matrix in linear solve")
	}
	return x.RawVector().Data, nil
}

// SolveT solves aᵀ*x = b.
func SolveT(a *mat.Dense, b []float64) ([]float64, error) {
	var lu mat.LU
	lu.Factorize(a)
	x := mat.NewVecDense(len(b), nil)
	if err := lu.SolveVecTo(x, true, mat.NewVecDense(len(b), b)); err != nil {
		return nil, dynamo.Numericalf("singular matrix in transposed linear solve")
	}
	return x.RawVector().Data, nil
}

// Det returns the determinant of a.
func Det(a *mat.Dense) float64 {
	return mat.Det(a)
}

// Eigenvalues returns the complex spectrum of a.
func Eigenvalues(a *mat.Dense) ([]complex128, error) {
	var eig mat.Eigen
	if !eig.Factorize(a, mat.EigenNone) {
		return nil, dynamo.Numericalf("eigenvalue decomposition failed")
	}
	return eig.Values(nil), nil
}

// EigenVector returns a unit-norm complex eigenvector of a for the
// eigenvalue lambda. A numerically real lambda is resolved on the
// n-dimensional real matrix a - alpha*I; the stacked 2n real form is
// block-diagonal there, and its null space mixes the real vector with
// its purely imaginary copy. Complex eigenvalues use the stacked form.
func EigenVector(a *mat.Dense, lambda complex128) ([]complex128, error) {
	n, _ := a.Dims()
	alpha, beta := real(lambda), imag(lambda)
	if math.Abs(beta) <= 1e-12*(1+math.Abs(alpha)) {
		m := mat.NewDense(n, n, nil)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				v := a.At(i, j)
				if i == j {
					v -= alpha
				}
				m.Set(i, j, v)
			}
		}
		null, err := NullVector(m)
		if err != nil {
			return nil, err
		}
		norm := 0.0
		for _, x := range null {
			norm += x * x
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			return nil, dynamo.Numericalf("degenerate eigenvector")
		}
		vec := make([]complex128, n)
		for i, x := range null {
			vec[i] = complex(x/norm, 0)
		}
		return vec, nil
	}
	m := mat.NewDense(2*n, 2*n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := a.At(i, j)
			if i == j {
				v -= alpha
			}
			m.Set(i, j, v)
			m.Set(n+i, n+j, v)
		}
		m.Set(i, n+i, beta)
		m.Set(n+i, i, -beta)
	}
	null, err := NullVector(m)
	if err != nil {
		return nil, err
	}
	vec := make([]complex128, n)
	norm := 0.0
	for i := 0; i < n; i++ {
		vec[i] = complex(null[i], null[n+i])
		norm += null[i]*null[i] + null[n+i]*null[n+i]
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return nil, dynamo.Numericalf("degenerate eigenvector")
	}
	for i := range vec {
		vec[i] /= complex(norm, 0)
	}
	return vec, nil
}

// NullVector returns the right singular vector of a for its smallest
// singular value.
func NullVector(a *mat.Dense) ([]float64, error) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return nil, dynamo.Numericalf("singular value decomposition failed")
	}
	var v mat.Dense
	svd.VTo(&v)
	_, c := v.Dims()
	out := make([]float64, c)
	// singular values are in decreasing order, so the last column of
	// V spans the numerical null space
	for i := 0; i < c; i++ {
		out[i] = v.At(i, c-1)
	}
	return out, nil
}

// SmallestSingularPair returns the right and left singular vectors
// belonging to the two smallest singular values of a.
func SmallestSingularPair(a *mat.Dense) (v1, v2, u1, u2 []float64, err error) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return nil, nil, nil, nil, dynamo.Numericalf("singular value decomposition failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	n, _ := v.Dims()
	if n < 2 {
		return nil, nil, nil, nil, dynamo.Configf("matrix too small for a singular pair")
	}
	col := func(m *mat.Dense, j int) []float64 {
		r, _ := m.Dims()
		out := make([]float64, r)
		for i := 0; i < r; i++ {
			out[i] = m.At(i, j)
		}
		return out
	}
	return col(&v, n-1), col(&v, n-2), col(&u, n-1), col(&u, n-2), nil
}

// SmallestSymEig returns the smallest eigenvalue of the symmetric
// matrix g together with its eigenvector.
func SmallestSymEig(g *mat.SymDense) (float64, []float64, error) {
	var es mat.EigenSym
	if !es.Factorize(g, true) {
		return 0, nil, dynamo.Numericalf("symmetric eigenvalue decomposition failed")
	}
	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)
	n := len(vals)
	out := make([]float64, n)
	// EigenSym orders values ascending
	for i := 0; i < n; i++ {
		out[i] = vecs.At(i, 0)
	}
	return vals[0], out, nil
}

// QRPositive computes a = q*r with the diagonal of r made
// non-negative, so repeated factorizations cannot flip column signs
// between steps.
func QRPositive(a *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	r0, c0 := a.Dims()
	var qr mat.QR
	qr.Factorize(a)
	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)
	for j := 0; j < c0; j++ {
		if r.At(j, j) < 0 {
			for k := j; k < c0; k++ {
				r.Set(j, k, -r.At(j, k))
			}
			for i := 0; i < r0; i++ {
				q.Set(i, j, -q.At(i, j))
			}
		}
	}
	return &q, &r, nil
}

// Orthonormalize replaces the columns of a with an orthonormal basis
// of their span.
func Orthonormalize(a *mat.Dense) (*mat.Dense, error) {
	q, _, err := QRPositive(a)
	if err != nil {
		return nil, err
	}
	_, c := a.Dims()
	out := mat.NewDense(a.RawMatrix().Rows, c, nil)
	for i := 0; i < a.RawMatrix().Rows; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, q.At(i, j))
		}
	}
	return out, nil
}

// Bialternate returns the bialternate product 2*a (.) I of size
// n(n-1)/2, whose eigenvalues are the pairwise sums of the
// eigenvalues of a.
func Bialternate(a *mat.Dense) *mat.Dense {
	n, _ := a.Dims()
	m := n * (n - 1) / 2
	out := mat.NewDense(m, m, nil)
	delta := func(i, j int) float64 {
		if i == j {
			return 1
		}
		return 0
	}
	row := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			col := 0
			for k := 0; k < n; k++ {
				for l := k + 1; l < n; l++ {
					v := a.At(i, k)*delta(j, l) - a.At(i, l)*delta(j, k) +
						a.At(j, l)*delta(i, k) - a.At(j, k)*delta(i, l)
					out.Set(row, col, v)
					col++
				}
			}
			row++
		}
	}
	return out
}

// SortEigenvaluesDesc orders eigenvalues by descending real part,
// breaking ties by descending imaginary part.
func SortEigenvaluesDesc(vals []complex128) {
	for i := 1; i < len(vals); i++ {
		for j := i; j > 0; j-- {
			a, b := vals[j-1], vals[j]
			if real(b) > real(a) || (real(b) == real(a) && imag(b) > imag(a)) {
				vals[j-1], vals[j] = vals[j], vals[j-1]
			} else {
				break
			}
		}
	}
}

// IsRealEig reports whether lambda is numerically real.
func IsRealEig(lambda complex128, tol float64) bool {
	return math.Abs(imag(lambda)) <= tol
}

// Modulus returns |z|.
func Modulus(z complex128) float64 { return cmplx.Abs(z) }
