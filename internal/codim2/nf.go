package codim2

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"

	"github.com/avoura/bifurc/internal/dynamo"
	"github.com/avoura/bifurc/internal/linalg"
)

// Multilinear forms of the vector field are approximated by central
// differences. The step is large enough to survive the second and
// third differencing without losing the quadratic and cubic terms.
const multilinearStep = 1e-3

// bilinear evaluates B(u, v) = D2f(x)[u, v] at the current parameter
// values.
func bilinear(sys dynamo.System, x dynamo.State, u, v []float64) ([]float64, error) {
	return bilinearAt(sys, x, nil, u, v)
}

// bilinearAt evaluates the second derivative form at x + shift.
func bilinearAt(sys dynamo.System, x dynamo.State, shift, u, v []float64) ([]float64, error) {
	n := len(x)
	base := make(dynamo.State, n)
	copy(base, x)
	if shift != nil {
		for i := range base {
			base[i] += shift[i]
		}
	}
	h := multilinearStep
	pt := make(dynamo.State, n)
	eval := func(su, sv float64) (dynamo.State, error) {
		for i := range pt {
			pt[i] = base[i] + su*h*u[i] + sv*h*v[i]
		}
		out := make(dynamo.State, n)
		if err := sys.Eval(pt, out); err != nil {
			return nil, err
		}
		return out, nil
	}
	fpp, err := eval(1, 1)
	if err != nil {
		return nil, err
	}
	fpm, err := eval(1, -1)
	if err != nil {
		return nil, err
	}
	fmp, err := eval(-1, 1)
	if err != nil {
		return nil, err
	}
	fmm, err := eval(-1, -1)
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = (fpp[i] - fpm[i] - fmp[i] + fmm[i]) / (4 * h * h)
	}
	return out, nil
}

// trilinear evaluates C(u, v, w) = D3f(x)[u, v, w] as a central
// difference of the bilinear form along w.
func trilinear(sys dynamo.System, x dynamo.State, u, v, w []float64) ([]float64, error) {
	n := len(x)
	h := multilinearStep
	plus := make([]float64, n)
	minus := make([]float64, n)
	for i := 0; i < n; i++ {
		plus[i] = h * w[i]
		minus[i] = -h * w[i]
	}
	bp, err := bilinearAt(sys, x, plus, u, v)
	if err != nil {
		return nil, err
	}
	bm, err := bilinearAt(sys, x, minus, u, v)
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = (bp[i] - bm[i]) / (2 * h)
	}
	return out, nil
}

// complexBilinear expands B over complex arguments through real
// bilinearity.
func complexBilinear(sys dynamo.System, x dynamo.State, u, v []complex128) ([]complex128, error) {
	n := len(x)
	ur, ui := splitComplex(u)
	vr, vi := splitComplex(v)
	brr, err := bilinear(sys, x, ur, vr)
	if err != nil {
		return nil, err
	}
	bii, err := bilinear(sys, x, ui, vi)
	if err != nil {
		return nil, err
	}
	bri, err := bilinear(sys, x, ur, vi)
	if err != nil {
		return nil, err
	}
	bir, err := bilinear(sys, x, ui, vr)
	if err != nil {
		return nil, err
	}
	out := make([]complex128, n)
	for i := 0; i < n; i++ {
		out[i] = complex(brr[i]-bii[i], bri[i]+bir[i])
	}
	return out, nil
}

// lyapunovFirst computes the first Lyapunov coefficient at a Hopf
// point with frequency omega, using the projection formula
//
//	l1 = Re( <p, C(q,q,conj q)>
//	       - 2 <p, B(q, A^-1 B(q,conj q))>
//	       + <p, B(conj q, (2 i omega I - A)^-1 B(q,q))> ) / (2 omega)
//
// with A q = i omega q, A^T p = -i omega p and <p, q> = 1.
func lyapunovFirst(sys dynamo.System, x dynamo.State, omega float64) (float64, error) {
	if omega <= 0 {
		return 0, dynamo.Numericalf("hopf frequency must be positive, got %g", omega)
	}
	n := len(x)
	jac := mat.NewDense(n, n, nil)
	if err := sys.Jacobian(x, jac); err != nil {
		return 0, err
	}
	q, err := linalg.EigenVector(jac, complex(0, omega))
	if err != nil {
		return 0, err
	}
	normalizeComplex(q)
	jt := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			jt.Set(i, j, jac.At(j, i))
		}
	}
	p, err := linalg.EigenVector(jt, complex(0, -omega))
	if err != nil {
		return 0, err
	}
	// scale p so that <p, q> = sum conj(p_i) q_i = 1
	var ip complex128
	for i := 0; i < n; i++ {
		ip += cmplx.Conj(p[i]) * q[i]
	}
	if cmplx.Abs(ip) < 1e-12 {
		return 0, dynamo.Numericalf("adjoint eigenvector is orthogonal to the hopf eigenvector")
	}
	scale := cmplx.Conj(1 / ip)
	for i := range p {
		p[i] *= scale
	}

	qbar := make([]complex128, n)
	for i := range q {
		qbar[i] = cmplx.Conj(q[i])
	}

	cqq, err := complexTrilinear(sys, x, q, q, qbar)
	if err != nil {
		return 0, err
	}
	bqqbar, err := complexBilinear(sys, x, q, qbar)
	if err != nil {
		return 0, err
	}
	bqq, err := complexBilinear(sys, x, q, q)
	if err != nil {
		return 0, err
	}

	// s1 = A^-1 B(q, conj q); the right side is real
	rhs1 := make([]float64, n)
	for i := 0; i < n; i++ {
		rhs1[i] = real(bqqbar[i])
	}
	s1, err := linalg.Solve(jac, rhs1)
	if err != nil {
		return 0, err
	}
	s1c := make([]complex128, n)
	for i := range s1 {
		s1c[i] = complex(s1[i], 0)
	}
	r1, err := complexBilinear(sys, x, q, s1c)
	if err != nil {
		return 0, err
	}

	// s2 = (2 i omega I - A)^-1 B(q, q), solved as a stacked real
	// system in (Re s2, Im s2)
	big := mat.NewDense(2*n, 2*n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			big.Set(i, j, -jac.At(i, j))
			big.Set(n+i, n+j, -jac.At(i, j))
		}
		big.Set(i, n+i, -2*omega)
		big.Set(n+i, i, 2*omega)
	}
	rhs2 := make([]float64, 2*n)
	for i := 0; i < n; i++ {
		rhs2[i] = real(bqq[i])
		rhs2[n+i] = imag(bqq[i])
	}
	s2raw, err := linalg.Solve(big, rhs2)
	if err != nil {
		return 0, err
	}
	s2 := make([]complex128, n)
	for i := 0; i < n; i++ {
		s2[i] = complex(s2raw[i], s2raw[n+i])
	}
	r2, err := complexBilinear(sys, x, qbar, s2)
	if err != nil {
		return 0, err
	}

	var g complex128
	for i := 0; i < n; i++ {
		g += cmplx.Conj(p[i]) * (cqq[i] - 2*r1[i] + r2[i])
	}
	return real(g) / (2 * omega), nil
}

// complexTrilinear expands C over complex arguments.
func complexTrilinear(sys dynamo.System, x dynamo.State, u, v, w []complex128) ([]complex128, error) {
	n := len(x)
	parts := [][]complex128{u, v, w}
	out := make([]complex128, n)
	// expand each argument into real and imaginary components
	for a := 0; a < 2; a++ {
		for b := 0; b < 2; b++ {
			for c := 0; c < 2; c++ {
				va := component(parts[0], a)
				vb := component(parts[1], b)
				vc := component(parts[2], c)
				t, err := trilinear(sys, x, va, vb, vc)
				if err != nil {
					return nil, err
				}
				// each imaginary component contributes a factor i
				switch (a + b + c) % 4 {
				case 0:
					for i := range out {
						out[i] += complex(t[i], 0)
					}
				case 1:
					for i := range out {
						out[i] += complex(0, t[i])
					}
				case 2:
					for i := range out {
						out[i] -= complex(t[i], 0)
					}
				case 3:
					for i := range out {
						out[i] -= complex(0, t[i])
					}
				}
			}
		}
	}
	return out, nil
}

func component(v []complex128, which int) []float64 {
	out := make([]float64, len(v))
	for i, z := range v {
		if which == 0 {
			out[i] = real(z)
		} else {
			out[i] = imag(z)
		}
	}
	return out
}

func splitComplex(v []complex128) (re, im []float64) {
	re = make([]float64, len(v))
	im = make([]float64, len(v))
	for i, z := range v {
		re[i] = real(z)
		im[i] = imag(z)
	}
	return re, im
}

func normalizeComplex(v []complex128) {
	sum := 0.0
	for _, z := range v {
		sum += real(z)*real(z) + imag(z)*imag(z)
	}
	n := math.Sqrt(sum)
	if n < 1e-300 {
		return
	}
	for i := range v {
		v[i] = complex(real(v[i])/n, imag(v[i])/n)
	}
}
