package cont

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/avoura/bifurc/internal/dynamo"
	"github.com/avoura/bifurc/internal/linalg"
)

// Tangent computes a unit tangent to the solution curve at aug: the
// null direction of the extended Jacobian, via the smallest eigenpair
// of the Gram matrix with Tikhonov retries, falling back to bordered
// solves over a sweep of border rows.
func Tangent(p Problem, aug []float64, prev []float64) ([]float64, error) {
	d := p.Dim()
	jac := mat.NewDense(d, d+1, nil)
	if err := p.ExtJacobian(aug, jac); err != nil {
		return nil, err
	}

	t, err := gramTangent(jac, d)
	if err != nil {
		t, err = borderedTangent(jac, d)
	}
	if err != nil {
		// last resort: march along the first unknown
		t = make([]float64, d+1)
		t[0] = 1
	}

	if prev != nil {
		dot := 0.0
		for i := range t {
			dot += t[i] * prev[i]
		}
		if dot < 0 {
			for i := range t {
				t[i] = -t[i]
			}
		}
	}
	return t, nil
}

func gramTangent(jac *mat.Dense, d int) ([]float64, error) {
	n := d + 1
	gram := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sum := 0.0
			for k := 0; k < d; k++ {
				sum += jac.At(k, i) * jac.At(k, j)
			}
			gram.SetSym(i, j, sum)
		}
	}

	eps := 0.0
	for try := 0; try < 5; try++ {
		reg := mat.NewSymDense(n, nil)
		reg.CopySym(gram)
		if eps > 0 {
			for i := 0; i < n; i++ {
				reg.SetSym(i, i, reg.At(i, i)+eps)
			}
		}
		_, vec, err := linalg.SmallestSymEig(reg)
		if err == nil && normalize(vec) {
			if allFinite(vec) {
				return vec, nil
			}
		}
		if eps == 0 {
			eps = 1e-12
		} else {
			eps *= 10
		}
	}
	return nil, dynamo.Numericalf("gram tangent computation failed")
}

func borderedTangent(jac *mat.Dense, d int) ([]float64, error) {
	n := d + 1
	// preferred border rows first, then the full sweep
	candidates := []int{0, d, 1}
	for k := 0; k <= d; k++ {
		candidates = append(candidates, k)
	}
	seen := make(map[int]bool)
	for _, k := range candidates {
		if k > d || seen[k] {
			continue
		}
		seen[k] = true
		m := mat.NewDense(n, n, nil)
		for i := 0; i < d; i++ {
			for j := 0; j < n; j++ {
				m.Set(i, j, jac.At(i, j))
			}
		}
		m.Set(d, k, 1)
		rhs := make([]float64, n)
		rhs[d] = 1
		t, err := linalg.Solve(m, rhs)
		if err != nil {
			continue
		}
		if allFinite(t) && normalize(t) {
			return t, nil
		}
	}
	return nil, dynamo.Numericalf("bordered tangent computation failed")
}

func normalize(v []float64) bool {
	sum := 0.0
	for _, x := range v {
		sum += x * x
	}
	norm := math.Sqrt(sum)
	if norm < 1e-14 {
		return false
	}
	for i := range v {
		v[i] /= norm
	}
	return true
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
