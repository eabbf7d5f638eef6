package cycle

import (
	"math"

	"github.com/avoura/bifurc/internal/dynamo"
)

// Scheme holds the Gauss-Legendre collocation coefficients for one
// polynomial degree: the nodes and quadrature weights on the unit
// interval and the Runge-Kutta matrix A with a[s][k] equal to the
// integral of the k-th Lagrange basis from 0 to node s.
type Scheme struct {
	Ncol    int
	Nodes   []float64
	Weights []float64
	A       [][]float64
}

// NewScheme computes the collocation coefficients for the requested
// degree at runtime.
func NewScheme(ncol int) (*Scheme, error) {
	if ncol < 1 {
		return nil, dynamo.Configf("collocation degree must be positive")
	}
	if ncol > 7 {
		return nil, dynamo.Configf("collocation degree %d exceeds the supported maximum 7", ncol)
	}
	nodes, weights := gaussNodes(ncol)
	return &Scheme{
		Ncol:    ncol,
		Nodes:   nodes,
		Weights: weights,
		A:       collocationMatrix(nodes),
	}, nil
}

// legendre evaluates P_n and its derivative at x by the three-term
// recurrence.
func legendre(n int, x float64) (float64, float64) {
	p0, p1 := 1.0, x
	for k := 2; k <= n; k++ {
		p0, p1 = p1, ((2*float64(k)-1)*x*p1-(float64(k)-1)*p0)/float64(k)
	}
	if n == 0 {
		return 1, 0
	}
	if n == 1 {
		return x, 1
	}
	dp := float64(n) * (x*p1 - p0) / (x*x - 1)
	return p1, dp
}

// gaussNodes returns the n Gauss-Legendre nodes and weights mapped to
// the unit interval.
func gaussNodes(n int) (nodes, weights []float64) {
	nodes = make([]float64, n)
	weights = make([]float64, n)
	for i := 0; i < n; i++ {
		// Newton from the Chebyshev estimate
		x := math.Cos(math.Pi * (float64(i) + 0.75) / (float64(n) + 0.5))
		for it := 0; it < 100; it++ {
			p, dp := legendre(n, x)
			dx := p / dp
			x -= dx
			if math.Abs(dx) < 1e-15 {
				break
			}
		}
		_, dp := legendre(n, x)
		w := 2 / ((1 - x*x) * dp * dp)
		// map [-1,1] -> [0,1], ascending order
		nodes[n-1-i] = (x + 1) / 2
		weights[n-1-i] = w / 2
	}
	return nodes, weights
}

// lagrangeAt evaluates the k-th Lagrange basis polynomial over the
// given nodes at tau.
func lagrangeAt(nodes []float64, k int, tau float64) float64 {
	v := 1.0
	for j, c := range nodes {
		if j == k {
			continue
		}
		v *= (tau - c) / (nodes[k] - c)
	}
	return v
}

func collocationMatrix(nodes []float64) [][]float64 {
	n := len(nodes)
	qn, qw := gaussNodes(maxInt(n+2, 8))
	a := make([][]float64, n)
	for s := 0; s < n; s++ {
		a[s] = make([]float64, n)
		for k := 0; k < n; k++ {
			sum := 0.0
			for q := range qn {
				tau := nodes[s] * qn[q]
				sum += nodes[s] * qw[q] * lagrangeAt(nodes, k, tau)
			}
			a[s][k] = sum
		}
	}
	return a
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
