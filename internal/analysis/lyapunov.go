package analysis

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/avoura/bifurc/internal/dynamo"
	"github.com/avoura/bifurc/internal/integrators"
	"github.com/avoura/bifurc/internal/linalg"
)

// LyapunovSettings configures the spectrum computation. QRStride is
// the number of steps between reorthonormalizations.
type LyapunovSettings struct {
	T0       float64 `json:"t0"`
	Steps    int     `json:"steps"`
	Dt       float64 `json:"dt"`
	QRStride int     `json:"qr_stride"`
}

func DefaultLyapunovSettings() LyapunovSettings {
	return LyapunovSettings{Steps: 1000, Dt: 0.01, QRStride: 10}
}

func (s LyapunovSettings) validate() error {
	if s.Steps <= 0 {
		return dynamo.Configf("lyapunov step count must be positive, got %d", s.Steps)
	}
	if s.Dt <= 0 {
		return dynamo.Configf("lyapunov step size must be positive, got %g", s.Dt)
	}
	if s.QRStride <= 0 {
		return dynamo.Configf("qr stride must be positive, got %d", s.QRStride)
	}
	return nil
}

// tangentFunc is the augmented flow [x, Phi] with Phi' = J(x)*Phi,
// Phi stored row-major after the state. For maps the same layout
// gives the image pair [f(x), J(x)*Phi].
func tangentFunc(sys dynamo.System) integrators.Func {
	n := sys.Dim()
	jac := mat.NewDense(n, n, nil)
	f := make(dynamo.State, n)
	return func(_ float64, aug, out []float64) error {
		x := dynamo.State(aug[:n])
		if err := sys.Eval(x, f); err != nil {
			return err
		}
		copy(out[:n], f)
		if err := sys.Jacobian(x, jac); err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				sum := 0.0
				for k := 0; k < n; k++ {
					sum += jac.At(i, k) * aug[n+k*n+j]
				}
				out[n+i*n+j] = sum
			}
		}
		return nil
	}
}

// LyapunovSpectrum computes all Lyapunov exponents along the
// trajectory from x0 by transporting a full tangent frame and
// accumulating the log of the QR diagonal at every stride.
func LyapunovSpectrum(sys dynamo.System, stepper integrators.Stepper, x0 dynamo.State, settings LyapunovSettings) ([]float64, error) {
	if len(x0) == 0 {
		return nil, dynamo.Configf("lyapunov initial state is empty")
	}
	if len(x0) != sys.Dim() {
		return nil, dynamo.Configf("initial state length %d does not match system dimension %d", len(x0), sys.Dim())
	}
	if err := settings.validate(); err != nil {
		return nil, err
	}
	n := len(x0)
	aug := make([]float64, n+n*n)
	copy(aug, x0)
	for i := 0; i < n; i++ {
		aug[n+i*n+i] = 1
	}
	f := tangentFunc(sys)
	sums := make([]float64, n)
	t := settings.T0
	phi := mat.NewDense(n, n, nil)

	renorm := func() error {
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				phi.Set(i, j, aug[n+i*n+j])
			}
		}
		q, r, err := linalg.QRPositive(phi)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			d := math.Abs(r.At(i, i))
			if d < 1e-300 {
				return dynamo.Numericalf("tangent frame collapsed: |r_%d%d| = %g", i, i, d)
			}
			sums[i] += math.Log(d)
		}
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				aug[n+i*n+j] = q.At(i, j)
			}
		}
		return nil
	}

	for step := 1; step <= settings.Steps; step++ {
		if err := stepper.Step(f, &t, aug, settings.Dt); err != nil {
			return nil, err
		}
		if !dynamo.State(aug).IsValid() {
			return nil, dynamo.Numericalf("lyapunov trajectory became non-finite at step %d", step)
		}
		if step%settings.QRStride == 0 {
			if err := renorm(); err != nil {
				return nil, err
			}
		}
	}
	if settings.Steps%settings.QRStride != 0 {
		if err := renorm(); err != nil {
			return nil, err
		}
	}
	total := float64(settings.Steps) * settings.Dt
	out := make([]float64, n)
	for i := range out {
		out[i] = sums[i] / total
	}
	return out, nil
}

// KaplanYorke computes the Lyapunov dimension: the largest k with a
// non-negative partial sum, plus the fractional overshoot into the
// next exponent.
func KaplanYorke(exponents []float64) float64 {
	if len(exponents) == 0 {
		return 0
	}
	vals := append([]float64(nil), exponents...)
	sort.Sort(sort.Reverse(sort.Float64Slice(vals)))
	partial := 0.0
	k := 0
	for k < len(vals) && partial+vals[k] >= 0 {
		partial += vals[k]
		k++
	}
	if k >= len(vals) {
		return float64(k)
	}
	next := math.Abs(vals[k])
	if next < 1e-300 {
		return float64(k)
	}
	return float64(k) + partial/next
}
