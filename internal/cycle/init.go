package cycle

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"

	"github.com/avoura/bifurc/internal/dynamo"
	"github.com/avoura/bifurc/internal/linalg"
)

// SeedFromHopf builds an initial small-amplitude orbit from a Hopf
// point. The critical pair is read off the Jacobian at the
// equilibrium; the seed traces an ellipse of the given amplitude in
// the plane of the critical eigenvector with period 2*pi/omega.
func (p *Problem) SeedFromHopf(x0 dynamo.State, paramValue, amplitude float64) ([]float64, error) {
	if len(x0) != p.n {
		return nil, dynamo.Configf("hopf point dimension %d does not match system dimension %d", len(x0), p.n)
	}
	if amplitude <= 0 {
		return nil, dynamo.Configf("hopf seed amplitude must be positive")
	}
	var omega float64
	var vre, vim []float64
	err := dynamo.WithParam(p.sys, p.param, paramValue, func() error {
		if err := p.sys.Jacobian(x0, p.jac); err != nil {
			return err
		}
		vals, err := linalg.Eigenvalues(p.jac)
		if err != nil {
			return err
		}
		// the critical pair: smallest |Re| among complex pairs
		best := -1
		for i, v := range vals {
			if imag(v) <= 1e-10 {
				continue
			}
			if best < 0 || math.Abs(real(v)) < math.Abs(real(vals[best])) {
				best = i
			}
		}
		if best < 0 {
			return dynamo.Numericalf("no complex eigenvalue pair at the hopf candidate")
		}
		omega = imag(vals[best])
		vec, err := linalg.EigenVector(p.jac, vals[best])
		if err != nil {
			return err
		}
		vre = make([]float64, p.n)
		vim = make([]float64, p.n)
		norm := 0.0
		for _, c := range vec {
			norm += real(c)*real(c) + imag(c)*imag(c)
		}
		norm = math.Sqrt(norm)
		for i, c := range vec {
			vre[i] = real(c) / norm
			vim[i] = imag(c) / norm
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	T := 2 * math.Pi / omega
	at := func(tau float64, out []float64) {
		ang := 2 * math.Pi * tau
		c, s := math.Cos(ang), math.Sin(ang)
		for j := 0; j < p.n; j++ {
			out[j] = x0[j] + amplitude*(vre[j]*c-vim[j]*s)
		}
	}
	aug := p.fillFromCurve(at, T, paramValue)
	if err := p.freezePhase(aug); err != nil {
		return nil, err
	}
	return aug, nil
}

// SeedFromOrbit builds a seed from an integrated trajectory assumed to
// settle onto a periodic orbit. The period is estimated by the closest
// return to the first sample; the mesh is filled by linear
// interpolation over one period.
func (p *Problem) SeedFromOrbit(traj []dynamo.State, times []float64, paramValue float64) ([]float64, error) {
	if len(traj) != len(times) {
		return nil, dynamo.Configf("trajectory has %d states but %d time stamps", len(traj), len(times))
	}
	if len(traj) < 4 {
		return nil, dynamo.Configf("trajectory too short to estimate a period")
	}
	x0 := traj[0]
	if len(x0) != p.n {
		return nil, dynamo.Configf("trajectory dimension %d does not match system dimension %d", len(x0), p.n)
	}
	// closest return, skipping the first quarter of the samples so the
	// initial departure does not win
	best, bd := -1, math.Inf(1)
	for i := len(traj) / 4; i < len(traj); i++ {
		d := 0.0
		for j := range x0 {
			dv := traj[i][j] - x0[j]
			d += dv * dv
		}
		if d < bd {
			best, bd = i, d
		}
	}
	if best <= 0 || times[best] <= times[0] {
		return nil, dynamo.Numericalf("no return to the initial state found in the trajectory")
	}
	T := times[best] - times[0]
	at := func(tau float64, out []float64) {
		t := times[0] + tau*T
		k := 0
		for k < best && times[k+1] < t {
			k++
		}
		if k >= best {
			copy(out, traj[best])
			return
		}
		w := (t - times[k]) / (times[k+1] - times[k])
		for j := 0; j < p.n; j++ {
			out[j] = (1-w)*traj[k][j] + w*traj[k+1][j]
		}
	}
	aug := p.fillFromCurve(at, T, paramValue)
	if err := p.freezePhase(aug); err != nil {
		return nil, err
	}
	return aug, nil
}

// SeedFromPD builds a doubled-period seed from a period-doubling point
// of a coarser cycle. src must use the same collocation scheme; the
// new orbit traverses the old one twice, displaced along the Floquet
// mode of the multiplier nearest -1 with opposite signs on the two
// passes. The receiver must have twice the interval count of src.
func (p *Problem) SeedFromPD(src *Problem, srcAug []float64, eps float64) ([]float64, error) {
	if p.ntst != 2*src.ntst || p.ncol != src.ncol {
		return nil, dynamo.Configf("doubled problem must have twice the intervals of the source at equal degree")
	}
	if eps <= 0 {
		return nil, dynamo.Configf("period doubling seed displacement must be positive")
	}
	m, err := src.Monodromy(srcAug)
	if err != nil {
		return nil, err
	}
	vals, err := linalg.Eigenvalues(m)
	if err != nil {
		return nil, err
	}
	best, bd := -1, math.Inf(1)
	for i, v := range vals {
		d := cmplx.Abs(v + 1)
		if d < bd {
			best, bd = i, d
		}
	}
	if best < 0 || bd > 0.5 {
		return nil, dynamo.Numericalf("no multiplier near -1 at the period doubling candidate")
	}
	vec, err := linalg.EigenVector(m, vals[best])
	if err != nil {
		return nil, err
	}
	mode := make([]float64, src.n)
	for i, c := range vec {
		mode[i] = real(c)
	}
	normalizeVec(mode)

	// propagate the mode along the orbit with the trapezoidal factors
	// used for the monodromy, so the displacement follows the orbit
	modes := make([][]float64, src.ntst+1)
	modes[0] = mode
	paramValue := srcAug[src.ParamIndex()]
	h := src.Period(srcAug) / float64(src.ntst)
	err = dynamo.WithParam(src.sys, src.param, paramValue, func() error {
		a := mat.NewDense(src.n, src.n, nil)
		b := mat.NewDense(src.n, src.n, nil)
		cur := mat.NewVecDense(src.n, append([]float64(nil), mode...))
		next := mat.NewVecDense(src.n, nil)
		tmp := mat.NewVecDense(src.n, nil)
		for i := 0; i < src.ntst; i++ {
			if err := src.sys.Jacobian(srcAug[src.meshOff(i):src.meshOff(i)+src.n], src.jac); err != nil {
				return err
			}
			halfStep(a, src.jac, h/2)
			if err := src.sys.Jacobian(srcAug[src.meshOff(i+1):src.meshOff(i+1)+src.n], src.jac); err != nil {
				return err
			}
			halfStep(b, src.jac, -h/2)
			tmp.MulVec(a, cur)
			var lu mat.LU
			lu.Factorize(b)
			if err := lu.SolveVecTo(next, false, tmp); err != nil {
				return dynamo.Numericalf("floquet mode propagation failed at interval %d", i)
			}
			w := make([]float64, src.n)
			copy(w, next.RawVector().Data)
			normalizeVec(w)
			modes[i+1] = w
			cur.CopyVec(next)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	T := src.Period(srcAug)
	srcMesh := src.Mesh(srcAug)
	at := func(tau float64, out []float64) {
		// two passes over the source orbit; the mode sign flips on
		// the second pass
		phase := 2 * tau
		sign := 1.0
		if phase >= 1 {
			phase -= 1
			sign = -1
		}
		pos := phase * float64(src.ntst)
		k := int(pos)
		if k >= src.ntst {
			k = src.ntst - 1
		}
		w := pos - float64(k)
		for j := 0; j < src.n; j++ {
			base := (1-w)*srcMesh[k][j] + w*srcMesh[k+1][j]
			disp := (1-w)*modes[k][j] + w*modes[k+1][j]
			out[j] = base + sign*eps*disp
		}
	}
	aug := p.fillFromCurve(at, 2*T, paramValue)
	if err := p.freezePhase(aug); err != nil {
		return nil, err
	}
	return aug, nil
}

// fillFromCurve samples a closed curve parameterized on [0,1] onto the
// mesh and stage points.
func (p *Problem) fillFromCurve(at func(tau float64, out []float64), T, paramValue float64) []float64 {
	aug := make([]float64, p.Dim()+1)
	h := 1 / float64(p.ntst)
	for i := 0; i <= p.ntst; i++ {
		at(float64(i)*h, aug[p.meshOff(i):p.meshOff(i)+p.n])
	}
	for i := 0; i < p.ntst; i++ {
		for s := 0; s < p.ncol; s++ {
			at((float64(i)+p.sc.Nodes[s])*h, aug[p.stageOff(i, s):p.stageOff(i, s)+p.n])
		}
	}
	aug[p.periodOff()] = T
	aug[p.ParamIndex()] = paramValue
	return aug
}

func normalizeVec(v []float64) {
	n := 0.0
	for _, x := range v {
		n += x * x
	}
	n = math.Sqrt(n)
	if n == 0 {
		return
	}
	for i := range v {
		v[i] /= n
	}
}
