// Package homoclinic continues saddle-to-saddle connecting orbits in
// two parameters. The orbit is truncated to a finite window [-T, T],
// discretized by Gauss collocation like a cycle but without the
// wrap-around, and closed by projection boundary conditions whose
// invariant subspaces are tracked through Riccati unknowns.
package homoclinic

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/avoura/bifurc/internal/cycle"
	"github.com/avoura/bifurc/internal/dynamo"
	"github.com/avoura/bifurc/internal/equil"
	"github.com/avoura/bifurc/internal/linalg"
)

// Setup carries everything needed to build a homoclinic continuation
// problem: the discretization, the saddle, the truncation scalars,
// the frozen subspace bases, and which scalars are freed as unknowns.
type Setup struct {
	Ntst int
	Ncol int
	Dim  int

	Param1 string
	Param2 string

	// truncation scalars; a freed scalar joins the unknowns and the
	// stored value becomes its seed
	Time float64
	Eps0 float64
	Eps1 float64

	FreeTime bool
	FreeEps0 bool
	FreeEps1 bool

	// saddle spectrum split: NNeg stable and NPos unstable directions
	NNeg int
	NPos int

	// orthonormal frames with the unstable (resp. stable) subspace in
	// the leading columns
	BasisU *mat.Dense
	BasisS *mat.Dense

	X0     dynamo.State
	Mesh   []float64 // (ntst+1)*dim seed orbit points
	Stages []float64 // ntst*ncol*dim seed stage values
}

// FreeExtras counts the truncation scalars freed as unknowns.
func (s *Setup) FreeExtras() int {
	n := 0
	if s.FreeTime {
		n++
	}
	if s.FreeEps0 {
		n++
	}
	if s.FreeEps1 {
		n++
	}
	return n
}

func (s *Setup) validate() error {
	if s.Ntst <= 0 {
		return dynamo.Configf("mesh interval count must be positive, got %d", s.Ntst)
	}
	if s.Param1 == s.Param2 {
		return dynamo.Configf("homoclinic parameters must be distinct, got %q twice", s.Param1)
	}
	if s.Time <= 0 {
		return dynamo.Configf("truncation half-window must be positive, got %g", s.Time)
	}
	if s.Eps0 <= 0 || s.Eps1 <= 0 {
		return dynamo.Configf("endpoint distances must be positive, got %g and %g", s.Eps0, s.Eps1)
	}
	if s.NNeg+s.NPos != s.Dim {
		return dynamo.Invariantf("subspace split %d+%d does not cover dimension %d", s.NNeg, s.NPos, s.Dim)
	}
	if s.NNeg == 0 || s.NPos == 0 {
		return dynamo.Configf("the saddle must have both stable and unstable directions")
	}
	if len(s.X0) != s.Dim {
		return dynamo.Invariantf("saddle state length %d does not match dimension %d", len(s.X0), s.Dim)
	}
	want := (s.Ntst + 1) * s.Dim
	if len(s.Mesh) != want {
		return dynamo.Invariantf("seed mesh length %d, want %d", len(s.Mesh), want)
	}
	if len(s.Stages) != s.Ntst*s.Ncol*s.Dim {
		return dynamo.Invariantf("seed stage length %d, want %d", len(s.Stages), s.Ntst*s.Ncol*s.Dim)
	}
	return nil
}

// riccatiSize is the number of Riccati unknowns, both subspaces.
func (s *Setup) riccatiSize() int { return 2 * s.NNeg * s.NPos }

// unknowns is the augmented length minus the leading p1.
func (s *Setup) unknowns() int {
	return (s.Ntst+1+s.Ntst*s.Ncol)*s.Dim + s.Dim + 1 + s.FreeExtras() + s.riccatiSize()
}

// SeedAug packs the stored seed into the problem's augmented layout
// [p1, mesh, stages, x0, p2, freed extras, Yu, Ys], with both Riccati
// blocks seeded at zero.
func (s *Setup) SeedAug(p1v, p2v float64) []float64 {
	aug := make([]float64, 0, s.unknowns()+1)
	aug = append(aug, p1v)
	aug = append(aug, s.Mesh...)
	aug = append(aug, s.Stages...)
	aug = append(aug, s.X0...)
	aug = append(aug, p2v)
	if s.FreeTime {
		aug = append(aug, s.Time)
	}
	if s.FreeEps0 {
		aug = append(aug, s.Eps0)
	}
	if s.FreeEps1 {
		aug = append(aug, s.Eps1)
	}
	for i := 0; i < s.riccatiSize(); i++ {
		aug = append(aug, 0)
	}
	return aug
}

// DecodeRiccati splits the trailing unknowns of a recorded state back
// into the two Riccati blocks, checking the declared split.
func (s *Setup) DecodeRiccati(state []float64) (yu, ys []float64, err error) {
	if len(state) != s.unknowns() {
		return nil, nil, dynamo.Invariantf("homoclinic state length %d does not match riccati split %dx%d", len(state), s.NNeg, s.NPos)
	}
	nm := s.NNeg * s.NPos
	tail := state[len(state)-2*nm:]
	return tail[:nm], tail[nm:], nil
}

// invariantBases splits the spectrum of jac by real-part sign and
// returns orthonormal frames with the unstable (basisU) or stable
// (basisS) subspace leading.
func invariantBases(jac *mat.Dense) (nneg, npos int, basisU, basisS *mat.Dense, err error) {
	n, _ := jac.Dims()
	vals, err := linalg.Eigenvalues(jac)
	if err != nil {
		return 0, 0, nil, nil, err
	}
	linalg.SortEigenvaluesDesc(vals)
	var unstable, stable [][]float64
	for i := 0; i < len(vals); i++ {
		lam := vals[i]
		if imag(lam) < -1e-10 {
			// conjugate partner already handled
			continue
		}
		vec, verr := linalg.EigenVector(jac, lam)
		if verr != nil {
			return 0, 0, nil, nil, verr
		}
		re := make([]float64, n)
		im := make([]float64, n)
		for k, z := range vec {
			re[k] = real(z)
			im[k] = imag(z)
		}
		cols := [][]float64{re}
		if imag(lam) > 1e-10 {
			cols = append(cols, im)
		}
		if real(lam) > 1e-9 {
			unstable = append(unstable, cols...)
		} else {
			stable = append(stable, cols...)
		}
	}
	npos = len(unstable)
	nneg = n - npos
	basisU, err = completeFrame(n, append(unstable, stable...))
	if err != nil {
		return 0, 0, nil, nil, err
	}
	basisS, err = completeFrame(n, append(stable, unstable...))
	if err != nil {
		return 0, 0, nil, nil, err
	}
	return nneg, npos, basisU, basisS, nil
}

// completeFrame pads the given columns with canonical axes and
// orthonormalizes, keeping the leading columns spanning the leading
// subspace.
func completeFrame(n int, cols [][]float64) (*mat.Dense, error) {
	a := mat.NewDense(n, n, nil)
	for j := 0; j < n; j++ {
		if j < len(cols) {
			for i := 0; i < n; i++ {
				a.Set(i, j, cols[j][i])
			}
		} else {
			a.Set(j, j, 1)
		}
	}
	q, _, err := linalg.QRPositive(a)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(n, n, nil)
	out.Copy(q)
	return out, nil
}

// FromCycle builds a homoclinic setup out of a large limit cycle that
// passes near a saddle: the mesh point with the smallest vector field
// is polished into the saddle, the interval through it is dropped,
// and the remaining open orbit is remeshed onto the target grid. The
// endpoint distances are freed; the half-window stays fixed.
func FromCycle(sys dynamo.System, lc dynamo.State, srcNtst, srcNcol, ntst, ncol int, p1, p2 string) (*Setup, error) {
	if p1 == p2 {
		return nil, dynamo.Configf("homoclinic parameters must be distinct, got %q twice", p1)
	}
	if _, err := sys.Param(p1); err != nil {
		return nil, err
	}
	if _, err := sys.Param(p2); err != nil {
		return nil, err
	}
	if ntst <= 1 || srcNtst <= 1 {
		return nil, dynamo.Configf("homoclinic remeshing needs at least two mesh intervals")
	}
	dim := sys.Dim()
	want := (srcNtst + 1 + srcNtst*srcNcol) * dim
	if len(lc) != want+1 {
		return nil, dynamo.Configf("cycle state length %d does not match mesh %dx%d in dimension %d", len(lc), srcNtst, srcNcol, dim)
	}
	period := lc[want]
	if period <= 0 {
		return nil, dynamo.Configf("cycle period must be positive, got %g", period)
	}

	// saddle seed: the mesh point where the flow is slowest
	f := make(dynamo.State, dim)
	best, bestNorm := 0, math.Inf(1)
	for i := 0; i <= srcNtst; i++ {
		u := dynamo.State(lc[i*dim : (i+1)*dim])
		if err := sys.Eval(u, f); err != nil {
			return nil, err
		}
		if n := f.Norm(); n < bestNorm {
			best, bestNorm = i, n
		}
	}
	if best == srcNtst {
		best = 0
	}

	x0, err := polishSaddle(sys, dynamo.State(lc[best*dim:(best+1)*dim]).Clone())
	if err != nil {
		return nil, err
	}

	// open orbit: walk the cycle from the point after the saddle seed
	// all the way around, dropping the interval through the seed
	open := make([]float64, 0, srcNtst*dim)
	for k := 1; k <= srcNtst; k++ {
		i := (best + k) % srcNtst
		open = append(open, lc[i*dim:(i+1)*dim]...)
	}

	sc, err := cycle.NewScheme(ncol)
	if err != nil {
		return nil, err
	}
	mesh, stages := remeshOpen(open, dim, ntst, sc)

	eps0 := distance(mesh[:dim], x0)
	eps1 := distance(mesh[len(mesh)-dim:], x0)
	if eps0 < 1e-8 || eps1 < 1e-8 {
		// degenerate seed: nudge the saddle off the orbit
		x0[0] += 1e-4
		eps0 = math.Max(distance(mesh[:dim], x0), 1e-8)
		eps1 = math.Max(distance(mesh[len(mesh)-dim:], x0), 1e-8)
	}

	jac := mat.NewDense(dim, dim, nil)
	if err := sys.Jacobian(x0, jac); err != nil {
		return nil, err
	}
	nneg, npos, basisU, basisS, err := invariantBases(jac)
	if err != nil {
		return nil, err
	}
	if nneg == 0 || npos == 0 {
		return nil, dynamo.Numericalf("the polished point is not a saddle (split %d+%d)", nneg, npos)
	}

	s := &Setup{
		Ntst: ntst, Ncol: ncol, Dim: dim,
		Param1: p1, Param2: p2,
		Time:     period * float64(srcNtst-1) / float64(srcNtst) / 2,
		Eps0:     eps0,
		Eps1:     eps1,
		FreeEps0: true,
		FreeEps1: true,
		NNeg:     nneg, NPos: npos,
		BasisU: basisU, BasisS: basisS,
		X0:   x0,
		Mesh: mesh, Stages: stages,
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// FromSaddle builds the homotopy seed: a short segment leaving the
// saddle along the first unstable direction and aiming back along the
// first stable one. The half-window and the far endpoint distance are
// freed so the homotopy stages can grow the orbit.
func FromSaddle(sys dynamo.System, x0 dynamo.State, ntst, ncol int, p1, p2 string, eps0, eps1 float64) (*Setup, error) {
	if p1 == p2 {
		return nil, dynamo.Configf("homoclinic parameters must be distinct, got %q twice", p1)
	}
	if _, err := sys.Param(p1); err != nil {
		return nil, err
	}
	if _, err := sys.Param(p2); err != nil {
		return nil, err
	}
	if eps0 <= 0 || eps1 <= 0 {
		return nil, dynamo.Configf("endpoint distances must be positive, got %g and %g", eps0, eps1)
	}
	dim := sys.Dim()
	if len(x0) != dim {
		return nil, dynamo.Configf("saddle state length %d does not match system dimension %d", len(x0), dim)
	}
	sc, err := cycle.NewScheme(ncol)
	if err != nil {
		return nil, err
	}
	if ntst <= 0 {
		return nil, dynamo.Configf("mesh interval count must be positive, got %d", ntst)
	}
	jac := mat.NewDense(dim, dim, nil)
	if err := sys.Jacobian(x0, jac); err != nil {
		return nil, err
	}
	nneg, npos, basisU, basisS, err := invariantBases(jac)
	if err != nil {
		return nil, err
	}
	if nneg == 0 || npos == 0 {
		return nil, dynamo.Configf("the supplied point is not a saddle (split %d+%d)", nneg, npos)
	}

	// line segment from x0 + eps0*u to x0 + eps1*s
	a := make([]float64, dim)
	b := make([]float64, dim)
	for i := 0; i < dim; i++ {
		a[i] = x0[i] + eps0*basisU.At(i, 0)
		b[i] = x0[i] + eps1*basisS.At(i, 0)
	}
	at := func(t float64, out []float64) {
		for i := 0; i < dim; i++ {
			out[i] = (1-t)*a[i] + t*b[i]
		}
	}
	mesh := make([]float64, (ntst+1)*dim)
	stages := make([]float64, ntst*ncol*dim)
	pt := make([]float64, dim)
	for i := 0; i <= ntst; i++ {
		at(float64(i)/float64(ntst), pt)
		copy(mesh[i*dim:], pt)
	}
	for i := 0; i < ntst; i++ {
		for sIdx := 0; sIdx < ncol; sIdx++ {
			at((float64(i)+sc.Nodes[sIdx])/float64(ntst), pt)
			copy(stages[(i*ncol+sIdx)*dim:], pt)
		}
	}

	s := &Setup{
		Ntst: ntst, Ncol: ncol, Dim: dim,
		Param1: p1, Param2: p2,
		Time: 1, Eps0: eps0, Eps1: eps1,
		FreeTime: true, FreeEps1: true,
		NNeg: nneg, NPos: npos,
		BasisU: basisU, BasisS: basisS,
		X0:   x0.Clone(),
		Mesh: mesh, Stages: stages,
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// FromPrior rebuilds a setup from a recorded homoclinic point by
// decoding the stored unknowns and remeshing the orbit onto the
// target grid. prior must be the setup of the run that produced the
// point; its freed-scalar flags determine the decode layout.
func FromPrior(sys dynamo.System, prior *Setup, state []float64, p1v float64, ntst, ncol int) (*Setup, error) {
	if err := prior.validate(); err != nil {
		return nil, err
	}
	if len(state) != prior.unknowns() {
		return nil, dynamo.Invariantf("stored homoclinic state length %d, want %d", len(state), prior.unknowns())
	}
	if ntst <= 1 {
		return nil, dynamo.Configf("homoclinic remeshing needs at least two mesh intervals")
	}
	d := prior.Dim
	meshLen := (prior.Ntst + 1) * d
	stageLen := prior.Ntst * prior.Ncol * d
	mesh := state[:meshLen]
	x0 := dynamo.State(state[meshLen+stageLen : meshLen+stageLen+d]).Clone()
	p2v := state[meshLen+stageLen+d]

	time, eps0, eps1 := prior.Time, prior.Eps0, prior.Eps1
	ext := state[meshLen+stageLen+d+1:]
	k := 0
	if prior.FreeTime {
		time = ext[k]
		k++
	}
	if prior.FreeEps0 {
		eps0 = ext[k]
		k++
	}
	if prior.FreeEps1 {
		eps1 = ext[k]
	}

	sc, err := cycle.NewScheme(ncol)
	if err != nil {
		return nil, err
	}
	newMesh, newStages := remeshOpen(append([]float64(nil), mesh...), d, ntst, sc)

	jac := mat.NewDense(d, d, nil)
	var nneg, npos int
	var basisU, basisS *mat.Dense
	err = withBoth(sys, prior.Param1, p1v, prior.Param2, p2v, func() error {
		if jerr := sys.Jacobian(x0, jac); jerr != nil {
			return jerr
		}
		var berr error
		nneg, npos, basisU, basisS, berr = invariantBases(jac)
		return berr
	})
	if err != nil {
		return nil, err
	}
	if nneg == 0 || npos == 0 {
		return nil, dynamo.Numericalf("the stored point is no longer a saddle (split %d+%d)", nneg, npos)
	}

	s := &Setup{
		Ntst: ntst, Ncol: ncol, Dim: d,
		Param1: prior.Param1, Param2: prior.Param2,
		Time: time, Eps0: eps0, Eps1: eps1,
		FreeTime: prior.FreeTime, FreeEps0: prior.FreeEps0, FreeEps1: prior.FreeEps1,
		NNeg: nneg, NPos: npos,
		BasisU: basisU, BasisS: basisS,
		X0:   x0,
		Mesh: newMesh, Stages: newStages,
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// polishSaddle refines the seed with progressively heavier damping.
func polishSaddle(sys dynamo.System, guess dynamo.State) (dynamo.State, error) {
	var lastErr error
	for _, damping := range []float64{1.0, 0.5, 0.25} {
		settings := equil.DefaultNewtonSettings()
		settings.Damping = damping
		eq, err := equil.Solve(sys, dynamo.Flow(), guess, settings)
		if err == nil {
			return eq.State, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// remeshOpen resamples an open polyline of points (npts*dim) onto a
// collocation grid by linear interpolation in index fraction.
func remeshOpen(open []float64, dim, ntst int, sc *cycle.Scheme) (mesh, stages []float64) {
	npts := len(open) / dim
	at := func(t float64, out []float64) {
		pos := t * float64(npts-1)
		i := int(pos)
		if i >= npts-1 {
			i = npts - 2
		}
		frac := pos - float64(i)
		for d := 0; d < dim; d++ {
			out[d] = (1-frac)*open[i*dim+d] + frac*open[(i+1)*dim+d]
		}
	}
	mesh = make([]float64, (ntst+1)*dim)
	stages = make([]float64, ntst*sc.Ncol*dim)
	pt := make([]float64, dim)
	for i := 0; i <= ntst; i++ {
		at(float64(i)/float64(ntst), pt)
		copy(mesh[i*dim:], pt)
	}
	for i := 0; i < ntst; i++ {
		for s := 0; s < sc.Ncol; s++ {
			at((float64(i)+sc.Nodes[s])/float64(ntst), pt)
			copy(stages[(i*sc.Ncol+s)*dim:], pt)
		}
	}
	return mesh, stages
}

func distance(a []float64, b dynamo.State) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
