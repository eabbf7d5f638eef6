package analysis

import (
	"math"
	"sort"

	"github.com/avoura/bifurc/internal/dynamo"
)

const isoRootTol = 1e-10

// ScalarFunc evaluates the scalar field whose level set is extracted.
type ScalarFunc func(x dynamo.State) (float64, error)

// AxisSpec describes one swept coordinate of the sampling grid.
type AxisSpec struct {
	Var     int     `json:"var_index"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Samples int     `json:"samples"`
}

func (a AxisSpec) step() float64 {
	return (a.Max - a.Min) / float64(a.Samples-1)
}

func (a AxisSpec) at(i int) float64 {
	return a.Min + float64(i)*a.step()
}

// Points is a flat list of full states on the level set.
type Points struct {
	Dim    int       `json:"dim"`
	Points []float64 `json:"points_flat"`
}

// Segments is a flat point list with index pairs forming line
// segments.
type Segments struct {
	Dim     int       `json:"dim"`
	Points  []float64 `json:"points_flat"`
	Indices []int     `json:"indices"`
}

// SegmentCount is the number of index pairs.
func (s *Segments) SegmentCount() int { return len(s.Indices) / 2 }

// Triangles is a flat point list with index triples forming a
// triangle soup.
type Triangles struct {
	Dim     int       `json:"dim"`
	Points  []float64 `json:"points_flat"`
	Indices []int     `json:"indices"`
}

func validateIsocline(frozen dynamo.State, level float64, axes ...AxisSpec) error {
	if math.IsNaN(level) || math.IsInf(level, 0) {
		return dynamo.Configf("isocline level must be finite, got %g", level)
	}
	if len(frozen) == 0 {
		return dynamo.Configf("isocline frozen state is empty")
	}
	seen := map[int]bool{}
	for _, a := range axes {
		if a.Var < 0 || a.Var >= len(frozen) {
			return dynamo.Configf("isocline axis %d outside state of dimension %d", a.Var, len(frozen))
		}
		if seen[a.Var] {
			return dynamo.Configf("isocline axis %d swept twice", a.Var)
		}
		seen[a.Var] = true
		if math.IsNaN(a.Min) || math.IsNaN(a.Max) || math.IsInf(a.Min, 0) || math.IsInf(a.Max, 0) || a.Max <= a.Min {
			return dynamo.Configf("isocline axis %d range [%g, %g] is empty", a.Var, a.Min, a.Max)
		}
		if a.Samples < 2 {
			return dynamo.Configf("isocline axis %d needs at least 2 samples, got %d", a.Var, a.Samples)
		}
	}
	return nil
}

// interpolateFactor locates the zero of a linear segment with values
// va, vb at its ends, clamped to [0, 1].
func interpolateFactor(va, vb float64) float64 {
	d := va - vb
	if math.Abs(d) < 1e-300 {
		return 0.5
	}
	f := va / d
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Isocline1D finds the level crossings of the scalar along one swept
// axis, the remaining coordinates frozen.
func Isocline1D(f ScalarFunc, frozen dynamo.State, level float64, axis AxisSpec) (*Points, error) {
	if err := validateIsocline(frozen, level, axis); err != nil {
		return nil, err
	}
	x := frozen.Clone()
	vals := make([]float64, axis.Samples)
	for i := 0; i < axis.Samples; i++ {
		x[axis.Var] = axis.at(i)
		v, err := f(x)
		if err != nil {
			return nil, err
		}
		vals[i] = v - level
	}
	var roots []float64
	for i := 0; i < axis.Samples; i++ {
		if math.Abs(vals[i]) <= isoRootTol {
			roots = append(roots, axis.at(i))
			continue
		}
		if i+1 < axis.Samples && vals[i]*vals[i+1] < 0 {
			fr := interpolateFactor(vals[i], vals[i+1])
			roots = append(roots, axis.at(i)+fr*axis.step())
		}
	}
	sort.Float64s(roots)
	out := &Points{Dim: len(frozen)}
	for i, r := range roots {
		if i > 0 && math.Abs(r-roots[i-1]) <= 1e-8*(1+math.Abs(r)) {
			continue
		}
		x[axis.Var] = r
		out.Points = append(out.Points, x...)
	}
	return out, nil
}

// Isocline2D extracts the level set over a two-axis grid by marching
// squares; all other coordinates stay frozen.
func Isocline2D(f ScalarFunc, frozen dynamo.State, level float64, ax1, ax2 AxisSpec) (*Segments, error) {
	if err := validateIsocline(frozen, level, ax1, ax2); err != nil {
		return nil, err
	}
	x := frozen.Clone()
	vals := make([]float64, ax1.Samples*ax2.Samples)
	for i := 0; i < ax1.Samples; i++ {
		for j := 0; j < ax2.Samples; j++ {
			x[ax1.Var] = ax1.at(i)
			x[ax2.Var] = ax2.at(j)
			v, err := f(x)
			if err != nil {
				return nil, err
			}
			vals[i*ax2.Samples+j] = v - level
		}
	}
	out := &Segments{Dim: len(frozen)}
	// cell corners counterclockwise; edge k joins corner k and k+1
	corners := [4][2]int{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
	for i := 0; i+1 < ax1.Samples; i++ {
		for j := 0; j+1 < ax2.Samples; j++ {
			var cv [4]float64
			mask := 0
			for c, d := range corners {
				cv[c] = vals[(i+d[0])*ax2.Samples+(j+d[1])]
				if cv[c] < 0 {
					mask |= 1 << c
				}
			}
			for _, pair := range squareEdges[mask] {
				a := edgePoint(frozen, ax1, ax2, i, j, pair[0], cv)
				b := edgePoint(frozen, ax1, ax2, i, j, pair[1], cv)
				idx := len(out.Points) / out.Dim
				out.Points = append(out.Points, a...)
				out.Points = append(out.Points, b...)
				out.Indices = append(out.Indices, idx, idx+1)
			}
		}
	}
	return out, nil
}

// squareEdges maps the inside-corner mask to crossed edge pairs.
// Ambiguous saddles (5, 10) resolve to two separate segments.
var squareEdges = [16][][2]int{
	{},
	{{3, 0}},
	{{0, 1}},
	{{3, 1}},
	{{1, 2}},
	{{3, 0}, {1, 2}},
	{{0, 2}},
	{{3, 2}},
	{{2, 3}},
	{{0, 2}},
	{{0, 1}, {2, 3}},
	{{1, 2}},
	{{1, 3}},
	{{0, 1}},
	{{3, 0}},
	{},
}

func edgePoint(frozen dynamo.State, ax1, ax2 AxisSpec, i, j, edge int, cv [4]float64) []float64 {
	corners := [4][2]int{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
	a := corners[edge]
	b := corners[(edge+1)%4]
	fr := interpolateFactor(cv[edge], cv[(edge+1)%4])
	p := frozen.Clone()
	p[ax1.Var] = ax1.at(i) + (float64(a[0])+fr*float64(b[0]-a[0]))*ax1.step()
	p[ax2.Var] = ax2.at(j) + (float64(a[1])+fr*float64(b[1]-a[1]))*ax2.step()
	return p
}

// Isocline3D extracts the level surface over a three-axis grid. Each
// cube is split into six tetrahedra; inside means value below the
// level.
func Isocline3D(f ScalarFunc, frozen dynamo.State, level float64, ax1, ax2, ax3 AxisSpec) (*Triangles, error) {
	if err := validateIsocline(frozen, level, ax1, ax2, ax3); err != nil {
		return nil, err
	}
	x := frozen.Clone()
	n2, n3 := ax2.Samples, ax3.Samples
	vals := make([]float64, ax1.Samples*n2*n3)
	for i := 0; i < ax1.Samples; i++ {
		for j := 0; j < n2; j++ {
			for k := 0; k < n3; k++ {
				x[ax1.Var] = ax1.at(i)
				x[ax2.Var] = ax2.at(j)
				x[ax3.Var] = ax3.at(k)
				v, err := f(x)
				if err != nil {
					return nil, err
				}
				vals[(i*n2+j)*n3+k] = v - level
			}
		}
	}
	out := &Triangles{Dim: len(frozen)}
	for i := 0; i+1 < ax1.Samples; i++ {
		for j := 0; j+1 < n2; j++ {
			for k := 0; k+1 < n3; k++ {
				marchCube(out, frozen, ax1, ax2, ax3, i, j, k, vals)
			}
		}
	}
	return out, nil
}

// cube corner offsets in (i, j, k)
var cubeCorners = [8][3]int{
	{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
}

// six tetrahedra covering the cube
var cubeTets = [6][4]int{
	{0, 5, 1, 6},
	{0, 1, 2, 6},
	{0, 2, 3, 6},
	{0, 3, 7, 6},
	{0, 7, 4, 6},
	{0, 4, 5, 6},
}

func marchCube(out *Triangles, frozen dynamo.State, ax1, ax2, ax3 AxisSpec, i, j, k int, vals []float64) {
	n2, n3 := ax2.Samples, ax3.Samples
	var cv [8]float64
	var pos [8][3]float64
	for c, d := range cubeCorners {
		cv[c] = vals[((i+d[0])*n2+(j+d[1]))*n3+(k+d[2])]
		pos[c] = [3]float64{ax1.at(i + d[0]), ax2.at(j + d[1]), ax3.at(k + d[2])}
	}
	for _, tet := range cubeTets {
		marchTet(out, frozen, ax1, ax2, ax3, tet, cv, pos)
	}
}

func marchTet(out *Triangles, frozen dynamo.State, ax1, ax2, ax3 AxisSpec, tet [4]int, cv [8]float64, pos [8][3]float64) {
	mask := 0
	for b, c := range tet {
		if cv[c] < 0 {
			mask |= 1 << b
		}
	}
	if mask == 0 || mask == 15 {
		return
	}
	edge := func(a, b int) []float64 {
		fr := interpolateFactor(cv[tet[a]], cv[tet[b]])
		p := frozen.Clone()
		p[ax1.Var] = pos[tet[a]][0] + fr*(pos[tet[b]][0]-pos[tet[a]][0])
		p[ax2.Var] = pos[tet[a]][1] + fr*(pos[tet[b]][1]-pos[tet[a]][1])
		p[ax3.Var] = pos[tet[a]][2] + fr*(pos[tet[b]][2]-pos[tet[a]][2])
		return p
	}
	emit := func(pts ...[]float64) {
		base := len(out.Points) / out.Dim
		for _, p := range pts {
			out.Points = append(out.Points, p...)
		}
		for v := 0; v+2 < len(pts); v++ {
			out.Indices = append(out.Indices, base, base+v+1, base+v+2)
		}
	}
	// single vertex on one side: one triangle; split pair: a quad fan
	switch mask {
	case 1, 14:
		emit(edge(0, 1), edge(0, 2), edge(0, 3))
	case 2, 13:
		emit(edge(1, 0), edge(1, 2), edge(1, 3))
	case 4, 11:
		emit(edge(2, 0), edge(2, 1), edge(2, 3))
	case 8, 7:
		emit(edge(3, 0), edge(3, 1), edge(3, 2))
	case 3, 12:
		emit(edge(0, 2), edge(0, 3), edge(1, 3), edge(1, 2))
	case 5, 10:
		emit(edge(0, 1), edge(0, 3), edge(2, 3), edge(2, 1))
	case 6, 9:
		emit(edge(1, 0), edge(1, 3), edge(2, 3), edge(2, 0))
	}
}
