package export

import (
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/avoura/bifurc/internal/cont"
	"github.com/avoura/bifurc/internal/dynamo"
	"github.com/avoura/bifurc/internal/manifold"
)

// BifurcationDiagram renders parameter against state norm with the
// detected bifurcations marked. The file extension picks the format
// (png, svg, pdf).
func BifurcationDiagram(br *cont.Branch, title, path string) error {
	if len(br.Points) == 0 {
		return dynamo.Configf("cannot plot an empty branch")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "parameter"
	p.Y.Label.Text = "|x|"

	pts := make(plotter.XYs, len(br.Points))
	for i, bp := range br.Points {
		pts[i].X = bp.ParamValue
		pts[i].Y = stateNorm(bp.State)
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return dynamo.Numericalf("branch line: %v", err)
	}
	p.Add(line)

	if len(br.Bifurcations) > 0 {
		marks := make(plotter.XYs, 0, len(br.Bifurcations))
		for _, b := range br.Bifurcations {
			if b.PointIndex < 0 || b.PointIndex >= len(br.Points) {
				continue
			}
			bp := br.Points[b.PointIndex]
			marks = append(marks, plotter.XY{X: bp.ParamValue, Y: stateNorm(bp.State)})
		}
		scatter, err := plotter.NewScatter(marks)
		if err != nil {
			return dynamo.Numericalf("bifurcation markers: %v", err)
		}
		scatter.GlyphStyle.Radius = vg.Points(4)
		p.Add(scatter)
	}

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return dynamo.Configf("save diagram %q: %v", path, err)
	}
	return nil
}

// SurfaceProfile renders the ring radius profile of a grown manifold
// surface: mean geodesic radius per ring, with the vertex count as a
// second trace.
func SurfaceProfile(surf *manifold.Surface, title, path string) error {
	if len(surf.RingDiagnostics) == 0 {
		return dynamo.Configf("cannot plot a surface with no rings")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "ring"
	p.Y.Label.Text = "radius"

	radii := make(plotter.XYs, len(surf.RingDiagnostics))
	for i, rd := range surf.RingDiagnostics {
		radii[i].X = float64(i)
		radii[i].Y = rd.Radius
	}
	line, err := plotter.NewLine(radii)
	if err != nil {
		return dynamo.Numericalf("radius profile: %v", err)
	}
	p.Add(line)

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return dynamo.Configf("save diagram %q: %v", path, err)
	}
	return nil
}

// SurfaceSilhouette projects the surface vertices onto two state
// coordinates as a scatter, one point per vertex.
func SurfaceSilhouette(surf *manifold.Surface, xAxis, yAxis int, title, path string) error {
	n := len(surf.Vertices) / surf.Dim
	if n == 0 {
		return dynamo.Configf("cannot plot an empty surface")
	}
	if xAxis < 0 || xAxis >= surf.Dim || yAxis < 0 || yAxis >= surf.Dim {
		return dynamo.Configf("projection axes (%d, %d) outside dimension %d", xAxis, yAxis, surf.Dim)
	}
	p := plot.New()
	p.Title.Text = title

	pts := make(plotter.XYs, n)
	for i := 0; i < n; i++ {
		pts[i].X = surf.Vertices[i*surf.Dim+xAxis]
		pts[i].Y = surf.Vertices[i*surf.Dim+yAxis]
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return dynamo.Numericalf("surface scatter: %v", err)
	}
	scatter.GlyphStyle.Radius = vg.Points(1)
	p.Add(scatter)

	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return dynamo.Configf("save diagram %q: %v", path, err)
	}
	return nil
}

func stateNorm(s dynamo.State) float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}
