package artifact

import (
	"context"
	"image/color"
	"math"
	"path/filepath"

	"github.com/rotisserie/eris"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/sells-group/mineguard/internal/detect"
	"github.com/sells-group/mineguard/internal/raster"
)

var (
	illegalColor  = color.NRGBA{R: 0xff, A: 0xff}
	legalColor    = color.NRGBA{G: 0xff, A: 0xff}
	boundaryColor = color.NRGBA{B: 0xff, A: 0xff}
)

// Map draws the depth surface, the legal and illegal disturbance and the
// lease boundary into a PNG.
type Map struct {
	// Size is the edge length of the square image. Zero means 6 inches.
	Size vg.Length
}

var _ detect.Renderer = Map{}

// bandGrid exposes one band of a tile as a plotter.GridXYZ with rows
// running south to north. Masked pixels are NaN.
type bandGrid struct {
	tile *raster.Tile
	band int
	// keep, when set, hides values it rejects.
	keep func(float64) bool
}

func (g bandGrid) Dims() (int, int) { return g.tile.Width, g.tile.Height }

func (g bandGrid) Z(c, r int) float64 {
	v, ok := g.tile.At(g.band, c, g.tile.Height-1-r)
	if !ok || (g.keep != nil && !g.keep(v)) {
		return math.NaN()
	}
	return v
}

func (g bandGrid) X(c int) float64 {
	lon, _ := g.tile.Center(c, 0)
	return lon
}

func (g bandGrid) Y(r int) float64 {
	_, lat := g.tile.Center(0, g.tile.Height-1-r)
	return lat
}

type fixedPalette []color.Color

func (p fixedPalette) Colors() []color.Color { return p }

// Render implements detect.Renderer.
func (m Map) Render(ctx context.Context, in detect.RenderInput) (string, error) {
	tile, err := statusTile(ctx, in)
	if err != nil {
		return "", err
	}

	p := plot.New()
	p.Title.Text = "Mining disturbance " + in.StartDate + " to " + in.EndDate
	p.X.Label.Text = "Longitude"
	p.Y.Label.Text = "Latitude"

	depth := bandGrid{tile: tile, band: tile.Band("depth")}
	if hasValues(depth) {
		hm := plotter.NewHeatMap(depth, palette.Heat(16, 0.6))
		p.Add(hm)
	}

	status := bandGrid{tile: tile, band: tile.Band("status"), keep: func(v float64) bool { return v != detect.StatusNone }}
	overlay := plotter.NewHeatMap(status, fixedPalette{illegalColor, legalColor})
	overlay.Min, overlay.Max = detect.StatusIllegal, detect.StatusLegal
	p.Add(overlay)

	for _, ring := range rings(in.ROI) {
		xys := make(plotter.XYs, len(ring))
		for i, c := range ring {
			xys[i].X, xys[i].Y = c[0], c[1]
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return "", eris.Wrap(err, "artifact: boundary line")
		}
		line.Color = boundaryColor
		line.Width = vg.Points(2)
		p.Add(line)
	}

	size := m.Size
	if size == 0 {
		size = 6 * vg.Inch
	}
	if err := p.Save(size, size, filepath.Join(in.Dir, MapFile)); err != nil {
		return "", eris.Wrap(err, "artifact: save map")
	}
	return MapFile, nil
}

func hasValues(g bandGrid) bool {
	c, r := g.Dims()
	for i := 0; i < c; i++ {
		for j := 0; j < r; j++ {
			if !math.IsNaN(g.Z(i, j)) {
				return true
			}
		}
	}
	return false
}
