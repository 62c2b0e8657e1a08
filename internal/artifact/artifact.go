// Package artifact renders the files that accompany a detection run: a 2-D
// map, a 3-D model of the disturbed surface, a PDF report and a shapefile
// export. Every renderer implements detect.Renderer.
package artifact

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/mineguard/internal/detect"
	"github.com/sells-group/mineguard/internal/raster"
)

// File names written into the job directory.
const (
	MapFile    = "map_2d.png"
	ModelFile  = "model_3d.html"
	ReportFile = "report.pdf"
	ExportFile = "disturbance.shp"
)

// statusTile samples the depth and status bands of a run over its search
// zone.
func statusTile(ctx context.Context, in detect.RenderInput) (*raster.Tile, error) {
	if in.Evaluator == nil || in.Status == nil {
		return nil, eris.New("artifact: nothing to sample")
	}
	scale := in.Scale
	if scale <= 0 {
		scale = 30
	}
	tile, err := in.Evaluator.Sample(ctx, raster.SampleRequest{
		Image:     in.Status,
		Region:    in.Zone,
		Scale:     scale,
		MaxPixels: in.MaxPixels,
	})
	if err != nil {
		return nil, eris.Wrap(err, "artifact: sample status")
	}
	if tile.Band("depth") < 0 || tile.Band("status") < 0 {
		return nil, eris.Errorf("artifact: status image has bands %v", tile.Bands)
	}
	return tile, nil
}

// cell is one disturbed pixel of a status tile.
type cell struct {
	col, row int
	status   int
	depth    float64
}

// disturbed lists the pixels classified legal or illegal. Pixels without
// a depth value report a depth of zero.
func disturbed(t *raster.Tile) []cell {
	sb, db := t.Band("status"), t.Band("depth")
	var out []cell
	for row := 0; row < t.Height; row++ {
		for col := 0; col < t.Width; col++ {
			s, ok := t.At(sb, col, row)
			if !ok || s == detect.StatusNone {
				continue
			}
			d, ok := t.At(db, col, row)
			if !ok || math.IsNaN(d) {
				d = 0
			}
			out = append(out, cell{col: col, row: row, status: int(s), depth: d})
		}
	}
	return out
}

// rings returns the rings of a Polygon or MultiPolygon boundary.
func rings(g geom.T) [][]geom.Coord {
	switch t := g.(type) {
	case *geom.Polygon:
		return t.Coords()
	case *geom.MultiPolygon:
		var out [][]geom.Coord
		for _, p := range t.Coords() {
			out = append(out, p...)
		}
		return out
	}
	return nil
}
