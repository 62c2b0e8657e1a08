package artifact

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mineguard/internal/detect"
	"github.com/sells-group/mineguard/internal/raster"
)

const wgs84WKT = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

// Attribute columns of the export.
const (
	fieldStatus = iota
	fieldClass
	fieldDepth
)

// Export writes one square polygon per disturbed pixel into an ESRI
// shapefile, with its status code, class name and depth in meters.
type Export struct{}

var _ detect.Renderer = Export{}

// Render implements detect.Renderer.
func (Export) Render(ctx context.Context, in detect.RenderInput) (string, error) {
	tile, err := statusTile(ctx, in)
	if err != nil {
		return "", err
	}
	cells := disturbed(tile)

	path := filepath.Join(in.Dir, ExportFile)
	w, err := shp.Create(path, shp.POLYGON)
	if err != nil {
		return "", eris.Wrap(err, "artifact: create shapefile")
	}
	if err := w.SetFields([]shp.Field{
		shp.NumberField("STATUS", 1),
		shp.StringField("CLASS", 8),
		shp.FloatField("DEPTH_M", 12, 3),
	}); err != nil {
		w.Close()
		return "", eris.Wrap(err, "artifact: shapefile fields")
	}

	for _, c := range cells {
		poly := pixelPolygon(tile, c.col, c.row)
		row := int(w.Write(&poly))
		class := "legal"
		if c.status == detect.StatusIllegal {
			class = "illegal"
		}
		for field, v := range map[int]any{fieldStatus: c.status, fieldClass: class, fieldDepth: c.depth} {
			if err := w.WriteAttribute(row, field, v); err != nil {
				w.Close()
				return "", eris.Wrapf(err, "artifact: shapefile attribute %d", field)
			}
		}
	}
	w.Close()

	prj := strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"
	if err := os.WriteFile(prj, []byte(wgs84WKT), 0o644); err != nil {
		return "", eris.Wrap(err, "artifact: write projection")
	}
	return ExportFile, nil
}

// pixelPolygon is the footprint of a pixel as a shapefile polygon. Outer
// rings run clockwise.
func pixelPolygon(t *raster.Tile, col, row int) shp.Polygon {
	west := t.MinLon + float64(col)*t.DLon
	east := west + t.DLon
	north := t.MaxLat - float64(row)*t.DLat
	south := north - t.DLat
	ring := []shp.Point{
		{X: west, Y: north},
		{X: east, Y: north},
		{X: east, Y: south},
		{X: west, Y: south},
		{X: west, Y: north},
	}
	return shp.Polygon(*shp.NewPolyLine([][]shp.Point{ring}))
}
