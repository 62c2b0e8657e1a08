package artifact

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mineguard/internal/detect"
	"github.com/sells-group/mineguard/internal/raster"
)

const defaultMaxPoints = 20000

// Model renders the disturbed pixels as a 3-D point cloud. Points sit at
// their depth below the surrounding surface, east and north in meters from
// the south-west corner of the search zone.
type Model struct {
	// MaxPoints caps the points drawn; larger clouds are strided. Zero
	// means 20000.
	MaxPoints int
}

var _ detect.Renderer = Model{}

// Render implements detect.Renderer.
func (m Model) Render(ctx context.Context, in detect.RenderInput) (string, error) {
	tile, err := statusTile(ctx, in)
	if err != nil {
		return "", err
	}
	cells := disturbed(tile)
	if len(cells) == 0 {
		return "", eris.New("artifact: no disturbed pixels to model")
	}

	maxPoints := m.MaxPoints
	if maxPoints <= 0 {
		maxPoints = defaultMaxPoints
	}
	stride := 1
	if len(cells) > maxPoints {
		stride = int(math.Ceil(float64(len(cells)) / float64(maxPoints)))
	}

	var illegal, legal []opts.Chart3DData
	maxDepth := 0.0
	for i := 0; i < len(cells); i += stride {
		c := cells[i]
		x, y := offsetMeters(tile, c.col, c.row)
		pt := opts.Chart3DData{Value: []interface{}{round1(x), round1(y), round2(-c.depth)}}
		if c.status == detect.StatusIllegal {
			illegal = append(illegal, pt)
		} else {
			legal = append(legal, pt)
		}
		maxDepth = max(maxDepth, c.depth)
	}

	chart := charts.NewScatter3D()
	chart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Mining disturbance 3D", Width: "1000px", Height: "800px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Excavation model",
			Subtitle: fmt.Sprintf("job=%s points=%d stride=%d", in.JobID, len(illegal)+len(legal), stride),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxis3DOpts(opts.XAxis3D{Name: "East (m)", Show: opts.Bool(true)}),
		charts.WithYAxis3DOpts(opts.YAxis3D{Name: "North (m)", Show: opts.Bool(true)}),
		charts.WithZAxis3DOpts(opts.ZAxis3D{Name: "Depth (m)", Show: opts.Bool(true), Min: -math.Ceil(maxDepth), Max: 0}),
		charts.WithGrid3DOpts(opts.Grid3D{BoxWidth: 200, BoxDepth: 200, BoxHeight: 60}),
	)
	chart.AddSeries("illegal", illegal, charts.WithItemStyleOpts(opts.ItemStyle{Color: "#ff0000"}))
	chart.AddSeries("legal", legal, charts.WithItemStyleOpts(opts.ItemStyle{Color: "#00ff00"}))

	var page bytes.Buffer
	if err := chart.Render(&page); err != nil {
		return "", eris.Wrap(err, "artifact: render model")
	}
	if err := os.WriteFile(filepath.Join(in.Dir, ModelFile), page.Bytes(), 0o644); err != nil {
		return "", eris.Wrap(err, "artifact: write model")
	}
	return ModelFile, nil
}

// offsetMeters is the ground offset of a pixel center from the south-west
// corner of the tile.
func offsetMeters(t *raster.Tile, col, row int) (x, y float64) {
	return (float64(col) + 0.5) * t.Scale, (float64(t.Height-row) - 0.5) * t.Scale
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
