// Package engine evaluates raster expression graphs in process against a
// catalog of procedural scenes. It backs the local compute mode and the
// end-to-end tests of the detector.
package engine

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mineguard/internal/raster"
)

// Engine is a raster.Evaluator over a Catalog. It is safe for concurrent
// use; every request evaluates with its own memo table.
type Engine struct {
	catalog *Catalog
	log     *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger overrides the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New returns an Engine reading from catalog.
func New(catalog *Catalog, opts ...Option) *Engine {
	e := &Engine{
		catalog: catalog,
		log:     zap.L().With(zap.String("component", "engine")),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

var _ raster.Evaluator = (*Engine)(nil)

// Reduce implements raster.Evaluator.
func (e *Engine) Reduce(ctx context.Context, req raster.ReduceRequest) (*float64, error) {
	start := time.Now()
	if req.Image == nil {
		return nil, eris.New("engine: reduce: nil image")
	}

	frame, err := raster.NewFrame(req.Region, req.Scale, req.MaxPixels)
	if err != nil {
		return nil, eris.Wrap(err, "engine: reduce")
	}
	tile, err := e.evaluate(ctx, req.Image, frame)
	if err != nil {
		return nil, eris.Wrap(err, "engine: reduce")
	}
	if len(tile.Bands) == 0 {
		return nil, eris.New("engine: reduce: image has no bands")
	}

	m, err := req.Region.Matcher()
	if err != nil {
		return nil, eris.Wrap(err, "engine: reduce")
	}

	var values []float64
	for row := 0; row < frame.Height; row++ {
		for col := 0; col < frame.Width; col++ {
			v, ok := tile.At(0, col, row)
			if !ok || !m.Contains(frame.Center(col, row)) {
				continue
			}
			values = append(values, v)
		}
	}

	result := req.Reducer.Apply(values)
	e.log.Debug("reduced region",
		zap.String("reducer", string(req.Reducer)),
		zap.Float64("scale", req.Scale),
		zap.Int("pixels", frame.Pixels()),
		zap.Int("counted", len(values)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// Sample implements raster.Evaluator.
func (e *Engine) Sample(ctx context.Context, req raster.SampleRequest) (*raster.Tile, error) {
	if req.Image == nil {
		return nil, eris.New("engine: sample: nil image")
	}
	frame, err := raster.NewFrame(req.Region, req.Scale, req.MaxPixels)
	if err != nil {
		return nil, eris.Wrap(err, "engine: sample")
	}
	tile, err := e.evaluate(ctx, req.Image, frame)
	if err != nil {
		return nil, eris.Wrap(err, "engine: sample")
	}
	e.log.Debug("sampled region",
		zap.Float64("scale", req.Scale),
		zap.Int("width", frame.Width),
		zap.Int("height", frame.Height),
		zap.Strings("bands", tile.Bands),
	)
	return tile, nil
}

func (e *Engine) evaluate(ctx context.Context, img *raster.Image, frame raster.Frame) (*raster.Tile, error) {
	ev := &evaluation{
		ctx:     ctx,
		frame:   frame,
		catalog: e.catalog,
		memo:    make(map[*raster.Image]*raster.Tile),
	}
	return ev.eval(img)
}
