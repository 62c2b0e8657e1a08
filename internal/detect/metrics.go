package detect

import (
	"context"
	"errors"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/mineguard/internal/model"
	"github.com/sells-group/mineguard/internal/raster"
)

// reducer runs the zonal reductions of one run against an evaluator.
type reducer struct {
	eval raster.Evaluator
	zone raster.Region
	p    Params
	log  *zap.Logger
}

// sum reduces img over the search zone. A region with no unmasked pixel
// counts as zero.
func (r *reducer) sum(ctx context.Context, img *raster.Image, scale float64) (float64, error) {
	v, err := r.reduce(ctx, img, raster.ReducerSum, scale)
	if err != nil {
		return 0, err
	}
	// Modal cleanup can admit shallow pixels whose depth is negative.
	return max(v, 0), nil
}

func (r *reducer) reduce(ctx context.Context, img *raster.Image, red raster.Reducer, scale float64) (float64, error) {
	if r.p.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.p.CallTimeout)
		defer cancel()
	}
	v, err := r.eval.Reduce(ctx, raster.ReduceRequest{
		Image:     img,
		Reducer:   red,
		Region:    r.zone,
		Scale:     scale,
		MaxPixels: r.p.MaxPixels,
	})
	if err != nil {
		return 0, err
	}
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, nil
	}
	return *v, nil
}

func (r *reducer) area(ctx context.Context, mask *raster.Image) (float64, error) {
	return r.sum(ctx, mask.Multiply(raster.PixelArea()), r.p.AreaScale)
}

func (r *reducer) volume(ctx context.Context, depth, mask *raster.Image) (float64, error) {
	return r.sum(ctx, depth.UpdateMask(mask).Multiply(raster.PixelArea()), r.p.VolumeScale)
}

// ComputeMetrics reduces the partition masks to the metrics record. The
// legal and illegal reductions run concurrently; any failure among them
// fails the whole computation. Lid elevation is best effort: when its
// reduction times out it is left at zero.
func ComputeMetrics(ctx context.Context, eval raster.Evaluator, zone raster.Region, s Signals, part Partition, p Params) (model.Metrics, error) {
	r := &reducer{
		eval: eval,
		zone: zone,
		p:    p,
		log:  zap.L().With(zap.String("component", "detect")),
	}

	var m model.Metrics
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		m.IllegalArea, err = r.area(gctx, part.Illegal)
		return eris.Wrap(err, "detect: illegal area")
	})
	g.Go(func() (err error) {
		m.LegalArea, err = r.area(gctx, part.Legal)
		return eris.Wrap(err, "detect: legal area")
	})
	g.Go(func() (err error) {
		m.IllegalVolume, err = r.volume(gctx, s.Depth, part.Illegal)
		return eris.Wrap(err, "detect: illegal volume")
	})
	g.Go(func() (err error) {
		m.LegalVolume, err = r.volume(gctx, s.Depth, part.Legal)
		return eris.Wrap(err, "detect: legal volume")
	})
	if err := g.Wait(); err != nil {
		return model.Metrics{}, err
	}

	if m.LegalArea > 0 {
		lid, err := r.reduce(ctx, s.Smoothed.UpdateMask(part.Legal), raster.ReducerMean, p.VolumeScale)
		switch {
		case err == nil:
			m.LidElevation = lid
		case ctx.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)):
			r.log.Warn("detect: lid elevation timed out, reporting 0", zap.Error(err))
		default:
			return model.Metrics{}, eris.Wrap(err, "detect: lid elevation")
		}
	}

	return Derive(m, p.TruckCapacity), nil
}

// Derive fills the totals, average depth and truckloads of m from its
// measured areas and volumes.
func Derive(m model.Metrics, truckCapacity float64) model.Metrics {
	m.TotalArea = m.IllegalArea + m.LegalArea
	m.TotalVolume = m.IllegalVolume + m.LegalVolume
	m.AvgDepth = 0
	if m.IllegalArea > 0 {
		m.AvgDepth = m.IllegalVolume / m.IllegalArea
	}
	m.Truckloads = 0
	if truckCapacity > 0 {
		m.Truckloads = int64(math.Floor(m.IllegalVolume / truckCapacity))
	}
	return m
}
