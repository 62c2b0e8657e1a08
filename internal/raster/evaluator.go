package raster

import (
	"context"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Reducer aggregates the unmasked pixels of a region to one number.
type Reducer string

// Supported reducers.
const (
	ReducerSum  Reducer = "sum"
	ReducerMean Reducer = "mean"
)

// Apply reduces values. It returns nil when values is empty, which callers
// must treat as "no pixels" rather than zero.
func (r Reducer) Apply(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	var v float64
	switch r {
	case ReducerMean:
		v = stat.Mean(values, nil)
	default:
		v = floats.Sum(values)
	}
	return &v
}

// ReduceRequest reduces the first band of Image over Region at Scale meters.
type ReduceRequest struct {
	Image     *Image
	Reducer   Reducer
	Region    Region
	Scale     float64
	MaxPixels float64
}

// SampleRequest materializes every band of Image over the envelope of
// Region at Scale meters.
type SampleRequest struct {
	Image     *Image
	Region    Region
	Scale     float64
	MaxPixels float64
}

// Evaluator materializes expression graphs. It is the only place a
// detection run performs I/O, and every call honors ctx.
type Evaluator interface {
	// Reduce returns nil when no pixel in the region is unmasked.
	Reduce(ctx context.Context, req ReduceRequest) (*float64, error)
	Sample(ctx context.Context, req SampleRequest) (*Tile, error)
}
