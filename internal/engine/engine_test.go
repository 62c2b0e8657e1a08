package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/mineguard/internal/raster"
)

func square(lon, lat, size float64) raster.Region {
	return raster.NewRegion(geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{lon, lat}, {lon + size, lat}, {lon + size, lat + size}, {lon, lat + size}, {lon, lat},
	}}))
}

func day(s string) time.Time {
	t, err := time.Parse(raster.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func flat(v float64) Band {
	return BandFunc(func(_, _ float64) (float64, bool) { return v, true })
}

func testCatalog() *Catalog {
	cat := NewCatalog()
	cat.Add("optical",
		&Scene{ID: "b", Time: day("2024-02-01"), Properties: map[string]float64{"CLOUD": 5}, Bands: map[string]Band{"B": flat(3), "N": flat(0.6), "R": flat(0.2)}},
		&Scene{ID: "a", Time: day("2024-01-01"), Properties: map[string]float64{"CLOUD": 5}, Bands: map[string]Band{"B": flat(1), "N": flat(0.6), "R": flat(0.2)}},
		&Scene{ID: "c", Time: day("2024-04-30"), Properties: map[string]float64{"CLOUD": 10}, Bands: map[string]Band{"B": flat(8), "N": flat(0.6), "R": flat(0.2)}},
		&Scene{ID: "cloudy", Time: day("2024-03-01"), Properties: map[string]float64{"CLOUD": 90}, Bands: map[string]Band{"B": flat(100)}},
		&Scene{ID: "late", Time: day("2024-05-01"), Properties: map[string]float64{"CLOUD": 0}, Bands: map[string]Band{"B": flat(1000)}},
	)
	cat.Add("empty")
	return cat
}

func sampleOne(t *testing.T, e *Engine, img *raster.Image) float64 {
	t.Helper()
	tile, err := e.Sample(context.Background(), raster.SampleRequest{Image: img, Region: square(0, 0, 0.001), Scale: 50})
	require.NoError(t, err)
	v, ok := tile.At(0, 0, 0)
	require.True(t, ok)
	return v
}

func TestReduceConstantSum(t *testing.T) {
	e := New(NewCatalog())
	region := square(86.40, 23.70, 0.01)

	frame, err := raster.NewFrame(region, 100, 0)
	require.NoError(t, err)

	sum, err := e.Reduce(context.Background(), raster.ReduceRequest{
		Image: raster.Constant(2), Reducer: raster.ReducerSum, Region: region, Scale: 100,
	})
	require.NoError(t, err)
	require.NotNil(t, sum)
	assert.InDelta(t, 2*float64(frame.Pixels()), *sum, 2*float64(frame.Width+frame.Height))
}

func TestReducePixelAreaApproximatesPolygonArea(t *testing.T) {
	e := New(NewCatalog())
	region := square(86.40, 23.70, 0.05)

	sum, err := e.Reduce(context.Background(), raster.ReduceRequest{
		Image: raster.PixelArea(), Reducer: raster.ReducerSum, Region: region, Scale: 30,
	})
	require.NoError(t, err)
	require.NotNil(t, sum)
	// 0.05 x 0.05 degrees at 23.7N is about 5.56km x 5.09km.
	assert.InEpsilon(t, 28.3e6, *sum, 0.03)
}

func TestReduceNoPixelsReturnsNil(t *testing.T) {
	e := New(testCatalog())
	img := raster.NewCollection("empty").Select("B").Median()

	sum, err := e.Reduce(context.Background(), raster.ReduceRequest{
		Image: img, Reducer: raster.ReducerSum, Region: square(0, 0, 0.01), Scale: 100,
	})
	require.NoError(t, err)
	assert.Nil(t, sum)

	mean, err := e.Reduce(context.Background(), raster.ReduceRequest{
		Image: raster.Constant(0).SelfMask(), Reducer: raster.ReducerMean, Region: square(0, 0, 0.01), Scale: 100,
	})
	require.NoError(t, err)
	assert.Nil(t, mean)
}

func TestReduceMean(t *testing.T) {
	e := New(NewCatalog())
	mean, err := e.Reduce(context.Background(), raster.ReduceRequest{
		Image: raster.Constant(7.5), Reducer: raster.ReducerMean, Region: square(0, 0, 0.01), Scale: 100,
	})
	require.NoError(t, err)
	require.NotNil(t, mean)
	assert.InDelta(t, 7.5, *mean, 1e-9)
}

func TestCompositeFilters(t *testing.T) {
	e := New(testCatalog())
	base := raster.NewCollection("optical").FilterDate("2024-01-01", "2024-04-30").FilterBelow("CLOUD", 20).Select("B")

	// a=1, b=3, c=8 (end date inclusive); cloudy and late are dropped.
	assert.InDelta(t, 3, sampleOne(t, e, base.Median()), 1e-9)
	assert.InDelta(t, 8, sampleOne(t, e, base.Mosaic()), 1e-9)

	early := raster.NewCollection("optical").FilterDate("2024-01-01", "2024-02-01").Select("B")
	// a=1, b=3 -> mean of the middle pair.
	assert.InDelta(t, 2, sampleOne(t, e, early.Median()), 1e-9)
}

func TestCompositeFilterBounds(t *testing.T) {
	cat := NewCatalog()
	cat.Add("tiles",
		&Scene{ID: "west", Time: day("2024-01-01"), Footprint: [4]float64{-1, -1, 0.5, 1}, Bands: map[string]Band{"B": flat(1)}},
		&Scene{ID: "far", Time: day("2024-01-02"), Footprint: [4]float64{10, 10, 11, 11}, Bands: map[string]Band{"B": flat(99)}},
	)
	e := New(cat)
	img := raster.NewCollection("tiles").FilterBounds(square(0, 0, 0.001)).Select("B").Median()
	assert.InDelta(t, 1, sampleOne(t, e, img), 1e-9)
}

func TestUnknownCollection(t *testing.T) {
	e := New(testCatalog())
	_, err := e.Reduce(context.Background(), raster.ReduceRequest{
		Image: raster.NewCollection("nope").Median(), Reducer: raster.ReducerSum, Region: square(0, 0, 0.01), Scale: 100,
	})
	assert.ErrorContains(t, err, "unknown collection")
}

func TestNormalizedDifference(t *testing.T) {
	e := New(testCatalog())
	img := raster.NewCollection("optical").FilterBelow("CLOUD", 20).FilterDate("2024-01-01", "2024-04-30").
		Select("N", "R").Median().NormalizedDifference("N", "R")
	assert.InDelta(t, 0.5, sampleOne(t, e, img), 1e-9)
}

func TestBinaryOps(t *testing.T) {
	e := New(NewCatalog())
	c := raster.Constant

	assert.InDelta(t, 1, sampleOne(t, e, c(3).Gt(2)), 0)
	assert.InDelta(t, 0, sampleOne(t, e, c(2).Gt(2)), 0)
	assert.InDelta(t, 1, sampleOne(t, e, c(1).Lt(2)), 0)
	assert.InDelta(t, 1, sampleOne(t, e, c(2).Eq(2)), 0)
	assert.InDelta(t, 0, sampleOne(t, e, c(1).And(c(0))), 0)
	assert.InDelta(t, 5, sampleOne(t, e, c(2).Add(c(3))), 0)
	assert.InDelta(t, -1, sampleOne(t, e, c(2).Subtract(c(3))), 0)
	assert.InDelta(t, 6, sampleOne(t, e, c(2).Multiply(c(3))), 0)
}

func TestMaskingOps(t *testing.T) {
	e := New(NewCatalog())
	region := square(0, 0, 0.001)
	sample := func(img *raster.Image) (float64, bool) {
		tile, err := e.Sample(context.Background(), raster.SampleRequest{Image: img, Region: region, Scale: 50})
		require.NoError(t, err)
		return tile.At(0, 0, 0)
	}

	_, ok := sample(raster.Constant(4).UpdateMask(raster.Constant(0)))
	assert.False(t, ok)
	v, ok := sample(raster.Constant(4).UpdateMask(raster.Constant(1)))
	assert.True(t, ok)
	assert.InDelta(t, 4, v, 0)

	_, ok = sample(raster.Constant(0).SelfMask())
	assert.False(t, ok)

	// where overrides in order: later conditions win.
	status := raster.Constant(0).Where(raster.Constant(1), 1).Where(raster.Constant(1), 2)
	v, _ = sample(status)
	assert.InDelta(t, 2, v, 0)
	v, _ = sample(raster.Constant(0).Where(raster.Constant(0), 1))
	assert.InDelta(t, 0, v, 0)
}

func TestPaintAndClip(t *testing.T) {
	e := New(NewCatalog())
	lease := square(0, 0, 0.01)
	view := lease.Buffered(2000)

	membership := raster.Constant(0).Paint(lease, 1)
	tile, err := e.Sample(context.Background(), raster.SampleRequest{Image: membership, Region: view, Scale: 100})
	require.NoError(t, err)

	var inside, outside int
	for row := 0; row < tile.Height; row++ {
		for col := 0; col < tile.Width; col++ {
			v, ok := tile.At(0, col, row)
			require.True(t, ok, "paint never masks")
			lon, lat := tile.Center(col, row)
			in := lon > 0 && lon < 0.01 && lat > 0 && lat < 0.01
			if v == 1 {
				inside++
				assert.True(t, in, "painted pixel outside the lease at %v,%v", lon, lat)
			} else {
				outside++
			}
		}
	}
	assert.Positive(t, inside)
	assert.Positive(t, outside)

	clipped := raster.Constant(1).Clip(lease)
	sum, err := e.Reduce(context.Background(), raster.ReduceRequest{Image: clipped, Reducer: raster.ReducerSum, Region: view, Scale: 100})
	require.NoError(t, err)
	require.NotNil(t, sum)
	assert.InDelta(t, float64(inside), *sum, 0)
}

func TestSelectRenameAddBands(t *testing.T) {
	e := New(NewCatalog())
	img := raster.Constant(1).Rename("status").AddBands(raster.Constant(9).Rename("depth"))

	tile, err := e.Sample(context.Background(), raster.SampleRequest{Image: img, Region: square(0, 0, 0.001), Scale: 50})
	require.NoError(t, err)
	assert.Equal(t, []string{"status", "depth"}, tile.Bands)

	v := sampleOne(t, e, img.Select("depth"))
	assert.InDelta(t, 9, v, 0)

	_, err = e.Sample(context.Background(), raster.SampleRequest{Image: img.Select("nope"), Region: square(0, 0, 0.001), Scale: 50})
	assert.Error(t, err)
}

func TestSharedNodesEvaluatedOnce(t *testing.T) {
	calls := 0
	cat := NewCatalog()
	cat.Add("dem", &Scene{ID: "d", Time: day("2021-01-01"), Bands: map[string]Band{
		"DEM": BandFunc(func(_, _ float64) (float64, bool) { calls++; return 100, true }),
	}})
	e := New(cat)

	dem := raster.NewCollection("dem").Select("DEM").Mosaic()
	img := dem.Subtract(dem).Add(dem)
	tile, err := e.Sample(context.Background(), raster.SampleRequest{Image: img, Region: square(0, 0, 0.001), Scale: 50})
	require.NoError(t, err)
	assert.Equal(t, tile.Pixels(), calls)
}

func TestMaxPixels(t *testing.T) {
	e := New(NewCatalog())
	_, err := e.Reduce(context.Background(), raster.ReduceRequest{
		Image: raster.Constant(1), Reducer: raster.ReducerSum, Region: square(0, 0, 1), Scale: 10, MaxPixels: 100,
	})
	assert.ErrorIs(t, err, raster.ErrTooManyPixels)
}

func TestCancelledContext(t *testing.T) {
	e := New(testCatalog())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Reduce(ctx, raster.ReduceRequest{
		Image: raster.Constant(1), Reducer: raster.ReducerSum, Region: square(0, 0, 0.01), Scale: 100,
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNilImage(t *testing.T) {
	e := New(NewCatalog())
	_, err := e.Reduce(context.Background(), raster.ReduceRequest{Region: square(0, 0, 0.01), Scale: 100})
	assert.Error(t, err)
	_, err = e.Sample(context.Background(), raster.SampleRequest{Region: square(0, 0, 0.01), Scale: 100})
	assert.Error(t, err)
}
