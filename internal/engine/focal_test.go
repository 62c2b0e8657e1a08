package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mineguard/internal/raster"
)

func gridTile(rows [][]float64) *raster.Tile {
	f := raster.Frame{Width: len(rows[0]), Height: len(rows), Scale: 10}
	t := raster.NewTile(f, "v")
	for r, row := range rows {
		for c, v := range row {
			t.Set(0, c, r, v)
		}
	}
	return t
}

func newEval() *evaluation {
	return &evaluation{ctx: context.Background(), memo: map[*raster.Image]*raster.Tile{}}
}

func TestKernel(t *testing.T) {
	assert.Equal(t, []int{0, 1, 0}, kernel(1))
	assert.Equal(t, []int{0, 1, 2, 1, 0}, kernel(2))
}

func TestFocalMeanFlatIsUnchanged(t *testing.T) {
	in := gridTile([][]float64{{5, 5, 5}, {5, 5, 5}, {5, 5, 5}})
	out, err := newEval().focalMean(in, 1)
	require.NoError(t, err)
	for i := range out.Values[0] {
		assert.InDelta(t, 5, out.Values[0][i], 1e-12)
	}
}

func TestFocalMeanCross(t *testing.T) {
	in := gridTile([][]float64{
		{0, 0, 0},
		{0, 10, 0},
		{0, 0, 0},
	})
	out, err := newEval().focalMean(in, 1)
	require.NoError(t, err)

	v, ok := out.At(0, 1, 1)
	assert.True(t, ok)
	assert.InDelta(t, 2, v, 1e-12, "center averages itself and four neighbors")

	v, _ = out.At(0, 0, 0)
	assert.InDelta(t, 0, v, 1e-12)
	v, _ = out.At(0, 1, 0)
	assert.InDelta(t, 2.5, v, 1e-12, "edge pixel has three in-frame neighbors")
}

func TestFocalMeanSkipsMasked(t *testing.T) {
	in := gridTile([][]float64{{4, 8}})
	in.Valid[0][1] = false
	out, err := newEval().focalMean(in, 1)
	require.NoError(t, err)

	v, ok := out.At(0, 0, 0)
	assert.True(t, ok)
	assert.InDelta(t, 4, v, 1e-12)
	_, ok = out.At(0, 1, 0)
	assert.False(t, ok)
}

func TestFocalModeRemovesSpeckle(t *testing.T) {
	in := gridTile([][]float64{
		{0, 0, 0, 0, 0},
		{0, 0, 0, 0, 0},
		{0, 0, 1, 0, 0},
		{0, 0, 0, 1, 1},
		{0, 0, 0, 1, 1},
	})
	out, err := newEval().focalMode(in, 1)
	require.NoError(t, err)

	v, _ := out.At(0, 2, 2)
	assert.InDelta(t, 0, v, 0, "isolated pixel is voted away")
	v, _ = out.At(0, 4, 4)
	assert.InDelta(t, 1, v, 0, "solid block survives")
}

func TestFocalModeTieGoesLow(t *testing.T) {
	in := gridTile([][]float64{{1, 0}})
	out, err := newEval().focalMode(in, 1)
	require.NoError(t, err)
	v, _ := out.At(0, 0, 0)
	assert.InDelta(t, 0, v, 0)
}

func TestFocalZeroRadiusIsIdentity(t *testing.T) {
	in := gridTile([][]float64{{1, 2}})
	out, err := newEval().focalMean(in, 0)
	require.NoError(t, err)
	assert.Same(t, in, out)
	out, err = newEval().focalMode(in, 0)
	require.NoError(t, err)
	assert.Same(t, in, out)
}
