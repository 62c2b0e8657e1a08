package raster

import (
	"math"

	"github.com/rotisserie/eris"
)

const earthRadius = 6371008.8

// ErrTooManyPixels is returned when a request would materialize more pixels
// than its MaxPixels budget.
var ErrTooManyPixels = eris.New("raster: request exceeds max pixels")

// Frame is the pixel grid a request is evaluated on: a north-up lon/lat
// raster whose pixels are roughly Scale meters on a side.
type Frame struct {
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	DLon   float64 `json:"dlon"`
	DLat   float64 `json:"dlat"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Scale  float64 `json:"scale"`
}

// NewFrame lays a grid of scale-meter pixels over the envelope of region.
// maxPixels <= 0 disables the budget check.
func NewFrame(region Region, scale, maxPixels float64) (Frame, error) {
	if scale <= 0 {
		return Frame{}, eris.Errorf("raster: scale must be positive, got %v", scale)
	}
	if region.Geometry == nil {
		return Frame{}, eris.New("raster: region has no geometry")
	}
	minLon, minLat, maxLon, maxLat := region.Bounds()
	midLat := (minLat + maxLat) / 2

	f := Frame{
		MinLon: minLon,
		MaxLat: maxLat,
		DLat:   scale / MetersPerDegree,
		DLon:   scale / (MetersPerDegree * math.Cos(midLat*math.Pi/180)),
		Scale:  scale,
	}
	f.Width = max(1, int(math.Ceil((maxLon-minLon)/f.DLon)))
	f.Height = max(1, int(math.Ceil((maxLat-minLat)/f.DLat)))

	if maxPixels > 0 && float64(f.Pixels()) > maxPixels {
		return Frame{}, eris.Wrapf(ErrTooManyPixels, "%dx%d at %vm", f.Width, f.Height, scale)
	}
	return f, nil
}

// Pixels is Width * Height.
func (f Frame) Pixels() int { return f.Width * f.Height }

// Index maps a column and row to a flat offset.
func (f Frame) Index(col, row int) int { return row*f.Width + col }

// Center returns the lon/lat of the center of a pixel.
func (f Frame) Center(col, row int) (lon, lat float64) {
	return f.MinLon + (float64(col)+0.5)*f.DLon, f.MaxLat - (float64(row)+0.5)*f.DLat
}

// PixelArea is the spherical area in square meters of any pixel in row.
func (f Frame) PixelArea(row int) float64 {
	top := (f.MaxLat - float64(row)*f.DLat) * math.Pi / 180
	bottom := (f.MaxLat - float64(row+1)*f.DLat) * math.Pi / 180
	return earthRadius * earthRadius * (f.DLon * math.Pi / 180) * math.Abs(math.Sin(top)-math.Sin(bottom))
}

// RadiusPixels converts a kernel radius in meters to whole pixels.
func (f Frame) RadiusPixels(meters float64) int {
	return int(math.Round(meters / f.Scale))
}

// Tile is a materialized multi-band image. Values and Valid are indexed by
// band and then by Frame.Index.
type Tile struct {
	Frame
	Bands  []string    `json:"bands"`
	Values [][]float64 `json:"values"`
	Valid  [][]bool    `json:"valid"`
}

// NewTile allocates a fully masked tile.
func NewTile(f Frame, bands ...string) *Tile {
	t := &Tile{Frame: f, Bands: append([]string(nil), bands...)}
	for range bands {
		t.Values = append(t.Values, make([]float64, f.Pixels()))
		t.Valid = append(t.Valid, make([]bool, f.Pixels()))
	}
	return t
}

// Band returns the index of the named band, or -1.
func (t *Tile) Band(name string) int {
	for i, b := range t.Bands {
		if b == name {
			return i
		}
	}
	return -1
}

// At returns the value of band b at a pixel and whether it is unmasked.
func (t *Tile) At(b, col, row int) (float64, bool) {
	i := t.Index(col, row)
	return t.Values[b][i], t.Valid[b][i]
}

// Set writes an unmasked value.
func (t *Tile) Set(b, col, row int, v float64) {
	i := t.Index(col, row)
	t.Values[b][i], t.Valid[b][i] = v, true
}
