// Package boundary turns a lease boundary supplied as GeoJSON into the
// two-dimensional Polygon or MultiPolygon used as the region of interest.
package boundary

import (
	"bytes"
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Normalization failures. Callers fall back to Default on any of them.
var (
	ErrEmpty      = eris.New("boundary: empty input")
	ErrNoGeometry = eris.New("boundary: input contains no geometry")
	ErrDegenerate = eris.New("boundary: geometry encloses no area")
	ErrOutOfRange = eris.New("boundary: coordinate outside WGS84 range")
)

// defaultRing is the fallback lease rectangle, longitude/latitude.
var defaultRing = []geom.Coord{
	{86.40, 23.70},
	{86.45, 23.70},
	{86.45, 23.75},
	{86.40, 23.75},
	{86.40, 23.70},
}

// Default returns the rectangle used when no usable boundary is supplied.
func Default() *geom.Polygon {
	ring := make([]geom.Coord, len(defaultRing))
	for i, c := range defaultRing {
		ring[i] = geom.Coord{c[0], c[1]}
	}
	return geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{ring}).SetSRID(4326)
}

// Normalize decodes a GeoJSON Geometry, Feature or FeatureCollection and
// returns a 2-D Polygon or MultiPolygon in SRID 4326.
//
// Z and M ordinates are dropped and open rings are closed. Polygonal parts
// of collections are gathered into a MultiPolygon. Input with no polygonal
// part is replaced by its bounding rectangle, provided that rectangle has
// area.
func Normalize(data []byte) (geom.T, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, ErrEmpty
	}

	geoms, err := decode(data)
	if err != nil {
		return nil, err
	}

	var polys []*geom.Polygon
	var others []geom.T
	for _, g := range geoms {
		collect(g, &polys, &others)
	}

	if len(polys) == 0 {
		if len(others) == 0 {
			return nil, ErrNoGeometry
		}
		return envelope(others)
	}

	flat := make([]*geom.Polygon, 0, len(polys))
	for _, p := range polys {
		fp, err := flatten(p)
		if err != nil {
			return nil, err
		}
		flat = append(flat, fp)
	}

	if len(flat) == 1 {
		return flat[0].SetSRID(4326), nil
	}
	mp := geom.NewMultiPolygon(geom.XY)
	for _, p := range flat {
		if err := mp.Push(p); err != nil {
			return nil, eris.Wrap(err, "boundary: build multipolygon")
		}
	}
	return mp.SetSRID(4326), nil
}

func decode(data []byte) ([]geom.T, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, eris.Wrap(err, "boundary: decode geojson")
	}

	switch head.Type {
	case "Feature":
		var f geojson.Feature
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, eris.Wrap(err, "boundary: decode feature")
		}
		if f.Geometry == nil {
			return nil, ErrNoGeometry
		}
		return []geom.T{f.Geometry}, nil
	case "FeatureCollection":
		var fc geojson.FeatureCollection
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, eris.Wrap(err, "boundary: decode feature collection")
		}
		var out []geom.T
		for _, f := range fc.Features {
			if f != nil && f.Geometry != nil {
				out = append(out, f.Geometry)
			}
		}
		if len(out) == 0 {
			return nil, ErrNoGeometry
		}
		return out, nil
	case "":
		return nil, eris.Wrap(ErrNoGeometry, "boundary: missing type member")
	default:
		var g geom.T
		if err := geojson.Unmarshal(data, &g); err != nil {
			return nil, eris.Wrapf(err, "boundary: decode %s", head.Type)
		}
		if g == nil {
			return nil, ErrNoGeometry
		}
		return []geom.T{g}, nil
	}
}

// collect splits g into polygon parts and everything else.
func collect(g geom.T, polys *[]*geom.Polygon, others *[]geom.T) {
	switch t := g.(type) {
	case *geom.Polygon:
		if !t.Empty() {
			*polys = append(*polys, t)
		}
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			if p := t.Polygon(i); !p.Empty() {
				*polys = append(*polys, p)
			}
		}
	case *geom.GeometryCollection:
		for _, sub := range t.Geoms() {
			collect(sub, polys, others)
		}
	default:
		if g != nil && !g.Empty() {
			*others = append(*others, g)
		}
	}
}

// flatten copies p into XY layout, closing open rings and validating
// every coordinate.
func flatten(p *geom.Polygon) (*geom.Polygon, error) {
	src := p.Coords()
	rings := make([][]geom.Coord, 0, len(src))
	for i, ring := range src {
		out := make([]geom.Coord, 0, len(ring)+1)
		for _, c := range ring {
			if len(c) < 2 {
				return nil, ErrDegenerate
			}
			if err := checkCoord(c[0], c[1]); err != nil {
				return nil, err
			}
			out = append(out, geom.Coord{c[0], c[1]})
		}
		if len(out) > 0 && !out[0].Equal(geom.XY, out[len(out)-1]) {
			out = append(out, geom.Coord{out[0][0], out[0][1]})
		}
		if len(out) < 4 {
			if i == 0 {
				return nil, ErrDegenerate
			}
			// Holes too short to enclose anything are dropped.
			continue
		}
		rings = append(rings, out)
	}

	fp, err := geom.NewPolygon(geom.XY).SetCoords(rings)
	if err != nil {
		return nil, eris.Wrap(err, "boundary: build polygon")
	}
	if ring := fp.LinearRing(0); ring.Area() == 0 {
		return nil, ErrDegenerate
	}
	return fp, nil
}

// envelope returns the bounding rectangle of gs.
func envelope(gs []geom.T) (*geom.Polygon, error) {
	b := geom.NewBounds(geom.XY)
	for _, g := range gs {
		flat := g.FlatCoords()
		stride := g.Stride()
		for i := 0; i+1 < len(flat); i += stride {
			if err := checkCoord(flat[i], flat[i+1]); err != nil {
				return nil, err
			}
			b.Extend(geom.NewPointFlat(geom.XY, []float64{flat[i], flat[i+1]}))
		}
	}
	if b.IsEmpty() || b.Max(0) <= b.Min(0) || b.Max(1) <= b.Min(1) {
		return nil, ErrDegenerate
	}
	return b.Polygon().SetSRID(4326), nil
}

func checkCoord(lon, lat float64) error {
	if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
		return eris.Wrap(ErrOutOfRange, "boundary: non-finite coordinate")
	}
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return eris.Wrapf(ErrOutOfRange, "boundary: (%g, %g)", lon, lat)
	}
	return nil
}
