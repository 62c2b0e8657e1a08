package store

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/geojson"
)

const srid = 4326

// toMultiPolygon widens a boundary to the MultiPolygon stored in the
// database. Nil stays nil.
func toMultiPolygon(g geom.T) (*geom.MultiPolygon, error) {
	switch t := g.(type) {
	case nil:
		return nil, nil
	case *geom.MultiPolygon:
		if t.Layout() != geom.XY {
			return toMultiPolygon(dropZ(t))
		}
		return t.SetSRID(srid), nil
	case *geom.Polygon:
		mp := geom.NewMultiPolygon(geom.XY).SetSRID(srid)
		p := t
		if t.Layout() != geom.XY {
			p = geom.NewPolygon(geom.XY)
			if _, err := p.SetCoords(xyRings(t.Coords())); err != nil {
				return nil, eris.Wrap(err, "store: boundary to XY")
			}
		}
		if err := mp.Push(p); err != nil {
			return nil, eris.Wrap(err, "store: boundary to multipolygon")
		}
		return mp, nil
	default:
		return nil, eris.Errorf("store: unsupported boundary type %T", g)
	}
}

func dropZ(mp *geom.MultiPolygon) *geom.MultiPolygon {
	out := geom.NewMultiPolygon(geom.XY)
	for _, p := range mp.Coords() {
		_ = out.Push(geom.NewPolygon(geom.XY).MustSetCoords(xyRings(p)))
	}
	return out
}

func xyRings(rings [][]geom.Coord) [][]geom.Coord {
	out := make([][]geom.Coord, len(rings))
	for i, ring := range rings {
		out[i] = make([]geom.Coord, len(ring))
		for j, c := range ring {
			out[i][j] = geom.Coord{c[0], c[1]}
		}
	}
	return out
}

// encodeEWKB converts a boundary to EWKB bytes with SRID 4326. Returns
// nil, nil for a nil boundary.
func encodeEWKB(g geom.T) ([]byte, error) {
	mp, err := toMultiPolygon(g)
	if err != nil || mp == nil {
		return nil, err
	}
	data, err := ewkb.Marshal(mp, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode EWKB")
	}
	return data, nil
}

func decodeEWKB(data []byte) (geom.T, error) {
	if len(data) == 0 {
		return nil, nil
	}
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "store: decode EWKB")
	}
	return g, nil
}

// encodeGeoJSON converts a boundary to a GeoJSON MultiPolygon. Returns
// "" for a nil boundary.
func encodeGeoJSON(g geom.T) (string, error) {
	mp, err := toMultiPolygon(g)
	if err != nil || mp == nil {
		return "", err
	}
	data, err := geojson.Marshal(mp)
	if err != nil {
		return "", eris.Wrap(err, "store: encode GeoJSON")
	}
	return string(data), nil
}

func decodeGeoJSON(s string) (geom.T, error) {
	if s == "" {
		return nil, nil
	}
	var g geom.T
	if err := geojson.Unmarshal([]byte(s), &g); err != nil {
		return nil, eris.Wrap(err, "store: decode GeoJSON")
	}
	if g != nil {
		if _, err := geom.SetSRID(g, srid); err != nil {
			return nil, eris.Wrap(err, "store: set SRID")
		}
	}
	return g, nil
}
