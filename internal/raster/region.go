package raster

import (
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/xy"
)

// MetersPerDegree is the length of one degree of latitude used for all
// degree to meter conversions.
const MetersPerDegree = 111320.0

// Region is a polygonal area of interest in EPSG:4326, optionally grown by
// a buffer in meters.
type Region struct {
	Geometry geom.T
	Buffer   float64
}

// NewRegion wraps a Polygon or MultiPolygon.
func NewRegion(g geom.T) Region {
	return Region{Geometry: g}
}

// Buffered returns a copy of r grown by meters.
func (r Region) Buffered(meters float64) Region {
	r.Buffer += meters
	return r
}

// Bounds returns the lon/lat envelope of r including its buffer.
func (r Region) Bounds() (minLon, minLat, maxLon, maxLat float64) {
	b := r.Geometry.Bounds()
	minLon, minLat, maxLon, maxLat = b.Min(0), b.Min(1), b.Max(0), b.Max(1)
	if r.Buffer > 0 {
		dLat := r.Buffer / MetersPerDegree
		dLon := r.Buffer / (MetersPerDegree * math.Cos(((minLat+maxLat)/2)*math.Pi/180))
		minLon, maxLon = minLon-dLon, maxLon+dLon
		minLat, maxLat = minLat-dLat, maxLat+dLat
	}
	return minLon, minLat, maxLon, maxLat
}

type regionJSON struct {
	Geometry json.RawMessage `json:"geometry"`
	Buffer   float64         `json:"buffer,omitempty"`
}

// MarshalJSON encodes r with its geometry as GeoJSON.
func (r Region) MarshalJSON() ([]byte, error) {
	g, err := geojson.Marshal(r.Geometry)
	if err != nil {
		return nil, eris.Wrap(err, "raster: marshal region geometry")
	}
	return json.Marshal(regionJSON{Geometry: g, Buffer: r.Buffer})
}

// UnmarshalJSON decodes a region written by MarshalJSON.
func (r *Region) UnmarshalJSON(data []byte) error {
	var raw regionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "raster: unmarshal region")
	}
	var g geom.T
	if err := geojson.Unmarshal(raw.Geometry, &g); err != nil {
		return eris.Wrap(err, "raster: unmarshal region geometry")
	}
	r.Geometry, r.Buffer = g, raw.Buffer
	return nil
}

// Matcher answers point membership for a Region. It projects the polygon
// into a local planar frame once so per-pixel tests stay cheap.
type Matcher struct {
	polys  [][][]float64 // polygon -> ring -> flat x,y in meters
	lon0   float64
	lat0   float64
	kx     float64
	buffer float64
}

// Matcher prepares r for repeated Contains calls.
func (r Region) Matcher() (*Matcher, error) {
	var polys []*geom.Polygon
	switch g := r.Geometry.(type) {
	case *geom.Polygon:
		polys = []*geom.Polygon{g}
	case *geom.MultiPolygon:
		for i := 0; i < g.NumPolygons(); i++ {
			polys = append(polys, g.Polygon(i))
		}
	default:
		return nil, eris.Errorf("raster: region geometry must be a polygon, got %T", r.Geometry)
	}

	b := r.Geometry.Bounds()
	m := &Matcher{
		lon0:   (b.Min(0) + b.Max(0)) / 2,
		lat0:   (b.Min(1) + b.Max(1)) / 2,
		buffer: r.Buffer,
	}
	m.kx = MetersPerDegree * math.Cos(m.lat0*math.Pi/180)

	for _, p := range polys {
		var rings [][]float64
		for i := 0; i < p.NumLinearRings(); i++ {
			flat := p.LinearRing(i).FlatCoords()
			stride := p.Stride()
			ring := make([]float64, 0, len(flat)/stride*2)
			for j := 0; j+1 < len(flat); j += stride {
				x, y := m.project(flat[j], flat[j+1])
				ring = append(ring, x, y)
			}
			rings = append(rings, ring)
		}
		m.polys = append(m.polys, rings)
	}
	return m, nil
}

func (m *Matcher) project(lon, lat float64) (float64, float64) {
	return (lon - m.lon0) * m.kx, (lat - m.lat0) * MetersPerDegree
}

// Contains reports whether lon/lat lies inside the region or within its
// buffer distance of the boundary.
func (m *Matcher) Contains(lon, lat float64) bool {
	x, y := m.project(lon, lat)
	pt := geom.Coord{x, y}
	for _, rings := range m.polys {
		if insideRings(pt, rings) {
			return true
		}
	}
	if m.buffer <= 0 {
		return false
	}
	for _, rings := range m.polys {
		for _, ring := range rings {
			if len(ring) >= 2 && xy.DistanceFromPointToLineString(geom.XY, pt, ring) <= m.buffer {
				return true
			}
		}
	}
	return false
}

func insideRings(pt geom.Coord, rings [][]float64) bool {
	if len(rings) == 0 || len(rings[0]) < 6 || !xy.IsPointInRing(geom.XY, pt, rings[0]) {
		return false
	}
	for _, hole := range rings[1:] {
		if xy.IsPointInRing(geom.XY, pt, hole) {
			return false
		}
	}
	return true
}
