package engine

import (
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mineguard/internal/raster"
)

// Band yields the value of one scene band at a lon/lat. The boolean is false
// where the band has no data.
type Band interface {
	At(lon, lat float64) (float64, bool)
}

// BandFunc adapts a function to Band.
type BandFunc func(lon, lat float64) (float64, bool)

// At implements Band.
func (f BandFunc) At(lon, lat float64) (float64, bool) { return f(lon, lat) }

// Feature shapes understood by Field.
const (
	ShapeDisc   = "disc"
	ShapeCone   = "cone"
	ShapeNoData = "nodata"
)

// Feature is a circular anomaly in a Field. Discs replace the base value,
// cones add Value at the center tapering to zero at Radius, and nodata
// masks the band.
type Feature struct {
	Shape  string     `yaml:"shape"`
	Center [2]float64 `yaml:"center"`
	Radius float64    `yaml:"radius"`
	Value  float64    `yaml:"value"`
}

// Field is a procedural band: a flat base with features applied in order.
type Field struct {
	Base     float64   `yaml:"base"`
	Features []Feature `yaml:"features"`
}

// At implements Band.
func (f Field) At(lon, lat float64) (float64, bool) {
	v := f.Base
	for _, ft := range f.Features {
		d := groundDistance(lon, lat, ft.Center[0], ft.Center[1])
		switch ft.Shape {
		case ShapeDisc:
			if d <= ft.Radius {
				v = ft.Value
			}
		case ShapeCone:
			if d < ft.Radius {
				v += ft.Value * (1 - d/ft.Radius)
			}
		case ShapeNoData:
			if d <= ft.Radius {
				return 0, false
			}
		}
	}
	return v, true
}

func groundDistance(lon, lat, lon0, lat0 float64) float64 {
	dx := (lon - lon0) * raster.MetersPerDegree * math.Cos(lat0*math.Pi/180)
	dy := (lat - lat0) * raster.MetersPerDegree
	return math.Hypot(dx, dy)
}

// Scene is one acquisition in a collection.
type Scene struct {
	ID         string
	Time       time.Time
	Properties map[string]float64
	// Footprint is minLon, minLat, maxLon, maxLat. A zero footprint covers
	// the globe, which suits elevation models.
	Footprint [4]float64
	Bands     map[string]Band
}

func (s *Scene) covers(lon, lat float64) bool {
	if s.Footprint == [4]float64{} {
		return true
	}
	return lon >= s.Footprint[0] && lat >= s.Footprint[1] && lon <= s.Footprint[2] && lat <= s.Footprint[3]
}

func (s *Scene) intersects(minLon, minLat, maxLon, maxLat float64) bool {
	if s.Footprint == [4]float64{} {
		return true
	}
	return s.Footprint[0] <= maxLon && s.Footprint[2] >= minLon && s.Footprint[1] <= maxLat && s.Footprint[3] >= minLat
}

// Catalog holds the scenes of every collection the engine can read.
type Catalog struct {
	collections map[string][]*Scene
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{collections: make(map[string][]*Scene)}
}

// Add registers scenes under a collection id, keeping each collection in
// acquisition order.
func (c *Catalog) Add(collection string, scenes ...*Scene) {
	list := append(c.collections[collection], scenes...)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Time.Before(list[j].Time) })
	c.collections[collection] = list
}

// Collections lists the registered collection ids.
func (c *Catalog) Collections() []string {
	ids := make([]string, 0, len(c.collections))
	for id := range c.collections {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Filter returns the scenes of src.Collection that pass its date, bounds
// and property filters, oldest first. An empty result is not an error.
func (c *Catalog) Filter(src *raster.Source) ([]*Scene, error) {
	scenes, ok := c.collections[src.Collection]
	if !ok {
		return nil, eris.Errorf("engine: unknown collection %q", src.Collection)
	}
	from, until, err := src.Window()
	if err != nil {
		return nil, eris.Wrap(err, "engine: parse date filter")
	}

	var out []*Scene
	for _, s := range scenes {
		if !from.IsZero() && s.Time.Before(from) {
			continue
		}
		if !until.IsZero() && !s.Time.Before(until) {
			continue
		}
		if src.Bounds != nil && !s.intersects(src.Bounds.Bounds()) {
			continue
		}
		if !passes(s, src.Filters) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func passes(s *Scene, filters []raster.PropertyFilter) bool {
	for _, f := range filters {
		v, ok := s.Properties[f.Property]
		if !ok || v >= f.Below {
			return false
		}
	}
	return true
}
