package raster

import "time"

// DateLayout is the calendar date format used for collection filters.
const DateLayout = "2006-01-02"

// Composite picks how a filtered collection is flattened into one image.
type Composite string

// Supported composites.
const (
	CompositeMedian Composite = "median"
	CompositeMosaic Composite = "mosaic"
)

// PropertyFilter keeps scenes whose metadata property is below Value.
type PropertyFilter struct {
	Property string  `json:"property"`
	Below    float64 `json:"below"`
}

// Source describes a filtered, composited image collection. It is the only
// leaf of a graph that reads imagery.
type Source struct {
	Collection string           `json:"collection"`
	Start      string           `json:"start,omitempty"`
	End        string           `json:"end,omitempty"`
	Bounds     *Region          `json:"bounds,omitempty"`
	Filters    []PropertyFilter `json:"filters,omitempty"`
	Bands      []string         `json:"bands,omitempty"`
	Composite  Composite        `json:"composite"`
}

// Window returns the acquisition window of s. Both ends are inclusive
// calendar days, so the returned end is midnight after End. Missing ends are
// returned as zero times.
func (s *Source) Window() (from, until time.Time, err error) {
	if s.Start != "" {
		if from, err = time.Parse(DateLayout, s.Start); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if s.End != "" {
		var end time.Time
		if end, err = time.Parse(DateLayout, s.End); err != nil {
			return time.Time{}, time.Time{}, err
		}
		until = end.AddDate(0, 0, 1)
	}
	return from, until, nil
}

// Collection is an immutable builder for a Source.
type Collection struct {
	src Source
}

// NewCollection starts a builder for the named catalog collection.
func NewCollection(id string) Collection {
	return Collection{src: Source{Collection: id}}
}

func (c Collection) clone() Collection {
	out := c
	out.src.Filters = append([]PropertyFilter(nil), c.src.Filters...)
	out.src.Bands = append([]string(nil), c.src.Bands...)
	return out
}

// FilterDate keeps scenes acquired between start and end inclusive.
func (c Collection) FilterDate(start, end string) Collection {
	out := c.clone()
	out.src.Start, out.src.End = start, end
	return out
}

// FilterBounds keeps scenes whose footprint intersects region.
func (c Collection) FilterBounds(region Region) Collection {
	out := c.clone()
	out.src.Bounds = &region
	return out
}

// FilterBelow keeps scenes whose property is strictly below v.
func (c Collection) FilterBelow(property string, v float64) Collection {
	out := c.clone()
	out.src.Filters = append(out.src.Filters, PropertyFilter{Property: property, Below: v})
	return out
}

// Select keeps the named bands of every scene.
func (c Collection) Select(bands ...string) Collection {
	out := c.clone()
	out.src.Bands = append([]string(nil), bands...)
	return out
}

// Median composites the collection with a per-pixel median.
func (c Collection) Median() *Image { return c.composite(CompositeMedian) }

// Mosaic composites the collection with the last scene on top.
func (c Collection) Mosaic() *Image { return c.composite(CompositeMosaic) }

func (c Collection) composite(kind Composite) *Image {
	src := c.clone().src
	src.Composite = kind
	return &Image{Op: OpSource, Source: &src, Bands: src.Bands}
}
