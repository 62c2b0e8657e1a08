package engine

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/mineguard/internal/raster"
)

type manifest struct {
	Collections map[string][]sceneSpec `yaml:"collections"`
}

type sceneSpec struct {
	ID         string             `yaml:"id"`
	Date       string             `yaml:"date"`
	Footprint  []float64          `yaml:"footprint"`
	Properties map[string]float64 `yaml:"properties"`
	Bands      map[string]Field   `yaml:"bands"`
}

// LoadManifest reads a YAML scene manifest into a Catalog.
//
//	collections:
//	  COPERNICUS/DEM/GLO30:
//	    - id: dem
//	      date: 2021-01-01
//	      bands:
//	        DEM: {base: 180, features: [{shape: cone, center: [86.42, 23.72], radius: 300, value: -25}]}
func LoadManifest(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: read manifest %s", path)
	}
	return ParseManifest(data)
}

// ParseManifest decodes manifest YAML.
func ParseManifest(data []byte) (*Catalog, error) {
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "engine: parse manifest")
	}

	cat := NewCatalog()
	for collection, specs := range m.Collections {
		scenes := make([]*Scene, 0, len(specs))
		for i, spec := range specs {
			s, err := spec.scene()
			if err != nil {
				return nil, eris.Wrapf(err, "engine: %s scene %d", collection, i)
			}
			scenes = append(scenes, s)
		}
		cat.Add(collection, scenes...)
	}
	return cat, nil
}

func (spec sceneSpec) scene() (*Scene, error) {
	t, err := time.Parse(raster.DateLayout, spec.Date)
	if err != nil {
		return nil, eris.Wrap(err, "date")
	}
	s := &Scene{
		ID:         spec.ID,
		Time:       t,
		Properties: spec.Properties,
		Bands:      make(map[string]Band, len(spec.Bands)),
	}
	switch len(spec.Footprint) {
	case 0:
	case 4:
		copy(s.Footprint[:], spec.Footprint)
	default:
		return nil, eris.Errorf("footprint needs 4 values, got %d", len(spec.Footprint))
	}
	for name, f := range spec.Bands {
		for _, ft := range f.Features {
			switch ft.Shape {
			case ShapeDisc, ShapeCone, ShapeNoData:
			default:
				return nil, eris.Errorf("band %s: unknown feature shape %q", name, ft.Shape)
			}
		}
		s.Bands[name] = f
	}
	return s, nil
}
