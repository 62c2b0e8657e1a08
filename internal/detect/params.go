package detect

import (
	"time"

	"github.com/sells-group/mineguard/internal/config"
)

// CloudProperty is the scene metadata property compared against the cloud
// ceiling.
const CloudProperty = "CLOUDY_PIXEL_PERCENTAGE"

// OpticalBands are the bands kept from the optical collection.
var OpticalBands = []string{"B4", "B3", "B2", "B8", "B11"}

// Params holds the thresholds and constants of a detection run. A Params
// value is read-only once a Detector is built.
type Params struct {
	StartDate           string
	EndDate             string
	OpticalCollection   string
	DEMSource           string
	DEMBand             string
	CloudCeiling        float64
	SpectralThreshold   float64
	VegetationThreshold float64
	MinDepth            float64
	BufferMeters        float64
	SmoothingRadius     float64
	DenoiseRadius       float64
	AreaScale           float64
	VolumeScale         float64
	RenderScale         float64
	MaxPixels           float64
	TruckCapacity       float64
	CallTimeout         time.Duration
	StrictBoundary      bool
}

// DefaultParams returns the stock detection constants.
func DefaultParams() Params {
	return Params{
		StartDate:           "2024-01-01",
		EndDate:             "2024-04-30",
		OpticalCollection:   "COPERNICUS/S2_SR_HARMONIZED",
		DEMSource:           "COPERNICUS/DEM/GLO30",
		DEMBand:             "DEM",
		CloudCeiling:        20,
		SpectralThreshold:   0.07,
		VegetationThreshold: 0.25,
		MinDepth:            2.0,
		BufferMeters:        2000,
		SmoothingRadius:     250,
		DenoiseRadius:       10,
		AreaScale:           10,
		VolumeScale:         30,
		RenderScale:         30,
		MaxPixels:           1e9,
		TruckCapacity:       15,
		CallTimeout:         5 * time.Minute,
	}
}

// ParamsFromConfig maps the detection section of the configuration.
func ParamsFromConfig(c config.DetectionConfig) Params {
	return Params{
		StartDate:           c.StartDate,
		EndDate:             c.EndDate,
		OpticalCollection:   c.OpticalCollection,
		DEMSource:           c.DEMSource,
		DEMBand:             c.DEMBand,
		CloudCeiling:        c.CloudCeiling,
		SpectralThreshold:   c.SpectralThreshold,
		VegetationThreshold: c.VegetationThreshold,
		MinDepth:            c.MinDepth,
		BufferMeters:        c.BufferMeters,
		SmoothingRadius:     c.SmoothingRadius,
		DenoiseRadius:       c.DenoiseRadius,
		AreaScale:           c.AreaScale,
		VolumeScale:         c.VolumeScale,
		RenderScale:         c.RenderScale,
		MaxPixels:           c.MaxPixels,
		TruckCapacity:       c.TruckCapacity,
		CallTimeout:         time.Duration(c.CallTimeoutSecs) * time.Second,
		StrictBoundary:      c.StrictBoundary,
	}
}
