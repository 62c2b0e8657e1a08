package detect

import "github.com/sells-group/mineguard/internal/raster"

// Signals are the independent indicators derived for one search zone.
// Building them performs no I/O.
type Signals struct {
	// Composite is the cloud-filtered median of the optical bands.
	Composite *raster.Image
	NDBI      *raster.Image
	NDVI      *raster.Image
	// Optical is 1 where the surface looks bare and built-up.
	Optical   *raster.Image
	Elevation *raster.Image
	Smoothed  *raster.Image
	// Depth is the smoothed surface minus the terrain, band "depth".
	// Positive values are below the surrounding ground.
	Depth       *raster.Image
	DepthSignal *raster.Image
}

// ExtractSignals builds the spectral, vegetation and depth indicators.
// Scenes are selected by their intersection with roi and clipped to zone.
// start and end are inclusive calendar dates.
func ExtractSignals(roi, zone raster.Region, start, end string, p Params) Signals {
	composite := raster.NewCollection(p.OpticalCollection).
		FilterBounds(roi).
		FilterDate(start, end).
		FilterBelow(CloudProperty, p.CloudCeiling).
		Select(OpticalBands...).
		Median().
		Clip(zone)

	ndbi := composite.NormalizedDifference("B11", "B8")
	ndvi := composite.NormalizedDifference("B8", "B4")
	optical := ndbi.Gt(p.SpectralThreshold).And(ndvi.Lt(p.VegetationThreshold))

	elevation := raster.NewCollection(p.DEMSource).
		Select(p.DEMBand).
		Mosaic().
		Clip(zone)
	smoothed := elevation.FocalMean(p.SmoothingRadius)
	depth := smoothed.Subtract(elevation).Rename("depth")

	return Signals{
		Composite:   composite,
		NDBI:        ndbi,
		NDVI:        ndvi,
		Optical:     optical,
		Elevation:   elevation,
		Smoothed:    smoothed,
		Depth:       depth,
		DepthSignal: depth.Gt(p.MinDepth),
	}
}
