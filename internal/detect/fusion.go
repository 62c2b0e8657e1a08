package detect

import "github.com/sells-group/mineguard/internal/raster"

// Fuse combines the signals under the triple lock: spectral disturbance,
// absent vegetation and a depression deeper than the minimum depth must
// all hold. The conjunction is then cleaned with a modal filter; nothing is
// smoothed before the locks are applied.
func Fuse(s Signals, p Params) *raster.Image {
	return s.Optical.
		And(s.NDVI.Lt(p.VegetationThreshold)).
		And(s.DepthSignal).
		FocalMode(p.DenoiseRadius).
		Rename("disturbance")
}
