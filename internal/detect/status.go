package detect

import "github.com/sells-group/mineguard/internal/raster"

// Status codes of the composed status band.
const (
	StatusNone    = 0
	StatusIllegal = 1
	StatusLegal   = 2
)

// ComposeStatus stacks the raw depth with a status band classifying every
// pixel as none, illegal or legal.
func ComposeStatus(depth *raster.Image, part Partition) *raster.Image {
	status := raster.Constant(StatusNone).
		Where(part.Illegal, StatusIllegal).
		Where(part.Legal, StatusLegal).
		Rename("status")
	return depth.AddBands(status)
}
