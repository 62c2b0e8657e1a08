package detect

import "github.com/sells-group/mineguard/internal/raster"

// Partition splits a disturbance mask by lease membership. Legal and
// Illegal never overlap and both are subsets of the mask.
type Partition struct {
	Membership *raster.Image
	Legal      *raster.Image
	Illegal    *raster.Image
}

// PartitionMask rasterizes roi and splits mask into the part inside the
// lease and the part outside it.
func PartitionMask(mask *raster.Image, roi raster.Region) Partition {
	membership := raster.Constant(0).Paint(roi, 1).Rename("membership")
	return Partition{
		Membership: membership,
		Legal:      mask.And(membership.Eq(1)),
		Illegal:    mask.And(membership.Eq(0)),
	}
}
