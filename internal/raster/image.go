// Package raster models raster signals as deferred expression graphs.
//
// An *Image is an immutable node: builder methods never modify the receiver,
// they return a new node that references its inputs. No pixel exists until an
// Evaluator materializes an image over a Region at a given scale, so building
// a graph is pure and never blocks.
package raster

// Op identifies the kind of a graph node.
type Op string

// Node kinds understood by every Evaluator.
const (
	OpConstant             Op = "constant"
	OpSource               Op = "source"
	OpPixelArea            Op = "pixel_area"
	OpSelect               Op = "select"
	OpRename               Op = "rename"
	OpAddBands             Op = "add_bands"
	OpNormalizedDifference Op = "normalized_difference"
	OpGt                   Op = "gt"
	OpLt                   Op = "lt"
	OpEq                   Op = "eq"
	OpAnd                  Op = "and"
	OpAdd                  Op = "add"
	OpSubtract             Op = "subtract"
	OpMultiply             Op = "multiply"
	OpFocalMean            Op = "focal_mean"
	OpFocalMode            Op = "focal_mode"
	OpUpdateMask           Op = "update_mask"
	OpSelfMask             Op = "self_mask"
	OpWhere                Op = "where"
	OpPaint                Op = "paint"
	OpClip                 Op = "clip"
)

// Image is a node in a raster expression graph. Fields are exported so that
// evaluators in other packages can walk the graph; they must be treated as
// read-only once the node is built.
type Image struct {
	Op     Op
	Args   []*Image
	Value  float64
	Bands  []string
	Radius float64
	Region *Region
	Source *Source
}

func node(op Op, args ...*Image) *Image {
	return &Image{Op: op, Args: args}
}

// Constant returns a single-band image with the same value everywhere.
func Constant(v float64) *Image {
	return &Image{Op: OpConstant, Value: v, Bands: []string{"constant"}}
}

// PixelArea returns an image whose value is the ground area of each pixel in
// square meters at the scale of the evaluation.
func PixelArea() *Image {
	return &Image{Op: OpPixelArea, Bands: []string{"area"}}
}

// Select keeps the named bands, in order.
func (img *Image) Select(bands ...string) *Image {
	n := node(OpSelect, img)
	n.Bands = append([]string(nil), bands...)
	return n
}

// Rename replaces the band names of img.
func (img *Image) Rename(names ...string) *Image {
	n := node(OpRename, img)
	n.Bands = append([]string(nil), names...)
	return n
}

// AddBands stacks the bands of other after the bands of img.
func (img *Image) AddBands(other *Image) *Image {
	return node(OpAddBands, img, other)
}

// NormalizedDifference computes (a - b) / (a + b) from two bands of img.
// The result is a single band named "nd".
func (img *Image) NormalizedDifference(a, b string) *Image {
	n := node(OpNormalizedDifference, img)
	n.Bands = []string{a, b}
	return n
}

// Gt yields 1 where img > v, else 0.
func (img *Image) Gt(v float64) *Image { return node(OpGt, img, Constant(v)) }

// Lt yields 1 where img < v, else 0.
func (img *Image) Lt(v float64) *Image { return node(OpLt, img, Constant(v)) }

// Eq yields 1 where img == v, else 0.
func (img *Image) Eq(v float64) *Image { return node(OpEq, img, Constant(v)) }

// And yields 1 where both img and other are non-zero, else 0.
func (img *Image) And(other *Image) *Image { return node(OpAnd, img, other) }

// Add is the pixelwise sum of img and other.
func (img *Image) Add(other *Image) *Image { return node(OpAdd, img, other) }

// Subtract is the pixelwise difference img - other.
func (img *Image) Subtract(other *Image) *Image { return node(OpSubtract, img, other) }

// Multiply is the pixelwise product of img and other.
func (img *Image) Multiply(other *Image) *Image { return node(OpMultiply, img, other) }

// FocalMean smooths img with a circular mean kernel of the given radius in meters.
func (img *Image) FocalMean(radius float64) *Image {
	n := node(OpFocalMean, img)
	n.Radius = radius
	return n
}

// FocalMode replaces each pixel with the most frequent value within a
// circular kernel of the given radius in meters.
func (img *Image) FocalMode(radius float64) *Image {
	n := node(OpFocalMode, img)
	n.Radius = radius
	return n
}

// UpdateMask masks img wherever mask is zero or masked.
func (img *Image) UpdateMask(mask *Image) *Image { return node(OpUpdateMask, img, mask) }

// SelfMask masks img wherever its own value is zero.
func (img *Image) SelfMask() *Image { return node(OpSelfMask, img) }

// Where replaces img with v wherever cond is non-zero and unmasked.
func (img *Image) Where(cond *Image, v float64) *Image {
	n := node(OpWhere, img, cond)
	n.Value = v
	return n
}

// Paint burns v into every pixel whose center falls inside region.
func (img *Image) Paint(region Region, v float64) *Image {
	n := node(OpPaint, img)
	n.Region = &region
	n.Value = v
	return n
}

// Clip masks every pixel outside region.
func (img *Image) Clip(region Region) *Image {
	n := node(OpClip, img)
	n.Region = &region
	return n
}
