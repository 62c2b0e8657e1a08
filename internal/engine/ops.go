package engine

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mineguard/internal/raster"
)

type evaluation struct {
	ctx     context.Context
	frame   raster.Frame
	catalog *Catalog
	memo    map[*raster.Image]*raster.Tile
}

func (ev *evaluation) eval(img *raster.Image) (*raster.Tile, error) {
	if t, ok := ev.memo[img]; ok {
		return t, nil
	}
	if err := ev.ctx.Err(); err != nil {
		return nil, err
	}

	args := make([]*raster.Tile, 0, len(img.Args))
	for _, a := range img.Args {
		t, err := ev.eval(a)
		if err != nil {
			return nil, err
		}
		args = append(args, t)
	}

	t, err := ev.apply(img, args)
	if err != nil {
		return nil, eris.Wrapf(err, "%s", img.Op)
	}
	ev.memo[img] = t
	return t, nil
}

func arity(args []*raster.Tile, n int) error {
	if len(args) != n {
		return eris.Errorf("expected %d inputs, got %d", n, len(args))
	}
	return nil
}

func (ev *evaluation) apply(img *raster.Image, args []*raster.Tile) (*raster.Tile, error) {
	f := ev.frame
	switch img.Op {
	case raster.OpConstant:
		t := raster.NewTile(f, "constant")
		for i := range t.Values[0] {
			t.Values[0][i], t.Valid[0][i] = img.Value, true
		}
		return t, nil

	case raster.OpPixelArea:
		t := raster.NewTile(f, "area")
		for row := 0; row < f.Height; row++ {
			a := f.PixelArea(row)
			for col := 0; col < f.Width; col++ {
				t.Set(0, col, row, a)
			}
		}
		return t, nil

	case raster.OpSource:
		if img.Source == nil {
			return nil, eris.New("missing source")
		}
		return ev.composite(img.Source)
	}

	// Every other op has at least one input.
	if len(args) == 0 {
		return nil, eris.New("missing input")
	}
	in := args[0]

	switch img.Op {
	case raster.OpSelect:
		return selectBands(in, img.Bands, img.Bands)
	case raster.OpRename:
		if len(img.Bands) != len(in.Bands) {
			return nil, eris.Errorf("rename %d bands to %d names", len(in.Bands), len(img.Bands))
		}
		out := *in
		out.Bands = append([]string(nil), img.Bands...)
		return &out, nil
	case raster.OpAddBands:
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		out := *in
		out.Bands = append(append([]string(nil), in.Bands...), args[1].Bands...)
		out.Values = append(append([][]float64(nil), in.Values...), args[1].Values...)
		out.Valid = append(append([][]bool(nil), in.Valid...), args[1].Valid...)
		return &out, nil
	case raster.OpNormalizedDifference:
		if len(img.Bands) != 2 {
			return nil, eris.New("needs two bands")
		}
		ab, err := selectBands(in, img.Bands, img.Bands)
		if err != nil {
			return nil, err
		}
		t := raster.NewTile(f, "nd")
		for i := range t.Values[0] {
			a, b := ab.Values[0][i], ab.Values[1][i]
			if ab.Valid[0][i] && ab.Valid[1][i] && a+b != 0 {
				t.Values[0][i], t.Valid[0][i] = (a-b)/(a+b), true
			}
		}
		return t, nil
	case raster.OpGt, raster.OpLt, raster.OpEq, raster.OpAnd, raster.OpAdd, raster.OpSubtract, raster.OpMultiply:
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		return binary(img.Op, in, args[1])
	case raster.OpFocalMean:
		return ev.focalMean(in, f.RadiusPixels(img.Radius))
	case raster.OpFocalMode:
		return ev.focalMode(in, f.RadiusPixels(img.Radius))
	case raster.OpUpdateMask:
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		mask := args[1]
		out := cloneTile(in)
		for b := range out.Bands {
			mb := broadcast(mask, b)
			for i := range out.Valid[b] {
				out.Valid[b][i] = out.Valid[b][i] && mask.Valid[mb][i] && mask.Values[mb][i] != 0
			}
		}
		return out, nil
	case raster.OpSelfMask:
		out := cloneTile(in)
		for b := range out.Bands {
			for i := range out.Valid[b] {
				out.Valid[b][i] = out.Valid[b][i] && out.Values[b][i] != 0
			}
		}
		return out, nil
	case raster.OpWhere:
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		cond := args[1]
		out := cloneTile(in)
		for b := range out.Bands {
			cb := broadcast(cond, b)
			for i := range out.Valid[b] {
				if cond.Valid[cb][i] && cond.Values[cb][i] != 0 {
					out.Values[b][i], out.Valid[b][i] = img.Value, true
				}
			}
		}
		return out, nil
	case raster.OpPaint, raster.OpClip:
		if img.Region == nil {
			return nil, eris.New("missing region")
		}
		m, err := img.Region.Matcher()
		if err != nil {
			return nil, err
		}
		out := cloneTile(in)
		for row := 0; row < f.Height; row++ {
			for col := 0; col < f.Width; col++ {
				inside := m.Contains(f.Center(col, row))
				i := f.Index(col, row)
				for b := range out.Bands {
					switch {
					case img.Op == raster.OpPaint && inside:
						out.Values[b][i], out.Valid[b][i] = img.Value, true
					case img.Op == raster.OpClip && !inside:
						out.Valid[b][i] = false
					}
				}
			}
		}
		return out, nil
	}
	return nil, eris.Errorf("unsupported op %q", img.Op)
}

func selectBands(in *raster.Tile, names, rename []string) (*raster.Tile, error) {
	out := &raster.Tile{Frame: in.Frame}
	for k, name := range names {
		b := in.Band(name)
		if b < 0 {
			return nil, eris.Errorf("band %q not found in %v", name, in.Bands)
		}
		out.Bands = append(out.Bands, rename[k])
		out.Values = append(out.Values, in.Values[b])
		out.Valid = append(out.Valid, in.Valid[b])
	}
	return out, nil
}

// cloneTile deep-copies t so that ops never write into a memoized input.
func cloneTile(t *raster.Tile) *raster.Tile {
	out := &raster.Tile{Frame: t.Frame, Bands: append([]string(nil), t.Bands...)}
	for b := range t.Bands {
		out.Values = append(out.Values, append([]float64(nil), t.Values[b]...))
		out.Valid = append(out.Valid, append([]bool(nil), t.Valid[b]...))
	}
	return out
}

// broadcast maps band b of the left operand to a band of t; single band
// operands apply to every band.
func broadcast(t *raster.Tile, b int) int {
	if len(t.Bands) == 1 {
		return 0
	}
	return b
}

func binary(op raster.Op, left, right *raster.Tile) (*raster.Tile, error) {
	if len(right.Bands) != 1 && len(right.Bands) != len(left.Bands) {
		return nil, eris.Errorf("band count mismatch %d vs %d", len(left.Bands), len(right.Bands))
	}
	out := raster.NewTile(left.Frame, left.Bands...)
	for b := range left.Bands {
		rb := broadcast(right, b)
		for i := range out.Values[b] {
			if !left.Valid[b][i] || !right.Valid[rb][i] {
				continue
			}
			out.Values[b][i] = combine(op, left.Values[b][i], right.Values[rb][i])
			out.Valid[b][i] = true
		}
	}
	return out, nil
}

func combine(op raster.Op, a, b float64) float64 {
	truth := func(ok bool) float64 {
		if ok {
			return 1
		}
		return 0
	}
	switch op {
	case raster.OpGt:
		return truth(a > b)
	case raster.OpLt:
		return truth(a < b)
	case raster.OpEq:
		return truth(a == b)
	case raster.OpAnd:
		return truth(a != 0 && b != 0)
	case raster.OpAdd:
		return a + b
	case raster.OpSubtract:
		return a - b
	default:
		return a * b
	}
}

// composite flattens the filtered scenes of src onto the frame. An empty
// collection yields a fully masked image rather than an error.
func (ev *evaluation) composite(src *raster.Source) (*raster.Tile, error) {
	scenes, err := ev.catalog.Filter(src)
	if err != nil {
		return nil, err
	}

	bands := src.Bands
	if len(bands) == 0 && len(scenes) > 0 {
		for name := range scenes[0].Bands {
			bands = append(bands, name)
		}
		sort.Strings(bands)
	}

	f := ev.frame
	t := raster.NewTile(f, bands...)
	if len(scenes) == 0 {
		return t, nil
	}

	stack := make([]float64, 0, len(scenes))
	for row := 0; row < f.Height; row++ {
		if err := ev.ctx.Err(); err != nil {
			return nil, err
		}
		for col := 0; col < f.Width; col++ {
			lon, lat := f.Center(col, row)
			for b, name := range bands {
				stack = stack[:0]
				for _, s := range scenes {
					band, ok := s.Bands[name]
					if !ok || !s.covers(lon, lat) {
						continue
					}
					if v, ok := band.At(lon, lat); ok {
						stack = append(stack, v)
					}
				}
				if len(stack) == 0 {
					continue
				}
				if src.Composite == raster.CompositeMosaic {
					t.Set(b, col, row, stack[len(stack)-1])
				} else {
					t.Set(b, col, row, median(stack))
				}
			}
		}
	}
	return t, nil
}

func median(v []float64) float64 {
	sort.Float64s(v)
	n := len(v)
	if n%2 == 1 {
		return v[n/2]
	}
	return (v[n/2-1] + v[n/2]) / 2
}
