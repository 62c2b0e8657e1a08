package engine

import (
	"math"

	"github.com/sells-group/mineguard/internal/raster"
)

// kernel returns, for each row offset -r..r, the half width of a circular
// kernel of radius r pixels.
func kernel(r int) []int {
	half := make([]int, 2*r+1)
	for dy := -r; dy <= r; dy++ {
		half[dy+r] = int(math.Floor(math.Sqrt(float64(r*r - dy*dy))))
	}
	return half
}

// focalMean averages the unmasked neighbors of each unmasked pixel. Row
// prefix sums keep the cost linear in the kernel diameter.
func (ev *evaluation) focalMean(in *raster.Tile, r int) (*raster.Tile, error) {
	if r <= 0 {
		return in, nil
	}
	f := in.Frame
	half := kernel(r)
	out := raster.NewTile(f, in.Bands...)

	w := f.Width
	sums := make([]float64, f.Height*(w+1))
	counts := make([]int, f.Height*(w+1))

	for b := range in.Bands {
		for row := 0; row < f.Height; row++ {
			base := row * (w + 1)
			for col := 0; col < w; col++ {
				i := f.Index(col, row)
				sums[base+col+1] = sums[base+col]
				counts[base+col+1] = counts[base+col]
				if in.Valid[b][i] {
					sums[base+col+1] += in.Values[b][i]
					counts[base+col+1]++
				}
			}
		}

		for row := 0; row < f.Height; row++ {
			if err := ev.ctx.Err(); err != nil {
				return nil, err
			}
			for col := 0; col < w; col++ {
				if !in.Valid[b][f.Index(col, row)] {
					continue
				}
				var sum float64
				var n int
				for dy := -r; dy <= r; dy++ {
					y := row + dy
					if y < 0 || y >= f.Height {
						continue
					}
					x0 := max(0, col-half[dy+r])
					x1 := min(w-1, col+half[dy+r])
					base := y * (w + 1)
					sum += sums[base+x1+1] - sums[base+x0]
					n += counts[base+x1+1] - counts[base+x0]
				}
				if n > 0 {
					out.Set(b, col, row, sum/float64(n))
				}
			}
		}
	}
	return out, nil
}

type tally struct {
	value float64
	count int
}

// focalMode replaces each unmasked pixel with the most common unmasked value
// in its kernel. Ties go to the smaller value.
func (ev *evaluation) focalMode(in *raster.Tile, r int) (*raster.Tile, error) {
	if r <= 0 {
		return in, nil
	}
	f := in.Frame
	half := kernel(r)
	out := raster.NewTile(f, in.Bands...)
	counts := make([]tally, 0, 4)

	for b := range in.Bands {
		for row := 0; row < f.Height; row++ {
			if err := ev.ctx.Err(); err != nil {
				return nil, err
			}
			for col := 0; col < f.Width; col++ {
				if !in.Valid[b][f.Index(col, row)] {
					continue
				}
				counts = counts[:0]
				for dy := -r; dy <= r; dy++ {
					y := row + dy
					if y < 0 || y >= f.Height {
						continue
					}
					for x := max(0, col-half[dy+r]); x <= min(f.Width-1, col+half[dy+r]); x++ {
						i := f.Index(x, y)
						if in.Valid[b][i] {
							counts = bump(counts, in.Values[b][i])
						}
					}
				}
				best := counts[0]
				for _, c := range counts[1:] {
					if c.count > best.count || (c.count == best.count && c.value < best.value) {
						best = c
					}
				}
				out.Set(b, col, row, best.value)
			}
		}
	}
	return out, nil
}

func bump(counts []tally, v float64) []tally {
	for i := range counts {
		if counts[i].value == v {
			counts[i].count++
			return counts
		}
	}
	return append(counts, tally{value: v, count: 1})
}
