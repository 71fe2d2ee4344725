package buddhabrot

import "math"

// Normalize converts the grid into display intensities. Every channel is
// scaled independently against its own maximum with square-root compression:
//
//	intensity = round(255 · sqrt(count) / sqrt(max))
//
// A channel whose maximum is zero maps to zero everywhere. The grid is not
// modified.
func Normalize(grid *Grid) *Frame {
	n := grid.Channels()
	f := NewFrame(grid.Width(), grid.Height(), n)
	for ch := range n {
		m := grid.Max(ch)
		if m == 0 {
			continue
		}
		scale := 255 / math.Sqrt(float64(m))
		for i, v := range grid.Counts(ch) {
			f.pix[i*n+ch] = intensity(v, scale)
		}
	}
	return f
}

func intensity(count uint32, scale float64) uint8 {
	if count == 0 {
		return 0
	}
	v := math.Round(math.Sqrt(float64(count)) * scale)
	if v >= 255 {
		return 255
	}
	if v <= 0 {
		return 0
	}
	return uint8(v)
}
