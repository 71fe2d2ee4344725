package buddhabrot

import (
	"fmt"
	"sync/atomic"
)

// Grid is the per-channel hit histogram of a render.
//
// Counters are uint32 and are not checked for overflow: a single cell wraps
// after 2³²-1 hits. For a W x H grid that takes on the order of
// 2³²·W·H / (hits per sample · samples) samples; a 4x4 grid under a deep
// cumulative run is the realistic way to get there. Use several smaller runs
// merged through snapshots if that ceiling matters.
//
// A Grid is written only by the accumulation stage while a batch runs and
// read only after the batch barrier.
type Grid struct {
	width, height int
	counts        [][]uint32
}

// NewGrid allocates a zeroed grid with the given number of channels.
func NewGrid(width, height, channels int) *Grid {
	if width <= 0 || height <= 0 || channels <= 0 || channels > MaxChannels {
		panic(fmt.Sprintf("buddhabrot: invalid grid %dx%d with %d channels", width, height, channels))
	}
	counts := make([][]uint32, channels)
	for i := range counts {
		counts[i] = make([]uint32, width*height)
	}
	return &Grid{width: width, height: height, counts: counts}
}

// Width returns the grid width in cells.
func (g *Grid) Width() int { return g.width }

// Height returns the grid height in cells.
func (g *Grid) Height() int { return g.height }

// Channels returns the number of channels.
func (g *Grid) Channels() int { return len(g.counts) }

// Counts returns the row-major counters of channel ch. The slice aliases the
// grid; callers must not write to it.
func (g *Grid) Counts(ch int) []uint32 { return g.counts[ch] }

// At returns the counter of channel ch at cell (x, y).
func (g *Grid) At(ch, x, y int) uint32 {
	return g.counts[ch][y*g.width+x]
}

// inc increments channel ch at linear cell index i.
func (g *Grid) inc(ch, i int) {
	g.counts[ch][i]++
}

// incAtomic increments channel ch at linear cell index i with an atomic add.
func (g *Grid) incAtomic(ch, i int) {
	atomic.AddUint32(&g.counts[ch][i], 1)
}

// Reset zeroes every counter.
func (g *Grid) Reset() {
	for _, c := range g.counts {
		clear(c)
	}
}

// Max returns the largest counter of channel ch.
func (g *Grid) Max(ch int) uint32 {
	var m uint32
	for _, v := range g.counts[ch] {
		m = max(m, v)
	}
	return m
}

// Total returns the sum of all counters of channel ch.
func (g *Grid) Total(ch int) uint64 {
	var t uint64
	for _, v := range g.counts[ch] {
		t += uint64(v)
	}
	return t
}

// SameShape reports whether g and o have equal dimensions and channel counts.
func (g *Grid) SameShape(o *Grid) bool {
	return g.width == o.width && g.height == o.height && len(g.counts) == len(o.counts)
}

// Merge adds every counter of o into g. Both grids must have the same shape.
func (g *Grid) Merge(o *Grid) {
	if !g.SameShape(o) {
		panic("buddhabrot: merge of grids with different shapes")
	}
	for ch, dst := range g.counts {
		src := o.counts[ch]
		for i, v := range src {
			dst[i] += v
		}
	}
}

// AddCounts adds delta cell by cell to channel ch. delta must hold exactly
// Width*Height counters in row-major order. Accelerators use it to fold a
// device-side histogram into the grid.
func (g *Grid) AddCounts(ch int, delta []uint32) {
	dst := g.counts[ch]
	if len(delta) != len(dst) {
		panic(fmt.Sprintf("buddhabrot: AddCounts with %d counters, grid has %d", len(delta), len(dst)))
	}
	for i, v := range delta {
		dst[i] += v
	}
}

// Clone returns a deep copy of the grid.
func (g *Grid) Clone() *Grid {
	c := &Grid{width: g.width, height: g.height, counts: make([][]uint32, len(g.counts))}
	for i, src := range g.counts {
		c.counts[i] = append([]uint32(nil), src...)
	}
	return c
}
