package buddhabrot

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig reports a configuration that violates one of its
// invariants. It is always wrapped with a description of the violation.
var ErrInvalidConfig = errors.New("buddhabrot: invalid configuration")

// MaxChannels is the largest number of color bands a configuration may have.
const MaxChannels = 4

// PlaneWindow is the rectangle of the complex plane that is both sampled
// and rendered.
type PlaneWindow struct {
	RealMin, RealMax float32
	ImagMin, ImagMax float32
}

// Common windows.
var (
	// FullWindow frames the whole set with room on the right for the
	// escaping orbits of the main cardioid.
	FullWindow = PlaneWindow{RealMin: -2.25, RealMax: 0.75, ImagMin: -1.5, ImagMax: 1.5}

	// ClassicWindow is the customary [-2,1]x[-1.5,1.5] framing.
	ClassicWindow = PlaneWindow{RealMin: -2, RealMax: 1, ImagMin: -1.5, ImagMax: 1.5}
)

// Validate reports whether the window is non-degenerate on both axes.
func (w PlaneWindow) Validate() error {
	if !finite32(w.RealMin, w.RealMax, w.ImagMin, w.ImagMax) {
		return fmt.Errorf("%w: window bounds must be finite", ErrInvalidConfig)
	}
	if !(w.RealMin < w.RealMax) {
		return fmt.Errorf("%w: window real range [%g, %g] is empty", ErrInvalidConfig, w.RealMin, w.RealMax)
	}
	if !(w.ImagMin < w.ImagMax) {
		return fmt.Errorf("%w: window imaginary range [%g, %g] is empty", ErrInvalidConfig, w.ImagMin, w.ImagMax)
	}
	return nil
}

// Map converts a unit coordinate in [0,1)x[0,1) to a point of the window.
func (w PlaneWindow) Map(u complex64) complex64 {
	cr := w.RealMin + real(u)*(w.RealMax-w.RealMin)
	ci := w.ImagMin + imag(u)*(w.ImagMax-w.ImagMin)
	return complex(cr, ci)
}

// Pixel maps z to the cell of a width x height grid covering the window.
// ok is false when z falls outside the grid.
func (w PlaneWindow) Pixel(z complex64, width, height int) (x, y int, ok bool) {
	fx := float32(width) * (real(z) - w.RealMin) / (w.RealMax - w.RealMin)
	fy := float32(height) * (imag(z) - w.ImagMin) / (w.ImagMax - w.ImagMin)
	// Compare before converting: huge or NaN values must not reach int().
	if !(fx >= 0 && fx < float32(width) && fy >= 0 && fy < float32(height)) {
		return 0, 0, false
	}
	x, y = int(fx), int(fy)
	if x >= width || y >= height {
		return 0, 0, false
	}
	return x, y, true
}

// IterationBudget bounds the escape-time iteration. Orbit points are recorded
// only once the iteration index exceeds MinIter; iteration stops at MaxIter.
type IterationBudget struct {
	MinIter, MaxIter uint32
}

// Validate reports whether MinIter < MaxIter.
func (b IterationBudget) Validate() error {
	if b.MinIter >= b.MaxIter {
		return fmt.Errorf("%w: iteration budget min %d must be below max %d", ErrInvalidConfig, b.MinIter, b.MaxIter)
	}
	return nil
}

// ColorBand gates one output channel: a visited point at iteration index i
// increments the channel iff MinIter < i < MaxIter.
type ColorBand struct {
	MinIter, MaxIter uint32
}

// Contains reports whether iteration index i falls strictly inside the band.
func (b ColorBand) Contains(i uint32) bool {
	return b.MinIter < i && i < b.MaxIter
}

// Validate reports whether MinIter < MaxIter.
func (b ColorBand) Validate() error {
	if b.MinIter >= b.MaxIter {
		return fmt.Errorf("%w: color band min %d must be below max %d", ErrInvalidConfig, b.MinIter, b.MaxIter)
	}
	return nil
}

// Sampling selects how a batch's coordinate buffers become samples.
type Sampling uint8

const (
	// SampleLinear pairs the buffers element-wise: BatchSize samples.
	SampleLinear Sampling = iota

	// SampleCartesian evaluates every (x, y) combination of the two buffers:
	// BatchSize² samples per batch from 2·BatchSize draws.
	SampleCartesian
)

// String returns the sampling name.
func (s Sampling) String() string {
	switch s {
	case SampleLinear:
		return "linear"
	case SampleCartesian:
		return "cartesian"
	default:
		return fmt.Sprintf("Sampling(%d)", s)
	}
}

// Counting selects how concurrent lanes update the shared grid.
type Counting uint8

const (
	// CountAtomic makes every lane increment the shared grid with atomic adds.
	CountAtomic Counting = iota

	// CountSharded gives every lane a private grid that is merged into the
	// shared grid after the batch barrier. Uses one extra grid per lane but
	// never contends on hot cells.
	CountSharded
)

// String returns the counting mode name.
func (c Counting) String() string {
	switch c {
	case CountAtomic:
		return "atomic"
	case CountSharded:
		return "sharded"
	default:
		return fmt.Sprintf("Counting(%d)", c)
	}
}

// Config is the complete parameter bundle of a render.
type Config struct {
	Window    PlaneWindow
	Budget    IterationBudget
	Threshold float32 // squared escape radius
	Bands     []ColorBand

	Width, Height int

	// BatchSize is the number of coordinate pairs drawn per batch.
	BatchSize int

	// BatchesPerFrame is the number of batches accumulated before a frame
	// is normalized. Zero means one.
	BatchesPerFrame int

	// Accumulate keeps the grid across frames instead of clearing it at the
	// start of every frame.
	Accumulate bool

	// Seed is the initial generator state. Nil derives one from the OS
	// entropy source.
	Seed *Seed

	// ReseedEachFrame replaces the generator state with fresh entropy at the
	// start of every frame.
	ReseedEachFrame bool

	Sampling  Sampling
	Prefilter Prefilter
	Counting  Counting
}

// DefaultConfig returns a 600x600 greyscale render of FullWindow with
// iterations 100..1000, matching the classic OpenCL demo parameters.
func DefaultConfig() Config {
	return Config{
		Window:          FullWindow,
		Budget:          IterationBudget{MinIter: 100, MaxIter: 1000},
		Threshold:       4,
		Bands:           []ColorBand{{MinIter: 100, MaxIter: 1000}},
		Width:           600,
		Height:          600,
		BatchSize:       1000,
		BatchesPerFrame: 1,
		Sampling:        SampleCartesian,
		Prefilter:       DefaultPrefilter,
		Counting:        CountAtomic,
	}
}

// Validate checks every invariant of the configuration. All failures wrap
// ErrInvalidConfig, except a zero Seed which wraps ErrDegenerateSeed.
func (c *Config) Validate() error {
	if err := c.Window.Validate(); err != nil {
		return err
	}
	if err := c.Budget.Validate(); err != nil {
		return err
	}
	if !(c.Threshold > 0) || math.IsInf(float64(c.Threshold), 0) {
		return fmt.Errorf("%w: escape threshold %g must be positive and finite", ErrInvalidConfig, c.Threshold)
	}
	if len(c.Bands) == 0 || len(c.Bands) > MaxChannels {
		return fmt.Errorf("%w: need 1 to %d color bands, got %d", ErrInvalidConfig, MaxChannels, len(c.Bands))
	}
	for i, b := range c.Bands {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("band %d: %w", i, err)
		}
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: grid %dx%d must be positive", ErrInvalidConfig, c.Width, c.Height)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size %d must be positive", ErrInvalidConfig, c.BatchSize)
	}
	if c.BatchesPerFrame < 0 {
		return fmt.Errorf("%w: batches per frame %d must not be negative", ErrInvalidConfig, c.BatchesPerFrame)
	}
	if c.Sampling > SampleCartesian {
		return fmt.Errorf("%w: unknown sampling %v", ErrInvalidConfig, c.Sampling)
	}
	if c.Counting > CountSharded {
		return fmt.Errorf("%w: unknown counting %v", ErrInvalidConfig, c.Counting)
	}
	if c.Seed != nil && c.Seed.IsZero() {
		return ErrDegenerateSeed
	}
	return nil
}

// batchesPerFrame returns BatchesPerFrame with zero treated as one.
func (c *Config) batchesPerFrame() int {
	if c.BatchesPerFrame <= 0 {
		return 1
	}
	return c.BatchesPerFrame
}

// clone returns a copy that shares no slices or pointers with c.
func (c *Config) clone() Config {
	out := *c
	out.Bands = append([]ColorBand(nil), c.Bands...)
	if c.Seed != nil {
		s := *c.Seed
		out.Seed = &s
	}
	return out
}

func finite32(vs ...float32) bool {
	for _, v := range vs {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
