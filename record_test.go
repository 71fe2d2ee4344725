package buddhabrot

import (
	"iter"
	"testing"
)

// pt is one synthetic orbit point.
type pt struct {
	i uint32
	z complex64
}

// points yields fixed (index, z) pairs as an orbit.
func points(ps ...pt) iter.Seq2[uint32, complex64] {
	return func(yield func(uint32, complex64) bool) {
		for _, p := range ps {
			if !yield(p.i, p.z) {
				return
			}
		}
	}
}

var unitWindow = PlaneWindow{RealMin: -1, RealMax: 1, ImagMin: -1, ImagMax: 1}

func TestRecordBandGating(t *testing.T) {
	grid := NewGrid(4, 4, 3)
	bands := []ColorBand{{1, 10}, {10, 50}, {50, 200}}
	budget := IterationBudget{MinIter: 0, MaxIter: 200}

	// (0.1, 0.1) lands in cell (2, 2) of a 4x4 grid over [-1,1]².
	n := Record(points(pt{30, complex(0.1, 0.1)}), grid, unitWindow, budget, bands)
	if n != 1 {
		t.Errorf("Record() = %d increments, want 1", n)
	}
	for ch, want := range []uint32{0, 1, 0} {
		if got := grid.At(ch, 2, 2); got != want {
			t.Errorf("channel %d at (2,2) = %d, want %d", ch, got, want)
		}
	}
}

func TestRecordBandEdgesAreExclusive(t *testing.T) {
	grid := NewGrid(2, 2, 2)
	bands := []ColorBand{{1, 10}, {10, 50}}
	budget := IterationBudget{MinIter: 0, MaxIter: 100}

	// Index 10 sits on the shared edge and belongs to neither band.
	n := Record(points(pt{10, 0.5}), grid, unitWindow, budget, bands)
	if n != 0 {
		t.Errorf("Record() = %d increments at a band edge, want 0", n)
	}
}

func TestRecordOverlappingBands(t *testing.T) {
	grid := NewGrid(2, 2, 2)
	bands := []ColorBand{{0, 100}, {20, 40}}
	budget := IterationBudget{MinIter: 0, MaxIter: 100}

	n := Record(points(pt{30, 0.5}), grid, unitWindow, budget, bands)
	if n != 2 {
		t.Errorf("Record() = %d increments, want 2", n)
	}
}

func TestRecordMinIterGate(t *testing.T) {
	grid := NewGrid(2, 2, 1)
	bands := []ColorBand{{0, 100}}
	budget := IterationBudget{MinIter: 30, MaxIter: 100}

	n := Record(points(pt{29, 0.5}, pt{30, 0.5}, pt{31, 0.5}), grid, unitWindow, budget, bands)
	if n != 1 {
		t.Errorf("Record() = %d increments, want 1 (only index 31 exceeds MinIter)", n)
	}
	if got := grid.At(0, 1, 1); got != 1 {
		t.Errorf("cell (1,1) = %d, want 1", got)
	}
}

func TestRecordOutsideGridIsDropped(t *testing.T) {
	grid := NewGrid(4, 4, 1)
	bands := []ColorBand{{0, 100}}
	budget := IterationBudget{MinIter: 0, MaxIter: 100}

	orbit := points(
		pt{1, complex(1, 0)}, // right edge is exclusive
		pt{2, complex(-1.5, 0)},
		pt{3, complex(0, 1.01)},
		pt{4, complex(-1, -1)}, // lower-left corner is inclusive
	)
	n := Record(orbit, grid, unitWindow, budget, bands)
	if n != 1 {
		t.Errorf("Record() = %d increments, want 1", n)
	}
	if got := grid.At(0, 0, 0); got != 1 {
		t.Errorf("cell (0,0) = %d, want 1", got)
	}
	if got := grid.Total(0); got != 1 {
		t.Errorf("Total = %d, want 1", got)
	}
}

func TestRecordAtomicMatchesRecord(t *testing.T) {
	bands := []ColorBand{{0, 40}, {20, 500}}
	budget := IterationBudget{MinIter: 5, MaxIter: 500}
	c := complex64(complex(-0.75, 0.12))

	a := NewGrid(16, 16, 2)
	b := NewGrid(16, 16, 2)
	na := Record(Orbit(c, budget, 4), a, ClassicWindow, budget, bands)
	nb := RecordAtomic(Orbit(c, budget, 4), b, ClassicWindow, budget, bands)
	if na != nb {
		t.Errorf("increments differ: %d vs %d", na, nb)
	}
	if !gridsEqual(a, b) {
		t.Error("RecordAtomic grid differs from Record grid")
	}
}

func TestPixelMapping(t *testing.T) {
	tests := []struct {
		z      complex64
		x, y   int
		inside bool
	}{
		{complex(-1, -1), 0, 0, true},
		{complex(0, 0), 2, 2, true},
		{complex(0.99, 0.99), 3, 3, true},
		{complex(1, 0), 0, 0, false},
		{complex(0, -1.0001), 0, 0, false},
		{complex(1e30, 0), 0, 0, false},
	}
	for _, tt := range tests {
		x, y, ok := unitWindow.Pixel(tt.z, 4, 4)
		if ok != tt.inside || (ok && (x != tt.x || y != tt.y)) {
			t.Errorf("Pixel(%v) = (%d, %d, %v), want (%d, %d, %v)", tt.z, x, y, ok, tt.x, tt.y, tt.inside)
		}
	}
}

func TestSamplerClassification(t *testing.T) {
	cfg := smallConfig()
	job := &BatchJob{
		Window:    cfg.Window,
		Budget:    cfg.Budget,
		Threshold: cfg.Threshold,
		Bands:     cfg.Bands,
		Prefilter: DefaultPrefilter,
	}
	s := newSampler(job, false)
	grid := NewGrid(cfg.Width, cfg.Height, len(cfg.Bands))

	// Unit coordinates over ClassicWindow: (2/3, 1/2) maps to c = 0.
	if res, _ := s.sample(complex(2.0/3, 0.5), grid); res != SampleRejected {
		t.Errorf("origin sample = %v, want rejected", res)
	}
	// (0.98, 0.98) maps far outside the set.
	if res, _ := s.sample(complex(0.98, 0.98), grid); res != SampleEscaped {
		t.Errorf("far sample = %v, want escaped", res)
	}

	job.Prefilter = PrefilterNone
	s = newSampler(job, false)
	if res, hits := s.sample(complex(2.0/3, 0.5), grid); res != SampleBounded || hits != 0 {
		t.Errorf("origin without prefilter = %v with %d hits, want bounded with 0", res, hits)
	}
}
