package buddhabrot

import "iter"

// Record adds an orbit to the grid. Every (i, z) with i > budget.MinIter that
// maps inside the grid increments each channel whose band contains i.
// bands[k] gates channel k of the grid. It returns the number of increments.
//
// Record is not safe for concurrent use on the same grid; see RecordAtomic.
func Record(orbit iter.Seq2[uint32, complex64], grid *Grid, window PlaneWindow, budget IterationBudget, bands []ColorBand) int {
	return record(orbit, grid, window, budget.MinIter, bands, (*Grid).inc)
}

// RecordAtomic is Record with atomic increments, for lanes that share grid.
func RecordAtomic(orbit iter.Seq2[uint32, complex64], grid *Grid, window PlaneWindow, budget IterationBudget, bands []ColorBand) int {
	return record(orbit, grid, window, budget.MinIter, bands, (*Grid).incAtomic)
}

func record(orbit iter.Seq2[uint32, complex64], grid *Grid, window PlaneWindow, minIter uint32, bands []ColorBand, inc func(*Grid, int, int)) int {
	n := 0
	for i, z := range orbit {
		if i <= minIter {
			continue
		}
		x, y, ok := window.Pixel(z, grid.width, grid.height)
		if !ok {
			continue
		}
		cell := y*grid.width + x
		for ch, b := range bands {
			if b.Contains(i) {
				inc(grid, ch, cell)
				n++
			}
		}
	}
	return n
}

// SampleResult classifies the outcome of one sample.
type SampleResult uint8

const (
	// SampleRejected means the prefilter proved the point interior.
	SampleRejected SampleResult = iota

	// SampleBounded means the orbit did not escape within the budget.
	SampleBounded

	// SampleEscaped means the orbit escaped and was recorded.
	SampleEscaped
)

// sampler evaluates single samples for one batch configuration.
type sampler struct {
	window    PlaneWindow
	budget    IterationBudget
	threshold float32
	bands     []ColorBand
	prefilter Prefilter
	atomic    bool
}

func newSampler(j *BatchJob, atomic bool) sampler {
	return sampler{
		window:    j.Window,
		budget:    j.Budget,
		threshold: j.Threshold,
		bands:     j.Bands,
		prefilter: j.Prefilter,
		atomic:    atomic,
	}
}

// sample runs the full per-lane pipeline for unit coordinate u:
// map, prefilter, escape verdict, then record the escaping orbit.
func (s *sampler) sample(u complex64, grid *Grid) (SampleResult, int) {
	c := s.window.Map(u)
	if s.prefilter.IsDefinitelyInterior(c) {
		return SampleRejected, 0
	}
	if escaped, _ := Escapes(c, s.budget, s.threshold); !escaped {
		return SampleBounded, 0
	}
	orbit := Orbit(c, s.budget, s.threshold)
	if s.atomic {
		return SampleEscaped, RecordAtomic(orbit, grid, s.window, s.budget, s.bands)
	}
	return SampleEscaped, Record(orbit, grid, s.window, s.budget, s.bands)
}
