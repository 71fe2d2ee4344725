package buddhabrot

import (
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/buddhabrot/internal/parallel"
)

// BatchStats summarizes one or more batches.
type BatchStats struct {
	Samples  int // samples evaluated
	Rejected int // proven interior by the prefilter
	Bounded  int // did not escape within the budget
	Escaped  int // escaped and recorded
	Hits     int // counter increments across all channels, summed in 64 bits on every backend

	Duration time.Duration
	Backend  string // "cpu" or the accelerator name
}

// Add accumulates o into s. Backend keeps the most recent non-empty name.
func (s *BatchStats) Add(o BatchStats) {
	s.Samples += o.Samples
	s.Rejected += o.Rejected
	s.Bounded += o.Bounded
	s.Escaped += o.Escaped
	s.Hits += o.Hits
	s.Duration += o.Duration
	if o.Backend != "" {
		s.Backend = o.Backend
	}
}

// SamplesPerSecond returns the sampling throughput.
func (s BatchStats) SamplesPerSecond() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Samples) / s.Duration.Seconds()
}

func (s *BatchStats) count(res SampleResult, hits int) {
	s.Samples++
	s.Hits += hits
	switch res {
	case SampleRejected:
		s.Rejected++
	case SampleBounded:
		s.Bounded++
	case SampleEscaped:
		s.Escaped++
	}
}

// cpuBackend is the backend name of batches run on the worker pool.
const cpuBackend = "cpu"

// executor runs batches on CPU lanes.
type executor struct {
	pool   *parallel.Pool
	shards []*Grid
}

// run evaluates every sample of job on the pool and adds the hits to
// job.Grid. It returns after the join barrier.
func (e *executor) run(job *BatchJob, counting Counting) BatchStats {
	start := time.Now()
	n := job.Samples()
	lanes := e.pool.Lanes()

	var parts int
	switch counting {
	case CountSharded:
		parts = lanes
		e.prepareShards(job.Grid, min(parts, max(n, 1)))
	default:
		parts = lanes * 4
	}

	ranges := parallel.Split(n, parts)
	stats := make([]BatchStats, len(ranges))
	s := newSampler(job, counting == CountAtomic)

	e.pool.Dispatch(n, parts, func(part int, r parallel.Range) {
		dst := job.Grid
		if counting == CountSharded {
			dst = e.shards[part]
		}
		st := &stats[part]
		nx := len(job.Xs)
		for k := r.Lo; k < r.Hi; k++ {
			var u complex64
			if job.Sampling == SampleCartesian {
				u = complex(job.Xs[k%nx], job.Ys[k/nx])
			} else {
				u = complex(job.Xs[k], job.Ys[k])
			}
			st.count(s.sample(u, dst))
		}
	})

	if counting == CountSharded {
		for _, shard := range e.shards[:len(ranges)] {
			job.Grid.Merge(shard)
		}
	}

	var total BatchStats
	for _, st := range stats {
		total.Add(st)
	}
	total.Duration = time.Since(start)
	total.Backend = cpuBackend
	return total
}

// prepareShards makes sure there are at least k zeroed shards shaped like g.
func (e *executor) prepareShards(g *Grid, k int) {
	if len(e.shards) > 0 && !e.shards[0].SameShape(g) {
		e.shards = nil
	}
	for i := range e.shards[:min(k, len(e.shards))] {
		e.shards[i].Reset()
	}
	for len(e.shards) < k {
		e.shards = append(e.shards, NewGrid(g.Width(), g.Height(), g.Channels()))
	}
}

// newJob builds the job for one batch, filling xs and ys from the stream.
func newJob(cfg *Config, stream *Stream, xs, ys []float32, grid *Grid) *BatchJob {
	stream.Fill(xs, ys)
	return &BatchJob{
		Window:    cfg.Window,
		Budget:    cfg.Budget,
		Threshold: cfg.Threshold,
		Bands:     cfg.Bands,
		Prefilter: cfg.Prefilter,
		Sampling:  cfg.Sampling,
		Xs:        xs,
		Ys:        ys,
		Grid:      grid,
	}
}

// runJob runs job on a, falling back to the CPU executor on any error.
func runJob(job *BatchJob, a Accelerator, e *executor, counting Counting) BatchStats {
	if a != nil {
		start := time.Now()
		st, err := a.RunBatch(job)
		if err == nil {
			if st.Duration == 0 {
				st.Duration = time.Since(start)
			}
			if st.Backend == "" {
				st.Backend = a.Name()
			}
			return st
		}
		if !errors.Is(err, ErrFallbackToCPU) {
			Logger().Warn("accelerator batch failed, using CPU", "accelerator", a.Name(), "err", err)
		}
	}
	return e.run(job, counting)
}

// RunBatch runs one batch of cfg starting from generator state state and adds
// its hits to grid. It returns the generator state to continue from.
//
// The result is deterministic given cfg and state: counting is exact in
// every mode, so lane scheduling never changes the grid.
func RunBatch(cfg Config, state Seed, grid *Grid, opts ...Option) (Seed, BatchStats, error) {
	if err := cfg.Validate(); err != nil {
		return state, BatchStats{}, err
	}
	if grid.Width() != cfg.Width || grid.Height() != cfg.Height || grid.Channels() != len(cfg.Bands) {
		return state, BatchStats{}, fmt.Errorf("%w: grid %dx%dx%d does not match config %dx%dx%d",
			ErrInvalidConfig, grid.Width(), grid.Height(), grid.Channels(), cfg.Width, cfg.Height, len(cfg.Bands))
	}
	stream, err := NewStream(state)
	if err != nil {
		return state, BatchStats{}, err
	}

	o := applyOptions(opts)
	pool := parallel.NewPool(o.lanes)
	defer pool.Close()
	e := &executor{pool: pool}

	xs := make([]float32, cfg.BatchSize)
	ys := make([]float32, cfg.BatchSize)
	job := newJob(&cfg, stream, xs, ys, grid)
	st := runJob(job, o.accelerator(), e, cfg.Counting)
	return stream.State(), st, nil
}
