package buddhabrot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/buddhabrot/internal/parallel"
)

// ErrRendererClosed is returned by batch and frame methods after Close.
var ErrRendererClosed = errors.New("buddhabrot: renderer closed")

// Renderer owns the state of a render session: the generator stream, the
// grid, the CPU lanes and the batch buffers.
//
// Methods serialize on an internal lock, so a Renderer may be shared, but
// batches never overlap. Frame and Run check ctx between batches only; a
// running batch always completes.
type Renderer struct {
	mu sync.Mutex

	cfg    Config
	opts   options
	log    *slog.Logger
	grid   *Grid
	stream *Stream
	pool   *parallel.Pool
	exec   executor
	xs, ys []float32

	frames int
	total  BatchStats
	closed bool
}

// NewRenderer validates cfg and allocates a session. A nil cfg.Seed is
// replaced by a seed from the OS entropy source.
func NewRenderer(cfg Config, opts ...Option) (*Renderer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.clone()

	seed := DefaultSeed
	if cfg.Seed != nil {
		seed = *cfg.Seed
	} else {
		s, err := NewEntropySeed()
		if err != nil {
			return nil, err
		}
		seed = s
	}
	stream, err := NewStream(seed)
	if err != nil {
		return nil, err
	}

	o := applyOptions(opts)
	pool := parallel.NewPool(o.lanes)
	r := &Renderer{
		cfg:    cfg,
		opts:   o,
		log:    o.log(),
		grid:   NewGrid(cfg.Width, cfg.Height, len(cfg.Bands)),
		stream: stream,
		pool:   pool,
		exec:   executor{pool: pool},
		xs:     make([]float32, cfg.BatchSize),
		ys:     make([]float32, cfg.BatchSize),
	}
	r.log.Debug("renderer created",
		"width", cfg.Width, "height", cfg.Height,
		"channels", len(cfg.Bands), "batch", cfg.BatchSize,
		"sampling", cfg.Sampling, "counting", cfg.Counting,
		"prefilter", cfg.Prefilter, "lanes", pool.Lanes())
	return r, nil
}

// Config returns a copy of the renderer configuration.
func (r *Renderer) Config() Config {
	return r.cfg.clone()
}

// Grid returns the live grid. Read it only while no batch is running.
func (r *Renderer) Grid() *Grid {
	return r.grid
}

// Seed returns the generator state the next batch starts from.
func (r *Renderer) Seed() Seed {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stream.State()
}

// Stats returns the statistics accumulated since creation or the last Reset.
func (r *Renderer) Stats() BatchStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Frames returns the number of frames produced.
func (r *Renderer) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Reset clears the grid and statistics. The generator continues.
func (r *Renderer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grid.Reset()
	r.total = BatchStats{}
}

// Restore replaces the grid counts and generator state, typically from a
// snapshot, so a cumulative render can continue where it stopped.
func (r *Renderer) Restore(grid *Grid, seed Seed) error {
	if !r.grid.SameShape(grid) {
		return fmt.Errorf("%w: restored grid %dx%dx%d does not match %dx%dx%d", ErrInvalidConfig,
			grid.Width(), grid.Height(), grid.Channels(), r.grid.Width(), r.grid.Height(), r.grid.Channels())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.stream.Reset(seed); err != nil {
		return err
	}
	r.grid.Reset()
	r.grid.Merge(grid)
	return nil
}

// RunBatch runs one batch and adds it to the grid.
func (r *Renderer) RunBatch(ctx context.Context) (BatchStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runBatchLocked(ctx)
}

func (r *Renderer) runBatchLocked(ctx context.Context) (BatchStats, error) {
	if r.closed {
		return BatchStats{}, ErrRendererClosed
	}
	if err := ctx.Err(); err != nil {
		return BatchStats{}, err
	}
	job := newJob(&r.cfg, r.stream, r.xs, r.ys, r.grid)
	st := runJob(job, r.opts.accelerator(), &r.exec, r.cfg.Counting)
	r.total.Add(st)
	r.log.Debug("batch done",
		"backend", st.Backend, "samples", st.Samples,
		"rejected", st.Rejected, "bounded", st.Bounded,
		"escaped", st.Escaped, "hits", st.Hits, "elapsed", st.Duration)
	return st, nil
}

// Frame produces the next display frame. In streaming mode the grid is
// cleared first; with Accumulate it keeps growing. The configured number of
// batches runs, then the grid is normalized.
//
// If ctx is cancelled between batches, Frame stops and returns ctx.Err();
// the partially filled grid is kept.
func (r *Renderer) Frame(ctx context.Context) (*Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRendererClosed
	}
	if r.cfg.ReseedEachFrame {
		seed, err := NewEntropySeed()
		if err != nil {
			return nil, err
		}
		if err := r.stream.Reset(seed); err != nil {
			return nil, err
		}
	}
	if !r.cfg.Accumulate {
		r.grid.Reset()
	}

	var fs BatchStats
	for range r.cfg.batchesPerFrame() {
		st, err := r.runBatchLocked(ctx)
		if err != nil {
			return nil, err
		}
		fs.Add(st)
	}

	f := Normalize(r.grid)
	r.frames++
	r.log.Info("frame done",
		"frame", r.frames, "backend", fs.Backend,
		"samples", fs.Samples, "samples_per_sec", int64(fs.SamplesPerSecond()),
		"max_iter", r.cfg.Budget.MaxIter)
	return f, nil
}

// Run produces frames and hands each to present until frames have been
// produced, or forever when frames <= 0. It returns ctx.Err() when ctx stops
// it and the first error from present otherwise.
func (r *Renderer) Run(ctx context.Context, frames int, present func(*Frame) error) error {
	for i := 0; frames <= 0 || i < frames; i++ {
		f, err := r.Frame(ctx)
		if err != nil {
			return err
		}
		if present != nil {
			if err := present(f); err != nil {
				return fmt.Errorf("present frame %d: %w", i+1, err)
			}
		}
	}
	return nil
}

// Close stops the CPU lanes. The renderer cannot run batches afterwards.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.pool.Close()
}
