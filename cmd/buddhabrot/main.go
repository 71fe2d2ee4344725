// Command buddhabrot renders the Buddhabrot density image.
//
// It writes the last frame as a PNG, can checkpoint and resume the histogram
// through snapshots, and can stream frames to a browser while rendering:
//
//	buddhabrot -frames 20 -accumulate -out buddha.png
//	buddhabrot -bands 20:200,200:2000,2000:20000 -max-iter 20000 -serve :8080 -frames 0
//	buddhabrot -resume run.bbs -checkpoint run.bbs -frames 10
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/gogpu/buddhabrot"
	"github.com/gogpu/buddhabrot/internal/preview"
)

// settings is the parsed command line.
type settings struct {
	cfg        buddhabrot.Config
	frames     int
	lanes      int
	cpuOnly    bool
	out        string
	outW, outH int
	checkpoint string
	resume     string
	serve      string
	verbose    bool
}

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "buddhabrot:", err)
		os.Exit(1)
	}
}

func run(args []string, stderr io.Writer) error {
	s, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if s.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	buddhabrot.SetLogger(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []buddhabrot.Option{buddhabrot.WithLanes(s.lanes)}
	if s.cpuOnly {
		opts = append(opts, buddhabrot.WithoutAccelerator())
	}
	r, err := buddhabrot.NewRenderer(s.cfg, opts...)
	if err != nil {
		return err
	}
	defer r.Close()

	if s.resume != "" {
		if err := resume(r, s.resume); err != nil {
			return err
		}
		log.Info("resumed", "snapshot", s.resume, "hits", r.Grid().Total(0))
	}

	var srv *preview.Server
	if s.serve != "" {
		srv = preview.NewServer(log)
		go func() {
			if err := srv.ListenAndServe(ctx, s.serve); err != nil {
				log.Error("preview server stopped", "err", err)
			}
		}()
	}

	var last *buddhabrot.Frame
	err = r.Run(ctx, s.frames, func(f *buddhabrot.Frame) error {
		last = f
		if srv != nil {
			return srv.Publish(f)
		}
		return nil
	})
	interrupted := errors.Is(err, context.Canceled)
	if err != nil && !interrupted {
		return err
	}
	if interrupted {
		log.Info("interrupted, writing results", "frames", r.Frames())
	}

	if s.checkpoint != "" {
		if err := checkpoint(r, s.checkpoint); err != nil {
			return err
		}
		log.Info("checkpoint written", "snapshot", s.checkpoint)
	}
	if last == nil {
		last = buddhabrot.Normalize(r.Grid())
	}
	if s.out != "" {
		if s.outW > 0 {
			last = last.Resample(s.outW, s.outH)
		}
		if err := last.SavePNG(s.out); err != nil {
			return err
		}
		log.Info("image written", "path", s.out, "width", last.Width(), "height", last.Height())
	}
	return nil
}

func resume(r *buddhabrot.Renderer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	grid, seed, err := buddhabrot.LoadSnapshot(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return r.Restore(grid, seed)
}

func checkpoint(r *buddhabrot.Renderer, path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := buddhabrot.SaveSnapshot(f, r.Grid(), r.Seed()); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func parseFlags(args []string, output io.Writer) (*settings, error) {
	fs := flag.NewFlagSet("buddhabrot", flag.ContinueOnError)
	fs.SetOutput(output)

	def := buddhabrot.DefaultConfig()
	var (
		width      = fs.Int("width", def.Width, "grid width in cells")
		height     = fs.Int("height", def.Height, "grid height in cells")
		window     = fs.String("window", "full", `plane window: "full", "classic" or "rmin,rmax,imin,imax"`)
		minIter    = fs.Uint("min-iter", uint(def.Budget.MinIter), "iterations skipped before recording")
		maxIter    = fs.Uint("max-iter", uint(def.Budget.MaxIter), "iteration limit")
		threshold  = fs.Float64("threshold", float64(def.Threshold), "squared escape radius")
		bands      = fs.String("bands", "", `color bands "min:max,...", one per channel (default: the iteration budget)`)
		batch      = fs.Int("batch", def.BatchSize, "coordinate pairs drawn per batch")
		perFrame   = fs.Int("batches", def.BatchesPerFrame, "batches per frame")
		frames     = fs.Int("frames", 1, "frames to render, 0 runs until interrupted")
		accumulate = fs.Bool("accumulate", false, "keep the histogram across frames")
		seed       = fs.String("seed", "", `generator state "w0,w1,w2,w3" or "default" (default: OS entropy)`)
		reseed     = fs.Bool("reseed", false, "draw a fresh seed every frame")
		sampling   = fs.String("sampling", def.Sampling.String(), "sampling: linear or cartesian")
		prefilter  = fs.String("prefilter", "default", "interior tests: none, default or all")
		counting   = fs.String("counting", def.Counting.String(), "grid updates: atomic or sharded")
		lanes      = fs.Int("lanes", 0, "CPU lanes, 0 uses GOMAXPROCS")
		cpuOnly    = fs.Bool("cpu", false, "never use the GPU accelerator")
		out        = fs.String("out", "buddhabrot.png", "output PNG, empty to skip")
		outSize    = fs.String("out-size", "", `resample the output to "WxH"`)
		ckpt       = fs.String("checkpoint", "", "write a snapshot here when done")
		resumeFrom = fs.String("resume", "", "continue from this snapshot (implies -accumulate)")
		serve      = fs.String("serve", "", `serve a live preview on this address, e.g. ":8080"`)
		verbose    = fs.Bool("v", false, "debug logging")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	s := &settings{
		frames:     *frames,
		lanes:      *lanes,
		cpuOnly:    *cpuOnly,
		out:        *out,
		checkpoint: *ckpt,
		resume:     *resumeFrom,
		serve:      *serve,
		verbose:    *verbose,
	}

	if *minIter > math.MaxUint32 || *maxIter > math.MaxUint32 {
		return nil, fmt.Errorf("iteration limits %d..%d exceed %d", *minIter, *maxIter, uint64(math.MaxUint32))
	}

	cfg := def
	cfg.Width, cfg.Height = *width, *height
	cfg.Budget = buddhabrot.IterationBudget{MinIter: uint32(*minIter), MaxIter: uint32(*maxIter)} //nolint:gosec // range checked above
	cfg.Threshold = float32(*threshold)
	cfg.BatchSize = *batch
	cfg.BatchesPerFrame = *perFrame
	cfg.Accumulate = *accumulate || *resumeFrom != ""
	cfg.ReseedEachFrame = *reseed

	var err error
	if cfg.Window, err = parseWindow(*window); err != nil {
		return nil, err
	}
	if cfg.Bands, err = parseBands(*bands, cfg.Budget); err != nil {
		return nil, err
	}
	if cfg.Seed, err = parseSeed(*seed); err != nil {
		return nil, err
	}
	if cfg.Sampling, err = parseSampling(*sampling); err != nil {
		return nil, err
	}
	if cfg.Prefilter, err = parsePrefilter(*prefilter); err != nil {
		return nil, err
	}
	if cfg.Counting, err = parseCounting(*counting); err != nil {
		return nil, err
	}
	if *outSize != "" {
		if s.outW, s.outH, err = parseSize(*outSize); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s.cfg = cfg
	return s, nil
}

func parseWindow(v string) (buddhabrot.PlaneWindow, error) {
	switch v {
	case "full":
		return buddhabrot.FullWindow, nil
	case "classic":
		return buddhabrot.ClassicWindow, nil
	}
	parts := strings.Split(v, ",")
	if len(parts) != 4 {
		return buddhabrot.PlaneWindow{}, fmt.Errorf("window %q: want full, classic or four comma-separated bounds", v)
	}
	var b [4]float32
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return buddhabrot.PlaneWindow{}, fmt.Errorf("window %q: %w", v, err)
		}
		b[i] = float32(f)
	}
	return buddhabrot.PlaneWindow{RealMin: b[0], RealMax: b[1], ImagMin: b[2], ImagMax: b[3]}, nil
}

func parseBands(v string, budget buddhabrot.IterationBudget) ([]buddhabrot.ColorBand, error) {
	if v == "" {
		return []buddhabrot.ColorBand{{MinIter: budget.MinIter, MaxIter: budget.MaxIter}}, nil
	}
	var bands []buddhabrot.ColorBand
	for _, item := range strings.Split(v, ",") {
		lo, hi, ok := strings.Cut(strings.TrimSpace(item), ":")
		if !ok {
			return nil, fmt.Errorf("band %q: want min:max", item)
		}
		minIter, err := strconv.ParseUint(lo, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("band %q: %w", item, err)
		}
		maxIter, err := strconv.ParseUint(hi, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("band %q: %w", item, err)
		}
		bands = append(bands, buddhabrot.ColorBand{MinIter: uint32(minIter), MaxIter: uint32(maxIter)})
	}
	return bands, nil
}

func parseSeed(v string) (*buddhabrot.Seed, error) {
	switch v {
	case "":
		return nil, nil
	case "default":
		s := buddhabrot.DefaultSeed
		return &s, nil
	}
	parts := strings.Split(v, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("seed %q: want four comma-separated words", v)
	}
	var s buddhabrot.Seed
	for i, p := range parts {
		w, err := strconv.ParseUint(strings.TrimSpace(p), 0, 32)
		if err != nil {
			return nil, fmt.Errorf("seed %q: %w", v, err)
		}
		s[i] = uint32(w)
	}
	return &s, nil
}

func parseSampling(v string) (buddhabrot.Sampling, error) {
	for _, s := range []buddhabrot.Sampling{buddhabrot.SampleLinear, buddhabrot.SampleCartesian} {
		if v == s.String() {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown sampling %q", v)
}

func parsePrefilter(v string) (buddhabrot.Prefilter, error) {
	switch v {
	case "none":
		return buddhabrot.PrefilterNone, nil
	case "default":
		return buddhabrot.DefaultPrefilter, nil
	case "all":
		return buddhabrot.PrefilterAll, nil
	}
	return 0, fmt.Errorf("unknown prefilter %q", v)
}

func parseCounting(v string) (buddhabrot.Counting, error) {
	for _, c := range []buddhabrot.Counting{buddhabrot.CountAtomic, buddhabrot.CountSharded} {
		if v == c.String() {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown counting %q", v)
}

func parseSize(v string) (w, h int, err error) {
	ws, hs, ok := strings.Cut(v, "x")
	if !ok {
		return 0, 0, fmt.Errorf("size %q: want WxH", v)
	}
	if w, err = strconv.Atoi(ws); err != nil {
		return 0, 0, fmt.Errorf("size %q: %w", v, err)
	}
	if h, err = strconv.Atoi(hs); err != nil {
		return 0, 0, fmt.Errorf("size %q: %w", v, err)
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("size %q must be positive", v)
	}
	return w, h, nil
}
