// Package buddhabrot renders Buddhabrot density images.
//
// # Overview
//
// A Buddhabrot is a histogram of the orbits of points that escape the
// Mandelbrot iteration z -> z² + c. Random points c are drawn from a
// rectangle of the complex plane; those that escape within an iteration
// budget have every orbit point plotted into a grid of counters. The grid is
// normalized with square-root compression into an 8-bit frame.
//
// # Quick Start
//
//	import "github.com/gogpu/buddhabrot"
//
//	cfg := buddhabrot.DefaultConfig()
//	cfg.Accumulate = true
//	cfg.BatchesPerFrame = 50
//
//	r, err := buddhabrot.NewRenderer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	frame, err := r.Frame(context.Background())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	frame.SavePNG("buddhabrot.png")
//
// # Color Bands
//
// Each entry of Config.Bands gates one output channel by iteration index. A
// classic "nebulabrot" uses three bands, e.g. 50..500, 500..5000 and
// 5000..50000, which become the red, green and blue channels of the frame.
//
// # Batches and Lanes
//
// Work proceeds in batches. A batch draws BatchSize coordinate pairs from a
// reproducible xorshift128 stream, then evaluates them on a pool of goroutine
// lanes, and joins before the grid is read. Lanes share the grid through
// atomic adds (CountAtomic) or through private shards merged after the join
// (CountSharded). Either way counting is exact, so a batch is fully
// determined by its configuration and starting seed.
//
// # GPU Acceleration
//
// Batches can be offloaded to a WebGPU compute shader by importing the gpu
// package for its side effect:
//
//	import _ "github.com/gogpu/buddhabrot/gpu"
//
// When the accelerator cannot run a batch, it runs on the CPU lanes instead.
//
// # Logging
//
// Nothing is logged by default. See SetLogger.
package buddhabrot
