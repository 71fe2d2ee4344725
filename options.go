package buddhabrot

import "log/slog"

// Option configures a Renderer or a RunBatch call.
//
// Example:
//
//	// CPU only, eight lanes, verbose logging
//	r, err := buddhabrot.NewRenderer(cfg,
//	    buddhabrot.WithLanes(8),
//	    buddhabrot.WithoutAccelerator(),
//	    buddhabrot.WithLogger(slog.Default()))
type Option func(*options)

// options holds optional renderer settings.
type options struct {
	logger  *slog.Logger
	lanes   int
	accel   Accelerator
	noAccel bool
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// accelerator returns the accelerator to try first, or nil for CPU only.
func (o *options) accelerator() Accelerator {
	if o.noAccel {
		return nil
	}
	if o.accel != nil {
		return o.accel
	}
	return RegisteredAccelerator()
}

// log returns the configured logger, falling back to the package logger.
func (o *options) log() *slog.Logger {
	if o.logger != nil {
		return o.logger
	}
	return Logger()
}

// WithLogger sets a logger for this renderer only. Without it the package
// logger configured by SetLogger is used.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithLanes sets the number of CPU lanes. Zero or negative uses GOMAXPROCS.
func WithLanes(n int) Option {
	return func(o *options) {
		o.lanes = n
	}
}

// WithAccelerator makes the renderer try a instead of the registered
// accelerator. The renderer does not call Init or Close on a.
func WithAccelerator(a Accelerator) Option {
	return func(o *options) {
		o.accel = a
		o.noAccel = false
	}
}

// WithoutAccelerator forces every batch onto the CPU lanes.
func WithoutAccelerator() Option {
	return func(o *options) {
		o.accel = nil
		o.noAccel = true
	}
}
