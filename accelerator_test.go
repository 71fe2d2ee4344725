package buddhabrot

import (
	"errors"
	"log/slog"
	"sync"
	"testing"
)

// mockAccelerator implements Accelerator for testing.
type mockAccelerator struct {
	name    string
	initErr error
	runErr  error
	closed  bool
	calls   int
	logger  *slog.Logger
	mu      sync.Mutex
}

func (m *mockAccelerator) Name() string { return m.name }

func (m *mockAccelerator) Init() error { return m.initErr }

func (m *mockAccelerator) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func (m *mockAccelerator) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockAccelerator) SetLogger(l *slog.Logger) {
	m.mu.Lock()
	m.logger = l
	m.mu.Unlock()
}

// RunBatch fails with runErr if set; otherwise it runs the batch on a
// single goroutine so results match the CPU path exactly.
func (m *mockAccelerator) RunBatch(job *BatchJob) (BatchStats, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.runErr != nil {
		return BatchStats{}, m.runErr
	}
	s := newSampler(job, false)
	var st BatchStats
	for k := range job.Samples() {
		var u complex64
		if job.Sampling == SampleCartesian {
			u = complex(job.Xs[k%len(job.Xs)], job.Ys[k/len(job.Xs)])
		} else {
			u = complex(job.Xs[k], job.Ys[k])
		}
		st.count(s.sample(u, job.Grid))
	}
	return st, nil
}

func (m *mockAccelerator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// resetAccelerator clears the global accelerator state between tests.
func resetAccelerator() {
	accelMu.Lock()
	accel = nil
	accelMu.Unlock()
}

func TestRegisterAcceleratorNil(t *testing.T) {
	resetAccelerator()

	err := RegisterAccelerator(nil)
	if err == nil {
		t.Fatal("expected error when registering nil accelerator")
	}
	if err.Error() != "buddhabrot: accelerator must not be nil" {
		t.Errorf("unexpected error message: %s", err.Error())
	}
	if RegisteredAccelerator() != nil {
		t.Error("accelerator should remain nil after failed registration")
	}
}

func TestRegisterAcceleratorInitError(t *testing.T) {
	resetAccelerator()

	initErr := errors.New("GPU init failed")
	mock := &mockAccelerator{name: "failing", initErr: initErr}

	err := RegisterAccelerator(mock)
	if !errors.Is(err, initErr) {
		t.Errorf("expected init error, got: %v", err)
	}
	if RegisteredAccelerator() != nil {
		t.Error("accelerator should remain nil after Init failure")
	}
}

func TestRegisterAcceleratorReplacesOld(t *testing.T) {
	resetAccelerator()
	t.Cleanup(resetAccelerator)

	first := &mockAccelerator{name: "first"}
	second := &mockAccelerator{name: "second"}

	if err := RegisterAccelerator(first); err != nil {
		t.Fatal(err)
	}
	if err := RegisterAccelerator(second); err != nil {
		t.Fatal(err)
	}
	if !first.isClosed() {
		t.Error("first accelerator should be closed when replaced")
	}
	if second.isClosed() {
		t.Error("second accelerator should not be closed")
	}
	if got := RegisteredAccelerator(); got != second {
		t.Errorf("RegisteredAccelerator() = %v, want second", got)
	}
}

func TestUnregisterAccelerator(t *testing.T) {
	resetAccelerator()

	mock := &mockAccelerator{name: "gone"}
	if err := RegisterAccelerator(mock); err != nil {
		t.Fatal(err)
	}
	UnregisterAccelerator()

	if RegisteredAccelerator() != nil {
		t.Error("accelerator should be nil after unregister")
	}
	if !mock.isClosed() {
		t.Error("unregistered accelerator should be closed")
	}
	// Second call is a no-op.
	UnregisterAccelerator()
}

func TestSetAcceleratorDeviceProviderWithoutAccelerator(t *testing.T) {
	resetAccelerator()
	if err := SetAcceleratorDeviceProvider(nil); err != nil {
		t.Errorf("SetAcceleratorDeviceProvider() = %v, want nil", err)
	}
}

func TestBatchJobSamples(t *testing.T) {
	xs := make([]float32, 5)
	ys := make([]float32, 5)
	tests := []struct {
		sampling Sampling
		want     int
	}{
		{SampleLinear, 5},
		{SampleCartesian, 25},
	}
	for _, tt := range tests {
		t.Run(tt.sampling.String(), func(t *testing.T) {
			j := &BatchJob{Sampling: tt.sampling, Xs: xs, Ys: ys}
			if got := j.Samples(); got != tt.want {
				t.Errorf("Samples() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAcceleratorUsedForBatches(t *testing.T) {
	cfg := smallConfig()
	mock := &mockAccelerator{name: "mock-gpu"}

	r, err := NewRenderer(cfg, WithAccelerator(mock), WithLanes(2))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	st, err := r.RunBatch(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if mock.callCount() != 1 {
		t.Errorf("accelerator calls = %d, want 1", mock.callCount())
	}
	if st.Backend != "mock-gpu" {
		t.Errorf("Backend = %q, want %q", st.Backend, "mock-gpu")
	}
}

func TestAcceleratorFallbackMatchesCPU(t *testing.T) {
	cfg := smallConfig()

	for _, runErr := range []error{ErrFallbackToCPU, errors.New("device lost")} {
		t.Run(runErr.Error(), func(t *testing.T) {
			cpu, err := NewRenderer(cfg, WithoutAccelerator())
			if err != nil {
				t.Fatal(err)
			}
			defer cpu.Close()
			if _, err := cpu.RunBatch(t.Context()); err != nil {
				t.Fatal(err)
			}

			mock := &mockAccelerator{name: "broken", runErr: runErr}
			gpu, err := NewRenderer(cfg, WithAccelerator(mock))
			if err != nil {
				t.Fatal(err)
			}
			defer gpu.Close()

			st, err := gpu.RunBatch(t.Context())
			if err != nil {
				t.Fatal(err)
			}
			if mock.callCount() != 1 {
				t.Errorf("accelerator calls = %d, want 1", mock.callCount())
			}
			if st.Backend != cpuBackend {
				t.Errorf("Backend = %q, want %q", st.Backend, cpuBackend)
			}
			if !gridsEqual(cpu.Grid(), gpu.Grid()) {
				t.Error("fallback batch differs from CPU batch")
			}
		})
	}
}

func TestAcceleratorMatchesCPU(t *testing.T) {
	cfg := smallConfig()
	cfg.Sampling = SampleLinear

	cpu, err := NewRenderer(cfg, WithoutAccelerator())
	if err != nil {
		t.Fatal(err)
	}
	defer cpu.Close()
	acc, err := NewRenderer(cfg, WithAccelerator(&mockAccelerator{name: "serial"}))
	if err != nil {
		t.Fatal(err)
	}
	defer acc.Close()

	for range 3 {
		if _, err := cpu.RunBatch(t.Context()); err != nil {
			t.Fatal(err)
		}
		if _, err := acc.RunBatch(t.Context()); err != nil {
			t.Fatal(err)
		}
	}
	if !gridsEqual(cpu.Grid(), acc.Grid()) {
		t.Error("accelerated grid differs from CPU grid")
	}
}
