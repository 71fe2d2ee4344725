package buddhabrot

import (
	"errors"
	"sync"

	"github.com/gogpu/gpucontext"
)

// ErrFallbackToCPU indicates an accelerator cannot run the batch.
// The renderer transparently runs the batch on the CPU lanes instead.
var ErrFallbackToCPU = errors.New("buddhabrot: falling back to CPU sampling")

// BatchJob is one batch of work handed to an Accelerator: the sample buffers
// drawn from the stream and the grid their hits are added to.
//
// Xs and Ys hold the raw [0,1) coordinates. With SampleLinear sample i is
// (Xs[i], Ys[i]); with SampleCartesian every (Xs[i], Ys[j]) pair is a sample.
type BatchJob struct {
	Window    PlaneWindow
	Budget    IterationBudget
	Threshold float32
	Bands     []ColorBand
	Prefilter Prefilter
	Sampling  Sampling

	Xs, Ys []float32
	Grid   *Grid
}

// Samples returns the number of samples the job evaluates.
func (j *BatchJob) Samples() int {
	if j.Sampling == SampleCartesian {
		return len(j.Xs) * len(j.Ys)
	}
	return min(len(j.Xs), len(j.Ys))
}

// Accelerator is an optional data-parallel offload for batches.
//
// When registered via RegisterAccelerator, renderers try the accelerator first
// for every batch. If it returns ErrFallbackToCPU or any other error, the batch
// runs on the CPU worker pool and the grid is left as it was before the call.
//
// Users opt in via blank import:
//
//	import _ "github.com/gogpu/buddhabrot/gpu"
type Accelerator interface {
	// Name returns the accelerator name (e.g., "wgpu-compute").
	Name() string

	// Init acquires device resources. Called once during registration.
	Init() error

	// Close releases device resources.
	Close()

	// RunBatch evaluates every sample of job and adds the recorded hits to
	// job.Grid. It must not modify job.Grid when it returns an error.
	RunBatch(job *BatchJob) (BatchStats, error)
}

// DeviceProviderAware is implemented by accelerators that can share a GPU
// device with a host application instead of opening their own.
type DeviceProviderAware interface {
	SetDeviceProvider(provider gpucontext.DeviceProvider) error
}

var (
	accelMu sync.RWMutex
	accel   Accelerator
)

// RegisterAccelerator registers the accelerator used by renderers that were
// not given one explicitly. Init is called first; on failure nothing is
// registered and the error is returned. A previously registered accelerator
// is closed.
func RegisterAccelerator(a Accelerator) error {
	if a == nil {
		return errors.New("buddhabrot: accelerator must not be nil")
	}
	if err := a.Init(); err != nil {
		return err
	}
	propagateLogger(a, Logger())

	accelMu.Lock()
	old := accel
	accel = a
	accelMu.Unlock()
	if old != nil && old != a {
		old.Close()
	}
	Logger().Info("accelerator registered", "name", a.Name())
	return nil
}

// UnregisterAccelerator closes and removes the registered accelerator, if any.
func UnregisterAccelerator() {
	accelMu.Lock()
	old := accel
	accel = nil
	accelMu.Unlock()
	if old != nil {
		old.Close()
	}
}

// RegisteredAccelerator returns the registered accelerator, or nil if none.
func RegisteredAccelerator() Accelerator {
	accelMu.RLock()
	a := accel
	accelMu.RUnlock()
	return a
}

// SetAcceleratorDeviceProvider passes a host device provider to the
// registered accelerator. It is a no-op when no accelerator is registered or
// the accelerator cannot share devices.
func SetAcceleratorDeviceProvider(provider gpucontext.DeviceProvider) error {
	a := RegisteredAccelerator()
	if a == nil {
		return nil
	}
	if dpa, ok := a.(DeviceProviderAware); ok {
		return dpa.SetDeviceProvider(provider)
	}
	return nil
}
