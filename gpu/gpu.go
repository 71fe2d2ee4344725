//go:build !nogpu

// Package gpu registers the WebGPU compute accelerator for buddhabrot
// batches.
//
// Import this package for its side effect. Every renderer that was not given
// an explicit accelerator then tries the GPU first and falls back to its CPU
// lanes when a batch cannot run there.
//
// If GPU initialization fails (no Vulkan device available), the registration
// is skipped with a warning on the buddhabrot logger and rendering stays on
// the CPU.
//
// Usage:
//
//	import _ "github.com/gogpu/buddhabrot/gpu" // enable GPU batches
package gpu

import (
	"github.com/gogpu/buddhabrot"
	gpuimpl "github.com/gogpu/buddhabrot/internal/gpu"
	"github.com/gogpu/gpucontext"
)

func init() {
	if err := buddhabrot.RegisterAccelerator(&gpuimpl.ComputeAccelerator{}); err != nil {
		buddhabrot.Logger().Warn("GPU accelerator not available", "err", err)
	}
}

// SetDeviceProvider makes the GPU accelerator use a device shared by the host
// application (e.g., a gogpu window) instead of its own.
//
// The provider must also implement HalDevice() any and HalQueue() any for
// direct HAL access.
func SetDeviceProvider(provider gpucontext.DeviceProvider) error {
	return buddhabrot.SetAcceleratorDeviceProvider(provider)
}
