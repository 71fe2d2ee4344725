//go:build !nogpu

// Package gpu implements the WebGPU compute accelerator for buddhabrot
// batches on top of gogpu/wgpu's HAL (pure Go, no CGO).
//
// ComputeAccelerator opens a Vulkan device, or takes one from a host
// application through SetDeviceProvider, and runs every batch as a single
// compute dispatch of the WGSL kernel in shaders/buddhabrot.wgsl:
//
//	upload xs, ys, params -> dispatch ceil(samples/64) groups -> copy counts
//	and stats to a staging buffer -> fence -> readback -> Grid.AddCounts
//
// The kernel evaluates the same pipeline as the CPU lanes (prefilter, escape
// verdict, band-gated orbit replay) in single precision with atomic counters.
// Interior tests use a small inward margin so rounding never rejects an
// exterior point.
//
// naga has miscompiled WGSL loops to a single iteration before, which would
// leave the escape and replay loops of this kernel nearly empty without any
// error. TestComputeAcceleratorMatchesCPU checks a batch against the CPU
// lanes whenever a device is present; run it after upgrading naga or wgpu.
//
// The package is registered through the public github.com/gogpu/buddhabrot/gpu
// package; build with -tags nogpu to leave it out.
package gpu
