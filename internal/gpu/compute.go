//go:build !nogpu

package gpu

import (
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gogpu/buddhabrot"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

//go:embed shaders/buddhabrot.wgsl
var buddhabrotShaderSource string

const (
	// workgroupSize matches @workgroup_size in the kernel.
	workgroupSize = 64

	// maxWorkgroupsPerDim is the WebGPU default dispatch limit per dimension.
	maxWorkgroupsPerDim = 65535

	// paramsSize is the byte size of the kernel's Params uniform.
	paramsSize = 128

	// statsSize holds the rejected, bounded and escaped counters.
	statsSize = 3 * 4

	// maxCountsBytes keeps the counter buffer within the default storage
	// binding limit.
	maxCountsBytes = 128 << 20

	fenceTimeout = 5 * time.Second
)

// ComputeAccelerator runs buddhabrot batches as a wgpu/hal compute dispatch.
// It implements buddhabrot.Accelerator.
//
// Every batch uploads the coordinate buffers, evaluates all samples in one
// pass with atomic counters, and reads the histogram back. The grid is only
// touched after a successful readback, so any failure leaves it unchanged and
// the renderer reruns the batch on the CPU.
type ComputeAccelerator struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline

	adapterName    string
	gpuReady       bool
	externalDevice bool // true when using a shared device (don't destroy on Close)
}

var _ buddhabrot.Accelerator = (*ComputeAccelerator)(nil)

var _ buddhabrot.DeviceProviderAware = (*ComputeAccelerator)(nil)

// Name returns the accelerator name.
func (a *ComputeAccelerator) Name() string { return "wgpu-compute" }

// Init opens a Vulkan device and builds the compute pipeline.
func (a *ComputeAccelerator) Init() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gpuReady {
		return nil
	}
	if err := a.initGPU(); err != nil {
		a.releaseLocked()
		return fmt.Errorf("wgpu-compute: %w", err)
	}
	return nil
}

// SetLogger receives the logger propagated by buddhabrot.SetLogger.
func (a *ComputeAccelerator) SetLogger(l *slog.Logger) {
	setLogger(l)
}

// Close releases the pipeline and, unless the device is shared, the device.
func (a *ComputeAccelerator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.releaseLocked()
}

func (a *ComputeAccelerator) releaseLocked() {
	a.destroyPipeline()
	if !a.externalDevice {
		if a.device != nil {
			a.device.Destroy()
		}
		if a.instance != nil {
			a.instance.Destroy()
		}
	}
	a.device = nil
	a.instance = nil
	a.queue = nil
	a.gpuReady = false
	a.externalDevice = false
}

// SetDeviceProvider switches the accelerator to a device owned by the host
// application. The provider must also expose HalDevice() any and
// HalQueue() any returning hal.Device and hal.Queue.
func (a *ComputeAccelerator) SetDeviceProvider(provider gpucontext.DeviceProvider) error {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return errors.New("wgpu-compute: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return errors.New("wgpu-compute: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return errors.New("wgpu-compute: provider HalQueue is not hal.Queue")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.releaseLocked()
	a.device = device
	a.queue = queue
	a.externalDevice = true
	a.adapterName = "shared"

	if err := a.createPipeline(); err != nil {
		a.gpuReady = false
		return fmt.Errorf("wgpu-compute: create pipeline with shared device: %w", err)
	}
	a.gpuReady = true
	slogger().Info("wgpu-compute: switched to shared GPU device")
	return nil
}

// RunBatch evaluates job on the GPU and adds the hits to job.Grid.
func (a *ComputeAccelerator) RunBatch(job *buddhabrot.BatchJob) (buddhabrot.BatchStats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.gpuReady {
		return buddhabrot.BatchStats{}, buddhabrot.ErrFallbackToCPU
	}
	plan, err := planBatch(job)
	if err != nil {
		return buddhabrot.BatchStats{}, err
	}
	if plan.samples == 0 {
		return buddhabrot.BatchStats{Backend: a.Name()}, nil
	}

	start := time.Now()
	readback, err := a.dispatch(job, plan)
	if err != nil {
		return buddhabrot.BatchStats{}, err
	}
	st := plan.apply(job.Grid, readback)
	st.Duration = time.Since(start)
	st.Backend = a.Name()
	slogger().Debug("wgpu-compute: batch done",
		"samples", st.Samples, "groups_x", plan.groupsX, "groups_y", plan.groupsY,
		"counts_bytes", plan.countsBytes, "elapsed", st.Duration)
	return st, nil
}

// batchPlan holds the sizes derived from a job.
type batchPlan struct {
	samples          int
	cells            int
	channels         int
	countsBytes      uint64
	groupsX, groupsY uint32
}

// planBatch sizes the dispatch and buffers for job, or returns
// ErrFallbackToCPU when the job does not fit the device limits.
func planBatch(job *buddhabrot.BatchJob) (batchPlan, error) {
	g := job.Grid
	p := batchPlan{
		samples:  job.Samples(),
		cells:    g.Width() * g.Height(),
		channels: len(job.Bands),
	}
	if p.channels == 0 || p.channels > buddhabrot.MaxChannels || p.channels != g.Channels() {
		return p, buddhabrot.ErrFallbackToCPU
	}
	p.countsBytes = uint64(p.cells) * uint64(p.channels) * 4 //nolint:gosec // positive sizes
	if p.countsBytes > maxCountsBytes || uint64(p.samples) > math.MaxUint32 {
		return p, buddhabrot.ErrFallbackToCPU
	}
	groups := (p.samples + workgroupSize - 1) / workgroupSize
	gx := min(groups, maxWorkgroupsPerDim)
	gy := (groups + gx - 1) / max(gx, 1)
	if gy > maxWorkgroupsPerDim {
		return p, buddhabrot.ErrFallbackToCPU
	}
	p.groupsX, p.groupsY = uint32(gx), uint32(gy) //nolint:gosec // bounded by maxWorkgroupsPerDim
	return p, nil
}

// apply folds a readback of counters followed by stats into grid. Hits are
// summed from the counters in 64 bits; a single 32-bit device total would
// wrap on deep batches.
func (p batchPlan) apply(grid *buddhabrot.Grid, readback []byte) buddhabrot.BatchStats {
	var hits uint64
	delta := make([]uint32, p.cells)
	for ch := range p.channels {
		base := ch * p.cells * 4
		for i := range delta {
			delta[i] = binary.LittleEndian.Uint32(readback[base+i*4:])
			hits += uint64(delta[i])
		}
		grid.AddCounts(ch, delta)
	}
	s := readback[p.countsBytes:]
	return buddhabrot.BatchStats{
		Samples:  p.samples,
		Rejected: int(binary.LittleEndian.Uint32(s[0:])),
		Bounded:  int(binary.LittleEndian.Uint32(s[4:])),
		Escaped:  int(binary.LittleEndian.Uint32(s[8:])),
		Hits:     int(hits), //nolint:gosec // bounded by cells * channels * 2^32
	}
}

// packParams serializes the kernel's Params uniform.
func packParams(job *buddhabrot.BatchJob, p batchPlan) []byte {
	b := make([]byte, paramsSize)
	le := binary.LittleEndian
	putF := func(off int, v float32) { le.PutUint32(b[off:], math.Float32bits(v)) }
	putU := func(off int, v uint32) { le.PutUint32(b[off:], v) }

	w := job.Window
	putF(0, w.RealMin)
	putF(4, w.RealMax)
	putF(8, w.ImagMin)
	putF(12, w.ImagMax)
	putF(16, job.Threshold)
	putU(20, job.Budget.MinIter)
	putU(24, job.Budget.MaxIter)
	putU(28, u32(p.channels))
	putU(32, u32(job.Grid.Width()))
	putU(36, u32(job.Grid.Height()))
	putU(40, u32(len(job.Xs)))
	putU(44, u32(len(job.Ys)))
	putU(48, uint32(job.Sampling))
	putU(52, uint32(job.Prefilter))
	putU(56, u32(p.samples))
	putU(60, p.groupsX*workgroupSize)
	for i, band := range job.Bands {
		putU(64+i*16, band.MinIter)
		putU(64+i*16+4, band.MaxIter)
	}
	return b
}

// u32 narrows sizes that planBatch and config validation keep in range.
func u32(n int) uint32 {
	return uint32(n) //nolint:gosec // range checked by callers
}

func float32Bytes(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

// dispatch uploads job, runs the kernel and returns the raw readback:
// counters followed by the stats block.
func (a *ComputeAccelerator) dispatch(job *buddhabrot.BatchJob, p batchPlan) ([]byte, error) {
	xsBytes := float32Bytes(job.Xs)
	ysBytes := float32Bytes(job.Ys)
	paramsBytes := packParams(job, p)
	readSize := p.countsBytes + statsSize

	var bufs []hal.Buffer
	defer func() {
		for _, b := range bufs {
			a.device.DestroyBuffer(b)
		}
	}()
	create := func(label string, size uint64, usage gputypes.BufferUsage) (hal.Buffer, error) {
		b, err := a.device.CreateBuffer(&hal.BufferDescriptor{Label: label, Size: size, Usage: usage})
		if err != nil {
			return nil, fmt.Errorf("create %s buffer: %w", label, err)
		}
		bufs = append(bufs, b)
		return b, nil
	}

	paramsBuf, err := create("bb_params", paramsSize, gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}
	xsBuf, err := create("bb_xs", uint64(len(xsBytes)), gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}
	ysBuf, err := create("bb_ys", uint64(len(ysBytes)), gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}
	countsBuf, err := create("bb_counts", p.countsBytes,
		gputypes.BufferUsageStorage|gputypes.BufferUsageCopySrc|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}
	statsBuf, err := create("bb_stats", statsSize,
		gputypes.BufferUsageStorage|gputypes.BufferUsageCopySrc|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}
	stagingBuf, err := create("bb_staging", readSize, gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}

	a.queue.WriteBuffer(paramsBuf, 0, paramsBytes)
	a.queue.WriteBuffer(xsBuf, 0, xsBytes)
	a.queue.WriteBuffer(ysBuf, 0, ysBytes)
	a.queue.WriteBuffer(countsBuf, 0, make([]byte, p.countsBytes))
	a.queue.WriteBuffer(statsBuf, 0, make([]byte, statsSize))

	bg, err := a.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: "bb_bind", Layout: a.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: paramsBuf.NativeHandle(), Offset: 0, Size: paramsSize}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: xsBuf.NativeHandle(), Offset: 0, Size: uint64(len(xsBytes))}},
			{Binding: 2, Resource: gputypes.BufferBinding{Buffer: ysBuf.NativeHandle(), Offset: 0, Size: uint64(len(ysBytes))}},
			{Binding: 3, Resource: gputypes.BufferBinding{Buffer: countsBuf.NativeHandle(), Offset: 0, Size: p.countsBytes}},
			{Binding: 4, Resource: gputypes.BufferBinding{Buffer: statsBuf.NativeHandle(), Offset: 0, Size: statsSize}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create bind group: %w", err)
	}
	defer a.device.DestroyBindGroup(bg)

	encoder, err := a.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "bb_encoder"})
	if err != nil {
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("bb_batch"); err != nil {
		return nil, fmt.Errorf("begin encoding: %w", err)
	}
	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "bb_pass"})
	pass.SetPipeline(a.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(p.groupsX, p.groupsY, 1)
	pass.End()

	encoder.CopyBufferToBuffer(countsBuf, stagingBuf, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: p.countsBytes},
	})
	encoder.CopyBufferToBuffer(statsBuf, stagingBuf, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: p.countsBytes, Size: statsSize},
	})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("end encoding: %w", err)
	}
	defer a.device.FreeCommandBuffer(cmdBuf)

	fence, err := a.device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("create fence: %w", err)
	}
	defer a.device.DestroyFence(fence)
	if err := a.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	fenceOK, err := a.device.Wait(fence, 1, fenceTimeout)
	if err != nil || !fenceOK {
		return nil, fmt.Errorf("wait for GPU: ok=%v err=%w", fenceOK, err)
	}

	readback := make([]byte, readSize)
	if err := a.queue.ReadBuffer(stagingBuf, 0, readback); err != nil {
		return nil, fmt.Errorf("readback: %w", err)
	}
	return readback, nil
}

func (a *ComputeAccelerator) initGPU() error {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return errors.New("vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	a.instance = instance
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		return errors.New("no GPU adapters found")
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	a.device = openDev.Device
	a.queue = openDev.Queue
	if err := a.createPipeline(); err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}
	a.adapterName = selected.Info.Name
	a.gpuReady = true
	slogger().Info("wgpu-compute: GPU accelerator initialized", "adapter", a.adapterName)
	return nil
}

func (a *ComputeAccelerator) createPipeline() error {
	shader, err := a.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "buddhabrot",
		Source: hal.ShaderSource{WGSL: buddhabrotShaderSource},
	})
	if err != nil {
		return fmt.Errorf("compile buddhabrot shader: %w", err)
	}
	a.shader = shader

	storage := func(binding uint32, t gputypes.BufferBindingType) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding: binding, Visibility: gputypes.ShaderStageCompute,
			Buffer: &gputypes.BufferBindingLayout{Type: t},
		}
	}
	bindLayout, err := a.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "bb_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			storage(0, gputypes.BufferBindingTypeUniform),
			storage(1, gputypes.BufferBindingTypeReadOnlyStorage),
			storage(2, gputypes.BufferBindingTypeReadOnlyStorage),
			storage(3, gputypes.BufferBindingTypeStorage),
			storage(4, gputypes.BufferBindingTypeStorage),
		},
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}
	a.bindLayout = bindLayout

	pipeLayout, err := a.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "bb_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{a.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}
	a.pipeLayout = pipeLayout

	pipeline, err := a.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label: "bb_pipeline", Layout: a.pipeLayout,
		Compute: hal.ComputeState{Module: a.shader, EntryPoint: "main"},
	})
	if err != nil {
		return fmt.Errorf("create compute pipeline: %w", err)
	}
	a.pipeline = pipeline
	return nil
}

func (a *ComputeAccelerator) destroyPipeline() {
	if a.device == nil {
		return
	}
	if a.pipeline != nil {
		a.device.DestroyComputePipeline(a.pipeline)
		a.pipeline = nil
	}
	if a.pipeLayout != nil {
		a.device.DestroyPipelineLayout(a.pipeLayout)
		a.pipeLayout = nil
	}
	if a.bindLayout != nil {
		a.device.DestroyBindGroupLayout(a.bindLayout)
		a.bindLayout = nil
	}
	if a.shader != nil {
		a.device.DestroyShaderModule(a.shader)
		a.shader = nil
	}
}
