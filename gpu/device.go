// Package gpu wraps the webgpu compute surface the effect pipeline uses: a
// headless (or window-backed) device, a keyed compute pipeline cache with
// auto-derived bind group layouts, storage buffer helpers, and a batched
// per-frame command encoder so all dispatches of one frame submit as a
// single command buffer.
package gpu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
)

// Device is the compute-facing GPU wrapper. All methods are safe for use
// from the render goroutine only; the pipeline serializes access.
type Device interface {
	// Handle returns the underlying wgpu device.
	Handle() *wgpu.Device

	// Queue returns the underlying wgpu queue.
	Queue() *wgpu.Queue

	// RegisterComputePipeline compiles WGSL source into a compute pipeline
	// cached under key. The bind group layout is derived from the shader
	// (group 0 only). Re-registering an existing key is a no-op.
	//
	// Parameters:
	//   - key: the cache key
	//   - source: the WGSL source
	//   - entryPoint: the compute entry point name
	//
	// Returns:
	//   - error: compilation or pipeline creation failure
	RegisterComputePipeline(key, source, entryPoint string) error

	// ComputePipeline returns the cached pipeline for key, or nil.
	ComputePipeline(key string) *wgpu.ComputePipeline

	// CreateStorageBuffer allocates a storage buffer usable as a compute
	// binding, upload target, and readback source.
	//
	// Parameters:
	//   - label: debug label
	//   - size: size in bytes
	//
	// Returns:
	//   - *wgpu.Buffer: the buffer
	//   - error: allocation failure
	CreateStorageBuffer(label string, size uint64) (*wgpu.Buffer, error)

	// CreateUniformBuffer allocates a uniform buffer.
	CreateUniformBuffer(label string, size uint64) (*wgpu.Buffer, error)

	// Upload writes data into a buffer at offset 0 through the queue.
	Upload(buf *wgpu.Buffer, data []byte)

	// BeginComputeFrame opens the frame's shared command encoder. Dispatches
	// between Begin and End are recorded into one command buffer.
	//
	// Returns:
	//   - error: encoder creation failure
	BeginComputeFrame() error

	// DispatchCompute records one compute pass on the frame encoder: the
	// keyed pipeline with a bind group built from the given buffer bindings
	// (binding i = buffers[i]) over the given workgroup counts.
	//
	// Parameters:
	//   - key: the pipeline cache key
	//   - buffers: the group-0 buffer bindings, in binding order
	//   - workgroups: x/y/z workgroup counts
	//
	// Returns:
	//   - error: missing pipeline, missing frame encoder, or bind group
	//     creation failure
	DispatchCompute(key string, buffers []*wgpu.Buffer, workgroups [3]uint32) error

	// CopyBuffer records a buffer-to-buffer copy on the frame encoder.
	//
	// Parameters:
	//   - src, dst: the buffers
	//   - srcOffset, dstOffset: byte offsets
	//   - size: bytes to copy
	//
	// Returns:
	//   - error: no open compute frame
	CopyBuffer(src, dst *wgpu.Buffer, srcOffset, dstOffset, size uint64) error

	// EndComputeFrame finishes the frame encoder and submits it.
	EndComputeFrame()

	// ReadBuffer copies a buffer into a staging buffer, blocks until the
	// copy completes, and returns the bytes. Must not be called between
	// BeginComputeFrame and EndComputeFrame.
	//
	// Parameters:
	//   - buf: the source buffer
	//   - size: bytes to read from offset 0
	//
	// Returns:
	//   - []byte: the buffer contents
	//   - error: copy or map failure
	ReadBuffer(buf *wgpu.Buffer, size uint64) ([]byte, error)

	// ConfigureSurface sizes the presentation surface for the current window
	// dimensions. Errors when the device was created without a surface.
	//
	// Parameters:
	//   - width, height: window size in pixels
	//
	// Returns:
	//   - error: missing surface or configuration failure
	ConfigureSurface(width, height int) error

	// Present uploads a tightly packed RGBA8 image and blits it to the
	// surface. The image must match the configured surface size.
	//
	// Parameters:
	//   - pixels: RGBA8 bytes, row-major, width*height*4 long
	//   - width, height: image dimensions
	//
	// Returns:
	//   - error: missing surface, size mismatch, or submission failure
	Present(pixels []byte, width, height int) error

	// Release frees the device and every cached pipeline.
	Release()
}

type device struct {
	mu sync.Mutex

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	dev      *wgpu.Device
	queue    *wgpu.Queue

	forceFallbackAdapter bool
	surfaceDescriptor    *wgpu.SurfaceDescriptor

	surface *wgpu.Surface

	pipelines map[string]*wgpu.ComputePipeline
	encoder   *wgpu.CommandEncoder

	blit blitState
}

var _ Device = &device{}

// DeviceBuilderOption is a functional option applied to a device during
// construction via NewDevice.
type DeviceBuilderOption func(*device)

// WithForceFallbackAdapter requests the software rasterizer adapter, used by
// tests and CI machines without a GPU.
//
// Returns:
//   - DeviceBuilderOption: a function that applies the fallback option
func WithForceFallbackAdapter() DeviceBuilderOption {
	return func(d *device) {
		d.forceFallbackAdapter = true
	}
}

// WithSurfaceDescriptor attaches a presentation surface, enabling the blit
// path used by the windowed demo. Headless compute devices omit it.
//
// Parameters:
//   - desc: the platform surface descriptor (from the window provider)
//
// Returns:
//   - DeviceBuilderOption: a function that applies the surface option
func WithSurfaceDescriptor(desc *wgpu.SurfaceDescriptor) DeviceBuilderOption {
	return func(d *device) {
		d.surfaceDescriptor = desc
	}
}

// NewDevice creates a GPU device wrapper. Without options this is a headless
// compute device on the default adapter.
//
// Parameters:
//   - options: functional options for device configuration
//
// Returns:
//   - Device: the newly created device
//   - error: adapter or device acquisition failure
func NewDevice(options ...DeviceBuilderOption) (Device, error) {
	d := &device{
		instance:  wgpu.CreateInstance(nil),
		pipelines: make(map[string]*wgpu.ComputePipeline),
	}
	for _, option := range options {
		option(d)
	}

	if d.surfaceDescriptor != nil {
		d.surface = d.instance.CreateSurface(d.surfaceDescriptor)
	}

	adapter, err := d.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: d.forceFallbackAdapter,
		CompatibleSurface:    d.surface,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: no compatible adapter: %w", err)
	}
	d.adapter = adapter

	dev, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Effects Device",
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: device request failed: %w", err)
	}
	d.dev = dev
	d.queue = dev.GetQueue()

	return d, nil
}

func (d *device) Handle() *wgpu.Device { return d.dev }

func (d *device) Queue() *wgpu.Queue { return d.queue }

func (d *device) RegisterComputePipeline(key, source, entryPoint string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.pipelines[key]; ok {
		return nil
	}

	module, err := d.dev.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: key,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: source,
		},
	})
	if err != nil {
		return fmt.Errorf("gpu: shader %q failed to compile: %w", key, err)
	}

	// Layout nil derives the bind group layout from the shader, which is
	// exact for single-group storage-buffer kernels.
	p, err := d.dev.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label: key + " Compute Pipeline",
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: entryPoint,
		},
	})
	if err != nil {
		return fmt.Errorf("gpu: pipeline %q creation failed: %w", key, err)
	}
	d.pipelines[key] = p
	return nil
}

func (d *device) ComputePipeline(key string) *wgpu.ComputePipeline {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pipelines[key]
}

func (d *device) CreateStorageBuffer(label string, size uint64) (*wgpu.Buffer, error) {
	return d.dev.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
	})
}

func (d *device) CreateUniformBuffer(label string, size uint64) (*wgpu.Buffer, error) {
	return d.dev.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
}

func (d *device) Upload(buf *wgpu.Buffer, data []byte) {
	d.queue.WriteBuffer(buf, 0, data)
}

func (d *device) BeginComputeFrame() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.encoder != nil {
		return errors.New("gpu: compute frame already open")
	}
	encoder, err := d.dev.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	d.encoder = encoder
	return nil
}

func (d *device) DispatchCompute(key string, buffers []*wgpu.Buffer, workgroups [3]uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.encoder == nil {
		return errors.New("gpu: no open compute frame")
	}
	p := d.pipelines[key]
	if p == nil {
		return fmt.Errorf("gpu: pipeline %q not registered", key)
	}

	entries := make([]wgpu.BindGroupEntry, len(buffers))
	for i, buf := range buffers {
		entries[i] = wgpu.BindGroupEntry{
			Binding: uint32(i),
			Buffer:  buf,
			Offset:  0,
			Size:    wgpu.WholeSize,
		}
	}
	bindGroup, err := d.dev.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   key + " Bind Group",
		Layout:  p.GetBindGroupLayout(0),
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("gpu: bind group for %q failed: %w", key, err)
	}

	pass := d.encoder.BeginComputePass(nil)
	pass.SetPipeline(p)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(workgroups[0], workgroups[1], workgroups[2])
	pass.End()
	return nil
}

func (d *device) CopyBuffer(src, dst *wgpu.Buffer, srcOffset, dstOffset, size uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.encoder == nil {
		return errors.New("gpu: no open compute frame")
	}
	d.encoder.CopyBufferToBuffer(src, srcOffset, dst, dstOffset, size)
	return nil
}

func (d *device) EndComputeFrame() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.encoder == nil {
		return
	}
	commandBuffer, err := d.encoder.Finish(nil)
	if err != nil {
		d.encoder.Release()
		d.encoder = nil
		return
	}
	d.queue.Submit(commandBuffer)
	commandBuffer.Release()
	d.encoder.Release()
	d.encoder = nil
}

func (d *device) ReadBuffer(buf *wgpu.Buffer, size uint64) ([]byte, error) {
	staging, err := d.dev.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Readback Staging",
		Size:  size,
		Usage: wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
	})
	if err != nil {
		return nil, err
	}
	defer staging.Release()

	encoder, err := d.dev.CreateCommandEncoder(nil)
	if err != nil {
		return nil, err
	}
	encoder.CopyBufferToBuffer(buf, 0, staging, 0, size)
	commandBuffer, err := encoder.Finish(nil)
	if err != nil {
		encoder.Release()
		return nil, err
	}
	d.queue.Submit(commandBuffer)
	commandBuffer.Release()
	encoder.Release()

	var mapErr error
	done := false
	staging.MapAsync(wgpu.MapModeRead, 0, size, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			mapErr = fmt.Errorf("gpu: readback map failed: status %d", status)
		}
		done = true
	})
	for !done {
		d.dev.Poll(true, nil)
	}
	if mapErr != nil {
		return nil, mapErr
	}

	mapped := staging.GetMappedRange(0, uint(size))
	out := make([]byte, size)
	copy(out, mapped)
	staging.Unmap()
	return out, nil
}

func (d *device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, p := range d.pipelines {
		p.Release()
	}
	d.pipelines = map[string]*wgpu.ComputePipeline{}
	d.releaseBlit()
	if d.encoder != nil {
		d.encoder.Release()
		d.encoder = nil
	}
	if d.dev != nil {
		d.dev.Release()
		d.dev = nil
	}
	if d.instance != nil {
		d.instance.Release()
		d.instance = nil
	}
}
