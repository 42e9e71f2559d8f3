// Package ssgi implements screen-space global illumination: a per-camera
// pipeline that gathers one bounce of indirect diffuse light by marching
// cosine-weighted hemisphere rays against a hierarchical depth pyramid,
// accumulates the estimate temporally against reprojected history, denoises
// it, and composites it into the camera color.
//
// Every stage has a CPU kernel parallelized across a shared worker pool; the
// two heaviest stages (Hi-Z reduction and the hemisphere march) can also run
// as wgpu compute dispatches when the pipeline is built with a GPU device.
package ssgi

import (
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/lumen-go/common"
	"github.com/Carmen-Shannon/lumen-go/effects/buffer"
	"github.com/Carmen-Shannon/lumen-go/effects/history"
	"github.com/Carmen-Shannon/lumen-go/effects/hzb"
	"github.com/Carmen-Shannon/lumen-go/effects/params"
	"github.com/Carmen-Shannon/lumen-go/effects/surface"
	"github.com/Carmen-Shannon/lumen-go/gpu"
)

// StageTimings holds the wall-clock duration of each pipeline stage for the
// most recent frame.
type StageTimings struct {
	HZB       time.Duration
	Surface   time.Duration
	RayMarch  time.Duration
	Temporal  time.Duration
	Denoise   time.Duration
	Composite time.Duration
	Total     time.Duration

	// GPURayMarch reports whether the march ran on the GPU this frame.
	GPURayMarch bool
}

// Pipeline is the per-host SSGI orchestrator. One pipeline serves any number
// of cameras; temporal history is kept per camera, keyed by FrameInput's
// CameraID. RenderFrame is not safe for concurrent calls; hosts rendering
// multiple cameras submit them sequentially (the usual render-thread model).
type Pipeline interface {
	// RenderFrame runs the full stage chain for one camera frame, adding the
	// indirect diffuse term into the input's Color buffer in place.
	//
	// Parameters:
	//   - in: the camera frame's planes, matrices, and fallback lights
	//
	// Returns:
	//   - bool: true if the frame was processed, false if it was skipped
	//     because a required input was unusable
	RenderFrame(in *FrameInput) bool

	// Settings returns the current host-facing settings.
	Settings() params.Settings

	// UpdateSettings replaces the settings. Takes effect on the next frame;
	// the running frame keeps its snapshot.
	//
	// Parameters:
	//   - s: the new settings
	UpdateSettings(s params.Settings)

	// HZB exposes the depth pyramid built for the most recent frame.
	HZB() *hzb.Pyramid

	// Surface exposes the surface attributes captured for the most recent
	// frame.
	Surface() *surface.Buffer

	// IndirectDiffuse returns the accumulated indirect diffuse buffer of the
	// most recent frame at indirect resolution, or nil before the first
	// frame.
	IndirectDiffuse() *buffer.Buffer

	// SampleCounts returns the per-pixel temporal sample counts of the most
	// recent frame, or nil before the first frame.
	SampleCounts() *buffer.Buffer

	// History exposes the per-camera history store.
	History() history.Store

	// FrameTimings returns per-stage durations for the most recent frame.
	FrameTimings() StageTimings

	// Release frees history buffers. The worker pool drains on its idle
	// timeout; no explicit shutdown is needed.
	Release()
}

type pipeline struct {
	mu sync.Mutex

	settings   params.Settings
	frameIndex uint32

	store      history.Store
	historyCap int

	pool           worker.DynamicWorkerPool
	computeWorkers int

	pyramid *hzb.Pyramid
	surf    *surface.Buffer

	indirect      *buffer.PingPong
	samples       *buffer.Buffer
	depthIndirect *buffer.Buffer

	device gpu.Device
	gpu    *gpuRunner

	capture *capturer

	timings StageTimings
	warned  map[string]struct{}
}

var _ Pipeline = &pipeline{}

// PipelineBuilderOption is a functional option applied to a pipeline during
// construction via NewPipeline.
type PipelineBuilderOption func(*pipeline)

// WithSettings sets the initial settings instead of DefaultSettings.
//
// Parameters:
//   - s: the initial settings
//
// Returns:
//   - PipelineBuilderOption: a function that applies the settings option
func WithSettings(s params.Settings) PipelineBuilderOption {
	return func(p *pipeline) {
		p.settings = s
	}
}

// WithHistoryCapacity overrides the number of cameras that keep temporal
// history concurrently. Values below 1 are ignored.
//
// Parameters:
//   - capacity: the history slot count
//
// Returns:
//   - PipelineBuilderOption: a function that applies the capacity option
func WithHistoryCapacity(capacity int) PipelineBuilderOption {
	return func(p *pipeline) {
		if capacity >= 1 {
			p.historyCap = capacity
		}
	}
}

// WithComputeWorkers overrides the CPU worker count used by the stage
// kernels. Defaults to NumCPU-1.
//
// Parameters:
//   - workers: the worker count (minimum 1)
//
// Returns:
//   - PipelineBuilderOption: a function that applies the worker option
func WithComputeWorkers(workers int) PipelineBuilderOption {
	return func(p *pipeline) {
		if workers >= 1 {
			p.computeWorkers = workers
		}
	}
}

// WithDevice enables the GPU compute path for the stages that support it.
// The pipeline degrades to the CPU kernels when a dispatch cannot run.
//
// Parameters:
//   - device: an initialized webgpu device wrapper
//
// Returns:
//   - PipelineBuilderOption: a function that applies the device option
func WithDevice(device gpu.Device) PipelineBuilderOption {
	return func(p *pipeline) {
		p.device = device
	}
}

// WithCapture enables per-frame WebP dumps of the intermediate buffers into
// a directory. Interval 1 captures every frame, 2 every other, and so on.
//
// Parameters:
//   - dir: the output directory (created on first write)
//   - interval: the capture cadence in frames (minimum 1)
//
// Returns:
//   - PipelineBuilderOption: a function that applies the capture option
func WithCapture(dir string, interval int) PipelineBuilderOption {
	return func(p *pipeline) {
		p.capture = newCapturer(dir, interval)
	}
}

// NewPipeline creates an SSGI pipeline.
//
// Parameters:
//   - options: functional options for pipeline configuration
//
// Returns:
//   - Pipeline: the newly created pipeline
func NewPipeline(options ...PipelineBuilderOption) Pipeline {
	p := &pipeline{
		settings:       params.DefaultSettings(),
		historyCap:     history.DefaultCapacity,
		computeWorkers: max(runtime.NumCPU()-1, 1),
		pyramid:        hzb.NewPyramid(),
		surf:           surface.NewBuffer(),
		warned:         make(map[string]struct{}),
	}
	for _, option := range options {
		option(p)
	}

	p.store = history.NewStore(history.WithCapacity(p.historyCap))
	// Queue size of 256 covers the row-chunk fan-out of every stage with headroom.
	p.pool = worker.NewDynamicWorkerPool(p.computeWorkers, 256, 1*time.Second)

	if p.device != nil {
		p.gpu = newGPURunner(p.device, p.warnOnce)
	}
	return p
}

func (p *pipeline) RenderFrame(in *FrameInput) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()

	if in == nil || in.Depth == nil || in.Color == nil {
		p.warnOnce("input", "[SSGI] frame skipped: depth/color input not bound")
		return false
	}
	w, h := in.Color.Width(), in.Color.Height()
	if in.Depth.Width() != w || in.Depth.Height() != h {
		p.warnOnce("dims", "[SSGI] frame skipped: depth %dx%d does not match color %dx%d",
			in.Depth.Width(), in.Depth.Height(), w, h)
		return false
	}

	fp := params.Snapshot(p.settings, p.frameIndex)
	p.frameIndex = (p.frameIndex + 1) % params.FrameIndexWrap
	iw, ih := fp.IndirectResolution(w, h)

	near, far := in.clips()
	st := &frameState{
		fp:      fp,
		in:      in,
		near:    near,
		far:     far,
		width:   w,
		height:  h,
		iw:      iw,
		ih:      ih,
		pyramid: p.pyramid,
		surf:    p.surf,
	}
	if !common.Invert4(st.invViewProj[:], in.ViewProj[:]) {
		p.warnOnce("viewproj", "[SSGI] frame skipped: singular view-projection matrix")
		return false
	}

	slot := p.store.Acquire(in.CameraID)
	entry := p.store.Entry(slot)
	if entry.Valid && (entry.Width != w || entry.Height != h ||
		entry.IndirectWidth != iw || entry.IndirectHeight != ih ||
		entry.DenoiseMode != fp.DenoiseMode()) {
		p.store.Invalidate(slot)
	}
	st.entry = entry

	p.resizeTransients(iw, ih)
	st.depthIndirect = p.depthIndirect

	timings := StageTimings{}

	// Hi-Z pyramid.
	t := time.Now()
	if p.gpu == nil || !p.gpu.buildHZB(p.pyramid, in.Depth) {
		p.pyramid.Build(in.Depth)
	}
	timings.HZB = time.Since(t)

	// Surface attributes at indirect resolution.
	t = time.Now()
	p.surf.Capture(surface.CaptureInput{
		Depth:       in.Depth,
		Color:       in.Color,
		Normals:     in.Normals,
		Albedo:      in.Albedo,
		Flags:       in.MaterialFlags,
		InvViewProj: st.invViewProj,
		CameraPos:   in.CameraPos,
	}, iw, ih)

	// Depth reduced to indirect resolution, shared by the later stages.
	for y := 0; y < ih; y++ {
		v := (float32(y) + 0.5) / float32(ih)
		for x := 0; x < iw; x++ {
			u := (float32(x) + 0.5) / float32(iw)
			p.depthIndirect.Set(x, y, 0, in.Depth.SampleNearest(u, v, 0))
		}
	}
	timings.Surface = time.Since(t)

	// Hemisphere ray march.
	t = time.Now()
	raw := p.indirect.Front()
	if p.gpu != nil && p.gpu.rayMarch(st, raw) {
		timings.GPURayMarch = true
	} else {
		p.parallelRows(ih, func(y0, y1 int) { st.rayMarchRows(raw, y0, y1) })
	}
	timings.RayMarch = time.Since(t)

	var rawCopy *buffer.Buffer
	if p.capture != nil && p.capture.due(fp.FrameIndex) {
		rawCopy = raw.Clone()
	}

	// Temporal accumulation.
	t = time.Now()
	p.parallelRows(ih, func(y0, y1 int) {
		st.temporalRows(p.indirect.Front(), p.indirect.Back(), p.samples, y0, y1)
	})
	p.indirect.Swap()
	timings.Temporal = time.Since(t)

	// Spatial denoise.
	t = time.Now()
	if fp.EnableDenoise {
		passes := 1
		if fp.AggressiveDenoise {
			passes = 2
		}
		for i := 0; i < passes; i++ {
			pass := i
			p.parallelRows(ih, func(y0, y1 int) {
				st.poissonRows(p.indirect.Front(), p.indirect.Back(), pass, y0, y1)
			})
			p.indirect.Swap()
		}
		if fp.SecondDenoisePass {
			p.parallelRows(ih, func(y0, y1 int) {
				st.edgeAwareRows(p.indirect.Front(), p.indirect.Back(), y0, y1)
			})
			p.indirect.Swap()
			p.parallelRows(ih, func(y0, y1 int) {
				st.stabilizeRows(p.indirect.Front(), y0, y1)
			})
		}
	}
	timings.Denoise = time.Since(t)

	// Composite into the camera color and persist history.
	t = time.Now()
	p.parallelRows(h, func(y0, y1 int) {
		st.compositeRows(p.indirect.Front(), y0, y1)
	})
	st.seedHistory(p.indirect.Front(), p.samples)
	p.store.Update(slot, in.ViewProj, in.CameraPos)
	timings.Composite = time.Since(t)

	if rawCopy != nil {
		p.capture.dump(st, p.pyramid, rawCopy, p.indirect.Front(), p.samples, in.Color)
	}

	timings.Total = time.Since(start)
	p.timings = timings
	return true
}

// resizeTransients sizes the per-frame working buffers, allocating on first
// use and reallocating only when the indirect resolution changed.
func (p *pipeline) resizeTransients(iw, ih int) {
	if p.indirect == nil {
		p.indirect = buffer.NewPingPong(iw, ih, 3)
		p.samples = buffer.New(iw, ih, 1)
		p.depthIndirect = buffer.New(iw, ih, 1)
		return
	}
	p.indirect.Resize(iw, ih)
	p.samples.Resize(iw, ih)
	p.depthIndirect.Resize(iw, ih)
}

// parallelRows splits [0, rows) into one chunk per worker and runs fn on the
// compute pool, blocking until all chunks finish. A WaitGroup provides the
// per-frame barrier since the pool itself has no frame notion.
func (p *pipeline) parallelRows(rows int, fn func(y0, y1 int)) {
	chunks := p.computeWorkers
	if chunks > rows {
		chunks = rows
	}
	if chunks <= 1 {
		fn(0, rows)
		return
	}

	chunk := (rows + chunks - 1) / chunks
	var wg sync.WaitGroup
	id := 0
	for y0 := 0; y0 < rows; y0 += chunk {
		y1 := y0 + chunk
		if y1 > rows {
			y1 = rows
		}
		a, b := y0, y1
		wg.Add(1)
		p.pool.SubmitTask(worker.Task{
			ID: id,
			Do: func() (any, error) {
				defer wg.Done()
				fn(a, b)
				return nil, nil
			},
		})
		id++
	}
	wg.Wait()
}

// warnOnce logs a condition the first time it occurs and stays silent on
// repeats, so a persistent host-side problem cannot flood the log at frame
// rate.
func (p *pipeline) warnOnce(key, format string, args ...any) {
	if _, seen := p.warned[key]; seen {
		return
	}
	p.warned[key] = struct{}{}
	log.Printf(format, args...)
}

func (p *pipeline) Settings() params.Settings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings
}

func (p *pipeline) UpdateSettings(s params.Settings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settings = s
}

func (p *pipeline) HZB() *hzb.Pyramid { return p.pyramid }

func (p *pipeline) Surface() *surface.Buffer { return p.surf }

func (p *pipeline) IndirectDiffuse() *buffer.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.indirect == nil {
		return nil
	}
	return p.indirect.Front()
}

func (p *pipeline) SampleCounts() *buffer.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.samples
}

func (p *pipeline) History() history.Store { return p.store }

func (p *pipeline) FrameTimings() StageTimings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timings
}

func (p *pipeline) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.store.Release()
	if p.gpu != nil {
		p.gpu.release()
	}
}
