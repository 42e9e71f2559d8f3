package ssgi

import (
	"github.com/cogentcore/webgpu/wgpu"

	"github.com/Carmen-Shannon/lumen-go/common"
	"github.com/Carmen-Shannon/lumen-go/effects/buffer"
	"github.com/Carmen-Shannon/lumen-go/effects/hzb"
	"github.com/Carmen-Shannon/lumen-go/gpu"
)

// gpuReduceParams mirrors the ReduceParams uniform in hzbReduceWGSL.
type gpuReduceParams struct {
	SrcWidth  uint32
	SrcHeight uint32
	DstWidth  uint32
	DstHeight uint32
	SrcOffset uint32
	DstOffset uint32
	Pad0      uint32
	Pad1      uint32
}

// gpuMarchParams mirrors the MarchParams uniform in rayMarchWGSL. Field
// order and 16-byte array strides must match the WGSL layout exactly.
type gpuMarchParams struct {
	ViewProj    [16]float32
	InvViewProj [16]float32
	CameraPos   [4]float32

	Width  uint32
	Height uint32
	IW     uint32
	IH     uint32

	RayCount     uint32
	MaxSteps     uint32
	FrameIndex   uint32
	RotationSeed uint32

	FineSteps   uint32
	MediumSteps uint32
	CoarseSteps uint32
	HistValid   uint32

	FineSize   float32
	MediumSize float32
	CoarseSize float32
	Thickness  float32

	ThicknessGrowth float32
	MaxBrightness   float32
	NearClip        float32
	FarClip         float32

	LayerMask       uint32
	ProbeCount      uint32
	ProbeCamera     uint32
	AmbientOverride uint32

	MipCount uint32
	Pad0     uint32
	Pad1     uint32
	Pad2     uint32

	MipInfo   [10][4]uint32
	AmbientSH [7][4]float32
}

// gpuProbe mirrors the GpuProbe storage struct in rayMarchWGSL.
type gpuProbe struct {
	CenterExtent   [4]float32
	ColorIntensity [4]float32
	Importance     [4]float32
}

// gpuRunner drives the GPU compute path: Hi-Z reduction and the hemisphere
// march. Any dispatch failure disables the runner for the rest of the
// session and the pipeline falls back to the CPU kernels.
type gpuRunner struct {
	dev  gpu.Device
	warn func(key, format string, args ...any)

	registered bool
	failed     bool

	depthBuf   *wgpu.Buffer
	depthSize  uint64
	levelBufs  []*wgpu.Buffer
	levelDims  [][2]int
	reduceUBOs []*wgpu.Buffer
	pyramidBuf *wgpu.Buffer
	pyrFloats  int

	paramsBuf  *wgpu.Buffer
	normalsBuf *wgpu.Buffer
	directBuf  *wgpu.Buffer
	flagsBuf   *wgpu.Buffer
	historyBuf *wgpu.Buffer
	probesBuf  *wgpu.Buffer
	outBuf     *wgpu.Buffer

	normalsSize uint64
	directSize  uint64
	flagsSize   uint64
	historySize uint64
	probesSize  uint64
	outSize     uint64

	flagsScratch []uint32
}

func newGPURunner(dev gpu.Device, warn func(key, format string, args ...any)) *gpuRunner {
	return &gpuRunner{dev: dev, warn: warn}
}

// fail records a permanent GPU-path failure and logs it once.
func (g *gpuRunner) fail(err error) bool {
	g.failed = true
	g.warn("gpu", "[SSGI] GPU path disabled, using CPU kernels: %v", err)
	return false
}

func (g *gpuRunner) ensureRegistered() error {
	if g.registered {
		return nil
	}
	if err := g.dev.RegisterComputePipeline(hzbReducePipelineKey, hzbReduceWGSL, "main"); err != nil {
		return err
	}
	if err := g.dev.RegisterComputePipeline(rayMarchPipelineKey, rayMarchWGSL, "main"); err != nil {
		return err
	}
	g.registered = true
	return nil
}

// ensureBuffer (re)allocates a storage buffer when the requested size grew.
func (g *gpuRunner) ensureBuffer(buf **wgpu.Buffer, size *uint64, label string, want uint64) error {
	if *buf != nil && *size >= want {
		return nil
	}
	if *buf != nil {
		(*buf).Release()
		*buf = nil
	}
	b, err := g.dev.CreateStorageBuffer(label, want)
	if err != nil {
		return err
	}
	*buf = b
	*size = want
	return nil
}

// ensurePyramidBuffers sizes the per-level reduce buffers and the
// concatenated pyramid buffer for a native depth resolution.
func (g *gpuRunner) ensurePyramidBuffers(nativeW, nativeH int) error {
	baseW, baseH := nativeW/2, nativeH/2
	if baseW < 1 {
		baseW = 1
	}
	if baseH < 1 {
		baseH = 1
	}
	count := hzb.MipCount(baseW, baseH)

	dims := make([][2]int, count)
	w, h := baseW, baseH
	total := 0
	for i := 0; i < count; i++ {
		dims[i] = [2]int{w, h}
		total += w * h
		w = max(w/2, 1)
		h = max(h/2, 1)
	}

	same := len(g.levelDims) == count
	if same {
		for i := range dims {
			if g.levelDims[i] != dims[i] {
				same = false
				break
			}
		}
	}
	if same && g.pyramidBuf != nil {
		return nil
	}

	for _, b := range g.levelBufs {
		b.Release()
	}
	for _, b := range g.reduceUBOs {
		b.Release()
	}
	if g.pyramidBuf != nil {
		g.pyramidBuf.Release()
		g.pyramidBuf = nil
	}
	g.levelBufs = make([]*wgpu.Buffer, count)
	g.reduceUBOs = make([]*wgpu.Buffer, count)
	g.levelDims = dims
	g.pyrFloats = total

	for i := 0; i < count; i++ {
		b, err := g.dev.CreateStorageBuffer("HZB Level", uint64(dims[i][0]*dims[i][1]*4))
		if err != nil {
			return err
		}
		g.levelBufs[i] = b
		u, err := g.dev.CreateUniformBuffer("HZB Reduce Params", uint64(len(common.StructToBytes(&gpuReduceParams{}))))
		if err != nil {
			return err
		}
		g.reduceUBOs[i] = u
	}

	pb, err := g.dev.CreateStorageBuffer("HZB Pyramid", uint64(total*4))
	if err != nil {
		return err
	}
	g.pyramidBuf = pb
	return nil
}

// buildHZB runs the min-reduce chain on the GPU and reads the mips back into
// the CPU pyramid, which stays the source of truth for the other stages.
// Returns false when the CPU reduce should run instead.
func (g *gpuRunner) buildHZB(pyr *hzb.Pyramid, depth *buffer.Buffer) bool {
	if g.failed || depth == nil {
		return false
	}
	if err := g.ensureRegistered(); err != nil {
		return g.fail(err)
	}

	nativeW, nativeH := depth.Width(), depth.Height()
	if err := g.ensurePyramidBuffers(nativeW, nativeH); err != nil {
		return g.fail(err)
	}
	if err := g.ensureBuffer(&g.depthBuf, &g.depthSize, "Camera Depth", uint64(nativeW*nativeH*4)); err != nil {
		return g.fail(err)
	}

	g.dev.Upload(g.depthBuf, common.SliceToBytes(depth.Data()))

	// Per-level uniforms are uploaded before the batched command buffer is
	// submitted, so each dispatch needs its own buffer.
	srcW, srcH := nativeW, nativeH
	for i, dim := range g.levelDims {
		rp := gpuReduceParams{
			SrcWidth:  uint32(srcW),
			SrcHeight: uint32(srcH),
			DstWidth:  uint32(dim[0]),
			DstHeight: uint32(dim[1]),
		}
		g.dev.Upload(g.reduceUBOs[i], common.StructToBytes(&rp))
		srcW, srcH = dim[0], dim[1]
	}

	if err := g.dev.BeginComputeFrame(); err != nil {
		return g.fail(err)
	}
	src := g.depthBuf
	for i, dim := range g.levelDims {
		err := g.dev.DispatchCompute(hzbReducePipelineKey,
			[]*wgpu.Buffer{g.reduceUBOs[i], src, g.levelBufs[i]},
			[3]uint32{uint32((dim[0] + 7) / 8), uint32((dim[1] + 7) / 8), 1})
		if err != nil {
			g.dev.EndComputeFrame()
			return g.fail(err)
		}
		src = g.levelBufs[i]
	}

	// Pack the levels into the concatenated pyramid buffer; the march binds
	// it as a single mip chain and the readback fills the CPU pyramid.
	var offset uint64
	for i, dim := range g.levelDims {
		size := uint64(dim[0] * dim[1] * 4)
		if err := g.dev.CopyBuffer(g.levelBufs[i], g.pyramidBuf, 0, offset, size); err != nil {
			g.dev.EndComputeFrame()
			return g.fail(err)
		}
		offset += size
	}
	g.dev.EndComputeFrame()

	data, err := g.dev.ReadBuffer(g.pyramidBuf, uint64(g.pyrFloats*4))
	if err != nil {
		return g.fail(err)
	}
	floats := common.BytesToFloats(data)

	pyr.Prepare(nativeW, nativeH)
	cursor := 0
	for i := 0; i < pyr.Levels(); i++ {
		lv := pyr.Level(i)
		n := lv.Width() * lv.Height()
		copy(lv.Data(), floats[cursor:cursor+n])
		cursor += n
	}
	return true
}

// rayMarch runs the hemisphere gather on the GPU and reads the result back
// into out. Requires buildHZB to have run this frame so the depth and
// pyramid buffers are current; returns false otherwise.
func (g *gpuRunner) rayMarch(st *frameState, out *buffer.Buffer) bool {
	if g.failed || g.pyramidBuf == nil || g.depthBuf == nil {
		return false
	}

	iw, ih := st.iw, st.ih
	planeSize := uint64(iw * ih * 3 * 4)
	if err := g.ensureBuffer(&g.normalsBuf, &g.normalsSize, "Surface Normals", planeSize); err != nil {
		return g.fail(err)
	}
	if err := g.ensureBuffer(&g.directBuf, &g.directSize, "Surface Direct", planeSize); err != nil {
		return g.fail(err)
	}
	if err := g.ensureBuffer(&g.flagsBuf, &g.flagsSize, "Surface Flags", uint64(iw*ih*4)); err != nil {
		return g.fail(err)
	}
	if err := g.ensureBuffer(&g.outBuf, &g.outSize, "Indirect Output", planeSize); err != nil {
		return g.fail(err)
	}

	if g.paramsBuf == nil {
		var p gpuMarchParams
		buf, err := g.dev.CreateUniformBuffer("March Params", uint64(len(common.StructToBytes(&p))))
		if err != nil {
			return g.fail(err)
		}
		g.paramsBuf = buf
	}

	// History color; a single dummy pixel when no valid history exists.
	histValid := st.entry != nil && st.entry.Valid && st.entry.Color != nil
	histBytes := []byte{0, 0, 0, 0}
	if histValid {
		histBytes = common.SliceToBytes(st.entry.Color.Data())
	}
	if err := g.ensureBuffer(&g.historyBuf, &g.historySize, "History Color", uint64(len(histBytes))); err != nil {
		return g.fail(err)
	}

	// Probe table; at least one zeroed entry so the binding is never empty.
	probes := make([]gpuProbe, max(len(st.in.Probes), 1))
	for i, p := range st.in.Probes {
		probes[i] = gpuProbe{
			CenterExtent:   [4]float32{p.Center[0], p.Center[1], p.Center[2], p.Extent},
			ColorIntensity: [4]float32{p.Color[0], p.Color[1], p.Color[2], p.Intensity},
			Importance:     [4]float32{float32(p.Importance), 0, 0, 0},
		}
	}
	probeBytes := common.SliceToBytes(probes)
	if err := g.ensureBuffer(&g.probesBuf, &g.probesSize, "Probes", uint64(len(probeBytes))); err != nil {
		return g.fail(err)
	}

	mp := gpuMarchParams{
		ViewProj:        st.in.ViewProj,
		InvViewProj:     st.invViewProj,
		CameraPos:       [4]float32{st.in.CameraPos[0], st.in.CameraPos[1], st.in.CameraPos[2], 0},
		Width:           uint32(st.width),
		Height:          uint32(st.height),
		IW:              uint32(iw),
		IH:              uint32(ih),
		RayCount:        uint32(st.fp.RayCount),
		MaxSteps:        uint32(st.fp.MaxSteps),
		FrameIndex:      st.fp.FrameIndex,
		RotationSeed:    st.fp.RotationSeed,
		FineSteps:       uint32(st.fp.FineSteps),
		MediumSteps:     uint32(st.fp.MediumSteps),
		CoarseSteps:     uint32(st.fp.CoarseSteps),
		FineSize:        st.fp.FineStepSize,
		MediumSize:      st.fp.MediumStepSize,
		CoarseSize:      st.fp.CoarseStepSize,
		Thickness:       st.fp.Thickness,
		ThicknessGrowth: st.fp.ThicknessGrowth,
		MaxBrightness:   st.fp.MaxBrightness,
		NearClip:        st.near,
		FarClip:         st.far,
		LayerMask:       st.fp.LayerMask,
		ProbeCount:      uint32(len(st.in.Probes)),
		MipCount:        uint32(len(g.levelDims)),
	}
	if histValid {
		mp.HistValid = 1
	}
	if st.in.ProbeCamera {
		mp.ProbeCamera = 1
	}
	if st.fp.AmbientOverride {
		mp.AmbientOverride = 1
	}
	var offset uint32
	for i, dim := range g.levelDims {
		mp.MipInfo[i] = [4]uint32{offset, uint32(dim[0]), uint32(dim[1]), 0}
		offset += uint32(dim[0] * dim[1])
	}
	for i := 0; i < 27 && i < len(st.in.AmbientSH); i++ {
		mp.AmbientSH[i/4][i%4] = st.in.AmbientSH[i]
	}

	g.dev.Upload(g.paramsBuf, common.StructToBytes(&mp))
	g.dev.Upload(g.normalsBuf, common.SliceToBytes(st.surf.Normal.Data()))
	g.dev.Upload(g.directBuf, common.SliceToBytes(st.surf.Direct.Data()))
	g.dev.Upload(g.historyBuf, histBytes)
	g.dev.Upload(g.probesBuf, probeBytes)

	if cap(g.flagsScratch) < iw*ih {
		g.flagsScratch = make([]uint32, iw*ih)
	}
	flags := g.flagsScratch[:iw*ih]
	for i := range flags {
		flags[i] = uint32(st.surf.Flags[i])
	}
	g.dev.Upload(g.flagsBuf, common.SliceToBytes(flags))

	if err := g.dev.BeginComputeFrame(); err != nil {
		return g.fail(err)
	}
	err := g.dev.DispatchCompute(rayMarchPipelineKey,
		[]*wgpu.Buffer{
			g.paramsBuf, g.depthBuf, g.pyramidBuf, g.normalsBuf,
			g.directBuf, g.flagsBuf, g.historyBuf, g.probesBuf, g.outBuf,
		},
		[3]uint32{uint32((iw + 7) / 8), uint32((ih + 7) / 8), 1})
	if err != nil {
		g.dev.EndComputeFrame()
		return g.fail(err)
	}
	g.dev.EndComputeFrame()

	data, err := g.dev.ReadBuffer(g.outBuf, planeSize)
	if err != nil {
		return g.fail(err)
	}
	copy(out.Data(), common.BytesToFloats(data))
	return true
}

func (g *gpuRunner) release() {
	bufs := []*wgpu.Buffer{
		g.depthBuf, g.pyramidBuf, g.paramsBuf, g.normalsBuf,
		g.directBuf, g.flagsBuf, g.historyBuf, g.probesBuf, g.outBuf,
	}
	for _, b := range bufs {
		if b != nil {
			b.Release()
		}
	}
	for _, b := range g.levelBufs {
		b.Release()
	}
	for _, b := range g.reduceUBOs {
		b.Release()
	}
	g.depthBuf, g.pyramidBuf, g.paramsBuf = nil, nil, nil
	g.normalsBuf, g.directBuf, g.flagsBuf = nil, nil, nil
	g.historyBuf, g.probesBuf, g.outBuf = nil, nil, nil
	g.levelBufs, g.reduceUBOs = nil, nil
}
