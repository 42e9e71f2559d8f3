package ssgi

import (
	"math"
	"testing"

	"github.com/Carmen-Shannon/lumen-go/common"
	"github.com/Carmen-Shannon/lumen-go/effects/buffer"
	"github.com/Carmen-Shannon/lumen-go/effects/params"
)

// testSettings disables denoising so frame outputs stay exactly traceable to
// the march and temporal kernels.
func testSettings() params.Settings {
	s := params.DefaultSettings()
	s.EnableDenoise = false
	return s
}

// newWallInput builds a fresh frame of the wall scene. Color is rebuilt every
// call because compositing adds into it in place, the same way a host
// re-renders direct lighting each frame.
func newWallInput(t *testing.T, cameraID uint64) *FrameInput {
	t.Helper()
	vp, _ := testMatrices(t)

	_, _, planeD, ok := common.Project(vp[:], [3]float32{0, 0, 0})
	if !ok {
		t.Fatal("wall failed to project")
	}

	depth := buffer.New(testW, testH, 1)
	depth.Fill(planeD)
	color := buffer.New(testW, testH, 3)
	fillPixels(color, testDirectC)
	normals := buffer.New(testW, testH, 3)
	fillPixels(normals, [4]float32{0, 0, 1, 0})

	return &FrameInput{
		CameraID:  cameraID,
		Depth:     depth,
		Color:     color,
		Normals:   normals,
		ViewProj:  vp,
		CameraPos: testCamPos,
		NearClip:  testNear,
		FarClip:   testFar,
		FovY:      testFovY,
	}
}

func TestRenderFrameRejectsBadInput(t *testing.T) {
	p := NewPipeline(WithSettings(testSettings()), WithComputeWorkers(2))
	defer p.Release()

	if p.RenderFrame(nil) {
		t.Error("nil input accepted")
	}
	if p.RenderFrame(&FrameInput{}) {
		t.Error("input without planes accepted")
	}

	in := newWallInput(t, 1)
	in.Depth = buffer.New(testW/2, testH/2, 1)
	if p.RenderFrame(in) {
		t.Error("mismatched depth resolution accepted")
	}

	in = newWallInput(t, 1)
	in.ViewProj = [16]float32{} // singular
	if p.RenderFrame(in) {
		t.Error("singular view-projection accepted")
	}
}

func TestRenderFrameFirstFrameStartsFresh(t *testing.T) {
	p := NewPipeline(WithSettings(testSettings()), WithComputeWorkers(2))
	defer p.Release()

	if !p.RenderFrame(newWallInput(t, 1)) {
		t.Fatal("frame rejected")
	}

	assertSamples(t, p.SampleCounts(), 1, "first frame")
	if p.IndirectDiffuse() == nil {
		t.Fatal("no indirect buffer after first frame")
	}
	if p.HZB().Levels() == 0 {
		t.Error("depth pyramid not built")
	}
	if got := p.History().Len(); got != 1 {
		t.Errorf("history holds %d cameras, want 1", got)
	}
}

func TestRenderFrameAccumulatesToCap(t *testing.T) {
	p := NewPipeline(WithSettings(testSettings()), WithComputeWorkers(2))
	defer p.Release()

	for i := 0; i < params.MaxAccumulatedFrames+4; i++ {
		if !p.RenderFrame(newWallInput(t, 7)) {
			t.Fatalf("frame %d rejected", i)
		}
	}

	assertSamples(t, p.SampleCounts(), params.MaxAccumulatedFrames, "static camera")

	ind := p.IndirectDiffuse()
	for y := 0; y < ind.Height(); y++ {
		for x := 0; x < ind.Width(); x++ {
			pix := ind.Pixel(x, y)
			for c := 0; c < 3; c++ {
				v := float64(pix[c])
				if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
					t.Fatalf("indirect pixel (%d,%d) not a sane radiance: %v", x, y, pix)
				}
			}
		}
	}

	if _, ok := p.History().Lookup(7); !ok {
		t.Error("camera lost its history slot")
	}
}

func TestRenderFrameDenoiseModeFlipResets(t *testing.T) {
	p := NewPipeline(WithSettings(testSettings()), WithComputeWorkers(2))
	defer p.Release()

	for i := 0; i < 4; i++ {
		if !p.RenderFrame(newWallInput(t, 1)) {
			t.Fatalf("frame %d rejected", i)
		}
	}
	assertSamples(t, p.SampleCounts(), 4, "before mode flip")

	s := p.Settings()
	s.EnableDenoise = true
	p.UpdateSettings(s)

	if !p.RenderFrame(newWallInput(t, 1)) {
		t.Fatal("frame after mode flip rejected")
	}
	assertSamples(t, p.SampleCounts(), 1, "after mode flip")
}

func TestRenderFrameResolutionChangeResets(t *testing.T) {
	p := NewPipeline(WithSettings(testSettings()), WithComputeWorkers(2))
	defer p.Release()

	for i := 0; i < 3; i++ {
		if !p.RenderFrame(newWallInput(t, 1)) {
			t.Fatalf("frame %d rejected", i)
		}
	}

	s := p.Settings()
	s.DownsampleFactor = 1.0
	p.UpdateSettings(s)

	if !p.RenderFrame(newWallInput(t, 1)) {
		t.Fatal("frame after resolution change rejected")
	}
	if got := p.SampleCounts().Width(); got != testW {
		t.Fatalf("indirect width = %d after downsample change, want %d", got, testW)
	}
	assertSamples(t, p.SampleCounts(), 1, "after resolution change")
}

func TestRenderFrameCompositeAddsEnergy(t *testing.T) {
	p := NewPipeline(WithSettings(testSettings()), WithComputeWorkers(2))
	defer p.Release()

	// Give rays that leave the screen something to pick up so the indirect
	// term is strictly positive.
	in := newWallInput(t, 1)
	in.Probes = []Probe{{
		Importance: 1,
		Center:     [3]float32{0, 0, 3},
		Extent:     2,
		Color:      [3]float32{1, 1, 1},
		Intensity:  4,
	}}
	if !p.RenderFrame(in) {
		t.Fatal("frame rejected")
	}

	for y := 0; y < testH; y++ {
		for x := 0; x < testW; x++ {
			pix := in.Color.Pixel(x, y)
			for c := 0; c < 3; c++ {
				if pix[c] < testDirectC[c] {
					t.Fatalf("composite removed energy at (%d,%d): %v", x, y, pix)
				}
			}
			if pix[0] <= testDirectC[0] {
				t.Fatalf("no indirect energy added at (%d,%d): %v", x, y, pix)
			}
		}
	}
}

func TestRenderFrameHistoryEviction(t *testing.T) {
	p := NewPipeline(WithSettings(testSettings()), WithComputeWorkers(2), WithHistoryCapacity(2))
	defer p.Release()

	for id := uint64(1); id <= 3; id++ {
		if !p.RenderFrame(newWallInput(t, id)) {
			t.Fatalf("camera %d rejected", id)
		}
	}

	if got := p.History().Len(); got != 2 {
		t.Fatalf("history holds %d cameras, want capacity 2", got)
	}
	if _, ok := p.History().Lookup(1); ok {
		t.Error("least recently used camera survived eviction")
	}
	if _, ok := p.History().Lookup(3); !ok {
		t.Error("most recent camera missing from history")
	}
}

func TestRenderFrameDenoisePassesRun(t *testing.T) {
	s := testSettings()
	s.EnableDenoise = true
	s.SecondDenoisePass = true
	s.AggressiveDenoise = true
	p := NewPipeline(WithSettings(s), WithComputeWorkers(2))
	defer p.Release()

	for i := 0; i < 3; i++ {
		if !p.RenderFrame(newWallInput(t, 1)) {
			t.Fatalf("frame %d rejected with full denoise chain", i)
		}
	}

	timings := p.FrameTimings()
	if timings.Total <= 0 {
		t.Error("frame timings not recorded")
	}
	if timings.GPURayMarch {
		t.Error("GPU march reported without a device")
	}
}
