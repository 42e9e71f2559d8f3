package ssgi

import (
	"math"
	"testing"

	"github.com/Carmen-Shannon/lumen-go/common"
	"github.com/Carmen-Shannon/lumen-go/effects/buffer"
	"github.com/Carmen-Shannon/lumen-go/effects/history"
	"github.com/Carmen-Shannon/lumen-go/effects/params"
)

// attachHistory gives the state a valid history entry for a static camera:
// the previous frame saw the same wall through the same matrices.
func attachHistory(t *testing.T, st *frameState) *history.Entry {
	t.Helper()
	e := &history.Entry{CameraID: st.in.CameraID, Valid: true}
	e.EnsureBuffers(st.width, st.height, st.iw, st.ih)
	e.PrevViewProj = st.in.ViewProj
	e.PrevInvViewProj = st.invViewProj
	e.PrevCameraPos = st.in.CameraPos
	e.Depth.CopyFrom(st.depthIndirect)
	st.entry = e
	return e
}

func runTemporal(st *frameState, raw *buffer.Buffer) (*buffer.Buffer, *buffer.Buffer) {
	out := buffer.New(st.iw, st.ih, 3)
	samples := buffer.New(st.iw, st.ih, 1)
	st.temporalRows(raw, out, samples, 0, st.ih)
	return out, samples
}

func assertUniform(t *testing.T, b *buffer.Buffer, want [3]float32, tol float64, what string) {
	t.Helper()
	for y := 0; y < b.Height(); y++ {
		for x := 0; x < b.Width(); x++ {
			p := b.Pixel(x, y)
			for c := 0; c < 3; c++ {
				if math.Abs(float64(p[c]-want[c])) > tol {
					t.Fatalf("%s: pixel (%d,%d) = %v, want %v", what, x, y, p, want)
				}
			}
		}
	}
}

func assertSamples(t *testing.T, samples *buffer.Buffer, want float32, what string) {
	t.Helper()
	for y := 0; y < samples.Height(); y++ {
		for x := 0; x < samples.Width(); x++ {
			if got := samples.At(x, y, 0); got != want {
				t.Fatalf("%s: sample count (%d,%d) = %v, want %v", what, x, y, got, want)
			}
		}
	}
}

func TestTemporalFirstFrameIsRaw(t *testing.T) {
	st := newPlaneState(t, params.DefaultSettings(), testPlaneNrm)
	// No entry at all: a camera's very first frame.
	raw := buffer.New(st.iw, st.ih, 3)
	fillPixels(raw, [4]float32{1, 2, 3, 0})

	out, samples := runTemporal(st, raw)
	assertUniform(t, out, [3]float32{1, 2, 3}, 0, "first frame")
	assertSamples(t, samples, 1, "first frame")
}

func TestTemporalBlendFollowsSampleCount(t *testing.T) {
	st := newPlaneState(t, params.DefaultSettings(), testPlaneNrm)
	e := attachHistory(t, st)
	e.Indirect.Fill(0)
	e.SampleCount.Fill(3)

	raw := buffer.New(st.iw, st.ih, 3)
	raw.Fill(1)

	// Three accumulated samples plus this one: alpha = 1/4.
	out, samples := runTemporal(st, raw)
	assertUniform(t, out, [3]float32{0.25, 0.25, 0.25}, 1e-4, "ema blend")
	assertSamples(t, samples, 4, "ema blend")
}

func TestTemporalSampleCountCaps(t *testing.T) {
	st := newPlaneState(t, params.DefaultSettings(), testPlaneNrm)
	e := attachHistory(t, st)
	e.Indirect.Fill(0)
	e.SampleCount.Fill(20) // stale count far above the cap

	raw := buffer.New(st.iw, st.ih, 3)
	raw.Fill(1)

	out, samples := runTemporal(st, raw)
	want := float32(1) / params.MaxAccumulatedFrames
	assertUniform(t, out, [3]float32{want, want, want}, 1e-4, "capped blend")
	assertSamples(t, samples, params.MaxAccumulatedFrames, "capped blend")
}

func TestTemporalIntensityZeroPassesRawThrough(t *testing.T) {
	s := params.DefaultSettings()
	s.TemporalIntensity = 0
	st := newPlaneState(t, s, testPlaneNrm)
	e := attachHistory(t, st)
	e.Indirect.Fill(9)
	e.SampleCount.Fill(5)

	raw := buffer.New(st.iw, st.ih, 3)
	raw.Fill(1)

	out, _ := runTemporal(st, raw)
	assertUniform(t, out, [3]float32{1, 1, 1}, 0, "intensity zero")
}

func TestTemporalMotionVectorPath(t *testing.T) {
	st := newPlaneState(t, params.DefaultSettings(), testPlaneNrm)
	e := attachHistory(t, st)
	e.Indirect.Fill(0)
	e.SampleCount.Fill(3)

	// Zero motion vectors must reproduce the static-camera blend exactly.
	st.in.MotionVectors = buffer.New(testW, testH, 2)

	raw := buffer.New(st.iw, st.ih, 3)
	raw.Fill(1)

	out, samples := runTemporal(st, raw)
	assertUniform(t, out, [3]float32{0.25, 0.25, 0.25}, 1e-4, "motion vector blend")
	assertSamples(t, samples, 4, "motion vector blend")
}

func TestTemporalCameraTeleportResets(t *testing.T) {
	st := newPlaneState(t, params.DefaultSettings(), testPlaneNrm)
	e := attachHistory(t, st)
	e.Indirect.Fill(9)
	e.SampleCount.Fill(5)

	// Last frame the camera sat 45 units further back. The history depth then
	// reconstructs world positions nowhere near today's wall, which the
	// disocclusion test must catch.
	var view, proj [16]float32
	common.LookAt(view[:], 0, 0, 50, 0, 0, 0, 0, 1, 0)
	common.Perspective(proj[:], testFovY, testAspect, testNear, testFar)
	common.Mul4(e.PrevViewProj[:], proj[:], view[:])
	if !common.Invert4(e.PrevInvViewProj[:], e.PrevViewProj[:]) {
		t.Fatal("teleported view-projection is singular")
	}

	raw := buffer.New(st.iw, st.ih, 3)
	raw.Fill(1)

	out, samples := runTemporal(st, raw)
	assertUniform(t, out, [3]float32{1, 1, 1}, 0, "teleport reset")
	assertSamples(t, samples, 1, "teleport reset")
}

func TestTemporalBackgroundResets(t *testing.T) {
	st := newPlaneState(t, params.DefaultSettings(), testPlaneNrm)
	e := attachHistory(t, st)
	e.Indirect.Fill(9)
	e.SampleCount.Fill(5)

	st.depthIndirect.Fill(1) // sky this frame

	raw := buffer.New(st.iw, st.ih, 3)
	raw.Fill(0.5)

	out, samples := runTemporal(st, raw)
	assertUniform(t, out, [3]float32{0.5, 0.5, 0.5}, 0, "background reset")
	assertSamples(t, samples, 1, "background reset")
}

func TestTemporalHistoryBackgroundResets(t *testing.T) {
	st := newPlaneState(t, params.DefaultSettings(), testPlaneNrm)
	e := attachHistory(t, st)
	e.Indirect.Fill(9)
	e.SampleCount.Fill(5)
	e.Depth.Fill(1) // last frame saw sky here

	raw := buffer.New(st.iw, st.ih, 3)
	raw.Fill(0.5)

	out, samples := runTemporal(st, raw)
	assertUniform(t, out, [3]float32{0.5, 0.5, 0.5}, 0, "history background reset")
	assertSamples(t, samples, 1, "history background reset")
}

func TestTemporalAggressiveClampsHistory(t *testing.T) {
	s := params.DefaultSettings()
	s.AggressiveDenoise = true
	st := newPlaneState(t, s, testPlaneNrm)
	e := attachHistory(t, st)
	e.Indirect.Fill(10) // badly stale history
	e.SampleCount.Fill(3)

	raw := buffer.New(st.iw, st.ih, 3)
	raw.Fill(1)

	// The neighborhood box of a uniform raw field is [1,1], so the clamped
	// history collapses onto the raw value regardless of the blend weight.
	out, _ := runTemporal(st, raw)
	assertUniform(t, out, [3]float32{1, 1, 1}, 1e-5, "aggressive clamp")
}

func TestClampToNeighborhoodBox(t *testing.T) {
	raw := buffer.New(4, 4, 3)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			v := float32(x + y)
			raw.SetPixel(x, y, [4]float32{v, v, v, 0})
		}
	}

	// The 3x3 box around (1,1) spans values 0..4.
	got := clampToNeighborhood(raw, 1, 1, [4]float32{10, -3, 2, 0})
	if got[0] != 4 || got[1] != 0 || got[2] != 2 {
		t.Errorf("clamped history = %v, want [4 0 2]", got)
	}
}

func TestDisocclusionToleranceGrazingAngles(t *testing.T) {
	st := newPlaneState(t, params.DefaultSettings(), testPlaneNrm)

	headOn := st.disocclusionTolerance(5, 1)
	grazing := st.disocclusionTolerance(5, 0.05)
	if grazing <= headOn {
		t.Errorf("grazing tolerance %v not wider than head-on %v", grazing, headOn)
	}
	// The cosine is floored, so pathological normals cannot blow it up
	// beyond 5x the head-on footprint.
	if grazing > headOn*5.01 {
		t.Errorf("grazing tolerance %v exceeds the cosine floor bound", grazing)
	}
}
