package ssgi

import (
	"math"
	"testing"

	"github.com/Carmen-Shannon/lumen-go/effects/buffer"
	"github.com/Carmen-Shannon/lumen-go/effects/params"
)

func TestPoissonPreservesUniformField(t *testing.T) {
	st := newPlaneState(t, params.DefaultSettings(), testPlaneNrm)

	src := buffer.New(st.iw, st.ih, 3)
	fillPixels(src, [4]float32{0.7, 0.4, 0.1, 0})
	dst := buffer.New(st.iw, st.ih, 3)

	// The filter is a normalized weighted average; a constant field must come
	// out unchanged no matter how the taps rotate.
	st.poissonRows(src, dst, 0, 0, st.ih)
	assertUniform(t, dst, [3]float32{0.7, 0.4, 0.1}, 1e-5, "poisson uniform")
}

func TestPoissonBackgroundPassthrough(t *testing.T) {
	st := newPlaneState(t, params.DefaultSettings(), testPlaneNrm)
	st.depthIndirect.Fill(1)

	src := buffer.New(st.iw, st.ih, 3)
	fillPixels(src, [4]float32{0.3, 0.2, 0.1, 0})
	dst := buffer.New(st.iw, st.ih, 3)

	st.poissonRows(src, dst, 0, 0, st.ih)
	assertUniform(t, dst, [3]float32{0.3, 0.2, 0.1}, 0, "poisson background")
}

func TestPoissonRotationVariesByPass(t *testing.T) {
	st := newPlaneState(t, params.DefaultSettings(), testPlaneNrm)

	// A single bright pixel spreads differently under different tap
	// rotations; two passes over the same source must not agree everywhere.
	src := buffer.New(st.iw, st.ih, 3)
	src.SetPixel(st.iw/2, st.ih/2, [4]float32{100, 100, 100, 0})

	a := buffer.New(st.iw, st.ih, 3)
	b := buffer.New(st.iw, st.ih, 3)
	st.poissonRows(src, a, 0, 0, st.ih)
	st.poissonRows(src, b, 1, 0, st.ih)

	same := true
	for y := 0; y < st.ih && same; y++ {
		for x := 0; x < st.iw; x++ {
			if a.Pixel(x, y) != b.Pixel(x, y) {
				same = false
				break
			}
		}
	}
	if same {
		t.Error("pass index does not decorrelate the tap rotation")
	}
}

func TestEdgeAwarePreservesUniformField(t *testing.T) {
	st := newPlaneState(t, params.DefaultSettings(), testPlaneNrm)

	src := buffer.New(st.iw, st.ih, 3)
	fillPixels(src, [4]float32{0.5, 0.25, 0.125, 0})
	dst := buffer.New(st.iw, st.ih, 3)

	st.edgeAwareRows(src, dst, 0, st.ih)
	assertUniform(t, dst, [3]float32{0.5, 0.25, 0.125}, 1e-5, "edge-aware uniform")
}

func TestEdgeAwareStopsAtDepthEdge(t *testing.T) {
	st := newPlaneState(t, params.DefaultSettings(), testPlaneNrm)

	// Right half of the screen sits on a much closer surface. Taps across
	// the discontinuity fail the relative depth test, so the bright right
	// half must not bleed into the left half.
	closeD := st.depthIndirect.At(0, 0, 0) * 0.5
	for y := 0; y < st.ih; y++ {
		for x := st.iw / 2; x < st.iw; x++ {
			st.depthIndirect.Set(x, y, 0, closeD)
		}
	}

	src := buffer.New(st.iw, st.ih, 3)
	for y := 0; y < st.ih; y++ {
		for x := st.iw / 2; x < st.iw; x++ {
			src.SetPixel(x, y, [4]float32{10, 10, 10, 0})
		}
	}
	dst := buffer.New(st.iw, st.ih, 3)
	st.edgeAwareRows(src, dst, 0, st.ih)

	for y := 0; y < st.ih; y++ {
		for x := 0; x < st.iw/2; x++ {
			if p := dst.Pixel(x, y); p[0] != 0 {
				t.Fatalf("light bled across depth edge at (%d,%d): %v", x, y, p)
			}
		}
	}
}

func TestStabilizeBlendsTowardHistory(t *testing.T) {
	st := newPlaneState(t, params.DefaultSettings(), testPlaneNrm)
	e := attachHistory(t, st)
	e.Indirect.Fill(0)

	buf := buffer.New(st.iw, st.ih, 3)
	buf.Fill(1)

	st.stabilizeRows(buf, 0, st.ih)

	want := 1 - stabilizationWeight*st.fp.TemporalIntensity
	for y := 0; y < st.ih; y++ {
		for x := 0; x < st.iw; x++ {
			p := buf.Pixel(x, y)
			if math.Abs(float64(p[0]-want)) > 1e-4 {
				t.Fatalf("stabilized pixel (%d,%d) = %v, want %v", x, y, p[0], want)
			}
		}
	}
}

func TestStabilizeNoOpWithoutHistory(t *testing.T) {
	st := newPlaneState(t, params.DefaultSettings(), testPlaneNrm)

	buf := buffer.New(st.iw, st.ih, 3)
	buf.Fill(1)
	st.stabilizeRows(buf, 0, st.ih)
	assertUniform(t, buf, [3]float32{1, 1, 1}, 0, "stabilize without history")
}

func TestStabilizeNoOpAtZeroIntensity(t *testing.T) {
	s := params.DefaultSettings()
	s.TemporalIntensity = 0
	st := newPlaneState(t, s, testPlaneNrm)
	e := attachHistory(t, st)
	e.Indirect.Fill(0)

	buf := buffer.New(st.iw, st.ih, 3)
	buf.Fill(1)
	st.stabilizeRows(buf, 0, st.ih)
	assertUniform(t, buf, [3]float32{1, 1, 1}, 0, "stabilize at zero intensity")
}

func TestCompositeModulatesByAlbedo(t *testing.T) {
	st := newPlaneState(t, params.DefaultSettings(), testPlaneNrm)

	indirect := buffer.New(st.iw, st.ih, 3)
	fillPixels(indirect, [4]float32{1, 0.5, 0.25, 0})

	// No albedo plane was bound, so the capture fell back to 0.5.
	st.compositeRows(indirect, 0, st.height)

	want := [3]float32{
		testDirectC[0] + 1*0.5,
		testDirectC[1] + 0.5*0.5,
		testDirectC[2] + 0.25*0.5,
	}
	for y := 0; y < st.height; y++ {
		for x := 0; x < st.width; x++ {
			p := st.in.Color.Pixel(x, y)
			for c := 0; c < 3; c++ {
				if math.Abs(float64(p[c]-want[c])) > 1e-4 {
					t.Fatalf("composite pixel (%d,%d) = %v, want %v", x, y, p, want)
				}
			}
		}
	}
}

func TestCompositeSkipsBackground(t *testing.T) {
	st := newPlaneState(t, params.DefaultSettings(), testPlaneNrm)
	st.in.Depth.Set(3, 4, 0, 1) // one sky pixel

	indirect := buffer.New(st.iw, st.ih, 3)
	fillPixels(indirect, [4]float32{1, 1, 1, 0})

	st.compositeRows(indirect, 0, st.height)

	if p := st.in.Color.Pixel(3, 4); p != testDirectC {
		t.Errorf("background pixel modified by composite: %v", p)
	}
}

func TestSeedHistoryStoresFrameOutputs(t *testing.T) {
	st := newPlaneState(t, params.DefaultSettings(), testPlaneNrm)
	e := attachHistory(t, st)

	indirect := buffer.New(st.iw, st.ih, 3)
	fillPixels(indirect, [4]float32{0.2, 0.4, 0.6, 0})
	samples := buffer.New(st.iw, st.ih, 1)
	samples.Fill(5)

	st.seedHistory(indirect, samples)

	if got := e.Indirect.Pixel(1, 1); !near3([3]float32{got[0], got[1], got[2]}, [3]float32{0.2, 0.4, 0.6}, 0) {
		t.Errorf("history indirect = %v", got)
	}
	if got := e.SampleCount.At(2, 2, 0); got != 5 {
		t.Errorf("history sample count = %v, want 5", got)
	}
	if got := e.Depth.At(0, 0, 0); got != st.depthIndirect.At(0, 0, 0) {
		t.Errorf("history depth = %v, want %v", got, st.depthIndirect.At(0, 0, 0))
	}
	if e.DenoiseMode != st.fp.DenoiseMode() {
		t.Errorf("history denoise mode = %d, want %d", e.DenoiseMode, st.fp.DenoiseMode())
	}
}
