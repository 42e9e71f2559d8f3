package params

import (
	"math"
	"testing"
)

func TestSnapshotClampsInvalidValues(t *testing.T) {
	s := Settings{
		RayCount:          -3,
		FineSteps:         0,
		FineStepSize:      -1,
		MaxSteps:          0,
		Thickness:         0,
		TemporalIntensity: 7,
		MaxBrightness:     -2,
		DownsampleFactor:  0,
	}
	fp := Snapshot(s, 0)

	if fp.RayCount < 1 {
		t.Errorf("RayCount = %d, want >= 1", fp.RayCount)
	}
	if fp.FineSteps < 1 || fp.MaxSteps < 1 {
		t.Errorf("step counts not clamped: fine=%d max=%d", fp.FineSteps, fp.MaxSteps)
	}
	if fp.FineStepSize <= 0 || fp.Thickness <= 0 || fp.MaxBrightness <= 0 {
		t.Errorf("scalar fields not clamped positive: %+v", fp)
	}
	if fp.TemporalIntensity != 1 {
		t.Errorf("TemporalIntensity = %v, want 1", fp.TemporalIntensity)
	}
	if fp.DownsampleFactor <= 0 {
		t.Errorf("DownsampleFactor = %v, want > 0", fp.DownsampleFactor)
	}
}

func TestSnapshotRejectsNaN(t *testing.T) {
	s := DefaultSettings()
	s.Thickness = float32(math.NaN())
	fp := Snapshot(s, 0)
	if fp.Thickness != fp.Thickness {
		t.Fatal("NaN thickness survived the snapshot")
	}
}

func TestFrameIndexWraps(t *testing.T) {
	fp := Snapshot(DefaultSettings(), FrameIndexWrap+5)
	if fp.FrameIndex != 5 {
		t.Fatalf("FrameIndex = %d, want 5", fp.FrameIndex)
	}
}

func TestIndirectResolution(t *testing.T) {
	cases := []struct {
		factor             float32
		w, h, wantW, wantH int
	}{
		{0.5, 1920, 1080, 960, 540},
		{0.5, 3, 3, 1, 1},
		{1.0, 640, 480, 640, 480},
		{0.05, 4, 4, 1, 1}, // floors to zero, clamped to 1
	}
	for _, tc := range cases {
		s := DefaultSettings()
		s.DownsampleFactor = tc.factor
		fp := Snapshot(s, 0)
		w, h := fp.IndirectResolution(tc.w, tc.h)
		if w != tc.wantW || h != tc.wantH {
			t.Errorf("factor %v on %dx%d: got %dx%d, want %dx%d",
				tc.factor, tc.w, tc.h, w, h, tc.wantW, tc.wantH)
		}
	}
}

func TestDenoiseModePacksToggles(t *testing.T) {
	s := DefaultSettings()
	s.EnableDenoise = true
	s.SecondDenoisePass = false
	s.AggressiveDenoise = true
	a := Snapshot(s, 0).DenoiseMode()

	s.AggressiveDenoise = false
	b := Snapshot(s, 0).DenoiseMode()

	if a == b {
		t.Fatal("denoise mode did not change when a toggle flipped")
	}
}
