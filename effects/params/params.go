// Package params holds the user-facing settings for the screen-space global
// illumination pipeline and the immutable per-frame snapshot every stage
// reads. Settings are host-tunable at any time; the orchestrator snapshots
// them once per camera per frame so no stage ever observes a mid-frame
// change.
package params

// FrameIndexWrap bounds the monotonic frame counter. The counter only feeds
// per-pixel jitter hashing, so wrapping is harmless as long as consecutive
// frames keep distinct values.
const FrameIndexWrap = 1 << 24

// MaxAccumulatedFrames caps the per-pixel temporal sample count. Higher caps
// trade response time for variance reduction; 8 keeps ghosting on moving
// content within a third of a second at 30 Hz.
const MaxAccumulatedFrames = 8

// Settings is the host-facing configuration record for the SSGI pipeline.
// All fields may be adjusted between frames; invalid values are clamped when
// the per-frame snapshot is taken rather than rejected.
type Settings struct {
	// RayCount is the number of cosine-weighted hemisphere rays marched per
	// pixel per frame.
	RayCount int

	// FineSteps/MediumSteps/CoarseSteps are the per-tier step counts of the
	// three-tier ray march: a few small steps for close contact, medium
	// steps for mid-range, coarse steps for the remainder.
	FineSteps   int
	MediumSteps int
	CoarseSteps int

	// FineStepSize/MediumStepSize/CoarseStepSize are the world-space step
	// lengths for each tier.
	FineStepSize   float32
	MediumStepSize float32
	CoarseStepSize float32

	// MaxSteps is the total step budget across all tiers.
	MaxSteps int

	// Thickness is the base depth tolerance band treating a surface as hit.
	Thickness float32

	// ThicknessGrowth is added to the tolerance each step so long rays can
	// bridge thin-surface gaps in the depth buffer.
	ThicknessGrowth float32

	// TemporalIntensity scales how strongly history is reused during
	// temporal accumulation. 0 disables history blending, 1 is the full
	// exponential moving average.
	TemporalIntensity float32

	// MaxBrightness is the HSV value clamp applied to ray-march output
	// (firefly suppression).
	MaxBrightness float32

	// DownsampleFactor scales the camera resolution to the indirect-lighting
	// resolution. 0.5 traces at quarter pixel count.
	DownsampleFactor float32

	// RotationSeed perturbs the per-pixel jitter hash. Hosts that need
	// reproducible frames can fix it; 0 is a valid seed.
	RotationSeed uint32

	// AmbientOverride forces the ray-miss fallback to evaluate the ambient
	// SH term even when reflection probes are visible.
	AmbientOverride bool

	// EnableDenoise runs the Poisson-disk spatial filter on the accumulated
	// result.
	EnableDenoise bool

	// SecondDenoisePass additionally runs the edge-aware filter and its
	// temporal stabilization re-blend.
	SecondDenoisePass bool

	// AggressiveDenoise doubles the Poisson filter and switches temporal
	// accumulation to neighborhood-clamped blending.
	AggressiveDenoise bool

	// UseBackfaceDepth marches against the host-provided back-face depth
	// buffer when present, tightening the hit interval for thin geometry.
	UseBackfaceDepth bool

	// LayerMask restricts which rendering layers contribute bounce light.
	// Zero means all layers.
	LayerMask uint32
}

// DefaultSettings returns the tuning the pipeline ships with: one ray per
// pixel at half resolution with denoising on.
func DefaultSettings() Settings {
	return Settings{
		RayCount:          1,
		FineSteps:         8,
		MediumSteps:       12,
		CoarseSteps:       12,
		FineStepSize:      0.05,
		MediumStepSize:    0.25,
		CoarseStepSize:    1.0,
		MaxSteps:          32,
		Thickness:         0.25,
		ThicknessGrowth:   0.01,
		TemporalIntensity: 1.0,
		MaxBrightness:     4.0,
		DownsampleFactor:  0.5,
		EnableDenoise:     true,
	}
}

// FrameParameters is the immutable per-frame snapshot of Settings plus the
// frame counter. Built once per camera per frame by the orchestrator and
// read-only for every stage.
type FrameParameters struct {
	RayCount int

	FineSteps   int
	MediumSteps int
	CoarseSteps int

	FineStepSize   float32
	MediumStepSize float32
	CoarseStepSize float32

	MaxSteps int

	Thickness       float32
	ThicknessGrowth float32

	TemporalIntensity float32
	MaxBrightness     float32
	DownsampleFactor  float32

	FrameIndex   uint32
	RotationSeed uint32

	AmbientOverride   bool
	EnableDenoise     bool
	SecondDenoisePass bool
	AggressiveDenoise bool
	UseBackfaceDepth  bool

	LayerMask uint32
}

// Snapshot clamps a Settings record into a valid FrameParameters value for
// the given frame index. Out-of-range inputs are pulled to the nearest valid
// value so the kernels never divide by zero or march zero-length rays.
//
// Parameters:
//   - s: the host-facing settings to snapshot
//   - frameIndex: the pipeline's monotonic frame counter
//
// Returns:
//   - FrameParameters: the clamped immutable snapshot
func Snapshot(s Settings, frameIndex uint32) FrameParameters {
	fp := FrameParameters{
		RayCount:          clampInt(s.RayCount, 1, 64),
		FineSteps:         clampInt(s.FineSteps, 1, 64),
		MediumSteps:       clampInt(s.MediumSteps, 0, 64),
		CoarseSteps:       clampInt(s.CoarseSteps, 0, 64),
		FineStepSize:      clampF(s.FineStepSize, 1e-3, 16),
		MediumStepSize:    clampF(s.MediumStepSize, 1e-3, 64),
		CoarseStepSize:    clampF(s.CoarseStepSize, 1e-3, 256),
		MaxSteps:          clampInt(s.MaxSteps, 1, 128),
		Thickness:         clampF(s.Thickness, 1e-4, 16),
		ThicknessGrowth:   clampF(s.ThicknessGrowth, 0, 1),
		TemporalIntensity: clampF(s.TemporalIntensity, 0, 1),
		MaxBrightness:     clampF(s.MaxBrightness, 1e-2, 64),
		DownsampleFactor:  clampF(s.DownsampleFactor, 0.05, 1),
		FrameIndex:        frameIndex % FrameIndexWrap,
		RotationSeed:      s.RotationSeed,
		AmbientOverride:   s.AmbientOverride,
		EnableDenoise:     s.EnableDenoise,
		SecondDenoisePass: s.SecondDenoisePass,
		AggressiveDenoise: s.AggressiveDenoise,
		UseBackfaceDepth:  s.UseBackfaceDepth,
		LayerMask:         s.LayerMask,
	}
	return fp
}

// IndirectResolution computes the reduced resolution indirect-lighting
// buffers use for a camera of the given native size: native multiplied by
// the downsample factor, floor-rounded, never below 1x1.
//
// Parameters:
//   - width, height: native camera resolution in pixels
//
// Returns:
//   - int, int: the indirect-resolution width and height
func (fp FrameParameters) IndirectResolution(width, height int) (int, int) {
	w := int(float32(width) * fp.DownsampleFactor)
	h := int(float32(height) * fp.DownsampleFactor)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// DenoiseMode packs the three denoise toggles into a comparable value so the
// history store can detect a mode flip between frames and invalidate the
// affected camera's history.
func (fp FrameParameters) DenoiseMode() uint8 {
	var m uint8
	if fp.EnableDenoise {
		m |= 1
	}
	if fp.SecondDenoisePass {
		m |= 2
	}
	if fp.AggressiveDenoise {
		m |= 4
	}
	return m
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampF(v, lo, hi float32) float32 {
	if v != v { // NaN guard: NaN settings must not reach the history chain
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
