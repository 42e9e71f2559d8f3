package ssgi

import (
	"github.com/Carmen-Shannon/lumen-go/effects/buffer"
	"github.com/Carmen-Shannon/lumen-go/effects/surface"
)

// FrameInput carries everything the host hands the pipeline for one camera
// frame. Depth and Color are required; every other plane is optional and the
// pipeline degrades gracefully when one is missing (reconstructed normals,
// world-space reprojection instead of motion vectors, no back-face test).
type FrameInput struct {
	// CameraID is a stable host-side identity; temporal history is keyed by
	// it across frames.
	CameraID uint64

	// Depth is the device-space depth buffer at native resolution
	// (1 channel, 0=near .. 1=far, 1 meaning background).
	Depth *buffer.Buffer

	// BackfaceDepth optionally provides a back-face depth render at native
	// resolution; when present and enabled in the settings the march treats
	// the front/back interval as solid geometry.
	BackfaceDepth *buffer.Buffer

	// Color is the direct-lit scene color at native resolution (3 channels).
	// The composite stage adds indirect diffuse into it in place.
	Color *buffer.Buffer

	// MotionVectors optionally provides per-pixel UV deltas to last frame's
	// screen position (2 channels, native resolution). When absent, history
	// reprojection falls back to reprojecting the reconstructed world
	// position through last frame's view-projection matrix.
	MotionVectors *buffer.Buffer

	// Normals and Albedo optionally pass through deferred G-buffer planes
	// (3 channels, native resolution).
	Normals *buffer.Buffer
	Albedo  *buffer.Buffer

	// MaterialFlags optionally provides per-pixel material and layer flags,
	// row-major at native resolution.
	MaterialFlags []surface.Flags

	// ViewProj is the camera's view-projection matrix, column-major.
	ViewProj [16]float32

	// CameraPos is the camera's world-space position.
	CameraPos [3]float32

	// NearClip and FarClip linearize device depth for thickness tests.
	// Non-positive values fall back to 0.1 / 1000.
	NearClip float32
	FarClip  float32

	// FovY is the vertical field of view in radians, used to size the
	// disocclusion tolerance to one pixel's world footprint.
	FovY float32

	// AmbientSH holds 27 floats (9 SH coefficients x RGB) for the ray-miss
	// ambient fallback; nil or short means no ambient contribution.
	AmbientSH []float32

	// Probes lists the reflection probes visible to this camera, the
	// preferred ray-miss fallback.
	Probes []Probe

	// ProbeCamera marks a reflection-probe capture pass; its indirect
	// contribution is scaled down to dampen feedback between probes.
	ProbeCamera bool
}

// clips returns the sanitized near/far pair.
func (in *FrameInput) clips() (float32, float32) {
	near, far := in.NearClip, in.FarClip
	if near <= 0 {
		near = 0.1
	}
	if far <= near {
		far = near + 1000
	}
	return near, far
}
