// Package surface captures the per-pixel attributes the ray marcher shades
// with: world-space normal, diffuse albedo, direct lighting, and material
// flags. When the host renders deferred, its G-buffer planes are passed
// through; otherwise normals are reconstructed from depth derivatives and
// albedo falls back to a neutral diffuse term. Capture runs once per frame
// at indirect resolution and the result is read-only afterward.
package surface

import (
	"github.com/Carmen-Shannon/lumen-go/common"
	"github.com/Carmen-Shannon/lumen-go/effects/buffer"
)

// Flags encodes a pixel's material toggles in the low 16 bits and its
// rendering-layer bits in the high 16 bits.
type Flags uint32

const (
	// FlagSpecularSetup marks pixels using the specular material setup.
	FlagSpecularSetup Flags = 1 << 0

	// FlagReceiveShadows marks pixels that receive shadows.
	FlagReceiveShadows Flags = 1 << 1

	// FlagSpecularHighlights marks pixels with specular highlights enabled.
	FlagSpecularHighlights Flags = 1 << 2

	// LayerShift is the bit offset of the rendering-layer field.
	LayerShift = 16
)

// MakeFlags builds a Flags value from material toggles and a rendering
// layer bit set.
//
// Parameters:
//   - toggles: the low-bit material toggles
//   - layers: the rendering-layer bits (up to 16)
//
// Returns:
//   - Flags: the packed value
func MakeFlags(toggles Flags, layers uint16) Flags {
	return (toggles & 0xFFFF) | Flags(uint32(layers)<<LayerShift)
}

// Layers extracts the rendering-layer bits. Untagged pixels (zero layer
// field) report layer 1 so they participate in any mask.
func (f Flags) Layers() uint32 {
	bits := uint32(f) >> LayerShift
	if bits == 0 {
		return 1
	}
	return bits
}

// MatchesMask reports whether a pixel on these layers contributes under the
// given rendering-layer mask. A zero mask admits everything.
func (f Flags) MatchesMask(mask uint32) bool {
	if mask == 0 {
		return true
	}
	return f.Layers()&mask != 0
}

// CaptureInput carries the host planes Capture reads. Depth and Color are
// required; the G-buffer planes are optional and enable the deferred path.
type CaptureInput struct {
	// Depth is the device-space camera depth buffer at native resolution.
	Depth *buffer.Buffer

	// Color is the direct-lit scene color at native resolution.
	Color *buffer.Buffer

	// Normals optionally provides world-space normals (3 channels, native
	// resolution) from a deferred G-buffer.
	Normals *buffer.Buffer

	// Albedo optionally provides diffuse albedo (3 channels, native
	// resolution) from a deferred G-buffer.
	Albedo *buffer.Buffer

	// Flags optionally provides per-pixel material flags in native
	// resolution row-major order (length Depth.Width()*Depth.Height()).
	Flags []Flags

	// InvViewProj is the current frame's inverse view-projection matrix,
	// used by the normal reconstruction fallback.
	InvViewProj [16]float32

	// CameraPos orients reconstructed normals toward the viewer.
	CameraPos [3]float32
}

// fallbackAlbedo is the neutral diffuse term used when the host provides no
// albedo plane. Using the lit color instead would double-count lighting.
const fallbackAlbedo = 0.5

// Buffer holds the captured surface attributes at indirect resolution.
type Buffer struct {
	width  int
	height int

	// Normal holds world-space normals (3 channels).
	Normal *buffer.Buffer

	// Albedo holds diffuse albedo (3 channels).
	Albedo *buffer.Buffer

	// Direct holds the direct lighting captured for hit shading
	// (3 channels).
	Direct *buffer.Buffer

	// Flags holds per-pixel material flags, row-major.
	Flags []Flags
}

// NewBuffer creates an empty surface buffer. Planes are allocated on the
// first Capture and reused until the resolution changes.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Width returns the capture width in pixels.
func (b *Buffer) Width() int { return b.width }

// Height returns the capture height in pixels.
func (b *Buffer) Height() int { return b.height }

// FlagsAt returns the material flags for the pixel at (x, y), clamped to
// the buffer edges.
func (b *Buffer) FlagsAt(x, y int) Flags {
	if b.width == 0 || b.height == 0 {
		return 0
	}
	if x < 0 {
		x = 0
	}
	if x >= b.width {
		x = b.width - 1
	}
	if y < 0 {
		y = 0
	}
	if y >= b.height {
		y = b.height - 1
	}
	return b.Flags[y*b.width+x]
}

// Capture gathers surface attributes at the given indirect resolution.
// Returns false without touching the buffer when a required input plane is
// unavailable this frame, so the caller can skip the stage cleanly.
//
// Parameters:
//   - in: the host planes and matrices for this frame
//   - width, height: the indirect resolution to capture at
//
// Returns:
//   - bool: true if the capture ran
func (b *Buffer) Capture(in CaptureInput, width, height int) bool {
	if in.Depth == nil || in.Color == nil {
		return false
	}
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	b.allocate(width, height)

	nativeW := in.Depth.Width()
	flagsUsable := len(in.Flags) == nativeW*in.Depth.Height()

	for y := 0; y < height; y++ {
		v := (float32(y) + 0.5) / float32(height)
		for x := 0; x < width; x++ {
			u := (float32(x) + 0.5) / float32(width)

			// Direct lighting is always the lit scene color.
			b.Direct.SetPixel(x, y, in.Color.SamplePixel(u, v))

			if in.Albedo != nil {
				b.Albedo.SetPixel(x, y, in.Albedo.SamplePixel(u, v))
			} else {
				b.Albedo.SetPixel(x, y, [4]float32{fallbackAlbedo, fallbackAlbedo, fallbackAlbedo, 0})
			}

			var n [3]float32
			if in.Normals != nil {
				p := in.Normals.SamplePixel(u, v)
				n = common.Normalize3([3]float32{p[0], p[1], p[2]})
			} else {
				n = reconstructNormal(in, u, v, width, height)
			}
			b.Normal.SetPixel(x, y, [4]float32{n[0], n[1], n[2], 0})

			if flagsUsable {
				nx := int(u * float32(nativeW))
				ny := int(v * float32(in.Depth.Height()))
				if nx >= nativeW {
					nx = nativeW - 1
				}
				if ny >= in.Depth.Height() {
					ny = in.Depth.Height() - 1
				}
				b.Flags[y*width+x] = in.Flags[ny*nativeW+nx]
			} else {
				b.Flags[y*width+x] = 0
			}
		}
	}
	return true
}

// reconstructNormal derives a world-space normal from depth derivatives:
// unproject the pixel and its +x/+y neighbors, take the cross product of the
// tangent deltas, and orient the result toward the camera.
func reconstructNormal(in CaptureInput, u, v float32, width, height int) [3]float32 {
	du := 1.0 / float32(width)
	dv := 1.0 / float32(height)

	d0 := in.Depth.Sample(u, v, 0)
	dx := in.Depth.Sample(u+du, v, 0)
	dy := in.Depth.Sample(u, v+dv, 0)

	p0 := common.Unproject(in.InvViewProj[:], u, v, d0)
	px := common.Unproject(in.InvViewProj[:], u+du, v, dx)
	py := common.Unproject(in.InvViewProj[:], u, v+dv, dy)

	n := common.Cross3(common.Sub3(px, p0), common.Sub3(py, p0))
	n = common.Normalize3(n)

	toCamera := common.Sub3(in.CameraPos, p0)
	if common.Dot3(n, toCamera) < 0 {
		n = common.Scale3(n, -1)
	}
	return n
}

func (b *Buffer) allocate(width, height int) {
	if b.width == width && b.height == height && b.Normal != nil {
		return
	}
	b.width = width
	b.height = height
	b.Normal = buffer.New(width, height, 3)
	b.Albedo = buffer.New(width, height, 3)
	b.Direct = buffer.New(width, height, 3)
	b.Flags = make([]Flags, width*height)
}
