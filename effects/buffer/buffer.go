// Package buffer provides the CPU-resident float32 plane buffers shared by
// all screen-space effect stages: depth planes, color planes, motion vectors,
// and per-pixel scalar accumulators. Buffers are dense row-major float32
// storage with a small fixed channel count, matching the storage-buffer
// layout used by the GPU compute path so uploads are a single memcpy.
package buffer

// Buffer is a dense row-major float32 image with 1 to 4 channels.
// Coordinates are clamped on access, so filter kernels can read past the
// edges without branching (clamp-to-edge addressing).
type Buffer struct {
	width    int
	height   int
	channels int
	data     []float32
}

// New creates a Buffer of the given dimensions. Dimensions are clamped to a
// minimum of 1x1 and channels to the range [1, 4] so degenerate sizes can
// never produce a zero-length allocation or NaN-producing divides downstream.
//
// Parameters:
//   - width, height: buffer dimensions in pixels
//   - channels: number of float32 channels per pixel (1..4)
//
// Returns:
//   - *Buffer: the newly allocated buffer, zero-filled
func New(width, height, channels int) *Buffer {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	if channels < 1 {
		channels = 1
	}
	if channels > 4 {
		channels = 4
	}
	return &Buffer{
		width:    width,
		height:   height,
		channels: channels,
		data:     make([]float32, width*height*channels),
	}
}

// Width returns the buffer width in pixels.
func (b *Buffer) Width() int { return b.width }

// Height returns the buffer height in pixels.
func (b *Buffer) Height() int { return b.height }

// Channels returns the number of channels per pixel.
func (b *Buffer) Channels() int { return b.channels }

// Data returns the underlying float32 storage in row-major pixel order.
// The slice is shared with the buffer; it is used for bulk copies and GPU
// uploads.
func (b *Buffer) Data() []float32 { return b.data }

func (b *Buffer) clampX(x int) int {
	if x < 0 {
		return 0
	}
	if x >= b.width {
		return b.width - 1
	}
	return x
}

func (b *Buffer) clampY(y int) int {
	if y < 0 {
		return 0
	}
	if y >= b.height {
		return b.height - 1
	}
	return y
}

// At reads channel c of the pixel at (x, y). Coordinates are clamped to the
// buffer edges.
func (b *Buffer) At(x, y, c int) float32 {
	x = b.clampX(x)
	y = b.clampY(y)
	return b.data[(y*b.width+x)*b.channels+c]
}

// Set writes channel c of the pixel at (x, y). Out-of-range coordinates are
// ignored rather than clamped: filters must never silently overwrite edge
// texels they did not target.
func (b *Buffer) Set(x, y, c int, v float32) {
	if x < 0 || x >= b.width || y < 0 || y >= b.height {
		return
	}
	b.data[(y*b.width+x)*b.channels+c] = v
}

// Pixel reads up to 4 channels of the pixel at (x, y) into a [4]float32.
// Unused channels are zero.
func (b *Buffer) Pixel(x, y int) [4]float32 {
	x = b.clampX(x)
	y = b.clampY(y)
	base := (y*b.width + x) * b.channels
	var out [4]float32
	copy(out[:b.channels], b.data[base:base+b.channels])
	return out
}

// SetPixel writes up to 4 channels of the pixel at (x, y).
func (b *Buffer) SetPixel(x, y int, v [4]float32) {
	if x < 0 || x >= b.width || y < 0 || y >= b.height {
		return
	}
	base := (y*b.width + x) * b.channels
	copy(b.data[base:base+b.channels], v[:b.channels])
}

// SampleNearest reads channel c at normalized UV coordinates using
// nearest-neighbor filtering with clamp-to-edge addressing.
func (b *Buffer) SampleNearest(u, v float32, c int) float32 {
	x := int(u * float32(b.width))
	y := int(v * float32(b.height))
	return b.At(x, y, c)
}

// Sample reads channel c at normalized UV coordinates using bilinear
// filtering with clamp-to-edge addressing. UV (0,0) is the top-left corner,
// matching the projection convention in common.Project.
func (b *Buffer) Sample(u, v float32, c int) float32 {
	fx := u*float32(b.width) - 0.5
	fy := v*float32(b.height) - 0.5
	x0 := int(floor(fx))
	y0 := int(floor(fy))
	tx := fx - float32(x0)
	ty := fy - float32(y0)

	s00 := b.At(x0, y0, c)
	s10 := b.At(x0+1, y0, c)
	s01 := b.At(x0, y0+1, c)
	s11 := b.At(x0+1, y0+1, c)

	top := s00 + (s10-s00)*tx
	bot := s01 + (s11-s01)*tx
	return top + (bot-top)*ty
}

// SamplePixel reads all channels at normalized UV coordinates with bilinear
// filtering.
func (b *Buffer) SamplePixel(u, v float32) [4]float32 {
	var out [4]float32
	for c := 0; c < b.channels; c++ {
		out[c] = b.Sample(u, v, c)
	}
	return out
}

// Fill sets every element of every channel to v.
func (b *Buffer) Fill(v float32) {
	for i := range b.data {
		b.data[i] = v
	}
}

// CopyFrom copies the contents of src into b. Both buffers must have
// identical dimensions and channel counts; mismatches are ignored (the
// caller is expected to have resized first).
func (b *Buffer) CopyFrom(src *Buffer) {
	if src == nil || src.width != b.width || src.height != b.height || src.channels != b.channels {
		return
	}
	copy(b.data, src.data)
}

// Clone returns a deep copy of the buffer.
func (b *Buffer) Clone() *Buffer {
	out := New(b.width, b.height, b.channels)
	copy(out.data, b.data)
	return out
}

// Resize reallocates the buffer storage if the requested dimensions differ
// from the current ones. Contents are not preserved across a reallocation.
//
// Returns:
//   - bool: true if the buffer was reallocated
func (b *Buffer) Resize(width, height int) bool {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	if width == b.width && height == b.height {
		return false
	}
	b.width = width
	b.height = height
	b.data = make([]float32, width*height*b.channels)
	return true
}

func floor(f float32) float32 {
	i := float32(int(f))
	if f < i {
		return i - 1
	}
	return i
}
