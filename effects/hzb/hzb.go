// Package hzb builds the hierarchical depth buffer (Hi-Z pyramid) used to
// accelerate screen-space ray marching. Mip 0 is a half-resolution reduction
// of the camera depth buffer and every following mip halves the previous one,
// so coarse march tiers can read a footprint-matched depth with one sample.
package hzb

import (
	"math"

	"github.com/Carmen-Shannon/lumen-go/effects/buffer"
)

// MaxMipLevels bounds the pyramid depth regardless of resolution.
const MaxMipLevels = 10

// Pyramid is a chain of single-channel depth mips. Level 0 is half the
// native camera resolution (floor-divided, minimum 1x1) and level i+1 halves
// level i. The reduction operator is min: the closest depth in the footprint
// survives, which keeps the pyramid conservative for ray marching with a
// standard 0=near / 1=far depth range.
type Pyramid struct {
	levels []*buffer.Buffer
	baseW  int
	baseH  int
}

// NewPyramid creates an empty pyramid. Levels are allocated lazily on the
// first Build call and reused until the source resolution changes.
func NewPyramid() *Pyramid {
	return &Pyramid{}
}

// MipCount returns the number of mip levels a pyramid with the given base
// resolution carries: min(MaxMipLevels, floor(log2(max(w,h)))+1).
//
// Parameters:
//   - width, height: base (level 0) resolution, clamped to a minimum of 1
//
// Returns:
//   - int: the mip level count, always >= 1
func MipCount(width, height int) int {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	maxDim := width
	if height > maxDim {
		maxDim = height
	}
	count := int(math.Floor(math.Log2(float64(maxDim)))) + 1
	if count > MaxMipLevels {
		count = MaxMipLevels
	}
	if count < 1 {
		count = 1
	}
	return count
}

// Levels returns the number of mips currently held. Zero before the first
// successful Build.
func (p *Pyramid) Levels() int { return len(p.levels) }

// Level returns the depth buffer for mip i, or nil if out of range.
func (p *Pyramid) Level(i int) *buffer.Buffer {
	if i < 0 || i >= len(p.levels) {
		return nil
	}
	return p.levels[i]
}

// Sample reads the pyramid at the given mip with nearest filtering. The mip
// index is clamped to the available range; sampling an empty pyramid
// returns the far sentinel so callers treat it as a guaranteed miss.
//
// Parameters:
//   - level: mip index (clamped)
//   - u, v: normalized coordinates
//
// Returns:
//   - float32: the depth value
func (p *Pyramid) Sample(level int, u, v float32) float32 {
	if len(p.levels) == 0 {
		return 1
	}
	if level < 0 {
		level = 0
	}
	if level >= len(p.levels) {
		level = len(p.levels) - 1
	}
	return p.levels[level].SampleNearest(u, v, 0)
}

// Build regenerates the pyramid from the camera depth buffer. The base level
// is half the source resolution; each following level is a 2x2 min-reduce of
// the previous. Returns false without touching the pyramid when the source
// is unavailable this frame, so the caller can skip the stage cleanly.
//
// Parameters:
//   - depth: the device-space camera depth buffer, or nil when not yet bound
//
// Returns:
//   - bool: true if the pyramid was rebuilt
func (p *Pyramid) Build(depth *buffer.Buffer) bool {
	if depth == nil {
		return false
	}

	baseW := depth.Width() / 2
	baseH := depth.Height() / 2
	if baseW < 1 {
		baseW = 1
	}
	if baseH < 1 {
		baseH = 1
	}
	p.allocate(baseW, baseH)

	// Full-resolution downsample pass: each base texel takes the min of its
	// 2x2 source neighborhood.
	base := p.levels[0]
	for y := 0; y < baseH; y++ {
		for x := 0; x < baseW; x++ {
			sx, sy := x*2, y*2
			d := depth.At(sx, sy, 0)
			d = minf(d, depth.At(sx+1, sy, 0))
			d = minf(d, depth.At(sx, sy+1, 0))
			d = minf(d, depth.At(sx+1, sy+1, 0))
			base.Set(x, y, 0, d)
		}
	}

	// Halving passes, each reading the previous mip.
	for i := 1; i < len(p.levels); i++ {
		prev := p.levels[i-1]
		cur := p.levels[i]
		for y := 0; y < cur.Height(); y++ {
			for x := 0; x < cur.Width(); x++ {
				sx, sy := x*2, y*2
				d := prev.At(sx, sy, 0)
				d = minf(d, prev.At(sx+1, sy, 0))
				d = minf(d, prev.At(sx, sy+1, 0))
				d = minf(d, prev.At(sx+1, sy+1, 0))
				cur.Set(x, y, 0, d)
			}
		}
	}
	return true
}

// Prepare sizes the level chain for a camera depth buffer of the given
// native resolution without computing any reduction. Used by the GPU path,
// which fills the levels from a readback instead of running the CPU
// reduce.
//
// Parameters:
//   - nativeWidth, nativeHeight: the camera depth resolution
func (p *Pyramid) Prepare(nativeWidth, nativeHeight int) {
	baseW := nativeWidth / 2
	baseH := nativeHeight / 2
	if baseW < 1 {
		baseW = 1
	}
	if baseH < 1 {
		baseH = 1
	}
	p.allocate(baseW, baseH)
}

// allocate sizes the level chain for a new base resolution, reusing the
// existing buffers when the resolution is unchanged.
func (p *Pyramid) allocate(baseW, baseH int) {
	count := MipCount(baseW, baseH)
	if p.baseW == baseW && p.baseH == baseH && len(p.levels) == count {
		return
	}
	p.baseW = baseW
	p.baseH = baseH
	p.levels = p.levels[:0]

	w, h := baseW, baseH
	for i := 0; i < count; i++ {
		p.levels = append(p.levels, buffer.New(w, h, 1))
		w = halve(w)
		h = halve(h)
	}
}

func halve(v int) int {
	v >>= 1
	if v < 1 {
		v = 1
	}
	return v
}

func minf(a, b float32) float32 {
	if b < a {
		return b
	}
	return a
}
