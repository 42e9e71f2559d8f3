package ssgi

import (
	"fmt"
	"image"
	"image/color"
	"log"
	"math"
	"os"
	"path/filepath"

	"github.com/HugoSmits86/nativewebp"
	"golang.org/x/image/draw"

	"github.com/Carmen-Shannon/lumen-go/effects/buffer"
	"github.com/Carmen-Shannon/lumen-go/effects/hzb"
	"github.com/Carmen-Shannon/lumen-go/effects/params"
)

// capturer dumps intermediate pipeline buffers to lossless WebP for visual
// debugging. Write failures log once and disable further captures; a debug
// aid must never take the pipeline down with it.
type capturer struct {
	dir      string
	interval uint32
	disabled bool
	prepared bool
}

func newCapturer(dir string, interval int) *capturer {
	if interval < 1 {
		interval = 1
	}
	return &capturer{dir: dir, interval: uint32(interval)}
}

// due reports whether this frame index should be captured.
func (c *capturer) due(frameIndex uint32) bool {
	return !c.disabled && frameIndex%c.interval == 0
}

// dump writes the frame's intermediates: raw and accumulated indirect, the
// sample counts, an HZB mip montage, and the final composite.
func (c *capturer) dump(st *frameState, pyr *hzb.Pyramid, raw, indirect, samples, final *buffer.Buffer) {
	if c.disabled {
		return
	}
	if !c.prepared {
		if err := os.MkdirAll(c.dir, 0o755); err != nil {
			c.fail(err)
			return
		}
		c.prepared = true
	}

	frame := st.fp.FrameIndex
	c.write(frame, "raw", colorImage(raw, 1))
	c.write(frame, "indirect", colorImage(indirect, 1))
	c.write(frame, "samples", grayImage(samples, 1.0/params.MaxAccumulatedFrames))
	c.write(frame, "composite", colorImage(final, 1))
	if m := mipMontage(pyr); m != nil {
		c.write(frame, "hzb", m)
	}
}

func (c *capturer) write(frame uint32, name string, img image.Image) {
	if c.disabled || img == nil {
		return
	}
	path := filepath.Join(c.dir, fmt.Sprintf("frame%06d_%s.webp", frame, name))
	f, err := os.Create(path)
	if err != nil {
		c.fail(err)
		return
	}
	defer f.Close()
	if err := nativewebp.Encode(f, img, nil); err != nil {
		c.fail(err)
	}
}

func (c *capturer) fail(err error) {
	if !c.disabled {
		log.Printf("[SSGI] capture disabled: %v", err)
		c.disabled = true
	}
}

// tone converts a linear channel value to an 8-bit byte with a simple gamma
// 2.2 curve; debug dumps do not need exact color management.
func tone(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v > 1 {
		v = 1
	}
	return uint8(math.Pow(float64(v), 1/2.2)*255 + 0.5)
}

// colorImage converts a 3-channel buffer to an NRGBA image, scaled by gain.
func colorImage(b *buffer.Buffer, gain float32) image.Image {
	if b == nil {
		return nil
	}
	img := image.NewNRGBA(image.Rect(0, 0, b.Width(), b.Height()))
	for y := 0; y < b.Height(); y++ {
		for x := 0; x < b.Width(); x++ {
			p := b.Pixel(x, y)
			img.SetNRGBA(x, y, color.NRGBA{
				R: tone(p[0] * gain),
				G: tone(p[1] * gain),
				B: tone(p[2] * gain),
				A: 255,
			})
		}
	}
	return img
}

// grayImage converts a 1-channel buffer to a grayscale NRGBA image.
func grayImage(b *buffer.Buffer, gain float32) image.Image {
	if b == nil {
		return nil
	}
	img := image.NewNRGBA(image.Rect(0, 0, b.Width(), b.Height()))
	for y := 0; y < b.Height(); y++ {
		for x := 0; x < b.Width(); x++ {
			v := tone(b.At(x, y, 0) * gain)
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

// mipMontage lays every pyramid level out side by side at the base level's
// height, upscaling coarse mips so their blocks are visible.
func mipMontage(pyr *hzb.Pyramid) image.Image {
	if pyr == nil || pyr.Levels() == 0 {
		return nil
	}
	base := pyr.Level(0)
	cellW := base.Width()
	cellH := base.Height()

	img := image.NewNRGBA(image.Rect(0, 0, cellW*pyr.Levels(), cellH))
	for i := 0; i < pyr.Levels(); i++ {
		cell := grayImage(pyr.Level(i), 1)
		dst := image.Rect(i*cellW, 0, (i+1)*cellW, cellH)
		draw.CatmullRom.Scale(img, dst, cell, cell.Bounds(), draw.Src, nil)
	}
	return img
}
