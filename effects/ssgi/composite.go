package ssgi

import (
	"github.com/Carmen-Shannon/lumen-go/effects/buffer"
)

// compositeRows upsamples the accumulated indirect diffuse to native
// resolution and adds it into the camera color for rows [y0, y1). The
// indirect term is modulated by the receiving surface's albedo so bounce
// light picks up the receiver's tint; background pixels are left untouched.
func (st *frameState) compositeRows(indirect *buffer.Buffer, y0, y1 int) {
	for y := y0; y < y1; y++ {
		v := (float32(y) + 0.5) / float32(st.height)
		for x := 0; x < st.width; x++ {
			if isBackground(st.in.Depth.At(x, y, 0)) {
				continue
			}
			u := (float32(x) + 0.5) / float32(st.width)

			ind := indirect.SamplePixel(u, v)
			alb := st.surf.Albedo.SamplePixel(u, v)

			p := st.in.Color.Pixel(x, y)
			p[0] += ind[0] * alb[0]
			p[1] += ind[1] * alb[1]
			p[2] += ind[2] * alb[2]
			st.in.Color.SetPixel(x, y, p)
		}
	}
}

// seedHistory copies this frame's outputs into the camera's history entry so
// the next frame can reproject against them. Runs after compositing so the
// stored color includes the indirect term the march feeds back on.
func (st *frameState) seedHistory(indirect, samples *buffer.Buffer) {
	e := st.entry
	if e == nil {
		return
	}
	e.EnsureBuffers(st.width, st.height, st.iw, st.ih)
	e.Color.CopyFrom(st.in.Color)
	e.Depth.CopyFrom(st.depthIndirect)
	e.Indirect.CopyFrom(indirect)
	e.SampleCount.CopyFrom(samples)
	e.DenoiseMode = st.fp.DenoiseMode()
}
