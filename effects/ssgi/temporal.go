package ssgi

import (
	"math"

	"github.com/Carmen-Shannon/lumen-go/common"
	"github.com/Carmen-Shannon/lumen-go/effects/buffer"
	"github.com/Carmen-Shannon/lumen-go/effects/params"
)

// reprojectionToleranceScale widens the per-pixel world footprint used by
// the disocclusion test. One footprint is too strict under sub-pixel camera
// motion; four keeps static scenes stable without accepting real occluder
// changes.
const reprojectionToleranceScale = 4.0

// reprojectUV finds last frame's screen position for the current pixel.
// Host motion vectors win when present; otherwise the pixel's world position
// is pushed through last frame's view-projection matrix. Returns false when
// the previous position falls off screen.
func (st *frameState) reprojectUV(u, v, d float32) (float32, float32, bool) {
	var pu, pv float32
	if st.in.MotionVectors != nil {
		mv := st.in.MotionVectors.SamplePixel(u, v)
		pu = u - mv[0]
		pv = v - mv[1]
	} else {
		if st.entry == nil {
			return 0, 0, false
		}
		world := common.Unproject(st.invViewProj[:], u, v, d)
		var ok bool
		pu, pv, _, ok = common.Project(st.entry.PrevViewProj[:], world)
		if !ok {
			return 0, 0, false
		}
	}
	if pu < 0 || pu > 1 || pv < 0 || pv > 1 {
		return 0, 0, false
	}
	return pu, pv, true
}

// disocclusionTolerance returns the world-space distance within which the
// reprojected history position is considered the same surface: the world
// footprint of one indirect pixel at the given distance, scaled and widened
// at grazing angles where depth precision collapses.
func (st *frameState) disocclusionTolerance(dist, cosView float32) float32 {
	fov := st.in.FovY
	if fov <= 0 {
		fov = math.Pi / 3
	}
	footprint := 2 * dist * float32(math.Tan(float64(fov)/2)) / float32(st.ih)
	if cosView < 0.2 {
		cosView = 0.2
	}
	return footprint * reprojectionToleranceScale / cosView
}

// temporalRows accumulates rows [y0, y1): each pixel blends the raw ray-march
// estimate with reprojected history using an exponential moving average whose
// weight follows the accumulated sample count. Reprojection failures and
// disocclusions restart accumulation at one sample.
func (st *frameState) temporalRows(raw, out, sampleOut *buffer.Buffer, y0, y1 int) {
	histValid := st.entry != nil && st.entry.Valid && st.entry.Indirect != nil

	for y := y0; y < y1; y++ {
		v := (float32(y) + 0.5) / float32(st.ih)
		for x := 0; x < st.iw; x++ {
			u := (float32(x) + 0.5) / float32(st.iw)
			rawC := raw.Pixel(x, y)

			d := st.depthIndirect.At(x, y, 0)
			if !histValid || isBackground(d) {
				out.SetPixel(x, y, rawC)
				sampleOut.Set(x, y, 0, 1)
				continue
			}

			pu, pv, ok := st.reprojectUV(u, v, d)
			if !ok {
				out.SetPixel(x, y, rawC)
				sampleOut.Set(x, y, 0, 1)
				continue
			}

			histD := st.entry.Depth.SampleNearest(pu, pv, 0)
			if isBackground(histD) {
				out.SetPixel(x, y, rawC)
				sampleOut.Set(x, y, 0, 1)
				continue
			}

			// Geometric disocclusion: compare the world position the history
			// pixel saw with the one this pixel sees now.
			curWorld := common.Unproject(st.invViewProj[:], u, v, d)
			prevWorld := common.Unproject(st.entry.PrevInvViewProj[:], pu, pv, histD)
			sep := common.Length3(common.Sub3(curWorld, prevWorld))

			np := st.surf.Normal.Pixel(x, y)
			toCam := common.Normalize3(common.Sub3(st.in.CameraPos, curWorld))
			cosView := common.Dot3([3]float32{np[0], np[1], np[2]}, toCam)
			dist := linearizeDepth(d, st.near, st.far)

			if sep > st.disocclusionTolerance(dist, cosView) {
				out.SetPixel(x, y, rawC)
				sampleOut.Set(x, y, 0, 1)
				continue
			}

			histC := st.entry.Indirect.SamplePixel(pu, pv)
			if st.fp.AggressiveDenoise {
				histC = clampToNeighborhood(raw, x, y, histC)
			}

			histN := st.entry.SampleCount.SampleNearest(pu, pv, 0)
			n := histN + 1
			if n > params.MaxAccumulatedFrames {
				n = params.MaxAccumulatedFrames
			}
			if n < 1 {
				n = 1
			}
			alpha := common.Lerp(1, 1/n, st.fp.TemporalIntensity)

			var blended [4]float32
			for c := 0; c < 3; c++ {
				blended[c] = common.Lerp(histC[c], rawC[c], alpha)
			}
			out.SetPixel(x, y, blended)
			sampleOut.Set(x, y, 0, n)
		}
	}
}

// clampToNeighborhood pulls a history color into the min/max box of the raw
// estimate's 3x3 neighborhood. Used by the aggressive denoise mode to cut
// ghosting from stale history at the cost of some temporal stability.
func clampToNeighborhood(raw *buffer.Buffer, x, y int, hist [4]float32) [4]float32 {
	var lo, hi [3]float32
	first := true
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			p := raw.Pixel(x+dx, y+dy)
			if first {
				lo = [3]float32{p[0], p[1], p[2]}
				hi = lo
				first = false
				continue
			}
			for c := 0; c < 3; c++ {
				if p[c] < lo[c] {
					lo[c] = p[c]
				}
				if p[c] > hi[c] {
					hi[c] = p[c]
				}
			}
		}
	}
	for c := 0; c < 3; c++ {
		hist[c] = common.Clamp(hist[c], lo[c], hi[c])
	}
	return hist
}
