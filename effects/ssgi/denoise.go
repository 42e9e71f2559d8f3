package ssgi

import (
	"math"

	"github.com/Carmen-Shannon/lumen-go/common"
	"github.com/Carmen-Shannon/lumen-go/effects/buffer"
)

// poissonRadius is the Poisson filter radius in indirect-resolution pixels.
const poissonRadius = 5.0

// stabilizationWeight is the strength of the post-filter re-blend against
// history. Low enough that disocclusion artifacts stay invisible without a
// second disocclusion test.
const stabilizationWeight = 0.3

// poissonTaps is a fixed 8-point Poisson-disk pattern on the unit disk. The
// per-pixel rotation decorrelates it between neighbors and frames.
var poissonTaps = [8][2]float32{
	{-0.326, -0.406},
	{-0.840, -0.074},
	{-0.696, 0.457},
	{-0.203, 0.621},
	{0.962, -0.195},
	{0.473, -0.480},
	{0.519, 0.767},
	{0.185, -0.893},
}

// poissonTapWeights holds the Gaussian falloff for each tap's disk radius.
var poissonTapWeights = [8]float32{}

func init() {
	for i, t := range poissonTaps {
		r2 := float64(t[0]*t[0] + t[1]*t[1])
		poissonTapWeights[i] = float32(math.Exp(-1.5 * r2))
	}
}

// poissonRows runs the rotated Poisson-disk blur on rows [y0, y1). Background
// taps carry no energy and are skipped so sky pixels never bleed darkness
// into silhouettes; background centers pass through untouched.
func (st *frameState) poissonRows(src, dst *buffer.Buffer, pass int, y0, y1 int) {
	for y := y0; y < y1; y++ {
		for x := 0; x < st.iw; x++ {
			center := src.Pixel(x, y)
			if isBackground(st.depthIndirect.At(x, y, 0)) {
				dst.SetPixel(x, y, center)
				continue
			}

			seed := wangHash(uint32(x)*7919 ^ uint32(y)*104729 ^
				st.fp.FrameIndex*15485863 ^ uint32(pass)*31 ^ st.fp.RotationSeed)
			angle := 2 * math.Pi * float64(hash01(seed))
			ca := float32(math.Cos(angle))
			sa := float32(math.Sin(angle))

			var sum [3]float32
			sum[0], sum[1], sum[2] = center[0], center[1], center[2]
			wsum := float32(1)

			for i, t := range poissonTaps {
				ox := (t[0]*ca - t[1]*sa) * poissonRadius
				oy := (t[0]*sa + t[1]*ca) * poissonRadius
				tx := x + int(ox)
				ty := y + int(oy)
				if isBackground(st.depthIndirect.At(tx, ty, 0)) {
					continue
				}
				p := src.Pixel(tx, ty)
				w := poissonTapWeights[i]
				sum[0] += p[0] * w
				sum[1] += p[1] * w
				sum[2] += p[2] * w
				wsum += w
			}

			inv := 1 / wsum
			dst.SetPixel(x, y, [4]float32{sum[0] * inv, sum[1] * inv, sum[2] * inv, 0})
		}
	}
}

// edgeAwareRows runs a 5x5 bilateral filter on rows [y0, y1), rejecting taps
// across depth discontinuities and normal creases so indirect light does not
// smear over geometric edges.
func (st *frameState) edgeAwareRows(src, dst *buffer.Buffer, y0, y1 int) {
	const sigma = 1.5
	const depthRelTol = 0.05

	for y := y0; y < y1; y++ {
		for x := 0; x < st.iw; x++ {
			center := src.Pixel(x, y)
			cd := st.depthIndirect.At(x, y, 0)
			if isBackground(cd) {
				dst.SetPixel(x, y, center)
				continue
			}
			ct := linearizeDepth(cd, st.near, st.far)
			cnp := st.surf.Normal.Pixel(x, y)
			cn := [3]float32{cnp[0], cnp[1], cnp[2]}

			var sum [3]float32
			var wsum float32
			for dy := -2; dy <= 2; dy++ {
				for dx := -2; dx <= 2; dx++ {
					tx, ty := x+dx, y+dy
					td := st.depthIndirect.At(tx, ty, 0)
					if isBackground(td) {
						continue
					}
					tt := linearizeDepth(td, st.near, st.far)
					rel := (tt - ct) / ct
					if rel < 0 {
						rel = -rel
					}
					if rel > depthRelTol {
						continue
					}

					tnp := st.surf.Normal.Pixel(tx, ty)
					ndot := common.Dot3(cn, [3]float32{tnp[0], tnp[1], tnp[2]})
					if ndot < 0.7 {
						continue
					}

					r2 := float64(dx*dx + dy*dy)
					w := float32(math.Exp(-r2/(2*sigma*sigma))) * ndot * ndot
					p := src.Pixel(tx, ty)
					sum[0] += p[0] * w
					sum[1] += p[1] * w
					sum[2] += p[2] * w
					wsum += w
				}
			}

			if wsum <= 0 {
				dst.SetPixel(x, y, center)
				continue
			}
			inv := 1 / wsum
			dst.SetPixel(x, y, [4]float32{sum[0] * inv, sum[1] * inv, sum[2] * inv, 0})
		}
	}
}

// stabilizeRows re-blends the filtered result against reprojected history at
// a fixed low weight on rows [y0, y1). This runs after the spatial filters,
// whose per-frame tap rotation otherwise shows as fine-grain shimmer.
func (st *frameState) stabilizeRows(buf *buffer.Buffer, y0, y1 int) {
	if st.entry == nil || !st.entry.Valid || st.entry.Indirect == nil {
		return
	}
	w := stabilizationWeight * st.fp.TemporalIntensity
	if w <= 0 {
		return
	}

	for y := y0; y < y1; y++ {
		v := (float32(y) + 0.5) / float32(st.ih)
		for x := 0; x < st.iw; x++ {
			d := st.depthIndirect.At(x, y, 0)
			if isBackground(d) {
				continue
			}
			u := (float32(x) + 0.5) / float32(st.iw)
			pu, pv, ok := st.reprojectUV(u, v, d)
			if !ok {
				continue
			}
			if isBackground(st.entry.Depth.SampleNearest(pu, pv, 0)) {
				continue
			}

			hist := st.entry.Indirect.SamplePixel(pu, pv)
			cur := buf.Pixel(x, y)
			for c := 0; c < 3; c++ {
				cur[c] = common.Lerp(cur[c], hist[c], w)
			}
			buf.SetPixel(x, y, cur)
		}
	}
}
