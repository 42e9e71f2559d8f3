package ssgi

import (
	"math"

	"github.com/Carmen-Shannon/lumen-go/common"
	"github.com/Carmen-Shannon/lumen-go/effects/buffer"
	"github.com/Carmen-Shannon/lumen-go/effects/history"
	"github.com/Carmen-Shannon/lumen-go/effects/hzb"
	"github.com/Carmen-Shannon/lumen-go/effects/params"
	"github.com/Carmen-Shannon/lumen-go/effects/surface"
)

const (
	// farSentinel is the device depth written where no geometry was rendered.
	farSentinel = 1.0

	// backgroundEps is the tolerance around the far sentinel.
	backgroundEps = 1e-5

	// normalBias pushes ray origins off their surface so the first fine step
	// does not self-intersect.
	normalBias = 0.01

	// probeCameraScale dampens indirect light gathered while rendering a
	// reflection probe, limiting feedback between probes and main cameras.
	probeCameraScale = 0.3
)

// isBackground reports whether a device depth value is the empty-sky
// sentinel.
func isBackground(d float32) bool {
	return d >= farSentinel-backgroundEps
}

// frameState bundles the per-frame, per-camera derived values every stage
// kernel reads. Built once by the orchestrator at the top of RenderFrame and
// immutable afterward, so row workers can share it without locking.
type frameState struct {
	fp params.FrameParameters
	in *FrameInput

	invViewProj [16]float32
	near, far   float32

	width, height int // native resolution
	iw, ih        int // indirect resolution

	pyramid *hzb.Pyramid
	surf    *surface.Buffer

	// entry is this camera's history slot; nil or !Valid on a fresh start.
	entry *history.Entry

	// depthIndirect is the native depth nearest-reduced to indirect
	// resolution, shared by the temporal and denoise stages.
	depthIndirect *buffer.Buffer
}

// linearizeDepth converts a device depth value to the view-space distance it
// encodes under the [0,1] reverse-perspective mapping used by the depth
// inputs. Thickness tests compare distances in world units, not device
// depth, because the device encoding is heavily non-linear.
func linearizeDepth(d, near, far float32) float32 {
	den := far - d*(far-near)
	if den < 1e-6 {
		den = 1e-6
	}
	return near * far / den
}

// wangHash is the integer mix used for per-pixel jitter. Cheap, stateless,
// and identical to the WGSL version so CPU and GPU paths produce the same
// rotation pattern.
func wangHash(x uint32) uint32 {
	x = (x ^ 61) ^ (x >> 16)
	x *= 9
	x ^= x >> 4
	x *= 0x27d4eb2d
	x ^= x >> 15
	return x
}

// hash01 maps a hash state to [0,1).
func hash01(x uint32) float32 {
	return float32(wangHash(x)>>8) * (1.0 / 16777216.0)
}

// buildBasis returns two unit tangents orthogonal to n.
func buildBasis(n [3]float32) ([3]float32, [3]float32) {
	var helper [3]float32
	if n[0] > 0.9 || n[0] < -0.9 {
		helper = [3]float32{0, 1, 0}
	} else {
		helper = [3]float32{1, 0, 0}
	}
	t := common.Normalize3(common.Cross3(helper, n))
	b := common.Cross3(n, t)
	return t, b
}

// cosineDir draws a cosine-weighted hemisphere direction around n from two
// uniform random values.
func cosineDir(n [3]float32, r1, r2 float32) [3]float32 {
	t, b := buildBasis(n)
	phi := 2 * math.Pi * float64(r1)
	sinTheta := float32(math.Sqrt(float64(r2)))
	cosTheta := float32(math.Sqrt(float64(1 - r2)))

	x := float32(math.Cos(phi)) * sinTheta
	y := float32(math.Sin(phi)) * sinTheta

	dir := common.Add3(
		common.Add3(common.Scale3(t, x), common.Scale3(b, y)),
		common.Scale3(n, cosTheta),
	)
	return common.Normalize3(dir)
}

// rayMarchRows runs the hemisphere gather for rows [y0, y1) of the indirect
// buffer. The output is the per-pixel average radiance across the frame's
// rays, brightness-clamped; background pixels are written as exact zero.
func (st *frameState) rayMarchRows(out *buffer.Buffer, y0, y1 int) {
	rayNorm := 1.0 / float32(st.fp.RayCount)

	for y := y0; y < y1; y++ {
		v := (float32(y) + 0.5) / float32(st.ih)
		for x := 0; x < st.iw; x++ {
			u := (float32(x) + 0.5) / float32(st.iw)

			d := st.in.Depth.SampleNearest(u, v, 0)
			if isBackground(d) {
				out.SetPixel(x, y, [4]float32{})
				continue
			}

			p := common.Unproject(st.invViewProj[:], u, v, d)
			np := st.surf.Normal.Pixel(x, y)
			n := [3]float32{np[0], np[1], np[2]}
			origin := common.Add3(p, common.Scale3(n, normalBias))

			seed := wangHash(uint32(x)*1973 ^ uint32(y)*9277 ^
				st.fp.FrameIndex*26699 ^ st.fp.RotationSeed)

			var sum [3]float32
			for r := 0; r < st.fp.RayCount; r++ {
				r1 := hash01(seed + uint32(r)*2)
				r2 := hash01(seed + uint32(r)*2 + 1)
				dir := cosineDir(n, r1, r2)
				c := st.marchRay(origin, dir)
				sum = common.Add3(sum, c)
			}

			avg := common.Scale3(sum, rayNorm)
			if st.in.ProbeCamera {
				avg = common.Scale3(avg, probeCameraScale)
			}
			avg = common.ClampBrightness(avg[0], avg[1], avg[2], st.fp.MaxBrightness)
			out.SetPixel(x, y, [4]float32{avg[0], avg[1], avg[2], 0})
		}
	}
}

// marchRay advances one ray through the three step tiers against the Hi-Z
// pyramid and returns its radiance: the hit surface's bounce light, the miss
// fallback, or zero when the ray lands on rejected geometry (wrong layer or
// a back face). A rejected hit still terminates the ray; letting it continue
// would leak the fallback through solid walls.
func (st *frameState) marchRay(origin, dir [3]float32) [3]float32 {
	tiers := [3]struct {
		steps int
		size  float32
		mip   int
	}{
		{st.fp.FineSteps, st.fp.FineStepSize, 0},
		{st.fp.MediumSteps, st.fp.MediumStepSize, 1},
		{st.fp.CoarseSteps, st.fp.CoarseStepSize, 2},
	}

	pos := origin
	total := 0
	useBackface := st.fp.UseBackfaceDepth && st.in.BackfaceDepth != nil

	for _, tier := range tiers {
		for s := 0; s < tier.steps; s++ {
			if total >= st.fp.MaxSteps {
				return st.missFallback(pos, dir)
			}
			total++
			pos = common.Add3(pos, common.Scale3(dir, tier.size))

			u, v, d, ok := common.Project(st.in.ViewProj[:], pos)
			if !ok || u < 0 || u > 1 || v < 0 || v > 1 {
				return st.missFallback(pos, dir)
			}

			sceneD := st.pyramid.Sample(tier.mip, u, v)
			if isBackground(sceneD) {
				continue
			}

			rayT := linearizeDepth(d, st.near, st.far)
			sceneT := linearizeDepth(sceneD, st.near, st.far)
			if rayT < sceneT {
				continue
			}

			thickness := st.fp.Thickness + st.fp.ThicknessGrowth*float32(total)
			upper := sceneT + thickness
			if useBackface {
				backD := st.in.BackfaceDepth.SampleNearest(u, v, 0)
				if !isBackground(backD) {
					backT := linearizeDepth(backD, st.near, st.far)
					if backT > sceneT {
						upper = backT + thickness
					}
				}
			}
			if rayT <= upper {
				return st.shadeHit(u, v, dir)
			}
			// Behind the surface past the tolerance band: the ray passed
			// behind a foreground object, keep marching.
		}
	}
	return st.missFallback(pos, dir)
}

// shadeHit evaluates the bounce radiance leaving the hit pixel toward the
// ray. History color is preferred when valid because it already contains
// last frame's indirect term, which is what gives the single-bounce gather
// its inexpensive multi-frame energy buildup.
func (st *frameState) shadeHit(u, v float32, dir [3]float32) [3]float32 {
	hx := int(u * float32(st.iw))
	hy := int(v * float32(st.ih))
	if hx >= st.iw {
		hx = st.iw - 1
	}
	if hy >= st.ih {
		hy = st.ih - 1
	}

	if !st.surf.FlagsAt(hx, hy).MatchesMask(st.fp.LayerMask) {
		return [3]float32{}
	}

	np := st.surf.Normal.Pixel(hx, hy)
	hitN := [3]float32{np[0], np[1], np[2]}
	if common.Dot3(hitN, dir) > 0 {
		// Back side of the hit surface; no light leaves it toward us.
		return [3]float32{}
	}

	if st.entry != nil && st.entry.Valid && st.entry.Color != nil {
		c := st.entry.Color.SamplePixel(u, v)
		return [3]float32{c[0], c[1], c[2]}
	}
	c := st.surf.Direct.Pixel(hx, hy)
	return [3]float32{c[0], c[1], c[2]}
}

// missFallback returns the radiance for a ray that left the screen or ran
// out of steps: the selected reflection probe weighted by camera-relative
// intensity, or the ambient SH term when probes are absent or overridden.
func (st *frameState) missFallback(pos, dir [3]float32) [3]float32 {
	if st.fp.AmbientOverride || len(st.in.Probes) == 0 {
		return EvalAmbientSH(st.in.AmbientSH, dir)
	}

	idx := SelectProbe(st.in.Probes, pos)
	p := &st.in.Probes[idx]

	extent := p.Extent
	if extent < 1e-3 {
		extent = 1e-3
	}
	camDist := common.Length3(common.Sub3(p.Center, st.in.CameraPos))
	w := p.Intensity / (1 + camDist/extent)
	return common.Scale3(p.Color, w)
}
