package ssgi

import (
	"github.com/Carmen-Shannon/lumen-go/common"
)

// Probe describes a reflection probe visible to the current camera, used as
// the ray-miss fallback light source.
type Probe struct {
	// Importance ranks probes; higher wins.
	Importance int

	// Center is the probe's world-space position.
	Center [3]float32

	// Extent is the radius of the probe's bounding volume.
	Extent float32

	// Color is the probe's average radiance.
	Color [3]float32

	// Intensity scales the probe's contribution.
	Intensity float32
}

// SelectProbe picks the fallback probe for a shading point with a strict
// deterministic priority: highest importance, then smallest bounding volume,
// then closest center. Returns -1 when the list is empty.
//
// Parameters:
//   - probes: the visible probe list for this camera
//   - point: the world-space shading position
//
// Returns:
//   - int: the index of the selected probe, or -1
func SelectProbe(probes []Probe, point [3]float32) int {
	best := -1
	var bestDist float32
	for i := range probes {
		if best < 0 {
			best = i
			bestDist = common.Length3(common.Sub3(probes[i].Center, point))
			continue
		}
		b := &probes[best]
		c := &probes[i]
		switch {
		case c.Importance != b.Importance:
			if c.Importance > b.Importance {
				best = i
				bestDist = common.Length3(common.Sub3(c.Center, point))
			}
		case c.Extent != b.Extent:
			if c.Extent < b.Extent {
				best = i
				bestDist = common.Length3(common.Sub3(c.Center, point))
			}
		default:
			d := common.Length3(common.Sub3(c.Center, point))
			if d < bestDist {
				best = i
				bestDist = d
			}
		}
	}
	return best
}

// SH evaluation constants for the first three bands.
const (
	shC0 = 0.282095
	shC1 = 0.488603
	shC2 = 1.092548
	shC3 = 0.315392
	shC4 = 0.546274
)

// EvalAmbientSH evaluates a 9-coefficient spherical harmonics ambient term
// in the given direction. Coefficients are laid out coefficient-major:
// sh[c*3+channel] for c in [0,9). Negative reconstruction results are
// clamped to zero so ringing cannot inject negative energy into the
// accumulation chain.
//
// Parameters:
//   - sh: 27 floats (9 coefficients x RGB), or short/nil for no ambient
//   - dir: the unit direction to evaluate
//
// Returns:
//   - [3]float32: the ambient radiance
func EvalAmbientSH(sh []float32, dir [3]float32) [3]float32 {
	if len(sh) < 27 {
		return [3]float32{}
	}
	x, y, z := dir[0], dir[1], dir[2]

	basis := [9]float32{
		shC0,
		shC1 * y,
		shC1 * z,
		shC1 * x,
		shC2 * x * y,
		shC2 * y * z,
		shC3 * (3*z*z - 1),
		shC2 * x * z,
		shC4 * (x*x - y*y),
	}

	var out [3]float32
	for c := 0; c < 9; c++ {
		b := basis[c]
		out[0] += sh[c*3] * b
		out[1] += sh[c*3+1] * b
		out[2] += sh[c*3+2] * b
	}
	for i := range out {
		if out[i] < 0 {
			out[i] = 0
		}
	}
	return out
}
