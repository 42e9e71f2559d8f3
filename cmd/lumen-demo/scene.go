package main

import (
	"math"

	"github.com/Carmen-Shannon/lumen-go/common"
	"github.com/Carmen-Shannon/lumen-go/effects/buffer"
	"github.com/Carmen-Shannon/lumen-go/effects/ssgi"
)

// roomScene is an analytic test room: a checkered floor, a warm back wall,
// and a cool side wall, lit by one orbiting point light. Each frame it
// renders depth, color, normal, and albedo planes on the CPU, standing in
// for a host engine's G-buffer.
type roomScene struct {
	width  int
	height int

	depth   *buffer.Buffer
	color   *buffer.Buffer
	normals *buffer.Buffer
	albedo  *buffer.Buffer

	ambientSH []float32
	probes    []ssgi.Probe
}

const (
	floorY    = -1.5
	backWallZ = -2.0
	sideWallX = -3.0

	sceneNear = 0.1
	sceneFar  = 100.0
	sceneFovY = math.Pi / 3
)

func newRoomScene(width, height int) *roomScene {
	sh := make([]float32, 27)
	// Flat dim sky: DC term only, slightly blue.
	sh[0], sh[1], sh[2] = 0.25, 0.28, 0.35

	return &roomScene{
		width:   width,
		height:  height,
		depth:   buffer.New(width, height, 1),
		color:   buffer.New(width, height, 3),
		normals: buffer.New(width, height, 3),
		albedo:  buffer.New(width, height, 3),

		ambientSH: sh,
		probes: []ssgi.Probe{{
			Importance: 1,
			Center:     [3]float32{0, 0, 0},
			Extent:     4,
			Color:      [3]float32{0.5, 0.55, 0.6},
			Intensity:  0.6,
		}},
	}
}

// advance renders the room at time t and returns the frame input for the
// pipeline. The camera orbits the room center; the light orbits against it.
func (s *roomScene) advance(t float64) *ssgi.FrameInput {
	angle := 0.3 * t
	eye := [3]float32{
		3.5 * float32(math.Sin(angle)),
		0.6,
		3.5 * float32(math.Cos(angle)),
	}

	var view, proj, vp, inv [16]float32
	common.LookAt(view[:], eye[0], eye[1], eye[2], 0, -0.3, 0, 0, 1, 0)
	aspect := float32(s.width) / float32(s.height)
	common.Perspective(proj[:], sceneFovY, aspect, sceneNear, sceneFar)
	common.Mul4(vp[:], proj[:], view[:])
	if !common.Invert4(inv[:], vp[:]) {
		panic("demo camera matrix is singular")
	}

	light := [3]float32{
		1.8 * float32(math.Cos(0.9 * t)),
		1.2,
		1.8 * float32(math.Sin(0.9 * t)),
	}

	for y := 0; y < s.height; y++ {
		v := (float32(y) + 0.5) / float32(s.height)
		for x := 0; x < s.width; x++ {
			u := (float32(x) + 0.5) / float32(s.width)

			far := common.Unproject(inv[:], u, v, 0.999)
			dir := common.Normalize3(common.Sub3(far, eye))

			point, normal, alb, hit := intersectRoom(eye, dir)
			if !hit {
				s.depth.Set(x, y, 0, 1)
				s.color.SetPixel(x, y, [4]float32{0.02, 0.03, 0.05, 0})
				s.normals.SetPixel(x, y, [4]float32{})
				s.albedo.SetPixel(x, y, [4]float32{})
				continue
			}

			_, _, d, ok := common.Project(vp[:], point)
			if !ok || d >= 1 {
				s.depth.Set(x, y, 0, 1)
				s.color.SetPixel(x, y, [4]float32{0.02, 0.03, 0.05, 0})
				s.normals.SetPixel(x, y, [4]float32{})
				s.albedo.SetPixel(x, y, [4]float32{})
				continue
			}

			s.depth.Set(x, y, 0, d)
			s.normals.SetPixel(x, y, [4]float32{normal[0], normal[1], normal[2], 0})
			s.albedo.SetPixel(x, y, [4]float32{alb[0], alb[1], alb[2], 0})

			lit := shadePoint(point, normal, alb, light)
			s.color.SetPixel(x, y, [4]float32{lit[0], lit[1], lit[2], 0})
		}
	}

	// Only hand the pipeline probes the camera can actually see.
	frustum := common.ExtractFrustumFromMatrix(vp[:])
	visible := s.probes[:0:0]
	for _, p := range s.probes {
		if frustum.IntersectsSphere(p.Center, p.Extent) {
			visible = append(visible, p)
		}
	}

	return &ssgi.FrameInput{
		CameraID:  1,
		Depth:     s.depth,
		Color:     s.color,
		Normals:   s.normals,
		Albedo:    s.albedo,
		ViewProj:  vp,
		CameraPos: eye,
		NearClip:  sceneNear,
		FarClip:   sceneFar,
		FovY:      sceneFovY,
		AmbientSH: s.ambientSH,
		Probes:    visible,
	}
}

// intersectRoom finds the nearest room surface along a ray.
func intersectRoom(origin, dir [3]float32) (point, normal, albedo [3]float32, hit bool) {
	best := float32(math.MaxFloat32)

	if dir[1] < -1e-6 {
		if t := (floorY - origin[1]) / dir[1]; t > sceneNear && t < best {
			best = t
			normal = [3]float32{0, 1, 0}
		}
	}
	if dir[2] < -1e-6 {
		if t := (backWallZ - origin[2]) / dir[2]; t > sceneNear && t < best {
			best = t
			normal = [3]float32{0, 0, 1}
		}
	}
	if dir[0] < -1e-6 {
		if t := (sideWallX - origin[0]) / dir[0]; t > sceneNear && t < best {
			best = t
			normal = [3]float32{1, 0, 0}
		}
	}
	if best >= sceneFar {
		return point, normal, albedo, false
	}

	point = common.Add3(origin, common.Scale3(dir, best))
	switch {
	case normal[1] == 1:
		// Checkered floor, one-meter tiles.
		cx := int(math.Floor(float64(point[0])))
		cz := int(math.Floor(float64(point[2])))
		if (cx+cz)&1 == 0 {
			albedo = [3]float32{0.7, 0.7, 0.7}
		} else {
			albedo = [3]float32{0.25, 0.25, 0.25}
		}
	case normal[2] == 1:
		albedo = [3]float32{0.75, 0.45, 0.3}
	default:
		albedo = [3]float32{0.3, 0.45, 0.75}
	}
	return point, normal, albedo, true
}

// shadePoint computes the direct term: lambert from the orbiting light with
// inverse-square falloff plus a small constant ambient.
func shadePoint(point, normal, albedo, light [3]float32) [3]float32 {
	toLight := common.Sub3(light, point)
	dist2 := common.Dot3(toLight, toLight)
	l := common.Normalize3(toLight)

	lambert := common.Dot3(normal, l)
	if lambert < 0 {
		lambert = 0
	}
	intensity := 0.08 + lambert*9/(1+dist2)
	return common.Scale3(albedo, intensity)
}
