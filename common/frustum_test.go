package common

import (
	"math"
	"testing"
)

func testFrustum() Frustum {
	var view, proj, vp [16]float32
	LookAt(view[:], 0, 0, 5, 0, 0, 0, 0, 1, 0)
	Perspective(proj[:], float32(math.Pi/3), 1, 0.1, 100)
	Mul4(vp[:], proj[:], view[:])
	return ExtractFrustumFromMatrix(vp[:])
}

func TestFrustumIntersectsSphere(t *testing.T) {
	f := testFrustum()

	cases := []struct {
		name   string
		center [3]float32
		radius float32
		want   bool
	}{
		{"at look target", [3]float32{0, 0, 0}, 1, true},
		{"behind camera", [3]float32{0, 0, 20}, 1, false},
		{"far to the side", [3]float32{100, 0, 0}, 1, false},
		{"outside but overlapping", [3]float32{0, 4, 0}, 3, true},
		{"past far plane", [3]float32{0, 0, -200}, 1, false},
	}
	for _, tc := range cases {
		if got := f.IntersectsSphere(tc.center, tc.radius); got != tc.want {
			t.Errorf("%s: IntersectsSphere = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestFrustumPlanesNormalized(t *testing.T) {
	f := testFrustum()
	for i, p := range f.Planes {
		l := math.Sqrt(float64(p.Normal[0]*p.Normal[0] + p.Normal[1]*p.Normal[1] + p.Normal[2]*p.Normal[2]))
		if math.Abs(l-1) > 1e-4 {
			t.Errorf("plane %d normal length = %v, want 1", i, l)
		}
	}
}
