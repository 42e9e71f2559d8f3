package common

import (
	"math"
	"testing"
)

func TestInvert4RoundTrip(t *testing.T) {
	view := make([]float32, 16)
	proj := make([]float32, 16)
	vp := make([]float32, 16)
	inv := make([]float32, 16)
	id := make([]float32, 16)

	LookAt(view, 3, 2, 5, 0, 0, 0, 0, 1, 0)
	Perspective(proj, math.Pi/3, 16.0/9.0, 0.1, 100)
	Mul4(vp, proj, view)

	if !Invert4(inv, vp) {
		t.Fatal("view-projection matrix reported singular")
	}
	Mul4(id, vp, inv)

	for i := 0; i < 16; i++ {
		want := float32(0)
		if i%5 == 0 {
			want = 1
		}
		if diff := float64(id[i] - want); math.Abs(diff) > 1e-4 {
			t.Errorf("element %d: got %v, want %v", i, id[i], want)
		}
	}
}

func TestInvert4Singular(t *testing.T) {
	m := make([]float32, 16) // all zeros
	out := make([]float32, 16)
	if Invert4(out, m) {
		t.Fatal("zero matrix should not be invertible")
	}
}

func TestProjectUnprojectRoundTrip(t *testing.T) {
	view := make([]float32, 16)
	proj := make([]float32, 16)
	vp := make([]float32, 16)
	inv := make([]float32, 16)

	LookAt(view, 0, 1, 4, 0, 0, 0, 0, 1, 0)
	Perspective(proj, math.Pi/3, 1.5, 0.1, 50)
	Mul4(vp, proj, view)
	if !Invert4(inv, vp) {
		t.Fatal("view-projection not invertible")
	}

	points := [][3]float32{
		{0, 0, 0},
		{1, -0.5, 1},
		{-2, 1, -3},
	}
	for _, p := range points {
		u, v, d, ok := Project(vp, p)
		if !ok {
			t.Fatalf("point %v projected behind camera", p)
		}
		back := Unproject(inv, u, v, d)
		if Length3(Sub3(back, p)) > 1e-3 {
			t.Errorf("round trip of %v gave %v", p, back)
		}
	}
}

func TestProjectBehindCamera(t *testing.T) {
	view := make([]float32, 16)
	proj := make([]float32, 16)
	vp := make([]float32, 16)

	LookAt(view, 0, 0, 5, 0, 0, 0, 0, 1, 0)
	Perspective(proj, math.Pi/3, 1, 0.1, 50)
	Mul4(vp, proj, view)

	if _, _, _, ok := Project(vp, [3]float32{0, 0, 20}); ok {
		t.Fatal("point behind the camera should not project")
	}
}

func TestNormalize3Zero(t *testing.T) {
	v := Normalize3([3]float32{0, 0, 0})
	for _, c := range v {
		if c != 0 {
			t.Fatalf("normalizing zero vector produced %v", v)
		}
	}
}

func TestVecHelpers(t *testing.T) {
	a := [3]float32{1, 2, 3}
	b := [3]float32{4, 5, 6}

	if got := Dot3(a, b); got != 32 {
		t.Errorf("Dot3 = %v, want 32", got)
	}
	cross := Cross3([3]float32{1, 0, 0}, [3]float32{0, 1, 0})
	if cross != [3]float32{0, 0, 1} {
		t.Errorf("Cross3 = %v, want (0,0,1)", cross)
	}
	if got := Length3([3]float32{3, 4, 0}); got != 5 {
		t.Errorf("Length3 = %v, want 5", got)
	}
}
