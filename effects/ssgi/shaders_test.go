package ssgi

import (
	"strings"
	"testing"

	"github.com/gogpu/naga"
)

// compileWGSL validates a shader through naga, skipping when the source uses
// a WGSL feature the pure-Go compiler does not handle yet.
func compileWGSL(t *testing.T, name, source string) {
	t.Helper()
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "not yet implemented") ||
			strings.Contains(msg, "not supported") {
			t.Skipf("naga cannot compile %s yet: %v", name, err)
		}
		t.Fatalf("%s failed to compile: %v", name, err)
	}
	if len(spirvBytes) == 0 {
		t.Fatalf("%s compiled to empty SPIR-V", name)
	}
}

func TestHZBReduceShaderCompiles(t *testing.T) {
	compileWGSL(t, "hzb reduce", hzbReduceWGSL)
}

func TestRayMarchShaderCompiles(t *testing.T) {
	compileWGSL(t, "ray march", rayMarchWGSL)
}

func TestShaderJitterMatchesCPU(t *testing.T) {
	// The WGSL source must carry the same wang hash constants as the CPU
	// kernels, otherwise the two paths jitter differently and flicker when
	// the pipeline falls back mid-session.
	for _, constant := range []string{"0x27d4eb2du", "16777216.0", "1973u", "9277u", "26699u"} {
		if !strings.Contains(rayMarchWGSL, constant) {
			t.Errorf("ray march shader missing jitter constant %s", constant)
		}
	}
}
