// Command lumen-demo renders a small animated test room through the SSGI
// pipeline. Windowed mode presents the composited frame through a WebGPU
// surface and runs the heavy stages on the GPU; headless mode runs the CPU
// kernels for a fixed frame count and dumps intermediates as WebP.
package main

import (
	"flag"
	"log"
	"math"
	"time"

	"github.com/Carmen-Shannon/lumen-go/common"
	"github.com/Carmen-Shannon/lumen-go/effects/buffer"
	"github.com/Carmen-Shannon/lumen-go/effects/params"
	"github.com/Carmen-Shannon/lumen-go/effects/ssgi"
	"github.com/Carmen-Shannon/lumen-go/gpu"
	"github.com/Carmen-Shannon/lumen-go/profiler"
	"github.com/Carmen-Shannon/lumen-go/window"
)

func main() {
	headless := flag.Bool("headless", false, "render without a window and exit after -frames")
	frames := flag.Int("frames", 120, "frame count in headless mode")
	width := flag.Int("width", 960, "render width in pixels")
	height := flag.Int("height", 540, "render height in pixels")
	captureDir := flag.String("capture", "", "directory for WebP dumps of intermediate buffers")
	captureEvery := flag.Int("capture-every", 30, "capture interval in frames")
	fallbackAdapter := flag.Bool("fallback-adapter", false, "force the software WebGPU adapter")
	flag.Parse()

	settings := params.DefaultSettings()
	settings.SecondDenoisePass = true

	opts := []ssgi.PipelineBuilderOption{ssgi.WithSettings(settings)}
	if *captureDir != "" {
		opts = append(opts, ssgi.WithCapture(*captureDir, *captureEvery))
	}

	if *headless {
		runHeadless(opts, *width, *height, *frames)
		return
	}
	runWindowed(opts, settings, *width, *height, *fallbackAdapter)
}

func runHeadless(opts []ssgi.PipelineBuilderOption, width, height, frames int) {
	pipe := ssgi.NewPipeline(opts...)
	defer pipe.Release()

	scene := newRoomScene(width, height)
	prof := profiler.NewProfiler()

	for i := 0; i < frames; i++ {
		in := scene.advance(float64(i) / 60.0)
		if !pipe.RenderFrame(in) {
			log.Fatalf("[Demo] frame %d rejected", i)
		}
		trackStages(prof, pipe.FrameTimings())
		prof.Tick()
	}
	log.Printf("[Demo] rendered %d frames at %dx%d", frames, width, height)
}

func runWindowed(opts []ssgi.PipelineBuilderOption, settings params.Settings, width, height int, fallbackAdapter bool) {
	win := window.NewWindow(
		window.WithTitle("Lumen SSGI Demo"),
		window.WithSize(width, height),
	)
	defer win.Close()

	devOpts := []gpu.DeviceBuilderOption{gpu.WithSurfaceDescriptor(win.SurfaceDescriptor())}
	if fallbackAdapter {
		devOpts = append(devOpts, gpu.WithForceFallbackAdapter())
	}
	device, err := gpu.NewDevice(devOpts...)
	if err != nil {
		log.Fatalf("[Demo] device init failed: %v", err)
	}
	defer device.Release()

	if err := device.ConfigureSurface(win.Width(), win.Height()); err != nil {
		log.Fatalf("[Demo] surface configuration failed: %v", err)
	}

	pipe := ssgi.NewPipeline(append(opts, ssgi.WithDevice(device))...)
	defer pipe.Release()

	scene := newRoomScene(win.Width(), win.Height())
	prof := profiler.NewProfiler()
	start := time.Now()

	win.SetResizeCallback(func(w, h int) {
		if w < 1 || h < 1 {
			return
		}
		if err := device.ConfigureSurface(w, h); err != nil {
			log.Printf("[Demo] surface reconfigure failed: %v", err)
			return
		}
		scene = newRoomScene(w, h)
	})

	win.SetKeyDownCallback(func(keyCode uint32) {
		s := pipe.Settings()
		switch keyCode {
		case common.KeyD:
			s.EnableDenoise = !s.EnableDenoise
			log.Printf("[Demo] denoise: %v", s.EnableDenoise)
		case common.KeyG:
			s.AggressiveDenoise = !s.AggressiveDenoise
			log.Printf("[Demo] aggressive denoise: %v", s.AggressiveDenoise)
		case common.Key1:
			s.DownsampleFactor = 0.5
			log.Printf("[Demo] indirect at half resolution")
		case common.Key2:
			s.DownsampleFactor = 1.0
			log.Printf("[Demo] indirect at full resolution")
		default:
			return
		}
		pipe.UpdateSettings(s)
	})

	win.SetScrollCallback(func(delta float32) {
		s := pipe.Settings()
		s.TemporalIntensity = common.Clamp(s.TemporalIntensity+delta*0.1, 0, 1)
		log.Printf("[Demo] temporal intensity: %.2f", s.TemporalIntensity)
		pipe.UpdateSettings(s)
	})

	var pixels []byte
	win.SetUpdateCallback(func() {
		in := scene.advance(time.Since(start).Seconds())
		if !pipe.RenderFrame(in) {
			return
		}

		pixels = packRGBA(in.Color, pixels)
		if err := device.Present(pixels, scene.width, scene.height); err != nil {
			log.Printf("[Demo] present failed: %v", err)
		}

		trackStages(prof, pipe.FrameTimings())
		prof.Tick()
	})

	win.ProcessMessages()
}

func trackStages(prof *profiler.Profiler, t ssgi.StageTimings) {
	prof.TrackStage("hzb", t.HZB)
	prof.TrackStage("surface", t.Surface)
	prof.TrackStage("march", t.RayMarch)
	prof.TrackStage("temporal", t.Temporal)
	prof.TrackStage("denoise", t.Denoise)
	prof.TrackStage("composite", t.Composite)
}

// packRGBA tone-maps a linear color buffer into an RGBA8 byte slice for the
// surface blit, reusing the destination when the size still fits.
func packRGBA(color *buffer.Buffer, dst []byte) []byte {
	w, h := color.Width(), color.Height()
	need := w * h * 4
	if cap(dst) < need {
		dst = make([]byte, need)
	}
	dst = dst[:need]

	i := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := color.Pixel(x, y)
			dst[i] = toneByte(p[0])
			dst[i+1] = toneByte(p[1])
			dst[i+2] = toneByte(p[2])
			dst[i+3] = 0xFF
			i += 4
		}
	}
	return dst
}

func toneByte(v float32) byte {
	if v <= 0 {
		return 0
	}
	if v > 1 {
		v = 1
	}
	return byte(math.Pow(float64(v), 1/2.2)*255 + 0.5)
}
