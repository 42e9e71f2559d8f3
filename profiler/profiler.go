// Package profiler tracks frame rate, per-stage pipeline timings, and memory
// statistics, logging a summary at a configurable interval.
package profiler

import (
	"fmt"
	"log"
	"runtime"
	"sort"
	"strings"
	"time"
)

// Profiler aggregates frame and stage timings between log intervals. Not safe
// for concurrent use; call it from the render loop only.
type Profiler struct {
	frameCount     int
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64

	stageTotals map[string]time.Duration
	stageOrder  []string
}

// ProfilerBuilderOption is a functional option applied to a profiler during
// construction via NewProfiler.
type ProfilerBuilderOption func(*Profiler)

// WithUpdateInterval overrides the default one-second logging interval.
//
// Parameters:
//   - interval: time between log lines
//
// Returns:
//   - ProfilerBuilderOption: a function that applies the interval option
func WithUpdateInterval(interval time.Duration) ProfilerBuilderOption {
	return func(p *Profiler) {
		if interval > 0 {
			p.updateInterval = interval
		}
	}
}

// NewProfiler creates a new Profiler. The update interval defaults to one
// second.
//
// Parameters:
//   - options: functional options for profiler configuration
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(options ...ProfilerBuilderOption) *Profiler {
	p := &Profiler{
		lastTime:       time.Now(),
		updateInterval: time.Second,
		stageTotals:    make(map[string]time.Duration),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// TrackStage adds one frame's duration for a named pipeline stage. Stage
// averages are logged alongside the frame stats on the next interval tick.
//
// Parameters:
//   - name: the stage label as it should appear in the log
//   - d: the stage's wall-clock duration this frame
func (p *Profiler) TrackStage(name string, d time.Duration) {
	if _, seen := p.stageTotals[name]; !seen {
		p.stageOrder = append(p.stageOrder, name)
	}
	p.stageTotals[name] += d
}

// Tick should be called once per frame to track frame timing.
// Logs performance statistics when the update interval has elapsed:
// FPS, per-stage averages, heap usage, allocation rate, and GC pauses.
//
// Returns:
//   - bool: true if stats were logged this tick, false otherwise
func (p *Profiler) Tick() bool {
	p.frameCount++
	currentTime := time.Now()
	elapsed := currentTime.Sub(p.lastTime)

	if elapsed < p.updateInterval {
		return false
	}

	fps := float64(p.frameCount) / elapsed.Seconds()

	runtime.ReadMemStats(&p.memStats)
	allocMB := float64(p.memStats.Alloc) / 1024 / 1024
	sysMB := float64(p.memStats.Sys) / 1024 / 1024

	allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
	allocRateMB := float64(allocDelta) / 1024 / 1024 / elapsed.Seconds()

	gcCount := p.memStats.NumGC
	var lastPauseUs, maxPauseUs uint64
	if gcCount > 0 {
		// PauseNs is a circular buffer of the last 256 GC pauses.
		lastPauseUs = p.memStats.PauseNs[(gcCount-1)%256] / 1000

		startIdx := p.lastGCCount
		if gcCount-startIdx > 256 {
			startIdx = gcCount - 256
		}
		for i := startIdx; i < gcCount; i++ {
			pause := p.memStats.PauseNs[i%256] / 1000
			if pause > maxPauseUs {
				maxPauseUs = pause
			}
		}
	}

	log.Printf("[Profiler] FPS: %.2f | Heap: %.2f MB | Alloc Rate: %.2f MB/s | GC: %d (last: %d µs, max: %d µs) | Sys: %.2f MB",
		fps, allocMB, allocRateMB, gcCount, lastPauseUs, maxPauseUs, sysMB)
	if line := p.stageLine(); line != "" {
		log.Printf("[Profiler] Stages (avg): %s", line)
	}

	p.frameCount = 0
	p.lastTime = currentTime
	p.lastGCCount = gcCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	for name := range p.stageTotals {
		p.stageTotals[name] = 0
	}
	return true
}

// stageLine formats the per-stage averages in registration order.
func (p *Profiler) stageLine() string {
	if p.frameCount == 0 || len(p.stageOrder) == 0 {
		return ""
	}
	parts := make([]string, 0, len(p.stageOrder))
	for _, name := range p.stageOrder {
		avg := p.stageTotals[name] / time.Duration(p.frameCount)
		parts = append(parts, fmt.Sprintf("%s %.2fms", name, float64(avg.Microseconds())/1000))
	}
	return strings.Join(parts, " | ")
}

// StageAverages returns the average duration of every tracked stage since the
// last interval tick, sorted by name. Exposed for hosts that render their own
// overlay instead of reading the log.
//
// Returns:
//   - map[string]time.Duration: stage name to average duration
func (p *Profiler) StageAverages() map[string]time.Duration {
	out := make(map[string]time.Duration, len(p.stageTotals))
	if p.frameCount == 0 {
		return out
	}
	names := make([]string, 0, len(p.stageTotals))
	for name := range p.stageTotals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out[name] = p.stageTotals[name] / time.Duration(p.frameCount)
	}
	return out
}
