package compute

import (
	"sync"
	"time"
)

// DebugStats is a sampled snapshot of pipeline activity.
type DebugStats struct {
	FramesSubmitted uint64
	FramesCompleted uint64
	Recoveries      uint64
	ParticleCount   int
	LastKernelTime  time.Duration
	AvgKernelTime   time.Duration
}

// ProfilingData holds the most recent kernel wall times, newest last.
type ProfilingData struct {
	KernelTimes []time.Duration
}

const profilingWindow = 120

// DebugView observes a ParticleSystem without being on its hot path. When
// disabled, sampling still counts frames but records no timings.
type DebugView struct {
	mu         sync.Mutex
	enabled    bool
	sampleRate int

	stats     DebugStats
	totalTime time.Duration
	samples   uint64
	times     []time.Duration
}

func newDebugView(enabled bool, sampleRate int) *DebugView {
	if sampleRate <= 0 {
		sampleRate = 60
	}
	return &DebugView{enabled: enabled, sampleRate: sampleRate}
}

// Enabled reports whether timing capture is on.
func (d *DebugView) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

// SetEnabled toggles timing capture at runtime.
func (d *DebugView) SetEnabled(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = on
}

func (d *DebugView) noteSubmit() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.FramesSubmitted++
}

func (d *DebugView) noteComplete(elapsed time.Duration, particles int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.FramesCompleted++
	d.stats.ParticleCount = particles
	if !d.enabled {
		return
	}
	if d.stats.FramesCompleted%uint64(d.sampleRate) != 0 {
		return
	}
	d.stats.LastKernelTime = elapsed
	d.totalTime += elapsed
	d.samples++
	d.stats.AvgKernelTime = d.totalTime / time.Duration(d.samples)
	d.times = append(d.times, elapsed)
	if len(d.times) > profilingWindow {
		d.times = d.times[len(d.times)-profilingWindow:]
	}
}

func (d *DebugView) noteRecovery() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Recoveries++
}

// Stats returns the current counters.
func (d *DebugView) Stats() DebugStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Profiling returns a copy of the recent kernel times.
func (d *DebugView) Profiling() ProfilingData {
	d.mu.Lock()
	defer d.mu.Unlock()
	return ProfilingData{KernelTimes: append([]time.Duration(nil), d.times...)}
}
