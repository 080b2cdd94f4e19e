package compute

import (
	"fmt"
	"log"
	"time"

	"github.com/cogentcore/webgpu/wgpu"
)

// pipelineState tracks where a frame is in the record/submit/wait cycle.
// Calls out of order return ErrInvalidState instead of corrupting buffers.
type pipelineState uint8

const (
	stateIdle pipelineState = iota
	stateBuffersBound
	stateRecording
	stateSubmitted
	stateComplete
)

func (s pipelineState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateBuffersBound:
		return "buffers-bound"
	case stateRecording:
		return "recording"
	case stateSubmitted:
		return "submitted"
	case stateComplete:
		return "complete"
	}
	return "unknown"
}

const (
	workgroupSize = 256

	// DefaultWaitTimeout bounds how long WaitForCompute polls before
	// declaring the device lost.
	DefaultWaitTimeout = 2 * time.Second

	// DefaultMaxRecoveryAttempts bounds consecutive TryRecover calls.
	DefaultMaxRecoveryAttempts = 3
)

// Config tunes a ParticleSystem.
type Config struct {
	InitialParticles    int
	InitialPoolSize     uint64
	MaxRecoveryAttempts int
	WaitTimeout         time.Duration
	DebugEnabled        bool
	DebugSampleRate     int
}

// DefaultConfig matches the tuning used by the benchmark tool.
func DefaultConfig() Config {
	return Config{
		InitialParticles:    1000,
		InitialPoolSize:     InitialPoolSize,
		MaxRecoveryAttempts: DefaultMaxRecoveryAttempts,
		WaitTimeout:         DefaultWaitTimeout,
		DebugSampleRate:     60,
	}
}

// ParticleSystem drives the GPU particle kernel with double-buffered
// storage. The front buffer is what the kernel reads and writes; uploads go
// to the back buffer and swap in at the next RecordCompute, so a frame in
// flight never observes a partial write.
type ParticleSystem struct {
	sys  *System
	pool *BufferPool

	front *wgpu.Buffer
	back  *wgpu.Buffer
	dirty bool

	massBuf   *wgpu.Buffer
	paramsBuf *wgpu.Buffer
	staging   *wgpu.Buffer
	fence     *wgpu.Buffer

	capacity int // particles each buffer can hold
	count    int // live particles

	// CPU shadows of the last upload, re-pushed after device recovery.
	shadowParticles []Particle
	shadowMasses    []float32

	state            pipelineState
	pending          *wgpu.CommandBuffer
	fenceDone        chan error
	recoveryAttempts int
	maxRecovery      int
	waitTimeout      time.Duration

	debug *DebugView
}

// NewParticleSystem allocates buffers for cfg.InitialParticles and returns
// the system together with its debug view. The view is valid for the life
// of the system whether or not debug is enabled.
func NewParticleSystem(sys *System, cfg Config) (*ParticleSystem, *DebugView, error) {
	if cfg.InitialParticles < 0 {
		return nil, nil, fmt.Errorf("negative particle count %d: %w",
			cfg.InitialParticles, ErrInvalidState)
	}
	if cfg.MaxRecoveryAttempts <= 0 {
		cfg.MaxRecoveryAttempts = DefaultMaxRecoveryAttempts
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}

	ps := &ParticleSystem{
		sys:         sys,
		pool:        NewBufferPool(sys),
		maxRecovery: cfg.MaxRecoveryAttempts,
		waitTimeout: cfg.WaitTimeout,
		debug:       newDebugView(cfg.DebugEnabled, cfg.DebugSampleRate),
	}
	if cfg.InitialPoolSize > 0 {
		if err := ps.pool.Reserve(cfg.InitialPoolSize); err != nil {
			return nil, nil, err
		}
	}
	if err := ps.Resize(cfg.InitialParticles); err != nil {
		ps.pool.Release()
		return nil, nil, err
	}
	return ps, ps.debug, nil
}

// Count reports the live particle count.
func (ps *ParticleSystem) Count() int { return ps.count }

// Capacity reports how many particles fit without reallocating.
func (ps *ParticleSystem) Capacity() int { return ps.capacity }

// MemoryStats reports buffer pool occupancy.
func (ps *ParticleSystem) MemoryStats() MemoryStats { return ps.pool.Stats() }

func nextPow2(n int) int {
	if n <= 0 {
		return 0
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Resize grows or shrinks capacity to the next power of two at or above n,
// preserving the shadow data. Resize(0) releases the buffers entirely; a
// later Resize brings the system back.
func (ps *ParticleSystem) Resize(n int) error {
	if ps.state != stateIdle && ps.state != stateBuffersBound {
		return fmt.Errorf("resize during %s: %w", ps.state, ErrInvalidState)
	}

	newCap := nextPow2(n)
	if newCap == ps.capacity {
		ps.count = n
		ps.clampShadows()
		return nil
	}

	ps.releaseBuffers()
	ps.capacity = newCap
	ps.count = n
	ps.clampShadows()
	if newCap == 0 {
		ps.state = stateIdle
		return nil
	}

	byteSize := uint64(newCap) * ParticleSize
	var err error
	ps.front, err = ps.pool.Allocate("particles_front", byteSize,
		wgpu.BufferUsageStorage|wgpu.BufferUsageCopyDst|wgpu.BufferUsageCopySrc)
	if err != nil {
		return err
	}
	ps.back, err = ps.pool.Allocate("particles_back", byteSize,
		wgpu.BufferUsageStorage|wgpu.BufferUsageCopyDst|wgpu.BufferUsageCopySrc)
	if err != nil {
		return err
	}
	ps.massBuf, err = ps.pool.Allocate("particle_masses", uint64(newCap)*4,
		wgpu.BufferUsageStorage|wgpu.BufferUsageCopyDst)
	if err != nil {
		return err
	}
	ps.paramsBuf, err = ps.pool.Allocate("sim_params", uint64(paramsSize),
		wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst)
	if err != nil {
		return err
	}
	ps.staging, err = ps.pool.Allocate("particles_staging", byteSize,
		wgpu.BufferUsageMapRead|wgpu.BufferUsageCopyDst)
	if err != nil {
		return err
	}
	ps.fence, err = ps.pool.Allocate("fence", blockAlignment,
		wgpu.BufferUsageMapRead|wgpu.BufferUsageCopyDst)
	if err != nil {
		return err
	}

	// Carry surviving data onto the new buffers.
	if len(ps.shadowParticles) > 0 {
		ps.sys.queue.WriteBuffer(ps.front, 0, wgpu.ToBytes(ps.shadowParticles))
	}
	ps.uploadMasses()
	ps.state = stateBuffersBound
	return nil
}

func (ps *ParticleSystem) clampShadows() {
	if len(ps.shadowParticles) > ps.count {
		ps.shadowParticles = ps.shadowParticles[:ps.count]
	}
	if len(ps.shadowMasses) > ps.count {
		ps.shadowMasses = ps.shadowMasses[:ps.count]
	}
}

func (ps *ParticleSystem) releaseBuffers() {
	for _, buf := range []*wgpu.Buffer{ps.front, ps.back, ps.massBuf, ps.paramsBuf, ps.staging, ps.fence} {
		ps.pool.Free(buf)
	}
	ps.front, ps.back, ps.massBuf, ps.paramsBuf, ps.staging, ps.fence = nil, nil, nil, nil, nil, nil
}

// UpdateParticles stages new particle data on the back buffer. The data
// takes effect at the next RecordCompute; a frame already recorded keeps
// reading the front buffer.
func (ps *ParticleSystem) UpdateParticles(particles []Particle) error {
	if ps.state != stateIdle && ps.state != stateBuffersBound && ps.state != stateComplete {
		return fmt.Errorf("update during %s: %w", ps.state, ErrInvalidState)
	}
	if len(particles) > ps.capacity {
		prev := ps.capacity
		if err := ps.Resize(len(particles)); err != nil {
			return err
		}
		log.Printf("compute: grew particle buffers %d -> %d for %d particles",
			prev, ps.capacity, len(particles))
	}
	ps.count = len(particles)
	if ps.count == 0 {
		return nil
	}

	data := wgpu.ToBytes(particles)
	if capBytes := uint64(ps.capacity) * ParticleSize; uint64(len(data)) > capBytes {
		return fmt.Errorf("write %d bytes to %d byte buffer: %w",
			len(data), capBytes, ErrBufferOverflow)
	}
	ps.sys.queue.WriteBuffer(ps.back, 0, data)
	ps.dirty = true

	ps.shadowParticles = append(ps.shadowParticles[:0], particles...)
	if ps.state == stateIdle {
		ps.state = stateBuffersBound
	}
	return nil
}

// UpdateMasses replaces the per-particle masses. Length must match the live
// particle count; non-positive entries pin particles.
func (ps *ParticleSystem) UpdateMasses(masses []float32) error {
	if ps.state != stateIdle && ps.state != stateBuffersBound && ps.state != stateComplete {
		return fmt.Errorf("update during %s: %w", ps.state, ErrInvalidState)
	}
	if len(masses) != ps.count {
		return fmt.Errorf("mass count %d does not match particle count %d: %w",
			len(masses), ps.count, ErrInvalidState)
	}
	ps.shadowMasses = append(ps.shadowMasses[:0], masses...)
	ps.uploadMasses()
	return nil
}

func (ps *ParticleSystem) uploadMasses() {
	if ps.massBuf == nil || ps.capacity == 0 {
		return
	}
	masses := ps.shadowMasses
	if len(masses) < ps.count {
		// Default to unit mass for particles never given one.
		masses = make([]float32, ps.count)
		for i := range masses {
			masses[i] = 1
		}
		copy(masses, ps.shadowMasses)
	}
	if len(masses) > 0 {
		ps.sys.queue.WriteBuffer(ps.massBuf, 0, wgpu.ToBytes(masses))
	}
}

const paramsSize = 32

// RecordCompute encodes one kernel dispatch. If UpdateParticles staged new
// data the buffers swap first so the kernel sees the fresh upload.
func (ps *ParticleSystem) RecordCompute(p Params) error {
	if ps.state != stateBuffersBound && ps.state != stateIdle && ps.state != stateComplete {
		return fmt.Errorf("record during %s: %w", ps.state, ErrInvalidState)
	}
	if ps.capacity == 0 || ps.count == 0 {
		return fmt.Errorf("record with no particles: %w", ErrInvalidState)
	}

	if ps.dirty {
		ps.front, ps.back = ps.back, ps.front
		ps.dirty = false
	}

	uniform := simParams{
		DeltaTime:     p.DeltaTime,
		MaxVelocity:   p.MaxVelocity,
		BoundsMin:     p.BoundsMin,
		BoundsMax:     p.BoundsMax,
		ParticleCount: uint32(ps.count),
	}
	ps.sys.queue.WriteBuffer(ps.paramsBuf, 0, wgpu.ToBytes([]simParams{uniform}))

	pipeline, err := ps.sys.CreatePipeline("particle_update", particleWGSL, "update_particles")
	if err != nil {
		return err
	}

	bindGroup, err := ps.sys.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "particle_bind_group",
		Layout: pipeline.layout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: ps.front, Size: uint64(ps.capacity) * ParticleSize},
			{Binding: 1, Buffer: ps.paramsBuf, Size: paramsSize},
			{Binding: 2, Buffer: ps.massBuf, Size: uint64(ps.capacity) * 4},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create bind group: %w", err)
	}
	defer bindGroup.Release()

	encoder, err := ps.sys.device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("failed to create command encoder: %w", err)
	}
	ps.state = stateRecording

	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline.pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	groups := uint32((ps.count + workgroupSize - 1) / workgroupSize)
	pass.DispatchWorkgroups(groups, 1, 1)
	pass.End()
	pass.Release()

	// Stage the results for readback in the same submission, and touch the
	// fence buffer so its MapAsync completes only after the kernel ran.
	encoder.CopyBufferToBuffer(ps.front, 0, ps.staging, 0, uint64(ps.count)*ParticleSize)
	encoder.CopyBufferToBuffer(ps.front, 0, ps.fence, 0, blockAlignment)

	commands, err := encoder.Finish(nil)
	if err != nil {
		ps.state = stateBuffersBound
		return fmt.Errorf("failed to finish command encoder: %w", err)
	}
	ps.pending = commands
	return nil
}

// SubmitCompute hands the recorded commands to the queue and arms the fence.
func (ps *ParticleSystem) SubmitCompute() error {
	if ps.state != stateRecording || ps.pending == nil {
		return fmt.Errorf("submit during %s: %w", ps.state, ErrInvalidState)
	}
	ps.sys.queue.Submit(ps.pending)
	ps.pending.Release()
	ps.pending = nil

	done := make(chan error, 1)
	err := ps.fence.MapAsync(wgpu.MapModeRead, 0, blockAlignment,
		func(status wgpu.BufferMapAsyncStatus) {
			if status != wgpu.BufferMapAsyncStatusSuccess {
				done <- fmt.Errorf("fence map failed: %v", status)
			} else {
				done <- nil
			}
		})
	if err != nil {
		return fmt.Errorf("arm fence: %w", err)
	}
	ps.fenceDone = done
	ps.state = stateSubmitted
	ps.debug.noteSubmit()
	return nil
}

// WaitForCompute blocks until the submitted work completes. If the fence
// does not signal within the timeout the device is declared lost; the
// caller decides whether to TryRecover.
func (ps *ParticleSystem) WaitForCompute() error {
	if ps.state != stateSubmitted {
		return fmt.Errorf("wait during %s: %w", ps.state, ErrInvalidState)
	}

	start := time.Now()
	deadline := start.Add(ps.waitTimeout)
	for {
		ps.sys.device.Poll(false, nil)
		select {
		case err := <-ps.fenceDone:
			ps.fenceDone = nil
			if err != nil {
				return fmt.Errorf("compute fence: %v: %w", err, ErrDeviceLost)
			}
			ps.fence.Unmap()
			ps.state = stateComplete
			ps.recoveryAttempts = 0
			ps.debug.noteComplete(time.Since(start), ps.count)
			return nil
		default:
		}
		if time.Now().After(deadline) {
			ps.fenceDone = nil
			return fmt.Errorf("compute fence timeout after %s: %w",
				ps.waitTimeout, ErrDeviceLost)
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// ReadParticles maps the staging copy made at RecordCompute and returns the
// first count post-kernel particles. Counts outside [0, live] are clamped to
// the live set. The full set is always mapped so the recovery shadow stays
// current. The pipeline returns to idle.
func (ps *ParticleSystem) ReadParticles(count int) ([]Particle, error) {
	if ps.state != stateComplete {
		return nil, fmt.Errorf("read during %s: %w", ps.state, ErrInvalidState)
	}
	if count < 0 || count > ps.count {
		count = ps.count
	}

	byteSize := uint64(ps.count) * ParticleSize
	done := make(chan error, 1)
	err := ps.staging.MapAsync(wgpu.MapModeRead, 0, byteSize,
		func(status wgpu.BufferMapAsyncStatus) {
			if status != wgpu.BufferMapAsyncStatusSuccess {
				done <- fmt.Errorf("staging map failed: %v", status)
			} else {
				done <- nil
			}
		})
	if err != nil {
		return nil, err
	}
	ps.sys.device.Poll(true, nil)
	if err := <-done; err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrDeviceLost)
	}

	mapped := ps.staging.GetMappedRange(0, uint(byteSize))
	out := make([]Particle, ps.count)
	copy(wgpu.ToBytes(out), mapped)
	ps.staging.Unmap()

	ps.shadowParticles = append(ps.shadowParticles[:0], out...)
	ps.state = stateBuffersBound
	return out[:count], nil
}

// TryRecover rebuilds the device after a loss and restores the shadow data.
// Each consecutive failure counts against the attempt budget; a successful
// WaitForCompute resets it.
func (ps *ParticleSystem) TryRecover() error {
	if ps.recoveryAttempts >= ps.maxRecovery {
		return fmt.Errorf("after %d attempts: %w", ps.recoveryAttempts, ErrRecoveryExhausted)
	}
	ps.recoveryAttempts++
	log.Printf("compute: device recovery attempt %d/%d", ps.recoveryAttempts, ps.maxRecovery)

	if ps.pending != nil {
		ps.pending.Release()
		ps.pending = nil
	}
	ps.fenceDone = nil

	if err := ps.sys.Recreate(); err != nil {
		return fmt.Errorf("recovery attempt %d: %w", ps.recoveryAttempts, err)
	}

	// Old handles died with the device; rebuild from the shadows.
	ps.pool.Reset()
	ps.front, ps.back, ps.massBuf, ps.paramsBuf, ps.staging, ps.fence = nil, nil, nil, nil, nil, nil
	prevCap, prevCount := ps.capacity, ps.count
	ps.capacity = -1 // force reallocation
	ps.state = stateIdle
	if err := ps.Resize(prevCap); err != nil {
		return fmt.Errorf("recovery attempt %d: %w", ps.recoveryAttempts, err)
	}
	ps.count = prevCount
	ps.debug.noteRecovery()
	return nil
}

// Release frees all GPU resources.
func (ps *ParticleSystem) Release() {
	if ps.pending != nil {
		ps.pending.Release()
		ps.pending = nil
	}
	ps.releaseBuffers()
	ps.pool.Release()
	ps.state = stateIdle
	ps.capacity = 0
	ps.count = 0
}
