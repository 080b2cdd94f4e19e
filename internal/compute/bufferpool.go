package compute

import (
	"fmt"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
)

// Buffer pool sizing. Allocations are rounded up to the alignment so
// recycled blocks match future requests; the byte ceiling keeps a runaway
// caller from exhausting GPU memory.
const (
	blockAlignment  = 256
	InitialPoolSize = 1 << 20   // 1 MiB
	MaxPoolSize     = 256 << 20 // 256 MiB
)

// MemoryStats is a snapshot of pool occupancy.
type MemoryStats struct {
	TotalAllocated uint64
	Used           uint64
	Free           uint64
	BlockCount     int
	FreeBlockCount int
}

type block struct {
	buffer *wgpu.Buffer
	size   uint64
	usage  wgpu.BufferUsage
}

// BufferPool recycles GPU buffers by size class and usage. A freed block is
// handed back verbatim to the next allocation it fits, so steady-state
// frames allocate nothing.
type BufferPool struct {
	sys *System

	mu    sync.Mutex
	live  map[*wgpu.Buffer]*block
	freed []*block
	total uint64
	used  uint64
}

// NewBufferPool wraps the system's device.
func NewBufferPool(sys *System) *BufferPool {
	return &BufferPool{
		sys:  sys,
		live: make(map[*wgpu.Buffer]*block),
	}
}

// Reserve pre-creates a free storage block of the given size so the first
// frame's allocations hit the free list instead of the driver.
func (p *BufferPool) Reserve(size uint64) error {
	if size == 0 {
		return nil
	}
	buf, err := p.Allocate("pool_reserve", size,
		wgpu.BufferUsageStorage|wgpu.BufferUsageCopyDst|wgpu.BufferUsageCopySrc)
	if err != nil {
		return err
	}
	p.Free(buf)
	return nil
}

func alignUp(size uint64) uint64 {
	return (size + blockAlignment - 1) &^ (blockAlignment - 1)
}

// Allocate returns a buffer of at least size bytes with the given usage,
// reusing a freed block when one fits. Blocks more than twice the request
// are not reused, so small allocations cannot pin large blocks.
func (p *BufferPool) Allocate(label string, size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("allocate %q: zero size: %w", label, ErrMemoryAllocation)
	}
	aligned := alignUp(size)

	p.mu.Lock()
	defer p.mu.Unlock()

	for i, b := range p.freed {
		if b.usage == usage && b.size >= aligned && b.size <= aligned*2 {
			p.freed = append(p.freed[:i], p.freed[i+1:]...)
			p.live[b.buffer] = b
			p.used += b.size
			return b.buffer, nil
		}
	}

	if p.total+aligned > MaxPoolSize {
		return nil, fmt.Errorf("allocate %q: %d bytes would exceed pool limit: %w",
			label, aligned, ErrMemoryAllocation)
	}

	buf, err := p.sys.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  aligned,
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("allocate %q: %v: %w", label, err, ErrMemoryAllocation)
	}

	b := &block{buffer: buf, size: aligned, usage: usage}
	p.live[buf] = b
	p.total += aligned
	p.used += aligned
	return buf, nil
}

// Free returns a buffer to the pool for reuse. Buffers not owned by the
// pool are ignored.
func (p *BufferPool) Free(buf *wgpu.Buffer) {
	if buf == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.live[buf]
	if !ok {
		return
	}
	delete(p.live, buf)
	p.used -= b.size
	p.freed = append(p.freed, b)
}

// Stats returns a snapshot of pool occupancy.
func (p *BufferPool) Stats() MemoryStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return MemoryStats{
		TotalAllocated: p.total,
		Used:           p.used,
		Free:           p.total - p.used,
		BlockCount:     len(p.live) + len(p.freed),
		FreeBlockCount: len(p.freed),
	}
}

// Release destroys every block, live and freed. Outstanding buffers become
// invalid.
func (p *BufferPool) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for buf := range p.live {
		buf.Release()
	}
	for _, b := range p.freed {
		b.buffer.Release()
	}
	p.live = make(map[*wgpu.Buffer]*block)
	p.freed = nil
	p.total = 0
	p.used = 0
}

// Reset drops pool bookkeeping without releasing wgpu handles. Used after
// device loss, when the old handles are already dead.
func (p *BufferPool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live = make(map[*wgpu.Buffer]*block)
	p.freed = nil
	p.total = 0
	p.used = 0
}
