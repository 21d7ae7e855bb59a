// Package arena implements carving of monitor-allocated shared
// buffers into slots, one producer at a time, with a flush protocol
// back to the monitor. Two buffer kinds are modeled: the process-wide
// Sync Ring (fixed-size slots) and the per-thread SHM Op Ring
// (variable-length slots).
package arena

import (
	"sync/atomic"

	"github.com/mvee-systems/replicant/internal/spin"
	"github.com/mvee-systems/replicant/monitor"
)

// CacheLineBytes is the padding unit: buffer-info must live on its
// own cache line, and slot records are padded to 64 bytes to avoid
// false sharing.
const CacheLineBytes = 64

// Info is the per-buffer metadata cache line. One Info guards one
// shared buffer (Sync Ring or a single thread's SHM Op Ring); the
// leader holds Lock (decremented to 0) while writing, Pos never
// exceeds Size, and FlushCnt is the monotonically increasing flush
// generation every replay discipline checks against.
type Info struct {
	Lock     spin.DecrementLock
	Pos      atomic.Uint32
	Size     atomic.Uint32
	FlushCnt atomic.Uint32
	Flushing atomic.Uint32 // 0/1, acquire/release guarded
	Kind     monitor.BufferKind

	_ [CacheLineBytes - 5*4 - 1]byte // pad the struct out to one cache line
}

// NewInfo builds an Info for a buffer with the given slot capacity.
func NewInfo(kind monitor.BufferKind, size uint32) *Info {
	i := &Info{Kind: kind}
	i.Lock.Reset()
	i.Size.Store(size)
	return i
}

// IsFlushing reports whether a flush is currently in progress
// (acquire-load).
func (i *Info) IsFlushing() bool {
	return i.Flushing.Load() != 0
}

// BeginFlush marks the buffer as flushing (release-store) and returns
// the flush generation this flush will produce.
func (i *Info) BeginFlush() uint32 {
	i.Flushing.Store(1)
	return i.FlushCnt.Load() + 1
}

// EndFlush resets Pos to zero, bumps FlushCnt, and clears the
// flushing marker, in that order so that a reader re-checking
// FlushCnt after Flushing never observes a stale Pos.
func (i *Info) EndFlush() {
	i.Pos.Store(0)
	i.FlushCnt.Add(1)
	i.Flushing.Store(0)
}
