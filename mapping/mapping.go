// Package mapping implements the process-global table of active
// shared mappings, sorted by address, looked up on every SHM op.
// Inserts and deletes are serialized by a spinlock; lookups are
// lock-free readers that only ever follow release-stored
// `next` pointers, so a reader never observes a partially unlinked
// node.
package mapping

import (
	"errors"
	"sync/atomic"

	"github.com/mvee-systems/replicant/internal/spin"
)

// ErrOverlap is returned when an insert's range overlaps an existing
// entry. This is treated as a fatal bug; callers should route it into
// the configuration-fault path rather than recover from it.
var ErrOverlap = errors.New("mapping: overlapping range")

// ErrPartialUnmap is returned when Remove's length does not match the
// full mapped range of the entry at base. Partial unmaps are
// unsupported.
var ErrPartialUnmap = errors.New("mapping: partial unmap is unsupported")

// ErrNotFound is returned by Remove when no entry starts at base.
var ErrNotFound = errors.New("mapping: no entry at base")

// Entry records one active shared mapping.
// ShadowBase is zero when the mapping has no shadow attachment
// (no-shadow mode).
type Entry struct {
	RealBase   uintptr
	ShadowBase uintptr
	Length     uintptr

	// Release, if set, is called by the table's owner after a
	// successful Remove to unmap the real region and, when present,
	// detach the shadow segment. Entry itself has no notion of mmap
	// vs SysV; the caller that built the Entry is the one that knows
	// how to release it.
	Release func() error

	next atomic.Pointer[Entry]
	prev *Entry // only ever touched under the table's spinlock
}

// HasShadow reports whether this entry has a shadow attachment.
func (e *Entry) HasShadow() bool {
	return e.ShadowBase != 0
}

// Contains reports whether addr falls within [RealBase, RealBase+Length).
func (e *Entry) Contains(addr uintptr) bool {
	return addr >= e.RealBase && addr < e.RealBase+e.Length
}

// Table is the process-global mapping table. Its zero value is ready
// to use.
type Table struct {
	lock spin.Lock
	head atomic.Pointer[Entry]

	// generation increments on every structural change, letting
	// callers detect "the table changed under me" the same way
	// arena's flush_cnt lets a partial-order scan detect a concurrent
	// flush.
	generation atomic.Uint64
}

// Generation returns the current structural-change counter.
func (t *Table) Generation() uint64 {
	return t.generation.Load()
}

// Insert adds e to the table, keeping the list sorted by RealBase.
// Overlap with an existing entry is a fatal bug and returns
// ErrOverlap without mutating the table.
func (t *Table) Insert(e *Entry) error {
	t.lock.Acquire()
	defer t.lock.Release()

	var prev *Entry
	cur := t.head.Load()
	for cur != nil && cur.RealBase < e.RealBase {
		prev = cur
		cur = cur.next.Load()
	}
	if cur != nil && rangesOverlap(e, cur) {
		return ErrOverlap
	}
	if prev != nil && rangesOverlap(prev, e) {
		return ErrOverlap
	}

	e.prev = prev
	e.next.Store(cur)
	if cur != nil {
		cur.prev = e
	}
	if prev != nil {
		prev.next.Store(e) // release-store: readers following prev.next now see e
	} else {
		t.head.Store(e) // release-store: readers of head now see e
	}
	t.generation.Add(1)
	return nil
}

func rangesOverlap(a, b *Entry) bool {
	aEnd := a.RealBase + a.Length
	bEnd := b.RealBase + b.Length
	return a.RealBase < bEnd && b.RealBase < aEnd
}

// Remove unlinks the entry whose RealBase equals base. length must
// equal the entry's full Length; a mismatch means a partial unmap was
// requested, which is unsupported, and Remove returns ErrPartialUnmap
// leaving the table unchanged.
func (t *Table) Remove(base uintptr, length uintptr) (*Entry, error) {
	t.lock.Acquire()
	defer t.lock.Release()

	cur := t.head.Load()
	for cur != nil && cur.RealBase < base {
		cur = cur.next.Load()
	}
	if cur == nil || cur.RealBase != base {
		return nil, ErrNotFound
	}
	if cur.Length != length {
		return nil, ErrPartialUnmap
	}

	next := cur.next.Load()
	prev := cur.prev
	if prev != nil {
		prev.next.Store(next) // release-store: unlink is atomic from a reader's view
	} else {
		t.head.Store(next)
	}
	if next != nil {
		next.prev = prev
	}
	t.generation.Add(1)
	return cur, nil
}

// Lookup returns the entry whose range covers addr, or nil. It takes
// no lock: readers are synchronized purely by the release-stores
// Insert/Remove perform on `next` and `head`, and by acquire-loading
// those same pointers here.
func (t *Table) Lookup(addr uintptr) *Entry {
	cur := t.head.Load() // acquire-load
	for cur != nil {
		if cur.Contains(addr) {
			return cur
		}
		if cur.RealBase > addr {
			return nil
		}
		cur = cur.next.Load() // acquire-load
	}
	return nil
}

// Len walks the table and counts entries. Intended for tests and
// diagnostics, not the hot path.
func (t *Table) Len() int {
	n := 0
	for cur := t.head.Load(); cur != nil; cur = cur.next.Load() {
		n++
	}
	return n
}
