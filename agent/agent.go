// Package agent wires the four components into the external
// interfaces an embedding library calls: it owns the
// process-wide identity tuple, mapping table, and sync ring, and
// bridges the raw-pointer entry points down to the byte-oriented
// shmagent/syncagent APIs.
package agent

import (
	"github.com/mvee-systems/replicant/addrtag"
	"github.com/mvee-systems/replicant/arena"
	"github.com/mvee-systems/replicant/identity"
	"github.com/mvee-systems/replicant/internal/diag"
	"github.com/mvee-systems/replicant/mapping"
	"github.com/mvee-systems/replicant/monitor"
	"github.com/mvee-systems/replicant/shmagent"
	"github.com/mvee-systems/replicant/syncagent"
)

// Agent is the per-process handle an embedding library constructs
// once and shares across every mediated call site.
type Agent struct {
	Identity *identity.Tuple
	Monitor  monitor.Monitor
	Mapping  *mapping.Table
	Sync     *syncagent.Agent
	Shm      *shmagent.Agent

	ShmTag uint32 // this variant's own address-tag xor key
}

// New builds an Agent around an already-constructed sync strategy.
// The caller selects total-order, partial-order, or write-once-counter
// by passing the matching syncagent.Strategy: a pluggable strategy,
// not conditional compilation.
func New(mon monitor.Monitor, sync syncagent.Strategy, shmTag uint32) *Agent {
	return &Agent{
		Identity: &identity.Tuple{},
		Monitor:  mon,
		Mapping:  &mapping.Table{},
		Sync:     syncagent.New(sync, mon),
		Shm:      shmagent.New(mon),
		ShmTag:   shmTag,
	}
}

// ready reports whether the identity tuple has been fetched and the
// process is confirmed running under a monitor. Every entry point
// below is a no-op (or a direct pass-through) until this is true.
func (a *Agent) ready() (monitor.Identity, bool) {
	return a.Identity.Fetch(a.Monitor)
}

// PreOp is the entry point for an atomic op against private memory:
// it blocks the calling thread until its replay strategy authorizes
// the real hardware atomic to proceed.
func (a *Agent) PreOp(c *syncagent.Cursor, opType uint32, wordPtr uint64, masterTid uint32) syncagent.Token {
	if _, ok := a.ready(); !ok {
		return syncagent.Token{}
	}
	return a.Sync.PreOp(c, opType, wordPtr, masterTid)
}

// PostOp is the entry point that records an atomic op authorized by
// the matching PreOp as complete.
func (a *Agent) PostOp(c *syncagent.Cursor, tok syncagent.Token) {
	if _, ok := a.ready(); !ok {
		return
	}
	a.Sync.PostOp(c, tok)
}

// Xcheck is the entry point for cross-checking arbitrary program-level
// state across variants, even when it was never a real memory write.
func (a *Agent) Xcheck(c *syncagent.Cursor, value uint64, masterTid uint32) {
	if _, ok := a.ready(); !ok {
		return
	}
	a.Sync.Xcheck(c, value, masterTid)
}

// ShouldSyncTid reports whether the calling thread's replay discipline
// needs to run at all: true when the process runs under a monitor
// and its identity tuple has sync enabled, for the leader and
// followers alike. An unmonitored process never syncs.
func (a *Agent) ShouldSyncTid() bool {
	id, ok := a.ready()
	return ok && id.SyncEnabled
}

// AllHeapsAligned asks the monitor whether every variant's heap is
// aligned to size at the same offset from heap.
func (a *Agent) AllHeapsAligned(heap uintptr, size uintptr) bool {
	if _, ok := a.ready(); !ok {
		return true
	}
	aligned, err := a.Monitor.AllHeapsAligned(heap, 0, size)
	if err != nil {
		diag.ConfigFault("agent: all_heaps_aligned query failed", "err", err)
	}
	return aligned
}

// InvalidateBuffer drops whatever thread-local producer state the
// caller is holding for a buffer by forcing its next carve to observe
// a flush. Buffer-specific invalidation (Info.EndFlush-equivalent
// reset) is driven by the buffer's own Flush method; this entry point
// exists for the embedding library to request it explicitly outside
// the normal carve-triggers-flush path.
func (a *Agent) InvalidateBuffer(info *arena.Info) {
	info.BeginFlush()
	info.EndFlush()
}

// tagAddress xor-encodes addr with this variant's own shm_tag,
// matching what an instrumented caller would have done before calling
// into a shm entry point.
func (a *Agent) tagAddress(addr uintptr) uint64 {
	return addrtag.Tag(uint64(addr), a.ShmTag)
}
