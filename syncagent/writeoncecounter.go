package syncagent

import (
	"runtime"
	"sync/atomic"

	"github.com/mvee-systems/replicant/arena"
	"github.com/mvee-systems/replicant/internal/diag"
	"github.com/mvee-systems/replicant/internal/spin"
	"github.com/mvee-systems/replicant/monitor"
)

// Write-once-counter mode replaces the single ring with K per-address
// clocks, partitioned into groups to spread contention.
const (
	NumCounters = 2048
	GroupSize   = 64
	numGroups   = NumCounters / GroupSize

	// clockIndexBits is the width reserved for the counter index in a
	// packed queue entry (counter_value << 12 | clock_index); 12 bits
	// comfortably covers NumCounters=2048.
	clockIndexBits = 12
	clockIndexMask = (1 << clockIndexBits) - 1
)

// publishedBit marks a queue entry as leader-written. Without it, a
// packed entry for counter index 0 at counter value 0 is the all-zero
// word, indistinguishable from an entry the leader hasn't reached yet
// — the same ambiguity SyncSlot.Uninitialized avoids by dedicating
// MasterThreadID to the purpose instead of overloading a payload
// field.
const publishedBit = uint64(1) << 63

// counterIndex maps a word address to a counter slot: high bits
// choose the group, low bits choose the slot within the group.
func counterIndex(wordPtr uint64) int {
	group := int((wordPtr >> 6) % uint64(numGroups))
	slot := int(wordPtr % GroupSize)
	return group*GroupSize + slot
}

// Counter is one per-address clock. Its CAS lock is held only by the
// leader, and only the leader advances Value; followers wait on their
// own local view of each counter instead (see FollowerWriteOnceCounter).
type Counter struct {
	lock  spin.Lock
	Value atomic.Uint64
}

// CounterTable is the fixed K=2048 counter table shared by every
// variant attached to this strategy.
type CounterTable [NumCounters]Counter

// Queue is the per-thread-pair FIFO of packed {value, idx} entries a
// leader thread publishes and its paired follower thread consumes, in
// write-once-counter mode.
type Queue struct {
	Info    *arena.Info
	entries []atomic.Uint64
}

// NewQueue allocates a queue with the given entry capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		Info:    arena.NewInfo(monitor.BufferSyncRing, uint32(capacity)),
		entries: make([]atomic.Uint64, capacity),
	}
}

func pack(value uint64, idx int) uint64 {
	return publishedBit | value<<clockIndexBits | uint64(idx)
}

func unpack(packed uint64) (value uint64, idx int) {
	cleared := packed &^ publishedBit
	return cleared >> clockIndexBits, int(cleared & clockIndexMask)
}

// LeaderWriteOnceCounter is the leader side of write-once-counter
// mode.
type LeaderWriteOnceCounter struct {
	Counters *CounterTable
	Queue    *Queue
	Monitor  monitor.Monitor
}

func (l *LeaderWriteOnceCounter) PreOp(c *Cursor, opType uint32, wordPtr uint64, masterTid uint32) Token {
	idx := counterIndex(wordPtr)
	l.Counters[idx].lock.Acquire()
	val := l.Counters[idx].Value.Load()

	pos := int(l.Queue.Info.Pos.Load())
	if pos >= len(l.Queue.entries) {
		if err := l.flush(); err != nil {
			diag.ConfigFault("syncagent: write-once-counter flush failed", "err", err)
		}
		pos = 0
	}
	l.Queue.entries[pos].Store(pack(val, idx))
	l.Queue.Info.Pos.Store(uint32(pos + 1))

	return Token{slot: idx}
}

func (l *LeaderWriteOnceCounter) flush() error {
	l.Queue.Info.BeginFlush()
	if err := l.Monitor.FlushSharedBuffer(monitor.BufferSyncRing); err != nil {
		return err
	}
	l.Queue.Info.EndFlush()
	return nil
}

func (l *LeaderWriteOnceCounter) PostOp(c *Cursor, tok Token) {
	idx := tok.slot
	l.Counters[idx].Value.Add(1)
	l.Counters[idx].lock.Release()
}

// FollowerWriteOnceCounter is the follower side of write-once-counter
// mode.
type FollowerWriteOnceCounter struct {
	Counters *CounterTable
	Queue    *Queue

	// local is this follower variant's own view of every counter:
	// PreOp waits for it to reach the awaited value and PostOp
	// advances it. The leader's Counters table is never read or
	// written by the follower.
	local [NumCounters]atomic.Uint64
}

func (f *FollowerWriteOnceCounter) PreOp(c *Cursor, opType uint32, wordPtr uint64, masterTid uint32) Token {
	for {
		flushCnt := f.Queue.Info.FlushCnt.Load()
		if flushCnt != c.prevFlushCnt {
			c.queuePos = 0
			c.prevFlushCnt = flushCnt
		}

		if c.queuePos >= len(f.Queue.entries) {
			runtime.Gosched()
			continue
		}

		packed := f.Queue.entries[c.queuePos].Load()
		if packed&publishedBit == 0 {
			// Nothing published at this position yet: wait for the
			// leader to publish.
			runtime.Gosched()
			continue
		}

		value, idx := unpack(packed)
		spin.Spin(func() bool { return f.local[idx].Load() == value })

		c.queuePos++
		return Token{slot: idx}
	}
}

// PostOp advances this follower's local view of the counter its PreOp
// waited on. Nothing in shared state changes: the counter table is
// leader-owned exclusively.
func (f *FollowerWriteOnceCounter) PostOp(c *Cursor, tok Token) {
	f.local[tok.slot].Add(1)
}
