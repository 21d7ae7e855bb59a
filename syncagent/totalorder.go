package syncagent

import (
	"runtime"

	"github.com/mvee-systems/replicant/arena"
	"github.com/mvee-systems/replicant/internal/diag"
	"github.com/mvee-systems/replicant/monitor"
)

// LeaderTotalOrder is the leader side of total-order mode: it is the
// sole writer into the ring, serialized by the ring's buffer-wide
// lock.
type LeaderTotalOrder struct {
	Ring    *arena.SyncRing
	Monitor monitor.Monitor
}

// DebugHook, when non-nil, is called by a FollowerTotalOrder once it
// matches a slot, with the op type and address the leader logged in
// that slot, letting tests assert on {op_type, addr, caller} without a
// build-tag gated code path. LeaderTotalOrder has no hook.
type DebugHook func(opType uint32, wordPtr uint64, masterTid uint32)

func (l *LeaderTotalOrder) PreOp(c *Cursor, opType uint32, wordPtr uint64, masterTid uint32) Token {
	info := l.Ring.Info
	info.Lock.Acquire()

	pos := int(info.Pos.Load())
	if pos >= len(l.Ring.Slots) {
		// End-of-buffer: the leader is the one producing new ops, so
		// it is the one that notices the buffer is full and drives
		// the flush.
		info.Lock.Release()
		if err := l.Ring.Flush(l.Monitor); err != nil {
			diag.ConfigFault("syncagent: total-order flush failed", "err", err)
		}
		info.Lock.Acquire()
		pos = 0
	}

	l.Ring.Slots[pos].Write(wordPtr, opType, masterTid)
	return Token{slot: pos}
}

func (l *LeaderTotalOrder) PostOp(c *Cursor, tok Token) {
	l.Ring.Info.Pos.Add(1)
	l.Ring.Info.Lock.Release()
}

// FollowerTotalOrder is the follower side of total-order mode. Each
// follower OS thread owns one Cursor; PreOp scans the shared ring
// starting at the cursor's last position for the next slot carrying
// this thread's master_thread_id, restarting from 0 whenever it
// observes the ring was flushed out from under it.
type FollowerTotalOrder struct {
	Ring  *arena.SyncRing
	Debug DebugHook
}

func (f *FollowerTotalOrder) PreOp(c *Cursor, opType uint32, wordPtr uint64, masterTid uint32) Token {
	info := f.Ring.Info
	for {
		flushCnt := info.FlushCnt.Load()
		if flushCnt != c.prevFlushCnt {
			c.next = 0
			c.prevFlushCnt = flushCnt
		}

		pos := int(info.Pos.Load())
		if c.next >= len(f.Ring.Slots) {
			// Reached the end without a match: wait for the leader's
			// flush to reset the buffer, then restart.
			runtime.Gosched()
			continue
		}
		if c.next < pos {
			slot := &f.Ring.Slots[c.next]
			if slot.MasterThreadID.Load() == masterTid {
				idx := c.next
				c.next++
				if f.Debug != nil {
					f.Debug(slot.OpType.Load(), slot.WordPtr.Load(), masterTid)
				}
				return Token{slot: idx}
			}
			// Not our thread's entry; skip it and keep scanning.
			c.next++
			continue
		}
		// Our slot hasn't been produced (prolog written) and
		// completed (postop'd, which is what advances Pos past it)
		// yet: spin.
		runtime.Gosched()
	}
}

func (f *FollowerTotalOrder) PostOp(c *Cursor, tok Token) {
	// The follower's own replay of the real atomic has just
	// completed. Nothing shared advances here: Pos only moves on the
	// leader's PostOp, and this follower already consumed its slot in
	// PreOp.
}
