package syncagent

import (
	"runtime"

	"github.com/mvee-systems/replicant/arena"
	"github.com/mvee-systems/replicant/internal/diag"
	"github.com/mvee-systems/replicant/monitor"
)

// LeaderPartialOrder is the leader side of partial-order mode.
// Writing is identical to total order: the leader is still the sole
// producer, serialized by the same buffer-wide lock; only the
// follower replay discipline differs.
type LeaderPartialOrder struct {
	Ring    *arena.SyncRing
	Monitor monitor.Monitor
}

func (l *LeaderPartialOrder) PreOp(c *Cursor, opType uint32, wordPtr uint64, masterTid uint32) Token {
	info := l.Ring.Info
	info.Lock.Acquire()

	pos := int(info.Pos.Load())
	if pos >= len(l.Ring.Slots) {
		info.Lock.Release()
		if err := l.Ring.Flush(l.Monitor); err != nil {
			diag.ConfigFault("syncagent: partial-order flush failed", "err", err)
		}
		info.Lock.Acquire()
		pos = 0
	}

	l.Ring.Slots[pos].Write(wordPtr, opType, masterTid)
	return Token{slot: pos}
}

func (l *LeaderPartialOrder) PostOp(c *Cursor, tok Token) {
	l.Ring.Info.Pos.Add(1)
	l.Ring.Info.Lock.Release()
}

// FollowerPartialOrder replays per-address rather than per-process:
// two operations on distinct addresses may commute.
type FollowerPartialOrder struct {
	Ring       *arena.SyncRing
	VariantIdx int
}

func (f *FollowerPartialOrder) PreOp(c *Cursor, opType uint32, wordPtr uint64, masterTid uint32) Token {
	info := f.Ring.Info
	isStore := arena.IsStore(opType)

	for {
		flushCnt := info.FlushCnt.Load()
		if flushCnt != c.prevFlushCnt {
			// The buffer was flushed under us; restart the search
			// from the beginning of the new generation.
			c.next = 0
			c.prevFlushCnt = flushCnt
		}

		upper := int(info.Pos.Load())
		if upper > len(f.Ring.Slots) {
			upper = len(f.Ring.Slots)
		}

		if c.next >= len(f.Ring.Slots) {
			// Every slot has been produced and we found nothing new
			// for this thread: either a flush is imminent or already
			// in flight. Spin until the generation changes, then
			// restart: the "no more real ops will appear before a
			// flush" condition is read directly off FlushCnt instead of
			// a word_ptr==0 sentinel slot, since our fixed-size ring has
			// no spare slot to host one.
			runtime.Gosched()
			continue
		}

		found := -1
		for i := c.next; i < upper; i++ {
			slot := &f.Ring.Slots[i]
			if slot.Uninitialized() {
				break
			}
			if slot.Tag(f.VariantIdx) {
				continue
			}
			if slot.MasterThreadID.Load() == masterTid {
				found = i
				break
			}
		}
		if found < 0 {
			runtime.Gosched()
			continue
		}

		masterWordPtr := f.Ring.Slots[found].WordPtr.Load()

		ready := true
		for j := 0; j < found; j++ {
			prior := &f.Ring.Slots[j]
			if prior.Uninitialized() || prior.Tag(f.VariantIdx) {
				continue
			}
			if prior.WordPtr.Load() != masterWordPtr {
				continue
			}
			priorIsStore := arena.IsStore(prior.OpType.Load())
			// A store waits for every untagged preceding op on the
			// same address; a load waits only for untagged preceding
			// stores on the same address.
			if isStore || priorIsStore {
				ready = false
				break
			}
		}
		if !ready {
			runtime.Gosched()
			continue
		}

		f.Ring.Slots[found].SetTag(f.VariantIdx)
		if found+1 > c.next {
			c.next = found + 1
		}
		return Token{slot: found}
	}
}

func (f *FollowerPartialOrder) PostOp(c *Cursor, tok Token) {}
