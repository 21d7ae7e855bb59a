package syncagent_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvee-systems/replicant/monitor"
	"github.com/mvee-systems/replicant/syncagent"
)

// TestWriteOnceCounterFollowerWaitsForPublish covers scenario S6: a
// follower parked on an unpublished queue slot must block until the
// leader publishes it, then proceed without further delay since the
// counter hasn't advanced past its turn yet.
func TestWriteOnceCounterFollowerWaitsForPublish(t *testing.T) {
	counters := &syncagent.CounterTable{}
	queue := syncagent.NewQueue(4)
	mon := monitor.NewMock(monitor.Identity{NumVariants: 2}, 0, nil)

	leader := &syncagent.LeaderWriteOnceCounter{Counters: counters, Queue: queue, Monitor: mon}
	follower := &syncagent.FollowerWriteOnceCounter{Counters: counters, Queue: queue}

	done := make(chan struct{})
	fc := &syncagent.Cursor{}
	go func() {
		tok := follower.PreOp(fc, syncagent.OpStore, 0x1000, 1)
		follower.PostOp(fc, tok)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("follower must block until the leader publishes its entry")
	case <-time.After(20 * time.Millisecond):
	}

	lc := &syncagent.Cursor{}
	tok := leader.PreOp(lc, syncagent.OpStore, 0x1000, 1)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("follower never unblocked after the leader published its entry")
	}

	leader.PostOp(lc, tok)
}

// TestWriteOnceCounterFollowerUnblocksOnFirstPublishToIndexZero covers
// the packed entry {value: 0, idx: 0}, which is the all-zero word: a
// follower parked on this exact entry must still unblock once the
// leader publishes it, rather than mistaking the leader's legitimate
// first-ever publish for "nothing published yet".
func TestWriteOnceCounterFollowerUnblocksOnFirstPublishToIndexZero(t *testing.T) {
	counters := &syncagent.CounterTable{}
	queue := syncagent.NewQueue(4)
	mon := monitor.NewMock(monitor.Identity{NumVariants: 2}, 0, nil)

	leader := &syncagent.LeaderWriteOnceCounter{Counters: counters, Queue: queue, Monitor: mon}
	follower := &syncagent.FollowerWriteOnceCounter{Counters: counters, Queue: queue}

	const wordPtr = uint64(0x800) // counterIndex(0x800) == 0, counter's Value starts at 0

	done := make(chan struct{})
	fc := &syncagent.Cursor{}
	go func() {
		tok := follower.PreOp(fc, syncagent.OpStore, wordPtr, 1)
		follower.PostOp(fc, tok)
		close(done)
	}()

	lc := &syncagent.Cursor{}
	tok := leader.PreOp(lc, syncagent.OpStore, wordPtr, 1)
	leader.PostOp(lc, tok)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("follower never unblocked on the all-zero {value:0, idx:0} packed entry")
	}
}

// TestWriteOnceCounterQueueFlushesWhenFull ensures the leader drives a
// flush rather than overrunning the queue once it fills.
func TestWriteOnceCounterQueueFlushesWhenFull(t *testing.T) {
	counters := &syncagent.CounterTable{}
	queue := syncagent.NewQueue(2)
	mon := monitor.NewMock(monitor.Identity{NumVariants: 2}, 0, nil)
	leader := &syncagent.LeaderWriteOnceCounter{Counters: counters, Queue: queue, Monitor: mon}

	c := &syncagent.Cursor{}
	for i := 0; i < 3; i++ {
		tok := leader.PreOp(c, syncagent.OpStore, uint64(i), 1)
		leader.PostOp(c, tok)
	}

	require.EqualValues(t, 1, queue.Info.FlushCnt.Load())
	assert.EqualValues(t, 1, queue.Info.Pos.Load())
}

// TestWriteOnceCounterFollowerKeepsPaceAcrossFlush drives leader and
// follower through the same three rounds in lockstep (publish, then
// immediately replay, before the leader's own turn advances) and
// checks the follower's queue cursor survives the queue wrapping and
// being flushed underneath it.
func TestWriteOnceCounterFollowerKeepsPaceAcrossFlush(t *testing.T) {
	counters := &syncagent.CounterTable{}
	queue := syncagent.NewQueue(2)
	mon := monitor.NewMock(monitor.Identity{NumVariants: 2}, 0, nil)
	leader := &syncagent.LeaderWriteOnceCounter{Counters: counters, Queue: queue, Monitor: mon}
	follower := &syncagent.FollowerWriteOnceCounter{Counters: counters, Queue: queue}

	lc := &syncagent.Cursor{}
	fc := &syncagent.Cursor{}
	for i := 0; i < 3; i++ {
		tok := leader.PreOp(lc, syncagent.OpStore, uint64(i), 1)

		ftok := follower.PreOp(fc, syncagent.OpStore, uint64(i), 1)
		follower.PostOp(fc, ftok)

		leader.PostOp(lc, tok)
	}

	assert.EqualValues(t, 1, queue.Info.FlushCnt.Load())
}
