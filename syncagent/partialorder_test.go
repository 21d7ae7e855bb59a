package syncagent_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvee-systems/replicant/arena"
	"github.com/mvee-systems/replicant/monitor"
	"github.com/mvee-systems/replicant/syncagent"
)

// TestPartialOrderCommutesAcrossAddresses covers scenario S2: a
// follower thread may claim its own slot even though an earlier,
// still-unclaimed slot belongs to a different thread and a different
// address — unrelated ops must not serialize.
func TestPartialOrderCommutesAcrossAddresses(t *testing.T) {
	ring := arena.NewSyncRing(8)
	mon := monitor.NewMock(monitor.Identity{NumVariants: 2}, 0, nil)
	leader := &syncagent.LeaderPartialOrder{Ring: ring, Monitor: mon}

	lc := &syncagent.Cursor{}
	t1 := leader.PreOp(lc, syncagent.OpStore, 0x1000, 1) // thread 1, addr 0x1000
	leader.PostOp(lc, t1)
	t2 := leader.PreOp(lc, syncagent.OpStore, 0x2000, 2) // thread 2, addr 0x2000
	leader.PostOp(lc, t2)

	follower := &syncagent.FollowerPartialOrder{Ring: ring, VariantIdx: 0}
	thread2Cursor := &syncagent.Cursor{}

	tok := follower.PreOp(thread2Cursor, syncagent.OpStore, 0x2000, 2)
	follower.PostOp(thread2Cursor, tok)

	assert.True(t, ring.Slots[1].Tag(0), "thread 2's slot must be claimable without waiting on thread 1's unrelated op")
	assert.False(t, ring.Slots[0].Tag(0))
}

// TestPartialOrderSameAddressOrdersStores ensures a store blocks on
// every untagged preceding op on the same address, even when that
// prior op belongs to a different thread.
func TestPartialOrderSameAddressOrdersStores(t *testing.T) {
	ring := arena.NewSyncRing(8)
	mon := monitor.NewMock(monitor.Identity{NumVariants: 2}, 0, nil)
	leader := &syncagent.LeaderPartialOrder{Ring: ring, Monitor: mon}

	lc := &syncagent.Cursor{}
	t1 := leader.PreOp(lc, syncagent.OpStore, 0x5000, 1) // thread 1
	leader.PostOp(lc, t1)
	t2 := leader.PreOp(lc, syncagent.OpStore, 0x5000, 2) // thread 2, same address
	leader.PostOp(lc, t2)

	follower := &syncagent.FollowerPartialOrder{Ring: ring, VariantIdx: 0}

	done := make(chan struct{})
	thread2Cursor := &syncagent.Cursor{}
	go func() {
		tok := follower.PreOp(thread2Cursor, syncagent.OpStore, 0x5000, 2)
		follower.PostOp(thread2Cursor, tok)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("thread 2's store must wait for thread 1's untagged preceding op on the same address")
	case <-time.After(20 * time.Millisecond):
	}

	thread1Cursor := &syncagent.Cursor{}
	tok := follower.PreOp(thread1Cursor, syncagent.OpStore, 0x5000, 1)
	follower.PostOp(thread1Cursor, tok)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("thread 2's store never unblocked after thread 1's op was replayed")
	}
}

func TestPartialOrderLeaderFlushesWhenFull(t *testing.T) {
	ring := arena.NewSyncRing(2)
	mon := monitor.NewMock(monitor.Identity{NumVariants: 2}, 0, nil)
	leader := &syncagent.LeaderPartialOrder{Ring: ring, Monitor: mon}

	lc := &syncagent.Cursor{}
	for i := 0; i < 3; i++ {
		tok := leader.PreOp(lc, syncagent.OpStore, uint64(i), 1)
		leader.PostOp(lc, tok)
	}
	require.EqualValues(t, 1, ring.Info.FlushCnt.Load())
}
