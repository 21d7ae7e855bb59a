package arena_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvee-systems/replicant/arena"
	"github.com/mvee-systems/replicant/monitor"
)

func TestCarveAdvancesLocalPosAndRejectsOverflow(t *testing.T) {
	ring := arena.NewShmThreadRing(256)
	ts := &arena.ThreadState{Ring: ring}

	slot, ok := ring.Carve(ts, 8)
	require.True(t, ok)
	assert.Len(t, slot.Payload, 8)
	assert.Positive(t, ts.LocalPos)

	_, ok = ring.Carve(ts, 4096)
	assert.False(t, ok, "a carve larger than remaining capacity must fail rather than overrun")
}

func TestFlushResetsLocalPos(t *testing.T) {
	ring := arena.NewShmThreadRing(128)
	ts := &arena.ThreadState{Ring: ring}

	_, ok := ring.Carve(ts, 16)
	require.True(t, ok)
	require.Positive(t, ts.LocalPos)

	mon := monitor.NewMock(monitor.Identity{NumVariants: 2}, 0, nil)
	require.NoError(t, ring.Flush(mon, ts))
	assert.Zero(t, ts.LocalPos)
}

func TestThreadStateReset(t *testing.T) {
	ts := &arena.ThreadState{LocalPos: 10, PrevPos: 5, PrevFlushCnt: 3}
	ts.Reset()
	assert.Zero(t, ts.LocalPos)
	assert.Zero(t, ts.PrevPos)
	assert.Zero(t, ts.PrevFlushCnt)
}

func TestShmSlotPadded(t *testing.T) {
	s := &arena.ShmSlot{Payload: make([]byte, 3)}
	padded := s.Padded()
	assert.Zero(t, padded%arena.CacheLineBytes, "padded size must be a multiple of the cache line")
	assert.GreaterOrEqual(t, padded, arena.ShmSlotHeaderBytes+3)
}
