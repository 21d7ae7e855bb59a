package agent

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvee-systems/replicant/addrtag"
	"github.com/mvee-systems/replicant/arena"
	"github.com/mvee-systems/replicant/mapping"
	"github.com/mvee-systems/replicant/monitor"
	"github.com/mvee-systems/replicant/syncagent"
)

func baseAddr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}

// TestResolveTargetPicksShadowForAFollower is a white-box check on the
// real/shadow split, independent of the full leader/follower handshake
// (which needs a slot shared across two variants and so is exercised
// at the shmagent layer instead).
func TestResolveTargetPicksShadowForAFollower(t *testing.T) {
	mon := monitor.NewMock(monitor.Identity{NumVariants: 2}, 0, nil)
	ring := arena.NewSyncRing(4)
	a := New(mon, &syncagent.FollowerTotalOrder{Ring: ring}, 0xbeef)

	real := make([]byte, 32)
	shadow := make([]byte, 32)
	entry := &mapping.Entry{RealBase: baseAddr(real), ShadowBase: baseAddr(shadow), Length: 32}
	require.NoError(t, a.Mapping.Insert(entry))

	tagged := addrtag.Tag(uint64(entry.RealBase+4), 0xbeef)

	_, leaderView, err := a.resolveTarget(tagged, 8, true)
	require.NoError(t, err)
	assert.Equal(t, baseAddr(real)+4, uintptr(unsafe.Pointer(&leaderView[0])))

	_, followerView, err := a.resolveTarget(tagged, 8, false)
	require.NoError(t, err)
	assert.Equal(t, baseAddr(shadow)+4, uintptr(unsafe.Pointer(&followerView[0])))
}

// TestResolveTargetNoShadowFallsBackToReal covers no-shadow mode: a
// follower with ShadowBase == 0 must read/write the real segment
// directly like the leader.
func TestResolveTargetNoShadowFallsBackToReal(t *testing.T) {
	mon := monitor.NewMock(monitor.Identity{NumVariants: 2}, 0, nil)
	ring := arena.NewSyncRing(4)
	a := New(mon, &syncagent.FollowerTotalOrder{Ring: ring}, 0xbeef)

	real := make([]byte, 16)
	entry := &mapping.Entry{RealBase: baseAddr(real), Length: 16}
	require.NoError(t, a.Mapping.Insert(entry))
	assert.False(t, entry.HasShadow())

	tagged := addrtag.Tag(uint64(entry.RealBase), 0xbeef)
	_, view, err := a.resolveTarget(tagged, 8, false)
	require.NoError(t, err)
	assert.Equal(t, baseAddr(real), uintptr(unsafe.Pointer(&view[0])))
}

// TestCarveFlushesAndRetriesOnce checks that a carve which doesn't fit
// triggers exactly one flush before retrying.
func TestCarveFlushesAndRetriesOnce(t *testing.T) {
	mon := monitor.NewMock(monitor.Identity{NumVariants: 2}, 0, nil)
	a := New(mon, nil, 0)
	ts := &arena.ThreadState{Ring: arena.NewShmThreadRing(64)}

	_, ok := ts.Ring.Carve(ts, 0)
	require.True(t, ok)

	slot, err := a.carve(ts, 0)
	require.NoError(t, err)
	require.NotNil(t, slot)
	assert.EqualValues(t, 1, ts.Ring.Info.FlushCnt.Load())
}
