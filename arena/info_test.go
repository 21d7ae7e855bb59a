package arena_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mvee-systems/replicant/arena"
	"github.com/mvee-systems/replicant/monitor"
)

func TestInfoFlushCycle(t *testing.T) {
	info := arena.NewInfo(monitor.BufferSyncRing, 16)
	assert.False(t, info.IsFlushing())

	nextGen := info.BeginFlush()
	assert.True(t, info.IsFlushing())
	assert.EqualValues(t, 1, nextGen)

	info.Pos.Store(16)
	info.EndFlush()

	assert.False(t, info.IsFlushing())
	assert.EqualValues(t, 0, info.Pos.Load())
	assert.EqualValues(t, 1, info.FlushCnt.Load())
}
