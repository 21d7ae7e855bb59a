package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mvee-systems/replicant/arena"
	"github.com/mvee-systems/replicant/syncagent"
)

func TestLoadScenarioParsesValidFile(t *testing.T) {
	s, err := loadScenario("testdata/total.toml")
	require.NoError(t, err)
	assert.Equal(t, "total", s.Mode)
	assert.Equal(t, 2, s.NumVariants)
	assert.Equal(t, 8, s.RingSlots)
	require.Len(t, s.Ops, 3)
	assert.Equal(t, uint32(1), s.Ops[0].MasterThreadID)
	assert.True(t, s.Ops[0].Store)
}

func TestLoadScenarioDefaultsRingSlotsWhenUnset(t *testing.T) {
	s, err := loadScenario("testdata/defaults.toml")
	require.NoError(t, err)
	assert.Equal(t, 64, s.RingSlots)
}

func TestLoadScenarioRejectsTooFewVariants(t *testing.T) {
	_, err := loadScenario("testdata/toofew.toml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "num_variants must be >= 2")
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := loadScenario("testdata/does-not-exist.toml")
	require.Error(t, err)
}

func TestBuildStrategyDispatchesByMode(t *testing.T) {
	state := &replayState{
		ring:     arena.NewSyncRing(8),
		counters: &syncagent.CounterTable{},
		queue:    syncagent.NewQueue(8),
	}

	leaderTotal, err := buildStrategy("total", state, nil, 0)
	require.NoError(t, err)
	assert.IsType(t, &syncagent.LeaderTotalOrder{}, leaderTotal)

	followerTotal, err := buildStrategy("total", state, nil, 1)
	require.NoError(t, err)
	assert.IsType(t, &syncagent.FollowerTotalOrder{}, followerTotal)

	leaderPartial, err := buildStrategy("partial", state, nil, 0)
	require.NoError(t, err)
	assert.IsType(t, &syncagent.LeaderPartialOrder{}, leaderPartial)

	followerWriteOnce, err := buildStrategy("writeonce", state, nil, 1)
	require.NoError(t, err)
	assert.IsType(t, &syncagent.FollowerWriteOnceCounter{}, followerWriteOnce)

	_, err = buildStrategy("bogus", state, nil, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestRunScenarioCompletesForEachMode(t *testing.T) {
	for _, path := range []string{"testdata/total.toml", "testdata/writeonce.toml", "testdata/defaults.toml"} {
		s, err := loadScenario(path)
		require.NoError(t, err)

		err = runScenario(context.Background(), s, zap.NewNop())
		assert.NoError(t, err, "scenario %s", path)
	}
}
