package agent_test

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvee-systems/replicant/agent"
	"github.com/mvee-systems/replicant/internal/diag"
	"github.com/mvee-systems/replicant/mapping"
	"github.com/mvee-systems/replicant/monitor"
)

func newPlainAgent(mon monitor.Monitor) *agent.Agent {
	return agent.New(mon, nil, 0xbeef)
}

func TestShmMmapRejectsNonWritable(t *testing.T) {
	prev := diag.SetConfigFaultHandler(func(reason string, args ...any) {})
	defer diag.SetConfigFaultHandler(prev)

	a := newPlainAgent(monitor.NewMock(monitor.Identity{}, 0, nil))
	_, _, err := a.ShmMmap("irrelevant", 4096, false, false)
	assert.Error(t, err)
}

func TestShmMmapRejectsUnreadableWritableFile(t *testing.T) {
	prev := diag.SetConfigFaultHandler(func(reason string, args ...any) {})
	defer diag.SetConfigFaultHandler(prev)

	path := fmt.Sprintf("/dev/shm/mvee-agent-test-ro-%d", os.Getpid())
	require.NoError(t, os.WriteFile(path, []byte{0}, 0o400))
	defer os.Remove(path)

	a := newPlainAgent(monitor.NewMock(monitor.Identity{}, 0, nil))
	_, _, err := a.ShmMmap(path[len("/dev/shm/"):], 4096, true, false)
	assert.Error(t, err)
}

func TestShmMmapAttachesAndRegistersMapping(t *testing.T) {
	name := fmt.Sprintf("mvee-agent-test-%d", os.Getpid())
	path := "/dev/shm/" + name
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	defer os.Remove(path)
	defer os.Remove(path + ".shadow")

	a := newPlainAgent(monitor.NewMock(monitor.Identity{}, 0, nil))
	entry, data, err := a.ShmMmap(name, 4096, true, true)
	require.NoError(t, err)
	require.Len(t, data, 4096)
	assert.NotZero(t, entry.RealBase)
	assert.True(t, entry.HasShadow())
	assert.Same(t, entry, a.Mapping.Lookup(entry.RealBase))
}

func TestShmMunmapCallsEntryReleaseOnSuccess(t *testing.T) {
	a := newPlainAgent(monitor.NewMock(monitor.Identity{}, 0, nil))
	released := false
	entry := &mapping.Entry{
		RealBase: 0x6000,
		Length:   4096,
		Release:  func() error { released = true; return nil },
	}
	require.NoError(t, a.Mapping.Insert(entry))

	require.NoError(t, a.ShmMunmap(0x6000, 4096))
	assert.True(t, released, "ShmMunmap must call the removed entry's Release")
}

func TestShmMmapAttachDetachRoundTripUnmapsRealAndShadow(t *testing.T) {
	name := fmt.Sprintf("mvee-agent-test-roundtrip-%d", os.Getpid())
	path := "/dev/shm/" + name
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	defer os.Remove(path)
	defer os.Remove(path + ".shadow")

	a := newPlainAgent(monitor.NewMock(monitor.Identity{}, 0, nil))
	entry, _, err := a.ShmMmap(name, 4096, true, true)
	require.NoError(t, err)
	require.True(t, entry.HasShadow())
	require.NotNil(t, entry.Release, "an attached entry must carry a Release closure")

	require.NoError(t, a.ShmMunmap(entry.RealBase, entry.Length))
	assert.Nil(t, a.Mapping.Lookup(entry.RealBase))
}

func TestShmMunmapPartialUnmapIsConfigFault(t *testing.T) {
	prev := diag.SetConfigFaultHandler(func(reason string, args ...any) {})
	defer diag.SetConfigFaultHandler(prev)

	a := newPlainAgent(monitor.NewMock(monitor.Identity{}, 0, nil))
	entry := &mapping.Entry{RealBase: 0x5000, Length: 4096}
	require.NoError(t, a.Mapping.Insert(entry))

	err := a.ShmMunmap(0x5000, 2048)
	assert.ErrorIs(t, err, mapping.ErrPartialUnmap)
}
