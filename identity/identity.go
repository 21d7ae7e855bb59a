// Package identity gates every agent entry point on the process-wide
// variant identity tuple: until the tuple is fetched from the
// monitor, all entry points degrade to no-ops.
package identity

import (
	"sync"

	"github.com/mvee-systems/replicant/monitor"
)

// Tuple wraps the fetch-once identity and the lazily-fetched leader
// shm_tag needed for follower-side pointer equivalence.
type Tuple struct {
	once    sync.Once
	id      monitor.Identity
	fetched bool

	leaderTagOnce sync.Once
	leaderTag     uint32
	leaderTagErr  error
}

// Fetch calls the monitor exactly once per process and caches the
// result. Subsequent calls return the cached tuple. ok is false if
// the process is not running under a monitor at all, in which case
// every entry point must pass through to the underlying primitive
// unmediated.
func (t *Tuple) Fetch(m monitor.Monitor) (monitor.Identity, bool) {
	t.once.Do(func() {
		id, ok := m.RunsUnderMVEEControl()
		t.id = id
		t.fetched = ok
	})
	return t.id, t.fetched
}

// Fetched reports whether Fetch has run and succeeded, without
// contacting the monitor. It must only be called after at least one
// Fetch call on this Tuple.
func (t *Tuple) Fetched() bool {
	return t.fetched
}

// LeaderSHMTag lazily fetches and caches the leader's shm_tag on
// first use rather than eagerly at startup.
func (t *Tuple) LeaderSHMTag(m monitor.Monitor) (uint32, error) {
	t.leaderTagOnce.Do(func() {
		t.leaderTag, t.leaderTagErr = m.LeaderSHMTag()
	})
	return t.leaderTag, t.leaderTagErr
}
