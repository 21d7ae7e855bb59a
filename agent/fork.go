package agent

import (
	"github.com/mvee-systems/replicant/arena"
	"github.com/mvee-systems/replicant/syncagent"
)

// ResetAtFork implements the fork hook: it resets both the sync-ring
// and the SHM-ring thread-local pointer categories per thread, not one
// generic slot, so the caller passes both here. addr/size additionally
// register the caller's private-memory range with the monitor for
// post-fork zeroing.
func (a *Agent) ResetAtFork(syncCursor *syncagent.Cursor, shmState *arena.ThreadState, addr uintptr, size uintptr) error {
	*syncCursor = syncagent.Cursor{}
	shmState.Reset()
	return a.Monitor.ResetAtFork(addr, size)
}
