package syncagent

// Xcheck records value into the sync ring as a pseudo-store, letting
// callers cross-check arbitrary program-level state across variants
// even when it was never a real memory write.
// A sync-ring slot only ever carries {word_ptr, op_type,
// master_thread_id} — there is no separate payload field — so value
// itself is published as word_ptr, the same way a real store would
// publish the address being written; there is no address to record
// here, only the value under test.
func (a *Agent) Xcheck(c *Cursor, value uint64, masterTid uint32) {
	tok := a.Strategy.PreOp(c, OpStore, value, masterTid)
	a.Strategy.PostOp(c, tok)
}
