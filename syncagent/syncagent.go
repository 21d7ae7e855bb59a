// Package syncagent implements the pre/post-op contract that enforces
// a global order on atomic operations against per-variant private
// memory. Three replay disciplines —
// total-order, partial-order, and write-once-counter — share one
// Strategy interface, selected once at construction time rather than
// by conditional compilation.
package syncagent

import "github.com/mvee-systems/replicant/monitor"

// Op type constants. Only the LSB is load-bearing; the rest of the bits are free
// for the embedder's own op taxonomy and are preserved opaquely by
// the ring.
const (
	OpLoad  uint32 = 0
	OpStore uint32 = 1
)

// Token is returned by a prolog and consumed by the matching epilog.
// It carries whatever a strategy needs to find its way back to the
// slot it claimed without a second lookup.
type Token struct {
	slot  int
	extra uint64
}

// Cursor is the per-calling-thread state a Strategy needs across
// calls. Go has no implicit
// thread-local storage, so the caller owns one Cursor per OS thread
// (or simulated variant worker) and passes it explicitly on every
// call, instead of the agent reaching for TLS behind their back. Only
// the fields relevant to the active strategy are touched; a Cursor
// used with a different strategy than it was created for is a caller
// bug, not something the agent can detect.
type Cursor struct {
	// totalorder / partialorder: next ring index to examine.
	next int
	// all three disciplines: last Info.FlushCnt seen, compared to detect a flush and restart.
	prevFlushCnt uint32
	// writeoncecounter: position in the per-thread queue.
	queuePos int
}

// Strategy is one replay discipline behind the pre/post-op interface.
// PreOp blocks until the caller is authorized to perform the real
// hardware atomic; PostOp is non-blocking and records that the
// operation happened.
type Strategy interface {
	PreOp(c *Cursor, opType uint32, wordPtr uint64, masterTid uint32) Token
	PostOp(c *Cursor, tok Token)
}

// Agent wraps a chosen Strategy and the monitor it reports divergence
// through. It is the thing an embedding library constructs once per
// process.
type Agent struct {
	Strategy Strategy
	Monitor  monitor.Monitor
}

// New builds an Agent around the given strategy.
func New(strategy Strategy, mon monitor.Monitor) *Agent {
	return &Agent{Strategy: strategy, Monitor: mon}
}

// PreOp runs the calling thread's atomic-op prolog: it blocks until
// the strategy authorizes the real hardware atomic to proceed.
func (a *Agent) PreOp(c *Cursor, opType uint32, wordPtr uint64, masterTid uint32) Token {
	return a.Strategy.PreOp(c, opType, wordPtr, masterTid)
}

// PostOp runs the calling thread's atomic-op epilog: it records that
// the operation authorized by the matching PreOp has completed.
func (a *Agent) PostOp(c *Cursor, tok Token) {
	a.Strategy.PostOp(c, tok)
}
