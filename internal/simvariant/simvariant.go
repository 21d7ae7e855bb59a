// Package simvariant runs a handful of goroutines as stand-ins for
// MVEE variants sharing one process's memory, driving them through
// the same replay discipline concurrently. It exists for tests and
// for cmd/mveectl's scenario runner — a real embedding has no need for
// it, since real variants are separate OS processes.
package simvariant

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Role distinguishes the one leader from the rest.
type Role int

const (
	RoleLeader Role = iota
	RoleFollower
)

// Variant is one simulated participant: its index, role, and a worker
// function closing over whatever per-variant state (Cursor,
// ThreadState, Monitor identity) the caller built for it.
type Variant struct {
	Index int
	Role  Role
	Run   func(ctx context.Context) error
}

// RunAll starts every variant's Run concurrently and waits for all of
// them, the way a real MVEE run waits for every variant to reach a
// barrier. The first non-nil error cancels ctx for the rest and is
// returned; this matches the leader/follower pairing in the sync and
// SHM agents, where a struck variant should not leave the others
// spinning forever in a test.
func RunAll(ctx context.Context, variants []Variant) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, v := range variants {
		v := v
		g.Go(func() error { return v.Run(ctx) })
	}
	return g.Wait()
}

// Leader returns the one variant flagged RoleLeader, or nil.
func Leader(variants []Variant) *Variant {
	for i := range variants {
		if variants[i].Role == RoleLeader {
			return &variants[i]
		}
	}
	return nil
}
