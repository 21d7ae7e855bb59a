package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mvee-systems/replicant/arena"
	"github.com/mvee-systems/replicant/internal/simvariant"
	"github.com/mvee-systems/replicant/monitor"
	"github.com/mvee-systems/replicant/syncagent"
)

// perVariantMonitor lets every simulated variant share one Mock's
// buffers and divergence log while still reporting its own identity,
// since a real monitor hands each variant a distinct Identity over
// what is, underneath, the same control channel.
type perVariantMonitor struct {
	*monitor.Mock
	id monitor.Identity
}

func (m *perVariantMonitor) RunsUnderMVEEControl() (monitor.Identity, bool) {
	return m.id, true
}

// replayState bundles whichever shared buffers a mode needs, built
// once per scenario and handed to every variant's strategy.
type replayState struct {
	ring     *arena.SyncRing
	counters *syncagent.CounterTable
	queue    *syncagent.Queue
}

func runScenario(ctx context.Context, s *Scenario, log *zap.Logger) error {
	shared := monitor.NewMock(monitor.Identity{}, 0, log)
	state := &replayState{
		ring:     arena.NewSyncRing(s.RingSlots),
		counters: &syncagent.CounterTable{},
		queue:    syncagent.NewQueue(s.RingSlots),
	}

	variants := make([]simvariant.Variant, s.NumVariants)
	for i := 0; i < s.NumVariants; i++ {
		i := i
		id := monitor.Identity{
			SyncEnabled:  true,
			NumVariants:  uint16(s.NumVariants),
			VariantIndex: uint16(i),
			IsLeader:     i == 0,
		}
		mon := &perVariantMonitor{Mock: shared, id: id}
		strategy, err := buildStrategy(s.Mode, state, mon, i)
		if err != nil {
			return err
		}
		role := simvariant.RoleFollower
		if i == 0 {
			role = simvariant.RoleLeader
		}

		variants[i] = simvariant.Variant{
			Index: i,
			Role:  role,
			Run: func(ctx context.Context) error {
				agent := syncagent.New(strategy, mon)
				c := &syncagent.Cursor{}
				for _, op := range s.Ops {
					opType := syncagent.OpLoad
					if op.Store {
						opType = syncagent.OpStore
					}
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
					tok := agent.PreOp(c, opType, op.WordPtr, op.MasterThreadID)
					agent.PostOp(c, tok)
				}
				return nil
			},
		}
	}

	if err := simvariant.RunAll(ctx, variants); err != nil {
		return fmt.Errorf("mveectl: scenario run: %w", err)
	}

	log.Info("scenario complete",
		zap.Int("num_variants", s.NumVariants),
		zap.String("mode", s.Mode),
		zap.Int("divergences", len(shared.Divergences)),
	)
	for _, d := range shared.Divergences {
		log.Warn("divergence", zap.Stringer("category", d.Category), zap.Any("args", d.Args))
	}
	return nil
}

func buildStrategy(mode string, state *replayState, mon monitor.Monitor, variantIdx int) (syncagent.Strategy, error) {
	isLeader := variantIdx == 0
	switch mode {
	case "total":
		if isLeader {
			return &syncagent.LeaderTotalOrder{Ring: state.ring, Monitor: mon}, nil
		}
		return &syncagent.FollowerTotalOrder{Ring: state.ring}, nil
	case "partial":
		if isLeader {
			return &syncagent.LeaderPartialOrder{Ring: state.ring, Monitor: mon}, nil
		}
		return &syncagent.FollowerPartialOrder{Ring: state.ring, VariantIdx: variantIdx}, nil
	case "writeonce":
		if isLeader {
			return &syncagent.LeaderWriteOnceCounter{Counters: state.counters, Queue: state.queue, Monitor: mon}, nil
		}
		return &syncagent.FollowerWriteOnceCounter{Counters: state.counters, Queue: state.queue}, nil
	default:
		return nil, fmt.Errorf("mveectl: unknown mode %q (want total, partial, or writeonce)", mode)
	}
}
