package main

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Scenario describes a sync-ring replay run to simulate: a fixed
// number of in-process goroutine "variants" replaying a fixed op
// trace under one replay discipline. It has no bearing on a
// production embedding — it exists purely to drive syncagent's replay
// disciplines against a monitor.Mock for manual diagnosis.
type Scenario struct {
	Mode        string   `toml:"mode"` // "total", "partial", or "writeonce"
	NumVariants int      `toml:"num_variants"`
	RingSlots   int      `toml:"ring_slots"`
	Ops         []OpSpec `toml:"ops"`
}

// OpSpec is one leader-side atomic op in the trace: the master thread
// id issuing it, the private-memory address it targets, and whether
// it's a store.
type OpSpec struct {
	MasterThreadID uint32 `toml:"master_thread_id"`
	WordPtr        uint64 `toml:"word_ptr"`
	Store          bool   `toml:"store"`
}

func loadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mveectl: read %s: %w", path, err)
	}
	var s Scenario
	if err := toml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("mveectl: parse %s: %w", path, err)
	}
	if s.NumVariants < 2 {
		return nil, fmt.Errorf("mveectl: num_variants must be >= 2, got %d", s.NumVariants)
	}
	if s.RingSlots <= 0 {
		s.RingSlots = 64
	}
	return &s, nil
}
