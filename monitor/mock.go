package monitor

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Mock is an in-process stand-in for the real monitor, used by tests
// and by cmd/mveectl's scenario runner. It owns one in-memory buffer
// per kind, shared by every variant attached to it, and records
// divergence reports instead of terminating the process.
type Mock struct {
	log *zap.Logger

	mu         sync.Mutex
	identity   Identity
	leaderTag  uint32
	buffers    map[BufferKind][]byte
	flushCount map[BufferKind]uint32
	heapsAlign bool

	Divergences []DivergenceReport
}

// DivergenceReport captures one call to ReportDivergence for
// assertions in tests.
type DivergenceReport struct {
	Category DivergenceCategory
	Args     []any
}

// NewMock builds a Mock monitor for the given identity tuple. log may
// be nil, in which case a no-op logger is used.
func NewMock(id Identity, leaderTag uint32, log *zap.Logger) *Mock {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mock{
		log:        log,
		identity:   id,
		leaderTag:  leaderTag,
		buffers:    make(map[BufferKind][]byte),
		flushCount: make(map[BufferKind]uint32),
		heapsAlign: true,
	}
}

func (m *Mock) RunsUnderMVEEControl() (Identity, bool) {
	return m.identity, m.identity.NumVariants > 0
}

func (m *Mock) GetMasterThreadID(callerTid uint32) (uint32, error) {
	// In the single-process mock every variant shares one leader tid.
	return 1, nil
}

// Buffer returns the backing slice for a buffer kind, allocating it
// on first use. Real variants would attach via IPC key; the mock
// hands out the same slice to every caller in-process.
func (m *Mock) Buffer(kind BufferKind, size int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.buffers[kind]
	if !ok {
		buf = make([]byte, size)
		m.buffers[kind] = buf
	}
	return buf
}

func (m *Mock) GetSharedBuffer(id string, kind BufferKind, slotSizeHint int) (SharedBuffer, error) {
	return SharedBuffer{IPCKey: int(kind) + 1, NumSlots: 0, SlotBytes: slotSizeHint}, nil
}

func (m *Mock) FlushSharedBuffer(kind BufferKind) error {
	m.mu.Lock()
	m.flushCount[kind]++
	n := m.flushCount[kind]
	m.mu.Unlock()
	m.log.Info("buffer flushed", zap.Stringer("kind", kind), zap.Uint32("flush_count", n))
	return nil
}

func (m *Mock) AllHeapsAligned(heap uintptr, align, size uintptr) (bool, error) {
	return m.heapsAlign, nil
}

// SetHeapsAligned sets the answer AllHeapsAligned returns, letting
// tests make it report false.
func (m *Mock) SetHeapsAligned(v bool) {
	m.mu.Lock()
	m.heapsAlign = v
	m.mu.Unlock()
}

func (m *Mock) ResetAtFork(addr uintptr, size uintptr) error {
	return nil
}

func (m *Mock) InfiniteLoopPtr() uintptr {
	return m.identity.InfiniteLoopAddr
}

func (m *Mock) ReportDivergence(category DivergenceCategory, args ...any) {
	m.mu.Lock()
	m.Divergences = append(m.Divergences, DivergenceReport{Category: category, Args: args})
	m.mu.Unlock()
	fields := make([]zap.Field, 0, len(args)+1)
	fields = append(fields, zap.Stringer("category", category))
	for i, a := range args {
		fields = append(fields, zap.String(fmt.Sprintf("arg%d", i), fmt.Sprint(a)))
	}
	m.log.Error("divergence reported", fields...)
}

func (m *Mock) LeaderSHMTag() (uint32, error) {
	return m.leaderTag, nil
}
