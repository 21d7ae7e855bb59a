package arena

import (
	"sync/atomic"

	"github.com/mvee-systems/replicant/monitor"
)

// ShmSlotHeaderBytes is the fixed header footprint counted against a
// thread's ring capacity, before the variable-length payload.
const ShmSlotHeaderBytes = 5*8 + 4*4 // in/out/size/value/cmp + variants_checked/op_type/replication_type/payload_len

// ShmSlot is one SHM op slot: a
// variable-length record whose payload carries the bytes an op needs
// to replicate (the non-SHM input on phase 1, or the shared-memory
// result on phase 2/3). VariantsChecked and ReplicationType are the
// two release-acquire synchronization points between leader and
// followers.
//
// Slots are ordinary heap-allocated Go values rather than views over
// a raw shared byte region: the per-thread SHM ring only needs to
// enforce the carving/flush *capacity* protocol, not literal
// cross-process byte sharing, because in this module the monitor
// boundary is the actual IPC point (see AttachMMap/AttachSysV for the
// real mmap-backed path used by a production embedding).
type ShmSlot struct {
	InAddr  uint64
	OutAddr uint64
	Size    uint64
	Value   uint64
	Cmp     uint64

	VariantsChecked atomic.Uint32
	OpType          uint32
	ReplicationType atomic.Uint32

	// Aborted is set by any follower that detects a mismatch in phase
	// 1 before it returns its error, so the leader's phase-2 wait
	// doesn't spin forever on a VariantsChecked count a diverging
	// follower will never contribute to.
	Aborted atomic.Bool

	Payload []byte
}

// Padded reports the number of ring-capacity bytes this slot
// consumes: its header plus payload, rounded up to a 64-byte multiple
// to avoid false sharing.
func (s *ShmSlot) Padded() int {
	return align64(ShmSlotHeaderBytes + len(s.Payload))
}

func align64(n int) int {
	return (n + CacheLineBytes - 1) &^ (CacheLineBytes - 1)
}

// ThreadState is the per-thread producer cache: {buffer_ptr,
// buffer_size, local_pos, prev_pos, prev_flush_cnt,
// master_thread_id}. Go has no implicit
// thread-local storage, so callers own one ThreadState per OS thread
// (or per simulated variant worker) and pass it explicitly, rather
// than the agent reaching for TLS behind their back.
type ThreadState struct {
	Ring *ShmThreadRing

	LocalPos       int
	PrevPos        int
	PrevFlushCnt   uint32
	MasterThreadID uint32
}

// Reset zeroes the thread-local position fields. Called by the
// embedder's fork hook.
func (t *ThreadState) Reset() {
	t.LocalPos = 0
	t.PrevPos = 0
	t.PrevFlushCnt = 0
}

// ShmThreadRing is one thread's SHM op ring: a byte-capacity budget
// that ThreadState.LocalPos is carved out of, monotonically, until a
// flush resets it.
type ShmThreadRing struct {
	Info     *Info
	Capacity int
}

// NewShmThreadRing allocates a per-thread SHM op ring with the given
// byte capacity.
func NewShmThreadRing(capacity int) *ShmThreadRing {
	return &ShmThreadRing{
		Info:     NewInfo(monitor.BufferSHMRing, uint32(capacity)),
		Capacity: capacity,
	}
}

// Carve reserves space for a slot carrying a payload of payloadLen
// bytes, advancing ts.LocalPos by the padded size. It returns
// ok=false when there isn't enough remaining capacity; the caller
// must then flush (see Flush) and retry.
func (r *ShmThreadRing) Carve(ts *ThreadState, payloadLen int) (slot *ShmSlot, ok bool) {
	needed := align64(ShmSlotHeaderBytes + payloadLen)
	if ts.LocalPos+needed > r.Capacity {
		return nil, false
	}
	ts.LocalPos += needed
	return &ShmSlot{Payload: make([]byte, payloadLen)}, true
}

// Flush runs the monitor-mediated flush protocol for this thread's
// ring and resets ts.LocalPos to zero.
func (r *ShmThreadRing) Flush(mon monitor.Monitor, ts *ThreadState) error {
	r.Info.BeginFlush()
	if err := mon.FlushSharedBuffer(monitor.BufferSHMRing); err != nil {
		return err
	}
	r.Info.EndFlush()
	ts.LocalPos = 0
	return nil
}
