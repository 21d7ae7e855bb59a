package arena

import (
	"sync/atomic"

	"github.com/mvee-systems/replicant/monitor"
)

// MaxSyncVariants bounds how many variants' tags a SyncSlot's bitfield
// can track. 64 comfortably exceeds any realistic MVEE variant count.
const MaxSyncVariants = 64

// SyncSlot is one cache-line-sized record of the sync ring. A slot is uninitialized when MasterThreadID is
// zero. OpType's LSB encodes whether the operation is a store.
type SyncSlot struct {
	WordPtr        atomic.Uint64
	OpType         atomic.Uint32
	MasterThreadID atomic.Uint32
	TagsBits       atomic.Uint64

	_ [CacheLineBytes - 8 - 4 - 4 - 8]byte
}

// IsStore reports whether opType's LSB marks a store operation.
func IsStore(opType uint32) bool {
	return opType&1 == 1
}

// Uninitialized reports whether this slot has never been written by
// the leader in the current flush generation.
func (s *SyncSlot) Uninitialized() bool {
	return s.MasterThreadID.Load() == 0
}

// Write publishes {wordPtr, opType, masterTid} into the slot. Callers
// must hold the ring's Info.Lock. masterTid is stored last: that
// atomic store is the publish point a follower's acquire-load of
// MasterThreadID synchronizes against.
func (s *SyncSlot) Write(wordPtr uint64, opType uint32, masterTid uint32) {
	s.WordPtr.Store(wordPtr)
	s.OpType.Store(opType)
	s.MasterThreadID.Store(masterTid)
}

// Tag reports whether variant i has replayed this slot.
func (s *SyncSlot) Tag(i int) bool {
	return s.TagsBits.Load()&(uint64(1)<<uint(i)) != 0
}

// SetTag marks variant i as having replayed this slot. Once set it
// remains set until the next flush resets the slot.
func (s *SyncSlot) SetTag(i int) {
	bit := uint64(1) << uint(i)
	for {
		old := s.TagsBits.Load()
		if old&bit != 0 {
			return
		}
		if s.TagsBits.CompareAndSwap(old, old|bit) {
			return
		}
	}
}

// Reset clears the slot back to its uninitialized state. Only the
// variant driving a flush may call this.
func (s *SyncSlot) Reset() {
	s.WordPtr.Store(0)
	s.OpType.Store(0)
	s.TagsBits.Store(0)
	s.MasterThreadID.Store(0) // cleared last: this is what makes the slot uninitialized again
}

// SyncRing is the process-wide ring buffer that totally or partially
// orders atomic operations against private memory. It is
// the one shared buffer for the whole process, as opposed to the
// per-thread SHM op ring.
type SyncRing struct {
	Info  *Info
	Slots []SyncSlot
}

// NewSyncRing allocates an in-memory sync ring with the given slot
// count. Used directly by tests and internal/simvariant, where all
// "variants" are goroutines sharing process memory; a production
// embedding attaches the same layout over a monitor-provided shared
// buffer instead (see AttachMMap/AttachSysV).
func NewSyncRing(slots int) *SyncRing {
	return &SyncRing{
		Info:  NewInfo(monitor.BufferSyncRing, uint32(slots)),
		Slots: make([]SyncSlot, slots),
	}
}

// ResetAll clears every slot and resets the ring's Pos to zero;
// FlushCnt and Flushing are left as they are. Used when simulating a
// freshly-flushed ring in tests.
func (r *SyncRing) ResetAll() {
	for i := range r.Slots {
		r.Slots[i].Reset()
	}
	r.Info.Pos.Store(0)
}

// Flush performs the monitor-mediated flush protocol: mark flushing,
// call the monitor, clear every slot, then reset Pos and bump
// FlushCnt, so a reader that observes the new FlushCnt also sees an
// uninitialized buffer.
func (r *SyncRing) Flush(mon monitor.Monitor) error {
	r.Info.BeginFlush()
	if err := mon.FlushSharedBuffer(monitor.BufferSyncRing); err != nil {
		return err
	}
	for i := range r.Slots {
		r.Slots[i].Reset()
	}
	r.Info.EndFlush()
	return nil
}
