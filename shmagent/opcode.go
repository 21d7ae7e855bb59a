// Package shmagent implements mediation of loads, stores, atomics,
// and mem*/str* functions directed at SysV/mmap shared memory. Every
// mediated operation runs the same three-phase leader/follower
// protocol on a single SHM-op slot: equivalence check, unique access,
// follower replay.
package shmagent

import "fmt"

// OpCode enumerates the operation tags carried on an SHM-op slot,
// including the GLIBC_FUNC_BASE offset that separates atomic RMW ops
// from the mem*/str* function family.
type OpCode uint8

const (
	OpLoad OpCode = iota
	OpStore
	OpAtomicLoad
	OpAtomicStore
	OpAtomicCmpXchg
	OpAtomicXchg
	OpAtomicAdd
	OpAtomicSub
	OpAtomicAnd
	OpAtomicNand
	OpAtomicOr
	OpAtomicXor
	OpAtomicMax
	OpAtomicMin
	OpAtomicUmax
	OpAtomicUmin
	OpAtomicFadd
	OpAtomicFsub
)

// GlibcFuncBase is the offset at which the mem*/str* redirector op
// codes begin.
const GlibcFuncBase = 128

const (
	OpMemcpy OpCode = GlibcFuncBase + iota
	OpMemmove
	OpMemset
	OpMemchr
	OpMemcmp
	OpStrlen
	OpStrcmp // kept distinct from OpStrlen so divergence reports can name the right call
)

func (op OpCode) String() string {
	switch op {
	case OpLoad:
		return "LOAD"
	case OpStore:
		return "STORE"
	case OpAtomicLoad:
		return "ATOMICLOAD"
	case OpAtomicStore:
		return "ATOMICSTORE"
	case OpAtomicCmpXchg:
		return "ATOMICCMPXCHG"
	case OpAtomicXchg:
		return "ATOMICRMW_XCHG"
	case OpAtomicAdd:
		return "ATOMICRMW_ADD"
	case OpAtomicSub:
		return "ATOMICRMW_SUB"
	case OpAtomicAnd:
		return "ATOMICRMW_AND"
	case OpAtomicNand:
		return "ATOMICRMW_NAND"
	case OpAtomicOr:
		return "ATOMICRMW_OR"
	case OpAtomicXor:
		return "ATOMICRMW_XOR"
	case OpAtomicMax:
		return "ATOMICRMW_MAX"
	case OpAtomicMin:
		return "ATOMICRMW_MIN"
	case OpAtomicUmax:
		return "ATOMICRMW_UMAX"
	case OpAtomicUmin:
		return "ATOMICRMW_UMIN"
	case OpAtomicFadd:
		return "ATOMICRMW_FADD"
	case OpAtomicFsub:
		return "ATOMICRMW_FSUB"
	case OpMemcpy:
		return "MEMCPY"
	case OpMemmove:
		return "MEMMOVE"
	case OpMemset:
		return "MEMSET"
	case OpMemchr:
		return "MEMCHR"
	case OpMemcmp:
		return "MEMCMP"
	case OpStrlen:
		return "STRLEN"
	case OpStrcmp:
		return "STRCMP"
	default:
		return fmt.Sprintf("op(%d)", uint8(op))
	}
}

// Unsupported reports whether op is one of the RMW variants rejected
// outright (MAX/MIN/UMAX/UMIN/FADD/FSUB) — unsupported atomic RMW ops,
// always a configuration fault.
func (op OpCode) Unsupported() bool {
	switch op {
	case OpAtomicMax, OpAtomicMin, OpAtomicUmax, OpAtomicUmin, OpAtomicFadd, OpAtomicFsub:
		return true
	default:
		return false
	}
}

// IsGlibc reports whether op is one of the mem*/str* redirector ops.
func (op OpCode) IsGlibc() bool {
	return op >= GlibcFuncBase
}

// IsAtomic reports whether op is one of the atomic load/store/cmpxchg/RMW ops.
func (op OpCode) IsAtomic() bool {
	return op >= OpAtomicLoad && op <= OpAtomicFsub
}

// Mutates reports whether op writes to the shared region (and
// therefore its shadow): the leader publishes ReplicationType as
// replicationShadow for these so followers replay the write, and
// replicationNone otherwise. Every op, mutating or not, goes through
// the same VariantsChecked check-in in phase 1.
func (op OpCode) Mutates() bool {
	switch op {
	case OpLoad, OpAtomicLoad, OpMemchr, OpMemcmp, OpStrlen, OpStrcmp:
		return false
	default:
		return true
	}
}

// SupportedWidth reports whether width is one of the four supported
// atomic widths.
func SupportedWidth(width int) bool {
	switch width {
	case 1, 2, 4, 8:
		return true
	default:
		return false
	}
}
