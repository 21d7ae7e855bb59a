package shmagent

import (
	"encoding/binary"
	"fmt"

	"github.com/mvee-systems/replicant/addrtag"
	"github.com/mvee-systems/replicant/arena"
	"github.com/mvee-systems/replicant/internal/diag"
	"github.com/mvee-systems/replicant/internal/spin"
	"github.com/mvee-systems/replicant/monitor"
)

// replicationNone/replicationShadow are the two values ReplicationType
// carries once the leader publishes it: whether followers must replay
// the op into their own shadow, or whether there is nothing to replay
// (an op whose OpCode.Mutates reports false).
const (
	replicationNone   uint32 = 1
	replicationShadow uint32 = 2
)

// Request describes one mediated operation from a single variant's
// point of view. InAddr/OutAddr are this variant's own tagged
// addresses for the equivalence check; Dst/Src
// are the already-resolved byte views the op reads and writes — the
// real shared segment for the leader, or this variant's private
// shadow copy for a follower. Resolving a
// tagged address into a byte view is the embedding agent package's
// job (mapping lookup + unsafe.Slice); shmagent only ever sees bytes.
type Request struct {
	Code  OpCode
	Width int // atomic width in bytes; ignored outside IsAtomic ops

	InAddr  uint64
	OutAddr uint64 // 0 when the op has no separate destination operand
	MyTag   uint32

	Dst []byte // primary target: load/store/atomic target, memcpy/memset destination, memcmp/strcmp first operand
	Src []byte // memcpy/memmove source, memcmp/strcmp second operand; nil otherwise

	Size  uint64 // byte count (memcpy/memmove/memset/memcmp), search cap (memchr), 0 = unbounded (strlen/strcmp use NUL termination)
	Value uint64 // store value / RMW operand / memset fill byte / memchr needle
	Cmp   uint64 // CAS compare value

	// ValueIsPointer marks Value as a tagged address rather than a
	// scalar, so the equivalence check uses addrtag.Equivalent instead
	// of raw equality.
	ValueIsPointer bool

	// NonSHMInput is, leader-side only, the raw bytes of an input that
	// doesn't live in the mediated region at all (e.g. a memcpy source
	// that is private per-variant memory). Followers verify their own
	// local copy of the same bytes against what the leader published.
	NonSHMInput []byte
}

// Result is what a mediated op hands back to the calling library
// function, identical across every variant.
type Result struct {
	Value  uint64 // the value returned to program code: loaded value, RMW's previous value, memcmp/strcmp sign, memchr offset+1 (0 = not found), strlen length
	CmpOK  bool   // ATOMICCMPXCHG only: whether the compare succeeded
	Stored uint64 // the width-bounded value now resident at Dst, for shadow replay; meaningless for pure reads
}

// Agent mediates SHM ops for one logical mapped region shared across
// variants. A process embeds one Agent per concurrently-mediated
// region (or a single Agent reused across regions if Dst/Src are
// supplied fresh on every call, as here).
type Agent struct {
	Monitor monitor.Monitor

	// StrictContentCheck requires followers to byte-compare
	// NonSHMInput rather than trust the leader unconditionally.
	// Defaults to true: a caller must opt out explicitly.
	StrictContentCheck bool
}

// New builds an Agent with strict content checking enabled.
func New(mon monitor.Monitor) *Agent {
	return &Agent{Monitor: mon, StrictContentCheck: true}
}

// Execute runs the three-phase protocol for one mediated op:
// equivalence check, unique access by the leader, replay by every
// follower. Every variant — leader included — calls Execute with its
// own view of req; slot is the SHM op slot this call was
// carved for, shared by every variant racing to fill it in.
func (a *Agent) Execute(slot *arena.ShmSlot, req Request, isLeader bool, numVariants int, variantIdx int, leaderTag uint32) (Result, error) {
	if req.Code.Unsupported() {
		diag.ConfigFault("shmagent: unsupported atomic RMW op", "op", req.Code.String())
		return Result{}, fmt.Errorf("shmagent: unsupported op %s", req.Code)
	}
	if req.Code.IsAtomic() && !SupportedWidth(req.Width) {
		diag.ConfigFault("shmagent: unsupported atomic width", "op", req.Code.String(), "width", req.Width)
		return Result{}, fmt.Errorf("shmagent: unsupported width %d for %s", req.Width, req.Code)
	}

	if err := a.phase1(slot, req, isLeader, leaderTag); err != nil {
		return Result{}, err
	}

	if isLeader {
		return a.phase2Leader(slot, req, numVariants)
	}
	return a.phase3Follower(slot, req)
}

// phase1 is the equivalence check. The leader
// publishes the op's header and non-SHM input; every variant
// (including the leader itself) then verifies its own view agrees
// before counting itself in via VariantsChecked.
func (a *Agent) phase1(slot *arena.ShmSlot, req Request, isLeader bool, leaderTag uint32) error {
	if isLeader {
		slot.InAddr = req.InAddr
		slot.OutAddr = req.OutAddr
		slot.Size = req.Size
		slot.Value = req.Value
		slot.Cmp = req.Cmp
		slot.OpType = uint32(req.Code)
		slot.Payload = append(slot.Payload[:0], req.NonSHMInput...)
		slot.VariantsChecked.Store(1) // release: publishes the header + payload
		return nil
	}

	spin.Spin(func() bool { return slot.VariantsChecked.Load() != 0 }) // acquire

	if OpCode(slot.OpType) != req.Code {
		a.Monitor.ReportDivergence(monitor.DivergenceOpType, "want", req.Code, "got", OpCode(slot.OpType))
		slot.Aborted.Store(true)
		return fmt.Errorf("shmagent: op-type mismatch")
	}
	if slot.Size != req.Size {
		a.Monitor.ReportDivergence(monitor.DivergenceSize, "want", req.Size, "got", slot.Size)
		slot.Aborted.Store(true)
		return fmt.Errorf("shmagent: size mismatch")
	}
	if req.InAddr != 0 && !addrtag.Equivalent(req.InAddr, req.MyTag, slot.InAddr, leaderTag) {
		a.Monitor.ReportDivergence(monitor.DivergenceAddress, "field", "in_addr")
		slot.Aborted.Store(true)
		return fmt.Errorf("shmagent: in_addr mismatch")
	}
	if req.OutAddr != 0 && !addrtag.Equivalent(req.OutAddr, req.MyTag, slot.OutAddr, leaderTag) {
		a.Monitor.ReportDivergence(monitor.DivergenceAddress, "field", "out_addr")
		slot.Aborted.Store(true)
		return fmt.Errorf("shmagent: out_addr mismatch")
	}
	if req.ValueIsPointer {
		if !addrtag.Equivalent(req.Value, req.MyTag, slot.Value, leaderTag) {
			a.Monitor.ReportDivergence(monitor.DivergenceValue, "field", "value (pointer)")
			slot.Aborted.Store(true)
			return fmt.Errorf("shmagent: pointer value mismatch")
		}
	} else if slot.Value != req.Value {
		a.Monitor.ReportDivergence(monitor.DivergenceValue, "want", req.Value, "got", slot.Value)
		slot.Aborted.Store(true)
		return fmt.Errorf("shmagent: value mismatch")
	}
	if slot.Cmp != req.Cmp {
		a.Monitor.ReportDivergence(monitor.DivergenceValue, "field", "cmp")
		slot.Aborted.Store(true)
		return fmt.Errorf("shmagent: cmp mismatch")
	}
	if a.StrictContentCheck && len(req.NonSHMInput) > 0 {
		if !contentEquivalent(slot.Payload, req.NonSHMInput, req.MyTag, leaderTag) {
			a.Monitor.ReportDivergence(monitor.DivergenceContent)
			slot.Aborted.Store(true)
			return fmt.Errorf("shmagent: non-shm input content mismatch")
		}
	}

	spin.Spin(func() bool {
		cur := slot.VariantsChecked.Load()
		return slot.VariantsChecked.CompareAndSwap(cur, cur+1)
	})
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// contentEquivalent compares a non-SHM input buffer word by word,
// falling back to addrtag.Equivalent on any 8-byte word that differs
// byte-for-byte: a buffer carrying a tagged pointer legitimately
// differs in its raw encoding across variants even though it names
// the same logical address. Trailing bytes short of a full word are
// compared raw.
func contentEquivalent(slotPayload, reqInput []byte, myTag, leaderTag uint32) bool {
	if len(slotPayload) != len(reqInput) {
		return false
	}
	n := len(slotPayload)
	i := 0
	for ; i+8 <= n; i += 8 {
		slotWord := binary.LittleEndian.Uint64(slotPayload[i : i+8])
		reqWord := binary.LittleEndian.Uint64(reqInput[i : i+8])
		if slotWord == reqWord {
			continue
		}
		if !addrtag.Equivalent(reqWord, myTag, slotWord, leaderTag) {
			return false
		}
	}
	return bytesEqual(slotPayload[i:], reqInput[i:])
}

// phase2Leader is "unique access": the leader
// waits for every variant to check in, then is the only one to touch
// the real shared memory. A follower that detected a mismatch in
// phase 1 never checks in, so the wait also stops early once any
// follower has signalled divergence via Aborted — against a mock
// monitor ReportDivergence returns rather than terminating the
// process, so the leader must not wait on a variant that never will.
func (a *Agent) phase2Leader(slot *arena.ShmSlot, req Request, numVariants int) (Result, error) {
	spin.Spin(func() bool {
		return int(slot.VariantsChecked.Load()) >= numVariants || slot.Aborted.Load()
	})

	res := Apply(req)

	slot.Value = res.Value
	slot.Cmp = res.Stored // reused post-checkin: the byte pattern for followers to replay

	if req.Code.Mutates() {
		slot.ReplicationType.Store(replicationShadow) // release
	} else {
		slot.ReplicationType.Store(replicationNone)
	}
	return res, nil
}

// phase3Follower is "follower replay": once the
// leader's ReplicationType is visible, a follower either replays the
// write into its own shadow, or simply adopts the leader's return
// value for a pure read.
func (a *Agent) phase3Follower(slot *arena.ShmSlot, req Request) (Result, error) {
	spin.Spin(func() bool { return slot.ReplicationType.Load() != 0 }) // acquire

	res := Result{Value: slot.Value, Stored: slot.Cmp}
	if req.Code == OpAtomicCmpXchg {
		res.CmpOK = slot.Cmp == req.Value
	}

	if slot.ReplicationType.Load() == replicationShadow && len(req.Dst) > 0 {
		replay(req, res)
	}
	return res, nil
}

// Apply performs the real op against req.Dst/req.Src. Called by the
// leader against the real shared segment during phase 2, and directly
// by the "monitor unavailable" pass-through path that skips mediation
// entirely.
func Apply(req Request) Result {
	switch req.Code {
	case OpLoad, OpAtomicLoad:
		return Result{Value: readWidth(req.Dst, widthOrEight(req)), Stored: 0}
	case OpStore, OpAtomicStore:
		v := req.Value & widthMask(widthOrEight(req))
		writeWidth(req.Dst, widthOrEight(req), v)
		return Result{Value: v, Stored: v}
	case OpAtomicCmpXchg:
		w := req.Width
		cur := readWidth(req.Dst, w)
		if cur == req.Cmp&widthMask(w) {
			writeWidth(req.Dst, w, req.Value)
			return Result{Value: cur, CmpOK: true, Stored: req.Value & widthMask(w)}
		}
		return Result{Value: cur, CmpOK: false, Stored: cur}
	case OpAtomicXchg, OpAtomicAdd, OpAtomicSub, OpAtomicAnd, OpAtomicNand, OpAtomicOr, OpAtomicXor:
		w := req.Width
		cur := readWidth(req.Dst, w)
		next := rmw(req.Code, cur, req.Value, w)
		writeWidth(req.Dst, w, next)
		return Result{Value: cur, Stored: next}
	case OpMemcpy, OpMemmove:
		n := int(req.Size)
		copy(req.Dst[:n], req.Src[:n])
		return Result{Value: req.Size}
	case OpMemset:
		n := int(req.Size)
		b := byte(req.Value)
		for i := 0; i < n; i++ {
			req.Dst[i] = b
		}
		return Result{Value: req.Size}
	case OpMemchr:
		idx := memchrIndex(req.Dst, int(req.Size), byte(req.Value))
		if idx < 0 {
			return Result{Value: 0}
		}
		return Result{Value: uint64(idx) + 1}
	case OpMemcmp:
		n := int(req.Size)
		return Result{Value: uint64(int32(memcmpResult(req.Dst, req.Src, n)))}
	case OpStrlen:
		return Result{Value: strlenBytes(req.Dst)}
	case OpStrcmp:
		return Result{Value: uint64(int32(strcmpBytes(req.Dst, req.Src)))}
	default:
		panic("shmagent: unhandled op in apply")
	}
}

// replay reproduces the leader's write into a follower's own Dst
// (typically its private shadow copy) so it stays coherent with the
// real shared segment.
func replay(req Request, res Result) {
	switch req.Code {
	case OpStore, OpAtomicStore, OpAtomicCmpXchg, OpAtomicXchg, OpAtomicAdd, OpAtomicSub, OpAtomicAnd, OpAtomicNand, OpAtomicOr, OpAtomicXor:
		writeWidth(req.Dst, widthOrEight(req), res.Stored)
	case OpMemcpy, OpMemmove:
		if len(req.Src) >= int(req.Size) && len(req.Dst) >= int(req.Size) {
			copy(req.Dst[:req.Size], req.Src[:req.Size])
		}
	case OpMemset:
		n := int(req.Size)
		b := byte(req.Value)
		for i := 0; i < n && i < len(req.Dst); i++ {
			req.Dst[i] = b
		}
	}
}

func widthOrEight(req Request) int {
	if req.Code.IsAtomic() {
		return req.Width
	}
	return 8
}
