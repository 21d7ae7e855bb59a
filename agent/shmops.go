package agent

import (
	"fmt"

	"github.com/mvee-systems/replicant/addrtag"
	"github.com/mvee-systems/replicant/arena"
	"github.com/mvee-systems/replicant/internal/diag"
	"github.com/mvee-systems/replicant/mapping"
	"github.com/mvee-systems/replicant/shmagent"
)

// resolveTarget decodes a tagged address into this variant's own view
// of the mapped segment and returns the byte slice a shmagent.Request
// should read and write: the real segment for the leader, or the
// variant's private shadow copy for a follower in shadow mode, or the
// real segment again in no-shadow mode.
func (a *Agent) resolveTarget(tagged uint64, size int, isLeader bool) (*mapping.Entry, []byte, error) {
	logical := uintptr(addrtag.Decode(tagged, a.ShmTag))
	entry := a.Mapping.Lookup(logical)
	if entry == nil {
		return nil, nil, fmt.Errorf("agent: no mapping entry covers %s", addrtag.String(uint64(logical)))
	}

	offset := logical - entry.RealBase
	base := entry.RealBase
	if !isLeader && entry.HasShadow() {
		base = entry.ShadowBase
	}
	return entry, bytesAt(base+offset, size), nil
}

// carve reserves a slot on ts's per-thread SHM op ring, flushing and
// retrying once if the ring is full.
func (a *Agent) carve(ts *arena.ThreadState, payloadLen int) (*arena.ShmSlot, error) {
	slot, ok := ts.Ring.Carve(ts, payloadLen)
	if ok {
		return slot, nil
	}
	if err := ts.Ring.Flush(a.Monitor, ts); err != nil {
		return nil, fmt.Errorf("agent: shm ring flush: %w", err)
	}
	slot, ok = ts.Ring.Carve(ts, payloadLen)
	if !ok {
		diag.ConfigFault("agent: shm op too large for a freshly flushed ring", "payload_len", payloadLen)
		return nil, fmt.Errorf("agent: op does not fit")
	}
	return slot, nil
}

// ShmOp mediates a single load/store/atomic whose pointer carries the
// SHM tag. valueIsPointer marks Value as itself a tagged
// address so the equivalence check uses pointer equivalence rather
// than raw equality.
func (a *Agent) ShmOp(ts *arena.ThreadState, opCode shmagent.OpCode, taggedAddr, size, value, cmp uint64, width int, valueIsPointer bool) (shmagent.Result, error) {
	id, ok := a.ready()
	if !ok {
		return a.rawScalarOp(opCode, taggedAddr, value, cmp, width)
	}

	leaderTag, err := a.Identity.LeaderSHMTag(a.Monitor)
	if err != nil {
		diag.ConfigFault("agent: leader shm_tag unavailable", "err", err)
	}

	_, dst, err := a.resolveTarget(taggedAddr, widthBytes(width), id.IsLeader)
	if err != nil {
		diag.ConfigFault("agent: shm op on unmapped address", "err", err)
		return shmagent.Result{}, err
	}

	slot, err := a.carve(ts, 0)
	if err != nil {
		return shmagent.Result{}, err
	}

	req := shmagent.Request{
		Code: opCode, Width: width,
		InAddr: taggedAddr, MyTag: a.ShmTag,
		Dst: dst, Size: size, Value: value, Cmp: cmp,
		ValueIsPointer: valueIsPointer,
	}
	return a.Shm.Execute(slot, req, id.IsLeader, int(id.NumVariants), int(id.VariantIndex), leaderTag)
}

// rawScalarOp runs a load/store/atomic directly against the decoded
// address with no mediation, for the "monitor unavailable" pass-through
// case.
func (a *Agent) rawScalarOp(opCode shmagent.OpCode, taggedAddr, value, cmp uint64, width int) (shmagent.Result, error) {
	logical := addrtag.Decode(taggedAddr, a.ShmTag)
	dst := bytesAt(uintptr(logical), widthBytes(width))
	req := shmagent.Request{Code: opCode, Width: width, Dst: dst, Value: value, Cmp: cmp}
	return shmagent.Apply(req), nil
}

func widthBytes(width int) int {
	if width == 0 {
		return 8
	}
	return width
}

// glibcOp is the shared path for the mem*/str* family (memcpy,
// memmove, memset, memchr, memcmp, strlen, strcmp): any one of them
// may have its source and/or destination carry the SHM tag, so the
// caller is responsible for flagging whichever side is shared memory
// itself before calling in (dstIsSHM / srcIsSHM).
func (a *Agent) glibcOp(ts *arena.ThreadState, opCode shmagent.OpCode, dstTagged, srcTagged uint64, dstIsSHM, srcIsSHM bool, size, value uint64, nonSHMInput []byte) (shmagent.Result, error) {
	id, ok := a.ready()
	if !ok {
		return a.rawGlibcOp(opCode, dstTagged, srcTagged, dstIsSHM, srcIsSHM, size, value)
	}

	leaderTag, err := a.Identity.LeaderSHMTag(a.Monitor)
	if err != nil {
		diag.ConfigFault("agent: leader shm_tag unavailable", "err", err)
	}

	n := int(size)
	var dst, src []byte
	var inAddr, outAddr uint64
	if dstIsSHM {
		_, b, err := a.resolveTarget(dstTagged, n, id.IsLeader)
		if err != nil {
			diag.ConfigFault("agent: glibc op destination unmapped", "err", err)
			return shmagent.Result{}, err
		}
		dst, outAddr = b, dstTagged
	} else {
		dst = bytesAt(uintptr(dstTagged), n)
		inAddr = dstTagged
	}
	if srcIsSHM {
		_, b, err := a.resolveTarget(srcTagged, n, id.IsLeader)
		if err != nil {
			diag.ConfigFault("agent: glibc op source unmapped", "err", err)
			return shmagent.Result{}, err
		}
		src = b
		if inAddr == 0 {
			inAddr = srcTagged
		}
	} else if srcTagged != 0 {
		src = bytesAt(uintptr(srcTagged), n)
	}
	if outAddr == 0 && dstIsSHM {
		outAddr = dstTagged
	}

	slot, err := a.carve(ts, len(nonSHMInput))
	if err != nil {
		return shmagent.Result{}, err
	}

	req := shmagent.Request{
		Code: opCode,
		InAddr: inAddr, OutAddr: outAddr, MyTag: a.ShmTag,
		Dst: dst, Src: src, Size: size, Value: value,
		NonSHMInput: nonSHMInput,
	}
	return a.Shm.Execute(slot, req, id.IsLeader, int(id.NumVariants), int(id.VariantIndex), leaderTag)
}

func (a *Agent) rawGlibcOp(opCode shmagent.OpCode, dstTagged, srcTagged uint64, dstIsSHM, srcIsSHM bool, size, value uint64) (shmagent.Result, error) {
	n := int(size)
	var dst, src []byte
	if dstIsSHM {
		dst = bytesAt(uintptr(addrtag.Decode(dstTagged, a.ShmTag)), n)
	} else {
		dst = bytesAt(uintptr(dstTagged), n)
	}
	if srcTagged != 0 {
		if srcIsSHM {
			src = bytesAt(uintptr(addrtag.Decode(srcTagged, a.ShmTag)), n)
		} else {
			src = bytesAt(uintptr(srcTagged), n)
		}
	}
	req := shmagent.Request{Code: opCode, Dst: dst, Src: src, Size: size, Value: value}
	return shmagent.Apply(req), nil
}

// ShmMemcpy mediates a memcpy where either operand may be shared
// memory.
func (a *Agent) ShmMemcpy(ts *arena.ThreadState, dstTagged, srcTagged uint64, dstIsSHM, srcIsSHM bool, size uint64, privateSrc []byte) (shmagent.Result, error) {
	return a.glibcOp(ts, shmagent.OpMemcpy, dstTagged, srcTagged, dstIsSHM, srcIsSHM, size, 0, privateSrc)
}

// ShmMemmove mediates a memmove where either operand may be shared
// memory.
func (a *Agent) ShmMemmove(ts *arena.ThreadState, dstTagged, srcTagged uint64, dstIsSHM, srcIsSHM bool, size uint64, privateSrc []byte) (shmagent.Result, error) {
	return a.glibcOp(ts, shmagent.OpMemmove, dstTagged, srcTagged, dstIsSHM, srcIsSHM, size, 0, privateSrc)
}

// ShmMemset mediates a memset against a shared-memory destination.
func (a *Agent) ShmMemset(ts *arena.ThreadState, dstTagged uint64, fill byte, size uint64) (shmagent.Result, error) {
	return a.glibcOp(ts, shmagent.OpMemset, dstTagged, 0, true, false, size, uint64(fill), nil)
}

// ShmMemchr mediates a memchr scan over a shared-memory source.
func (a *Agent) ShmMemchr(ts *arena.ThreadState, srcTagged uint64, needle byte, size uint64) (shmagent.Result, error) {
	return a.glibcOp(ts, shmagent.OpMemchr, srcTagged, 0, true, false, size, uint64(needle), nil)
}

// ShmMemcmp mediates a memcmp where either operand may be shared
// memory. The non-SHM side, if any, is supplied as nonSHM for the
// leader to publish and followers to verify.
func (a *Agent) ShmMemcmp(ts *arena.ThreadState, aTagged, bTagged uint64, aIsSHM, bIsSHM bool, size uint64, nonSHM []byte) (shmagent.Result, error) {
	return a.glibcOp(ts, shmagent.OpMemcmp, aTagged, bTagged, aIsSHM, bIsSHM, size, 0, nonSHM)
}

// ShmStrlen mediates a strlen scan over a shared-memory source. maxLen
// bounds how far this implementation will scan for a NUL terminator,
// since a Go slice cannot be read past its bound the way raw pointer
// arithmetic can.
func (a *Agent) ShmStrlen(ts *arena.ThreadState, srcTagged uint64, maxLen uint64) (shmagent.Result, error) {
	return a.glibcOp(ts, shmagent.OpStrlen, srcTagged, 0, true, false, maxLen, 0, nil)
}

// ShmStrcmp mediates a strcmp where either operand may be shared
// memory.
func (a *Agent) ShmStrcmp(ts *arena.ThreadState, aTagged, bTagged uint64, aIsSHM, bIsSHM bool, maxLen uint64, nonSHM []byte) (shmagent.Result, error) {
	return a.glibcOp(ts, shmagent.OpStrcmp, aTagged, bTagged, aIsSHM, bIsSHM, maxLen, 0, nonSHM)
}
