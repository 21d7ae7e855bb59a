// Package addrtag implements the address-tagging scheme used to mark
// shared-memory pointers: a top-bit marker distinguishes shared-memory
// pointers from private ones, and a per-variant xor tag scrambles the
// high 32 bits so that two variants never compute the same raw
// encoding for the same logical shared address.
package addrtag

import (
	"fmt"
	"math/bits"
)

// MSBTag is the top-bit marker.
const MSBTag = uint64(1) << 63

const highMask = uint64(0xFFFFFFFF00000000)
const lowMask = uint64(0x00000000FFFFFFFF)

func init() {
	// The scheme only works on 64-bit targets where canonical
	// addresses leave the top bit free.
	if bits.UintSize != 64 {
		panic("addrtag: requires a 64-bit address space")
	}
}

// IsSHM reports whether addr carries the shared-memory marker.
func IsSHM(addr uint64) bool {
	return addr&MSBTag != 0
}

// Tag sets the MSB and xor-encodes the high 32 bits of addr with
// shmTag, producing the per-variant-unique wire encoding a caller
// passes to an SHM entry point.
func Tag(addr uint64, shmTag uint32) uint64 {
	high := (addr & highMask) ^ (uint64(shmTag) << 32)
	return MSBTag | high | (addr & lowMask)
}

// Decode reverses Tag: `(addr & 0xFFFFFFFF00000000) XOR shm_tag +
// (addr & 0x00000000FFFFFFFF)`, then clears the MSB marker.
func Decode(tagged uint64, shmTag uint32) uint64 {
	high := (tagged & highMask) ^ (uint64(shmTag) << 32)
	return (high | (tagged & lowMask)) &^ MSBTag
}

// DecodeWithLeaderTag decodes a pointer that was written into shared
// memory by the leader, using the leader's shm_tag rather than the
// caller's own.
func DecodeWithLeaderTag(tagged uint64, leaderTag uint32) uint64 {
	return Decode(tagged, leaderTag)
}

// Equivalent reports whether two encodings, potentially produced by
// different variants with different shm_tags, decode to the same
// logical address.
func Equivalent(a uint64, aTag uint32, b uint64, bTag uint32) bool {
	return Decode(a, aTag) == Decode(b, bTag)
}

// String renders addr for diagnostics.
func String(addr uint64) string {
	return fmt.Sprintf("0x%016x", addr)
}
