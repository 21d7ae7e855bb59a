package shmagent

import "encoding/binary"

// readWidth reads a width-byte (1/2/4/8) little-endian value out of buf.
func readWidth(buf []byte, width int) uint64 {
	switch width {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf))
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf))
	case 8:
		return binary.LittleEndian.Uint64(buf)
	default:
		panic("shmagent: unsupported width")
	}
}

// writeWidth writes the low width bytes of val, little-endian, into buf.
func writeWidth(buf []byte, width int, val uint64) {
	switch width {
	case 1:
		buf[0] = byte(val)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(val))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(val))
	case 8:
		binary.LittleEndian.PutUint64(buf, val)
	default:
		panic("shmagent: unsupported width")
	}
}

// rmw applies the read-modify-write arithmetic for the supported
// ATOMICRMW_* ops. cur is the value observed before the
// op; it returns the value to store.
func rmw(code OpCode, cur, operand uint64, width int) uint64 {
	mask := widthMask(width)
	switch code {
	case OpAtomicXchg:
		return operand & mask
	case OpAtomicAdd:
		return (cur + operand) & mask
	case OpAtomicSub:
		return (cur - operand) & mask
	case OpAtomicAnd:
		return cur & operand & mask
	case OpAtomicNand:
		return ^(cur & operand) & mask
	case OpAtomicOr:
		return (cur | operand) & mask
	case OpAtomicXor:
		return (cur ^ operand) & mask
	default:
		panic("shmagent: rmw called on a non-RMW op")
	}
}

func widthMask(width int) uint64 {
	if width >= 8 {
		return ^uint64(0)
	}
	return (uint64(1) << (8 * width)) - 1
}

// memchrIndex returns the byte offset of needle within buf[:n], or -1.
func memchrIndex(buf []byte, n int, needle byte) int {
	for i := 0; i < n && i < len(buf); i++ {
		if buf[i] == needle {
			return i
		}
	}
	return -1
}

// memcmpResult mirrors glibc memcmp's sign convention.
func memcmpResult(a, b []byte, n int) int {
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// strlenBytes returns the length of the NUL-terminated string in buf,
// capped at len(buf).
func strlenBytes(buf []byte) uint64 {
	for i, b := range buf {
		if b == 0 {
			return uint64(i)
		}
	}
	return uint64(len(buf))
}

// strcmpBytes mirrors glibc strcmp's sign convention over NUL-terminated
// strings stored in a and b.
func strcmpBytes(a, b []byte) int {
	for i := 0; ; i++ {
		var ca, cb byte
		if i < len(a) {
			ca = a[i]
		}
		if i < len(b) {
			cb = b[i]
		}
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
		if ca == 0 {
			return 0
		}
	}
}
