package agent

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestBytesAtViewsRealMemory(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	addr := uintptr(unsafe.Pointer(&buf[0]))

	view := bytesAt(addr, 4)
	assert.Equal(t, []byte{1, 2, 3, 4}, view)

	view[0] = 0xff
	assert.Equal(t, byte(0xff), buf[0], "bytesAt must alias the same backing array, not copy it")
}

func TestBytesAtZeroAddrOrLenYieldsNil(t *testing.T) {
	assert.Nil(t, bytesAt(0, 8))
	buf := []byte{1}
	assert.Nil(t, bytesAt(uintptr(unsafe.Pointer(&buf[0])), 0))
}
