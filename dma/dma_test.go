// https://github.com/f-secure-foundry/kestrel
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dma

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testArena [0x10000]byte

func testRegion() *Region {
	start := uint(uintptr(unsafe.Pointer(&testArena[0])))
	return NewRegion(start, uint(len(testArena)))
}

func TestReserveAlignment(t *testing.T) {
	r := testRegion()

	for _, align := range []int{0, 16, 64, 4096} {
		addr, buf := r.Reserve(128, align)

		require.NotZero(t, addr)
		require.Equal(t, 128, len(buf))

		a := uint(4)

		if align > 0 {
			a = uint(align)
		}

		assert.Zero(t, addr%a, "alignment %d", align)
	}
}

func TestReserveStableAddress(t *testing.T) {
	r := testRegion()

	addr, buf := r.Reserve(64, 64)

	// the reserved slice is backed by the region itself
	assert.Equal(t, addr, uint(uintptr(unsafe.Pointer(&buf[0]))))

	res, got := r.Reserved(buf)
	assert.True(t, res)
	assert.Equal(t, addr, got)

	res, _ = r.Reserved(make([]byte, 64))
	assert.False(t, res)
}

func TestAllocReadWriteFree(t *testing.T) {
	r := testRegion()

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	addr := r.Alloc(data, 4)
	require.NotZero(t, addr)

	buf := make([]byte, 4)
	r.Read(addr, 2, buf)
	assert.Equal(t, []byte{3, 4, 5, 6}, buf)

	r.Write(addr, 6, []byte{0xaa, 0xbb})
	r.Read(addr, 6, buf[0:2])
	assert.Equal(t, []byte{0xaa, 0xbb}, buf[0:2])

	r.Free(addr)

	// the region coalesces back to a single free block able to satisfy
	// a full size allocation
	addr, _ = r.Reserve(int(r.Size())-64, 64)
	assert.NotZero(t, addr)
}

func TestReadOutOfRange(t *testing.T) {
	r := testRegion()

	addr := r.Alloc([]byte{1, 2, 3, 4}, 4)

	assert.Panics(t, func() {
		r.Read(addr, 2, make([]byte, 4))
	})
}
