// https://github.com/f-secure-foundry/kestrel
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package bits

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetNGetRoundTrip(t *testing.T) {
	var v uint32

	for _, tt := range []struct {
		pos  int
		mask int
		val  uint32
	}{
		{0, 1, 1},
		{4, 0xf, 0xa},
		{10, 0x3f, 33},
		{17, 0x1ffff >> 2, 0x1234},
		{24, 0xff, 0x56},
	} {
		SetN(&v, tt.pos, tt.mask, tt.val)
		assert.Equal(t, tt.val, Get(&v, tt.pos, tt.mask))
	}
}

func TestSetNClipsToField(t *testing.T) {
	v := uint32(0xffffffff)

	SetN(&v, 8, 0xff, 0x12)

	assert.Equal(t, uint32(0x12), Get(&v, 8, 0xff))
	assert.Equal(t, uint32(0xffff00ff|0x1200), v)
}

func TestSetClear(t *testing.T) {
	var v uint32

	Set(&v, 7)
	assert.True(t, IsSet(&v, 7))

	SetTo(&v, 7, false)
	assert.False(t, IsSet(&v, 7))

	SetTo(&v, 31, true)
	assert.Equal(t, uint32(1<<31), v)

	Clear(&v, 31)
	assert.Zero(t, v)

	v = 0xffffffff
	ClearN(&v, 4, 0xf)
	assert.Equal(t, uint32(0xffffff0f), v)
}

func TestSetN64RoundTrip(t *testing.T) {
	var v uint64

	SetN64(&v, 6, 0x3ffffff, 0x123456)
	assert.Equal(t, uint64(0x123456), Get64(&v, 6, 0x3ffffff))

	Set64(&v, 63)
	assert.True(t, IsSet64(&v, 63))

	Clear64(&v, 63)
	assert.False(t, IsSet64(&v, 63))
}
