// https://github.com/f-secure-foundry/kestrel
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceTableCapacity(t *testing.T) {
	d := &Driver{}

	for slot := uint8(1); slot <= maxDevices; slot++ {
		_, err := d.state(slot)
		require.NoError(t, err)
	}

	// the fixed size table is exhausted
	_, err := d.state(maxDevices + 1)
	assert.ErrorIs(t, err, ErrLackOfCapacity)

	// known slots still resolve to their existing entry
	s1, err := d.state(3)
	require.NoError(t, err)

	s2, err := d.state(3)
	require.NoError(t, err)
	assert.Same(t, s1, s2)
}

func TestMouseSlotSelection(t *testing.T) {
	d := &Driver{}

	assert.False(t, d.Ready())

	s, err := d.state(2)
	require.NoError(t, err)

	// a configured device without a boot mouse interface is not a
	// polling candidate
	s.configured = true
	assert.False(t, d.Ready())

	s.mouse = true
	assert.True(t, d.Ready())
	assert.Same(t, s, d.mouseSlot())
}

func TestPollMouseNoDevice(t *testing.T) {
	d := &Driver{}

	_, err := d.PollMouse()
	assert.ErrorIs(t, err, ErrNoDevice)
}
