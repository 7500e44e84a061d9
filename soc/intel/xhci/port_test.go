// https://github.com/f-secure-foundry/kestrel
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package xhci

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/f-secure-foundry/kestrel/internal/reg"
)

func fakePort(t *testing.T) (*Port, *uint32) {
	mem := new(uint32)

	return &Port{
		Base: uint(uintptr(unsafe.Pointer(mem))),
		Num:  1,
	}, mem
}

func TestPortReset(t *testing.T) {
	p, mem := fakePort(t)

	// not connected
	assert.ErrorIs(t, p.Reset(), ErrPortNotNewlyConnected)

	// connected but no connect status change
	*mem = 1 << PORTSC_CCS
	assert.ErrorIs(t, p.Reset(), ErrPortNotNewlyConnected)

	*mem = 1<<PORTSC_CCS | 1<<PORTSC_CSC
	require.NoError(t, p.Reset())

	v := reg.Read(p.Base)
	assert.NotZero(t, v&(1<<PORTSC_PR))
	assert.NotZero(t, v&(1<<PORTSC_CSC))
}

func TestPortSCPreserve(t *testing.T) {
	// all change bits set along with state bits
	v := uint32(1<<PORTSC_CCS | 1<<PORTSC_PED | 1<<PORTSC_PR | 1<<PORTSC_PP |
		1<<PORTSC_CSC | 1<<PORTSC_PEC | 1<<PORTSC_WRC | 1<<PORTSC_OCC |
		1<<PORTSC_PRC | 1<<PORTSC_PLC | 1<<PORTSC_CEC | 1<<PORTSC_WPR)

	got := portscPreserve(v)

	// RW1C/RW1S bits are masked, plain state bits survive
	assert.Equal(t, uint32(1<<PORTSC_CCS|1<<PORTSC_PP), got)
}

func TestPortSpeed(t *testing.T) {
	p, mem := fakePort(t)

	*mem = SPEED_SUPER << PORTSC_SPEED
	assert.Equal(t, uint8(SPEED_SUPER), p.Speed())
}

func TestPhaseTransitions(t *testing.T) {
	s := newPortPhases(4)

	assert.Equal(t, PhaseNotConnected, s.Phase(1))

	require.NoError(t, s.Set(1, PhaseWaitingAddressed))
	require.NoError(t, s.Transition(1, PhaseWaitingAddressed, PhaseResettingPort))

	// a transition from the wrong phase carries both phases
	err := s.Transition(1, PhaseEnablingSlot, PhaseAddressingDevice)

	var phaseErr *PhaseError
	require.ErrorAs(t, err, &phaseErr)
	assert.Equal(t, PhaseEnablingSlot, phaseErr.Expected)
	assert.Equal(t, PhaseResettingPort, phaseErr.Actual)

	assert.ErrorIs(t, s.Set(0, PhaseConfigured), ErrInvalidPortID)
	assert.ErrorIs(t, s.Set(5, PhaseConfigured), ErrInvalidPortID)
}

func TestProcessingPortGate(t *testing.T) {
	s := newPortPhases(4)

	_, ok := s.Processing()
	assert.False(t, ok)

	// releasing without a claim
	assert.ErrorIs(t, s.Release(), ErrEmptyProcessingPort)

	require.NoError(t, s.Claim(2))

	port, ok := s.Processing()
	assert.True(t, ok)
	assert.Equal(t, uint8(2), port)

	// at most one port may be processed at any time
	assert.ErrorIs(t, s.Claim(3), ErrAlreadyPortProcessing)

	require.NoError(t, s.Release())
	assert.ErrorIs(t, s.Release(), ErrEmptyProcessingPort)

	require.NoError(t, s.Claim(3))
}

func TestPhaseConfiguring(t *testing.T) {
	for _, p := range []Phase{
		PhaseResettingPort, PhaseEnablingSlot, PhaseAddressingDevice,
		PhaseInitializingDevice, PhaseConfiguringEndpoints,
	} {
		assert.True(t, p.configuring(), p.String())
	}

	for _, p := range []Phase{
		PhaseNotConnected, PhaseWaitingAddressed, PhaseConfigured,
	} {
		assert.False(t, p.configuring(), p.String())
	}
}
