// USB eXtensible Host Controller Interface (xHCI) driver
// https://github.com/f-secure-foundry/kestrel
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package xhci

import (
	"github.com/f-secure-foundry/kestrel/internal/reg"
)

// Phase represents the configuration phase of a root hub port.
type Phase int

const (
	PhaseNotConnected Phase = iota
	PhaseWaitingAddressed
	PhaseResettingPort
	PhaseEnablingSlot
	PhaseAddressingDevice
	PhaseInitializingDevice
	PhaseConfiguringEndpoints
	PhaseConfigured
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseNotConnected:
		return "NotConnected"
	case PhaseWaitingAddressed:
		return "WaitingAddressed"
	case PhaseResettingPort:
		return "ResettingPort"
	case PhaseEnablingSlot:
		return "EnablingSlot"
	case PhaseAddressingDevice:
		return "AddressingDevice"
	case PhaseInitializingDevice:
		return "InitializingDevice"
	case PhaseConfiguringEndpoints:
		return "ConfiguringEndpoints"
	case PhaseConfigured:
		return "Configured"
	}

	return "Unknown"
}

// configuring returns whether the phase is a non-terminal configuration
// phase, at most one port may hold such a phase at any time.
func (p Phase) configuring() bool {
	switch p {
	case PhaseResettingPort, PhaseEnablingSlot, PhaseAddressingDevice,
		PhaseInitializingDevice, PhaseConfiguringEndpoints:
		return true
	}

	return false
}

// Port represents a root hub port register set, ports are numbered starting
// from 1 as in the xHCI specification.
type Port struct {
	// PORTSC register address
	Base uint
	// Port number
	Num uint8
}

// Status returns the raw PORTSC register value.
func (p *Port) Status() uint32 {
	return reg.Read(p.Base)
}

// Connected returns the Current Connect Status bit.
func (p *Port) Connected() bool {
	return reg.Get(p.Base, PORTSC_CCS, 1) == 1
}

// ConnectStatusChanged returns the Connect Status Change bit.
func (p *Port) ConnectStatusChanged() bool {
	return reg.Get(p.Base, PORTSC_CSC, 1) == 1
}

// Enabled returns the Port Enabled/Disabled bit.
func (p *Port) Enabled() bool {
	return reg.Get(p.Base, PORTSC_PED, 1) == 1
}

// Resetting returns the Port Reset bit.
func (p *Port) Resetting() bool {
	return reg.Get(p.Base, PORTSC_PR, 1) == 1
}

// ResetChanged returns the Port Reset Change bit.
func (p *Port) ResetChanged() bool {
	return reg.Get(p.Base, PORTSC_PRC, 1) == 1
}

// ClearResetChange acknowledges the Port Reset Change bit.
func (p *Port) ClearResetChange() {
	v := portscPreserve(p.Status())
	v |= 1 << PORTSC_PRC

	reg.Write(p.Base, v)
}

// Speed returns the port speed identifier.
func (p *Port) Speed() uint8 {
	return uint8(reg.Get(p.Base, PORTSC_SPEED, 0xf))
}

// Reset initiates a port reset for a newly connected device, acknowledging
// its connect status change. Reset completion is reported asynchronously
// through a Port Status Change Event.
func (p *Port) Reset() error {
	if !p.Connected() || !p.ConnectStatusChanged() {
		return ErrPortNotNewlyConnected
	}

	v := portscPreserve(p.Status())
	v |= 1 << PORTSC_PR
	v |= 1 << PORTSC_CSC

	reg.Write(p.Base, v)

	return nil
}

// portPhases tracks the configuration phase of every root hub port, along
// with the single port allowed to be in a non-terminal phase.
type portPhases struct {
	phase      []Phase
	processing uint8
}

func newPortPhases(ports int) *portPhases {
	return &portPhases{
		phase: make([]Phase, ports+1),
	}
}

// Phase returns the configuration phase of a port.
func (s *portPhases) Phase(port uint8) Phase {
	if int(port) >= len(s.phase) || port == 0 {
		return PhaseNotConnected
	}

	return s.phase[port]
}

// Set sets the configuration phase of a port.
func (s *portPhases) Set(port uint8, phase Phase) error {
	if int(port) >= len(s.phase) || port == 0 {
		return ErrInvalidPortID
	}

	s.phase[port] = phase

	return nil
}

// Transition moves a port from an expected phase to the next one, it
// returns a PhaseError when the current phase does not match.
func (s *portPhases) Transition(port uint8, from Phase, to Phase) error {
	if int(port) >= len(s.phase) || port == 0 {
		return ErrInvalidPortID
	}

	if s.phase[port] != from {
		return &PhaseError{Expected: from, Actual: s.phase[port]}
	}

	s.phase[port] = to

	return nil
}

// Claim marks a port as the one being configured, only one port may be
// claimed at any time.
func (s *portPhases) Claim(port uint8) error {
	if s.processing != 0 {
		return ErrAlreadyPortProcessing
	}

	s.processing = port

	return nil
}

// Release clears the port being configured.
func (s *portPhases) Release() error {
	if s.processing == 0 {
		return ErrEmptyProcessingPort
	}

	s.processing = 0

	return nil
}

// Processing returns the port currently being configured, if any.
func (s *portPhases) Processing() (port uint8, ok bool) {
	return s.processing, s.processing != 0
}
