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
	"errors"
	"fmt"
)

// Errors returned by the host controller driver.
var (
	// ErrLackOfDeviceContext is returned when the controller supports
	// more device slots than the driver reserved memory for.
	ErrLackOfDeviceContext = errors.New("lack of device contexts")

	ErrPortNotNewlyConnected   = errors.New("port not newly connected")
	ErrPortDisabled            = errors.New("port disabled")
	ErrPortResetNotFinished    = errors.New("port reset not finished")
	ErrAlreadyPortProcessing   = errors.New("a port is already being processed")
	ErrEmptyProcessingPort     = errors.New("no port is being processed")
	ErrInvalidSlotID           = errors.New("invalid slot id")
	ErrInvalidPortID           = errors.New("invalid port id")
	ErrDeviceManagerOutOfRange = errors.New("device manager out of range")
)

// PhaseError is returned on a port configuration phase transition that does
// not match the expected current phase.
type PhaseError struct {
	Expected Phase
	Actual   Phase
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("invalid port phase, expected %s, actual %s", e.Expected, e.Actual)
}

// CommandError is returned when a completion event carries a non-Success
// completion code, it retains the issuing TRB for diagnosis.
type CommandError struct {
	Code   CompletionCode
	Issuer RawTRB
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s completed with %s", e.Issuer.Type(), e.Code)
}

// EventError is returned when the event stream yields a TRB of an
// unexpected type.
type EventError struct {
	Expected TRBType
	Actual   RawTRB
}

func (e *EventError) Error() string {
	return fmt.Sprintf("unexpected TRB, expected %s, actual %s", e.Expected, e.Actual.Type())
}
