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
	"bytes"
	"encoding/binary"

	"github.com/f-secure-foundry/kestrel/bits"
)

// Endpoint types
// (p449, Table 6-9, xHCI rev 1.2)
const (
	EndpointIsochOut = 1
	EndpointBulkOut  = 2
	EndpointIntrOut  = 3
	EndpointControl  = 4
	EndpointIsochIn  = 5
	EndpointBulkIn   = 6
	EndpointIntrIn   = 7
)

// EndpointType returns the endpoint context type encoding for a transfer
// type (as found in an endpoint descriptor attributes field) and direction.
func EndpointType(transfer uint8, in bool) uint8 {
	if in {
		return transfer + 4
	}

	return transfer
}

// SlotContext represents an xHCI Slot Context as eight 32-bit little-endian
// words (p439, 6.2.2, xHCI rev 1.2).
type SlotContext [8]uint32

// SetRouteString sets the device route string.
func (c *SlotContext) SetRouteString(v uint32) {
	bits.SetN(&c[0], 0, 0xfffff, v)
}

// SetSpeed sets the device speed, using PORTSC speed encoding.
func (c *SlotContext) SetSpeed(v uint8) {
	bits.SetN(&c[0], 20, 0xf, uint32(v))
}

// Speed returns the device speed.
func (c *SlotContext) Speed() uint8 {
	return uint8(bits.Get(&c[0], 20, 0xf))
}

// SetContextEntries sets the index of the last valid endpoint context.
func (c *SlotContext) SetContextEntries(v uint8) {
	bits.SetN(&c[0], 27, 0x1f, uint32(v))
}

// ContextEntries returns the index of the last valid endpoint context.
func (c *SlotContext) ContextEntries() uint8 {
	return uint8(bits.Get(&c[0], 27, 0x1f))
}

// SetRootHubPort sets the root hub port number the device is attached to.
func (c *SlotContext) SetRootHubPort(v uint8) {
	bits.SetN(&c[1], 16, 0xff, uint32(v))
}

// RootHubPort returns the root hub port number the device is attached to.
func (c *SlotContext) RootHubPort() uint8 {
	return uint8(bits.Get(&c[1], 16, 0xff))
}

// Address returns the USB device address assigned by the controller.
func (c *SlotContext) Address() uint8 {
	return uint8(bits.Get(&c[3], 0, 0xff))
}

// State returns the slot state.
func (c *SlotContext) State() uint8 {
	return uint8(bits.Get(&c[3], 27, 0x1f))
}

// EndpointContext represents an xHCI Endpoint Context as eight 32-bit
// little-endian words (p443, 6.2.3, xHCI rev 1.2).
type EndpointContext [8]uint32

// SetType sets the endpoint type.
func (c *EndpointContext) SetType(v uint8) {
	bits.SetN(&c[1], 3, 0b111, uint32(v))
}

// Type returns the endpoint type.
func (c *EndpointContext) Type() uint8 {
	return uint8(bits.Get(&c[1], 3, 0b111))
}

// SetMaxPacketSize sets the endpoint maximum packet size.
func (c *EndpointContext) SetMaxPacketSize(v uint16) {
	bits.SetN(&c[1], 16, 0xffff, uint32(v))
}

// MaxPacketSize returns the endpoint maximum packet size.
func (c *EndpointContext) MaxPacketSize() uint16 {
	return uint16(bits.Get(&c[1], 16, 0xffff))
}

// SetMaxBurstSize sets the endpoint maximum burst size.
func (c *EndpointContext) SetMaxBurstSize(v uint8) {
	bits.SetN(&c[1], 8, 0xff, uint32(v))
}

// SetErrorCount sets the bus error count before the endpoint is halted.
func (c *EndpointContext) SetErrorCount(v uint8) {
	bits.SetN(&c[1], 1, 0b11, uint32(v))
}

// SetInterval sets the endpoint service interval.
func (c *EndpointContext) SetInterval(v uint8) {
	bits.SetN(&c[0], 16, 0xff, uint32(v))
}

// SetMult sets the endpoint burst multiplier.
func (c *EndpointContext) SetMult(v uint8) {
	bits.SetN(&c[0], 8, 0b11, uint32(v))
}

// SetMaxPrimaryStreams sets the endpoint primary stream count.
func (c *EndpointContext) SetMaxPrimaryStreams(v uint8) {
	bits.SetN(&c[0], 10, 0x1f, uint32(v))
}

// SetDequeuePointer sets the transfer ring dequeue pointer along with its
// dequeue cycle state. The ring address must remain stable for as long as
// the context is valid.
func (c *EndpointContext) SetDequeuePointer(addr uint, cycle bool) {
	c[2] = uint32(addr) &^ 0xf
	bits.SetTo(&c[2], 0, cycle)
	c[3] = uint32(uint64(addr) >> 32)
}

// DequeuePointer returns the transfer ring dequeue pointer.
func (c *EndpointContext) DequeuePointer() uint {
	return uint(uint64(c[2]&^0xf) | uint64(c[3])<<32)
}

// deviceContextEndpoints is the number of endpoint contexts of a device
// context, one per Device Context Index (DCI) 1-31.
const deviceContextEndpoints = 31

// DeviceContext represents an xHCI Device Context
// (p437, 6.2.1, xHCI rev 1.2). Its DMA backed instances are owned by the
// controller once their pointer is published in the DCBAA.
type DeviceContext struct {
	Slot      SlotContext
	Endpoints [deviceContextEndpoints]EndpointContext
}

// DeviceContextSize is the size in bytes of a marshaled device context.
const DeviceContextSize = 32 * (1 + deviceContextEndpoints)

// InputControlContext represents an xHCI Input Control Context as eight
// 32-bit little-endian words of which the first two carry the drop and add
// context flags (p461, 6.2.5.1, xHCI rev 1.2).
type InputControlContext [8]uint32

// Drop flags an endpoint context for removal by the next command.
func (c *InputControlContext) Drop(dci uint8) {
	bits.Set(&c[0], int(dci))
}

// Add flags a context for evaluation by the next command, index 0 refers to
// the slot context and indexes 1-31 to endpoint contexts by DCI.
func (c *InputControlContext) Add(index uint8) {
	bits.Set(&c[1], int(index))
}

// Added returns whether a context is flagged for evaluation.
func (c *InputControlContext) Added(index uint8) bool {
	return bits.IsSet(&c[1], int(index))
}

// InputContext represents an xHCI Input Context, handed to the controller
// by Address Device and Configure Endpoint commands
// (p460, 6.2.5, xHCI rev 1.2).
type InputContext struct {
	Control   InputControlContext
	Slot      SlotContext
	Endpoints [deviceContextEndpoints]EndpointContext
}

// InputContextSize is the size in bytes of a marshaled input context.
const InputContextSize = 32 * (2 + deviceContextEndpoints)

// Bytes converts the input context to its little-endian wire format.
func (c *InputContext) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, c)

	return buf.Bytes()
}

// InitSlot initializes the slot context for a device newly attached to a
// root hub port, ahead of an Address Device command.
func (c *InputContext) InitSlot(port uint8, speed uint8) {
	c.Slot.SetRouteString(0)
	c.Slot.SetRootHubPort(port)
	c.Slot.SetContextEntries(1)
	c.Slot.SetSpeed(speed)
}

// InitEndpoint0 initializes the endpoint context of the default control
// pipe, the ring argument provides the transfer ring dequeue pointer and
// cycle state.
func (c *InputContext) InitEndpoint0(ring *Ring, maxPacketSize uint16) {
	ep0 := &c.Endpoints[0]

	ep0.SetType(EndpointControl)
	ep0.SetMaxPacketSize(maxPacketSize)
	ep0.SetMaxBurstSize(0)
	ep0.SetDequeuePointer(ring.Address(), ring.CycleState())
	ep0.SetInterval(0)
	ep0.SetMaxPrimaryStreams(0)
	ep0.SetMult(0)
	ep0.SetErrorCount(3)
}

// ControlMaxPacketSize returns the default control pipe maximum packet size
// for a port speed, the actual value for low and full speed devices would
// require a device descriptor read back (not performed by this driver).
func ControlMaxPacketSize(speed uint8) uint16 {
	switch speed {
	case SPEED_LOW, SPEED_FULL:
		return 8
	case SPEED_HIGH:
		return 64
	case SPEED_SUPER:
		return 512
	}

	return 8
}
