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

	"github.com/f-secure-foundry/kestrel/dma"
	"github.com/f-secure-foundry/kestrel/internal/reg"
)

// Transfer ring geometry, one ring per Device Context Index starting at the
// default control pipe (DCI 1).
const (
	TransferRingSize = 32
	TransferRings    = 16
)

// Device represents a USB device attached to a controller slot. Its device
// and input contexts, as well as its transfer rings, are allocated within
// the DMA region and never move while the device is allocated.
type Device struct {
	// Slot ID assigned by the controller
	SlotID uint8

	context uint
	input   uint
	rings   [TransferRings]*Ring

	// shadow input context, flushed to DMA memory with FlushInput()
	in InputContext
}

func newDevice(slot uint8) *Device {
	d := &Device{
		SlotID: slot,
	}

	ctx, buf := dma.Reserve(DeviceContextSize, contextAlign)

	for i := range buf {
		buf[i] = 0
	}

	d.context = ctx
	d.input, _ = dma.Reserve(InputContextSize, contextAlign)

	for i := range d.rings {
		d.rings[i] = NewRing(TransferRingSize)
	}

	d.FlushInput()

	return d
}

// ContextAddress returns the device context address, as published in the
// DCBAA.
func (d *Device) ContextAddress() uint {
	return d.context
}

// InputContextAddress returns the input context address, as referenced by
// Address Device and Configure Endpoint commands.
func (d *Device) InputContextAddress() uint {
	return d.input
}

// Input returns the device input context shadow, modifications take effect
// on DMA memory once FlushInput() is invoked.
func (d *Device) Input() *InputContext {
	return &d.in
}

// FlushInput writes the input context shadow to its DMA backing memory.
func (d *Device) FlushInput() {
	buf := d.in.Bytes()

	ptr := d.input
	for i := 0; i < len(buf); i += 4 {
		reg.Write(ptr+uint(i), binary.LittleEndian.Uint32(buf[i:]))
	}
}

// Context reads back the device context from DMA memory, reflecting
// controller updates.
func (d *Device) Context() (ctx DeviceContext) {
	buf := make([]byte, DeviceContextSize)

	for i := 0; i < len(buf); i += 4 {
		binary.LittleEndian.PutUint32(buf[i:], reg.Read(d.context+uint(i)))
	}

	binary.Read(bytes.NewReader(buf), binary.LittleEndian, &ctx)

	return
}

// Ring returns the transfer ring for a Device Context Index.
func (d *Device) Ring(dci uint8) *Ring {
	if dci < 1 || int(dci) > len(d.rings) {
		return nil
	}

	return d.rings[dci-1]
}

// ControlRing returns the default control pipe (DCI 1) transfer ring.
func (d *Device) ControlRing() *Ring {
	return d.rings[0]
}

// RootHubPort returns the root hub port number recorded in the device
// context slot context.
func (d *Device) RootHubPort() uint8 {
	slot := reg.Read(d.context + 4)
	return uint8(slot >> 16)
}

// DeviceManager owns the Device Context Base Address Array and the device
// table indexed by slot ID.
type DeviceManager struct {
	dcbaa    uint
	capacity int
	devices  []*Device
}

// NewDeviceManager allocates a device table and its DCBAA for the argument
// number of slots.
func NewDeviceManager(slots int) *DeviceManager {
	m := &DeviceManager{
		capacity: slots,
		devices:  make([]*Device, slots+1),
	}

	// DCBAA entries are 64-bit pointers, index 0 is reserved for the
	// scratchpad buffer array.
	addr, buf := dma.Reserve((slots+1)*8, contextAlign)

	for i := range buf {
		buf[i] = 0
	}

	m.dcbaa = addr

	return m
}

// DCBAA returns the Device Context Base Address Array address.
func (m *DeviceManager) DCBAA() uint {
	return m.dcbaa
}

// Capacity returns the number of device slots the manager can hold.
func (m *DeviceManager) Capacity() int {
	return m.capacity
}

// Alloc creates a zero initialized device for a slot and immediately
// publishes its device context address in the DCBAA.
func (m *DeviceManager) Alloc(slot uint8) (*Device, error) {
	if int(slot) > m.capacity {
		return nil, ErrDeviceManagerOutOfRange
	}

	d := newDevice(slot)
	m.devices[slot] = d

	reg.Write64(m.dcbaa+uint(slot)*8, uint64(d.context))

	return d, nil
}

// Device returns the device allocated for a slot, or nil.
func (m *DeviceManager) Device(slot uint8) *Device {
	if int(slot) > m.capacity {
		return nil
	}

	return m.devices[slot]
}
