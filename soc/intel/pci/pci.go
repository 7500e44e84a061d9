// Intel Peripheral Component Interconnect (PCI) driver
// https://github.com/f-secure-foundry/kestrel
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package pci implements a driver for Intel Peripheral Component Interconnect
// (PCI) controllers adopting the following reference specifications:
//   - PCI Local Bus Specification, revision 3.0, PCI Special Interest Group
package pci

import (
	"github.com/f-secure-foundry/kestrel/bits"
	"github.com/f-secure-foundry/kestrel/internal/reg"
)

const (
	CONFIG_ADDRESS = 0x0cf8
	CONFIG_DATA    = 0x0cfc
)

const (
	maxBuses     = 256
	maxDevices   = 32
	maxFunctions = 8
)

// Header Type 0x0 offsets
const (
	VendorID           = 0x00
	Command            = 0x04
	RevisionID         = 0x08
	HeaderType         = 0x0c
	Bar0               = 0x10
	CapabilitiesOffset = 0x34
)

// Vendor identifiers
const (
	IntelVendorID   = 0x8086
	InvalidVendorID = 0xffff
)

// Device represents a PCI device function.
type Device struct {
	// Bus number
	Bus uint32
	// PCI Slot
	Slot uint32
	// Function number
	Fn uint32

	// Vendor ID
	Vendor uint16
	// Device ID
	Device uint16

	// Class code (base class, sub class, interface)
	Class [3]uint8
}

func (d *Device) address(off uint32) uint32 {
	return 1<<31 | d.Bus<<16 | d.Slot<<11 | d.Fn<<8 | off&0xfc
}

// Read reads the device configuration space at a given register offset.
func (d *Device) Read(off uint32) uint32 {
	reg.Out32(CONFIG_ADDRESS, d.address(off))
	return reg.In32(CONFIG_DATA) >> ((off & 2) * 8)
}

// Write writes the device configuration space at a given register offset,
// the offset must be 32-bit aligned.
func (d *Device) Write(off uint32, val uint32) {
	if off&0b11 != 0 {
		return
	}

	reg.Out32(CONFIG_ADDRESS, d.address(off))
	reg.Out32(CONFIG_DATA, val)
}

// BaseAddress returns a device Base Address register (BAR), decoding 64-bit
// memory BARs as a single address.
func (d *Device) BaseAddress(n int) uint {
	if n > 5 {
		return 0
	}

	off := Bar0 + uint32(n)*4
	bar := d.Read(off)

	// decode BAR type
	switch bits.Get(&bar, 1, 0b11) {
	case 0:
		return uint(bar) &^ 0xf
	case 2:
		return uint(d.Read(off+4))<<32 | uint(bar)&0xfffffff0
	}

	return 0
}

// MultiFunction returns whether the device exposes multiple functions.
func (d *Device) MultiFunction() bool {
	return d.Read(HeaderType)>>16&0x80 != 0
}

func (d *Device) probe() bool {
	val := d.Read(VendorID)

	if d.Vendor = uint16(val); d.Vendor == InvalidVendorID {
		return false
	}

	d.Device = uint16(val >> 16)

	class := d.Read(RevisionID)
	d.Class[0] = uint8(class >> 24)
	d.Class[1] = uint8(class >> 16)
	d.Class[2] = uint8(class >> 8)

	return true
}

// Probe probes a PCI device on a bus by vendor and device identifiers.
func Probe(bus int, vendor uint16, device uint16) *Device {
	for _, d := range Devices(bus) {
		if d.Vendor == vendor && d.Device == device {
			return d
		}
	}

	return nil
}

// Devices returns all found PCI device functions on a given bus.
func Devices(bus int) (devices []*Device) {
	for slot := uint32(0); slot < maxDevices; slot++ {
		d := &Device{
			Bus:  uint32(bus),
			Slot: slot,
		}

		if !d.probe() {
			continue
		}

		devices = append(devices, d)

		if !d.MultiFunction() {
			continue
		}

		for fn := uint32(1); fn < maxFunctions; fn++ {
			f := &Device{
				Bus:  uint32(bus),
				Slot: slot,
				Fn:   fn,
			}

			if f.probe() {
				devices = append(devices, f)
			}
		}
	}

	return
}

// FindClass scans all buses for the first device function matching a class
// code triplet (base class, sub class, interface).
func FindClass(base, sub, iface uint8) *Device {
	for bus := 0; bus < maxBuses; bus++ {
		for _, d := range Devices(bus) {
			if d.Class[0] == base && d.Class[1] == sub && d.Class[2] == iface {
				return d
			}
		}
	}

	return nil
}
