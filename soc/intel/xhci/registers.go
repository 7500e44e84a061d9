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
	"github.com/f-secure-foundry/kestrel/bits"
	"github.com/f-secure-foundry/kestrel/internal/reg"
)

// Host Controller Capability Registers
// (p381, 5.3, xHCI rev 1.2)
const (
	CAPLENGTH  = 0x00
	HCIVERSION = 0x02

	HCSPARAMS1           = 0x04
	HCSPARAMS1_MAX_PORTS = 24
	HCSPARAMS1_MAX_INTRS = 8
	HCSPARAMS1_MAX_SLOTS = 0

	HCSPARAMS2 = 0x08
	HCSPARAMS3 = 0x0c
	HCCPARAMS1 = 0x10
	DBOFF      = 0x14
	RTSOFF     = 0x18
)

// Host Controller Operational Registers
// (p391, 5.4, xHCI rev 1.2)
const (
	USBCMD       = 0x00
	USBCMD_INTE  = 2
	USBCMD_HCRST = 1
	USBCMD_RS    = 0

	USBSTS     = 0x04
	USBSTS_CNR = 11
	USBSTS_PCD = 4
	USBSTS_EINT = 3
	USBSTS_HCH = 0

	PAGESIZE = 0x08
	DNCTRL   = 0x14

	CRCR     = 0x18
	CRCR_RCS = 0
	CRCR_CS  = 1
	CRCR_CA  = 2
	CRCR_CRR = 3

	DCBAAP = 0x30

	CONFIG              = 0x38
	CONFIG_MAX_SLOTS_EN = 0

	// Port Register Set offset and stride off the Operational base
	PORTSC_BASE   = 0x400
	PORTSC_STRIDE = 0x10
)

// Port Status and Control Register bits
// (p406, 5.4.8, xHCI rev 1.2)
const (
	PORTSC_CCS   = 0
	PORTSC_PED   = 1
	PORTSC_OCA   = 3
	PORTSC_PR    = 4
	PORTSC_PLS   = 5
	PORTSC_PP    = 9
	PORTSC_SPEED = 10
	PORTSC_PIC   = 14
	PORTSC_LWS   = 16
	PORTSC_CSC   = 17
	PORTSC_PEC   = 18
	PORTSC_WRC   = 19
	PORTSC_OCC   = 20
	PORTSC_PRC   = 21
	PORTSC_PLC   = 22
	PORTSC_CEC   = 23
	PORTSC_CAS   = 24
	PORTSC_WPR   = 31
)

// Port speed identifiers as reported by PORTSC
// (p408, Table 5-27, xHCI rev 1.2)
const (
	SPEED_FULL  = 1
	SPEED_LOW   = 2
	SPEED_HIGH  = 3
	SPEED_SUPER = 4
)

// Host Controller Runtime Registers
// (p422, 5.5, xHCI rev 1.2)
const (
	MFINDEX = 0x00

	// Interrupter Register Set offset and stride off the Runtime base
	IRS_BASE   = 0x20
	IRS_STRIDE = 0x20

	IMAN    = 0x00
	IMAN_IE = 1
	IMAN_IP = 0

	IMOD = 0x04

	ERSTSZ = 0x08
	ERSTBA = 0x10

	ERDP      = 0x18
	ERDP_EHB  = 3
	ERDP_DESI = 0
)

// CapabilityRegisters provides access to the read-only xHCI capability
// register space.
type CapabilityRegisters struct {
	// Base register
	Base uint
}

// Length returns the capability register space length (CAPLENGTH), which is
// the offset of the operational register space.
func (c *CapabilityRegisters) Length() uint {
	return uint(reg.Read(c.Base+CAPLENGTH) & 0xff)
}

// Version returns the interface version number (HCIVERSION) in binary coded
// decimal.
func (c *CapabilityRegisters) Version() uint16 {
	return uint16(reg.Read(c.Base+CAPLENGTH) >> 16)
}

// MaxSlots returns the number of device slots supported by the controller.
func (c *CapabilityRegisters) MaxSlots() int {
	return int(reg.Get(c.Base+HCSPARAMS1, HCSPARAMS1_MAX_SLOTS, 0xff))
}

// MaxInterrupters returns the number of interrupters supported by the
// controller.
func (c *CapabilityRegisters) MaxInterrupters() int {
	return int(reg.Get(c.Base+HCSPARAMS1, HCSPARAMS1_MAX_INTRS, 0x7ff))
}

// MaxPorts returns the number of root hub ports supported by the controller.
func (c *CapabilityRegisters) MaxPorts() int {
	return int(reg.Get(c.Base+HCSPARAMS1, HCSPARAMS1_MAX_PORTS, 0xff))
}

// RuntimeBase returns the runtime register space base address (RTSOFF).
func (c *CapabilityRegisters) RuntimeBase() uint {
	return c.Base + uint(reg.Read(c.Base+RTSOFF)&^uint32(0x1f))
}

// DoorbellBase returns the doorbell array base address (DBOFF).
func (c *CapabilityRegisters) DoorbellBase() uint {
	return c.Base + uint(reg.Read(c.Base+DBOFF)&^uint32(0x3))
}

// OperationalBase returns the operational register space base address.
func (c *CapabilityRegisters) OperationalBase() uint {
	return c.Base + c.Length()
}

// InterrupterRegisters provides access to an xHCI Interrupter Register Set.
type InterrupterRegisters struct {
	// Base register
	Base uint
}

// DequeuePointer returns the Event Ring Dequeue Pointer address, stripped of
// its handler busy and segment index flags.
func (i *InterrupterRegisters) DequeuePointer() uint {
	return uint(readSplit64(i.Base+ERDP) &^ 0xf)
}

// SetDequeuePointer updates the Event Ring Dequeue Pointer, clearing the
// event handler busy flag.
func (i *InterrupterRegisters) SetDequeuePointer(addr uint) {
	writeSplit64(i.Base+ERDP, uint64(addr)|1<<ERDP_EHB)
}

// DoorbellRegisters provides access to the xHCI doorbell array. Doorbell 0
// belongs to the host controller command ring, doorbell n notifies endpoint
// activity for slot n.
type DoorbellRegisters struct {
	// Base register
	Base uint
	// Array length
	Slots int
}

// Ring notifies the controller that it has work pending for the argument
// doorbell, the target identifies the Device Context Index (DCI) of the
// notified endpoint (zero for the command ring doorbell).
func (d *DoorbellRegisters) Ring(n int, target uint8) {
	if n < 0 || n > d.Slots {
		panic("invalid doorbell index")
	}

	reg.Write(d.Base+uint(n)*4, uint32(target))
}

// readSplit64 reads a 64-bit register one 32-bit word at a time, low word
// first.
func readSplit64(addr uint) uint64 {
	lo := reg.Read(addr)
	hi := reg.Read(addr + 4)

	return uint64(lo) | uint64(hi)<<32
}

// writeSplit64 writes a 64-bit register one 32-bit word at a time, low word
// first.
func writeSplit64(addr uint, val uint64) {
	reg.Write(addr, uint32(val))
	reg.Write(addr+4, uint32(val>>32))
}

// portscPreserve masks all RW1C (write-one-to-clear) change bits and RW1S
// action bits of a PORTSC value, so that the result can be modified and
// written back without unintended side effects.
func portscPreserve(v uint32) uint32 {
	bits.Clear(&v, PORTSC_PED)
	bits.Clear(&v, PORTSC_PR)
	bits.Clear(&v, PORTSC_CSC)
	bits.Clear(&v, PORTSC_PEC)
	bits.Clear(&v, PORTSC_WRC)
	bits.Clear(&v, PORTSC_OCC)
	bits.Clear(&v, PORTSC_PRC)
	bits.Clear(&v, PORTSC_PLC)
	bits.Clear(&v, PORTSC_CEC)
	bits.Clear(&v, PORTSC_WPR)

	return v
}
