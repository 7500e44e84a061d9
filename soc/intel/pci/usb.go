// Intel Peripheral Component Interconnect (PCI) driver
// https://github.com/f-secure-foundry/kestrel
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package pci

// USB host controller class code
// (p297, Appendix D, PCI Local Bus Specification rev 3.0)
const (
	SerialBusController = 0x0c
	USBController       = 0x03
	XHCIInterface       = 0x30
)

// Intel 7/8 Series chipset USB port routing registers
const (
	// USB 3.0 Port Routing Mask
	USB3PRM = 0xdc
	// USB 3.0 Port SuperSpeed Enable
	USB3_PSSEN = 0xd8
	// USB 2.0 Port Routing Mask
	XUSB2PRM = 0xd4
	// USB 2.0 Port Routing
	XUSB2PR = 0xd0
)

// FindUSB scans all buses for an xHCI USB host controller.
func FindUSB() *Device {
	return FindClass(SerialBusController, USBController, XHCIInterface)
}

// SwitchEHCI routes, on Intel chipsets with an EHCI companion controller,
// all switchable ports to the xHCI controller.
func (d *Device) SwitchEHCI() {
	if d.Vendor != IntelVendorID {
		return
	}

	d.Write(USB3_PSSEN, d.Read(USB3PRM))
	d.Write(XUSB2PR, d.Read(XUSB2PRM))
}
