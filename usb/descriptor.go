// USB device enumeration driver
// https://github.com/f-secure-foundry/kestrel
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// Errors returned by the descriptor parser.
var (
	ErrInvalidLength        = errors.New("invalid descriptor length")
	ErrInvalidType          = errors.New("invalid descriptor type")
	ErrUnexpectedDescriptor = errors.New("unexpected descriptor")
)

// Descriptor sizes (p262, 9.6, USB2.0 and p22, 6.2.1, HID1.11)
const (
	DeviceDescriptorLength        = 18
	ConfigurationDescriptorLength = 9
	InterfaceDescriptorLength     = 9
	EndpointDescriptorLength      = 7
	HIDDescriptorLength           = 9
)

// Descriptor is implemented by all parsed descriptor variants.
type Descriptor interface {
	// Type returns the descriptor type identifier.
	Type() uint8
}

// DeviceDescriptor implements p290, Table 9-8, USB2.0.
type DeviceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	USBRelease        uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize     uint8
	VendorID          uint16
	ProductID         uint16
	DeviceRelease     uint16
	Manufacturer      uint8
	Product           uint8
	SerialNumber      uint8
	NumConfigurations uint8
}

// Type returns the descriptor type identifier.
func (d *DeviceDescriptor) Type() uint8 {
	return DEVICE
}

// ConfigurationDescriptor implements p293, Table 9-10, USB2.0.
type ConfigurationDescriptor struct {
	Length             uint8
	DescriptorType     uint8
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	Configuration      uint8
	Attributes         uint8
	MaxPower           uint8
}

// Type returns the descriptor type identifier.
func (d *ConfigurationDescriptor) Type() uint8 {
	return CONFIGURATION
}

// InterfaceDescriptor implements p296, Table 9-12, USB2.0.
type InterfaceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	Interface         uint8
}

// Type returns the descriptor type identifier.
func (d *InterfaceDescriptor) Type() uint8 {
	return INTERFACE
}

// BootMouse returns whether the interface identifies a boot-protocol HID
// mouse.
func (d *InterfaceDescriptor) BootMouse() bool {
	return d.InterfaceClass == HID_CLASS &&
		d.InterfaceSubClass == BOOT_INTERFACE_SUB &&
		d.InterfaceProtocol == PROTOCOL_MOUSE
}

// EndpointDescriptor implements p297, Table 9-13, USB2.0.
type EndpointDescriptor struct {
	Length          uint8
	DescriptorType  uint8
	EndpointAddress uint8
	Attributes      uint8
	MaxPacketSize   uint16
	Interval        uint8
}

// Type returns the descriptor type identifier.
func (d *EndpointDescriptor) Type() uint8 {
	return ENDPOINT
}

// Number returns the endpoint number.
func (d *EndpointDescriptor) Number() uint8 {
	return d.EndpointAddress & 0xf
}

// In returns the endpoint direction, true for device-to-host.
func (d *EndpointDescriptor) In() bool {
	return d.EndpointAddress&(1<<7) != 0
}

// TransferType returns the endpoint transfer type from its attributes.
func (d *EndpointDescriptor) TransferType() uint8 {
	return d.Attributes & 0b11
}

// DCI returns the Device Context Index addressing the endpoint within an
// xHCI device context.
func (d *EndpointDescriptor) DCI() uint8 {
	dir := uint8(0)

	if d.In() {
		dir = 1
	}

	return d.Number()*2 + dir
}

// HIDDescriptor implements p22, 6.2.1, HID1.11.
type HIDDescriptor struct {
	Length         uint8
	DescriptorType uint8
	HIDVersion     uint16
	CountryCode    uint8
	NumDescriptors uint8
	ReportType     uint8
	ReportLength   uint16
}

// Type returns the descriptor type identifier.
func (d *HIDDescriptor) Type() uint8 {
	return HID
}

func unmarshal(buf []byte, min int, out interface{}) error {
	if len(buf) < min {
		return ErrInvalidLength
	}

	return binary.Read(bytes.NewReader(buf), binary.LittleEndian, out)
}

// ParseDeviceDescriptor parses a device descriptor from a GET_DESCRIPTOR
// response buffer.
func ParseDeviceDescriptor(buf []byte) (*DeviceDescriptor, error) {
	d := &DeviceDescriptor{}

	if err := unmarshal(buf, DeviceDescriptorLength, d); err != nil {
		return nil, err
	}

	if d.Length < DeviceDescriptorLength {
		return nil, ErrInvalidLength
	}

	if d.DescriptorType != DEVICE {
		return nil, ErrInvalidType
	}

	return d, nil
}

// Parse walks a configuration descriptor response, a concatenation of
// descriptors each led by its length and type bytes, yielding all
// recognized descriptors in order. Descriptor types not handled by this
// driver are skipped.
func Parse(buf []byte) (ds []Descriptor, err error) {
	for len(buf) > 0 {
		if len(buf) < 2 {
			return nil, ErrInvalidLength
		}

		length := int(buf[0])

		if length < 2 || length > len(buf) {
			return nil, ErrInvalidLength
		}

		var d Descriptor
		var min int

		switch buf[1] {
		case DEVICE:
			d = &DeviceDescriptor{}
			min = DeviceDescriptorLength
		case CONFIGURATION:
			d = &ConfigurationDescriptor{}
			min = ConfigurationDescriptorLength
		case INTERFACE:
			d = &InterfaceDescriptor{}
			min = InterfaceDescriptorLength
		case ENDPOINT:
			d = &EndpointDescriptor{}
			min = EndpointDescriptorLength
		case HID:
			d = &HIDDescriptor{}
			min = HIDDescriptorLength
		}

		if d != nil {
			if length < min {
				return nil, ErrInvalidLength
			}

			if err = unmarshal(buf, min, d); err != nil {
				return nil, err
			}
		}

		if d != nil {
			ds = append(ds, d)
		}

		buf = buf[length:]
	}

	return
}
