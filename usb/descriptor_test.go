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

func deviceDescriptorBytes() []byte {
	return []byte{
		18, DEVICE, // bLength, bDescriptorType
		0x00, 0x02, // bcdUSB 2.0
		0, 0, 0, // class, sub class, protocol
		8,          // bMaxPacketSize0
		0x8b, 0x04, // idVendor
		0x20, 0x01, // idProduct
		0x00, 0x01, // bcdDevice
		1, 2, 3, // iManufacturer, iProduct, iSerialNumber
		1, // bNumConfigurations
	}
}

func TestParseDeviceDescriptor(t *testing.T) {
	d, err := ParseDeviceDescriptor(deviceDescriptorBytes())
	require.NoError(t, err)

	assert.Equal(t, uint8(18), d.Length)
	assert.Equal(t, uint8(DEVICE), d.DescriptorType)
	assert.Equal(t, uint16(0x0200), d.USBRelease)
	assert.Equal(t, uint16(0x048b), d.VendorID)
	assert.Equal(t, uint16(0x0120), d.ProductID)
	assert.Equal(t, uint8(1), d.NumConfigurations)
}

func TestParseDeviceDescriptorErrors(t *testing.T) {
	// short buffer
	_, err := ParseDeviceDescriptor(deviceDescriptorBytes()[0:10])
	assert.ErrorIs(t, err, ErrInvalidLength)

	// wrong type byte
	buf := deviceDescriptorBytes()
	buf[1] = CONFIGURATION
	_, err = ParseDeviceDescriptor(buf)
	assert.ErrorIs(t, err, ErrInvalidType)

	// declared length below the packed size
	buf = deviceDescriptorBytes()
	buf[0] = 9
	_, err = ParseDeviceDescriptor(buf)
	assert.ErrorIs(t, err, ErrInvalidLength)
}

// configurationBytes builds the 34 byte concatenation returned by a HID
// mouse for GET_DESCRIPTOR(Configuration).
func configurationBytes() []byte {
	var buf []byte

	// Configuration
	buf = append(buf, 9, CONFIGURATION, 34, 0, 1, 1, 0, 0xa0, 50)
	// Interface: HID boot mouse
	buf = append(buf, 9, INTERFACE, 0, 0, 1, HID_CLASS, BOOT_INTERFACE_SUB, PROTOCOL_MOUSE, 0)
	// Endpoint: EP1 IN, interrupt
	buf = append(buf, 7, ENDPOINT, 0x81, 0x03, 4, 0, 10)
	// HID
	buf = append(buf, 9, HID, 0x11, 0x01, 0, 1, 34, 52, 0)

	return buf
}

func TestParseConfiguration(t *testing.T) {
	buf := configurationBytes()
	require.Equal(t, 34, len(buf))

	ds, err := Parse(buf)
	require.NoError(t, err)
	require.Equal(t, 4, len(ds))

	conf, ok := ds[0].(*ConfigurationDescriptor)
	require.True(t, ok)
	assert.Equal(t, uint16(34), conf.TotalLength)
	assert.Equal(t, uint8(1), conf.ConfigurationValue)

	iface, ok := ds[1].(*InterfaceDescriptor)
	require.True(t, ok)
	assert.True(t, iface.BootMouse())

	ep, ok := ds[2].(*EndpointDescriptor)
	require.True(t, ok)
	assert.Equal(t, uint8(1), ep.Number())
	assert.True(t, ep.In())
	assert.Equal(t, uint8(3), ep.TransferType())
	assert.Equal(t, uint16(4), ep.MaxPacketSize)

	hid, ok := ds[3].(*HIDDescriptor)
	require.True(t, ok)
	assert.Equal(t, uint16(0x0111), hid.HIDVersion)
	assert.Equal(t, uint16(52), hid.ReportLength)
}

func TestParseSkipsUnknownDescriptors(t *testing.T) {
	var buf []byte

	buf = append(buf, 9, CONFIGURATION, 34, 0, 1, 1, 0, 0xa0, 50)
	// vendor specific descriptor, skipped
	buf = append(buf, 4, 0xff, 0xaa, 0xbb)
	buf = append(buf, 7, ENDPOINT, 0x81, 0x03, 4, 0, 10)

	ds, err := Parse(buf)
	require.NoError(t, err)
	require.Equal(t, 2, len(ds))

	assert.IsType(t, &ConfigurationDescriptor{}, ds[0])
	assert.IsType(t, &EndpointDescriptor{}, ds[1])
}

func TestParseErrors(t *testing.T) {
	// truncated buffer
	_, err := Parse([]byte{9})
	assert.ErrorIs(t, err, ErrInvalidLength)

	// descriptor length beyond the buffer
	_, err = Parse([]byte{9, CONFIGURATION, 34, 0})
	assert.ErrorIs(t, err, ErrInvalidLength)

	// zero length descriptor
	_, err = Parse([]byte{0, ENDPOINT, 0, 0})
	assert.ErrorIs(t, err, ErrInvalidLength)

	// declared length below the descriptor packed size
	_, err = Parse([]byte{5, INTERFACE, 0, 0, 0})
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestEndpointDCI(t *testing.T) {
	out := &EndpointDescriptor{EndpointAddress: 0x02}
	assert.Equal(t, uint8(4), out.DCI())

	in := &EndpointDescriptor{EndpointAddress: 0x81}
	assert.Equal(t, uint8(3), in.DCI())
}
