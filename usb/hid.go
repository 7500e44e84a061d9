// USB device enumeration driver
// https://github.com/f-secure-foundry/kestrel
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

// MouseReport represents a HID boot-protocol mouse input report
// (p61, B.1, HID1.11).
type MouseReport struct {
	Buttons uint8
	X       int8
	Y       int8
}

// mouseReportLength is the boot-protocol mouse report size.
const mouseReportLength = 3

// PollMouse requests an input report from the configured boot mouse over
// its control pipe, returning button state and relative movement.
func (d *Driver) PollMouse() (r MouseReport, err error) {
	s := d.mouseSlot()

	if s == nil {
		return r, ErrNoDevice
	}

	req := uint8(DEVICE_TO_HOST | REQUEST_TYPE_CLASS | RECIPIENT_INTERFACE)
	val := uint16(INPUT_REPORT) << 8

	n, err := d.controlIn(s.slot, req, GET_REPORT, val, s.iface, mouseReportLength)

	if err != nil {
		return
	}

	if n < mouseReportLength {
		return r, ErrInvalidLength
	}

	r.Buttons = d.buf[0]
	r.X = int8(d.buf[1])
	r.Y = int8(d.buf[2])

	return
}
