// USB device enumeration driver
// https://github.com/f-secure-foundry/kestrel
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

// Format of Setup Data (p276, Table 9-2, USB2.0)
const (
	REQUEST_TYPE_DIR = 7

	// bmRequestType fields
	DEVICE_TO_HOST      = 0x80
	REQUEST_TYPE_CLASS  = 0x20
	RECIPIENT_INTERFACE = 0x01
)

// Standard request codes (p279, Table 9-4, USB2.0)
const (
	GET_STATUS        = 0
	CLEAR_FEATURE     = 1
	SET_FEATURE       = 3
	SET_ADDRESS       = 5
	GET_DESCRIPTOR    = 6
	SET_DESCRIPTOR    = 7
	GET_CONFIGURATION = 8
	SET_CONFIGURATION = 9
	GET_INTERFACE     = 10
	SET_INTERFACE     = 11
	SYNCH_FRAME       = 12
)

// Descriptor types (p279, Table 9-5, USB2.0 and p49, 7.1, HID1.11)
const (
	DEVICE        = 1
	CONFIGURATION = 2
	STRING        = 3
	INTERFACE     = 4
	ENDPOINT      = 5
	HID           = 33
)

// HID class request codes (p51, 7.2, HID1.11)
const (
	GET_REPORT   = 1
	GET_IDLE     = 2
	GET_PROTOCOL = 3
	SET_REPORT   = 9
	SET_IDLE     = 10
	SET_PROTOCOL = 11

	// protocol selectors
	BOOT_PROTOCOL   = 0
	REPORT_PROTOCOL = 1

	// report types
	INPUT_REPORT = 1
)

// HID interface identification (p78, E.4, HID1.11)
const (
	HID_CLASS          = 3
	BOOT_INTERFACE_SUB = 1
	PROTOCOL_KEYBOARD  = 1
	PROTOCOL_MOUSE     = 2
)
