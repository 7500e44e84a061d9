// USB device enumeration driver
// https://github.com/f-secure-foundry/kestrel
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package usb implements host-side USB device enumeration on top of the
// xHCI driver, covering what a boot-protocol HID mouse requires: descriptor
// retrieval over the default control pipe, endpoint configuration, boot
// protocol selection and report polling.
package usb

import (
	"errors"
	"fmt"
	"log"

	"github.com/f-secure-foundry/kestrel/dma"
	"github.com/f-secure-foundry/kestrel/soc/intel/xhci"
)

// Errors returned by the enumeration driver.
var (
	// ErrLackOfCapacity is returned when the fixed size device table is
	// exhausted.
	ErrLackOfCapacity = errors.New("lack of capacity")

	// ErrNoDevice is returned when polling without a configured device.
	ErrNoDevice = errors.New("no configured device")
)

const (
	// control pipe Device Context Index
	controlDCI = 1

	// shared transfer buffer size, also the largest configuration
	// descriptor response this driver accepts
	transferBufferSize = 256

	// enumerated device table capacity
	maxDevices = 8
)

// deviceState tracks an enumerated device.
type deviceState struct {
	slot       uint8
	configured bool

	// interface number carried by HID class requests
	iface uint16
	// boot-protocol mouse interface found during enumeration
	mouse bool
}

// Driver represents a USB enumeration driver instance over a running xHCI
// controller.
type Driver struct {
	hc *xhci.Running

	// shared control transfer buffer, DMA backed
	addr uint
	buf  []byte

	devices [maxDevices]*deviceState
}

// NewDriver initializes and runs an xHCI controller, flagging all connected
// ports for configuration, and returns the enumeration driver layered on
// it.
func NewDriver(hw *xhci.Controller) (*Driver, error) {
	ini, err := hw.Initialize()

	if err != nil {
		return nil, err
	}

	hc := ini.Run()
	hc.MarkConnectedPorts()

	addr, buf := dma.Reserve(transferBufferSize, 64)

	return &Driver{
		hc:   hc,
		addr: addr,
		buf:  buf,
	}, nil
}

// Controller returns the underlying running xHCI controller.
func (d *Driver) Controller() *xhci.Running {
	return d.hc
}

// Process consumes a single controller event and, when a freshly addressed
// device becomes available, enumerates it. Consuming the event never blocks
// on an empty event ring, while enumeration pumps the event ring until each
// of its control transfers and commands completes. It is invoked from the
// kernel main loop.
func (d *Driver) Process() error {
	if err := d.hc.ProcessPrimaryEvent(); err != nil {
		return err
	}

	if slot, ok := d.hc.NextAddressedSlot(); ok {
		return d.enumerate(slot)
	}

	return nil
}

func (d *Driver) state(slot uint8) (*deviceState, error) {
	for _, s := range d.devices {
		if s != nil && s.slot == slot {
			return s, nil
		}
	}

	for i, s := range d.devices {
		if s == nil {
			d.devices[i] = &deviceState{slot: slot}
			return d.devices[i], nil
		}
	}

	return nil, ErrLackOfCapacity
}

// controlIn performs an IN control transfer on the default control pipe,
// returning the number of bytes received in the driver transfer buffer.
func (d *Driver) controlIn(slot uint8, requestType uint8, request uint8, value uint16, index uint16, length uint16) (int, error) {
	dev := d.hc.Device(slot)

	if dev == nil {
		return 0, xhci.ErrInvalidSlotID
	}

	ring := dev.ControlRing()

	ring.Push(xhci.SetupStage{
		RequestType:  requestType,
		Request:      request,
		Value:        value,
		Index:        index,
		Length:       length,
		TransferType: xhci.TransferIn,
	})

	ring.Push(xhci.DataStage{
		Buffer:         uint64(d.addr),
		TransferLength: uint32(length),
		In:             true,
		IOC:            true,
	})

	ring.Push(xhci.StatusStage{})

	d.hc.NotifyEndpoint(slot, controlDCI)

	ev, err := d.hc.WaitTransfer(slot)

	if err != nil {
		return 0, err
	}

	return int(length) - int(ev.Residual), nil
}

// controlSetup performs a data-less control transfer on the default control
// pipe, completion is reported through the setup stage TRB itself.
func (d *Driver) controlSetup(slot uint8, requestType uint8, request uint8, value uint16, index uint16) error {
	dev := d.hc.Device(slot)

	if dev == nil {
		return xhci.ErrInvalidSlotID
	}

	ring := dev.ControlRing()

	ring.Push(xhci.SetupStage{
		RequestType:  requestType,
		Request:      request,
		Value:        value,
		Index:        index,
		TransferType: xhci.TransferNoData,
		IOC:          true,
	})

	d.hc.NotifyEndpoint(slot, controlDCI)

	_, err := d.hc.WaitTransfer(slot)

	return err
}

// deviceDescriptor retrieves and parses the device descriptor.
func (d *Driver) deviceDescriptor(slot uint8) (*DeviceDescriptor, error) {
	n, err := d.controlIn(slot, DEVICE_TO_HOST, GET_DESCRIPTOR, DEVICE<<8, 0, DeviceDescriptorLength)

	if err != nil {
		return nil, err
	}

	return ParseDeviceDescriptor(d.buf[0:n])
}

// configurationDescriptors retrieves the first configuration descriptor
// along with all its interface, endpoint and class descriptors.
func (d *Driver) configurationDescriptors(slot uint8) ([]Descriptor, error) {
	n, err := d.controlIn(slot, DEVICE_TO_HOST, GET_DESCRIPTOR, CONFIGURATION<<8, 0, transferBufferSize)

	if err != nil {
		return nil, err
	}

	ds, err := Parse(d.buf[0:n])

	if err != nil {
		return nil, err
	}

	if len(ds) == 0 {
		return nil, ErrUnexpectedDescriptor
	}

	if _, ok := ds[0].(*ConfigurationDescriptor); !ok {
		return nil, ErrUnexpectedDescriptor
	}

	return ds, nil
}

// configureEndpoints enables, in the device input context, every endpoint
// advertised by the configuration and issues the Configure Endpoint
// command.
func (d *Driver) configureEndpoints(slot uint8, ds []Descriptor) error {
	dev := d.hc.Device(slot)
	ctx := dev.Context()

	in := dev.Input()
	in.Control = xhci.InputControlContext{}
	in.Control.Add(0)

	// mirror the current slot context, raising the valid context entries
	// to cover all endpoints
	in.Slot = ctx.Slot
	in.Slot.SetContextEntries(31)

	for _, desc := range ds {
		ep, ok := desc.(*EndpointDescriptor)

		if !ok {
			continue
		}

		dci := ep.DCI()
		ring := dev.Ring(dci)

		if ring == nil {
			return fmt.Errorf("no transfer ring for endpoint %d", dci)
		}

		in.Control.Add(dci)

		epc := &in.Endpoints[dci-1]
		*epc = xhci.EndpointContext{}
		epc.SetType(xhci.EndpointType(ep.TransferType(), ep.In()))
		epc.SetMaxPacketSize(ep.MaxPacketSize)
		epc.SetInterval(ep.Interval)
		epc.SetErrorCount(3)
		epc.SetDequeuePointer(ring.Address(), ring.CycleState())
	}

	dev.FlushInput()

	d.hc.IssueCommand(xhci.ConfigureEndpointCommand{
		InputContextPointer: uint64(dev.InputContextAddress()),
		SlotID:              slot,
	})
	d.hc.NotifyCommand()

	_, err := d.hc.WaitCommand(xhci.TypeConfigureEndpointCommand)

	return err
}

// enumerate drives a freshly addressed device to its configured state,
// selecting the HID boot protocol when a boot mouse interface is found.
func (d *Driver) enumerate(slot uint8) error {
	dev := d.hc.Device(slot)

	if dev == nil {
		return xhci.ErrInvalidSlotID
	}

	state, err := d.state(slot)

	if err != nil {
		return err
	}

	port := dev.RootHubPort()

	desc, err := d.deviceDescriptor(slot)

	if err != nil {
		return err
	}

	log.Printf("usb: slot %d device %04x:%04x", slot, desc.VendorID, desc.ProductID)

	ds, err := d.configurationDescriptors(slot)

	if err != nil {
		return err
	}

	conf := ds[0].(*ConfigurationDescriptor)

	for _, dd := range ds {
		if iface, ok := dd.(*InterfaceDescriptor); ok && iface.BootMouse() {
			state.mouse = true
			state.iface = uint16(iface.InterfaceNumber)
		}
	}

	if err = d.configureEndpoints(slot, ds); err != nil {
		return err
	}

	if err = d.hc.SetPortPhase(port, xhci.PhaseInitializingDevice, xhci.PhaseConfiguringEndpoints); err != nil {
		return err
	}

	if err = d.controlSetup(slot, 0, SET_CONFIGURATION, uint16(conf.ConfigurationValue), 0); err != nil {
		return err
	}

	if state.mouse {
		// enter HID boot protocol
		req := uint8(REQUEST_TYPE_CLASS | RECIPIENT_INTERFACE)

		if err = d.controlSetup(slot, req, SET_PROTOCOL, BOOT_PROTOCOL, state.iface); err != nil {
			return err
		}
	}

	if err = d.hc.SetPortPhase(port, xhci.PhaseConfiguringEndpoints, xhci.PhaseConfigured); err != nil {
		return err
	}

	state.configured = true

	log.Printf("usb: slot %d configured (port %d)", slot, port)

	return nil
}

// mouseSlot returns the first configured boot mouse.
func (d *Driver) mouseSlot() *deviceState {
	for _, s := range d.devices {
		if s != nil && s.configured && s.mouse {
			return s
		}
	}

	return nil
}

// Ready returns whether a boot-protocol mouse completed its enumeration.
func (d *Driver) Ready() bool {
	return d.mouseSlot() != nil
}
