// USB eXtensible Host Controller Interface (xHCI) driver
// https://github.com/f-secure-foundry/kestrel
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package xhci implements a driver for USB 3 eXtensible Host Controller
// Interface controllers adopting the following reference specifications:
//   - xHCI - eXtensible Host Controller Interface for USB - rev 1.2
//   - USB2.0 - USB Specification Revision 2.0
//
// The driver is polling based, interrupts are enabled on the controller but
// never routed to the CPU.
package xhci

import (
	"log"
	"runtime"
	"sync"

	"github.com/f-secure-foundry/kestrel/internal/reg"
)

// Driver default capacities, all structures shared with the controller have
// their sizes fixed before it is started.
const (
	DefaultSlots             = 64
	DefaultCommandRingSize   = 16
	DefaultEventRingSize     = 16
	DefaultEventRingSegments = 1

	// Interrupt moderation interval in 250ns increments (1ms), interrupts
	// are kept masked at the CPU and moderation only paces the event ring.
	interruptModeration = 4000
)

// Controller represents an xHCI host controller instance in its
// uninitialized state, its only valid operation is Initialize().
type Controller struct {
	sync.Mutex

	// Base is the controller MMIO base address (BAR0/1).
	Base uint

	// Slots is the number of device slots the driver accepts
	// (DefaultSlots when zero), it must be at least the controller's
	// advertised slot count, which sizes the device table.
	Slots int

	// CommandRingSize is the command ring capacity in TRBs.
	CommandRingSize int

	// EventRingSize is the per-segment event ring capacity in TRBs.
	EventRingSize int

	// EventRingSegments is the number of event ring segments.
	EventRingSegments int
}

// hc carries the controller state across the Initialize/Run typestates.
type hc struct {
	caps CapabilityRegisters

	opBase uint
	irs    InterrupterRegisters
	db     DoorbellRegisters

	maxSlots int
	maxPorts int

	cmd     *Ring
	event   *EventRing
	devices *DeviceManager
	phases  *portPhases

	// slots addressed but not yet enumerated
	addressed []uint8
}

// Initialized represents a host controller that completed its reset and
// initialization sequence but is not running yet.
type Initialized struct {
	hc *hc
}

// Running represents a running host controller, processing events and
// accepting commands.
type Running struct {
	hc *hc
}

// Initialize resets the host controller and installs the device context
// array, command ring, event ring and interrupter configuration, returning
// a handle for the initialized controller.
func (hw *Controller) Initialize() (*Initialized, error) {
	hw.Lock()
	defer hw.Unlock()

	if hw.Base == 0 {
		panic("invalid xHCI controller instance")
	}

	if hw.Slots == 0 {
		hw.Slots = DefaultSlots
	}

	if hw.CommandRingSize == 0 {
		hw.CommandRingSize = DefaultCommandRingSize
	}

	if hw.EventRingSize == 0 {
		hw.EventRingSize = DefaultEventRingSize
	}

	if hw.EventRingSegments == 0 {
		hw.EventRingSegments = DefaultEventRingSegments
	}

	c := &hc{
		caps: CapabilityRegisters{Base: hw.Base},
	}

	c.opBase = c.caps.OperationalBase()
	c.maxSlots = c.caps.MaxSlots()
	c.maxPorts = c.caps.MaxPorts()

	c.irs = InterrupterRegisters{Base: c.caps.RuntimeBase() + IRS_BASE}
	c.db = DoorbellRegisters{Base: c.caps.DoorbellBase(), Slots: c.maxSlots}

	c.phases = newPortPhases(c.maxPorts)

	if err := c.reset(); err != nil {
		return nil, err
	}

	if err := c.installDeviceContexts(hw.Slots); err != nil {
		return nil, err
	}

	c.installCommandRing(hw.CommandRingSize)
	c.installEventRing(hw.EventRingSize, hw.EventRingSegments)
	c.configureInterrupter()

	return &Initialized{hc: c}, nil
}

// reset performs the host controller reset sequence
// (p80, 4.2, xHCI rev 1.2).
func (c *hc) reset() error {
	log.Printf("xhci: waiting for controller halt")
	reg.Wait(c.opBase+USBSTS, USBSTS_HCH, 1, 1)

	log.Printf("xhci: resetting controller")
	reg.Set(c.opBase+USBCMD, USBCMD_HCRST)
	reg.Wait(c.opBase+USBCMD, USBCMD_HCRST, 1, 0)

	reg.Wait(c.opBase+USBSTS, USBSTS_CNR, 1, 0)

	return nil
}

// installDeviceContexts programs the enabled slot count and the Device
// Context Base Address Array Pointer.
func (c *hc) installDeviceContexts(slots int) error {
	log.Printf("xhci: %d slots, %d ports", c.maxSlots, c.maxPorts)

	if slots < c.maxSlots {
		return ErrLackOfDeviceContext
	}

	c.devices = NewDeviceManager(c.maxSlots)

	reg.SetN(c.opBase+CONFIG, CONFIG_MAX_SLOTS_EN, 0xff, uint32(c.maxSlots))

	writeSplit64(c.opBase+DCBAAP, uint64(c.devices.DCBAA()))

	return nil
}

// installCommandRing programs the Command Ring Control Register with the
// command ring base and its producer cycle state.
func (c *hc) installCommandRing(size int) {
	c.cmd = NewRing(size)

	crcr := uint64(c.cmd.Address()) &^ 0x3f

	if c.cmd.CycleState() {
		crcr |= 1 << CRCR_RCS
	}

	writeSplit64(c.opBase+CRCR, crcr)
}

// installEventRing allocates the primary event ring and programs the
// segment table registers, in ERSTSZ, ERDP, ERSTBA order.
func (c *hc) installEventRing(size int, count int) {
	c.event = NewEventRing(size, count)

	reg.SetN(c.irs.Base+ERSTSZ, 0, 0xffff, uint32(c.event.TableSize()))
	writeSplit64(c.irs.Base+ERDP, uint64(c.event.Address()))
	writeSplit64(c.irs.Base+ERSTBA, uint64(c.event.TableAddress()))
}

// configureInterrupter enables event generation on the primary interrupter,
// events are polled and never raise a CPU interrupt as no handler is ever
// installed.
func (c *hc) configureInterrupter() {
	reg.SetN(c.irs.Base+IMOD, 0, 0xffff, interruptModeration)
	reg.Write(c.irs.Base+IMAN, 1<<IMAN_IP|1<<IMAN_IE)
	reg.Set(c.opBase+USBCMD, USBCMD_INTE)
}

// Run starts the host controller.
func (hw *Initialized) Run() *Running {
	log.Printf("xhci: run")

	reg.Set(hw.hc.opBase+USBCMD, USBCMD_RS)
	reg.Wait(hw.hc.opBase+USBSTS, USBSTS_HCH, 1, 0)

	return &Running{hc: hw.hc}
}

// MaxPorts returns the number of root hub ports.
func (hw *Running) MaxPorts() int {
	return hw.hc.maxPorts
}

// Port returns the register set wrapper for a root hub port, ports are
// numbered starting from 1.
func (hw *Running) Port(n uint8) (*Port, error) {
	if n == 0 || int(n) > hw.hc.maxPorts {
		return nil, ErrInvalidPortID
	}

	return &Port{
		Base: hw.hc.opBase + PORTSC_BASE + uint(n-1)*PORTSC_STRIDE,
		Num:  n,
	}, nil
}

// PortPhase returns the configuration phase of a port.
func (hw *Running) PortPhase(n uint8) Phase {
	return hw.hc.phases.Phase(n)
}

// SetPortPhase moves a port between configuration phases, validating the
// expected current phase.
func (hw *Running) SetPortPhase(n uint8, from Phase, to Phase) error {
	return hw.hc.phases.Transition(n, from, to)
}

// MarkConnectedPorts flags all ports with a connected device for
// configuration, they are reset and addressed one at a time by the event
// processing loop.
func (hw *Running) MarkConnectedPorts() {
	for n := uint8(1); int(n) <= hw.hc.maxPorts; n++ {
		p, _ := hw.Port(n)

		if p.Connected() && hw.hc.phases.Phase(n) == PhaseNotConnected {
			hw.hc.phases.Set(n, PhaseWaitingAddressed)
		}
	}
}

// Device returns the device allocated for a slot, or nil.
func (hw *Running) Device(slot uint8) *Device {
	return hw.hc.devices.Device(slot)
}

// IssueCommand pushes a command TRB on the command ring, returning the ring
// address of the written TRB. The controller is not notified until
// NotifyCommand() is invoked.
func (hw *Running) IssueCommand(t TRB) uint {
	return hw.hc.cmd.Push(t)
}

// NotifyCommand rings the host controller doorbell to signal command ring
// work.
func (hw *Running) NotifyCommand() {
	hw.hc.db.Ring(0, 0)
}

// NotifyEndpoint rings a slot doorbell to signal transfer ring work on the
// argument Device Context Index.
func (hw *Running) NotifyEndpoint(slot uint8, dci uint8) {
	hw.hc.db.Ring(int(slot), dci)
}

// NextAddressedSlot dequeues a slot which completed its Address Device
// command and awaits enumeration.
func (hw *Running) NextAddressedSlot() (slot uint8, ok bool) {
	if len(hw.hc.addressed) == 0 {
		return
	}

	slot = hw.hc.addressed[0]
	hw.hc.addressed = hw.hc.addressed[1:]

	return slot, true
}

// ProcessPrimaryEvent consumes and dispatches a single event from the
// primary event ring. With an empty ring, and no port being configured, the
// lowest numbered port awaiting configuration is claimed and reset.
func (hw *Running) ProcessPrimaryEvent() error {
	raw, ok := hw.hc.event.Pop(&hw.hc.irs)

	if !ok {
		return hw.configureNextPort()
	}

	return hw.dispatch(raw)
}

func (hw *Running) configureNextPort() error {
	if _, busy := hw.hc.phases.Processing(); busy {
		return nil
	}

	for n := uint8(1); int(n) <= hw.hc.maxPorts; n++ {
		if hw.hc.phases.Phase(n) != PhaseWaitingAddressed {
			continue
		}

		if err := hw.hc.phases.Claim(n); err != nil {
			return err
		}

		hw.hc.phases.Set(n, PhaseResettingPort)

		p, _ := hw.Port(n)

		if err := p.Reset(); err != nil {
			hw.hc.phases.Set(n, PhaseNotConnected)
			hw.hc.phases.Release()

			return err
		}

		return nil
	}

	return nil
}

func (hw *Running) dispatch(raw RawTRB) error {
	switch ev := Decode(raw).(type) {
	case CommandCompletionEvent:
		return hw.commandCompletion(ev)
	case PortStatusChangeEvent:
		return hw.portStatusChange(ev)
	case TransferEvent:
		log.Printf("xhci: unclaimed transfer event, slot %d, %s", ev.SlotID, ev.Code)
		return nil
	default:
		// unknown event types are skipped for forward compatibility
		log.Printf("xhci: ignoring event %s", raw.Type())
		return nil
	}
}

// portStatusChange handles reset completion for the port being configured,
// advancing it to slot enablement.
func (hw *Running) portStatusChange(ev PortStatusChangeEvent) error {
	p, err := hw.Port(ev.PortID)

	if err != nil {
		return err
	}

	if hw.hc.phases.Phase(ev.PortID) != PhaseResettingPort {
		log.Printf("xhci: ignoring status change on port %d", ev.PortID)
		return nil
	}

	if p.Resetting() {
		return ErrPortResetNotFinished
	}

	if !p.Enabled() {
		return ErrPortDisabled
	}

	p.ClearResetChange()

	if err = hw.hc.phases.Transition(ev.PortID, PhaseResettingPort, PhaseEnablingSlot); err != nil {
		return err
	}

	hw.IssueCommand(EnableSlotCommand{})
	hw.NotifyCommand()

	return nil
}

// commandCompletion resolves the issuing command of a completion event and
// advances the enumeration state machine accordingly.
func (hw *Running) commandCompletion(ev CommandCompletionEvent) error {
	issuer := ev.Issuer()

	if ev.Code != CodeSuccess {
		return &CommandError{Code: ev.Code, Issuer: issuer}
	}

	switch issuer.Type() {
	case TypeEnableSlotCommand:
		return hw.enableSlotCompletion(ev)
	case TypeAddressDeviceCommand:
		return hw.addressDeviceCompletion(ev)
	case TypeConfigureEndpointCommand:
		// consumed by WaitCommand() during enumeration
		log.Printf("xhci: unclaimed configure endpoint completion, slot %d", ev.SlotID)
		return nil
	default:
		log.Printf("xhci: unhandled completion, issuer %s", issuer.Type())
		return nil
	}
}

// enableSlotCompletion allocates the device for a newly assigned slot,
// publishes its context, prepares the input context for its default control
// pipe and issues the Address Device command.
//
// The slot is bound to the port currently being configured, which is valid
// as at most one configuration command is ever in flight.
func (hw *Running) enableSlotCompletion(ev CommandCompletionEvent) error {
	port, ok := hw.hc.phases.Processing()

	if !ok {
		return ErrEmptyProcessingPort
	}

	p, err := hw.Port(port)

	if err != nil {
		return err
	}

	dev, err := hw.hc.devices.Alloc(ev.SlotID)

	if err != nil {
		return err
	}

	speed := p.Speed()

	in := dev.Input()
	in.Control.Add(0)
	in.Control.Add(1)
	in.InitSlot(port, speed)
	in.InitEndpoint0(dev.ControlRing(), ControlMaxPacketSize(speed))
	dev.FlushInput()

	if err = hw.hc.phases.Transition(port, PhaseEnablingSlot, PhaseAddressingDevice); err != nil {
		return err
	}

	hw.IssueCommand(AddressDeviceCommand{
		InputContextPointer: uint64(dev.InputContextAddress()),
		SlotID:              ev.SlotID,
	})
	hw.NotifyCommand()

	return nil
}

// addressDeviceCompletion verifies the addressed device against the port
// being configured and releases it for the next port, the slot is queued
// for enumeration by the USB device driver.
func (hw *Running) addressDeviceCompletion(ev CommandCompletionEvent) error {
	dev := hw.hc.devices.Device(ev.SlotID)

	if dev == nil {
		return ErrInvalidSlotID
	}

	port, ok := hw.hc.phases.Processing()

	if !ok {
		return ErrEmptyProcessingPort
	}

	if dev.RootHubPort() != port {
		return ErrInvalidPortID
	}

	if err := hw.hc.phases.Transition(port, PhaseAddressingDevice, PhaseInitializingDevice); err != nil {
		return err
	}

	if err := hw.hc.phases.Release(); err != nil {
		return err
	}

	hw.hc.addressed = append(hw.hc.addressed, ev.SlotID)

	log.Printf("xhci: slot %d addressed on port %d", ev.SlotID, port)

	return nil
}

// WaitCommand blocks, pumping the event ring, until the completion event
// for a command of the argument type is received. Unrelated events are
// dispatched to their regular handlers.
func (hw *Running) WaitCommand(issuer TRBType) (CommandCompletionEvent, error) {
	for {
		raw, ok := hw.hc.event.Pop(&hw.hc.irs)

		if !ok {
			runtime.Gosched()
			continue
		}

		if ev, isCC := Decode(raw).(CommandCompletionEvent); isCC {
			issuerTRB := ev.Issuer()
			if issuerTRB.Type() == issuer {
				if ev.Code != CodeSuccess {
					return ev, &CommandError{Code: ev.Code, Issuer: ev.Issuer()}
				}

				return ev, nil
			}
		}

		if err := hw.dispatch(raw); err != nil {
			log.Printf("xhci: event error while waiting, %v", err)
		}
	}
}

// WaitTransfer blocks, pumping the event ring, until a transfer event for
// the argument slot is received. A transfer event routed to a different
// slot, or a completion code other than Success or Short Packet, is an
// error.
func (hw *Running) WaitTransfer(slot uint8) (TransferEvent, error) {
	for {
		raw, ok := hw.hc.event.Pop(&hw.hc.irs)

		if !ok {
			runtime.Gosched()
			continue
		}

		switch ev := Decode(raw).(type) {
		case TransferEvent:
			if ev.SlotID != slot {
				return ev, ErrInvalidSlotID
			}

			if ev.Code != CodeSuccess && ev.Code != CodeShortPacket {
				return ev, &CommandError{Code: ev.Code, Issuer: readTRB(uint(ev.TRBPointer))}
			}

			return ev, nil
		case Unknown:
			return TransferEvent{}, &EventError{Expected: TypeTransferEvent, Actual: raw}
		default:
			if err := hw.dispatch(raw); err != nil {
				log.Printf("xhci: event error while waiting, %v", err)
			}
		}
	}
}
