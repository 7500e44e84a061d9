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
	"fmt"

	"github.com/f-secure-foundry/kestrel/bits"
	"github.com/f-secure-foundry/kestrel/internal/reg"
)

// TRBSize is the size in bytes of a Transfer Request Block.
const TRBSize = 16

// TRBType represents the TRB type identifier
// (p511, Table 6-91, xHCI rev 1.2).
type TRBType uint8

const (
	TypeNormal                   TRBType = 1
	TypeSetupStage               TRBType = 2
	TypeDataStage                TRBType = 3
	TypeStatusStage              TRBType = 4
	TypeLink                     TRBType = 6
	TypeNoOp                     TRBType = 8
	TypeEnableSlotCommand        TRBType = 9
	TypeAddressDeviceCommand     TRBType = 11
	TypeConfigureEndpointCommand TRBType = 12
	TypeNoOpCommand              TRBType = 23
	TypeTransferEvent            TRBType = 32
	TypeCommandCompletionEvent   TRBType = 33
	TypePortStatusChangeEvent    TRBType = 34
)

// String returns the TRB type name.
func (t TRBType) String() string {
	switch t {
	case TypeNormal:
		return "Normal"
	case TypeSetupStage:
		return "Setup Stage"
	case TypeDataStage:
		return "Data Stage"
	case TypeStatusStage:
		return "Status Stage"
	case TypeLink:
		return "Link"
	case TypeNoOp:
		return "No Op"
	case TypeEnableSlotCommand:
		return "Enable Slot Command"
	case TypeAddressDeviceCommand:
		return "Address Device Command"
	case TypeConfigureEndpointCommand:
		return "Configure Endpoint Command"
	case TypeNoOpCommand:
		return "No Op Command"
	case TypeTransferEvent:
		return "Transfer Event"
	case TypeCommandCompletionEvent:
		return "Command Completion Event"
	case TypePortStatusChangeEvent:
		return "Port Status Change Event"
	}

	return fmt.Sprintf("Unknown (%d)", uint8(t))
}

// CompletionCode represents a TRB completion code
// (p507, Table 6-90, xHCI rev 1.2).
type CompletionCode uint8

const (
	CodeInvalid          CompletionCode = 0
	CodeSuccess          CompletionCode = 1
	CodeDataBufferError  CompletionCode = 2
	CodeBabbleDetected   CompletionCode = 3
	CodeTransactionError CompletionCode = 4
	CodeTRBError         CompletionCode = 5
	CodeStallError       CompletionCode = 6
	CodeResourceError    CompletionCode = 7
	CodeNoSlotsAvailable CompletionCode = 9
	CodeShortPacket      CompletionCode = 13
	CodeParameterError   CompletionCode = 17
)

// String returns the completion code name.
func (c CompletionCode) String() string {
	switch c {
	case CodeSuccess:
		return "Success"
	case CodeDataBufferError:
		return "Data Buffer Error"
	case CodeBabbleDetected:
		return "Babble Detected Error"
	case CodeTransactionError:
		return "USB Transaction Error"
	case CodeTRBError:
		return "TRB Error"
	case CodeStallError:
		return "Stall Error"
	case CodeResourceError:
		return "Resource Error"
	case CodeNoSlotsAvailable:
		return "No Slots Available Error"
	case CodeShortPacket:
		return "Short Packet"
	case CodeParameterError:
		return "Parameter Error"
	}

	return fmt.Sprintf("code %d", uint8(c))
}

// Control transfer types for Setup Stage TRBs
// (p472, Table 6-26, xHCI rev 1.2).
const (
	TransferNoData = 0
	TransferOut    = 2
	TransferIn     = 3
)

// RawTRB is the 16-byte Transfer Request Block wire unit, as four 32-bit
// little-endian words. Word 3 carries the cycle bit (bit 0) and the TRB type
// (bits 10-15), the remaining fields are interpreted per type.
type RawTRB [4]uint32

// Type returns the TRB type field.
func (t *RawTRB) Type() TRBType {
	return TRBType(bits.Get(&t[3], 10, 0x3f))
}

func (t *RawTRB) setType(v TRBType) {
	bits.SetN(&t[3], 10, 0x3f, uint32(v))
}

// Cycle returns the TRB cycle bit.
func (t *RawTRB) Cycle() bool {
	return bits.IsSet(&t[3], 0)
}

// SetCycle sets the TRB cycle bit, rings set it at push time to their
// current producer cycle state.
func (t *RawTRB) SetCycle(v bool) {
	bits.SetTo(&t[3], 0, v)
}

// pointer returns the 64-bit parameter held in words 0 and 1.
func (t *RawTRB) pointer() uint64 {
	return uint64(t[0]) | uint64(t[1])<<32
}

func (t *RawTRB) setPointer(v uint64) {
	t[0] = uint32(v)
	t[1] = uint32(v >> 32)
}

// readTRB loads a raw TRB from memory, it is used to recover command TRBs
// referenced by completion events.
func readTRB(addr uint) (t RawTRB) {
	for i := 0; i < 4; i++ {
		t[i] = reg.Read(addr + uint(i)*4)
	}

	return
}

// writeTRB stores a raw TRB to ring memory, the cycle-carrying word is
// written last so that the controller never observes a partially written
// TRB as valid.
func writeTRB(addr uint, t RawTRB) {
	reg.Write(addr+0x0, t[0])
	reg.Write(addr+0x4, t[1])
	reg.Write(addr+0x8, t[2])
	reg.Write(addr+0xc, t[3])
}

// TRB is the interface implemented by all typed TRB variants.
type TRB interface {
	// Raw packs the variant into its wire representation.
	Raw() RawTRB
}

// Decode parses a raw TRB into its typed variant by inspecting the type
// field, unrecognized types yield Unknown.
func Decode(raw RawTRB) TRB {
	switch raw.Type() {
	case TypeNormal:
		return parseNormal(raw)
	case TypeSetupStage:
		return parseSetupStage(raw)
	case TypeDataStage:
		return parseDataStage(raw)
	case TypeStatusStage:
		return parseStatusStage(raw)
	case TypeLink:
		return parseLink(raw)
	case TypeEnableSlotCommand:
		return parseEnableSlotCommand(raw)
	case TypeAddressDeviceCommand:
		return parseAddressDeviceCommand(raw)
	case TypeConfigureEndpointCommand:
		return parseConfigureEndpointCommand(raw)
	case TypeTransferEvent:
		return parseTransferEvent(raw)
	case TypeCommandCompletionEvent:
		return parseCommandCompletionEvent(raw)
	case TypePortStatusChangeEvent:
		return parsePortStatusChangeEvent(raw)
	}

	return Unknown{TRB: raw}
}

// Unknown represents a TRB whose type is not handled by this driver.
type Unknown struct {
	TRB RawTRB
}

// Raw returns the TRB wire representation.
func (t Unknown) Raw() RawTRB {
	return t.TRB
}

// Normal represents a Normal TRB
// (p452, 6.4.1.1, xHCI rev 1.2).
type Normal struct {
	Buffer         uint64
	TransferLength uint32
	TDSize         uint8
	Chain          bool
	IOC            bool
}

// Raw returns the TRB wire representation.
func (t Normal) Raw() (raw RawTRB) {
	raw.setPointer(t.Buffer)
	bits.SetN(&raw[2], 0, 0x1ffff, t.TransferLength)
	bits.SetN(&raw[2], 17, 0x1f, uint32(t.TDSize))
	bits.SetTo(&raw[3], 4, t.Chain)
	bits.SetTo(&raw[3], 5, t.IOC)
	raw.setType(TypeNormal)

	return
}

func parseNormal(raw RawTRB) (t Normal) {
	t.Buffer = raw.pointer()
	t.TransferLength = bits.Get(&raw[2], 0, 0x1ffff)
	t.TDSize = uint8(bits.Get(&raw[2], 17, 0x1f))
	t.Chain = bits.IsSet(&raw[3], 4)
	t.IOC = bits.IsSet(&raw[3], 5)

	return
}

// Link represents a Link TRB
// (p460, 6.4.4.1, xHCI rev 1.2).
type Link struct {
	SegmentPointer uint64
	ToggleCycle    bool
	Chain          bool
	IOC            bool
}

// Raw returns the TRB wire representation.
func (t Link) Raw() (raw RawTRB) {
	raw.setPointer(t.SegmentPointer &^ 0xf)
	bits.SetTo(&raw[3], 1, t.ToggleCycle)
	bits.SetTo(&raw[3], 4, t.Chain)
	bits.SetTo(&raw[3], 5, t.IOC)
	raw.setType(TypeLink)

	return
}

func parseLink(raw RawTRB) (t Link) {
	t.SegmentPointer = raw.pointer() &^ 0xf
	t.ToggleCycle = bits.IsSet(&raw[3], 1)
	t.Chain = bits.IsSet(&raw[3], 4)
	t.IOC = bits.IsSet(&raw[3], 5)

	return
}

// SetupStage represents a Setup Stage TRB
// (p468, 6.4.1.2.1, xHCI rev 1.2). The 8-byte setup packet travels as
// immediate data within the TRB itself.
type SetupStage struct {
	RequestType  uint8
	Request      uint8
	Value        uint16
	Index        uint16
	Length       uint16
	TransferType uint8
	IOC          bool
}

// Raw returns the TRB wire representation.
func (t SetupStage) Raw() (raw RawTRB) {
	raw[0] = uint32(t.RequestType) | uint32(t.Request)<<8 | uint32(t.Value)<<16
	raw[1] = uint32(t.Index) | uint32(t.Length)<<16

	// setup packets are always 8 bytes
	bits.SetN(&raw[2], 0, 0x1ffff, 8)

	bits.SetTo(&raw[3], 5, t.IOC)
	// immediate data
	bits.Set(&raw[3], 6)
	bits.SetN(&raw[3], 16, 0b11, uint32(t.TransferType))
	raw.setType(TypeSetupStage)

	return
}

func parseSetupStage(raw RawTRB) (t SetupStage) {
	t.RequestType = uint8(raw[0])
	t.Request = uint8(raw[0] >> 8)
	t.Value = uint16(raw[0] >> 16)
	t.Index = uint16(raw[1])
	t.Length = uint16(raw[1] >> 16)
	t.IOC = bits.IsSet(&raw[3], 5)
	t.TransferType = uint8(bits.Get(&raw[3], 16, 0b11))

	return
}

// DataStage represents a Data Stage TRB
// (p470, 6.4.1.2.2, xHCI rev 1.2).
type DataStage struct {
	Buffer         uint64
	TransferLength uint32
	TDSize         uint8
	Chain          bool
	IOC            bool
	In             bool
}

// Raw returns the TRB wire representation.
func (t DataStage) Raw() (raw RawTRB) {
	raw.setPointer(t.Buffer)
	bits.SetN(&raw[2], 0, 0x1ffff, t.TransferLength)
	bits.SetN(&raw[2], 17, 0x1f, uint32(t.TDSize))
	bits.SetTo(&raw[3], 4, t.Chain)
	bits.SetTo(&raw[3], 5, t.IOC)
	bits.SetTo(&raw[3], 16, t.In)
	raw.setType(TypeDataStage)

	return
}

func parseDataStage(raw RawTRB) (t DataStage) {
	t.Buffer = raw.pointer()
	t.TransferLength = bits.Get(&raw[2], 0, 0x1ffff)
	t.TDSize = uint8(bits.Get(&raw[2], 17, 0x1f))
	t.Chain = bits.IsSet(&raw[3], 4)
	t.IOC = bits.IsSet(&raw[3], 5)
	t.In = bits.IsSet(&raw[3], 16)

	return
}

// StatusStage represents a Status Stage TRB
// (p471, 6.4.1.2.3, xHCI rev 1.2).
type StatusStage struct {
	Chain bool
	IOC   bool
	In    bool
}

// Raw returns the TRB wire representation.
func (t StatusStage) Raw() (raw RawTRB) {
	bits.SetTo(&raw[3], 4, t.Chain)
	bits.SetTo(&raw[3], 5, t.IOC)
	bits.SetTo(&raw[3], 16, t.In)
	raw.setType(TypeStatusStage)

	return
}

func parseStatusStage(raw RawTRB) (t StatusStage) {
	t.Chain = bits.IsSet(&raw[3], 4)
	t.IOC = bits.IsSet(&raw[3], 5)
	t.In = bits.IsSet(&raw[3], 16)

	return
}

// EnableSlotCommand represents an Enable Slot Command TRB
// (p487, 6.4.3.2, xHCI rev 1.2).
type EnableSlotCommand struct {
	SlotType uint8
}

// Raw returns the TRB wire representation.
func (t EnableSlotCommand) Raw() (raw RawTRB) {
	bits.SetN(&raw[3], 16, 0x1f, uint32(t.SlotType))
	raw.setType(TypeEnableSlotCommand)

	return
}

func parseEnableSlotCommand(raw RawTRB) (t EnableSlotCommand) {
	t.SlotType = uint8(bits.Get(&raw[3], 16, 0x1f))

	return
}

// AddressDeviceCommand represents an Address Device Command TRB
// (p488, 6.4.3.4, xHCI rev 1.2).
type AddressDeviceCommand struct {
	InputContextPointer uint64
	BSR                 bool
	SlotID              uint8
}

// Raw returns the TRB wire representation.
func (t AddressDeviceCommand) Raw() (raw RawTRB) {
	raw.setPointer(t.InputContextPointer &^ 0xf)
	bits.SetTo(&raw[3], 9, t.BSR)
	bits.SetN(&raw[3], 24, 0xff, uint32(t.SlotID))
	raw.setType(TypeAddressDeviceCommand)

	return
}

func parseAddressDeviceCommand(raw RawTRB) (t AddressDeviceCommand) {
	t.InputContextPointer = raw.pointer() &^ 0xf
	t.BSR = bits.IsSet(&raw[3], 9)
	t.SlotID = uint8(bits.Get(&raw[3], 24, 0xff))

	return
}

// ConfigureEndpointCommand represents a Configure Endpoint Command TRB
// (p490, 6.4.3.5, xHCI rev 1.2).
type ConfigureEndpointCommand struct {
	InputContextPointer uint64
	Deconfigure         bool
	SlotID              uint8
}

// Raw returns the TRB wire representation.
func (t ConfigureEndpointCommand) Raw() (raw RawTRB) {
	raw.setPointer(t.InputContextPointer &^ 0xf)
	bits.SetTo(&raw[3], 9, t.Deconfigure)
	bits.SetN(&raw[3], 24, 0xff, uint32(t.SlotID))
	raw.setType(TypeConfigureEndpointCommand)

	return
}

func parseConfigureEndpointCommand(raw RawTRB) (t ConfigureEndpointCommand) {
	t.InputContextPointer = raw.pointer() &^ 0xf
	t.Deconfigure = bits.IsSet(&raw[3], 9)
	t.SlotID = uint8(bits.Get(&raw[3], 24, 0xff))

	return
}

// TransferEvent represents a Transfer Event TRB
// (p481, 6.4.2.1, xHCI rev 1.2).
type TransferEvent struct {
	TRBPointer uint64
	Residual   uint32
	Code       CompletionCode
	EndpointID uint8
	SlotID     uint8
}

// Raw returns the TRB wire representation.
func (t TransferEvent) Raw() (raw RawTRB) {
	raw.setPointer(t.TRBPointer)
	bits.SetN(&raw[2], 0, 0xffffff, t.Residual)
	bits.SetN(&raw[2], 24, 0xff, uint32(t.Code))
	bits.SetN(&raw[3], 16, 0x1f, uint32(t.EndpointID))
	bits.SetN(&raw[3], 24, 0xff, uint32(t.SlotID))
	raw.setType(TypeTransferEvent)

	return
}

func parseTransferEvent(raw RawTRB) (t TransferEvent) {
	t.TRBPointer = raw.pointer()
	t.Residual = bits.Get(&raw[2], 0, 0xffffff)
	t.Code = CompletionCode(bits.Get(&raw[2], 24, 0xff))
	t.EndpointID = uint8(bits.Get(&raw[3], 16, 0x1f))
	t.SlotID = uint8(bits.Get(&raw[3], 24, 0xff))

	return
}

// CommandCompletionEvent represents a Command Completion Event TRB
// (p484, 6.4.2.2, xHCI rev 1.2). CommandPointer refers back to the command
// TRB, within the command ring, that generated the event.
type CommandCompletionEvent struct {
	CommandPointer uint64
	Code           CompletionCode
	SlotID         uint8
}

// Raw returns the TRB wire representation.
func (t CommandCompletionEvent) Raw() (raw RawTRB) {
	raw.setPointer(t.CommandPointer &^ 0xf)
	bits.SetN(&raw[2], 24, 0xff, uint32(t.Code))
	bits.SetN(&raw[3], 24, 0xff, uint32(t.SlotID))
	raw.setType(TypeCommandCompletionEvent)

	return
}

func parseCommandCompletionEvent(raw RawTRB) (t CommandCompletionEvent) {
	t.CommandPointer = raw.pointer() &^ 0xf
	t.Code = CompletionCode(bits.Get(&raw[2], 24, 0xff))
	t.SlotID = uint8(bits.Get(&raw[3], 24, 0xff))

	return
}

// Issuer recovers the command TRB that generated this event, by re-reading
// the raw TRB at the referenced ring address (Decode() yields its typed
// view). The pointer is a plain physical address, not an owning reference.
func (t CommandCompletionEvent) Issuer() RawTRB {
	return readTRB(uint(t.CommandPointer))
}

// PortStatusChangeEvent represents a Port Status Change Event TRB
// (p486, 6.4.2.3, xHCI rev 1.2).
type PortStatusChangeEvent struct {
	PortID uint8
}

// Raw returns the TRB wire representation.
func (t PortStatusChangeEvent) Raw() (raw RawTRB) {
	bits.SetN(&raw[0], 24, 0xff, uint32(t.PortID))
	raw.setType(TypePortStatusChangeEvent)

	return
}

func parsePortStatusChangeEvent(raw RawTRB) (t PortStatusChangeEvent) {
	t.PortID = uint8(bits.Get(&raw[0], 24, 0xff))

	return
}
