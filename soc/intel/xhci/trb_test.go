// https://github.com/f-secure-foundry/kestrel
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package xhci

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTRBRoundTrip(t *testing.T) {
	for _, tt := range []struct {
		name string
		trb  TRB
	}{
		{"Normal", Normal{Buffer: 0xdeadbeef000, TransferLength: 512, TDSize: 3, Chain: true, IOC: true}},
		{"Link", Link{SegmentPointer: 0x7f0000aa40, ToggleCycle: true}},
		{"SetupStage", SetupStage{RequestType: 0x80, Request: 6, Value: 0x0100, Index: 2, Length: 18, TransferType: TransferIn, IOC: true}},
		{"DataStage", DataStage{Buffer: 0x123450, TransferLength: 256, TDSize: 1, In: true, IOC: true}},
		{"StatusStage", StatusStage{In: true, Chain: true}},
		{"EnableSlotCommand", EnableSlotCommand{SlotType: 5}},
		{"AddressDeviceCommand", AddressDeviceCommand{InputContextPointer: 0xabcd00, BSR: true, SlotID: 7}},
		{"ConfigureEndpointCommand", ConfigureEndpointCommand{InputContextPointer: 0xabcd40, SlotID: 3}},
		{"TransferEvent", TransferEvent{TRBPointer: 0x9000, Residual: 12, Code: CodeShortPacket, EndpointID: 3, SlotID: 2}},
		{"CommandCompletionEvent", CommandCompletionEvent{CommandPointer: 0x8000, Code: CodeSuccess, SlotID: 1}},
		{"PortStatusChangeEvent", PortStatusChangeEvent{PortID: 4}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			raw := tt.trb.Raw()
			decoded := Decode(raw)

			assert.Equal(t, tt.trb, decoded)
			assert.Equal(t, raw, decoded.Raw())
		})
	}
}

func TestTRBTypeField(t *testing.T) {
	for _, tt := range []struct {
		trb TRB
		typ TRBType
	}{
		{Normal{}, TypeNormal},
		{SetupStage{}, TypeSetupStage},
		{DataStage{}, TypeDataStage},
		{StatusStage{}, TypeStatusStage},
		{Link{}, TypeLink},
		{EnableSlotCommand{}, TypeEnableSlotCommand},
		{AddressDeviceCommand{}, TypeAddressDeviceCommand},
		{ConfigureEndpointCommand{}, TypeConfigureEndpointCommand},
		{TransferEvent{}, TypeTransferEvent},
		{CommandCompletionEvent{}, TypeCommandCompletionEvent},
		{PortStatusChangeEvent{}, TypePortStatusChangeEvent},
	} {
		raw := tt.trb.Raw()
		assert.Equal(t, tt.typ, raw.Type())
	}
}

func TestTRBCycleBit(t *testing.T) {
	raw := Normal{}.Raw()

	require.False(t, raw.Cycle())

	raw.SetCycle(true)
	assert.True(t, raw.Cycle())
	assert.Equal(t, uint32(1), raw[3]&1)

	raw.SetCycle(false)
	assert.False(t, raw.Cycle())
}

func TestSetupStageImmediate(t *testing.T) {
	raw := SetupStage{Length: 18, TransferType: TransferIn}.Raw()

	// transfer length is the 8 byte setup packet, carried as immediate
	// data
	assert.Equal(t, uint32(8), raw[2]&0x1ffff)
	assert.Equal(t, uint32(1), raw[3]>>6&1)
	assert.Equal(t, uint32(TransferIn), raw[3]>>16&0b11)
}

func TestDecodeUnknown(t *testing.T) {
	var raw RawTRB

	raw.setType(TRBType(37))

	u, ok := Decode(raw).(Unknown)
	require.True(t, ok)
	assert.Equal(t, raw, u.Raw())
}
