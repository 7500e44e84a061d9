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
	"encoding/binary"

	"github.com/f-secure-foundry/kestrel/dma"
)

// Ring alignment requirements
// (p84, Table 4-3, xHCI rev 1.2)
const (
	ringAlign    = 64
	erstAlign    = 64
	contextAlign = 64
)

// Ring represents a producer (Command or Transfer) ring shared with the
// controller. Its storage is carved out of the DMA region and never moves
// for the lifetime of the ring.
//
// The last slot of the ring is always consumed by a Link TRB pointing back
// at the ring base with its toggle cycle flag set, the controller follows it
// transparently.
type Ring struct {
	addr  uint
	size  int
	tail  int
	cycle bool
}

// NewRing allocates a producer ring of the argument capacity, which must be
// at least 2 to accommodate the Link TRB.
func NewRing(size int) *Ring {
	if size < 2 {
		panic("invalid ring size")
	}

	addr, buf := dma.Reserve(size*TRBSize, ringAlign)

	for i := range buf {
		buf[i] = 0
	}

	return &Ring{
		addr:  addr,
		size:  size,
		cycle: true,
	}
}

// Address returns the ring base address.
func (r *Ring) Address() uint {
	return r.addr
}

// CycleState returns the ring producer cycle state.
func (r *Ring) CycleState() bool {
	return r.cycle
}

// Push writes a TRB in the next available ring slot with the current
// producer cycle state, returning the address of the written TRB.
//
// When the penultimate slot is filled the Link TRB is refreshed with the
// current cycle state, the write position wraps to the ring base and the
// producer cycle state is flipped.
func (r *Ring) Push(t TRB) uint {
	raw := t.Raw()
	raw.SetCycle(r.cycle)

	addr := r.addr + uint(r.tail)*TRBSize
	writeTRB(addr, raw)

	r.tail++

	if r.tail == r.size-1 {
		link := Link{
			SegmentPointer: uint64(r.addr),
			ToggleCycle:    true,
		}

		lraw := link.Raw()
		lraw.SetCycle(r.cycle)
		writeTRB(r.addr+uint(r.tail)*TRBSize, lraw)

		r.tail = 0
		r.cycle = !r.cycle
	}

	return addr
}

// EventRingSegment represents a contiguous portion of an event ring.
type EventRingSegment struct {
	addr uint
	size int
}

// EventRing represents a consumer ring written by the controller, described
// to it through an Event Ring Segment Table.
type EventRing struct {
	segments []EventRingSegment
	table    uint
	segment  int
	cycle    bool
}

// NewEventRing allocates an event ring made of count segments of the
// argument size each, along with its segment table.
func NewEventRing(size int, count int) *EventRing {
	e := &EventRing{
		cycle: true,
	}

	table, buf := dma.Reserve(count*16, erstAlign)

	for i := range buf {
		buf[i] = 0
	}

	for i := 0; i < count; i++ {
		addr, seg := dma.Reserve(size*TRBSize, ringAlign)

		for j := range seg {
			seg[j] = 0
		}

		e.segments = append(e.segments, EventRingSegment{
			addr: addr,
			size: size,
		})

		// Event Ring Segment Table Entry
		// (p515, 6.5, xHCI rev 1.2)
		binary.LittleEndian.PutUint64(buf[i*16:], uint64(addr))
		binary.LittleEndian.PutUint16(buf[i*16+8:], uint16(size))
	}

	e.table = table

	return e
}

// TableAddress returns the Event Ring Segment Table address.
func (e *EventRing) TableAddress() uint {
	return e.table
}

// TableSize returns the number of Event Ring Segment Table entries.
func (e *EventRing) TableSize() int {
	return len(e.segments)
}

// Address returns the first segment base address, which is the initial
// dequeue position.
func (e *EventRing) Address() uint {
	return e.segments[0].addr
}

// CycleState returns the consumer cycle state.
func (e *EventRing) CycleState() bool {
	return e.cycle
}

func (e *EventRing) segmentIndex(addr uint) int {
	for i, s := range e.segments {
		if addr >= s.addr && addr < s.addr+uint(s.size)*TRBSize {
			return i
		}
	}

	// an ERDP outside all segments is a programming error
	panic("event ring dequeue pointer outside segments")
}

// Pop consumes a single event from the ring, the interrupter argument
// provides the Event Ring Dequeue Pointer register used to track and
// publish the read position.
//
// An event is valid when its cycle bit matches the consumer cycle state,
// otherwise the ring is empty and ok is false. The consumer cycle state
// flips each time the read position wraps past the last segment.
func (e *EventRing) Pop(irs *InterrupterRegisters) (raw RawTRB, ok bool) {
	addr := irs.DequeuePointer()
	seg := e.segmentIndex(addr)

	raw = readTRB(addr)

	if raw.Cycle() != e.cycle {
		return RawTRB{}, false
	}

	next := addr + TRBSize

	if next == e.segments[seg].addr+uint(e.segments[seg].size)*TRBSize {
		seg = (seg + 1) % len(e.segments)
		next = e.segments[seg].addr

		if seg == 0 {
			e.cycle = !e.cycle
		}
	}

	irs.SetDequeuePointer(next)

	return raw, true
}
