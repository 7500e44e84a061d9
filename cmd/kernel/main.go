// Kernel entry point
// https://github.com/f-secure-foundry/kestrel
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// The kestrel kernel boots from UEFI firmware, takes over the platform and
// drives an xHCI USB host controller to enumerate a boot-protocol HID
// mouse, painting its cursor on the firmware provided framebuffer.
package main

import (
	"fmt"
	"io"
	"log"
	"unsafe"

	"github.com/f-secure-foundry/kestrel/amd64"
	"github.com/f-secure-foundry/kestrel/console"
	"github.com/f-secure-foundry/kestrel/dma"
	"github.com/f-secure-foundry/kestrel/framebuffer"
	"github.com/f-secure-foundry/kestrel/soc/intel/pci"
	"github.com/f-secure-foundry/kestrel/soc/intel/uart"
	"github.com/f-secure-foundry/kestrel/soc/intel/xhci"
	"github.com/f-secure-foundry/kestrel/usb"
)

// DMA region, the bootloader reserves this range out of the UEFI memory
// map so that it is never used by the Go runtime.
const (
	dmaStart = 0x50000000
	dmaSize  = 0x04000000 // 64MB
)

// Peripheral instances
var (
	// CPU instance
	AMD64 = &amd64.CPU{}

	// Serial port, early debug console
	UART0 = &uart.UART{
		Index: 1,
		Base:  uart.COM1,
	}
)

// PixelFormat enumerates the framebuffer formats accepted from the
// bootloader, matching the UEFI GOP PixelFormat values this kernel
// supports.
type PixelFormat uint32

const (
	PixelRGBX8 PixelFormat = iota
	PixelBGRX8
)

// KernelArg is the boot argument record prepared by the bootloader and
// passed by reference in the System V AMD64 first-argument register.
//
// The loader places the kernel at its linker specified address, rounding
// its page count as (last - first + 0xfff) / 0x1000, exits boot services
// and jumps to the entry stub.
type KernelArg struct {
	FrameBufferBase      uint64
	FrameBufferSize      uint64
	PixelsPerScanLine    uint32
	HorizontalResolution uint32
	VerticalResolution   uint32
	PixelFormat          PixelFormat
}

// kernelArgPtr is stored by the entry stub in start_amd64.s before the Go
// runtime initializes.
var kernelArgPtr uintptr

// background is the desktop fill color.
var background = framebuffer.Gray

func main() {
	defer func() {
		if r := recover(); r != nil {
			fatal(r)
		}
	}()

	arg := (*KernelArg)(unsafe.Pointer(kernelArgPtr))

	if arg == nil {
		panic("missing kernel argument")
	}

	kernelMain(arg)
}

// fatal implements the kernel panic behavior, the console is cleared, the
// panic information is printed and the CPU halts.
func fatal(info interface{}) {
	if console.Initialized() {
		c := console.Get()
		c.Clear()
		fmt.Fprintf(c, "panic %v\n", info)
	}

	fmt.Fprintf(UART0, "panic %v\n", info)

	AMD64.Halt()
}

func pixelFormat(f PixelFormat) framebuffer.Format {
	switch f {
	case PixelRGBX8:
		return framebuffer.RGBX8
	case PixelBGRX8:
		return framebuffer.BGRX8
	}

	panic("unsupported pixel format")
}

func kernelMain(arg *KernelArg) {
	AMD64.Init()

	UART0.Init()
	log.SetFlags(0)
	log.SetOutput(UART0)

	fb, err := framebuffer.New(framebuffer.Config{
		Base:        uint(arg.FrameBufferBase),
		Size:        uint(arg.FrameBufferSize),
		Stride:      arg.PixelsPerScanLine,
		Width:       arg.HorizontalResolution,
		Height:      arg.VerticalResolution,
		PixelFormat: pixelFormat(arg.PixelFormat),
	})

	if err != nil {
		panic(err)
	}

	fb.Fill(background)

	console.Init(fb)
	log.SetOutput(io.MultiWriter(UART0, console.Get()))
	log.Printf("kestrel (%dx%d)", arg.HorizontalResolution, arg.VerticalResolution)

	dma.Init(dmaStart, dmaSize)

	dev := pci.FindUSB()

	if dev == nil {
		panic("no xHCI host controller found")
	}

	log.Printf("pci: xHCI controller %04x:%04x at %02x:%02x.%x",
		dev.Vendor, dev.Device, dev.Bus, dev.Slot, dev.Fn)

	// route EHCI companion ports to the xHCI controller
	dev.SwitchEHCI()

	drv, err := usb.NewDriver(&xhci.Controller{
		Base: dev.BaseAddress(0),
	})

	if err != nil {
		panic(err)
	}

	cursor := framebuffer.NewCursor(fb, background)
	cursor.Draw()

	for {
		if err = drv.Process(); err != nil {
			log.Printf("usb: %v", err)
		}

		if !drv.Ready() {
			continue
		}

		r, err := drv.PollMouse()

		if err != nil {
			log.Printf("usb: mouse poll error, %v", err)
			continue
		}

		if r.X != 0 || r.Y != 0 {
			cursor.Move(r.X, r.Y)
		}
	}
}
