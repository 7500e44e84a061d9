// Framebuffer text console
// https://github.com/f-secure-foundry/kestrel
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package console implements a text console over a linear framebuffer, it
// is the target of the kernel log output.
//
// The console is a process wide singleton guarded by a three-state
// initialization gate, any access before Init() completes panics.
package console

import (
	"sync/atomic"

	"github.com/f-secure-foundry/kestrel/framebuffer"
)

// Initialization gate states.
const (
	uninitialized uint32 = iota
	initializing
	initialized
)

var (
	state   uint32
	console *Console
)

// Console represents a framebuffer text console instance.
type Console struct {
	fb *framebuffer.FrameBuffer

	cols int
	rows int

	x int
	y int

	fg framebuffer.Color
	bg framebuffer.Color

	// text contents, re-rendered on scroll
	text [][]byte
}

// Init initializes the global console over a framebuffer, it panics when
// invoked more than once.
func Init(fb *framebuffer.FrameBuffer) {
	if !atomic.CompareAndSwapUint32(&state, uninitialized, initializing) {
		panic("console already initialized")
	}

	c := &Console{
		fb:   fb,
		cols: int(fb.Width()) / GlyphWidth,
		rows: int(fb.Height()) / GlyphHeight,
		fg:   framebuffer.White,
		bg:   framebuffer.Black,
	}

	c.text = make([][]byte, c.rows)

	for i := range c.text {
		c.text[i] = make([]byte, c.cols)
	}

	console = c

	atomic.StoreUint32(&state, initialized)
}

// Get returns the global console instance, it panics before initialization
// is complete.
func Get() *Console {
	if atomic.LoadUint32(&state) != initialized {
		panic("console not initialized")
	}

	return console
}

// Initialized returns whether the global console is available.
func Initialized() bool {
	return atomic.LoadUint32(&state) == initialized
}

func (c *Console) drawGlyph(col int, row int, b byte) {
	g := glyph(b)

	for y := 0; y < GlyphHeight; y++ {
		for x := 0; x < GlyphWidth; x++ {
			color := c.bg

			if g[y]>>x&1 == 1 {
				color = c.fg
			}

			c.fb.SetPixel(uint32(col*GlyphWidth+x), uint32(row*GlyphHeight+y), color)
		}
	}
}

// render repaints the full console contents.
func (c *Console) render() {
	for row := 0; row < c.rows; row++ {
		for col := 0; col < c.cols; col++ {
			b := c.text[row][col]

			if b == 0 {
				b = ' '
			}

			c.drawGlyph(col, row, b)
		}
	}
}

// scroll discards the topmost text line.
func (c *Console) scroll() {
	first := c.text[0]

	copy(c.text, c.text[1:])

	for i := range first {
		first[i] = 0
	}

	c.text[c.rows-1] = first
	c.render()
}

func (c *Console) newline() {
	c.x = 0
	c.y++

	if c.y == c.rows {
		c.y = c.rows - 1
		c.scroll()
	}
}

func (c *Console) putChar(b byte) {
	if b == '\n' {
		c.newline()
		return
	}

	if b == '\r' {
		c.x = 0
		return
	}

	if c.x == c.cols {
		c.newline()
	}

	c.text[c.y][c.x] = b
	c.drawGlyph(c.x, c.y, b)
	c.x++
}

// Write renders text at the current cursor position, it implements
// io.Writer so that the console can serve as log output.
func (c *Console) Write(p []byte) (n int, err error) {
	for _, b := range p {
		c.putChar(b)
	}

	return len(p), nil
}

// Clear erases the console contents and repaints its background.
func (c *Console) Clear() {
	for _, row := range c.text {
		for i := range row {
			row[i] = 0
		}
	}

	c.x = 0
	c.y = 0

	c.fb.Fill(c.bg)
}
