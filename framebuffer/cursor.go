// Linear framebuffer support
// https://github.com/f-secure-foundry/kestrel
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package framebuffer

// Mouse cursor sprite geometry.
const (
	CursorWidth  = 15
	CursorHeight = 24
)

// cursorShape draws the arrow sprite, '@' pixels form the outline and '.'
// pixels the body.
var cursorShape = [CursorHeight]string{
	"@              ",
	"@@             ",
	"@.@            ",
	"@..@           ",
	"@...@          ",
	"@....@         ",
	"@.....@        ",
	"@......@       ",
	"@.......@      ",
	"@........@     ",
	"@.........@    ",
	"@..........@   ",
	"@...........@  ",
	"@............@ ",
	"@......@@@@@@@@",
	"@......@       ",
	"@....@@.@      ",
	"@...@ @.@      ",
	"@..@   @.@     ",
	"@.@    @.@     ",
	"@@      @.@    ",
	"@       @.@    ",
	"         @.@   ",
	"         @@@   ",
}

// Cursor represents a mouse cursor painted on a framebuffer.
type Cursor struct {
	fb *FrameBuffer
	bg Color

	x int32
	y int32
}

// NewCursor initializes a cursor on a framebuffer, erased positions are
// repainted with the argument background color.
func NewCursor(fb *FrameBuffer, bg Color) *Cursor {
	return &Cursor{
		fb: fb,
		bg: bg,
	}
}

// Position returns the cursor position.
func (c *Cursor) Position() (x int32, y int32) {
	return c.x, c.y
}

// Draw paints the cursor sprite at its current position.
func (c *Cursor) Draw() {
	for y, row := range cursorShape {
		for x, glyph := range row {
			px := c.x + int32(x)
			py := c.y + int32(y)

			if px < 0 || py < 0 {
				continue
			}

			switch glyph {
			case '@':
				c.fb.SetPixel(uint32(px), uint32(py), Black)
			case '.':
				c.fb.SetPixel(uint32(px), uint32(py), White)
			}
		}
	}
}

// erase repaints the sprite area with the background color.
func (c *Cursor) erase() {
	if c.x < 0 || c.y < 0 {
		return
	}

	c.fb.FillRect(uint32(c.x), uint32(c.y), CursorWidth, CursorHeight, c.bg)
}

func clamp(v int32, max int32) int32 {
	if v < 0 {
		return 0
	}

	if v >= max {
		return max - 1
	}

	return v
}

// Move displaces the cursor by a relative movement, clamped to the
// framebuffer resolution, erasing and repainting the sprite.
func (c *Cursor) Move(dx int8, dy int8) {
	c.erase()

	c.x = clamp(c.x+int32(dx), int32(c.fb.Width()))
	c.y = clamp(c.y+int32(dy), int32(c.fb.Height()))

	c.Draw()
}
