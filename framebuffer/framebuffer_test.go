// https://github.com/f-secure-foundry/kestrel
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package framebuffer

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWidth  = 64
	testHeight = 48
	testStride = 80
)

var testMem [testStride * testHeight * 4]byte

func testConfig(f Format) Config {
	return Config{
		Base:        uint(uintptr(unsafe.Pointer(&testMem[0]))),
		Size:        uint(len(testMem)),
		Stride:      testStride,
		Width:       testWidth,
		Height:      testHeight,
		PixelFormat: f,
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	cfg := testConfig(RGBX8)
	cfg.PixelFormat = Format(7)

	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestNewRejectsShortBuffer(t *testing.T) {
	cfg := testConfig(RGBX8)
	cfg.Size = 16

	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestPixelByteOrder(t *testing.T) {
	c := Color{R: 0x11, G: 0x22, B: 0x33}

	fb, err := New(testConfig(RGBX8))
	require.NoError(t, err)
	require.NoError(t, fb.SetPixel(1, 0, c))

	assert.Equal(t, []byte{0x11, 0x22, 0x33}, testMem[4:7])

	fb, err = New(testConfig(BGRX8))
	require.NoError(t, err)
	require.NoError(t, fb.SetPixel(1, 0, c))

	assert.Equal(t, []byte{0x33, 0x22, 0x11}, testMem[4:7])
}

func TestPixelStride(t *testing.T) {
	fb, err := New(testConfig(RGBX8))
	require.NoError(t, err)

	fb.Fill(Black)
	require.NoError(t, fb.SetPixel(0, 1, White))

	// rows advance by the scan line stride, not the visible width
	off := testStride * 4
	assert.Equal(t, []byte{0xff, 0xff, 0xff}, testMem[off:off+3])
}

func TestPixelBounds(t *testing.T) {
	fb, err := New(testConfig(RGBX8))
	require.NoError(t, err)

	assert.ErrorIs(t, fb.SetPixel(testWidth, 0, White), ErrOutOfRange)
	assert.ErrorIs(t, fb.SetPixel(0, testHeight, White), ErrOutOfRange)
}

func TestCursorMoveClamps(t *testing.T) {
	fb, err := New(testConfig(RGBX8))
	require.NoError(t, err)

	fb.Fill(Gray)

	c := NewCursor(fb, Gray)
	c.Draw()

	c.Move(-100, -100)

	x, y := c.Position()
	assert.Equal(t, int32(0), x)
	assert.Equal(t, int32(0), y)

	for i := 0; i < 20; i++ {
		c.Move(127, 127)
	}

	x, y = c.Position()
	assert.Equal(t, int32(testWidth-1), x)
	assert.Equal(t, int32(testHeight-1), y)
}

func TestCursorErase(t *testing.T) {
	fb, err := New(testConfig(RGBX8))
	require.NoError(t, err)

	fb.Fill(Gray)

	c := NewCursor(fb, Gray)
	c.Draw()
	c.Move(10, 10)

	// the sprite outline at the old position is repainted with the
	// background color
	assert.Equal(t, byte(Gray.R), testMem[0])
}
