// https://github.com/f-secure-foundry/kestrel
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package console

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/f-secure-foundry/kestrel/framebuffer"
)

const (
	testWidth  = 64
	testHeight = 32
)

var testMem [testWidth * testHeight * 4]byte

func testFrameBuffer(t *testing.T) *framebuffer.FrameBuffer {
	fb, err := framebuffer.New(framebuffer.Config{
		Base:        uint(uintptr(unsafe.Pointer(&testMem[0]))),
		Size:        uint(len(testMem)),
		Stride:      testWidth,
		Width:       testWidth,
		Height:      testHeight,
		PixelFormat: framebuffer.RGBX8,
	})

	require.NoError(t, err)

	return fb
}

func TestConsoleGate(t *testing.T) {
	// any access before initialization panics
	assert.Panics(t, func() {
		Get()
	})

	assert.False(t, Initialized())

	Init(testFrameBuffer(t))

	assert.True(t, Initialized())
	require.NotNil(t, Get())

	// double initialization panics
	assert.Panics(t, func() {
		Init(testFrameBuffer(t))
	})
}

func TestConsoleWrite(t *testing.T) {
	if !Initialized() {
		Init(testFrameBuffer(t))
	}

	c := Get()
	c.Clear()

	n, err := c.Write([]byte("hi\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// cursor moved to the next line
	assert.Equal(t, 0, c.x)
	assert.Equal(t, 1, c.y)
	assert.Equal(t, byte('h'), c.text[0][0])
	assert.Equal(t, byte('i'), c.text[0][1])
}

func TestConsoleWrapAndScroll(t *testing.T) {
	if !Initialized() {
		Init(testFrameBuffer(t))
	}

	c := Get()
	c.Clear()

	// fill every row to force a scroll
	for i := 0; i < c.rows; i++ {
		c.Write([]byte("line\n"))
	}

	assert.Equal(t, c.rows-1, c.y)
	assert.Equal(t, byte('l'), c.text[0][0])

	// long lines wrap
	c.Clear()

	for i := 0; i < c.cols+1; i++ {
		c.Write([]byte("x"))
	}

	assert.Equal(t, 1, c.y)
	assert.Equal(t, 1, c.x)
}
