package ptyhost

import "github.com/hinshun/vt10x"

// ansi16 holds the standard 16-color ANSI palette (indices 0-15), the same
// values terminal emulators and themes agree on for the basic color set.
var ansi16 = [16][3]uint8{
	{0, 0, 0}, {205, 0, 0}, {0, 205, 0}, {205, 205, 0},
	{0, 0, 238}, {205, 0, 205}, {0, 205, 205}, {229, 229, 229},
	{127, 127, 127}, {255, 0, 0}, {0, 255, 0}, {255, 255, 0},
	{92, 92, 255}, {255, 0, 255}, {0, 255, 255}, {255, 255, 255},
}

// colorToRGB converts a vt10x.Color into an 8-bit RGB triple. vt10x encodes:
// values >= 0x01000000 as "default" (rendered here as the theme-neutral
// mid-gray so a missing resolution is visible rather than silently black);
// values < 256 as a palette index (0-15 basic, 16-231 a 6x6x6 cube, 232-255
// a grayscale ramp); anything else as packed truecolor r<<16|g<<8|b.
func colorToRGB(c vt10x.Color) (r, g, b uint8) {
	if c >= 0x01000000 {
		return 128, 128, 128
	}
	if c < 16 {
		rgb := ansi16[c]
		return rgb[0], rgb[1], rgb[2]
	}
	if c < 232 {
		return cube6(uint32(c) - 16)
	}
	if c < 256 {
		level := uint8(8 + 10*(uint32(c)-232))
		return level, level, level
	}
	return uint8((c >> 16) & 0xFF), uint8((c >> 8) & 0xFF), uint8(c & 0xFF)
}

// cube6 maps an index in [0,216) to the xterm 6x6x6 color cube.
func cube6(idx uint32) (r, g, b uint8) {
	steps := [6]uint8{0, 95, 135, 175, 215, 255}
	b = steps[idx%6]
	g = steps[(idx/6)%6]
	r = steps[(idx/36)%6]
	return r, g, b
}
