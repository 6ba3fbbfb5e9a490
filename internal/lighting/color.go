package lighting

import (
	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/mikey-austin/spotispy/internal/colorspace"
)

// Color is a cover art colour in every form the lamp backends need.
type Color struct {
	RGB [3]uint8
	XY  colorspace.XYPoint
	// H is in degrees, S and V in 0-1.
	H, S, V float64
}

// NewColor derives chromaticity and HSV from an 8-bit RGB triple.
func NewColor(r, g, b uint8) Color {
	h, s, v := colorful.Color{
		R: float64(r) / 255.0,
		G: float64(g) / 255.0,
		B: float64(b) / 255.0,
	}.Hsv()
	return Color{
		RGB: [3]uint8{r, g, b},
		XY:  colorspace.RGB8ToXY(r, g, b),
		H:   h,
		S:   s,
		V:   v,
	}
}

// HueSat scales HSV to the integer ranges of hue/saturation lamps:
// hue 0-65535, sat 0-254, bri 0-100.
func (c Color) HueSat() (hue uint16, sat uint8, bri uint8) {
	hue = uint16(c.H * 65535 / 360)
	sat = uint8(c.S * 100 * 254 / 100)
	bri = uint8(c.V * 100 * 100 / 100)
	return hue, sat, bri
}

// Hex is the colour as an upper-case hex string.
func (c Color) Hex() string {
	return colorspace.RGBToHex(c.RGB[0], c.RGB[1], c.RGB[2])
}
