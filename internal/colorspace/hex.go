package colorspace

import "fmt"

// Hex strings for the primaries and white.
const (
	HexFullRed   = "FF0000"
	HexFullGreen = "00FF00"
	HexFullBlue  = "0000FF"
	HexFullWhite = "FFFFFF"
)

// RGBToHex formats 8-bit channels as an upper-case hex string without a prefix.
func RGBToHex(r, g, b uint8) string {
	return fmt.Sprintf("%02X%02X%02X", r, g, b)
}

// CIE1931ToHex returns the approximate hex colour for a chromaticity and
// brightness (0-1).
func CIE1931ToHex(x, y, bri float64) string {
	rgb := XYAndBrightnessToRGB(x, y, bri)
	return RGBToHex(rgb[0], rgb[1], rgb[2])
}
