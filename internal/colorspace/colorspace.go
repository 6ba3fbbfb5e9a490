// Package colorspace converts between sRGB and CIE 1931 chromaticity for
// lamps with a limited colour gamut.
package colorspace

import "math"

// XYPoint is a CIE 1931 chromaticity coordinate.
type XYPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RGBToXY converts normalised sRGB channels (0-1) to the closest chromaticity
// the default lamp gamut can reproduce.
func RGBToXY(r, g, b float64) XYPoint {
	return DefaultGamut.RGBToXY(r, g, b)
}

// RGB8ToXY is RGBToXY for 8-bit channels.
func RGB8ToXY(r, g, b uint8) XYPoint {
	return RGBToXY(float64(r)/255.0, float64(g)/255.0, float64(b)/255.0)
}

// Chromaticity converts normalised sRGB channels (0-1) to CIE 1931 xy
// without gamut correction. Black maps to (0, 0).
func Chromaticity(red, green, blue float64) XYPoint {
	r := inverseGamma(red)
	g := inverseGamma(green)
	b := inverseGamma(blue)

	x := r*0.664511 + g*0.154324 + b*0.162028
	y := r*0.283881 + g*0.668433 + b*0.047685
	z := r*0.000088 + g*0.072310 + b*0.986039

	sum := x + y + z
	if sum == 0 {
		return XYPoint{}
	}
	return XYPoint{X: x / sum, Y: y / sum}
}

// RGBToXY converts normalised sRGB channels (0-1) to chromaticity, projecting
// onto the gamut boundary when the colour is out of reach.
func (g Gamut) RGBToXY(red, green, blue float64) XYPoint {
	p := Chromaticity(red, green, blue)
	if !g.Contains(p) {
		p = g.ClosestPoint(p)
	}
	return p
}

// XYAndBrightnessToRGB approximates the 8-bit sRGB colour for a chromaticity
// and brightness (0-1). It is not an exact inverse of RGBToXY.
func XYAndBrightnessToRGB(x, y, bri float64) [3]uint8 {
	return DefaultGamut.XYAndBrightnessToRGB(x, y, bri)
}

// XYAndBrightnessToRGB approximates the 8-bit sRGB colour for a chromaticity
// and brightness (0-1) within gamut g.
func (g Gamut) XYAndBrightnessToRGB(x, y, bri float64) [3]uint8 {
	p := XYPoint{X: x, Y: y}
	if !g.Contains(p) {
		p = g.ClosestPoint(p)
	}

	var rgb [3]float64
	if p.Y != 0 {
		cy := bri
		cx := (cy / p.Y) * p.X
		cz := (cy / p.Y) * (1 - p.X - p.Y)

		rgb = [3]float64{
			cx*1.612 - cy*0.203 - cz*0.302,
			-cx*0.509 + cy*1.412 + cz*0.066,
			cx*0.026 - cy*0.072 + cz*0.962,
		}
	}

	for i := range rgb {
		rgb[i] = math.Max(0, forwardGamma(rgb[i]))
	}

	if max := math.Max(rgb[0], math.Max(rgb[1], rgb[2])); max > 1 {
		for i := range rgb {
			rgb[i] /= max
		}
	}

	var out [3]uint8
	for i, c := range rgb {
		out[i] = uint8(math.Floor(c * 255))
	}
	return out
}

func inverseGamma(c float64) float64 {
	if c > 0.04045 {
		return math.Pow((c+0.055)/(1.0+0.055), 2.4)
	}
	return c / 12.92
}

func forwardGamma(c float64) float64 {
	if c <= 0.0031308 {
		return 12.92 * c
	}
	return (1.0+0.055)*math.Pow(c, 1.0/2.4) - 0.055
}
