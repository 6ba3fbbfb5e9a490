package colorspace

import "math"

// Gamut is the triangle of chromaticities a lamp can reproduce.
type Gamut struct {
	Red  XYPoint
	Lime XYPoint
	Blue XYPoint
}

// DefaultGamut is the reproducible range of the supported lamps.
var DefaultGamut = Gamut{
	Red:  XYPoint{X: 0.704, Y: 0.296},
	Lime: XYPoint{X: 0.2151, Y: 0.7106},
	Blue: XYPoint{X: 0.138, Y: 0.08},
}

// InLampReach reports whether p lies inside the default gamut.
func InLampReach(p XYPoint) bool {
	return DefaultGamut.Contains(p)
}

// ClosestPointInGamut returns p when reproducible, otherwise the nearest
// point on the default gamut boundary.
func ClosestPointInGamut(p XYPoint) XYPoint {
	if DefaultGamut.Contains(p) {
		return p
	}
	return DefaultGamut.ClosestPoint(p)
}

// Contains reports whether p lies inside the triangle, using barycentric
// coordinates relative to the red vertex.
func (g Gamut) Contains(p XYPoint) bool {
	v1 := XYPoint{X: g.Lime.X - g.Red.X, Y: g.Lime.Y - g.Red.Y}
	v2 := XYPoint{X: g.Blue.X - g.Red.X, Y: g.Blue.Y - g.Red.Y}
	q := XYPoint{X: p.X - g.Red.X, Y: p.Y - g.Red.Y}

	d := crossProduct(v1, v2)
	s := crossProduct(q, v2) / d
	t := crossProduct(v1, q) / d

	return s >= 0 && t >= 0 && s+t <= 1
}

// ClosestPoint projects p onto each edge of the triangle and returns the
// projection nearest to p.
func (g Gamut) ClosestPoint(p XYPoint) XYPoint {
	candidates := [3]XYPoint{
		ClosestPointOnSegment(g.Red, g.Lime, p),
		ClosestPointOnSegment(g.Blue, g.Red, p),
		ClosestPointOnSegment(g.Lime, g.Blue, p),
	}

	closest := candidates[0]
	lowest := Distance(p, closest)
	for _, c := range candidates[1:] {
		if d := Distance(p, c); d < lowest {
			lowest = d
			closest = c
		}
	}
	return closest
}

// ClosestPointOnSegment returns the point on segment a-b nearest to p.
func ClosestPointOnSegment(a, b, p XYPoint) XYPoint {
	ap := XYPoint{X: p.X - a.X, Y: p.Y - a.Y}
	ab := XYPoint{X: b.X - a.X, Y: b.Y - a.Y}

	ab2 := ab.X*ab.X + ab.Y*ab.Y
	if ab2 == 0 {
		return a
	}
	t := (ap.X*ab.X + ap.Y*ab.Y) / ab2
	t = math.Max(0, math.Min(1, t))

	return XYPoint{X: a.X + ab.X*t, Y: a.Y + ab.Y*t}
}

// Distance is the Euclidean distance between two points.
func Distance(a, b XYPoint) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func crossProduct(a, b XYPoint) float64 {
	return a.X*b.Y - a.Y*b.X
}
