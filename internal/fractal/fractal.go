package fractal

import (
	"image/color"
	"math"
)

// EscapeRadiusSq is the squared magnitude past which a point is considered escaped.
const EscapeRadiusSq = 4.0

// Region is the square of the complex plane covered by one tile.
// (X0, Y0) is the top-left corner and Step the width of one pixel.
type Region struct {
	X0   float64
	Y0   float64
	Step float64
}

// At returns the plane point sampled for pixel (px, py).
func (r Region) At(px, py int) (float64, float64) {
	return r.X0 + r.Step*float64(px), r.Y0 + r.Step*float64(py)
}

// MapTile maps tile (z, x, y) onto the plane. The plane is planeWidth wide and
// centered on the origin; at zoom z it is split into 2^z tiles per axis.
// Coordinates outside [0, 2^z) are accepted and land outside that square.
func MapTile(z, x, y int, planeWidth float64, tileSize int) Region {
	n := math.Pow(2, float64(z))
	return Region{
		X0:   -planeWidth/2 + planeWidth*float64(x)/n,
		Y0:   -planeWidth/2 + planeWidth*float64(y)/n,
		Step: planeWidth / n / float64(tileSize),
	}
}

// Escape iterates z -> z^2 + c from zero for c = (px, py) and returns the
// iteration at which |z|^2 first exceeds EscapeRadiusSq.
//
// A point that does not escape within iterMax iterations returns 0. The
// first check always sees z = 0, so an escaping point returns at least 1.
func Escape(px, py float64, iterMax int) int {
	var x, y float64
	for i := 0; i < iterMax; i++ {
		xx := x * x
		yy := y * y
		if xx+yy > EscapeRadiusSq {
			return i
		}
		y = 2*x*y + py
		x = xx - yy + px
	}
	return 0
}

// Color maps an iteration count to (val/2, val, val*32), each wrapped to a byte.
func Color(val int) color.RGBA {
	v := uint32(val)
	return color.RGBA{
		R: uint8(v / 2),
		G: uint8(v),
		B: uint8(v * 32),
		A: 0xff,
	}
}
