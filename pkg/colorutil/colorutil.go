// Package colorutil provides the overlay colors used when drawing matches.
package colorutil

import (
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// Common overlay colors.
var (
	Black = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	White = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Sky   = color.RGBA{R: 0, G: 200, B: 255, A: 255}
)

// goldenAngle spreads successive hues so neighbours never look alike.
const goldenAngle = 137.50776405003785

// HSVToRGB converts HSV (H in degrees, S and V in 0-1) to an opaque RGBA.
// Hues outside 0-360 wrap around.
func HSVToRGB(h, s, v float64) color.RGBA {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	r, g, b := colorful.Hsv(h, s, v).Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// Distinct returns the i-th color of an endless sequence of saturated hues.
func Distinct(i int) color.RGBA {
	return HSVToRGB(float64(i)*goldenAngle, 0.9, 1)
}
