package saliency

import (
	"fmt"
	"image"
	"math"

	"github.com/anthonynsimon/bild/clone"
	"github.com/anthonynsimon/bild/transform"
)

const DefaultAlpha = 0.4

// Colorize renders the map through the colormap, at the given resolution.
// If the resolution differs from the map's, the map is first resized with bilinear
// interpolation.
func Colorize(m *Map, width, height int, cmap *Colormap) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	if m.Width == width && m.Height == height {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				out.SetRGBA(x, y, cmap.Lookup(quantize(m.At(x, y))))
			}
		}
		return out
	}

	// bild gives us back 8 bits per channel, which is where we're headed anyway
	resized := transform.Resize(m.Gray16(), width, height, transform.Linear)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			out.SetRGBA(x, y, cmap.Lookup(resized.Pix[y*resized.Stride+x*4]))
		}
	}
	return out
}

// Overlay composites the colorized map onto the original image:
//
//	out = color * alpha + original
//
// Each channel is clamped to 255. Alpha must be in (0,1).
// The result has the dimensions of original.
func Overlay(m *Map, original image.Image, cmap *Colormap, alpha float64) (*image.RGBA, error) {
	if !(alpha > 0 && alpha < 1) {
		return nil, fmt.Errorf("Overlay alpha must be between 0 and 1 (exclusive), but is %v", alpha)
	}
	out := clone.AsRGBA(original)
	b := out.Bounds()
	heat := Colorize(m, b.Dx(), b.Dy(), cmap)
	for y := 0; y < b.Dy(); y++ {
		dst := out.Pix[y*out.Stride : y*out.Stride+b.Dx()*4]
		src := heat.Pix[y*heat.Stride : y*heat.Stride+b.Dx()*4]
		for x := 0; x < b.Dx(); x++ {
			for c := 0; c < 3; c++ {
				dst[x*4+c] = Composite(src[x*4+c], dst[x*4+c], alpha)
			}
			dst[x*4+3] = 255
		}
	}
	return out, nil
}

// Composite blends one 8-bit channel: color*alpha + base, rounded and clamped to [0,255]
func Composite(color, base uint8, alpha float64) uint8 {
	v := math.Round(float64(color)*alpha + float64(base))
	if v > 255 {
		return 255
	}
	if v < 0 {
		return 0
	}
	return uint8(v)
}

func quantize(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(255 * v)
}
