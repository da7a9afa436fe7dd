package saliency

import (
	"fmt"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// DefaultColors is a cool to warm ramp
var DefaultColors = []string{"#0000ff", "#ffff00", "#ff0000"}

const DefaultBins = 100

// Colormap is a piecewise linear color gradient, quantized into a fixed number of bins
type Colormap struct {
	lut []color.RGBA
}

// NewColormap builds a lookup table of 'bins' colors, evenly spaced along the gradient
// that runs through 'stops'.
func NewColormap(stops []colorful.Color, bins int) (*Colormap, error) {
	if len(stops) < 2 {
		return nil, fmt.Errorf("Colormap needs at least 2 colors, but %v were given", len(stops))
	}
	if bins < 2 {
		return nil, fmt.Errorf("Colormap needs at least 2 bins, but %v were given", bins)
	}
	segments := len(stops) - 1
	lut := make([]color.RGBA, bins)
	for i := 0; i < bins; i++ {
		pos := float64(i) / float64(bins-1) * float64(segments)
		k := int(pos)
		if k >= segments {
			k = segments - 1
		}
		c := stops[k].BlendRgb(stops[k+1], pos-float64(k)).Clamped()
		r, g, b := c.RGB255()
		lut[i] = color.RGBA{r, g, b, 255}
	}
	return &Colormap{lut: lut}, nil
}

// ParseColormap is NewColormap, with the stops given as hex strings such as "#ff0000"
func ParseColormap(hexStops []string, bins int) (*Colormap, error) {
	stops := make([]colorful.Color, len(hexStops))
	for i, h := range hexStops {
		c, err := colorful.Hex(h)
		if err != nil {
			return nil, fmt.Errorf("Invalid colormap color '%v': %w", h, err)
		}
		stops[i] = c
	}
	return NewColormap(stops, bins)
}

// DefaultColormap returns the blue, yellow, red ramp with DefaultBins bins
func DefaultColormap() *Colormap {
	cm, err := ParseColormap(DefaultColors, DefaultBins)
	if err != nil {
		panic(err)
	}
	return cm
}

func (c *Colormap) Bins() int {
	return len(c.lut)
}

// Lookup returns the color for an 8-bit intensity. The alpha of the result is always 255.
func (c *Colormap) Lookup(intensity uint8) color.RGBA {
	bin := int(float64(intensity) / 255 * float64(len(c.lut)))
	if bin >= len(c.lut) {
		bin = len(c.lut) - 1
	}
	return c.lut[bin]
}
