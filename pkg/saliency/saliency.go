package saliency

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/pkg/nn"
	"github.com/chewxy/math32"
)

// Map is a single channel importance map, one value per input pixel, normalized to [0,1].
type Map struct {
	Width  int
	Height int
	Values []float32 // Row major

	// Degenerate is true when the gradient carried no signal (all zero, or not finite).
	// In that case Values are all zero.
	Degenerate bool
}

var ErrShapeMismatch = errors.New("gradient shape does not match input")

func NewMap(width, height int) *Map {
	return &Map{
		Width:  width,
		Height: height,
		Values: make([]float32, width*height),
	}
}

func (m *Map) At(x, y int) float32 {
	return m.Values[y*m.Width+x]
}

// Max returns the largest value in the map
func (m *Map) Max() float32 {
	mx := float32(0)
	for _, v := range m.Values {
		mx = math32.Max(mx, v)
	}
	return mx
}

// Gray16 returns the map as a 16-bit grayscale image
func (m *Map) Gray16() *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			img.SetGray16(x, y, color.Gray16{Y: uint16(m.At(x, y)*65535 + 0.5)})
		}
	}
	return img
}

// Compute produces a vanilla gradient saliency map of the classifier's top prediction.
//
// The classifier's own highest scoring class is differentiated with respect to the
// input. At each pixel we keep the largest absolute gradient across channels, and
// then divide the whole map by its global maximum. If the global maximum is zero
// (eg a classifier whose output is constant), the result is an all-zero map with
// Degenerate set.
func Compute(classifier nn.Classifier, input *nn.Tensor) (*Map, error) {
	scores, err := classifier.Predict(input)
	if err != nil {
		return nil, err
	}
	return ComputeFromScores(classifier, input, scores)
}

// ComputeFromScores is Compute, for a caller that has already run the forward pass.
// scores must be the output of classifier.Predict(input).
func ComputeFromScores(classifier nn.Classifier, input *nn.Tensor, scores []float32) (*Map, error) {
	top := nn.Argmax(scores)
	if top < 0 {
		return nil, fmt.Errorf("Classifier returned no scores")
	}
	grad, err := classifier.Gradient(input, top)
	if err != nil {
		return nil, err
	}
	if !grad.SameShape(input) {
		return nil, fmt.Errorf("%w: %vx%vx%v vs %vx%vx%v", ErrShapeMismatch,
			grad.Width, grad.Height, grad.Channels, input.Width, input.Height, input.Channels)
	}
	return FromGradient(grad), nil
}

// FromGradient collapses a gradient tensor into a normalized saliency map
func FromGradient(grad *nn.Tensor) *Map {
	m := NewMap(grad.Width, grad.Height)
	nchan := grad.Channels
	globalMax := float32(0)
	for i := range m.Values {
		px := grad.Data[i*nchan : (i+1)*nchan]
		mx := float32(0)
		for _, g := range px {
			mx = math32.Max(mx, math32.Abs(g))
		}
		m.Values[i] = mx
		globalMax = math32.Max(globalMax, mx)
	}

	if globalMax == 0 || math32.IsNaN(globalMax) || math32.IsInf(globalMax, 0) {
		for i := range m.Values {
			m.Values[i] = 0
		}
		m.Degenerate = true
		return m
	}

	for i := range m.Values {
		m.Values[i] /= globalMax
	}
	return m
}
