// Package diagnosistest provides deterministic models for testing code that runs
// the diagnosis pipeline without a trained network.
package diagnosistest

import (
	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/pkg/nn"
)

// FakeClassifier is a deterministic stand-in for a trained network.
// Its positive-class score is Probability, and its gradient is the input image's
// red channel, so bright regions light up in the saliency map.
// If Flat is true, the gradient is zero everywhere.
// The call counters are not synchronized.
type FakeClassifier struct {
	Probability float32
	Flat        bool
	Err         error
	Cfg         nn.ModelConfig

	PredictCalls  int
	GradientCalls int
}

func NewFakeClassifier(probability float32) *FakeClassifier {
	return &FakeClassifier{
		Probability: probability,
		Cfg: nn.ModelConfig{
			Architecture:       "fake",
			Width:              32,
			Height:             32,
			Channels:           3,
			Classes:            []string{"pneumonia"},
			InputName:          "input",
			OutputName:         "probabilities",
			ClassInputName:     "class_index",
			GradientOutputName: "gradient",
		},
	}
}

func (f *FakeClassifier) Close() {}

func (f *FakeClassifier) Config() *nn.ModelConfig {
	return &f.Cfg
}

func (f *FakeClassifier) Predict(input *nn.Tensor) ([]float32, error) {
	f.PredictCalls++
	if f.Err != nil {
		return nil, f.Err
	}
	return []float32{f.Probability}, nil
}

func (f *FakeClassifier) Gradient(input *nn.Tensor, class int) (*nn.Tensor, error) {
	f.GradientCalls++
	if f.Err != nil {
		return nil, f.Err
	}
	g := nn.NewTensor(input.Width, input.Height, input.Channels)
	if !f.Flat {
		for y := 0; y < input.Height; y++ {
			for x := 0; x < input.Width; x++ {
				g.Set(x, y, 0, input.At(x, y, 0))
			}
		}
	}
	return g, nil
}

// FakePolicy always returns Action
type FakePolicy struct {
	Action int
	Err    error
	Calls  int
}

func (f *FakePolicy) Close() {}

func (f *FakePolicy) Config() *nn.PolicyConfig {
	return &nn.PolicyConfig{ObservationSize: 1, NumActions: 2, InputName: "obs", OutputName: "q_values"}
}

func (f *FakePolicy) Act(observation []float32) (int, error) {
	f.Calls++
	return f.Action, f.Err
}
