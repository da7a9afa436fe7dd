// Package nn is a Neural Network interface layer.
// Concrete implementations live in the onnx package. Everything above this layer
// (saliency, triage, the HTTP server) only talks to these interfaces, so that tests
// can substitute simple analytic models.
package nn

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Tensor is a single image (batch size 1) in NHWC layout.
// Data[(y*Width+x)*Channels+c] is channel c of pixel (x,y).
type Tensor struct {
	Width    int
	Height   int
	Channels int
	Data     []float32
}

// Create a zero tensor
func NewTensor(width, height, channels int) *Tensor {
	return &Tensor{
		Width:    width,
		Height:   height,
		Channels: channels,
		Data:     make([]float32, width*height*channels),
	}
}

// Return the value at pixel (x,y), channel c
func (t *Tensor) At(x, y, c int) float32 {
	return t.Data[(y*t.Width+x)*t.Channels+c]
}

func (t *Tensor) Set(x, y, c int, v float32) {
	t.Data[(y*t.Width+x)*t.Channels+c] = v
}

// SameShape returns true if both tensors have identical dimensions
func (t *Tensor) SameShape(b *Tensor) bool {
	return t.Width == b.Width && t.Height == b.Height && t.Channels == b.Channels && len(t.Data) == len(b.Data)
}

// Classifier maps an image tensor to a vector of per-class scores, and is differentiable
// with respect to its input.
type Classifier interface {
	// Close releases the underlying runtime objects
	Close()

	// Predict runs a forward pass in inference mode, and returns one score per class.
	Predict(input *Tensor) ([]float32, error)

	// Gradient returns d(score[class]) / d(input), in the same layout as input.
	Gradient(input *Tensor, class int) (*Tensor, error)

	// Callers assume that the config remains constant for the lifetime of the classifier.
	Config() *ModelConfig
}

// DecisionPolicy is a trained policy (eg the Q network of a DQN agent), which maps an
// observation vector to a discrete action.
type DecisionPolicy interface {
	Close()

	// Act returns the deterministic (greedy) action for the observation
	Act(observation []float32) (int, error)

	Config() *PolicyConfig
}

// ModelConfig is saved in a JSON file along with the classifier's ONNX graph
type ModelConfig struct {
	Architecture  string   `json:"architecture"`  // eg "cnn"
	Width         int      `json:"width"`         // eg 150
	Height        int      `json:"height"`        // eg 150
	Channels      int      `json:"channels"`      // eg 3
	Classes       []string `json:"classes"`       // eg ["pneumonia"] for a single sigmoid output
	PositiveClass int      `json:"positiveClass"` // Index into Classes of the pneumonia probability

	// Tensor names inside the ONNX graph
	InputName          string `json:"inputName"`          // eg "input"
	OutputName         string `json:"outputName"`         // eg "probabilities"
	ClassInputName     string `json:"classInputName"`     // int64 [1] selecting the class to differentiate
	GradientOutputName string `json:"gradientOutputName"` // same shape as input
}

// PolicyConfig is saved in a JSON file along with the policy's ONNX graph
type PolicyConfig struct {
	ObservationSize int    `json:"observationSize"` // eg 1 (the classifier confidence)
	NumActions      int    `json:"numActions"`      // eg 2
	InputName       string `json:"inputName"`       // eg "obs"
	OutputName      string `json:"outputName"`      // eg "q_values"
}

var ErrInvalidConfig = errors.New("invalid model config")

// Fill in defaults and check that the config is usable
func (c *ModelConfig) Validate() error {
	if c.Channels == 0 {
		c.Channels = 3
	}
	if c.Channels != 3 {
		return fmt.Errorf("%w: images are fed to the network as RGB, so channels must be 3 (got %v)", ErrInvalidConfig, c.Channels)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: width and height must be positive (got %v x %v)", ErrInvalidConfig, c.Width, c.Height)
	}
	if len(c.Classes) == 0 {
		return fmt.Errorf("%w: no classes", ErrInvalidConfig)
	}
	if c.PositiveClass < 0 || c.PositiveClass >= len(c.Classes) {
		return fmt.Errorf("%w: positiveClass %v out of range", ErrInvalidConfig, c.PositiveClass)
	}
	if c.InputName == "" || c.OutputName == "" {
		return fmt.Errorf("%w: inputName and outputName are required", ErrInvalidConfig)
	}
	if c.ClassInputName == "" || c.GradientOutputName == "" {
		return fmt.Errorf("%w: classInputName and gradientOutputName are required for saliency", ErrInvalidConfig)
	}
	return nil
}

func (c *PolicyConfig) Validate() error {
	if c.ObservationSize <= 0 {
		c.ObservationSize = 1
	}
	if c.NumActions < 2 {
		return fmt.Errorf("%w: numActions must be at least 2 (got %v)", ErrInvalidConfig, c.NumActions)
	}
	if c.InputName == "" || c.OutputName == "" {
		return fmt.Errorf("%w: inputName and outputName are required", ErrInvalidConfig)
	}
	return nil
}

// Load classifier config from a JSON file
func LoadModelConfig(filename string) (*ModelConfig, error) {
	config := &ModelConfig{}
	if err := loadJSON(filename, config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", filename, err)
	}
	return config, nil
}

// Load policy config from a JSON file
func LoadPolicyConfig(filename string) (*PolicyConfig, error) {
	config := &PolicyConfig{}
	if err := loadJSON(filename, config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", filename, err)
	}
	return config, nil
}

func loadJSON(filename string, obj any) error {
	b, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, obj); err != nil {
		return fmt.Errorf("Failed to parse %v: %w", filename, err)
	}
	return nil
}

// Argmax returns the index of the largest value (the first, on ties), or -1 if v is empty
func Argmax(v []float32) int {
	if len(v) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
