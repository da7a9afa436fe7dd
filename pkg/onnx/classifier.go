package onnx

import (
	"fmt"
	"slices"
	"sync"

	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/pkg/nn"
	ort "github.com/yalue/onnxruntime_go"
)

// Classifier is an nn.Classifier backed by an ONNX graph.
//
// The graph must have two inputs:
//   - the NHWC float32 image [1,H,W,C]
//   - an int64 class index [1]
//
// and two outputs:
//   - per-class scores [1,K]
//   - the gradient of scores[class index] with respect to the image [1,H,W,C]
//
// Such a graph is produced by exporting a tf.function that wraps the Keras model
// in a GradientTape.
type Classifier struct {
	config *nn.ModelConfig

	lock       sync.Mutex
	session    *ort.AdvancedSession
	input      *ort.Tensor[float32]
	classIndex *ort.Tensor[int64]
	scores     *ort.Tensor[float32]
	gradient   *ort.Tensor[float32]

	// The outputs are valid for this class index, and the image currently in 'input'
	haveOutputs bool
	lastClass   int
}

// LoadClassifier loads an ONNX classifier and its JSON config.
// Initialize must have been called first.
func LoadClassifier(modelFile, configFile string) (*Classifier, error) {
	config, err := nn.LoadModelConfig(configFile)
	if err != nil {
		return nil, err
	}
	return NewClassifier(modelFile, config)
}

func NewClassifier(modelFile string, config *nn.ModelConfig) (*Classifier, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	c := &Classifier{
		config: config,
	}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	var err error
	imageShape := ort.NewShape(1, int64(config.Height), int64(config.Width), int64(config.Channels))
	if c.input, err = ort.NewEmptyTensor[float32](imageShape); err != nil {
		return nil, fmt.Errorf("Failed to create input tensor: %w", err)
	}
	if c.classIndex, err = ort.NewEmptyTensor[int64](ort.NewShape(1)); err != nil {
		return nil, fmt.Errorf("Failed to create class index tensor: %w", err)
	}
	if c.scores, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(config.Classes)))); err != nil {
		return nil, fmt.Errorf("Failed to create output tensor: %w", err)
	}
	if c.gradient, err = ort.NewEmptyTensor[float32](imageShape); err != nil {
		return nil, fmt.Errorf("Failed to create gradient tensor: %w", err)
	}

	c.session, err = ort.NewAdvancedSession(modelFile,
		[]string{config.InputName, config.ClassInputName},
		[]string{config.OutputName, config.GradientOutputName},
		[]ort.ArbitraryTensor{c.input, c.classIndex},
		[]ort.ArbitraryTensor{c.scores, c.gradient},
		nil)
	if err != nil {
		return nil, fmt.Errorf("Failed to create ONNX session for %v: %w", modelFile, err)
	}
	ok = true
	return c, nil
}

func (c *Classifier) Close() {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.session != nil {
		c.session.Destroy()
		c.session = nil
	}
	if c.input != nil {
		c.input.Destroy()
		c.input = nil
	}
	if c.classIndex != nil {
		c.classIndex.Destroy()
		c.classIndex = nil
	}
	if c.scores != nil {
		c.scores.Destroy()
		c.scores = nil
	}
	if c.gradient != nil {
		c.gradient.Destroy()
		c.gradient = nil
	}
}

func (c *Classifier) Config() *nn.ModelConfig {
	return c.config
}

func (c *Classifier) Predict(input *nn.Tensor) ([]float32, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.run(input, c.config.PositiveClass); err != nil {
		return nil, err
	}
	out := c.scores.GetData()
	scores := make([]float32, len(out))
	copy(scores, out)
	return scores, nil
}

func (c *Classifier) Gradient(input *nn.Tensor, class int) (*nn.Tensor, error) {
	if class < 0 || class >= len(c.config.Classes) {
		return nil, fmt.Errorf("Class index %v out of range", class)
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.run(input, class); err != nil {
		return nil, err
	}
	grad := nn.NewTensor(input.Width, input.Height, input.Channels)
	copy(grad.Data, c.gradient.GetData())
	return grad, nil
}

// Caller must hold the lock
func (c *Classifier) run(input *nn.Tensor, class int) error {
	if c.session == nil {
		return fmt.Errorf("Classifier is closed")
	}
	if input.Width != c.config.Width || input.Height != c.config.Height || input.Channels != c.config.Channels {
		return fmt.Errorf("Input tensor is %vx%vx%v, but model expects %vx%vx%v",
			input.Width, input.Height, input.Channels, c.config.Width, c.config.Height, c.config.Channels)
	}
	// The graph produces scores and gradient together, so a Gradient call that follows
	// Predict on the same image and class doesn't need to run again.
	if c.haveOutputs && c.lastClass == class && slices.Equal(c.input.GetData(), input.Data) {
		return nil
	}
	c.haveOutputs = false
	copy(c.input.GetData(), input.Data)
	c.classIndex.GetData()[0] = int64(class)
	if err := c.session.Run(); err != nil {
		return fmt.Errorf("Inference failed: %w", err)
	}
	c.haveOutputs = true
	c.lastClass = class
	return nil
}
