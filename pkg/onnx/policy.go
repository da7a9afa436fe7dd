package onnx

import (
	"fmt"
	"sync"

	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/pkg/nn"
	ort "github.com/yalue/onnxruntime_go"
)

// Policy is an nn.DecisionPolicy backed by the Q network of a DQN agent, exported to ONNX.
// Input is the observation [1,N], output is the Q value of each action [1,A].
// The greedy action is the one with the highest Q value.
type Policy struct {
	config *nn.PolicyConfig

	lock        sync.Mutex
	session     *ort.AdvancedSession
	observation *ort.Tensor[float32]
	qValues     *ort.Tensor[float32]
}

func LoadPolicy(modelFile, configFile string) (*Policy, error) {
	config, err := nn.LoadPolicyConfig(configFile)
	if err != nil {
		return nil, err
	}
	return NewPolicy(modelFile, config)
}

func NewPolicy(modelFile string, config *nn.PolicyConfig) (*Policy, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	p := &Policy{
		config: config,
	}
	ok := false
	defer func() {
		if !ok {
			p.Close()
		}
	}()

	var err error
	if p.observation, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(config.ObservationSize))); err != nil {
		return nil, fmt.Errorf("Failed to create observation tensor: %w", err)
	}
	if p.qValues, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(config.NumActions))); err != nil {
		return nil, fmt.Errorf("Failed to create Q value tensor: %w", err)
	}
	p.session, err = ort.NewAdvancedSession(modelFile,
		[]string{config.InputName}, []string{config.OutputName},
		[]ort.ArbitraryTensor{p.observation}, []ort.ArbitraryTensor{p.qValues},
		nil)
	if err != nil {
		return nil, fmt.Errorf("Failed to create ONNX session for %v: %w", modelFile, err)
	}
	ok = true
	return p, nil
}

func (p *Policy) Close() {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.session != nil {
		p.session.Destroy()
		p.session = nil
	}
	if p.observation != nil {
		p.observation.Destroy()
		p.observation = nil
	}
	if p.qValues != nil {
		p.qValues.Destroy()
		p.qValues = nil
	}
}

func (p *Policy) Config() *nn.PolicyConfig {
	return p.config
}

func (p *Policy) Act(observation []float32) (int, error) {
	if len(observation) != p.config.ObservationSize {
		return 0, fmt.Errorf("Observation has %v values, but policy expects %v", len(observation), p.config.ObservationSize)
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.session == nil {
		return 0, fmt.Errorf("Policy is closed")
	}
	copy(p.observation.GetData(), observation)
	if err := p.session.Run(); err != nil {
		return 0, fmt.Errorf("Policy inference failed: %w", err)
	}
	return nn.Argmax(p.qValues.GetData()), nil
}
