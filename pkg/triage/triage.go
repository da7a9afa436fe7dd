// Package triage turns a classifier probability into a diagnosis label.
// When the classifier is not confident enough, the decision is handed to a
// reinforcement learning policy instead.
package triage

import (
	"errors"
	"fmt"

	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/pkg/nn"
)

const (
	ModelCNN    = "CNN Model"
	ModelPolicy = "Reinforcement Learning Model"
)

var ErrUnknownAction = errors.New("decision policy returned an unmapped action")

// Params control the triage decision.
// The zero value is not useful. Start from DefaultParams.
type Params struct {
	ConfidenceThreshold float64        `json:"confidenceThreshold"` // Percentage. Below this, the policy decides.
	PositiveLabel       string         `json:"positiveLabel"`
	NegativeLabel       string         `json:"negativeLabel"`
	ActionLabels        map[int]string `json:"actionLabels"` // Policy action -> label
}

func DefaultParams() Params {
	return Params{
		ConfidenceThreshold: 63,
		PositiveLabel:       "PNEUMONIA",
		NegativeLabel:       "NORMAL",
		ActionLabels: map[int]string{
			0: "Normal",
			1: "Pneumonia",
		},
	}
}

// Decision is the outcome of triage
type Decision struct {
	Label               string
	ModelUsed           string
	Confidence          float64 // max(PneumoniaPercentage, NormalPercentage)
	PneumoniaPercentage float64
	NormalPercentage    float64
	UsedPolicy          bool
	Action              int // Only valid if UsedPolicy
}

// Percentage formats a percentage with two decimals, eg "81.50"
func Percentage(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func (d *Decision) PneumoniaString() string {
	return Percentage(d.PneumoniaPercentage)
}

func (d *Decision) NormalString() string {
	return Percentage(d.NormalPercentage)
}

// Decide classifies a positive-class probability p.
// policy may only be nil if it is certain never to be consulted (ie threshold <= 50).
func Decide(p float64, policy nn.DecisionPolicy, params Params) (*Decision, error) {
	if p < 0 || p > 1 || p != p {
		return nil, fmt.Errorf("Probability %v is outside of [0,1]", p)
	}
	d := &Decision{
		PneumoniaPercentage: p * 100,
		NormalPercentage:    (1 - p) * 100,
	}
	d.Confidence = max(d.PneumoniaPercentage, d.NormalPercentage)

	if d.Confidence < params.ConfidenceThreshold {
		if policy == nil {
			return nil, fmt.Errorf("Confidence %.2f is below threshold, but no decision policy is loaded", d.Confidence)
		}
		action, err := policy.Act([]float32{float32(d.Confidence)})
		if err != nil {
			return nil, fmt.Errorf("Decision policy failed: %w", err)
		}
		label, ok := params.ActionLabels[action]
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrUnknownAction, action)
		}
		d.Label = label
		d.ModelUsed = ModelPolicy
		d.UsedPolicy = true
		d.Action = action
		return d, nil
	}

	if p >= 0.5 {
		d.Label = params.PositiveLabel
	} else {
		d.Label = params.NegativeLabel
	}
	d.ModelUsed = ModelCNN
	return d, nil
}
