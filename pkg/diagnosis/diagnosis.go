package diagnosis

import (
	"fmt"
	"image"
	"time"

	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/pkg/nn"
	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/pkg/saliency"
	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/pkg/triage"
	"github.com/cyclopcam/logs"
)

// Analyzer runs the full per-image pipeline.
// It holds no per-request state, so a single Analyzer can be shared by many goroutines,
// provided the Classifier and Policy are themselves safe for concurrent use.
type Analyzer struct {
	Log        logs.Log
	Classifier nn.Classifier
	Policy     nn.DecisionPolicy
	Triage     triage.Params
	Colormap   *saliency.Colormap
	Alpha      float64

	Timings Timings
}

// Result of analyzing one image
type Result struct {
	Probability float64 // Classifier probability of the positive class
	Decision    *triage.Decision
	Map         *saliency.Map
	Original    *image.RGBA // Input image, resized to the network resolution
	Overlay     *image.RGBA // Saliency overlay, same size as Original
}

func NewAnalyzer(log logs.Log, classifier nn.Classifier, policy nn.DecisionPolicy) *Analyzer {
	return &Analyzer{
		Log:        log,
		Classifier: classifier,
		Policy:     policy,
		Triage:     triage.DefaultParams(),
		Colormap:   saliency.DefaultColormap(),
		Alpha:      saliency.DefaultAlpha,
	}
}

// Analyze classifies img, and produces its saliency overlay
func (a *Analyzer) Analyze(img image.Image) (*Result, error) {
	start := time.Now()
	cfg := a.Classifier.Config()
	original, input := nn.PrepareImage(img, cfg.Width, cfg.Height)

	scores, err := a.Classifier.Predict(input)
	if err != nil {
		return nil, fmt.Errorf("Classifier failed: %w", err)
	}
	if cfg.PositiveClass >= len(scores) {
		return nil, fmt.Errorf("Classifier returned %v scores, but positive class is %v", len(scores), cfg.PositiveClass)
	}
	p := float64(scores[cfg.PositiveClass])

	decision, err := triage.Decide(p, a.Policy, a.Triage)
	if err != nil {
		return nil, err
	}

	tClassify := time.Now()

	smap, err := saliency.ComputeFromScores(a.Classifier, input, scores)
	if err != nil {
		return nil, fmt.Errorf("Saliency failed: %w", err)
	}
	if smap.Degenerate {
		a.Log.Warnf("Saliency map is degenerate (zero gradient). Overlay will carry no signal")
	}

	tSaliency := time.Now()

	overlay, err := saliency.Overlay(smap, original, a.Colormap, a.Alpha)
	if err != nil {
		return nil, err
	}

	tRender := time.Now()
	a.Timings.record(tClassify.Sub(start), tSaliency.Sub(tClassify), tRender.Sub(tSaliency))

	a.Log.Infof("Diagnosis: %v (p = %.4f, confidence %.2f, %v)", decision.Label, p, decision.Confidence, decision.ModelUsed)

	return &Result{
		Probability: p,
		Decision:    decision,
		Map:         smap,
		Original:    original,
		Overlay:     overlay,
	}, nil
}
