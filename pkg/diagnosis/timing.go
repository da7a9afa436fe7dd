package diagnosis

import (
	"sync"
	"time"
)

// stageTime accumulates how long one pipeline stage took
type stageTime struct {
	samples int64
	total   time.Duration
}

func (a *stageTime) add(v time.Duration) {
	a.samples++
	a.total += v
}

func (a *stageTime) average() time.Duration {
	if a.samples == 0 {
		return 0
	}
	return time.Duration(a.total.Nanoseconds() / a.samples)
}

// Timings are running averages of the pipeline stages, over all analyzed images
type Timings struct {
	lock     sync.Mutex
	classify stageTime // Preprocess, classify, and triage
	saliency stageTime // Gradient
	render   stageTime // Colormap and overlay
}

// TimingSummary is a snapshot of Timings, in milliseconds
type TimingSummary struct {
	Analyses   int64   `json:"analyses"`
	ClassifyMS float64 `json:"classify_ms"`
	SaliencyMS float64 `json:"saliency_ms"`
	RenderMS   float64 `json:"render_ms"`
}

func (t *Timings) record(classify, saliency, render time.Duration) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.classify.add(classify)
	t.saliency.add(saliency)
	t.render.add(render)
}

func (t *Timings) Summary() TimingSummary {
	t.lock.Lock()
	defer t.lock.Unlock()
	ms := func(d time.Duration) float64 {
		return float64(d.Microseconds()) / 1000
	}
	return TimingSummary{
		Analyses:   t.classify.samples,
		ClassifyMS: ms(t.classify.average()),
		SaliencyMS: ms(t.saliency.average()),
		RenderMS:   ms(t.render.average()),
	}
}
