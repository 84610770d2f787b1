// Package progress folds per-stage progress samples into one overall
// percentage that never moves backwards.
package progress

import (
	"fmt"
	"math"

	"conversion-job-service/internal/entity"
)

// StageWeight assigns a share of the overall progress to one stage.
type StageWeight struct {
	Stage  string
	Weight float64
}

// DefaultWeights reflects the expected relative cost of each stage.
func DefaultWeights() []StageWeight {
	return []StageWeight{
		{Stage: entity.StageFetchSource, Weight: 0.2},
		{Stage: entity.StageIngestAudio, Weight: 0.3},
		{Stage: entity.StageAssembleOutput, Weight: 0.5},
	}
}

// MatchStages reports an error unless weights name exactly stages, in the
// same order.
func MatchStages(weights []StageWeight, stages []string) error {
	if len(weights) != len(stages) {
		names := make([]string, len(weights))
		for i, w := range weights {
			names[i] = w.Stage
		}
		return fmt.Errorf("progress: weights cover stages %v, want %v", names, stages)
	}
	for i, w := range weights {
		if w.Stage != stages[i] {
			return fmt.Errorf("progress: weight %d is for stage %q, want %q", i, w.Stage, stages[i])
		}
	}
	return nil
}

// Aggregator is not safe for concurrent use; the owner of the job record
// serialises access to it.
type Aggregator struct {
	weights []StageWeight
	index   map[string]int
	floors  []float64 // cumulative weight of all stages before i

	current int
	stage   string
	emitted float64
}

// NewAggregator normalises weights so they sum to 1.0.
func NewAggregator(weights []StageWeight) (*Aggregator, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("progress: at least one stage weight is required")
	}

	var total float64
	index := make(map[string]int, len(weights))
	for i, w := range weights {
		if w.Stage == "" {
			return nil, fmt.Errorf("progress: stage %d has no name", i)
		}
		if w.Weight < 0 || math.IsNaN(w.Weight) || math.IsInf(w.Weight, 0) {
			return nil, fmt.Errorf("progress: invalid weight %v for stage %q", w.Weight, w.Stage)
		}
		if _, dup := index[w.Stage]; dup {
			return nil, fmt.Errorf("progress: duplicate stage %q", w.Stage)
		}
		index[w.Stage] = i
		total += w.Weight
	}
	if total <= 0 {
		return nil, fmt.Errorf("progress: stage weights sum to zero")
	}

	normalised := make([]StageWeight, len(weights))
	floors := make([]float64, len(weights))
	var acc float64
	for i, w := range weights {
		normalised[i] = StageWeight{Stage: w.Stage, Weight: w.Weight / total}
		floors[i] = acc
		acc += normalised[i].Weight
	}

	return &Aggregator{
		weights: normalised,
		index:   index,
		floors:  floors,
		current: -1,
	}, nil
}

// Begin marks stage as started; every earlier stage counts as complete.
func (a *Aggregator) Begin(stage string) (float64, string) {
	i, ok := a.index[stage]
	if !ok {
		return a.emitted, a.stage
	}
	if i > a.current {
		a.current = i
	}
	a.stage = stage
	a.emit(a.floors[i])
	return a.emitted, a.stage
}

// Observe folds one sample in and returns the overall percentage together
// with the stage label to display.
func (a *Aggregator) Observe(sample entity.StageProgressSample) (float64, string) {
	i, ok := a.index[sample.Stage]
	if !ok {
		return a.emitted, a.stage
	}
	if i > a.current {
		a.current = i
	}
	a.stage = sample.Stage

	a.emit(a.floors[i] + a.weights[i].Weight*clamp01(sample.Fraction))
	return a.emitted, a.stage
}

// Complete pins the overall progress to 100.
func (a *Aggregator) Complete() float64 {
	a.current = len(a.weights) - 1
	a.emitted = 100
	return a.emitted
}

// Overall returns the last emitted percentage.
func (a *Aggregator) Overall() float64 {
	return a.emitted
}

// Stage returns the label of the stage that reported last.
func (a *Aggregator) Stage() string {
	return a.stage
}

func (a *Aggregator) emit(fraction float64) {
	pct := math.Min(100, fraction*100)
	if pct > a.emitted {
		a.emitted = pct
	}
}

func clamp01(f float64) float64 {
	switch {
	case math.IsNaN(f) || f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
