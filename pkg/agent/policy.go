// Package agent implements policies that choose actions for the collector.
package agent

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/boristopalov/envrunner/pkg/core"
)

// RandomPolicy picks actions uniformly at random
type RandomPolicy struct {
	actionCount int
	rng         *rand.Rand
}

func NewRandomPolicy(actionCount int, rng *rand.Rand) *RandomPolicy {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &RandomPolicy{actionCount: actionCount, rng: rng}
}

func (p *RandomPolicy) ChooseAction(core.State) (core.Action, error) {
	if p.actionCount < 1 {
		return 0, fmt.Errorf("random policy: no actions to choose from")
	}
	return core.Action(p.rng.Intn(p.actionCount)), nil
}

// PolicyWeights parameterize a LinearPolicy
type PolicyWeights struct {
	W [][]float64 `json:"w"` // shape: [actions][observation]
	B []float64   `json:"b"` // shape: [actions]
}

// DefaultWeights returns small weights that slightly favour the last action
// as the observation grows, and the first as it shrinks
func DefaultWeights(meta core.Metadata) PolicyWeights {
	w := make([][]float64, meta.ActionCount)
	for i := range w {
		w[i] = make([]float64, meta.ObservationDim)
		sign := -1.0
		if i == meta.ActionCount-1 {
			sign = 1.0
		}
		for j := range w[i] {
			w[i][j] = sign * 0.01
		}
	}
	return PolicyWeights{W: w, B: make([]float64, meta.ActionCount)}
}

// LinearPolicy samples from a softmax over W·state + B
type LinearPolicy struct {
	weights PolicyWeights
	rng     *rand.Rand
}

func NewLinearPolicy(weights PolicyWeights, rng *rand.Rand) (*LinearPolicy, error) {
	if len(weights.W) == 0 || len(weights.W) != len(weights.B) {
		return nil, fmt.Errorf("linear policy: %d weight rows and %d biases", len(weights.W), len(weights.B))
	}
	for i, row := range weights.W {
		if len(row) != len(weights.W[0]) {
			return nil, fmt.Errorf("linear policy: weight row %d has length %d, want %d", i, len(row), len(weights.W[0]))
		}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &LinearPolicy{weights: weights, rng: rng}, nil
}

// Probabilities returns the action distribution for a state
func (p *LinearPolicy) Probabilities(state core.State) ([]float64, error) {
	if len(state) != len(p.weights.W[0]) {
		return nil, fmt.Errorf("linear policy: observation has %d values, want %d", len(state), len(p.weights.W[0]))
	}
	logits := make([]float64, len(p.weights.W))
	for i, row := range p.weights.W {
		logits[i] = p.weights.B[i]
		for j, w := range row {
			logits[i] += w * state[j]
		}
	}
	return softmax(logits), nil
}

func (p *LinearPolicy) ChooseAction(state core.State) (core.Action, error) {
	probs, err := p.Probabilities(state)
	if err != nil {
		return 0, err
	}
	return core.Action(sampleCategorical(probs, p.rng)), nil
}

func softmax(logits []float64) []float64 {
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	values := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		values[i] = math.Exp(v - maxLogit)
		sum += values[i]
	}
	for i := range values {
		values[i] /= sum
	}
	return values
}

func sampleCategorical(probs []float64, rng *rand.Rand) int {
	threshold := rng.Float64()
	var cumulative float64
	for i, prob := range probs {
		cumulative += prob
		if threshold <= cumulative {
			return i
		}
	}
	return len(probs) - 1
}
