// Package environment provides simulated environments for the collector.
package environment

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/boristopalov/envrunner/pkg/core"
)

// TruncatedKey is set in a step's Info when TimeLimit ended the episode
const TruncatedKey = "TimeLimit.truncated"

// TimeLimitEnv ends episodes of the wrapped environment after a fixed number
// of steps and declares that limit in its metadata
type TimeLimitEnv struct {
	env     core.Environment
	maxStep int
	elapsed int
}

func TimeLimit(env core.Environment, maxSteps int) *TimeLimitEnv {
	return &TimeLimitEnv{env: env, maxStep: maxSteps}
}

func (e *TimeLimitEnv) Metadata() core.Metadata {
	meta := e.env.Metadata()
	meta.MaxEpisodeSteps = e.maxStep
	return meta
}

func (e *TimeLimitEnv) Reset() (core.State, error) {
	e.elapsed = 0
	return e.env.Reset()
}

func (e *TimeLimitEnv) Step(action core.Action) (core.StepResult, error) {
	result, err := e.env.Step(action)
	if err != nil {
		return result, err
	}
	e.elapsed++
	if e.maxStep > 0 && e.elapsed >= e.maxStep && !result.Done {
		result.Done = true
		if result.Info == nil {
			result.Info = core.Info{}
		}
		result.Info[TruncatedKey] = true
	}
	return result, nil
}

// Render forwards to the wrapped environment, doing nothing if it cannot render
func (e *TimeLimitEnv) Render() error {
	if r, ok := e.env.(core.Renderer); ok {
		return r.Render()
	}
	return nil
}

// Unwrap returns the wrapped environment
func (e *TimeLimitEnv) Unwrap() core.Environment {
	return e.env
}

type factory func(rng *rand.Rand) core.Environment

var registry = map[string]factory{
	"CartPole-v0": func(rng *rand.Rand) core.Environment {
		return TimeLimit(NewCartPole(rng), 200)
	},
	"CartPole-v1": func(rng *rand.Rand) core.Environment {
		return TimeLimit(NewCartPole(rng), 500)
	},
	"CartPole": func(rng *rand.Rand) core.Environment {
		return NewCartPole(rng)
	},
}

// Make builds a registered environment. Names ending in a version carry a
// step limit; plain "CartPole" does not.
func Make(name string, rng *rand.Rand) (core.Environment, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown environment %q (available: %v)", name, Names())
	}
	return f(rng), nil
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
