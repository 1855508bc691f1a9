package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/boristopalov/envrunner/pkg/core"
	"github.com/joho/godotenv"
)

// Option names accepted by Resolve
const (
	BatchUpdate          = "batch_update"
	EpisodeMaxLength     = "episode_max_length"
	TimestepsPerBatch    = "timesteps_per_batch"
	TrajectoriesPerBatch = "trajectories_per_batch"
	NIter                = "n_iter"
	RepeatNActions       = "repeat_n_actions"
)

// batch_update values
const (
	ModeTimesteps    = "timesteps"
	ModeTrajectories = "trajectories"
)

// Options maps option names to values. Values may be ints, integral floats
// or decimal strings.
type Options map[string]any

// ConfigError reports a missing or invalid option
type ConfigError struct {
	Option string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Option, e.Reason)
}

// RunnerConfig is the resolved collector configuration. It is never mutated
// after Resolve returns.
type RunnerConfig struct {
	BatchStop            BatchStop
	EpisodeMaxLength     int
	TimestepsPerBatch    int
	TrajectoriesPerBatch int // 0 when not configured
	NIter                int
	RepeatNActions       int
	Extra                Options // unrecognized keys, passed through
}

// Defaults returns the default options for an environment
func Defaults(meta core.Metadata) Options {
	opts := Options{
		BatchUpdate:       ModeTimesteps,
		TimestepsPerBatch: 10000,
		NIter:             100,
		RepeatNActions:    1,
	}
	if meta.MaxEpisodeSteps > 0 {
		opts[EpisodeMaxLength] = meta.MaxEpisodeSteps
	}
	return opts
}

// Resolve merges overrides on top of the environment-derived defaults.
// Overrides win on key collision.
func Resolve(meta core.Metadata, overrides Options) (*RunnerConfig, error) {
	merged := Defaults(meta)
	for k, v := range overrides {
		merged[k] = v
	}

	cfg := &RunnerConfig{Extra: Options{}}
	for k, v := range merged {
		if !known(k) {
			cfg.Extra[k] = v
		}
	}

	var err error
	if cfg.EpisodeMaxLength, err = requirePositive(merged, EpisodeMaxLength,
		"no override given and the environment declares no step limit"); err != nil {
		return nil, err
	}
	if cfg.RepeatNActions, err = requirePositive(merged, RepeatNActions, "missing"); err != nil {
		return nil, err
	}
	if cfg.NIter, _, err = lookupInt(merged, NIter); err != nil {
		return nil, err
	}
	if cfg.TimestepsPerBatch, _, err = lookupInt(merged, TimestepsPerBatch); err != nil {
		return nil, err
	}
	if cfg.TrajectoriesPerBatch, _, err = lookupInt(merged, TrajectoriesPerBatch); err != nil {
		return nil, err
	}

	mode, ok := merged[BatchUpdate].(string)
	if !ok {
		return nil, &ConfigError{Option: BatchUpdate, Reason: fmt.Sprintf("expected a string, got %T", merged[BatchUpdate])}
	}
	switch mode {
	case ModeTimesteps:
		if cfg.TimestepsPerBatch <= 0 {
			return nil, &ConfigError{Option: TimestepsPerBatch, Reason: "must be positive"}
		}
		cfg.BatchStop = Timesteps{Limit: cfg.TimestepsPerBatch}
	case ModeTrajectories:
		if cfg.TrajectoriesPerBatch, err = requirePositive(merged, TrajectoriesPerBatch,
			"required when batch_update is \"trajectories\""); err != nil {
			return nil, err
		}
		cfg.BatchStop = TrajectoryCount{Limit: cfg.TrajectoriesPerBatch}
	default:
		return nil, &ConfigError{Option: BatchUpdate, Reason: fmt.Sprintf("unknown mode %q", mode)}
	}

	return cfg, nil
}

// LoadOverrides reads options from a .env-format file. Keys are lower-cased
// so EPISODE_MAX_LENGTH and episode_max_length are the same option.
func LoadOverrides(path string) (Options, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read overrides from %s: %w", path, err)
	}
	opts := make(Options, len(values))
	for k, v := range values {
		opts[strings.ToLower(k)] = v
	}
	return opts, nil
}

func known(key string) bool {
	switch key {
	case BatchUpdate, EpisodeMaxLength, TimestepsPerBatch, TrajectoriesPerBatch, NIter, RepeatNActions:
		return true
	}
	return false
}

func requirePositive(opts Options, key string, missing string) (int, error) {
	n, ok, err := lookupInt(opts, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, &ConfigError{Option: key, Reason: missing}
	}
	if n <= 0 {
		return 0, &ConfigError{Option: key, Reason: fmt.Sprintf("must be positive, got %d", n)}
	}
	return n, nil
}

// lookupInt reports whether key is present with a non-nil value
func lookupInt(opts Options, key string) (int, bool, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	n, err := toInt(v)
	if err != nil {
		return 0, false, &ConfigError{Option: key, Reason: err.Error()}
	}
	return n, true, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint:
		return int(n), nil
	case uint32:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", n)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("expected an integer, got %T", v)
	}
}

func floatToInt(f float64) (int, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not an integer: %v", f)
	}
	return int(f), nil
}

// ExperimentConfig describes a run of repeated batch collections
type ExperimentConfig struct {
	Name      string
	NIter     int
	StatsPath string // CSV output, empty to disable
}
