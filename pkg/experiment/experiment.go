// Package experiment repeats batch collection for a fixed number of
// iterations and reports per-iteration statistics.
package experiment

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/boristopalov/envrunner/pkg/config"
	"github.com/boristopalov/envrunner/pkg/core"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// BatchCollector produces one batch of trajectories per call
type BatchCollector interface {
	GetTrajectories() ([]core.Trajectory, error)
}

// BatchHandler receives every batch after its statistics are recorded.
// This is where a learner updates its policy.
type BatchHandler func(iteration int, batch []core.Trajectory) error

type Experiment struct {
	name      string
	collector BatchCollector
	nIter     int
	handler   BatchHandler
	logger    zerolog.Logger

	statsOut  io.Writer
	statsFile *os.File

	mu      sync.RWMutex
	status  core.ExperimentStatus
	history []IterationStats
}

type ExperimentOption func(*Experiment)

// WithStatsWriter writes CSV statistics to w. It takes precedence over
// ExperimentConfig.StatsPath.
func WithStatsWriter(w io.Writer) ExperimentOption {
	return func(e *Experiment) {
		e.statsOut = w
	}
}

func WithBatchHandler(h BatchHandler) ExperimentOption {
	return func(e *Experiment) {
		e.handler = h
	}
}

func WithLogger(logger zerolog.Logger) ExperimentOption {
	return func(e *Experiment) {
		e.logger = logger
	}
}

func NewExperiment(cfg *config.ExperimentConfig, collector BatchCollector, opts ...ExperimentOption) (*Experiment, error) {
	if cfg.NIter <= 0 {
		return nil, &config.ConfigError{Option: config.NIter, Reason: fmt.Sprintf("must be positive, got %d", cfg.NIter)}
	}

	e := &Experiment{
		name:      cfg.Name,
		collector: collector,
		nIter:     cfg.NIter,
		logger:    log.Logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("component", "experiment").Str("experiment", e.name).Logger()

	if e.statsOut == nil && cfg.StatsPath != "" {
		f, err := os.Create(cfg.StatsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create stats file: %w", err)
		}
		e.statsFile = f
		e.statsOut = f
	}
	return e, nil
}

// Run collects nIter batches. The context is checked between batches; a
// batch in progress always completes.
func (e *Experiment) Run(ctx context.Context) (err error) {
	e.mu.Lock()
	e.status.Running = true
	e.status.StartTime = time.Now()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.status.Running = false
		e.status.EndTime = time.Now()
		e.mu.Unlock()
		if e.statsFile != nil {
			err = errors.Join(err, e.statsFile.Close())
			e.statsFile = nil
		}
	}()

	var w *csv.Writer
	if e.statsOut != nil {
		w = csv.NewWriter(e.statsOut)
		if err := w.Write(statsHeader); err != nil {
			return fmt.Errorf("failed to write stats header: %w", err)
		}
	}

	for iter := 1; iter <= e.nIter; iter++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := e.collector.GetTrajectories()
		if err != nil {
			return fmt.Errorf("iteration %d: %w", iter, err)
		}

		stats := ComputeStats(iter, batch)
		e.mu.Lock()
		e.status.Iteration = iter
		e.history = append(e.history, stats)
		e.mu.Unlock()

		e.logger.Info().
			Int("iteration", iter).
			Int("trajectories", stats.Trajectories).
			Int("timesteps", stats.Timesteps).
			Float64("mean_reward", stats.MeanReward).
			Float64("std_reward", stats.StdReward).
			Float64("mean_length", stats.MeanLength).
			Float64("terminal_rate", stats.TerminalRate).
			Msg("Iteration complete")

		if w != nil {
			if err := w.Write(stats.record()); err != nil {
				return fmt.Errorf("failed to write stats: %w", err)
			}
			w.Flush()
			if err := w.Error(); err != nil {
				return fmt.Errorf("failed to write stats: %w", err)
			}
		}

		if e.handler != nil {
			if err := e.handler(iter, batch); err != nil {
				return fmt.Errorf("iteration %d: batch handler: %w", iter, err)
			}
		}
	}
	return nil
}

// Close releases the stats file of an experiment that was never run
func (e *Experiment) Close() error {
	if e.statsFile == nil {
		return nil
	}
	err := e.statsFile.Close()
	e.statsFile = nil
	return err
}

func (e *Experiment) Status() core.ExperimentStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// History returns the statistics of every completed iteration
func (e *Experiment) History() []IterationStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	history := make([]IterationStats, len(e.history))
	copy(history, e.history)
	return history
}
