package experiment

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/boristopalov/envrunner/pkg/config"
	"github.com/boristopalov/envrunner/pkg/core"
	"github.com/rs/zerolog"
)

// fixedCollector returns trajectories with the given lengths, each step
// rewarded with 1
type fixedCollector struct {
	lengths []int
	calls   int
	err     error
}

func (c *fixedCollector) GetTrajectories() ([]core.Trajectory, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	batch := make([]core.Trajectory, len(c.lengths))
	for i, n := range c.lengths {
		rewards := make([]float64, n)
		for j := range rewards {
			rewards[j] = 1
		}
		batch[i] = core.Trajectory{
			States:  make([]core.State, n),
			Actions: make([]core.Action, n),
			Rewards: rewards,
			Steps:   n,
			Done:    n < 10,
		}
	}
	return batch, nil
}

func TestComputeStats(t *testing.T) {
	collector := &fixedCollector{lengths: []int{2, 4, 6, 10}}
	batch, _ := collector.GetTrajectories()

	stats := ComputeStats(3, batch)
	if stats.Iteration != 3 || stats.Trajectories != 4 || stats.Timesteps != 22 {
		t.Errorf("unexpected counts: %+v", stats)
	}
	if stats.MeanReward != 5.5 || stats.MeanLength != 5.5 {
		t.Errorf("mean reward = %v, mean length = %v, want 5.5", stats.MeanReward, stats.MeanLength)
	}
	if want := math.Sqrt(8.75); math.Abs(stats.StdReward-want) > 1e-9 {
		t.Errorf("std reward = %v, want %v", stats.StdReward, want)
	}
	if stats.MinReward != 2 || stats.MaxReward != 10 {
		t.Errorf("min/max reward = %v/%v, want 2/10", stats.MinReward, stats.MaxReward)
	}
	if stats.TerminalRate != 0.75 {
		t.Errorf("terminal rate = %v, want 0.75", stats.TerminalRate)
	}

	if empty := ComputeStats(1, nil); empty.Trajectories != 0 || empty.Timesteps != 0 {
		t.Errorf("unexpected stats for empty batch: %+v", empty)
	}
}

func TestExperiment(t *testing.T) {
	t.Run("runs every iteration", func(t *testing.T) {
		collector := &fixedCollector{lengths: []int{3, 5}}
		var out bytes.Buffer
		var handled []int

		exp, err := NewExperiment(&config.ExperimentConfig{Name: "test", NIter: 4}, collector,
			WithStatsWriter(&out),
			WithLogger(zerolog.Nop()),
			WithBatchHandler(func(iter int, batch []core.Trajectory) error {
				handled = append(handled, iter)
				if len(batch) != 2 {
					t.Errorf("iteration %d got %d trajectories", iter, len(batch))
				}
				return nil
			}),
		)
		if err != nil {
			t.Fatalf("NewExperiment() error: %v", err)
		}

		if err := exp.Run(context.Background()); err != nil {
			t.Fatalf("Run() error: %v", err)
		}
		if collector.calls != 4 || len(handled) != 4 {
			t.Errorf("collector called %d times, handler %d times, want 4", collector.calls, len(handled))
		}

		rows, err := csv.NewReader(&out).ReadAll()
		if err != nil {
			t.Fatalf("failed to read stats CSV: %v", err)
		}
		if len(rows) != 5 {
			t.Fatalf("stats CSV has %d rows, want header + 4", len(rows))
		}
		if rows[0][0] != "iteration" || rows[4][0] != "4" || rows[4][2] != "8" {
			t.Errorf("unexpected CSV content: %v", rows)
		}

		status := exp.Status()
		if status.Running || status.Iteration != 4 || status.EndTime.Before(status.StartTime) {
			t.Errorf("unexpected status after run: %+v", status)
		}
		if len(exp.History()) != 4 {
			t.Errorf("History() has %d entries, want 4", len(exp.History()))
		}
	})

	t.Run("collector error stops the run", func(t *testing.T) {
		collectErr := errors.New("environment crashed")
		collector := &fixedCollector{err: collectErr}
		exp, err := NewExperiment(&config.ExperimentConfig{NIter: 3}, collector, WithLogger(zerolog.Nop()))
		if err != nil {
			t.Fatalf("NewExperiment() error: %v", err)
		}
		if err := exp.Run(context.Background()); !errors.Is(err, collectErr) {
			t.Errorf("Run() error = %v, want wrapping %v", err, collectErr)
		}
		if collector.calls != 1 {
			t.Errorf("collector called %d times, want 1", collector.calls)
		}
	})

	t.Run("handler error stops the run", func(t *testing.T) {
		handlerErr := errors.New("update failed")
		exp, err := NewExperiment(&config.ExperimentConfig{NIter: 3}, &fixedCollector{lengths: []int{1}},
			WithLogger(zerolog.Nop()),
			WithBatchHandler(func(int, []core.Trajectory) error { return handlerErr }),
		)
		if err != nil {
			t.Fatalf("NewExperiment() error: %v", err)
		}
		if err := exp.Run(context.Background()); !errors.Is(err, handlerErr) {
			t.Errorf("Run() error = %v, want wrapping %v", err, handlerErr)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		collector := &fixedCollector{lengths: []int{1}}
		exp, err := NewExperiment(&config.ExperimentConfig{NIter: 3}, collector, WithLogger(zerolog.Nop()))
		if err != nil {
			t.Fatalf("NewExperiment() error: %v", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := exp.Run(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
		if collector.calls != 0 {
			t.Errorf("collector called %d times after cancel", collector.calls)
		}
	})

	t.Run("stats file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "stats.csv")
		exp, err := NewExperiment(&config.ExperimentConfig{NIter: 2, StatsPath: path}, &fixedCollector{lengths: []int{2}},
			WithLogger(zerolog.Nop()))
		if err != nil {
			t.Fatalf("NewExperiment() error: %v", err)
		}
		if err := exp.Run(context.Background()); err != nil {
			t.Fatalf("Run() error: %v", err)
		}
		f, err := os.Open(path)
		if err != nil {
			t.Fatalf("failed to open stats file: %v", err)
		}
		defer f.Close()
		rows, err := csv.NewReader(f).ReadAll()
		if err != nil {
			t.Fatalf("failed to read stats file: %v", err)
		}
		if len(rows) != 3 {
			t.Errorf("stats file has %d rows, want 3", len(rows))
		}
	})

	t.Run("invalid iterations", func(t *testing.T) {
		_, err := NewExperiment(&config.ExperimentConfig{NIter: 0}, &fixedCollector{})
		var cfgErr *config.ConfigError
		if !errors.As(err, &cfgErr) {
			t.Errorf("NewExperiment() error = %v, want *config.ConfigError", err)
		}
	})
}
