package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/boristopalov/envrunner/pkg/core"
	"github.com/google/go-cmp/cmp"
)

func TestResolve(t *testing.T) {
	meta := core.Metadata{ObservationDim: 4, ActionCount: 2, MaxEpisodeSteps: 200}

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Resolve(meta, nil)
		if err != nil {
			t.Fatalf("Resolve() error: %v", err)
		}
		want := &RunnerConfig{
			BatchStop:         Timesteps{Limit: 10000},
			EpisodeMaxLength:  200,
			TimestepsPerBatch: 10000,
			NIter:             100,
			RepeatNActions:    1,
			Extra:             Options{},
		}
		if diff := cmp.Diff(want, cfg); diff != "" {
			t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("overrides win", func(t *testing.T) {
		cfg, err := Resolve(meta, Options{
			EpisodeMaxLength:  50,
			RepeatNActions:    3,
			TimestepsPerBatch: 500,
			"learning_rate":   0.01,
		})
		if err != nil {
			t.Fatalf("Resolve() error: %v", err)
		}
		if cfg.EpisodeMaxLength != 50 {
			t.Errorf("EpisodeMaxLength = %d, want 50", cfg.EpisodeMaxLength)
		}
		if cfg.RepeatNActions != 3 {
			t.Errorf("RepeatNActions = %d, want 3", cfg.RepeatNActions)
		}
		if cfg.BatchStop != (Timesteps{Limit: 500}) {
			t.Errorf("BatchStop = %#v, want Timesteps{500}", cfg.BatchStop)
		}
		if got := cfg.Extra["learning_rate"]; got != 0.01 {
			t.Errorf("Extra[learning_rate] = %v, want 0.01", got)
		}
	})

	t.Run("string and float values", func(t *testing.T) {
		cfg, err := Resolve(meta, Options{
			BatchUpdate:          ModeTrajectories,
			TrajectoriesPerBatch: "7",
			EpisodeMaxLength:     float64(25),
		})
		if err != nil {
			t.Fatalf("Resolve() error: %v", err)
		}
		if cfg.BatchStop != (TrajectoryCount{Limit: 7}) {
			t.Errorf("BatchStop = %#v, want TrajectoryCount{7}", cfg.BatchStop)
		}
		if cfg.EpisodeMaxLength != 25 {
			t.Errorf("EpisodeMaxLength = %d, want 25", cfg.EpisodeMaxLength)
		}
	})

	t.Run("episode length falls back to metadata", func(t *testing.T) {
		cfg, err := Resolve(meta, Options{TimestepsPerBatch: 10})
		if err != nil {
			t.Fatalf("Resolve() error: %v", err)
		}
		if cfg.EpisodeMaxLength != 200 {
			t.Errorf("EpisodeMaxLength = %d, want 200", cfg.EpisodeMaxLength)
		}
	})

	errCases := []struct {
		name      string
		meta      core.Metadata
		overrides Options
		option    string
	}{
		{"no episode length anywhere", core.Metadata{ActionCount: 2}, nil, EpisodeMaxLength},
		{"trajectories mode without budget", meta, Options{BatchUpdate: ModeTrajectories}, TrajectoriesPerBatch},
		{"unknown mode", meta, Options{BatchUpdate: "episodes"}, BatchUpdate},
		{"mode not a string", meta, Options{BatchUpdate: 3}, BatchUpdate},
		{"zero repeat", meta, Options{RepeatNActions: 0}, RepeatNActions},
		{"fractional length", meta, Options{EpisodeMaxLength: 2.5}, EpisodeMaxLength},
		{"garbage string", meta, Options{TimestepsPerBatch: "lots"}, TimestepsPerBatch},
		{"zero timestep budget", meta, Options{TimestepsPerBatch: 0}, TimestepsPerBatch},
	}
	for _, tc := range errCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Resolve(tc.meta, tc.overrides)
			if err == nil {
				t.Fatalf("Resolve() = %+v, want error", cfg)
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("error %v is not a *ConfigError", err)
			}
			if cfgErr.Option != tc.option {
				t.Errorf("ConfigError.Option = %q, want %q", cfgErr.Option, tc.option)
			}
		})
	}
}

func TestBatchStop(t *testing.T) {
	ts := Timesteps{Limit: 50}
	if ts.Done(100, 49) {
		t.Error("Timesteps{50}.Done(_, 49) = true, want false")
	}
	if !ts.Done(0, 50) {
		t.Error("Timesteps{50}.Done(_, 50) = false, want true")
	}

	tc := TrajectoryCount{Limit: 7}
	if tc.Done(6, 1000) {
		t.Error("TrajectoryCount{7}.Done(6, _) = true, want false")
	}
	if !tc.Done(7, 0) {
		t.Error("TrajectoryCount{7}.Done(7, _) = false, want true")
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runner.env")
	content := "BATCH_UPDATE=trajectories\nTRAJECTORIES_PER_BATCH=3\nepisode_max_length=40\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write overrides file: %v", err)
	}

	opts, err := LoadOverrides(path)
	if err != nil {
		t.Fatalf("LoadOverrides() error: %v", err)
	}
	want := Options{
		BatchUpdate:          "trajectories",
		TrajectoriesPerBatch: "3",
		EpisodeMaxLength:     "40",
	}
	if diff := cmp.Diff(want, opts); diff != "" {
		t.Errorf("LoadOverrides() mismatch (-want +got):\n%s", diff)
	}

	cfg, err := Resolve(core.Metadata{}, opts)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if cfg.BatchStop != (TrajectoryCount{Limit: 3}) || cfg.EpisodeMaxLength != 40 {
		t.Errorf("unexpected config from file: %+v", cfg)
	}

	if _, err := LoadOverrides(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("expected error for missing file, got nil")
	}
}
