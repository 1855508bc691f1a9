package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/boristopalov/envrunner/internal/client"
	"github.com/boristopalov/envrunner/pkg/agent"
	"github.com/boristopalov/envrunner/pkg/collector"
	"github.com/boristopalov/envrunner/pkg/config"
	"github.com/boristopalov/envrunner/pkg/core"
	"github.com/boristopalov/envrunner/pkg/environment"
	"github.com/boristopalov/envrunner/pkg/experiment"
	"github.com/boristopalov/envrunner/pkg/messaging"
)

type runnerFlags struct {
	logLevel   string
	configPath string
	env        string
	policy     string
	model      string
	seed       int64
	render     bool
	statsPath  string

	batchUpdate          string
	episodeMaxLength     int
	timestepsPerBatch    int
	trajectoriesPerBatch int
	repeatNActions       int
	nIter                int
}

func main() {
	flags := &runnerFlags{}

	rootCmd := &cobra.Command{
		Use:           "envrunner",
		Short:         "envrunner rolls out a policy in a simulated environment and collects batches of trajectories.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(flags.logLevel)
		},
	}
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "file of runner options in .env format")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Collect one batch of trajectories and print its statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, flags)
		},
	}
	runCmd.Flags().BoolVar(&flags.render, "render", false, "play and render one episode before collecting")

	experimentCmd := &cobra.Command{
		Use:   "experiment",
		Short: "Collect n_iter batches, logging statistics per iteration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExperiment(cmd, flags)
		},
	}
	experimentCmd.Flags().StringVar(&flags.statsPath, "stats", "", "write per-iteration statistics to this CSV file")
	experimentCmd.Flags().IntVar(&flags.nIter, "n-iter", 0, "number of batches (overrides n_iter)")

	for _, cmd := range []*cobra.Command{runCmd, experimentCmd} {
		addRunnerFlags(cmd, flags)
		rootCmd.AddCommand(cmd)
	}

	for _, envFile := range []string{
		".env",
		"../../.env",
	} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("envrunner failed")
		os.Exit(1)
	}
}

func addRunnerFlags(cmd *cobra.Command, flags *runnerFlags) {
	f := cmd.Flags()
	f.StringVar(&flags.env, "env", "CartPole-v1", fmt.Sprintf("environment name %v", environment.Names()))
	f.StringVar(&flags.policy, "policy", "random", "policy: random, linear, openai or gemini")
	f.StringVar(&flags.model, "model", "", "model for LLM policies (provider default if empty)")
	f.Int64Var(&flags.seed, "seed", time.Now().UnixNano(), "random seed")
	f.StringVar(&flags.batchUpdate, "batch-update", "", "batch budget: timesteps or trajectories")
	f.IntVar(&flags.episodeMaxLength, "episode-max-length", 0, "decisions per episode (defaults to the environment's limit)")
	f.IntVar(&flags.timestepsPerBatch, "timesteps-per-batch", 0, "timestep budget per batch")
	f.IntVar(&flags.trajectoriesPerBatch, "trajectories-per-batch", 0, "trajectory budget per batch")
	f.IntVar(&flags.repeatNActions, "repeat-n-actions", 0, "times each chosen action is applied")
}

func setupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
	return nil
}

// overrides merges the --config file with the flags set on the command line.
// Flags left at their zero default are not overrides.
func overrides(cmd *cobra.Command, flags *runnerFlags) (config.Options, error) {
	opts := config.Options{}
	if flags.configPath != "" {
		fileOpts, err := config.LoadOverrides(flags.configPath)
		if err != nil {
			return nil, err
		}
		opts = fileOpts
	}

	set := cmd.Flags().Changed
	if set("batch-update") {
		opts[config.BatchUpdate] = flags.batchUpdate
	}
	if set("episode-max-length") {
		opts[config.EpisodeMaxLength] = flags.episodeMaxLength
	}
	if set("timesteps-per-batch") {
		opts[config.TimestepsPerBatch] = flags.timestepsPerBatch
	}
	if set("trajectories-per-batch") {
		opts[config.TrajectoriesPerBatch] = flags.trajectoriesPerBatch
	}
	if set("repeat-n-actions") {
		opts[config.RepeatNActions] = flags.repeatNActions
	}
	if set("n-iter") {
		opts[config.NIter] = flags.nIter
	}
	return opts, nil
}

func buildPolicy(ctx context.Context, flags *runnerFlags, meta core.Metadata, rng *rand.Rand) (core.Policy, error) {
	switch flags.policy {
	case "random":
		return agent.NewRandomPolicy(meta.ActionCount, rng), nil
	case "linear":
		return agent.NewLinearPolicy(agent.DefaultWeights(meta), rng)
	case client.OpenAI, client.Gemini:
		c, err := client.ForProvider(ctx, flags.policy)
		if err != nil {
			return nil, err
		}
		model := flags.model
		if model == "" {
			model = client.DefaultModel(flags.policy)
		}
		return agent.NewLLMPolicy(meta,
			agent.WithClient(c),
			agent.WithModel(agent.ModelInfo{Id: model, Config: make(map[string]any)}),
			agent.WithLogger(log.Logger),
		)
	default:
		return nil, fmt.Errorf("unknown policy %q", flags.policy)
	}
}

// newCollector builds the environment, policy and collector, and starts a
// subscriber that logs every completed episode until ctx ends
func newCollector(ctx context.Context, cmd *cobra.Command, flags *runnerFlags) (*collector.Collector, error) {
	rng := rand.New(rand.NewSource(flags.seed))
	env, err := environment.Make(flags.env, rng)
	if err != nil {
		return nil, err
	}
	policy, err := buildPolicy(ctx, flags, env.Metadata(), rng)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy: %w", err)
	}
	opts, err := overrides(cmd, flags)
	if err != nil {
		return nil, err
	}

	broker := messaging.NewBroker()
	events := make(chan messaging.Message, 256)
	if err := broker.Subscribe("episode-log", events); err != nil {
		return nil, err
	}
	go logEpisodes(ctx, events)

	c, err := collector.NewCollector(env, policy, opts,
		collector.WithLogger(log.Logger),
		collector.WithBroker(broker),
	)
	if err != nil {
		return nil, err
	}
	cfg := c.Config()
	log.Info().
		Str("env", flags.env).
		Str("policy", flags.policy).
		Int64("seed", flags.seed).
		Str("batch_update", cfg.BatchStop.Mode()).
		Int("episode_max_length", cfg.EpisodeMaxLength).
		Int("repeat_n_actions", cfg.RepeatNActions).
		Msg("Created collector")
	return c, nil
}

func logEpisodes(ctx context.Context, events <-chan messaging.Message) {
	for {
		select {
		case msg := <-events:
			if summary, ok := msg.Content.(collector.EpisodeSummary); ok {
				log.Debug().
					Str("trajectory_id", summary.TrajectoryID).
					Int("steps", summary.Steps).
					Bool("done", summary.Done).
					Float64("total_reward", summary.TotalReward).
					Msg("Episode completed")
			}
		case <-ctx.Done():
			return
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func runBatch(cmd *cobra.Command, flags *runnerFlags) error {
	ctx, cancel := signalContext()
	defer cancel()

	c, err := newCollector(ctx, cmd, flags)
	if err != nil {
		return err
	}

	if flags.render {
		traj, err := c.GetTrajectory(true)
		if err != nil {
			return fmt.Errorf("rendered episode failed: %w", err)
		}
		log.Info().Int("steps", traj.Steps).Bool("done", traj.Done).Msg("Rendered episode")
	}

	batch, err := c.GetTrajectories()
	if err != nil {
		return fmt.Errorf("batch collection failed: %w", err)
	}
	stats := experiment.ComputeStats(1, batch)
	fmt.Fprintf(cmd.OutOrStdout(),
		"trajectories=%d timesteps=%d mean_reward=%.2f std_reward=%.2f mean_length=%.2f terminal_rate=%.2f\n",
		stats.Trajectories, stats.Timesteps, stats.MeanReward, stats.StdReward, stats.MeanLength, stats.TerminalRate)
	return nil
}

func runExperiment(cmd *cobra.Command, flags *runnerFlags) error {
	ctx, cancel := signalContext()
	defer cancel()

	c, err := newCollector(ctx, cmd, flags)
	if err != nil {
		return err
	}

	exp, err := experiment.NewExperiment(&config.ExperimentConfig{
		Name:      flags.env + "/" + flags.policy,
		NIter:     c.Config().NIter,
		StatsPath: flags.statsPath,
	}, c, experiment.WithLogger(log.Logger))
	if err != nil {
		return err
	}
	defer exp.Close()

	if err := exp.Run(ctx); err != nil {
		return fmt.Errorf("experiment failed: %w", err)
	}
	return nil
}
