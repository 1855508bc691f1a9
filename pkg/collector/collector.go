// Package collector runs a policy against an environment and gathers the
// resulting trajectories into batches.
package collector

import (
	"time"

	"github.com/boristopalov/envrunner/pkg/config"
	"github.com/boristopalov/envrunner/pkg/core"
	"github.com/boristopalov/envrunner/pkg/messaging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EpisodeSummary is published on messaging.TopicEpisodeCompleted after every
// collected trajectory
type EpisodeSummary struct {
	TrajectoryID string
	Steps        int
	Done         bool
	TotalReward  float64
}

// Collector drives one Environment with one Policy. It is not safe for
// concurrent use since the environment itself carries episode state.
type Collector struct {
	id     string
	env    core.Environment
	policy core.Policy
	config config.RunnerConfig
	logger zerolog.Logger
	broker messaging.Broker
}

type CollectorParams struct {
	ID     string
	Logger zerolog.Logger
	Broker messaging.Broker
}

type CollectorOption func(*CollectorParams)

func WithID(id string) CollectorOption {
	return func(p *CollectorParams) {
		p.ID = id
	}
}

func WithLogger(logger zerolog.Logger) CollectorOption {
	return func(p *CollectorParams) {
		p.Logger = logger
	}
}

// WithBroker makes the collector publish an EpisodeSummary per trajectory
func WithBroker(b messaging.Broker) CollectorOption {
	return func(p *CollectorParams) {
		p.Broker = b
	}
}

func defaultCollectorParams() *CollectorParams {
	return &CollectorParams{
		ID:     "collector-" + uuid.New().String(),
		Logger: zerolog.Nop(),
	}
}

// NewCollector resolves the runner configuration from the environment's
// metadata and the given overrides. It returns a *config.ConfigError when a
// required option cannot be resolved.
func NewCollector(env core.Environment, policy core.Policy, overrides config.Options, opts ...CollectorOption) (*Collector, error) {
	cfg, err := config.Resolve(env.Metadata(), overrides)
	if err != nil {
		return nil, err
	}

	params := defaultCollectorParams()
	for _, opt := range opts {
		opt(params)
	}

	c := &Collector{
		id:     params.ID,
		env:    env,
		policy: policy,
		config: *cfg,
		logger: params.Logger.With().Str("component", "collector").Str("collector_id", params.ID).Logger(),
		broker: params.Broker,
	}
	c.logger.Debug().
		Str("batch_update", cfg.BatchStop.Mode()).
		Int("episode_max_length", cfg.EpisodeMaxLength).
		Int("repeat_n_actions", cfg.RepeatNActions).
		Msg("Collector configured")
	return c, nil
}

func (c *Collector) GetID() string {
	return c.id
}

// Config returns a copy of the resolved configuration
func (c *Collector) Config() config.RunnerConfig {
	return c.config
}

// GetTrajectory runs one episode from reset until the environment reports a
// terminal state or EpisodeMaxLength decisions have been made.
//
// Each decision applies the chosen action up to RepeatNActions times,
// stopping early on a terminal step. Only the reward of the last applied
// step is recorded for that decision. When render is set, the environment is
// rendered after every non-terminal decision if it implements core.Renderer.
//
// Errors from the environment or policy are returned as is and the partial
// episode is discarded.
func (c *Collector) GetTrajectory(render bool) (core.Trajectory, error) {
	traj := core.Trajectory{ID: uuid.New().String()}

	state, err := c.env.Reset()
	if err != nil {
		return core.Trajectory{}, err
	}

	var renderer core.Renderer
	if render {
		if r, ok := c.env.(core.Renderer); ok {
			renderer = r
		} else {
			c.logger.Debug().Msg("Environment cannot render, skipping")
		}
	}

	maxLen := c.config.EpisodeMaxLength
	traj.States = make([]core.State, 0, maxLen)
	traj.Actions = make([]core.Action, 0, maxLen)
	traj.Rewards = make([]float64, 0, maxLen)

	var (
		reward float64
		done   bool
	)
	for i := 0; i < maxLen; i++ {
		action, err := c.policy.ChooseAction(state)
		if err != nil {
			return core.Trajectory{}, err
		}
		traj.States = append(traj.States, state)

		for repeat := 0; repeat < c.config.RepeatNActions; repeat++ {
			result, err := c.env.Step(action)
			if err != nil {
				return core.Trajectory{}, err
			}
			state, reward, done = result.State, result.Reward, result.Done
			if done {
				break
			}
		}

		traj.Actions = append(traj.Actions, action)
		traj.Rewards = append(traj.Rewards, reward)
		traj.Steps = i + 1

		if done {
			break
		}
		if renderer != nil {
			if err := renderer.Render(); err != nil {
				return core.Trajectory{}, err
			}
		}
	}
	traj.Done = done

	c.logger.Debug().
		Str("trajectory_id", traj.ID).
		Int("steps", traj.Steps).
		Bool("done", traj.Done).
		Float64("total_reward", traj.TotalReward()).
		Msg("Collected trajectory")
	c.publish(messaging.TopicEpisodeCompleted, EpisodeSummary{
		TrajectoryID: traj.ID,
		Steps:        traj.Steps,
		Done:         traj.Done,
		TotalReward:  traj.TotalReward(),
	})

	return traj, nil
}

// GetTrajectories collects whole trajectories until the configured BatchStop
// is satisfied. The batch always contains at least one trajectory.
func (c *Collector) GetTrajectories() ([]core.Trajectory, error) {
	stop := c.config.BatchStop
	trajectories := make([]core.Trajectory, 0)
	timesteps := 0

	for !stop.Done(len(trajectories), timesteps) {
		traj, err := c.GetTrajectory(false)
		if err != nil {
			return nil, err
		}
		trajectories = append(trajectories, traj)
		timesteps += traj.Len()
	}

	c.logger.Info().
		Str("batch_update", stop.Mode()).
		Int("trajectories", len(trajectories)).
		Int("timesteps", timesteps).
		Msg("Collected batch")
	c.publish(messaging.TopicBatchCompleted, len(trajectories))

	return trajectories, nil
}

func (c *Collector) publish(topic string, content any) {
	if c.broker == nil {
		return
	}
	msg := messaging.Message{
		Topic:     topic,
		From:      c.id,
		Content:   content,
		Timestamp: time.Now(),
	}
	if err := c.broker.Publish(msg); err != nil {
		c.logger.Warn().Err(err).Str("topic", topic).Msg("Failed to publish")
	}
}
