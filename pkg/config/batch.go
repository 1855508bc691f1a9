package config

// BatchStop decides when a batch holds enough data. Its implementations are
// Timesteps and TrajectoryCount.
type BatchStop interface {
	// Done reports whether collection should stop after the given number of
	// trajectories totalling the given number of timesteps
	Done(trajectories, timesteps int) bool
	// Mode returns the batch_update value this variant was built from
	Mode() string
	batchStop()
}

// Timesteps stops once the summed trajectory lengths reach Limit. The last
// trajectory is kept whole, so a batch may exceed Limit.
type Timesteps struct {
	Limit int
}

func (s Timesteps) Done(_, timesteps int) bool {
	return timesteps >= s.Limit
}

func (Timesteps) Mode() string { return ModeTimesteps }
func (Timesteps) batchStop()   {}

// TrajectoryCount stops once Limit trajectories have been collected
type TrajectoryCount struct {
	Limit int
}

func (s TrajectoryCount) Done(trajectories, _ int) bool {
	return trajectories >= s.Limit
}

func (TrajectoryCount) Mode() string { return ModeTrajectories }
func (TrajectoryCount) batchStop()   {}
