package experiment

import (
	"strconv"

	"github.com/boristopalov/envrunner/pkg/core"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// IterationStats summarizes one collected batch
type IterationStats struct {
	Iteration    int
	Trajectories int
	Timesteps    int
	MeanReward   float64 // per-episode total reward
	StdReward    float64
	MinReward    float64
	MaxReward    float64
	MeanLength   float64
	TerminalRate float64 // fraction of episodes that reached a terminal state
}

var statsHeader = []string{
	"iteration",
	"trajectories",
	"timesteps",
	"mean_reward",
	"std_reward",
	"min_reward",
	"max_reward",
	"mean_length",
	"terminal_rate",
}

func ComputeStats(iteration int, batch []core.Trajectory) IterationStats {
	s := IterationStats{Iteration: iteration, Trajectories: len(batch)}
	if len(batch) == 0 {
		return s
	}

	returns := make([]float64, len(batch))
	lengths := make([]float64, len(batch))
	var terminal int
	for i, traj := range batch {
		returns[i] = traj.TotalReward()
		lengths[i] = float64(traj.Len())
		s.Timesteps += traj.Len()
		if traj.Done {
			terminal++
		}
	}

	s.MeanReward, s.StdReward = stat.PopMeanStdDev(returns, nil)
	s.MinReward = floats.Min(returns)
	s.MaxReward = floats.Max(returns)
	s.MeanLength = stat.Mean(lengths, nil)
	s.TerminalRate = float64(terminal) / float64(len(batch))
	return s
}

func (s IterationStats) record() []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
	return []string{
		strconv.Itoa(s.Iteration),
		strconv.Itoa(s.Trajectories),
		strconv.Itoa(s.Timesteps),
		f(s.MeanReward),
		f(s.StdReward),
		f(s.MinReward),
		f(s.MaxReward),
		f(s.MeanLength),
		f(s.TerminalRate),
	}
}
