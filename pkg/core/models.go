package core

import (
	"time"

	"gonum.org/v1/gonum/mat"
)

// State is an observation vector
type State []float64

// Action is an index into a discrete action space
type Action int

// Info carries diagnostics from an environment step. The collector never reads it.
type Info map[string]any

type StepResult struct {
	State  State
	Reward float64
	Done   bool
	Info   Info
}

// Metadata describes an environment's spaces.
// MaxEpisodeSteps is 0 when the environment declares no step limit.
type Metadata struct {
	ObservationDim  int
	ActionCount     int
	MaxEpisodeSteps int
}

// Trajectory is the record of one episode. States[i] is the state in which
// Actions[i] was chosen, and Rewards[i] is the reward observed after it.
type Trajectory struct {
	ID      string
	States  []State
	Actions []Action
	Rewards []float64
	Done    bool // a terminal state was reached before the step cap
	Steps   int
}

func (t Trajectory) Len() int {
	return len(t.Rewards)
}

func (t Trajectory) TotalReward() float64 {
	var total float64
	for _, r := range t.Rewards {
		total += r
	}
	return total
}

// StateMatrix returns the states as a Steps x ObservationDim matrix.
// It returns nil for an empty trajectory or states of unequal length.
func (t Trajectory) StateMatrix() *mat.Dense {
	if len(t.States) == 0 {
		return nil
	}
	cols := len(t.States[0])
	if cols == 0 {
		return nil
	}
	data := make([]float64, 0, len(t.States)*cols)
	for _, s := range t.States {
		if len(s) != cols {
			return nil
		}
		data = append(data, s...)
	}
	return mat.NewDense(len(t.States), cols, data)
}

type ExperimentStatus struct {
	Running   bool
	Iteration int
	StartTime time.Time
	EndTime   time.Time
}
