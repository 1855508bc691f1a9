package core

// Environment simulates the world a policy acts in
type Environment interface {
	// Reset starts a new episode and returns its initial state
	Reset() (State, error)
	// Step applies an action and advances the environment one timestep
	Step(action Action) (StepResult, error)
	// Metadata describes observation/action dimensionality and the declared step limit
	Metadata() Metadata
}

// Renderer is implemented by environments that can visualize their current state
type Renderer interface {
	Render() error
}

// Policy decides which action to take in a given state
type Policy interface {
	ChooseAction(state State) (Action, error)
}
