package environment

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"strings"

	"github.com/boristopalov/envrunner/pkg/core"
)

const (
	gravity        = 9.8
	massCart       = 1.0
	massPole       = 0.1
	totalMass      = massCart + massPole
	halfPoleLength = 0.5
	poleMassLength = massPole * halfPoleLength
	forceMag       = 10.0
	tau            = 0.02

	xThreshold     = 2.4
	thetaThreshold = 12.0 * math.Pi / 180.0

	trackWidth = 41
)

// CartPole balances a pole on a cart moving along a frictionless track.
// Action 0 pushes left, action 1 pushes right. Every step is worth 1 and the
// episode ends once the pole tilts past 12 degrees or the cart leaves the track.
// It declares no step limit of its own; wrap it in TimeLimit for that.
type CartPole struct {
	state [4]float64 // x, x_dot, theta, theta_dot
	rng   *rand.Rand
	out   io.Writer
}

type CartPoleOption func(*CartPole)

// WithRenderOutput sets where Render writes frames. Defaults to stdout.
func WithRenderOutput(w io.Writer) CartPoleOption {
	return func(c *CartPole) {
		c.out = w
	}
}

func NewCartPole(rng *rand.Rand, opts ...CartPoleOption) *CartPole {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	c := &CartPole{rng: rng, out: os.Stdout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CartPole) Metadata() core.Metadata {
	return core.Metadata{ObservationDim: 4, ActionCount: 2}
}

func (c *CartPole) Reset() (core.State, error) {
	for i := range c.state {
		c.state[i] = c.rng.Float64()*0.1 - 0.05
	}
	return c.observe(), nil
}

func (c *CartPole) Step(action core.Action) (core.StepResult, error) {
	var force float64
	switch action {
	case 0:
		force = -forceMag
	case 1:
		force = forceMag
	default:
		return core.StepResult{}, fmt.Errorf("cartpole: invalid action %d", action)
	}

	x, xDot, theta, thetaDot := c.state[0], c.state[1], c.state[2], c.state[3]
	cosTheta := math.Cos(theta)
	sinTheta := math.Sin(theta)

	temp := (force + poleMassLength*thetaDot*thetaDot*sinTheta) / totalMass
	thetaAcc := (gravity*sinTheta - cosTheta*temp) /
		(halfPoleLength * (4.0/3.0 - massPole*cosTheta*cosTheta/totalMass))
	xAcc := temp - poleMassLength*thetaAcc*cosTheta/totalMass

	x += tau * xDot
	xDot += tau * xAcc
	theta += tau * thetaDot
	thetaDot += tau * thetaAcc
	c.state = [4]float64{x, xDot, theta, thetaDot}

	done := x < -xThreshold || x > xThreshold || theta < -thetaThreshold || theta > thetaThreshold
	return core.StepResult{
		State:  c.observe(),
		Reward: 1.0,
		Done:   done,
	}, nil
}

// Render draws the cart position on a text track with the pole angle
func (c *CartPole) Render() error {
	pos := int(math.Round((c.state[0] + xThreshold) / (2 * xThreshold) * float64(trackWidth-1)))
	pos = max(0, min(trackWidth-1, pos))
	track := []byte(strings.Repeat("-", trackWidth))
	track[pos] = '#'
	_, err := fmt.Fprintf(c.out, "|%s| theta=%+6.2fdeg\n", track, c.state[2]*180/math.Pi)
	return err
}

func (c *CartPole) observe() core.State {
	s := make(core.State, len(c.state))
	copy(s, c.state[:])
	return s
}
