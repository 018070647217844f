package scape

import (
	"context"
	"errors"

	"ucbmarl/internal/marl"
)

var ErrUnknownAgent = errors.New("unknown scape agent")

// StepResult is the joint outcome of one environment tick.
type StepResult struct {
	States  map[string]marl.State
	Rewards map[string]float64
	Done    bool
}

// Scape is a cooperative multi-agent environment with discrete states.
type Scape interface {
	Name() string
	Agents() []string
	StateSpace() int
	Reset(ctx context.Context, seed int64) (map[string]marl.State, error)
	Step(ctx context.Context, actions map[string]marl.Action) (StepResult, error)
}

// Encoder maps a raw observation to a tabular state.
type Encoder interface {
	Encode(obs Observation) marl.State
	StateSpace() int
}

// Summary describes a registered scape for listings.
type Summary struct {
	Name       string `json:"name"`
	Agents     int    `json:"agents"`
	StateSpace int    `json:"state_space"`
}

func Describe(s Scape) Summary {
	return Summary{Name: s.Name(), Agents: len(s.Agents()), StateSpace: s.StateSpace()}
}
