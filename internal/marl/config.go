package marl

import (
	"errors"
	"fmt"
	"math"
)

const (
	DefaultActions = 5
	DefaultC       = 0.02
	DefaultDelta   = 0.1
)

var (
	ErrInvalidConfig   = errors.New("invalid agent config")
	ErrUnknownNeighbor = errors.New("unknown neighbor")
	ErrSelfNeighbor    = errors.New("agent cannot neighbor itself")
	ErrInvalidDistance = errors.New("hop distance must be >= 0")
)

// Config holds the constants an agent is built from. Zero values for Actions,
// C and Delta fall back to the package defaults.
type Config struct {
	Name       string
	Peers      []string
	Horizon    int
	Episodes   int
	Agents     int
	GammaHop   int
	Actions    int
	StateSpace int
	C          float64
	Delta      float64
	Seed       int64

	// PerPairMerge keys merged U-set samples by their own recorded action
	// instead of the action taken on the current tick.
	PerPairMerge bool
}

func (c Config) withDefaults() Config {
	if c.Actions == 0 {
		c.Actions = DefaultActions
	}
	if c.C == 0 {
		c.C = DefaultC
	}
	if c.Delta == 0 {
		c.Delta = DefaultDelta
	}
	if c.Agents == 0 {
		c.Agents = len(c.Peers)
	}
	return c
}

func (c Config) Validate() error {
	c = c.withDefaults()
	switch {
	case c.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	case c.Horizon <= 0:
		return fmt.Errorf("%w: horizon must be > 0, got %d", ErrInvalidConfig, c.Horizon)
	case c.Episodes <= 0:
		return fmt.Errorf("%w: episodes must be > 0, got %d", ErrInvalidConfig, c.Episodes)
	case c.Agents <= 0:
		return fmt.Errorf("%w: agent count must be > 0, got %d", ErrInvalidConfig, c.Agents)
	case c.GammaHop < 0:
		return fmt.Errorf("%w: gamma hop must be >= 0, got %d", ErrInvalidConfig, c.GammaHop)
	case c.Actions <= 0:
		return fmt.Errorf("%w: actions must be > 0, got %d", ErrInvalidConfig, c.Actions)
	case c.StateSpace <= 0:
		return fmt.Errorf("%w: state space must be > 0, got %d", ErrInvalidConfig, c.StateSpace)
	case c.C < 0:
		return fmt.Errorf("%w: c must be >= 0, got %g", ErrInvalidConfig, c.C)
	case c.Delta <= 0 || c.Delta >= 1:
		return fmt.Errorf("%w: delta must be in (0,1), got %g", ErrInvalidConfig, c.Delta)
	}
	return nil
}

// Iota is the confidence term ln(S*A*T*N/delta) with T = episodes*horizon.
func (c Config) Iota() float64 {
	c = c.withDefaults()
	t := float64(c.Episodes) * float64(c.Horizon)
	return math.Log(float64(c.StateSpace) * float64(c.Actions) * t * float64(c.Agents) / c.Delta)
}
