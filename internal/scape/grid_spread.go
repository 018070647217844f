package scape

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"ucbmarl/internal/marl"
	"ucbmarl/internal/scapeid"
)

const GridSpreadName = scapeid.GridSpread

// Grid actions, in the order the tabular policy indexes them.
const (
	ActionStay marl.Action = iota
	ActionLeft
	ActionRight
	ActionDown
	ActionUp
)

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) manhattan(o Point) int {
	return abs(p.X-o.X) + abs(p.Y-o.Y)
}

// Observation is what a single agent sees of the grid.
type Observation struct {
	Self     Point
	Target   Point
	Size     int
	Crowded  bool
	Occupied int
}

// DefaultGridSpreadCycles is the episode length used when none is given.
const DefaultGridSpreadCycles = 25

type GridSpreadConfig struct {
	Agents int
	Size   int
	Cycles int
	// LocalRatio blends the local collision penalty with the shared coverage
	// reward: r = LocalRatio*local + (1-LocalRatio)*global.
	LocalRatio float64
	Encoder    Encoder
}

// GridSpread is a cooperative coverage task: N agents on a Size x Size grid
// should spread over N landmarks without sharing cells.
type GridSpread struct {
	cfg    GridSpreadConfig
	names  []string
	enc    Encoder
	mu     sync.Mutex
	agents []Point
	marks  []Point
	steps  int
}

func NewGridSpread(cfg GridSpreadConfig) (*GridSpread, error) {
	if cfg.Agents <= 0 {
		return nil, fmt.Errorf("grid spread: agents must be > 0, got %d", cfg.Agents)
	}
	if cfg.Size <= 0 {
		cfg.Size = 4
	}
	if cfg.Size*cfg.Size < cfg.Agents {
		return nil, fmt.Errorf("grid spread: %dx%d grid cannot hold %d landmarks", cfg.Size, cfg.Size, cfg.Agents)
	}
	if cfg.Cycles <= 0 {
		return nil, fmt.Errorf("grid spread: cycles must be > 0, got %d", cfg.Cycles)
	}
	if cfg.LocalRatio < 0 || cfg.LocalRatio > 1 {
		return nil, fmt.Errorf("grid spread: local ratio must be in [0,1], got %g", cfg.LocalRatio)
	}
	enc := cfg.Encoder
	if enc == nil {
		enc = CellEncoder{Size: cfg.Size}
	}
	names := make([]string, cfg.Agents)
	for i := range names {
		names[i] = AgentName(i)
	}
	return &GridSpread{cfg: cfg, names: names, enc: enc}, nil
}

// AgentName is the canonical name of the i-th agent of a scape.
func AgentName(i int) string {
	return fmt.Sprintf("agent_%d", i)
}

func (g *GridSpread) Name() string { return GridSpreadName }

func (g *GridSpread) Agents() []string { return append([]string(nil), g.names...) }

func (g *GridSpread) StateSpace() int { return g.enc.StateSpace() }

func (g *GridSpread) Cycles() int { return g.cfg.Cycles }

func (g *GridSpread) Reset(ctx context.Context, seed int64) (map[string]marl.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	rng := rand.New(rand.NewSource(seed))
	cells := rng.Perm(g.cfg.Size * g.cfg.Size)
	g.marks = make([]Point, g.cfg.Agents)
	for i := range g.marks {
		g.marks[i] = g.cell(cells[i])
	}
	g.agents = make([]Point, g.cfg.Agents)
	for i := range g.agents {
		g.agents[i] = g.cell(rng.Intn(g.cfg.Size * g.cfg.Size))
	}
	g.steps = 0
	return g.encodeAll(), nil
}

func (g *GridSpread) Step(ctx context.Context, actions map[string]marl.Action) (StepResult, error) {
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.agents == nil {
		return StepResult{}, fmt.Errorf("grid spread: step before reset")
	}
	for name := range actions {
		if g.index(name) < 0 {
			return StepResult{}, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
		}
	}
	for i, name := range g.names {
		action, ok := actions[name]
		if !ok {
			continue
		}
		g.agents[i] = g.move(g.agents[i], action)
	}
	g.steps++

	global := g.coverage()
	rewards := make(map[string]float64, len(g.names))
	for i, name := range g.names {
		local := -float64(g.collisions(i))
		rewards[name] = g.cfg.LocalRatio*local + (1-g.cfg.LocalRatio)*global
	}
	return StepResult{
		States:  g.encodeAll(),
		Rewards: rewards,
		Done:    g.steps >= g.cfg.Cycles,
	}, nil
}

// Positions returns the current agent and landmark cells.
func (g *GridSpread) Positions() (agents, landmarks []Point) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Point(nil), g.agents...), append([]Point(nil), g.marks...)
}

func (g *GridSpread) move(p Point, action marl.Action) Point {
	switch action {
	case ActionLeft:
		p.X--
	case ActionRight:
		p.X++
	case ActionDown:
		p.Y--
	case ActionUp:
		p.Y++
	}
	p.X = clamp(p.X, 0, g.cfg.Size-1)
	p.Y = clamp(p.Y, 0, g.cfg.Size-1)
	return p
}

// coverage is minus the sum, over landmarks, of the distance to the closest
// agent.
func (g *GridSpread) coverage() float64 {
	total := 0
	for _, mark := range g.marks {
		best := -1
		for _, agent := range g.agents {
			if d := agent.manhattan(mark); best < 0 || d < best {
				best = d
			}
		}
		total += best
	}
	return -float64(total)
}

func (g *GridSpread) collisions(i int) int {
	count := 0
	for j, other := range g.agents {
		if j != i && other == g.agents[i] {
			count++
		}
	}
	return count
}

func (g *GridSpread) encodeAll() map[string]marl.State {
	out := make(map[string]marl.State, len(g.names))
	for i, name := range g.names {
		out[name] = g.enc.Encode(g.observe(i))
	}
	return out
}

func (g *GridSpread) observe(i int) Observation {
	self := g.agents[i]
	target := g.marks[0]
	best := self.manhattan(target)
	for _, mark := range g.marks[1:] {
		if d := self.manhattan(mark); d < best {
			best = d
			target = mark
		}
	}
	collided := g.collisions(i)
	return Observation{
		Self:     self,
		Target:   target,
		Size:     g.cfg.Size,
		Crowded:  collided > 0,
		Occupied: collided,
	}
}

func (g *GridSpread) index(name string) int {
	for i, n := range g.names {
		if n == name {
			return i
		}
	}
	return -1
}

func (g *GridSpread) cell(idx int) Point {
	return Point{X: idx % g.cfg.Size, Y: idx / g.cfg.Size}
}

// CellEncoder encodes the agent cell, the direction to its closest landmark
// on each axis, and whether it shares its cell.
type CellEncoder struct {
	Size int
}

func (e CellEncoder) StateSpace() int {
	return e.Size * e.Size * 3 * 3 * 2
}

func (e CellEncoder) Encode(obs Observation) marl.State {
	cell := obs.Self.Y*e.Size + obs.Self.X
	dx := sign(obs.Target.X-obs.Self.X) + 1
	dy := sign(obs.Target.Y-obs.Self.Y) + 1
	crowded := 0
	if obs.Crowded {
		crowded = 1
	}
	return marl.State(((cell*3+dx)*3+dy)*2 + crowded)
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
