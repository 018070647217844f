package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"ucbmarl/internal/marl"
	"ucbmarl/internal/model"
	"ucbmarl/internal/scape"
	"ucbmarl/internal/topology"
)

var ErrInvalidTraining = errors.New("invalid training config")

// Seed offsets keep evaluation, per-agent and per-trial streams apart from
// the training environment stream.
const (
	agentSeedStride      = 7919
	evaluationSeedOffset = 1 << 20
	trialSeedStride      = 1 << 24
)

// AgentSeed derives the tie-break seed of the agent at index in a run.
func AgentSeed(seed int64, index int) int64 {
	return seed*agentSeedStride + int64(index)
}

// TrialSeed derives the base seed of a trial. Trial 0 keeps the run seed.
func TrialSeed(seed int64, trial int) int64 {
	return seed + int64(trial)*trialSeedStride
}

type TrainingConfig struct {
	RunID    string
	Scape    scape.Scape
	Topology string
	// Adjacency overrides Topology when set.
	Adjacency      [][]int
	GammaHop       int
	ConnectionSlow bool
	Episodes       int
	Horizon        int
	C              float64
	Delta          float64
	Seed           int64
	Workers        int
	PerPairMerge   bool
	// Trials repeats the run with fresh agents; series are averaged.
	Trials int

	EvaluationInterval int
	EvaluationEpisodes int

	// OnEpisode receives the training points of every trial.
	OnEpisode func(model.EpisodeReward)
}

// TrainingResult holds the agents of the last trial and the reward series
// averaged over all trials.
type TrainingResult struct {
	Agents      []*marl.Agent
	Trials      int
	Training    []model.EpisodeReward
	Evaluation  []model.EpisodeReward
	FinalReward float64
}

// BonusMeans returns every agent's mean bonus per episode.
func (r TrainingResult) BonusMeans() map[string][]float64 {
	out := make(map[string][]float64, len(r.Agents))
	for _, agent := range r.Agents {
		out[agent.Name()] = agent.EpisodeBonusMeans()
	}
	return out
}

// Trainer drives a set of agents through a scape in lockstep.
type Trainer struct {
	logger *slog.Logger
}

func NewTrainer(logger *slog.Logger) *Trainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trainer{logger: logger}
}

func (tr *Trainer) Run(ctx context.Context, cfg TrainingConfig) (TrainingResult, error) {
	cfg, err := normalizeTraining(cfg)
	if err != nil {
		return TrainingResult{}, err
	}

	tr.logger.Info("[trainer] run starting",
		"run_id", cfg.RunID,
		"scape", cfg.Scape.Name(),
		"agents", len(cfg.Scape.Agents()),
		"episodes", cfg.Episodes,
		"horizon", cfg.Horizon,
		"gamma_hop", cfg.GammaHop,
		"connection_slow", cfg.ConnectionSlow,
		"workers", cfg.Workers,
		"trials", cfg.Trials,
	)

	result := TrainingResult{Trials: cfg.Trials}
	training := make([][]model.EpisodeReward, 0, cfg.Trials)
	evaluation := make([][]model.EpisodeReward, 0, cfg.Trials)
	for trial := 0; trial < cfg.Trials; trial++ {
		trialCfg := cfg
		trialCfg.Seed = TrialSeed(cfg.Seed, trial)
		run, err := tr.runTrial(ctx, trialCfg)
		if err != nil {
			return TrainingResult{}, fmt.Errorf("trial %d: %w", trial, err)
		}
		result.Agents = run.Agents
		training = append(training, run.Training)
		evaluation = append(evaluation, run.Evaluation)
		if cfg.Trials > 1 {
			tr.logger.Info("[trainer] trial complete", "run_id", cfg.RunID, "trial", trial, "final_reward", run.FinalReward)
		}
	}
	result.Training = averageSeries(training)
	result.Evaluation = averageSeries(evaluation)
	if n := len(result.Training); n > 0 {
		result.FinalReward = result.Training[n-1].Mean
	}

	tr.logger.Info("[trainer] run complete", "run_id", cfg.RunID, "final_reward", result.FinalReward)
	return result, nil
}

// runTrial trains one freshly built set of agents.
func (tr *Trainer) runTrial(ctx context.Context, cfg TrainingConfig) (TrainingResult, error) {
	agents, err := BuildAgents(cfg)
	if err != nil {
		return TrainingResult{}, err
	}

	result := TrainingResult{Agents: agents, Trials: 1}
	for episode := 0; episode < cfg.Episodes; episode++ {
		if err := ctx.Err(); err != nil {
			return TrainingResult{}, err
		}
		rewards, err := tr.trainEpisode(ctx, cfg, agents, episode)
		if err != nil {
			return TrainingResult{}, fmt.Errorf("episode %d: %w", episode, err)
		}
		point := episodeReward(episode, rewards, false)
		result.Training = append(result.Training, point)
		result.FinalReward = point.Mean
		if cfg.OnEpisode != nil {
			cfg.OnEpisode(point)
		}
		tr.logger.Debug("[trainer] episode complete", "run_id", cfg.RunID, "episode", episode, "mean_reward", point.Mean)

		completed := episode + 1
		if cfg.EvaluationInterval > 0 && completed%cfg.EvaluationInterval == 0 {
			eval, err := Evaluate(ctx, cfg.Scape, agents, cfg.Horizon, cfg.EvaluationEpisodes, cfg.Seed+evaluationSeedOffset+int64(completed))
			if err != nil {
				return TrainingResult{}, fmt.Errorf("evaluation after episode %d: %w", episode, err)
			}
			point := episodeReward(completed, eval, true)
			result.Evaluation = append(result.Evaluation, point)
			tr.logger.Info("[trainer] evaluation", "run_id", cfg.RunID, "episodes_completed", completed, "mean_reward", point.Mean)
		}
	}
	return result, nil
}

// averageSeries averages aligned reward series point by point. Every trial
// shares the episode schedule, so the series have equal length.
func averageSeries(runs [][]model.EpisodeReward) []model.EpisodeReward {
	if len(runs) == 0 || len(runs[0]) == 0 {
		return nil
	}
	if len(runs) == 1 {
		return runs[0]
	}
	out := make([]model.EpisodeReward, len(runs[0]))
	scale := 1 / float64(len(runs))
	for i, first := range runs[0] {
		point := model.EpisodeReward{
			Episode:    first.Episode,
			PerAgent:   make(map[string]float64, len(first.PerAgent)),
			Evaluation: first.Evaluation,
		}
		for _, run := range runs {
			point.Mean += run[i].Mean
			for name, r := range run[i].PerAgent {
				point.PerAgent[name] += r
			}
		}
		point.Mean *= scale
		for name := range point.PerAgent {
			point.PerAgent[name] *= scale
		}
		out[i] = point
	}
	return out
}

// BuildAgents creates one agent per scape agent and connects them through
// the gamma-hop power graph of the configured topology.
func BuildAgents(cfg TrainingConfig) ([]*marl.Agent, error) {
	names := cfg.Scape.Agents()
	agents := make([]*marl.Agent, len(names))
	for i, name := range names {
		agent, err := marl.NewAgent(marl.Config{
			Name:         name,
			Peers:        names,
			Horizon:      cfg.Horizon,
			Episodes:     cfg.Episodes,
			Agents:       len(names),
			GammaHop:     cfg.GammaHop,
			StateSpace:   cfg.Scape.StateSpace(),
			C:            cfg.C,
			Delta:        cfg.Delta,
			Seed:         AgentSeed(cfg.Seed, i),
			PerPairMerge: cfg.PerPairMerge,
		})
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", name, err)
		}
		agents[i] = agent
	}

	adj := cfg.Adjacency
	if adj == nil {
		var err error
		adj, err = topology.Named(cfg.Topology, len(names))
		if err != nil {
			return nil, err
		}
	}
	power, err := topology.PowerGraph(adj, cfg.GammaHop, cfg.ConnectionSlow)
	if err != nil {
		return nil, err
	}
	targets := make([]topology.Neighbored, len(agents))
	for i, agent := range agents {
		targets[i] = agent
	}
	if err := topology.Apply(power, targets); err != nil {
		return nil, err
	}
	return agents, nil
}

// trainEpisode runs one episode and returns the rewards of its last tick.
func (tr *Trainer) trainEpisode(ctx context.Context, cfg TrainingConfig, agents []*marl.Agent, episode int) (map[string]float64, error) {
	states, err := cfg.Scape.Reset(ctx, cfg.Seed+int64(episode))
	if err != nil {
		return nil, err
	}

	n := len(agents)
	index := make(map[string]int, n)
	for i, agent := range agents {
		index[agent.Name()] = i
	}
	actions := make([]marl.Action, n)
	outgoing := make([][]marl.Outgoing, n)
	var rewards map[string]float64

	for t := 1; t <= cfg.Horizon; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := forEach(ctx, n, cfg.Workers, func(i int) error {
			actions[i] = agents[i].Policy(states[agents[i].Name()], t)
			return nil
		}); err != nil {
			return nil, err
		}

		joint := make(map[string]marl.Action, n)
		for i, agent := range agents {
			joint[agent.Name()] = actions[i]
		}
		step, err := cfg.Scape.Step(ctx, joint)
		if err != nil {
			return nil, err
		}

		transition := func(i int) marl.Transition {
			name := agents[i].Name()
			return marl.Transition{
				Episode:  episode,
				Timestep: t,
				State:    states[name],
				Action:   actions[i],
				Next:     step.States[name],
				Reward:   step.Rewards[name],
			}
		}

		if err := forEach(ctx, n, cfg.Workers, func(i int) error {
			outgoing[i] = agents[i].Broadcast(transition(i))
			return nil
		}); err != nil {
			return nil, err
		}

		inbox := make([][]marl.Outgoing, n)
		for _, batch := range outgoing {
			for _, out := range batch {
				to, ok := index[out.To]
				if !ok {
					return nil, fmt.Errorf("%w: %s", marl.ErrUnknownNeighbor, out.To)
				}
				inbox[to] = append(inbox[to], out)
			}
		}
		if err := forEach(ctx, n, cfg.Workers, func(i int) error {
			for _, out := range inbox[i] {
				agents[i].ReceiveMessage(out.Message, out.Delay)
			}
			return nil
		}); err != nil {
			return nil, err
		}

		if err := forEach(ctx, n, cfg.Workers, func(i int) error {
			agents[i].Observe(transition(i))
			return nil
		}); err != nil {
			return nil, err
		}

		if err := forEach(ctx, n, cfg.Workers, func(i int) error {
			agents[i].RunBackup(episode, t)
			return nil
		}); err != nil {
			return nil, err
		}

		states = step.States
		rewards = step.Rewards
		if step.Done {
			break
		}
	}
	return rewards, nil
}

// Evaluate plays greedy episodes without learning and returns every agent's
// final-tick reward averaged over the episodes.
func Evaluate(ctx context.Context, sc scape.Scape, agents []*marl.Agent, horizon, episodes int, seed int64) (map[string]float64, error) {
	if episodes <= 0 {
		episodes = 1
	}
	total := make(map[string]float64, len(agents))
	for k := 0; k < episodes; k++ {
		states, err := sc.Reset(ctx, seed+int64(k))
		if err != nil {
			return nil, err
		}
		var rewards map[string]float64
		for t := 1; t <= horizon; t++ {
			joint := make(map[string]marl.Action, len(agents))
			for _, agent := range agents {
				joint[agent.Name()] = agent.GreedyPlay(states[agent.Name()], t)
			}
			step, err := sc.Step(ctx, joint)
			if err != nil {
				return nil, err
			}
			states = step.States
			rewards = step.Rewards
			if step.Done {
				break
			}
		}
		for name, r := range rewards {
			total[name] += r
		}
	}
	for name := range total {
		total[name] /= float64(episodes)
	}
	return total, nil
}

func episodeReward(episode int, rewards map[string]float64, evaluation bool) model.EpisodeReward {
	point := model.EpisodeReward{
		Episode:    episode,
		PerAgent:   make(map[string]float64, len(rewards)),
		Evaluation: evaluation,
	}
	names := make([]string, 0, len(rewards))
	for name := range rewards {
		names = append(names, name)
	}
	sort.Strings(names)
	sum := 0.0
	for _, name := range names {
		point.PerAgent[name] = rewards[name]
		sum += rewards[name]
	}
	if len(names) > 0 {
		point.Mean = sum / float64(len(names))
	}
	return point
}

func normalizeTraining(cfg TrainingConfig) (TrainingConfig, error) {
	if cfg.Scape == nil {
		return cfg, fmt.Errorf("%w: scape is required", ErrInvalidTraining)
	}
	if len(cfg.Scape.Agents()) == 0 {
		return cfg, fmt.Errorf("%w: scape %s has no agents", ErrInvalidTraining, cfg.Scape.Name())
	}
	if cfg.Episodes <= 0 {
		return cfg, fmt.Errorf("%w: episodes must be > 0, got %d", ErrInvalidTraining, cfg.Episodes)
	}
	if cfg.Horizon <= 0 {
		if cycled, ok := cfg.Scape.(interface{ Cycles() int }); ok {
			cfg.Horizon = cycled.Cycles()
		}
	}
	if cfg.Horizon <= 0 {
		return cfg, fmt.Errorf("%w: horizon must be > 0, got %d", ErrInvalidTraining, cfg.Horizon)
	}
	if cfg.GammaHop < 0 {
		return cfg, fmt.Errorf("%w: gamma hop must be >= 0, got %d", ErrInvalidTraining, cfg.GammaHop)
	}
	if cfg.Topology == "" {
		cfg.Topology = topology.GraphFull
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Trials < 0 {
		return cfg, fmt.Errorf("%w: trials must be >= 0, got %d", ErrInvalidTraining, cfg.Trials)
	}
	if cfg.Trials == 0 {
		cfg.Trials = 1
	}
	if cfg.EvaluationInterval < 0 {
		return cfg, fmt.Errorf("%w: evaluation interval must be >= 0", ErrInvalidTraining)
	}
	if cfg.EvaluationInterval > 0 && cfg.EvaluationEpisodes <= 0 {
		cfg.EvaluationEpisodes = 1
	}
	return cfg, nil
}
