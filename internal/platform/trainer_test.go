package platform

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"reflect"
	"testing"

	"ucbmarl/internal/marl"
	"ucbmarl/internal/model"
	"ucbmarl/internal/scape"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newGrid(t *testing.T, agents, cycles int) *scape.GridSpread {
	t.Helper()
	g, err := scape.NewGridSpread(scape.GridSpreadConfig{Agents: agents, Size: 3, Cycles: cycles, LocalRatio: 0.5})
	if err != nil {
		t.Fatalf("new grid spread: %v", err)
	}
	return g
}

// scriptedScape always reports the same states and a reward equal to the
// sum of the joint action, and records the actions it was given.
type scriptedScape struct {
	names  []string
	cycles int
	steps  int
	seen   []map[string]marl.Action
}

func (s *scriptedScape) Name() string     { return "scripted" }
func (s *scriptedScape) Agents() []string { return s.names }
func (s *scriptedScape) StateSpace() int  { return 4 }

func (s *scriptedScape) Reset(context.Context, int64) (map[string]marl.State, error) {
	s.steps = 0
	return s.states(), nil
}

func (s *scriptedScape) Step(_ context.Context, actions map[string]marl.Action) (scape.StepResult, error) {
	s.steps++
	joint := make(map[string]marl.Action, len(actions))
	sum := 0.0
	for name, a := range actions {
		joint[name] = a
		sum += float64(a)
	}
	s.seen = append(s.seen, joint)
	rewards := make(map[string]float64, len(s.names))
	for _, name := range s.names {
		rewards[name] = sum
	}
	return scape.StepResult{States: s.states(), Rewards: rewards, Done: s.steps >= s.cycles}, nil
}

func (s *scriptedScape) states() map[string]marl.State {
	out := make(map[string]marl.State, len(s.names))
	for i, name := range s.names {
		out[name] = marl.State(i)
	}
	return out
}

func TestTrainerRunRecordsTrainingAndEvaluation(t *testing.T) {
	var seen []model.EpisodeReward
	result, err := NewTrainer(quietLogger()).Run(context.Background(), TrainingConfig{
		RunID:              "run-train",
		Scape:              newGrid(t, 3, 3),
		Topology:           "line",
		GammaHop:           1,
		Episodes:           4,
		Seed:               5,
		EvaluationInterval: 2,
		EvaluationEpisodes: 2,
		OnEpisode:          func(point model.EpisodeReward) { seen = append(seen, point) },
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Training) != 4 || len(seen) != 4 {
		t.Fatalf("expected 4 training points, got %d (callbacks %d)", len(result.Training), len(seen))
	}
	for i, point := range result.Training {
		if point.Episode != i || point.Evaluation || len(point.PerAgent) != 3 {
			t.Fatalf("unexpected training point %d: %+v", i, point)
		}
	}
	if len(result.Evaluation) != 2 || result.Evaluation[0].Episode != 2 || result.Evaluation[1].Episode != 4 {
		t.Fatalf("unexpected evaluation points: %+v", result.Evaluation)
	}
	if !result.Evaluation[0].Evaluation {
		t.Fatal("evaluation points must be flagged")
	}
	if result.FinalReward != result.Training[3].Mean {
		t.Fatalf("final reward %f does not match last episode %f", result.FinalReward, result.Training[3].Mean)
	}
	for _, agent := range result.Agents {
		if agent.Stats().Applications == 0 {
			t.Fatalf("%s never backed up", agent.Name())
		}
	}
	if means := result.BonusMeans(); len(means) != 3 || len(means["agent_0"]) != 4 {
		t.Fatalf("unexpected bonus means: %v", means)
	}
}

func TestTrainerIsDeterministicAcrossWorkerCounts(t *testing.T) {
	run := func(workers int) TrainingResult {
		result, err := NewTrainer(quietLogger()).Run(context.Background(), TrainingConfig{
			Scape:          newGrid(t, 4, 4),
			Topology:       "ring",
			GammaHop:       2,
			ConnectionSlow: true,
			Episodes:       5,
			Seed:           9,
			Workers:        workers,
		})
		if err != nil {
			t.Fatalf("run with %d workers: %v", workers, err)
		}
		return result
	}
	serial := run(1)
	parallel := run(4)
	if !reflect.DeepEqual(serial.Training, parallel.Training) {
		t.Fatalf("rewards differ:\nserial=%+v\nparallel=%+v", serial.Training, parallel.Training)
	}
	for i := range serial.Agents {
		if !reflect.DeepEqual(serial.Agents[i].Snapshot(), parallel.Agents[i].Snapshot()) {
			t.Fatalf("agent %s tables differ between worker counts", serial.Agents[i].Name())
		}
	}
}

func TestTrainerStopsAtHorizonAndFeedsActions(t *testing.T) {
	sc := &scriptedScape{names: []string{"agent_0", "agent_1"}, cycles: 10}
	result, err := NewTrainer(quietLogger()).Run(context.Background(), TrainingConfig{
		Scape:    sc,
		Topology: "full",
		GammaHop: 1,
		Episodes: 1,
		Horizon:  3,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(sc.seen) != 3 {
		t.Fatalf("expected 3 steps bounded by horizon, got %d", len(sc.seen))
	}
	for i, joint := range sc.seen {
		for name, a := range joint {
			if a == marl.NoAction || int(a) >= marl.DefaultActions {
				t.Fatalf("step %d: %s got invalid action %d", i, name, a)
			}
		}
	}
	last := sc.seen[2]
	want := float64(last["agent_0"] + last["agent_1"])
	if result.FinalReward != want {
		t.Fatalf("final reward %f want %f", result.FinalReward, want)
	}
	// One own sample per tick plus the peer's sample from the previous tick;
	// the last tick's messages are still in flight when the episode ends.
	for _, agent := range result.Agents {
		if got := agent.Stats().Applications; got != 5 {
			t.Fatalf("%s: expected 5 backups, got %d", agent.Name(), got)
		}
	}
}

func TestTrainerHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewTrainer(quietLogger()).Run(ctx, TrainingConfig{Scape: newGrid(t, 2, 2), Episodes: 3})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestTrainerValidatesConfig(t *testing.T) {
	cases := []TrainingConfig{
		{Episodes: 1},
		{Scape: newGrid(t, 2, 2), Episodes: 0},
		{Scape: newGrid(t, 2, 2), Episodes: 1, GammaHop: -1},
		{Scape: &scriptedScape{names: []string{"a"}}, Episodes: 1},
		{Scape: newGrid(t, 2, 2), Episodes: 1, EvaluationInterval: -1},
	}
	for i, cfg := range cases {
		if _, err := NewTrainer(quietLogger()).Run(context.Background(), cfg); !errors.Is(err, ErrInvalidTraining) {
			t.Fatalf("case %d: expected invalid training error, got %v", i, err)
		}
	}
	if _, err := NewTrainer(quietLogger()).Run(context.Background(), TrainingConfig{
		Scape: newGrid(t, 2, 2), Episodes: 1, Topology: "moebius",
	}); err == nil {
		t.Fatal("expected unsupported topology error")
	}
}

func TestBuildAgentsAppliesPowerGraph(t *testing.T) {
	cfg, err := normalizeTraining(TrainingConfig{
		Scape:          newGrid(t, 4, 2),
		Topology:       "line",
		GammaHop:       1,
		ConnectionSlow: true,
		Episodes:       1,
	})
	if err != nil {
		t.Fatal(err)
	}
	agents, err := BuildAgents(cfg)
	if err != nil {
		t.Fatalf("build agents: %v", err)
	}
	want := []int{2, 3, 3, 2}
	for i, agent := range agents {
		if agent.CliqueSize() != want[i] {
			t.Fatalf("%s: clique %d want %d", agent.Name(), agent.CliqueSize(), want[i])
		}
	}
	if cfg.Horizon != 2 {
		t.Fatalf("horizon should default to scape cycles, got %d", cfg.Horizon)
	}
}

func TestEpisodeRewardMean(t *testing.T) {
	point := episodeReward(3, map[string]float64{"a": 1, "b": 2, "c": 6}, false)
	if point.Mean != 3 || point.Episode != 3 || len(point.PerAgent) != 3 {
		t.Fatalf("unexpected point: %+v", point)
	}
	if empty := episodeReward(0, nil, true); empty.Mean != 0 || !empty.Evaluation {
		t.Fatalf("unexpected empty point: %+v", empty)
	}
}

func TestTrainerAveragesTrials(t *testing.T) {
	base := TrainingConfig{
		Topology:           "line",
		GammaHop:           1,
		Episodes:           4,
		Horizon:            3,
		Seed:               11,
		EvaluationInterval: 2,
		EvaluationEpisodes: 1,
	}
	run := func(seed int64, trials int) TrainingResult {
		cfg := base
		cfg.Scape = newGrid(t, 3, 3)
		cfg.Seed = seed
		cfg.Trials = trials
		result, err := NewTrainer(quietLogger()).Run(context.Background(), cfg)
		if err != nil {
			t.Fatalf("run seed=%d trials=%d: %v", seed, trials, err)
		}
		return result
	}
	first := run(TrialSeed(base.Seed, 0), 1)
	second := run(TrialSeed(base.Seed, 1), 1)
	both := run(base.Seed, 2)

	if both.Trials != 2 {
		t.Fatalf("expected 2 trials, got %d", both.Trials)
	}
	if len(both.Evaluation) != 2 || len(both.Training) != 4 {
		t.Fatalf("unexpected series lengths: training=%d evaluation=%d", len(both.Training), len(both.Evaluation))
	}
	const eps = 1e-12
	for i, point := range both.Evaluation {
		if point.Episode != first.Evaluation[i].Episode || !point.Evaluation {
			t.Fatalf("evaluation point %d mislabelled: %+v", i, point)
		}
		want := (first.Evaluation[i].Mean + second.Evaluation[i].Mean) / 2
		if math.Abs(point.Mean-want) > eps {
			t.Fatalf("evaluation point %d: mean=%f want=%f", i, point.Mean, want)
		}
		for name, r := range point.PerAgent {
			want := (first.Evaluation[i].PerAgent[name] + second.Evaluation[i].PerAgent[name]) / 2
			if math.Abs(r-want) > eps {
				t.Fatalf("evaluation point %d %s: reward=%f want=%f", i, name, r, want)
			}
		}
	}
	wantFinal := (first.FinalReward + second.FinalReward) / 2
	if math.Abs(both.FinalReward-wantFinal) > eps {
		t.Fatalf("final reward %f want %f", both.FinalReward, wantFinal)
	}
	for i := range both.Agents {
		if !reflect.DeepEqual(both.Agents[i].Snapshot(), second.Agents[i].Snapshot()) {
			t.Fatalf("%s: result must hold the last trial's agents", both.Agents[i].Name())
		}
	}
}

func TestTrainerRejectsNegativeTrials(t *testing.T) {
	_, err := NewTrainer(quietLogger()).Run(context.Background(), TrainingConfig{Scape: newGrid(t, 2, 2), Episodes: 1, Trials: -1})
	if !errors.Is(err, ErrInvalidTraining) {
		t.Fatalf("expected invalid training error, got %v", err)
	}
}
