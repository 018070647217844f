package platform

import (
	"context"
	"reflect"
	"testing"

	"ucbmarl/internal/scape"
	"ucbmarl/internal/storage"
)

func newTestPolis(t *testing.T) *Polis {
	t.Helper()
	p := NewPolis(Config{Store: storage.NewMemoryStore(), Logger: quietLogger()})
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return p
}

func smallRun(runID string) RunRequest {
	return RunRequest{
		RunID:              runID,
		Scape:              scape.GridSpreadName,
		Agents:             3,
		GridSize:           3,
		LocalRatio:         0.5,
		Topology:           "star",
		GammaHop:           2,
		ConnectionSlow:     true,
		Episodes:           4,
		Horizon:            3,
		Seed:               21,
		Workers:            2,
		EvaluationInterval: 2,
		EvaluationEpisodes: 1,
	}
}

func TestPolisRequiresInit(t *testing.T) {
	p := NewPolis(Config{Store: storage.NewMemoryStore(), Logger: quietLogger()})
	if _, err := p.RunTraining(context.Background(), smallRun("r")); err == nil {
		t.Fatal("expected not initialized error")
	}
	if err := p.RegisterScape("x", scape.GridSpreadFactory); err == nil {
		t.Fatal("expected not initialized error on register")
	}
	if err := NewPolis(Config{}).Init(context.Background()); err == nil {
		t.Fatal("expected store required error")
	}
}

func TestPolisRunTrainingPersistsRun(t *testing.T) {
	ctx := context.Background()
	p := newTestPolis(t)

	result, err := p.RunTraining(ctx, smallRun("run-persist"))
	if err != nil {
		t.Fatalf("run training: %v", err)
	}
	if result.Record.ID != "run-persist" || result.Record.Topology != "star" || len(result.Record.Agents) != 3 {
		t.Fatalf("unexpected record: %+v", result.Record)
	}
	if result.Record.StateSpace == 0 || result.Record.C != 0.02 || result.Record.Delta != 0.1 {
		t.Fatalf("record must carry resolved hyperparameters: %+v", result.Record)
	}

	stored, ok, err := p.Store().GetRun(ctx, "run-persist")
	if err != nil || !ok {
		t.Fatalf("get run: ok=%v err=%v", ok, err)
	}
	if stored.FinalReward != result.Record.FinalReward {
		t.Fatalf("stored final reward %f want %f", stored.FinalReward, result.Record.FinalReward)
	}

	names, err := p.Store().ListAgents(ctx, "run-persist")
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"agent_0", "agent_1", "agent_2"}) {
		t.Fatalf("unexpected agents: %v", names)
	}

	history, ok, err := p.Store().GetRewardHistory(ctx, "run-persist")
	if err != nil || !ok {
		t.Fatalf("get reward history: ok=%v err=%v", ok, err)
	}
	if len(history) != len(result.Training)+len(result.Evaluation) {
		t.Fatalf("unexpected history length %d", len(history))
	}
	if len(p.ActiveRuns()) != 0 {
		t.Fatalf("run should be released, active=%v", p.ActiveRuns())
	}
}

func TestPolisRunTrainingGeneratesRunID(t *testing.T) {
	p := newTestPolis(t)
	req := smallRun("")
	req.Episodes = 1
	req.EvaluationInterval = 0
	result, err := p.RunTraining(context.Background(), req)
	if err != nil {
		t.Fatalf("run training: %v", err)
	}
	if len(result.Record.ID) != 36 {
		t.Fatalf("expected uuid run id, got %q", result.Record.ID)
	}
}

func TestPolisLoadAgentsRestoresTables(t *testing.T) {
	ctx := context.Background()
	p := newTestPolis(t)
	if _, err := p.RunTraining(ctx, smallRun("run-load")); err != nil {
		t.Fatalf("run training: %v", err)
	}

	_, agents, err := p.LoadAgents(ctx, "run-load")
	if err != nil {
		t.Fatalf("load agents: %v", err)
	}
	for _, agent := range agents {
		stored, ok, err := p.Store().GetAgent(ctx, "run-load", agent.Name())
		if err != nil || !ok {
			t.Fatalf("get agent: ok=%v err=%v", ok, err)
		}
		restored := agent.Snapshot()
		if !reflect.DeepEqual(restored.Q, stored.Q) || !reflect.DeepEqual(restored.N, stored.N) {
			t.Fatalf("%s: restored tables differ", agent.Name())
		}
		if !reflect.DeepEqual(restored.Neighbors, stored.Neighbors) {
			t.Fatalf("%s: restored neighbors differ: %v vs %v", agent.Name(), restored.Neighbors, stored.Neighbors)
		}
	}

	if _, _, err := p.LoadAgents(ctx, "missing"); err == nil {
		t.Fatal("expected missing run error")
	}
}

func TestPolisPlayEvaluatesGreedyPolicy(t *testing.T) {
	ctx := context.Background()
	p := newTestPolis(t)
	if _, err := p.RunTraining(ctx, smallRun("run-play")); err != nil {
		t.Fatalf("run training: %v", err)
	}
	result, err := p.Play(ctx, PlayRequest{RunID: "run-play", Episodes: 3, Seed: 4})
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if result.Episodes != 3 || len(result.PerAgent) != 3 {
		t.Fatalf("unexpected play result: %+v", result)
	}
	if result.Mean > 0 {
		t.Fatalf("grid spread rewards are never positive, got %f", result.Mean)
	}
}

func TestPolisResetClearsStore(t *testing.T) {
	ctx := context.Background()
	p := newTestPolis(t)
	if _, err := p.RunTraining(ctx, smallRun("run-reset")); err != nil {
		t.Fatalf("run training: %v", err)
	}
	if err := p.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !p.Started() {
		t.Fatal("reset must leave the polis started")
	}
	if _, ok, err := p.Store().GetRun(ctx, "run-reset"); ok || err != nil {
		t.Fatalf("expected run to be cleared, ok=%v err=%v", ok, err)
	}
}

func TestPolisRegisterScape(t *testing.T) {
	p := newTestPolis(t)
	factory := func(params scape.Params) (scape.Scape, error) {
		return &scriptedScape{names: []string{"agent_0", "agent_1"}, cycles: params.Cycles}, nil
	}
	if err := p.RegisterScape("scripted", factory); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !reflect.DeepEqual(p.Scapes(), []string{scape.GridSpreadName, "scripted"}) {
		t.Fatalf("unexpected scapes: %v", p.Scapes())
	}
	result, err := p.RunTraining(context.Background(), RunRequest{
		RunID:    "run-scripted",
		Scape:    "scripted",
		Episodes: 2,
		Horizon:  2,
		GammaHop: 1,
	})
	if err != nil {
		t.Fatalf("run scripted: %v", err)
	}
	if result.Record.Scape != "scripted" || result.Record.Topology != "full" {
		t.Fatalf("unexpected record: %+v", result.Record)
	}
}

func TestPolisLoadAgentsUsesPerAgentSeeds(t *testing.T) {
	ctx := context.Background()
	p := newTestPolis(t)
	for _, trials := range []int{1, 2} {
		req := smallRun("run-seeds")
		req.RunID = ""
		req.Trials = trials
		result, err := p.RunTraining(ctx, req)
		if err != nil {
			t.Fatalf("trials=%d: run training: %v", trials, err)
		}
		if result.Record.Trials != trials {
			t.Fatalf("trials=%d: record stores %d trials", trials, result.Record.Trials)
		}
		_, agents, err := p.LoadAgents(ctx, result.Record.ID)
		if err != nil {
			t.Fatalf("trials=%d: load agents: %v", trials, err)
		}
		base := TrialSeed(req.Seed, trials-1)
		for i, agent := range agents {
			if got, want := agent.Config().Seed, AgentSeed(base, i); got != want {
				t.Fatalf("trials=%d: %s seed=%d want=%d", trials, agent.Name(), got, want)
			}
		}
		if agents[0].Config().Seed == agents[1].Config().Seed {
			t.Fatal("restored agents must not share a seed")
		}
	}
}

func TestPolisRunTrainingDefaultsHorizonToScapeCycles(t *testing.T) {
	req := smallRun("run-horizon")
	req.Horizon = 0
	req.Episodes = 1
	req.EvaluationInterval = 0
	result, err := newTestPolis(t).RunTraining(context.Background(), req)
	if err != nil {
		t.Fatalf("run training: %v", err)
	}
	if result.Record.Horizon != scape.DefaultGridSpreadCycles {
		t.Fatalf("expected horizon %d, got %d", scape.DefaultGridSpreadCycles, result.Record.Horizon)
	}
}

func TestPolisDescribeScapes(t *testing.T) {
	p := newTestPolis(t)
	if err := p.RegisterScape("scripted", func(scape.Params) (scape.Scape, error) {
		return &scriptedScape{names: []string{"agent_0", "agent_1"}}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	got, err := p.DescribeScapes(3, 4)
	if err != nil {
		t.Fatalf("describe scapes: %v", err)
	}
	want := []scape.Summary{
		{Name: scape.GridSpreadName, Agents: 3, StateSpace: scape.CellEncoder{Size: 4}.StateSpace()},
		{Name: "scripted", Agents: 2, StateSpace: 4},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected summaries: %+v", got)
	}
	if _, err := p.DescribeScapes(20, 2); err == nil {
		t.Fatal("expected error for a grid too small for its agents")
	}
}
