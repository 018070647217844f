package storage

import (
	"context"
	"testing"

	"ucbmarl/internal/model"
)

func testSnapshot(runID, name string) model.AgentSnapshot {
	return model.AgentSnapshot{
		VersionedRecord: CurrentVersion(),
		RunID:           runID,
		Name:            name,
		Horizon:         2,
		Actions:         5,
		Neighbors:       map[string]int{"agent_9": 2},
		Q:               []model.QRow{{Timestep: 1, State: 3, Values: []float64{2, 2, 2, 4, 2}}},
		N:               []model.CountEntry{{Timestep: 1, State: 3, Action: 3, Count: 1}},
		V:               []model.ValueEntry{{Timestep: 1, State: 3, Value: 2}},
	}
}

func TestMemoryStoreAgentRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	input := testSnapshot("run-1", "agent_0")
	if err := store.SaveAgent(ctx, input); err != nil {
		t.Fatalf("save agent: %v", err)
	}
	input.Q[0].Values[3] = 100

	output, ok, err := store.GetAgent(ctx, "run-1", "agent_0")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted agent")
	}
	if output.Q[0].Values[3] != 4 {
		t.Fatalf("store must not alias caller slices: %+v", output.Q)
	}

	if _, ok, _ := store.GetAgent(ctx, "run-2", "agent_0"); ok {
		t.Fatal("agents must be scoped by run id")
	}
}

func TestMemoryStoreListAgentsSorted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, name := range []string{"agent_2", "agent_0", "agent_1"} {
		if err := store.SaveAgent(ctx, testSnapshot("run-1", name)); err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
	}
	if err := store.SaveAgent(ctx, testSnapshot("run-2", "agent_5")); err != nil {
		t.Fatalf("save other run: %v", err)
	}

	names, err := store.ListAgents(ctx, "run-1")
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if len(names) != 3 || names[0] != "agent_0" || names[2] != "agent_2" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestMemoryStoreRunAndRewardsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	run := model.RunRecord{VersionedRecord: CurrentVersion(), ID: "run-1", Scape: "spread", Agents: []string{"agent_0"}}
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("save run: %v", err)
	}
	history := []model.EpisodeReward{{Episode: 1, Mean: -2, PerAgent: map[string]float64{"agent_0": -2}}}
	if err := store.SaveRewardHistory(ctx, "run-1", history); err != nil {
		t.Fatalf("save rewards: %v", err)
	}

	gotRun, ok, err := store.GetRun(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("get run: ok=%t err=%v", ok, err)
	}
	if gotRun.Scape != "spread" {
		t.Fatalf("unexpected run: %+v", gotRun)
	}
	gotHistory, ok, err := store.GetRewardHistory(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("get rewards: ok=%t err=%v", ok, err)
	}
	if gotHistory[0].PerAgent["agent_0"] != -2 {
		t.Fatalf("unexpected rewards: %+v", gotHistory)
	}
}

func TestMemoryStoreResetDropsEverything(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := store.SaveAgent(ctx, testSnapshot("run-1", "agent_0")); err != nil {
		t.Fatalf("save agent: %v", err)
	}
	if err := store.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, ok, _ := store.GetAgent(ctx, "run-1", "agent_0"); ok {
		t.Fatal("expected agent to be removed by reset")
	}
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	store := NewMemoryStore()
	if err := store.SaveRun(context.Background(), model.RunRecord{ID: "x"}); err == nil {
		t.Fatal("expected error before init")
	}
}
