package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"ucbmarl/internal/model"
)

func TestDecodeAgentFixture(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "agent_snapshot_v1.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	snapshot, err := DecodeAgent(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if snapshot.Name != "agent_0" || snapshot.RunID != "run-fixture" {
		t.Fatalf("unexpected snapshot identity: %s/%s", snapshot.RunID, snapshot.Name)
	}
	if len(snapshot.Q) != 1 || snapshot.Q[0].Values[2] != 3.5 {
		t.Fatalf("unexpected q rows: %+v", snapshot.Q)
	}
	if snapshot.Neighbors["agent_1"] != 1 {
		t.Fatalf("unexpected neighbors: %+v", snapshot.Neighbors)
	}
}

func TestDecodeRunRejectsOldSchema(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "run_v0.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	_, err = DecodeRun(data)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}

func TestRewardHistoryCodecKeepsEvaluationFlag(t *testing.T) {
	input := []model.EpisodeReward{
		{Episode: 1, Mean: -3},
		{Episode: 10, Mean: -1.5, Evaluation: true},
	}
	data, err := EncodeRewardHistory(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	output, err := DecodeRewardHistory(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(output) != 2 || !output[1].Evaluation || output[0].Evaluation {
		t.Fatalf("unexpected history: %+v", output)
	}
}
