package storage

import (
	"encoding/json"
	"errors"

	"ucbmarl/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// CurrentVersion is the record header new snapshots and runs are stamped with.
func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeAgent(snapshot model.AgentSnapshot) ([]byte, error) {
	return json.Marshal(snapshot)
}

func DecodeAgent(data []byte) (model.AgentSnapshot, error) {
	var snapshot model.AgentSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return model.AgentSnapshot{}, err
	}
	if err := checkVersion(snapshot.VersionedRecord); err != nil {
		return model.AgentSnapshot{}, err
	}
	return snapshot, nil
}

func EncodeRun(run model.RunRecord) ([]byte, error) {
	return json.Marshal(run)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodeRewardHistory(history []model.EpisodeReward) ([]byte, error) {
	return json.Marshal(history)
}

func DecodeRewardHistory(data []byte) ([]model.EpisodeReward, error) {
	var history []model.EpisodeReward
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}

func cloneSnapshot(s model.AgentSnapshot) model.AgentSnapshot {
	out := s
	if s.Neighbors != nil {
		out.Neighbors = make(map[string]int, len(s.Neighbors))
		for k, v := range s.Neighbors {
			out.Neighbors[k] = v
		}
	}
	out.Q = make([]model.QRow, len(s.Q))
	for i, row := range s.Q {
		out.Q[i] = model.QRow{Timestep: row.Timestep, State: row.State, Values: append([]float64(nil), row.Values...)}
	}
	out.N = append([]model.CountEntry(nil), s.N...)
	out.V = append([]model.ValueEntry(nil), s.V...)
	return out
}

func cloneRewards(history []model.EpisodeReward) []model.EpisodeReward {
	out := make([]model.EpisodeReward, len(history))
	for i, r := range history {
		out[i] = r
		if r.PerAgent != nil {
			out[i].PerAgent = make(map[string]float64, len(r.PerAgent))
			for k, v := range r.PerAgent {
				out[i].PerAgent[k] = v
			}
		}
	}
	return out
}
