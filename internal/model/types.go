package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// AgentSnapshot is the persisted form of a trained agent's tables.
type AgentSnapshot struct {
	VersionedRecord
	RunID     string         `json:"run_id"`
	Name      string         `json:"name"`
	Horizon   int            `json:"horizon"`
	Actions   int            `json:"actions"`
	Neighbors map[string]int `json:"neighbors,omitempty"`
	Q         []QRow         `json:"q"`
	N         []CountEntry   `json:"n"`
	V         []ValueEntry   `json:"v"`
	Backups   int            `json:"backups"`
	MeanBonus float64        `json:"mean_bonus"`
}

type QRow struct {
	Timestep int       `json:"timestep"`
	State    int64     `json:"state"`
	Values   []float64 `json:"values"`
}

type CountEntry struct {
	Timestep int   `json:"timestep"`
	State    int64 `json:"state"`
	Action   int   `json:"action"`
	Count    int   `json:"count"`
}

type ValueEntry struct {
	Timestep int     `json:"timestep"`
	State    int64   `json:"state"`
	Value    float64 `json:"value"`
}

// RunRecord describes one training run.
type RunRecord struct {
	VersionedRecord
	ID           string   `json:"id"`
	Scape        string   `json:"scape"`
	Topology     string   `json:"topology"`
	Agents       []string `json:"agents"`
	Episodes     int      `json:"episodes"`
	Horizon      int      `json:"horizon"`
	StateSpace   int      `json:"state_space"`
	GammaHop     int      `json:"gamma_hop"`
	Slow         bool     `json:"connection_slow"`
	GridSize     int      `json:"grid_size,omitempty"`
	LocalRatio   float64  `json:"local_ratio"`
	PerPairMerge bool     `json:"per_pair_merge,omitempty"`
	Trials       int      `json:"trials,omitempty"`
	Seed         int64    `json:"seed"`
	C            float64  `json:"c"`
	Delta        float64  `json:"delta"`
	FinalReward  float64  `json:"final_reward"`
	CreatedAtUTC string   `json:"created_at_utc"`
}

// EpisodeReward is the team reward of one training or evaluation point.
type EpisodeReward struct {
	Episode    int                `json:"episode"`
	Mean       float64            `json:"mean"`
	PerAgent   map[string]float64 `json:"per_agent,omitempty"`
	Evaluation bool               `json:"evaluation,omitempty"`
}
