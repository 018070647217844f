package marl

// sampleSet is an insertion-ordered set of samples.
type sampleSet struct {
	seen  map[Sample]struct{}
	items []Sample
}

func (s *sampleSet) add(sample Sample) {
	if s.seen == nil {
		s.seen = make(map[Sample]struct{})
	}
	if _, ok := s.seen[sample]; ok {
		return
	}
	s.seen[sample] = struct{}{}
	s.items = append(s.items, sample)
}

// cell buckets the samples of one (episode, timestep) slot by state-action,
// remembering first-insertion order of the keys.
type cell struct {
	order   []stateAction
	samples map[stateAction]*sampleSet
}

func newCell() *cell {
	return &cell{samples: make(map[stateAction]*sampleSet)}
}

func (c *cell) add(key stateAction, sample Sample) {
	set, ok := c.samples[key]
	if !ok {
		set = &sampleSet{}
		c.samples[key] = set
		c.order = append(c.order, key)
	}
	set.add(sample)
}

func (c *cell) len() int {
	total := 0
	for _, set := range c.samples {
		total += len(set.items)
	}
	return total
}

type slot struct {
	episode  int
	timestep int
}

// Accumulator holds the U-sets (own samples) and V-sets (samples eligible
// for backup) keyed by (episode, timestep).
type Accumulator struct {
	u map[slot]*cell
	v map[slot]*cell
}

func NewAccumulator() *Accumulator {
	return &Accumulator{
		u: make(map[slot]*cell),
		v: make(map[slot]*cell),
	}
}

func (acc *Accumulator) RecordOwn(episode, timestep int, state State, action Action, sample Sample) {
	acc.cellFor(acc.u, episode, timestep).add(stateAction{state, action}, sample)
}

// AddV inserts a sample directly into the V-set, as done for arrived messages.
func (acc *Accumulator) AddV(episode, timestep int, state State, action Action, sample Sample) {
	acc.cellFor(acc.v, episode, timestep).add(stateAction{state, action}, sample)
}

// MergeIntoV copies every U[episode][timestep] sample into the matching
// V-set. Unless perPair is set, every copied sample is filed under the given
// (most recent) action rather than the action it was recorded with.
func (acc *Accumulator) MergeIntoV(episode, timestep int, action Action, perPair bool) {
	own, ok := acc.u[slot{episode, timestep}]
	if !ok {
		return
	}
	target := acc.cellFor(acc.v, episode, timestep)
	for _, key := range own.order {
		dest := key
		if !perPair {
			dest.action = action
		}
		for _, sample := range own.samples[key].items {
			target.add(dest, sample)
		}
	}
}

// PendingV reports how many samples wait in V[episode][timestep].
func (acc *Accumulator) PendingV(episode, timestep int) int {
	c, ok := acc.v[slot{episode, timestep}]
	if !ok {
		return 0
	}
	return c.len()
}

// SamplesV returns the samples waiting for (state, action) in V[episode][timestep].
func (acc *Accumulator) SamplesV(episode, timestep int, state State, action Action) []Sample {
	c, ok := acc.v[slot{episode, timestep}]
	if !ok {
		return nil
	}
	set, ok := c.samples[stateAction{state, action}]
	if !ok {
		return nil
	}
	return append([]Sample(nil), set.items...)
}

// drainV detaches V[episode][timestep], leaving a fresh empty accumulator.
func (acc *Accumulator) drainV(episode, timestep int) *cell {
	key := slot{episode, timestep}
	c, ok := acc.v[key]
	if !ok {
		return nil
	}
	delete(acc.v, key)
	return c
}

// Prune drops every slot older than oldest. Those slots fall outside every
// future backup window.
func (acc *Accumulator) Prune(oldest int) {
	for key := range acc.u {
		if key.episode < oldest {
			delete(acc.u, key)
		}
	}
	for key := range acc.v {
		if key.episode < oldest {
			delete(acc.v, key)
		}
	}
}

func (acc *Accumulator) cellFor(sets map[slot]*cell, episode, timestep int) *cell {
	key := slot{episode, timestep}
	c, ok := sets[key]
	if !ok {
		c = newCell()
		sets[key] = c
	}
	return c
}
