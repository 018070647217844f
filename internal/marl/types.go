// Package marl implements the per-agent engine of a cooperative UCB
// multi-agent learner: per-timestep value tables, neighbor-delayed message
// relay, observation accumulation and the optimistic backup.
package marl

// State is an opaque discrete state identifier produced by an encoder.
type State int64

// Action indexes the fixed action set [0, Actions).
type Action int

// NoAction is returned by the policy once the episode horizon is exceeded.
const NoAction Action = -1

// Sample is one observed outcome of a state-action pair.
type Sample struct {
	Reward float64 `json:"reward"`
	Next   State   `json:"next"`
}

// Transition is a single step an agent took itself.
type Transition struct {
	Episode  int     `json:"episode"`
	Timestep int     `json:"timestep"`
	State    State   `json:"state"`
	Action   Action  `json:"action"`
	Next     State   `json:"next"`
	Reward   float64 `json:"reward"`
}

// Sample drops the context and keeps the outcome.
func (t Transition) Sample() Sample {
	return Sample{Reward: t.Reward, Next: t.Next}
}

// Message is the payload relayed between agents. Episode and Timestep are
// the sender's context at the time the transition was observed.
type Message struct {
	Episode  int     `json:"episode"`
	Timestep int     `json:"timestep"`
	Sender   string  `json:"sender"`
	State    State   `json:"state"`
	Action   Action  `json:"action"`
	Next     State   `json:"next"`
	Reward   float64 `json:"reward"`
}

func (m Message) Sample() Sample {
	return Sample{Reward: m.Reward, Next: m.Next}
}

// Outgoing is one addressed copy of a message produced by Broadcast.
type Outgoing struct {
	To      string
	Message Message
	Delay   int
}

// Receiver accepts relayed messages on behalf of an agent.
type Receiver interface {
	ReceiveMessage(msg Message, remaining int)
}

// Postman resolves peer names to receivers for ObserveTransition.
type Postman interface {
	Lookup(name string) (Receiver, bool)
}

type stateAction struct {
	state  State
	action Action
}
