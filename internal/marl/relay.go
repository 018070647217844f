package marl

type envelope struct {
	msg       Message
	remaining int
}

// Relay buffers in-flight messages with their remaining delay.
type Relay struct {
	pending []envelope
}

func (r *Relay) Enqueue(msg Message, remaining int) {
	if remaining < 0 {
		remaining = 0
	}
	r.pending = append(r.pending, envelope{msg: msg, remaining: remaining})
}

// Advance walks the buffer once: envelopes whose countdown reached zero are
// handed to deliver, all others are decremented and kept in order.
func (r *Relay) Advance(deliver func(Message)) int {
	delivered := 0
	kept := r.pending[:0]
	for _, env := range r.pending {
		if env.remaining == 0 {
			deliver(env.msg)
			delivered++
			continue
		}
		env.remaining--
		kept = append(kept, env)
	}
	for i := len(kept); i < len(r.pending); i++ {
		r.pending[i] = envelope{}
	}
	r.pending = kept
	return delivered
}

func (r *Relay) Len() int {
	return len(r.pending)
}
