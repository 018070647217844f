package marl

import "testing"

func TestRelayAdvanceDeliversAtZeroAndDecrementsOthers(t *testing.T) {
	var relay Relay
	relay.Enqueue(Message{Sender: "a", Timestep: 1}, 0)
	relay.Enqueue(Message{Sender: "b", Timestep: 2}, 2)
	relay.Enqueue(Message{Sender: "c", Timestep: 3}, 1)

	var got []string
	deliver := func(msg Message) { got = append(got, msg.Sender) }

	if n := relay.Advance(deliver); n != 1 || got[0] != "a" {
		t.Fatalf("first advance: delivered=%d got=%v", n, got)
	}
	if relay.Len() != 2 {
		t.Fatalf("expected 2 in flight, got %d", relay.Len())
	}
	if n := relay.Advance(deliver); n != 1 || got[1] != "c" {
		t.Fatalf("second advance: delivered=%d got=%v", n, got)
	}
	if n := relay.Advance(deliver); n != 1 || got[2] != "b" {
		t.Fatalf("third advance: delivered=%d got=%v", n, got)
	}
	if relay.Len() != 0 {
		t.Fatalf("expected empty relay, got %d", relay.Len())
	}
}

func TestRelayPreservesOrderForEqualCountdowns(t *testing.T) {
	var relay Relay
	for _, sender := range []string{"x", "y", "z"} {
		relay.Enqueue(Message{Sender: sender}, 1)
	}
	var got []string
	relay.Advance(func(msg Message) { got = append(got, msg.Sender) })
	relay.Advance(func(msg Message) { got = append(got, msg.Sender) })
	if len(got) != 3 || got[0] != "x" || got[1] != "y" || got[2] != "z" {
		t.Fatalf("unexpected delivery order: %v", got)
	}
}

func TestMessageDelayMatchesHopDistance(t *testing.T) {
	for _, d := range []int{0, 1, 3} {
		recipient := newTestAgent(t, "agent_1", []string{"agent_0", "agent_1"}, 5, 2)
		sent := Message{Episode: 0, Timestep: 1, Sender: "agent_0", State: 100, Action: 2, Next: 101, Reward: 0.5}
		recipient.ReceiveMessage(sent, d)

		for tick := 0; tick <= d; tick++ {
			recipient.Observe(Transition{Episode: 0, Timestep: tick + 1, State: 1, Action: 0, Next: 2})
			got := recipient.Accumulator().SamplesV(0, 1, 100, 2)
			if tick < d && len(got) != 0 {
				t.Fatalf("d=%d: merged early at drain %d", d, tick)
			}
			if tick == d && (len(got) != 1 || got[0] != sent.Sample()) {
				t.Fatalf("d=%d: expected merge on drain %d, got %v", d, tick, got)
			}
		}
		if recipient.PendingMessages() != 0 {
			t.Fatalf("d=%d: relay should be empty, has %d", d, recipient.PendingMessages())
		}
	}
}
