package policy

import "math/rand/v2"

// Transition is one stored experience. Terminal is always false for a
// continuing stream.
type Transition struct {
	State    State
	Action   Action
	Reward   float64
	Next     State
	Terminal bool
}

// ReplayBuffer is a bounded FIFO of transitions.
type ReplayBuffer struct {
	data []Transition
	head int
	size int
}

func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 2000
	}
	return &ReplayBuffer{data: make([]Transition, capacity)}
}

func (b *ReplayBuffer) Push(t Transition) {
	b.data[b.head] = t
	b.head = (b.head + 1) % len(b.data)
	if b.size < len(b.data) {
		b.size++
	}
}

func (b *ReplayBuffer) Len() int { return b.size }

func (b *ReplayBuffer) Cap() int { return len(b.data) }

// Sample draws n distinct transitions uniformly. It returns nil when fewer
// than n are held.
func (b *ReplayBuffer) Sample(rng *rand.Rand, n int) []Transition {
	if n <= 0 || b.size < n {
		return nil
	}
	out := make([]Transition, n)
	for i, idx := range rng.Perm(b.size)[:n] {
		out[i] = b.data[idx]
	}
	return out
}
