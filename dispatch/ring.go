package dispatch

import "github.com/foani/CTA-Mission-sub000/envelope"

// ring is a fixed-size drop-oldest buffer of envelopes. Callers hold the
// dispatcher's history lock; the ring itself is not synchronized.
type ring struct {
	items    []envelope.Envelope
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	dropped  uint64
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring{
		items:    make([]envelope.Envelope, capacity),
		capacity: capacity,
	}
}

func (r *ring) push(env envelope.Envelope) {
	if r.size == r.capacity {
		// Drop the oldest to make room
		r.tail = (r.tail + 1) % r.capacity
		r.size--
		r.dropped++
	}
	r.items[r.head] = env
	r.head = (r.head + 1) % r.capacity
	r.size++
}

func (r *ring) drain() []envelope.Envelope {
	if r.size == 0 {
		return nil
	}
	out := make([]envelope.Envelope, 0, r.size)
	for r.size > 0 {
		out = append(out, r.items[r.tail])
		r.items[r.tail] = envelope.Envelope{}
		r.tail = (r.tail + 1) % r.capacity
		r.size--
	}
	return out
}
