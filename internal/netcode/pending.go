// Package netcode implements the client side of the synchronization
// protocol: local prediction, snapshot reconciliation, and remote-entity
// interpolation. It shares the physics rules with the server simulator, so
// prediction and authority cannot drift apart by formula.
package netcode

import "joyride/server/internal/physics"

// PendingBuffer holds inputs not yet confirmed by a snapshot. Sequences are
// strictly increasing; a full buffer evicts the oldest entry.
type PendingBuffer struct {
	data    []physics.Input
	head    int
	count   int
	lastSeq uint64
}

// NewPendingBuffer constructs a pending ring with the given capacity.
func NewPendingBuffer(capacity int) *PendingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &PendingBuffer{data: make([]physics.Input, capacity)}
}

// Push appends an unacknowledged input. Inputs with non-increasing
// sequence numbers are ignored to preserve the ordering invariant.
func (b *PendingBuffer) Push(in physics.Input) bool {
	if b == nil || in.Seq <= b.lastSeq {
		return false
	}
	if b.count == len(b.data) {
		b.head = (b.head + 1) % len(b.data)
		b.count--
	}
	b.data[(b.head+b.count)%len(b.data)] = in
	b.count++
	b.lastSeq = in.Seq
	return true
}

// TrimAcked drops every input the server has already incorporated, i.e.
// all entries with sequence <= ack.
func (b *PendingBuffer) TrimAcked(ack uint64) {
	if b == nil {
		return
	}
	for b.count > 0 && b.data[b.head].Seq <= ack {
		b.head = (b.head + 1) % len(b.data)
		b.count--
	}
}

// Pending returns the unacknowledged inputs in order.
func (b *PendingBuffer) Pending() []physics.Input {
	if b == nil || b.count == 0 {
		return nil
	}
	pending := make([]physics.Input, b.count)
	for i := 0; i < b.count; i++ {
		pending[i] = b.data[(b.head+i)%len(b.data)]
	}
	return pending
}

// Len reports the number of unacknowledged inputs.
func (b *PendingBuffer) Len() int {
	if b == nil {
		return 0
	}
	return b.count
}

// LastSeq reports the highest sequence number ever pushed.
func (b *PendingBuffer) LastSeq() uint64 {
	if b == nil {
		return 0
	}
	return b.lastSeq
}
