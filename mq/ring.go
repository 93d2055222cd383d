// Package mq implements the bounded single-producer single-consumer byte
// ring that moves row frames between a worker and the coordinator, together
// with the per-side queue endpoint.
//
// Exactly one goroutine sends and exactly one receives on a given Ring. Each
// side mutates only its own offset and reads the other's, so one mutex and a
// pair of condition variables are all the synchronization needed.
package mq

import "sync"

// DetachState is the cooperative-termination state of a Ring.
type DetachState int32

const (
	// Attached is the normal operating state.
	Attached DetachState = iota
	// SoftDetached tells a producer to stop blocking but still lets a write
	// that already passed its capacity check land. The coordinator uses it
	// when its own needs are satisfied (a LIMIT, say) but a worker may be
	// mid-write.
	SoftDetached
	// HardDetached aborts the queue: both sides give up immediately.
	HardDetached
)

func (s DetachState) String() string {
	switch s {
	case Attached:
		return "attached"
	case SoftDetached:
		return "soft-detached"
	case HardDetached:
		return "hard-detached"
	default:
		return "unknown"
	}
}

// frameHeaderSize is the length prefix in front of every payload.
const frameHeaderSize = 4

// Ring is a fixed-capacity byte ring. Offsets are monotonic; the live byte
// count is widx-ridx and never exceeds capacity. A capacity of zero is legal
// and reports zero availability forever, so every send on it would block.
type Ring struct {
	mu       sync.Mutex
	notFull  *sync.Cond // producer waits here for the consumer to free space
	notEmpty *sync.Cond // consumer waits here for the producer to publish a frame

	buf      []byte
	capacity uint64
	widx     uint64 // total bytes written
	ridx     uint64 // total bytes consumed
	detached DetachState
}

func NewRing(capacity int) *Ring {
	if capacity < 0 {
		capacity = 0
	}
	r := &Ring{
		buf:      make([]byte, capacity),
		capacity: uint64(capacity),
	}
	r.notFull = sync.NewCond(&r.mu)
	r.notEmpty = sync.NewCond(&r.mu)
	return r
}

func (r *Ring) Capacity() int { return int(r.capacity) }

// Buffered returns the number of unread bytes currently in the ring.
func (r *Ring) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.used())
}

func (r *Ring) Detached() DetachState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.detached
}

// SetDetached transitions the detach state and wakes both sides so blocked
// goroutines can re-evaluate their exit conditions.
func (r *Ring) SetDetached(state DetachState) {
	r.mu.Lock()
	r.detached = state
	r.mu.Unlock()
	r.notFull.Broadcast()
	r.notEmpty.Broadcast()
}

// used and available require r.mu to be held.
func (r *Ring) used() uint64      { return r.widx - r.ridx }
func (r *Ring) available() uint64 { return r.capacity - r.used() }

// writeAt copies p into the ring at the given monotonic offset, splitting the
// copy at the wraparound boundary. Requires r.mu held and space verified.
func (r *Ring) writeAt(idx uint64, p []byte) {
	pos := idx % r.capacity
	n := copy(r.buf[pos:], p)
	if n < len(p) {
		copy(r.buf, p[n:])
	}
}

// readAt copies len(p) bytes out of the ring starting at the given monotonic
// offset. Requires r.mu held and the bytes verified present.
func (r *Ring) readAt(idx uint64, p []byte) {
	pos := idx % r.capacity
	n := copy(p, r.buf[pos:])
	if n < len(p) {
		copy(p[n:], r.buf)
	}
}
