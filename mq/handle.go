package mq

import (
	"encoding/binary"

	"github.com/perchdb/parallel/execution"
)

// SendResult is the outcome of a send on a queue endpoint.
type SendResult int8

const (
	SendSuccess SendResult = iota
	// SendWouldBlock means the ring lacks space for the frame and the caller
	// asked not to block. A frame that can never fit (larger than the ring
	// itself, including any zero-capacity ring) also reports SendWouldBlock
	// rather than blocking forever.
	SendWouldBlock
	// SendDetached means the other side stopped participating: the session
	// failed or was killed, or the ring is hard-detached. It is a clean
	// stream end, not corruption.
	SendDetached
)

func (s SendResult) String() string {
	switch s {
	case SendSuccess:
		return "success"
	case SendWouldBlock:
		return "would-block"
	case SendDetached:
		return "detached"
	default:
		return "unknown"
	}
}

// ReceiveResult is the outcome of a receive on a queue endpoint.
type ReceiveResult int8

const (
	ReceiveSuccess ReceiveResult = iota
	ReceiveDetached
)

func (s ReceiveResult) String() string {
	if s == ReceiveSuccess {
		return "success"
	}
	return "detached"
}

// Handle is one endpoint of a Ring: a side-local view holding the shared
// ring, the owning session, and a growable staging buffer used on receive.
// The staging buffer always holds exactly the most recently received payload
// and is regrown transparently, so repeated receives never truncate.
type Handle struct {
	ring  *Ring
	sess  *execution.Context
	local []byte
}

// NewHandle binds an endpoint to ring. localCapacity sizes the initial
// staging buffer; it is independent of (and may be smaller than) the ring
// capacity.
func NewHandle(ring *Ring, localCapacity int, sess *execution.Context) *Handle {
	if localCapacity < 0 {
		localCapacity = 0
	}
	return &Handle{
		ring:  ring,
		sess:  sess,
		local: make([]byte, localCapacity),
	}
}

func (h *Handle) Ring() *Ring { return h.ring }

func (h *Handle) Session() *execution.Context { return h.sess }

// SetDetached transitions the underlying ring's detach state.
func (h *Handle) SetDetached(state DetachState) { h.ring.SetDetached(state) }

func (h *Handle) sessionStopped() bool {
	return h.sess != nil && (h.sess.Failed() || h.sess.Killed())
}

// Send frames payload as a 4-byte little-endian length prefix followed by the
// exact payload bytes. This is the zero-copy raw variant used for binary row
// images; SendString is the text variant.
//
// The writer requires one slack byte beyond the frame, so a frame can only
// land when available >= len(frame)+1. If blocking is false and space is
// short, SendWouldBlock is returned without touching the buffer. If blocking
// is true, the caller suspends until the consumer frees space or the ring is
// detached.
func (h *Handle) Send(payload []byte, blocking bool) SendResult {
	r := h.ring
	r.mu.Lock()
	defer r.mu.Unlock()

	if h.sessionStopped() {
		return SendDetached
	}
	if r.detached == HardDetached {
		return SendDetached
	}

	need := uint64(frameHeaderSize + len(payload))
	if need+1 > r.capacity {
		// Can never fit, blocking would never be satisfied.
		return SendWouldBlock
	}
	for r.available() < need+1 {
		if !blocking {
			return SendWouldBlock
		}
		r.notFull.Wait()
		if h.sessionStopped() {
			return SendDetached
		}
		// Once we are parked waiting for space, any detach (soft included)
		// means "stop blocking". Soft detach only protects a write that has
		// already passed its capacity check.
		if r.detached != Attached {
			return SendDetached
		}
	}

	var hdr [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	r.writeAt(r.widx, hdr[:])
	r.writeAt(r.widx+frameHeaderSize, payload)
	r.widx += need
	r.notEmpty.Signal()
	return SendSuccess
}

// SendString sends a text-style frame: the string bytes plus one trailing
// NUL, so receivers of text frames always see a terminated payload.
func (h *Handle) SendString(msg string, blocking bool) SendResult {
	payload := make([]byte, len(msg)+1)
	copy(payload, msg)
	return h.Send(payload, blocking)
}

// Receive blocks until one full frame is buffered, then copies its payload
// into the staging buffer and returns it along with ReceiveSuccess. The
// returned slice is valid until the next Receive on this handle.
//
// A session failure or kill yields ReceiveDetached immediately. A hard
// detach yields ReceiveDetached once no complete frame remains, so frames
// already in the ring still drain.
func (h *Handle) Receive() ([]byte, ReceiveResult) {
	r := h.ring
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if h.sessionStopped() {
			return nil, ReceiveDetached
		}
		if r.used() >= frameHeaderSize {
			var hdr [frameHeaderSize]byte
			r.readAt(r.ridx, hdr[:])
			msgLen := uint64(binary.LittleEndian.Uint32(hdr[:]))
			if r.used() >= frameHeaderSize+msgLen {
				h.grow(int(msgLen))
				r.readAt(r.ridx+frameHeaderSize, h.local[:msgLen])
				r.ridx += frameHeaderSize + msgLen
				r.notFull.Signal()
				return h.local[:msgLen], ReceiveSuccess
			}
		}
		if r.detached == HardDetached {
			return nil, ReceiveDetached
		}
		r.notEmpty.Wait()
	}
}

// grow ensures the staging buffer holds at least n bytes, doubling from its
// current size. It never shrinks.
func (h *Handle) grow(n int) {
	if len(h.local) >= n {
		return
	}
	newCap := len(h.local)
	if newCap == 0 {
		newCap = 1
	}
	for newCap < n {
		newCap *= 2
	}
	h.local = make([]byte, newCap)
}

// StagingCapacity reports the current staging buffer size.
func (h *Handle) StagingCapacity() int { return len(h.local) }
