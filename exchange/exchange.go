// Package exchange owns the per-worker message queues of one parallel scan
// stage and gathers their row streams back into a single stream for the
// coordinator.
package exchange

import (
	"github.com/perchdb/parallel/execution"
	"github.com/perchdb/parallel/mq"
)

// Exchange holds one ring per worker slot plus the coordinator-side receive
// endpoints. It is created by the coordinator before any worker launches; the
// slot arrays are written once here and read-only afterwards, so no lock
// guards them.
type Exchange struct {
	sess     *execution.Context
	rings    []*mq.Ring
	recv     []*mq.Handle
	localCap int
}

// New creates an exchange with dop rings of ringCapacity bytes each.
// localCapacity sizes each endpoint's initial staging buffer.
func New(sess *execution.Context, dop, ringCapacity, localCapacity int) *Exchange {
	e := &Exchange{
		sess:     sess,
		rings:    make([]*mq.Ring, dop),
		recv:     make([]*mq.Handle, dop),
		localCap: localCapacity,
	}
	for i := 0; i < dop; i++ {
		e.rings[i] = mq.NewRing(ringCapacity)
		e.recv[i] = mq.NewHandle(e.rings[i], localCapacity, sess)
	}
	return e
}

func (e *Exchange) Dop() int { return len(e.rings) }

// RecvHandle returns the coordinator-side endpoint for slot i.
func (e *Exchange) RecvHandle(i int) *mq.Handle { return e.recv[i] }

// SendHandle builds the worker-side endpoint for slot i, bound to the
// worker's own session so the worker's error flag unblocks its sends.
func (e *Exchange) SendHandle(i int, sess *execution.Context) *mq.Handle {
	return mq.NewHandle(e.rings[i], e.localCap, sess)
}

// Detach transitions slot i's ring.
func (e *Exchange) Detach(i int, state mq.DetachState) {
	e.rings[i].SetDetached(state)
}

// DetachAll transitions every ring and wakes everything blocked on them.
func (e *Exchange) DetachAll(state mq.DetachState) {
	for _, r := range e.rings {
		r.SetDetached(state)
	}
}
