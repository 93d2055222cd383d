package parallel

import (
	"sync"
	"time"

	"github.com/perchdb/parallel/execution"
)

// WorkerState is the lifecycle state of one worker slot. States are bits so
// wait predicates can compose, e.g. StateReady|StateComplete|StateError.
type WorkerState uint32

const (
	StateInit WorkerState = 1 << iota
	StateReady
	StateRunning
	StateComplete
	StateError
)

// stateTerminal matches any state a finished worker can be in.
const stateTerminal = StateComplete | StateError

func (s WorkerState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	default:
		return "mixed"
	}
}

// WorkerManager tracks one worker slot: its lifecycle state, whether a
// goroutine was actually spawned for it, whether it reached StateReady, and
// the join handle. State transitions are driven by the worker itself and
// observed by the coordinator through WaitForState.
type WorkerManager struct {
	mu   sync.Mutex
	cond *sync.Cond

	state    WorkerState
	launched bool
	active   bool

	sess *execution.Context
	done chan struct{}
}

func newWorkerManager() *WorkerManager {
	m := &WorkerManager{
		state: StateInit,
		done:  make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *WorkerManager) State() WorkerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetState transitions the slot and wakes every waiter.
func (m *WorkerManager) SetState(s WorkerState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.cond.Broadcast()
}

// Launched reports whether a goroutine was ever spawned for this slot.
func (m *WorkerManager) Launched() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.launched
}

// Active reports whether the worker reached StateReady after launch.
func (m *WorkerManager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Session returns the worker's execution context, nil before launch.
func (m *WorkerManager) Session() *execution.Context { return m.sess }

// wake re-evaluates blocked WaitForState calls, used by the coordinator's
// cancellation watcher.
func (m *WorkerManager) wake() { m.cond.Broadcast() }

// WaitForState blocks until the slot's state matches mask, the leader
// session is killed, or the timeout elapses (timeout <= 0 waits without a
// deadline). It reports whether the predicate was met.
func (m *WorkerManager) WaitForState(leader *execution.Context, mask WorkerState, timeout time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
		timer := time.AfterFunc(timeout, m.cond.Broadcast)
		defer timer.Stop()
	}
	for m.state&mask == 0 {
		if leader != nil && leader.Killed() {
			return false
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return false
		}
		m.cond.Wait()
	}
	return true
}

// Join blocks until the worker goroutine has exited. Safe to call for any
// launched slot regardless of how the worker ended.
func (m *WorkerManager) Join() { <-m.done }
