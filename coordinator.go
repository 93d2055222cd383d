package parallel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/perchdb/parallel/exchange"
	"github.com/perchdb/parallel/execution"
	"github.com/perchdb/parallel/mq"
)

const (
	defaultRingCapacity    = 64 << 10
	defaultStagingCapacity = 1 << 10
	defaultLaunchTimeout   = 10 * time.Second
)

// ErrNoWorkersLaunched is returned when every worker slot failed to start;
// a stage with zero workers cannot run.
var ErrNoWorkersLaunched = errors.New("no parallel workers could be launched")

// WorkFunc is the body of one worker slot. It runs on the worker goroutine
// with the worker's own session and send endpoint, and returns nil on a
// clean finish (including a graceful detach).
type WorkFunc func(slot int, sess *execution.Context, out *mq.Handle) error

// GatherCoordinator owns the worker managers and the exchange for one
// parallel scan stage and drives launch, health-check and join.
type GatherCoordinator struct {
	logger  log.Logger
	tracer  trace.Tracer
	reg     prometheus.Registerer
	metrics *metrics

	sess          *execution.Context
	requestedDop  int
	ringCapacity  int
	localCapacity int
	launchTimeout time.Duration

	ex      *exchange.Exchange
	workers []*WorkerManager
	active  int

	errMu      sync.Mutex
	storageErr error // first table-def-changed style error, beats all diagnostics
	mergeOnce  sync.Once

	// spawn starts a worker goroutine and reports whether the slot started.
	// Replaceable in tests to exercise partial-launch failure.
	spawn func(fn func()) bool

	stopWatch chan struct{}
	stopOnce  sync.Once
}

func NewGatherCoordinator(sess *execution.Context, requestedDop int, options ...Option) (*GatherCoordinator, error) {
	if requestedDop < 1 {
		return nil, fmt.Errorf("degree of parallelism must be at least 1, got %d", requestedDop)
	}
	c := &GatherCoordinator{
		logger:        sess.Logger(),
		tracer:        noop.NewTracerProvider().Tracer("parallel"),
		sess:          sess,
		requestedDop:  requestedDop,
		ringCapacity:  defaultRingCapacity,
		localCapacity: defaultStagingCapacity,
		launchTimeout: defaultLaunchTimeout,
		spawn: func(fn func()) bool {
			go fn()
			return true
		},
		stopWatch: make(chan struct{}),
	}
	for _, option := range options {
		if err := option(c); err != nil {
			return nil, err
		}
	}
	if c.reg == nil {
		c.reg = prometheus.NewRegistry()
	}
	c.metrics = newMetrics(c.reg)
	return c, nil
}

// Init sizes the stage for the partition count the storage layer reports:
// the actual dop is the requested dop clamped to the number of independent
// partitions. It creates the exchange and the worker slots and starts the
// cancellation watcher.
func (c *GatherCoordinator) Init(partitions int) error {
	if partitions < 1 {
		return fmt.Errorf("storage reported %d partitions", partitions)
	}
	dop := c.requestedDop
	if dop > partitions {
		dop = partitions
	}
	c.ex = exchange.New(c.sess, dop, c.ringCapacity, c.localCapacity)
	c.workers = make([]*WorkerManager, dop)
	for i := range c.workers {
		c.workers[i] = newWorkerManager()
	}

	// The ring waits are condition-variable based, so a context cancellation
	// has to be translated into detaches and wakeups explicitly.
	go func() {
		select {
		case <-c.sess.Done():
			c.ex.DetachAll(mq.HardDetached)
			for _, m := range c.workers {
				m.wake()
			}
		case <-c.stopWatch:
		}
	}()
	return nil
}

// Dop returns the actual degree of parallelism, valid after Init.
func (c *GatherCoordinator) Dop() int { return len(c.workers) }

func (c *GatherCoordinator) Exchange() *exchange.Exchange { return c.ex }

func (c *GatherCoordinator) Workers() []*WorkerManager { return c.workers }

// Launch starts one worker per slot in order. After spawning a slot the
// coordinator blocks until that worker reaches READY, COMPLETE or ERROR, so
// startup failures surface early and at most one worker is mid-start at a
// time. A slot whose spawn fails is tolerated: its queue is hard-detached so
// nothing waits on it, and launching continues. Zero started workers fails
// the stage. On any launch failure every already-launched worker's error
// flag is set so in-flight workers unwind on their next queue operation.
func (c *GatherCoordinator) Launch(ctx context.Context, work WorkFunc) error {
	_, span := c.tracer.Start(ctx, "GatherCoordinator/Launch")
	defer span.End()

	for i := range c.workers {
		if c.sess.Failed() || c.sess.Killed() {
			return c.abortLaunch(fmt.Errorf("stage failed before worker %d launched", i))
		}
		m := c.workers[i]
		wsess := c.sess.NewWorkerContext()
		m.sess = wsess
		out := c.ex.SendHandle(i, wsess)
		slot := i

		body := func() {
			defer close(m.done)
			defer c.metrics.workersActive.Dec()
			// End-of-stream for the consumer: frames already in the ring
			// still drain, then the gather drops this queue.
			defer out.SetDetached(mq.HardDetached)
			c.metrics.workersActive.Inc()
			m.SetState(StateReady)
			m.SetState(StateRunning)
			if err := work(slot, wsess, out); err != nil {
				wsess.Fail()
				m.SetState(StateError)
				return
			}
			m.SetState(StateComplete)
		}

		if !c.spawn(body) {
			level.Warn(c.logger).Log("msg", "worker failed to start", "slot", i)
			c.sess.Diagnostics().AddWarning(execution.CodeWorkerStartup, "worker slot %d failed to start", i)
			c.metrics.launchFailures.Inc()
			c.ex.Detach(i, mq.HardDetached)
			c.metrics.queueDetaches.Inc()
			continue
		}
		m.mu.Lock()
		m.launched = true
		m.mu.Unlock()

		// Running counts as a successful start: a fast worker can move
		// Ready -> Running before this wait observes Ready, and SetState
		// replaces the slot's state rather than accumulating bits.
		ok := m.WaitForState(c.sess, StateReady|StateRunning|stateTerminal, c.launchTimeout)
		m.mu.Lock()
		m.active = ok
		m.mu.Unlock()
		if !ok {
			return c.abortLaunch(fmt.Errorf("worker %d did not reach a stable state within %v", slot, c.launchTimeout))
		}
		c.active++
		c.metrics.workersLaunched.Inc()
	}

	if c.active == 0 {
		return c.abortLaunch(ErrNoWorkersLaunched)
	}
	return nil
}

// abortLaunch propagates a launch failure to every worker that did start.
func (c *GatherCoordinator) abortLaunch(err error) error {
	for _, m := range c.workers {
		if m.Launched() && m.sess != nil {
			m.sess.Fail()
		}
	}
	return err
}

// WaitAllFinished detaches every queue and then joins every spawned worker.
// The ordering matters: detach first, wait second, so a worker blocked on a
// full queue with no consumer cannot deadlock once the coordinator stops
// reading. Every code path joins every spawned worker.
func (c *GatherCoordinator) WaitAllFinished(ctx context.Context) {
	_, span := c.tracer.Start(ctx, "GatherCoordinator/WaitAllFinished")
	defer span.End()

	if c.ex != nil {
		c.ex.DetachAll(mq.HardDetached)
		c.metrics.queueDetaches.Add(float64(c.ex.Dop()))
	}
	for _, m := range c.workers {
		if !m.Launched() {
			continue
		}
		if m.Active() && m.State()&stateTerminal == 0 {
			m.WaitForState(c.sess, stateTerminal, 0)
		}
		m.Join()
	}
	c.stopOnce.Do(func() { close(c.stopWatch) })
}

// RecordStorageError stores the first storage error that must take priority
// over all other diagnostics (a table definition change, typically).
func (c *GatherCoordinator) RecordStorageError(err error) {
	c.errMu.Lock()
	if c.storageErr == nil {
		c.storageErr = err
	}
	c.errMu.Unlock()
}

// FinalError computes the stage's single aggregated result after the join.
// Priority: storage errors that invalidate the scan, then the kill signal,
// then the first worker diagnostic in slot order, then a synthetic parallel
// execution error when an error flag was set without any diagnostic.
func (c *GatherCoordinator) FinalError() error {
	c.errMu.Lock()
	storageErr := c.storageErr
	c.errMu.Unlock()
	if storageErr != nil {
		return storageErr
	}

	if c.sess.Killed() {
		return interruptedError(c.sess)
	}

	// Merge exactly once: FinalError may be read again after the join and
	// must not duplicate worker conditions in the coordinator's area.
	c.mergeOnce.Do(func() {
		for _, m := range c.workers {
			if m.sess != nil {
				c.sess.Diagnostics().Merge(m.sess.Diagnostics())
			}
		}
	})
	failed := c.sess.Failed()
	for _, m := range c.workers {
		if m.sess != nil && m.sess.Failed() {
			failed = true
		}
	}
	if cond, ok := c.sess.Diagnostics().FirstError(); ok {
		return cond
	}
	if failed {
		cond := execution.Condition{
			Code:     execution.CodeParallelExec,
			Severity: execution.SeverityError,
			Message:  "parallel execution failed",
		}
		c.sess.Diagnostics().Add(cond)
		return cond
	}
	return nil
}
