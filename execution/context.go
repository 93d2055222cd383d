// Package execution holds the per-session execution state shared between a
// query coordinator and its worker threads: the error flag, the kill signal
// and the diagnostics area.
package execution

import (
	"context"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/google/uuid"
)

// Context is the session handle for one side of a parallel stage. The
// coordinator owns one Context; each worker gets a derived Context via
// NewWorkerContext that shares the coordinator's kill signal but carries its
// own error flag and diagnostics.
//
// Fail and Kill are safe to call from any goroutine. Queue operations and
// state waits check Failed/Killed at the top of every blocking wait.
type Context struct {
	id     uuid.UUID
	logger log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	failed atomic.Bool

	diags Diagnostics
}

// NewContext returns a session bound to ctx. Canceling ctx is equivalent to
// calling Kill.
func NewContext(ctx context.Context, logger log.Logger) *Context {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	cctx, cancel := context.WithCancel(ctx)
	return &Context{
		id:     uuid.New(),
		logger: logger,
		ctx:    cctx,
		cancel: cancel,
	}
}

// NewWorkerContext derives a worker session. The worker observes the parent's
// kill signal, but its error flag and diagnostics are its own so the
// coordinator can merge them per slot after the join.
func (c *Context) NewWorkerContext() *Context {
	cctx, cancel := context.WithCancel(c.ctx)
	return &Context{
		id:     uuid.New(),
		logger: log.With(c.logger, "worker", true),
		ctx:    cctx,
		cancel: cancel,
	}
}

func (c *Context) ID() uuid.UUID { return c.id }

func (c *Context) Logger() log.Logger { return c.logger }

// Fail sets the session error flag. It does not kill the session; blocked
// queue operations observe the flag on their next wakeup.
func (c *Context) Fail() { c.failed.Store(true) }

func (c *Context) Failed() bool { return c.failed.Load() }

// Kill cancels the session and everything derived from it.
func (c *Context) Kill() { c.cancel() }

func (c *Context) Killed() bool { return c.ctx.Err() != nil }

// Done is closed when the session is killed.
func (c *Context) Done() <-chan struct{} { return c.ctx.Done() }

func (c *Context) Diagnostics() *Diagnostics { return &c.diags }
