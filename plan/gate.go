package plan

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNotEligible means the plan is structurally unfit for parallel
	// execution; the caller should fall back to a serial scan.
	ErrNotEligible = errors.New("plan not eligible for parallel execution")
	// ErrBudgetExhausted means the process-wide worker budget could not
	// grant any slot within the timeout.
	ErrBudgetExhausted = errors.New("parallel worker budget exhausted")
)

// Budget is the process-wide concurrent-worker budget. It is explicit shared
// state handed to every gate that should draw from the same pool, never a
// package-level singleton.
type Budget struct {
	mu    sync.Mutex
	cond  *sync.Cond
	total int
	inUse int
}

func NewBudget(total int) *Budget {
	if total < 0 {
		total = 0
	}
	b := &Budget{total: total}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Acquire grants up to n worker slots, blocking until at least one slot is
// free or the timeout elapses. timeout <= 0 means do not block. It returns
// the number of slots granted, zero when nothing could be granted in time.
func (b *Budget) Acquire(n int, timeout time.Duration) int {
	if n <= 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
		timer := time.AfterFunc(timeout, b.cond.Broadcast)
		defer timer.Stop()
	}
	for b.total-b.inUse == 0 {
		if timeout <= 0 || !time.Now().Before(deadline) {
			return 0
		}
		b.cond.Wait()
	}
	granted := b.total - b.inUse
	if granted > n {
		granted = n
	}
	b.inUse += granted
	return granted
}

// Release returns n slots to the pool and wakes blocked acquirers.
func (b *Budget) Release(n int) {
	b.mu.Lock()
	b.inUse -= n
	if b.inUse < 0 {
		b.inUse = 0
	}
	b.mu.Unlock()
	b.cond.Broadcast()
}

func (b *Budget) InUse() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inUse
}

// Gate decides whether a plan may run in parallel and at what width.
type Gate struct {
	Budget *Budget
	// MinRows is the row-estimate threshold below which a parallel stage is
	// not worth its setup cost.
	MinRows int64
	// MaxDop caps the per-stage degree of parallelism.
	MaxDop int
}

// Admit checks structural eligibility and then claims worker slots from the
// budget. On success it returns the granted dop, which is an upper bound:
// the stage must still cope with a lower actual dop if the storage layer
// reports fewer partitions. The caller owns releasing the granted slots.
func (g *Gate) Admit(p *ScanPlan, timeout time.Duration) (int, error) {
	if p.Filter != nil && p.Filter.Volatile {
		return 0, fmt.Errorf("%w: volatile predicate %q", ErrNotEligible, p.Filter.Name)
	}
	if p.EstimatedRows < g.MinRows {
		return 0, fmt.Errorf("%w: estimated rows %d below threshold %d",
			ErrNotEligible, p.EstimatedRows, g.MinRows)
	}
	req := p.RequestedDop
	if req < 1 {
		req = 1
	}
	if g.MaxDop > 0 && req > g.MaxDop {
		req = g.MaxDop
	}
	granted := g.Budget.Acquire(req, timeout)
	if granted == 0 {
		return 0, ErrBudgetExhausted
	}
	return granted, nil
}
