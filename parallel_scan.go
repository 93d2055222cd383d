package parallel

import (
	"context"
	"fmt"
	"io"

	"github.com/perchdb/parallel/exchange"
	"github.com/perchdb/parallel/execution"
	"github.com/perchdb/parallel/mq"
	"github.com/perchdb/parallel/plan"
	"github.com/perchdb/parallel/storage"
)

// ParallelScanIterator is the coordinator-facing end of a parallel scan
// stage. Init sizes the exchange, builds the record gather and launches the
// workers; Read pulls merged rows; End joins every worker and surfaces the
// stage's single aggregated error.
type ParallelScanIterator struct {
	ctx   context.Context
	sess  *execution.Context
	plan  *plan.ScanPlan
	table *storage.Table

	coord  *GatherCoordinator
	gather *exchange.RecordGather

	rowsRead int64
	limitHit bool
}

var _ RowIterator = (*ParallelScanIterator)(nil)

func NewParallelScanIterator(
	ctx context.Context,
	sess *execution.Context,
	p *plan.ScanPlan,
	table *storage.Table,
	options ...Option,
) (*ParallelScanIterator, error) {
	coord, err := NewGatherCoordinator(sess, p.RequestedDop, options...)
	if err != nil {
		return nil, err
	}
	return &ParallelScanIterator{
		ctx:   ctx,
		sess:  sess,
		plan:  p,
		table: table,
		coord: coord,
	}, nil
}

func (it *ParallelScanIterator) Init() error {
	if err := it.init(); err != nil {
		it.sess.Fail()
		// Whatever did launch must still be joined; no error path may leak
		// a worker.
		it.coord.WaitAllFinished(it.ctx)
		return err
	}
	return nil
}

func (it *ParallelScanIterator) init() error {
	if err := it.coord.Init(it.table.Partitions()); err != nil {
		return err
	}
	var cmp exchange.Comparator
	if it.plan.Sort != nil {
		cmp = it.plan.Sort.Comparator()
	}
	it.gather = exchange.NewRecordGather(it.coord.Exchange(), cmp)

	clones := it.plan.Clone(it.coord.Dop())
	return it.coord.Launch(it.ctx, func(slot int, wsess *execution.Context, out *mq.Handle) error {
		return runWorkerScan(it.coord, clones[slot], it.table, slot, wsess, out)
	})
}

func (it *ParallelScanIterator) Read() ([]byte, error) {
	if it.sess.Killed() {
		return nil, interruptedError(it.sess)
	}
	if it.limitHit {
		return nil, io.EOF
	}
	row, ok := it.gather.Next()
	if !ok {
		return nil, io.EOF
	}
	it.rowsRead++
	it.coord.metrics.rowsGathered.Inc()
	it.coord.metrics.bytesGathered.Add(float64(len(row)))

	if it.plan.Limit > 0 && it.rowsRead >= it.plan.Limit {
		it.limitHit = true
		// The stage's needs are satisfied. Soft-detach so workers stop
		// blocking on full queues while any in-flight write still lands.
		it.coord.Exchange().DetachAll(mq.SoftDetached)
		it.coord.metrics.queueDetaches.Add(float64(it.coord.Exchange().Dop()))
	}
	return row, nil
}

func (it *ParallelScanIterator) End() error {
	it.coord.WaitAllFinished(it.ctx)
	return it.coord.FinalError()
}

func (it *ParallelScanIterator) DebugString() []string {
	return []string{fmt.Sprintf("Parallel scan on %s (dop %d)", it.table.Name(), it.coord.Dop())}
}
