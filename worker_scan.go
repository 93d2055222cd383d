package parallel

import (
	"errors"
	"fmt"
	"io"

	"github.com/perchdb/parallel/execution"
	"github.com/perchdb/parallel/mq"
	"github.com/perchdb/parallel/plan"
	"github.com/perchdb/parallel/storage"
)

// WorkerScanIterator is the worker-facing end of the row-iterator contract.
// It runs inside a worker goroutine and pulls raw rows from one storage
// partition, applying the cloned plan's pushed-down predicate.
type WorkerScanIterator struct {
	sess      *execution.Context
	plan      *plan.ScanPlan
	table     *storage.Table
	partition int

	cur      *storage.Cursor
	examined int64
}

var _ RowIterator = (*WorkerScanIterator)(nil)

func NewWorkerScanIterator(sess *execution.Context, p *plan.ScanPlan, table *storage.Table, partition int) *WorkerScanIterator {
	return &WorkerScanIterator{
		sess:      sess,
		plan:      p,
		table:     table,
		partition: partition,
	}
}

func (it *WorkerScanIterator) Init() error {
	cur, err := it.table.BeginScan(it.partition)
	if err != nil {
		return fmt.Errorf("begin scan for partition %d: %w", it.partition, err)
	}
	it.cur = cur
	return nil
}

func (it *WorkerScanIterator) Read() ([]byte, error) {
	for {
		if it.sess.Killed() {
			return nil, interruptedError(it.sess)
		}
		row, err := it.cur.Next()
		if err != nil {
			return nil, err
		}
		if it.plan.Filter != nil && !it.plan.Filter.Fn(row) {
			continue
		}
		it.examined++
		return row, nil
	}
}

// ExaminedRows reports how many rows passed the predicate so far.
func (it *WorkerScanIterator) ExaminedRows() int64 { return it.examined }

func (it *WorkerScanIterator) End() error {
	if it.cur == nil {
		return nil
	}
	return it.cur.Close()
}

func (it *WorkerScanIterator) DebugString() []string {
	return []string{fmt.Sprintf("Parallel block scan on %s, partition %d", it.table.Name(), it.partition)}
}

// runWorkerScan drives one worker's cloned plan to completion: pull a row,
// push it into the queue endpoint, stop on end-of-data or when the consumer
// detaches. A detached queue is a graceful stop, not an error.
func runWorkerScan(
	coord *GatherCoordinator,
	p *plan.ScanPlan,
	table *storage.Table,
	slot int,
	wsess *execution.Context,
	out *mq.Handle,
) error {
	it := NewWorkerScanIterator(wsess, p, table, slot)
	if err := it.Init(); err != nil {
		recordWorkerError(coord, wsess, err)
		return err
	}
	defer it.End()

	for {
		row, err := it.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			recordWorkerError(coord, wsess, err)
			return err
		}
		switch out.Send(row, true) {
		case mq.SendSuccess:
		case mq.SendDetached:
			return nil
		case mq.SendWouldBlock:
			err := fmt.Errorf("row of %d bytes cannot fit an exchange ring of %d bytes",
				len(row), out.Ring().Capacity())
			recordWorkerError(coord, wsess, err)
			return err
		}
	}
}

// recordWorkerError files err in the worker's diagnostics area, routing
// scan-invalidating storage errors to the coordinator so they take priority
// at the end of the stage.
func recordWorkerError(coord *GatherCoordinator, wsess *execution.Context, err error) {
	var cond execution.Condition
	if errors.As(err, &cond) {
		// Already recorded in the worker's diagnostics.
		return
	}
	if errors.Is(err, storage.ErrTableDefChanged) {
		coord.RecordStorageError(err)
		wsess.Diagnostics().AddError(execution.CodeTableDefChanged, "%v", err)
		return
	}
	wsess.Diagnostics().AddError(execution.CodeStorage, "%v", err)
}
