// Package parallel implements the intra-process data-exchange and
// worker-orchestration layer that lets a query engine execute one scan stage
// across multiple cooperating goroutines and reassemble the results for a
// single-threaded consumer.
//
// The coordinator side is ParallelScanIterator, which launches workers
// through a GatherCoordinator and reads their merged output; the worker side
// is WorkerScanIterator, which pulls rows from one storage partition and
// pushes them into its queue endpoint.
package parallel

import (
	"github.com/perchdb/parallel/execution"
)

// RowIterator is the polymorphic row-source contract shared by the closed
// set of scan variants (table scan, index scan, parallel scan, worker block
// scan, follow-tail scan). Read returns the next row image, io.EOF when the
// source is exhausted, or any other error on failure. The returned slice is
// valid until the next Read.
type RowIterator interface {
	Init() error
	Read() ([]byte, error)
	End() error
	DebugString() []string
}

// interruptedError records and returns the query-interrupted condition for a
// killed session.
func interruptedError(sess *execution.Context) error {
	cond := execution.Condition{
		Code:     execution.CodeQueryInterrupted,
		Severity: execution.SeverityError,
		Message:  "query was interrupted",
	}
	sess.Diagnostics().Add(cond)
	return cond
}
