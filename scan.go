package parallel

import (
	"fmt"
	"io"

	"github.com/perchdb/parallel/execution"
	"github.com/perchdb/parallel/storage"
)

// TableScanIterator reads every row of a table in append order. It is the
// serial fallback when a plan is not eligible for parallel execution.
type TableScanIterator struct {
	sess  *execution.Context
	table *storage.Table
	cur   *storage.Cursor
}

var _ RowIterator = (*TableScanIterator)(nil)

func NewTableScanIterator(sess *execution.Context, table *storage.Table) *TableScanIterator {
	return &TableScanIterator{sess: sess, table: table}
}

func (it *TableScanIterator) Init() error {
	it.cur = it.table.BeginTableScan()
	return nil
}

func (it *TableScanIterator) Read() ([]byte, error) {
	if it.sess.Killed() {
		return nil, interruptedError(it.sess)
	}
	return it.cur.Next()
}

func (it *TableScanIterator) End() error {
	if it.cur == nil {
		return nil
	}
	return it.cur.Close()
}

func (it *TableScanIterator) DebugString() []string {
	return []string{"Table scan on " + it.table.Name()}
}

// IndexScanIterator reads every row of a table in key order, optionally
// reversed.
type IndexScanIterator struct {
	sess    *execution.Context
	table   *storage.Table
	reverse bool
	cur     *storage.Cursor
}

var _ RowIterator = (*IndexScanIterator)(nil)

func NewIndexScanIterator(sess *execution.Context, table *storage.Table, reverse bool) *IndexScanIterator {
	return &IndexScanIterator{sess: sess, table: table, reverse: reverse}
}

func (it *IndexScanIterator) Init() error {
	it.cur = it.table.BeginIndexScan(it.reverse)
	return nil
}

func (it *IndexScanIterator) Read() ([]byte, error) {
	if it.sess.Killed() {
		return nil, interruptedError(it.sess)
	}
	return it.cur.Next()
}

func (it *IndexScanIterator) End() error {
	if it.cur == nil {
		return nil
	}
	return it.cur.Close()
}

func (it *IndexScanIterator) DebugString() []string {
	s := "Index scan on " + it.table.Name()
	if it.reverse {
		s += " (reverse)"
	}
	return []string{s}
}

// FollowTailIterator reads new rows appended to a growing table, the access
// pattern of a recursive reference. It never reports end-of-data past rows
// it has not yet seen: it reads up to the stored-row count its producer
// reports and returns io.EOF until that count moves.
type FollowTailIterator struct {
	sess       *execution.Context
	table      *storage.Table
	storedRows func() int
	// maxIterations bounds the number of producer rounds; 0 means unbounded.
	maxIterations int

	readRows       int
	endOfIteration int
	iterations     int
}

var _ RowIterator = (*FollowTailIterator)(nil)

func NewFollowTailIterator(sess *execution.Context, table *storage.Table, storedRows func() int, maxIterations int) *FollowTailIterator {
	if storedRows == nil {
		storedRows = table.StoredRows
	}
	return &FollowTailIterator{
		sess:          sess,
		table:         table,
		storedRows:    storedRows,
		maxIterations: maxIterations,
	}
}

func (it *FollowTailIterator) Init() error {
	it.readRows = 0
	it.endOfIteration = 0
	it.iterations = 0
	return nil
}

func (it *FollowTailIterator) Read() ([]byte, error) {
	if it.sess.Killed() {
		return nil, interruptedError(it.sess)
	}
	stored := it.storedRows()
	if it.readRows == stored {
		return nil, io.EOF
	}
	if it.readRows == it.endOfIteration {
		it.iterations++
		if it.maxIterations > 0 && it.iterations > it.maxIterations {
			cond := execution.Condition{
				Code:     execution.CodeStorage,
				Severity: execution.SeverityError,
				Message:  fmt.Sprintf("recursion depth %d exceeds the limit %d", it.iterations, it.maxIterations),
			}
			it.sess.Diagnostics().Add(cond)
			return nil, cond
		}
		it.endOfIteration = stored
	}
	row, ok := it.table.RowAt(it.readRows)
	if !ok {
		return nil, io.EOF
	}
	it.readRows++
	return row, nil
}

func (it *FollowTailIterator) End() error { return nil }

func (it *FollowTailIterator) DebugString() []string {
	return []string{"Scan new records on " + it.table.Name()}
}
