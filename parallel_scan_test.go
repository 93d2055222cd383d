package parallel

import (
	"context"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/perchdb/parallel/execution"
	"github.com/perchdb/parallel/plan"
	"github.com/perchdb/parallel/storage"
)

// numberedRow builds a row image with an 8-byte big-endian key followed by a
// small payload.
func numberedRow(key uint64) storage.Row {
	row := make([]byte, 8+8)
	binary.BigEndian.PutUint64(row, key)
	copy(row[8:], "payload!")
	return row
}

func numberedTable(t *testing.T, partitions, rows int) *storage.Table {
	t.Helper()
	tbl := storage.NewTable("events", partitions, func(r storage.Row) []byte { return r[:8] })
	for i := 0; i < rows; i++ {
		tbl.Append(numberedRow(uint64(i)))
	}
	return tbl
}

func runToEOF(t *testing.T, it RowIterator) [][]byte {
	t.Helper()
	var rows [][]byte
	for {
		row, err := it.Read()
		if err == io.EOF {
			return rows
		}
		require.NoError(t, err)
		cp := make([]byte, len(row))
		copy(cp, row)
		rows = append(rows, cp)
	}
}

func TestParallelScanUnordered(t *testing.T) {
	tbl := numberedTable(t, 4, 500)
	sess := execution.NewContext(context.Background(), nil)
	p := &plan.ScanPlan{Table: "events", RequestedDop: 4, EstimatedRows: 500}

	it, err := NewParallelScanIterator(context.Background(), sess, p, tbl)
	require.NoError(t, err)
	require.NoError(t, it.Init())

	rows := runToEOF(t, it)
	require.NoError(t, it.End())

	seen := map[uint64]bool{}
	for _, r := range rows {
		seen[binary.BigEndian.Uint64(r)] = true
	}
	require.Len(t, seen, 500)
}

func TestParallelScanOrdered(t *testing.T) {
	tbl := numberedTable(t, 3, 300)
	sess := execution.NewContext(context.Background(), nil)
	p := &plan.ScanPlan{
		Table:         "events",
		RequestedDop:  3,
		EstimatedRows: 300,
		Sort:          &plan.SortSpec{KeyLen: 8, Numeric: true},
	}

	it, err := NewParallelScanIterator(context.Background(), sess, p, tbl)
	require.NoError(t, err)
	require.NoError(t, it.Init())

	rows := runToEOF(t, it)
	require.NoError(t, it.End())

	require.Len(t, rows, 300)
	for i, r := range rows {
		require.Equal(t, uint64(i), binary.BigEndian.Uint64(r))
	}
}

func TestParallelScanWithFilter(t *testing.T) {
	tbl := numberedTable(t, 2, 200)
	sess := execution.NewContext(context.Background(), nil)
	p := &plan.ScanPlan{
		Table:         "events",
		RequestedDop:  2,
		EstimatedRows: 200,
		Filter: &plan.Filter{
			Name: "even_keys",
			Fn:   func(row []byte) bool { return binary.BigEndian.Uint64(row)%2 == 0 },
		},
	}

	it, err := NewParallelScanIterator(context.Background(), sess, p, tbl)
	require.NoError(t, err)
	require.NoError(t, it.Init())

	rows := runToEOF(t, it)
	require.NoError(t, it.End())
	require.Len(t, rows, 100)
	for _, r := range rows {
		require.Zero(t, binary.BigEndian.Uint64(r)%2)
	}
}

func TestParallelScanLimitStopsWorkers(t *testing.T) {
	// Small rings so workers block on back-pressure once the limit hits;
	// End must still join everything promptly via detach-then-wait.
	tbl := numberedTable(t, 4, 10000)
	sess := execution.NewContext(context.Background(), nil)
	p := &plan.ScanPlan{Table: "events", RequestedDop: 4, EstimatedRows: 10000, Limit: 10}

	it, err := NewParallelScanIterator(context.Background(), sess, p, tbl,
		WithRingCapacity(256))
	require.NoError(t, err)
	require.NoError(t, it.Init())

	rows := runToEOF(t, it)
	require.Len(t, rows, 10)
	require.NoError(t, it.End())
}

func TestParallelScanTableDefChanged(t *testing.T) {
	tbl := numberedTable(t, 2, 20000)
	sess := execution.NewContext(context.Background(), nil)
	p := &plan.ScanPlan{Table: "events", RequestedDop: 2, EstimatedRows: 20000}

	it, err := NewParallelScanIterator(context.Background(), sess, p, tbl,
		WithRingCapacity(512))
	require.NoError(t, err)
	require.NoError(t, it.Init())

	// Read a little, then change the table definition under the workers.
	for i := 0; i < 5; i++ {
		_, err := it.Read()
		require.NoError(t, err)
	}
	tbl.BumpSchemaEpoch()
	for {
		if _, err := it.Read(); err == io.EOF {
			break
		}
	}

	finalErr := it.End()
	require.ErrorIs(t, finalErr, storage.ErrTableDefChanged)
}

func TestParallelScanKill(t *testing.T) {
	tbl := numberedTable(t, 2, 20000)
	sess := execution.NewContext(context.Background(), nil)
	p := &plan.ScanPlan{Table: "events", RequestedDop: 2, EstimatedRows: 20000}

	it, err := NewParallelScanIterator(context.Background(), sess, p, tbl,
		WithRingCapacity(512))
	require.NoError(t, err)
	require.NoError(t, it.Init())

	_, err = it.Read()
	require.NoError(t, err)
	sess.Kill()

	_, err = it.Read()
	var cond execution.Condition
	require.ErrorAs(t, err, &cond)
	require.Equal(t, execution.CodeQueryInterrupted, cond.Code)

	endErr := it.End()
	require.ErrorAs(t, endErr, &cond)
	require.Equal(t, execution.CodeQueryInterrupted, cond.Code)
}

func TestParallelScanDebugString(t *testing.T) {
	tbl := numberedTable(t, 2, 10)
	sess := execution.NewContext(context.Background(), nil)
	p := &plan.ScanPlan{Table: "events", RequestedDop: 8, EstimatedRows: 10}

	it, err := NewParallelScanIterator(context.Background(), sess, p, tbl)
	require.NoError(t, err)
	require.NoError(t, it.Init())
	require.Equal(t, []string{"Parallel scan on events (dop 2)"}, it.DebugString())

	runToEOF(t, it)
	require.NoError(t, it.End())
}
