// Package storage provides the partition-aware scan primitive the worker
// iterators read from: an in-memory row store whose rows are opaque byte
// images, split into independent partitions a parallel stage can scan
// concurrently.
package storage

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// ErrTableDefChanged is returned by open cursors when the table definition
// changes mid-scan. It takes priority over all other diagnostics when a
// parallel stage computes its final error.
var ErrTableDefChanged = errors.New("table definition changed during scan")

// Row is one opaque row image.
type Row []byte

// KeyFunc extracts the sort/partition key from a row. The default uses the
// whole row.
type KeyFunc func(Row) []byte

// Table is an in-memory, partition-aware row store. Rows are assigned to
// partitions by key hash so each partition can be scanned by an independent
// worker. Appends and scans may run concurrently; the schema epoch lets the
// table invalidate in-flight cursors the way a DDL change would.
type Table struct {
	name string
	key  KeyFunc

	mu         sync.RWMutex
	rows       []Row   // append order, shared by all partitions
	partitions [][]int // row indexes per partition
	epoch      uint64
}

func NewTable(name string, partitions int, key KeyFunc) *Table {
	if partitions < 1 {
		partitions = 1
	}
	if key == nil {
		key = func(r Row) []byte { return r }
	}
	return &Table{
		name:       name,
		key:        key,
		partitions: make([][]int, partitions),
	}
}

func (t *Table) Name() string { return t.name }

func (t *Table) Partitions() int { return len(t.partitions) }

// Append adds rows, assigning each to a partition by key hash.
func (t *Table) Append(rows ...Row) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range rows {
		p := int(xxhash.Sum64(t.key(r)) % uint64(len(t.partitions)))
		t.partitions[p] = append(t.partitions[p], len(t.rows))
		t.rows = append(t.rows, r)
	}
}

// StoredRows reports the current row count. Follow-tail scans poll it to
// read past their last position as the table grows.
func (t *Table) StoredRows() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// RowAt returns the i'th row in append order.
func (t *Table) RowAt(i int) (Row, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i < 0 || i >= len(t.rows) {
		return nil, false
	}
	return t.rows[i], true
}

// BumpSchemaEpoch simulates a table-definition change: every cursor opened
// before the bump fails its next read with ErrTableDefChanged.
func (t *Table) BumpSchemaEpoch() {
	t.mu.Lock()
	t.epoch++
	t.mu.Unlock()
}

func (t *Table) SchemaEpoch() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.epoch
}

// BeginScan opens a cursor over partition p.
func (t *Table) BeginScan(p int) (*Cursor, error) {
	if p < 0 || p >= len(t.partitions) {
		return nil, fmt.Errorf("partition %d out of range [0,%d)", p, len(t.partitions))
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx := make([]int, len(t.partitions[p]))
	copy(idx, t.partitions[p])
	return &Cursor{t: t, idx: idx, epoch: t.epoch}, nil
}

// BeginTableScan opens a cursor over every row in append order.
func (t *Table) BeginTableScan() *Cursor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx := make([]int, len(t.rows))
	for i := range idx {
		idx[i] = i
	}
	return &Cursor{t: t, idx: idx, epoch: t.epoch}
}

// BeginIndexScan opens a cursor over every row in key order.
func (t *Table) BeginIndexScan(reverse bool) *Cursor {
	t.mu.RLock()
	idx := make([]int, len(t.rows))
	for i := range idx {
		idx[i] = i
	}
	rows := t.rows
	key := t.key
	epoch := t.epoch
	t.mu.RUnlock()

	sort.SliceStable(idx, func(i, j int) bool {
		less := string(key(rows[idx[i]])) < string(key(rows[idx[j]]))
		if reverse {
			return !less && string(key(rows[idx[i]])) != string(key(rows[idx[j]]))
		}
		return less
	})
	return &Cursor{t: t, idx: idx, epoch: epoch}
}

// Cursor iterates one snapshot of row indexes. Next returns io.EOF at the
// end and ErrTableDefChanged if the schema epoch moved since the scan began.
type Cursor struct {
	t     *Table
	idx   []int
	pos   int
	epoch uint64
}

func (c *Cursor) Next() (Row, error) {
	c.t.mu.RLock()
	defer c.t.mu.RUnlock()
	if c.t.epoch != c.epoch {
		return nil, ErrTableDefChanged
	}
	if c.pos >= len(c.idx) {
		return nil, io.EOF
	}
	row := c.t.rows[c.idx[c.pos]]
	c.pos++
	return row, nil
}

func (c *Cursor) Close() error {
	c.idx = nil
	return nil
}
