package exchange

import (
	"container/heap"

	"github.com/perchdb/parallel/mq"
)

// Comparator orders two row payloads; it returns a negative value when a
// sorts before b. Supplied by the stage's sort spec when the output order
// must be preserved.
type Comparator func(a, b []byte) int

// RecordGather presents the exchange's dop producer queues as one row stream
// to the coordinator. With a nil comparator it consumes round-robin with no
// cross-worker ordering; with a comparator it runs a k-way merge that keeps
// one pending row per live queue and always emits the minimum.
//
// A queue that reports detached is dropped from the rotation or merge set;
// the stream ends when no queues remain. Detachment is a clean end of that
// worker's run, never an error; worker errors surface through the
// coordinator's diagnostic merge after the join.
type RecordGather struct {
	handles []*mq.Handle
	cmp     Comparator

	next   int // round-robin position (unordered mode)
	merge  rowHeap
	primed bool
}

// NewRecordGather builds a gather over all of the exchange's receive
// endpoints. cmp may be nil for unordered consumption.
func NewRecordGather(e *Exchange, cmp Comparator) *RecordGather {
	handles := make([]*mq.Handle, e.Dop())
	for i := range handles {
		handles[i] = e.RecvHandle(i)
	}
	return &RecordGather{handles: handles, cmp: cmp}
}

// Next returns the next row and true, or nil and false once every queue has
// detached. The returned slice is valid until the next call.
func (g *RecordGather) Next() ([]byte, bool) {
	if g.cmp == nil {
		return g.nextUnordered()
	}
	return g.nextOrdered()
}

func (g *RecordGather) nextUnordered() ([]byte, bool) {
	for len(g.handles) > 0 {
		if g.next >= len(g.handles) {
			g.next = 0
		}
		i := g.next
		payload, res := g.handles[i].Receive()
		if res == mq.ReceiveDetached {
			g.handles = append(g.handles[:i], g.handles[i+1:]...)
			continue
		}
		g.next = i + 1
		return payload, true
	}
	return nil, false
}

func (g *RecordGather) nextOrdered() ([]byte, bool) {
	if !g.primed {
		g.primed = true
		g.merge = rowHeap{cmp: g.cmp}
		for i, h := range g.handles {
			if row, ok := receiveCopy(h); ok {
				g.merge.entries = append(g.merge.entries, mergeEntry{row: row, slot: i})
			}
		}
		heap.Init(&g.merge)
	}
	if g.merge.Len() == 0 {
		return nil, false
	}
	top := g.merge.entries[0]
	if row, ok := receiveCopy(g.handles[top.slot]); ok {
		g.merge.entries[0] = mergeEntry{row: row, slot: top.slot}
		heap.Fix(&g.merge, 0)
	} else {
		heap.Pop(&g.merge)
	}
	return top.row, true
}

// receiveCopy pulls one frame and copies it out of the endpoint's staging
// buffer, since pending merge rows outlive the next receive.
func receiveCopy(h *mq.Handle) ([]byte, bool) {
	payload, res := h.Receive()
	if res == mq.ReceiveDetached {
		return nil, false
	}
	row := make([]byte, len(payload))
	copy(row, payload)
	return row, true
}

type mergeEntry struct {
	row  []byte
	slot int
}

// rowHeap is the merge set: a min-heap of one pending row per live queue.
type rowHeap struct {
	entries []mergeEntry
	cmp     Comparator
}

func (h *rowHeap) Len() int           { return len(h.entries) }
func (h *rowHeap) Less(i, j int) bool { return h.cmp(h.entries[i].row, h.entries[j].row) < 0 }
func (h *rowHeap) Swap(i, j int)      { h.entries[i], h.entries[j] = h.entries[j], h.entries[i] }

func (h *rowHeap) Push(x any) { h.entries = append(h.entries, x.(mergeEntry)) }

func (h *rowHeap) Pop() any {
	old := h.entries
	n := len(old)
	x := old[n-1]
	h.entries = old[:n-1]
	return x
}
