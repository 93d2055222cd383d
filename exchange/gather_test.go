package exchange

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/perchdb/parallel/execution"
	"github.com/perchdb/parallel/mq"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func encodeRow(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// produce sends the given values on slot i and hard-detaches the queue when
// done, the way a finished worker's teardown does.
func produce(t *testing.T, e *Exchange, sess *execution.Context, slot int, values []uint64, wg *sync.WaitGroup) {
	t.Helper()
	h := e.SendHandle(slot, sess)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, v := range values {
			if res := h.Send(encodeRow(v), true); res != mq.SendSuccess {
				return
			}
		}
		h.SetDetached(mq.HardDetached)
	}()
}

func TestOrderedMerge(t *testing.T) {
	sess := execution.NewContext(context.Background(), nil)
	e := New(sess, 2, 128, 16)

	var wg sync.WaitGroup
	produce(t, e, sess, 0, []uint64{1, 3, 5}, &wg)
	produce(t, e, sess, 1, []uint64{2, 4, 6}, &wg)

	g := NewRecordGather(e, bytes.Compare)
	var got []uint64
	for {
		row, ok := g.Next()
		if !ok {
			break
		}
		got = append(got, binary.BigEndian.Uint64(row))
	}
	wg.Wait()
	require.Equal(t, []uint64{1, 2, 3, 4, 5, 6}, got)
}

func TestOrderedMergeUnevenRuns(t *testing.T) {
	sess := execution.NewContext(context.Background(), nil)
	e := New(sess, 3, 128, 16)

	var wg sync.WaitGroup
	produce(t, e, sess, 0, []uint64{10, 20, 30, 40}, &wg)
	produce(t, e, sess, 1, nil, &wg) // empty run detaches immediately
	produce(t, e, sess, 2, []uint64{15}, &wg)

	g := NewRecordGather(e, bytes.Compare)
	var got []uint64
	for {
		row, ok := g.Next()
		if !ok {
			break
		}
		got = append(got, binary.BigEndian.Uint64(row))
	}
	wg.Wait()
	require.Equal(t, []uint64{10, 15, 20, 30, 40}, got)
}

func TestUnorderedGatherDrainsAllQueues(t *testing.T) {
	sess := execution.NewContext(context.Background(), nil)
	e := New(sess, 2, 128, 16)

	var wg sync.WaitGroup
	produce(t, e, sess, 0, []uint64{1, 2, 3}, &wg)
	produce(t, e, sess, 1, []uint64{100, 200}, &wg)

	g := NewRecordGather(e, nil)
	seen := map[uint64]bool{}
	for {
		row, ok := g.Next()
		if !ok {
			break
		}
		seen[binary.BigEndian.Uint64(row)] = true
	}
	wg.Wait()
	require.Len(t, seen, 5)
	for _, v := range []uint64{1, 2, 3, 100, 200} {
		require.True(t, seen[v], "missing row %d", v)
	}
}

func TestGatherEndsWhenAllDetached(t *testing.T) {
	sess := execution.NewContext(context.Background(), nil)
	e := New(sess, 2, 64, 16)
	e.DetachAll(mq.HardDetached)

	g := NewRecordGather(e, nil)
	_, ok := g.Next()
	require.False(t, ok)

	go2 := NewRecordGather(e, bytes.Compare)
	_, ok = go2.Next()
	require.False(t, ok)
}
