package execution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFailFlag(t *testing.T) {
	sess := NewContext(context.Background(), nil)
	require.False(t, sess.Failed())
	sess.Fail()
	require.True(t, sess.Failed())
	require.False(t, sess.Killed())
}

func TestKillPropagatesToWorkers(t *testing.T) {
	sess := NewContext(context.Background(), nil)
	w := sess.NewWorkerContext()

	sess.Kill()
	require.True(t, sess.Killed())
	require.True(t, w.Killed())
	select {
	case <-w.Done():
	default:
		t.Fatal("worker done channel not closed by parent kill")
	}
}

func TestWorkerErrorStaysLocal(t *testing.T) {
	sess := NewContext(context.Background(), nil)
	w := sess.NewWorkerContext()

	w.Fail()
	require.True(t, w.Failed())
	require.False(t, sess.Failed())

	w.Kill()
	require.True(t, w.Killed())
	require.False(t, sess.Killed())
}

func TestParentContextCancelKills(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sess := NewContext(ctx, nil)
	cancel()
	require.True(t, sess.Killed())
}

func TestSessionIdentity(t *testing.T) {
	sess := NewContext(context.Background(), nil)
	w := sess.NewWorkerContext()
	require.NotEqual(t, sess.ID(), w.ID())
}
