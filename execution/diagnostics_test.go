package execution

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFirstErrorSkipsWarnings(t *testing.T) {
	var d Diagnostics
	d.AddWarning(CodeWorkerStartup, "slot %d failed to start", 0)
	d.AddError(CodeStorage, "disk on fire")
	d.AddError(CodeParallelExec, "later error")

	cond, ok := d.FirstError()
	require.True(t, ok)
	require.Equal(t, CodeStorage, cond.Code)
	require.Equal(t, "storage error: disk on fire", cond.Error())
}

func TestMergePreservesSlotOrder(t *testing.T) {
	var leader, w0, w1 Diagnostics
	w0.AddError(CodeStorage, "worker 0 error")
	w1.AddError(CodeStorage, "worker 1 error")

	leader.Merge(&w0)
	leader.Merge(&w1)

	cond, ok := leader.FirstError()
	require.True(t, ok)
	require.Equal(t, "worker 0 error", cond.Message)
	require.Equal(t, 2, leader.Len())
}

func TestMergeSelfIsNoop(t *testing.T) {
	var d Diagnostics
	d.AddError(CodeStorage, "once")
	d.Merge(&d)
	require.Equal(t, 1, d.Len())
}

func TestFirstWithCode(t *testing.T) {
	var d Diagnostics
	d.AddError(CodeStorage, "a")
	d.AddError(CodeTableDefChanged, "b")

	cond, ok := d.FirstWithCode(CodeTableDefChanged)
	require.True(t, ok)
	require.Equal(t, "b", cond.Message)

	_, ok = d.FirstWithCode(CodeQueryInterrupted)
	require.False(t, ok)
}

func TestConditionsReturnsCopy(t *testing.T) {
	var d Diagnostics
	d.AddWarning(CodeWorkerStartup, "w")
	conds := d.Conditions()
	conds[0].Message = "mutated"
	require.Equal(t, "w", d.Conditions()[0].Message)
}
