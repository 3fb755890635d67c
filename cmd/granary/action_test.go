package main

import (
	"errors"
	"testing"

	"github.com/cuemby/granary/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunLister is the minimal clientLike stand-in for awaitRun's tests —
// each call to ListRuns pops the next canned response off the queue.
type fakeRunLister struct {
	responses [][]*types.Run
	err       error
	calls     int
}

func (f *fakeRunLister) ListRuns(workerID, status string, all bool) ([]*types.Run, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return nil, nil
	}
	next := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return next, nil
}

func TestAwaitRunReturnsImmediatelyTerminal(t *testing.T) {
	f := &fakeRunLister{responses: [][]*types.Run{{{ID: "r1", Status: types.RunCompleted}}}}

	run, err := awaitRun(f, "w1")
	require.NoError(t, err)
	assert.Equal(t, "r1", run.ID)
}

func TestAwaitRunPollsUntilTerminal(t *testing.T) {
	f := &fakeRunLister{responses: [][]*types.Run{
		{{ID: "r1", Status: types.RunRunning}},
		{{ID: "r1", Status: types.RunRunning}},
		{{ID: "r1", Status: types.RunFailed}},
	}}

	run, err := awaitRun(f, "w1")
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, run.Status)
	assert.GreaterOrEqual(t, f.calls, 3)
}

func TestAwaitRunPropagatesListError(t *testing.T) {
	f := &fakeRunLister{err: errors.New("daemon unreachable")}

	_, err := awaitRun(f, "w1")
	assert.Error(t, err)
}
