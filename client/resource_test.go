package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vishalda/movex/action"
	"github.com/vishalda/movex/checkedstate"
	"github.com/vishalda/movex/dispatch"
)

func counterReducer(state int, a action.Action) int {
	switch a.Type {
	case "inc":
		return state + 1
	default:
		return state
	}
}

func TestNewDefaultsToInitAction(t *testing.T) {
	seen := -1
	reducer := func(state int, a action.Action) int {
		if a.Type == "_init" {
			seen = 1
		}
		return state
	}
	r, err := New(reducer, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, seen)
	assert.Equal(t, 0, r.GetUncheckedState())
}

func TestNewWithInitialSkipsInitAction(t *testing.T) {
	called := false
	reducer := func(state int, a action.Action) int {
		called = true
		return state
	}
	initial := 42
	r, err := New(reducer, &initial)
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, 42, r.GetUncheckedState())
}

// TestS2ReconciliationSuccess is scenario S2 from spec.md §8.
func TestS2ReconciliationSuccess(t *testing.T) {
	initial := 5
	r, err := New(counterReducer, &initial)
	require.NoError(t, err)

	var got checkedstate.Checked[int]
	r.OnUpdated(func(c checkedstate.Checked[int]) { got = c })

	expected, err := checkedstate.Compute(6)
	require.NoError(t, err)

	result, err := r.Reconciliate(action.Checked{Action: action.Action{Type: "inc"}, Checksum: expected.Checksum})
	require.NoError(t, err)

	assert.Equal(t, 6, result.State)
	assert.Equal(t, expected.Checksum, result.Checksum)
	assert.Equal(t, result, got)
}

// TestS3ReconciliationMismatch is scenario S3 from spec.md §8.
func TestS3ReconciliationMismatch(t *testing.T) {
	initial := 5
	r, err := New(counterReducer, &initial)
	require.NoError(t, err)

	// Local state diverges to 7.
	require.NoError(t, r.Dispatch(action.Action{Type: "inc"}))
	require.NoError(t, r.Dispatch(action.Action{Type: "inc"}))
	require.Equal(t, 7, r.GetUncheckedState())
	before := r.Get()

	wrongExpected, err := checkedstate.Compute(6)
	require.NoError(t, err)

	_, err = r.Reconciliate(action.Checked{Action: action.Action{Type: "inc"}, Checksum: wrongExpected.Checksum})
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	after := r.Get()
	assert.Equal(t, before, after, "observable must be untouched on mismatch")
	assert.Equal(t, 7, after.State)
}

func TestDestroyStopsUpdateCallbacksAndIsIdempotent(t *testing.T) {
	r, err := New(counterReducer, nil)
	require.NoError(t, err)

	calls := 0
	r.OnUpdated(func(checkedstate.Checked[int]) { calls++ })

	require.NoError(t, r.Dispatch(action.Action{Type: "inc"}))
	assert.Equal(t, 1, calls)

	r.Destroy()
	r.Destroy() // idempotent

	err = r.Dispatch(action.Action{Type: "inc"})
	assert.ErrorIs(t, err, ErrAlreadyDestroyed)
	assert.Equal(t, 1, calls, "no callback after destroy")
}

func TestApplyActionDoesNotEmitDispatched(t *testing.T) {
	r, err := New(counterReducer, nil)
	require.NoError(t, err)

	dispatchedCalls := 0
	r.OnDispatched(func(dispatch.Event[int]) { dispatchedCalls++ })
	_, err = r.ApplyAction(action.Of(action.Action{Type: "inc"}))
	require.NoError(t, err)
	assert.Equal(t, 1, r.GetUncheckedState())
	assert.Equal(t, 0, dispatchedCalls)
}

func TestReconciliateBatchAtomic(t *testing.T) {
	r, err := New(counterReducer, nil)
	require.NoError(t, err)

	c1, _ := checkedstate.Compute(1)
	c2, _ := checkedstate.Compute(2)
	batch := action.Reconciliatory{
		Actions: []action.Checked{
			{Action: action.Action{Type: "inc"}, Checksum: c1.Checksum},
			{Action: action.Action{Type: "inc"}, Checksum: c2.Checksum},
		},
		FinalChecksum: c2.Checksum,
	}

	result, err := r.ReconciliateBatch(batch)
	require.NoError(t, err)
	assert.Equal(t, 2, result.State)
}

func TestReconciliateBatchRejectsBadFinalChecksum(t *testing.T) {
	r, err := New(counterReducer, nil)
	require.NoError(t, err)

	c1, _ := checkedstate.Compute(1)
	batch := action.Reconciliatory{
		Actions: []action.Checked{
			{Action: action.Action{Type: "inc"}, Checksum: c1.Checksum},
		},
		FinalChecksum: "bogus",
	}

	_, err = r.ReconciliateBatch(batch)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	assert.Equal(t, 0, r.GetUncheckedState())
}
