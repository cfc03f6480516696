package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vishalda/movex/action"
	"github.com/vishalda/movex/checkedstate"
	"github.com/vishalda/movex/observable"
)

func counterReducer(state int, a action.Action) int {
	switch a.Type {
	case "inc":
		return state + 1
	case "_init":
		return 0
	default:
		return state
	}
}

func newCounterDispatcher(t *testing.T, onDispatched func(Event[int])) (*Dispatcher[int], *observable.Observable[checkedstate.Checked[int]]) {
	t.Helper()
	initial, err := checkedstate.Compute(0)
	require.NoError(t, err)
	obs := observable.New(initial, func(a, b checkedstate.Checked[int]) bool { return a.Checksum != b.Checksum })
	return New(obs, counterReducer, onDispatched), obs
}

// TestS1LocalDispatch is scenario S1 from spec.md §8.
func TestS1LocalDispatch(t *testing.T) {
	var events []Event[int]
	d, obs := newCounterDispatcher(t, func(e Event[int]) { events = append(events, e) })

	_, err := d.Dispatch(action.Of(action.Action{Type: "inc"}))
	require.NoError(t, err)

	assert.Equal(t, 1, obs.Get().State)
	require.Len(t, events, 1)
	assert.Equal(t, "inc", events[0].Action.Local().Type)
}

// TestS4TupleDispatch is scenario S4 from spec.md §8.
func TestS4TupleDispatch(t *testing.T) {
	type cardState struct{ Card string }
	initial, err := checkedstate.Compute(cardState{Card: ""})
	require.NoError(t, err)
	obs := observable.New(initial, nil)

	reducer := func(state cardState, a action.Action) cardState {
		if a.Type == "revealCard" {
			payload := a.Payload.(map[string]string)
			return cardState{Card: payload["card"]}
		}
		return state
	}

	var events []Event[cardState]
	d := New(obs, reducer, func(e Event[cardState]) { events = append(events, e) })

	private := action.Action{Type: "revealCard", Payload: map[string]string{"card": "A♠"}}
	public := action.Action{Type: "revealCard", Payload: map[string]string{"card": "?"}}
	tuple := action.OfTuple(private, public)

	_, err = d.Dispatch(tuple)
	require.NoError(t, err)

	assert.Equal(t, "A♠", obs.Get().State.Card)
	require.Len(t, events, 1)
	assert.True(t, events[0].Action.IsTuple())
	assert.Equal(t, "?", events[0].Action.Public().Payload.(map[string]string)["card"])
}

func TestDispatchPropagatesReducerPanic(t *testing.T) {
	initial, err := checkedstate.Compute(0)
	require.NoError(t, err)
	obs := observable.New(initial, nil)
	panicReducer := func(int, action.Action) int { panic("boom") }
	d := New(obs, panicReducer, nil)

	assert.Panics(t, func() {
		_, _ = d.Dispatch(action.Of(action.Action{Type: "inc"}))
	})
}
