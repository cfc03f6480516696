// Package dispatch binds a reducer to an observable of checked state,
// turning an incoming action (or private/public action tuple) into a state
// update plus a dispatched event.
package dispatch

import (
	"github.com/vishalda/movex/action"
	"github.com/vishalda/movex/checkedstate"
	"github.com/vishalda/movex/observable"
)

// Reducer is total over the action type: it must handle every Action.Type
// the application defines, returning the next state for (state, action).
type Reducer[S any] func(state S, a action.Action) S

// Event is what Dispatcher hands to OnDispatched after a successful dispatch.
type Event[S any] struct {
	Action action.OrTuple
	Prev   checkedstate.Checked[S]
	Next   checkedstate.Checked[S]
}

// Dispatcher drives one Observable of checked state with one Reducer.
type Dispatcher[S any] struct {
	obs         *observable.Observable[checkedstate.Checked[S]]
	reducer     Reducer[S]
	onDispatch  func(Event[S])
	unsubscribe observable.Unsubscribe
}

// New constructs a Dispatcher bound to obs and reducer. onDispatched, if
// non-nil, is invoked after every successful Dispatch.
func New[S any](obs *observable.Observable[checkedstate.Checked[S]], reducer Reducer[S], onDispatched func(Event[S])) *Dispatcher[S] {
	return &Dispatcher[S]{obs: obs, reducer: reducer, onDispatch: onDispatched}
}

// Dispatch extracts the local action (the private half of a tuple, or the
// action itself), runs the reducer, recomputes the checksum, updates the
// bound observable, and emits a dispatched event. Reducer panics are not
// recovered: they propagate to the caller, matching spec.md §4.4's "reducer
// exceptions are NOT caught".
func (d *Dispatcher[S]) Dispatch(a action.OrTuple) (checkedstate.Checked[S], error) {
	prev := d.obs.Get()
	localAction := a.Local()

	next := d.reducer(prev.State, localAction)
	checkedNext, err := checkedstate.Compute(next)
	if err != nil {
		return checkedstate.Checked[S]{}, err
	}

	d.obs.Update(checkedNext)

	if d.onDispatch != nil {
		d.onDispatch(Event[S]{Action: a, Prev: prev, Next: checkedNext})
	}
	return checkedNext, nil
}

// Unsubscribe tears down this dispatcher's hold on its observable, if it
// registered one. Safe to call even if no subscription was registered.
func (d *Dispatcher[S]) Unsubscribe() {
	if d.unsubscribe != nil {
		d.unsubscribe()
	}
}
