// Package client implements the Client Resource: the per-instance owner of
// one observable of checked state, exposing optimistic local dispatch,
// direct action application, and master-driven reconciliation.
package client

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	messagediff "gopkg.in/d4l3k/messagediff.v1"

	"github.com/vishalda/movex/action"
	"github.com/vishalda/movex/checkedstate"
	"github.com/vishalda/movex/dispatch"
	"github.com/vishalda/movex/observable"
)

var log = logrus.WithField("prefix", "client")

const (
	stateFresh int32 = iota
	stateLive
	stateDestroyed
)

var (
	// ErrAlreadyDestroyed is returned by the state-changing operations
	// (Dispatch, DispatchPrivate, ApplyAction, Reconciliate,
	// ReconciliateBatch, Update) on a Resource whose Destroy has already run.
	ErrAlreadyDestroyed = errors.New("resource already destroyed")
	// ErrChecksumMismatch is returned by Reconciliate when the checksum the
	// master expects does not match the checksum the local reducer produces.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// UpdatedEvent carries the resource's new checked state after any mutation
// (dispatch, applyAction, reconciliation, or a direct update).
type UpdatedEvent[S any] = checkedstate.Checked[S]

// Resource owns one observable of checked state for one logical instance. It
// is the Client Resource of spec.md §4.4. The zero value is not usable; call
// New.
type Resource[S any] struct {
	mu         sync.Mutex
	state      int32
	obs        *observable.Observable[checkedstate.Checked[S]]
	dispatcher *dispatch.Dispatcher[S]
	reducer    dispatch.Reducer[S]

	teardownMu sync.Mutex
	teardown   []func()

	dispatchedNextID uint64
	dispatchedSubs   []dispatchedEntry[S]
}

type dispatchedEntry[S any] struct {
	id uint64
	fn func(dispatch.Event[S])
}

// initAction is dispatched to the reducer to compute the default initial
// state when New is called without one, mirroring spec.md §3's
// `reducer(undefined, {type: "_init"})`.
var initAction = action.Action{Type: "_init"}

// New constructs a Client Resource bound to reducer. If initial is nil, the
// initial state is reducer(zero value, {type: "_init"}).
func New[S any](reducer dispatch.Reducer[S], initial *S) (*Resource[S], error) {
	var seed S
	if initial != nil {
		seed = *initial
	} else {
		seed = reducer(seed, initAction)
	}
	checked, err := checkedstate.Compute(seed)
	if err != nil {
		return nil, err
	}

	r := &Resource[S]{reducer: reducer}
	r.obs = observable.New(checked, func(a, b checkedstate.Checked[S]) bool { return a.Checksum != b.Checksum })
	r.dispatcher = dispatch.New(r.obs, reducer, r.emitDispatched)
	return r, nil
}

func (r *Resource[S]) emitDispatched(e dispatch.Event[S]) {
	r.mu.Lock()
	snapshot := make([]dispatchedEntry[S], len(r.dispatchedSubs))
	copy(snapshot, r.dispatchedSubs)
	r.mu.Unlock()
	for _, entry := range snapshot {
		entry.fn(e)
	}
}

func (r *Resource[S]) markLive() {
	atomic.CompareAndSwapInt32(&r.state, stateFresh, stateLive)
}

func (r *Resource[S]) checkAlive() error {
	if atomic.LoadInt32(&r.state) == stateDestroyed {
		return ErrAlreadyDestroyed
	}
	r.markLive()
	return nil
}

// Dispatch dispatches a single public action, updating state optimistically.
func (r *Resource[S]) Dispatch(public action.Action) error {
	if err := r.checkAlive(); err != nil {
		return err
	}
	_, err := r.dispatcher.Dispatch(action.Of(public))
	return err
}

// DispatchPrivate dispatches a tuple: the local peer applies private, and
// the emitted dispatched event carries both halves so the outer binding can
// transmit only public to the master/other peers.
func (r *Resource[S]) DispatchPrivate(private, public action.Action) error {
	if err := r.checkAlive(); err != nil {
		return err
	}
	_, err := r.dispatcher.Dispatch(action.OfTuple(private, public))
	return err
}

// ApplyAction applies actionOrTuple synchronously and returns the resulting
// checked state, without emitting a dispatched event.
func (r *Resource[S]) ApplyAction(a action.OrTuple) (checkedstate.Checked[S], error) {
	if err := r.checkAlive(); err != nil {
		return checkedstate.Checked[S]{}, err
	}
	prev := r.obs.Get()
	next := r.reducer(prev.State, a.Local())
	checked, err := checkedstate.Compute(next)
	if err != nil {
		return checkedstate.Checked[S]{}, err
	}
	r.obs.Update(checked)
	return checked, nil
}

// Reconciliate applies a master-authoritative public action, verifying its
// post-apply checksum against ca.Checksum before committing. On mismatch the
// observable is left untouched and ErrChecksumMismatch is returned; the
// caller typically follows up with Get to request a fresh snapshot.
func (r *Resource[S]) Reconciliate(ca action.Checked) (checkedstate.Checked[S], error) {
	if err := r.checkAlive(); err != nil {
		return checkedstate.Checked[S]{}, err
	}
	prev := r.obs.Get()
	next := r.reducer(prev.State, ca.Action)
	checked, err := checkedstate.Compute(next)
	if err != nil {
		return checkedstate.Checked[S]{}, err
	}

	if checked.Checksum != ca.Checksum {
		if log.Logger.IsLevelEnabled(logrus.DebugLevel) {
			diff, _ := messagediff.PrettyDiff(prev.State, next)
			log.WithField("expectedChecksum", ca.Checksum).
				WithField("gotChecksum", checked.Checksum).
				WithField("diff", diff).
				Debug("reconciliation checksum mismatch")
		}
		return checkedstate.Checked[S]{}, ErrChecksumMismatch
	}

	r.obs.Update(checked)
	return checked, nil
}

// ReconciliateBatch applies a ReconciliatoryActions batch atomically: every
// action in the sequence is applied in order, and the batch's FinalChecksum
// is checked against the end state. If any intermediate checksum fails, or
// the final checksum fails, the observable is left at its pre-batch value.
func (r *Resource[S]) ReconciliateBatch(batch action.Reconciliatory) (checkedstate.Checked[S], error) {
	if err := r.checkAlive(); err != nil {
		return checkedstate.Checked[S]{}, err
	}
	prev := r.obs.Get()
	state := prev.State
	for _, ca := range batch.Actions {
		next := r.reducer(state, ca.Action)
		checked, err := checkedstate.Compute(next)
		if err != nil {
			return checkedstate.Checked[S]{}, err
		}
		if checked.Checksum != ca.Checksum {
			return checkedstate.Checked[S]{}, ErrChecksumMismatch
		}
		state = next
	}
	finalChecked, err := checkedstate.Compute(state)
	if err != nil {
		return checkedstate.Checked[S]{}, err
	}
	if finalChecked.Checksum != batch.FinalChecksum {
		return checkedstate.Checked[S]{}, ErrChecksumMismatch
	}
	r.obs.Update(finalChecked)
	return finalChecked, nil
}

// OnUpdated registers fn to fire on every change to the checked state,
// regardless of cause (dispatch, applyAction, reconciliation, update).
func (r *Resource[S]) OnUpdated(fn func(checkedstate.Checked[S])) func() {
	unsub := r.obs.OnUpdate(fn)
	r.addTeardown(unsub)
	return unsub
}

// OnDispatched registers fn to fire only after Dispatch/DispatchPrivate.
func (r *Resource[S]) OnDispatched(fn func(dispatch.Event[S])) func() {
	r.mu.Lock()
	id := r.dispatchedNextID
	r.dispatchedNextID++
	r.dispatchedSubs = append(r.dispatchedSubs, dispatchedEntry[S]{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for i, entry := range r.dispatchedSubs {
				if entry.id == id {
					r.dispatchedSubs = append(r.dispatchedSubs[:i:i], r.dispatchedSubs[i+1:]...)
					break
				}
			}
		})
	}
	r.addTeardown(unsub)
	return unsub
}

// Get returns the current checked state.
func (r *Resource[S]) Get() checkedstate.Checked[S] {
	return r.obs.Get()
}

// GetUncheckedState returns just the state value, without its checksum.
func (r *Resource[S]) GetUncheckedState() S {
	return r.obs.Get().State
}

// Update replaces the checked state directly, recomputing the checksum.
func (r *Resource[S]) Update(next S) error {
	if err := r.checkAlive(); err != nil {
		return err
	}
	checked, err := checkedstate.Compute(next)
	if err != nil {
		return err
	}
	r.obs.Update(checked)
	return nil
}

// UpdateUncheckedState is an alias for Update kept for symmetry with
// GetUncheckedState; both are direct-replacement escape hatches.
func (r *Resource[S]) UpdateUncheckedState(next S) error {
	return r.Update(next)
}

func (r *Resource[S]) addTeardown(fn func()) {
	r.teardownMu.Lock()
	defer r.teardownMu.Unlock()
	r.teardown = append(r.teardown, fn)
}

// Destroy invokes every registered unsubscribe handle exactly once and
// marks the resource destroyed. Subsequent calls are no-ops, and every
// subsequent state-changing operation fails with ErrAlreadyDestroyed. Get,
// GetUncheckedState, OnUpdated and OnDispatched do not check for
// destruction: they keep returning the last state and accepting
// subscriptions.
func (r *Resource[S]) Destroy() {
	if atomic.SwapInt32(&r.state, stateDestroyed) == stateDestroyed {
		return // already destroyed
	}
	r.teardownMu.Lock()
	defer r.teardownMu.Unlock()
	for _, fn := range r.teardown {
		fn()
	}
	r.teardown = nil
}
