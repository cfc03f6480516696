// Package action defines the tagged records exchanged between peers and the
// master: plain Actions, private/public Action tuples, and the checksum-
// carrying envelopes the master uses to order and reconcile them.
package action

// Action is a tagged intent to transition state, the input to a reducer.
// Payload is left as interface{} because reducers are specific to the
// application's state type; the runtime itself never inspects it.
type Action struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Tuple pairs a private action, applied only by the local peer, with the
// public action every other peer observes. A plain Action is not carried in
// a Tuple: OrTuple holds it directly (see Of), and OfTuple always sets
// Private.
type Tuple struct {
	Private *Action `json:"private,omitempty"`
	Public  Action  `json:"public"`
}

// OrTuple is either a single public Action or a private/public Tuple. It
// mirrors spec's ActionOrActionTuple sum type; Go has no native sum types,
// so exactly one of Action/Tuple is meaningful, selected by IsTuple.
type OrTuple struct {
	action  Action
	tuple   Tuple
	isTuple bool
}

// Of wraps a single public action.
func Of(a Action) OrTuple {
	return OrTuple{action: a}
}

// OfTuple wraps a private/public pair.
func OfTuple(private, public Action) OrTuple {
	return OrTuple{tuple: Tuple{Private: &private, Public: public}, isTuple: true}
}

// IsTuple reports whether this value carries a private/public pair.
func (o OrTuple) IsTuple() bool {
	return o.isTuple
}

// Local returns the action the local peer should apply: the private half of
// a tuple, or the action itself when it isn't a tuple.
func (o OrTuple) Local() Action {
	if o.isTuple {
		return *o.tuple.Private
	}
	return o.action
}

// Public returns the action that is safe to transmit to other peers: the
// public half of a tuple, or the action itself when it isn't a tuple.
func (o OrTuple) Public() Action {
	if o.isTuple {
		return o.tuple.Public
	}
	return o.action
}

// AsTuple returns the underlying Tuple and true if this value is a tuple.
func (o OrTuple) AsTuple() (Tuple, bool) {
	if !o.isTuple {
		return Tuple{}, false
	}
	return o.tuple, true
}

// MarshalJSON emits either the bare action or the [private, public] pair,
// matching the wire shape spec.md §3 describes for ActionOrActionTuple.
func (o OrTuple) MarshalJSON() ([]byte, error) {
	if o.isTuple {
		return marshalTuplePair(*o.tuple.Private, o.tuple.Public)
	}
	return marshalAction(o.action)
}

// Checked pairs an action with the checksum the authoritative sender
// expects the post-apply state to have.
type Checked struct {
	Action   Action `json:"action"`
	Checksum string `json:"checksum"`
}

// Reconciliatory is an ordered, finite batch of Checked actions applied
// atomically, along with the checksum expected once the whole batch has
// been applied.
type Reconciliatory struct {
	Actions       []Checked `json:"actions"`
	FinalChecksum string    `json:"finalChecksum"`
}
