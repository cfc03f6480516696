package observable

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpdateNotifiesOnChange(t *testing.T) {
	o := New(0, func(a, b int) bool { return a != b })
	var got []int
	o.OnUpdate(func(next int) { got = append(got, next) })

	o.Update(1)
	o.Update(1) // unchanged, no notification
	o.Update(2)

	assert.Equal(t, []int{1, 2}, got)
	assert.Equal(t, 2, o.Get())
}

func TestUnsubscribeIsIdempotentAndStopsCallbacks(t *testing.T) {
	o := New(0, nil)
	calls := 0
	unsub := o.OnUpdate(func(int) { calls++ })

	o.Update(1)
	unsub()
	unsub() // no-op, must not panic or double-remove
	o.Update(2)

	assert.Equal(t, 1, calls)
}

func TestSubscribersDuringUpdateDoNotFireForThatUpdate(t *testing.T) {
	o := New(0, nil)
	var lateCalls int
	o.OnUpdate(func(next int) {
		o.OnUpdate(func(int) { lateCalls++ })
	})

	o.Update(1)
	assert.Equal(t, 0, lateCalls)

	o.Update(2)
	assert.Equal(t, 1, lateCalls)
}

func TestSubscriptionOrderPreserved(t *testing.T) {
	o := New(0, nil)
	var order []string
	o.OnUpdate(func(int) { order = append(order, "first") })
	o.OnUpdate(func(int) { order = append(order, "second") })

	o.Update(1)
	assert.Equal(t, []string{"first", "second"}, order)
}
