package masterconn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vishalda/movex/resource"
	"github.com/vishalda/movex/transport"
)

// fakeChannel mirrors transport_test.go's double; duplicated here (not
// exported from transport) since test doubles are not part of the public
// API surface.
type fakeChannel struct {
	handlers map[string]func([]byte)
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[string]func([]byte))}
}

func (f *fakeChannel) Emit(event string, payload interface{}, ack func(transport.AckEnvelope)) error {
	return nil
}
func (f *fakeChannel) On(event string, handler func([]byte)) { f.handlers[event] = handler }
func (f *fakeChannel) Off(event string)                      { delete(f.handlers, event) }
func (f *fakeChannel) Connect(ctx context.Context) error     { return nil }
func (f *fakeChannel) Disconnect() error                     { return nil }

func (f *fakeChannel) push(event string, raw []byte) {
	if h := f.handlers[event]; h != nil {
		h(raw)
	}
}

// TestS6TypeScopedRouting is scenario S6 from spec.md §8.
func TestS6TypeScopedRouting(t *testing.T) {
	ch := newFakeChannel()
	w := transport.New(transport.Config{}, ch)

	gameConn := New("game", w)
	chatConn := New("chat", w)

	var gameGot, chatGot int
	gameConn.OnFwdAction(resource.New("game", "42"), func(transport.FwdActionEvent) { gameGot++ })
	chatConn.OnFwdAction(resource.New("game", "42"), func(transport.FwdActionEvent) { chatGot++ })

	ch.push(transport.EventFwdAction, []byte(`{"ok":true,"val":{"rid":"game:42","action":{"type":"inc"},"checksum":"abc"}}`))

	assert.Equal(t, 1, gameGot)
	assert.Equal(t, 0, chatGot)
}

func TestForeignResourceTypeDropped(t *testing.T) {
	ch := newFakeChannel()
	w := transport.New(transport.Config{}, ch)
	gameConn := New("game", w)

	var got int
	gameConn.OnFwdAction(resource.New("chat", "7"), func(transport.FwdActionEvent) { got++ })

	ch.push(transport.EventFwdAction, []byte(`{"ok":true,"val":{"rid":"chat:7","action":{"type":"inc"},"checksum":"abc"}}`))
	assert.Equal(t, 0, got)
}

func TestDestroyDoesNotAffectOtherConnections(t *testing.T) {
	ch := newFakeChannel()
	w := transport.New(transport.Config{}, ch)

	gameConn := New("game", w)
	gameConn2 := New("game", w)

	var got1, got2 int
	gameConn.OnFwdAction(resource.New("game", "1"), func(transport.FwdActionEvent) { got1++ })
	gameConn2.OnFwdAction(resource.New("game", "1"), func(transport.FwdActionEvent) { got2++ })

	gameConn.Destroy()

	ch.push(transport.EventFwdAction, []byte(`{"ok":true,"val":{"rid":"game:1","action":{"type":"inc"},"checksum":"abc"}}`))
	assert.Equal(t, 0, got1, "destroyed connection must not receive events")
	assert.Equal(t, 1, got2, "sibling connection must still receive events")
}

func TestRegistrationOrderingGuarantee(t *testing.T) {
	ch := newFakeChannel()
	w := transport.New(transport.Config{}, ch)
	conn := New("game", w)

	rid := resource.New("game", "1")
	ch.push(transport.EventFwdAction, []byte(`{"ok":true,"val":{"rid":"game:1","action":{"type":"inc"},"checksum":"x"}}`))

	var got int
	unsub := conn.OnFwdAction(rid, func(transport.FwdActionEvent) { got++ })
	ch.push(transport.EventFwdAction, []byte(`{"ok":true,"val":{"rid":"game:1","action":{"type":"inc"},"checksum":"y"}}`))
	require.Equal(t, 1, got)

	unsub()
	ch.push(transport.EventFwdAction, []byte(`{"ok":true,"val":{"rid":"game:1","action":{"type":"inc"},"checksum":"z"}}`))
	assert.Equal(t, 1, got, "no events after unsubscribe")
}
