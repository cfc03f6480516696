// Package loopback is an in-process transport.Channel used by the
// movexctl demonstration harness and by tests that want a slightly more
// realistic double than a bare mock: Emit is acknowledged asynchronously
// (on its own goroutine) the way a real network round trip would be, and
// Broadcast lets a test or demo push a server-originated event.
package loopback

import (
	"context"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/vishalda/movex/transport"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Echo is a transport.Channel that immediately acknowledges every emitted
// request with {ok: true, val: <the request payload>}, and lets callers
// push broadcast events with Broadcast.
type Echo struct {
	mu       sync.Mutex
	handlers map[string]func([]byte)
}

var _ transport.Channel = (*Echo)(nil)

// NewEcho constructs a ready-to-use Echo channel.
func NewEcho() *Echo {
	return &Echo{handlers: make(map[string]func([]byte))}
}

// Connect is a no-op: there is nothing to dial.
func (e *Echo) Connect(ctx context.Context) error { return nil }

// Disconnect is a no-op.
func (e *Echo) Disconnect() error { return nil }

// Emit immediately acks with the payload echoed back as val.
func (e *Echo) Emit(event string, payload interface{}, ack func(transport.AckEnvelope)) error {
	if ack != nil {
		go ack(transport.AckEnvelope{OK: true, Val: payload})
	}
	return nil
}

// On registers handler for event.
func (e *Echo) On(event string, handler func([]byte)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[event] = handler
}

// Off removes the handler for event.
func (e *Echo) Off(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, event)
}

// Broadcast pushes a {ok:true, val:payload} envelope to event's handler, as
// if the master had pushed a server-originated event.
func (e *Echo) Broadcast(event string, payload interface{}) error {
	e.mu.Lock()
	h := e.handlers[event]
	e.mu.Unlock()
	if h == nil {
		return nil
	}
	raw, err := jsonAPI.Marshal(transport.AckEnvelope{OK: true, Val: payload})
	if err != nil {
		return err
	}
	h(raw)
	return nil
}
