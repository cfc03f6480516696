// Package wsconn is a concrete transport.Channel adapter over a raw
// websocket connection (github.com/gorilla/websocket), framing each emitted
// event as a small JSON envelope: {event, payload, ackId}. It is a reference
// implementation of the external collaborator spec.md §1 calls out as
// out-of-scope for the core; the core only depends on transport.Channel.
package wsconn

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gorilla/websocket"

	"github.com/vishalda/movex/transport"
)

var log = logrus.WithField("prefix", "wsconn")

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotConnected is returned by Emit when called before Connect succeeds.
var ErrNotConnected = errors.New("wsconn: not connected")

// frame is the wire envelope for every message exchanged over the socket.
// AckID is non-empty on request frames that expect an AckEnvelope in
// response, and on the ack frame that answers them, which carries the same
// AckID; readPump routes any frame with an AckID to the waiting ack callback.
type frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	AckID   string          `json:"ackId,omitempty"`
}

// Conn is a transport.Channel backed by a single gorilla/websocket
// connection. apiKey, if non-empty, is sent as a connection-level query
// parameter, per spec.md §6.
type Conn struct {
	url    string
	apiKey string

	mu       sync.Mutex
	ws       *websocket.Conn
	handlers map[string]func([]byte)
	acks     map[string]func(transport.AckEnvelope)
	nextAck  uint64
	writeMu  sync.Mutex
}

var _ transport.Channel = (*Conn)(nil)

// New constructs an unconnected Conn targeting rawURL, with apiKey attached
// as a query parameter on Connect.
func New(rawURL, apiKey string) *Conn {
	return &Conn{
		url:      rawURL,
		apiKey:   apiKey,
		handlers: make(map[string]func([]byte)),
		acks:     make(map[string]func(transport.AckEnvelope)),
	}
}

// Connect dials the websocket endpoint and starts the read pump.
func (c *Conn) Connect(ctx context.Context) error {
	u, err := url.Parse(c.url)
	if err != nil {
		return errors.Wrap(err, "wsconn: parse url")
	}
	if c.apiKey != "" {
		q := u.Query()
		q.Set("apiKey", c.apiKey)
		u.RawQuery = q.Encode()
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return errors.Wrap(err, "wsconn: dial")
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()

	go c.readPump()
	return nil
}

// Disconnect closes the underlying websocket connection.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	if ws == nil {
		return nil
	}
	return ws.Close()
}

// Emit sends event+payload as a frame. If ack is non-nil, a correlation id
// is attached and the callback is invoked when a matching ack frame
// arrives; the underlying transport may never deliver one (e.g. the
// connection drops), in which case the caller's own timeout (see
// transport.Wrapper) is what eventually resolves the request.
func (c *Conn) Emit(event string, payload interface{}, ack func(transport.AckEnvelope)) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	raw, err := jsonAPI.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "wsconn: marshal payload")
	}

	f := frame{Event: event, Payload: raw}
	if ack != nil {
		c.mu.Lock()
		c.nextAck++
		ackID := event + "#" + strconv.FormatUint(c.nextAck, 10)
		c.acks[ackID] = ack
		c.mu.Unlock()
		f.AckID = ackID
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteJSON(f)
}

// On registers handler for event. Only one handler per event is kept,
// matching the underlying socket's on() semantics; transport.Wrapper itself
// enforces the "subscribe once per event, many logical subscribers" rule on
// top of this.
func (c *Conn) On(event string, handler func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = handler
}

// Off removes the handler for event, if any.
func (c *Conn) Off(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, event)
}

func (c *Conn) readPump() {
	for {
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws == nil {
			return
		}

		var f frame
		if err := ws.ReadJSON(&f); err != nil {
			log.WithError(err).Warn("wsconn: read pump exiting")
			return
		}

		if f.AckID != "" {
			c.mu.Lock()
			ackFn := c.acks[f.AckID]
			delete(c.acks, f.AckID)
			c.mu.Unlock()
			if ackFn != nil {
				var env transport.AckEnvelope
				if err := jsonAPI.Unmarshal(f.Payload, &env); err == nil {
					ackFn(env)
				}
			}
			continue
		}

		c.mu.Lock()
		handler := c.handlers[f.Event]
		c.mu.Unlock()
		if handler != nil {
			handler([]byte(f.Payload))
		}
	}
}
