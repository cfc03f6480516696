// Package masterconn implements the Master Resource Connection: a per-
// resource-type multiplexer over the shared Request/Ack transport, filtering
// master-pushed events by resource type and re-dispatching them per
// resource identifier to scoped subscribers.
package masterconn

import (
	"context"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vishalda/movex/action"
	"github.com/vishalda/movex/resource"
	"github.com/vishalda/movex/transport"
)

var log = logrus.WithField("prefix", "masterconn")

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Connection is a Master Resource Connection for one resourceType, spec.md
// §4.5. It owns two topic registries (fwdAction, reconciliateActions) keyed
// by "rid:<canonical-rid>", and its own pair of transport-event
// subscriptions; destroying it never affects other Connections sharing the
// same Wrapper.
type Connection struct {
	resourceType string
	wrapper      *transport.Wrapper
	group        singleflight.Group

	mu               sync.Mutex
	fwdSubs          map[string][]fwdEntry
	reconciliateSubs map[string][]reconciliateEntry
	nextID           uint64

	teardown []func()
}

type fwdEntry struct {
	id uint64
	fn func(transport.FwdActionEvent)
}

type reconciliateEntry struct {
	id uint64
	fn func(transport.ReconciliateActionsEvent)
}

// New constructs a Connection for resourceType over wrapper, wiring the two
// transport broadcast subscriptions immediately.
func New(resourceType string, wrapper *transport.Wrapper) *Connection {
	c := &Connection{
		resourceType:     resourceType,
		wrapper:          wrapper,
		fwdSubs:          make(map[string][]fwdEntry),
		reconciliateSubs: make(map[string][]reconciliateEntry),
	}

	unsubFwd := wrapper.OnBroadcast(transport.EventFwdAction, c.handleFwdAction)
	unsubReconciliate := wrapper.OnBroadcast(transport.EventReconciliateActions, c.handleReconciliateActions)
	c.teardown = append(c.teardown, unsubFwd, unsubReconciliate)

	return c
}

func (c *Connection) handleFwdAction(raw []byte) {
	var evt transport.FwdActionEvent
	if err := jsonAPI.Unmarshal(raw, &evt); err != nil {
		log.WithError(err).Warn("malformed fwdAction payload")
		return
	}
	rid, err := resource.Parse(evt.RID)
	if err != nil || rid.Type != c.resourceType {
		return // foreign resourceType or unparsable rid: dropped, spec.md §4.5
	}

	c.mu.Lock()
	subs := make([]fwdEntry, len(c.fwdSubs[rid.Topic()]))
	copy(subs, c.fwdSubs[rid.Topic()])
	c.mu.Unlock()
	for _, s := range subs {
		s.fn(evt)
	}
}

func (c *Connection) handleReconciliateActions(raw []byte) {
	var evt transport.ReconciliateActionsEvent
	if err := jsonAPI.Unmarshal(raw, &evt); err != nil {
		log.WithError(err).Warn("malformed reconciliateActions payload")
		return
	}
	rid, err := resource.Parse(evt.RID)
	if err != nil || rid.Type != c.resourceType {
		return
	}

	c.mu.Lock()
	subs := make([]reconciliateEntry, len(c.reconciliateSubs[rid.Topic()]))
	copy(subs, c.reconciliateSubs[rid.Topic()])
	c.mu.Unlock()
	for _, s := range subs {
		s.fn(evt)
	}
}

// OnFwdAction registers fn for forward actions on rid. The returned
// unsubscribe is idempotent.
func (c *Connection) OnFwdAction(rid resource.Identifier, fn func(transport.FwdActionEvent)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	topic := rid.Topic()
	c.fwdSubs[topic] = append(c.fwdSubs[topic], fwdEntry{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			subs := c.fwdSubs[topic]
			for i, s := range subs {
				if s.id == id {
					c.fwdSubs[topic] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

// OnReconciliatoryActions registers fn for reconciliation batches on rid.
func (c *Connection) OnReconciliatoryActions(rid resource.Identifier, fn func(transport.ReconciliateActionsEvent)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	topic := rid.Topic()
	c.reconciliateSubs[topic] = append(c.reconciliateSubs[topic], reconciliateEntry{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			subs := c.reconciliateSubs[topic]
			for i, s := range subs {
				if s.id == id {
					c.reconciliateSubs[topic] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Create issues a createResource request for a new instance of this
// connection's resourceType.
func (c *Connection) Create(ctx context.Context, resourceState interface{}) (transport.Result, error) {
	return c.wrapper.CreateResource(ctx, c.resourceType, resourceState)
}

// Get issues a getResourceState request for rid. Concurrent Get calls for
// the same rid are collapsed into a single in-flight request via
// singleflight, so a burst of local readers does not multiply
// getResourceState traffic.
func (c *Connection) Get(ctx context.Context, rid resource.Identifier) (transport.Result, error) {
	v, err, _ := c.group.Do(rid.String(), func() (interface{}, error) {
		return c.wrapper.GetResourceState(ctx, rid)
	})
	if err != nil {
		return transport.Result{}, err
	}
	return v.(transport.Result), nil
}

// EmitAction issues an emitAction request for rid. For a tuple, both halves
// are transmitted; the server's contract is that only the public half is
// broadcast to other peers.
func (c *Connection) EmitAction(ctx context.Context, rid resource.Identifier, a action.OrTuple) (transport.Result, error) {
	return c.wrapper.EmitAction(ctx, rid, a)
}

// Destroy releases both transport subscriptions this Connection owns. Other
// Connections sharing the same Wrapper are unaffected.
func (c *Connection) Destroy() {
	c.mu.Lock()
	teardown := c.teardown
	c.teardown = nil
	c.mu.Unlock()
	for _, fn := range teardown {
		fn()
	}
}
