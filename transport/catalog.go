package transport

import (
	"context"

	"github.com/vishalda/movex/action"
	"github.com/vishalda/movex/resource"
)

// Message catalog ops, spec.md §6.
const (
	OpCreateResource          = "createResource"
	OpGetResourceState        = "getResourceState"
	OpEmitAction              = "emitAction"
	OpSubscribeToResource     = "subscribeToResource"
	OpUnsubscribeFromResource = "unsubscribeFromResource"
	OpCreateClient            = "createClient"
	OpGetClient               = "getClient"
	OpRemoveClient            = "removeClient"
)

// Server-pushed broadcast keys, spec.md §4.5 / §6. No ack is expected for
// these: they arrive as unsolicited events, routed through OnBroadcast.
const (
	EventFwdAction           = "fwdAction"
	EventReconciliateActions = "reconciliateActions"
)

// CreateResourcePayload is the request payload for OpCreateResource.
type CreateResourcePayload struct {
	ResourceState interface{} `json:"resourceState"`
	ResourceType  string      `json:"resourceType"`
}

// GetResourceStatePayload is the request payload for OpGetResourceState.
type GetResourceStatePayload struct {
	RID string `json:"rid"`
}

// EmitActionPayload is the request payload for OpEmitAction. For a tuple,
// both halves are transmitted; only the server enforces that just the
// public half is broadcast onward to other peers.
type EmitActionPayload struct {
	RID    string         `json:"rid"`
	Action action.OrTuple `json:"action"`
}

// FwdActionEvent is the server-pushed payload of EventFwdAction.
type FwdActionEvent struct {
	RID      string        `json:"rid"`
	Action   action.Action `json:"action"`
	Checksum string        `json:"checksum"`
}

// ReconciliateActionsEvent is the server-pushed payload of
// EventReconciliateActions.
type ReconciliateActionsEvent struct {
	RID           string           `json:"rid"`
	Actions       []action.Checked `json:"actions"`
	FinalChecksum string           `json:"finalChecksum"`
}

// CreateResource issues a createResource request.
func (w *Wrapper) CreateResource(ctx context.Context, resourceType string, resourceState interface{}) (Result, error) {
	return w.Request(ctx, OpCreateResource, CreateResourcePayload{ResourceState: resourceState, ResourceType: resourceType})
}

// GetResourceState issues a getResourceState request.
func (w *Wrapper) GetResourceState(ctx context.Context, rid resource.Identifier) (Result, error) {
	return w.Request(ctx, OpGetResourceState, GetResourceStatePayload{RID: rid.String()})
}

// EmitAction issues an emitAction request for rid.
func (w *Wrapper) EmitAction(ctx context.Context, rid resource.Identifier, a action.OrTuple) (Result, error) {
	return w.Request(ctx, OpEmitAction, EmitActionPayload{RID: rid.String(), Action: a})
}
