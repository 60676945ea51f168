// Package tool defines side-effecting integrations a workflow stage can
// invoke, such as creating a ticket for an approved action item.
package tool

import "context"

// InputIdempotencyKey is the reserved input key carrying the key a tool
// must forward so a repeated call performs the effect once.
const InputIdempotencyKey = "idempotency_key"

// Tool is an external action.
//
// Call receives the action's input and returns the service's result. Tools
// must honour ctx and must be safe to call again with the same
// InputIdempotencyKey after a crash: the workflow engine restarts a stage
// from its last checkpoint, so a call may be repeated.
type Tool interface {
	// Name identifies the tool in logs and events.
	Name() string

	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}
