// Package nodeproc defines the node process collaborator surface the manager
// drives, plus concrete pieces: an event emitter with token-based listener
// removal, a WebSocket JSON-RPC client, and an os/exec-backed process runner.
package nodeproc

import (
	"context"
	"encoding/json"

	"github.com/web3ekko/node-manager/pkg/common"
)

// Listener receives the JSON payload attached to an event. Lifecycle events
// carry null; subscription notifications carry the notification result.
type Listener func(payload json.RawMessage)

// ListenerID is the opaque token returned by On and required by Off. Go
// function values are not comparable, so removal is by token rather than by
// handler reference.
type ListenerID string

// Node is the process collaborator the manager is constructed with. Events
// are keyed either by a lifecycle event name (common.Event*) or by an opaque
// subscription token returned from an eth_subscribe call.
type Node interface {
	// ApplyConfig hands the configuration bag to the process. No validation
	// is performed here.
	ApplyConfig(cfg common.NodeConfig) error
	// Start launches the node process.
	Start() error
	// Stop terminates the node process.
	Stop() error
	// Config returns the effective configuration after application.
	Config() (common.NodeConfig, error)
	// IsRunning reports whether the process is currently alive.
	IsRunning() bool
	// State returns the collaborator's current lifecycle state.
	State() common.NodeState

	// On registers a listener for an event name or subscription token and
	// returns the token to remove it with.
	On(event string, fn Listener) ListenerID
	// Off removes the listener registered under id. Unknown ids are ignored.
	Off(event string, id ListenerID)

	// Call performs a single JSON-RPC request and unmarshals the result into
	// result (ignored when result is nil).
	Call(ctx context.Context, method string, params any, result any) error
}
