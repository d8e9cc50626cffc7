package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/web3ekko/node-manager/pkg/common"
	"github.com/web3ekko/node-manager/pkg/hexnum"
	"github.com/web3ekko/node-manager/pkg/nodeproc"
	"github.com/web3ekko/node-manager/pkg/updates"
)

// DefaultSettleDelay is how long the bridge waits after connect before
// fetching the latest block and running sync detection. The node's RPC
// surface is often still warming up right after the socket opens.
const DefaultSettleDelay = 2 * time.Second

// EventBridge subscribes to the node's lifecycle events and translates each
// into an outward state update. On connect it also kicks off the chain-head
// feed: wait for the settle delay, fetch the latest block once, then let the
// heads manager pick the right feed.
type EventBridge struct {
	node   nodeproc.Node
	sink   updates.Sink
	heads  *HeadsManager
	settle time.Duration

	mu          sync.Mutex
	registered  []eventListener
	settleTimer *time.Timer
	generation  uint64
}

type eventListener struct {
	event string
	id    nodeproc.ListenerID
}

// NewEventBridge creates an unregistered bridge. settle <= 0 selects
// DefaultSettleDelay.
func NewEventBridge(node nodeproc.Node, sink updates.Sink, heads *HeadsManager, settle time.Duration) *EventBridge {
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	return &EventBridge{node: node, sink: sink, heads: heads, settle: settle}
}

// Register attaches one listener per lifecycle event. Calling Register twice
// without an intervening Teardown is a no-op.
func (b *EventBridge) Register() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.registered) > 0 {
		return
	}
	gen := b.generation

	stateEvents := []struct {
		event string
		state common.NodeState
	}{
		{common.EventStarting, common.StateStarting},
		{common.EventStarted, common.StateStarted},
		{common.EventDisconnect, common.StateDisconnected},
		{common.EventStopping, common.StateStopping},
		{common.EventStopped, common.StateStopped},
	}
	for _, se := range stateEvents {
		state := se.state
		id := b.node.On(se.event, func(json.RawMessage) {
			b.sink.Emit(updates.State{State: state})
		})
		b.registered = append(b.registered, eventListener{event: se.event, id: id})
	}

	connectID := b.node.On(common.EventConnect, func(json.RawMessage) {
		b.sink.Emit(updates.State{State: common.StateConnected})
		b.scheduleSettle(gen)
	})
	b.registered = append(b.registered, eventListener{event: common.EventConnect, id: connectID})

	errorID := b.node.On(common.EventError, func(payload json.RawMessage) {
		b.sink.Emit(updates.Error{Source: "process", Message: errorMessage(payload)})
	})
	b.registered = append(b.registered, eventListener{event: common.EventError, id: errorID})
}

// scheduleSettle arms the post-connect timer. A reconnect before the timer
// fires re-arms it.
func (b *EventBridge) scheduleSettle(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.generation {
		return
	}
	if b.settleTimer != nil {
		b.settleTimer.Stop()
	}
	b.settleTimer = time.AfterFunc(b.settle, func() { b.onSettled(gen) })
}

// onSettled runs once the connection has settled: fetch the latest block for
// an immediate header update, then detect which feed to open.
func (b *EventBridge) onSettled(gen uint64) {
	b.mu.Lock()
	live := gen == b.generation
	b.mu.Unlock()
	if !live {
		return
	}

	ctx := context.Background()
	var head struct {
		Number    string `json:"number"`
		Timestamp string `json:"timestamp"`
	}
	if err := b.node.Call(ctx, "eth_getBlockByNumber", []any{"latest", false}, &head); err != nil {
		log.Printf("EventBridge: latest block fetch failed: %v", err)
		b.sink.Emit(updates.Error{Source: "process", Message: fmt.Sprintf("latest block fetch failed: %v", err)})
	} else if number, err := hexnum.Uint64(head.Number); err == nil {
		if ts, err := hexnum.Uint64(head.Timestamp); err == nil {
			b.mu.Lock()
			live = gen == b.generation
			b.mu.Unlock()
			if live {
				b.sink.Emit(updates.BlockHeader{Header: common.BlockHeader{Number: number, Timestamp: ts}})
			}
		}
	}

	b.mu.Lock()
	live = gen == b.generation
	b.mu.Unlock()
	if live {
		b.heads.Detect(ctx)
	}
}

// Teardown removes every listener the bridge registered, by the exact tokens
// handed out at registration, and disarms any pending settle timer.
// Idempotent.
func (b *EventBridge) Teardown() {
	b.mu.Lock()
	listeners := b.registered
	b.registered = nil
	b.generation++
	if b.settleTimer != nil {
		b.settleTimer.Stop()
		b.settleTimer = nil
	}
	b.mu.Unlock()

	for _, l := range listeners {
		b.node.Off(l.event, l.id)
	}
}

// errorMessage extracts a human-readable message from an error event payload,
// which may be a JSON string, an object with a message field, or absent.
func errorMessage(payload json.RawMessage) string {
	if len(payload) == 0 {
		return "node process error"
	}
	var s string
	if err := json.Unmarshal(payload, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(payload)
}
