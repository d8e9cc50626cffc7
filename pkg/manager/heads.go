package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/web3ekko/node-manager/pkg/common"
	"github.com/web3ekko/node-manager/pkg/hexnum"
	"github.com/web3ekko/node-manager/pkg/nodeproc"
	"github.com/web3ekko/node-manager/pkg/updates"
)

type feedKind int

const (
	feedNone feedKind = iota
	feedSync
	feedHeads
)

// HeadsManager owns at most one chain-head subscription on the node: either a
// sync-progress feed while the node is catching up, or a newHeads feed once it
// is caught up. It hands off from one to the other and guarantees that
// results from a superseded feed are dropped.
type HeadsManager struct {
	node nodeproc.Node
	sink updates.Sink

	mu         sync.Mutex
	kind       feedKind
	subID      string
	listenerID nodeproc.ListenerID
	generation uint64
}

// NewHeadsManager creates an idle heads manager. Nothing is subscribed until
// Detect.
func NewHeadsManager(node nodeproc.Node, sink updates.Sink) *HeadsManager {
	return &HeadsManager{node: node, sink: sink}
}

// Detect asks the node whether it is syncing and opens the matching feed:
// newHeads when caught up, syncing otherwise. A syncing response that carries
// progress numbers is also emitted as a first snapshot.
func (h *HeadsManager) Detect(ctx context.Context) {
	h.mu.Lock()
	gen := h.generation
	h.mu.Unlock()

	var raw json.RawMessage
	if err := h.node.Call(ctx, "eth_syncing", nil, &raw); err != nil {
		log.Printf("HeadsManager: eth_syncing failed: %v", err)
		h.sink.Emit(updates.Error{Source: "subscription", Message: fmt.Sprintf("sync detection failed: %v", err)})
		return
	}

	h.mu.Lock()
	if gen != h.generation {
		// Torn down or re-detected while the call was in flight.
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	if bytes.Equal(bytes.TrimSpace(raw), []byte("false")) {
		h.subscribeHeads(ctx, gen)
		return
	}

	// The node reported in-progress sync. The one-shot result carries the
	// progress fields directly (no nested status), so emit it before opening
	// the feed.
	if prog, ok := parseSyncStatus(raw); ok {
		h.emitIfCurrent(gen, updates.SyncProgress{Progress: prog})
	}
	h.subscribeSync(ctx, gen)
}

// subscribeSync opens the sync-progress feed and routes its notifications
// through the generation guard.
func (h *HeadsManager) subscribeSync(ctx context.Context, gen uint64) {
	var subID string
	if err := h.node.Call(ctx, "eth_subscribe", []any{"syncing"}, &subID); err != nil {
		log.Printf("HeadsManager: eth_subscribe syncing failed: %v", err)
		h.sink.Emit(updates.Error{Source: "subscription", Message: fmt.Sprintf("sync feed subscribe failed: %v", err)})
		return
	}

	h.mu.Lock()
	if gen != h.generation {
		h.mu.Unlock()
		h.discardSubscription(subID)
		return
	}
	h.kind = feedSync
	h.subID = subID
	h.listenerID = h.node.On(subID, func(payload json.RawMessage) {
		h.handleSyncEvent(gen, subID, payload)
	})
	h.mu.Unlock()
	log.Printf("HeadsManager: sync feed active (subscription %s)", subID)
}

// subscribeHeads opens the newHeads feed.
func (h *HeadsManager) subscribeHeads(ctx context.Context, gen uint64) {
	var subID string
	if err := h.node.Call(ctx, "eth_subscribe", []any{"newHeads"}, &subID); err != nil {
		log.Printf("HeadsManager: eth_subscribe newHeads failed: %v", err)
		h.sink.Emit(updates.Error{Source: "subscription", Message: fmt.Sprintf("heads feed subscribe failed: %v", err)})
		return
	}

	h.mu.Lock()
	if gen != h.generation {
		h.mu.Unlock()
		h.discardSubscription(subID)
		return
	}
	h.kind = feedHeads
	h.subID = subID
	h.listenerID = h.node.On(subID, func(payload json.RawMessage) {
		h.handleHeadEvent(gen, payload)
	})
	h.mu.Unlock()
	log.Printf("HeadsManager: heads feed active (subscription %s)", subID)
}

// handleSyncEvent classifies one sync feed notification: "no longer syncing"
// hands off to the heads feed, "still determining" changes nothing, and a
// progress payload is normalized and emitted.
func (h *HeadsManager) handleSyncEvent(gen uint64, subID string, payload json.RawMessage) {
	h.mu.Lock()
	if gen != h.generation || h.kind != feedSync || h.subID != subID {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	trimmed := bytes.TrimSpace(payload)
	switch {
	case bytes.Equal(trimmed, []byte("false")):
		h.handoffToHeads(gen, subID)
	case bytes.Equal(trimmed, []byte("true")):
		// Sync state not yet determined; keep the current feed.
	default:
		// Feed notifications nest the fields under "status"; tolerate the
		// un-nested shape the one-shot query uses as well.
		var evt struct {
			Status json.RawMessage `json:"status"`
		}
		status := payload
		if err := json.Unmarshal(payload, &evt); err == nil && len(evt.Status) > 0 {
			status = evt.Status
		}
		prog, ok := parseSyncStatus(status)
		if !ok {
			log.Printf("HeadsManager: skipping malformed sync notification: %s", payload)
			return
		}
		h.emitIfCurrent(gen, updates.SyncProgress{Progress: prog})
	}
}

// handoffToHeads replaces the sync feed with the heads feed. The newHeads
// subscription is opened first so no head lands in the gap, then the old sync
// subscription is dropped.
func (h *HeadsManager) handoffToHeads(gen uint64, oldSubID string) {
	ctx := context.Background()

	var newSubID string
	if err := h.node.Call(ctx, "eth_subscribe", []any{"newHeads"}, &newSubID); err != nil {
		log.Printf("HeadsManager: handoff subscribe failed, keeping sync feed: %v", err)
		h.sink.Emit(updates.Error{Source: "subscription", Message: fmt.Sprintf("heads feed subscribe failed: %v", err)})
		return
	}

	h.mu.Lock()
	if gen != h.generation || h.kind != feedSync || h.subID != oldSubID {
		h.mu.Unlock()
		h.discardSubscription(newSubID)
		return
	}
	oldListener := h.listenerID
	h.generation++
	newGen := h.generation
	h.kind = feedHeads
	h.subID = newSubID
	h.listenerID = h.node.On(newSubID, func(payload json.RawMessage) {
		h.handleHeadEvent(newGen, payload)
	})
	h.mu.Unlock()

	h.node.Off(oldSubID, oldListener)
	var ok bool
	if err := h.node.Call(ctx, "eth_unsubscribe", []any{oldSubID}, &ok); err != nil {
		log.Printf("HeadsManager: failed to unsubscribe sync feed %s: %v", oldSubID, err)
	}
	log.Printf("HeadsManager: handed off sync feed %s to heads feed %s", oldSubID, newSubID)
}

// handleHeadEvent normalizes one newHeads notification and emits it.
func (h *HeadsManager) handleHeadEvent(gen uint64, payload json.RawMessage) {
	var head struct {
		Number    string `json:"number"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		log.Printf("HeadsManager: skipping malformed head notification: %s", payload)
		return
	}
	number, err := hexnum.Uint64(head.Number)
	if err != nil {
		log.Printf("HeadsManager: skipping head with bad number %q: %v", head.Number, err)
		return
	}
	ts, err := hexnum.Uint64(head.Timestamp)
	if err != nil {
		log.Printf("HeadsManager: skipping head with bad timestamp %q: %v", head.Timestamp, err)
		return
	}
	h.emitIfCurrent(gen, updates.BlockHeader{Header: common.BlockHeader{Number: number, Timestamp: ts}})
}

// Teardown drops whatever feed is active and invalidates all in-flight
// results. Safe to call repeatedly and when no feed is active.
func (h *HeadsManager) Teardown() {
	h.mu.Lock()
	kind := h.kind
	subID := h.subID
	listenerID := h.listenerID
	h.generation++
	h.kind = feedNone
	h.subID = ""
	h.listenerID = ""
	h.mu.Unlock()

	if kind == feedNone {
		return
	}
	h.node.Off(subID, listenerID)
	var ok bool
	if err := h.node.Call(context.Background(), "eth_unsubscribe", []any{subID}, &ok); err != nil {
		log.Printf("HeadsManager: teardown unsubscribe of %s failed: %v", subID, err)
	}
}

// emitIfCurrent emits u unless the feed was superseded since gen was taken.
func (h *HeadsManager) emitIfCurrent(gen uint64, u updates.Update) {
	h.mu.Lock()
	stale := gen != h.generation
	h.mu.Unlock()
	if stale {
		return
	}
	h.sink.Emit(u)
}

// discardSubscription unsubscribes a feed that won a race it should have
// lost.
func (h *HeadsManager) discardSubscription(subID string) {
	var ok bool
	if err := h.node.Call(context.Background(), "eth_unsubscribe", []any{subID}, &ok); err != nil {
		log.Printf("HeadsManager: failed to discard stale subscription %s: %v", subID, err)
	}
}

// parseSyncStatus normalizes the five progress fields. Nodes report them
// either as hex quantities or as plain numbers; both forms come out as
// decimal strings.
func parseSyncStatus(raw json.RawMessage) (common.SyncProgress, bool) {
	var status struct {
		StartingBlock json.RawMessage `json:"startingBlock"`
		CurrentBlock  json.RawMessage `json:"currentBlock"`
		HighestBlock  json.RawMessage `json:"highestBlock"`
		KnownStates   json.RawMessage `json:"knownStates"`
		PulledStates  json.RawMessage `json:"pulledStates"`
	}
	if err := json.Unmarshal(raw, &status); err != nil {
		return common.SyncProgress{}, false
	}
	if len(status.StartingBlock) == 0 && len(status.CurrentBlock) == 0 && len(status.HighestBlock) == 0 {
		return common.SyncProgress{}, false
	}
	return common.SyncProgress{
		StartingBlock: quantityString(status.StartingBlock),
		CurrentBlock:  quantityString(status.CurrentBlock),
		HighestBlock:  quantityString(status.HighestBlock),
		KnownStates:   quantityString(status.KnownStates),
		PulledStates:  quantityString(status.PulledStates),
	}, true
}

func quantityString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return hexnum.Decimal(s)
	}
	// Already a bare JSON number.
	return string(bytes.TrimSpace(raw))
}
