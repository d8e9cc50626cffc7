// Package updates defines the discrete facts the node manager emits and the
// sinks that carry them to consumers. Every state transition, feed result and
// telemetry reading becomes exactly one Update.
package updates

import "github.com/web3ekko/node-manager/pkg/common"

// Kind identifies the fact an Update carries. Kinds double as the final
// subject token for the NATS sink.
type Kind string

const (
	KindState        Kind = "state"
	KindError        Kind = "error"
	KindNetwork      Kind = "network"
	KindSyncMode     Kind = "sync_mode"
	KindBlockHeader  Kind = "block_header"
	KindSyncProgress Kind = "sync_progress"
	KindPeerCount    Kind = "peer_count"
)

// Update is a single outward fact.
type Update interface {
	UpdateKind() Kind
}

// State reports a lifecycle transition of the managed node process.
type State struct {
	State common.NodeState `json:"state"`
}

// Error reports a non-fatal error signal. It never replaces the primary
// lifecycle state; the process and manager remain usable afterwards.
type Error struct {
	Source  string `json:"source"` // "process", "poller", "subscription"
	Message string `json:"message"`
}

// Network echoes the effective network read back after config application.
type Network struct {
	Network string `json:"network"`
}

// SyncMode echoes the effective sync mode read back after config application.
type SyncMode struct {
	SyncMode string `json:"sync_mode"`
}

// BlockHeader carries one normalized header from the heads feed (or the
// one-shot latest-block fetch on connect).
type BlockHeader struct {
	Header common.BlockHeader `json:"header"`
}

// SyncProgress carries one normalized snapshot from the sync-progress feed.
type SyncProgress struct {
	Progress common.SyncProgress `json:"progress"`
}

// PeerCount carries one normalized peer-count reading. The value is a decimal
// string straight from hexnum.Decimal.
type PeerCount struct {
	Count string `json:"count"`
}

func (State) UpdateKind() Kind        { return KindState }
func (Error) UpdateKind() Kind        { return KindError }
func (Network) UpdateKind() Kind      { return KindNetwork }
func (SyncMode) UpdateKind() Kind     { return KindSyncMode }
func (BlockHeader) UpdateKind() Kind  { return KindBlockHeader }
func (SyncProgress) UpdateKind() Kind { return KindSyncProgress }
func (PeerCount) UpdateKind() Kind    { return KindPeerCount }
