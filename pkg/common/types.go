package common

// NodeConfig is the configuration bag handed to the node process collaborator.
// Only Network and SyncMode are read back after application and echoed
// outward; the manager performs no validation of the remaining fields
// (validation is the caller's concern).
type NodeConfig struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	Network     string   `json:"network"`   // e.g., "mainnet", "sepolia"
	SyncMode    string   `json:"sync_mode"` // e.g., "snap", "full", "light"
	BinaryPath  string   `json:"binary_path,omitempty"`
	DataDir     string   `json:"data_dir,omitempty"`
	WssURL      string   `json:"wss_url,omitempty"`
	ExtraArgs   []string `json:"extra_args,omitempty"`
	Description string   `json:"description,omitempty"`
}

// NodeState is the primary lifecycle state of the managed node process.
type NodeState string

// Lifecycle states, in the order a healthy node moves through them.
// Error signals are orthogonal and never replace the primary state.
const (
	StateIdle         NodeState = "Idle"
	StateStarting     NodeState = "Starting"
	StateStarted      NodeState = "Started"
	StateConnecting   NodeState = "Connecting"
	StateConnected    NodeState = "Connected"
	StateDisconnected NodeState = "Disconnected"
	StateStopping     NodeState = "Stopping"
	StateStopped      NodeState = "Stopped"
)

// Lifecycle event names emitted by a node process collaborator. The
// EventBridge registers one listener per name.
const (
	EventStarting   = "starting"
	EventStarted    = "started"
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
	EventStopping   = "stopping"
	EventStopped    = "stopped"
	EventError      = "error"
)

// BlockHeader is the normalized per-block fact emitted while the heads feed
// is active. Number and Timestamp have been narrowed from wire hex; see
// hexnum.Uint64 for the accepted range trade-off.
type BlockHeader struct {
	Number    uint64 `json:"number"`
	Timestamp uint64 `json:"timestamp"` // unix seconds
}

// SyncProgress is the normalized bulk-synchronization snapshot emitted while
// the sync feed is active. Fields are decimal strings produced by
// hexnum.Decimal so values beyond 64 bits survive intact. No ordering between
// the fields (e.g. CurrentBlock <= HighestBlock) is verified here; values are
// passed through as reported by the node.
type SyncProgress struct {
	StartingBlock string `json:"starting_block"`
	CurrentBlock  string `json:"current_block"`
	HighestBlock  string `json:"highest_block"`
	KnownStates   string `json:"known_states"`
	PulledStates  string `json:"pulled_states"`
}
