// Package manager implements the node lifecycle controller and its
// sub-components: the lifecycle event bridge, the chain-head subscription
// manager and the peer-count poller. Everything a consumer needs to observe
// flows out through a single updates.Sink.
package manager

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/web3ekko/node-manager/pkg/common"
	"github.com/web3ekko/node-manager/pkg/nodeproc"
	"github.com/web3ekko/node-manager/pkg/updates"
)

// ErrAlreadyStarted is returned when Start is called on a running manager.
var ErrAlreadyStarted = errors.New("manager already started")

// Options tune the manager's timers. The zero value selects the defaults.
type Options struct {
	// SettleDelay is the wait between the connect event and the first RPC
	// activity. Defaults to DefaultSettleDelay.
	SettleDelay time.Duration
	// PollInterval is the peer-count refresh interval. Defaults to
	// DefaultPollInterval.
	PollInterval time.Duration
}

// Manager orchestrates one managed node: it applies configuration, starts and
// stops the process, and owns the bridge, heads manager and poller for the
// lifetime of a run. Construct one Manager per node; there is no shared
// state between instances.
type Manager struct {
	node nodeproc.Node
	sink updates.Sink
	opts Options

	mu      sync.Mutex
	running bool
	heads   *HeadsManager
	bridge  *EventBridge
	poller  *PeerPoller
	cancel  context.CancelFunc
}

// New creates a stopped manager around the given process collaborator and
// update sink.
func New(node nodeproc.Node, sink updates.Sink, opts Options) *Manager {
	m := &Manager{node: node, sink: sink, opts: opts}
	m.heads = NewHeadsManager(node, sink)
	m.bridge = NewEventBridge(node, sink, m.heads, opts.SettleDelay)
	m.poller = NewPeerPoller(node, sink, opts.PollInterval)
	return m
}

// Start applies cfg and brings the node up: lifecycle listeners first so no
// event is missed, then the process itself, then the effective network and
// sync mode are read back and echoed outward, then the peer poller. A second
// Start without an intervening Stop returns ErrAlreadyStarted.
func (m *Manager) Start(ctx context.Context, cfg common.NodeConfig) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.running = true
	m.mu.Unlock()

	if err := m.node.ApplyConfig(cfg); err != nil {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		return err
	}

	m.bridge.Register()

	if err := m.node.Start(); err != nil {
		m.bridge.Teardown()
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		return err
	}

	effective, err := m.node.Config()
	if err != nil {
		log.Printf("Manager: failed to read back config: %v", err)
	} else {
		m.sink.Emit(updates.Network{Network: effective.Network})
		m.sink.Emit(updates.SyncMode{SyncMode: effective.SyncMode})
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()
	m.poller.Start(pollCtx)

	log.Printf("Manager: started node %s (network %s, sync mode %s)", cfg.ID, effective.Network, effective.SyncMode)
	return nil
}

// Stop tears everything down in reverse order: poller, chain-head feed,
// bridge listeners, then the process. It never returns an error for
// teardown problems and is safe to call repeatedly or before Start.
func (m *Manager) Stop() {
	m.mu.Lock()
	wasRunning := m.running
	m.running = false
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.poller.Cancel()
	m.heads.Teardown()

	// The bridge stays registered through the process stop so the
	// stopping/stopped events still reach the sink.
	if err := m.node.Stop(); err != nil {
		log.Printf("Manager: node stop failed: %v", err)
	}
	m.bridge.Teardown()
	if wasRunning {
		log.Printf("Manager: stopped")
	}
}

// IsRunning reports whether the collaborator's process is alive.
func (m *Manager) IsRunning() bool {
	return m.node.IsRunning()
}

// State returns the collaborator's current lifecycle state.
func (m *Manager) State() common.NodeState {
	return m.node.State()
}

// Heads exposes the chain-head subscription manager, mainly for consumers
// that need to force re-detection.
func (m *Manager) Heads() *HeadsManager {
	return m.heads
}
