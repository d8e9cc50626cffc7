package nodeproc

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/web3ekko/node-manager/pkg/common"
)

const (
	defaultDialRetryInterval = 500 * time.Millisecond
	defaultDialTimeout       = 60 * time.Second
	defaultStopGrace         = 10 * time.Second
)

// dialWSFunc is swapped out in tests.
var dialWSFunc = DialWS

// ProcessNode runs a node binary as a child process and implements the Node
// collaborator surface on top of it. Lifecycle events are emitted on the
// embedded emitter; once the WebSocket endpoint is reachable, RPC calls go
// over it.
type ProcessNode struct {
	emitter *Emitter

	mu      sync.Mutex
	cfg     common.NodeConfig
	applied bool
	cmd     *exec.Cmd
	ws      *WSClient
	state   common.NodeState

	dialRetry   time.Duration
	dialTimeout time.Duration
	stopGrace   time.Duration

	cancelDial context.CancelFunc
	exited     chan struct{}
	stopping   bool
}

// NewProcessNode creates a process collaborator. Nothing runs until Start.
func NewProcessNode() *ProcessNode {
	return &ProcessNode{
		emitter:     NewEmitter(),
		state:       common.StateIdle,
		dialRetry:   defaultDialRetryInterval,
		dialTimeout: defaultDialTimeout,
		stopGrace:   defaultStopGrace,
	}
}

// ApplyConfig stores cfg as the effective configuration.
func (n *ProcessNode) ApplyConfig(cfg common.NodeConfig) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cfg = cfg
	n.applied = true
	return nil
}

// Config returns the effective configuration.
func (n *ProcessNode) Config() (common.NodeConfig, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.applied {
		return common.NodeConfig{}, fmt.Errorf("no config applied")
	}
	return n.cfg, nil
}

// State returns the current lifecycle state.
func (n *ProcessNode) State() common.NodeState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// IsRunning reports whether the child process is alive.
func (n *ProcessNode) IsRunning() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cmd != nil
}

// On registers a listener for a lifecycle event or subscription token.
func (n *ProcessNode) On(event string, fn Listener) ListenerID {
	return n.emitter.On(event, fn)
}

// Off removes a listener by its token.
func (n *ProcessNode) Off(event string, id ListenerID) {
	n.emitter.Off(event, id)
}

// Start launches the node binary and begins dialing its WebSocket endpoint in
// the background. The connect event fires once the endpoint answers.
func (n *ProcessNode) Start() error {
	n.mu.Lock()
	if n.cmd != nil {
		n.mu.Unlock()
		return fmt.Errorf("node process already running")
	}
	cfg := n.cfg
	if !n.applied {
		n.mu.Unlock()
		return fmt.Errorf("no config applied")
	}
	n.state = common.StateStarting
	n.mu.Unlock()

	n.emitter.Emit(common.EventStarting, nil)

	args := buildArgs(cfg)
	cmd := exec.Command(cfg.BinaryPath, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		n.mu.Lock()
		n.state = common.StateIdle
		n.mu.Unlock()
		return fmt.Errorf("failed to start %s: %w", cfg.BinaryPath, err)
	}

	log.Printf("ProcessNode [%s]: started %s (pid %d)", cfg.ID, cfg.BinaryPath, cmd.Process.Pid)

	dialCtx, cancelDial := context.WithTimeout(context.Background(), n.dialTimeout)
	n.mu.Lock()
	n.cmd = cmd
	n.state = common.StateStarted
	n.stopping = false
	n.cancelDial = cancelDial
	n.exited = make(chan struct{})
	n.mu.Unlock()

	n.emitter.Emit(common.EventStarted, nil)

	go n.waitForExit(cmd, cfg.ID)
	go n.dialUntilConnected(dialCtx, cfg)
	return nil
}

// waitForExit reaps the child. An exit while not stopping is unexpected and
// surfaces as an error event followed by disconnect/stopped.
func (n *ProcessNode) waitForExit(cmd *exec.Cmd, id string) {
	err := cmd.Wait()

	n.mu.Lock()
	if n.cmd != cmd {
		n.mu.Unlock()
		return
	}
	expected := n.stopping
	n.cmd = nil
	wasConnected := n.ws != nil
	if n.ws != nil {
		n.ws.Close()
		n.ws = nil
	}
	if n.cancelDial != nil {
		n.cancelDial()
		n.cancelDial = nil
	}
	n.state = common.StateStopped
	exited := n.exited
	n.mu.Unlock()

	defer close(exited)
	if !expected {
		msg := "node process exited unexpectedly"
		if err != nil {
			msg = fmt.Sprintf("node process exited unexpectedly: %v", err)
		}
		log.Printf("ProcessNode [%s]: %s", id, msg)
		n.emitter.Emit(common.EventError, mustJSON(msg))
		if wasConnected {
			n.emitter.Emit(common.EventDisconnect, nil)
		}
		n.emitter.Emit(common.EventStopped, nil)
	}
}

// dialUntilConnected retries the WebSocket endpoint until it answers or the
// context ends, then emits the connect event.
func (n *ProcessNode) dialUntilConnected(ctx context.Context, cfg common.NodeConfig) {
	n.mu.Lock()
	if n.cmd == nil || n.stopping {
		n.mu.Unlock()
		return
	}
	n.state = common.StateConnecting
	n.mu.Unlock()

	ticker := time.NewTicker(n.dialRetry)
	defer ticker.Stop()

	for {
		ws, err := dialWSFunc(ctx, cfg.WssURL, n.emitter)
		if err == nil {
			n.mu.Lock()
			if n.cmd == nil || n.stopping {
				n.mu.Unlock()
				ws.Close()
				return
			}
			n.ws = ws
			n.state = common.StateConnected
			n.mu.Unlock()
			log.Printf("ProcessNode [%s]: connected to %s", cfg.ID, cfg.WssURL)
			n.emitter.Emit(common.EventConnect, nil)
			return
		}

		select {
		case <-ctx.Done():
			log.Printf("ProcessNode [%s]: gave up dialing %s: %v", cfg.ID, cfg.WssURL, err)
			n.emitter.Emit(common.EventError, mustJSON(fmt.Sprintf("failed to reach node endpoint: %v", err)))
			return
		case <-ticker.C:
		}
	}
}

// Stop terminates the child process: SIGTERM, then SIGKILL after the grace
// period. Safe to call when nothing is running.
func (n *ProcessNode) Stop() error {
	n.mu.Lock()
	cmd := n.cmd
	if cmd == nil {
		n.mu.Unlock()
		return nil
	}
	id := n.cfg.ID
	n.stopping = true
	n.state = common.StateStopping
	ws := n.ws
	n.ws = nil
	if n.cancelDial != nil {
		n.cancelDial()
		n.cancelDial = nil
	}
	exited := n.exited
	n.mu.Unlock()

	n.emitter.Emit(common.EventStopping, nil)
	if ws != nil {
		ws.Close()
		n.emitter.Emit(common.EventDisconnect, nil)
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		log.Printf("ProcessNode [%s]: SIGTERM failed: %v", id, err)
	}

	select {
	case <-exited:
	case <-time.After(n.stopGrace):
		log.Printf("ProcessNode [%s]: grace period expired, killing", id)
		cmd.Process.Kill()
		<-exited
	}

	n.emitter.Emit(common.EventStopped, nil)
	log.Printf("ProcessNode [%s]: stopped", id)
	return nil
}

// Call performs a JSON-RPC request over the node's WebSocket connection.
func (n *ProcessNode) Call(ctx context.Context, method string, params any, result any) error {
	n.mu.Lock()
	ws := n.ws
	n.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("node is not connected")
	}
	return ws.Call(ctx, method, params, result)
}

func buildArgs(cfg common.NodeConfig) []string {
	var args []string
	if cfg.DataDir != "" {
		args = append(args, "--datadir", cfg.DataDir)
	}
	if cfg.Network != "" && cfg.Network != "mainnet" {
		args = append(args, "--"+cfg.Network)
	}
	if cfg.SyncMode != "" {
		args = append(args, "--syncmode", cfg.SyncMode)
	}
	args = append(args, cfg.ExtraArgs...)
	return args
}

func mustJSON(s string) []byte {
	b, _ := json.Marshal(s)
	return b
}
