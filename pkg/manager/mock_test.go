package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/web3ekko/node-manager/pkg/common"
	"github.com/web3ekko/node-manager/pkg/nodeproc"
	"github.com/web3ekko/node-manager/pkg/updates"
)

// rpcCall records one JSON-RPC request the code under test issued.
type rpcCall struct {
	Method string
	Params []any
}

// mockNode is a scripted process collaborator: RPC responses come from the
// handle function, lifecycle and subscription events are pushed in by tests
// through the embedded emitter.
type mockNode struct {
	emitter *nodeproc.Emitter

	mu      sync.Mutex
	cfg     common.NodeConfig
	applied bool
	started bool
	state   common.NodeState
	calls   []rpcCall

	handle func(method string, params []any) (any, error)

	applyErr error
	startErr error
	stopErr  error
}

func newMockNode() *mockNode {
	return &mockNode{emitter: nodeproc.NewEmitter(), state: common.StateIdle}
}

func (m *mockNode) ApplyConfig(cfg common.NodeConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return m.applyErr
	}
	m.cfg = cfg
	m.applied = true
	return nil
}

func (m *mockNode) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.started = true
	m.state = common.StateStarted
	return nil
}

func (m *mockNode) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = false
	m.state = common.StateStopped
	return m.stopErr
}

func (m *mockNode) Config() (common.NodeConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.applied {
		return common.NodeConfig{}, fmt.Errorf("no config applied")
	}
	return m.cfg, nil
}

func (m *mockNode) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

func (m *mockNode) State() common.NodeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *mockNode) On(event string, fn nodeproc.Listener) nodeproc.ListenerID {
	return m.emitter.On(event, fn)
}

func (m *mockNode) Off(event string, id nodeproc.ListenerID) {
	m.emitter.Off(event, id)
}

func (m *mockNode) Call(ctx context.Context, method string, params any, result any) error {
	var ps []any
	if params != nil {
		ps = params.([]any)
	}
	m.mu.Lock()
	m.calls = append(m.calls, rpcCall{Method: method, Params: ps})
	handle := m.handle
	m.mu.Unlock()

	if handle == nil {
		return fmt.Errorf("unscripted call: %s", method)
	}
	res, err := handle(method, ps)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	b, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, result)
}

// callsTo returns the recorded calls for method, in order.
func (m *mockNode) callsTo(method string) []rpcCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []rpcCall
	for _, c := range m.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// callSequence returns just the method names, in call order.
func (m *mockNode) callSequence() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.Method
	}
	return out
}

// notify delivers a subscription notification, as the wire client would.
func (m *mockNode) notify(subID string, payload string) {
	m.emitter.Emit(subID, json.RawMessage(payload))
}

// emitEvent delivers a lifecycle event.
func (m *mockNode) emitEvent(event string, payload string) {
	var raw json.RawMessage
	if payload != "" {
		raw = json.RawMessage(payload)
	}
	m.emitter.Emit(event, raw)
}

// recordSink collects every emitted update.
type recordSink struct {
	mu  sync.Mutex
	all []updates.Update
}

func (r *recordSink) Emit(u updates.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, u)
}

func (r *recordSink) updates() []updates.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]updates.Update, len(r.all))
	copy(out, r.all)
	return out
}

func (r *recordSink) ofKind(kind updates.Kind) []updates.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []updates.Update
	for _, u := range r.all {
		if u.UpdateKind() == kind {
			out = append(out, u)
		}
	}
	return out
}
