package manager

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3ekko/node-manager/pkg/common"
	"github.com/web3ekko/node-manager/pkg/updates"
)

func testConfig() common.NodeConfig {
	return common.NodeConfig{
		ID:       "node-1",
		Name:     "test node",
		Network:  "sepolia",
		SyncMode: "snap",
	}
}

func newTestManager(node *mockNode) (*Manager, *recordSink) {
	sink := &recordSink{}
	m := New(node, sink, Options{
		SettleDelay:  10 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	})
	return m, sink
}

func TestManagerStartEchoesNetworkAndSyncMode(t *testing.T) {
	node := newMockNode()
	node.handle = func(method string, params []any) (any, error) { return "0x0", nil }
	m, sink := newTestManager(node)
	defer m.Stop()

	require.NoError(t, m.Start(context.Background(), testConfig()))

	networks := sink.ofKind(updates.KindNetwork)
	require.Len(t, networks, 1)
	assert.Equal(t, "sepolia", networks[0].(updates.Network).Network)

	modes := sink.ofKind(updates.KindSyncMode)
	require.Len(t, modes, 1)
	assert.Equal(t, "snap", modes[0].(updates.SyncMode).SyncMode)

	assert.True(t, node.applied)
	assert.True(t, m.IsRunning())
}

func TestManagerRejectsReentrantStart(t *testing.T) {
	node := newMockNode()
	node.handle = func(method string, params []any) (any, error) { return "0x0", nil }
	m, _ := newTestManager(node)
	defer m.Stop()

	require.NoError(t, m.Start(context.Background(), testConfig()))
	err := m.Start(context.Background(), testConfig())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestManagerStartAgainAfterStop(t *testing.T) {
	node := newMockNode()
	node.handle = func(method string, params []any) (any, error) { return "0x0", nil }
	m, _ := newTestManager(node)

	require.NoError(t, m.Start(context.Background(), testConfig()))
	m.Stop()
	require.NoError(t, m.Start(context.Background(), testConfig()))
	m.Stop()
}

func TestManagerStopIsIdempotentAndSafeBeforeStart(t *testing.T) {
	node := newMockNode()
	node.handle = func(method string, params []any) (any, error) { return "0x0", nil }
	m, _ := newTestManager(node)

	// Never started.
	m.Stop()

	require.NoError(t, m.Start(context.Background(), testConfig()))
	m.Stop()
	m.Stop()
	assert.False(t, m.IsRunning())
}

func TestManagerStopSwallowsNodeStopError(t *testing.T) {
	node := newMockNode()
	node.handle = func(method string, params []any) (any, error) { return "0x0", nil }
	node.stopErr = fmt.Errorf("process already gone")
	m, _ := newTestManager(node)

	require.NoError(t, m.Start(context.Background(), testConfig()))
	m.Stop()
}

func TestManagerStartFailureUnwindsBridge(t *testing.T) {
	node := newMockNode()
	node.startErr = fmt.Errorf("binary not found")
	m, _ := newTestManager(node)

	err := m.Start(context.Background(), testConfig())
	require.Error(t, err)

	// No listeners left behind; a retry is allowed.
	assert.Zero(t, node.emitter.ListenerCount(common.EventConnect))
	node.startErr = nil
	node.handle = func(method string, params []any) (any, error) { return "0x0", nil }
	require.NoError(t, m.Start(context.Background(), testConfig()))
	m.Stop()
}

func TestManagerFullFlow(t *testing.T) {
	node := newMockNode()
	node.handle = func(method string, params []any) (any, error) {
		switch method {
		case "net_peerCount":
			return "0xa", nil
		case "eth_getBlockByNumber":
			return map[string]any{"number": "0x64", "timestamp": "0x5f5e100"}, nil
		case "eth_syncing":
			return false, nil
		case "eth_subscribe":
			return "0xheads1", nil
		case "eth_unsubscribe":
			return true, nil
		}
		return nil, fmt.Errorf("unscripted method %s", method)
	}
	m, sink := newTestManager(node)

	require.NoError(t, m.Start(context.Background(), testConfig()))

	// The process connects; the bridge settles, fetches the latest block and
	// opens the heads feed.
	node.emitEvent(common.EventConnect, "")
	waitFor(t, 2*time.Second, func() bool { return len(node.callsTo("eth_subscribe")) > 0 })

	node.notify("0xheads1", `{"number":"0x65","timestamp":"0x5f5e101"}`)
	waitFor(t, 2*time.Second, func() bool { return len(sink.ofKind(updates.KindPeerCount)) > 0 })

	assert.Equal(t, "10", sink.ofKind(updates.KindPeerCount)[0].(updates.PeerCount).Count)
	headers := sink.ofKind(updates.KindBlockHeader)
	require.Len(t, headers, 2)
	assert.Equal(t, uint64(100), headers[0].(updates.BlockHeader).Header.Number)
	assert.Equal(t, uint64(101), headers[1].(updates.BlockHeader).Header.Number)

	m.Stop()
	unsubs := node.callsTo("eth_unsubscribe")
	require.Len(t, unsubs, 1)
	assert.Equal(t, []any{"0xheads1"}, unsubs[0].Params)

	// Everything after stop is inert.
	before := len(sink.updates())
	node.notify("0xheads1", `{"number":"0x66","timestamp":"0x5f5e102"}`)
	node.emitEvent(common.EventConnect, "")
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sink.updates(), before)
}
