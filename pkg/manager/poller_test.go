package manager

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3ekko/node-manager/pkg/updates"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestPollerNormalizesHexPeerCount(t *testing.T) {
	node := newMockNode()
	sink := &recordSink{}
	node.handle = func(method string, params []any) (any, error) {
		require.Equal(t, "net_peerCount", method)
		return "0xa", nil
	}

	p := NewPeerPoller(node, sink, 10*time.Millisecond)
	p.Start(context.Background())
	defer p.Cancel()

	waitFor(t, 2*time.Second, func() bool { return len(sink.ofKind(updates.KindPeerCount)) > 0 })
	assert.Equal(t, "10", sink.ofKind(updates.KindPeerCount)[0].(updates.PeerCount).Count)
}

func TestPollerSurvivesFailedPolls(t *testing.T) {
	node := newMockNode()
	sink := &recordSink{}
	var n atomic.Int64
	node.handle = func(method string, params []any) (any, error) {
		if n.Add(1) == 1 {
			return nil, fmt.Errorf("node busy")
		}
		return "0x19", nil
	}

	p := NewPeerPoller(node, sink, 10*time.Millisecond)
	p.Start(context.Background())
	defer p.Cancel()

	// The failed first tick is reported and the next one still lands.
	waitFor(t, 2*time.Second, func() bool { return len(sink.ofKind(updates.KindPeerCount)) > 0 })
	require.NotEmpty(t, sink.ofKind(updates.KindError))
	assert.Equal(t, "poller", sink.ofKind(updates.KindError)[0].(updates.Error).Source)
	assert.Equal(t, "25", sink.ofKind(updates.KindPeerCount)[0].(updates.PeerCount).Count)
}

func TestPollerCancelIdempotent(t *testing.T) {
	node := newMockNode()
	sink := &recordSink{}
	node.handle = func(method string, params []any) (any, error) { return "0x0", nil }

	p := NewPeerPoller(node, sink, 10*time.Millisecond)

	// Cancel before Start is a no-op.
	p.Cancel()

	p.Start(context.Background())
	p.Cancel()
	p.Cancel()

	// No further polls once cancelled.
	count := len(node.callsTo("net_peerCount"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, count, len(node.callsTo("net_peerCount")))
}

func TestPollerDoubleStartIsNoOp(t *testing.T) {
	node := newMockNode()
	sink := &recordSink{}
	node.handle = func(method string, params []any) (any, error) { return "0x1", nil }

	p := NewPeerPoller(node, sink, 10*time.Millisecond)
	p.Start(context.Background())
	p.Start(context.Background())
	defer p.Cancel()

	waitFor(t, 2*time.Second, func() bool { return len(node.callsTo("net_peerCount")) >= 2 })
}
