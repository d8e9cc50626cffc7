package updates_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3ekko/node-manager/pkg/common"
	"github.com/web3ekko/node-manager/pkg/testutils"
	"github.com/web3ekko/node-manager/pkg/updates"
)

func TestMain(m *testing.M) {
	code := m.Run()
	testutils.CleanupNATSEnvironment()
	os.Exit(code)
}

func TestNATSSinkPublishesEnvelopes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	nc, js, err := testutils.GetNATSEnvironment(ctx)
	require.NoError(t, err)
	defer nc.Close()

	sink, err := updates.NewNATSSink(testutils.URL(), "NODEMAN_TEST", "nodeman.test")
	require.NoError(t, err)
	defer sink.Close()

	sub, err := js.SubscribeSync("nodeman.test.peer_count", nats.DeliverAll())
	require.NoError(t, err)
	defer sub.Unsubscribe()

	sink.Emit(updates.PeerCount{Count: "10"})

	msg, err := sub.NextMsgWithContext(ctx)
	require.NoError(t, err)

	var env updates.Envelope
	require.NoError(t, json.Unmarshal(msg.Data, &env))
	assert.Equal(t, updates.KindPeerCount, env.Kind)

	var pc updates.PeerCount
	require.NoError(t, json.Unmarshal(env.Payload, &pc))
	assert.Equal(t, "10", pc.Count)
	assert.WithinDuration(t, time.Now().UTC(), env.Timestamp, time.Minute)
}

func TestNATSSinkKindsMapToSubjects(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	nc, js, err := testutils.GetNATSEnvironment(ctx)
	require.NoError(t, err)
	defer nc.Close()

	sink, err := updates.NewNATSSink(testutils.URL(), "NODEMAN_TEST", "nodeman.test")
	require.NoError(t, err)
	defer sink.Close()

	sub, err := js.SubscribeSync("nodeman.test.state", nats.DeliverAll())
	require.NoError(t, err)
	defer sub.Unsubscribe()

	sink.Emit(updates.State{State: common.StateStarted})

	msg, err := sub.NextMsgWithContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "nodeman.test.state", msg.Subject)
}
