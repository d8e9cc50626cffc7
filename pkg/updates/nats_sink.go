package updates

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Envelope is the wire form of an update published to NATS: the kind plus the
// update's own JSON and the emission time.
type Envelope struct {
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NATSSink publishes updates to NATS JetStream, one subject per update kind:
// <prefix>.<kind>, e.g. "nodeman.updates.mainnet.block_header".
type NATSSink struct {
	conn      *nats.Conn
	js        nats.JetStreamContext
	stream    string
	prefix    string
	connected bool
}

// NewNATSSink connects to NATS and ensures the stream exists. prefix is the
// subject prefix updates are published under; the stream captures
// "<prefix>.>".
func NewNATSSink(url, stream, prefix string) (*NATSSink, error) {
	if url == "" {
		url = nats.DefaultURL
	}

	conn, err := nats.Connect(url, nats.RetryOnFailedConnect(true), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	subjects := prefix + ".>"
	if _, err = js.StreamInfo(stream); err != nil {
		// Stream doesn't exist, create it
		log.Printf("NATSSink: creating stream %s for subjects %s", stream, subjects)
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      stream,
			Subjects:  []string{subjects},
			Retention: nats.InterestPolicy,
			Storage:   nats.FileStorage,
			MaxAge:    24 * time.Hour,
			Replicas:  1,
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create stream: %w", err)
		}
	}

	return &NATSSink{
		conn:      conn,
		js:        js,
		stream:    stream,
		prefix:    prefix,
		connected: true,
	}, nil
}

// Emit publishes one update. Publish failures are logged and dropped — a
// broker hiccup must not stall the manager's event callbacks.
func (s *NATSSink) Emit(u Update) {
	if !s.connected {
		return
	}

	payload, err := json.Marshal(u)
	if err != nil {
		log.Printf("NATSSink: failed to marshal %s update: %v", u.UpdateKind(), err)
		return
	}
	env, err := json.Marshal(Envelope{
		Kind:      u.UpdateKind(),
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		log.Printf("NATSSink: failed to marshal envelope for %s update: %v", u.UpdateKind(), err)
		return
	}

	subject := fmt.Sprintf("%s.%s", s.prefix, strings.ToLower(string(u.UpdateKind())))
	if _, err := s.js.Publish(subject, env); err != nil {
		log.Printf("NATSSink: failed to publish %s update to %s: %v", u.UpdateKind(), subject, err)
	}
}

// Close closes the NATS connection.
func (s *NATSSink) Close() error {
	if s.conn != nil {
		s.connected = false
		s.conn.Close()
	}
	return nil
}
