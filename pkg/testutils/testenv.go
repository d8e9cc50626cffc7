// Package testutils provides a shared NATS container for integration tests.
package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/testcontainers/testcontainers-go"
	tcnats "github.com/testcontainers/testcontainers-go/modules/nats"
)

var (
	once sync.Once

	natsURL       string
	natsContainer testcontainers.Container

	globalCleanup func()
)

// GetNATSEnvironment starts (once) a JetStream-enabled NATS container and
// returns a fresh connection plus JetStream context.
func GetNATSEnvironment(ctx context.Context) (*nats.Conn, nats.JetStreamContext, error) {
	var initErr error
	once.Do(func() {
		natsURL, initErr = setupNATSContainer(ctx)
	})
	if initErr != nil {
		return nil, nil, fmt.Errorf("failed to initialize test environment: %w", initErr)
	}

	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	return nc, js, nil
}

// URL returns the shared container's client URL. Only valid after
// GetNATSEnvironment succeeded.
func URL() string {
	return natsURL
}

// CleanupNATSEnvironment should be called from TestMain after all tests.
func CleanupNATSEnvironment() {
	if globalCleanup != nil {
		globalCleanup()
	}
}

func setupNATSContainer(ctx context.Context) (string, error) {
	natsC, err := tcnats.Run(ctx, "nats:2.10-alpine")
	if err != nil {
		return "", fmt.Errorf("failed to start NATS: %w", err)
	}
	natsContainer = natsC

	url, err := natsC.ConnectionString(ctx)
	if err != nil {
		natsC.Terminate(ctx)
		return "", err
	}

	globalCleanup = func() {
		_ = natsContainer.Terminate(context.Background())
	}
	return url, nil
}
