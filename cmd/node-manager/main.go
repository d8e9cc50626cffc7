package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/web3ekko/node-manager/internal/config"
	"github.com/web3ekko/node-manager/internal/history"
	"github.com/web3ekko/node-manager/pkg/manager"
	"github.com/web3ekko/node-manager/pkg/nodeproc"
	"github.com/web3ekko/node-manager/pkg/statecache"
	"github.com/web3ekko/node-manager/pkg/updates"
)

func main() {
	// Load configuration (YAML overrides fall back to env)
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if len(cfg.Nodes) == 0 {
		log.Fatal("No nodes configured")
	}

	// Create Redis client for the state cache
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		opt = &redis.Options{
			Addr: cfg.RedisURL,
		}
	}
	redisClient := redis.NewClient(opt)
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Received shutdown signal")
		cancel()
	}()

	var managers []*manager.Manager
	var closers []func()

	for _, entry := range cfg.Nodes {
		sink, cleanup, err := buildSink(cfg, entry, redisClient)
		if err != nil {
			log.Fatalf("Failed to build sink for node %s: %v", entry.ID, err)
		}
		closers = append(closers, cleanup)

		node := nodeproc.NewProcessNode()
		m := manager.New(node, sink, manager.Options{
			SettleDelay:  cfg.SettleDelay,
			PollInterval: cfg.PollInterval,
		})
		if err := m.Start(ctx, entry.NodeConfig()); err != nil {
			log.Printf("Failed to start node %s: %v", entry.ID, err)
			continue
		}
		managers = append(managers, m)
	}

	if len(managers) == 0 {
		log.Fatal("No nodes started")
	}
	log.Printf("Managing %d node(s)", len(managers))

	<-ctx.Done()

	for _, m := range managers {
		m.Stop()
	}
	for _, cleanup := range closers {
		cleanup()
	}
	log.Println("Node manager stopped")
}

// buildSink assembles the outward update fan-out for one node: NATS for
// consumers, Redis for current state, DuckDB for history.
func buildSink(cfg *config.Config, entry config.NodeEntry, redisClient *redis.Client) (updates.Sink, func(), error) {
	prefix := fmt.Sprintf("%s.%s", cfg.SubjectPrefix, entry.ID)
	natsSink, err := updates.NewNATSSink(cfg.NatsURL, cfg.NatsStream, prefix)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create NATS sink: %w", err)
	}

	// One database file per node; DuckDB allows a single writer per file.
	historyPath := fmt.Sprintf("%s-%s.db", strings.TrimSuffix(cfg.HistoryPath, ".db"), entry.ID)
	store, err := history.Open(historyPath, entry.ID)
	if err != nil {
		natsSink.Close()
		return nil, nil, fmt.Errorf("failed to open history store: %w", err)
	}

	cache := statecache.New(redisClient, entry.ID, 0)

	sink := updates.MultiSink{natsSink, cache, store}
	cleanup := func() {
		natsSink.Close()
		store.Close()
	}
	return sink, cleanup, nil
}
