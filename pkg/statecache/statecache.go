// Package statecache mirrors the latest update of each kind into Redis so
// consumers can read current node status without replaying the stream.
package statecache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/web3ekko/node-manager/pkg/updates"
)

const writeTimeout = 2 * time.Second

// Cmdable is the subset of the Redis client the cache uses. Satisfied by
// *redis.Client and by redismock in tests.
type Cmdable interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Cache is an updates.Sink that keeps only the most recent update per kind.
// Keys are "nodeman:<nodeID>:<kind>"; a stale value stays visible until the
// next update of that kind replaces it.
type Cache struct {
	client Cmdable
	nodeID string
	ttl    time.Duration
}

// New creates a cache for one managed node. ttl == 0 keeps entries forever.
func New(client Cmdable, nodeID string, ttl time.Duration) *Cache {
	return &Cache{client: client, nodeID: nodeID, ttl: ttl}
}

// Key returns the Redis key a kind is mirrored under.
func (c *Cache) Key(kind updates.Kind) string {
	return fmt.Sprintf("nodeman:%s:%s", c.nodeID, kind)
}

// Emit implements updates.Sink. Write failures are logged and dropped; the
// cache is a mirror, not the source of truth.
func (c *Cache) Emit(u updates.Update) {
	data, err := json.Marshal(u)
	if err != nil {
		log.Printf("StateCache [%s]: failed to marshal %s update: %v", c.nodeID, u.UpdateKind(), err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.client.Set(ctx, c.Key(u.UpdateKind()), data, c.ttl).Err(); err != nil {
		log.Printf("StateCache [%s]: failed to store %s update: %v", c.nodeID, u.UpdateKind(), err)
	}
}

// Latest reads the most recent update of a kind into out. Returns redis.Nil
// (wrapped) when no update of that kind was ever stored.
func (c *Cache) Latest(ctx context.Context, kind updates.Kind, out any) error {
	data, err := c.client.Get(ctx, c.Key(kind)).Bytes()
	if err != nil {
		return fmt.Errorf("failed to read %s state: %w", kind, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s state: %w", kind, err)
	}
	return nil
}
