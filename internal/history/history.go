// Package history appends every emitted update to a local DuckDB file so
// operators can inspect what a node did after the fact (peer-count trends,
// sync progress over time, lifecycle transitions).
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/web3ekko/node-manager/pkg/updates"
)

// Record is one stored update.
type Record struct {
	NodeID     string
	Kind       updates.Kind
	Payload    json.RawMessage
	ObservedAt time.Time
}

// Store is an append-only update log backed by DuckDB.
type Store struct {
	db     *sql.DB
	nodeID string
}

// Open creates (or reopens) the history database at path. An empty path uses
// an in-memory database, which tests rely on.
func Open(path, nodeID string) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB at %q: %w", path, err)
	}

	s := &Store{db: db, nodeID: nodeID}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history store: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS node_updates (
			node_id     VARCHAR NOT NULL,
			kind        VARCHAR NOT NULL,
			payload     JSON    NOT NULL,
			observed_at TIMESTAMP NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create node_updates table: %w", err)
	}
	return nil
}

// Emit implements updates.Sink. Insert failures are logged and dropped so a
// full disk never stalls the manager's callbacks.
func (s *Store) Emit(u updates.Update) {
	payload, err := json.Marshal(u)
	if err != nil {
		log.Printf("History [%s]: failed to marshal %s update: %v", s.nodeID, u.UpdateKind(), err)
		return
	}
	_, err = s.db.Exec(
		`INSERT INTO node_updates (node_id, kind, payload, observed_at) VALUES (?, ?, ?, ?)`,
		s.nodeID, string(u.UpdateKind()), string(payload), time.Now().UTC(),
	)
	if err != nil {
		log.Printf("History [%s]: failed to store %s update: %v", s.nodeID, u.UpdateKind(), err)
	}
}

// Recent returns the latest n records of a kind, newest first. An empty kind
// returns records of every kind.
func (s *Store) Recent(ctx context.Context, kind updates.Kind, n int) ([]Record, error) {
	query := `SELECT node_id, kind, payload, observed_at FROM node_updates`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY observed_at DESC LIMIT ?`
	args = append(args, n)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var kindStr, payload string
		if err := rows.Scan(&r.NodeID, &kindStr, &payload, &r.ObservedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		r.Kind = updates.Kind(kindStr)
		r.Payload = json.RawMessage(payload)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
