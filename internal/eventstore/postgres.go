package eventstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists raw alert payloads to Postgres, for deployments
// that need the ingress audit trail to survive a control plane restart.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and ensures the backing table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS ingress_events (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	raw_payload TEXT NOT NULL,
	received_at TIMESTAMPTZ NOT NULL
)`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrating ingress_events table: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Append(ctx context.Context, event StoredEvent) error {
	const query = `INSERT INTO ingress_events (id, source, raw_payload, received_at) VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, query, event.ID, event.Source, event.RawPayload, event.ReceivedAt); err != nil {
		return fmt.Errorf("inserting ingress event: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT id, source, raw_payload, received_at FROM ingress_events ORDER BY received_at DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent ingress events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var e StoredEvent
		var receivedAt time.Time
		if err := rows.Scan(&e.ID, &e.Source, &e.RawPayload, &receivedAt); err != nil {
			return nil, fmt.Errorf("scanning ingress event row: %w", err)
		}
		e.ReceivedAt = receivedAt
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ingress event rows: %w", err)
	}
	// reverse to ascending receipt order, matching MemStore.Recent's contract
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
