// Package eventstore persists raw inbound alerts so the alert ingress
// endpoint has something durable to point at before it ever reaches the
// rule engine.
package eventstore

import (
	"context"
	"sync"
	"time"
)

// StoredEvent is a raw alert payload plus receipt metadata.
type StoredEvent struct {
	ID          string
	Source      string
	RawPayload  string
	ReceivedAt  time.Time
}

// Store is the persistence surface the alert ingress endpoint depends on.
// A pgx-backed implementation following the reference stack's Postgres
// driver can satisfy this interface for durable deployments; the default
// here is in-memory, intended for single-replica or test use.
type Store interface {
	Append(ctx context.Context, event StoredEvent) error
	Recent(ctx context.Context, limit int) ([]StoredEvent, error)
}

// MemStore is an append-only, mutex-guarded in-memory Store.
type MemStore struct {
	mu     sync.Mutex
	events []StoredEvent
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{}
}

var _ Store = (*MemStore)(nil)

func (s *MemStore) Append(ctx context.Context, event StoredEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemStore) Recent(ctx context.Context, limit int) ([]StoredEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}
	out := make([]StoredEvent, limit)
	copy(out, s.events[len(s.events)-limit:])
	return out, nil
}
