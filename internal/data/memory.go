package data

import (
	"context"
	"time"

	"webauth-backend/internal/auth"

	gocache "github.com/patrickmn/go-cache"
)

// memoryStateStore keeps consumed state ids in process memory.
type memoryStateStore struct {
	c   *gocache.Cache
	now func() time.Time
}

// NewMemoryStateStore creates an in-memory state ledger.
func NewMemoryStateStore() StateStore {
	return &memoryStateStore{c: gocache.New(auth.StateTTL, time.Minute), now: time.Now}
}

var _ auth.StateStore = (*memoryStateStore)(nil)

// Consume reports whether id was seen for the first time.
func (m *memoryStateStore) Consume(_ context.Context, id string, expiresAt time.Time) (bool, error) {
	ttl := expiresAt.Sub(m.now())
	if ttl <= 0 {
		// already expired; verification rejects it anyway, keep it briefly
		ttl = time.Minute
	}
	return m.c.Add(id, struct{}{}, ttl) == nil, nil
}

func (m *memoryStateStore) Close() error {
	m.c.Flush()
	return nil
}
