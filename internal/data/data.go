// Package data holds the storage backends of the auth service.
package data

import (
	"context"
	"fmt"
	"io"

	"webauth-backend/internal/auth"
	"webauth-backend/internal/conf"
)

// StateStore is an auth.StateStore that owns resources.
type StateStore interface {
	auth.StateStore
	io.Closer
}

// NewStateStore builds the state ledger selected by cfg.Driver.
func NewStateStore(ctx context.Context, cfg conf.StateStore) (StateStore, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStateStore(), nil
	case "sqlite":
		return NewSQLiteStateStore(cfg.Path)
	case "redis":
		return DialRedisStateStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown state store driver %q", cfg.Driver)
	}
}
