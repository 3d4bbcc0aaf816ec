// Package index persists the list of known sessions so they can be recovered
// after a restart. Every backend rewrites the whole list on Save.
package index

import (
	"context"
	"fmt"

	"github.com/xiaot623/gogo/gateway/internal/config"
	"github.com/xiaot623/gogo/gateway/internal/domain"
)

// Store defines the interface for the persisted session index.
type Store interface {
	// Load returns the last saved entries. A missing index yields no entries.
	Load(ctx context.Context) ([]domain.SessionSummary, error)
	// Save replaces the whole index with entries.
	Save(ctx context.Context, entries []domain.SessionSummary) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Open builds the Store selected by the configuration.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.IndexBackend {
	case "", BackendFile:
		return NewFileStore(cfg.IndexPath), nil
	case BackendSQLite:
		return NewSQLiteStore(cfg.SQLiteDSN)
	case BackendRedis:
		return NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisKey)
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.IndexBackend)
	}
}
