package vectorstore

import (
	"context"
	"fmt"

	"github.com/dshills/coderag/internal/config"
)

// Open opens the store backend selected by cfg.Store
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.Store.Backend {
	case "", BackendSQLite:
		return OpenSQLite(ctx, cfg.Store.Path)
	case BackendQdrant:
		return OpenQdrant(ctx, QdrantOptions{
			Host:        cfg.Store.QdrantHost,
			Port:        cfg.Store.QdrantPort,
			Collection:  cfg.Store.Collection,
			Timeout:     cfg.Store.Timeout,
			MaxAttempts: cfg.Indexing.MaxAttempts,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
