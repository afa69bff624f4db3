package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/stepflow/pkg/connectors/table"
)

// NewTableStore opens the store backing table steps: "memory" (the default),
// a postgres:// URL or a redis:// URL. The returned close func is never nil.
func NewTableStore(ctx context.Context, logger *slog.Logger, storeURL string) (table.Store, func() error, error) {
	noop := func() error { return nil }
	provider, _, _ := strings.Cut(storeURL, "://")

	switch provider {
	case "", "memory":
		return table.NewMemoryStore(), noop, nil
	case "postgres", "postgresql":
		store, err := table.NewPostgresStore(ctx, logger, storeURL)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open postgres table store: %w", err)
		}

		return store, store.Close, nil
	case "redis", "rediss":
		store, err := table.NewRedisStore(ctx, logger, storeURL)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open redis table store: %w", err)
		}

		return store, store.Close, nil
	default:
		return nil, noop, fmt.Errorf("unsupported table store: %s", provider)
	}
}
