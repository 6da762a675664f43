package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/persistence/file"
	"github.com/dukex/stepflow/pkg/persistence/postgresql"
	"github.com/dukex/stepflow/pkg/persistence/redis"
)

var supportedPersistenceProviders = []string{"file", "postgres", "postgresql"}

// NewPersistence opens the storage backend named by the scheme of databaseURL.
// A URL without a recognised scheme is treated as a directory for file storage.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, rest := parsePersistenceProvider(databaseURL)

	switch provider {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres persistence: %w", err)
		}

		return p, nil
	default:
		return file.NewPersistence(rest), nil
	}
}

// NewTimeoutStore returns the Redis timeout store for a redis:// URL, or nil when
// timeoutStoreURL is empty so the persistence backend keeps the timeouts.
func NewTimeoutStore(ctx context.Context, logger *slog.Logger, timeoutStoreURL string) (*redis.TimeoutStore, error) {
	if timeoutStoreURL == "" {
		return nil, nil
	}

	if !strings.HasPrefix(timeoutStoreURL, "redis://") && !strings.HasPrefix(timeoutStoreURL, "rediss://") {
		return nil, fmt.Errorf("unsupported timeout store %q", timeoutStoreURL)
	}

	return redis.NewTimeoutStore(ctx, logger, timeoutStoreURL)
}

func parsePersistenceProvider(databaseURL string) (string, string) {
	provider, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file", databaseURL
	}

	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider, rest
		}
	}

	return "file", databaseURL
}
