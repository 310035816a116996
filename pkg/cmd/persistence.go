package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opsdesk/stepflow/pkg/persistence"
	"github.com/opsdesk/stepflow/pkg/persistence/file"
	"github.com/opsdesk/stepflow/pkg/persistence/postgresql"
)

// NewPersistence opens the store named by databaseURL: postgres:// and
// postgresql:// URLs select PostgreSQL, file:// or a bare path the file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, rest := parsePersistenceProvider(databaseURL)

	switch provider {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres persistence: %w", err)
		}

		return store, nil
	case "file":
		return file.NewPersistence(rest), nil
	default:
		return nil, fmt.Errorf("unsupported persistence provider %q", provider)
	}
}

func parsePersistenceProvider(databaseURL string) (string, string) {
	provider, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file", databaseURL
	}

	return provider, rest
}
