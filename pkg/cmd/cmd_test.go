package cmd

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/opsdesk/stepflow/pkg/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePersistenceProvider(t *testing.T) {
	tests := []struct {
		url          string
		wantProvider string
		wantRest     string
	}{
		{url: "file:///var/lib/stepflow", wantProvider: "file", wantRest: "/var/lib/stepflow"},
		{url: "./data", wantProvider: "file", wantRest: "./data"},
		{url: "postgres://u:p@db:5432/stepflow", wantProvider: "postgres", wantRest: "u:p@db:5432/stepflow"},
		{url: "mongodb://db", wantProvider: "mongodb", wantRest: "db"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			provider, rest := parsePersistenceProvider(tt.url)
			assert.Equal(t, tt.wantProvider, provider)
			assert.Equal(t, tt.wantRest, rest)
		})
	}
}

func TestNewPersistence(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	store, err := NewPersistence(ctx, logger, "file://"+filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)
	require.NoError(t, store.HealthCheck(ctx))

	_, err = NewPersistence(ctx, logger, "mongodb://db")
	require.Error(t, err)
}

func TestNewEventBus(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	bus, err := NewEventBus(logger, "gochannel", "")
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = NewEventBus(logger, "kafka", "")
	require.Error(t, err, "kafka needs brokers")

	_, err = NewEventBus(logger, "rabbitmq", "")
	require.Error(t, err)
}

func TestNewLocker_InMemoryWithoutRedis(t *testing.T) {
	locker, closeLocker, err := NewLocker(context.Background(), slog.New(slog.DiscardHandler), "")
	require.NoError(t, err)
	assert.IsType(t, &lock.MemoryLocker{}, locker)
	assert.NoError(t, closeLocker())
}
