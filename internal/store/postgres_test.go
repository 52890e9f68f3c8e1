package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/dpmconv/internal/config"
)

// TestPostgres runs against the database in TEST_DATABASE_URL. Its tables
// are truncated first.
func TestPostgres(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	s, err := OpenPostgres(ctx, config.DatabaseConfig{
		Driver: config.DriverPostgres, URL: url, MaxConns: 4, MinConns: 1,
	}, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.ResetEntities(ctx))
	require.NoError(t, s.ResetReferences(ctx))

	exerciseStore(t, s)
}
