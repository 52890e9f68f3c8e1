package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/dpmconv/internal/config"
	"github.com/JonMunkholm/dpmconv/internal/core"
)

func TestSQLite(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

func TestSQLite_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, s.PersistRows(ctx, cellRule, []*core.TargetRow{cellRow("EBA_T_C1", "EBA_T")}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	defer s.Close()
	rows, err := s.Rows(ctx, core.SectionCells)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.DatabaseConfig{Driver: config.DriverNone}, nil)
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = Open(ctx, config.DatabaseConfig{Driver: "mysql"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown database driver")

	s, err = Open(ctx, config.DatabaseConfig{Driver: config.DriverSQLite, URL: filepath.Join(t.TempDir(), "x.db")}, nil)
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, s)
	require.NoError(t, s.Close())
}

func TestSQLite_Reset(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.PersistRows(ctx, cellRule, []*core.TargetRow{cellRow("EBA_T_C1", "EBA_T")}))
	require.NoError(t, s.PersistReferences(ctx, referenceEntries()))

	require.NoError(t, s.ResetEntities(ctx))
	rows, err := s.Rows(ctx, core.SectionCells)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = s.References(ctx, core.ReferenceSpec{Kind: core.KindFramework})
	require.NoError(t, err, "references survive an entity reset")

	require.NoError(t, s.ResetReferences(ctx))
	_, err = s.References(ctx, core.ReferenceSpec{Kind: core.KindFramework})
	require.ErrorIs(t, err, ErrNoEntries)
}
