package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/dpmconv/internal/core"
)

var (
	cellRule = &core.Rule{Kind: core.KindCell, Section: core.SectionCells}
	catRule  = &core.Rule{Kind: core.KindOrdinateCategorisation}
)

func cellRow(id, table string) *core.TargetRow {
	t := &core.TargetRow{Kind: core.KindCell, Section: core.SectionCells, ID: id}
	t.Set("table_id", table)
	t.Set("is_shaded", false)
	return t
}

func referenceEntries() []*core.ReferenceEntry {
	return []*core.ReferenceEntry{
		{Kind: core.KindOrganisation, SourceID: "1", Code: "EBA", Label: "European Banking Authority",
			Attrs: map[string]string{core.AttrAcronym: "EBA"}, Line: 2},
		{Kind: core.KindFramework, SourceID: "7", Code: "FINREP",
			Refs: map[string]string{string(core.KindOrganisation): "1"}, Line: 2},
		{Kind: core.KindFramework, SourceID: "8", Code: "COREP",
			Refs: map[string]string{string(core.KindOrganisation): "1"}, Line: 3},
	}
}

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	ctx := core.ContextWithRunID(context.Background(), "run-1")

	t.Run("rows upsert", func(t *testing.T) {
		require.NoError(t, s.PersistRows(ctx, cellRule, []*core.TargetRow{
			cellRow("EBA_T_C1", "EBA_T"),
			cellRow("EBA_T_C2", "EBA_T"),
		}))
		require.NoError(t, s.PersistRows(ctx, cellRule, []*core.TargetRow{cellRow("EBA_T_C1", "EBA_T2")}))

		rows, err := s.Rows(ctx, core.SectionCells)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "EBA_T_C1", rows[0].ID)
		assert.Equal(t, core.KindCell, rows[0].Kind)
		assert.Equal(t, "run-1", rows[0].RunID)

		var data map[string]any
		require.NoError(t, json.Unmarshal(rows[0].Data, &data))
		assert.Equal(t, "EBA_T2", data["table_id"], "second write overwrites in place")
		assert.Equal(t, false, data["is_shaded"])
		assert.Contains(t, data, "raw_data")
	})

	t.Run("graph-only kinds keyed by kind", func(t *testing.T) {
		row := &core.TargetRow{Kind: core.KindOrdinateCategorisation, ID: "EBA_O_D_M"}
		require.NoError(t, s.PersistRows(ctx, catRule, []*core.TargetRow{row}))

		rows, err := s.Rows(ctx, string(core.KindOrdinateCategorisation))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "EBA_O_D_M", rows[0].ID)
	})

	t.Run("empty writes", func(t *testing.T) {
		require.NoError(t, s.PersistRows(ctx, cellRule, nil))
		require.NoError(t, s.PersistReferences(ctx, nil))
	})

	t.Run("references round trip", func(t *testing.T) {
		require.NoError(t, s.PersistReferences(ctx, referenceEntries()))
		require.NoError(t, s.PersistReferences(ctx, referenceEntries()[:1]))

		spec := core.ReferenceSpec{Kind: core.KindFramework}
		got, err := s.References(ctx, spec)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "7", got[0].SourceID)
		assert.Equal(t, "FINREP", got[0].Code)
		assert.Equal(t, "1", got[0].Ref(string(core.KindOrganisation)))
		assert.Nil(t, got[0].Attrs)

		_, err = s.References(ctx, core.ReferenceSpec{Kind: core.KindModule})
		require.ErrorIs(t, err, ErrNoEntries)
	})

	t.Run("reference source", func(t *testing.T) {
		rs, err := core.LoadReferenceData(ctx, s, core.ReferenceOptions{})
		require.NoError(t, err)
		assert.Equal(t, []core.Kind{core.KindOrganisation, core.KindFramework}, rs.Loaded())

		fw, ok := rs.FrameworkByID("7")
		require.True(t, ok)
		assert.Equal(t, "EBA_FINREP", fw.ID)
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := s.PersistRows(cctx, cellRule, []*core.TargetRow{cellRow("EBA_T_C3", "EBA_T")})
		require.ErrorIs(t, err, context.Canceled)
	})

	require.NoError(t, s.Ping(context.Background()))
}
