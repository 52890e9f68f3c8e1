package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(m map[string]string) SourceRow {
	cols := make([]string, 0, len(m))
	for k := range m {
		cols = append(cols, k)
	}
	return RowFromMap(cols, m)
}

func newFixtureContext(t *testing.T) *ResolutionContext {
	t.Helper()
	rs, _ := loadFixture(t, fixtureSource())
	return NewResolutionContext(rs, nil)
}

// mapKind records source ID -> identifier pairs for kind and freezes it.
func mapKind(t *testing.T, c *ResolutionContext, kind Kind, pairs map[string]string, entries ...*ReferenceEntry) {
	t.Helper()
	m, err := c.BeginKind(kind)
	require.NoError(t, err)
	for src, id := range pairs {
		require.NoError(t, m.Put(src, id))
	}
	require.NoError(t, c.FinishKind(kind, entries))
}

func TestResolve_FrameworkScenario(t *testing.T) {
	rs, _ := loadFixture(t, memSource{
		KindFramework: {{"FrameworkID": "7", "FrameworkCode": "FINREP"}},
	})
	c := NewResolutionContext(rs, nil)

	r := c.Resolve(KindFramework, row(map[string]string{"FrameworkID": "7", "FrameworkCode": "FINREP"}))
	assert.Equal(t, Resolution{ID: "EBA_FINREP", Strategy: StrategyDirect}, r)

	// The row alone is enough when the framework is not in the lookup.
	r = c.Resolve(KindFramework, row(map[string]string{"FrameworkID": "8", "FrameworkCode": "corep"}))
	assert.Equal(t, "EBA_COREP", r.ID)
}

func TestResolve_TableScenario(t *testing.T) {
	c := newFixtureContext(t)

	r := c.Resolve(KindTable, row(map[string]string{
		"TableID": "10", "TemplateID": "1", "OriginalTableCode": "F 08.01",
	}))
	assert.Equal(t, "EBA_FINREP_EBA_F_08.01_FINREP_2.9", r.ID)
	assert.Equal(t, StrategyFK, r.Strategy)
	assert.False(t, r.Unresolved)
}

func TestResolve_TableFallbackChain(t *testing.T) {
	c := newFixtureContext(t)

	tests := []struct {
		name     string
		row      map[string]string
		want     string
		strategy Strategy
	}{
		{
			name:     "module chain",
			row:      map[string]string{"TableID": "11", "OriginalTableCode": "C 05.00"},
			want:     "EBA_COREP_EBA_C_05.00_COREP_3.0",
			strategy: StrategyFK,
		},
		{
			name:     "template pattern",
			row:      map[string]string{"TableID": "13", "TemplateID": "3", "OriginalTableCode": "F 99.01"},
			want:     "EBA_FINREP_EBA_F_99.01_FINREP_2.10",
			strategy: StrategyPattern,
		},
		{
			name:     "table code pattern",
			row:      map[string]string{"TableID": "99", "OriginalTableCode": "F 40.00"},
			want:     "EBA_FINREP_EBA_F_40.00_FINREP_2.10",
			strategy: StrategyPattern,
		},
		{
			name:     "marker",
			row:      map[string]string{"TableID": "98", "OriginalTableCode": "Q 1"},
			want:     "EBA_TABLE_98",
			strategy: StrategyDefault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := c.Resolve(KindTable, row(tt.row))
			assert.Equal(t, tt.want, r.ID)
			assert.Equal(t, tt.strategy, r.Strategy)
			assert.Equal(t, tt.strategy == StrategyDefault, r.Unresolved)
		})
	}
}

func TestResolve_StructureScenarios(t *testing.T) {
	c := newFixtureContext(t)
	const tableID = "EBA_FINREP_EBA_F_08.01_FINREP_2.9"
	mapKind(t, c, KindTable, map[string]string{"10": tableID})

	tv := c.Resolve(KindTableVersion, row(map[string]string{"TableVID": "100", "TableID": "10"}))
	assert.Equal(t, tableID+"_V100", tv.ID)

	axis := c.Resolve(KindAxis, row(map[string]string{"AxisID": "5", "TableVID": "100", "AxisOrientation": "X"}))
	assert.Equal(t, tableID+"_1", axis.ID)
	assert.Equal(t, StrategyFK, axis.Strategy)

	mapKind(t, c, KindAxis, map[string]string{"5": axis.ID})

	open := c.Resolve(KindOrdinate, row(map[string]string{"OrdinateID": "1", "AxisID": "5", "OrdinateCode": ""}))
	numbered := c.Resolve(KindOrdinate, row(map[string]string{"OrdinateID": "2", "AxisID": "5", "OrdinateCode": "0010"}))
	assert.Equal(t, tableID+"_1_", open.ID)
	assert.Equal(t, tableID+"_1_0010", numbered.ID)
	assert.NotEqual(t, axis.ID, open.ID)
	assert.False(t, open.Unresolved)

	cell := c.Resolve(KindCell, row(map[string]string{"CellID": "77", "TableVID": "100"}))
	assert.Equal(t, tableID+"_C77", cell.ID)

	mapKind(t, c, KindOrdinate, map[string]string{"2": numbered.ID}, &ReferenceEntry{
		Kind: KindOrdinate, SourceID: "2", Code: "0010",
		Attrs: map[string]string{AttrAxisNumber: "1"},
	})
	mapKind(t, c, KindCell, map[string]string{"77": cell.ID})

	pos := c.Resolve(KindCellPosition, row(map[string]string{"CellID": "77", "OrdinateID": "2"}))
	assert.Equal(t, tableID+"_C77_1_0010", pos.ID)
}

func TestResolve_TableVersionPattern(t *testing.T) {
	c := newFixtureContext(t)
	mapKind(t, c, KindTable, nil)

	tid, s, ok := c.TableForVersion("102")
	require.True(t, ok)
	assert.Equal(t, "EBA_COREP_EBA_C_02.00_COREP_3.0", tid)
	assert.Equal(t, StrategyPattern, s)

	_, _, ok = c.TableForVersion("101")
	assert.False(t, ok, "unmapped table without a code")

	_, _, ok = c.TableForVersion("555")
	assert.False(t, ok)
}

func TestResolve_Dictionary(t *testing.T) {
	c := newFixtureContext(t)

	dom := c.Resolve(KindDomain, row(map[string]string{"DomainID": "20"}))
	assert.Equal(t, "EBA_CU", dom.ID)

	other := c.Resolve(KindDomain, row(map[string]string{"DomainID": "21", "DomainCode": "dom", "OrgID": "2"}))
	assert.Equal(t, "ECB_X_DOM", other.ID)

	dim := c.Resolve(KindDimension, row(map[string]string{"DimensionID": "1", "DimensionCode": "BAS", "DomainID": "20"}))
	assert.Equal(t, Resolution{ID: "EBA_DIM_BAS", Strategy: StrategyFK}, dim)

	mem := c.Resolve(KindMember, row(map[string]string{"MemberID": "1", "MemberCode": "x1", "DomainID": "20"}))
	assert.Equal(t, "EBA_CU_X1", mem.ID, "domain lookup is used before the domain kind ran")

	mapKind(t, c, KindDomain, map[string]string{"20": "EBA_CURRENCY"})
	mem = c.Resolve(KindMember, row(map[string]string{"MemberID": "1", "MemberCode": "x1", "DomainID": "20"}))
	assert.Equal(t, "EBA_CURRENCY_X1", mem.ID)

	v := c.Resolve(KindVariable, row(map[string]string{"DataPointVID": "5", "DataPointCode": "dp 1"}))
	assert.Equal(t, "EBA_DP_DP_1", v.ID)
	v = c.Resolve(KindVariable, row(map[string]string{"DataPointVID": "5", "DataPointID": "42"}))
	assert.Equal(t, "EBA_DP_42", v.ID)
}

func TestResolve_Totality(t *testing.T) {
	c := newFixtureContext(t)
	kinds := []Kind{
		KindFramework, KindDomain, KindTemplate, KindTable, KindTableVersion,
		KindDimension, KindMember, KindAxis, KindOrdinate, KindVariable,
		KindCell, KindCellPosition, KindOrdinateCategorisation, KindModule,
	}

	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			empty := c.Resolve(kind, row(nil))
			assert.Equal(t, c.MarkerID(kind, ""), empty.ID)
			assert.Equal(t, StrategyDefault, empty.Strategy)
			assert.True(t, empty.Unresolved)
			assert.NotEqual(t, UnresolvedRef, empty.ID)

			garbage := c.Resolve(kind, row(map[string]string{
				"FrameworkID": "x", "TableID": "??", "CellID": "-", "AxisID": "none",
				"OrdinateID": "9999", "DomainID": "abc", "TableVID": "0",
			}))
			assert.NotEmpty(t, garbage.ID)
			assert.Equal(t, garbage.ID, SanitizeID(garbage.ID))
		})
	}
}

func TestResolve_MarkerUsesSourceKey(t *testing.T) {
	c := newFixtureContext(t)
	r := c.Resolve(KindCellPosition, row(map[string]string{"CellID": "0012", "OrdinateID": "3"}))
	assert.Equal(t, "EBA_CELL_POSITION_12_3", r.ID)
	assert.True(t, r.Unresolved)
}

func TestResolve_Deterministic(t *testing.T) {
	rows := []struct {
		kind Kind
		row  map[string]string
	}{
		{KindTemplate, map[string]string{"TemplateID": "1"}},
		{KindTemplate, map[string]string{"TemplateID": "3", "TemplateCode": "F 99.00"}},
		{KindTable, map[string]string{"TableID": "11", "OriginalTableCode": "C 05.00"}},
		{KindTable, map[string]string{"TableID": "12", "OriginalTableCode": "unknown"}},
		{KindDomain, map[string]string{"DomainID": "20"}},
	}

	resolveAll := func() []Resolution {
		c := newFixtureContext(t)
		out := make([]Resolution, len(rows))
		for i, r := range rows {
			out[i] = c.Resolve(r.kind, row(r.row))
		}
		return out
	}

	first := resolveAll()
	for range 5 {
		assert.Equal(t, first, resolveAll())
	}
	assert.Equal(t, "EBA_FINREP_F_08.01", first[0].ID)
}

func TestReferenceSet_Owner(t *testing.T) {
	rs, _ := loadFixture(t, fixtureSource())
	assert.Equal(t, "EBA", rs.Owner("1"))
	assert.Equal(t, "ECB_X", rs.Owner("2"))
	assert.Equal(t, "EBA", rs.Owner("404"))

	rs.Defaults.Owner = "ACME"
	assert.Equal(t, "ACME", rs.Owner(""))
}

func TestDefaults_WithFallbacks(t *testing.T) {
	assert.Equal(t, DefaultDefaults(), Defaults{}.withFallbacks())
	assert.Equal(t, Defaults{Owner: "ECB", Version: "1.0", Unknown: "UNK"}, Defaults{Owner: "ECB", Version: "--"}.withFallbacks())
}

func TestResolutionContext_SeededMappings(t *testing.T) {
	c := newFixtureContext(t)

	for _, kind := range []Kind{KindOrganisation, KindFramework, KindTaxonomy, KindModule} {
		assert.True(t, c.Mapping(kind).Frozen(), "%s frozen", kind)
	}
	ids := c.LookupIDs()
	assert.Equal(t, []MappedID{{"7", "EBA_FINREP"}, {"8", "EBA_COREP"}}, ids[KindFramework])
	assert.Equal(t, []MappedID{{"3", "EBA_FINREP_2.9"}, {"4", "EBA_FINREP_2.10"}, {"5", "EBA_COREP_COREP_3.0"}}, ids[KindTaxonomy])
	assert.Equal(t, []MappedID{{"50", "EBA_COREP_COREP_LE"}}, ids[KindModule])

	_, err := c.BeginKind(KindFramework)
	assert.Error(t, err, "a kind starts once")

	mapKind(t, c, KindTable, map[string]string{"10": "T"})
	assert.ErrorIs(t, c.Mapping(KindTable).Put("11", "U"), ErrLookupFrozen)
}
