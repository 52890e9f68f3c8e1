package core

import (
	"context"
	"fmt"
	"io/fs"
	"maps"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSource serves reference rows from memory. Kinds without rows behave
// like missing files.
type memSource map[Kind][]map[string]string

func (m memSource) References(_ context.Context, spec ReferenceSpec) ([]ReferenceEntry, error) {
	rows, ok := m[spec.Kind]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", spec.File, fs.ErrNotExist)
	}
	out := make([]ReferenceEntry, 0, len(rows))
	for i, r := range rows {
		row := RowFromMap(slices.Sorted(maps.Keys(r)), r)
		row.Line = i + 2
		out = append(out, *spec.Entry(row))
	}
	return out, nil
}

// fixtureSource is a small export with every foundational kind:
//
//	framework 7 FINREP: taxonomies 3 (2.9) and 4 (2.10), template 1 by FK
//	framework 8 COREP:  taxonomy 5 (3.0), template 2 via taxonomy, module 50
//	template 3 has no links and resolves by code pattern
func fixtureSource() memSource {
	return memSource{
		KindOrganisation: {
			{"OrgID": "1", "OrgCode": "EBA", "OrgAcronym": "EBA", "OrgName": "European Banking Authority"},
			{"OrgID": "2", "OrgCode": "ECB-X"},
		},
		KindFramework: {
			{"FrameworkID": "7", "FrameworkCode": "FINREP", "OrgID": "1"},
			{"FrameworkID": "8", "FrameworkCode": "COREP", "OrgID": "1"},
		},
		KindDomain: {
			{"DomainID": "20", "DomainCode": "CU", "OrgID": "1", "DataType": "enumeration"},
		},
		KindTemplate: {
			{"TemplateID": "1", "TemplateCode": "F 08.01", "FrameworkID": "7", "TaxonomyID": "3"},
			{"TemplateID": "2", "TemplateCode": "C 01.00", "TaxonomyID": "5"},
			{"TemplateID": "3", "TemplateCode": "F 99.00"},
		},
		KindTaxonomy: {
			{"TaxonomyID": "3", "FrameworkID": "7", "Version": "2.9"},
			{"TaxonomyID": "4", "FrameworkID": "7", "Version": "2.10"},
			{"TaxonomyID": "5", "FrameworkID": "8", "Version": "3.0", "TaxonomyCode": "COREP_3.0"},
		},
		KindTableVersion: {
			{"TableVID": "100", "TableID": "10", "TableVersionCode": "F 08.01"},
			{"TableVID": "101", "TableID": "11"},
			{"TableVID": "102", "TableID": "12", "TableVersionCode": "C 02.00"},
		},
		KindModule: {
			{"ModuleID": "50", "TaxonomyID": "5", "ModuleCode": "COREP_LE"},
		},
		KindModuleTableVersion: {
			{"ModuleID": "50", "TableVID": "101"},
		},
	}
}

func loadFixture(t *testing.T, src ReferenceSource) (*ReferenceSet, *RunMetadata) {
	t.Helper()
	meta := NewRunMetadata("test", "", time.Time{})
	rs, err := LoadReferenceData(context.Background(), src, ReferenceOptions{Metadata: meta})
	require.NoError(t, err)
	return rs, meta
}

func TestLoadReferenceData_AllKinds(t *testing.T) {
	rs, meta := loadFixture(t, fixtureSource())

	assert.Len(t, rs.Loaded(), len(FoundationalSpecs))
	assert.Empty(t, meta.SkippedFiles)
	assert.Empty(t, meta.ParseErrors)

	for _, spec := range FoundationalSpecs {
		assert.True(t, rs.Lookup(spec.Kind).Frozen(), "%s frozen", spec.Kind)
	}
	err := rs.Lookup(KindFramework).Put(&ReferenceEntry{SourceID: "99"})
	assert.ErrorIs(t, err, ErrLookupFrozen)

	mtv, ok := rs.Lookup(KindModuleTableVersion).Get("50")
	assert.False(t, ok, "association rows are keyed by their references")
	assert.Nil(t, mtv)
	assert.Equal(t, "50:101", rs.Lookup(KindModuleTableVersion).Entries()[0].SourceID)
}

func TestLoadReferenceData_NoData(t *testing.T) {
	meta := NewRunMetadata("test", "", time.Time{})
	_, err := LoadReferenceData(context.Background(), memSource{}, ReferenceOptions{Metadata: meta})

	require.ErrorIs(t, err, ErrNoReferenceData)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Len(t, meta.SkippedFiles, len(FoundationalSpecs))
	assert.Equal(t, "file not found", meta.SkippedFiles[0].Reason)
}

func TestLoadReferenceData_PartialAndInvalid(t *testing.T) {
	src := memSource{
		KindFramework: {
			{"FrameworkID": "007", "FrameworkCode": "FINREP"},
			{"FrameworkID": "abc", "FrameworkCode": "BROKEN"},
			{"FrameworkID": "9", "FrameworkCode": "COREP", "OrgID": "x"},
		},
	}
	rs, meta := loadFixture(t, src)

	assert.Equal(t, []Kind{KindFramework}, rs.Loaded())
	assert.Len(t, meta.SkippedFiles, len(FoundationalSpecs)-1)
	require.Len(t, meta.ParseErrors, 1)
	assert.Equal(t, 3, meta.ParseErrors[0].Line)

	fw, ok := rs.Lookup(KindFramework).Get("7")
	require.True(t, ok, "IDs are normalized")
	assert.Equal(t, "FINREP", fw.Code)

	corep, ok := rs.Lookup(KindFramework).Get("9")
	require.True(t, ok)
	assert.Empty(t, corep.Ref(string(KindOrganisation)), "invalid foreign keys are removed")
}

func TestLoadReferenceData_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := LoadReferenceData(ctx, fixtureSource(), ReferenceOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReferenceSet_TemplateFrameworks(t *testing.T) {
	rs, _ := loadFixture(t, fixtureSource())

	assert.Equal(t, []TemplateFrameworkLink{
		{TemplateID: "1", FrameworkID: "EBA_FINREP", Version: "2.9", Strategy: StrategyFK},
		{TemplateID: "2", FrameworkID: "EBA_COREP", Version: "3.0", Strategy: StrategyFK},
		{TemplateID: "3", FrameworkID: "EBA_FINREP", Version: "2.10", Strategy: StrategyPattern},
	}, rs.TemplateFrameworks())

	ref, ok := rs.TemplateFramework("01")
	require.True(t, ok)
	assert.Equal(t, "7", ref.SourceID)

	_, ok = rs.TemplateFramework("")
	assert.False(t, ok)
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, 1, compareVersions("2.10", "2.9"))
	assert.Equal(t, -1, compareVersions("2.9", "3.0"))
	assert.Equal(t, 0, compareVersions("3.0", "3.0"))
	assert.Equal(t, 1, compareVersions("3.0.1", "3.0"))
	assert.Equal(t, 1, compareVersions("2.9b", "2.9a"))
}

func TestCSVReferenceSource(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "Framework.csv", "FrameworkID,FrameworkCode,FrameworkLabel,OrgID\n7,FINREP,Financial reporting,1\n")
	writeCSV(t, dir, "Organisation.csv", "OrgID,OrgCode,OrgName,OrgAcronym\n1,EBA,European Banking Authority,EBA\n")

	src := NewCSVReferenceSource(dir)
	rs, meta := loadFixture(t, src)

	assert.Equal(t, []Kind{KindOrganisation, KindFramework}, rs.Loaded())
	assert.Len(t, meta.SkippedFiles, len(FoundationalSpecs)-2)

	fw, ok := rs.Lookup(KindFramework).Get("7")
	require.True(t, ok)
	assert.Equal(t, "Financial reporting", fw.Label)
	assert.Equal(t, 2, fw.Line)

	_, err := src.References(context.Background(), ReferenceSpec{File: filepath.Join("missing", "X.csv")})
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLookupTable(t *testing.T) {
	table := NewLookupTable(KindTemplate)
	require.NoError(t, table.Put(&ReferenceEntry{SourceID: "5", Code: "F 01.01"}))
	require.NoError(t, table.Put(&ReferenceEntry{SourceID: "3", Code: "f_01.01"}))
	require.NoError(t, table.Put(&ReferenceEntry{SourceID: "9", Code: "F 02.00"}))
	assert.Error(t, table.Put(&ReferenceEntry{}))

	byCode, ok := table.ByCode("F 01.01")
	require.True(t, ok)
	assert.Equal(t, "3", byCode.SourceID, "smallest ID wins a shared code")

	// Replacing keeps the position and drops the old code.
	require.NoError(t, table.Put(&ReferenceEntry{SourceID: "5", Code: "F 03.00"}))
	ids := []string{}
	for _, e := range table.Entries() {
		ids = append(ids, e.SourceID)
	}
	assert.Equal(t, []string{"5", "3", "9"}, ids)
	e, ok := table.ByCode("F 03.00")
	require.True(t, ok)
	assert.Equal(t, "5", e.SourceID)

	got, ok := table.Get(" 009 ")
	require.True(t, ok)
	assert.Equal(t, "F 02.00", got.Code)
	assert.Equal(t, 3, table.Len())

	var nilTable *LookupTable
	_, ok = nilTable.Get("1")
	assert.False(t, ok)
	assert.Equal(t, 0, nilTable.Len())
}

func TestIDMapping(t *testing.T) {
	m := NewIDMapping(KindTable)
	require.NoError(t, m.Put("010", "EBA_T"))
	assert.Error(t, m.Put("x", "EBA_X"))

	id, ok := m.Get("10")
	require.True(t, ok)
	assert.Equal(t, "EBA_T", id)

	m.Freeze()
	assert.ErrorIs(t, m.Put("11", "EBA_U"), ErrLookupFrozen)
	assert.Equal(t, map[string]string{"10": "EBA_T"}, m.Snapshot())

	var nilMapping *IDMapping
	_, ok = nilMapping.Get("10")
	assert.False(t, ok)
	assert.False(t, nilMapping.Frozen())
}

func TestLookups_Follow(t *testing.T) {
	rs, _ := loadFixture(t, fixtureSource())
	tpl, ok := rs.lookups.Get(KindTemplate, "2")
	require.True(t, ok)

	fw, ok := rs.lookups.Follow(tpl, Hop{string(KindTaxonomy), KindTaxonomy}, Hop{string(KindFramework), KindFramework})
	require.True(t, ok)
	assert.Equal(t, "COREP", fw.Code)

	_, ok = rs.lookups.Follow(tpl, Hop{string(KindFramework), KindFramework})
	assert.False(t, ok, "template 2 has no direct framework")

	hop := Hop{string(KindTaxonomy), KindTaxonomy}
	_, ok = rs.lookups.Follow(tpl, hop, hop, hop, hop, hop)
	assert.False(t, ok, "paths beyond the hop limit are refused")
}
