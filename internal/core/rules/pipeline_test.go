package rules

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/dpmconv/internal/core"
)

var fixtureFiles = map[string]string{
	"Organisation.csv": "OrgID,OrgCode,OrgName,OrgAcronym\n" +
		"1,EBA,European Banking Authority,EBA\n",
	"Framework.csv": "FrameworkID,FrameworkCode,FrameworkLabel,OrgID\n" +
		"7,FINREP,Financial Reporting,1\n",
	"Taxonomy.csv": "TaxonomyID,TaxonomyCode,TaxonomyLabel,FrameworkID,Version\n" +
		"3,FINREP_2.9,FINREP 2.9,7,2.9\n",
	"Domain.csv": "DomainID,DomainCode,DomainLabel,DomainDescription,DataType,IsTypedDomain,OrgID\n" +
		"20,CU,Currency,,String,false,1\n",
	"Template.csv": "TemplateID,TemplateCode,TemplateLabel,FrameworkID,TaxonomyID\n" +
		"1,F 08.01,Breakdown of liabilities,7,3\n",
	"Table.csv": "TableID,OriginalTableCode,OriginalTableLabel,TemplateID,IsAbstract,IsNormalised\n" +
		"10,F 08.01,Breakdown of liabilities,1,false,true\n",
	"TableVersion.csv": "TableVID,TableVersionCode,TableVersionLabel,TableID,FromDate,ToDate\n" +
		"100,F 08.01,F 08.01 v1,10,2020-01-01,\n",
	"Dimension.csv": "DimensionID,DimensionCode,DimensionLabel,DomainID,IsTypedDimension\n" +
		"30,CCY,Currency,20,false\n",
	"Member.csv": "MemberID,MemberCode,MemberLabel,DomainID,IsDefaultMember\n" +
		"40,EUR,Euro,20,true\n",
	"Axis.csv": "AxisID,TableVID,AxisOrientation,AxisOrder,AxisLabel,IsOpenAxis\n" +
		"60,100,X,1,Columns,false\n" +
		"61,100,Y,2,Rows,false\n",
	"AxisOrdinate.csv": "OrdinateID,AxisID,OrdinateCode,OrdinateLabel,IsAbstractHeader,Level,Order,ParentOrdinateID\n" +
		"70,60,0010,Carrying amount,false,1,1,\n" +
		"71,60,,Open member,false,2,2,70\n" +
		"72,61,0020,Deposits,false,1,1,\n",
	"DataPoint.csv": "DataPointVID,DataPointCode,DataType,MetricID,FromDate,ToDate\n" +
		"90,mi53,Monetary,5,,\n",
	"TableCell.csv": "CellID,TableVID,BusinessCode,DataPointVID,IsRowKey,IsShaded\n" +
		"77,100,\"{F 08.01, r0020, c0010}\",90,false,false\n",
	"CellPosition.csv": "CellID,OrdinateID\n" +
		"77,70\n" +
		"77,72\n" +
		"999,998\n" +
		"999,998\n",
	"OrdinateCategorisation.csv": "OrdinateID,DimensionID,MemberID,Source\n" +
		"70,30,40,explicit\n",
}

const (
	wantFramework = "EBA_FINREP"
	wantTable     = "EBA_FINREP_EBA_F_08.01_FINREP_2.9"
)

func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range fixtureFiles {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

var fixedNow = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

func runFixture(t *testing.T, opts core.PipelineOptions) *core.Result {
	t.Helper()
	if opts.SourceDir == "" {
		opts.SourceDir = writeFixture(t)
	}
	opts.RunID = "run-1"
	opts.Now = fixedNow
	res, err := core.Run(context.Background(), opts)
	require.NoError(t, err)
	return res
}

func ids(rows []*core.TargetRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

func TestRun_Identifiers(t *testing.T) {
	res := runFixture(t, core.PipelineOptions{})
	ent := res.Document.Entities

	assert.Equal(t, []string{"EBA_CU"}, ids(ent[core.SectionDomains]))
	assert.Equal(t, []string{wantFramework + "_F_08.01"}, ids(ent[core.SectionTemplates]))
	assert.Equal(t, []string{wantTable}, ids(ent[core.SectionTables]))
	assert.Equal(t, []string{wantTable + "_V100"}, ids(ent[core.SectionTableVersions]))
	assert.Equal(t, []string{wantTable + "_1", wantTable + "_2"}, ids(ent[core.SectionAxes]))
	assert.Equal(t, []string{
		wantTable + "_1_0010",
		wantTable + "_1_",
		wantTable + "_2_0020",
	}, ids(ent[core.SectionOrdinates]))
	assert.Equal(t, []string{wantTable + "_C77"}, ids(ent[core.SectionCells]))
	assert.Equal(t, []string{
		wantTable + "_C77_1_0010",
		wantTable + "_C77_2_0020",
	}, ids(ent[core.SectionCellPositions]))
	assert.Equal(t, []string{"EBA_DIM_CCY"}, ids(ent[core.SectionDimensions]))
	assert.Equal(t, []string{"EBA_CU_EUR"}, ids(ent[core.SectionMembers]))
	assert.Equal(t, []string{"EBA_DP_MI53"}, ids(ent[core.SectionVariables]))
}

// A dimension named like its domain keeps its own identifier and the
// domain stays linked.
func TestRun_DimensionSharingDomainCode(t *testing.T) {
	dir := writeFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dimension.csv"),
		[]byte("DimensionID,DimensionCode,DimensionLabel,DomainID,IsTypedDimension\n30,CU,Currency,20,false\n"), 0o644))

	res := runFixture(t, core.PipelineOptions{SourceDir: dir})
	ent := res.Document.Entities

	assert.Equal(t, []string{"EBA_CU"}, ids(ent[core.SectionDomains]))
	assert.Equal(t, []string{"EBA_DIM_CU"}, ids(ent[core.SectionDimensions]))
	assert.True(t, res.Graph.HasNode(core.KindDomain, "EBA_CU"))
	assert.Equal(t, []string{"EBA_CU_EUR"}, res.Graph.Children("domain_members", "EBA_CU"))
	assert.Equal(t, []string{"EBA_DIM_CU"}, res.Graph.Children("domain_dimensions", "EBA_CU"))

	sum := res.Graph.Summary()
	assert.Equal(t, map[string]int{"EBA_CU": 1}, sum.MembersPerDomain)
	assert.Equal(t, map[string]int{"EBA_CU": 1}, sum.DimensionsPerDomain)
	for _, l := range res.Metadata.MissingLinks {
		assert.NotContains(t, l.Reason, "domain", l.Relation)
	}
}

func TestRun_ForeignKeysRewritten(t *testing.T) {
	res := runFixture(t, core.PipelineOptions{})
	ent := res.Document.Entities

	tbl := ent[core.SectionTables][0]
	assert.Equal(t, wantFramework+"_F_08.01", tbl.String("template_id"))
	assert.Equal(t, "2.9", tbl.String("version"))

	open := ent[core.SectionOrdinates][1]
	assert.Equal(t, wantTable+"_1", open.String("axis_id"))
	assert.Equal(t, wantTable+"_1_0010", open.String("parent_ordinate_id"))

	cell := ent[core.SectionCells][0]
	assert.Equal(t, wantTable, cell.String("table_id"))
	assert.Equal(t, "EBA_DP_MI53", cell.String("variable_id"))
	assert.Equal(t, "{F 08.01, r0020, c0010}", cell.String("business_code"))

	variable := ent[core.SectionVariables][0]
	assert.Equal(t, "5", variable.String("source_metric_id"))
	_, ok := variable.Value("metric_id")
	assert.False(t, ok, "raw metric IDs are not presented as references")

	pos := ent[core.SectionCellPositions][0]
	assert.Equal(t, wantTable+"_C77", pos.String("cell_id"))
	assert.Equal(t, "1", pos.String("axis_number"))

	assert.Equal(t, []string{wantTable + "_1_"}, res.Graph.Children("ordinate_children", wantTable+"_1_0010"))
	assert.Equal(t, []string{wantTable + "_1_0010", wantTable + "_2_0020"}, res.Graph.Children("cell_ordinates", wantTable+"_C77"))
}

// A position whose cell and ordinate are both unknown is dropped and
// reported once however often it repeats.
func TestRun_UnknownCellDropped(t *testing.T) {
	res := runFixture(t, core.PipelineOptions{})
	meta := res.Metadata

	require.Len(t, meta.DroppedRows, 2)
	assert.Equal(t, core.KindCellPosition, meta.DroppedRows[0].Kind)
	assert.Equal(t, 4, meta.DroppedRows[0].Line)
	assert.Equal(t, 5, meta.DroppedRows[1].Line)

	var links []core.MissingLink
	for _, l := range meta.MissingLinks {
		if l.Relation == "cell_ordinates" {
			links = append(links, l)
		}
	}
	assert.Equal(t, []core.MissingLink{{
		Relation: "cell_ordinates",
		Child:    "cell_position:999_998",
		Ref:      "cell:999",
		Reason:   "unknown cell",
	}}, links)

	assert.Len(t, res.Document.Entities[core.SectionCellPositions], 2, "processing continues after the drop")
	for _, m := range meta.MissingReferences {
		assert.NotEqual(t, "998", m.SourceID, "a dropped row leaves no unresolved reference")
	}
}

func TestRun_LookupIndices(t *testing.T) {
	res := runFixture(t, core.PipelineOptions{})
	sum := res.Graph.Summary()

	assert.Equal(t, map[string]int{wantFramework: 1}, sum.TablesPerFramework)
	assert.Equal(t, map[string]int{"EBA_CU": 1}, sum.MembersPerDomain)
	assert.Equal(t, map[string][]string{wantFramework + "_F_08.01": {wantTable + "_C77"}}, sum.TemplateCells)
	assert.Equal(t, map[string][]core.Category{
		wantTable + "_C77": {{Dimension: "EBA_DIM_CCY", Member: "EBA_CU_EUR"}},
	}, sum.CellCombinations)

	keys := make([]string, len(res.Document.LookupIndices))
	for i, e := range res.Document.LookupIndices {
		keys[i] = e.Key
	}
	assert.Equal(t, []string{
		core.IndexTemplateFrameworks, core.IndexCounts, core.IndexTemplateCells,
		core.IndexCellCombinations, core.IndexIDMappings,
	}, keys)
	assert.Equal(t, 3, res.Metadata.Counts[core.SectionOrdinates])
	assert.Equal(t, 2, res.Metadata.Counts[core.SectionCellPositions])
}

func TestRun_SkipsMissingFiles(t *testing.T) {
	dir := writeFixture(t)
	require.NoError(t, os.Remove(filepath.Join(dir, "DataPoint.csv")))

	res := runFixture(t, core.PipelineOptions{SourceDir: dir})

	var skipped []core.Kind
	for _, s := range res.Metadata.SkippedFiles {
		skipped = append(skipped, s.Kind)
	}
	assert.Contains(t, skipped, core.KindVariable)
	assert.Contains(t, skipped, core.KindModule)
	assert.Empty(t, res.Document.Entities[core.SectionVariables])

	cell := res.Document.Entities[core.SectionCells][0]
	assert.Equal(t, core.UnresolvedRef, cell.String("variable_id"))
}

func TestRun_WorkersMatchSequential(t *testing.T) {
	dir := writeFixture(t)
	render := func(workers int) []byte {
		res := runFixture(t, core.PipelineOptions{SourceDir: dir, Workers: workers, BatchSize: 2})
		var buf bytes.Buffer
		require.NoError(t, core.NewDocumentWriter(&buf, core.DocumentOptions{}).Write(context.Background(), res.Document))
		return buf.Bytes()
	}

	seq := render(1)
	assert.Equal(t, string(seq), string(render(4)))
	assert.Equal(t, string(seq), string(render(1)), "repeated runs are identical")
}

// refKinds names the kind each foreign key column points at.
var refKinds = map[string]core.Kind{
	"owner_id":           core.KindOrganisation,
	"framework_id":       core.KindFramework,
	"taxonomy_id":        core.KindTaxonomy,
	"template_id":        core.KindTemplate,
	"table_id":           core.KindTable,
	"axis_id":            core.KindAxis,
	"ordinate_id":        core.KindOrdinate,
	"parent_ordinate_id": core.KindOrdinate,
	"cell_id":            core.KindCell,
	"domain_id":          core.KindDomain,
	"dimension_id":       core.KindDimension,
	"member_id":          core.KindMember,
	"variable_id":        core.KindVariable,
}

type collectingSink struct {
	mu   sync.Mutex
	rows map[core.Kind][]*core.TargetRow
}

func (s *collectingSink) PersistRows(_ context.Context, rule *core.Rule, rows []*core.TargetRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows == nil {
		s.rows = make(map[core.Kind][]*core.TargetRow)
	}
	s.rows[rule.Kind] = append(s.rows[rule.Kind], rows...)
	return nil
}

func (s *collectingSink) PersistReferences(context.Context, []*core.ReferenceEntry) error { return nil }

// Every foreign key column of every row holds nil, the sentinel, or an
// identifier produced for the referenced kind.
func TestRun_ForeignKeysResolveToKnownIDs(t *testing.T) {
	tests := []struct {
		name   string
		remove string
	}{
		{"complete export", ""},
		{"missing data points", "DataPoint.csv"},
		{"missing domains", "Domain.csv"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeFixture(t)
			if tt.remove != "" {
				require.NoError(t, os.Remove(filepath.Join(dir, tt.remove)))
			}
			sink := &collectingSink{}
			res := runFixture(t, core.PipelineOptions{SourceDir: dir, Sink: sink})

			known := make(map[core.Kind]map[string]bool)
			idsOf := func(k core.Kind) map[string]bool {
				if set, ok := known[k]; ok {
					return set
				}
				set := make(map[string]bool)
				if m := res.Context.Mapping(k); m != nil {
					for _, id := range m.Snapshot() {
						set[id] = true
					}
				}
				known[k] = set
				return set
			}

			checked := 0
			for kind, rows := range sink.rows {
				for _, r := range rows {
					for _, c := range r.Columns {
						if !strings.HasSuffix(c.Name, "_id") || strings.HasPrefix(c.Name, "source_") {
							continue
						}
						target, ok := refKinds[c.Name]
						require.True(t, ok, "%s has unmapped reference column %s", kind, c.Name)
						if c.Value == nil {
							continue
						}
						v, ok := c.Value.(string)
						require.True(t, ok, "%s %s.%s is %T", kind, r.ID, c.Name, c.Value)
						checked++
						if v == core.UnresolvedRef {
							continue
						}
						assert.True(t, idsOf(target)[v], "%s %s.%s = %q is not a %s identifier", kind, r.ID, c.Name, v, target)
					}
				}
			}
			assert.Positive(t, checked)
		})
	}
}

type recordingSink struct {
	mu      sync.Mutex
	kinds   []core.Kind
	refs    int
	failOn  core.Kind
	rowsFor map[core.Kind]int
}

func (s *recordingSink) PersistRows(_ context.Context, rule *core.Rule, rows []*core.TargetRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule.Kind == s.failOn {
		return errors.New("connection reset")
	}
	s.kinds = append(s.kinds, rule.Kind)
	if s.rowsFor == nil {
		s.rowsFor = make(map[core.Kind]int)
	}
	s.rowsFor[rule.Kind] = len(rows)
	return nil
}

func (s *recordingSink) PersistReferences(_ context.Context, entries []*core.ReferenceEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs += len(entries)
	return nil
}

func TestRun_SinkDependencyOrder(t *testing.T) {
	sink := &recordingSink{}
	runFixture(t, core.PipelineOptions{Sink: sink})

	var want []core.Kind
	for _, r := range core.Rules() {
		want = append(want, r.Kind)
	}
	assert.Equal(t, want, sink.kinds)
	assert.True(t, slices.IsSortedFunc(core.Rules(), func(a, b *core.Rule) int { return a.Order - b.Order }))
	assert.Less(t, slices.Index(sink.kinds, core.KindTable), slices.Index(sink.kinds, core.KindAxis))
	assert.Less(t, slices.Index(sink.kinds, core.KindCell), slices.Index(sink.kinds, core.KindCellPosition))
	assert.Equal(t, 2, sink.rowsFor[core.KindCellPosition])
	assert.Positive(t, sink.refs)
}

func TestRun_SinkErrorIsFatal(t *testing.T) {
	sink := &recordingSink{failOn: core.KindAxis}
	_, err := core.Run(context.Background(), core.PipelineOptions{
		SourceDir: writeFixture(t),
		Sink:      sink,
	})
	require.Error(t, err)
	assert.Equal(t, "DB002", core.MapError(err).Code)
	assert.NotContains(t, sink.kinds, core.KindOrdinate)
}

func TestRun_NoReferenceData(t *testing.T) {
	_, err := core.Run(context.Background(), core.PipelineOptions{SourceDir: t.TempDir()})
	require.ErrorIs(t, err, core.ErrNoReferenceData)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := core.Run(ctx, core.PipelineOptions{SourceDir: writeFixture(t)})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRun_Progress(t *testing.T) {
	var mu sync.Mutex
	done := map[core.Kind]bool{}
	runFixture(t, core.PipelineOptions{Progress: func(p core.Progress) {
		mu.Lock()
		defer mu.Unlock()
		if p.Done {
			assert.Equal(t, 100, p.Percent)
			done[p.Kind] = true
		}
	}})
	assert.Len(t, done, core.RuleCount())
}
