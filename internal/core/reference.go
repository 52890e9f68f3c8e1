package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ErrNoReferenceData is returned when none of the foundational kinds could
// be read. It is the only error that aborts a run besides cancellation.
var ErrNoReferenceData = errors.New("no reference data could be loaded")

// RefColumn binds an entry attribute or reference name to a source column.
type RefColumn struct {
	Name   string
	Column string
}

// ReferenceSpec describes how rows of a kind become reference entries.
type ReferenceSpec struct {
	Kind     Kind
	File     string
	IDColumn string // empty for association kinds
	Code     []string
	Label    []string
	Refs     []RefColumn
	Attrs    []RefColumn
}

// Entry converts row into a reference entry. IDs are left as read; use
// normalizeEntry before storing.
func (s ReferenceSpec) Entry(row SourceRow) *ReferenceEntry {
	e := &ReferenceEntry{
		Kind:  s.Kind,
		Code:  firstValue(row, s.Code),
		Label: firstValue(row, s.Label),
		Line:  row.Line,
	}
	if s.IDColumn != "" {
		e.SourceID = row.Get(s.IDColumn)
	}
	if len(s.Refs) > 0 {
		e.Refs = make(map[string]string, len(s.Refs))
		for _, r := range s.Refs {
			if v := row.Get(r.Column); v != "" {
				e.Refs[r.Name] = v
			}
		}
	}
	if len(s.Attrs) > 0 {
		e.Attrs = make(map[string]string, len(s.Attrs))
		for _, a := range s.Attrs {
			if v := row.Get(a.Column); v != "" {
				e.Attrs[a.Name] = v
			}
		}
	}
	return e
}

func firstValue(row SourceRow, cols []string) string {
	for _, c := range cols {
		if v := row.Get(c); v != "" {
			return v
		}
	}
	return ""
}

// Reference attribute names.
const (
	AttrAcronym    = "acronym"
	AttrVersion    = "version"
	AttrFromDate   = "from_date"
	AttrToDate     = "to_date"
	AttrDataType   = "data_type"
	AttrAxisNumber = "axis_number"
	AttrTableCode  = "table_code"
)

// FoundationalSpecs lists the foundational kinds in load order. Later kinds
// reference earlier ones.
var FoundationalSpecs = []ReferenceSpec{
	{
		Kind: KindOrganisation, File: "Organisation.csv", IDColumn: "OrgID",
		Code:  []string{"OrgCode"},
		Label: []string{"OrgName"},
		Attrs: []RefColumn{{AttrAcronym, "OrgAcronym"}},
	},
	{
		Kind: KindFramework, File: "Framework.csv", IDColumn: "FrameworkID",
		Code:  []string{"FrameworkCode"},
		Label: []string{"FrameworkLabel"},
		Refs:  []RefColumn{{string(KindOrganisation), "OrgID"}},
	},
	{
		Kind: KindDomain, File: "Domain.csv", IDColumn: "DomainID",
		Code:  []string{"DomainCode"},
		Label: []string{"DomainLabel"},
		Refs:  []RefColumn{{string(KindOrganisation), "OrgID"}},
		Attrs: []RefColumn{{AttrDataType, "DataType"}},
	},
	{
		Kind: KindTemplate, File: "Template.csv", IDColumn: "TemplateID",
		Code:  []string{"TemplateCode"},
		Label: []string{"TemplateLabel"},
		Refs: []RefColumn{
			{string(KindFramework), "FrameworkID"},
			{string(KindTaxonomy), "TaxonomyID"},
		},
	},
	{
		Kind: KindTaxonomy, File: "Taxonomy.csv", IDColumn: "TaxonomyID",
		Code:  []string{"TaxonomyCode"},
		Label: []string{"TaxonomyLabel"},
		Refs:  []RefColumn{{string(KindFramework), "FrameworkID"}},
		Attrs: []RefColumn{{AttrVersion, "Version"}},
	},
	{
		Kind: KindTableVersion, File: "TableVersion.csv", IDColumn: "TableVID",
		Code:  []string{"TableVersionCode"},
		Label: []string{"TableVersionLabel"},
		Refs:  []RefColumn{{string(KindTable), "TableID"}},
		Attrs: []RefColumn{{AttrFromDate, "FromDate"}, {AttrToDate, "ToDate"}},
	},
	{
		Kind: KindModule, File: "Module.csv", IDColumn: "ModuleID",
		Code:  []string{"ModuleCode"},
		Label: []string{"ModuleLabel"},
		Refs:  []RefColumn{{string(KindTaxonomy), "TaxonomyID"}},
	},
	{
		Kind: KindModuleTableVersion, File: "ModuleTableVersion.csv",
		Refs: []RefColumn{
			{string(KindModule), "ModuleID"},
			{string(KindTableVersion), "TableVID"},
		},
	},
}

// ReferenceSource supplies reference entries for a kind. Entries keep their
// source IDs as stored; LoadReferenceData normalizes them.
type ReferenceSource interface {
	References(ctx context.Context, spec ReferenceSpec) ([]ReferenceEntry, error)
}

// IssueReporter is implemented by sources that collect parse problems.
type IssueReporter interface {
	TakeIssues() []ParseIssue
}

// CSVReferenceSource reads foundational files from a directory.
type CSVReferenceSource struct {
	Dir       string
	BatchSize int

	mu     sync.Mutex
	issues []ParseIssue
}

// NewCSVReferenceSource creates a source reading from dir.
func NewCSVReferenceSource(dir string) *CSVReferenceSource {
	return &CSVReferenceSource{Dir: dir}
}

// References reads spec.File and converts every row.
func (s *CSVReferenceSource) References(ctx context.Context, spec ReferenceSpec) ([]ReferenceEntry, error) {
	br, err := OpenBatches(filepath.Join(s.Dir, spec.File), s.BatchSize)
	if err != nil {
		return nil, err
	}
	defer br.Close()

	var out []ReferenceEntry
	for batch, err := range br.Batches() {
		if err != nil {
			return out, err
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		for _, row := range batch {
			out = append(out, *spec.Entry(row))
		}
	}

	s.mu.Lock()
	s.issues = append(s.issues, br.Issues()...)
	s.mu.Unlock()
	return out, nil
}

// TakeIssues returns and clears the collected parse issues.
func (s *CSVReferenceSource) TakeIssues() []ParseIssue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.issues
	s.issues = nil
	return out
}

// ReferenceOptions configures LoadReferenceData.
type ReferenceOptions struct {
	Defaults Defaults
	Patterns *PatternTable
	Metadata *RunMetadata
	Logger   *slog.Logger
}

// ReferenceSet is the frozen result of loading the foundational kinds plus
// the indices derived from them.
type ReferenceSet struct {
	Defaults Defaults
	Patterns *PatternTable

	lookups Lookups

	templateFrameworks    map[string]FrameworkRef
	tableVersionsByTable  map[string][]string
	modulesByTableVersion map[string][]string
	frameworkVersions     map[string]string

	loaded []Kind
}

// LoadReferenceData loads every foundational kind from src in load order and
// derives the cross-kind indices. A kind that cannot be read is skipped and
// recorded; only a run where every kind fails returns ErrNoReferenceData.
func LoadReferenceData(ctx context.Context, src ReferenceSource, opts ReferenceOptions) (*ReferenceSet, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	opts.Defaults = opts.Defaults.withFallbacks()
	if opts.Patterns == nil {
		opts.Patterns = DefaultPatterns()
	}

	rs := &ReferenceSet{
		Defaults: opts.Defaults,
		Patterns: opts.Patterns,
		lookups:  make(Lookups),
	}

	var failures []error
	for _, spec := range FoundationalSpecs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		table := NewLookupTable(spec.Kind)
		rs.lookups[spec.Kind] = table

		entries, err := src.References(ctx, spec)
		if rep, ok := src.(IssueReporter); ok && opts.Metadata != nil {
			opts.Metadata.AddParseIssues(rep.TakeIssues()...)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failures = append(failures, fmt.Errorf("%s: %w", spec.Kind, err))
			reason := err.Error()
			if errors.Is(err, fs.ErrNotExist) {
				reason = "file not found"
			}
			log.Warn("reference kind skipped", "kind", spec.Kind, "file", spec.File, "error", err)
			if opts.Metadata != nil {
				opts.Metadata.AddSkippedFile(SkippedFile{Kind: spec.Kind, File: spec.File, Reason: reason})
			}
			table.Freeze()
			continue
		}

		dropped := 0
		for i := range entries {
			e := &entries[i]
			if reason, ok := normalizeEntry(spec, e); !ok {
				dropped++
				log.Debug("reference row dropped", "kind", spec.Kind, "line", e.Line, "reason", reason)
				if opts.Metadata != nil {
					opts.Metadata.AddParseIssues(ParseIssue{File: spec.File, Line: e.Line, Reason: reason})
				}
				continue
			}
			if err := table.Put(e); err != nil {
				return nil, err
			}
		}
		table.Freeze()
		rs.loaded = append(rs.loaded, spec.Kind)

		log.Info("reference kind loaded", "kind", spec.Kind, "entries", table.Len(), "dropped", dropped)
	}

	if len(rs.loaded) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrNoReferenceData, errors.Join(failures...))
	}

	rs.buildIndices()
	return rs, nil
}

// normalizeEntry canonicalizes the source ID and foreign keys of e. Invalid
// foreign keys are removed; an invalid source ID rejects the entry.
func normalizeEntry(spec ReferenceSpec, e *ReferenceEntry) (string, bool) {
	if spec.IDColumn != "" {
		key, ok := NormalizeKey(e.SourceID)
		if !ok {
			return fmt.Sprintf("invalid %s %q", spec.IDColumn, e.SourceID), false
		}
		e.SourceID = key
	}

	names := make([]string, 0, len(e.Refs))
	for name, raw := range e.Refs {
		key, ok := NormalizeKey(raw)
		if !ok {
			delete(e.Refs, name)
			continue
		}
		e.Refs[name] = key
		names = append(names, name)
	}

	if spec.IDColumn == "" {
		// Association rows are keyed by their references.
		sort.Strings(names)
		if len(names) < len(spec.Refs) {
			return "incomplete association row", false
		}
		parts := make([]string, len(names))
		for i, n := range names {
			parts[i] = e.Refs[n]
		}
		e.SourceID = strings.Join(parts, ":")
	}
	return "", true
}

func (rs *ReferenceSet) buildIndices() {
	rs.tableVersionsByTable = make(map[string][]string)
	for _, tv := range rs.lookups[KindTableVersion].Entries() {
		if t := tv.Ref(string(KindTable)); t != "" {
			rs.tableVersionsByTable[t] = append(rs.tableVersionsByTable[t], tv.SourceID)
		}
	}
	for _, ids := range rs.tableVersionsByTable {
		sortKeys(ids)
	}

	rs.modulesByTableVersion = make(map[string][]string)
	for _, mtv := range rs.lookups[KindModuleTableVersion].Entries() {
		tv, mod := mtv.Ref(string(KindTableVersion)), mtv.Ref(string(KindModule))
		rs.modulesByTableVersion[tv] = append(rs.modulesByTableVersion[tv], mod)
	}
	for _, ids := range rs.modulesByTableVersion {
		sortKeys(ids)
	}

	// Latest taxonomy version per framework; ties go to the lowest taxonomy ID.
	rs.frameworkVersions = make(map[string]string)
	best := make(map[string]string)
	for _, tx := range rs.lookups[KindTaxonomy].Entries() {
		fw, v := tx.Ref(string(KindFramework)), tx.Attr(AttrVersion)
		if fw == "" || v == "" {
			continue
		}
		cur, ok := rs.frameworkVersions[fw]
		c := compareVersions(v, cur)
		if !ok || c > 0 || (c == 0 && lessKey(tx.SourceID, best[fw])) {
			rs.frameworkVersions[fw] = v
			best[fw] = tx.SourceID
		}
	}

	rs.templateFrameworks = make(map[string]FrameworkRef)
	for _, tpl := range rs.lookups[KindTemplate].Entries() {
		if ref, ok := rs.resolveTemplateFramework(tpl); ok {
			rs.templateFrameworks[tpl.SourceID] = ref
		}
	}
}

// Lookup returns the table of kind, or nil.
func (rs *ReferenceSet) Lookup(kind Kind) *LookupTable { return rs.lookups[kind] }

// Loaded returns the foundational kinds that were read successfully.
func (rs *ReferenceSet) Loaded() []Kind { return rs.loaded }

// Entries returns every foundational entry in load order.
func (rs *ReferenceSet) Entries() []*ReferenceEntry {
	var out []*ReferenceEntry
	for _, spec := range FoundationalSpecs {
		out = append(out, rs.lookups[spec.Kind].Entries()...)
	}
	return out
}

// TemplateFramework returns the indexed framework of a template.
func (rs *ReferenceSet) TemplateFramework(templateID string) (FrameworkRef, bool) {
	key, ok := NormalizeKey(templateID)
	if !ok {
		return FrameworkRef{}, false
	}
	ref, ok := rs.templateFrameworks[key]
	return ref, ok
}

// TemplateFrameworkLink is one entry of the template->framework index.
type TemplateFrameworkLink struct {
	TemplateID  string   `json:"template_source_id"`
	FrameworkID string   `json:"framework_id"`
	Version     string   `json:"version,omitempty"`
	Strategy    Strategy `json:"strategy"`
}

// TemplateFrameworks returns the index ordered by template source ID.
func (rs *ReferenceSet) TemplateFrameworks() []TemplateFrameworkLink {
	keys := make([]string, 0, len(rs.templateFrameworks))
	for k := range rs.templateFrameworks {
		keys = append(keys, k)
	}
	sortKeys(keys)

	out := make([]TemplateFrameworkLink, len(keys))
	for i, k := range keys {
		ref := rs.templateFrameworks[k]
		out[i] = TemplateFrameworkLink{TemplateID: k, FrameworkID: ref.ID, Version: ref.Version, Strategy: ref.Strategy}
	}
	return out
}

// compareVersions compares dotted versions numerically where possible.
func compareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var x, y string
		if i < len(as) {
			x = as[i]
		}
		if i < len(bs) {
			y = bs[i]
		}
		xi, xerr := strconv.Atoi(x)
		yi, yerr := strconv.Atoi(y)
		switch {
		case xerr == nil && yerr == nil:
			if xi != yi {
				if xi < yi {
					return -1
				}
				return 1
			}
		case x != y:
			return strings.Compare(x, y)
		}
	}
	return 0
}
