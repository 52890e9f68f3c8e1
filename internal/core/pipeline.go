package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
)

// ContextCheckInterval is how many rows a worker transforms between
// cancellation checks.
const ContextCheckInterval = 1000

// Sink receives transformed rows per kind, in processing order. Rows are
// keyed by their ID and carry target column names exactly as produced.
type Sink interface {
	PersistRows(ctx context.Context, rule *Rule, rows []*TargetRow) error
	PersistReferences(ctx context.Context, entries []*ReferenceEntry) error
}

// Progress reports the state of one kind.
type Progress struct {
	Kind    Kind `json:"kind"`
	Rows    int  `json:"rows"`
	Percent int  `json:"percent"`
	Done    bool `json:"done"`
}

// PipelineOptions configures a run.
type PipelineOptions struct {
	RunID     string
	SourceDir string
	Workers   int // <= 1 transforms sequentially
	BatchSize int // <= 0 picks the size from the file size

	Defaults   Defaults
	Patterns   *PatternTable
	References ReferenceSource // defaults to the CSV files in SourceDir
	Sink       Sink
	Rules      []*Rule // defaults to the registry

	Logger   *slog.Logger
	Now      func() time.Time
	Progress func(Progress)
}

// Result is the outcome of a completed run.
type Result struct {
	Document *Document
	Metadata *RunMetadata
	Graph    *Graph
	Context  *ResolutionContext
}

type pipeline struct {
	opts PipelineOptions
	log  *slog.Logger
	meta *RunMetadata
	rc   *ResolutionContext
	rows map[Kind][]*TargetRow
}

type rowResult struct {
	row   *TargetRow
	err   error
	scope *RowScope
}

// Run loads the reference data, transforms every kind in rule order,
// builds the graph and assembles the document. It fails only when no
// reference data can be read, when the sink fails, or on cancellation.
func Run(ctx context.Context, opts PipelineOptions) (*Result, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rules == nil {
		opts.Rules = Rules()
	} else {
		opts.Rules = append([]*Rule(nil), opts.Rules...)
		SortRules(opts.Rules)
	}
	if opts.References == nil {
		src := NewCSVReferenceSource(opts.SourceDir)
		src.BatchSize = opts.BatchSize
		opts.References = src
	}
	opts.Defaults = opts.Defaults.withFallbacks()

	p := &pipeline{
		opts: opts,
		log:  opts.Logger.With("run_id", opts.RunID),
		meta: NewRunMetadata(opts.RunID, opts.SourceDir, opts.Now().UTC()),
		rows: make(map[Kind][]*TargetRow),
	}

	start := time.Now()
	rs, err := LoadReferenceData(ctx, opts.References, ReferenceOptions{
		Defaults: opts.Defaults,
		Patterns: opts.Patterns,
		Metadata: p.meta,
		Logger:   p.log,
	})
	if err != nil {
		return nil, err
	}
	p.rc = NewResolutionContext(rs, p.log)

	if opts.Sink != nil {
		if err := opts.Sink.PersistReferences(ctx, rs.Entries()); err != nil {
			return nil, fmt.Errorf("persist reference data: %w", err)
		}
	}

	kinds := make([]Kind, 0, len(opts.Rules))
	for _, rule := range opts.Rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.processKind(ctx, rule); err != nil {
			return nil, err
		}
		kinds = append(kinds, rule.Kind)
	}

	graph := BuildGraph(p.rows, kinds)
	for _, l := range graph.Missing() {
		p.meta.AddMissingLink(l)
	}

	doc := p.assemble(graph)
	p.meta.Finish(opts.Now().UTC())

	sum := p.meta.Summary()
	p.log.Info("run complete",
		"rows", sum.Rows,
		"nodes", graph.NodeCount(),
		"missing_identifiers", sum.MissingIdentifiers,
		"missing_references", sum.MissingReferences,
		"missing_links", sum.MissingLinks,
		"skipped_files", sum.SkippedFiles,
		"collisions", sum.Collisions,
		"dropped_rows", sum.DroppedRows,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return &Result{Document: doc, Metadata: p.meta, Graph: graph, Context: p.rc}, nil
}

func (p *pipeline) processKind(ctx context.Context, rule *Rule) error {
	log := p.log.With("kind", rule.Kind)

	mapping, err := p.rc.BeginKind(rule.Kind)
	if err != nil {
		return err
	}

	br, err := OpenBatches(filepath.Join(p.opts.SourceDir, rule.File), p.opts.BatchSize)
	if err != nil {
		reason := err.Error()
		if errors.Is(err, fs.ErrNotExist) {
			reason = "file not found"
		}
		log.Warn("kind skipped", "file", rule.File, "error", err)
		p.meta.AddSkippedFile(SkippedFile{Kind: rule.Kind, File: rule.File, Reason: reason})
		return p.rc.FinishKind(rule.Kind, nil)
	}
	defer br.Close()

	var (
		rows    []*TargetRow
		byID    = make(map[string]int)
		read    int
		dropped int
	)

	for batch, err := range br.Batches() {
		if err != nil {
			log.Warn("read aborted", "file", rule.File, "rows", read, "error", err)
			p.meta.AddSkippedFile(SkippedFile{Kind: rule.Kind, File: rule.File, Reason: err.Error()})
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		results, err := p.transformBatch(ctx, rule, batch)
		if err != nil {
			return err
		}
		read += len(batch)

		for _, res := range results {
			p.meta.absorb(res.scope)
			if res.err != nil {
				dropped++
				log.Debug("row dropped", "line", res.scope.Row.Line, "reason", res.err)
				p.meta.AddDroppedRow(DroppedRow{Kind: rule.Kind, Line: res.scope.Row.Line, Reason: res.err.Error()})
				continue
			}

			t := res.row
			if prev, ok := byID[t.ID]; ok {
				p.meta.AddCollision(Collision{Kind: rule.Kind, ID: t.ID, Line: t.Raw.Line, PreviousLine: rows[prev].Raw.Line})
				rows[prev] = t
			} else {
				byID[t.ID] = len(rows)
				rows = append(rows, t)
			}

			if rule.IDColumn != "" {
				if raw := t.Raw.Get(rule.IDColumn); raw != "" {
					if err := mapping.Put(raw, t.ID); err != nil {
						p.meta.AddParseIssues(ParseIssue{File: rule.File, Line: t.Raw.Line, Reason: err.Error()})
					}
				}
			}
		}

		if p.opts.Progress != nil {
			p.opts.Progress(Progress{Kind: rule.Kind, Rows: read, Percent: br.Progress()})
		}
	}
	p.meta.AddParseIssues(br.Issues()...)

	p.fixSelfRefs(rule, rows, mapping)

	var entries []*ReferenceEntry
	if rule.Reference != nil {
		for _, t := range rows {
			if e := rule.Reference(t, p.rc); e != nil {
				if key, ok := NormalizeKey(e.SourceID); ok {
					e.Kind, e.SourceID, e.Line = rule.Kind, key, t.Raw.Line
					entries = append(entries, e)
				}
			}
		}
	}
	if err := p.rc.FinishKind(rule.Kind, entries); err != nil {
		return err
	}
	p.rows[rule.Kind] = rows

	if p.opts.Sink != nil {
		if err := p.opts.Sink.PersistRows(ctx, rule, rows); err != nil {
			return fmt.Errorf("persist %s: %w", rule.Kind, err)
		}
		if len(entries) > 0 {
			if err := p.opts.Sink.PersistReferences(ctx, entries); err != nil {
				return fmt.Errorf("persist %s references: %w", rule.Kind, err)
			}
		}
	}
	if p.opts.Progress != nil {
		p.opts.Progress(Progress{Kind: rule.Kind, Rows: read, Percent: 100, Done: true})
	}

	log.Info("kind processed", "rows_read", read, "rows_produced", len(rows), "rows_dropped", dropped)
	return nil
}

// transformBatch transforms a batch, concurrently when Workers > 1. Results
// are indexed by row position so merging preserves source order.
func (p *pipeline) transformBatch(ctx context.Context, rule *Rule, batch []SourceRow) ([]rowResult, error) {
	results := make([]rowResult, len(batch))

	one := func(i int) {
		s := newRowScope(p.rc, rule.Kind, batch[i])
		t, err := Transform(rule, s)
		results[i] = rowResult{row: t, err: err, scope: s}
	}

	workers := p.opts.Workers
	if workers <= 1 || len(batch) < 2 {
		for i := range batch {
			if i%ContextCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			one(i)
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	step := (len(batch) + workers - 1) / workers
	for lo := 0; lo < len(batch); lo += step {
		hi := min(lo+step, len(batch))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if (i-lo)%ContextCheckInterval == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				one(i)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// fixSelfRefs rewrites references between rows of the same kind once the
// kind's mapping is complete.
func (p *pipeline) fixSelfRefs(rule *Rule, rows []*TargetRow, mapping *IDMapping) {
	for _, ref := range rule.SelfRefs {
		for _, t := range rows {
			raw := t.Raw.Get(ref.Source)
			if raw == "" {
				continue
			}
			if id, ok := mapping.Get(raw); ok {
				t.Set(ref.Column, id)
				continue
			}
			t.Set(ref.Column, UnresolvedRef)
			key := raw
			if k, ok := NormalizeKey(raw); ok {
				key = k
			}
			p.meta.addMissingReference(MissingReference{
				Kind:       rule.Kind,
				RowID:      t.ID,
				Column:     ref.Column,
				TargetKind: rule.Kind,
				SourceID:   key,
			})
		}
	}
}

// Lookup index names.
const (
	IndexTemplateFrameworks = "template_frameworks"
	IndexCounts             = "counts"
	IndexTemplateCells      = "template_cells"
	IndexCellCombinations   = "cell_combinations"
	IndexIDMappings         = "id_mappings"
)

func (p *pipeline) assemble(g *Graph) *Document {
	doc := &Document{Metadata: p.meta, Entities: make(map[string][]*TargetRow)}

	for _, rule := range p.opts.Rules {
		if rule.Section == "" {
			continue
		}
		doc.Entities[rule.Section] = append(doc.Entities[rule.Section], p.rows[rule.Kind]...)
	}
	for _, section := range EntitySections {
		p.meta.SetCount(section, len(doc.Entities[section]))
	}

	for _, l := range g.Links() {
		doc.Relationships = append(doc.Relationships, Entry{Key: l.Name, Value: g.Adjacency(l.Name)})
	}

	sum := g.Summary()
	doc.LookupIndices = []Entry{
		{Key: IndexTemplateFrameworks, Value: p.rc.TemplateFrameworks()},
		{Key: IndexCounts, Value: map[string]map[string]int{
			"tables_per_framework":    sum.TablesPerFramework,
			"templates_per_framework": sum.TemplatesPerFramework,
			"members_per_domain":      sum.MembersPerDomain,
			"dimensions_per_domain":   sum.DimensionsPerDomain,
		}},
		{Key: IndexTemplateCells, Value: sum.TemplateCells},
		{Key: IndexCellCombinations, Value: sum.CellCombinations},
		{Key: IndexIDMappings, Value: p.rc.LookupIDs()},
	}
	return doc
}
