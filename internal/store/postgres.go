package store

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/dpmconv/internal/config"
	"github.com/JonMunkholm/dpmconv/internal/core"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS dpm_entities (
	section    TEXT NOT NULL,
	id         TEXT NOT NULL,
	kind       TEXT NOT NULL,
	line       INTEGER NOT NULL DEFAULT 0,
	run_id     TEXT NOT NULL DEFAULT '',
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (section, id)
);
CREATE INDEX IF NOT EXISTS idx_dpm_entities_kind ON dpm_entities (kind);
CREATE TABLE IF NOT EXISTS dpm_references (
	kind      TEXT NOT NULL,
	source_id TEXT NOT NULL,
	code      TEXT NOT NULL DEFAULT '',
	label     TEXT NOT NULL DEFAULT '',
	refs      JSONB NOT NULL DEFAULT '{}',
	attrs     JSONB NOT NULL DEFAULT '{}',
	line      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (kind, source_id)
);`

const upsertReference = `
INSERT INTO dpm_references (kind, source_id, code, label, refs, attrs, line)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (kind, source_id) DO UPDATE SET
	code  = EXCLUDED.code,
	label = EXCLUDED.label,
	refs  = EXCLUDED.refs,
	attrs = EXCLUDED.attrs,
	line  = EXCLUDED.line`

var stageColumns = []string{"section", "id", "kind", "line", "run_id", "data"}

// Postgres stores rows in PostgreSQL. Rows of a kind are copied into a
// temporary staging table and merged with one upsert.
type Postgres struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

var _ Store = (*Postgres)(nil)

// OpenPostgres connects a pool configured from cfg and creates the tables.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*Postgres, error) {
	if log == nil {
		log = slog.Default()
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		log.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}

	p := &Postgres{pool: pool, log: log}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return p, nil
}

// Close closes the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// Ping checks the database connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// PersistRows upserts the rows of one kind in a single transaction.
func (p *Postgres) PersistRows(ctx context.Context, rule *core.Rule, rows []*core.TargetRow) error {
	if len(rows) == 0 {
		return nil
	}

	section, runID := sectionOf(rule), core.RunIDFromContext(ctx)
	values := make([][]any, len(rows))
	for i, t := range rows {
		data, err := encodeRow(t)
		if err != nil {
			return err
		}
		values[i] = []any{section, t.ID, string(rule.Kind), int32(t.Raw.Line), runID, data}
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("persist rows: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		CREATE TEMP TABLE dpm_stage (
			section TEXT, id TEXT, kind TEXT, line INTEGER, run_id TEXT, data JSONB
		) ON COMMIT DROP`); err != nil {
		return fmt.Errorf("persist rows: create staging table: %w", err)
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"dpm_stage"}, stageColumns, pgx.CopyFromRows(values))
	if err != nil {
		return fmt.Errorf("persist rows: copy: %w", err)
	}

	// DISTINCT ON keeps the last occurrence of an ID; ON CONFLICT cannot
	// touch the same row twice in one statement.
	if _, err := tx.Exec(ctx, `
		INSERT INTO dpm_entities (section, id, kind, line, run_id, data)
		SELECT DISTINCT ON (section, id) section, id, kind, line, run_id, data
		FROM dpm_stage
		ORDER BY section, id, line DESC
		ON CONFLICT (section, id) DO UPDATE SET
			kind       = EXCLUDED.kind,
			line       = EXCLUDED.line,
			run_id     = EXCLUDED.run_id,
			data       = EXCLUDED.data,
			updated_at = now()`); err != nil {
		return fmt.Errorf("persist rows: upsert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("persist rows: %w", err)
	}
	p.log.Debug("rows persisted", "kind", rule.Kind, "rows", n)
	return nil
}

// PersistReferences upserts reference entries in one batch.
func (p *Postgres) PersistReferences(ctx context.Context, entries []*core.ReferenceEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		refs, err := encodeMap(e.Refs)
		if err != nil {
			return err
		}
		attrs, err := encodeMap(e.Attrs)
		if err != nil {
			return err
		}
		batch.Queue(upsertReference, string(e.Kind), e.SourceID, e.Code, e.Label, refs, attrs, int32(e.Line))
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("persist references: %w", err)
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, batch)
	for range entries {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("persist references: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("persist references: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("persist references: %w", err)
	}
	return nil
}

// References returns the stored entries of spec's kind in source order.
func (p *Postgres) References(ctx context.Context, spec core.ReferenceSpec) ([]core.ReferenceEntry, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT source_id, code, label, refs, attrs, line
		FROM dpm_references WHERE kind = $1
		ORDER BY line, source_id`, string(spec.Kind))
	if err != nil {
		return nil, fmt.Errorf("query references: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.ReferenceEntry, error) {
		e := core.ReferenceEntry{Kind: spec.Kind}
		var line int32
		if err := row.Scan(&e.SourceID, &e.Code, &e.Label, &e.Refs, &e.Attrs, &line); err != nil {
			return e, err
		}
		e.Line = int(line)
		if len(e.Refs) == 0 {
			e.Refs = nil
		}
		if len(e.Attrs) == 0 {
			e.Attrs = nil
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan reference: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoEntries, spec.Kind)
	}
	return out, nil
}

// Rows returns the stored rows of a section.
func (p *Postgres) Rows(ctx context.Context, section string) ([]StoredRow, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT section, id, kind, line, run_id, data
		FROM dpm_entities WHERE section = $1
		ORDER BY id`, section)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (StoredRow, error) {
		var r StoredRow
		var kind string
		var line int32
		err := row.Scan(&r.Section, &r.ID, &kind, &line, &r.RunID, &r.Data)
		r.Kind, r.Line = core.Kind(kind), int(line)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}
	return out, nil
}

// ResetEntities truncates the entity table.
func (p *Postgres) ResetEntities(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, "TRUNCATE dpm_entities"); err != nil {
		return fmt.Errorf("reset entities: %w", err)
	}
	return nil
}

// ResetReferences truncates the reference table.
func (p *Postgres) ResetReferences(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, "TRUNCATE dpm_references"); err != nil {
		return fmt.Errorf("reset references: %w", err)
	}
	return nil
}
