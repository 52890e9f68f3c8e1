package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/JonMunkholm/dpmconv/internal/core"
)

// SQLite stores rows in a single database file.
type SQLite struct {
	db  *sql.DB
	log *slog.Logger
}

var _ Store = (*SQLite)(nil)

// OpenSQLite creates or opens a SQLite database at path.
func OpenSQLite(ctx context.Context, path string, log *slog.Logger) (*SQLite, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// Writers serialize on the file lock anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	s := &SQLite{db: db, log: log}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return s, nil
}

func (s *SQLite) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS dpm_entities (
			section TEXT NOT NULL,
			id TEXT NOT NULL,
			kind TEXT NOT NULL,
			line INTEGER NOT NULL DEFAULT 0,
			run_id TEXT NOT NULL DEFAULT '',
			data JSON NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (section, id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_dpm_entities_kind ON dpm_entities(kind);`,
		`CREATE TABLE IF NOT EXISTS dpm_references (
			kind TEXT NOT NULL,
			source_id TEXT NOT NULL,
			code TEXT NOT NULL DEFAULT '',
			label TEXT NOT NULL DEFAULT '',
			refs JSON NOT NULL DEFAULT '{}',
			attrs JSON NOT NULL DEFAULT '{}',
			line INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (kind, source_id)
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// PersistRows upserts the rows of one kind in a single transaction.
func (s *SQLite) PersistRows(ctx context.Context, rule *core.Rule, rows []*core.TargetRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persist rows: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dpm_entities (section, id, kind, line, run_id, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(section, id) DO UPDATE SET
			kind=excluded.kind,
			line=excluded.line,
			run_id=excluded.run_id,
			data=excluded.data,
			updated_at=CURRENT_TIMESTAMP
	`)
	if err != nil {
		return fmt.Errorf("persist rows: %w", err)
	}
	defer stmt.Close()

	section, runID := sectionOf(rule), core.RunIDFromContext(ctx)
	for _, t := range rows {
		data, err := encodeRow(t)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, section, t.ID, string(rule.Kind), t.Raw.Line, runID, string(data)); err != nil {
			return fmt.Errorf("persist row %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("persist rows: %w", err)
	}
	s.log.Debug("rows persisted", "kind", rule.Kind, "rows", len(rows))
	return nil
}

// PersistReferences upserts reference entries.
func (s *SQLite) PersistReferences(ctx context.Context, entries []*core.ReferenceEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persist references: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dpm_references (kind, source_id, code, label, refs, attrs, line)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, source_id) DO UPDATE SET
			code=excluded.code,
			label=excluded.label,
			refs=excluded.refs,
			attrs=excluded.attrs,
			line=excluded.line
	`)
	if err != nil {
		return fmt.Errorf("persist references: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		refs, err := encodeMap(e.Refs)
		if err != nil {
			return err
		}
		attrs, err := encodeMap(e.Attrs)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, string(e.Kind), e.SourceID, e.Code, e.Label, string(refs), string(attrs), e.Line); err != nil {
			return fmt.Errorf("persist reference %s %s: %w", e.Kind, e.SourceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("persist references: %w", err)
	}
	return nil
}

// References returns the stored entries of spec's kind in source order.
func (s *SQLite) References(ctx context.Context, spec core.ReferenceSpec) ([]core.ReferenceEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, code, label, refs, attrs, line
		FROM dpm_references WHERE kind = ?
		ORDER BY line, source_id`, string(spec.Kind))
	if err != nil {
		return nil, fmt.Errorf("query references: %w", err)
	}
	defer rows.Close()

	var out []core.ReferenceEntry
	for rows.Next() {
		e := core.ReferenceEntry{Kind: spec.Kind}
		var refs, attrs string
		if err := rows.Scan(&e.SourceID, &e.Code, &e.Label, &refs, &attrs, &e.Line); err != nil {
			return nil, fmt.Errorf("failed to scan reference: %w", err)
		}
		if e.Refs, err = decodeMap([]byte(refs)); err != nil {
			return nil, fmt.Errorf("decode refs of %s: %w", e.SourceID, err)
		}
		if e.Attrs, err = decodeMap([]byte(attrs)); err != nil {
			return nil, fmt.Errorf("decode attrs of %s: %w", e.SourceID, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoEntries, spec.Kind)
	}
	return out, nil
}

// Rows returns the stored rows of a section.
func (s *SQLite) Rows(ctx context.Context, section string) ([]StoredRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT section, id, kind, line, run_id, data
		FROM dpm_entities WHERE section = ?
		ORDER BY id`, section)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	var out []StoredRow
	for rows.Next() {
		var r StoredRow
		var kind, data string
		if err := rows.Scan(&r.Section, &r.ID, &kind, &r.Line, &r.RunID, &data); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.Kind, r.Data = core.Kind(kind), []byte(data)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ResetEntities deletes every stored entity.
func (s *SQLite) ResetEntities(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM dpm_entities"); err != nil {
		return fmt.Errorf("reset entities: %w", err)
	}
	return nil
}

// ResetReferences deletes every stored reference entry.
func (s *SQLite) ResetReferences(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM dpm_references"); err != nil {
		return fmt.Errorf("reset references: %w", err)
	}
	return nil
}
