// Package store persists converted rows and reference entries.
//
// Both backends share one layout: entities are keyed by (section, id) with
// the row's target columns kept verbatim in a JSON document, and reference
// entries are keyed by (kind, source_id). Writes are upserts, so re-running
// a conversion over the same export overwrites rows in place. A store is
// also a core.ReferenceSource, which lets a run read its foundational kinds
// from an earlier import instead of the CSV files.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/JonMunkholm/dpmconv/internal/config"
	"github.com/JonMunkholm/dpmconv/internal/core"
)

// ErrNoEntries is returned by References when the store holds nothing for
// the requested kind.
var ErrNoEntries = errors.New("no stored entries")

// Store is a persistence backend.
type Store interface {
	core.Sink
	core.ReferenceSource

	// Rows returns the stored rows of a section ordered by ID.
	Rows(ctx context.Context, section string) ([]StoredRow, error)

	// ResetEntities and ResetReferences delete every stored row of their
	// table.
	ResetEntities(ctx context.Context) error
	ResetReferences(ctx context.Context) error

	Ping(ctx context.Context) error
	Close() error
}

// StoredRow is one persisted entity.
type StoredRow struct {
	Section string          `json:"section"`
	ID      string          `json:"id"`
	Kind    core.Kind       `json:"kind"`
	Line    int             `json:"line"`
	RunID   string          `json:"run_id,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// Open connects to the store selected by cfg and creates its tables. It
// returns nil for the "none" driver.
func Open(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (Store, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "store", "driver", cfg.Driver)

	switch strings.ToLower(cfg.Driver) {
	case config.DriverNone, "":
		return nil, nil
	case config.DriverPostgres:
		return OpenPostgres(ctx, cfg, log)
	case config.DriverSQLite:
		return OpenSQLite(ctx, cfg.URL, log)
	}
	return nil, fmt.Errorf("invalid configuration: unknown database driver %q", cfg.Driver)
}

// sectionOf is the entity key namespace of a rule. Graph-only kinds have no
// document section and are keyed by their kind.
func sectionOf(rule *core.Rule) string {
	if rule.Section != "" {
		return rule.Section
	}
	return string(rule.Kind)
}

// encodeRow renders a row as stored: the same JSON object the document
// writer emits.
func encodeRow(t *core.TargetRow) (json.RawMessage, error) {
	data, err := t.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode %s %s: %w", t.Kind, t.ID, err)
	}
	return data, nil
}

func encodeMap(m map[string]string) (json.RawMessage, error) {
	if m == nil {
		m = map[string]string{}
	}
	return json.Marshal(m)
}

func decodeMap(data []byte) (map[string]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}
