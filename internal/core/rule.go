package core

import (
	"errors"
	"fmt"
)

// ErrDropRow is returned (wrapped with a reason) by a computed column to
// drop the row. The run continues with the next row.
var ErrDropRow = errors.New("row dropped")

// DropRow returns an ErrDropRow with a reason.
func DropRow(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDropRow, fmt.Sprintf(format, args...))
}

// Rename copies a source column verbatim into a target column.
type Rename struct {
	From string
	To   string
}

// ComputeFunc derives a target value from the row and the run's resolution
// context. It must not retain s.
type ComputeFunc func(row SourceRow, s *RowScope) (any, error)

// Computed is a derived target column.
type Computed struct {
	Column string
	Fn     ComputeFunc
}

// SelfRef is a reference to another row of the same kind. It is written in
// a fix-up pass once every row of the kind has an identifier.
type SelfRef struct {
	Column string // target column
	Source string // source column holding the raw ID
}

// Rule describes how rows of one kind are transformed.
type Rule struct {
	Kind    Kind
	Section string // document section; empty for graph-only kinds
	File    string
	Order   int

	// IDColumn holds the source key other kinds reference this kind by.
	// Empty for association kinds, which get no IDMapping entries.
	IDColumn string

	Renames  []Rename
	Computed []Computed
	SelfRefs []SelfRef

	// Identify overrides the resolver for the primary key.
	Identify func(s *RowScope) Resolution

	// Reference builds the entry later kinds look this row up by.
	Reference func(t *TargetRow, c *ResolutionContext) *ReferenceEntry
}

// Columns returns the target column names in output order.
func (r *Rule) Columns() []string {
	var cols []string
	seen := make(map[string]bool)
	add := func(c string) {
		if !seen[c] {
			seen[c] = true
			cols = append(cols, c)
		}
	}
	for _, rn := range r.Renames {
		add(rn.To)
	}
	for _, c := range r.Computed {
		add(c.Column)
	}
	for _, s := range r.SelfRefs {
		add(s.Column)
	}
	return cols
}

// Transform applies rule to the scope's row: renames, then computed columns
// (which may overwrite a renamed column), then the primary key. A returned
// error means the row is dropped.
func Transform(rule *Rule, s *RowScope) (*TargetRow, error) {
	row := s.Row
	t := &TargetRow{
		Kind:    rule.Kind,
		Section: rule.Section,
		Raw:     row,
		Columns: make([]Column, 0, len(rule.Renames)+len(rule.Computed)+len(rule.SelfRefs)),
	}

	for _, rn := range rule.Renames {
		t.Set(rn.To, row.Get(rn.From))
	}
	for _, c := range rule.Computed {
		v, err := c.Fn(row, s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Column, err)
		}
		t.Set(c.Column, v)
	}
	for _, ref := range rule.SelfRefs {
		t.Set(ref.Column, nil)
	}

	var res Resolution
	if rule.Identify != nil {
		res = s.record(rule.Identify(s))
	} else {
		res = s.Identify()
	}
	t.ID = res.ID
	s.finish(t.ID)
	return t, nil
}
