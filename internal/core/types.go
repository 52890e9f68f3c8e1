package core

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Kind identifies an entity kind. Each kind has its own source file, rule set,
// lookup table and ID mapping.
type Kind string

const (
	KindOrganisation       Kind = "organisation"
	KindFramework          Kind = "framework"
	KindDomain             Kind = "domain"
	KindTemplate           Kind = "template"
	KindTaxonomy           Kind = "taxonomy"
	KindTableVersion       Kind = "table_version"
	KindModule             Kind = "module"
	KindModuleTableVersion Kind = "module_table_version"

	KindTable                  Kind = "table"
	KindDimension              Kind = "dimension"
	KindMember                 Kind = "member"
	KindAxis                   Kind = "axis"
	KindOrdinate               Kind = "ordinate"
	KindVariable               Kind = "variable"
	KindCell                   Kind = "cell"
	KindCellPosition           Kind = "cell_position"
	KindOrdinateCategorisation Kind = "ordinate_categorisation"
)

// Strategy names the step of the fallback chain that produced an identifier.
type Strategy string

const (
	StrategyDirect  Strategy = "direct-lookup"
	StrategyFK      Strategy = "explicit-fk"
	StrategyPattern Strategy = "pattern-fallback"
	StrategyDefault Strategy = "default"
)

// UnresolvedRef is written into a foreign-key column whose target could not be
// resolved. It can never be produced by the identifier builders.
const UnresolvedRef = "<unresolved>"

// Header holds the column names of one source file. Lookups are
// case-insensitive and ignore surrounding whitespace and CSV artifacts.
type Header struct {
	names []string
	index HeaderIndex
}

// HeaderIndex maps column names (lowercase) to their position in a row.
type HeaderIndex map[string]int

// NewHeader builds a Header from the first record of a file.
func NewHeader(cols []string) *Header {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = CleanCell(c)
	}
	return &Header{names: names, index: MakeHeaderIndex(cols)}
}

// Names returns the cleaned column names in file order.
func (h *Header) Names() []string {
	out := make([]string, len(h.names))
	copy(out, h.names)
	return out
}

// Has reports whether the header contains col.
func (h *Header) Has(col string) bool {
	_, ok := h.index[strings.ToLower(col)]
	return ok
}

// SourceRow is one record of a source file. It is immutable once read.
type SourceRow struct {
	header *Header
	values []string
	Line   int
}

// NewSourceRow pads or trims values to the header width.
func NewSourceRow(h *Header, values []string, line int) SourceRow {
	v := make([]string, len(h.names))
	for i := range v {
		if i < len(values) {
			v[i] = CleanCell(values[i])
		}
	}
	return SourceRow{header: h, values: v, Line: line}
}

// RowFromMap builds a single-row header and row from a plain map. Column
// order is the order of cols; values missing from m read as "".
func RowFromMap(cols []string, m map[string]string) SourceRow {
	h := NewHeader(cols)
	values := make([]string, len(cols))
	for i, c := range cols {
		values[i] = m[c]
	}
	return NewSourceRow(h, values, 0)
}

// Get returns the value of col, or "" when the column is absent.
func (r SourceRow) Get(col string) string {
	if r.header == nil {
		return ""
	}
	pos, ok := r.header.index[strings.ToLower(col)]
	if !ok || pos >= len(r.values) {
		return ""
	}
	return r.values[pos]
}

// Len returns the number of columns in the row.
func (r SourceRow) Len() int { return len(r.values) }

// IsEmpty reports whether all values are blank.
func (r SourceRow) IsEmpty() bool {
	for _, v := range r.values {
		if v != "" {
			return false
		}
	}
	return true
}

// MarshalJSON writes the row as an object in header order.
func (r SourceRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if r.header != nil {
		for i, name := range r.header.names {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSONValue(&buf, name); err != nil {
				return nil, err
			}
			buf.WriteByte(':')
			if err := writeJSONValue(&buf, r.values[i]); err != nil {
				return nil, err
			}
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ReferenceEntry is a partially typed record of a foundational kind.
type ReferenceEntry struct {
	Kind     Kind              `json:"kind"`
	SourceID string            `json:"source_id"`
	Code     string            `json:"code"`
	Label    string            `json:"label"`
	Refs     map[string]string `json:"refs,omitempty"`  // normalized foreign keys by kind or role
	Attrs    map[string]string `json:"attrs,omitempty"` // other retained columns
	Line     int               `json:"-"`
}

// Ref returns the normalized foreign key stored under name.
func (e *ReferenceEntry) Ref(name string) string {
	if e == nil || e.Refs == nil {
		return ""
	}
	return e.Refs[name]
}

// Attr returns the attribute stored under name.
func (e *ReferenceEntry) Attr(name string) string {
	if e == nil || e.Attrs == nil {
		return ""
	}
	return e.Attrs[name]
}

// Resolution is the outcome of resolving one identifier.
type Resolution struct {
	ID         string
	Strategy   Strategy
	Unresolved bool // true when the marker default was emitted
}

// Column is one named value of a TargetRow.
type Column struct {
	Name  string
	Value any
}

// TargetRow is the transformed form of a SourceRow.
type TargetRow struct {
	Kind    Kind
	Section string
	ID      string
	Columns []Column
	Raw     SourceRow
}

// Set assigns col, replacing an existing value in place.
func (t *TargetRow) Set(col string, v any) {
	for i := range t.Columns {
		if t.Columns[i].Name == col {
			t.Columns[i].Value = v
			return
		}
	}
	t.Columns = append(t.Columns, Column{Name: col, Value: v})
}

// Value returns the value of col.
func (t *TargetRow) Value(col string) (any, bool) {
	for _, c := range t.Columns {
		if c.Name == col {
			return c.Value, true
		}
	}
	return nil, false
}

// String returns the value of col when it holds a string.
func (t *TargetRow) String(col string) string {
	v, _ := t.Value(col)
	s, _ := v.(string)
	return s
}

// MarshalJSON writes the row as {"id", columns..., "raw_data"}.
func (t *TargetRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"id":`)
	if err := writeJSONValue(&buf, t.ID); err != nil {
		return nil, err
	}
	for _, c := range t.Columns {
		buf.WriteByte(',')
		if err := writeJSONValue(&buf, c.Name); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := writeJSONValue(&buf, c.Value); err != nil {
			return nil, err
		}
	}
	buf.WriteString(`,"raw_data":`)
	raw, err := t.Raw.MarshalJSON()
	if err != nil {
		return nil, err
	}
	buf.Write(raw)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// writeJSONValue encodes v without HTML escaping and without the trailing
// newline json.Encoder appends.
func writeJSONValue(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	buf.Truncate(buf.Len() - 1)
	return nil
}
