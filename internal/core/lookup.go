package core

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrLookupFrozen is returned when a frozen table or mapping is written to.
var ErrLookupFrozen = errors.New("lookup is frozen")

// LookupTable indexes the reference entries of one kind by source ID.
// It is written while its kind is loaded and read-only once frozen.
type LookupTable struct {
	kind    Kind
	entries map[string]*ReferenceEntry
	order   []string
	byCode  map[string][]string
	frozen  bool
}

// NewLookupTable creates an empty table for kind.
func NewLookupTable(kind Kind) *LookupTable {
	return &LookupTable{
		kind:    kind,
		entries: make(map[string]*ReferenceEntry),
		byCode:  make(map[string][]string),
	}
}

// Kind returns the table's entity kind.
func (t *LookupTable) Kind() Kind { return t.kind }

// Put stores e under its source ID. A repeated ID replaces the earlier entry
// and keeps its position.
func (t *LookupTable) Put(e *ReferenceEntry) error {
	if t.frozen {
		return fmt.Errorf("%s: %w", t.kind, ErrLookupFrozen)
	}
	if e == nil || e.SourceID == "" {
		return fmt.Errorf("%s: entry without source id", t.kind)
	}
	if prev, ok := t.entries[e.SourceID]; ok {
		t.dropCode(prev)
	} else {
		t.order = append(t.order, e.SourceID)
	}
	t.entries[e.SourceID] = e
	if code := codeKey(e.Code); code != "" {
		t.byCode[code] = append(t.byCode[code], e.SourceID)
	}
	return nil
}

func (t *LookupTable) dropCode(e *ReferenceEntry) {
	code := codeKey(e.Code)
	ids := t.byCode[code]
	for i, id := range ids {
		if id == e.SourceID {
			t.byCode[code] = append(ids[:i:i], ids[i+1:]...)
			return
		}
	}
}

// Get returns the entry for a source ID. The ID is normalized first.
func (t *LookupTable) Get(sourceID string) (*ReferenceEntry, bool) {
	if t == nil {
		return nil, false
	}
	key, ok := NormalizeKey(sourceID)
	if !ok {
		return nil, false
	}
	e, ok := t.entries[key]
	return e, ok
}

// ByCode returns the entry with the given code. When several entries share a
// code the one with the smallest numeric source ID wins.
func (t *LookupTable) ByCode(code string) (*ReferenceEntry, bool) {
	if t == nil {
		return nil, false
	}
	ids := t.byCode[codeKey(code)]
	if len(ids) == 0 {
		return nil, false
	}
	best := ids[0]
	for _, id := range ids[1:] {
		if lessKey(id, best) {
			best = id
		}
	}
	return t.entries[best], true
}

// Entries returns the entries in insertion order.
func (t *LookupTable) Entries() []*ReferenceEntry {
	if t == nil {
		return nil
	}
	out := make([]*ReferenceEntry, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.entries[id])
	}
	return out
}

// Len returns the number of entries.
func (t *LookupTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Freeze makes the table read-only.
func (t *LookupTable) Freeze() { t.frozen = true }

// Frozen reports whether the table is read-only.
func (t *LookupTable) Frozen() bool { return t.frozen }

// IDMapping records the resolved identifier of every source ID of one kind.
// It is append-only while its kind is processed and frozen afterwards.
type IDMapping struct {
	kind   Kind
	ids    map[string]string
	frozen bool
}

// NewIDMapping creates an empty mapping for kind.
func NewIDMapping(kind Kind) *IDMapping {
	return &IDMapping{kind: kind, ids: make(map[string]string)}
}

// Put records id for sourceID.
func (m *IDMapping) Put(sourceID, id string) error {
	if m.frozen {
		return fmt.Errorf("%s mapping: %w", m.kind, ErrLookupFrozen)
	}
	key, ok := NormalizeKey(sourceID)
	if !ok {
		return fmt.Errorf("%s mapping: invalid source id %q", m.kind, sourceID)
	}
	m.ids[key] = id
	return nil
}

// Get returns the identifier recorded for sourceID.
func (m *IDMapping) Get(sourceID string) (string, bool) {
	if m == nil {
		return "", false
	}
	key, ok := NormalizeKey(sourceID)
	if !ok {
		return "", false
	}
	id, ok := m.ids[key]
	return id, ok
}

// Len returns the number of mapped source IDs.
func (m *IDMapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.ids)
}

// Freeze makes the mapping read-only.
func (m *IDMapping) Freeze() { m.frozen = true }

// Frozen reports whether the mapping is read-only.
func (m *IDMapping) Frozen() bool { return m != nil && m.frozen }

// Snapshot returns a copy of the mapping.
func (m *IDMapping) Snapshot() map[string]string {
	out := make(map[string]string, len(m.ids))
	for k, v := range m.ids {
		out[k] = v
	}
	return out
}

func codeKey(code string) string {
	return SanitizeComponent(code)
}

// lessKey orders normalized numeric keys numerically.
func lessKey(a, b string) bool {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return strings.Compare(a, b) < 0
}

// sortKeys sorts normalized keys numerically.
func sortKeys(keys []string) {
	sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })
}

// Lookups holds one LookupTable per kind.
type Lookups map[Kind]*LookupTable

// Get returns the entry of kind with the given source ID.
func (l Lookups) Get(kind Kind, sourceID string) (*ReferenceEntry, bool) {
	return l[kind].Get(sourceID)
}

// Hop is one step of a foreign-key traversal: the ref to read from the
// current entry and the kind it points at.
type Hop struct {
	Ref  string
	Kind Kind
}

// Follow walks path starting at start. It stops at the first missing link
// and refuses paths longer than MaxResolveHops.
func (l Lookups) Follow(start *ReferenceEntry, path ...Hop) (*ReferenceEntry, bool) {
	if start == nil || len(path) > MaxResolveHops {
		return nil, false
	}
	e := start
	for _, h := range path {
		next, ok := l.Get(h.Kind, e.Ref(h.Ref))
		if !ok {
			return nil, false
		}
		e = next
	}
	return e, true
}
