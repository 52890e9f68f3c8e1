package core

import (
	"fmt"
	"log/slog"
)

// ResolutionContext is the per-run state shared by the resolver and the
// transformer. One is built for each run; nothing in it is global.
type ResolutionContext struct {
	*ReferenceSet

	mappings map[Kind]*IDMapping
	derived  Lookups
	log      *slog.Logger
}

// NewResolutionContext wraps a loaded reference set and seeds the
// identifier mappings of the foundational kinds that have no rule.
func NewResolutionContext(rs *ReferenceSet, log *slog.Logger) *ResolutionContext {
	if log == nil {
		log = slog.Default()
	}
	c := &ResolutionContext{
		ReferenceSet: rs,
		mappings:     make(map[Kind]*IDMapping),
		derived:      make(Lookups),
		log:          log,
	}
	c.seedMappings()
	return c
}

func (c *ResolutionContext) seedMappings() {
	orgs := NewIDMapping(KindOrganisation)
	for _, e := range c.lookups[KindOrganisation].Entries() {
		_ = orgs.Put(e.SourceID, c.Owner(e.SourceID))
	}

	frameworks := NewIDMapping(KindFramework)
	for _, e := range c.lookups[KindFramework].Entries() {
		if ref, ok := c.FrameworkByID(e.SourceID); ok {
			_ = frameworks.Put(e.SourceID, ref.ID)
		}
	}

	taxonomies := NewIDMapping(KindTaxonomy)
	for _, e := range c.lookups[KindTaxonomy].Entries() {
		fw, ok := c.FrameworkByID(e.Ref(string(KindFramework)))
		if !ok {
			continue
		}
		token := e.Code
		if SanitizeComponent(token) == "" {
			token = e.Attr(AttrVersion)
		}
		if SanitizeComponent(token) != "" {
			_ = taxonomies.Put(e.SourceID, ExtendID(fw.ID, token))
		}
	}

	modules := NewIDMapping(KindModule)
	for _, e := range c.lookups[KindModule].Entries() {
		tx, ok := c.lookups.Follow(e, Hop{string(KindTaxonomy), KindTaxonomy})
		if !ok {
			continue
		}
		fw, ok := c.FrameworkByID(tx.Ref(string(KindFramework)))
		if ok && SanitizeComponent(e.Code) != "" {
			_ = modules.Put(e.SourceID, ExtendID(fw.ID, e.Code))
		}
	}

	for _, m := range []*IDMapping{orgs, frameworks, taxonomies, modules} {
		m.Freeze()
		c.mappings[m.kind] = m
	}
}

// Mapping returns the identifier mapping of kind, or nil before the kind
// has started.
func (c *ResolutionContext) Mapping(kind Kind) *IDMapping { return c.mappings[kind] }

// BeginKind creates the mapping a kind's rows are merged into. A kind can
// only be started once.
func (c *ResolutionContext) BeginKind(kind Kind) (*IDMapping, error) {
	if m, ok := c.mappings[kind]; ok {
		return nil, fmt.Errorf("%s mapping already exists (frozen=%t)", kind, m.Frozen())
	}
	m := NewIDMapping(kind)
	c.mappings[kind] = m
	return m, nil
}

// FinishKind freezes the kind's mapping and registers its reference entries
// for later kinds.
func (c *ResolutionContext) FinishKind(kind Kind, entries []*ReferenceEntry) error {
	if m := c.mappings[kind]; m != nil {
		m.Freeze()
	}
	if len(entries) == 0 {
		return nil
	}
	table := c.derived[kind]
	if table == nil {
		table = NewLookupTable(kind)
		c.derived[kind] = table
	}
	for _, e := range entries {
		if err := table.Put(e); err != nil {
			return err
		}
	}
	table.Freeze()
	return nil
}

// Entry returns the reference entry of kind, preferring entries registered
// by transformed kinds over foundational ones.
func (c *ResolutionContext) Entry(kind Kind, sourceID string) (*ReferenceEntry, bool) {
	if e, ok := c.derived.Get(kind, sourceID); ok {
		return e, true
	}
	return c.lookups.Get(kind, sourceID)
}

// LookupIDs returns every mapped identifier by kind, source IDs sorted.
func (c *ResolutionContext) LookupIDs() map[Kind][]MappedID {
	out := make(map[Kind][]MappedID, len(c.mappings))
	for kind, m := range c.mappings {
		snap := m.Snapshot()
		keys := make([]string, 0, len(snap))
		for k := range snap {
			keys = append(keys, k)
		}
		sortKeys(keys)
		ids := make([]MappedID, len(keys))
		for i, k := range keys {
			ids[i] = MappedID{SourceID: k, ID: snap[k]}
		}
		out[kind] = ids
	}
	return out
}

// MappedID is one source ID to identifier pair.
type MappedID struct {
	SourceID string `json:"source_id"`
	ID       string `json:"id"`
}
