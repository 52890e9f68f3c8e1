package core

// RowScope is the resolution context seen by one row. It collects the
// row's degraded decisions so rows can be transformed concurrently and
// their notes merged in source order afterwards.
type RowScope struct {
	*ResolutionContext

	Kind Kind
	Row  SourceRow

	resolution   Resolution
	missingIDs   []MissingIdentifier
	missingRefs  []MissingReference
	missingLinks []MissingLink
}

func newRowScope(c *ResolutionContext, kind Kind, row SourceRow) *RowScope {
	return &RowScope{ResolutionContext: c, Kind: kind, Row: row}
}

// Identify resolves the row's own identifier and records a marker default.
func (s *RowScope) Identify() Resolution {
	return s.record(s.Resolve(s.Kind, s.Row))
}

func (s *RowScope) record(r Resolution) Resolution {
	if r.ID == "" {
		r = s.marker(s.Kind, SourceKey(s.Kind, s.Row))
	}
	s.resolution = r
	if r.Unresolved {
		s.missingIDs = append(s.missingIDs, MissingIdentifier{
			Kind:     s.Kind,
			SourceID: SourceKey(s.Kind, s.Row),
			ID:       r.ID,
			Line:     s.Row.Line,
		})
	}
	return r
}

// Ref rewrites the foreign key held in column through kind's mapping. An
// empty value yields nil; a value without a mapping yields UnresolvedRef
// and is recorded.
func (s *RowScope) Ref(kind Kind, column string) any {
	return s.MapRef(kind, column, s.Row.Get(column))
}

// MapRef is Ref for a value that does not come straight from the row.
func (s *RowScope) MapRef(kind Kind, column, raw string) any {
	if raw == "" {
		return nil
	}
	if id, ok := s.Mapping(kind).Get(raw); ok {
		return id
	}
	s.missingRef(kind, column, raw)
	return UnresolvedRef
}

// TableRef resolves a TableVID column to the identifier of its table
// through the table-version entry.
func (s *RowScope) TableRef(column string) any {
	raw := s.Row.Get(column)
	if raw == "" {
		return nil
	}
	tv, ok := s.lookups.Get(KindTableVersion, raw)
	if !ok {
		s.missingRef(KindTable, column, raw)
		return UnresolvedRef
	}
	return s.MapRef(KindTable, column, tv.Ref(string(KindTable)))
}

// Unresolved records a reference that has no identifier and returns the
// sentinel.
func (s *RowScope) Unresolved(kind Kind, column, raw string) any {
	s.missingRef(kind, column, raw)
	return UnresolvedRef
}

func (s *RowScope) missingRef(kind Kind, column, raw string) {
	key := raw
	if k, ok := NormalizeKey(raw); ok {
		key = k
	}
	s.missingRefs = append(s.missingRefs, MissingReference{
		Kind:       s.Kind,
		Column:     column,
		TargetKind: kind,
		SourceID:   key,
	})
}

// MissingLink records a required association that could not be made.
// The link's child is the row's source key.
func (s *RowScope) MissingLink(relation, ref, reason string) {
	s.missingLinks = append(s.missingLinks, MissingLink{
		Relation: relation,
		Child:    string(s.Kind) + ":" + SourceKey(s.Kind, s.Row),
		Ref:      ref,
		Reason:   reason,
	})
}

// finish stamps the row identifier on the notes collected before it was
// known.
func (s *RowScope) finish(id string) {
	for i := range s.missingRefs {
		if s.missingRefs[i].RowID == "" {
			s.missingRefs[i].RowID = id
		}
	}
}
