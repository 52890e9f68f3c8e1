package core

import (
	"encoding/json"
	"sync"
	"time"
)

// MissingIdentifier records a row whose primary key fell back to a marker.
type MissingIdentifier struct {
	Kind     Kind   `json:"kind"`
	SourceID string `json:"source_id"`
	ID       string `json:"id"`
	Line     int    `json:"line,omitempty"`
}

// MissingReference records a foreign key that was written as UnresolvedRef.
type MissingReference struct {
	Kind       Kind   `json:"kind"`
	RowID      string `json:"row_id"`
	Column     string `json:"column"`
	TargetKind Kind   `json:"target_kind"`
	SourceID   string `json:"source_id"`
}

// MissingLink records a graph edge whose endpoint does not exist.
type MissingLink struct {
	Relation string `json:"relation"`
	Child    string `json:"child"`
	Ref      string `json:"ref"`
	Reason   string `json:"reason,omitempty"`
}

func (l MissingLink) key() string {
	return l.Relation + "\x00" + l.Child + "\x00" + l.Ref
}

// SkippedFile records a kind whose source file could not be processed.
type SkippedFile struct {
	Kind   Kind   `json:"kind"`
	File   string `json:"file"`
	Reason string `json:"reason"`
}

// Collision records a row that overwrote an earlier row with the same ID.
type Collision struct {
	Kind         Kind   `json:"kind"`
	ID           string `json:"id"`
	Line         int    `json:"line"`
	PreviousLine int    `json:"previous_line"`
}

// DroppedRow records a row the transformer refused to emit.
type DroppedRow struct {
	Kind   Kind   `json:"kind"`
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// RunMetadata enumerates every degraded decision of a run. It is safe for
// concurrent use so status endpoints can read it while the run progresses.
type RunMetadata struct {
	mu sync.Mutex

	RunID      string    `json:"run_id"`
	SourceDir  string    `json:"source_dir"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`

	Counts     map[string]int            `json:"counts"`
	Strategies map[Kind]map[Strategy]int `json:"strategies"`

	ParseErrors        []ParseIssue        `json:"parse_errors"`
	MissingIdentifiers []MissingIdentifier `json:"missing_identifiers"`
	MissingReferences  []MissingReference  `json:"missing_references"`
	MissingLinks       []MissingLink       `json:"missing_links"`
	SkippedFiles       []SkippedFile       `json:"skipped_files"`
	Collisions         []Collision         `json:"collisions"`
	DroppedRows        []DroppedRow        `json:"dropped_rows"`

	linkSeen map[string]bool
}

// NewRunMetadata creates empty metadata. Buckets are non-nil so they
// serialize as [] rather than null.
func NewRunMetadata(runID, sourceDir string, started time.Time) *RunMetadata {
	return &RunMetadata{
		RunID:              runID,
		SourceDir:          sourceDir,
		StartedAt:          started,
		Counts:             make(map[string]int),
		Strategies:         make(map[Kind]map[Strategy]int),
		ParseErrors:        []ParseIssue{},
		MissingIdentifiers: []MissingIdentifier{},
		MissingReferences:  []MissingReference{},
		MissingLinks:       []MissingLink{},
		SkippedFiles:       []SkippedFile{},
		Collisions:         []Collision{},
		DroppedRows:        []DroppedRow{},
		linkSeen:           make(map[string]bool),
	}
}

// AddParseIssues appends reader issues.
func (m *RunMetadata) AddParseIssues(issues ...ParseIssue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ParseErrors = append(m.ParseErrors, issues...)
}

// AddMissingLink records l unless an identical link was already recorded.
// It reports whether l was new.
func (m *RunMetadata) AddMissingLink(l MissingLink) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.linkSeen[l.key()] {
		return false
	}
	m.linkSeen[l.key()] = true
	m.MissingLinks = append(m.MissingLinks, l)
	return true
}

// AddSkippedFile records a skipped kind.
func (m *RunMetadata) AddSkippedFile(s SkippedFile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SkippedFiles = append(m.SkippedFiles, s)
}

// AddCollision records an overwritten row.
func (m *RunMetadata) AddCollision(c Collision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Collisions = append(m.Collisions, c)
}

// AddDroppedRow records a dropped row.
func (m *RunMetadata) AddDroppedRow(d DroppedRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DroppedRows = append(m.DroppedRows, d)
}

// SetCount stores the number of entries of a section.
func (m *RunMetadata) SetCount(section string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counts[section] = n
}

// Finish stamps the end time.
func (m *RunMetadata) Finish(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FinishedAt = t
}

// MarshalJSON serializes the metadata under its lock.
func (m *RunMetadata) MarshalJSON() ([]byte, error) {
	type plain RunMetadata
	m.mu.Lock()
	defer m.mu.Unlock()
	return json.Marshal((*plain)(m))
}

// absorb merges the notes collected by one row.
func (m *RunMetadata) absorb(s *RowScope) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.MissingIdentifiers = append(m.MissingIdentifiers, s.missingIDs...)
	m.MissingReferences = append(m.MissingReferences, s.missingRefs...)
	for _, l := range s.missingLinks {
		if !m.linkSeen[l.key()] {
			m.linkSeen[l.key()] = true
			m.MissingLinks = append(m.MissingLinks, l)
		}
	}
	if s.resolution.Strategy != "" {
		byKind := m.Strategies[s.Kind]
		if byKind == nil {
			byKind = make(map[Strategy]int)
			m.Strategies[s.Kind] = byKind
		}
		byKind[s.resolution.Strategy]++
	}
}

// addMissingReference records a reference rewritten after the row was merged.
func (m *RunMetadata) addMissingReference(r MissingReference) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MissingReferences = append(m.MissingReferences, r)
}

// MetadataSummary is a compact view of RunMetadata for status reporting.
type MetadataSummary struct {
	Rows               int `json:"rows"`
	ParseErrors        int `json:"parse_errors"`
	MissingIdentifiers int `json:"missing_identifiers"`
	MissingReferences  int `json:"missing_references"`
	MissingLinks       int `json:"missing_links"`
	SkippedFiles       int `json:"skipped_files"`
	Collisions         int `json:"collisions"`
	DroppedRows        int `json:"dropped_rows"`
}

// Summary returns the bucket sizes.
func (m *RunMetadata) Summary() MetadataSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := 0
	for _, n := range m.Counts {
		rows += n
	}
	return MetadataSummary{
		Rows:               rows,
		ParseErrors:        len(m.ParseErrors),
		MissingIdentifiers: len(m.MissingIdentifiers),
		MissingReferences:  len(m.MissingReferences),
		MissingLinks:       len(m.MissingLinks),
		SkippedFiles:       len(m.SkippedFiles),
		Collisions:         len(m.Collisions),
		DroppedRows:        len(m.DroppedRows),
	}
}
