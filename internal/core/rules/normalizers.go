package rules

import (
	"github.com/JonMunkholm/dpmconv/internal/core"
)

// boolCol derives a boolean from loosely typed text ("true", "1", "yes" ...).
func boolCol(col string) core.ComputeFunc {
	return func(row core.SourceRow, _ *core.RowScope) (any, error) {
		return core.ToPgBool(row.Get(col)), nil
	}
}

// dateCol parses a date in any of the accepted layouts.
func dateCol(col string) core.ComputeFunc {
	return func(row core.SourceRow, _ *core.RowScope) (any, error) {
		return core.ToPgDate(row.Get(col)), nil
	}
}

func intCol(col string) core.ComputeFunc {
	return func(row core.SourceRow, _ *core.RowScope) (any, error) {
		return core.ToPgInt4(row.Get(col)), nil
	}
}

// refCol rewrites a foreign key through the referenced kind's mapping.
func refCol(kind core.Kind, col string) core.ComputeFunc {
	return func(_ core.SourceRow, s *core.RowScope) (any, error) {
		return s.Ref(kind, col), nil
	}
}

// tableOfVersion resolves a TableVID column to the owning table.
func tableOfVersion(col string) core.ComputeFunc {
	return func(_ core.SourceRow, s *core.RowScope) (any, error) {
		return s.TableRef(col), nil
	}
}

// requiredRef is refCol for a parent the row cannot exist without. A
// missing parent drops the row and is recorded as a missing link.
func requiredRef(kind core.Kind, col, relation string) core.ComputeFunc {
	return func(row core.SourceRow, s *core.RowScope) (any, error) {
		raw := row.Get(col)
		if id, ok := s.Mapping(kind).Get(raw); ok {
			return id, nil
		}
		ref := string(kind) + ":" + raw
		if key, ok := core.NormalizeKey(raw); ok {
			ref = string(kind) + ":" + key
		}
		s.MissingLink(relation, ref, "unknown "+string(kind))
		return nil, core.DropRow("%s %q not found", kind, raw)
	}
}

// frameworkValue maps a framework context to the framework's identifier.
// A framework known only from the code pattern has no entity and yields
// the sentinel.
func frameworkValue(s *core.RowScope, col string, fw core.FrameworkRef, ok bool) any {
	if !ok {
		return s.Unresolved(core.KindFramework, col, "")
	}
	if fw.SourceID == "" {
		return s.Unresolved(core.KindFramework, col, fw.Code)
	}
	return s.MapRef(core.KindFramework, col, fw.SourceID)
}

func entry(t *core.TargetRow, idCol, code string) *core.ReferenceEntry {
	return &core.ReferenceEntry{
		SourceID: t.Raw.Get(idCol),
		Code:     code,
		Refs:     map[string]string{},
		Attrs:    map[string]string{},
	}
}

// rawKey returns the normalized value of a source column, or "".
func rawKey(row core.SourceRow, col string) string {
	key, _ := core.NormalizeKey(row.Get(col))
	return key
}
