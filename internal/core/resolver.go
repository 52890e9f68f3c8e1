package core

import (
	"strings"
)

// MaxResolveHops bounds foreign-key traversal. The longest chain in use is
// table -> template -> taxonomy -> framework -> organisation.
const MaxResolveHops = 4

// Defaults are the component values used when the source data has none.
type Defaults struct {
	Owner   string
	Version string
	Unknown string
}

// DefaultDefaults returns the built-in defaults.
func DefaultDefaults() Defaults {
	return Defaults{Owner: "EBA", Version: "1.0", Unknown: "UNK"}
}

func (d Defaults) withFallbacks() Defaults {
	def := DefaultDefaults()
	if SanitizeComponent(d.Owner) == "" {
		d.Owner = def.Owner
	}
	if SanitizeComponent(d.Version) == "" {
		d.Version = def.Version
	}
	if SanitizeComponent(d.Unknown) == "" {
		d.Unknown = def.Unknown
	}
	return d
}

// FrameworkRef is the framework context of a template or table.
type FrameworkRef struct {
	SourceID string // framework source ID; empty when only a pattern matched
	ID       string
	Owner    string
	Code     string
	Version  string
	Strategy Strategy
}

// Owner returns the owner prefix of an organisation: its acronym, else its
// code, else the default owner.
func (rs *ReferenceSet) Owner(orgID string) string {
	if org, ok := rs.lookups.Get(KindOrganisation, orgID); ok {
		if a := SanitizeComponent(org.Attr(AttrAcronym)); a != "" {
			return a
		}
		if c := SanitizeComponent(org.Code); c != "" {
			return c
		}
	}
	return SanitizeComponent(rs.Defaults.Owner)
}

func (rs *ReferenceSet) frameworkFromEntry(fw *ReferenceEntry, version string, strategy Strategy) (FrameworkRef, bool) {
	code := SanitizeComponent(fw.Code)
	if code == "" {
		return FrameworkRef{}, false
	}
	if version == "" {
		version = rs.frameworkVersions[fw.SourceID]
	}
	owner := rs.Owner(fw.Ref(string(KindOrganisation)))
	return FrameworkRef{
		SourceID: fw.SourceID,
		ID:       BuildID(owner, code),
		Owner:    owner,
		Code:     code,
		Version:  version,
		Strategy: strategy,
	}, true
}

// FrameworkByID resolves a framework by source ID.
func (rs *ReferenceSet) FrameworkByID(frameworkID string) (FrameworkRef, bool) {
	fw, ok := rs.lookups.Get(KindFramework, frameworkID)
	if !ok {
		return FrameworkRef{}, false
	}
	return rs.frameworkFromEntry(fw, "", StrategyDirect)
}

// FrameworkForCode infers the framework of a template or table code from
// the pattern table. A known framework with the matched code supplies the
// owner and, when it has taxonomies, the version.
func (rs *ReferenceSet) FrameworkForCode(code string) (FrameworkRef, bool) {
	p, ok := rs.Patterns.Match(code)
	if !ok {
		return FrameworkRef{}, false
	}
	if fw, ok := rs.lookups[KindFramework].ByCode(p.Framework); ok {
		version := rs.frameworkVersions[fw.SourceID]
		if version == "" {
			version = p.Version
		}
		if ref, ok := rs.frameworkFromEntry(fw, version, StrategyPattern); ok {
			return ref, true
		}
	}
	owner := SanitizeComponent(rs.Defaults.Owner)
	return FrameworkRef{
		ID:       BuildID(owner, p.Framework),
		Owner:    owner,
		Code:     p.Framework,
		Version:  p.Version,
		Strategy: StrategyPattern,
	}, true
}

// resolveTemplateFramework links a template to its framework: the explicit
// FrameworkID, then TaxonomyID -> taxonomy.FrameworkID, then the template
// code pattern.
func (rs *ReferenceSet) resolveTemplateFramework(tpl *ReferenceEntry) (FrameworkRef, bool) {
	version := ""
	if tx, ok := rs.lookups.Follow(tpl, Hop{string(KindTaxonomy), KindTaxonomy}); ok {
		version = tx.Attr(AttrVersion)
	}

	if fw, ok := rs.lookups.Follow(tpl, Hop{string(KindFramework), KindFramework}); ok {
		if ref, ok := rs.frameworkFromEntry(fw, version, StrategyFK); ok {
			return ref, true
		}
	}
	if fw, ok := rs.lookups.Follow(tpl,
		Hop{string(KindTaxonomy), KindTaxonomy},
		Hop{string(KindFramework), KindFramework},
	); ok {
		if ref, ok := rs.frameworkFromEntry(fw, version, StrategyFK); ok {
			return ref, true
		}
	}
	return rs.FrameworkForCode(tpl.Code)
}

// FrameworkForTable follows table_version -> module -> taxonomy -> framework
// for the versions of a table. Versions and modules are tried in ascending
// ID order.
func (rs *ReferenceSet) FrameworkForTable(tableID string) (FrameworkRef, bool) {
	key, ok := NormalizeKey(tableID)
	if !ok {
		return FrameworkRef{}, false
	}
	for _, tv := range rs.tableVersionsByTable[key] {
		for _, modID := range rs.modulesByTableVersion[tv] {
			mod, ok := rs.lookups.Get(KindModule, modID)
			if !ok {
				continue
			}
			tx, ok := rs.lookups.Follow(mod, Hop{string(KindTaxonomy), KindTaxonomy})
			if !ok {
				continue
			}
			fw, ok := rs.lookups.Follow(tx, Hop{string(KindFramework), KindFramework})
			if !ok {
				continue
			}
			if ref, ok := rs.frameworkFromEntry(fw, tx.Attr(AttrVersion), StrategyFK); ok {
				return ref, true
			}
		}
	}
	return FrameworkRef{}, false
}

// TableIdentifier builds <framework>_<owner>_<code>_<frameworkCode>_<version>.
func (rs *ReferenceSet) TableIdentifier(fw FrameworkRef, tableCode string) string {
	if SanitizeComponent(tableCode) == "" {
		return ""
	}
	version := fw.Version
	if SanitizeComponent(version) == "" {
		version = rs.Defaults.Version
	}
	return BuildID(fw.ID, fw.Owner, tableCode, fw.Code, version)
}

// MarkerID builds the context default <owner>_<KIND>_<sourceID>.
func (rs *ReferenceSet) MarkerID(kind Kind, sourceID string) string {
	if SanitizeComponent(sourceID) == "" {
		sourceID = rs.Defaults.Unknown
	}
	return BuildID(rs.Defaults.Owner, strings.ToUpper(string(kind)), sourceID)
}

// Resolve derives the identifier of row for kind. It never returns an empty
// ID: when every strategy fails the marker is returned with Unresolved set.
func (c *ResolutionContext) Resolve(kind Kind, row SourceRow) Resolution {
	var r Resolution
	switch kind {
	case KindFramework:
		r = c.resolveFramework(row)
	case KindDomain:
		r = c.resolveDomain(row)
	case KindTemplate:
		r = c.resolveTemplate(row)
	case KindTable:
		r = c.resolveTable(row)
	case KindTableVersion:
		r = c.resolveTableVersion(row)
	case KindDimension:
		r = c.resolveDimension(row)
	case KindMember:
		r = c.resolveMember(row)
	case KindAxis:
		r = c.resolveAxis(row)
	case KindOrdinate:
		r = c.resolveOrdinate(row)
	case KindVariable:
		r = c.resolveVariable(row)
	case KindCell:
		r = c.resolveCell(row)
	case KindCellPosition:
		r = c.resolveCellPosition(row)
	case KindOrdinateCategorisation:
		r = c.resolveCategorisation(row)
	}
	if r.ID == "" {
		return c.marker(kind, SourceKey(kind, row))
	}
	return r
}

func (c *ResolutionContext) marker(kind Kind, sourceID string) Resolution {
	return Resolution{ID: c.MarkerID(kind, sourceID), Strategy: StrategyDefault, Unresolved: true}
}

func found(id string, s Strategy) Resolution {
	if id == "" || strings.Trim(id, Separator) == "" {
		return Resolution{}
	}
	return Resolution{ID: id, Strategy: s}
}

func (c *ResolutionContext) resolveFramework(row SourceRow) Resolution {
	if fw, ok := c.FrameworkByID(row.Get("FrameworkID")); ok {
		return found(fw.ID, StrategyDirect)
	}
	if code := SanitizeComponent(row.Get("FrameworkCode")); code != "" {
		return found(BuildID(c.Owner(row.Get("OrgID")), code), StrategyDirect)
	}
	return Resolution{}
}

func (c *ResolutionContext) resolveDomain(row SourceRow) Resolution {
	if d, ok := c.lookups.Get(KindDomain, row.Get("DomainID")); ok && SanitizeComponent(d.Code) != "" {
		return found(BuildID(c.Owner(d.Ref(string(KindOrganisation))), d.Code), StrategyDirect)
	}
	if code := SanitizeComponent(row.Get("DomainCode")); code != "" {
		return found(BuildID(c.Owner(row.Get("OrgID")), code), StrategyDirect)
	}
	return Resolution{}
}

func (c *ResolutionContext) resolveTemplate(row SourceRow) Resolution {
	code := row.Get("TemplateCode")
	if code == "" {
		if tpl, ok := c.lookups.Get(KindTemplate, row.Get("TemplateID")); ok {
			code = tpl.Code
		}
	}
	if SanitizeComponent(code) == "" {
		return Resolution{}
	}
	if fw, ok := c.TemplateFramework(row.Get("TemplateID")); ok {
		return found(ExtendID(fw.ID, code), fw.Strategy)
	}
	if fw, ok := c.FrameworkForCode(code); ok {
		return found(ExtendID(fw.ID, code), StrategyPattern)
	}
	return Resolution{}
}

// TableFramework returns the framework context of a table row: the
// template's explicit link, then the table's module chain, then the
// template code pattern, then the table code pattern.
func (c *ResolutionContext) TableFramework(row SourceRow) (FrameworkRef, bool) {
	tplRef, tplOK := c.TemplateFramework(row.Get("TemplateID"))
	if tplOK && tplRef.Strategy == StrategyFK {
		return tplRef, true
	}
	if fw, ok := c.FrameworkForTable(row.Get("TableID")); ok {
		return fw, true
	}
	if tplOK {
		return tplRef, true
	}
	return c.FrameworkForCode(row.Get("OriginalTableCode"))
}

func (c *ResolutionContext) resolveTable(row SourceRow) Resolution {
	fw, ok := c.TableFramework(row)
	if !ok {
		return Resolution{}
	}
	return found(c.TableIdentifier(fw, row.Get("OriginalTableCode")), fw.Strategy)
}

func versionToken(tableVID string) string {
	if key, ok := NormalizeKey(tableVID); ok {
		return "V" + key
	}
	return ""
}

func (c *ResolutionContext) resolveTableVersion(row SourceRow) Resolution {
	v := versionToken(row.Get("TableVID"))
	if v == "" {
		return Resolution{}
	}
	if tid, ok := c.Mapping(KindTable).Get(row.Get("TableID")); ok {
		return found(ExtendID(tid, v), StrategyFK)
	}
	code := row.Get("TableVersionCode")
	if fw, ok := c.FrameworkForCode(code); ok {
		if tid := c.TableIdentifier(fw, code); tid != "" {
			return found(ExtendID(tid, v), StrategyPattern)
		}
	}
	return Resolution{}
}

// TableForVersion maps a TableVID to the identifier of its table through
// the table-version entry. ok is false when neither the table mapping nor
// the version code pattern yields an identifier.
func (c *ResolutionContext) TableForVersion(tableVID string) (string, Strategy, bool) {
	tv, ok := c.lookups.Get(KindTableVersion, tableVID)
	if !ok {
		return "", "", false
	}
	if tid, ok := c.Mapping(KindTable).Get(tv.Ref(string(KindTable))); ok {
		return tid, StrategyFK, true
	}
	if fw, ok := c.FrameworkForCode(tv.Code); ok {
		if tid := c.TableIdentifier(fw, tv.Code); tid != "" {
			return tid, StrategyPattern, true
		}
	}
	return "", "", false
}

func (c *ResolutionContext) resolveAxis(row SourceRow) Resolution {
	tid, s, ok := c.TableForVersion(row.Get("TableVID"))
	if !ok {
		return Resolution{}
	}
	return found(ExtendID(tid, c.axisNumber(row)), s)
}

func (c *ResolutionContext) axisNumber(row SourceRow) string {
	if n := AxisNumber(row.Get("AxisOrientation"), row.Get("AxisOrder")); n != "" {
		return n
	}
	return c.Defaults.Unknown
}

func (c *ResolutionContext) resolveOrdinate(row SourceRow) Resolution {
	axis, ok := c.Mapping(KindAxis).Get(row.Get("AxisID"))
	if !ok {
		return Resolution{}
	}
	return found(ExtendOpenID(axis, row.Get("OrdinateCode")), StrategyFK)
}

func (c *ResolutionContext) resolveCell(row SourceRow) Resolution {
	key, ok := NormalizeKey(row.Get("CellID"))
	if !ok {
		return Resolution{}
	}
	tid, s, ok := c.TableForVersion(row.Get("TableVID"))
	if !ok {
		return Resolution{}
	}
	return found(ExtendID(tid, "C"+key), s)
}

func (c *ResolutionContext) resolveCellPosition(row SourceRow) Resolution {
	cell, ok := c.Mapping(KindCell).Get(row.Get("CellID"))
	if !ok {
		return Resolution{}
	}
	ord, ok := c.Entry(KindOrdinate, row.Get("OrdinateID"))
	if !ok {
		return Resolution{}
	}
	axis := ord.Attr(AttrAxisNumber)
	if axis == "" {
		axis = c.Defaults.Unknown
	}
	return found(ExtendOpenID(ExtendID(cell, axis), ord.Code), StrategyFK)
}

func (c *ResolutionContext) resolveCategorisation(row SourceRow) Resolution {
	ord, ok := c.Mapping(KindOrdinate).Get(row.Get("OrdinateID"))
	if !ok {
		return Resolution{}
	}
	dim, ok := c.Entry(KindDimension, row.Get("DimensionID"))
	if !ok || SanitizeComponent(dim.Code) == "" {
		return Resolution{}
	}
	mem, ok := c.Entry(KindMember, row.Get("MemberID"))
	if !ok || SanitizeComponent(mem.Code) == "" {
		return Resolution{}
	}
	return found(ExtendID(ord, dim.Code, mem.Code), StrategyFK)
}

func (c *ResolutionContext) resolveDimension(row SourceRow) Resolution {
	code := row.Get("DimensionCode")
	if SanitizeComponent(code) == "" {
		return Resolution{}
	}
	if d, ok := c.lookups.Get(KindDomain, row.Get("DomainID")); ok {
		return found(BuildID(c.Owner(d.Ref(string(KindOrganisation))), "DIM", code), StrategyFK)
	}
	return found(BuildID(c.Defaults.Owner, "DIM", code), StrategyDirect)
}

func (c *ResolutionContext) resolveMember(row SourceRow) Resolution {
	code := row.Get("MemberCode")
	if SanitizeComponent(code) == "" {
		return Resolution{}
	}
	if dom, ok := c.Mapping(KindDomain).Get(row.Get("DomainID")); ok {
		return found(ExtendID(dom, code), StrategyFK)
	}
	if d, ok := c.lookups.Get(KindDomain, row.Get("DomainID")); ok && SanitizeComponent(d.Code) != "" {
		dom := BuildID(c.Owner(d.Ref(string(KindOrganisation))), d.Code)
		return found(ExtendID(dom, code), StrategyFK)
	}
	return Resolution{}
}

func (c *ResolutionContext) resolveVariable(row SourceRow) Resolution {
	token := row.Get("DataPointCode")
	if SanitizeComponent(token) == "" {
		token = row.Get("DataPointID")
	}
	if SanitizeComponent(token) == "" {
		return Resolution{}
	}
	return found(BuildID(c.Defaults.Owner, "DP", token), StrategyDirect)
}

// SourceKey returns the source key of row for kind: the normalized ID
// column, or the joined keys of an association row.
func SourceKey(kind Kind, row SourceRow) string {
	cols := sourceKeyColumns[kind]
	parts := make([]string, 0, len(cols))
	for _, col := range cols {
		v := row.Get(col)
		if k, ok := NormalizeKey(v); ok {
			v = k
		}
		if v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, Separator)
}

var sourceKeyColumns = map[Kind][]string{
	KindOrganisation:           {"OrgID"},
	KindFramework:              {"FrameworkID"},
	KindDomain:                 {"DomainID"},
	KindTemplate:               {"TemplateID"},
	KindTaxonomy:               {"TaxonomyID"},
	KindTableVersion:           {"TableVID"},
	KindModule:                 {"ModuleID"},
	KindModuleTableVersion:     {"ModuleID", "TableVID"},
	KindTable:                  {"TableID"},
	KindDimension:              {"DimensionID"},
	KindMember:                 {"MemberID"},
	KindAxis:                   {"AxisID"},
	KindOrdinate:               {"OrdinateID"},
	KindVariable:               {"DataPointVID"},
	KindCell:                   {"CellID"},
	KindCellPosition:           {"CellID", "OrdinateID"},
	KindOrdinateCategorisation: {"OrdinateID", "DimensionID", "MemberID"},
}
