package rules

import (
	"github.com/JonMunkholm/dpmconv/internal/core"
)

func init() {
	registerDimension()
	registerMember()
	registerVariable()
	registerOrdinateCategorisation()
}

func registerDimension() {
	core.Register(&core.Rule{
		Kind:     core.KindDimension,
		Section:  core.SectionDimensions,
		File:     "Dimension.csv",
		Order:    orderDimension,
		IDColumn: "DimensionID",
		Renames: []core.Rename{
			{From: "DimensionCode", To: "dimension_code"},
			{From: "DimensionLabel", To: "dimension_label"},
		},
		Computed: []core.Computed{
			{Column: "domain_id", Fn: refCol(core.KindDomain, "DomainID")},
			{Column: "is_typed_dimension", Fn: boolCol("IsTypedDimension")},
		},
		Reference: func(t *core.TargetRow, _ *core.ResolutionContext) *core.ReferenceEntry {
			e := entry(t, "DimensionID", t.Raw.Get("DimensionCode"))
			e.Refs[string(core.KindDomain)] = rawKey(t.Raw, "DomainID")
			return e
		},
	})
}

func registerMember() {
	core.Register(&core.Rule{
		Kind:     core.KindMember,
		Section:  core.SectionMembers,
		File:     "Member.csv",
		Order:    orderMember,
		IDColumn: "MemberID",
		Renames: []core.Rename{
			{From: "MemberCode", To: "member_code"},
			{From: "MemberLabel", To: "member_label"},
		},
		Computed: []core.Computed{
			{Column: "domain_id", Fn: refCol(core.KindDomain, "DomainID")},
			{Column: "is_default_member", Fn: boolCol("IsDefaultMember")},
		},
		Reference: func(t *core.TargetRow, _ *core.ResolutionContext) *core.ReferenceEntry {
			e := entry(t, "MemberID", t.Raw.Get("MemberCode"))
			e.Refs[string(core.KindDomain)] = rawKey(t.Raw, "DomainID")
			return e
		},
	})
}

func registerVariable() {
	core.Register(&core.Rule{
		Kind:     core.KindVariable,
		Section:  core.SectionVariables,
		File:     "DataPoint.csv",
		Order:    orderVariable,
		IDColumn: "DataPointVID",
		Renames: []core.Rename{
			{From: "DataPointCode", To: "variable_code"},
			{From: "DataType", To: "data_type"},
			{From: "MetricID", To: "source_metric_id"},
		},
		Computed: []core.Computed{
			{Column: "from_date", Fn: dateCol("FromDate")},
			{Column: "to_date", Fn: dateCol("ToDate")},
		},
		Reference: func(t *core.TargetRow, _ *core.ResolutionContext) *core.ReferenceEntry {
			return entry(t, "DataPointVID", t.Raw.Get("DataPointCode"))
		},
	})
}

// Categorisations only feed the graph; they have no section of their own.
func registerOrdinateCategorisation() {
	core.Register(&core.Rule{
		Kind:  core.KindOrdinateCategorisation,
		File:  "OrdinateCategorisation.csv",
		Order: orderOrdinateCategorisation,
		Renames: []core.Rename{
			{From: "Source", To: "source"},
		},
		Computed: []core.Computed{
			{Column: "ordinate_id", Fn: requiredRef(core.KindOrdinate, "OrdinateID", "ordinate_members")},
			{Column: "dimension_id", Fn: refCol(core.KindDimension, "DimensionID")},
			{Column: "member_id", Fn: refCol(core.KindMember, "MemberID")},
		},
	})
}
