package rules

import (
	"github.com/JonMunkholm/dpmconv/internal/core"
)

func init() {
	registerDomain()
	registerTemplate()
	registerTable()
	registerTableVersion()
}

func registerDomain() {
	core.Register(&core.Rule{
		Kind:     core.KindDomain,
		Section:  core.SectionDomains,
		File:     "Domain.csv",
		Order:    orderDomain,
		IDColumn: "DomainID",
		Renames: []core.Rename{
			{From: "DomainCode", To: "domain_code"},
			{From: "DomainLabel", To: "domain_label"},
			{From: "DomainDescription", To: "domain_description"},
			{From: "DataType", To: "data_type"},
		},
		Computed: []core.Computed{
			{Column: "is_typed_domain", Fn: boolCol("IsTypedDomain")},
			{Column: "owner_id", Fn: refCol(core.KindOrganisation, "OrgID")},
		},
	})
}

func registerTemplate() {
	core.Register(&core.Rule{
		Kind:     core.KindTemplate,
		Section:  core.SectionTemplates,
		File:     "Template.csv",
		Order:    orderTemplate,
		IDColumn: "TemplateID",
		Renames: []core.Rename{
			{From: "TemplateCode", To: "template_code"},
			{From: "TemplateLabel", To: "template_label"},
		},
		Computed: []core.Computed{
			{Column: "framework_id", Fn: func(row core.SourceRow, s *core.RowScope) (any, error) {
				fw, ok := s.TemplateFramework(row.Get("TemplateID"))
				if !ok {
					fw, ok = s.FrameworkForCode(row.Get("TemplateCode"))
				}
				return frameworkValue(s, "framework_id", fw, ok), nil
			}},
			{Column: "taxonomy_id", Fn: refCol(core.KindTaxonomy, "TaxonomyID")},
		},
	})
}

func registerTable() {
	core.Register(&core.Rule{
		Kind:     core.KindTable,
		Section:  core.SectionTables,
		File:     "Table.csv",
		Order:    orderTable,
		IDColumn: "TableID",
		Renames: []core.Rename{
			{From: "OriginalTableCode", To: "original_table_code"},
			{From: "OriginalTableLabel", To: "original_table_label"},
		},
		Computed: []core.Computed{
			{Column: "template_id", Fn: refCol(core.KindTemplate, "TemplateID")},
			{Column: "framework_id", Fn: func(row core.SourceRow, s *core.RowScope) (any, error) {
				fw, ok := s.TableFramework(row)
				return frameworkValue(s, "framework_id", fw, ok), nil
			}},
			{Column: "version", Fn: func(row core.SourceRow, s *core.RowScope) (any, error) {
				if fw, ok := s.TableFramework(row); ok && fw.Version != "" {
					return fw.Version, nil
				}
				return s.Defaults.Version, nil
			}},
			{Column: "is_abstract", Fn: boolCol("IsAbstract")},
			{Column: "is_normalised", Fn: boolCol("IsNormalised")},
		},
		Reference: func(t *core.TargetRow, _ *core.ResolutionContext) *core.ReferenceEntry {
			e := entry(t, "TableID", t.Raw.Get("OriginalTableCode"))
			e.Refs[string(core.KindTemplate)] = rawKey(t.Raw, "TemplateID")
			e.Attrs[core.AttrTableCode] = t.Raw.Get("OriginalTableCode")
			e.Attrs[core.AttrVersion] = t.String("version")
			return e
		},
	})
}

func registerTableVersion() {
	core.Register(&core.Rule{
		Kind:     core.KindTableVersion,
		Section:  core.SectionTableVersions,
		File:     "TableVersion.csv",
		Order:    orderTableVersion,
		IDColumn: "TableVID",
		Renames: []core.Rename{
			{From: "TableVersionCode", To: "table_version_code"},
			{From: "TableVersionLabel", To: "table_version_label"},
		},
		Computed: []core.Computed{
			{Column: "table_id", Fn: refCol(core.KindTable, "TableID")},
			{Column: "from_date", Fn: dateCol("FromDate")},
			{Column: "to_date", Fn: dateCol("ToDate")},
		},
	})
}
