package rules

import (
	"github.com/JonMunkholm/dpmconv/internal/core"
)

func init() {
	registerAxis()
	registerOrdinate()
	registerCell()
	registerCellPosition()
}

func registerAxis() {
	core.Register(&core.Rule{
		Kind:     core.KindAxis,
		Section:  core.SectionAxes,
		File:     "Axis.csv",
		Order:    orderAxis,
		IDColumn: "AxisID",
		Renames: []core.Rename{
			{From: "AxisOrientation", To: "axis_orientation"},
			{From: "AxisLabel", To: "axis_label"},
		},
		Computed: []core.Computed{
			{Column: "table_id", Fn: tableOfVersion("TableVID")},
			{Column: "axis_number", Fn: func(row core.SourceRow, s *core.RowScope) (any, error) {
				if n := core.AxisNumber(row.Get("AxisOrientation"), row.Get("AxisOrder")); n != "" {
					return n, nil
				}
				return s.Defaults.Unknown, nil
			}},
			{Column: "axis_order", Fn: intCol("AxisOrder")},
			{Column: "is_open_axis", Fn: boolCol("IsOpenAxis")},
		},
		Reference: func(t *core.TargetRow, _ *core.ResolutionContext) *core.ReferenceEntry {
			e := entry(t, "AxisID", t.Raw.Get("AxisOrientation"))
			e.Refs[string(core.KindTableVersion)] = rawKey(t.Raw, "TableVID")
			e.Attrs[core.AttrAxisNumber] = t.String("axis_number")
			return e
		},
	})
}

func registerOrdinate() {
	core.Register(&core.Rule{
		Kind:     core.KindOrdinate,
		Section:  core.SectionOrdinates,
		File:     "AxisOrdinate.csv",
		Order:    orderOrdinate,
		IDColumn: "OrdinateID",
		Renames: []core.Rename{
			{From: "OrdinateCode", To: "ordinate_code"},
			{From: "OrdinateLabel", To: "ordinate_label"},
		},
		Computed: []core.Computed{
			{Column: "axis_id", Fn: refCol(core.KindAxis, "AxisID")},
			{Column: "is_abstract_header", Fn: boolCol("IsAbstractHeader")},
			{Column: "level", Fn: intCol("Level")},
			{Column: "order", Fn: intCol("Order")},
		},
		SelfRefs: []core.SelfRef{
			{Column: "parent_ordinate_id", Source: "ParentOrdinateID"},
		},
		Reference: func(t *core.TargetRow, c *core.ResolutionContext) *core.ReferenceEntry {
			e := entry(t, "OrdinateID", t.Raw.Get("OrdinateCode"))
			axisID := rawKey(t.Raw, "AxisID")
			e.Refs[string(core.KindAxis)] = axisID
			if axis, ok := c.Entry(core.KindAxis, axisID); ok {
				e.Attrs[core.AttrAxisNumber] = axis.Attr(core.AttrAxisNumber)
			}
			return e
		},
	})
}

func registerCell() {
	core.Register(&core.Rule{
		Kind:     core.KindCell,
		Section:  core.SectionCells,
		File:     "TableCell.csv",
		Order:    orderCell,
		IDColumn: "CellID",
		Renames: []core.Rename{
			{From: "BusinessCode", To: "business_code"},
		},
		Computed: []core.Computed{
			{Column: "table_id", Fn: tableOfVersion("TableVID")},
			{Column: "variable_id", Fn: refCol(core.KindVariable, "DataPointVID")},
			{Column: "is_row_key", Fn: boolCol("IsRowKey")},
			{Column: "is_shaded", Fn: boolCol("IsShaded")},
		},
		Reference: func(t *core.TargetRow, _ *core.ResolutionContext) *core.ReferenceEntry {
			e := entry(t, "CellID", t.Raw.Get("BusinessCode"))
			e.Refs[string(core.KindTableVersion)] = rawKey(t.Raw, "TableVID")
			return e
		},
	})
}

// Cell positions need their cell: an unknown cell drops the row. An
// unknown ordinate keeps the row with the sentinel so the graph reports it.
func registerCellPosition() {
	core.Register(&core.Rule{
		Kind:    core.KindCellPosition,
		Section: core.SectionCellPositions,
		File:    "CellPosition.csv",
		Order:   orderCellPosition,
		Computed: []core.Computed{
			{Column: "cell_id", Fn: requiredRef(core.KindCell, "CellID", "cell_ordinates")},
			{Column: "ordinate_id", Fn: refCol(core.KindOrdinate, "OrdinateID")},
			{Column: "axis_number", Fn: func(row core.SourceRow, s *core.RowScope) (any, error) {
				if ord, ok := s.Entry(core.KindOrdinate, row.Get("OrdinateID")); ok {
					if n := ord.Attr(core.AttrAxisNumber); n != "" {
						return n, nil
					}
				}
				return nil, nil
			}},
		},
	})
}
