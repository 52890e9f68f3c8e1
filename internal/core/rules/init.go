// Package rules registers the transformation rule of every entity kind with
// the core registry. Import this package to ensure all rules are registered.
package rules

// This file exists to provide a single import point.
// Each rule file uses init() to register its kinds.

// Processing order. Kinds only reference kinds with a lower order.
const (
	orderDomain = (iota + 1) * 10
	orderTemplate
	orderTable
	orderTableVersion
	orderDimension
	orderMember
	orderAxis
	orderOrdinate
	orderVariable
	orderCell
	orderCellPosition
	orderOrdinateCategorisation
)
