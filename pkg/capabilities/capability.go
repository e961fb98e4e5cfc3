// Package capabilities models what a physical source can evaluate natively.
//
// A translator declares its support in a Declaration. Convert turns that
// declaration into an immutable SourceCapabilities, the object the planner
// consults when deciding which constructs to push down to the source.
package capabilities

import (
	"fmt"
	"strings"
)

// Capability is a query construct a source may support.
type Capability int

const (
	// Select and from clause

	// SelectDistinct is support for SELECT DISTINCT
	SelectDistinct Capability = iota + 1
	// SelectExpression is support for expressions in the select list
	SelectExpression
	// SelectWithoutFrom is support for a select without a from clause
	SelectWithoutFrom
	// FromGroupAlias is support for aliased groups
	FromGroupAlias
	// FromJoinInner is support for inner joins
	FromJoinInner
	// FromJoinOuter is support for left and right outer joins
	FromJoinOuter
	// FromJoinOuterFull is support for full outer joins
	FromJoinOuterFull
	// FromInlineViews is support for inline views
	FromInlineViews
	// FromLateralJoin is support for lateral joins
	FromLateralJoin
	// FromProcedureTable is support for procedure relations in the from clause
	FromProcedureTable

	// Criteria

	// WhereCompareEq is support for = and <> comparisons
	WhereCompareEq
	// WhereCompareOrdered is support for <, <=, > and >= comparisons
	WhereCompareOrdered
	// WhereBetween is support for BETWEEN
	WhereBetween
	// WhereLike is support for LIKE
	WhereLike
	// WhereLikeEscape is support for LIKE with an ESCAPE character
	WhereLikeEscape
	// WhereSimilar is support for SIMILAR TO
	WhereSimilar
	// WhereLikeRegex is support for LIKE_REGEX
	WhereLikeRegex
	// WhereIn is support for IN with a value list
	WhereIn
	// WhereInSubquery is support for IN with a subquery
	WhereInSubquery
	// WhereIsNull is support for IS NULL
	WhereIsNull
	// WhereIsDistinct is support for IS DISTINCT FROM
	WhereIsDistinct
	// WhereOr is support for OR
	WhereOr
	// WhereNot is support for NOT
	WhereNot
	// WhereExists is support for EXISTS
	WhereExists
	// WhereQuantifiedSome is support for SOME and ANY quantified comparisons
	WhereQuantifiedSome
	// WhereQuantifiedAll is support for ALL quantified comparisons
	WhereQuantifiedAll
	// OnlyLiteralComparison is support for comparisons restricted to column against literal
	OnlyLiteralComparison

	// Ordering

	// OrderBy is support for ORDER BY
	OrderBy
	// OrderByUnrelated is support for ordering by columns not in the select list
	OrderByUnrelated
	// OrderByNullOrdering is support for NULLS FIRST and NULLS LAST
	OrderByNullOrdering

	// Grouping and aggregates

	// GroupBy is support for GROUP BY
	GroupBy
	// GroupByRollup is support for GROUP BY ROLLUP
	GroupByRollup
	// Having is support for HAVING
	Having
	// AggregatesSum is support for SUM
	AggregatesSum
	// AggregatesAvg is support for AVG
	AggregatesAvg
	// AggregatesMin is support for MIN
	AggregatesMin
	// AggregatesMax is support for MAX
	AggregatesMax
	// AggregatesCount is support for COUNT(expression)
	AggregatesCount
	// AggregatesCountStar is support for COUNT(*)
	AggregatesCountStar
	// AggregatesDistinct is support for DISTINCT inside aggregates
	AggregatesDistinct
	// AggregatesEnhancedNumeric is support for STDDEV and VARIANCE aggregates
	AggregatesEnhancedNumeric
	// AggregatesStringAgg is support for STRING_AGG
	AggregatesStringAgg
	// FunctionsInGroupBy is support for function expressions in GROUP BY
	FunctionsInGroupBy

	// Subqueries and expressions

	// SubqueriesScalar is support for scalar subqueries
	SubqueriesScalar
	// SubqueriesCorrelated is support for correlated subqueries
	SubqueriesCorrelated
	// SearchedCase is support for searched CASE expressions
	SearchedCase
	// CommonTableExpressions is support for WITH clauses
	CommonTableExpressions

	// Set operations

	// Union is support for UNION
	Union
	// Intersect is support for INTERSECT
	Intersect
	// Except is support for EXCEPT
	Except
	// SetOrderBy is support for ORDER BY over a set operation
	SetOrderBy

	// Limits

	// RowLimit is support for row limits
	RowLimit
	// RowOffset is support for row offsets
	RowOffset

	// Analytics

	// ElementaryOLAP is support for window functions
	ElementaryOLAP

	// Updates

	// InsertWithQueryExpression is support for INSERT with a query expression
	InsertWithQueryExpression
	// BulkUpdate is support for bulk updates with parameter batches
	BulkUpdate
	// BatchedUpdates is support for batches of update commands
	BatchedUpdates
	// Upsert is support for insert or update
	Upsert

	// Planner hints

	// DependentJoin is support for dependent join value sets
	DependentJoin
	// ArrayType is support for array typed values
	ArrayType

	numCapabilities
)

var capabilityNames = [numCapabilities]string{
	SelectDistinct:            "SelectDistinct",
	SelectExpression:          "SelectExpression",
	SelectWithoutFrom:         "SelectWithoutFrom",
	FromGroupAlias:            "FromGroupAlias",
	FromJoinInner:             "FromJoinInner",
	FromJoinOuter:             "FromJoinOuter",
	FromJoinOuterFull:         "FromJoinOuterFull",
	FromInlineViews:           "FromInlineViews",
	FromLateralJoin:           "FromLateralJoin",
	FromProcedureTable:        "FromProcedureTable",
	WhereCompareEq:            "WhereCompareEq",
	WhereCompareOrdered:       "WhereCompareOrdered",
	WhereBetween:              "WhereBetween",
	WhereLike:                 "WhereLike",
	WhereLikeEscape:           "WhereLikeEscape",
	WhereSimilar:              "WhereSimilar",
	WhereLikeRegex:            "WhereLikeRegex",
	WhereIn:                   "WhereIn",
	WhereInSubquery:           "WhereInSubquery",
	WhereIsNull:               "WhereIsNull",
	WhereIsDistinct:           "WhereIsDistinct",
	WhereOr:                   "WhereOr",
	WhereNot:                  "WhereNot",
	WhereExists:               "WhereExists",
	WhereQuantifiedSome:       "WhereQuantifiedSome",
	WhereQuantifiedAll:        "WhereQuantifiedAll",
	OnlyLiteralComparison:     "OnlyLiteralComparison",
	OrderBy:                   "OrderBy",
	OrderByUnrelated:          "OrderByUnrelated",
	OrderByNullOrdering:       "OrderByNullOrdering",
	GroupBy:                   "GroupBy",
	GroupByRollup:             "GroupByRollup",
	Having:                    "Having",
	AggregatesSum:             "AggregatesSum",
	AggregatesAvg:             "AggregatesAvg",
	AggregatesMin:             "AggregatesMin",
	AggregatesMax:             "AggregatesMax",
	AggregatesCount:           "AggregatesCount",
	AggregatesCountStar:       "AggregatesCountStar",
	AggregatesDistinct:        "AggregatesDistinct",
	AggregatesEnhancedNumeric: "AggregatesEnhancedNumeric",
	AggregatesStringAgg:       "AggregatesStringAgg",
	FunctionsInGroupBy:        "FunctionsInGroupBy",
	SubqueriesScalar:          "SubqueriesScalar",
	SubqueriesCorrelated:      "SubqueriesCorrelated",
	SearchedCase:              "SearchedCase",
	CommonTableExpressions:    "CommonTableExpressions",
	Union:                     "Union",
	Intersect:                 "Intersect",
	Except:                    "Except",
	SetOrderBy:                "SetOrderBy",
	RowLimit:                  "RowLimit",
	RowOffset:                 "RowOffset",
	ElementaryOLAP:            "ElementaryOLAP",
	InsertWithQueryExpression: "InsertWithQueryExpression",
	BulkUpdate:                "BulkUpdate",
	BatchedUpdates:            "BatchedUpdates",
	Upsert:                    "Upsert",
	DependentJoin:             "DependentJoin",
	ArrayType:                 "ArrayType",
}

// String returns the capability name
func (c Capability) String() string {
	if !c.Valid() {
		return fmt.Sprintf("Capability(%d)", int(c))
	}
	return capabilityNames[c]
}

// Valid reports whether c is a known capability
func (c Capability) Valid() bool {
	return c > 0 && c < numCapabilities
}

// ParseCapability returns the capability named name, ignoring case
func ParseCapability(name string) (Capability, error) {
	for c := Capability(1); c < numCapabilities; c++ {
		if strings.EqualFold(capabilityNames[c], name) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown capability %q", name)
}

// All returns every known capability in declaration order
func All() []Capability {
	all := make([]Capability, 0, numCapabilities-1)
	for c := Capability(1); c < numCapabilities; c++ {
		all = append(all, c)
	}
	return all
}
