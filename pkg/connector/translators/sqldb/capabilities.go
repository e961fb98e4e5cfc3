package sqldb

import "github.com/ajitpratap0/federate/pkg/capabilities"

var ansiFunctions = []string{
	"ABS", "CEILING", "FLOOR", "ROUND", "MOD", "POWER", "SQRT", "EXP", "LN",
	"CONCAT", "LOWER", "UPPER", "TRIM", "LTRIM", "RTRIM", "SUBSTRING", "REPLACE", "CHAR_LENGTH",
	"COALESCE", "NULLIF", "CURRENT_DATE", "CURRENT_TIMESTAMP",
}

// Declaration returns the capabilities of dialect d
func Declaration(d Dialect) *capabilities.Declaration {
	decl := &capabilities.Declaration{
		SelectDistinct:            true,
		SelectExpression:          true,
		SelectWithoutFrom:         true,
		FromGroupAlias:            true,
		FromJoinInner:             true,
		FromJoinOuter:             true,
		FromInlineViews:           true,
		WhereCompareEq:            true,
		WhereCompareOrdered:       true,
		WhereBetween:              true,
		WhereLike:                 true,
		WhereLikeEscape:           true,
		WhereIn:                   true,
		WhereInSubquery:           true,
		WhereIsNull:               true,
		WhereOr:                   true,
		WhereNot:                  true,
		WhereExists:               true,
		WhereQuantifiedSome:       true,
		WhereQuantifiedAll:        true,
		OrderBy:                   true,
		OrderByUnrelated:          true,
		GroupBy:                   true,
		Having:                    true,
		AggregatesSum:             true,
		AggregatesAvg:             true,
		AggregatesMin:             true,
		AggregatesMax:             true,
		AggregatesCount:           true,
		AggregatesCountStar:       true,
		AggregatesDistinct:        true,
		AggregatesEnhancedNumeric: true,
		FunctionsInGroupBy:        true,
		SubqueriesScalar:          true,
		SubqueriesCorrelated:      true,
		SearchedCase:              true,
		CommonTableExpressions:    true,
		Union:                     true,
		SetOrderBy:                true,
		RowLimit:                  true,
		RowOffset:                 true,
		ElementaryOLAP:            true,
		InsertWithQueryExpression: true,
		BulkUpdate:                true,
		BatchedUpdates:            true,
		Functions:                 append([]string(nil), ansiFunctions...),
	}

	switch d {
	case Postgres:
		decl.FromJoinOuterFull = true
		decl.FromLateralJoin = true
		decl.WhereSimilar = true
		decl.WhereLikeRegex = true
		decl.WhereIsDistinct = true
		decl.OrderByNullOrdering = true
		decl.GroupByRollup = true
		decl.AggregatesStringAgg = true
		decl.Intersect = true
		decl.Except = true
		decl.Upsert = true
		decl.ArrayType = true
		decl.MaxInCriteriaSize = 32767
		decl.Functions = append(decl.Functions, "STRING_AGG", "DATE_TRUNC", "TO_CHAR", "REGEXP_REPLACE")
	case MySQL:
		decl.WhereLikeRegex = true
		decl.GroupByRollup = true
		decl.AggregatesStringAgg = true
		decl.Upsert = true
		decl.MaxFromGroups = 61
		decl.Functions = append(decl.Functions, "GROUP_CONCAT", "DATE_FORMAT", "IFNULL")
	case Snowflake:
		decl.FromJoinOuterFull = true
		decl.FromLateralJoin = true
		decl.WhereLikeRegex = true
		decl.WhereIsDistinct = true
		decl.OrderByNullOrdering = true
		decl.GroupByRollup = true
		decl.AggregatesStringAgg = true
		decl.Intersect = true
		decl.Except = true
		decl.ArrayType = true
		decl.MaxInCriteriaSize = 16384
		decl.Functions = append(decl.Functions, "LISTAGG", "DATE_TRUNC", "TO_CHAR", "IFF")
	}
	return decl
}
