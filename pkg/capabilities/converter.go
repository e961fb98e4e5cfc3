package capabilities

import "github.com/ajitpratap0/federate/pkg/errors"

var declarationFlags = [numCapabilities]func(d *Declaration) bool{
	SelectDistinct:            func(d *Declaration) bool { return d.SelectDistinct },
	SelectExpression:          func(d *Declaration) bool { return d.SelectExpression },
	SelectWithoutFrom:         func(d *Declaration) bool { return d.SelectWithoutFrom },
	FromGroupAlias:            func(d *Declaration) bool { return d.FromGroupAlias },
	FromJoinInner:             func(d *Declaration) bool { return d.FromJoinInner },
	FromJoinOuter:             func(d *Declaration) bool { return d.FromJoinOuter },
	FromJoinOuterFull:         func(d *Declaration) bool { return d.FromJoinOuterFull },
	FromInlineViews:           func(d *Declaration) bool { return d.FromInlineViews },
	FromLateralJoin:           func(d *Declaration) bool { return d.FromLateralJoin },
	FromProcedureTable:        func(d *Declaration) bool { return d.FromProcedureTable },
	WhereCompareEq:            func(d *Declaration) bool { return d.WhereCompareEq },
	WhereCompareOrdered:       func(d *Declaration) bool { return d.WhereCompareOrdered },
	WhereBetween:              func(d *Declaration) bool { return d.WhereBetween },
	WhereLike:                 func(d *Declaration) bool { return d.WhereLike },
	WhereLikeEscape:           func(d *Declaration) bool { return d.WhereLikeEscape },
	WhereSimilar:              func(d *Declaration) bool { return d.WhereSimilar },
	WhereLikeRegex:            func(d *Declaration) bool { return d.WhereLikeRegex },
	WhereIn:                   func(d *Declaration) bool { return d.WhereIn },
	WhereInSubquery:           func(d *Declaration) bool { return d.WhereInSubquery },
	WhereIsNull:               func(d *Declaration) bool { return d.WhereIsNull },
	WhereIsDistinct:           func(d *Declaration) bool { return d.WhereIsDistinct },
	WhereOr:                   func(d *Declaration) bool { return d.WhereOr },
	WhereNot:                  func(d *Declaration) bool { return d.WhereNot },
	WhereExists:               func(d *Declaration) bool { return d.WhereExists },
	WhereQuantifiedSome:       func(d *Declaration) bool { return d.WhereQuantifiedSome },
	WhereQuantifiedAll:        func(d *Declaration) bool { return d.WhereQuantifiedAll },
	OnlyLiteralComparison:     func(d *Declaration) bool { return d.OnlyLiteralComparison },
	OrderBy:                   func(d *Declaration) bool { return d.OrderBy },
	OrderByUnrelated:          func(d *Declaration) bool { return d.OrderByUnrelated },
	OrderByNullOrdering:       func(d *Declaration) bool { return d.OrderByNullOrdering },
	GroupBy:                   func(d *Declaration) bool { return d.GroupBy },
	GroupByRollup:             func(d *Declaration) bool { return d.GroupByRollup },
	Having:                    func(d *Declaration) bool { return d.Having },
	AggregatesSum:             func(d *Declaration) bool { return d.AggregatesSum },
	AggregatesAvg:             func(d *Declaration) bool { return d.AggregatesAvg },
	AggregatesMin:             func(d *Declaration) bool { return d.AggregatesMin },
	AggregatesMax:             func(d *Declaration) bool { return d.AggregatesMax },
	AggregatesCount:           func(d *Declaration) bool { return d.AggregatesCount },
	AggregatesCountStar:       func(d *Declaration) bool { return d.AggregatesCountStar },
	AggregatesDistinct:        func(d *Declaration) bool { return d.AggregatesDistinct },
	AggregatesEnhancedNumeric: func(d *Declaration) bool { return d.AggregatesEnhancedNumeric },
	AggregatesStringAgg:       func(d *Declaration) bool { return d.AggregatesStringAgg },
	FunctionsInGroupBy:        func(d *Declaration) bool { return d.FunctionsInGroupBy },
	SubqueriesScalar:          func(d *Declaration) bool { return d.SubqueriesScalar },
	SubqueriesCorrelated:      func(d *Declaration) bool { return d.SubqueriesCorrelated },
	SearchedCase:              func(d *Declaration) bool { return d.SearchedCase },
	CommonTableExpressions:    func(d *Declaration) bool { return d.CommonTableExpressions },
	Union:                     func(d *Declaration) bool { return d.Union },
	Intersect:                 func(d *Declaration) bool { return d.Intersect },
	Except:                    func(d *Declaration) bool { return d.Except },
	SetOrderBy:                func(d *Declaration) bool { return d.SetOrderBy },
	RowLimit:                  func(d *Declaration) bool { return d.RowLimit },
	RowOffset:                 func(d *Declaration) bool { return d.RowOffset },
	ElementaryOLAP:            func(d *Declaration) bool { return d.ElementaryOLAP },
	InsertWithQueryExpression: func(d *Declaration) bool { return d.InsertWithQueryExpression },
	BulkUpdate:                func(d *Declaration) bool { return d.BulkUpdate },
	BatchedUpdates:            func(d *Declaration) bool { return d.BatchedUpdates },
	Upsert:                    func(d *Declaration) bool { return d.Upsert },
	DependentJoin:             func(d *Declaration) bool { return d.DependentJoin },
	ArrayType:                 func(d *Declaration) bool { return d.ArrayType },
}

// Convert builds the SourceCapabilities of a source from its translator's
// declaration. Every capability is copied as declared, every function is
// registered lower-cased and the scalar properties are set from the
// declaration, connectorID and the source's XA flag.
func Convert(decl *Declaration, connectorID string, xa bool) *SourceCapabilities {
	b := NewBuilder()
	if decl == nil {
		return b.ConnectorID(connectorID).XA(xa).Build()
	}

	for c := Capability(1); c < numCapabilities; c++ {
		b.Set(c, declarationFlags[c](decl))
	}
	b.AddFunctions(decl.Functions...)

	return b.
		MaxInCriteriaSize(decl.MaxInCriteriaSize).
		MaxFromGroups(decl.MaxFromGroups).
		ConnectorID(connectorID).
		XA(xa).
		Build()
}

// ConvertChecked is Convert for declarations returned by translator code:
// a missing declaration is reported instead of yielding an empty
// capability set.
func ConvertChecked(decl *Declaration, connectorID string, xa bool) (*SourceCapabilities, error) {
	if decl == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "translator returned no capability declaration").
			WithDetail("connector_id", connectorID)
	}
	return Convert(decl, connectorID, xa), nil
}
