package capabilities

// Declaration is the capability declaration of a translator, one field per
// Capability. Translators fill it in once; Convert copies it into a
// SourceCapabilities.
type Declaration struct {
	// Select and from clause
	SelectDistinct     bool
	SelectExpression   bool
	SelectWithoutFrom  bool
	FromGroupAlias     bool
	FromJoinInner      bool
	FromJoinOuter      bool
	FromJoinOuterFull  bool
	FromInlineViews    bool
	FromLateralJoin    bool
	FromProcedureTable bool

	// Criteria
	WhereCompareEq        bool
	WhereCompareOrdered   bool
	WhereBetween          bool
	WhereLike             bool
	WhereLikeEscape       bool
	WhereSimilar          bool
	WhereLikeRegex        bool
	WhereIn               bool
	WhereInSubquery       bool
	WhereIsNull           bool
	WhereIsDistinct       bool
	WhereOr               bool
	WhereNot              bool
	WhereExists           bool
	WhereQuantifiedSome   bool
	WhereQuantifiedAll    bool
	OnlyLiteralComparison bool

	// Ordering
	OrderBy             bool
	OrderByUnrelated    bool
	OrderByNullOrdering bool

	// Grouping and aggregates
	GroupBy                   bool
	GroupByRollup             bool
	Having                    bool
	AggregatesSum             bool
	AggregatesAvg             bool
	AggregatesMin             bool
	AggregatesMax             bool
	AggregatesCount           bool
	AggregatesCountStar       bool
	AggregatesDistinct        bool
	AggregatesEnhancedNumeric bool
	AggregatesStringAgg       bool
	FunctionsInGroupBy        bool

	// Subqueries and expressions
	SubqueriesScalar       bool
	SubqueriesCorrelated   bool
	SearchedCase           bool
	CommonTableExpressions bool

	// Set operations
	Union      bool
	Intersect  bool
	Except     bool
	SetOrderBy bool

	// Limits
	RowLimit  bool
	RowOffset bool

	// Analytics
	ElementaryOLAP bool

	// Updates
	InsertWithQueryExpression bool
	BulkUpdate                bool
	BatchedUpdates            bool
	Upsert                    bool

	// Planner hints
	DependentJoin bool
	ArrayType     bool

	// Functions lists the scalar functions the source evaluates, any case
	Functions []string
	// MaxInCriteriaSize bounds IN value lists; zero or less means unlimited
	MaxInCriteriaSize int
	// MaxFromGroups bounds the number of groups in a from clause; zero or less means unlimited
	MaxFromGroups int
}
