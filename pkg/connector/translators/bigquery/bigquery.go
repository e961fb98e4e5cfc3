// Package bigquery provides a translator running GoogleSQL queries as
// BigQuery jobs. A query job runs asynchronously: while it is pending the
// execution signals data-not-available with the configured poll interval
// instead of holding a worker.
package bigquery

import (
	"context"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"

	"github.com/ajitpratap0/federate/pkg/capabilities"
	"github.com/ajitpratap0/federate/pkg/config"
	"github.com/ajitpratap0/federate/pkg/connector/core"
	"github.com/ajitpratap0/federate/pkg/connector/registry"
	"github.com/ajitpratap0/federate/pkg/connector/translators/gcpopts"
	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/logger"
	"github.com/ajitpratap0/federate/pkg/message"
)

const defaultPollInterval = time.Second

func init() {
	registry.MustRegister(registry.TranslatorInfo{
		Name:        "bigquery",
		Description: "Google BigQuery query jobs",
		Properties:  append([]string{"project", "dataset", "location", "poll_interval"}, gcpopts.Properties...),
		Polling:     true,
	}, func(*config.SourceConfig) (core.Translator, error) {
		return NewTranslator(), nil
	})
}

// Translator runs queries in one project.
type Translator struct {
	source       string
	dataset      string
	location     string
	pollInterval time.Duration
	logger       *zap.Logger

	mu     sync.RWMutex
	client *bigquery.Client
}

// NewTranslator creates an uninitialized translator
func NewTranslator() *Translator {
	return &Translator{pollInterval: defaultPollInterval}
}

// Name implements core.Translator
func (t *Translator) Name() string {
	return "bigquery"
}

// Initialize creates the client
func (t *Translator) Initialize(ctx context.Context, cfg *config.SourceConfig) error {
	t.source = cfg.Name
	t.logger = logger.Get().With(
		zap.String("component", "bigquery_translator"),
		zap.String("source", cfg.Name))

	project := cfg.Property("project", "")
	if project == "" {
		return errors.New(errors.ErrorTypeConfig, "property project is required").
			WithDetail("source", cfg.Name)
	}
	t.dataset = cfg.Property("dataset", "")
	t.location = cfg.Property("location", "")
	t.pollInterval = cfg.DurationProperty("poll_interval", defaultPollInterval)

	opts, err := gcpopts.ClientOptions(cfg)
	if err != nil {
		return err
	}

	client, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to create bigquery client").
			WithDetail("project", project)
	}
	if t.location != "" {
		client.Location = t.location
	}

	t.mu.Lock()
	t.client = client
	t.mu.Unlock()
	t.logger.Info("client created", zap.String("project", project), zap.String("location", t.location))
	return nil
}

// Capabilities returns what GoogleSQL evaluates
func (t *Translator) Capabilities() *capabilities.Declaration {
	return &capabilities.Declaration{
		SelectDistinct:            true,
		SelectExpression:          true,
		SelectWithoutFrom:         true,
		FromGroupAlias:            true,
		FromJoinInner:             true,
		FromJoinOuter:             true,
		FromJoinOuterFull:         true,
		FromInlineViews:           true,
		WhereCompareEq:            true,
		WhereCompareOrdered:       true,
		WhereBetween:              true,
		WhereLike:                 true,
		WhereLikeRegex:            true,
		WhereIn:                   true,
		WhereInSubquery:           true,
		WhereIsNull:               true,
		WhereIsDistinct:           true,
		WhereOr:                   true,
		WhereNot:                  true,
		WhereExists:               true,
		OrderBy:                   true,
		OrderByUnrelated:          true,
		OrderByNullOrdering:       true,
		GroupBy:                   true,
		GroupByRollup:             true,
		Having:                    true,
		AggregatesSum:             true,
		AggregatesAvg:             true,
		AggregatesMin:             true,
		AggregatesMax:             true,
		AggregatesCount:           true,
		AggregatesCountStar:       true,
		AggregatesDistinct:        true,
		AggregatesEnhancedNumeric: true,
		AggregatesStringAgg:       true,
		FunctionsInGroupBy:        true,
		SubqueriesScalar:          true,
		SubqueriesCorrelated:      true,
		SearchedCase:              true,
		CommonTableExpressions:    true,
		Union:                     true,
		Intersect:                 true,
		Except:                    true,
		SetOrderBy:                true,
		RowLimit:                  true,
		RowOffset:                 true,
		ElementaryOLAP:            true,
		ArrayType:                 true,
		Functions: []string{
			"ABS", "CEIL", "FLOOR", "ROUND", "MOD", "POW", "SQRT", "CONCAT", "LOWER", "UPPER",
			"TRIM", "SUBSTR", "REPLACE", "LENGTH", "COALESCE", "IFNULL", "STRING_AGG",
			"DATE_TRUNC", "TIMESTAMP_TRUNC", "FORMAT_TIMESTAMP", "REGEXP_CONTAINS",
		},
	}
}

// Connect implements core.Translator
func (t *Translator) Connect(_ context.Context) (core.Connection, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.client == nil {
		return nil, errors.New(errors.ErrorTypeConnection, "translator is not initialized").
			WithDetail("source", t.source)
	}
	return &connection{client: t.client}, nil
}

// CreateExecution implements core.Translator
func (t *Translator) CreateExecution(ctx context.Context, cmd message.Command, ectx *core.ExecutionContext, c core.Connection) (core.Execution, error) {
	conn, ok := c.(*connection)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeInternal, "unexpected connection type %T", c)
	}
	native, ok := cmd.(*message.NativeCommand)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeProcessing, "bigquery does not support %T", cmd)
	}

	labels := map[string]string{"source": labelValue(t.source)}
	if ectx != nil {
		labels["session"] = labelValue(ectx.RequestID.Request.SessionID)
	}
	client, dataset := conn.client, t.dataset
	run := func(ctx context.Context) (queryJob, error) {
		q := client.Query(native.Text)
		q.Parameters = Parameters(native.Args)
		q.Labels = labels
		if dataset != "" {
			q.DefaultDatasetID = dataset
		}
		job, err := q.Run(ctx)
		if err != nil {
			return nil, err
		}
		return jobAdapter{job}, nil
	}
	return &execution{
		run:          run,
		symbols:      native.Symbols,
		pollInterval: t.pollInterval,
		scope:        core.NewExecutionScope(ctx),
		logger:       t.logger,
	}, nil
}

// Ping lists one dataset of the project
func (t *Translator) Ping(ctx context.Context) error {
	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()
	if client == nil {
		return errors.New(errors.ErrorTypeConnection, "translator is not initialized")
	}
	it := client.Datasets(ctx)
	it.PageInfo().MaxSize = 1
	if _, err := it.Next(); err != nil && !isDone(err) {
		return err
	}
	return nil
}

// Close closes the client
func (t *Translator) Close(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}

type connection struct {
	client *bigquery.Client
}

func (c *connection) Close() error {
	return nil
}

// Parameters converts positional arguments to query parameters
func Parameters(args []interface{}) []bigquery.QueryParameter {
	if len(args) == 0 {
		return nil
	}
	params := make([]bigquery.QueryParameter, len(args))
	for i, a := range args {
		params[i] = bigquery.QueryParameter{Value: a}
	}
	return params
}

// labelValue lowercases v and replaces characters job labels do not allow
func labelValue(v string) string {
	b := make([]byte, 0, len(v))
	for i := 0; i < len(v) && len(b) < 63; i++ {
		c := v[i]
		switch {
		case c >= 'A' && c <= 'Z':
			b = append(b, c+'a'-'A')
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
			b = append(b, c)
		default:
			b = append(b, '_')
		}
	}
	return string(b)
}
