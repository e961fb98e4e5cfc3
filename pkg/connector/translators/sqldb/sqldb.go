// Package sqldb provides translators for relational sources. Commands are
// native SQL in the source's dialect: postgres through a pgx connection
// pool, mysql and snowflake through database/sql.
package sqldb

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/federate/pkg/capabilities"
	"github.com/ajitpratap0/federate/pkg/config"
	"github.com/ajitpratap0/federate/pkg/connector/core"
	"github.com/ajitpratap0/federate/pkg/connector/registry"
	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/logger"
	"github.com/ajitpratap0/federate/pkg/message"
)

// Dialect is a supported SQL dialect
type Dialect string

const (
	Postgres  Dialect = "postgres"
	MySQL     Dialect = "mysql"
	Snowflake Dialect = "snowflake"
)

func init() {
	props := []string{"dsn", "max_conns", "min_conns"}
	registry.MustRegister(registry.TranslatorInfo{
		Name:        string(Postgres),
		Description: "PostgreSQL through a pgx connection pool",
		Properties:  props,
	}, factory(Postgres))
	registry.MustRegister(registry.TranslatorInfo{
		Name:        string(MySQL),
		Description: "MySQL through go-sql-driver",
		Properties:  props,
	}, factory(MySQL))
	registry.MustRegister(registry.TranslatorInfo{
		Name:        string(Snowflake),
		Description: "Snowflake through gosnowflake",
		Properties:  []string{"dsn", "account", "user", "password", "database", "schema", "warehouse", "role", "max_conns"},
	}, factory(Snowflake))
}

func factory(d Dialect) registry.TranslatorFactory {
	return func(*config.SourceConfig) (core.Translator, error) {
		return NewTranslator(d), nil
	}
}

// backend opens connections for one dialect
type backend interface {
	connect(ctx context.Context) (conn, error)
	ping(ctx context.Context) error
	close()
}

// conn is a connection held for one atomic request
type conn interface {
	core.Connection
	query(ctx context.Context, text string, args []interface{}) (rowIter, error)
	exec(ctx context.Context, text string, args []interface{}) (int64, error)
}

// rowIter iterates the rows of a query
type rowIter interface {
	Next() bool
	Values() ([]interface{}, error)
	Err() error
	Close()
}

// Translator runs native SQL against a relational source.
type Translator struct {
	dialect Dialect
	source  string
	backend backend
	logger  *zap.Logger
	mu      sync.RWMutex
}

// NewTranslator creates an uninitialized translator for d
func NewTranslator(d Dialect) *Translator {
	return &Translator{dialect: d}
}

// Name implements core.Translator
func (t *Translator) Name() string {
	return string(t.dialect)
}

// Initialize opens the connection pool described by the source properties
func (t *Translator) Initialize(ctx context.Context, cfg *config.SourceConfig) error {
	t.source = cfg.Name
	t.logger = logger.Get().With(
		zap.String("component", "sqldb_translator"),
		zap.String("source", cfg.Name),
		zap.String("dialect", string(t.dialect)))

	maxConns, err := intProperty(cfg, "max_conns", 10)
	if err != nil {
		return err
	}
	minConns, err := intProperty(cfg, "min_conns", 2)
	if err != nil {
		return err
	}

	var b backend
	switch t.dialect {
	case Postgres:
		dsn := cfg.Properties["dsn"]
		if dsn == "" {
			return missingProperty(cfg, "dsn")
		}
		b, err = newPgxBackend(ctx, dsn, int32(maxConns), int32(minConns))
	case MySQL:
		dsn := cfg.Properties["dsn"]
		if dsn == "" {
			return missingProperty(cfg, "dsn")
		}
		b, err = newSQLBackend(ctx, "mysql", dsn, maxConns)
	case Snowflake:
		var dsn string
		dsn, err = SnowflakeDSN(cfg.Properties)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "invalid snowflake properties").
				WithDetail("source", cfg.Name)
		}
		b, err = newSQLBackend(ctx, "snowflake", dsn, maxConns)
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unsupported sql dialect: %s", t.dialect)
	}
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.backend = b
	t.mu.Unlock()
	t.logger.Info("connected", zap.Int("max_conns", maxConns))
	return nil
}

// Capabilities implements core.Translator
func (t *Translator) Capabilities() *capabilities.Declaration {
	return Declaration(t.dialect)
}

// Connect implements core.Translator
func (t *Translator) Connect(ctx context.Context) (core.Connection, error) {
	b, err := t.getBackend()
	if err != nil {
		return nil, err
	}
	return b.connect(ctx)
}

// CreateExecution implements core.Translator
func (t *Translator) CreateExecution(ctx context.Context, cmd message.Command, ectx *core.ExecutionContext, c core.Connection) (core.Execution, error) {
	sc, ok := c.(conn)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeInternal, "unexpected connection type %T", c)
	}
	scope := core.NewExecutionScope(ctx)

	switch cmd := cmd.(type) {
	case *message.NativeCommand:
		if IsQuery(cmd.Text) {
			return &queryExecution{conn: sc, scope: scope, text: cmd.Text, args: cmd.Args, symbols: cmd.Symbols}, nil
		}
		return &updateExecution{conn: sc, scope: scope, text: cmd.Text, args: cmd.Args}, nil
	case *message.ProcedureCommand:
		if cmd.Name == "" {
			return nil, errors.New(errors.ErrorTypeProcessing, "procedure name is required")
		}
		if len(cmd.Symbols) > 0 && len(cmd.OutSymbols) > 0 {
			return nil, errors.New(errors.ErrorTypeProcessing, "procedures returning a result set cannot declare output parameters")
		}
		return &procedureExecution{
			queryExecution: queryExecution{
				conn:    sc,
				scope:   scope,
				text:    CallStatement(t.dialect, cmd.Name, len(cmd.Args)),
				args:    cmd.Args,
				symbols: cmd.Symbols,
			},
			outSymbols: cmd.OutSymbols,
		}, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeProcessing, "unsupported command %T", cmd)
	}
}

// Ping implements core.Pinger
func (t *Translator) Ping(ctx context.Context) error {
	b, err := t.getBackend()
	if err != nil {
		return err
	}
	return b.ping(ctx)
}

// Close implements core.Translator
func (t *Translator) Close(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.backend != nil {
		t.backend.close()
		t.backend = nil
	}
	return nil
}

func (t *Translator) getBackend() (backend, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.backend == nil {
		return nil, errors.New(errors.ErrorTypeConnection, "translator is not initialized").
			WithDetail("source", t.source)
	}
	return t.backend, nil
}

// IsQuery reports whether text returns rows rather than update counts
func IsQuery(text string) bool {
	fields := strings.Fields(strings.TrimLeft(text, "( \t\n"))
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH", "SHOW", "VALUES", "TABLE", "EXPLAIN", "DESCRIBE", "DESC":
		return true
	}
	return false
}

// CallStatement builds the statement invoking procedure name with n
// arguments
func CallStatement(d Dialect, name string, n int) string {
	params := make([]string, n)
	for i := range params {
		if d == Postgres {
			params[i] = "$" + strconv.Itoa(i+1)
		} else {
			params[i] = "?"
		}
	}
	return "CALL " + name + "(" + strings.Join(params, ", ") + ")"
}

func intProperty(cfg *config.SourceConfig, key string, def int) (int, error) {
	v, ok := cfg.Properties[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.Newf(errors.ErrorTypeConfig, "property %s must be a positive integer", key).
			WithDetail("source", cfg.Name)
	}
	return n, nil
}

func missingProperty(cfg *config.SourceConfig, key string) error {
	return errors.Newf(errors.ErrorTypeConfig, "property %s is required", key).
		WithDetail("source", cfg.Name).
		WithDetail("translator", cfg.Translator)
}
