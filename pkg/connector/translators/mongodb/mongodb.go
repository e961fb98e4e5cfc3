// Package mongodb provides a translator for MongoDB. Commands are extended
// JSON documents naming one of three operations on a collection of the
// configured database:
//
//	{"find": "orders", "filter": {"status": "open"}, "sort": {"created": -1}, "limit": 100}
//	{"aggregate": "orders", "pipeline": [{"$group": {"_id": "$status", "n": {"$sum": 1}}}]}
//	{"watch": "orders", "pipeline": [{"$match": {"operationType": "insert"}}], "limit": 10}
//
// Projected symbols are resolved as dotted paths into each returned
// document. A watch reads the collection's change stream and signals
// data-not-available while no change is pending.
package mongodb

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/ajitpratap0/federate/pkg/capabilities"
	"github.com/ajitpratap0/federate/pkg/config"
	"github.com/ajitpratap0/federate/pkg/connector/core"
	"github.com/ajitpratap0/federate/pkg/connector/registry"
	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/logger"
	"github.com/ajitpratap0/federate/pkg/message"
)

const defaultPollInterval = 500 * time.Millisecond

func init() {
	registry.MustRegister(registry.TranslatorInfo{
		Name:        "mongodb",
		Description: "MongoDB find, aggregate and change stream commands",
		Properties:  []string{"uri", "database", "poll_interval"},
		Polling:     true,
	}, func(*config.SourceConfig) (core.Translator, error) {
		return NewTranslator(), nil
	})
}

// Translator runs commands against one MongoDB database.
type Translator struct {
	source       string
	pollInterval time.Duration
	logger       *zap.Logger

	mu       sync.RWMutex
	client   *mongo.Client
	database *mongo.Database
}

// NewTranslator creates an uninitialized translator
func NewTranslator() *Translator {
	return &Translator{pollInterval: defaultPollInterval}
}

// Name implements core.Translator
func (t *Translator) Name() string {
	return "mongodb"
}

// Initialize connects the client and checks the server is reachable
func (t *Translator) Initialize(ctx context.Context, cfg *config.SourceConfig) error {
	t.source = cfg.Name
	t.logger = logger.Get().With(
		zap.String("component", "mongodb_translator"),
		zap.String("source", cfg.Name))

	uri := cfg.Property("uri", "")
	database := cfg.Property("database", "")
	if uri == "" || database == "" {
		return errors.New(errors.ErrorTypeConfig, "properties uri and database are required").
			WithDetail("source", cfg.Name)
	}
	t.pollInterval = cfg.DurationProperty("poll_interval", defaultPollInterval)

	clientOpts := options.Client().ApplyURI(uri).SetAppName("federate")
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to mongodb")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to validate connection")
	}

	t.mu.Lock()
	t.client = client
	t.database = client.Database(database)
	t.mu.Unlock()
	t.logger.Info("connected", zap.String("database", database))
	return nil
}

// Capabilities implements core.Translator
func (t *Translator) Capabilities() *capabilities.Declaration {
	return Declaration()
}

// Connect returns a handle on the database. The driver pools sockets
// itself, so the connection holds nothing to release.
func (t *Translator) Connect(_ context.Context) (core.Connection, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.database == nil {
		return nil, errors.New(errors.ErrorTypeConnection, "translator is not initialized").
			WithDetail("source", t.source)
	}
	return &connection{db: t.database}, nil
}

// CreateExecution implements core.Translator
func (t *Translator) CreateExecution(ctx context.Context, cmd message.Command, ectx *core.ExecutionContext, c core.Connection) (core.Execution, error) {
	conn, ok := c.(*connection)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeInternal, "unexpected connection type %T", c)
	}
	native, ok := cmd.(*message.NativeCommand)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeProcessing, "mongodb does not support %T", cmd)
	}
	parsed, err := ParseCommand(native.Text)
	if err != nil {
		return nil, err
	}
	fetch := 0
	if ectx != nil {
		fetch = ectx.FetchSize
	}
	return &execution{
		coll:         conn.db.Collection(parsed.Collection()),
		cmd:          parsed,
		symbols:      native.Symbols,
		fetchSize:    fetch,
		pollInterval: t.pollInterval,
		scope:        core.NewExecutionScope(ctx),
	}, nil
}

// Ping implements core.Pinger
func (t *Translator) Ping(ctx context.Context) error {
	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()
	if client == nil {
		return errors.New(errors.ErrorTypeConnection, "translator is not initialized")
	}
	return client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client
func (t *Translator) Close(ctx context.Context) error {
	t.mu.Lock()
	client := t.client
	t.client, t.database = nil, nil
	t.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Disconnect(ctx)
}

type connection struct {
	db *mongo.Database
}

func (c *connection) Close() error {
	return nil
}

// Declaration returns what the MongoDB query language can evaluate
func Declaration() *capabilities.Declaration {
	return &capabilities.Declaration{
		SelectExpression:    true,
		WhereCompareEq:      true,
		WhereCompareOrdered: true,
		WhereLikeRegex:      true,
		WhereIn:             true,
		WhereIsNull:         true,
		WhereOr:             true,
		WhereNot:            true,
		OrderBy:             true,
		OrderByUnrelated:    true,
		GroupBy:             true,
		AggregatesSum:       true,
		AggregatesAvg:       true,
		AggregatesMin:       true,
		AggregatesMax:       true,
		AggregatesCount:     true,
		AggregatesCountStar: true,
		FromJoinInner:       true,
		RowLimit:            true,
		RowOffset:           true,
		ArrayType:           true,
		Functions:           []string{"CONCAT", "LOWER", "UPPER", "SUBSTRING", "ABS", "CEILING", "FLOOR", "ROUND", "SQRT"},
	}
}
