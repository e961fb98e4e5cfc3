package mongodb

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ajitpratap0/federate/pkg/connector/core"
	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/message"
)

// documentCursor is the subset of *mongo.Cursor and *mongo.ChangeStream
// the execution reads
type documentCursor interface {
	Next(ctx context.Context) bool
	TryNext(ctx context.Context) bool
	Decode(val interface{}) error
	Err() error
	Close(ctx context.Context) error
}

type execution struct {
	coll         *mongo.Collection
	cmd          *Command
	symbols      []message.Symbol
	fetchSize    int
	pollInterval time.Duration
	scope        *core.ExecutionScope

	mu     sync.Mutex
	cursor documentCursor
	read   int64
	done   bool
}

func (e *execution) Execute(ctx context.Context) error {
	stop := e.scope.Bind(ctx)
	defer stop()

	sctx := e.scope.Context()
	var (
		cursor documentCursor
		err    error
	)
	switch e.cmd.Operation() {
	case OpFind:
		opts := options.Find()
		if proj := Projection(symbolNames(e.symbols)); proj != nil {
			opts.SetProjection(proj)
		}
		if len(e.cmd.Sort) > 0 {
			opts.SetSort(e.cmd.Sort)
		}
		if e.cmd.Limit > 0 {
			opts.SetLimit(e.cmd.Limit)
		}
		if e.cmd.Skip > 0 {
			opts.SetSkip(e.cmd.Skip)
		}
		if e.fetchSize > 0 {
			opts.SetBatchSize(int32(e.fetchSize))
		}
		filter := e.cmd.Filter
		if filter == nil {
			filter = bson.D{}
		}
		cursor, err = e.coll.Find(sctx, filter, opts)
	case OpAggregate:
		opts := options.Aggregate()
		if e.fetchSize > 0 {
			opts.SetBatchSize(int32(e.fetchSize))
		}
		cursor, err = e.coll.Aggregate(sctx, pipeline(e.cmd.Pipeline), opts)
	case OpWatch:
		opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
		if e.fetchSize > 0 {
			opts.SetBatchSize(int32(e.fetchSize))
		}
		cursor, err = e.coll.Watch(sctx, pipeline(e.cmd.Pipeline), opts)
	}
	if err != nil {
		return e.interrupted(ctx, err)
	}

	e.mu.Lock()
	e.cursor = cursor
	e.mu.Unlock()
	return nil
}

func (e *execution) Next(ctx context.Context) (message.Row, error) {
	e.mu.Lock()
	cursor, done := e.cursor, e.done
	e.mu.Unlock()
	if done {
		return nil, nil
	}
	if cursor == nil {
		return nil, errors.New(errors.ErrorTypeProcessing, "command was not executed")
	}

	// A watch with a limit ends once that many changes were read
	if e.cmd.Operation() == OpWatch && e.cmd.Limit > 0 && e.read >= e.cmd.Limit {
		e.finish()
		return nil, nil
	}

	stop := e.scope.Bind(ctx)
	defer stop()
	sctx := e.scope.Context()

	if e.cmd.Operation() == OpWatch {
		if !cursor.TryNext(sctx) {
			if err := cursor.Err(); err != nil {
				return nil, e.interrupted(ctx, err)
			}
			return nil, core.NotAvailable(e.pollInterval)
		}
	} else if !cursor.Next(sctx) {
		err := cursor.Err()
		e.finish()
		if err != nil {
			return nil, e.interrupted(ctx, err)
		}
		return nil, nil
	}

	var doc bson.M
	if err := cursor.Decode(&doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTranslator, "failed to decode document")
	}
	e.read++
	return DocumentRow(doc, e.symbols)
}

func (e *execution) interrupted(ctx context.Context, err error) error {
	if ctx.Err() != nil || e.scope.Err() != nil {
		return errors.Wrap(err, errors.ErrorTypeCancelled, "mongodb command interrupted")
	}
	return err
}

func (e *execution) finish() {
	e.mu.Lock()
	cursor := e.cursor
	e.done = true
	e.mu.Unlock()
	if cursor != nil {
		_ = cursor.Close(context.Background())
	}
}

func (e *execution) Cancel() error {
	e.scope.Cancel()
	return nil
}

func (e *execution) Close() error {
	e.scope.Cancel()
	e.mu.Lock()
	cursor, done := e.cursor, e.done
	e.done = true
	e.mu.Unlock()
	if cursor != nil && !done {
		return cursor.Close(context.Background())
	}
	return nil
}

func pipeline(stages []bson.D) mongo.Pipeline {
	if stages == nil {
		return mongo.Pipeline{}
	}
	return mongo.Pipeline(stages)
}

func symbolNames(symbols []message.Symbol) []string {
	names := make([]string, len(symbols))
	for i, s := range symbols {
		names[i] = s.Name
	}
	return names
}

// DocumentRow resolves symbols as dotted paths into doc. With no symbols
// the whole document is the single value of the row.
func DocumentRow(doc bson.M, symbols []message.Symbol) (message.Row, error) {
	plain := Normalize(doc).(map[string]interface{})
	if len(symbols) == 0 {
		return message.Row{plain}, nil
	}
	values := make([]interface{}, len(symbols))
	for i, s := range symbols {
		v := lookup(plain, s.Name)
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			if s.Type == message.TypeString || s.Type == message.TypeClob {
				encoded, err := json.Marshal(v)
				if err != nil {
					return nil, errors.Wrap(err, errors.ErrorTypeTranslator, "failed to encode nested value").
						WithDetail("column", s.Name)
				}
				v = string(encoded)
			}
		}
		values[i] = v
	}
	return core.CoerceRow(values, symbols)
}

func lookup(doc map[string]interface{}, path string) interface{} {
	var cur interface{} = doc
	start := 0
	for i := 0; i <= len(path); i++ {
		if i < len(path) && path[i] != '.' {
			continue
		}
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = m[path[start:i]]
		start = i + 1
	}
	return cur
}

// Normalize converts BSON values to plain Go values: documents become
// maps, arrays slices, object ids hex strings and datetimes time.Time.
func Normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case primitive.M:
		m := make(map[string]interface{}, len(x))
		for k, val := range x {
			m[k] = Normalize(val)
		}
		return m
	case primitive.D:
		m := make(map[string]interface{}, len(x))
		for _, el := range x {
			m[el.Key] = Normalize(el.Value)
		}
		return m
	case primitive.A:
		out := make([]interface{}, len(x))
		for i, val := range x {
			out[i] = Normalize(val)
		}
		return out
	case primitive.ObjectID:
		return x.Hex()
	case primitive.DateTime:
		return x.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(x.T), 0).UTC()
	case primitive.Decimal128:
		return x.String()
	case primitive.Binary:
		return x.Data
	case primitive.Regex:
		return x.String()
	default:
		return v
	}
}
