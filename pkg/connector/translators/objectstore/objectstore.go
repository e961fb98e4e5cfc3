// Package objectstore provides translators for S3 and Google Cloud Storage
// buckets. Two commands are supported:
//
//	{"list": "reports/2024/"}
//	{"avro": "events/", "limit": 1000}
//
// A list returns one row per object under the prefix. Its content column
// is a LOB opened lazily when the client reads it. An avro command reads
// the records of every Avro object container file under the prefix, in
// key order.
package objectstore

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
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

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Key         string
	Size        int64
	Modified    time.Time
	ETag        string
	ContentType string
}

// Bucket is the storage a translator reads
type Bucket interface {
	// List returns the objects under prefix sorted by key
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// Open returns the content of key
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Check verifies the bucket is reachable
	Check(ctx context.Context) error
	Close() error
}

// BucketOpener connects to the bucket configured for a source
type BucketOpener func(ctx context.Context, cfg *config.SourceConfig) (Bucket, error)

func init() {
	registry.MustRegister(registry.TranslatorInfo{
		Name:        "s3",
		Description: "Amazon S3 compatible object storage",
		Properties:  []string{"bucket", "region", "endpoint", "access_key_id", "secret_access_key", "path_style"},
	}, func(*config.SourceConfig) (core.Translator, error) {
		return NewTranslator("s3", OpenS3), nil
	})
	registry.MustRegister(registry.TranslatorInfo{
		Name:        "gcs",
		Description: "Google Cloud Storage",
		Properties:  append([]string{"bucket"}, gcpopts.Properties...),
	}, func(*config.SourceConfig) (core.Translator, error) {
		return NewTranslator("gcs", OpenGCS), nil
	})
}

// Translator reads objects of one bucket.
type Translator struct {
	name   string
	open   BucketOpener
	source string
	logger *zap.Logger

	mu     sync.RWMutex
	bucket Bucket
}

// NewTranslator creates an uninitialized translator using open to reach
// the bucket
func NewTranslator(name string, open BucketOpener) *Translator {
	return &Translator{name: name, open: open}
}

// Name implements core.Translator
func (t *Translator) Name() string {
	return t.name
}

// Initialize opens the bucket
func (t *Translator) Initialize(ctx context.Context, cfg *config.SourceConfig) error {
	t.source = cfg.Name
	t.logger = logger.Get().With(
		zap.String("component", "objectstore_translator"),
		zap.String("source", cfg.Name),
		zap.String("store", t.name))

	if cfg.Property("bucket", "") == "" {
		return errors.New(errors.ErrorTypeConfig, "property bucket is required").
			WithDetail("source", cfg.Name)
	}
	bucket, err := t.open(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to open bucket").
			WithDetail("bucket", cfg.Property("bucket", ""))
	}

	t.mu.Lock()
	t.bucket = bucket
	t.mu.Unlock()
	t.logger.Info("bucket opened", zap.String("bucket", cfg.Property("bucket", "")))
	return nil
}

// Capabilities implements core.Translator
func (t *Translator) Capabilities() *capabilities.Declaration {
	return &capabilities.Declaration{RowLimit: true}
}

// Connect implements core.Translator
func (t *Translator) Connect(_ context.Context) (core.Connection, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.bucket == nil {
		return nil, errors.New(errors.ErrorTypeConnection, "translator is not initialized").
			WithDetail("source", t.source)
	}
	return &connection{bucket: t.bucket}, nil
}

// CreateExecution implements core.Translator
func (t *Translator) CreateExecution(ctx context.Context, cmd message.Command, _ *core.ExecutionContext, c core.Connection) (core.Execution, error) {
	conn, ok := c.(*connection)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeInternal, "unexpected connection type %T", c)
	}
	native, ok := cmd.(*message.NativeCommand)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeProcessing, "%s does not support %T", t.name, cmd)
	}
	parsed, err := ParseCommand(native.Text)
	if err != nil {
		return nil, err
	}
	return &execution{
		bucket:  conn.bucket,
		cmd:     parsed,
		symbols: native.Symbols,
		scope:   core.NewExecutionScope(ctx),
	}, nil
}

// Ping checks the bucket is reachable
func (t *Translator) Ping(ctx context.Context) error {
	t.mu.RLock()
	bucket := t.bucket
	t.mu.RUnlock()
	if bucket == nil {
		return errors.New(errors.ErrorTypeConnection, "translator is not initialized")
	}
	return bucket.Check(ctx)
}

// Close releases the bucket client
func (t *Translator) Close(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bucket == nil {
		return nil
	}
	err := t.bucket.Close()
	t.bucket = nil
	return err
}

type connection struct {
	bucket Bucket
}

func (c *connection) Close() error {
	return nil
}

// Command is a parsed object store command
type Command struct {
	List  *string `json:"list,omitempty"`
	Avro  *string `json:"avro,omitempty"`
	Limit int64   `json:"limit,omitempty"`
}

// ParseCommand parses a JSON command
func ParseCommand(text string) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &cmd); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeProcessing, "invalid object store command")
	}
	if (cmd.List == nil) == (cmd.Avro == nil) {
		return nil, errors.New(errors.ErrorTypeProcessing, "object store command must name exactly one of list or avro")
	}
	if cmd.Limit < 0 {
		return nil, errors.New(errors.ErrorTypeProcessing, "limit must not be negative")
	}
	return &cmd, nil
}
