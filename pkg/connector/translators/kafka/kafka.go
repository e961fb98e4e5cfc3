// Package kafka provides a translator reading Kafka topics as tables.
//
// A command is a JSON document selecting the records to read:
//
//	{"topic": "events", "partitions": [0, 1], "start": "oldest", "limit": 1000}
//
// By default a query reads each partition up to the high-water mark
// observed when it starts and then ends. With "follow": true it keeps
// reading new records until the limit is reached or the request is
// closed. While no record is buffered the execution signals
// data-not-available instead of blocking a worker.
package kafka

import (
	"context"
	"crypto/tls"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/ajitpratap0/federate/pkg/capabilities"
	"github.com/ajitpratap0/federate/pkg/config"
	"github.com/ajitpratap0/federate/pkg/connector/core"
	"github.com/ajitpratap0/federate/pkg/connector/registry"
	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/logger"
	"github.com/ajitpratap0/federate/pkg/message"
)

const defaultPollInterval = 200 * time.Millisecond

func init() {
	registry.MustRegister(registry.TranslatorInfo{
		Name:        "kafka",
		Description: "Kafka topics read partition by partition",
		Properties: []string{"brokers", "topic", "client_id", "tls", "tls_insecure_skip_verify",
			"sasl_mechanism", "sasl_username", "sasl_password", "poll_interval"},
		Polling: true,
	}, func(*config.SourceConfig) (core.Translator, error) {
		return NewTranslator(), nil
	})
}

// Translator reads records of the configured cluster.
type Translator struct {
	source       string
	defaultTopic string
	pollInterval time.Duration
	logger       *zap.Logger

	mu     sync.RWMutex
	client sarama.Client
}

// NewTranslator creates an uninitialized translator
func NewTranslator() *Translator {
	return &Translator{pollInterval: defaultPollInterval}
}

// Name implements core.Translator
func (t *Translator) Name() string {
	return "kafka"
}

// Initialize connects to the brokers
func (t *Translator) Initialize(_ context.Context, cfg *config.SourceConfig) error {
	t.source = cfg.Name
	t.logger = logger.Get().With(
		zap.String("component", "kafka_translator"),
		zap.String("source", cfg.Name))

	brokers := splitList(cfg.Property("brokers", ""))
	if len(brokers) == 0 {
		return errors.New(errors.ErrorTypeConfig, "property brokers is required").
			WithDetail("source", cfg.Name)
	}
	t.defaultTopic = cfg.Property("topic", "")
	t.pollInterval = cfg.DurationProperty("poll_interval", defaultPollInterval)

	saramaConfig, err := BuildConfig(cfg)
	if err != nil {
		return err
	}
	client, err := sarama.NewClient(brokers, saramaConfig)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to create kafka client").
			WithDetail("brokers", strings.Join(brokers, ","))
	}

	t.mu.Lock()
	t.client = client
	t.mu.Unlock()
	t.logger.Info("connected", zap.Strings("brokers", brokers))
	return nil
}

// BuildConfig derives the client configuration from the source properties
func BuildConfig(cfg *config.SourceConfig) (*sarama.Config, error) {
	c := sarama.NewConfig()
	c.ClientID = cfg.Property("client_id", "federate")
	c.Consumer.Return.Errors = true
	c.Consumer.Offsets.Initial = sarama.OffsetOldest

	if cfg.Property("tls", "false") == "true" {
		c.Net.TLS.Enable = true
		c.Net.TLS.Config = &tls.Config{
			InsecureSkipVerify: cfg.Property("tls_insecure_skip_verify", "false") == "true",
		}
	}

	if mechanism := cfg.Property("sasl_mechanism", ""); mechanism != "" {
		c.Net.SASL.Enable = true
		c.Net.SASL.User = cfg.Property("sasl_username", "")
		c.Net.SASL.Password = cfg.Property("sasl_password", "")

		switch strings.ToUpper(mechanism) {
		case "PLAIN":
			c.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		case "SCRAM-SHA-256":
			c.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			c.Net.SASL.SCRAMClientGeneratorFunc = sha256Generator
		case "SCRAM-SHA-512":
			c.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			c.Net.SASL.SCRAMClientGeneratorFunc = sha512Generator
		default:
			return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported sasl mechanism %q", mechanism).
				WithDetail("source", cfg.Name)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid kafka configuration").
			WithDetail("source", cfg.Name)
	}
	return c, nil
}

// Capabilities implements core.Translator
func (t *Translator) Capabilities() *capabilities.Declaration {
	return &capabilities.Declaration{RowLimit: true}
}

// Connect returns a handle on the shared client
func (t *Translator) Connect(_ context.Context) (core.Connection, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.client == nil || t.client.Closed() {
		return nil, errors.New(errors.ErrorTypeConnection, "translator is not initialized").
			WithDetail("source", t.source)
	}
	return &connection{client: t.client}, nil
}

// CreateExecution implements core.Translator
func (t *Translator) CreateExecution(ctx context.Context, cmd message.Command, _ *core.ExecutionContext, c core.Connection) (core.Execution, error) {
	conn, ok := c.(*connection)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeInternal, "unexpected connection type %T", c)
	}
	native, ok := cmd.(*message.NativeCommand)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeProcessing, "kafka does not support %T", cmd)
	}
	parsed, err := ParseCommand(native.Text, t.defaultTopic)
	if err != nil {
		return nil, err
	}
	client := conn.client
	return &execution{
		cmd:          parsed,
		symbols:      native.Symbols,
		pollInterval: t.pollInterval,
		offsets:      client,
		newConsumer:  func() (sarama.Consumer, error) { return sarama.NewConsumerFromClient(client) },
		scope:        core.NewExecutionScope(ctx),
		logger:       t.logger,
	}, nil
}

// Ping refreshes the cluster metadata
func (t *Translator) Ping(_ context.Context) error {
	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()
	if client == nil {
		return errors.New(errors.ErrorTypeConnection, "translator is not initialized")
	}
	return client.RefreshMetadata()
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
	client sarama.Client
}

func (c *connection) Close() error {
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
