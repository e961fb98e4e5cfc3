// Package engine ties the federate core together. An Engine owns one
// connector manager per source instance, the shared delayed-work scheduler,
// the LOB stream registry and the transaction boundary. A request's atomic
// requests are routed to their sources, run concurrently and assembled into
// results, with failures isolated per source.
package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/federate/pkg/compression"
	"github.com/ajitpratap0/federate/pkg/config"
	"github.com/ajitpratap0/federate/pkg/connector/core"
	"github.com/ajitpratap0/federate/pkg/connector/manager"
	"github.com/ajitpratap0/federate/pkg/connector/registry"
	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/lob"
	"github.com/ajitpratap0/federate/pkg/logger"
	"github.com/ajitpratap0/federate/pkg/transaction"
	"github.com/ajitpratap0/federate/pkg/workmanager"
)

// Option configures an Engine
type Option func(*Engine)

// WithRegistry sets the translator registry, the global one by default
func WithRegistry(r *registry.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithScheduler sets the delayed-work scheduler shared by every pool. The
// engine does not close an injected scheduler.
func WithScheduler(s workmanager.Scheduler) Option {
	return func(e *Engine) { e.scheduler = s }
}

// WithTransactionManager sets the external transaction manager
func WithTransactionManager(m transaction.Manager) Option {
	return func(e *Engine) { e.txManager = m }
}

// WithTranslator serves source with t instead of a registry translator.
// Every instance of the source shares t.
func WithTranslator(source string, t core.Translator) Option {
	return func(e *Engine) { e.translators[source] = t }
}

// WithLogger sets the base logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine executes federated requests.
type Engine struct {
	cfg         *config.EngineConfig
	registry    *registry.Registry
	scheduler   workmanager.Scheduler
	owned       *workmanager.TimerScheduler
	txManager   transaction.Manager
	translators map[string]core.Translator
	logger      *zap.Logger

	repo    *manager.Repository
	streams *lob.StreamRegistry
	tx      *transaction.Service

	executions atomic.Int64
	mu         sync.Mutex
	stopped    bool
}

// New validates cfg and builds the connector managers of every source
func New(cfg *config.EngineConfig, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid engine configuration")
	}

	e := &Engine{
		cfg:         cfg,
		translators: make(map[string]core.Translator),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = registry.GetRegistry()
	}
	if e.logger == nil {
		e.logger = logger.Get()
	}
	e.logger = e.logger.With(zap.String("component", "engine"), zap.String("vdb", cfg.Name))
	if e.scheduler == nil {
		e.owned = workmanager.NewTimerScheduler()
		e.scheduler = e.owned
	}

	algorithm, err := compression.ParseAlgorithm(cfg.Lob.Compression)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid lob compression")
	}
	level, err := compression.ParseLevel(cfg.Lob.CompressionLevel)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid lob compression level")
	}
	codec, err := lob.NewCodec(algorithm, level)
	if err != nil {
		return nil, err
	}
	e.streams = lob.NewStreamRegistry(cfg.Lob.ChunkSize, codec)
	e.tx = transaction.NewService(e.txManager)

	e.repo = manager.NewRepository()
	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		mopts := manager.OptionsFromConfig(cfg, src, e.scheduler)
		for n := 0; n < src.GetInstances(); n++ {
			tr, ok := e.translators[src.Name]
			if !ok {
				tr, err = e.registry.Create(src)
				if err != nil {
					e.closeOwned()
					return nil, err
				}
			}
			e.repo.Add(manager.NewConnectorManager(src, n, tr, mopts))
		}
	}
	return e, nil
}

// Config returns the engine configuration
func (e *Engine) Config() *config.EngineConfig {
	return e.cfg
}

// Repository returns the connector managers
func (e *Engine) Repository() *manager.Repository {
	return e.repo
}

// Streams returns the LOB stream registry
func (e *Engine) Streams() *lob.StreamRegistry {
	return e.streams
}

// Transactions returns the transaction boundary
func (e *Engine) Transactions() *transaction.Service {
	return e.tx
}

// Start starts every connector manager. Sources that fail to start are
// reported in the returned error and stay unavailable; the others serve
// requests.
func (e *Engine) Start(ctx context.Context) error {
	err := e.repo.StartAll(ctx)
	e.logger.Info("engine started",
		zap.Strings("sources", e.repo.Sources()),
		zap.Bool("degraded", err != nil))
	return err
}

// Stop stops every connector manager and closes open LOB streams
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.mu.Unlock()

	err := e.repo.StopAll(ctx)
	if cerr := e.streams.CloseAll(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	e.closeOwned()
	e.logger.Info("engine stopped")
	return err
}

func (e *Engine) closeOwned() {
	if e.owned != nil {
		e.owned.Close()
	}
}

// RequestNextLobChunk returns the next encoded chunk of a LOB stream. It
// implements lob.ChunkRequester for clients across a session boundary.
func (e *Engine) RequestNextLobChunk(ctx context.Context, streamID string) (*lob.EncodedChunk, error) {
	return e.streams.RequestNextEncodedChunk(ctx, streamID)
}

// CloseLobChunkStream releases a LOB stream the client no longer reads
func (e *Engine) CloseLobChunkStream(ctx context.Context, streamID string) error {
	return e.streams.CloseStream(ctx, streamID)
}

// OpenLob returns a reader over a LOB stream pulled through the chunk
// protocol
func (e *Engine) OpenLob(ctx context.Context, streamID string) *lob.LobChunkInputStream {
	return lob.NewLobChunkInputStream(lob.NewRemoteProducer(ctx, e, streamID, e.streams.Codec()))
}
