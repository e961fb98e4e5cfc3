// Package manager runs atomic requests against physical sources.
//
// A ConnectorManager owns one translator instance together with its converted
// capabilities and its own worker pool. Each atomic request becomes a
// ConnectorWork, the execute/more/close/cancel state machine, wrapped in a
// ConnectorWorkItem that the pool runs. A Repository holds the managers of
// every source and routes requests onto them.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/federate/pkg/capabilities"
	"github.com/ajitpratap0/federate/pkg/config"
	"github.com/ajitpratap0/federate/pkg/connector/core"
	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/logger"
	"github.com/ajitpratap0/federate/pkg/message"
	"github.com/ajitpratap0/federate/pkg/metrics"
	"github.com/ajitpratap0/federate/pkg/observability"
	"github.com/ajitpratap0/federate/pkg/workmanager"
)

// Status is the lifecycle state of a ConnectorManager
type Status int

const (
	// StatusInit means Start has not completed
	StatusInit Status = iota
	// StatusOK means the manager accepts work
	StatusOK
	// StatusInitFailed means the translator could not be initialized
	StatusInitFailed
	// StatusUnhealthy means health checks are failing; work is still accepted
	StatusUnhealthy
	// StatusStopped means the manager was stopped
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusInit:
		return "init"
	case StatusOK:
		return "ok"
	case StatusInitFailed:
		return "init_failed"
	case StatusUnhealthy:
		return "unhealthy"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Options configures a ConnectorManager
type Options struct {
	// MaxThreads is the pool's maximum number of running requests
	MaxThreads int
	// DelegateThreads is the number of delegate goroutine slots
	DelegateThreads int
	StartTimeout    time.Duration
	ShutdownTimeout time.Duration
	// FetchSize applies to requests without their own fetch size
	FetchSize           int
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration
	// Scheduler runs delayed resubmissions; shared across managers
	Scheduler workmanager.Scheduler
}

// OptionsFromConfig derives manager options for src from the engine config
func OptionsFromConfig(cfg *config.EngineConfig, src *config.SourceConfig, scheduler workmanager.Scheduler) Options {
	maxThreads := src.GetMaxThreads(cfg.WorkManager.MaxThreads)
	delegate := cfg.WorkManager.GetDelegateThreads()
	if delegate < maxThreads {
		delegate = maxThreads
	}
	return Options{
		MaxThreads:          maxThreads,
		DelegateThreads:     delegate,
		StartTimeout:        cfg.WorkManager.StartTimeout,
		ShutdownTimeout:     cfg.WorkManager.ShutdownTimeout,
		FetchSize:           src.GetFetchSize(cfg.Connector.FetchSize),
		HealthCheckInterval: cfg.Connector.HealthCheckInterval,
		HealthCheckTimeout:  cfg.Connector.HealthCheckTimeout,
		Scheduler:           scheduler,
	}
}

// ConnectorManager executes atomic requests for one source instance.
type ConnectorManager struct {
	name       string
	cfg        *config.SourceConfig
	translator core.Translator
	opts       Options
	tracer     *observability.SourceTracer
	logger     *zap.Logger

	mu       sync.RWMutex
	status   Status
	caps     *capabilities.SourceCapabilities
	pool     *workmanager.StatsCapturingWorkManager
	delegate *workmanager.BoundedDelegate
	health   *HealthChecker
}

// NewConnectorManager creates the manager for instance n of source cfg
func NewConnectorManager(cfg *config.SourceConfig, instance int, translator core.Translator, opts Options) *ConnectorManager {
	name := cfg.Name
	if cfg.GetInstances() > 1 {
		name = fmt.Sprintf("%s#%d", cfg.Name, instance)
	}
	if opts.MaxThreads <= 0 {
		opts.MaxThreads = 1
	}
	if opts.DelegateThreads < opts.MaxThreads {
		opts.DelegateThreads = opts.MaxThreads
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	return &ConnectorManager{
		name:       name,
		cfg:        cfg,
		translator: translator,
		opts:       opts,
		tracer:     observability.NewSourceTracer(cfg.Name, translator.Name()),
		logger: logger.Get().With(
			zap.String("component", "connector_manager"),
			zap.String("source", cfg.Name),
			zap.String("pool", name),
			zap.String("translator", translator.Name())),
	}
}

// Name returns the instance name, also used as the pool name
func (m *ConnectorManager) Name() string {
	return m.name
}

// Source returns the source name
func (m *ConnectorManager) Source() string {
	return m.cfg.Name
}

// Translator returns the translator served by this manager
func (m *ConnectorManager) Translator() core.Translator {
	return m.translator
}

// Start initializes the translator, converts its capabilities and starts
// the pool
func (m *ConnectorManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != StatusInit {
		return errors.New(errors.ErrorTypeInternal, "connector manager already started").
			WithDetail("source", m.cfg.Name)
	}

	err := m.tracer.Trace(ctx, "initialize", nil, func(ctx context.Context) error {
		return m.translator.Initialize(ctx, m.cfg)
	})
	if err != nil {
		m.status = StatusInitFailed
		m.logger.Error("translator initialization failed", zap.Error(err))
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to initialize translator").
			WithDetail("source", m.cfg.Name)
	}

	caps, err := capabilities.ConvertChecked(m.translator.Capabilities(), m.cfg.Name, m.cfg.XA)
	if err != nil {
		m.status = StatusInitFailed
		return err
	}
	m.caps = caps

	m.delegate = workmanager.NewBoundedDelegate(m.opts.DelegateThreads)
	m.pool = workmanager.New(m.name, m.opts.MaxThreads, m.delegate, m.opts.Scheduler, m.logger)
	pool := m.pool
	metrics.WorkManagers.Register(m.name, func() metrics.PoolSample {
		s := pool.Stats()
		return metrics.PoolSample{
			Active:           s.ActiveCount,
			HighestActive:    s.HighestActiveCount,
			Queued:           s.QueueSize,
			HighestQueued:    s.HighestQueueSize,
			Submitted:        s.SubmittedCount,
			Completed:        s.CompletedCount,
			MaximumPoolSize:  s.MaximumPoolSize,
			ScheduledPending: s.ScheduledCount,
		}
	})

	if pinger, ok := m.translator.(core.Pinger); ok && m.opts.HealthCheckInterval > 0 {
		m.health = NewHealthChecker(m.cfg.Name, m.opts.HealthCheckInterval, m.opts.HealthCheckTimeout, pinger.Ping)
		m.health.OnChange(m.healthChanged)
		m.health.Start(context.Background())
	}

	m.status = StatusOK
	m.logger.Info("connector manager started",
		zap.Int("max_threads", m.opts.MaxThreads),
		zap.Int("delegate_threads", m.opts.DelegateThreads),
		zap.Int("capabilities", len(caps.Supported())),
		zap.Bool("xa", caps.SupportsXA()))
	return nil
}

func (m *ConnectorManager) healthChanged(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case healthy && m.status == StatusUnhealthy:
		m.status = StatusOK
		m.logger.Info("source healthy again")
	case !healthy && m.status == StatusOK:
		m.status = StatusUnhealthy
		m.logger.Warn("source unhealthy")
	}
}

// Status returns the lifecycle state
func (m *ConnectorManager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Capabilities returns the converted capabilities, nil before Start
func (m *ConnectorManager) Capabilities() *capabilities.SourceCapabilities {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.caps
}

// Stats returns the pool statistics
func (m *ConnectorManager) Stats() workmanager.Stats {
	m.mu.RLock()
	pool := m.pool
	m.mu.RUnlock()
	if pool == nil {
		return workmanager.Stats{Name: m.name, MaximumPoolSize: m.opts.MaxThreads}
	}
	return pool.Stats()
}

// Health returns the last health status, nil when the translator is not
// probed
func (m *ConnectorManager) Health() *core.HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.health == nil {
		return nil
	}
	return m.health.GetStatus()
}

// NewWorkItem wraps req for execution on this manager's pool
func (m *ConnectorManager) NewWorkItem(req *message.AtomicRequestMessage) (*ConnectorWorkItem, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	status, caps, pool := m.status, m.caps, m.pool
	m.mu.RUnlock()

	if status != StatusOK && status != StatusUnhealthy {
		return nil, errors.New(errors.ErrorTypeConnection, "source is not available").
			WithDetail("source", m.cfg.Name).
			WithDetail("status", status.String())
	}

	log := m.logger.With(zap.String("atomic_request_id", req.ID.String()))
	work := NewConnectorWork(req, m.translator, caps, m.opts.FetchSize, m.tracer, log)
	wc := workmanager.WorkContext{
		RequestID:    req.ID.String(),
		Source:       req.Source,
		StartTimeout: m.opts.StartTimeout,
	}
	if req.TransactionContext != nil {
		wc.TransactionID = req.TransactionContext.TransactionID
	}
	return NewConnectorWorkItem(work, pool, wc, log), nil
}

// Stop shuts the pool down, waiting up to the shutdown timeout for running
// work before interrupting it, and closes the translator.
func (m *ConnectorManager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusStopped {
		m.mu.Unlock()
		return nil
	}
	started := m.pool != nil
	m.status = StatusStopped
	pool, delegate, health := m.pool, m.delegate, m.health
	m.mu.Unlock()

	if health != nil {
		health.Stop()
	}

	if started {
		pool.Shutdown()
		if !pool.AwaitTermination(m.opts.ShutdownTimeout) {
			discarded := pool.ShutdownNow()
			m.logger.Warn("pool did not drain in time, interrupted", zap.Int("discarded", len(discarded)))
			rejected := errors.Wrap(workmanager.ErrRejected, errors.ErrorTypeRejected, "connector manager stopped").
				WithDetail("source", m.cfg.Name)
			for _, w := range discarded {
				if h, ok := w.(workmanager.RejectionHandler); ok {
					h.WorkRejected(rejected)
				}
			}
		}
		delegate.Wait()
		metrics.WorkManagers.Unregister(m.name)
	}

	if err := m.translator.Close(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTranslator, "failed to close translator").
			WithDetail("source", m.cfg.Name)
	}
	m.logger.Info("connector manager stopped", zap.String("stats", m.Stats().String()))
	return nil
}
