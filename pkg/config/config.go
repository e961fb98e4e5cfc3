// Package config provides the configuration model for a federate engine.
// An EngineConfig describes the worker pools, connector behaviour, LOB
// streaming, result assembly, observability and the set of physical sources
// the engine federates.
//
// The configuration is organized into logical sections:
//   - WorkManager: pool sizing, delegate slots and start timeouts
//   - Connector: fetch size, polling and health checking
//   - Lob: chunk size and payload compression for LOB streams
//   - Results: partial result policy
//   - Observability: metrics, tracing, logging
//   - Sources: one entry per physical source and its translator
//
// Example usage:
//
//	cfg := config.NewEngineConfig("sales-vdb")
//	cfg.WorkManager.MaxThreads = 32
//	cfg.Sources = append(cfg.Sources, config.SourceConfig{
//	    Name:       "orders",
//	    Translator: "postgres",
//	    Properties: map[string]string{"dsn": "postgres://..."},
//	})
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"runtime"
	"strconv"
	"time"
)

// EngineConfig is the root configuration of a federate engine.
type EngineConfig struct {
	// Name identifies the virtual database served by the engine
	Name string `yaml:"name" json:"name"`
	// Version indicates the configuration version
	Version string `yaml:"version" json:"version"`

	// WorkManager settings size the per-source worker pools
	WorkManager WorkManagerConfig `yaml:"work_manager" json:"work_manager"`

	// Connector settings shared by every source unless overridden
	Connector ConnectorConfig `yaml:"connector" json:"connector"`

	// Lob settings for chunked LOB streaming
	Lob LobConfig `yaml:"lob" json:"lob"`

	// Results settings for result assembly
	Results ResultsConfig `yaml:"results" json:"results"`

	// Observability settings for monitoring and debugging
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`

	// Sources lists the physical sources of the virtual database
	Sources []SourceConfig `yaml:"sources" json:"sources"`
}

// WorkManagerConfig sizes the two-level worker pool of each source.
type WorkManagerConfig struct {
	// MaxThreads is the maximum number of concurrently running work items per pool
	MaxThreads int `yaml:"max_threads" json:"max_threads"`
	// DelegateThreads is the number of delegate slots backing each pool
	DelegateThreads int `yaml:"delegate_threads" json:"delegate_threads"`
	// StartTimeout bounds how long a dispatch waits for a delegate slot (0 = fail fast)
	StartTimeout time.Duration `yaml:"start_timeout" json:"start_timeout"`
	// ShutdownTimeout bounds how long Stop waits for running work
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// ConnectorConfig contains connector work settings.
type ConnectorConfig struct {
	// FetchSize is the number of rows per batch
	FetchSize int `yaml:"fetch_size" json:"fetch_size"`
	// PollInterval is the delay signalled by polling translators when no data is ready
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	// HealthCheckInterval sets how often translator connections are probed (0 = disabled)
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
	// HealthCheckTimeout bounds a single probe
	HealthCheckTimeout time.Duration `yaml:"health_check_timeout" json:"health_check_timeout"`
}

// LobConfig contains LOB streaming settings.
type LobConfig struct {
	// ChunkSize is the number of bytes per LOB chunk
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	// Compression selects the chunk payload codec (none, gzip, snappy, lz4, zstd, s2)
	Compression string `yaml:"compression" json:"compression"`
	// CompressionLevel selects speed versus ratio (fastest, default, better, best)
	CompressionLevel string `yaml:"compression_level" json:"compression_level"`
	// InlineThreshold keeps binary values at or below this size inline instead of streaming them
	InlineThreshold int `yaml:"inline_threshold" json:"inline_threshold"`
}

// ResultsConfig contains result assembly settings.
type ResultsConfig struct {
	// PartialResults returns the batches of healthy sources when another source fails
	PartialResults bool `yaml:"partial_results" json:"partial_results"`
}

// ObservabilityConfig contains monitoring and observability settings.
type ObservabilityConfig struct {
	// EnableMetrics activates prometheus metrics
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
	// MetricsAddr is the listen address of the metrics endpoint
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	// EnableTracing activates distributed tracing
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing"`
	// TracingSampleRate controls trace sampling (0.0-1.0)
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogFormat selects json or console output
	LogFormat string `yaml:"log_format" json:"log_format"`
}

// SourceConfig describes one physical source.
type SourceConfig struct {
	// Name is the source name atomic requests are routed by
	Name string `yaml:"name" json:"name"`
	// Translator is the registered translator type (postgres, mysql, mongodb, ...)
	Translator string `yaml:"translator" json:"translator"`
	// Instances is the number of connector manager instances for the source
	Instances int `yaml:"instances" json:"instances"`
	// XA marks the source as able to enlist in global transactions
	XA bool `yaml:"xa" json:"xa"`
	// MaxThreads overrides WorkManager.MaxThreads for this source
	MaxThreads int `yaml:"max_threads" json:"max_threads"`
	// FetchSize overrides Connector.FetchSize for this source
	FetchSize int `yaml:"fetch_size" json:"fetch_size"`
	// Properties are translator specific settings (dsn, bucket, topic, ...)
	Properties map[string]string `yaml:"properties" json:"properties"`
}

// NewEngineConfig creates an EngineConfig with sensible defaults.
func NewEngineConfig(name string) *EngineConfig {
	threads := runtime.NumCPU() * 2
	return &EngineConfig{
		Name:    name,
		Version: "1.0.0",
		WorkManager: WorkManagerConfig{
			MaxThreads:      threads,
			DelegateThreads: threads,
			StartTimeout:    0,
			ShutdownTimeout: 30 * time.Second,
		},
		Connector: ConnectorConfig{
			FetchSize:           1024,
			PollInterval:        500 * time.Millisecond,
			HealthCheckInterval: 30 * time.Second,
			HealthCheckTimeout:  5 * time.Second,
		},
		Lob: LobConfig{
			ChunkSize:        100 * 1024,
			Compression:      "none",
			CompressionLevel: "default",
			InlineThreshold:  0,
		},
		Results: ResultsConfig{
			PartialResults: false,
		},
		Observability: ObservabilityConfig{
			EnableMetrics:     true,
			MetricsAddr:       ":9090",
			EnableTracing:     false,
			TracingSampleRate: 0.1,
			LogLevel:          "info",
			LogFormat:         "json",
		},
	}
}

// Validate validates the configuration for correctness.
func (c *EngineConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.WorkManager.MaxThreads <= 0 {
		return fmt.Errorf("work_manager.max_threads must be positive")
	}
	if c.WorkManager.DelegateThreads > 0 && c.WorkManager.DelegateThreads < c.WorkManager.MaxThreads {
		return fmt.Errorf("work_manager.delegate_threads (%d) must not be smaller than max_threads (%d)",
			c.WorkManager.DelegateThreads, c.WorkManager.MaxThreads)
	}
	if c.WorkManager.StartTimeout < 0 {
		return fmt.Errorf("work_manager.start_timeout cannot be negative")
	}
	if c.Connector.FetchSize <= 0 {
		return fmt.Errorf("connector.fetch_size must be positive")
	}
	if c.Lob.ChunkSize <= 0 {
		return fmt.Errorf("lob.chunk_size must be positive")
	}
	if c.Observability.TracingSampleRate < 0 || c.Observability.TracingSampleRate > 1 {
		return fmt.Errorf("observability.tracing_sample_rate must be between 0 and 1")
	}

	seen := make(map[string]struct{}, len(c.Sources))
	for i := range c.Sources {
		src := &c.Sources[i]
		if err := src.Validate(); err != nil {
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
		if _, dup := seen[src.Name]; dup {
			return fmt.Errorf("sources[%d]: duplicate source name %q", i, src.Name)
		}
		seen[src.Name] = struct{}{}
	}
	return nil
}

// Validate validates a single source entry.
func (s *SourceConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Translator == "" {
		return fmt.Errorf("translator is required for source %q", s.Name)
	}
	if s.Instances < 0 {
		return fmt.Errorf("instances cannot be negative")
	}
	if s.MaxThreads < 0 {
		return fmt.Errorf("max_threads cannot be negative")
	}
	return nil
}

// Source returns the source named name.
func (c *EngineConfig) Source(name string) (*SourceConfig, bool) {
	for i := range c.Sources {
		if c.Sources[i].Name == name {
			return &c.Sources[i], true
		}
	}
	return nil, false
}

// GetDelegateThreads returns the delegate slot count, never below MaxThreads
func (w *WorkManagerConfig) GetDelegateThreads() int {
	if w.DelegateThreads < w.MaxThreads {
		return w.MaxThreads
	}
	return w.DelegateThreads
}

// GetInstances returns the number of manager instances, at least 1
func (s *SourceConfig) GetInstances() int {
	if s.Instances <= 0 {
		return 1
	}
	return s.Instances
}

// GetMaxThreads returns the source override or the engine default
func (s *SourceConfig) GetMaxThreads(def int) int {
	if s.MaxThreads > 0 {
		return s.MaxThreads
	}
	return def
}

// GetFetchSize returns the source override or the engine default
func (s *SourceConfig) GetFetchSize(def int) int {
	if s.FetchSize > 0 {
		return s.FetchSize
	}
	return def
}

// Property returns a translator property or def when it is unset
func (s *SourceConfig) Property(key, def string) string {
	if v, ok := s.Properties[key]; ok && v != "" {
		return v
	}
	return def
}

// IntProperty returns an integer translator property or def when unset or malformed
func (s *SourceConfig) IntProperty(key string, def int) int {
	v, ok := s.Properties[key]
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// DurationProperty returns a duration translator property or def when unset or malformed
func (s *SourceConfig) DurationProperty(key string, def time.Duration) time.Duration {
	v, ok := s.Properties[key]
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// RequireProperty returns a translator property or an error naming the missing key
func (s *SourceConfig) RequireProperty(key string) (string, error) {
	v := s.Property(key, "")
	if v == "" {
		return "", fmt.Errorf("source %q: property %q is required", s.Name, key)
	}
	return v, nil
}
