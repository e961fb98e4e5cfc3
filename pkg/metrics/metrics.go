// Package metrics exposes prometheus metrics for the federate engine:
// worker pool statistics, atomic request latency and outcomes, rows
// returned per source and LOB streaming volume.
//
// # Basic Usage
//
//	timer := metrics.NewTimer("execute")
//	batch, err := work.Execute(ctx)
//	metrics.AtomicRequestDuration.WithLabelValues("orders", "execute", "success").
//	    Observe(timer.Stop().Seconds())
//
// Worker pools are exported through a single collector. Pools register a
// sampling function and are read on every scrape:
//
//	metrics.WorkManagers.Register("orders", func() metrics.PoolSample { ... })
//	defer metrics.WorkManagers.Unregister("orders")
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AtomicRequestDuration tracks execute/more latency of connector work in seconds.
	// Labels: source, operation (execute/more), status (success/not_available/failed)
	AtomicRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "federate_atomic_request_duration_seconds",
			Help:    "Latency of connector work operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"source", "operation", "status"},
	)

	// RowsReturned counts rows returned by each source
	RowsReturned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "federate_rows_returned_total",
			Help: "Total number of rows returned by sources",
		},
		[]string{"source"},
	)

	// NotAvailable counts data-not-yet-available signals per source
	NotAvailable = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "federate_data_not_available_total",
			Help: "Number of times a source signalled that data is not yet available",
		},
		[]string{"source"},
	)

	// ConnectorErrors counts failed atomic requests by error type
	ConnectorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "federate_connector_errors_total",
			Help: "Number of failed atomic requests",
		},
		[]string{"source", "error_type"},
	)

	// LobChunksServed counts LOB chunks handed out by the stream registry
	LobChunksServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "federate_lob_chunks_served_total",
			Help: "Number of LOB chunks served",
		},
	)

	// LobBytesServed counts LOB payload bytes handed out by the stream registry
	LobBytesServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "federate_lob_bytes_served_total",
			Help: "Number of LOB bytes served before compression",
		},
	)

	// OpenLobStreams tracks registered LOB streams not yet exhausted or closed
	OpenLobStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "federate_lob_streams_open",
			Help: "Number of open LOB streams",
		},
	)

	// TransactionOperations counts calls forwarded to the transaction manager.
	// Labels: operation (begin/commit/prepare/...), status (success/failed)
	TransactionOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "federate_transaction_operations_total",
			Help: "Number of transaction operations forwarded to the transaction manager",
		},
		[]string{"operation", "status"},
	)

	// WorkManagers exports the statistics of every registered worker pool
	WorkManagers = newPoolCollector()
)

func init() {
	prometheus.MustRegister(WorkManagers)
}

// PoolSample is a point-in-time reading of a worker pool.
type PoolSample struct {
	Active           int
	HighestActive    int
	Queued           int
	HighestQueued    int
	Submitted        int64
	Completed        int64
	MaximumPoolSize  int
	ScheduledPending int
}

// PoolCollector is a prometheus.Collector over registered worker pools.
type PoolCollector struct {
	mu      sync.RWMutex
	samples map[string]func() PoolSample

	active        *prometheus.Desc
	highestActive *prometheus.Desc
	queued        *prometheus.Desc
	highestQueued *prometheus.Desc
	submitted     *prometheus.Desc
	completed     *prometheus.Desc
	maxSize       *prometheus.Desc
	scheduled     *prometheus.Desc
}

func newPoolCollector() *PoolCollector {
	labels := []string{"pool"}
	return &PoolCollector{
		samples:       make(map[string]func() PoolSample),
		active:        prometheus.NewDesc("federate_workmanager_active", "Work items currently running", labels, nil),
		highestActive: prometheus.NewDesc("federate_workmanager_active_highest", "Highest number of work items running at once", labels, nil),
		queued:        prometheus.NewDesc("federate_workmanager_queued", "Work items waiting for a slot", labels, nil),
		highestQueued: prometheus.NewDesc("federate_workmanager_queued_highest", "Highest queue length observed", labels, nil),
		submitted:     prometheus.NewDesc("federate_workmanager_submitted_total", "Work items accepted by the pool", labels, nil),
		completed:     prometheus.NewDesc("federate_workmanager_completed_total", "Work items that finished", labels, nil),
		maxSize:       prometheus.NewDesc("federate_workmanager_max_size", "Configured maximum pool size", labels, nil),
		scheduled:     prometheus.NewDesc("federate_workmanager_scheduled_pending", "Delayed work items waiting on a timer", labels, nil),
	}
}

// Register adds or replaces the sampling function of pool name
func (c *PoolCollector) Register(name string, sample func() PoolSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples[name] = sample
}

// Unregister removes pool name
func (c *PoolCollector) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.samples, name)
}

// Pools returns the registered pool names in sorted order
func (c *PoolCollector) Pools() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.samples))
	for name := range c.samples {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe implements prometheus.Collector
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.active
	ch <- c.highestActive
	ch <- c.queued
	ch <- c.highestQueued
	ch <- c.submitted
	ch <- c.completed
	ch <- c.maxSize
	ch <- c.scheduled
}

// Collect implements prometheus.Collector
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for name, sample := range c.samples {
		s := sample()
		ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(s.Active), name)
		ch <- prometheus.MustNewConstMetric(c.highestActive, prometheus.GaugeValue, float64(s.HighestActive), name)
		ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(s.Queued), name)
		ch <- prometheus.MustNewConstMetric(c.highestQueued, prometheus.GaugeValue, float64(s.HighestQueued), name)
		ch <- prometheus.MustNewConstMetric(c.submitted, prometheus.CounterValue, float64(s.Submitted), name)
		ch <- prometheus.MustNewConstMetric(c.completed, prometheus.CounterValue, float64(s.Completed), name)
		ch <- prometheus.MustNewConstMetric(c.maxSize, prometheus.GaugeValue, float64(s.MaximumPoolSize), name)
		ch <- prometheus.MustNewConstMetric(c.scheduled, prometheus.GaugeValue, float64(s.ScheduledPending), name)
	}
}

// Timer provides a simple timing mechanism for measuring operation durations.
// It captures the start time on creation and calculates elapsed time on stop.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the operation name the timer was created for
func (t *Timer) Name() string {
	return t.name
}

// Stop returns the elapsed duration since creation. It can be called
// multiple times.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
