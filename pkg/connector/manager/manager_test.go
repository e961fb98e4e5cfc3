package manager

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/federate/pkg/capabilities"
	"github.com/ajitpratap0/federate/pkg/config"
	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/message"
	"github.com/ajitpratap0/federate/pkg/metrics"
	"github.com/ajitpratap0/federate/pkg/testutil"
	"github.com/ajitpratap0/federate/pkg/workmanager"
)

func startManager(t *testing.T, name string, tr *testutil.FakeTranslator, opts Options) *ConnectorManager {
	t.Helper()
	cfg := &config.SourceConfig{Name: name, Translator: tr.Name()}
	m := NewConnectorManager(cfg, 0, tr, opts)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m
}

func TestConnectorManagerLifecycle(t *testing.T) {
	tr := testutil.NewFakeTranslator(rows(3)...)
	tr.Declaration = &capabilities.Declaration{RowLimit: true, Functions: []string{"UPPER"}}
	m := startManager(t, "lifecycle", tr, Options{MaxThreads: 2, FetchSize: 2})

	assert.Equal(t, StatusOK, m.Status())
	require.NotNil(t, m.Capabilities())
	assert.True(t, m.Capabilities().Supports(capabilities.RowLimit))
	assert.True(t, m.Capabilities().SupportsFunction("upper"))
	assert.Equal(t, "lifecycle", m.Capabilities().ConnectorID())
	assert.Contains(t, metrics.WorkManagers.Pools(), "lifecycle")

	item, err := m.NewWorkItem(newRequest("lifecycle"))
	require.NoError(t, err)

	ctx := context.Background()
	batch, err := item.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, batch.Rows, 2)
	assert.False(t, batch.IsFinal())

	batch, err = item.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, batch.Rows, 1)
	assert.Equal(t, 3, batch.FinalRow)
	item.Close()

	testutil.AssertEventually(t, func() bool { return m.Stats().CompletedCount == 2 }, time.Second, "both steps completed")
	assert.Equal(t, int64(2), m.Stats().SubmittedCount)

	require.NoError(t, m.Stop(ctx))
	assert.Equal(t, StatusStopped, m.Status())
	assert.True(t, tr.Closed())
	assert.NotContains(t, metrics.WorkManagers.Pools(), "lifecycle")

	_, err = m.NewWorkItem(newRequest("lifecycle"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}

func TestConnectorManagerInitFailed(t *testing.T) {
	tr := testutil.NewFakeTranslator()
	tr.InitErr = fmt.Errorf("bad dsn")
	m := NewConnectorManager(&config.SourceConfig{Name: "broken"}, 0, tr, Options{})

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusInitFailed, m.Status())
	assert.Nil(t, m.Capabilities())

	_, err = m.NewWorkItem(newRequest("broken"))
	assert.Error(t, err)
	assert.NoError(t, m.Stop(context.Background()))
}

func TestConnectorManagerNilDeclaration(t *testing.T) {
	tr := testutil.NewFakeTranslator()
	tr.Declaration = nil
	m := NewConnectorManager(&config.SourceConfig{Name: "nodecl"}, 0, tr, Options{})

	err := m.Start(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Equal(t, StatusInitFailed, m.Status())
}

func TestWorkItemDelayedRetry(t *testing.T) {
	tr := testutil.NewFakeTranslator(rows(1)...)
	tr.NotAvailable = 1
	tr.NotAvailableDelay = 50 * time.Millisecond
	scheduler := workmanager.NewTimerScheduler()
	defer scheduler.Close()
	m := startManager(t, "delayed", tr, Options{MaxThreads: 1, Scheduler: scheduler})

	item, err := m.NewWorkItem(newRequest("delayed"))
	require.NoError(t, err)
	defer item.Close()

	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	batch, err := item.Next(ctx)
	require.NoError(t, err)
	assert.True(t, batch.IsFinal())

	times := tr.ExecuteTimes()
	require.Len(t, times, 2)
	assert.GreaterOrEqual(t, times[1].Sub(times[0]), 50*time.Millisecond)

	testutil.AssertEventually(t, func() bool { return m.Stats().CompletedCount == 1 }, time.Second, "retried step completed")
	assert.Equal(t, int64(2), m.Stats().SubmittedCount)
	assert.Equal(t, int64(1), m.Stats().CompletedCount)
}

func TestWorkItemFailureDelivered(t *testing.T) {
	tr := testutil.NewFakeTranslator()
	tr.ExecuteErr = fmt.Errorf("relation does not exist")
	m := startManager(t, "failing", tr, Options{MaxThreads: 1})

	item, err := m.NewWorkItem(newRequest("failing"))
	require.NoError(t, err)
	require.NoError(t, item.Submit())

	out := <-item.Results()
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.True(t, errors.IsType(out.Err, errors.ErrorTypeTranslator))

	testutil.AssertEventually(t, func() bool { return m.Stats().CompletedCount == 1 }, time.Second, "failed work counts as completed")
}

func TestWorkItemSingleStepInFlight(t *testing.T) {
	tr := testutil.NewFakeTranslator(rows(1)...)
	tr.Block = make(chan struct{})
	tr.Started = make(chan struct{}, 1)
	m := startManager(t, "inflight", tr, Options{MaxThreads: 1})

	item, err := m.NewWorkItem(newRequest("inflight"))
	require.NoError(t, err)

	assert.True(t, errors.IsType(item.RequestMore(), errors.ErrorTypeProcessing))
	require.NoError(t, item.Submit())
	<-tr.Started
	assert.True(t, errors.IsType(item.Submit(), errors.ErrorTypeProcessing))

	close(tr.Block)
	out := <-item.Results()
	assert.Equal(t, OutcomeSuccess, out.Kind)
	assert.Len(t, out.Results.Rows, 1)
	item.Close()
}

func TestWorkItemCancelViaContext(t *testing.T) {
	tr := testutil.NewFakeTranslator(rows(1)...)
	tr.Block = make(chan struct{})
	tr.Started = make(chan struct{}, 1)
	m := startManager(t, "cancel", tr, Options{MaxThreads: 1})

	item, err := m.NewWorkItem(newRequest("cancel"))
	require.NoError(t, err)
	defer item.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-tr.Started
		cancel()
	}()

	_, err = item.Next(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCancelled))
}

func TestPoolSaturationThroughManager(t *testing.T) {
	tr := testutil.NewFakeTranslator(rows(1)...)
	tr.Block = make(chan struct{})
	tr.Started = make(chan struct{}, 3)
	m := startManager(t, "saturated", tr, Options{MaxThreads: 2})

	items := make([]*ConnectorWorkItem, 3)
	for i := range items {
		req := newRequest("saturated")
		req.ID.ExecCount = i
		item, err := m.NewWorkItem(req)
		require.NoError(t, err)
		require.NoError(t, item.Submit())
		items[i] = item
	}

	<-tr.Started
	<-tr.Started
	stats := m.Stats()
	assert.Equal(t, 2, stats.ActiveCount)
	assert.Equal(t, 1, stats.QueueSize)

	close(tr.Block)
	for _, item := range items {
		out := <-item.Results()
		assert.Equal(t, OutcomeSuccess, out.Kind)
		item.Close()
	}
	assert.Equal(t, 2, m.Stats().HighestActiveCount)
	assert.Equal(t, 1, m.Stats().HighestQueueSize)
}

func TestHealthChecker(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	hc := NewHealthChecker("orders", time.Hour, time.Second, func(ctx context.Context) error {
		if fail.Load() {
			return fmt.Errorf("unreachable")
		}
		return nil
	})
	var changes []bool
	hc.OnChange(func(healthy bool) { changes = append(changes, healthy) })

	ctx := context.Background()
	hc.Check(ctx)
	assert.Equal(t, HealthDegraded, hc.GetStatus().Status)
	hc.Check(ctx)
	hc.Check(ctx)
	assert.Equal(t, HealthUnhealthy, hc.GetStatus().Status)
	assert.False(t, hc.IsHealthy())

	fail.Store(false)
	hc.Check(ctx)
	assert.True(t, hc.IsHealthy())
	assert.Equal(t, int64(4), hc.CheckCount())
	assert.Equal(t, int64(3), hc.FailureCount())
	assert.Equal(t, []bool{false, true}, changes)
}

func TestManagerBecomesUnhealthy(t *testing.T) {
	tr := testutil.NewFakeTranslator()
	m := startManager(t, "probe", tr, Options{HealthCheckInterval: 10 * time.Millisecond, HealthCheckTimeout: time.Second})
	require.NotNil(t, m.Health())

	tr.SetPingErr(fmt.Errorf("down"))
	testutil.AssertEventually(t, func() bool { return m.Status() == StatusUnhealthy }, 2*time.Second, "manager unhealthy")

	tr.SetPingErr(nil)
	testutil.AssertEventually(t, func() bool { return m.Status() == StatusOK }, 2*time.Second, "manager recovered")
}

func TestRepositoryRouting(t *testing.T) {
	repo := NewRepository()
	cfg := &config.SourceConfig{Name: "sharded", Instances: 3}
	var managers []*ConnectorManager
	for i := 0; i < 3; i++ {
		m := NewConnectorManager(cfg, i, testutil.NewFakeTranslator(), Options{})
		repo.Add(m)
		managers = append(managers, m)
	}
	assert.Equal(t, "sharded#1", managers[1].Name())

	ctx := context.Background()
	require.NoError(t, repo.StartAll(ctx))
	defer func() { _ = repo.StopAll(ctx) }()

	req := newRequest("sharded")
	first, err := repo.Route(req)
	require.NoError(t, err)
	again, err := repo.Route(req)
	require.NoError(t, err)
	assert.Same(t, first, again)

	require.NoError(t, first.Stop(ctx))
	other, err := repo.Route(req)
	require.NoError(t, err)
	assert.NotSame(t, first, other)

	_, err = repo.Route(&message.AtomicRequestMessage{Source: "missing"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	caps, err := repo.Capabilities("sharded")
	require.NoError(t, err)
	assert.Equal(t, "sharded", caps.ConnectorID())
	assert.Equal(t, []string{"sharded"}, repo.Sources())
}
