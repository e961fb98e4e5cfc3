package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/federate/pkg/config"
	"github.com/ajitpratap0/federate/pkg/connector/core"
	"github.com/ajitpratap0/federate/pkg/connector/registry"
	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/lob"
	"github.com/ajitpratap0/federate/pkg/message"
	"github.com/ajitpratap0/federate/pkg/results"
	"github.com/ajitpratap0/federate/pkg/testutil"
	"github.com/ajitpratap0/federate/pkg/transaction"
)

var idName = []message.Symbol{{Name: "id", Type: message.TypeLong}, {Name: "name", Type: message.TypeString}}

func rows(n int) []message.Row {
	out := make([]message.Row, n)
	for i := range out {
		out[i] = message.Row{int64(i + 1), fmt.Sprintf("row-%d", i+1)}
	}
	return out
}

func testConfig(sources ...string) *config.EngineConfig {
	cfg := config.NewEngineConfig("test-vdb")
	cfg.WorkManager.MaxThreads = 2
	cfg.WorkManager.DelegateThreads = 2
	cfg.WorkManager.ShutdownTimeout = time.Second
	cfg.Connector.FetchSize = 2
	cfg.Connector.HealthCheckInterval = 0
	for _, s := range sources {
		cfg.Sources = append(cfg.Sources, config.SourceConfig{Name: s, Translator: "fake"})
	}
	return cfg
}

func startEngine(t *testing.T, cfg *config.EngineConfig, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithRegistry(registry.NewRegistry()), WithLogger(testutil.TestLogger(t))}, opts...)
	e, err := New(cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return e
}

func multiSource(e *Engine, sources ...string) *Request {
	req := e.Plan("s1", sources[0], "select id, name", idName)
	for i, s := range sources[1:] {
		req.Atomic = append(req.Atomic, &message.AtomicRequestMessage{
			ID:      message.AtomicRequestID{Request: req.ID, NodeID: i + 1},
			Source:  s,
			Command: &message.NativeCommand{Text: "select id, name", Symbols: idName},
		})
	}
	return req
}

func TestExecuteNumbersBatches(t *testing.T) {
	e := startEngine(t, testConfig("orders"), WithTranslator("orders", testutil.NewFakeTranslator(rows(5)...)))

	resp, err := e.Execute(context.Background(), e.Plan("s1", "orders", "select id, name from orders", idName))
	require.NoError(t, err)
	assert.Empty(t, resp.Failures)
	assert.Equal(t, []string{"orders"}, resp.Sources())

	msgs := resp.Results["orders"]
	require.Len(t, msgs, 3)
	assert.Equal(t, 1, msgs[0].FirstRow)
	assert.Equal(t, 3, msgs[1].FirstRow)
	assert.Equal(t, 5, msgs[2].LastRow)
	assert.Equal(t, 5, msgs[2].FinalRow)
	assert.Equal(t, rows(5), resp.Rows("orders"))
}

func TestExecuteIsolatesFailures(t *testing.T) {
	broken := testutil.NewFakeTranslator()
	broken.ExecuteErr = fmt.Errorf("relation does not exist")
	opts := []Option{
		WithTranslator("orders", testutil.NewFakeTranslator(rows(3)...)),
		WithTranslator("events", broken),
	}

	e := startEngine(t, testConfig("orders", "events"), opts...)
	resp, err := e.Execute(context.Background(), multiSource(e, "orders", "events"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relation does not exist")
	require.NotNil(t, resp)
	assert.Len(t, resp.Rows("orders"), 3, "healthy source still returns its rows")
	require.Contains(t, resp.Failures, "events")
	assert.True(t, errors.IsType(resp.Failures["events"], errors.ErrorTypeTranslator))
	assert.NotContains(t, resp.Results, "events")

	cfg := testConfig("orders", "events")
	cfg.Results.PartialResults = true
	broken = testutil.NewFakeTranslator()
	broken.ExecuteErr = fmt.Errorf("relation does not exist")
	partial := startEngine(t, cfg,
		WithTranslator("orders", testutil.NewFakeTranslator(rows(3)...)),
		WithTranslator("events", broken))
	resp, err = partial.Execute(context.Background(), multiSource(partial, "orders", "events"))
	require.NoError(t, err)
	assert.Len(t, resp.Rows("orders"), 3)
	assert.Contains(t, resp.Failures, "events")
}

func TestOpenUnknownSource(t *testing.T) {
	cfg := testConfig("orders")
	cfg.Results.PartialResults = true
	e := startEngine(t, cfg, WithTranslator("orders", testutil.NewFakeTranslator(rows(1)...)))

	q, err := e.Open(context.Background(), multiSource(e, "orders", "missing"))
	require.NoError(t, err)
	defer q.Close()
	require.Len(t, q.Cursors, 2)
	assert.NoError(t, q.Cursors[0].Err())
	assert.True(t, errors.IsType(q.Cursors[1].Err(), errors.ErrorTypeNotFound))

	ctx := context.Background()
	msg, err := q.Cursors[0].Next(ctx)
	require.NoError(t, err)
	assert.True(t, msg.IsFinal())
	_, err = q.Cursors[0].Next(ctx)
	assert.Equal(t, io.EOF, err)

	_, err = q.Cursors[1].Next(ctx)
	assert.Error(t, err)
	assert.Equal(t, "missing", q.Cursors[1].Source())
	assert.Len(t, q.Cursors[0].Metadata().Columns, 2)
}

func TestOpenRejectsEmptyRequest(t *testing.T) {
	e := startEngine(t, testConfig("orders"), WithTranslator("orders", testutil.NewFakeTranslator()))
	_, err := e.Open(context.Background(), &Request{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeProcessing))
}

func TestLobStreamedThroughEngine(t *testing.T) {
	payload := bytes.Repeat([]byte("federated lob payload "), 100)
	cfg := testConfig("docs")
	cfg.Lob.ChunkSize = 700
	cfg.Lob.Compression = "zstd"
	tr := testutil.NewFakeTranslator(message.Row{int64(1), lob.Bytes(payload)})
	e := startEngine(t, cfg, WithTranslator("docs", tr))

	symbols := []message.Symbol{{Name: "id", Type: message.TypeLong}, {Name: "content", Type: message.TypeBlob}}
	resp, err := e.Execute(context.Background(), e.Plan("s1", "docs", "select id, content", symbols))
	require.NoError(t, err)

	row := resp.Rows("docs")[0]
	ref, ok := row[1].(results.LobReference)
	require.True(t, ok)
	assert.Equal(t, 1, e.Streams().Len())

	in := e.OpenLob(context.Background(), ref.StreamID)
	got, err := in.ByteContents()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	require.NoError(t, in.Close())
	assert.Equal(t, 0, e.Streams().Len())

	_, err = e.RequestNextLobChunk(context.Background(), ref.StreamID)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestLobStreamClosedEarly(t *testing.T) {
	tr := testutil.NewFakeTranslator(message.Row{lob.Text("a long character value")})
	e := startEngine(t, testConfig("docs"), WithTranslator("docs", tr))

	resp, err := e.Execute(context.Background(),
		e.Plan("s1", "docs", "select note", []message.Symbol{{Name: "note", Type: message.TypeClob}}))
	require.NoError(t, err)
	ref := resp.Rows("docs")[0][0].(results.LobReference)

	require.NoError(t, e.CloseLobChunkStream(context.Background(), ref.StreamID))
	assert.Equal(t, 0, e.Streams().Len())
}

type txManager struct {
	transaction.Unsupported
}

func (txManager) Begin(context.Context, string) (string, error) { return "tx-42", nil }
func (txManager) Commit(context.Context, string) error           { return nil }

func TestRequestsJoinSessionTransaction(t *testing.T) {
	e := startEngine(t, testConfig("orders"),
		WithTranslator("orders", testutil.NewFakeTranslator(rows(1)...)),
		WithTransactionManager(txManager{}))
	ctx := context.Background()

	_, err := e.Transactions().Begin(ctx, "s1")
	require.NoError(t, err)

	req := e.Plan("s1", "orders", "update orders set x = 1", idName)
	_, err = e.Execute(ctx, req)
	require.NoError(t, err)
	assert.True(t, req.Atomic[0].InTransaction())
	assert.Equal(t, []message.AtomicRequestID{req.Atomic[0].ID}, e.Transactions().Requests("tx-42"))

	require.NoError(t, e.Transactions().Commit(ctx, "s1"))
	assert.Empty(t, e.Transactions().Requests("tx-42"))
}

func TestNewBuildsTranslatorsFromRegistry(t *testing.T) {
	reg := registry.NewRegistry()
	var created []string
	require.NoError(t, reg.Register(registry.TranslatorInfo{Name: "fake"}, func(src *config.SourceConfig) (core.Translator, error) {
		created = append(created, src.Name)
		return testutil.NewFakeTranslator(rows(2)...), nil
	}))

	cfg := testConfig("orders")
	cfg.Sources[0].Instances = 2
	e, err := New(cfg, WithRegistry(reg), WithLogger(testutil.TestLogger(t)))
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "orders"}, created)
	assert.Len(t, e.Repository().Managers("orders"), 2)
	require.NoError(t, e.Start(context.Background()))

	resp, err := e.Execute(context.Background(), e.Plan("s1", "orders", "select", idName))
	require.NoError(t, err)
	assert.Len(t, resp.Rows("orders"), 2)

	require.NoError(t, e.Stop(context.Background()))
	require.NoError(t, e.Stop(context.Background()))
	_, err = e.Open(context.Background(), e.Plan("s1", "orders", "select", idName))
	assert.True(t, errors.IsType(err, errors.ErrorTypeRejected))
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(testConfig("orders"), WithRegistry(registry.NewRegistry()))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "translator not registered")

	cfg := testConfig()
	cfg.Lob.Compression = "brotli"
	_, err = New(cfg, WithRegistry(registry.NewRegistry()))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	cfg = testConfig()
	cfg.Name = ""
	_, err = New(cfg)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestPlanAndParseSymbols(t *testing.T) {
	e := startEngine(t, testConfig())
	first := e.Plan("s1", "orders", "select 1", nil)
	second := e.Plan("s1", "orders", "select 1", nil)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.ID, first.Atomic[0].ID.Request)

	symbols, err := ParseSymbols("id:long, name, payload:BLOB")
	require.NoError(t, err)
	assert.Equal(t, []message.Symbol{
		{Name: "id", Type: message.TypeLong},
		{Name: "name", Type: message.TypeString},
		{Name: "payload", Type: message.TypeBlob},
	}, symbols)

	_, err = ParseSymbols("id:uuid")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	_, err = ParseSymbols(":long")
	assert.Error(t, err)
	symbols, err = ParseSymbols("")
	assert.NoError(t, err)
	assert.Nil(t, symbols)
}
