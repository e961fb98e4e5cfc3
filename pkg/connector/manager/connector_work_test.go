package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/federate/pkg/capabilities"
	"github.com/ajitpratap0/federate/pkg/connector/core"
	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/message"
	"github.com/ajitpratap0/federate/pkg/testutil"
)

func rows(n int) []message.Row {
	out := make([]message.Row, n)
	for i := range out {
		out[i] = message.Row{int64(i + 1), "name"}
	}
	return out
}

func newRequest(source string) *message.AtomicRequestMessage {
	return &message.AtomicRequestMessage{
		ID: message.AtomicRequestID{
			Request: message.RequestID{SessionID: "s1", ExecutionID: 1},
			NodeID:  1,
		},
		Source: source,
		Command: &message.NativeCommand{
			Text: "select id, name from t",
			Symbols: []message.Symbol{
				{Name: "id", Type: message.TypeLong},
				{Name: "name", Type: message.TypeString},
			},
		},
	}
}

func newWork(t *testing.T, tr *testutil.FakeTranslator, req *message.AtomicRequestMessage, fetchSize int) *ConnectorWork {
	caps := capabilities.Convert(tr.Declaration, req.Source, false)
	return NewConnectorWork(req, tr, caps, fetchSize, nil, testutil.TestLogger(t))
}

type requirerCommand struct {
	message.NativeCommand
	req capabilities.Requirements
}

func (c *requirerCommand) Requirements() capabilities.Requirements {
	return c.req
}

func TestConnectorWorkBatches(t *testing.T) {
	tr := testutil.NewFakeTranslator(rows(5)...)
	w := newWork(t, tr, newRequest("orders"), 2)
	ctx := context.Background()

	batch, err := w.Execute(ctx)
	require.NoError(t, err)
	assert.Len(t, batch.Rows, 2)
	assert.False(t, batch.IsFinal())
	assert.Equal(t, message.FinalRowUnknown, batch.FinalRow)

	batch, err = w.More(ctx)
	require.NoError(t, err)
	assert.Len(t, batch.Rows, 2)
	assert.False(t, batch.IsFinal())

	batch, err = w.More(ctx)
	require.NoError(t, err)
	assert.Len(t, batch.Rows, 1)
	assert.True(t, batch.IsFinal())
	assert.Equal(t, 5, batch.FinalRow)
	assert.True(t, w.Final())

	w.Close()
	assert.Equal(t, 1, tr.ConnectionsClosed())
	assert.Equal(t, 1, tr.ExecutionsClosed())
}

func TestConnectorWorkRequestFetchSizeWins(t *testing.T) {
	tr := testutil.NewFakeTranslator(rows(3)...)
	req := newRequest("orders")
	req.FetchSize = 10
	w := newWork(t, tr, req, 1)

	batch, err := w.Execute(context.Background())
	require.NoError(t, err)
	assert.Len(t, batch.Rows, 3)
	assert.Equal(t, 3, batch.FinalRow)
}

func TestConnectorWorkCallOrderFaults(t *testing.T) {
	tr := testutil.NewFakeTranslator(rows(1)...)
	w := newWork(t, tr, newRequest("orders"), 10)
	ctx := context.Background()

	_, err := w.More(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeProcessing))

	batch, err := w.Execute(ctx)
	require.NoError(t, err)
	require.True(t, batch.IsFinal())

	_, err = w.Execute(ctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeProcessing))

	_, err = w.More(ctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeProcessing))

	w.Close()
	_, err = w.More(ctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeProcessing))
}

func TestConnectorWorkNotAvailable(t *testing.T) {
	tr := testutil.NewFakeTranslator(rows(2)...)
	tr.NotAvailable = 1
	tr.NotAvailableDelay = 75 * time.Millisecond
	w := newWork(t, tr, newRequest("events"), 10)
	ctx := context.Background()

	_, err := w.Execute(ctx)
	var dna *core.DataNotAvailableError
	require.True(t, errors.As(err, &dna))
	assert.Equal(t, 75*time.Millisecond, dna.Delay)
	assert.False(t, w.Executed())

	batch, err := w.Execute(ctx)
	require.NoError(t, err)
	assert.Len(t, batch.Rows, 2)
	assert.Equal(t, 1, tr.Connects(), "retry reuses the execution")
}

func TestConnectorWorkPartialBatchOnNotAvailable(t *testing.T) {
	tr := testutil.NewFakeTranslator(rows(4)...)
	tr.NextErr = core.NotAvailable(10 * time.Millisecond)
	tr.RowsBeforeErr = 2
	w := newWork(t, tr, newRequest("events"), 10)

	batch, err := w.Execute(context.Background())
	require.NoError(t, err)
	assert.Len(t, batch.Rows, 2)
	assert.False(t, batch.IsFinal())

	_, err = w.More(context.Background())
	var dna *core.DataNotAvailableError
	assert.True(t, errors.As(err, &dna))
}

func TestConnectorWorkTranslatorError(t *testing.T) {
	tr := testutil.NewFakeTranslator()
	tr.ExecuteErr = errors.New(errors.ErrorTypeConnection, "socket closed")
	w := newWork(t, tr, newRequest("orders"), 10)

	_, err := w.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTranslator))
	assert.Contains(t, err.Error(), "socket closed")
}

func TestConnectorWorkRowWidthMismatch(t *testing.T) {
	tr := testutil.NewFakeTranslator(message.Row{1})
	w := newWork(t, tr, newRequest("orders"), 10)

	_, err := w.Execute(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeTranslator))
}

func TestConnectorWorkCancelDuringExecute(t *testing.T) {
	tr := testutil.NewFakeTranslator(rows(1)...)
	tr.Block = make(chan struct{})
	tr.Started = make(chan struct{}, 1)
	w := newWork(t, tr, newRequest("orders"), 10)

	errCh := make(chan error, 1)
	go func() {
		_, err := w.Execute(context.Background())
		errCh <- err
	}()

	<-tr.Started
	w.Cancel()
	w.Cancel()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeCancelled))
	case <-time.After(2 * time.Second):
		t.Fatal("execute did not return after cancel")
	}
	assert.Equal(t, 1, tr.Cancels())

	_, err := w.Execute(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeCancelled))
	w.Close()
	w.Close()
	assert.Equal(t, 1, tr.ConnectionsClosed())
}

func TestConnectorWorkCloseDuringExecute(t *testing.T) {
	tr := testutil.NewFakeTranslator(rows(3)...)
	tr.Block = make(chan struct{})
	tr.Started = make(chan struct{}, 1)
	tr.IgnoreCancel = true
	w := newWork(t, tr, newRequest("orders"), 10)

	type result struct {
		batch *message.AtomicResultsMessage
		err   error
	}
	done := make(chan result, 1)
	go func() {
		batch, err := w.Execute(context.Background())
		done <- result{batch, err}
	}()

	<-tr.Started
	w.Close()
	assert.Equal(t, 1, tr.Cancels())
	assert.Equal(t, 0, tr.ExecutionsClosed(), "execution stays open while the call runs")

	close(tr.Block)
	select {
	case r := <-done:
		require.Error(t, r.err)
		assert.Nil(t, r.batch)
		assert.True(t, errors.IsType(r.err, errors.ErrorTypeProcessing))
	case <-time.After(2 * time.Second):
		t.Fatal("execute did not return after close")
	}
	assert.False(t, w.Final())
	assert.Equal(t, 1, tr.ExecutionsClosed())
	assert.Equal(t, 1, tr.ConnectionsClosed())

	w.Close()
	assert.Equal(t, 1, tr.ExecutionsClosed())
}

func TestConnectorWorkFinalOnExactMultiple(t *testing.T) {
	tr := testutil.NewFakeTranslator(rows(4)...)
	w := newWork(t, tr, newRequest("orders"), 2)
	ctx := context.Background()

	batch, err := w.Execute(ctx)
	require.NoError(t, err)
	assert.Len(t, batch.Rows, 2)
	assert.False(t, batch.IsFinal())

	batch, err = w.More(ctx)
	require.NoError(t, err)
	assert.Len(t, batch.Rows, 2)
	assert.True(t, batch.IsFinal())
	assert.Equal(t, 4, batch.FinalRow)
	assert.Equal(t, int64(4), batch.Rows[1][0])

	_, err = w.More(ctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeProcessing))
}

func TestConnectorWorkRequirements(t *testing.T) {
	tr := testutil.NewFakeTranslator(rows(1)...)
	tr.Declaration = &capabilities.Declaration{WhereLike: true}
	req := newRequest("orders")
	req.Command = &requirerCommand{
		NativeCommand: *req.Command.(*message.NativeCommand),
		req: capabilities.Requirements{
			Capabilities: []capabilities.Capability{capabilities.WhereLike, capabilities.FromJoinOuterFull},
		},
	}
	w := newWork(t, tr, req, 10)

	_, err := w.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCapability))
	assert.Equal(t, 0, tr.Connects())
}

func TestConnectorWorkGlobalTransactionNeedsXA(t *testing.T) {
	tr := testutil.NewFakeTranslator(rows(1)...)
	req := newRequest("orders")
	req.TransactionContext = &message.TransactionContext{TransactionID: "tx1", Kind: message.TransactionGlobal}
	w := newWork(t, tr, req, 10)

	_, err := w.Execute(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransaction))

	caps := capabilities.Convert(tr.Declaration, "orders", true)
	w = NewConnectorWork(req, tr, caps, 10, nil, testutil.TestLogger(t))
	_, err = w.Execute(context.Background())
	assert.NoError(t, err)
}

func TestConnectorWorkProcedureOutputParameters(t *testing.T) {
	tr := testutil.NewFakeTranslator(rows(3)...)
	tr.OutputParameters = []interface{}{int64(42)}
	w := newWork(t, tr, newRequest("orders"), 2)
	ctx := context.Background()

	batch, err := w.Execute(ctx)
	require.NoError(t, err)
	assert.Nil(t, batch.OutputParameters)

	batch, err = w.More(ctx)
	require.NoError(t, err)
	assert.True(t, batch.IsFinal())
	assert.Equal(t, []interface{}{int64(42)}, batch.OutputParameters)
}
