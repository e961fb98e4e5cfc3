package manager

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/federate/pkg/capabilities"
	"github.com/ajitpratap0/federate/pkg/connector/core"
	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/logger"
	"github.com/ajitpratap0/federate/pkg/message"
	"github.com/ajitpratap0/federate/pkg/metrics"
	"github.com/ajitpratap0/federate/pkg/observability"
)

// ConnectorWork executes one atomic request against one source connection.
//
// Execute returns the first batch; More returns each following batch until
// one is final. A *core.DataNotAvailableError from either call is not a
// failure: the same call must be repeated after the signalled delay. Close
// and Cancel may be called at any time and more than once. A Close during
// an in-flight call interrupts it; the execution is released when the call
// returns.
type ConnectorWork struct {
	request    *message.AtomicRequestMessage
	translator core.Translator
	caps       *capabilities.SourceCapabilities
	fetchSize  int
	tracer     *observability.SourceTracer
	logger     *zap.Logger

	mu        sync.Mutex
	conn      core.Connection
	execution core.Execution
	started   bool
	executed  bool
	final     bool
	closed    bool
	cancelled bool
	inflight  context.CancelFunc
	rowCount  int
	// pending is the row read ahead of the last full batch
	pending message.Row
}

// NewConnectorWork creates the work for req. fetchSize applies when the
// request does not carry its own.
func NewConnectorWork(req *message.AtomicRequestMessage, translator core.Translator, caps *capabilities.SourceCapabilities, fetchSize int, tracer *observability.SourceTracer, log *zap.Logger) *ConnectorWork {
	if req.FetchSize > 0 {
		fetchSize = req.FetchSize
	}
	if fetchSize <= 0 {
		fetchSize = 1
	}
	if tracer == nil {
		tracer = observability.NewSourceTracer(req.Source, translator.Name())
	}
	return &ConnectorWork{
		request:    req,
		translator: translator,
		caps:       caps,
		fetchSize:  fetchSize,
		tracer:     tracer,
		logger:     log.With(zap.String("atomic_request_id", req.ID.String()), zap.String("source", req.Source)),
	}
}

// Request returns the atomic request being executed
func (w *ConnectorWork) Request() *message.AtomicRequestMessage {
	return w.request
}

// Executed reports whether Execute has returned a batch
func (w *ConnectorWork) Executed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.executed
}

// Final reports whether the final batch has been returned
func (w *ConnectorWork) Final() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.final
}

// Execute starts the command and returns its first batch.
func (w *ConnectorWork) Execute(ctx context.Context) (*message.AtomicResultsMessage, error) {
	ctx, err := w.begin(ctx, "execute", func() error {
		if w.executed {
			return w.fault("execute called twice")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer w.end()

	var batch *message.AtomicResultsMessage
	err = w.tracer.Trace(ctx, "execute", w.spanAttrs(), func(ctx context.Context) error {
		exec, err := w.prepare(ctx)
		if err != nil {
			return err
		}
		if !w.started {
			if err := exec.Execute(ctx); err != nil {
				return w.translate(err, "execute failed")
			}
			w.started = true
		}
		batch, err = w.nextBatch(ctx, exec)
		return err
	})
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.executed = true
	w.mu.Unlock()
	return batch, nil
}

// More returns the next batch after a non-final Execute or More.
func (w *ConnectorWork) More(ctx context.Context) (*message.AtomicResultsMessage, error) {
	ctx, err := w.begin(ctx, "more", func() error {
		if !w.executed {
			return w.fault("more called before execute")
		}
		if w.final {
			return w.fault("more called after the final batch")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer w.end()

	var batch *message.AtomicResultsMessage
	err = w.tracer.Trace(ctx, "more", w.spanAttrs(), func(ctx context.Context) error {
		w.mu.Lock()
		exec := w.execution
		w.mu.Unlock()
		var err error
		batch, err = w.nextBatch(ctx, exec)
		return err
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// begin validates the call under the lock and registers a cancellable
// context for it
func (w *ConnectorWork) begin(ctx context.Context, op string, check func() error) (context.Context, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancelled {
		return nil, w.cancelledError()
	}
	if w.closed {
		return nil, w.fault(op + " called after close")
	}
	if w.inflight != nil {
		return nil, w.fault(op + " called while another call is in flight")
	}
	if err := check(); err != nil {
		return nil, err
	}

	ctx = logger.ContextWith(ctx, logger.AtomicRequestIDKey, w.request.ID.String())
	ctx, w.inflight = context.WithCancel(ctx)
	return ctx, nil
}

// end finishes the in-flight call and releases the execution when Close
// arrived during the call
func (w *ConnectorWork) end() {
	w.mu.Lock()
	if w.inflight != nil {
		w.inflight()
		w.inflight = nil
	}
	var execution core.Execution
	var conn core.Connection
	if w.closed {
		execution, conn = w.execution, w.conn
		w.execution, w.conn = nil, nil
	}
	w.mu.Unlock()

	w.release(execution, conn)
}

// interrupted reports a Cancel or Close that arrived during the in-flight
// call. Its result must not be returned.
func (w *ConnectorWork) interrupted() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.cancelled:
		return w.cancelledError()
	case w.closed:
		return w.fault("connector work closed during the call")
	}
	return nil
}

// prepare checks the command against the source and creates the execution
// on first use
func (w *ConnectorWork) prepare(ctx context.Context) (core.Execution, error) {
	w.mu.Lock()
	existing := w.execution
	w.mu.Unlock()
	if existing != nil {
		return existing, nil
	}

	if r, ok := w.request.Command.(capabilities.Requirer); ok {
		if err := capabilities.Check(w.caps, r.Requirements()); err != nil {
			return nil, err
		}
	}
	if tc := w.request.TransactionContext; tc != nil && tc.Kind == message.TransactionGlobal && !w.caps.SupportsXA() {
		return nil, errors.New(errors.ErrorTypeTransaction, "source does not support XA transactions").
			WithDetail("source", w.request.Source).
			WithDetail("transaction_id", tc.TransactionID)
	}

	conn, err := w.translator.Connect(ctx)
	if err != nil {
		return nil, w.translate(err, "connect failed")
	}
	ectx := &core.ExecutionContext{
		RequestID:          w.request.ID,
		Source:             w.request.Source,
		ConnectorID:        w.caps.ConnectorID(),
		FetchSize:          w.fetchSize,
		TransactionContext: w.request.TransactionContext,
	}
	execution, err := w.translator.CreateExecution(ctx, w.request.Command, ectx, conn)
	if err != nil {
		if cerr := conn.Close(); cerr != nil {
			w.logger.Debug("closing connection after failed execution", zap.Error(cerr))
		}
		return nil, w.translate(err, "create execution failed")
	}

	w.mu.Lock()
	w.conn = conn
	w.execution = execution
	w.mu.Unlock()

	if err := w.interrupted(); err != nil {
		return nil, err
	}
	return execution, nil
}

// nextBatch reads up to fetchSize rows. A data-not-available signal after
// some rows were read ends the batch early instead. A full batch reads one
// row ahead so that it is reported final when the source has no more rows.
func (w *ConnectorWork) nextBatch(ctx context.Context, exec core.Execution) (*message.AtomicResultsMessage, error) {
	if exec == nil {
		return nil, w.interruptedOr(w.fault("no execution"))
	}
	batch := &message.AtomicResultsMessage{FinalRow: message.FinalRowUnknown}
	final := false

	switch exec := exec.(type) {
	case core.ResultSetExecution:
		rows, done, err := w.readRows(ctx, exec)
		if err != nil {
			return nil, err
		}
		batch.Rows, final = rows, done
		if final {
			if proc, ok := exec.(core.ProcedureExecution); ok {
				out, err := proc.OutputParameterValues()
				if err != nil {
					return nil, w.translate(err, "reading output parameters failed")
				}
				batch.OutputParameters = out
			}
		}
	case core.UpdateExecution:
		counts, err := exec.UpdateCounts()
		if err != nil {
			return nil, w.translate(err, "reading update counts failed")
		}
		for _, c := range counts {
			batch.Rows = append(batch.Rows, message.Row{c})
		}
		final = true
	default:
		final = true
	}

	if err := w.interrupted(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.rowCount += len(batch.Rows)
	if final {
		w.final = true
		batch.FinalRow = w.rowCount
	}
	w.mu.Unlock()

	metrics.RowsReturned.WithLabelValues(w.request.Source).Add(float64(len(batch.Rows)))
	return batch, nil
}

// readRows fills one batch, starting with the row read ahead by the
// previous batch
func (w *ConnectorWork) readRows(ctx context.Context, exec core.ResultSetExecution) ([]message.Row, bool, error) {
	symbols := w.request.Command.ProjectedSymbols()
	rows := make([]message.Row, 0, w.fetchSize)
	if w.pending != nil {
		rows = append(rows, w.pending)
		w.pending = nil
	}
	for {
		row, err := exec.Next(ctx)
		if err != nil {
			var dna *core.DataNotAvailableError
			if errors.As(err, &dna) && len(rows) > 0 {
				w.logger.Debug("data not available, returning partial batch", zap.Int("rows", len(rows)))
				return rows, false, nil
			}
			return nil, false, w.translate(err, "reading results failed")
		}
		if row == nil {
			return rows, true, nil
		}
		if len(symbols) > 0 && len(row) != len(symbols) {
			return nil, false, errors.Newf(errors.ErrorTypeTranslator, "row has %d values, expected %d", len(row), len(symbols)).
				WithDetail("source", w.request.Source)
		}
		if len(rows) == w.fetchSize {
			w.pending = row
			return rows, false, nil
		}
		rows = append(rows, row)
	}
}

// interruptedOr returns the interruption of the in-flight call, or err
func (w *ConnectorWork) interruptedOr(err error) error {
	if ierr := w.interrupted(); ierr != nil {
		return ierr
	}
	return err
}

// Cancel asks the source to abandon the request. An in-flight Execute or
// More returns a cancelled error.
func (w *ConnectorWork) Cancel() {
	w.mu.Lock()
	if w.cancelled || w.closed {
		w.mu.Unlock()
		return
	}
	w.cancelled = true
	inflight := w.inflight
	execution := w.execution
	w.mu.Unlock()

	w.logger.Debug("cancelling connector work")
	if inflight != nil {
		inflight()
	}
	if execution != nil {
		if err := execution.Cancel(); err != nil {
			w.logger.Debug("execution cancel failed", zap.Error(err))
		}
	}
}

// Close releases the execution and the connection.
func (w *ConnectorWork) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	inflight := w.inflight
	execution, conn := w.execution, w.conn
	if inflight == nil {
		w.execution, w.conn = nil, nil
	}
	w.mu.Unlock()

	if inflight != nil {
		// the in-flight call releases the execution in end
		inflight()
		if execution != nil {
			if err := execution.Cancel(); err != nil {
				w.logger.Debug("execution cancel failed", zap.Error(err))
			}
		}
		return
	}
	w.release(execution, conn)
}

func (w *ConnectorWork) release(execution core.Execution, conn core.Connection) {
	if execution != nil {
		if err := execution.Close(); err != nil {
			w.logger.Debug("closing execution", zap.Error(err))
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			w.logger.Debug("closing connection", zap.Error(err))
		}
	}
}

// translate maps a translator error to the error returned by the work
func (w *ConnectorWork) translate(err error, msg string) error {
	if ierr := w.interrupted(); ierr != nil {
		return ierr
	}

	var dna *core.DataNotAvailableError
	switch {
	case errors.Is(err, context.Canceled):
		return w.cancelledError()
	case errors.As(err, &dna):
		return dna
	default:
		return errors.Wrap(err, errors.ErrorTypeTranslator, msg).
			WithDetail("source", w.request.Source).
			WithDetail("atomic_request", w.request.ID.String())
	}
}

func (w *ConnectorWork) fault(msg string) error {
	return errors.New(errors.ErrorTypeProcessing, msg).
		WithDetail("atomic_request", w.request.ID.String())
}

func (w *ConnectorWork) cancelledError() error {
	return errors.New(errors.ErrorTypeCancelled, "atomic request cancelled").
		WithDetail("atomic_request", w.request.ID.String())
}

func (w *ConnectorWork) spanAttrs() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("federate.atomic_request_id", w.request.ID.String()),
		attribute.Int("federate.fetch_size", w.fetchSize),
	}
}
