package manager

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/federate/pkg/connector/core"
	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/message"
	"github.com/ajitpratap0/federate/pkg/metrics"
	"github.com/ajitpratap0/federate/pkg/workmanager"
)

// OutcomeKind tags the result of one execute or more step
type OutcomeKind int

const (
	// OutcomeSuccess carries a batch
	OutcomeSuccess OutcomeKind = iota
	// OutcomeNotAvailable carries the delay the source asked for
	OutcomeNotAvailable
	// OutcomeFailed carries the error
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotAvailable:
		return "not_available"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of one step of a ConnectorWorkItem.
type Outcome struct {
	Kind    OutcomeKind
	Results *message.AtomicResultsMessage
	Delay   time.Duration
	Err     error
}

// Pool is the part of the worker pool a work item submits itself to
type Pool interface {
	ScheduleWork(work workmanager.Work, wc workmanager.WorkContext) error
}

// ConnectorWorkItem drives a ConnectorWork through a worker pool. Each
// Submit or RequestMore runs one step on the pool and delivers exactly one
// Success or Failed outcome on Results. Not-available steps are rerun by
// the pool after their delay and are not delivered.
type ConnectorWorkItem struct {
	work     *ConnectorWork
	pool     Pool
	wc       workmanager.WorkContext
	outcomes chan Outcome
	logger   *zap.Logger

	mu      sync.Mutex
	pending bool
}

// NewConnectorWorkItem creates a work item for work running on pool
func NewConnectorWorkItem(work *ConnectorWork, pool Pool, wc workmanager.WorkContext, log *zap.Logger) *ConnectorWorkItem {
	return &ConnectorWorkItem{
		work:     work,
		pool:     pool,
		wc:       wc,
		outcomes: make(chan Outcome, 1),
		logger:   log,
	}
}

// Work returns the underlying connector work
func (i *ConnectorWorkItem) Work() *ConnectorWork {
	return i.work
}

// Results delivers one outcome per submitted step
func (i *ConnectorWorkItem) Results() <-chan Outcome {
	return i.outcomes
}

// Submit schedules the execute step
func (i *ConnectorWorkItem) Submit() error {
	return i.schedule()
}

// RequestMore schedules the next more step
func (i *ConnectorWorkItem) RequestMore() error {
	if !i.work.Executed() {
		return errors.New(errors.ErrorTypeProcessing, "more requested before execute").
			WithDetail("atomic_request", i.wc.RequestID)
	}
	return i.schedule()
}

func (i *ConnectorWorkItem) schedule() error {
	i.mu.Lock()
	if i.pending {
		i.mu.Unlock()
		return errors.New(errors.ErrorTypeProcessing, "a step is already in flight").
			WithDetail("atomic_request", i.wc.RequestID)
	}
	i.pending = true
	i.mu.Unlock()

	if err := i.pool.ScheduleWork(i, i.wc); err != nil {
		i.mu.Lock()
		i.pending = false
		i.mu.Unlock()
		return err
	}
	return nil
}

// Next submits the next step and waits for its outcome.
func (i *ConnectorWorkItem) Next(ctx context.Context) (*message.AtomicResultsMessage, error) {
	var err error
	if i.work.Executed() {
		err = i.RequestMore()
	} else {
		err = i.Submit()
	}
	if err != nil {
		return nil, err
	}

	select {
	case out := <-i.outcomes:
		if out.Kind == OutcomeFailed {
			return nil, out.Err
		}
		return out.Results, nil
	case <-ctx.Done():
		i.Cancel()
		out := <-i.outcomes
		if out.Kind == OutcomeFailed {
			return nil, out.Err
		}
		return out.Results, nil
	}
}

// Run implements workmanager.Work
func (i *ConnectorWorkItem) Run(ctx context.Context) workmanager.Result {
	out := i.step(ctx)

	switch out.Kind {
	case OutcomeNotAvailable:
		return workmanager.NotAvailable(out.Delay)
	case OutcomeFailed:
		i.deliver(out)
		return workmanager.Failed(out.Err)
	default:
		i.deliver(out)
		return workmanager.Completed()
	}
}

// step runs execute or more and tags the result
func (i *ConnectorWorkItem) step(ctx context.Context) Outcome {
	source := i.work.Request().Source
	op := "execute"
	if i.work.Executed() {
		op = "more"
	}
	timer := metrics.NewTimer(op)

	var (
		batch *message.AtomicResultsMessage
		err   error
	)
	if op == "execute" {
		batch, err = i.work.Execute(ctx)
	} else {
		batch, err = i.work.More(ctx)
	}

	var dna *core.DataNotAvailableError
	switch {
	case err == nil:
		metrics.AtomicRequestDuration.WithLabelValues(source, op, "success").Observe(timer.Stop().Seconds())
		return Outcome{Kind: OutcomeSuccess, Results: batch}
	case errors.As(err, &dna):
		metrics.AtomicRequestDuration.WithLabelValues(source, op, "not_available").Observe(timer.Stop().Seconds())
		metrics.NotAvailable.WithLabelValues(source).Inc()
		i.logger.Debug("data not available", zap.String("operation", op), zap.Duration("delay", dna.Delay))
		return Outcome{Kind: OutcomeNotAvailable, Delay: dna.Delay}
	default:
		metrics.AtomicRequestDuration.WithLabelValues(source, op, "failed").Observe(timer.Stop().Seconds())
		metrics.ConnectorErrors.WithLabelValues(source, string(errors.TypeOf(err))).Inc()
		i.logger.Warn("connector work failed", zap.String("operation", op), zap.Error(err))
		return Outcome{Kind: OutcomeFailed, Err: err}
	}
}

// WorkRejected implements workmanager.RejectionHandler. A step the pool
// could not run is delivered as failed.
func (i *ConnectorWorkItem) WorkRejected(err error) {
	i.logger.Warn("connector work rejected", zap.Error(err))
	i.deliver(Outcome{Kind: OutcomeFailed, Err: err})
}

func (i *ConnectorWorkItem) deliver(out Outcome) {
	i.mu.Lock()
	if !i.pending {
		i.mu.Unlock()
		return
	}
	i.pending = false
	i.mu.Unlock()
	i.outcomes <- out
}

// Cancel cancels the connector work. A step still queued or waiting on a
// delay fails with a cancelled error when it runs.
func (i *ConnectorWorkItem) Cancel() {
	i.work.Cancel()
}

// Close releases the connector work
func (i *ConnectorWorkItem) Close() {
	i.work.Close()
}
