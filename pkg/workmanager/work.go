// Package workmanager implements the two-level worker pool that executes
// atomic requests.
//
// A StatsCapturingWorkManager admits at most maximumPoolSize work items into
// its Delegate at once and keeps the overflow in an unbounded FIFO queue. A
// finishing item hands its slot directly to the next queued item, so the
// number of running items never exceeds the pool size. Work that reports its
// data is not yet available is resubmitted after the delay it signalled,
// through an injected Scheduler.
//
// The pool records running and peak statistics that can be read at any time
// through Stats.
package workmanager

import (
	"context"
	"time"
)

// WorkContext carries the execution context of a unit of work. It travels
// with the work through queueing and delayed resubmission.
type WorkContext struct {
	// RequestID identifies the atomic request the work serves
	RequestID string
	// Source names the physical source
	Source string
	// TransactionID ties the work to an enclosing transaction
	TransactionID string
	// StartTimeout bounds how long dispatch waits for a delegate slot; zero fails fast
	StartTimeout time.Duration
}

// Work is a unit of work run by the pool.
type Work interface {
	// Run executes the work. ctx is cancelled by ShutdownNow.
	Run(ctx context.Context) Result
}

// WorkFunc adapts a function to Work
type WorkFunc func(ctx context.Context) Result

// Run implements Work
func (f WorkFunc) Run(ctx context.Context) Result {
	return f(ctx)
}

// RejectionHandler is implemented by work that wants to learn it was refused
// after ScheduleWork returned, when a queued or delayed dispatch fails.
type RejectionHandler interface {
	WorkRejected(err error)
}

// ResultKind tags the outcome of one run.
type ResultKind int

const (
	// ResultCompleted means the work finished successfully
	ResultCompleted ResultKind = iota
	// ResultFailed means the work finished with an error
	ResultFailed
	// ResultNotAvailable means the work must run again after Delay
	ResultNotAvailable
)

func (k ResultKind) String() string {
	switch k {
	case ResultCompleted:
		return "completed"
	case ResultFailed:
		return "failed"
	case ResultNotAvailable:
		return "not_available"
	default:
		return "unknown"
	}
}

// Result is the tagged outcome of one run of a Work.
type Result struct {
	Kind  ResultKind
	Err   error
	Delay time.Duration
}

// Completed reports successful completion
func Completed() Result {
	return Result{Kind: ResultCompleted}
}

// Failed reports completion with err
func Failed(err error) Result {
	return Result{Kind: ResultFailed, Err: err}
}

// NotAvailable asks the pool to run the work again after delay
func NotAvailable(delay time.Duration) Result {
	return Result{Kind: ResultNotAvailable, Delay: delay}
}

// finished reports whether the run ended the work from the pool's view
func (r Result) finished() bool {
	return r.Kind == ResultCompleted || r.Kind == ResultFailed
}
