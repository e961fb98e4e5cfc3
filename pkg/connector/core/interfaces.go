package core

import (
	"context"
	"fmt"
	"time"

	"github.com/ajitpratap0/federate/pkg/capabilities"
	"github.com/ajitpratap0/federate/pkg/config"
	"github.com/ajitpratap0/federate/pkg/message"
)

// Translator adapts one kind of physical source to the engine. A translator
// instance serves one configured source and is shared by every atomic
// request against it.
type Translator interface {
	// Name returns the translator type, e.g. "postgres"
	Name() string

	// Initialize prepares the translator for the given source
	Initialize(ctx context.Context, cfg *config.SourceConfig) error

	// Capabilities returns the translator's capability declaration
	Capabilities() *capabilities.Declaration

	// Connect obtains a connection for one atomic request
	Connect(ctx context.Context) (Connection, error)

	// CreateExecution prepares cmd for execution on conn
	CreateExecution(ctx context.Context, cmd message.Command, ectx *ExecutionContext, conn Connection) (Execution, error)

	// Close releases the translator's resources
	Close(ctx context.Context) error
}

// Pinger is implemented by translators that can probe their source
type Pinger interface {
	Ping(ctx context.Context) error
}

// Connection is a source connection held for the life of one atomic request.
type Connection interface {
	Close() error
}

// ExecutionContext describes the atomic request an execution serves.
type ExecutionContext struct {
	RequestID          message.AtomicRequestID
	Source             string
	ConnectorID        string
	FetchSize          int
	TransactionContext *message.TransactionContext
}

// Execution is one command executing against a source.
type Execution interface {
	// Execute starts the command. It may return a *DataNotAvailableError.
	Execute(ctx context.Context) error
	// Cancel asks the source to abandon the command. It may be called
	// concurrently with Execute or Next.
	Cancel() error
	// Close releases the execution
	Close() error
}

// ResultSetExecution is an Execution that produces rows.
type ResultSetExecution interface {
	Execution
	// Next returns the next row, or nil at the end of the results. It may
	// return a *DataNotAvailableError.
	Next(ctx context.Context) (message.Row, error)
}

// ProcedureExecution is a ResultSetExecution with output parameters.
type ProcedureExecution interface {
	ResultSetExecution
	// OutputParameterValues returns the output values once every row was read
	OutputParameterValues() ([]interface{}, error)
}

// UpdateExecution is an Execution that reports update counts.
type UpdateExecution interface {
	Execution
	UpdateCounts() ([]int64, error)
}

// DataNotAvailableError signals that the source has no data ready yet. It
// is not a failure: the request is resubmitted after Delay.
type DataNotAvailableError struct {
	Delay time.Duration
}

func (e *DataNotAvailableError) Error() string {
	return fmt.Sprintf("data not available, retry in %s", e.Delay)
}

// NotAvailable returns a DataNotAvailableError with delay d
func NotAvailable(d time.Duration) error {
	return &DataNotAvailableError{Delay: d}
}

// HealthStatus is the last observed health of a source
type HealthStatus struct {
	Status    string
	Timestamp time.Time
	Details   map[string]interface{}
	Error     error
}
