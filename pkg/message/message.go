// Package message defines the messages exchanged between the engine and
// its connectors: atomic requests going out to one physical source and the
// result batches coming back.
package message

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/federate/pkg/errors"
)

// FinalRowUnknown marks a batch whose stream has more rows to come.
const FinalRowUnknown = -1

// RequestID identifies a top-level request within a session.
type RequestID struct {
	SessionID   string
	ExecutionID int64
}

func (r RequestID) String() string {
	return fmt.Sprintf("%s.%d", r.SessionID, r.ExecutionID)
}

// AtomicRequestID identifies one atomic request: the plan node it serves
// and the execution count of that node within the request.
type AtomicRequestID struct {
	Request   RequestID
	NodeID    int
	ExecCount int
}

func (a AtomicRequestID) String() string {
	return fmt.Sprintf("%s.%d.%d", a.Request, a.NodeID, a.ExecCount)
}

// TransactionKind is the scope of the transaction a request runs in.
type TransactionKind int

const (
	// TransactionNone runs without a transaction
	TransactionNone TransactionKind = iota
	// TransactionLocal runs in a source local transaction
	TransactionLocal
	// TransactionGlobal runs in an XA transaction owned by an external manager
	TransactionGlobal
)

func (k TransactionKind) String() string {
	switch k {
	case TransactionLocal:
		return "local"
	case TransactionGlobal:
		return "global"
	default:
		return "none"
	}
}

// TransactionContext associates an atomic request with an enclosing
// transaction. A nil context means no transaction.
type TransactionContext struct {
	TransactionID string
	Xid           string
	Kind          TransactionKind
	SessionID     string
	CreatedAt     time.Time
}

// AtomicRequestMessage is a request against exactly one physical source.
type AtomicRequestMessage struct {
	ID                 AtomicRequestID
	Source             string
	Command            Command
	TransactionContext *TransactionContext
	// FetchSize is the preferred number of rows per batch; zero uses the source default
	FetchSize int
	CreatedAt time.Time
}

// Validate checks that the request can be routed and executed
func (m *AtomicRequestMessage) Validate() error {
	if m == nil {
		return errors.New(errors.ErrorTypeProcessing, "atomic request is nil")
	}
	if m.Source == "" {
		return errors.New(errors.ErrorTypeProcessing, "atomic request has no source").
			WithDetail("atomic_request", m.ID.String())
	}
	if m.Command == nil {
		return errors.New(errors.ErrorTypeProcessing, "atomic request has no command").
			WithDetail("atomic_request", m.ID.String())
	}
	if m.FetchSize < 0 {
		return errors.New(errors.ErrorTypeProcessing, "fetch size cannot be negative").
			WithDetail("atomic_request", m.ID.String())
	}
	return nil
}

// InTransaction reports whether the request carries a transaction context
func (m *AtomicRequestMessage) InTransaction() bool {
	return m.TransactionContext != nil && m.TransactionContext.Kind != TransactionNone
}

// Row is one result row, values positioned as the command's projected symbols.
type Row []interface{}

// AtomicResultsMessage is one batch of rows returned for an atomic request.
type AtomicResultsMessage struct {
	Rows []Row
	// FinalRow is the total row count once the last batch is returned,
	// FinalRowUnknown before that
	FinalRow int
	// OutputParameters holds procedure output values on the final batch
	OutputParameters []interface{}
	Warnings         []error
}

// IsFinal reports whether this is the last batch of its stream
func (r *AtomicResultsMessage) IsFinal() bool {
	return r.FinalRow != FinalRowUnknown
}
