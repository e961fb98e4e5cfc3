package transaction

import (
	"context"
	"time"

	"github.com/ajitpratap0/federate/pkg/errors"
)

// Manager is the external transaction manager. Local transactions are
// scoped to a session; XA branches are addressed by Xid.
type Manager interface {
	// Begin starts a local transaction for the session and returns its id
	Begin(ctx context.Context, sessionID string) (string, error)
	Commit(ctx context.Context, sessionID string) error
	Rollback(ctx context.Context, sessionID string) error

	// Start associates the session with the branch xid
	Start(ctx context.Context, sessionID string, xid Xid, flags int, timeout time.Duration) error
	// End dissociates the session from the branch xid
	End(ctx context.Context, sessionID string, xid Xid, flags int) error
	// Prepare votes XAOK or XARdOnly
	Prepare(ctx context.Context, xid Xid) (int, error)
	CommitXid(ctx context.Context, xid Xid, onePhase bool) error
	RollbackXid(ctx context.Context, xid Xid) error
	Recover(ctx context.Context, flags int) ([]Xid, error)
	Forget(ctx context.Context, xid Xid) error
}

// Unsupported is the Manager of an engine without a transaction manager.
// Every operation fails.
type Unsupported struct{}

var errUnsupported = errors.New(errors.ErrorTypeTransaction, "no transaction manager configured")

func (Unsupported) Begin(context.Context, string) (string, error) { return "", errUnsupported }
func (Unsupported) Commit(context.Context, string) error           { return errUnsupported }
func (Unsupported) Rollback(context.Context, string) error         { return errUnsupported }
func (Unsupported) Start(context.Context, string, Xid, int, time.Duration) error {
	return errUnsupported
}
func (Unsupported) End(context.Context, string, Xid, int) error     { return errUnsupported }
func (Unsupported) Prepare(context.Context, Xid) (int, error)       { return 0, errUnsupported }
func (Unsupported) CommitXid(context.Context, Xid, bool) error      { return errUnsupported }
func (Unsupported) RollbackXid(context.Context, Xid) error          { return errUnsupported }
func (Unsupported) Recover(context.Context, int) ([]Xid, error)     { return nil, errUnsupported }
func (Unsupported) Forget(context.Context, Xid) error               { return errUnsupported }
