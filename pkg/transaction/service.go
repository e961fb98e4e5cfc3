package transaction

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/logger"
	"github.com/ajitpratap0/federate/pkg/message"
	"github.com/ajitpratap0/federate/pkg/metrics"
)

// Service forwards transaction operations to a Manager and correlates the
// resulting transaction contexts with the atomic requests that run in them.
// A session is in at most one transaction at a time.
type Service struct {
	mgr    Manager
	logger *zap.Logger

	mu sync.Mutex
	// active transaction per session
	sessions map[string]*message.TransactionContext
	// XA branches started and not yet committed, rolled back or forgotten
	branches map[string]*message.TransactionContext
	// atomic requests attached to each transaction id
	requests map[string][]message.AtomicRequestID
}

// NewService creates a Service over mgr. A nil mgr fails every operation.
func NewService(mgr Manager) *Service {
	if mgr == nil {
		mgr = Unsupported{}
	}
	return &Service{
		mgr:      mgr,
		logger:   logger.Get().With(zap.String("component", "transaction_service")),
		sessions: make(map[string]*message.TransactionContext),
		branches: make(map[string]*message.TransactionContext),
		requests: make(map[string][]message.AtomicRequestID),
	}
}

// Begin starts a local transaction for sessionID
func (s *Service) Begin(ctx context.Context, sessionID string) (*message.TransactionContext, error) {
	if err := s.checkIdle(sessionID); err != nil {
		return nil, err
	}
	id, err := s.mgr.Begin(ctx, sessionID)
	s.record(ctx, "begin", err, zap.String("session_id", sessionID))
	if err != nil {
		return nil, wrap(err, "begin")
	}

	tc := &message.TransactionContext{
		TransactionID: id,
		Kind:          message.TransactionLocal,
		SessionID:     sessionID,
		CreatedAt:     time.Now(),
	}
	s.mu.Lock()
	s.sessions[sessionID] = tc
	s.mu.Unlock()
	return copyContext(tc), nil
}

// Commit commits the local transaction of sessionID
func (s *Service) Commit(ctx context.Context, sessionID string) error {
	tc, err := s.local(sessionID)
	if err != nil {
		return err
	}
	err = s.mgr.Commit(ctx, sessionID)
	s.record(ctx, "commit", err, zap.String("session_id", sessionID), zap.String("transaction_id", tc.TransactionID))
	if err != nil {
		return wrap(err, "commit")
	}
	s.finishLocal(sessionID, tc)
	return nil
}

// Rollback rolls back the local transaction of sessionID
func (s *Service) Rollback(ctx context.Context, sessionID string) error {
	tc, err := s.local(sessionID)
	if err != nil {
		return err
	}
	err = s.mgr.Rollback(ctx, sessionID)
	s.record(ctx, "rollback", err, zap.String("session_id", sessionID), zap.String("transaction_id", tc.TransactionID))
	if err != nil {
		return wrap(err, "rollback")
	}
	s.finishLocal(sessionID, tc)
	return nil
}

// Start associates sessionID with the XA branch xid. Joining or resuming a
// branch requires the branch to be known.
func (s *Service) Start(ctx context.Context, sessionID string, xid Xid, flags int, timeout time.Duration) error {
	if err := xid.Validate(); err != nil {
		return err
	}
	if err := s.checkIdle(sessionID); err != nil {
		return err
	}
	key := xid.String()
	if flags&(TMJoin|TMResume) != 0 {
		s.mu.Lock()
		_, known := s.branches[key]
		s.mu.Unlock()
		if !known {
			return errors.New(errors.ErrorTypeTransaction, "cannot join or resume an unknown branch").
				WithDetail("xid", key)
		}
	}

	err := s.mgr.Start(ctx, sessionID, xid, flags, timeout)
	s.record(ctx, "start", err, zap.String("session_id", sessionID), zap.String("xid", key))
	if err != nil {
		return wrap(err, "start")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tc, ok := s.branches[key]
	if !ok {
		tc = &message.TransactionContext{
			TransactionID: key,
			Xid:           key,
			Kind:          message.TransactionGlobal,
			SessionID:     sessionID,
			CreatedAt:     time.Now(),
		}
		s.branches[key] = tc
	}
	s.sessions[sessionID] = tc
	return nil
}

// End dissociates sessionID from the branch xid. The branch stays known
// until it is committed, rolled back or forgotten.
func (s *Service) End(ctx context.Context, sessionID string, xid Xid, flags int) error {
	key := xid.String()
	s.mu.Lock()
	tc := s.sessions[sessionID]
	s.mu.Unlock()
	if tc == nil || tc.Kind != message.TransactionGlobal || tc.Xid != key {
		return errors.New(errors.ErrorTypeTransaction, "session is not associated with the branch").
			WithDetail("session_id", sessionID).
			WithDetail("xid", key)
	}

	err := s.mgr.End(ctx, sessionID, xid, flags)
	s.record(ctx, "end", err, zap.String("session_id", sessionID), zap.String("xid", key))
	if err != nil {
		return wrap(err, "end")
	}
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

// Prepare forwards the first commit phase. A read-only vote completes the
// branch.
func (s *Service) Prepare(ctx context.Context, xid Xid) (int, error) {
	vote, err := s.mgr.Prepare(ctx, xid)
	s.record(ctx, "prepare", err, zap.String("xid", xid.String()), zap.Int("vote", vote))
	if err != nil {
		return 0, wrap(err, "prepare")
	}
	if vote == XARdOnly {
		s.finishBranch(xid.String())
	}
	return vote, nil
}

// CommitXid commits the branch xid, in one phase when onePhase is set
func (s *Service) CommitXid(ctx context.Context, xid Xid, onePhase bool) error {
	err := s.mgr.CommitXid(ctx, xid, onePhase)
	s.record(ctx, "commit_xid", err, zap.String("xid", xid.String()), zap.Bool("one_phase", onePhase))
	if err != nil {
		return wrap(err, "commit")
	}
	s.finishBranch(xid.String())
	return nil
}

// RollbackXid rolls back the branch xid
func (s *Service) RollbackXid(ctx context.Context, xid Xid) error {
	err := s.mgr.RollbackXid(ctx, xid)
	s.record(ctx, "rollback_xid", err, zap.String("xid", xid.String()))
	if err != nil {
		return wrap(err, "rollback")
	}
	s.finishBranch(xid.String())
	return nil
}

// Recover lists the prepared branches known to the manager
func (s *Service) Recover(ctx context.Context, flags int) ([]Xid, error) {
	xids, err := s.mgr.Recover(ctx, flags)
	s.record(ctx, "recover", err, zap.Int("branches", len(xids)))
	if err != nil {
		return nil, wrap(err, "recover")
	}
	return xids, nil
}

// Forget discards a heuristically completed branch
func (s *Service) Forget(ctx context.Context, xid Xid) error {
	err := s.mgr.Forget(ctx, xid)
	s.record(ctx, "forget", err, zap.String("xid", xid.String()))
	if err != nil {
		return wrap(err, "forget")
	}
	s.finishBranch(xid.String())
	return nil
}

// ContextFor returns a copy of the active transaction context of sessionID,
// nil outside a transaction
func (s *Service) ContextFor(sessionID string) *message.TransactionContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyContext(s.sessions[sessionID])
}

// Attach sets the transaction context of req from its session and records
// req against the transaction. It reports whether req runs in a transaction.
func (s *Service) Attach(req *message.AtomicRequestMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	tc := s.sessions[req.ID.Request.SessionID]
	if tc == nil {
		return false
	}
	req.TransactionContext = copyContext(tc)
	s.requests[tc.TransactionID] = append(s.requests[tc.TransactionID], req.ID)
	return true
}

// Requests returns the atomic requests attached to transactionID
func (s *Service) Requests(transactionID string) []message.AtomicRequestID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]message.AtomicRequestID(nil), s.requests[transactionID]...)
}

// Active returns the number of sessions in a transaction
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Service) checkIdle(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tc := s.sessions[sessionID]; tc != nil {
		return errors.New(errors.ErrorTypeTransaction, "session is already in a transaction").
			WithDetail("session_id", sessionID).
			WithDetail("transaction_id", tc.TransactionID)
	}
	return nil
}

func (s *Service) local(sessionID string) (*message.TransactionContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tc := s.sessions[sessionID]
	if tc == nil || tc.Kind != message.TransactionLocal {
		return nil, errors.New(errors.ErrorTypeTransaction, "session has no local transaction").
			WithDetail("session_id", sessionID)
	}
	return tc, nil
}

func (s *Service) finishLocal(sessionID string, tc *message.TransactionContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	delete(s.requests, tc.TransactionID)
}

func (s *Service) finishBranch(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.branches, key)
	delete(s.requests, key)
	for session, tc := range s.sessions {
		if tc.Xid == key {
			delete(s.sessions, session)
		}
	}
}

func (s *Service) record(ctx context.Context, op string, err error, fields ...zap.Field) {
	log := logger.FromContext(ctx, s.logger)
	if err != nil {
		metrics.TransactionOperations.WithLabelValues(op, "failed").Inc()
		log.Warn("transaction operation failed", append(fields, zap.String("operation", op), zap.Error(err))...)
		return
	}
	metrics.TransactionOperations.WithLabelValues(op, "success").Inc()
	log.Debug("transaction operation", append(fields, zap.String("operation", op))...)
}

func wrap(err error, op string) error {
	if errors.IsType(err, errors.ErrorTypeTransaction) {
		return err
	}
	return errors.Wrap(err, errors.ErrorTypeTransaction, "transaction manager failed to "+op)
}

func copyContext(tc *message.TransactionContext) *message.TransactionContext {
	if tc == nil {
		return nil
	}
	c := *tc
	return &c
}
