package workmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/logger"
)

// ErrRejected is the cause of every rejection by a pool or delegate.
var ErrRejected = errors.New(errors.ErrorTypeRejected, "work rejected")

// Stats is a point-in-time snapshot of pool statistics.
type Stats struct {
	Name               string
	MaximumPoolSize    int
	ActiveCount        int
	HighestActiveCount int
	QueueSize          int
	HighestQueueSize   int
	SubmittedCount     int64
	CompletedCount     int64
	ScheduledCount     int
	Terminated         bool
}

type workWrapper struct {
	id     uint64
	ticket uint64
	work   Work
	wc     WorkContext
	ctx    context.Context
	cancel context.CancelFunc
	result Result
}

type scheduledWork struct {
	timer Timer
	work  Work
}

// StatsCapturingWorkManager is a bounded pool in front of a Delegate. At
// most maximumPoolSize items run at once; the rest wait in FIFO order.
type StatsCapturingWorkManager struct {
	name            string
	maximumPoolSize int
	delegate        Delegate
	scheduler       Scheduler
	logger          *zap.Logger

	rootCtx    context.Context
	cancelRoot context.CancelFunc

	mu                 sync.Mutex
	terminated         bool
	activeCount        int
	highestActiveCount int
	highestQueueSize   int
	submittedCount     int64
	completedCount     int64
	queue              *queue.Queue
	live               map[uint64]*workWrapper
	scheduled          map[uint64]scheduledWork
	nextID             uint64
	nextTicket         uint64
	queueWarned        bool
	drained            chan struct{}
	drainedClosed      bool

	// admitted items are handed to the delegate in ticket order
	dispatchMu   sync.Mutex
	dispatchCond *sync.Cond
	dispatchTurn uint64
}

// New creates a pool named name admitting at most maximumPoolSize items into
// delegate. scheduler drives delayed resubmission; nil gets a private
// TimerScheduler. A nil log means the global logger.
func New(name string, maximumPoolSize int, delegate Delegate, scheduler Scheduler, log *zap.Logger) *StatsCapturingWorkManager {
	if maximumPoolSize <= 0 {
		maximumPoolSize = 1
	}
	if log == nil {
		log = logger.Get()
	}
	if scheduler == nil {
		scheduler = NewTimerScheduler()
	}
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.ContextWith(ctx, logger.PoolKey, name)

	m := &StatsCapturingWorkManager{
		name:            name,
		maximumPoolSize: maximumPoolSize,
		delegate:        delegate,
		scheduler:       scheduler,
		logger:          log.With(zap.String("component", "work_manager"), zap.String("pool", name)),
		rootCtx:         ctx,
		cancelRoot:      cancel,
		queue:           queue.New(),
		live:            make(map[uint64]*workWrapper),
		scheduled:       make(map[uint64]scheduledWork),
		drained:         make(chan struct{}),
	}
	m.dispatchCond = sync.NewCond(&m.dispatchMu)
	return m
}

// Name returns the pool name
func (m *StatsCapturingWorkManager) Name() string {
	return m.name
}

// MaximumPoolSize returns the admission limit
func (m *StatsCapturingWorkManager) MaximumPoolSize() int {
	return m.maximumPoolSize
}

// ScheduleWork submits work for execution. It never blocks on the pool
// itself: when every slot is taken the work is queued. It fails with
// ErrRejected once the pool is terminated, and with the delegate's error
// when the immediate dispatch is refused.
func (m *StatsCapturingWorkManager) ScheduleWork(work Work, wc WorkContext) error {
	w, dispatch, err := m.submit(work, wc)
	if err != nil {
		return err
	}
	if !dispatch {
		return nil
	}
	if err := m.dispatch(w); err != nil {
		m.logger.Warn("delegate rejected work", zap.String("request_id", wc.RequestID), zap.Error(err))
		m.complete(w, Result{Kind: resultRejected, Err: err})
		return err
	}
	return nil
}

// ScheduleWorkAfter submits work once delay has elapsed. A delay of zero or
// less schedules immediately.
func (m *StatsCapturingWorkManager) ScheduleWorkAfter(work Work, wc WorkContext, delay time.Duration) error {
	if delay <= 0 {
		return m.ScheduleWork(work, wc)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.terminated {
		return m.rejectedError("pool is terminated")
	}

	m.nextID++
	id := m.nextID
	timer := m.scheduler.AfterFunc(delay, func() {
		m.mu.Lock()
		_, pending := m.scheduled[id]
		delete(m.scheduled, id)
		m.mu.Unlock()
		if !pending {
			return
		}
		if err := m.ScheduleWork(work, wc); err != nil {
			notifyRejected(work, err)
		}
	})
	m.scheduled[id] = scheduledWork{timer: timer, work: work}

	m.logger.Debug("work scheduled after delay",
		zap.String("request_id", wc.RequestID),
		zap.Duration("delay", delay))
	return nil
}

func (m *StatsCapturingWorkManager) submit(work Work, wc WorkContext) (*workWrapper, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.terminated {
		return nil, false, m.rejectedError("pool is terminated")
	}

	m.submittedCount++
	m.nextID++
	w := &workWrapper{id: m.nextID, work: work, wc: wc}

	if m.activeCount >= m.maximumPoolSize {
		m.queue.Add(w)
		if n := m.queue.Length(); n > m.highestQueueSize {
			m.highestQueueSize = n
			if m.maximumPoolSize > 1 && !m.queueWarned {
				m.queueWarned = true
				m.logger.Warn("pool at capacity, queueing work",
					zap.Int("max_pool_size", m.maximumPoolSize),
					zap.Int("queue_size", n))
			}
		}
		return w, false, nil
	}

	m.activeCount++
	if m.activeCount > m.highestActiveCount {
		m.highestActiveCount = m.activeCount
	}
	m.admitLocked(w)
	return w, true, nil
}

// admitLocked attaches a cancellable context and adds w to the live set
func (m *StatsCapturingWorkManager) admitLocked(w *workWrapper) {
	ctx := m.rootCtx
	if w.wc.RequestID != "" {
		ctx = logger.ContextWith(ctx, logger.AtomicRequestIDKey, w.wc.RequestID)
	}
	if w.wc.Source != "" {
		ctx = logger.ContextWith(ctx, logger.SourceKey, w.wc.Source)
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.ticket = m.nextTicket
	m.nextTicket++
	m.live[w.id] = w
}

// dispatch hands w to the delegate once every item admitted before it has
// been handed over, so items start in admission order even when several
// completions dequeue at once
func (m *StatsCapturingWorkManager) dispatch(w *workWrapper) error {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()
	for m.dispatchTurn != w.ticket {
		m.dispatchCond.Wait()
	}
	defer func() {
		m.dispatchTurn++
		m.dispatchCond.Broadcast()
	}()

	return m.delegate.StartWork(w.wc,
		func() { w.result = m.run(w) },
		func() { m.complete(w, w.result) })
}

func (m *StatsCapturingWorkManager) run(w *workWrapper) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(w.ctx, m.logger).Error("work panicked", zap.Any("panic", r))
			res = Failed(errors.Newf(errors.ErrorTypeInternal, "work panicked: %v", r))
		}
	}()
	return w.work.Run(w.ctx)
}

// resultRejected marks a wrapper whose dispatch the delegate refused
const resultRejected ResultKind = -1

// complete runs when an admitted item leaves its slot. The slot passes to
// the next queued item, if any; otherwise the active count drops.
func (m *StatsCapturingWorkManager) complete(w *workWrapper, res Result) {
	for {
		var next *workWrapper

		m.mu.Lock()
		delete(m.live, w.id)
		w.cancel()
		if res.finished() {
			m.completedCount++
		}
		if m.queue.Length() > 0 {
			next = m.queue.Remove().(*workWrapper)
			m.admitLocked(next)
		} else {
			m.activeCount--
			if m.activeCount == 0 && m.terminated {
				m.signalDrainedLocked()
			}
		}
		m.mu.Unlock()

		if res.Kind == ResultNotAvailable {
			m.logger.Debug("data not available, resubmitting",
				zap.String("request_id", w.wc.RequestID),
				zap.Duration("delay", res.Delay))
			if err := m.ScheduleWorkAfter(w.work, w.wc, res.Delay); err != nil {
				notifyRejected(w.work, err)
			}
		}

		if next == nil {
			return
		}
		err := m.dispatch(next)
		if err == nil {
			return
		}
		m.logger.Warn("delegate rejected queued work", zap.String("request_id", next.wc.RequestID), zap.Error(err))
		notifyRejected(next.work, err)
		w, res = next, Result{Kind: resultRejected, Err: err}
	}
}

func (m *StatsCapturingWorkManager) signalDrainedLocked() {
	if !m.drainedClosed {
		m.drainedClosed = true
		close(m.drained)
	}
}

func (m *StatsCapturingWorkManager) rejectedError(reason string) error {
	return errors.Wrap(ErrRejected, errors.ErrorTypeRejected, reason).WithDetail("pool", m.name)
}

func notifyRejected(work Work, err error) {
	if h, ok := work.(RejectionHandler); ok {
		h.WorkRejected(err)
	}
}

// Shutdown stops accepting work. Running, queued and already scheduled
// items still run; delayed items whose timers fire afterwards are rejected.
func (m *StatsCapturingWorkManager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.terminated {
		return
	}
	m.terminated = true
	if m.activeCount == 0 {
		m.signalDrainedLocked()
	}
	m.logger.Info("pool shutting down",
		zap.Int("active", m.activeCount),
		zap.Int("queued", m.queue.Length()))
}

// ShutdownNow stops accepting work, cancels the context of every running
// item, and discards queued and delayed items. The discarded work is
// returned.
func (m *StatsCapturingWorkManager) ShutdownNow() []Work {
	m.mu.Lock()
	m.terminated = true

	discarded := make([]Work, 0, m.queue.Length()+len(m.scheduled))
	for m.queue.Length() > 0 {
		discarded = append(discarded, m.queue.Remove().(*workWrapper).work)
	}
	for id, s := range m.scheduled {
		s.timer.Stop()
		discarded = append(discarded, s.work)
		delete(m.scheduled, id)
	}
	running := len(m.live)
	if m.activeCount == 0 {
		m.signalDrainedLocked()
	}
	m.mu.Unlock()

	m.cancelRoot()
	m.logger.Info("pool shut down now",
		zap.Int("interrupted", running),
		zap.Int("discarded", len(discarded)))
	return discarded
}

// AwaitTermination waits up to timeout for the pool to be terminated with
// no running work. It reports whether that state was reached.
func (m *StatsCapturingWorkManager) AwaitTermination(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-m.drained:
		return true
	case <-timer.C:
		return false
	}
}

// IsTerminated reports whether the pool stopped accepting work and has no
// running items
func (m *StatsCapturingWorkManager) IsTerminated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminated && m.activeCount == 0
}

// IsShutdown reports whether the pool stopped accepting work
func (m *StatsCapturingWorkManager) IsShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminated
}

// Stats returns a snapshot of the pool statistics
func (m *StatsCapturingWorkManager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Name:               m.name,
		MaximumPoolSize:    m.maximumPoolSize,
		ActiveCount:        m.activeCount,
		HighestActiveCount: m.highestActiveCount,
		QueueSize:          m.queue.Length(),
		HighestQueueSize:   m.highestQueueSize,
		SubmittedCount:     m.submittedCount,
		CompletedCount:     m.completedCount,
		ScheduledCount:     len(m.scheduled),
		Terminated:         m.terminated && m.activeCount == 0,
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("%s: active=%d/%d (highest %d) queued=%d (highest %d) submitted=%d completed=%d",
		s.Name, s.ActiveCount, s.MaximumPoolSize, s.HighestActiveCount,
		s.QueueSize, s.HighestQueueSize, s.SubmittedCount, s.CompletedCount)
}
