package workmanager

import (
	"sort"
	"sync"
	"time"
)

// Timer is a pending one-shot callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the
	// callback was still pending.
	Stop() bool
}

// Scheduler runs callbacks after a delay. Implementations must never invoke
// the callback synchronously from AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// TimerScheduler is a Scheduler backed by runtime timers. One instance is
// normally shared by every pool of an engine; Close cancels everything still
// pending.
type TimerScheduler struct {
	mu     sync.Mutex
	closed bool
	timers map[*schedTimer]struct{}
}

// NewTimerScheduler creates a TimerScheduler
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{timers: make(map[*schedTimer]struct{})}
}

type schedTimer struct {
	s     *TimerScheduler
	timer *time.Timer
}

func (t *schedTimer) Stop() bool {
	if !t.s.remove(t) {
		return false
	}
	t.timer.Stop()
	return true
}

type stoppedTimer struct{}

func (stoppedTimer) Stop() bool { return false }

// AfterFunc implements Scheduler. After Close it returns a timer that never fires.
func (s *TimerScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return stoppedTimer{}
	}
	t := &schedTimer{s: s}
	t.timer = time.AfterFunc(d, func() {
		if s.remove(t) {
			f()
		}
	})
	s.timers[t] = struct{}{}
	return t
}

// Pending returns the number of callbacks not yet run or stopped
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close stops every pending callback and refuses new ones
func (s *TimerScheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for t := range s.timers {
		t.timer.Stop()
		delete(s.timers, t)
	}
}

func (s *TimerScheduler) remove(t *schedTimer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[t]; !ok {
		return false
	}
	delete(s.timers, t)
	return true
}

// ManualScheduler is a Scheduler driven by Advance instead of the clock.
// Tests use it to make delayed scheduling deterministic.
type ManualScheduler struct {
	mu      sync.Mutex
	now     time.Duration
	seq     int
	pending []*manualTimer
}

// NewManualScheduler creates a ManualScheduler at virtual time zero
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

type manualTimer struct {
	s   *ManualScheduler
	at  time.Duration
	seq int
	f   func()
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i, p := range t.s.pending {
		if p == t {
			t.s.pending = append(t.s.pending[:i], t.s.pending[i+1:]...)
			return true
		}
	}
	return false
}

// AfterFunc implements Scheduler
func (m *ManualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{s: m, at: m.now + d, seq: m.seq, f: f}
	m.pending = append(m.pending, t)
	return t
}

// Advance moves virtual time forward by d and runs every callback that
// became due, in due order, on the calling goroutine.
func (m *ManualScheduler) Advance(d time.Duration) {
	m.mu.Lock()
	m.now += d
	var due, rest []*manualTimer
	for _, t := range m.pending {
		if t.at <= m.now {
			due = append(due, t)
		} else {
			rest = append(rest, t)
		}
	}
	m.pending = rest
	m.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].at == due[j].at {
			return due[i].seq < due[j].seq
		}
		return due[i].at < due[j].at
	})
	for _, t := range due {
		t.f()
	}
}

// Pending returns the number of callbacks not yet due
func (m *ManualScheduler) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
