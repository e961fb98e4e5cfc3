package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/ajitpratap0/federate/pkg/capabilities"
	"github.com/ajitpratap0/federate/pkg/config"
	"github.com/ajitpratap0/federate/pkg/connector/core"
	"github.com/ajitpratap0/federate/pkg/message"
)

// FakeTranslator is a scripted core.Translator. Every execution it creates
// returns Rows, after first signalling data-not-available NotAvailable
// times.
type FakeTranslator struct {
	TranslatorName string
	Declaration    *capabilities.Declaration
	Rows           []message.Row
	// OutputParameters makes executions procedure executions
	OutputParameters []interface{}

	NotAvailable      int
	NotAvailableDelay time.Duration

	InitErr    error
	ConnectErr error
	ExecuteErr error
	// NextErr is returned by Next once RowsBeforeErr rows were read
	NextErr       error
	RowsBeforeErr int

	// Block, when set, makes Execute wait until it is closed or the
	// execution is cancelled
	Block chan struct{}
	// IgnoreCancel makes a blocked Execute wait for Block alone
	IgnoreCancel bool
	// Started receives a value each time Execute is entered, if set
	Started chan struct{}

	mu           sync.Mutex
	pingErr      error
	executeTimes []time.Time
	connects     int
	connsClosed  int
	cancels      int
	execsClosed  int
	closed       bool
}

// NewFakeTranslator creates a fake serving rows with a declaration that
// supports nothing
func NewFakeTranslator(rows ...message.Row) *FakeTranslator {
	return &FakeTranslator{
		TranslatorName: "fake",
		Declaration:    &capabilities.Declaration{},
		Rows:           rows,
	}
}

// Name implements core.Translator
func (f *FakeTranslator) Name() string {
	return f.TranslatorName
}

// Initialize implements core.Translator
func (f *FakeTranslator) Initialize(_ context.Context, _ *config.SourceConfig) error {
	return f.InitErr
}

// Capabilities implements core.Translator
func (f *FakeTranslator) Capabilities() *capabilities.Declaration {
	return f.Declaration
}

// Connect implements core.Translator
func (f *FakeTranslator) Connect(_ context.Context) (core.Connection, error) {
	if f.ConnectErr != nil {
		return nil, f.ConnectErr
	}
	f.mu.Lock()
	f.connects++
	f.mu.Unlock()
	return &fakeConnection{f: f}, nil
}

// CreateExecution implements core.Translator
func (f *FakeTranslator) CreateExecution(_ context.Context, _ message.Command, _ *core.ExecutionContext, _ core.Connection) (core.Execution, error) {
	exec := &fakeExecution{f: f, cancelled: make(chan struct{})}
	if f.OutputParameters != nil {
		return &fakeProcedureExecution{fakeExecution: exec}, nil
	}
	return exec, nil
}

// Close implements core.Translator
func (f *FakeTranslator) Close(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Ping implements core.Pinger
func (f *FakeTranslator) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

// SetPingErr sets the error returned by Ping
func (f *FakeTranslator) SetPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

// ExecuteTimes returns when Execute was entered, in order
func (f *FakeTranslator) ExecuteTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.executeTimes...)
}

// Connects returns the number of connections opened
func (f *FakeTranslator) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// ConnectionsClosed returns the number of connections closed
func (f *FakeTranslator) ConnectionsClosed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connsClosed
}

// Cancels returns the number of execution cancellations
func (f *FakeTranslator) Cancels() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}

// ExecutionsClosed returns the number of executions closed
func (f *FakeTranslator) ExecutionsClosed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.execsClosed
}

// Closed reports whether Close was called
func (f *FakeTranslator) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeConnection struct {
	f    *FakeTranslator
	once sync.Once
}

func (c *fakeConnection) Close() error {
	c.once.Do(func() {
		c.f.mu.Lock()
		c.f.connsClosed++
		c.f.mu.Unlock()
	})
	return nil
}

type fakeExecution struct {
	f          *FakeTranslator
	pos        int
	cancelOnce sync.Once
	cancelled  chan struct{}
}

func (e *fakeExecution) Execute(ctx context.Context) error {
	f := e.f
	f.mu.Lock()
	f.executeTimes = append(f.executeTimes, time.Now())
	calls := len(f.executeTimes)
	f.mu.Unlock()

	if f.Started != nil {
		f.Started <- struct{}{}
	}
	if calls <= f.NotAvailable {
		return core.NotAvailable(f.NotAvailableDelay)
	}
	if f.Block != nil && f.IgnoreCancel {
		<-f.Block
		return f.ExecuteErr
	}
	if f.Block != nil {
		select {
		case <-f.Block:
		case <-e.cancelled:
			return context.Canceled
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.ExecuteErr
}

func (e *fakeExecution) Next(_ context.Context) (message.Row, error) {
	if e.f.NextErr != nil && e.pos == e.f.RowsBeforeErr {
		return nil, e.f.NextErr
	}
	if e.pos >= len(e.f.Rows) {
		return nil, nil
	}
	row := e.f.Rows[e.pos]
	e.pos++
	return row, nil
}

func (e *fakeExecution) Cancel() error {
	e.cancelOnce.Do(func() {
		close(e.cancelled)
		e.f.mu.Lock()
		e.f.cancels++
		e.f.mu.Unlock()
	})
	return nil
}

func (e *fakeExecution) Close() error {
	e.f.mu.Lock()
	e.f.execsClosed++
	e.f.mu.Unlock()
	return nil
}

type fakeProcedureExecution struct {
	*fakeExecution
}

func (e *fakeProcedureExecution) OutputParameterValues() ([]interface{}, error) {
	return e.f.OutputParameters, nil
}
