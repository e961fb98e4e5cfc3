package core

import "context"

// ExecutionScope is the context of an execution's source side resources
// (queries, cursors, consumers). Each engine call runs with its own step
// context that ends with the call, so source cursors held across calls are
// bound to the scope instead.
type ExecutionScope struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewExecutionScope creates a scope carrying the values of ctx but not its
// cancellation
func NewExecutionScope(ctx context.Context) *ExecutionScope {
	s := &ExecutionScope{}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	return s
}

// Context returns the scope context
func (s *ExecutionScope) Context() context.Context {
	return s.ctx
}

// Bind cancels the scope if step is cancelled before the returned stop
// function is called. A step blocked on the source is interrupted this way.
func (s *ExecutionScope) Bind(step context.Context) (stop func() bool) {
	return context.AfterFunc(step, s.cancel)
}

// Cancel cancels the scope
func (s *ExecutionScope) Cancel() {
	s.cancel()
}

// Err returns the scope's cancellation error
func (s *ExecutionScope) Err() error {
	return s.ctx.Err()
}
