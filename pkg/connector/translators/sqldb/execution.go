package sqldb

import (
	"context"
	"sync"

	"github.com/ajitpratap0/federate/pkg/connector/core"
	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/message"
)

// queryExecution streams the rows of a query. The cursor lives in the
// execution scope and is read across several engine calls.
type queryExecution struct {
	conn    conn
	scope   *core.ExecutionScope
	text    string
	args    []interface{}
	symbols []message.Symbol

	mu   sync.Mutex
	rows rowIter
	done bool
}

func (e *queryExecution) Execute(ctx context.Context) error {
	stop := e.scope.Bind(ctx)
	defer stop()

	rows, err := e.conn.query(e.scope.Context(), e.text, e.args)
	if err != nil {
		return e.interrupted(ctx, err)
	}
	e.mu.Lock()
	e.rows = rows
	e.mu.Unlock()
	return nil
}

func (e *queryExecution) Next(ctx context.Context) (message.Row, error) {
	e.mu.Lock()
	rows, done := e.rows, e.done
	e.mu.Unlock()
	if done {
		return nil, nil
	}
	if rows == nil {
		return nil, errors.New(errors.ErrorTypeProcessing, "query was not executed")
	}

	stop := e.scope.Bind(ctx)
	defer stop()

	if !rows.Next() {
		err := rows.Err()
		e.finish()
		if err != nil {
			return nil, e.interrupted(ctx, err)
		}
		return nil, nil
	}
	values, err := rows.Values()
	if err != nil {
		return nil, e.interrupted(ctx, err)
	}
	if len(e.symbols) == 0 {
		return values, nil
	}
	return core.CoerceRow(values, e.symbols)
}

// interrupted reports a cancelled error when the step or the scope ended
// the source call
func (e *queryExecution) interrupted(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.Wrap(ctx.Err(), errors.ErrorTypeCancelled, "query interrupted")
	}
	if e.scope.Err() != nil {
		return errors.Wrap(e.scope.Err(), errors.ErrorTypeCancelled, "query cancelled")
	}
	return err
}

func (e *queryExecution) finish() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.done = true
	if e.rows != nil {
		e.rows.Close()
	}
}

func (e *queryExecution) Cancel() error {
	e.scope.Cancel()
	return nil
}

func (e *queryExecution) Close() error {
	e.finish()
	e.scope.Cancel()
	return nil
}

// procedureExecution runs CALL. Output parameters are read from the single
// row the call returns when no result columns are projected.
type procedureExecution struct {
	queryExecution
	outSymbols []message.Symbol
	out        []interface{}
}

func (e *procedureExecution) Next(ctx context.Context) (message.Row, error) {
	if len(e.queryExecution.symbols) > 0 || len(e.outSymbols) == 0 {
		return e.queryExecution.Next(ctx)
	}

	e.mu.Lock()
	rows, done := e.rows, e.done
	e.mu.Unlock()
	if done {
		return nil, nil
	}
	if rows == nil {
		return nil, errors.New(errors.ErrorTypeProcessing, "procedure was not executed")
	}

	stop := e.scope.Bind(ctx)
	defer stop()
	defer e.finish()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, e.interrupted(ctx, err)
		}
		return nil, errors.New(errors.ErrorTypeTranslator, "procedure returned no output parameters")
	}
	values, err := rows.Values()
	if err != nil {
		return nil, e.interrupted(ctx, err)
	}
	out, err := core.CoerceRow(values, e.outSymbols)
	if err != nil {
		return nil, err
	}
	e.out = out
	return nil, nil
}

func (e *procedureExecution) OutputParameterValues() ([]interface{}, error) {
	if len(e.outSymbols) == 0 {
		return nil, nil
	}
	return e.out, nil
}

// updateExecution runs a statement that reports an update count
type updateExecution struct {
	conn  conn
	scope *core.ExecutionScope
	text  string
	args  []interface{}

	mu    sync.Mutex
	count int64
	ran   bool
}

func (e *updateExecution) Execute(ctx context.Context) error {
	stop := e.scope.Bind(ctx)
	defer stop()

	n, err := e.conn.exec(e.scope.Context(), e.text, e.args)
	if err != nil {
		if ctx.Err() != nil || e.scope.Err() != nil {
			return errors.Wrap(err, errors.ErrorTypeCancelled, "update interrupted")
		}
		return err
	}
	e.mu.Lock()
	e.count, e.ran = n, true
	e.mu.Unlock()
	return nil
}

func (e *updateExecution) UpdateCounts() ([]int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ran {
		return nil, errors.New(errors.ErrorTypeProcessing, "statement was not executed")
	}
	return []int64{e.count}, nil
}

func (e *updateExecution) Cancel() error {
	e.scope.Cancel()
	return nil
}

func (e *updateExecution) Close() error {
	e.scope.Cancel()
	return nil
}
