package bigquery

import (
	"context"
	"math/big"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/ajitpratap0/federate/pkg/connector/core"
	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/message"
)

// queryJob is the part of *bigquery.Job an execution drives
type queryJob interface {
	ID() string
	Status(ctx context.Context) (*bigquery.JobStatus, error)
	Read(ctx context.Context) (rowIterator, error)
	Cancel(ctx context.Context) error
}

// rowIterator is implemented by *bigquery.RowIterator
type rowIterator interface {
	Next(dst interface{}) error
}

type jobAdapter struct {
	*bigquery.Job
}

func (j jobAdapter) Read(ctx context.Context) (rowIterator, error) {
	return j.Job.Read(ctx)
}

func isDone(err error) bool {
	return err == iterator.Done
}

type execution struct {
	run          func(ctx context.Context) (queryJob, error)
	symbols      []message.Symbol
	pollInterval time.Duration
	scope        *core.ExecutionScope
	logger       *zap.Logger

	mu   sync.Mutex
	job  queryJob
	rows rowIterator
	done bool
}

func (e *execution) Execute(ctx context.Context) error {
	stop := e.scope.Bind(ctx)
	defer stop()

	job, err := e.run(e.scope.Context())
	if err != nil {
		if ctx.Err() != nil || e.scope.Err() != nil {
			return errors.Wrap(err, errors.ErrorTypeCancelled, "query submission interrupted")
		}
		return err
	}
	e.mu.Lock()
	e.job = job
	e.mu.Unlock()
	if e.logger != nil {
		e.logger.Debug("query job submitted", zap.String("job_id", job.ID()))
	}
	return nil
}

func (e *execution) Next(ctx context.Context) (message.Row, error) {
	e.mu.Lock()
	job, done := e.job, e.done
	e.mu.Unlock()
	if done {
		return nil, nil
	}
	if job == nil {
		return nil, errors.New(errors.ErrorTypeProcessing, "query was not executed")
	}
	if err := e.scope.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCancelled, "query cancelled")
	}

	stop := e.scope.Bind(ctx)
	defer stop()
	sctx := e.scope.Context()

	if e.rows == nil {
		status, err := job.Status(sctx)
		if err != nil {
			return nil, e.interrupted(ctx, err)
		}
		if !status.Done() {
			return nil, core.NotAvailable(e.pollInterval)
		}
		if err := status.Err(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeTranslator, "query job failed").
				WithDetail("job_id", job.ID())
		}
		if e.rows, err = job.Read(sctx); err != nil {
			return nil, e.interrupted(ctx, err)
		}
	}

	var values []bigquery.Value
	if err := e.rows.Next(&values); err != nil {
		if isDone(err) {
			e.mu.Lock()
			e.done = true
			e.mu.Unlock()
			return nil, nil
		}
		return nil, e.interrupted(ctx, err)
	}

	plain := make([]interface{}, len(values))
	for i, v := range values {
		plain[i] = Normalize(v)
	}
	if len(e.symbols) == 0 {
		return plain, nil
	}
	for i, s := range e.symbols {
		if i >= len(plain) {
			break
		}
		if s.Type == message.TypeString || s.Type == message.TypeClob {
			if nested, ok := plain[i].([]interface{}); ok {
				encoded, err := json.Marshal(nested)
				if err != nil {
					return nil, errors.Wrap(err, errors.ErrorTypeTranslator, "failed to encode repeated value").
						WithDetail("column", s.Name)
				}
				plain[i] = string(encoded)
			}
		}
	}
	return core.CoerceRow(plain, e.symbols)
}

func (e *execution) interrupted(ctx context.Context, err error) error {
	if ctx.Err() != nil || e.scope.Err() != nil {
		return errors.Wrap(err, errors.ErrorTypeCancelled, "query interrupted")
	}
	return err
}

// Cancel asks BigQuery to stop the job
func (e *execution) Cancel() error {
	e.scope.Cancel()
	e.mu.Lock()
	job, done := e.job, e.done
	e.mu.Unlock()
	if job != nil && !done {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return job.Cancel(ctx)
	}
	return nil
}

func (e *execution) Close() error {
	e.mu.Lock()
	e.done = true
	e.mu.Unlock()
	e.scope.Cancel()
	return nil
}

// Normalize converts BigQuery values to the plain Go values rows carry:
// civil dates and datetimes become UTC times, NUMERIC values decimal
// strings and repeated or record values slices.
func Normalize(v bigquery.Value) interface{} {
	switch x := v.(type) {
	case civil.Date:
		return x.In(time.UTC)
	case civil.DateTime:
		return x.In(time.UTC)
	case civil.Time:
		return x.String()
	case *big.Rat:
		if x == nil {
			return nil
		}
		return bigquery.NumericString(x)
	case []bigquery.Value:
		out := make([]interface{}, len(x))
		for i, el := range x {
			out[i] = Normalize(el)
		}
		return out
	default:
		return v
	}
}
