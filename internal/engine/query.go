package engine

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/federate/pkg/connector/manager"
	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/logger"
	"github.com/ajitpratap0/federate/pkg/message"
	"github.com/ajitpratap0/federate/pkg/results"
)

// Request is a planned top-level request: one atomic request per source
// access.
type Request struct {
	ID     message.RequestID
	Atomic []*message.AtomicRequestMessage
}

// Query is an opened request with one cursor per atomic request.
type Query struct {
	ID      message.RequestID
	Cursors []*Cursor
}

// Close releases every cursor
func (q *Query) Close() {
	for _, c := range q.Cursors {
		c.Close()
	}
}

// Cursor pulls the assembled batches of one atomic request. A cursor whose
// request could not be routed returns that error from Next.
type Cursor struct {
	req       *message.AtomicRequestMessage
	item      *manager.ConnectorWorkItem
	assembler *results.Assembler
	err       error
	final     bool
	closeOnce sync.Once
}

// Source returns the source the cursor reads from
func (c *Cursor) Source() string {
	return c.req.Source
}

// Request returns the atomic request served by the cursor
func (c *Cursor) Request() *message.AtomicRequestMessage {
	return c.req
}

// Metadata describes the cursor's columns
func (c *Cursor) Metadata() *results.MetadataResult {
	return results.NewMetadataResult(c.req.Source, c.req.Command)
}

// Err returns the routing error of the cursor, if any
func (c *Cursor) Err() error {
	return c.err
}

// Next returns the next batch. It returns io.EOF once the final batch was
// returned.
func (c *Cursor) Next(ctx context.Context) (*results.ResultsMessage, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.final {
		return nil, io.EOF
	}
	batch, err := c.item.Next(ctx)
	if err != nil {
		c.err = err
		return nil, err
	}
	msg, err := c.assembler.Assemble(ctx, batch)
	if err != nil {
		c.err = err
		return nil, err
	}
	c.final = msg.IsFinal()
	return msg, nil
}

// Cancel cancels the atomic request
func (c *Cursor) Cancel() {
	if c.item != nil {
		c.item.Cancel()
	}
}

// Close releases the connector work
func (c *Cursor) Close() {
	c.closeOnce.Do(func() {
		if c.item != nil {
			c.item.Close()
		}
	})
}

// Open routes every atomic request of req and returns its cursors. Routing
// failures are confined to the affected cursor.
func (e *Engine) Open(ctx context.Context, req *Request) (*Query, error) {
	if len(req.Atomic) == 0 {
		return nil, errors.New(errors.ErrorTypeProcessing, "request has no atomic requests").
			WithDetail("request_id", req.ID.String())
	}
	e.mu.Lock()
	stopped := e.stopped
	e.mu.Unlock()
	if stopped {
		return nil, errors.New(errors.ErrorTypeRejected, "engine is stopped")
	}

	log := logger.FromContext(ctx, e.logger).With(zap.String("request_id", req.ID.String()))
	q := &Query{ID: req.ID}
	for _, a := range req.Atomic {
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now()
		}
		e.tx.Attach(a)
		c := &Cursor{req: a}
		q.Cursors = append(q.Cursors, c)

		m, err := e.repo.Route(a)
		if err == nil {
			c.item, err = m.NewWorkItem(a)
		}
		if err != nil {
			log.Warn("atomic request not routed",
				zap.String("atomic_request_id", a.ID.String()),
				zap.String("source", a.Source),
				zap.Error(err))
			c.err = err
			continue
		}
		c.assembler = results.NewAssembler(a, e.streams, e.cfg.Lob.InlineThreshold)
		log.Debug("atomic request routed",
			zap.String("atomic_request_id", a.ID.String()),
			zap.String("pool", m.Name()))
	}
	return q, nil
}

// Response holds the results of every source of a request. A source
// appears in Results or Failures, never both.
type Response struct {
	ID       message.RequestID
	Results  map[string][]*results.ResultsMessage
	Failures map[string]error
}

// Sources returns the sources that returned results, sorted
func (r *Response) Sources() []string {
	names := make([]string, 0, len(r.Results))
	for name := range r.Results {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Rows returns every row returned by source, in order
func (r *Response) Rows(source string) []message.Row {
	var rows []message.Row
	for _, msg := range r.Results[source] {
		rows = append(rows, msg.Rows...)
	}
	return rows
}

// Execute runs every atomic request of req to completion concurrently. A
// failing source does not affect the others. Unless partial results are
// enabled, any failure is also returned as the error, joined per source.
func (e *Engine) Execute(ctx context.Context, req *Request) (*Response, error) {
	q, err := e.Open(ctx, req)
	if err != nil {
		return nil, err
	}
	defer q.Close()

	type drained struct {
		source string
		msgs   []*results.ResultsMessage
		err    error
	}
	out := make([]drained, len(q.Cursors))
	var wg sync.WaitGroup
	for i, c := range q.Cursors {
		wg.Add(1)
		go func(i int, c *Cursor) {
			defer wg.Done()
			out[i].source = c.Source()
			for {
				msg, err := c.Next(ctx)
				if err == io.EOF {
					return
				}
				if err != nil {
					out[i].err = err
					return
				}
				out[i].msgs = append(out[i].msgs, msg)
			}
		}(i, c)
	}
	wg.Wait()

	resp := &Response{
		ID:       req.ID,
		Results:  make(map[string][]*results.ResultsMessage),
		Failures: make(map[string]error),
	}
	for _, d := range out {
		resp.Results[d.source] = append(resp.Results[d.source], d.msgs...)
		if d.err == nil {
			continue
		}
		if prev, ok := resp.Failures[d.source]; ok {
			resp.Failures[d.source] = errors.Join(prev, d.err)
		} else {
			resp.Failures[d.source] = d.err
		}
	}
	for source := range resp.Failures {
		// streams of discarded batches are never pulled
		for _, msg := range resp.Results[source] {
			for _, ref := range msg.LobReferences() {
				_ = e.streams.CloseStream(ctx, ref.StreamID)
			}
		}
		delete(resp.Results, source)
	}

	if len(resp.Failures) == 0 {
		return resp, nil
	}
	log := logger.FromContext(ctx, e.logger).With(zap.String("request_id", req.ID.String()))
	var errs []error
	for _, source := range sortedKeys(resp.Failures) {
		log.Warn("source failed", zap.String("source", source), zap.Error(resp.Failures[source]))
		errs = append(errs, resp.Failures[source])
	}
	if e.cfg.Results.PartialResults {
		return resp, nil
	}
	return resp, errors.Wrap(errors.Join(errs...), errors.ErrorTypeTranslator, "request failed").
		WithDetail("request_id", req.ID.String()).
		WithDetail("failed_sources", len(errs))
}

func sortedKeys(m map[string]error) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
