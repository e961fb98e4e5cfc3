package workmanager

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/ajitpratap0/federate/pkg/errors"
)

// Delegate is the underlying executor a pool dispatches admitted work to.
type Delegate interface {
	// StartWork runs run on a delegate goroutine and then calls done once
	// the delegate slot has been released. It returns an error, without
	// calling either function, when no slot becomes free within
	// wc.StartTimeout.
	StartWork(wc WorkContext, run func(), done func()) error
}

// BoundedDelegate runs work on goroutines limited by a weighted semaphore.
type BoundedDelegate struct {
	size int
	sem  *semaphore.Weighted
	wg   sync.WaitGroup
}

// NewBoundedDelegate creates a delegate with size slots
func NewBoundedDelegate(size int) *BoundedDelegate {
	if size <= 0 {
		size = 1
	}
	return &BoundedDelegate{
		size: size,
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

// Size returns the number of slots
func (d *BoundedDelegate) Size() int {
	return d.size
}

// StartWork implements Delegate
func (d *BoundedDelegate) StartWork(wc WorkContext, run func(), done func()) error {
	if wc.StartTimeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), wc.StartTimeout)
		defer cancel()
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return errors.Wrap(ErrRejected, errors.ErrorTypeRejected, "no delegate slot within start timeout").
				WithDetail("start_timeout", wc.StartTimeout.String()).
				WithDetail("request_id", wc.RequestID)
		}
	} else if !d.sem.TryAcquire(1) {
		return errors.Wrap(ErrRejected, errors.ErrorTypeRejected, "no delegate slot available").
			WithDetail("request_id", wc.RequestID)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		func() {
			defer d.sem.Release(1)
			run()
		}()
		done()
	}()
	return nil
}

// Wait blocks until every started goroutine has returned
func (d *BoundedDelegate) Wait() {
	d.wg.Wait()
}
