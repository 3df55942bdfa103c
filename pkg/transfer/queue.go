// Package transfer moves host samples to device images on a background
// worker so that preparing the next frame overlaps with uploading this one.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jpfielding/dwtgpu.go/pkg/compute"
)

var (
	ErrClosed         = errors.New("transfer queue closed")
	ErrInvalidRequest = errors.New("transfer request has no source or destination")
)

// Writer is the part of compute.Device the worker needs.
type Writer interface {
	Write(dst compute.Buffer, r compute.Region, src []float32, blocking bool) error
}

// Request is one upload. Src must stay untouched until the request has been
// waited for or drained.
type Request struct {
	Dst    compute.Buffer
	Region compute.Region
	Src    []float32
}

// Stats counts requests over the life of the queue.
type Stats struct {
	Enqueued  int
	Processed int
	Failed    int
}

// Queue is an unbounded FIFO served by a single worker goroutine. Enqueue
// never blocks; each request is submitted to the device exactly once, as a
// non-blocking write, in enqueue order.
type Queue struct {
	w    Writer
	mu   sync.Mutex
	cond *sync.Cond

	items  []Request
	closed bool
	stats  Stats
	errs   []error // failures since the last Drain

	done chan struct{}
}

// New starts the worker.
func New(w Writer) *Queue {
	q := &Queue{w: w, done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Enqueue appends r and wakes the worker.
func (q *Queue) Enqueue(r Request) error {
	_, err := q.Submit(r)
	return err
}

// Submit is Enqueue returning the ticket of r, which Wait accepts. Tickets
// start at 1 and follow enqueue order.
func (q *Queue) Submit(r Request) (int, error) {
	if r.Dst == nil || r.Src == nil {
		return 0, ErrInvalidRequest
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}
	q.items = append(q.items, r)
	q.stats.Enqueued++
	q.cond.Broadcast()
	return q.stats.Enqueued, nil
}

// pop blocks until a request is available. ok is false once the queue is
// closed and empty.
func (q *Queue) pop() (r Request, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return Request{}, false
	}
	r = q.items[0]
	q.items[0] = Request{}
	q.items = q.items[1:]
	return r, true
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		r, ok := q.pop()
		if !ok {
			return
		}
		err := q.w.Write(r.Dst, r.Region, r.Src, false)
		q.mu.Lock()
		q.stats.Processed++
		if err != nil {
			q.stats.Failed++
			q.errs = append(q.errs, fmt.Errorf("upload to image %d: %w", r.Dst.ID(), err))
		}
		q.cond.Broadcast()
		q.mu.Unlock()
		if err != nil {
			slog.Error("transfer failed",
				slog.Uint64("image", r.Dst.ID()),
				slog.Any("region", r.Region),
				slog.Any("error", err))
		}
	}
}

// Drain waits until every request enqueued before the call has been
// submitted, then returns the failures collected since the previous Drain.
func (q *Queue) Drain(ctx context.Context) error {
	return q.wait(ctx, -1)
}

// Wait blocks until the request holding ticket, and so every request before
// it, has been submitted. Later requests are not waited for. Failures are
// collected and reported as by Drain.
func (q *Queue) Wait(ctx context.Context, ticket int) error {
	if ticket <= 0 {
		return nil
	}
	return q.wait(ctx, ticket)
}

// Done reports whether the request holding ticket has been submitted.
func (q *Queue) Done(ticket int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats.Processed >= ticket
}

// wait blocks until target requests have been processed; a negative target
// means everything enqueued so far.
func (q *Queue) wait(ctx context.Context, target int) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	if target < 0 {
		target = q.stats.Enqueued
	}
	for q.stats.Processed < target {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.cond.Wait()
	}
	errs := q.errs
	q.errs = nil
	return errors.Join(errs...)
}

// Pending reports how many requests wait for the worker.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats returns a snapshot of the counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Close stops accepting requests, lets the worker finish what is queued and
// joins it. It returns any failures not yet reported by Drain.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return nil
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	<-q.done

	q.mu.Lock()
	defer q.mu.Unlock()
	errs := q.errs
	q.errs = nil
	return errors.Join(errs...)
}
