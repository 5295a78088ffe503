// Package queue serializes turns per session while bounding how many
// sessions are processed at once.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrQueueFull is returned when a session lane has no room left.
	ErrQueueFull = errors.New("session queue full")
	// ErrStopped is returned for jobs submitted after Stop.
	ErrStopped = errors.New("queue stopped")
)

// laneIdleTimeout is how long an empty lane's goroutine lingers.
const laneIdleTimeout = time.Minute

// Func is one unit of work for a session.
type Func func(ctx context.Context) error

type job struct {
	fn   Func
	done chan error
}

type lane struct {
	ch chan job
}

// Queue runs jobs in FIFO order per session. A global semaphore limits the
// number of sessions processed concurrently.
type Queue struct {
	lanes      map[string]*lane
	semaphore  *semaphore.Weighted
	maxPending int
	active     atomic.Int64
	logger     *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// New creates a queue. It is usable immediately and stops when ctx is done
// or Stop is called.
func New(ctx context.Context, maxConcurrent int64, maxPending int, logger *slog.Logger) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if maxPending < 1 {
		maxPending = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	qctx, cancel := context.WithCancel(ctx)
	return &Queue{
		lanes:      make(map[string]*lane),
		semaphore:  semaphore.NewWeighted(maxConcurrent),
		maxPending: maxPending,
		logger:     logger.With("component", "session_queue"),
		ctx:        qctx,
		cancel:     cancel,
	}
}

// Submit enqueues fn on the lane of sessionID. The returned channel receives
// exactly one value: the result of fn, ErrQueueFull, or the queue's
// cancellation error if fn never ran.
func (q *Queue) Submit(sessionID string, fn Func) <-chan error {
	done := make(chan error, 1)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped || q.ctx.Err() != nil {
		done <- ErrStopped
		return done
	}

	l, ok := q.lanes[sessionID]
	if !ok {
		l = &lane{ch: make(chan job, q.maxPending)}
		q.lanes[sessionID] = l
		q.wg.Add(1)
		go q.processLane(sessionID, l)
	}

	select {
	case l.ch <- job{fn: fn, done: done}:
	default:
		q.logger.Warn("Session queue full, rejecting job", "session_id", sessionID, "max_pending", q.maxPending)
		done <- fmt.Errorf("%w: session %s", ErrQueueFull, sessionID)
	}
	return done
}

// Do submits fn and waits for its result or for ctx to be done. fn receives
// the queue's context, so a caller giving up does not cancel a running job.
func (q *Queue) Do(ctx context.Context, sessionID string, fn Func) error {
	select {
	case err := <-q.Submit(sessionID, fn):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) processLane(sessionID string, l *lane) {
	defer q.wg.Done()

	idle := time.NewTimer(laneIdleTimeout)
	defer idle.Stop()

	for {
		if q.ctx.Err() != nil {
			q.drain(l)
			return
		}

		select {
		case j := <-l.ch:
			if q.ctx.Err() != nil {
				j.done <- q.ctx.Err()
				continue
			}
			q.run(sessionID, j)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(laneIdleTimeout)

		case <-idle.C:
			q.mu.Lock()
			if len(l.ch) == 0 {
				delete(q.lanes, sessionID)
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			idle.Reset(laneIdleTimeout)

		case <-q.ctx.Done():
			q.drain(l)
			return
		}
	}
}

func (q *Queue) run(sessionID string, j job) {
	if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
		j.done <- err
		return
	}
	defer q.semaphore.Release(1)

	q.active.Add(1)
	defer q.active.Add(-1)

	err := q.safeCall(j.fn)
	if err != nil {
		q.logger.Error("Session job failed", "session_id", sessionID, "error", err)
	}
	j.done <- err
}

func (q *Queue) safeCall(fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session job panicked: %v", r)
		}
	}()
	return fn(q.ctx)
}

func (q *Queue) drain(l *lane) {
	for {
		select {
		case j := <-l.ch:
			j.done <- q.ctx.Err()
		default:
			return
		}
	}
}

// Active returns the number of jobs currently running.
func (q *Queue) Active() int64 {
	return q.active.Load()
}

// Stop cancels pending jobs and waits for running ones to return.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}

// WaitIdle blocks until no job is running or the timeout expires. It
// reports whether the queue became idle.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}
