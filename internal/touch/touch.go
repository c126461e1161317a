// Package touch runs best-effort session activity updates off the request
// path. Requests are queued without blocking; when the queue is full the
// update is dropped and counted. Duplicate requests for a session already
// waiting in the queue are coalesced.
package touch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Toucher performs one activity update.
type Toucher interface {
	Touch(ctx context.Context, sessionID string, at time.Time) error
}

// Config controls queue size and per-write timeout.
type Config struct {
	Workers    int
	BufferSize int
	Timeout    time.Duration
}

type request struct {
	sessionID string
	at        time.Time
}

// Queue is a bounded, non-blocking activity-touch queue. A nil Queue
// discards requests.
type Queue struct {
	target  Toucher
	log     *zap.Logger
	timeout time.Duration

	ch      chan request
	done    chan struct{}
	wg      sync.WaitGroup
	pending sync.Map

	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// New starts cfg.Workers goroutines draining into target.
func New(cfg Config, target Toucher, log *zap.Logger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	q := &Queue{
		target:  target,
		log:     log,
		timeout: cfg.Timeout,
		ch:      make(chan request, cfg.BufferSize),
		done:    make(chan struct{}),
	}
	q.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go q.run()
	}
	return q
}

// Enqueue schedules a touch and never blocks. It reports whether the request
// was accepted or coalesced.
func (q *Queue) Enqueue(sessionID string, at time.Time) bool {
	if q == nil || q.closed.Load() {
		return false
	}
	if _, dup := q.pending.LoadOrStore(sessionID, struct{}{}); dup {
		return true
	}
	select {
	case q.ch <- request{sessionID: sessionID, at: at}:
		return true
	default:
		q.pending.Delete(sessionID)
		q.dropped.Add(1)
		return false
	}
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case r := <-q.ch:
			q.apply(r)
		case <-q.done:
			for {
				select {
				case r := <-q.ch:
					q.apply(r)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) apply(r request) {
	q.pending.Delete(r.sessionID)
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	if err := q.target.Touch(ctx, r.sessionID, r.at); err != nil {
		q.failed.Add(1)
		q.log.Debug("session touch failed", zap.String("session_id", r.sessionID), zap.Error(err))
	}
}

// Close stops accepting requests and drains the queue.
func (q *Queue) Close() {
	if q == nil {
		return
	}
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.done)
		q.wg.Wait()
	})
}

// Dropped returns how many requests were discarded on a full queue.
func (q *Queue) Dropped() uint64 {
	if q == nil {
		return 0
	}
	return q.dropped.Load()
}

// Failed returns how many touches returned an error.
func (q *Queue) Failed() uint64 {
	if q == nil {
		return 0
	}
	return q.failed.Load()
}
