// Package usage buffers request-lifecycle events and flushes them to the
// persistent store in timed batches, keeping billing/audit writes off the
// request path.
package usage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/HanTheDev/embedding-service/internal/models"
)

// Store is the batched write contract against the persistent store.
type Store interface {
	InsertRequestsStarted(ctx context.Context, events []models.RequestStarted) error
	UpdateRequestsCompleted(ctx context.Context, events []models.RequestCompleted) error
	InsertUsageEvents(ctx context.Context, events []models.RequestCompleted) error
}

// Recorder buffers started/completed events in memory. Record calls only
// take a mutex and an append, so they return regardless of store
// latency. A background loop drains the buffers every interval; failed
// batches are requeued for the next attempt, bounded by bufferLimit so a
// sustained outage cannot grow memory without limit. Exceeding the bound
// drops the oldest events and logs the loss.
type Recorder struct {
	store    Store
	logger   *zap.Logger
	interval time.Duration
	limit    int

	mu        sync.Mutex
	started   []models.RequestStarted
	completed []models.RequestCompleted

	dropped atomic.Int64
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewRecorder builds a recorder and starts its flush loop.
func NewRecorder(store Store, interval time.Duration, bufferLimit int, logger *zap.Logger) *Recorder {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if bufferLimit <= 0 {
		bufferLimit = 10000
	}
	r := &Recorder{
		store:    store,
		logger:   logger,
		interval: interval,
		limit:    bufferLimit,
		done:     make(chan struct{}),
	}
	r.wg.Add(1)
	go r.flushLoop()
	return r
}

// RecordStarted enqueues an insert-shaped event for a request that just
// arrived. Never blocks on I/O.
func (r *Recorder) RecordStarted(event models.RequestStarted) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.started) >= r.limit {
		r.started = r.started[1:]
		r.dropped.Add(1)
		r.logger.Error("usage buffer overflow, dropping oldest started event")
	}
	r.started = append(r.started, event)
}

// RecordCompleted enqueues an update-shaped event for a finished request.
// Never blocks on I/O.
func (r *Recorder) RecordCompleted(event models.RequestCompleted) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.completed) >= r.limit {
		r.completed = r.completed[1:]
		r.dropped.Add(1)
		r.logger.Error("usage buffer overflow, dropping oldest completed event")
	}
	r.completed = append(r.completed, event)
}

// Dropped returns how many events were lost to buffer overflow.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Flush drains both buffers and writes them in batches. Failed batches
// go back on the buffer for the next attempt.
func (r *Recorder) Flush(ctx context.Context) {
	r.mu.Lock()
	started := r.started
	completed := r.completed
	r.started = nil
	r.completed = nil
	r.mu.Unlock()

	if len(started) > 0 {
		if err := r.store.InsertRequestsStarted(ctx, started); err != nil {
			r.logger.Error("usage flush failed, requeueing started events",
				zap.Int("count", len(started)), zap.Error(err))
			r.requeueStarted(started)
		}
	}

	if len(completed) > 0 {
		err := r.store.UpdateRequestsCompleted(ctx, completed)
		if err == nil {
			// Updates are idempotent per request id, so a retry after a
			// failed usage insert cannot corrupt the request log. Only
			// successes bill: a rejected or failed request must not count
			// against the quota aggregate.
			if successes := successful(completed); len(successes) > 0 {
				err = r.store.InsertUsageEvents(ctx, successes)
			}
		}
		if err != nil {
			r.logger.Error("usage flush failed, requeueing completed events",
				zap.Int("count", len(completed)), zap.Error(err))
			r.requeueCompleted(completed)
		}
	}
}

func successful(events []models.RequestCompleted) []models.RequestCompleted {
	out := make([]models.RequestCompleted, 0, len(events))
	for _, e := range events {
		if e.Status == models.StatusSuccess {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) requeueStarted(events []models.RequestStarted) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(events, r.started...)
	if overflow := len(r.started) - r.limit; overflow > 0 {
		r.started = r.started[overflow:]
		r.dropped.Add(int64(overflow))
		r.logger.Error("usage buffer overflow after requeue", zap.Int("dropped", overflow))
	}
}

func (r *Recorder) requeueCompleted(events []models.RequestCompleted) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(events, r.completed...)
	if overflow := len(r.completed) - r.limit; overflow > 0 {
		r.completed = r.completed[overflow:]
		r.dropped.Add(int64(overflow))
		r.logger.Error("usage buffer overflow after requeue", zap.Int("dropped", overflow))
	}
}

func (r *Recorder) flushLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Flush(context.Background())
		case <-r.done:
			return
		}
	}
}

// Close stops the flush loop and performs a final flush.
func (r *Recorder) Close() {
	r.once.Do(func() {
		close(r.done)
		r.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		r.Flush(ctx)
	})
}
