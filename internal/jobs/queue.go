package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jo-hoe/transcriptworker/internal/common"
)

// ErrQueueFull is returned by Enqueue when no capacity is left.
var ErrQueueFull = errors.New("queue is full")

// WorkItem carries one raw job submission from ingress to a worker.
// The payload is decoded by the processor so that malformed jobs still get
// an error callback.
type WorkItem struct {
	RequestID  string
	JobID      string // best-effort, for logging only
	Payload    []byte
	ReceivedAt time.Time
}

// Processor defines how to process a WorkItem.
type Processor interface {
	Process(ctx context.Context, item WorkItem) error
}

// Queue is an in-memory bounded queue for WorkItems with a worker pool.
// Each item runs under its own execution ceiling.
type Queue struct {
	log        *slog.Logger
	ch         chan WorkItem
	workers    int
	jobTimeout time.Duration
	wg         sync.WaitGroup
	cancelOnce sync.Once
	cancel     context.CancelFunc
	started    bool
	mu         sync.Mutex
}

// NewQueue creates a new Queue with the given capacity, worker count and
// per-job timeout (0 disables the ceiling).
func NewQueue(logger *slog.Logger, capacity int, workers int, jobTimeout time.Duration) *Queue {
	if capacity <= 0 {
		capacity = common.DefaultQueueCapacity
	}
	if workers <= 0 {
		workers = common.DefaultWorkerCount
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Queue{
		log:        logger,
		ch:         make(chan WorkItem, capacity),
		workers:    workers,
		jobTimeout: jobTimeout,
	}
}

// Start launches worker goroutines that consume WorkItems and process them using the provided Processor.
func (q *Queue) Start(ctx context.Context, p Processor) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return errors.New("queue already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, p, i)
	}
	q.started = true
	return nil
}

// worker drains the channel until Shutdown closes it. Items already
// accepted are processed even after the parent context is cancelled, so
// every accepted job still produces its outcome.
func (q *Queue) worker(ctx context.Context, p Processor, idx int) {
	defer q.wg.Done()
	log := q.log.With("worker", idx)
	for item := range q.ch {
		q.run(ctx, p, item, log.With("job_id", item.JobID, "request_id", item.RequestID))
	}
	log.Debug("queue closed, worker exiting")
}

// run processes one item. A started job is not cancelled by shutdown; only
// the execution ceiling bounds it.
func (q *Queue) run(ctx context.Context, p Processor, item WorkItem, log *slog.Logger) {
	ctx = context.WithoutCancel(ctx)
	if q.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.jobTimeout)
		defer cancel()
	}
	log.Info("processing job", "queued_for", time.Since(item.ReceivedAt).Round(time.Millisecond))
	start := time.Now()
	if err := p.Process(ctx, item); err != nil {
		log.Error("job processing failed", "err", err, "duration", time.Since(start))
		return
	}
	log.Info("job processed", "duration", time.Since(start))
}

// Enqueue adds a WorkItem to the queue without blocking.
func (q *Queue) Enqueue(item WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started {
		return errors.New("queue not started")
	}
	if item.ReceivedAt.IsZero() {
		item.ReceivedAt = time.Now().UTC()
	}
	select {
	case q.ch <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting work and waits, up to the provided deadline, for
// workers to finish the running and buffered items.
func (q *Queue) Shutdown(deadline time.Duration) {
	q.cancelOnce.Do(func() {
		q.mu.Lock()
		if q.cancel != nil {
			q.cancel()
		}
		close(q.ch)
		q.started = false
		q.mu.Unlock()

		done := make(chan struct{})
		go func() {
			defer close(done)
			q.wg.Wait()
		}()

		if deadline <= 0 {
			<-done
			return
		}

		timer := time.NewTimer(deadline)
		defer timer.Stop()
		select {
		case <-done:
			return
		case <-timer.C:
			q.log.Warn("queue shutdown deadline reached; workers may still be running", "pending", len(q.ch))
		}
	})
}
