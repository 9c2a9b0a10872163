package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type noopProcessor struct {
	count int32
	fail  bool
}

func (p *noopProcessor) Process(ctx context.Context, item WorkItem) error {
	atomic.AddInt32(&p.count, 1)
	if p.fail {
		return errors.New("fail")
	}
	return nil
}

func TestQueue_StartEnqueueShutdown(t *testing.T) {
	q := NewQueue(discardLogger(), 2, 1, 0)
	p := &noopProcessor{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.Start(ctx, p); err != nil {
		t.Fatalf("queue start: %v", err)
	}

	if err := q.Enqueue(WorkItem{JobID: "id1", Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&p.count) < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if atomic.LoadInt32(&p.count) < 1 {
		t.Fatalf("expected processor to be called at least once")
	}

	q.Shutdown(2 * time.Second)
	if err := q.Enqueue(WorkItem{JobID: "late"}); err == nil {
		t.Fatalf("enqueue after shutdown should error")
	}
}

func TestQueue_EnqueueBeforeStartFails(t *testing.T) {
	q := NewQueue(discardLogger(), 1, 1, 0)
	if err := q.Enqueue(WorkItem{JobID: "x"}); err == nil {
		t.Fatalf("enqueue before start should error")
	}
}

// blockingProcessor holds every job until released.
type blockingProcessor struct {
	started chan struct{}
	release chan struct{}
	mu      sync.Mutex
	ctxErrs []error
}

func (p *blockingProcessor) Process(ctx context.Context, item WorkItem) error {
	p.started <- struct{}{}
	<-p.release
	p.mu.Lock()
	p.ctxErrs = append(p.ctxErrs, ctx.Err())
	p.mu.Unlock()
	return nil
}

func TestQueue_FullReturnsErrQueueFull(t *testing.T) {
	q := NewQueue(discardLogger(), 1, 1, 0)
	p := &blockingProcessor{started: make(chan struct{}, 4), release: make(chan struct{})}
	if err := q.Start(context.Background(), p); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := q.Enqueue(WorkItem{JobID: "a"}); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	<-p.started // worker busy with a
	if err := q.Enqueue(WorkItem{JobID: "b"}); err != nil {
		t.Fatalf("enqueue b: %v", err)
	}
	if err := q.Enqueue(WorkItem{JobID: "c"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	close(p.release)
	q.Shutdown(2 * time.Second)
}

func TestQueue_ShutdownDoesNotCancelRunningJob(t *testing.T) {
	q := NewQueue(discardLogger(), 1, 1, 0)
	p := &blockingProcessor{started: make(chan struct{}, 1), release: make(chan struct{})}
	if err := q.Start(context.Background(), p); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := q.Enqueue(WorkItem{JobID: "a"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	<-p.started

	done := make(chan struct{})
	go func() {
		q.Shutdown(2 * time.Second)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	close(p.release)
	<-done

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ctxErrs) != 1 || p.ctxErrs[0] != nil {
		t.Fatalf("running job context should stay live, got %v", p.ctxErrs)
	}
}

type deadlineProcessor struct {
	deadline chan time.Duration
}

func (p *deadlineProcessor) Process(ctx context.Context, item WorkItem) error {
	d, ok := ctx.Deadline()
	if !ok {
		p.deadline <- 0
		return nil
	}
	p.deadline <- time.Until(d)
	return nil
}

func TestQueue_AppliesExecutionCeiling(t *testing.T) {
	q := NewQueue(discardLogger(), 1, 1, time.Hour)
	p := &deadlineProcessor{deadline: make(chan time.Duration, 1)}
	if err := q.Start(context.Background(), p); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer q.Shutdown(time.Second)
	if err := q.Enqueue(WorkItem{JobID: "a"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case d := <-p.deadline:
		if d <= 0 || d > time.Hour {
			t.Fatalf("unexpected remaining deadline %v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("job not processed")
	}
}

func TestQueue_ShutdownDrainsBufferedItems(t *testing.T) {
	q := NewQueue(discardLogger(), 4, 1, 0)
	p := &blockingProcessor{started: make(chan struct{}, 4), release: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	if err := q.Start(ctx, p); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(WorkItem{JobID: id}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	<-p.started // worker busy with a; b and c are buffered
	cancel()

	done := make(chan struct{})
	go func() {
		q.Shutdown(2 * time.Second)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	close(p.release)
	<-done

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ctxErrs) != 3 {
		t.Fatalf("expected all 3 accepted items processed, got %d", len(p.ctxErrs))
	}
	for i, err := range p.ctxErrs {
		if err != nil {
			t.Fatalf("item %d ran with a cancelled context: %v", i, err)
		}
	}
}
