package upload

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/objectgate/gateway/pkg/blob"
)

// deletionRequest schedules one superseded blob version for async removal.
type deletionRequest struct {
	key     string
	version string
}

// DeletionQueue processes blob deletions in the background, decoupling
// CompleteUpload's commit latency from removing the superseded version's
// bytes (§4.F versioning rule: never delete before the new row commits).
type DeletionQueue struct {
	backend blob.Backend
	logger  *slog.Logger

	queue     chan deletionRequest
	workers   int
	wg        sync.WaitGroup
	stopCh    chan struct{}
	stoppedCh chan struct{}

	mu        sync.Mutex
	started   bool
	pending   int
	completed int
	failed    int
}

// DeletionQueueConfig configures a DeletionQueue.
type DeletionQueueConfig struct {
	// QueueSize is the maximum number of pending deletion requests. Default 1000.
	QueueSize int
	// Workers is the number of concurrent deletion workers. Default 4.
	Workers int
	Logger  *slog.Logger
}

// NewDeletionQueue creates a DeletionQueue over backend.
func NewDeletionQueue(backend blob.Backend, cfg DeletionQueueConfig) *DeletionQueue {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &DeletionQueue{
		backend:   backend,
		logger:    cfg.Logger,
		queue:     make(chan deletionRequest, cfg.QueueSize),
		workers:   cfg.Workers,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Start begins processing deletion requests. Idempotent.
func (q *DeletionQueue) Start() {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	go func() {
		q.wg.Wait()
		close(q.stoppedCh)
	}()
}

// Stop gracefully shuts down the queue, draining pending deletions up to timeout.
func (q *DeletionQueue) Stop(timeout time.Duration) {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()

	close(q.stopCh)
	select {
	case <-q.stoppedCh:
	case <-time.After(timeout):
		q.logger.Warn("deletion queue stop timed out", "pending", q.Pending())
	}
}

// Schedule enqueues the blob at key/version for deletion. Returns false if
// the queue is full; callers should log and move on (orphaned blobs are
// swept by out-of-band garbage collection, not retried inline).
func (q *DeletionQueue) Schedule(key, version string) bool {
	select {
	case q.queue <- deletionRequest{key: key, version: version}:
		q.mu.Lock()
		q.pending++
		q.mu.Unlock()
		return true
	default:
		q.logger.Warn("deletion queue full, dropping request", "key", key, "version", version)
		return false
	}
}

// Pending returns the number of outstanding deletion requests.
func (q *DeletionQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

func (q *DeletionQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stopCh:
			q.drain()
			return
		case req, ok := <-q.queue:
			if !ok {
				return
			}
			q.process(req)
		}
	}
}

func (q *DeletionQueue) drain() {
	for {
		select {
		case req, ok := <-q.queue:
			if !ok {
				return
			}
			q.process(req)
		default:
			return
		}
	}
}

func (q *DeletionQueue) process(req deletionRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := q.backend.Delete(ctx, req.key, req.version)

	q.mu.Lock()
	q.pending--
	if err != nil {
		q.failed++
		q.logger.Error("superseded blob deletion failed", "key", req.key, "version", req.version, "error", err)
	} else {
		q.completed++
	}
	q.mu.Unlock()
}
