package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/merlinn-co/merlinn/pkg/metrics"
)

// WorkerPool is the in-process Dispatcher: tasks go onto a bounded channel
// and a fixed set of workers hand them to the Builder.
type WorkerPool struct {
	podID     string
	size      int
	builder   Builder
	onFailure FailureHandler
	tasks     chan BuildTask
	workers   []*Worker
	stopCh    chan struct{}
	stopOnce  sync.Once
	mu        sync.RWMutex
	started   bool
	stopped   bool
}

// NewWorkerPool creates a new worker pool. onFailure may be nil.
func NewWorkerPool(podID string, workerCount, queueSize int, builder Builder, onFailure FailureHandler) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &WorkerPool{
		podID:     podID,
		size:      workerCount,
		builder:   builder,
		onFailure: onFailure,
		tasks:     make(chan BuildTask, queueSize),
		workers:   make([]*Worker, 0, workerCount),
		stopCh:    make(chan struct{}),
	}
}

// Start spawns worker goroutines.
// It is safe to call multiple times; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return nil
	}
	p.started = true

	slog.Info("Starting worker pool", "pod_id", p.podID, "worker_count", p.size, "queue_size", cap(p.tasks))

	for i := 0; i < p.size; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		worker := NewWorker(workerID, p.tasks, p.builder, p.onFailure)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	slog.Info("Worker pool started")
	return nil
}

// Dispatch queues task without blocking.
func (p *WorkerPool) Dispatch(ctx context.Context, task BuildTask) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.tasks <- task:
		metrics.QueueDepth.Set(float64(len(p.tasks)))
		slog.Info("Build task queued", "index_id", task.IndexID, "organization_id", task.OrganizationID)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Stop signals all workers to stop and waits for them to finish.
// Workers finish their current task before exiting; queued tasks are dropped.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		slog.Info("Stopping worker pool gracefully")
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()
		close(p.stopCh)

		for _, worker := range p.workers {
			worker.Stop()
		}
		if n := len(p.tasks); n > 0 {
			slog.Warn("Dropping queued build tasks", "count", n)
		}
		slog.Info("Worker pool stopped gracefully")
	})
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	p.mu.RLock()
	workers := p.workers
	stopped := p.stopped
	p.mu.RUnlock()

	workerStats := make([]WorkerHealth, len(workers))
	activeWorkers := 0
	for i, worker := range workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	return &PoolHealth{
		IsHealthy:     len(workers) > 0 && !stopped,
		ActiveWorkers: activeWorkers,
		TotalWorkers:  len(workers),
		QueueDepth:    len(p.tasks),
		QueueSize:     cap(p.tasks),
		WorkerStats:   workerStats,
	}
}
