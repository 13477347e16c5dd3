package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/merlinn-co/merlinn/pkg/metrics"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker takes build tasks off the pool's queue and runs them.
type Worker struct {
	id        string
	tasks     <-chan BuildTask
	builder   Builder
	onFailure FailureHandler
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// Health tracking
	mu             sync.RWMutex
	status         WorkerStatus
	currentIndexID string
	tasksProcessed int
	tasksFailed    int
	lastActivity   time.Time
}

// NewWorker creates a new queue worker. onFailure may be nil.
func NewWorker(id string, tasks <-chan BuildTask, builder Builder, onFailure FailureHandler) *Worker {
	return &Worker{
		id:           id,
		tasks:        tasks,
		builder:      builder,
		onFailure:    onFailure,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish.
// It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:             w.id,
		Status:         string(w.status),
		CurrentIndexID: w.currentIndexID,
		TasksProcessed: w.tasksProcessed,
		TasksFailed:    w.tasksFailed,
		LastActivity:   w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		case task := <-w.tasks:
			metrics.QueueDepth.Set(float64(len(w.tasks)))
			w.process(ctx, task)
		}
	}
}

func (w *Worker) process(ctx context.Context, task BuildTask) {
	log := slog.With("worker_id", w.id, "index_id", task.IndexID, "organization_id", task.OrganizationID)

	w.setStatus(WorkerStatusWorking, task.IndexID)
	defer w.setStatus(WorkerStatusIdle, "")

	err := w.builder.Build(ctx, task)

	w.mu.Lock()
	w.tasksProcessed++
	if err != nil {
		w.tasksFailed++
	}
	w.mu.Unlock()

	if err != nil {
		log.Error("Builder rejected task", "error", err)
		metrics.IndexBuildsTotal.WithLabelValues("builder_error").Inc()
		if w.onFailure != nil {
			// The request context may be gone by now.
			w.onFailure(context.WithoutCancel(ctx), task, err)
		}
		return
	}
	log.Info("Build task accepted by builder", "sources", task.DataSources)
}

func (w *Worker) setStatus(status WorkerStatus, indexID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentIndexID = indexID
	w.lastActivity = time.Now()
}
