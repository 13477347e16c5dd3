// Package queue dispatches index build tasks to the document builder.
package queue

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for queue operations.
var (
	// ErrQueueFull indicates the in-process queue cannot accept another task.
	ErrQueueFull = errors.New("build queue full")

	// ErrStopped indicates the dispatcher is shutting down.
	ErrStopped = errors.New("build queue stopped")
)

// BuildTask asks the builder to index an organization's data sources.
type BuildTask struct {
	OrganizationID string    `json:"organizationId"`
	IndexID        string    `json:"indexId"`
	BuildID        string    `json:"buildId"`
	IndexName      string    `json:"indexName"`
	DataSources    []string  `json:"dataSources"`
	RequestedAt    time.Time `json:"requestedAt"`
}

// Dispatcher hands a build task to whatever runs the builder. Dispatch
// returns once the task is durably queued, not when the build finishes.
type Dispatcher interface {
	Dispatch(ctx context.Context, task BuildTask) error
}

// Builder runs one build task, typically by calling the builder service.
type Builder interface {
	Build(ctx context.Context, task BuildTask) error
}

// FailureHandler is told about tasks the builder could not accept.
type FailureHandler func(ctx context.Context, task BuildTask, err error)

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy     bool           `json:"is_healthy"`
	ActiveWorkers int            `json:"active_workers"`
	TotalWorkers  int            `json:"total_workers"`
	QueueDepth    int            `json:"queue_depth"`
	QueueSize     int            `json:"queue_size"`
	WorkerStats   []WorkerHealth `json:"worker_stats"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"` // "idle" or "working"
	CurrentIndexID string    `json:"current_index_id,omitempty"`
	TasksProcessed int       `json:"tasks_processed"`
	TasksFailed    int       `json:"tasks_failed"`
	LastActivity   time.Time `json:"last_activity"`
}
