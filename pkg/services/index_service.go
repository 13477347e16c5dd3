package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/merlinn-co/merlinn/pkg/events"
	"github.com/merlinn-co/merlinn/pkg/metrics"
	"github.com/merlinn-co/merlinn/pkg/models"
	"github.com/merlinn-co/merlinn/pkg/queue"
	"github.com/merlinn-co/merlinn/pkg/store"
	"github.com/merlinn-co/merlinn/pkg/vectorindex"
)

// IndexRepository is the store surface for indexes.
type IndexRepository interface {
	Get(ctx context.Context, id string) (*models.Index, error)
	GetByOrganization(ctx context.Context, organizationID string) (*models.Index, error)
	Acquire(ctx context.Context, idx *models.Index) error
	UpdateSource(ctx context.Context, id, buildID, source string, status models.SourceStatus, documents *int) (*models.Index, error)
	MarkFailed(ctx context.Context, id, buildID string) error
	ListStale(ctx context.Context, before time.Time) ([]models.Index, error)
	Delete(ctx context.Context, id string) error
}

// VectorIndex tears down the external document index.
type VectorIndex interface {
	DeleteIndex(ctx context.Context, name string) error
}

// Quota is the quota surface the coordinators need.
type Quota interface {
	Require(ctx context.Context, fieldCode, organizationID string) error
	Increment(ctx context.Context, fieldCode, organizationID string) error
}

// IndexView is an index with the derived fields pollers render.
type IndexView struct {
	*models.Index
	Progress   int    `json:"progress"`
	StatusText string `json:"statusText"`
}

// NewIndexView derives progress and status text for idx.
func NewIndexView(idx *models.Index) *IndexView {
	return &IndexView{Index: idx, Progress: models.Progress(idx.State), StatusText: idx.StatusText()}
}

// IndexService coordinates knowledge index builds.
type IndexService struct {
	indexes      IndexRepository
	integrations IntegrationRepository
	credentials  *CredentialService
	quota        Quota
	dispatcher   queue.Dispatcher
	vectors      VectorIndex
	bus          *events.Bus
}

// NewIndexService creates a new IndexService. bus may be nil.
func NewIndexService(indexes IndexRepository, integrations IntegrationRepository, credentials *CredentialService,
	quota Quota, dispatcher queue.Dispatcher, vectors VectorIndex, bus *events.Bus) *IndexService {
	if indexes == nil {
		panic("NewIndexService: indexes must not be nil")
	}
	if dispatcher == nil {
		panic("NewIndexService: dispatcher must not be nil")
	}
	return &IndexService{
		indexes:      indexes,
		integrations: integrations,
		credentials:  credentials,
		quota:        quota,
		dispatcher:   dispatcher,
		vectors:      vectors,
		bus:          bus,
	}
}

func requireOwner(p models.Principal, action string) error {
	if !p.IsOwner() {
		return fmt.Errorf("only owners can %s: %w", action, ErrForbidden)
	}
	return nil
}

// GetState returns the caller's organization index.
func (s *IndexService) GetState(ctx context.Context, principal models.Principal) (*IndexView, error) {
	if err := requireOwner(principal, "access indexes"); err != nil {
		return nil, err
	}
	idx, err := s.indexes.GetByOrganization(ctx, principal.OrganizationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load index: %w", err)
	}
	return NewIndexView(idx), nil
}

// Request starts a build over dataSources. It fails with ErrBuildInProgress
// while another build for the organization is pending.
func (s *IndexService) Request(ctx context.Context, principal models.Principal, dataSources []string) (*IndexView, error) {
	if err := requireOwner(principal, "create indexes"); err != nil {
		return nil, err
	}
	orgID := principal.OrganizationID
	log := slog.With("organization_id", orgID)

	if err := s.quota.Require(ctx, models.PlanFieldIndexingAttempts, orgID); err != nil {
		return nil, err
	}

	sources, err := normalizeSources(dataSources)
	if err != nil {
		return nil, err
	}

	for _, source := range sources {
		in, err := s.integrations.GetByVendor(ctx, orgID, source)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("no such integration %q: %w", source, ErrNotFound)
			}
			return nil, fmt.Errorf("failed to load %s integration: %w", source, err)
		}
		if s.credentials != nil && s.credentials.IsRefreshable(source) {
			populated, err := s.credentials.Populate(ctx, []models.Integration{*in})
			if err != nil {
				return nil, err
			}
			if _, err := s.credentials.EnsureFresh(ctx, populated[0]); err != nil {
				return nil, err
			}
		}
	}

	idx := &models.Index{
		OrganizationID: orgID,
		Name:           vectorindex.ClassName(orgID),
		DataSources:    sources,
		State:          models.NewPendingState(sources),
	}
	if err := s.indexes.Acquire(ctx, idx); err != nil {
		if errors.Is(err, store.ErrConflict) {
			metrics.IndexBuildsTotal.WithLabelValues("in_progress").Inc()
			return nil, ErrBuildInProgress
		}
		return nil, fmt.Errorf("failed to persist index: %w", err)
	}

	task := queue.BuildTask{
		OrganizationID: orgID,
		IndexID:        idx.ID,
		BuildID:        idx.State.BuildID,
		IndexName:      idx.Name,
		DataSources:    sources,
		RequestedAt:    time.Now().UTC(),
	}
	if err := s.dispatcher.Dispatch(ctx, task); err != nil {
		log.Error("Build dispatch failed, marking index failed", "index_id", idx.ID, "error", err)
		metrics.IndexBuildsTotal.WithLabelValues("dispatch_error").Inc()
		s.FailBuild(context.WithoutCancel(ctx), task, err)
		return nil, fmt.Errorf("failed to dispatch build: %w", err)
	}

	if err := s.quota.Increment(ctx, models.PlanFieldIndexingAttempts, orgID); err != nil {
		log.Warn("Failed to record indexing attempt", "error", err)
	}

	metrics.IndexBuildsTotal.WithLabelValues("dispatched").Inc()
	s.bus.Publish(models.SystemEvent{
		Type:     models.EventIndexRequested,
		EntityID: idx.ID,
		Payload:  map[string]any{"organizationId": orgID, "dataSources": sources},
	})
	log.Info("Index build dispatched", "index_id", idx.ID, "sources", sources)
	return NewIndexView(idx), nil
}

// FailBuild marks a build whose task never reached the builder as failed.
// It is the queue's failure handler. A build that has since been replaced
// is left alone.
func (s *IndexService) FailBuild(ctx context.Context, task queue.BuildTask, cause error) {
	if err := s.indexes.MarkFailed(ctx, task.IndexID, task.BuildID); err != nil {
		if errors.Is(err, store.ErrBuildSuperseded) {
			slog.Info("Skipping failure of superseded build", "index_id", task.IndexID, "build_id", task.BuildID)
			return
		}
		slog.Error("Failed to mark index failed", "index_id", task.IndexID, "error", err)
		return
	}
	s.bus.Publish(models.SystemEvent{
		Type:     models.EventIndexFailed,
		EntityID: task.IndexID,
		Payload:  map[string]any{"organizationId": task.OrganizationID, "reason": cause.Error()},
	})
}

// ExpireStale fails pending builds with no progress report for maxAge, so a
// builder that died mid-build does not hold the organization's build slot
// forever. It returns how many builds were failed.
func (s *IndexService) ExpireStale(ctx context.Context, maxAge time.Duration) (int, error) {
	stale, err := s.indexes.ListStale(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to list stale indexes: %w", err)
	}
	for _, idx := range stale {
		slog.Warn("Expiring stalled index build",
			"index_id", idx.ID, "organization_id", idx.OrganizationID, "last_update", idx.UpdatedAt)
		metrics.IndexBuildsTotal.WithLabelValues("expired").Inc()
		s.FailBuild(ctx, queue.BuildTask{
			OrganizationID: idx.OrganizationID,
			IndexID:        idx.ID,
			BuildID:        idx.State.BuildID,
			IndexName:      idx.Name,
			DataSources:    idx.DataSources,
		}, fmt.Errorf("no progress reported for %s", maxAge))
	}
	return len(stale), nil
}

// SourceUpdate is one builder progress report. BuildID echoes the build
// task the report belongs to.
type SourceUpdate struct {
	BuildID   string              `json:"buildId"`
	Source    string              `json:"source"`
	Status    models.SourceStatus `json:"status"`
	Documents *int                `json:"documents,omitempty"`
}

// UpdateSource records a builder report for one data source. The aggregated
// status is recomputed in the same transaction.
func (s *IndexService) UpdateSource(ctx context.Context, indexID string, update SourceUpdate) (*IndexView, error) {
	if update.BuildID == "" {
		return nil, NewValidationError("buildId", "build id is required")
	}
	if update.Source == "" {
		return nil, NewValidationError("source", "source is required")
	}
	if !update.Status.IsValid() {
		return nil, NewValidationError("status", fmt.Sprintf("unknown status %q", update.Status))
	}
	if update.Documents != nil && *update.Documents < 0 {
		return nil, NewValidationError("documents", "must not be negative")
	}

	idx, err := s.indexes.UpdateSource(ctx, indexID, update.BuildID, update.Source, update.Status, update.Documents)
	switch {
	case errors.Is(err, store.ErrBuildSuperseded):
		slog.Warn("Rejected report for superseded build",
			"index_id", indexID, "build_id", update.BuildID, "source", update.Source)
		return nil, fmt.Errorf("build %s: %w", update.BuildID, ErrBuildSuperseded)
	case errors.Is(err, store.ErrSourceTerminal):
		return nil, fmt.Errorf("%s: %w", update.Source, ErrSourceFinished)
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to update index source: %w", err)
	}

	metrics.IndexSourceUpdatesTotal.WithLabelValues(string(update.Status)).Inc()
	slog.Info("Index source updated",
		"index_id", indexID, "source", update.Source, "source_status", update.Status, "status", idx.State.Status)

	switch idx.State.Status {
	case models.IndexStatusCompleted:
		s.bus.Publish(models.SystemEvent{Type: models.EventIndexCompleted, EntityID: idx.ID,
			Payload: map[string]any{"organizationId": idx.OrganizationID, "stats": idx.Stats}})
	case models.IndexStatusFailed:
		s.bus.Publish(models.SystemEvent{Type: models.EventIndexFailed, EntityID: idx.ID,
			Payload: map[string]any{"organizationId": idx.OrganizationID, "source": update.Source}})
	}
	return NewIndexView(idx), nil
}

// Delete tears down the external index, then removes the record. A failed
// teardown leaves the record in place.
func (s *IndexService) Delete(ctx context.Context, principal models.Principal, indexID string) error {
	if err := requireOwner(principal, "delete indexes"); err != nil {
		return err
	}
	idx, err := s.indexes.Get(ctx, indexID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load index: %w", err)
	}
	if idx.OrganizationID != principal.OrganizationID {
		return fmt.Errorf("index belongs to another organization: %w", ErrForbidden)
	}

	if s.vectors != nil {
		if err := s.vectors.DeleteIndex(ctx, idx.Name); err != nil {
			slog.Error("Vector index teardown failed", "index_id", idx.ID, "error", err)
			return fmt.Errorf("%w: %v", ErrExternalTeardownFailed, err)
		}
	}
	if err := s.indexes.Delete(ctx, idx.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete index: %w", err)
	}

	s.bus.Publish(models.SystemEvent{Type: models.EventIndexDeleted, EntityID: idx.ID,
		Payload: map[string]any{"organizationId": idx.OrganizationID}})
	slog.Info("Index deleted", "index_id", idx.ID, "organization_id", idx.OrganizationID)
	return nil
}

func normalizeSources(dataSources []string) ([]string, error) {
	if len(dataSources) == 0 {
		return nil, NewValidationError("dataSources", "no data sources provided")
	}
	seen := make(map[string]bool, len(dataSources))
	out := make([]string, 0, len(dataSources))
	for _, s := range dataSources {
		if !models.IsIndexable(s) {
			return nil, NewValidationError("dataSources", fmt.Sprintf("%q cannot be indexed", s))
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out, nil
}
