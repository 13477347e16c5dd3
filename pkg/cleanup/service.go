// Package cleanup runs background housekeeping for index builds.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/merlinn-co/merlinn/pkg/config"
)

// StaleBuildExpirer fails builds that stopped reporting progress.
type StaleBuildExpirer interface {
	ExpireStale(ctx context.Context, maxAge time.Duration) (int, error)
}

// Service periodically fails pending index builds whose builder has gone
// quiet, which frees the organization to request a new build.
//
// Expiry is idempotent and safe to run from multiple pods.
type Service struct {
	config  *config.IndexConfig
	expirer StaleBuildExpirer

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.IndexConfig, expirer StaleBuildExpirer) *Service {
	return &Service{
		config:  cfg,
		expirer: expirer,
	}
}

// Start launches the background sweep loop. A zero StaleAfter leaves the
// service idle.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	if s.config.StaleAfter <= 0 {
		slog.Info("Stale build sweep disabled")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"stale_after", s.config.StaleAfter,
		"interval", s.config.SweepInterval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.expireStaleBuilds(ctx)
}

func (s *Service) expireStaleBuilds(ctx context.Context) {
	count, err := s.expirer.ExpireStale(ctx, s.config.StaleAfter)
	if err != nil {
		slog.Error("Cleanup: expiring stale builds failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Cleanup: expired stale index builds", "count", count)
	}
}
