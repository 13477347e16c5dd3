package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/merlinn-co/merlinn/pkg/events"
	"github.com/merlinn-co/merlinn/pkg/models"
	"github.com/merlinn-co/merlinn/pkg/store"
)

// UserRepository is the store surface for users.
type UserRepository interface {
	GetByExternalID(ctx context.Context, externalID string) (*models.User, error)
	Create(ctx context.Context, u *models.User) error
	Activate(ctx context.Context, id string) (*models.User, error)
}

// UserService handles identity-provider lifecycle hooks.
type UserService struct {
	users UserRepository
	bus   *events.Bus
}

// NewUserService creates a new UserService. bus may be nil.
func NewUserService(users UserRepository, bus *events.Bus) *UserService {
	if users == nil {
		panic("NewUserService: users must not be nil")
	}
	return &UserService{users: users, bus: bus}
}

// RegisterUser records a completed signup. New identities get an activated
// user and invited users are activated; both publish user_registered.
// Already active users are returned unchanged.
func (s *UserService) RegisterUser(ctx context.Context, externalID, email string) (*models.User, error) {
	if externalID == "" {
		return nil, NewValidationError("userId", "identity id is required")
	}
	if email == "" {
		return nil, NewValidationError("email", "email is required")
	}

	existing, err := s.users.GetByExternalID(ctx, externalID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		u := &models.User{ExternalID: externalID, Email: email, Status: models.UserStatusActivated}
		if err := s.users.Create(ctx, u); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return nil, fmt.Errorf("user %s: %w", externalID, ErrAlreadyExists)
			}
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		s.publishRegistered(u)
		return u, nil
	case err != nil:
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if existing.Status != models.UserStatusInvited {
		slog.Debug("Signup hook for active user, nothing to do", "user_id", existing.ID)
		return existing, nil
	}
	u, err := s.users.Activate(ctx, existing.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to activate user: %w", err)
	}
	s.publishRegistered(u)
	return u, nil
}

func (s *UserService) publishRegistered(u *models.User) {
	slog.Info("User registered", "user_id", u.ID, "organization_id", u.OrganizationID)
	s.bus.Publish(models.SystemEvent{
		Type:     models.EventUserRegistered,
		EntityID: u.ID,
		Payload:  map[string]any{"userId": u.ID, "email": u.Email},
	})
}
