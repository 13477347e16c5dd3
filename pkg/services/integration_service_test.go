package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merlinn-co/merlinn/pkg/events"
	"github.com/merlinn-co/merlinn/pkg/models"
	"github.com/merlinn-co/merlinn/pkg/store"
)

func TestIntegrationService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("encrypts before storing", func(t *testing.T) {
		repo := newFakeIntegrations()
		svc := NewIntegrationService(repo, prefixCipher{})
		in, err := svc.Create(ctx, member, CreateIntegrationInput{
			Vendor:      models.VendorSlack,
			Credentials: map[string]string{"access_token": "xoxb-1"},
			Metadata:    map[string]any{"channel_id": "C1"},
		})
		require.NoError(t, err)
		assert.Nil(t, in.Credentials)
		require.Len(t, repo.created, 1)
		assert.Equal(t, "org-1", repo.created[0].OrganizationID)
	})

	t.Run("duplicate and unknown vendor", func(t *testing.T) {
		repo := newFakeIntegrations()
		svc := NewIntegrationService(repo, prefixCipher{})

		repo.createFn = func(*models.Integration) error { return store.ErrConflict }
		_, err := svc.Create(ctx, member, CreateIntegrationInput{Vendor: models.VendorSlack})
		assert.ErrorIs(t, err, ErrAlreadyExists)

		repo.createFn = func(*models.Integration) error { return store.ErrNotFound }
		_, err = svc.Create(ctx, member, CreateIntegrationInput{Vendor: "Nope"})
		assert.True(t, IsValidationError(err))

		_, err = svc.Create(ctx, member, CreateIntegrationInput{Vendor: " "})
		assert.True(t, IsValidationError(err))
	})

	t.Run("requires an organization", func(t *testing.T) {
		svc := NewIntegrationService(newFakeIntegrations(), prefixCipher{})
		_, err := svc.Create(ctx, models.Principal{UserID: "u"}, CreateIntegrationInput{Vendor: models.VendorSlack})
		assert.ErrorIs(t, err, ErrForbidden)
	})
}

func TestIntegrationService_ListNeverNil(t *testing.T) {
	svc := NewIntegrationService(newFakeIntegrations(), prefixCipher{})
	out, err := svc.List(context.Background(), member)
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

type fakeWebhooks struct {
	created []*models.Webhook
	err     error
}

func (f *fakeWebhooks) GetByVendor(context.Context, string, string) (*models.Webhook, error) {
	return nil, store.ErrNotFound
}

func (f *fakeWebhooks) ListByOrganization(context.Context, string) ([]models.Webhook, error) {
	var out []models.Webhook
	for _, w := range f.created {
		out = append(out, *w)
	}
	return out, nil
}

func (f *fakeWebhooks) Create(_ context.Context, w *models.Webhook) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, w)
	return nil
}

func TestWebhookService_Create(t *testing.T) {
	ctx := context.Background()
	repo := &fakeWebhooks{}
	svc := NewWebhookService(repo)

	w, err := svc.Create(ctx, owner, models.VendorPagerDuty, "")
	require.NoError(t, err)
	assert.Len(t, w.Secret, 64)

	w, err = svc.Create(ctx, owner, models.VendorOpsgenie, "given")
	require.NoError(t, err)
	assert.Equal(t, "given", w.Secret)

	_, err = svc.Create(ctx, member, models.VendorPagerDuty, "")
	assert.ErrorIs(t, err, ErrForbidden)

	repo.err = store.ErrConflict
	_, err = svc.Create(ctx, owner, models.VendorPagerDuty, "")
	assert.ErrorIs(t, err, ErrAlreadyExists)

	list, err := svc.List(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret()
	require.NoError(t, err)
	b, err := GenerateSecret()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

type fakeUsers struct {
	byExternal map[string]*models.User
	activated  []string
	getErr     error
}

func (f *fakeUsers) GetByExternalID(_ context.Context, externalID string) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byExternal[externalID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) Create(_ context.Context, u *models.User) error {
	u.ID = "user-new"
	f.byExternal[u.ExternalID] = u
	return nil
}

func (f *fakeUsers) Activate(_ context.Context, id string) (*models.User, error) {
	f.activated = append(f.activated, id)
	for _, u := range f.byExternal {
		if u.ID == id {
			u.Status = models.UserStatusActivated
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func TestUserService_RegisterUser(t *testing.T) {
	ctx := context.Background()
	rec := &eventRecorder{ch: make(chan models.SystemEvent, 10)}
	bus := events.NewBus(events.Options{Env: "test", Sinks: []events.Sink{rec}})
	t.Cleanup(func() { _ = bus.Shutdown(context.Background()) })

	users := &fakeUsers{byExternal: map[string]*models.User{
		"ory-invited": {ID: "user-1", ExternalID: "ory-invited", Status: models.UserStatusInvited, OrganizationID: "org-1"},
		"ory-active":  {ID: "user-2", ExternalID: "ory-active", Status: models.UserStatusActivated},
	}}
	svc := NewUserService(users, bus)

	u, err := svc.RegisterUser(ctx, "ory-new", "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.UserStatusActivated, u.Status)
	e := rec.next(t)
	assert.Equal(t, models.EventUserRegistered, e.Type)
	assert.Equal(t, "user-new", e.EntityID)
	assert.Equal(t, "new@example.com", e.Payload["email"])

	u, err = svc.RegisterUser(ctx, "ory-invited", "inv@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.UserStatusActivated, u.Status)
	assert.Equal(t, []string{"user-1"}, users.activated)
	assert.Equal(t, "user-1", rec.next(t).EntityID)

	u, err = svc.RegisterUser(ctx, "ory-active", "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user-2", u.ID)
	assert.Len(t, users.activated, 1)

	_, err = svc.RegisterUser(ctx, "", "a@example.com")
	assert.True(t, IsValidationError(err))

	users.getErr = errors.New("db down")
	_, err = svc.RegisterUser(ctx, "ory-x", "x@example.com")
	assert.Error(t, err)
}
