package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/merlinn-co/merlinn/pkg/config"
	"github.com/merlinn-co/merlinn/pkg/models"
)

var refreshableVendors = map[string]config.VendorConfig{
	models.VendorJira: {OAuth: &config.OAuthConfig{TokenURL: "https://auth.example.com/oauth/token", ClientIDEnv: "X"}},
}

type refresherFunc func(ctx context.Context, vendor, refreshToken string) (*oauth2.Token, error)

func (f refresherFunc) Refresh(ctx context.Context, vendor, refreshToken string) (*oauth2.Token, error) {
	return f(ctx, vendor, refreshToken)
}

func jiraIntegration(updatedAt time.Time, expiresIn float64) models.Integration {
	return models.Integration{
		ID:             "int-jira",
		OrganizationID: "org-1",
		Vendor:         models.Vendor{Name: models.VendorJira},
		Credentials:    map[string]string{CredentialAccessToken: "enc:old", CredentialRefreshToken: "enc:r1"},
		Metadata:       map[string]any{MetadataExpiresIn: expiresIn},
		UpdatedAt:      updatedAt,
	}
}

func TestExpiration(t *testing.T) {
	issued := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	exp, ok := Expiration(jiraIntegration(issued, 3600))
	require.True(t, ok)
	assert.Equal(t, issued.Add(time.Hour), exp, "expiry is issue time plus expires_in")

	_, ok = Expiration(models.Integration{UpdatedAt: issued})
	assert.False(t, ok)
}

func TestCredentialService_Populate(t *testing.T) {
	svc := NewCredentialService(newFakeIntegrations(), prefixCipher{}, nil, nil)
	in := jiraIntegration(time.Now(), 3600)

	out, err := svc.Populate(context.Background(), []models.Integration{in})
	require.NoError(t, err)
	assert.Equal(t, "old", out[0].Credential(CredentialAccessToken))
	assert.Equal(t, "enc:old", in.Credential(CredentialAccessToken), "input keeps ciphertext")

	svc = NewCredentialService(newFakeIntegrations(), prefixCipher{failDecrypt: true}, nil, nil)
	_, err = svc.Populate(context.Background(), []models.Integration{in})
	assert.Error(t, err)
}

func TestCredentialService_EnsureFresh(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	newSvc := func(repo *fakeIntegrations, r TokenRefresher) *CredentialService {
		svc := NewCredentialService(repo, prefixCipher{}, r, refreshableVendors)
		svc.now = func() time.Time { return now }
		return svc
	}
	okRefresher := refresherFunc(func(_ context.Context, vendor, rt string) (*oauth2.Token, error) {
		assert.Equal(t, models.VendorJira, vendor)
		assert.Equal(t, "r1", rt)
		return &oauth2.Token{AccessToken: "new", RefreshToken: "r2", Expiry: now.Add(time.Hour)}, nil
	})

	t.Run("valid token is returned unchanged", func(t *testing.T) {
		repo := newFakeIntegrations()
		svc := newSvc(repo, okRefresher)
		in, _ := svc.Populate(ctx, []models.Integration{jiraIntegration(now.Add(-30*time.Minute), 3600)})
		out, err := svc.EnsureFresh(ctx, in[0])
		require.NoError(t, err)
		assert.Equal(t, "old", out.Credential(CredentialAccessToken))
		assert.Empty(t, repo.updates)
	})

	t.Run("non refreshable vendor is skipped", func(t *testing.T) {
		svc := newSvc(newFakeIntegrations(), okRefresher)
		in := jiraIntegration(now.Add(-48*time.Hour), 60)
		in.Vendor.Name = models.VendorSlack
		out, err := svc.EnsureFresh(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, in.ID, out.ID)
	})

	t.Run("expired token is refreshed and persisted encrypted", func(t *testing.T) {
		repo := newFakeIntegrations()
		svc := newSvc(repo, okRefresher)
		in, _ := svc.Populate(ctx, []models.Integration{jiraIntegration(now.Add(-2*time.Hour), 3600)})

		out, err := svc.EnsureFresh(ctx, in[0])
		require.NoError(t, err)
		assert.Equal(t, "new", out.Credential(CredentialAccessToken))
		assert.Equal(t, "r2", out.Credential(CredentialRefreshToken))
		assert.Equal(t, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), out.UpdatedAt)

		require.Len(t, repo.updates, 1)
		assert.Equal(t, "enc:new", repo.updates[0][CredentialAccessToken])
		assert.Equal(t, "enc:r2", repo.updates[0][CredentialRefreshToken])
	})

	t.Run("missing refresh token", func(t *testing.T) {
		svc := newSvc(newFakeIntegrations(), okRefresher)
		in := jiraIntegration(now.Add(-2*time.Hour), 3600)
		in.Credentials = map[string]string{CredentialAccessToken: "old"}
		_, err := svc.EnsureFresh(ctx, in)
		assert.ErrorIs(t, err, ErrCredentialExpired)
	})

	t.Run("vendor rejects refresh", func(t *testing.T) {
		repo := newFakeIntegrations()
		svc := newSvc(repo, refresherFunc(func(context.Context, string, string) (*oauth2.Token, error) {
			return nil, errors.New("invalid_grant")
		}))
		in, _ := svc.Populate(ctx, []models.Integration{jiraIntegration(now.Add(-2*time.Hour), 3600)})
		_, err := svc.EnsureFresh(ctx, in[0])
		assert.ErrorIs(t, err, ErrCredentialRefreshFailed)
		assert.Empty(t, repo.updates, "stale credentials are never persisted")
	})
}

func TestCredentialService_ConcurrentRefreshesCollapse(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var calls atomic.Int32
	release := make(chan struct{})
	refresher := refresherFunc(func(context.Context, string, string) (*oauth2.Token, error) {
		calls.Add(1)
		<-release
		return &oauth2.Token{AccessToken: "new", Expiry: now.Add(time.Hour)}, nil
	})
	repo := newFakeIntegrations()
	svc := NewCredentialService(repo, prefixCipher{}, refresher, refreshableVendors)
	svc.now = func() time.Time { return now }

	in, err := svc.Populate(context.Background(), []models.Integration{jiraIntegration(now.Add(-2*time.Hour), 3600)})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]models.Integration, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := svc.EnsureFresh(context.Background(), in[0])
			assert.NoError(t, err)
			results[i] = out
		}()
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	// Give the other callers time to join the in-flight refresh.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "new", r.Credential(CredentialAccessToken))
	}
}

func TestCredentialService_SharedRefreshOutlivesFirstCaller(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var calls atomic.Int32
	release := make(chan struct{})
	refresher := refresherFunc(func(ctx context.Context, _, _ string) (*oauth2.Token, error) {
		calls.Add(1)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &oauth2.Token{AccessToken: "new", Expiry: now.Add(time.Hour)}, nil
	})
	svc := NewCredentialService(newFakeIntegrations(), prefixCipher{}, refresher, refreshableVendors)
	svc.now = func() time.Time { return now }

	in, err := svc.Populate(context.Background(), []models.Integration{jiraIntegration(now.Add(-2*time.Hour), 3600)})
	require.NoError(t, err)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.EnsureFresh(firstCtx, in[0])
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		out models.Integration
		err error
	}
	second := make(chan result, 1)
	go func() {
		out, err := svc.EnsureFresh(context.Background(), in[0])
		second <- result{out, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, ErrCredentialRefreshFailed)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(release)
	select {
	case r := <-second:
		require.NoError(t, r.err)
		assert.Equal(t, "new", r.out.Credential(CredentialAccessToken))
	case <-time.After(time.Second):
		t.Fatal("second caller did not return")
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestOAuthRefresher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "r1", r.Form.Get("refresh_token"))
		assert.Equal(t, "client-1", r.Form.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"a2","refresh_token":"r2","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	t.Setenv("TEST_CLIENT_ID", "client-1")
	r := NewOAuthRefresher(map[string]config.VendorConfig{
		models.VendorConfluence: {OAuth: &config.OAuthConfig{TokenURL: srv.URL, ClientIDEnv: "TEST_CLIENT_ID"}},
	})

	tok, err := r.Refresh(context.Background(), models.VendorConfluence, "r1")
	require.NoError(t, err)
	assert.Equal(t, "a2", tok.AccessToken)
	assert.Equal(t, "r2", tok.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, time.Minute)

	_, err = r.Refresh(context.Background(), models.VendorGithub, "r1")
	assert.Error(t, err)
}
