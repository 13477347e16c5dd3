package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/merlinn-co/merlinn/pkg/config"
	"github.com/merlinn-co/merlinn/pkg/metrics"
	"github.com/merlinn-co/merlinn/pkg/models"
)

// Credential and metadata keys shared by OAuth vendors.
const (
	CredentialAccessToken  = "access_token"
	CredentialRefreshToken = "refresh_token"
	MetadataExpiresIn      = "expires_in"
)

// refreshTimeout bounds one shared token exchange.
const refreshTimeout = 30 * time.Second

// IntegrationRepository is the store surface for integrations.
type IntegrationRepository interface {
	ListByOrganization(ctx context.Context, organizationID string) ([]models.Integration, error)
	GetByVendor(ctx context.Context, organizationID, vendor string) (*models.Integration, error)
	Create(ctx context.Context, in *models.Integration) error
	UpdateCredentials(ctx context.Context, id string, credentials map[string]string, metadata map[string]any) (time.Time, error)
}

// CredentialCipher encrypts credential maps at rest.
type CredentialCipher interface {
	EncryptMap(ctx context.Context, values map[string]string) (map[string]string, error)
	DecryptMap(ctx context.Context, values map[string]string) (map[string]string, error)
}

// TokenRefresher exchanges a refresh token at the vendor's token endpoint.
type TokenRefresher interface {
	Refresh(ctx context.Context, vendor, refreshToken string) (*oauth2.Token, error)
}

// OAuthRefresher refreshes tokens with the refresh-token grant against the
// endpoints configured under vendors.<name>.oauth.
type OAuthRefresher struct {
	vendors map[string]config.VendorConfig
}

// NewOAuthRefresher creates an OAuthRefresher.
func NewOAuthRefresher(vendors map[string]config.VendorConfig) *OAuthRefresher {
	return &OAuthRefresher{vendors: vendors}
}

// Refresh implements TokenRefresher.
func (r *OAuthRefresher) Refresh(ctx context.Context, vendor, refreshToken string) (*oauth2.Token, error) {
	vc, ok := r.vendors[vendor]
	if !ok || vc.OAuth == nil {
		return nil, fmt.Errorf("vendor %s has no oauth configuration", vendor)
	}
	cfg := oauth2.Config{
		ClientID:     vc.OAuth.ClientID(),
		ClientSecret: vc.OAuth.ClientSecret(),
		Endpoint:     oauth2.Endpoint{TokenURL: vc.OAuth.TokenURL, AuthStyle: oauth2.AuthStyleInParams},
	}
	// A token without an access token is never valid, so the source always refreshes.
	return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}

// CredentialService decrypts integrations for in-request use and keeps
// refreshable vendors' access tokens fresh.
type CredentialService struct {
	repo      IntegrationRepository
	cipher    CredentialCipher
	refresher TokenRefresher
	vendors   map[string]config.VendorConfig
	group     singleflight.Group
	now       func() time.Time
}

// NewCredentialService creates a new CredentialService.
func NewCredentialService(repo IntegrationRepository, cipher CredentialCipher, refresher TokenRefresher, vendors map[string]config.VendorConfig) *CredentialService {
	if repo == nil {
		panic("NewCredentialService: repo must not be nil")
	}
	if cipher == nil {
		panic("NewCredentialService: cipher must not be nil")
	}
	return &CredentialService{
		repo:      repo,
		cipher:    cipher,
		refresher: refresher,
		vendors:   vendors,
		now:       time.Now,
	}
}

// IsRefreshable reports whether vendor's tokens expire and can be refreshed.
func (s *CredentialService) IsRefreshable(vendor string) bool {
	vc, ok := s.vendors[vendor]
	return ok && vc.OAuth != nil
}

// Populate returns copies of integrations with credentials decrypted.
func (s *CredentialService) Populate(ctx context.Context, integrations []models.Integration) ([]models.Integration, error) {
	out := make([]models.Integration, 0, len(integrations))
	for _, in := range integrations {
		plain, err := s.cipher.DecryptMap(ctx, in.Credentials)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt %s credentials: %w", in.Vendor.Name, err)
		}
		c := in.Clone()
		c.Credentials = plain
		out = append(out, c)
	}
	return out, nil
}

// Prepare decrypts integrations and refreshes every stale refreshable one.
func (s *CredentialService) Prepare(ctx context.Context, integrations []models.Integration) ([]models.Integration, error) {
	populated, err := s.Populate(ctx, integrations)
	if err != nil {
		return nil, err
	}
	for i, in := range populated {
		fresh, err := s.EnsureFresh(ctx, in)
		if err != nil {
			return nil, err
		}
		populated[i] = fresh
	}
	return populated, nil
}

// Expiration returns when in's access token expires: the last credential
// update plus expires_in seconds. ok is false when no expiry is recorded.
func Expiration(in models.Integration) (time.Time, bool) {
	expiresIn, ok := in.MetadataInt(MetadataExpiresIn)
	if !ok || in.UpdatedAt.IsZero() {
		return time.Time{}, false
	}
	return in.UpdatedAt.Add(time.Duration(expiresIn) * time.Second), true
}

// EnsureFresh returns in unchanged when its token is still valid, otherwise
// refreshes, encrypts, persists, and returns the fresh credential. in must
// carry decrypted credentials. Concurrent refreshes of one integration
// share a single token exchange.
func (s *CredentialService) EnsureFresh(ctx context.Context, in models.Integration) (models.Integration, error) {
	if !s.IsRefreshable(in.Vendor.Name) {
		return in, nil
	}
	expiration, ok := Expiration(in)
	if !ok || !s.now().After(expiration) {
		return in, nil
	}

	// The exchange is shared, so it must outlive the caller that started it.
	ch := s.group.DoChan(in.ID, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return s.refresh(rctx, in)
	})
	select {
	case <-ctx.Done():
		return models.Integration{}, fmt.Errorf("%w: %s: %v", ErrCredentialRefreshFailed, in.Vendor.Name, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return models.Integration{}, res.Err
		}
		return res.Val.(models.Integration).Clone(), nil
	}
}

func (s *CredentialService) refresh(ctx context.Context, in models.Integration) (models.Integration, error) {
	log := slog.With("integration_id", in.ID, "vendor", in.Vendor.Name, "organization_id", in.OrganizationID)

	refreshToken := in.Credential(CredentialRefreshToken)
	if refreshToken == "" {
		metrics.CredentialRefreshesTotal.WithLabelValues(in.Vendor.Name, "missing").Inc()
		return models.Integration{}, fmt.Errorf("%s has no refresh token: %w", in.Vendor.Name, ErrCredentialExpired)
	}
	if s.refresher == nil {
		return models.Integration{}, fmt.Errorf("%s: %w", in.Vendor.Name, ErrCredentialExpired)
	}

	token, err := s.refresher.Refresh(ctx, in.Vendor.Name, refreshToken)
	if err != nil {
		metrics.CredentialRefreshesTotal.WithLabelValues(in.Vendor.Name, "error").Inc()
		log.Error("Credential refresh failed", "error", err)
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return models.Integration{}, fmt.Errorf("%w: %s returned %d", ErrCredentialRefreshFailed, in.Vendor.Name, re.Response.StatusCode)
		}
		return models.Integration{}, fmt.Errorf("%w: %s: %v", ErrCredentialRefreshFailed, in.Vendor.Name, err)
	}

	out := in.Clone()
	out.Credentials[CredentialAccessToken] = token.AccessToken
	if token.RefreshToken != "" {
		out.Credentials[CredentialRefreshToken] = token.RefreshToken
	}
	metadata := map[string]any{}
	if !token.Expiry.IsZero() {
		expiresIn := int64(token.Expiry.Sub(s.now()).Seconds())
		metadata[MetadataExpiresIn] = expiresIn
		out.Metadata[MetadataExpiresIn] = float64(expiresIn)
	}

	encrypted, err := s.cipher.EncryptMap(ctx, out.Credentials)
	if err != nil {
		return models.Integration{}, fmt.Errorf("%w: encrypting refreshed credentials: %v", ErrCredentialRefreshFailed, err)
	}
	updatedAt, err := s.repo.UpdateCredentials(ctx, in.ID, encrypted, metadata)
	if err != nil {
		return models.Integration{}, fmt.Errorf("%w: persisting refreshed credentials: %v", ErrCredentialRefreshFailed, err)
	}
	out.UpdatedAt = updatedAt

	metrics.CredentialRefreshesTotal.WithLabelValues(in.Vendor.Name, "ok").Inc()
	log.Info("Credential refreshed", "expiry", token.Expiry)
	return out, nil
}
