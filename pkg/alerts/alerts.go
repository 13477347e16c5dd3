// Package alerts fetches the triggering incident from the alerting vendor
// and renders it into the investigation prompt.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/merlinn-co/merlinn/pkg/config"
	"github.com/merlinn-co/merlinn/pkg/models"
)

var (
	// ErrIncidentNotFound is returned when the vendor has no such incident.
	ErrIncidentNotFound = errors.New("incident not found")

	// ErrUnsupportedVendor is returned for vendors without an incident API.
	ErrUnsupportedVendor = errors.New("unsupported alerting vendor")

	// ErrMissingCredentials is returned when the integration lacks the
	// token or key the vendor API needs.
	ErrMissingCredentials = errors.New("alerting integration is missing credentials")
)

// Incident is the vendor-neutral view of an alert.
type Incident struct {
	Vendor      string            `json:"vendor"`
	ID          string            `json:"id"`
	Number      string            `json:"number,omitempty"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Status      string            `json:"status"`
	Severity    string            `json:"severity,omitempty"`
	Service     string            `json:"service,omitempty"`
	URL         string            `json:"url,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// Fetcher retrieves one incident by the id carried in the webhook.
type Fetcher interface {
	FetchIncident(ctx context.Context, id string) (*Incident, error)
}

// NewFetcher returns the incident client for an alerting integration whose
// credentials are already decrypted.
func NewFetcher(cfg *config.AlertsConfig, in models.Integration) (Fetcher, error) {
	if cfg == nil {
		cfg = &config.AlertsConfig{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	switch in.Vendor.Name {
	case models.VendorPagerDuty:
		token := in.Credential("access_token")
		if token == "" {
			return nil, fmt.Errorf("%w: PagerDuty access_token", ErrMissingCredentials)
		}
		return NewPagerDutyClient(cfg.PagerDutyAPIURL, token, timeout), nil
	case models.VendorOpsgenie:
		key := in.Credential("api_key")
		if key == "" {
			return nil, fmt.Errorf("%w: Opsgenie api_key", ErrMissingCredentials)
		}
		og, err := NewOpsgenieClient(cfg.OpsgenieAPIURL, key, timeout, nil)
		if err != nil {
			return nil, err
		}
		return og, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVendor, in.Vendor.Name)
	}
}
