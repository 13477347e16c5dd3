package alerts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/opsgenie/opsgenie-go-sdk-v2/alert"
	"github.com/opsgenie/opsgenie-go-sdk-v2/client"
	"github.com/sirupsen/logrus"

	"github.com/merlinn-co/merlinn/pkg/models"
)

// OpsgenieClient reads alerts from the Opsgenie Alert API v2.
type OpsgenieClient struct {
	alerts *alert.Client
}

// NewOpsgenieClient creates an OpsgenieClient. An empty baseURL targets
// api.opsgenie.com. httpClient may be nil.
func NewOpsgenieClient(baseURL, apiKey string, timeout time.Duration, httpClient *http.Client) (*OpsgenieClient, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	alerts, err := alert.NewClient(&client.Config{
		ApiKey:         apiKey,
		OpsGenieAPIURL: opsgenieHost(baseURL),
		RequestTimeout: timeout,
		HttpClient:     httpClient,
		LogLevel:       logrus.WarnLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("create opsgenie client: %w", err)
	}
	return &OpsgenieClient{alerts: alerts}, nil
}

// opsgenieHost strips the scheme: the SDK always speaks https to a bare
// host.
func opsgenieHost(baseURL string) client.ApiUrl {
	if baseURL == "" {
		return client.API_URL
	}
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		return client.ApiUrl(u.Host)
	}
	return client.ApiUrl(baseURL)
}

// identifierType picks Opsgenie's lookup mode: tiny ids are short and
// numeric, alert ids are UUID-like.
func identifierType(id string) alert.AlertIdentifier {
	if id == "" || len(id) > 12 {
		return alert.ALERTID
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return alert.ALERTID
		}
	}
	return alert.TINYID
}

// FetchIncident implements Fetcher. id may be a tinyId or an alertId.
func (c *OpsgenieClient) FetchIncident(ctx context.Context, id string) (*Incident, error) {
	a, err := c.alerts.Get(ctx, &alert.GetAlertRequest{
		IdentifierType:  identifierType(id),
		IdentifierValue: id,
	})
	if err != nil {
		var apiErr *client.ApiError
		if errors.As(err, &apiErr) {
			if apiErr.StatusCode == http.StatusNotFound {
				return nil, fmt.Errorf("%w: %s %s", ErrIncidentNotFound, models.VendorOpsgenie, id)
			}
			return nil, fmt.Errorf("%s returned %d: %s", models.VendorOpsgenie, apiErr.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("get opsgenie alert: %w", err)
	}

	return &Incident{
		Vendor:      models.VendorOpsgenie,
		ID:          a.Id,
		Number:      a.TinyId,
		Title:       a.Message,
		Description: a.Description,
		Status:      a.Status,
		Severity:    string(a.Priority),
		Service:     firstNonEmpty(a.Entity, a.Source),
		Tags:        a.Tags,
		Details:     a.Details,
		CreatedAt:   a.CreatedAt,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
