package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PagerDuty/go-pagerduty"

	"github.com/merlinn-co/merlinn/pkg/models"
)

const defaultPagerDutyAPI = "https://api.pagerduty.com"

// PagerDutyClient reads incidents from the PagerDuty REST API v2 using the
// integration's OAuth access token.
type PagerDutyClient struct {
	client *pagerduty.Client
}

// NewPagerDutyClient creates a PagerDutyClient. An empty baseURL targets
// api.pagerduty.com.
func NewPagerDutyClient(baseURL, accessToken string, timeout time.Duration) *PagerDutyClient {
	if baseURL == "" {
		baseURL = defaultPagerDutyAPI
	}
	client := pagerduty.NewOAuthClient(accessToken, pagerduty.WithAPIEndpoint(strings.TrimRight(baseURL, "/")))
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &PagerDutyClient{client: client}
}

// FetchIncident implements Fetcher. Details come from the body of the
// incident's first alert, where PagerDuty keeps the monitoring payload.
func (c *PagerDutyClient) FetchIncident(ctx context.Context, id string) (*Incident, error) {
	pd, err := c.client.GetIncidentWithContext(ctx, id)
	if err != nil {
		return nil, pagerDutyError(err, id)
	}

	inc := &Incident{
		Vendor:      models.VendorPagerDuty,
		ID:          pd.ID,
		Title:       pd.Title,
		Description: pd.Description,
		Status:      pd.Status,
		Severity:    pd.Urgency,
		Service:     pd.Service.Summary,
		URL:         pd.HTMLURL,
	}
	if pd.IncidentNumber > 0 {
		inc.Number = strconv.FormatUint(uint64(pd.IncidentNumber), 10)
	}
	if pd.Priority != nil && pd.Priority.Summary != "" {
		inc.Severity = pd.Priority.Summary
	}
	if created, err := time.Parse(time.RFC3339, pd.CreatedAt); err == nil {
		inc.CreatedAt = created
	}

	alerts, err := c.client.ListIncidentAlertsWithContext(ctx, id, pagerduty.ListIncidentAlertsOptions{})
	if err != nil {
		return nil, pagerDutyError(err, id)
	}
	if len(alerts.Alerts) > 0 {
		inc.Details = flattenDetails(alerts.Alerts[0].Body["details"])
	}
	return inc, nil
}

func pagerDutyError(err error, id string) error {
	var apiErr pagerduty.APIError
	if errors.As(err, &apiErr) {
		if apiErr.NotFound() {
			return fmt.Errorf("%w: %s %s", ErrIncidentNotFound, models.VendorPagerDuty, id)
		}
		return fmt.Errorf("%s returned %d: %w", models.VendorPagerDuty, apiErr.StatusCode, err)
	}
	return fmt.Errorf("get pagerduty incident: %w", err)
}

// flattenDetails renders PagerDuty's free-form details as strings.
func flattenDetails(v any) map[string]string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
		return map[string]string{"details": t}
	case map[string]any:
		out := make(map[string]string, len(t))
		for k, val := range t {
			switch s := val.(type) {
			case string:
				out[k] = s
			default:
				b, err := json.Marshal(s)
				if err != nil {
					continue
				}
				out[k] = string(b)
			}
		}
		return out
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		return map[string]string{"details": string(b)}
	}
}
