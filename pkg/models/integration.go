package models

import (
	"fmt"
	"strconv"
	"time"
)

// Vendor names as stored in the vendors catalog.
const (
	VendorSlack         = "Slack"
	VendorPagerDuty     = "PagerDuty"
	VendorOpsgenie      = "Opsgenie"
	VendorGithub        = "Github"
	VendorDataDog       = "DataDog"
	VendorCoralogix     = "Coralogix"
	VendorJaeger        = "Jaeger"
	VendorPrometheus    = "Prometheus"
	VendorMongoDB       = "MongoDB"
	VendorElasticsearch = "Elasticsearch"
	VendorMCP           = "MCP"
	VendorNotion        = "Notion"
	VendorConfluence    = "Confluence"
	VendorJira          = "Jira"
)

// Vendor is a catalog entry for an integrable external system.
type Vendor struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Integration is an organization's connection to one vendor. Credentials
// hold ciphertext when read from the store and plaintext only after the
// credential service has populated them for the current request.
type Integration struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organization_id"`
	Vendor         Vendor            `json:"vendor"`
	Credentials    map[string]string `json:"-"`
	Metadata       map[string]any    `json:"metadata"`
	Settings       map[string]any    `json:"settings"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Credential returns a credential value, or "" when absent.
func (i Integration) Credential(key string) string {
	return i.Credentials[key]
}

// MetadataString returns a metadata value rendered as a string.
func (i Integration) MetadataString(key string) string {
	v, ok := i.Metadata[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// MetadataInt returns a numeric metadata value. JSON numbers and numeric
// strings are both accepted since vendors are inconsistent about expires_in.
func (i Integration) MetadataInt(key string) (int64, bool) {
	switch t := i.Metadata[key].(type) {
	case float64:
		return int64(t), true
	case int:
		return int64(t), true
	case int64:
		return t, true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Clone returns a copy whose maps can be mutated without touching i.
func (i Integration) Clone() Integration {
	out := i
	out.Credentials = make(map[string]string, len(i.Credentials))
	for k, v := range i.Credentials {
		out.Credentials[k] = v
	}
	out.Metadata = make(map[string]any, len(i.Metadata))
	for k, v := range i.Metadata {
		out.Metadata[k] = v
	}
	out.Settings = make(map[string]any, len(i.Settings))
	for k, v := range i.Settings {
		out.Settings[k] = v
	}
	return out
}

// FindIntegration returns the integration for vendor, if connected.
func FindIntegration(integrations []Integration, vendor string) (Integration, bool) {
	for _, in := range integrations {
		if in.Vendor.Name == vendor {
			return in, true
		}
	}
	return Integration{}, false
}

// Webhook is the inbound trust anchor for one vendor's events.
type Webhook struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Vendor         Vendor    `json:"vendor"`
	Secret         string    `json:"secret,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
