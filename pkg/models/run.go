package models

import "strings"

// RunContext identifies one triage invocation. It is passed by value and
// never persisted.
type RunContext struct {
	OrganizationID   string `json:"organizationId"`
	OrganizationName string `json:"organizationName"`
	Env              string `json:"env"`
	EventID          string `json:"eventId"`
	// Context labels the trigger, e.g. "trigger-pagerduty".
	Context string `json:"context"`
}

// TriggerContext returns the context label for alerts from vendor.
func TriggerContext(vendor string) string {
	return "trigger-" + strings.ToLower(vendor)
}

// AnswerContext correlates one agent answer with its trace.
type AnswerContext interface {
	TraceID() string
	TraceURL() string
	ObservationID() string
}
