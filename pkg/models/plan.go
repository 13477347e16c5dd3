package models

import "encoding/json"

// Plan field codes for metered actions.
const (
	PlanFieldAlerts           = "alerts"
	PlanFieldIndexingAttempts = "indexing_attempts"
)

// PlanFieldKind describes how a plan value is interpreted.
type PlanFieldKind string

// Plan field kinds.
const (
	PlanFieldNumber  PlanFieldKind = "number"
	PlanFieldBoolean PlanFieldKind = "boolean"
)

// PlanFieldState is a plan value joined with the organization's usage.
type PlanFieldState struct {
	Code           string
	Kind           PlanFieldKind
	CanExceedLimit bool
	Value          json.RawMessage
	Used           int
}

// QuotaState is the answer to "may this organization do this now".
type QuotaState struct {
	IsAllowed bool `json:"isAllowed"`
	// Limit is -1 for unlimited or non-numeric fields.
	Limit int `json:"limit"`
	Used  int `json:"used"`
}
