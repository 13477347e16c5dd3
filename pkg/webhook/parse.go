package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
)

var errNoEventID = errors.New("payload carries no event id")

// EventParser extracts the external event id from a vendor payload.
type EventParser func(body []byte) (eventID string, payload map[string]any, err error)

// ParsePagerDuty reads event.data.id from a v3 webhook.
func ParsePagerDuty(body []byte) (string, map[string]any, error) {
	var msg struct {
		Event struct {
			EventType string `json:"event_type"`
			Data      struct {
				ID    string `json:"id"`
				Title string `json:"title"`
			} `json:"data"`
		} `json:"event"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return "", nil, fmt.Errorf("decode PagerDuty payload: %w", err)
	}
	if msg.Event.Data.ID == "" {
		return "", nil, errNoEventID
	}
	return msg.Event.Data.ID, map[string]any{
		"eventType": msg.Event.EventType,
		"title":     msg.Event.Data.Title,
	}, nil
}

// ParseOpsgenie reads alert.tinyId, falling back to alert.alertId. The
// tiny id is what Opsgenie's Slack integration prints.
func ParseOpsgenie(body []byte) (string, map[string]any, error) {
	var msg struct {
		Action string `json:"action"`
		Alert  struct {
			AlertID string `json:"alertId"`
			TinyID  string `json:"tinyId"`
			Message string `json:"message"`
		} `json:"alert"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return "", nil, fmt.Errorf("decode Opsgenie payload: %w", err)
	}
	id := msg.Alert.TinyID
	if id == "" {
		id = msg.Alert.AlertID
	}
	if id == "" {
		return "", nil, errNoEventID
	}
	return id, map[string]any{
		"action":  msg.Action,
		"alertId": msg.Alert.AlertID,
		"title":   msg.Alert.Message,
	}, nil
}
