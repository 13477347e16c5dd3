package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/merlinn-co/merlinn/pkg/models"
)

// NotifyChannel is the PostgreSQL NOTIFY channel system events go out on.
const NotifyChannel = "merlinn_events"

// maxNotifyPayload keeps payloads under PostgreSQL's 8000-byte NOTIFY limit.
const maxNotifyPayload = 7900

// LogSink writes every event to the structured log.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "events")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Handle(_ context.Context, event models.SystemEvent) error {
	s.logger.Info("System event",
		"type", event.Type, "entity_id", event.EntityID, "env", event.Payload["env"])
	return nil
}

// NotifySink forwards events to PostgreSQL listeners with pg_notify.
type NotifySink struct {
	db      *sql.DB
	channel string
}

// NewNotifySink creates a NotifySink on NotifyChannel.
func NewNotifySink(db *sql.DB) *NotifySink {
	return &NotifySink{db: db, channel: NotifyChannel}
}

func (s *NotifySink) Name() string { return "pg_notify" }

func (s *NotifySink) Handle(ctx context.Context, event models.SystemEvent) error {
	payloadJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	notifyPayload, err := truncateIfNeeded(payloadJSON)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", s.channel, notifyPayload); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// truncateIfNeeded returns the payload unchanged if it fits in a NOTIFY,
// otherwise a minimal envelope with only the routing fields.
func truncateIfNeeded(payload []byte) (string, error) {
	if len(payload) <= maxNotifyPayload {
		return string(payload), nil
	}
	var routing struct {
		Type     models.EventType `json:"type"`
		EntityID string           `json:"entityId"`
		Payload  struct {
			Env string `json:"env"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(payload, &routing); err != nil {
		return "", fmt.Errorf("failed to extract routing fields for truncation: %w", err)
	}
	truncated, err := json.Marshal(map[string]any{
		"type":      routing.Type,
		"entityId":  routing.EntityID,
		"payload":   map[string]any{"env": routing.Payload.Env},
		"truncated": true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated payload: %w", err)
	}
	return string(truncated), nil
}

// FuncSink adapts a function to Sink.
type FuncSink struct {
	SinkName string
	Fn       func(ctx context.Context, event models.SystemEvent) error
}

func (s FuncSink) Name() string { return s.SinkName }

func (s FuncSink) Handle(ctx context.Context, event models.SystemEvent) error {
	return s.Fn(ctx, event)
}
