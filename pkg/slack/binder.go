// Package slack binds alert investigations to the Slack thread of the
// vendor message that announced the alert.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/merlinn-co/merlinn/pkg/config"
	"github.com/merlinn-co/merlinn/pkg/models"
)

var (
	// ErrMessageNotFound is returned when no recent channel message
	// references the external event.
	ErrMessageNotFound = errors.New("slack message for event not found")

	// ErrNotConfigured is returned when a Slack integration lacks a bot
	// token or a channel.
	ErrNotConfigured = errors.New("slack integration is missing access_token or channel_id")
)

const (
	credentialAccessToken = "access_token"
	metadataChannelID     = "channel_id"
)

// FeedbackReactions are added to every delivered answer.
var FeedbackReactions = []string{"+1", "-1"}

// MessageHandle locates the thread an investigation replies into.
type MessageHandle struct {
	ChannelID string
	// ThreadTS is the vendor's alert message; every reply threads under it.
	ThreadTS      string
	PlaceholderTS string
}

// Answer is the agent output to deliver.
type Answer struct {
	Text     string
	TraceURL string
	// Event is attached as Slack message metadata so feedback reactions can
	// be correlated back to the trace.
	Event models.SystemEvent
}

// Delivery reports the outcome of PostAnswer.
type Delivery struct {
	OK             bool
	TS             string
	ReactionsAdded bool
}

// Binder posts status, answers, and failure notices into alert threads.
// It never posts top-level messages.
type Binder struct {
	client       *Client
	placeholder  string
	historyLimit int
	reactions    bool
	logger       *slog.Logger
}

// NewBinder creates a Binder backed by client.
func NewBinder(client *Client, cfg *config.SlackConfig) *Binder {
	if client == nil {
		panic("NewBinder: client must not be nil")
	}
	if cfg == nil {
		cfg = &config.SlackConfig{}
	}
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = 100
	}
	return &Binder{
		client:       client,
		placeholder:  cfg.PlaceholderText,
		historyLimit: limit,
		reactions:    cfg.ReactionsEnabled(),
		logger:       slog.Default().With("component", "slack-binder"),
	}
}

// BindInitialStatus finds the most recent message in channelID mentioning
// eventID and posts a "processing" placeholder in its thread.
func (b *Binder) BindInitialStatus(ctx context.Context, channelID, eventID string) (MessageHandle, error) {
	ts, err := b.client.FindMessage(ctx, channelID, eventID, b.historyLimit)
	if err != nil {
		return MessageHandle{}, err
	}
	if ts == "" {
		return MessageHandle{}, fmt.Errorf("%w: event %s in channel %s", ErrMessageNotFound, eventID, channelID)
	}

	handle := MessageHandle{ChannelID: channelID, ThreadTS: ts}
	placeholderTS, err := b.client.PostMessage(ctx, channelID, PostOptions{
		Text:     b.placeholder,
		Blocks:   BuildPlaceholderMessage(b.placeholder),
		ThreadTS: ts,
		Timeout:  5 * time.Second,
	})
	if err != nil {
		return handle, err
	}
	handle.PlaceholderTS = placeholderTS

	b.logger.Info("Bound alert to Slack thread",
		"channel_id", channelID,
		"event_id", eventID,
		"thread_ts", ts)
	return handle, nil
}

// PostAnswer replies in the handle's thread with the answer and its event
// metadata. Feedback reactions are fail-open.
func (b *Binder) PostAnswer(ctx context.Context, handle MessageHandle, answer Answer) (Delivery, error) {
	if handle.ThreadTS == "" {
		return Delivery{}, errors.New("slack: answer requires a thread")
	}

	metadata := &goslack.SlackMetadata{
		EventType:    string(answer.Event.Type),
		EventPayload: answer.Event.Payload,
	}
	ts, err := b.client.PostMessage(ctx, handle.ChannelID, PostOptions{
		Text:     fallbackText(answer.Text),
		Blocks:   BuildAnswerMessage(answer.Text, answer.TraceURL),
		ThreadTS: handle.ThreadTS,
		Metadata: metadata,
		Timeout:  10 * time.Second,
	})
	if err != nil {
		return Delivery{}, err
	}

	d := Delivery{OK: true, TS: ts}
	if !b.reactions {
		return d, nil
	}
	if err := b.client.AddReactions(ctx, handle.ChannelID, ts, FeedbackReactions...); err != nil {
		b.logger.Warn("Failed to add feedback reactions",
			"channel_id", handle.ChannelID,
			"ts", ts,
			"error", err)
		return d, nil
	}
	d.ReactionsAdded = true
	return d, nil
}

// PostFailure threads a failure notice. A handle without a thread is a
// no-op.
func (b *Binder) PostFailure(ctx context.Context, handle MessageHandle, reason string) error {
	if handle.ThreadTS == "" {
		return nil
	}
	_, err := b.client.PostMessage(ctx, handle.ChannelID, PostOptions{
		Text:     "Investigation failed",
		Blocks:   BuildFailureMessage(reason),
		ThreadTS: handle.ThreadTS,
		Timeout:  5 * time.Second,
	})
	return err
}

// Factory builds Binders from organizations' Slack integrations.
type Factory struct {
	cfg *config.SlackConfig
}

// NewFactory creates a Factory. cfg.APIURL, when set, overrides the Slack
// Web API base URL.
func NewFactory(cfg *config.SlackConfig) *Factory {
	if cfg == nil {
		cfg = &config.SlackConfig{}
	}
	return &Factory{cfg: cfg}
}

// ForIntegration returns a Binder using in's decrypted bot token, and the
// channel alerts are posted to.
func (f *Factory) ForIntegration(in models.Integration) (*Binder, string, error) {
	token := in.Credential(credentialAccessToken)
	channelID := in.MetadataString(metadataChannelID)
	if token == "" || channelID == "" {
		return nil, "", ErrNotConfigured
	}
	var client *Client
	if f.cfg.APIURL != "" {
		client = NewClientWithAPIURL(token, f.cfg.APIURL)
	} else {
		client = NewClient(token)
	}
	return NewBinder(client, f.cfg), channelID, nil
}
