package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goslack "github.com/slack-go/slack"
)

// Client is a thin wrapper around the slack-go SDK. One Client is built per
// organization since each Slack integration carries its own bot token.
type Client struct {
	api    *goslack.Client
	logger *slog.Logger
}

// NewClient creates a new Slack API client.
func NewClient(token string) *Client {
	return &Client{
		api:    goslack.New(token),
		logger: slog.Default().With("component", "slack-client"),
	}
}

// NewClientWithAPIURL creates a Slack API client that targets a custom API URL.
// Useful for testing with a mock server.
func NewClientWithAPIURL(token, apiURL string) *Client {
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	return &Client{
		api:    goslack.New(token, goslack.OptionAPIURL(apiURL)),
		logger: slog.Default().With("component", "slack-client"),
	}
}

// PostOptions describes one chat.postMessage call.
type PostOptions struct {
	Text     string
	Blocks   []goslack.Block
	ThreadTS string
	Metadata *goslack.SlackMetadata
	Timeout  time.Duration
}

// PostMessage sends a message to channelID and returns its timestamp.
// If ThreadTS is non-empty, the message is posted as a threaded reply.
func (c *Client) PostMessage(ctx context.Context, channelID string, in PostOptions) (string, error) {
	if in.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.Timeout)
		defer cancel()
	}

	var opts []goslack.MsgOption
	if in.Text != "" {
		opts = append(opts, goslack.MsgOptionText(in.Text, false))
	}
	if len(in.Blocks) > 0 {
		opts = append(opts, goslack.MsgOptionBlocks(in.Blocks...))
	}
	if in.ThreadTS != "" {
		opts = append(opts, goslack.MsgOptionTS(in.ThreadTS))
	}
	if in.Metadata != nil {
		opts = append(opts, goslack.MsgOptionMetadata(*in.Metadata))
	}

	_, ts, err := c.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return "", fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return ts, nil
}

// FindMessage scans the most recent limit messages of channelID, newest
// first, for one whose text or attachments contain needle. Returns the
// message timestamp, or "" if none matches.
func (c *Client) FindMessage(ctx context.Context, channelID, needle string, limit int) (string, error) {
	params := &goslack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Limit:     limit,
	}
	history, err := c.api.GetConversationHistoryContext(ctx, params)
	if err != nil {
		return "", fmt.Errorf("conversations.history failed: %w", err)
	}

	normalizedNeedle := normalizeText(needle)
	for _, msg := range history.Messages {
		if strings.Contains(normalizeText(collectMessageText(msg)), normalizedNeedle) {
			return msg.Timestamp, nil
		}
	}
	return "", nil
}

// AddReactions adds each named reaction to the message at ts. All reactions
// are attempted; failures are joined.
func (c *Client) AddReactions(ctx context.Context, channelID, ts string, names ...string) error {
	ref := goslack.NewRefToMessage(channelID, ts)
	var errs []error
	for _, name := range names {
		if err := c.api.AddReactionContext(ctx, name, ref); err != nil {
			errs = append(errs, fmt.Errorf("reactions.add %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
