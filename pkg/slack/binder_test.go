package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merlinn-co/merlinn/pkg/config"
	"github.com/merlinn-co/merlinn/pkg/models"
)

// fakeSlack serves the Web API methods the binder uses and records calls.
type fakeSlack struct {
	mu        sync.Mutex
	history   string
	posts     []url.Values
	reactions []url.Values
	failPost  bool
	failReact bool
	nextTS    int
}

func (f *fakeSlack) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.mu.Lock()
		defer f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")

		switch strings.TrimPrefix(r.URL.Path, "/") {
		case "conversations.history":
			_, _ = fmt.Fprint(w, f.history)
		case "chat.postMessage":
			if f.failPost {
				_, _ = fmt.Fprint(w, `{"ok":false,"error":"channel_not_found"}`)
				return
			}
			f.posts = append(f.posts, r.Form)
			f.nextTS++
			_, _ = fmt.Fprintf(w, `{"ok":true,"channel":%q,"ts":"1700000100.%06d"}`, r.Form.Get("channel"), f.nextTS)
		case "reactions.add":
			if f.failReact {
				_, _ = fmt.Fprint(w, `{"ok":false,"error":"missing_scope"}`)
				return
			}
			f.reactions = append(f.reactions, r.Form)
			_, _ = fmt.Fprint(w, `{"ok":true}`)
		default:
			http.NotFound(w, r)
		}
	})
}

const historyWithEvent = `{"ok":true,"messages":[
	{"type":"message","ts":"1700000003.000000","text":"unrelated chatter"},
	{"type":"message","ts":"1700000002.000000","text":"","attachments":[{"title":"Triggered #4521","text":"Incident Q1ABCD on checkout-api","fallback":"Triggered"}]},
	{"type":"message","ts":"1700000001.000000","text":"older mention of q1abcd"}
]}`

func newTestBinder(t *testing.T, fake *fakeSlack, cfg *config.SlackConfig) *Binder {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	if cfg == nil {
		cfg = &config.SlackConfig{PlaceholderText: "Investigating...", HistoryLimit: 50}
	}
	return NewBinder(NewClientWithAPIURL("xoxb-test", srv.URL), cfg)
}

func TestBinder_BindInitialStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("threads placeholder under newest matching message", func(t *testing.T) {
		fake := &fakeSlack{history: historyWithEvent}
		b := newTestBinder(t, fake, nil)

		handle, err := b.BindInitialStatus(ctx, "C123", "Q1ABCD")
		require.NoError(t, err)
		assert.Equal(t, "C123", handle.ChannelID)
		assert.Equal(t, "1700000002.000000", handle.ThreadTS)
		assert.NotEmpty(t, handle.PlaceholderTS)

		require.Len(t, fake.posts, 1)
		assert.Equal(t, "1700000002.000000", fake.posts[0].Get("thread_ts"))
		assert.Equal(t, "Investigating...", fake.posts[0].Get("text"))
	})

	t.Run("no matching message", func(t *testing.T) {
		fake := &fakeSlack{history: `{"ok":true,"messages":[{"type":"message","ts":"1.0","text":"hello"}]}`}
		b := newTestBinder(t, fake, nil)

		_, err := b.BindInitialStatus(ctx, "C123", "Q1ABCD")
		assert.ErrorIs(t, err, ErrMessageNotFound)
		assert.Empty(t, fake.posts)
	})

	t.Run("history error", func(t *testing.T) {
		fake := &fakeSlack{history: `{"ok":false,"error":"not_in_channel"}`}
		b := newTestBinder(t, fake, nil)

		_, err := b.BindInitialStatus(ctx, "C123", "Q1ABCD")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrMessageNotFound)
		assert.Contains(t, err.Error(), "not_in_channel")
	})
}

func TestBinder_PostAnswer(t *testing.T) {
	ctx := context.Background()
	handle := MessageHandle{ChannelID: "C123", ThreadTS: "1700000002.000000"}
	answer := Answer{
		Text:     "Root cause: connection pool exhausted on checkout-db.",
		TraceURL: "https://trace.example.com/t/abc",
		Event: models.SystemEvent{
			Type:    models.EventAnswerCreated,
			Payload: map[string]any{"traceId": "abc", "env": "test"},
		},
	}

	t.Run("replies in thread with metadata and reactions", func(t *testing.T) {
		fake := &fakeSlack{}
		b := newTestBinder(t, fake, nil)

		d, err := b.PostAnswer(ctx, handle, answer)
		require.NoError(t, err)
		assert.True(t, d.OK)
		assert.True(t, d.ReactionsAdded)

		require.Len(t, fake.posts, 1)
		post := fake.posts[0]
		assert.Equal(t, handle.ThreadTS, post.Get("thread_ts"))
		assert.Contains(t, post.Get("blocks"), "View trace")

		var meta map[string]any
		require.NoError(t, json.Unmarshal([]byte(post.Get("metadata")), &meta))
		assert.Equal(t, "answer_created", meta["event_type"])
		assert.Equal(t, "abc", meta["event_payload"].(map[string]any)["traceId"])

		require.Len(t, fake.reactions, 2)
		assert.Equal(t, "+1", fake.reactions[0].Get("name"))
		assert.Equal(t, "-1", fake.reactions[1].Get("name"))
		assert.Equal(t, d.TS, fake.reactions[0].Get("timestamp"))
	})

	t.Run("reaction failure does not fail delivery", func(t *testing.T) {
		fake := &fakeSlack{failReact: true}
		b := newTestBinder(t, fake, nil)

		d, err := b.PostAnswer(ctx, handle, answer)
		require.NoError(t, err)
		assert.True(t, d.OK)
		assert.False(t, d.ReactionsAdded)
	})

	t.Run("reactions disabled", func(t *testing.T) {
		off := false
		fake := &fakeSlack{}
		b := newTestBinder(t, fake, &config.SlackConfig{FeedbackReactions: &off})

		_, err := b.PostAnswer(ctx, handle, answer)
		require.NoError(t, err)
		assert.Empty(t, fake.reactions)
	})

	t.Run("post failure", func(t *testing.T) {
		fake := &fakeSlack{failPost: true}
		b := newTestBinder(t, fake, nil)

		d, err := b.PostAnswer(ctx, handle, answer)
		require.Error(t, err)
		assert.False(t, d.OK)
		assert.Empty(t, fake.reactions)
	})

	t.Run("never posts top level", func(t *testing.T) {
		fake := &fakeSlack{}
		b := newTestBinder(t, fake, nil)

		_, err := b.PostAnswer(ctx, MessageHandle{ChannelID: "C123"}, answer)
		require.Error(t, err)
		assert.Empty(t, fake.posts)
	})
}

func TestBinder_PostFailure(t *testing.T) {
	fake := &fakeSlack{}
	b := newTestBinder(t, fake, nil)

	require.NoError(t, b.PostFailure(context.Background(), MessageHandle{ChannelID: "C123"}, "boom"))
	assert.Empty(t, fake.posts)

	require.NoError(t, b.PostFailure(context.Background(), MessageHandle{ChannelID: "C123", ThreadTS: "1.0"}, "agent timed out"))
	require.Len(t, fake.posts, 1)
	assert.Equal(t, "1.0", fake.posts[0].Get("thread_ts"))
	assert.Contains(t, fake.posts[0].Get("blocks"), "agent timed out")
}

func TestFactory_ForIntegration(t *testing.T) {
	f := NewFactory(&config.SlackConfig{APIURL: "http://slack.invalid/api"})

	_, _, err := f.ForIntegration(models.Integration{
		Credentials: map[string]string{"access_token": "xoxb-1"},
	})
	assert.ErrorIs(t, err, ErrNotConfigured)

	b, channel, err := f.ForIntegration(models.Integration{
		Credentials: map[string]string{"access_token": "xoxb-1"},
		Metadata:    map[string]any{"channel_id": "C42"},
	})
	require.NoError(t, err)
	assert.NotNil(t, b)
	assert.Equal(t, "C42", channel)
}
