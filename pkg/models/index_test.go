package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name      string
		perSource map[string]SourceStatus
		want      IndexStatus
	}{
		{"empty is pending", nil, IndexStatusPending},
		{"all queued", map[string]SourceStatus{"Slack": SourceInQueue, "Jira": SourceInQueue}, IndexStatusPending},
		{"partial progress", map[string]SourceStatus{"Slack": SourceCompleted, "Jira": SourceInProgress}, IndexStatusPending},
		{"all completed", map[string]SourceStatus{"Slack": SourceCompleted, "Jira": SourceCompleted}, IndexStatusCompleted},
		{"one failed wins over completed", map[string]SourceStatus{"Slack": SourceCompleted, "Jira": SourceFailed}, IndexStatusFailed},
		{"failed with pending", map[string]SourceStatus{"Slack": SourceInQueue, "Jira": SourceFailed}, IndexStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.perSource))
		})
	}
}

func TestIndexState_WithSource(t *testing.T) {
	state := NewPendingState([]string{"Slack", "Github"})
	assert.Equal(t, IndexStatusPending, state.Status)

	next := state.WithSource("Slack", SourceCompleted)
	assert.Equal(t, SourceInQueue, state.PerSource["Slack"], "original state must not change")
	assert.Equal(t, IndexStatusPending, next.Status)

	done := next.WithSource("Github", SourceCompleted)
	assert.Equal(t, IndexStatusCompleted, done.Status)

	failed := next.WithSource("Github", SourceFailed)
	assert.Equal(t, IndexStatusFailed, failed.Status)
}

func TestIndexState_StatusAlwaysMatchesPerSource(t *testing.T) {
	sources := []string{"Slack", "Github", "Jira"}
	steps := []struct {
		source string
		status SourceStatus
	}{
		{"Slack", SourceInProgress},
		{"Slack", SourceCompleted},
		{"Github", SourceInProgress},
		{"Github", SourceCompleted},
		{"Jira", SourceInProgress},
		{"Jira", SourceFailed},
	}

	state := NewPendingState(sources)
	for _, step := range steps {
		state = state.WithSource(step.source, step.status)
		assert.Equal(t, DeriveStatus(state.PerSource), state.Status)
	}
	assert.Equal(t, IndexStatusFailed, state.Status)
}

func TestIndexState_FailAll(t *testing.T) {
	state := NewPendingState([]string{"Slack", "Github"}).WithSource("Slack", SourceCompleted)
	failed := state.FailAll()
	assert.Equal(t, IndexStatusFailed, failed.Status)
	assert.Equal(t, SourceCompleted, failed.PerSource["Slack"])
	assert.Equal(t, SourceFailed, failed.PerSource["Github"])
}

func TestProgress(t *testing.T) {
	tests := []struct {
		name  string
		state IndexState
		want  int
	}{
		{
			name:  "two of three completed",
			state: IndexState{PerSource: map[string]SourceStatus{"Slack": SourceCompleted, "Github": SourceCompleted, "Jira": SourceInProgress}},
			want:  60,
		},
		{
			name:  "nothing completed floors at five",
			state: NewPendingState([]string{"Slack", "Github"}),
			want:  5,
		},
		{
			name:  "fractional share is floored",
			state: IndexState{PerSource: map[string]SourceStatus{"a": SourceCompleted, "b": SourceInQueue, "c": SourceInQueue, "d": SourceInQueue, "e": SourceInQueue, "f": SourceInQueue, "g": SourceInQueue}},
			want:  12,
		},
		{
			name:  "completed",
			state: IndexState{PerSource: map[string]SourceStatus{"Slack": SourceCompleted}},
			want:  100,
		},
		{
			name:  "failed resets",
			state: IndexState{PerSource: map[string]SourceStatus{"Slack": SourceCompleted, "Github": SourceFailed}},
			want:  5,
		},
		{
			name:  "no sources",
			state: IndexState{},
			want:  5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Progress(tt.state))
		})
	}
}

func TestProgress_MonotonicWhilePending(t *testing.T) {
	state := NewPendingState([]string{"Slack", "Github", "Jira", "Notion"})
	last := Progress(state)
	for _, s := range []string{"Slack", "Github", "Jira"} {
		state = state.WithSource(s, SourceInProgress)
		assert.GreaterOrEqual(t, Progress(state), last)
		last = Progress(state)

		state = state.WithSource(s, SourceCompleted)
		assert.Equal(t, IndexStatusPending, state.Status)
		assert.GreaterOrEqual(t, Progress(state), last)
		last = Progress(state)
	}
	assert.Equal(t, 67, last)
}

func TestIndex_StatusText(t *testing.T) {
	idx := &Index{DataSources: []string{"Slack", "Github"}}

	idx.State = NewPendingState(idx.DataSources)
	assert.Equal(t, "Initializing process.", idx.StatusText())

	idx.State = idx.State.WithSource("Github", SourceInProgress)
	assert.Equal(t, "Fetching documents from Github...", idx.StatusText())

	idx.State = idx.State.WithSource("Github", SourceCompleted).WithSource("Slack", SourceCompleted)
	assert.Equal(t, "Index is ready.", idx.StatusText())

	idx.State = IndexState{PerSource: map[string]SourceStatus{"Slack": SourceCompleted, "Github": SourceCompleted, "Jira": SourceInProgress}}
	assert.Equal(t, "Fetching documents from Jira...", idx.StatusText())
}

func TestIsIndexable(t *testing.T) {
	assert.True(t, IsIndexable(VendorConfluence))
	assert.True(t, IsIndexable(VendorPagerDuty))
	assert.False(t, IsIndexable(VendorPrometheus))
	assert.False(t, IsIndexable("slack"))
}

func TestIndexState_KeepsBuildID(t *testing.T) {
	state := NewPendingState([]string{"Slack", "Github"})
	state.BuildID = "b-1"

	assert.Equal(t, "b-1", state.WithSource("Slack", SourceCompleted).BuildID)
	assert.Equal(t, "b-1", state.FailAll().BuildID)
}
