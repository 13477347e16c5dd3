package slack

import (
	"strings"
	"testing"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitForSlack(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{"empty", "  ", 10, nil},
		{"fits", "short answer", 100, []string{"short answer"}},
		{"splits on lines", "aaaa\nbbbb\ncccc", 9, []string{"aaaa\nbbbb", "cccc"}},
		{"hard splits long line", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitForSlack(tt.text, tt.limit))
		})
	}
}

func TestBuildAnswerMessage(t *testing.T) {
	t.Run("trace link appended as context", func(t *testing.T) {
		blocks := BuildAnswerMessage("answer", "https://trace/1")
		require.Len(t, blocks, 2)
		assert.Equal(t, goslack.MBTSection, blocks[0].BlockType())
		assert.Equal(t, goslack.MBTContext, blocks[1].BlockType())
	})

	t.Run("no trace link", func(t *testing.T) {
		assert.Len(t, BuildAnswerMessage("answer", ""), 1)
	})

	t.Run("caps block count", func(t *testing.T) {
		huge := strings.Repeat(strings.Repeat("x", maxBlockTextLength)+"\n", maxAnswerBlocks+5)
		blocks := BuildAnswerMessage(huge, "")
		assert.Len(t, blocks, maxAnswerBlocks+1)
	})
}

func TestBuildFailureMessage(t *testing.T) {
	blocks := BuildFailureMessage(strings.Repeat("e", maxBlockTextLength+10))
	require.Len(t, blocks, 1)
	section, ok := blocks[0].(*goslack.SectionBlock)
	require.True(t, ok)
	assert.Contains(t, section.Text.Text, "Investigation failed")
	assert.Contains(t, section.Text.Text, "truncated")
}

func TestFallbackText(t *testing.T) {
	assert.Equal(t, "ok", fallbackText("ok"))
	assert.Len(t, fallbackText(strings.Repeat("a", maxFallbackText+50)), maxFallbackText+3)
}
