package slack

import (
	"fmt"
	"strings"

	goslack "github.com/slack-go/slack"
)

const (
	maxBlockTextLength = 2900
	// Slack rejects messages with more than 50 blocks.
	maxAnswerBlocks = 45
	// Notification fallback text is cut well below Slack's 40k limit.
	maxFallbackText = 3000
)

func markdownSection(text string) goslack.Block {
	return goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
		nil, nil,
	)
}

// BuildPlaceholderMessage creates the "investigating" status post.
func BuildPlaceholderMessage(text string) []goslack.Block {
	return []goslack.Block{markdownSection(text)}
}

// BuildAnswerMessage splits answer into section blocks and appends a trace
// link when traceURL is set.
func BuildAnswerMessage(answer, traceURL string) []goslack.Block {
	chunks := splitForSlack(answer, maxBlockTextLength)
	truncated := false
	if len(chunks) > maxAnswerBlocks {
		chunks = chunks[:maxAnswerBlocks]
		truncated = true
	}

	blocks := make([]goslack.Block, 0, len(chunks)+2)
	for _, c := range chunks {
		blocks = append(blocks, markdownSection(c))
	}
	if truncated {
		blocks = append(blocks, markdownSection("_... (answer truncated)_"))
	}
	if traceURL != "" {
		blocks = append(blocks, goslack.NewContextBlock("",
			goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("<%s|View trace>", traceURL), false, false),
		))
	}
	return blocks
}

// BuildFailureMessage creates the threaded notice posted when a run fails
// after the placeholder went out.
func BuildFailureMessage(reason string) []goslack.Block {
	text := ":x: *Investigation failed*"
	if reason != "" {
		text += "\n" + truncateForSlack(reason)
	}
	return []goslack.Block{markdownSection(text)}
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}

func fallbackText(text string) string {
	if len(text) <= maxFallbackText {
		return text
	}
	return text[:maxFallbackText] + "..."
}

// splitForSlack cuts text into chunks of at most limit bytes, preferring
// line boundaries. Lines longer than limit are hard-split.
func splitForSlack(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var chunks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}
	for _, line := range strings.Split(text, "\n") {
		for len(line) > limit {
			flush()
			chunks = append(chunks, line[:limit])
			line = line[limit:]
		}
		extra := len(line)
		if cur.Len() > 0 {
			extra++
		}
		if cur.Len()+extra > limit {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
	}
	flush()
	return chunks
}
