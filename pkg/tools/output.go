package tools

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxOutputBytes caps a single tool result handed to the engine. Roughly
// 8k tokens at four bytes per token.
const MaxOutputBytes = 32 * 1024

// truncateAtLineBoundary cuts content to maxBytes, backing off to the last
// newline so JSON, YAML and log lines stay whole.
func truncateAtLineBoundary(content string, maxBytes int) string {
	if maxBytes <= 0 || len(content) <= maxBytes {
		return content
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	truncated := content[:cut]
	if idx := strings.LastIndex(truncated, "\n"); idx > 0 {
		truncated = truncated[:idx]
	}
	return truncated + fmt.Sprintf("\n\n[TRUNCATED: original size %s, limit %s]",
		formatSize(len(content)), formatSize(maxBytes))
}

// formatSize uses bytes under 1KB to avoid "0KB".
func formatSize(n int) string {
	if n < 1024 {
		return fmt.Sprintf("%dB", n)
	}
	return fmt.Sprintf("%dKB", n/1024)
}
