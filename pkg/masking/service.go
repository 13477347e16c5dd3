package masking

import (
	"fmt"
	"log/slog"
	"regexp"

	"github.com/merlinn-co/merlinn/pkg/config"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

type builtinPattern struct {
	pattern     string
	replacement string
}

// builtinPatterns are selectable by name from masking.builtin.
var builtinPatterns = map[string]builtinPattern{
	"api_key": {
		pattern:     `(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{20,})["']?`,
		replacement: `"api_key": "__MASKED_API_KEY__"`,
	},
	"password": {
		pattern:     `(?i)(?:password|pwd|pass)["']?\s*[:=]\s*["']?([^"'\s\n]{6,})["']?`,
		replacement: `"password": "__MASKED_PASSWORD__"`,
	},
	"token": {
		pattern:     `(?i)(?:token|jwt)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
		replacement: `"token": "__MASKED_TOKEN__"`,
	},
	"bearer": {
		pattern:     `(?i)bearer\s+[A-Za-z0-9_\-\.=+/]{20,}`,
		replacement: `Bearer __MASKED_TOKEN__`,
	},
	"private_key": {
		pattern:     `(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`,
		replacement: `__MASKED_PRIVATE_KEY__`,
	},
	"email": {
		pattern:     `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9]+(?:[.-][A-Za-z0-9]+)*\.[A-Za-z]{2,63}\b`,
		replacement: `__MASKED_EMAIL__`,
	},
	"slack_token": {
		pattern:     `xox[abposr]-[A-Za-z0-9-]{10,}`,
		replacement: `__MASKED_SLACK_TOKEN__`,
	},
	"github_token": {
		pattern:     `gh[pousr]_[A-Za-z0-9]{36,}`,
		replacement: `__MASKED_GITHUB_TOKEN__`,
	},
}

// Service masks tool output. It is created once at startup and is safe for
// concurrent use.
type Service struct {
	enabled  bool
	maskers  []Masker
	patterns []*CompiledPattern
}

// NewService compiles the configured built-in and custom patterns. Unknown
// built-in names and invalid patterns are logged and skipped.
func NewService(cfg *config.MaskingConfig) *Service {
	s := &Service{}
	if cfg == nil || !cfg.IsEnabled() {
		slog.Info("Masking service disabled")
		return s
	}
	s.enabled = true

	codeMaskers := map[string]Masker{}
	for _, m := range []Masker{&CredentialFieldMasker{}} {
		codeMaskers[m.Name()] = m
	}

	for _, name := range cfg.Builtin {
		if m, ok := codeMaskers[name]; ok {
			s.maskers = append(s.maskers, m)
			continue
		}
		bp, ok := builtinPatterns[name]
		if !ok {
			slog.Warn("Unknown built-in masking pattern, skipping", "pattern", name)
			continue
		}
		s.addPattern(name, bp.pattern, bp.replacement)
	}
	for i, p := range cfg.Patterns {
		name := p.Name
		if name == "" {
			name = fmt.Sprintf("custom:%d", i)
		}
		replacement := p.Replacement
		if replacement == "" {
			replacement = "__MASKED__"
		}
		s.addPattern(name, p.Pattern, replacement)
	}

	slog.Info("Masking service initialized",
		"code_maskers", len(s.maskers),
		"compiled_patterns", len(s.patterns))
	return s
}

func (s *Service) addPattern(name, pattern, replacement string) {
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		slog.Error("Failed to compile masking pattern, skipping", "pattern", name, "error", err)
		return
	}
	s.patterns = append(s.patterns, &CompiledPattern{Name: name, Regex: compiled, Replacement: replacement})
}

// Enabled reports whether masking is active.
func (s *Service) Enabled() bool {
	return s != nil && s.enabled
}

// MaskToolResult masks a tool's output. Code-based maskers run first, then
// the regex sweep. If masking panics the output is redacted (fail-closed).
func (s *Service) MaskToolResult(content, tool string) (masked string) {
	if !s.Enabled() || content == "" {
		return content
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Masking failed, redacting content (fail-closed)", "tool", tool, "panic", r)
			masked = "[REDACTED: data masking failure, tool result could not be safely processed]"
		}
	}()

	masked = content
	for _, m := range s.maskers {
		if m.AppliesTo(masked) {
			masked = m.Mask(masked)
		}
	}
	for _, p := range s.patterns {
		masked = p.Regex.ReplaceAllString(masked, p.Replacement)
	}
	return masked
}
