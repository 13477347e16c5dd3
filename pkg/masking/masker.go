// Package masking redacts secrets from tool output before it reaches the
// reasoning engine.
package masking

// Masker is a code-based masker for content that needs structural awareness
// beyond regex matching, e.g. masking a "password" value inside a JSON
// document without touching a "password_policy" field.
type Masker interface {
	// Name returns the identifier used in masking.builtin.
	Name() string

	// AppliesTo is a cheap pre-check; it should not parse.
	AppliesTo(data string) bool

	// Mask returns the masked data, or data unchanged if it cannot be parsed.
	Mask(data string) string
}
