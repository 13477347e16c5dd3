package masking

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaskedFieldValue replaces the value of a sensitive field.
const MaskedFieldValue = "[MASKED]"

// sensitiveKeys are matched case-insensitively against the whole key after
// stripping "-" and "_".
var sensitiveKeys = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"clientsecret":  true,
	"token":         true,
	"accesstoken":   true,
	"refreshtoken":  true,
	"apikey":        true,
	"privatekey":    true,
	"authorization": true,
	"credentials":   true,
	"connstr":       true,
	"dsn":           true,
}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	k = strings.NewReplacer("-", "", "_", "").Replace(k)
	return sensitiveKeys[k]
}

// CredentialFieldMasker masks the values of credential-looking keys in JSON
// and YAML documents, e.g. database rows, log hits, or MCP resources.
type CredentialFieldMasker struct{}

// Name returns the unique identifier for this masker.
func (m *CredentialFieldMasker) Name() string { return "credential_fields" }

// AppliesTo checks for a document-shaped payload mentioning a sensitive word.
func (m *CredentialFieldMasker) AppliesTo(data string) bool {
	lower := strings.ToLower(data)
	if !strings.ContainsAny(lower, "{:") {
		return false
	}
	for _, hint := range []string{"pass", "secret", "token", "key", "auth", "credential", "dsn", "connstr"} {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// Mask tries JSON first when the input looks like JSON, then YAML.
// Unparseable input is returned unchanged.
func (m *CredentialFieldMasker) Mask(data string) string {
	trimmed := strings.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		if masked, ok := maskJSON(trimmed); ok {
			return masked
		}
		// JSON-looking input is never re-serialized as YAML.
		return data
	}
	if masked, ok := maskYAML(data); ok {
		return masked
	}
	return data
}

func maskJSON(data string) (string, bool) {
	var doc any
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return "", false
	}
	if !maskValue(doc) {
		return "", false
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return "", false
	}
	return string(out), true
}

func maskYAML(data string) (string, bool) {
	decoder := yaml.NewDecoder(strings.NewReader(data))
	var documents []any
	anyMasked := false
	for {
		var doc any
		err := decoder.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", false
		}
		if doc == nil {
			continue
		}
		// Scalars are not documents worth re-encoding.
		switch doc.(type) {
		case map[string]any, []any:
		default:
			return "", false
		}
		if maskValue(doc) {
			anyMasked = true
		}
		documents = append(documents, doc)
	}
	if !anyMasked {
		return "", false
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	for _, doc := range documents {
		if err := encoder.Encode(doc); err != nil {
			return "", false
		}
	}
	if err := encoder.Close(); err != nil {
		return "", false
	}
	result := strings.TrimRight(buf.String(), "\n")
	if strings.HasSuffix(data, "\n") {
		result += "\n"
	}
	return result, true
}

// maskValue walks v in place and reports whether anything was masked.
func maskValue(v any) bool {
	masked := false
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if isSensitiveKey(k) && val != nil {
				t[k] = MaskedFieldValue
				masked = true
				continue
			}
			if maskValue(val) {
				masked = true
			}
		}
	case []any:
		for _, item := range t {
			if maskValue(item) {
				masked = true
			}
		}
	}
	return masked
}
