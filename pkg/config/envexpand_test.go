package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "simple substitution",
			input: "api_key: {{.API_KEY}}",
			env:   map[string]string{"API_KEY": "secret123"},
			want:  "api_key: secret123",
		},
		{
			name:  "dollar syntax is left alone",
			input: "pattern: ${USER_ID}",
			env:   map[string]string{"USER_ID": "123"},
			want:  "pattern: ${USER_ID}",
		},
		{
			name:  "regex anchors survive",
			input: "regex: ^secret.*$",
			want:  "regex: ^secret.*$",
		},
		{
			name:  "multiple substitutions in one line",
			input: "url: {{.PROTOCOL}}://{{.HOST}}:{{.PORT}}",
			env:   map[string]string{"PROTOCOL": "https", "HOST": "example.com", "PORT": "443"},
			want:  "url: https://example.com:443",
		},
		{
			name:  "missing variable expands to empty",
			input: "endpoint: {{.MERLINN_TEST_MISSING_VAR}}",
			want:  "endpoint: ",
		},
		{
			name:  "value containing equals sign",
			input: "dsn: {{.MERLINN_TEST_DSN}}",
			env:   map[string]string{"MERLINN_TEST_DSN": "host=db sslmode=disable"},
			want:  "dsn: host=db sslmode=disable",
		},
		{
			name:  "malformed template passes through",
			input: "broken: {{.UNCLOSED",
			want:  "broken: {{.UNCLOSED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.want, string(ExpandEnv([]byte(tt.input))))
		})
	}
}
