package alerts

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/template"
)

var promptTemplate = template.Must(template.New("alert").Funcs(template.FuncMap{
	"sortedKeys": sortedKeys,
	"join":       strings.Join,
}).Parse(`A {{.Vendor}} alert was triggered{{if .Number}} (#{{.Number}}){{end}}.

Title: {{.Title}}
Status: {{.Status}}
{{- if .Severity}}
Severity: {{.Severity}}
{{- end}}
{{- if .Service}}
Service: {{.Service}}
{{- end}}
{{- if not .CreatedAt.IsZero}}
Triggered at: {{.CreatedAt.UTC.Format "2006-01-02T15:04:05Z07:00"}}
{{- end}}
{{- if .URL}}
Link: {{.URL}}
{{- end}}
{{- if .Tags}}
Tags: {{join .Tags ", "}}
{{- end}}
{{- if .Description}}

Description:
{{.Description}}
{{- end}}
{{- if .Details}}

Details:
{{- range $k := sortedKeys .Details}}
- {{$k}}: {{index $.Details $k}}
{{- end}}
{{- end}}

Investigate the root cause of this alert.`))

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RenderPrompt renders an incident as the user prompt for the agent.
func RenderPrompt(inc *Incident) (string, error) {
	if inc == nil {
		return "", fmt.Errorf("render prompt: nil incident")
	}
	var b strings.Builder
	if err := promptTemplate.Execute(&b, inc); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return b.String(), nil
}

// BuildPrompt fetches the incident and renders it.
func BuildPrompt(ctx context.Context, f Fetcher, id string) (string, *Incident, error) {
	inc, err := f.FetchIncident(ctx, id)
	if err != nil {
		return "", nil, err
	}
	prompt, err := RenderPrompt(inc)
	if err != nil {
		return "", nil, err
	}
	return prompt, inc, nil
}
