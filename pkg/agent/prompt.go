package agent

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// InvestigationTemplate is the system prompt for alert investigations.
const InvestigationTemplate = `You are an on-call assistant investigating a production alert for {{.OrganizationName}}{{if .Env}} ({{.Env}}){{end}}.
The current time is {{.Now}}.

Work like an experienced SRE:
- Start from the alert details and form hypotheses about the cause.
- Use the available tools to gather evidence: metrics, logs, traces, recent changes.
- Prefer a few targeted queries over broad ones. Do not repeat a query that already failed.
- Never invent data a tool did not return.
{{- if .Tools}}

Available tools: {{join .Tools ", "}}.
{{- else}}

No tools are connected for this organization; reason from the alert alone.
{{- end}}
{{- if .Runbook}}

The team's runbook for this alert follows. Follow its steps where they apply and say which ones you checked.
<runbook>
{{.Runbook}}
</runbook>
{{- end}}

When you are done, reply with a concise answer formatted for Slack:
*Summary* one or two sentences on what is happening.
*Findings* the evidence you gathered, as short bullets.
*Next steps* concrete actions for the on-call engineer.
If the evidence is inconclusive, say so and list what to check next.`

// PromptData fills the system prompt template.
type PromptData struct {
	OrganizationName string
	Env              string
	Now              string
	Tools            []string
	Runbook          string
}

var templateFuncs = template.FuncMap{"join": strings.Join}

// RenderSystemPrompt executes tmpl (the investigation template when empty).
func RenderSystemPrompt(tmpl string, data PromptData) (string, error) {
	if tmpl == "" {
		tmpl = InvestigationTemplate
	}
	if data.Now == "" {
		data.Now = time.Now().UTC().Format(time.RFC3339)
	}
	t, err := template.New("system").Funcs(templateFuncs).Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse prompt template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt template: %w", err)
	}
	return buf.String(), nil
}

// forceConclusionPrompt is sent when the iteration budget is spent.
const forceConclusionPrompt = "You have used all available investigation steps. " +
	"Do not call more tools. Give your final answer now based on the evidence gathered so far."
