package agent

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/merlinn-co/merlinn/pkg/config"
)

// answerContext correlates an answer with the run's span.
type answerContext struct {
	traceID       string
	traceURL      string
	observationID string
}

func (a answerContext) TraceID() string       { return a.traceID }
func (a answerContext) TraceURL() string      { return a.traceURL }
func (a answerContext) ObservationID() string { return a.observationID }

// newAnswerContext reads ids from span. With a no-op tracer the ids are
// empty and so is the URL.
func newAnswerContext(span trace.Span, system *config.SystemConfig) answerContext {
	sc := span.SpanContext()
	if !sc.HasTraceID() {
		return answerContext{}
	}
	ac := answerContext{traceID: sc.TraceID().String()}
	if sc.HasSpanID() {
		ac.observationID = sc.SpanID().String()
	}
	ac.traceURL = system.TraceURL(ac.traceID)
	return ac
}
