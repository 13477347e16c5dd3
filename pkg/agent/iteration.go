package agent

// MaxConsecutiveFailures is the number of engine calls in a row that may
// fail before the run is abandoned.
const MaxConsecutiveFailures = 2

// IterationState tracks the tool loop across iterations.
type IterationState struct {
	CurrentIteration    int
	MaxIterations       int
	ToolCalls           int
	LastErrorMessage    string
	ConsecutiveFailures int
}

// ShouldAbort reports whether consecutive engine failures reached the
// threshold.
func (s *IterationState) ShouldAbort() bool {
	return s.ConsecutiveFailures >= MaxConsecutiveFailures
}

// RecordSuccess resets failure tracking after a successful engine call.
func (s *IterationState) RecordSuccess() {
	s.LastErrorMessage = ""
	s.ConsecutiveFailures = 0
}

// RecordFailure records a failed engine call.
func (s *IterationState) RecordFailure(errMsg string) {
	s.LastErrorMessage = errMsg
	s.ConsecutiveFailures++
}
