package workflow

import "time"

// StepPlan is the planner's proposed next action. A plan with Complete set
// carries no operation and terminates the loop.
type StepPlan struct {
	Step        int            `json:"step"`
	Description string         `json:"description"`
	Provider    string         `json:"provider,omitempty"`
	Operation   string         `json:"operation,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	Reasoning   string         `json:"reasoning,omitempty"`
	Complete    bool           `json:"complete"`
}

// StepResult is the outcome of executing one StepPlan. Immutable once
// appended to a workflow's completed steps.
type StepResult struct {
	Step       int            `json:"step"`
	Provider   string         `json:"provider"`
	Operation  string         `json:"operation"`
	Params     map[string]any `json:"params,omitempty"`
	Payload    any            `json:"payload,omitempty"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
	ExecutedAt time.Time      `json:"executed_at"`
}

// StepAnalysis classifies a step's outcome: carry on, stop for user input,
// or finish.
type StepAnalysis struct {
	ShouldContinue bool           `json:"should_continue"`
	Complete       bool           `json:"complete"`
	NeedsUserInput bool           `json:"needs_user_input"`
	Analysis       string         `json:"analysis"`
	UpdatedContext map[string]any `json:"updated_context,omitempty"`
}

// Continuation is the classifier's verdict on a new message arriving while a
// workflow is in flight.
type Continuation string

const (
	ContinuationContinue  Continuation = "continue"
	ContinuationInterrupt Continuation = "interrupt"
	ContinuationPause     Continuation = "pause"
)

// ContinuationDecision pairs the verdict with the oracle's confidence so the
// caller can apply its own tie-break policy.
type ContinuationDecision struct {
	Action     Continuation `json:"action"`
	Confidence float64      `json:"confidence"`
	Reason     string       `json:"reason,omitempty"`
}
