package workflow

import (
	"fmt"
	"maps"
	"time"
)

// Status captures coarse workflow state for persistence and orchestration.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Context carries the original request plus key/value data gathered across
// steps. Values are opaque to the core.
type Context struct {
	Request      string         `json:"request"`
	Data         map[string]any `json:"data,omitempty"`
	LastActivity time.Time      `json:"last_activity"`
}

// State is the durable unit of progress for one logical task. It is mutated
// only by the orchestrator; stores persist and hand back snapshots.
type State struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`

	Status  Status `json:"status"`
	Version int64  `json:"version"`

	CurrentStepIndex int          `json:"current_step_index"`
	MaxSteps         int          `json:"max_steps"`
	CompletedSteps   []StepResult `json:"completed_steps,omitempty"`
	PendingStep      *StepPlan    `json:"pending_step,omitempty"`

	Confirmation *PendingConfirmation `json:"confirmation,omitempty"`

	Context   Context   `json:"context"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the workflow's TTL has elapsed. An expired
// workflow is treated as absent by stores.
func (s State) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Terminal reports whether the workflow can make no further progress.
func (s State) Terminal() bool {
	return IsTerminalStatus(s.Status)
}

func IsTerminalStatus(status Status) bool {
	switch status {
	case StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

var allowedTransitions = map[Status]map[Status]struct{}{
	StatusActive: {
		StatusActive:    {},
		StatusPaused:    {},
		StatusCompleted: {},
		StatusCancelled: {},
	},
	StatusPaused: {
		StatusActive:    {},
		StatusCancelled: {},
	},
	StatusCompleted: {},
	StatusCancelled: {},
}

// ErrInvalidTransition wraps a disallowed status change.
type ErrInvalidTransition struct {
	From, To Status
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid workflow status transition: %s -> %s", e.From, e.To)
}

func validateTransition(from, to Status) error {
	if from == to {
		return nil
	}
	allowed, ok := allowedTransitions[from]
	if !ok {
		return ErrInvalidTransition{From: from, To: to}
	}
	if _, ok := allowed[to]; !ok {
		return ErrInvalidTransition{From: from, To: to}
	}
	return nil
}

// Transition moves the workflow to a new status, enforcing the state machine.
func (s *State) Transition(to Status) error {
	if err := validateTransition(s.Status, to); err != nil {
		return err
	}
	s.Status = to
	return nil
}

// Clone returns a deep copy safe for in-memory stores.
func Clone(in State) State {
	out := in
	if in.CompletedSteps != nil {
		out.CompletedSteps = make([]StepResult, len(in.CompletedSteps))
		for i := range in.CompletedSteps {
			out.CompletedSteps[i] = cloneStepResult(in.CompletedSteps[i])
		}
	}
	if in.PendingStep != nil {
		plan := cloneStepPlan(*in.PendingStep)
		out.PendingStep = &plan
	}
	if in.Confirmation != nil {
		conf := *in.Confirmation
		if in.Confirmation.Params != nil {
			conf.Params = make(map[string]any, len(in.Confirmation.Params))
			maps.Copy(conf.Params, in.Confirmation.Params)
		}
		out.Confirmation = &conf
	}
	if in.Context.Data != nil {
		out.Context.Data = make(map[string]any, len(in.Context.Data))
		maps.Copy(out.Context.Data, in.Context.Data)
	}
	return out
}

func cloneStepPlan(in StepPlan) StepPlan {
	out := in
	if in.Params != nil {
		out.Params = make(map[string]any, len(in.Params))
		maps.Copy(out.Params, in.Params)
	}
	return out
}

func cloneStepResult(in StepResult) StepResult {
	out := in
	if in.Params != nil {
		out.Params = make(map[string]any, len(in.Params))
		maps.Copy(out.Params, in.Params)
	}
	return out
}
