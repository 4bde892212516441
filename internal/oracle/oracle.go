// Package oracle defines the structured contract the core requires from the
// external reasoning component. The oracle is an untrusted, potentially
// malformed or slow black box: every answer is schema-checked before it can
// influence control flow, and a malformed answer is fatal for that call.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/majordomo-ai/majordomo/internal/workflow"
)

var (
	// ErrContract reports a malformed or unparseable oracle response.
	ErrContract = errors.New("oracle contract violation")
	// ErrTimeout reports that the oracle did not answer within its budget.
	ErrTimeout = errors.New("oracle timed out")
)

// PlanRequest asks for the next single step of an in-flight workflow.
type PlanRequest struct {
	OriginalRequest string                        `json:"original_request"`
	Context         map[string]any                `json:"context,omitempty"`
	History         []workflow.StepResult         `json:"history,omitempty"`
	Capabilities    []string                      `json:"capabilities,omitempty"`
	Confirmation    *workflow.PendingConfirmation `json:"confirmation,omitempty"`
}

// AnalyzeRequest asks whether a just-executed step finishes the task, needs
// user input, or leaves more work to do.
type AnalyzeRequest struct {
	OriginalRequest string                `json:"original_request"`
	Context         map[string]any        `json:"context,omitempty"`
	History         []workflow.StepResult `json:"history,omitempty"`
	Result          workflow.StepResult   `json:"result"`
}

// ClassifyRequest asks whether a new message continues, interrupts, or
// pauses the workflow already active for the session.
type ClassifyRequest struct {
	NewInput        string         `json:"new_input"`
	OriginalRequest string         `json:"original_request"`
	Context         map[string]any `json:"context,omitempty"`
	StepsCompleted  int            `json:"steps_completed"`
}

// Oracle produces structured planning, analysis and classification
// decisions from natural-language context.
type Oracle interface {
	PlanStep(ctx context.Context, req PlanRequest) (workflow.StepPlan, error)
	AnalyzeStep(ctx context.Context, req AnalyzeRequest) (workflow.StepAnalysis, error)
	ClassifyContinuation(ctx context.Context, req ClassifyRequest) (workflow.ContinuationDecision, error)
}

// DecodeStepPlan parses and semantically checks a raw plan answer.
func DecodeStepPlan(raw []byte) (workflow.StepPlan, error) {
	var plan workflow.StepPlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return workflow.StepPlan{}, fmt.Errorf("%w: plan: %v", ErrContract, err)
	}
	if plan.Complete {
		if plan.Provider != "" || plan.Operation != "" {
			return workflow.StepPlan{}, fmt.Errorf("%w: complete plan must carry no operation", ErrContract)
		}
		return plan, nil
	}
	if plan.Provider == "" || plan.Operation == "" {
		return workflow.StepPlan{}, fmt.Errorf("%w: plan is missing provider or operation", ErrContract)
	}
	return plan, nil
}

// DecodeStepAnalysis parses and semantically checks a raw analysis answer.
func DecodeStepAnalysis(raw []byte) (workflow.StepAnalysis, error) {
	var analysis workflow.StepAnalysis
	if err := json.Unmarshal(raw, &analysis); err != nil {
		return workflow.StepAnalysis{}, fmt.Errorf("%w: analysis: %v", ErrContract, err)
	}
	if analysis.Complete && analysis.NeedsUserInput {
		return workflow.StepAnalysis{}, fmt.Errorf("%w: analysis cannot be both complete and awaiting input", ErrContract)
	}
	return analysis, nil
}

// DecodeContinuation parses and semantically checks a raw classification.
func DecodeContinuation(raw []byte) (workflow.ContinuationDecision, error) {
	var decision workflow.ContinuationDecision
	if err := json.Unmarshal(raw, &decision); err != nil {
		return workflow.ContinuationDecision{}, fmt.Errorf("%w: classification: %v", ErrContract, err)
	}
	switch decision.Action {
	case workflow.ContinuationContinue, workflow.ContinuationInterrupt, workflow.ContinuationPause:
	default:
		return workflow.ContinuationDecision{}, fmt.Errorf("%w: unknown continuation action %q", ErrContract, decision.Action)
	}
	if decision.Confidence < 0 || decision.Confidence > 1 {
		return workflow.ContinuationDecision{}, fmt.Errorf("%w: confidence %v out of range", ErrContract, decision.Confidence)
	}
	return decision, nil
}
