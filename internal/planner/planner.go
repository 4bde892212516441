// Package planner turns workflow state into validated next steps. It is the
// only path from the reasoning oracle into the dispatcher: every answer is
// checked against the capability registry before anything downstream sees it.
package planner

import (
	"context"

	"github.com/majordomo-ai/majordomo/internal/capability"
	"github.com/majordomo-ai/majordomo/internal/oracle"
	"github.com/majordomo-ai/majordomo/internal/workflow"
)

// Planner asks the oracle for the next single step and validates the answer.
type Planner struct {
	oracle   oracle.Oracle
	registry *capability.Registry
}

func NewPlanner(o oracle.Oracle, registry *capability.Registry) *Planner {
	return &Planner{oracle: o, registry: registry}
}

// PlanNext returns the validated next step, or a plan with Complete set when
// the oracle signals the task is done. A plan referencing an unknown
// provider or operation, carrying schema-invalid parameters, or targeting a
// raw write operation is a fatal contract violation, never retried.
func (p *Planner) PlanNext(ctx context.Context, state *workflow.State) (workflow.StepPlan, error) {
	plan, err := p.oracle.PlanStep(ctx, oracle.PlanRequest{
		OriginalRequest: state.Context.Request,
		Context:         state.Context.Data,
		History:         state.CompletedSteps,
		Capabilities:    p.registry.Summaries(),
		Confirmation:    state.Confirmation,
	})
	if err != nil {
		return workflow.StepPlan{}, err
	}

	plan.Step = state.CurrentStepIndex + 1
	if plan.Complete {
		return plan, nil
	}

	if err := p.registry.ValidateCall(plan.Provider, plan.Operation, plan.Params); err != nil {
		return workflow.StepPlan{}, err
	}
	if spec, ok := p.registry.Spec(plan.Provider, plan.Operation); ok && spec.Class == capability.ClassWrite {
		return workflow.StepPlan{}, &capability.ValidationError{
			Provider:  plan.Provider,
			Operation: plan.Operation,
			Reason:    "write operations cannot be planned directly; stage a draft first",
		}
	}
	return plan, nil
}
