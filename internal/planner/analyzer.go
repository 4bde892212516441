package planner

import (
	"context"

	"github.com/majordomo-ai/majordomo/internal/oracle"
	"github.com/majordomo-ai/majordomo/internal/workflow"
)

// Analyzer classifies a just-executed step's outcome.
type Analyzer struct {
	oracle oracle.Oracle
}

func NewAnalyzer(o oracle.Oracle) *Analyzer {
	return &Analyzer{oracle: o}
}

// Analyze decides whether the workflow should continue, pause for user
// input, or finish, given the result of its latest step.
func (a *Analyzer) Analyze(ctx context.Context, state *workflow.State, result workflow.StepResult) (workflow.StepAnalysis, error) {
	return a.oracle.AnalyzeStep(ctx, oracle.AnalyzeRequest{
		OriginalRequest: state.Context.Request,
		Context:         state.Context.Data,
		History:         state.CompletedSteps,
		Result:          result,
	})
}
