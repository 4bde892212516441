package planner

import (
	"context"

	"github.com/majordomo-ai/majordomo/internal/oracle"
	"github.com/majordomo-ai/majordomo/internal/workflow"
)

// DefaultMinConfidence is the threshold below which a disruptive
// classification (interrupt, pause) is downgraded to continue.
const DefaultMinConfidence = 0.6

// Classifier decides how a new message relates to the workflow already in
// flight for the session.
type Classifier struct {
	oracle oracle.Oracle

	// MinConfidence is a policy knob: a low-confidence interrupt or pause
	// folds the message into the current task instead of disturbing it,
	// which avoids surprise cancellation of in-progress work.
	MinConfidence float64
}

func NewClassifier(o oracle.Oracle) *Classifier {
	return &Classifier{oracle: o, MinConfidence: DefaultMinConfidence}
}

// Classify returns continue, interrupt, or pause for the new input.
func (c *Classifier) Classify(ctx context.Context, newInput string, state *workflow.State) (workflow.ContinuationDecision, error) {
	decision, err := c.oracle.ClassifyContinuation(ctx, oracle.ClassifyRequest{
		NewInput:        newInput,
		OriginalRequest: state.Context.Request,
		Context:         state.Context.Data,
		StepsCompleted:  state.CurrentStepIndex,
	})
	if err != nil {
		return workflow.ContinuationDecision{}, err
	}

	if decision.Action != workflow.ContinuationContinue && decision.Confidence < c.MinConfidence {
		return workflow.ContinuationDecision{
			Action:     workflow.ContinuationContinue,
			Confidence: decision.Confidence,
			Reason:     "low-confidence " + string(decision.Action) + " downgraded to continue",
		}, nil
	}
	return decision, nil
}
