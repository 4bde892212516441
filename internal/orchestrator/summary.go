package orchestrator

import (
	"fmt"
	"strings"

	"github.com/majordomo-ai/majordomo/internal/workflow"
)

// summarize renders a completed workflow's step history as a short
// user-facing recap. It is deliberately mechanical; the analyzer's free-form
// commentary is only surfaced when the workflow pauses for input.
func summarize(state workflow.State) string {
	if len(state.CompletedSteps) == 0 {
		return "All done. There was nothing that needed doing."
	}

	var b strings.Builder
	b.WriteString("Done. Here's what I did:\n")
	for _, step := range state.CompletedSteps {
		fmt.Fprintf(&b, "%d. %s", step.Step, describeStep(step))
		if !step.Success {
			fmt.Fprintf(&b, " (failed: %s)", step.Error)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func describeStep(step workflow.StepResult) string {
	action := strings.ReplaceAll(step.Operation, "_", " ")
	desc := fmt.Sprintf("%s via %s", action, step.Provider)
	if payload, ok := step.Payload.(map[string]any); ok {
		if msg, ok := payload["message"].(string); ok && msg != "" {
			return fmt.Sprintf("%s: %s", desc, msg)
		}
		if count, ok := payload["count"].(int); ok {
			return fmt.Sprintf("%s (%d results)", desc, count)
		}
	}
	return desc
}
