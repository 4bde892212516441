package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/majordomo-ai/majordomo/internal/workflow"
)

const DefaultTimeout = 45 * time.Second

// LLM adapts a langchaingo model to the Oracle contract. Structured answers
// are forced through function-calling: the model must respond by invoking
// the single tool declared for the call's purpose, and the tool arguments
// are the JSON payload the core decodes.
type LLM struct {
	model   llms.Model
	timeout time.Duration
	prompts Prompts
}

// Option configures the LLM oracle.
type Option func(*LLM)

// WithPrompts replaces the built-in system prompts.
func WithPrompts(p Prompts) Option {
	return func(l *LLM) { l.prompts = p }
}

func NewLLM(model llms.Model, timeout time.Duration, opts ...Option) *LLM {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	l := &LLM{model: model, timeout: timeout, prompts: DefaultPrompts()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ Oracle = (*LLM)(nil)

func (l *LLM) PlanStep(ctx context.Context, req PlanRequest) (workflow.StepPlan, error) {
	raw, err := l.call(ctx, l.prompts.Plan, req, planTool())
	if err != nil {
		return workflow.StepPlan{}, err
	}
	return DecodeStepPlan(raw)
}

func (l *LLM) AnalyzeStep(ctx context.Context, req AnalyzeRequest) (workflow.StepAnalysis, error) {
	raw, err := l.call(ctx, l.prompts.Analyze, req, analyzeTool())
	if err != nil {
		return workflow.StepAnalysis{}, err
	}
	return DecodeStepAnalysis(raw)
}

func (l *LLM) ClassifyContinuation(ctx context.Context, req ClassifyRequest) (workflow.ContinuationDecision, error) {
	raw, err := l.call(ctx, l.prompts.Classify, req, classifyTool())
	if err != nil {
		return workflow.ContinuationDecision{}, err
	}
	return DecodeContinuation(raw)
}

// call runs one purpose-bound exchange and returns the tool-call arguments.
func (l *LLM) call(ctx context.Context, systemPrompt string, payload any, tool llms.Tool) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode oracle request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(systemPrompt)},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(string(body))},
		},
	}

	resp, err := l.model.GenerateContent(callCtx, messages, llms.WithTools([]llms.Tool{tool}))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, tool.Function.Name)
		}
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: model returned no choices", ErrContract)
	}

	for _, tc := range resp.Choices[0].ToolCalls {
		if tc.FunctionCall != nil && tc.FunctionCall.Name == tool.Function.Name {
			return []byte(tc.FunctionCall.Arguments), nil
		}
	}
	return nil, fmt.Errorf("%w: model did not call %s", ErrContract, tool.Function.Name)
}

const planSystemPrompt = `You plan one step at a time for a personal assistant that operates
mail, calendar and contacts capabilities on the user's behalf. Given the
original request, accumulated context, the step history and the available
capabilities, call propose_step with exactly one next step, or with
complete=true when the request is fully satisfied. Destructive operations
must be staged with a draft-class operation first; an approved draft is
executed with its confirm-class operation, passing the draft_id.`

const analyzeSystemPrompt = `You judge the outcome of one assistant step. Call report_analysis
stating whether the overall request is now complete, whether the user must
answer a question before work can continue, or whether the assistant should
keep going. Put any newly learned facts into updated_context.`

const classifySystemPrompt = `A new message arrived while the assistant is mid-task. Call
classify_continuation: "continue" if the message adds to or clarifies the
current task, "interrupt" if it starts an unrelated task, "pause" if the
user asks to hold. When unsure, prefer "continue" with low confidence.`

func planTool() llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        "propose_step",
			Description: "Propose the single next step, or signal completion.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"step":        map[string]any{"type": "integer"},
					"description": map[string]any{"type": "string"},
					"provider":    map[string]any{"type": "string"},
					"operation":   map[string]any{"type": "string"},
					"params":      map[string]any{"type": "object"},
					"reasoning":   map[string]any{"type": "string"},
					"complete":    map[string]any{"type": "boolean"},
				},
				"required": []string{"description", "complete"},
			},
		},
	}
}

func analyzeTool() llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        "report_analysis",
			Description: "Classify the outcome of the step just executed.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"should_continue":  map[string]any{"type": "boolean"},
					"complete":         map[string]any{"type": "boolean"},
					"needs_user_input": map[string]any{"type": "boolean"},
					"analysis":         map[string]any{"type": "string"},
					"updated_context":  map[string]any{"type": "object"},
				},
				"required": []string{"should_continue", "complete", "needs_user_input", "analysis"},
			},
		},
	}
}

func classifyTool() llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        "classify_continuation",
			Description: "Decide how a new message relates to the active task.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action": map[string]any{
						"type": "string",
						"enum": []string{"continue", "interrupt", "pause"},
					},
					"confidence": map[string]any{"type": "number"},
					"reason":     map[string]any{"type": "string"},
				},
				"required": []string{"action", "confidence"},
			},
		},
	}
}
