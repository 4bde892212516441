// Package orchestrator owns the workflow lifecycle: it is the entry point
// for inbound messages and the only component that mutates workflow state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/majordomo-ai/majordomo/internal/capability"
	"github.com/majordomo-ai/majordomo/internal/dispatch"
	"github.com/majordomo-ai/majordomo/internal/oracle"
	"github.com/majordomo-ai/majordomo/internal/planner"
	"github.com/majordomo-ai/majordomo/internal/store"
	"github.com/majordomo-ai/majordomo/internal/workflow"
)

const (
	DefaultMaxSteps    = 15
	DefaultWorkflowTTL = time.Hour
)

// user-facing copy; internal detail stays in the logs
const (
	msgBusy      = "I'm already working on that. Give me a moment."
	msgUnable    = "I wasn't able to safely continue with that request."
	msgThinking  = "Still thinking about this one. Ask me again in a moment."
	msgStepLimit = "I've done as much as I can in one go. Tell me to continue if you'd like me to keep working."
	msgPaused    = "Okay, I'll hold off for now. Say the word when you want me to pick this back up."
	msgCancelled = "Okay, I've dropped that task."
)

// Request is one inbound message from the chat surface. Approval carries
// the adapter's reading of a confirmation reply, when one is outstanding.
type Request struct {
	SessionID     string
	UserID        string
	Input         string
	Approval      *bool
	CorrelationID string
}

// Response is the terminal outcome of handling one message.
type Response struct {
	WorkflowID string
	Status     workflow.Status
	Message    string
	NeedsInput bool
}

// Config bounds workflow execution.
type Config struct {
	MaxSteps    int
	WorkflowTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.WorkflowTTL <= 0 {
		c.WorkflowTTL = DefaultWorkflowTTL
	}
	return c
}

// Deps wires the collaborating services into the orchestrator.
type Deps struct {
	Store      store.Store
	Planner    *planner.Planner
	Analyzer   *planner.Analyzer
	Classifier *planner.Classifier
	Dispatcher *dispatch.Dispatcher
	Logger     *slog.Logger
}

// Orchestrator drives the plan/execute/analyze loop.
type Orchestrator struct {
	store      store.Store
	planner    *planner.Planner
	analyzer   *planner.Analyzer
	classifier *planner.Classifier
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
	cfg        Config
	now        func() time.Time
	newID      func() string
}

func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	if deps.Planner == nil {
		return nil, errors.New("orchestrator: planner is required")
	}
	if deps.Analyzer == nil {
		return nil, errors.New("orchestrator: analyzer is required")
	}
	if deps.Classifier == nil {
		return nil, errors.New("orchestrator: classifier is required")
	}
	if deps.Dispatcher == nil {
		return nil, errors.New("orchestrator: dispatcher is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Orchestrator{
		store:      deps.Store,
		planner:    deps.Planner,
		analyzer:   deps.Analyzer,
		classifier: deps.Classifier,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		cfg:        cfg.withDefaults(),
		now:        time.Now,
		newID:      uuid.NewString,
	}, nil
}

// Handle processes one inbound message to a terminal response: a finished
// summary, a question for the user, or an acknowledgement.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (Response, error) {
	if req.SessionID == "" {
		return Response{}, errors.New("orchestrator: session id is required")
	}
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = o.newID()
	}
	log := o.logger.With(
		slog.String("session_id", req.SessionID),
		slog.String("correlation_id", correlationID),
	)

	state, err := o.store.LoadBySession(ctx, req.SessionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		state = o.newWorkflow(req)
		if saveErr := o.save(ctx, &state); saveErr != nil {
			if errors.Is(saveErr, store.ErrVersionConflict) {
				return o.busy(state), nil
			}
			return Response{}, saveErr
		}
		log.Info("workflow created", slog.String("workflow_id", state.ID))
	case err != nil:
		return Response{}, fmt.Errorf("load workflow for session: %w", err)
	default:
		resp, proceed, err := o.reconcile(ctx, log, &state, req)
		if err != nil || !proceed {
			return resp, err
		}
	}

	log = log.With(slog.String("workflow_id", state.ID))
	return o.runLoop(ctx, log, state)
}

// Cancel drops the session's in-flight workflow, if any.
func (o *Orchestrator) Cancel(ctx context.Context, sessionID string) (Response, error) {
	state, err := o.store.LoadBySession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return Response{Message: "Nothing is in progress."}, nil
	}
	if err != nil {
		return Response{}, err
	}
	if err := state.Transition(workflow.StatusCancelled); err != nil {
		return Response{}, err
	}
	if err := o.save(ctx, &state); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return o.busy(state), nil
		}
		return Response{}, err
	}
	o.logger.Info("workflow cancelled by user", slog.String("workflow_id", state.ID))
	return Response{WorkflowID: state.ID, Status: state.Status, Message: msgCancelled}, nil
}

// reconcile folds a new message into an existing workflow. It reports
// whether the caller should proceed into the step loop.
func (o *Orchestrator) reconcile(ctx context.Context, log *slog.Logger, state *workflow.State, req Request) (Response, bool, error) {
	// a confirmation reply is by definition about the current task; the
	// chat adapter already interpreted it, so skip classification
	if req.Approval != nil && state.Confirmation != nil {
		if *req.Approval {
			state.Confirmation.Approved = true
			foldData(&state.Context, map[string]any{"confirmation_decision": "approved"})
			log.Info("draft approved", slog.String("draft_id", state.Confirmation.DraftID))
		} else {
			foldData(&state.Context, map[string]any{"confirmation_decision": "rejected"})
			log.Info("draft rejected", slog.String("draft_id", state.Confirmation.DraftID))
		}
		return o.resumeAndClaim(ctx, state)
	}

	decision, err := o.classifier.Classify(ctx, req.Input, state)
	if err != nil {
		if errors.Is(err, oracle.ErrTimeout) {
			return Response{WorkflowID: state.ID, Status: state.Status, Message: msgThinking}, false, nil
		}
		log.Error("continuation classification failed", slog.String("error", err.Error()))
		return Response{WorkflowID: state.ID, Status: state.Status, Message: msgUnable}, false, nil
	}
	log.Info("continuation classified",
		slog.String("action", string(decision.Action)),
		slog.Float64("confidence", decision.Confidence))

	switch decision.Action {
	case workflow.ContinuationPause:
		if state.Status == workflow.StatusActive {
			if err := state.Transition(workflow.StatusPaused); err != nil {
				return Response{}, false, err
			}
		}
		if err := o.save(ctx, state); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				resp := o.busy(*state)
				return resp, false, nil
			}
			return Response{}, false, err
		}
		return Response{WorkflowID: state.ID, Status: state.Status, Message: msgPaused}, false, nil

	case workflow.ContinuationInterrupt:
		if err := state.Transition(workflow.StatusCancelled); err != nil {
			return Response{}, false, err
		}
		if err := o.save(ctx, state); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				resp := o.busy(*state)
				return resp, false, nil
			}
			return Response{}, false, err
		}
		log.Info("workflow interrupted", slog.String("workflow_id", state.ID))

		fresh := o.newWorkflow(req)
		if err := o.save(ctx, &fresh); err != nil {
			return Response{}, false, err
		}
		*state = fresh
		return Response{}, true, nil

	default: // continue
		foldInput(&state.Context, req.Input)
		return o.resumeAndClaim(ctx, state)
	}
}

// resumeAndClaim reactivates a paused workflow and persists before looping.
// The version bump doubles as the single-writer claim: a concurrent handler
// for the same workflow will lose this save and back off.
func (o *Orchestrator) resumeAndClaim(ctx context.Context, state *workflow.State) (Response, bool, error) {
	if state.Status == workflow.StatusPaused {
		if err := state.Transition(workflow.StatusActive); err != nil {
			return Response{}, false, err
		}
	}
	if state.CurrentStepIndex >= state.MaxSteps {
		// an explicit continue grants a fresh step budget
		state.MaxSteps = state.CurrentStepIndex + o.cfg.MaxSteps
	}
	state.Context.LastActivity = o.now()
	if err := o.save(ctx, state); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			resp := o.busy(*state)
			return resp, false, nil
		}
		return Response{}, false, err
	}
	return Response{}, true, nil
}

func (o *Orchestrator) runLoop(ctx context.Context, log *slog.Logger, state workflow.State) (Response, error) {
	for state.Status == workflow.StatusActive && state.CurrentStepIndex < state.MaxSteps {
		if ctx.Err() != nil {
			return o.terminate(ctx, log, &state, workflow.StatusCancelled, msgCancelled)
		}

		plan, err := o.planner.PlanNext(ctx, &state)
		if err != nil {
			return o.planFailure(ctx, log, &state, err)
		}

		if plan.Complete {
			log.Info("planner signalled completion", slog.Int("steps", state.CurrentStepIndex))
			return o.terminate(ctx, log, &state, workflow.StatusCompleted, summarize(state))
		}

		log.Info("step planned",
			slog.Int("step", plan.Step),
			slog.String("provider", plan.Provider),
			slog.String("operation", plan.Operation),
			slog.String("description", plan.Description))

		// persist the pending plan so a crash mid-step is visible
		state.PendingStep = &plan
		if err := o.save(ctx, &state); err != nil {
			return o.saveFailure(log, state, err)
		}

		outcome, err := o.dispatcher.Execute(ctx, plan, state.Confirmation)
		if err != nil {
			if ctx.Err() != nil {
				// the call may have finished; its result is discarded
				return o.terminate(ctx, log, &state, workflow.StatusCancelled, msgCancelled)
			}
			var verr *capability.ValidationError
			if errors.As(err, &verr) {
				log.Error("step rejected", slog.String("error", verr.Error()))
				return o.terminate(ctx, log, &state, workflow.StatusCancelled, msgUnable)
			}
			return Response{}, err
		}

		state.CompletedSteps = append(state.CompletedSteps, outcome.Result)
		state.CurrentStepIndex++
		state.PendingStep = nil
		if outcome.ConfirmationResolved {
			state.Confirmation = nil
		}
		if outcome.Confirmation != nil {
			state.Confirmation = outcome.Confirmation
		}
		state.Context.LastActivity = o.now()
		if err := o.save(ctx, &state); err != nil {
			return o.saveFailure(log, state, err)
		}
		log.Info("step executed",
			slog.Int("step", outcome.Result.Step),
			slog.String("provider", outcome.Result.Provider),
			slog.String("operation", outcome.Result.Operation),
			slog.Bool("success", outcome.Result.Success))

		analysis, err := o.analyzer.Analyze(ctx, &state, outcome.Result)
		if err != nil {
			return o.planFailure(ctx, log, &state, err)
		}

		switch {
		case analysis.Complete:
			return o.terminate(ctx, log, &state, workflow.StatusCompleted, summarize(state))
		case analysis.NeedsUserInput:
			resp, err := o.terminate(ctx, log, &state, workflow.StatusPaused, analysis.Analysis)
			resp.NeedsInput = true
			return resp, err
		default:
			foldData(&state.Context, analysis.UpdatedContext)
			if err := o.save(ctx, &state); err != nil {
				return o.saveFailure(log, state, err)
			}
		}
	}

	if state.Status == workflow.StatusActive {
		// deliberate safety valve, not an error
		log.Warn("step budget reached", slog.Int("max_steps", state.MaxSteps))
		resp, err := o.terminate(ctx, log, &state, workflow.StatusPaused, msgStepLimit)
		resp.NeedsInput = true
		return resp, err
	}
	return Response{WorkflowID: state.ID, Status: state.Status, Message: summarize(state)}, nil
}

// planFailure maps planner and analyzer errors to their terminal handling.
func (o *Orchestrator) planFailure(ctx context.Context, log *slog.Logger, state *workflow.State, err error) (Response, error) {
	if errors.Is(err, oracle.ErrTimeout) {
		log.Warn("oracle timed out")
		return o.terminate(ctx, log, state, workflow.StatusPaused, msgThinking)
	}
	var verr *capability.ValidationError
	if errors.As(err, &verr) || errors.Is(err, oracle.ErrContract) {
		log.Error("fatal planning error", slog.String("error", err.Error()))
		return o.terminate(ctx, log, state, workflow.StatusCancelled, msgUnable)
	}
	return Response{}, err
}

func (o *Orchestrator) saveFailure(log *slog.Logger, state workflow.State, err error) (Response, error) {
	if errors.Is(err, store.ErrVersionConflict) {
		log.Warn("lost workflow version race, aborting iteration")
		return o.busy(state), nil
	}
	return Response{}, err
}

func (o *Orchestrator) terminate(ctx context.Context, log *slog.Logger, state *workflow.State, to workflow.Status, message string) (Response, error) {
	if state.Status != to {
		if err := state.Transition(to); err != nil {
			return Response{}, err
		}
	}
	if err := o.save(ctx, state); err != nil {
		return o.saveFailure(log, *state, err)
	}
	log.Info("workflow state persisted",
		slog.String("status", string(state.Status)),
		slog.Int("steps", state.CurrentStepIndex))
	return Response{WorkflowID: state.ID, Status: state.Status, Message: message}, nil
}

func (o *Orchestrator) save(ctx context.Context, state *workflow.State) error {
	if err := o.store.Save(ctx, *state); err != nil {
		return err
	}
	state.Version++
	return nil
}

func (o *Orchestrator) busy(state workflow.State) Response {
	return Response{WorkflowID: state.ID, Status: state.Status, Message: msgBusy}
}

func (o *Orchestrator) newWorkflow(req Request) workflow.State {
	now := o.now()
	return workflow.State{
		ID:        o.newID(),
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Status:    workflow.StatusActive,
		MaxSteps:  o.cfg.MaxSteps,
		Context: workflow.Context{
			Request:      req.Input,
			Data:         map[string]any{},
			LastActivity: now,
		},
		CreatedAt: now,
		ExpiresAt: now.Add(o.cfg.WorkflowTTL),
	}
}

func foldInput(c *workflow.Context, input string) {
	if input == "" {
		return
	}
	if c.Data == nil {
		c.Data = map[string]any{}
	}
	for i := 1; ; i++ {
		key := fmt.Sprintf("user_input_%d", i)
		if _, taken := c.Data[key]; !taken {
			c.Data[key] = input
			return
		}
	}
}

func foldData(c *workflow.Context, updates map[string]any) {
	if len(updates) == 0 {
		return
	}
	if c.Data == nil {
		c.Data = map[string]any{}
	}
	for key, value := range updates {
		c.Data[key] = value
	}
}
