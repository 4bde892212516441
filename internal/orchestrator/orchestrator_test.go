package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majordomo-ai/majordomo/internal/capability"
	"github.com/majordomo-ai/majordomo/internal/capability/memoryprov"
	"github.com/majordomo-ai/majordomo/internal/dispatch"
	"github.com/majordomo-ai/majordomo/internal/oracle"
	"github.com/majordomo-ai/majordomo/internal/planner"
	"github.com/majordomo-ai/majordomo/internal/store"
	"github.com/majordomo-ai/majordomo/internal/workflow"
)

// scriptedOracle feeds a fixed sequence of answers to the planner and
// analyzer, and a single answer to the classifier.
type scriptedOracle struct {
	plans       []workflow.StepPlan
	planErrs    []error
	analyses    []workflow.StepAnalysis
	analyzeErrs []error
	decision    workflow.ContinuationDecision
	classifyErr error

	planCalls     int
	analyzeCalls  int
	classifyCalls int
	lastPlan      oracle.PlanRequest
	lastClassify  oracle.ClassifyRequest
}

func (s *scriptedOracle) PlanStep(_ context.Context, req oracle.PlanRequest) (workflow.StepPlan, error) {
	s.lastPlan = req
	i := s.planCalls
	s.planCalls++
	if i < len(s.planErrs) && s.planErrs[i] != nil {
		return workflow.StepPlan{}, s.planErrs[i]
	}
	if i >= len(s.plans) {
		return workflow.StepPlan{Complete: true, Reasoning: "script exhausted"}, nil
	}
	return s.plans[i], nil
}

func (s *scriptedOracle) AnalyzeStep(_ context.Context, _ oracle.AnalyzeRequest) (workflow.StepAnalysis, error) {
	i := s.analyzeCalls
	s.analyzeCalls++
	if i < len(s.analyzeErrs) && s.analyzeErrs[i] != nil {
		return workflow.StepAnalysis{}, s.analyzeErrs[i]
	}
	if i >= len(s.analyses) {
		return workflow.StepAnalysis{Complete: true}, nil
	}
	return s.analyses[i], nil
}

func (s *scriptedOracle) ClassifyContinuation(_ context.Context, req oracle.ClassifyRequest) (workflow.ContinuationDecision, error) {
	s.lastClassify = req
	s.classifyCalls++
	if s.classifyErr != nil {
		return workflow.ContinuationDecision{}, s.classifyErr
	}
	if s.decision.Action == "" {
		return workflow.ContinuationDecision{Action: workflow.ContinuationContinue, Confidence: 0.9}, nil
	}
	return s.decision, nil
}

type harness struct {
	store *store.Memory
	mail  *memoryprov.Mail
	cal   *memoryprov.Calendar
	reg   *capability.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	defs, err := memoryprov.Definitions()
	require.NoError(t, err)

	h := &harness{
		store: store.NewMemory(),
		mail:  memoryprov.NewMail(defs),
		cal:   memoryprov.NewCalendar(defs),
		reg:   capability.NewRegistry(),
	}
	require.NoError(t, h.reg.Register(h.mail))
	require.NoError(t, h.reg.Register(h.cal))
	require.NoError(t, h.reg.Register(memoryprov.NewContacts(defs)))
	return h
}

// orchestrator builds a fresh orchestrator over the shared store and
// providers, driven by the given script.
func (h *harness) orchestrator(t *testing.T, script *scriptedOracle, cfg Config) *Orchestrator {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	o, err := New(Deps{
		Store:      h.store,
		Planner:    planner.NewPlanner(script, h.reg),
		Analyzer:   planner.NewAnalyzer(script),
		Classifier: planner.NewClassifier(script),
		Dispatcher: dispatch.New(h.reg, dispatch.Config{BackoffBase: time.Millisecond}, logger),
		Logger:     logger,
	}, cfg)
	require.NoError(t, err)
	return o
}

func (h *harness) mustLoad(t *testing.T, id string) workflow.State {
	t.Helper()
	st, err := h.store.Load(context.Background(), id)
	require.NoError(t, err)
	return st
}

func TestHandleMultiStepReadTask(t *testing.T) {
	h := newHarness(t)
	script := &scriptedOracle{
		plans: []workflow.StepPlan{
			{Description: "look up Sam", Provider: "contacts", Operation: "resolve", Params: map[string]any{"name": "Sam"}},
			{Description: "list events", Provider: "calendar", Operation: "list_events", Params: map[string]any{}},
		},
		analyses: []workflow.StepAnalysis{
			{ShouldContinue: true, UpdatedContext: map[string]any{"contact_email": "sam@example.com"}},
			{Complete: true},
		},
	}
	o := h.orchestrator(t, script, Config{})

	resp, err := o.Handle(context.Background(), Request{SessionID: "s1", UserID: "u1", Input: "what's on my calendar with Sam"})
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusCompleted, resp.Status)
	assert.Contains(t, resp.Message, "resolve via contacts")
	assert.Contains(t, resp.Message, "list events via calendar")
	assert.False(t, resp.NeedsInput)

	st := h.mustLoad(t, resp.WorkflowID)
	assert.Equal(t, workflow.StatusCompleted, st.Status)
	assert.Equal(t, 2, st.CurrentStepIndex)
	assert.Len(t, st.CompletedSteps, st.CurrentStepIndex)
	assert.Nil(t, st.PendingStep)
	assert.Equal(t, "sam@example.com", st.Context.Data["contact_email"])
	// step numbering is contiguous from 1
	for i, step := range st.CompletedSteps {
		assert.Equal(t, i+1, step.Step)
	}
}

func TestHandleConfirmationApproveFlow(t *testing.T) {
	h := newHarness(t)
	compose := &scriptedOracle{
		plans: []workflow.StepPlan{
			{Description: "draft the reply", Provider: "mail", Operation: "compose", Params: map[string]any{
				"to": "john@example.com", "subject": "Re: Dinner on Friday?", "body": "Sounds great, see you then.",
			}},
		},
		analyses: []workflow.StepAnalysis{
			{NeedsUserInput: true, Analysis: "I've drafted the reply. Shall I send it?"},
		},
	}
	o := h.orchestrator(t, compose, Config{})

	resp, err := o.Handle(context.Background(), Request{SessionID: "s1", UserID: "u1", Input: "reply yes to John's dinner invite"})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPaused, resp.Status)
	assert.True(t, resp.NeedsInput)
	assert.Contains(t, resp.Message, "Shall I send it?")

	st := h.mustLoad(t, resp.WorkflowID)
	require.NotNil(t, st.Confirmation)
	assert.False(t, st.Confirmation.Approved)
	draftID := st.Confirmation.DraftID

	approve := true
	confirm := &scriptedOracle{
		plans: []workflow.StepPlan{
			{Description: "send the approved draft", Provider: "mail", Operation: "execute_draft", Params: map[string]any{"draft_id": draftID}},
		},
		analyses: []workflow.StepAnalysis{{Complete: true}},
	}
	o = h.orchestrator(t, confirm, Config{})
	resp, err = o.Handle(context.Background(), Request{SessionID: "s1", Input: "yes, send it", Approval: &approve})
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusCompleted, resp.Status)
	require.Len(t, h.mail.Sent(), 1)
	assert.Equal(t, "john@example.com", h.mail.Sent()[0].To)

	st = h.mustLoad(t, resp.WorkflowID)
	assert.Nil(t, st.Confirmation, "confirmation must be cleared after execution")
	assert.Equal(t, "approved", st.Context.Data["confirmation_decision"])
	// the approval reply never goes through continuation classification
	assert.Zero(t, confirm.classifyCalls)
}

func TestHandleConfirmationRejectFlow(t *testing.T) {
	h := newHarness(t)
	compose := &scriptedOracle{
		plans: []workflow.StepPlan{
			{Provider: "mail", Operation: "compose", Params: map[string]any{
				"to": "john@example.com", "subject": "Re: Dinner on Friday?", "body": "Sounds great.",
			}},
		},
		analyses: []workflow.StepAnalysis{{NeedsUserInput: true, Analysis: "Send it?"}},
	}
	o := h.orchestrator(t, compose, Config{})
	resp, err := o.Handle(context.Background(), Request{SessionID: "s1", Input: "reply to John"})
	require.NoError(t, err)
	draftID := h.mustLoad(t, resp.WorkflowID).Confirmation.DraftID

	reject := false
	discard := &scriptedOracle{
		plans: []workflow.StepPlan{
			{Provider: "mail", Operation: "discard_draft", Params: map[string]any{"draft_id": draftID}},
		},
		analyses: []workflow.StepAnalysis{{Complete: true}},
	}
	o = h.orchestrator(t, discard, Config{})
	resp, err = o.Handle(context.Background(), Request{SessionID: "s1", Input: "no, don't", Approval: &reject})
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusCompleted, resp.Status)
	assert.Empty(t, h.mail.Sent(), "nothing may be sent after rejection")

	st := h.mustLoad(t, resp.WorkflowID)
	assert.Nil(t, st.Confirmation)
	assert.Equal(t, "rejected", st.Context.Data["confirmation_decision"])
}

func TestHandleInterruptStartsFreshWorkflow(t *testing.T) {
	h := newHarness(t)
	longTask := &scriptedOracle{
		plans: []workflow.StepPlan{
			{Provider: "calendar", Operation: "list_events", Params: map[string]any{}},
		},
		analyses: []workflow.StepAnalysis{{NeedsUserInput: true, Analysis: "Which day did you mean?"}},
	}
	o := h.orchestrator(t, longTask, Config{})
	first, err := o.Handle(context.Background(), Request{SessionID: "s1", Input: "check my calendar"})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPaused, first.Status)

	interrupt := &scriptedOracle{
		decision: workflow.ContinuationDecision{Action: workflow.ContinuationInterrupt, Confidence: 0.95, Reason: "unrelated request"},
		plans: []workflow.StepPlan{
			{Provider: "mail", Operation: "search", Params: map[string]any{"query": "invoice"}},
		},
		analyses: []workflow.StepAnalysis{{Complete: true}},
	}
	o = h.orchestrator(t, interrupt, Config{})
	second, err := o.Handle(context.Background(), Request{SessionID: "s1", Input: "actually, find that invoice email"})
	require.NoError(t, err)

	assert.NotEqual(t, first.WorkflowID, second.WorkflowID)
	assert.Equal(t, workflow.StatusCancelled, h.mustLoad(t, first.WorkflowID).Status)
	assert.Equal(t, workflow.StatusCompleted, h.mustLoad(t, second.WorkflowID).Status)
}

func TestHandlePauseAndResume(t *testing.T) {
	h := newHarness(t)
	start := &scriptedOracle{
		plans: []workflow.StepPlan{
			{Provider: "mail", Operation: "search", Params: map[string]any{"query": "dinner"}},
		},
		analyses: []workflow.StepAnalysis{{ShouldContinue: true}},
		// second plan call comes from the script-exhausted default (complete)
	}
	// cap at one step so the first handle parks the workflow
	o := h.orchestrator(t, start, Config{MaxSteps: 1})
	first, err := o.Handle(context.Background(), Request{SessionID: "s1", Input: "deal with the dinner thread"})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPaused, first.Status)
	assert.Equal(t, msgStepLimit, first.Message)
	assert.True(t, first.NeedsInput)

	pause := &scriptedOracle{
		decision: workflow.ContinuationDecision{Action: workflow.ContinuationPause, Confidence: 0.9},
	}
	o = h.orchestrator(t, pause, Config{MaxSteps: 1})
	resp, err := o.Handle(context.Background(), Request{SessionID: "s1", Input: "hold on a sec"})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPaused, resp.Status)
	assert.Equal(t, msgPaused, resp.Message)
	assert.Zero(t, pause.planCalls, "a paused workflow must not plan")

	resume := &scriptedOracle{
		decision: workflow.ContinuationDecision{Action: workflow.ContinuationContinue, Confidence: 0.9},
	}
	o = h.orchestrator(t, resume, Config{MaxSteps: 5})
	resp, err = o.Handle(context.Background(), Request{SessionID: "s1", Input: "ok go ahead"})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, resp.Status)
	assert.Equal(t, first.WorkflowID, resp.WorkflowID, "resume must reuse the same workflow")

	st := h.mustLoad(t, resp.WorkflowID)
	assert.Equal(t, "ok go ahead", st.Context.Data["user_input_1"])
}

func TestHandleStepBudgetPausesWorkflow(t *testing.T) {
	h := newHarness(t)
	plans := make([]workflow.StepPlan, 4)
	analyses := make([]workflow.StepAnalysis, 4)
	for i := range plans {
		plans[i] = workflow.StepPlan{Provider: "calendar", Operation: "list_events", Params: map[string]any{}}
		analyses[i] = workflow.StepAnalysis{ShouldContinue: true}
	}
	script := &scriptedOracle{plans: plans, analyses: analyses}
	o := h.orchestrator(t, script, Config{MaxSteps: 3})

	resp, err := o.Handle(context.Background(), Request{SessionID: "s1", Input: "keep checking"})
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusPaused, resp.Status)
	assert.True(t, resp.NeedsInput)
	st := h.mustLoad(t, resp.WorkflowID)
	assert.Equal(t, 3, st.CurrentStepIndex)
	assert.Len(t, st.CompletedSteps, 3)
}

func TestHandleOracleTimeoutPausesWithAck(t *testing.T) {
	h := newHarness(t)
	script := &scriptedOracle{planErrs: []error{oracle.ErrTimeout}}
	o := h.orchestrator(t, script, Config{})

	resp, err := o.Handle(context.Background(), Request{SessionID: "s1", Input: "do the thing"})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPaused, resp.Status)
	assert.Equal(t, msgThinking, resp.Message)
	assert.Equal(t, workflow.StatusPaused, h.mustLoad(t, resp.WorkflowID).Status)
}

func TestHandleContractErrorCancelsWorkflow(t *testing.T) {
	h := newHarness(t)
	script := &scriptedOracle{planErrs: []error{oracle.ErrContract}}
	o := h.orchestrator(t, script, Config{})

	resp, err := o.Handle(context.Background(), Request{SessionID: "s1", Input: "do the thing"})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCancelled, resp.Status)
	assert.Equal(t, msgUnable, resp.Message)
}

func TestHandleRawWritePlanCancelsWorkflow(t *testing.T) {
	h := newHarness(t)
	script := &scriptedOracle{
		plans: []workflow.StepPlan{
			{Provider: "mail", Operation: "send", Params: map[string]any{
				"to": "john@example.com", "subject": "hi", "body": "hi",
			}},
		},
	}
	o := h.orchestrator(t, script, Config{})

	resp, err := o.Handle(context.Background(), Request{SessionID: "s1", Input: "just send it"})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCancelled, resp.Status)
	assert.Equal(t, msgUnable, resp.Message)
	assert.Empty(t, h.mail.Sent())
}

// conflictStore makes every save after the first N fail with a version
// conflict, simulating a concurrent writer.
type conflictStore struct {
	store.Store
	allowed int
	saves   int
}

func (c *conflictStore) Save(ctx context.Context, state workflow.State) error {
	c.saves++
	if c.saves > c.allowed {
		return store.ErrVersionConflict
	}
	return c.Store.Save(ctx, state)
}

func TestHandleVersionConflictAbortsWithBusy(t *testing.T) {
	h := newHarness(t)
	seed := &scriptedOracle{
		plans: []workflow.StepPlan{
			{Provider: "calendar", Operation: "list_events", Params: map[string]any{}},
		},
		analyses: []workflow.StepAnalysis{{NeedsUserInput: true, Analysis: "Which day?"}},
	}
	o := h.orchestrator(t, seed, Config{})
	first, err := o.Handle(context.Background(), Request{SessionID: "s1", Input: "check my calendar"})
	require.NoError(t, err)

	script := &scriptedOracle{}
	logger := slog.New(slog.DiscardHandler)
	cs := &conflictStore{Store: h.store}
	o2, err := New(Deps{
		Store:      cs,
		Planner:    planner.NewPlanner(script, h.reg),
		Analyzer:   planner.NewAnalyzer(script),
		Classifier: planner.NewClassifier(script),
		Dispatcher: dispatch.New(h.reg, dispatch.Config{BackoffBase: time.Millisecond}, logger),
		Logger:     logger,
	}, Config{})
	require.NoError(t, err)

	resp, err := o2.Handle(context.Background(), Request{SessionID: "s1", Input: "tomorrow"})
	require.NoError(t, err)
	assert.Equal(t, msgBusy, resp.Message)
	assert.Zero(t, script.planCalls)
	// the losing handler must not have clobbered the stored state
	assert.Equal(t, workflow.StatusPaused, h.mustLoad(t, first.WorkflowID).Status)
}

func TestHandleNewSessionCreatesWorkflow(t *testing.T) {
	h := newHarness(t)
	script := &scriptedOracle{}
	o := h.orchestrator(t, script, Config{MaxSteps: 7, WorkflowTTL: 30 * time.Minute})

	resp, err := o.Handle(context.Background(), Request{SessionID: "s-new", UserID: "u9", Input: "hello"})
	require.NoError(t, err)

	st := h.mustLoad(t, resp.WorkflowID)
	assert.Equal(t, "s-new", st.SessionID)
	assert.Equal(t, "u9", st.UserID)
	assert.Equal(t, 7, st.MaxSteps)
	assert.Equal(t, "hello", st.Context.Request)
	assert.True(t, st.ExpiresAt.After(st.CreatedAt))
	// a fresh session never consults the classifier
	assert.Zero(t, script.classifyCalls)
}

func TestCancel(t *testing.T) {
	h := newHarness(t)
	seed := &scriptedOracle{
		plans: []workflow.StepPlan{
			{Provider: "calendar", Operation: "list_events", Params: map[string]any{}},
		},
		analyses: []workflow.StepAnalysis{{NeedsUserInput: true, Analysis: "Which day?"}},
	}
	o := h.orchestrator(t, seed, Config{})
	first, err := o.Handle(context.Background(), Request{SessionID: "s1", Input: "check my calendar"})
	require.NoError(t, err)

	resp, err := o.Cancel(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCancelled, resp.Status)
	assert.Equal(t, workflow.StatusCancelled, h.mustLoad(t, first.WorkflowID).Status)

	// the session is clear again: a new message starts a new workflow
	fresh := h.orchestrator(t, &scriptedOracle{}, Config{})
	resp, err = fresh.Handle(context.Background(), Request{SessionID: "s1", Input: "new task"})
	require.NoError(t, err)
	assert.NotEqual(t, first.WorkflowID, resp.WorkflowID)
}

func TestCancelNothingInProgress(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t, &scriptedOracle{}, Config{})
	resp, err := o.Cancel(context.Background(), "quiet-session")
	require.NoError(t, err)
	assert.Empty(t, resp.WorkflowID)
}

// flakyProvider always fails with a transient error.
type flakyProvider struct {
	calls int
}

func (p *flakyProvider) Name() string { return "weather" }
func (p *flakyProvider) Operations() []capability.OperationSpec {
	return []capability.OperationSpec{{Name: "lookup", Class: capability.ClassRead, Description: "Look up the forecast"}}
}
func (p *flakyProvider) Execute(context.Context, string, map[string]any) (capability.Result, error) {
	p.calls++
	return capability.Result{}, capability.Transient(errors.New("upstream unavailable"))
}

func TestHandleFailedStepKeepsWorkflowReplanning(t *testing.T) {
	h := newHarness(t)
	flaky := &flakyProvider{}
	require.NoError(t, h.reg.Register(flaky))

	script := &scriptedOracle{
		plans: []workflow.StepPlan{
			{Provider: "weather", Operation: "lookup", Params: map[string]any{}},
			{Provider: "calendar", Operation: "list_events", Params: map[string]any{}},
		},
		analyses: []workflow.StepAnalysis{
			{ShouldContinue: true, Analysis: "forecast unavailable, checking the calendar instead"},
			{Complete: true},
		},
	}
	o := h.orchestrator(t, script, Config{})

	resp, err := o.Handle(context.Background(), Request{SessionID: "s1", Input: "will the standup be outside?"})
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusCompleted, resp.Status)
	st := h.mustLoad(t, resp.WorkflowID)
	require.Len(t, st.CompletedSteps, 2)
	assert.False(t, st.CompletedSteps[0].Success)
	assert.Contains(t, st.CompletedSteps[0].Error, "upstream unavailable")
	assert.True(t, st.CompletedSteps[1].Success)
	// the dispatcher exhausted its retry budget before giving up
	assert.Equal(t, 3, flaky.calls)
}
