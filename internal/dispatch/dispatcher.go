// Package dispatch validates and executes planned capability calls,
// normalizing every outcome into the uniform step result envelope.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/majordomo-ai/majordomo/internal/capability"
	"github.com/majordomo-ai/majordomo/internal/governance"
	"github.com/majordomo-ai/majordomo/internal/workflow"
)

const (
	DefaultCallTimeout = 10 * time.Second
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 250 * time.Millisecond
)

// Config bounds provider calls.
type Config struct {
	CallTimeout time.Duration
	MaxAttempts int
	BackoffBase time.Duration
}

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	return c
}

// Outcome is what one dispatched step did to the workflow: the appended
// result, a newly staged confirmation, or the resolution of the outstanding
// one.
type Outcome struct {
	Result               workflow.StepResult
	Confirmation         *workflow.PendingConfirmation
	ConfirmationResolved bool
}

// Dispatcher executes validated step plans against registered providers.
type Dispatcher struct {
	registry *capability.Registry
	policy   governance.PolicyEngine
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func New(registry *capability.Registry, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// WithPolicy installs an operator policy checked before every provider call.
func (d *Dispatcher) WithPolicy(policy governance.PolicyEngine) *Dispatcher {
	d.policy = policy
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute runs one planned step. A returned error is fatal for the loop
// (contract violation or cancellation); provider failures come back as a
// StepResult with Success=false that the planner can route around.
func (d *Dispatcher) Execute(ctx context.Context, plan workflow.StepPlan, confirmation *workflow.PendingConfirmation) (Outcome, error) {
	if err := d.registry.ValidateCall(plan.Provider, plan.Operation, plan.Params); err != nil {
		return Outcome{}, err
	}
	spec, _ := d.registry.Spec(plan.Provider, plan.Operation)

	switch spec.Class {
	case capability.ClassWrite:
		// a raw destructive operation never runs off a plan step
		return Outcome{}, &capability.ValidationError{
			Provider:  plan.Provider,
			Operation: plan.Operation,
			Reason:    "write operations require a staged draft and explicit confirmation",
		}
	case capability.ClassConfirm:
		if failed, ok := d.confirmGate(plan, confirmation); !ok {
			return failed, nil
		}
	case capability.ClassDiscard:
		if failed, ok := d.discardGate(plan, confirmation); !ok {
			return failed, nil
		}
	}

	provider, ok := d.registry.Provider(plan.Provider)
	if !ok {
		return Outcome{}, &capability.ValidationError{
			Provider:  plan.Provider,
			Operation: plan.Operation,
			Reason:    "no handler registered",
		}
	}

	if d.policy != nil {
		verdict, err := d.policy.Evaluate(ctx, governance.Request{
			Provider:  plan.Provider,
			Operation: plan.Operation,
			Params:    plan.Params,
		})
		if err != nil {
			return Outcome{}, err
		}
		if verdict.Effect == governance.EffectDeny {
			d.logger.Warn("step denied by policy",
				slog.String("provider", plan.Provider),
				slog.String("operation", plan.Operation),
				slog.String("reason", verdict.Reason))
			return Outcome{Result: d.failedResult(plan, fmt.Errorf("denied by policy: %s", verdict.Reason))}, nil
		}
	}

	result, err := d.callWithRetry(ctx, provider, plan)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		// exhausted retries or a permanent provider failure: recoverable
		return Outcome{Result: d.failedResult(plan, err)}, nil
	}

	outcome := Outcome{Result: d.successResult(plan, result.Payload)}
	if result.Draft != nil {
		outcome.Confirmation = &workflow.PendingConfirmation{
			DraftID:   result.Draft.ID,
			Provider:  result.Draft.Provider,
			Operation: result.Draft.Operation,
			Params:    result.Draft.Params,
			Summary:   result.Draft.Summary,
			CreatedAt: d.now(),
			ExpiresAt: result.Draft.ExpiresAt,
		}
	}
	if spec.Class == capability.ClassConfirm || spec.Class == capability.ClassDiscard {
		outcome.ConfirmationResolved = true
	}
	return outcome, nil
}

// confirmGate enforces the write discipline: a confirm-class operation only
// runs against the workflow's approved, unexpired, matching draft.
func (d *Dispatcher) confirmGate(plan workflow.StepPlan, confirmation *workflow.PendingConfirmation) (Outcome, bool) {
	draftID, _ := plan.Params["draft_id"].(string)
	switch {
	case confirmation == nil:
		return Outcome{Result: d.failedResult(plan, fmt.Errorf("no draft is staged for confirmation"))}, false
	case draftID != confirmation.DraftID:
		return Outcome{Result: d.failedResult(plan, fmt.Errorf("draft %q does not match the staged draft", draftID))}, false
	case confirmation.Expired(d.now()):
		// invalidated: the staged draft must never execute after expiry
		return Outcome{
			Result:               d.failedResult(plan, fmt.Errorf("draft %q has expired and was invalidated", draftID)),
			ConfirmationResolved: true,
		}, false
	case !confirmation.Approved:
		return Outcome{Result: d.failedResult(plan, fmt.Errorf("draft %q has not been approved", draftID))}, false
	default:
		return Outcome{}, true
	}
}

func (d *Dispatcher) discardGate(plan workflow.StepPlan, confirmation *workflow.PendingConfirmation) (Outcome, bool) {
	draftID, _ := plan.Params["draft_id"].(string)
	switch {
	case confirmation == nil:
		return Outcome{Result: d.failedResult(plan, fmt.Errorf("no draft is staged"))}, false
	case draftID != confirmation.DraftID:
		return Outcome{Result: d.failedResult(plan, fmt.Errorf("draft %q does not match the staged draft", draftID))}, false
	default:
		return Outcome{}, true
	}
}

func (d *Dispatcher) callWithRetry(ctx context.Context, provider capability.Provider, plan workflow.StepPlan) (capability.Result, error) {
	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return capability.Result{}, ctxErr
		}

		callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
		result, err := provider.Execute(callCtx, plan.Operation, plan.Params)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !capability.IsTransient(err) || ctx.Err() != nil {
			break
		}
		if attempt == d.cfg.MaxAttempts {
			break
		}

		backoff := d.cfg.BackoffBase << (attempt - 1)
		d.logger.Warn("provider call failed, retrying",
			slog.String("provider", plan.Provider),
			slog.String("operation", plan.Operation),
			slog.Int("step", plan.Step),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()))
		if sleepErr := d.sleep(ctx, backoff); sleepErr != nil {
			return capability.Result{}, sleepErr
		}
	}
	return capability.Result{}, lastErr
}

func (d *Dispatcher) successResult(plan workflow.StepPlan, payload any) workflow.StepResult {
	return workflow.StepResult{
		Step:       plan.Step,
		Provider:   plan.Provider,
		Operation:  plan.Operation,
		Params:     plan.Params,
		Payload:    payload,
		Success:    true,
		ExecutedAt: d.now(),
	}
}

func (d *Dispatcher) failedResult(plan workflow.StepPlan, err error) workflow.StepResult {
	d.logger.Warn("step failed",
		slog.String("provider", plan.Provider),
		slog.String("operation", plan.Operation),
		slog.Int("step", plan.Step),
		slog.String("error", err.Error()))
	return workflow.StepResult{
		Step:       plan.Step,
		Provider:   plan.Provider,
		Operation:  plan.Operation,
		Params:     plan.Params,
		Success:    false,
		Error:      err.Error(),
		ExecutedAt: d.now(),
	}
}
