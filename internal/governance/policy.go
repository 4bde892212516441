// Package governance gates capability calls against operator policy. It
// runs before dispatch, independent of the confirmation discipline: even an
// approved draft is refused when policy denies its operation.
package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request contains the context of a capability call to be evaluated.
type Request struct {
	Provider  string
	Operation string
	Params    map[string]any
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// PolicyEngine evaluates capability calls against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// DefaultPolicyEngine denies by operation name or by a regex over the
// call's parameters; everything else is allowed.
type DefaultPolicyEngine struct {
	DeniedOps   map[string]bool
	DeniedRegex []*regexp.Regexp
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		DeniedOps:   make(map[string]bool),
		DeniedRegex: make([]*regexp.Regexp, 0),
	}
}

// DenyOperation blocks a "provider.operation" pair outright.
func (e *DefaultPolicyEngine) DenyOperation(name string) {
	e.DeniedOps[name] = true
}

// DenyParams blocks any call whose parameters match the pattern.
func (e *DefaultPolicyEngine) DenyParams(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.DeniedRegex = append(e.DeniedRegex, re)
	return nil
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	key := req.Provider + "." + req.Operation
	if e.DeniedOps[key] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("operation %q is restricted by system policy", key),
		}, nil
	}

	if len(e.DeniedRegex) > 0 {
		raw, err := json.Marshal(req.Params)
		if err != nil {
			return Result{}, fmt.Errorf("marshal params for policy check: %w", err)
		}
		for _, re := range e.DeniedRegex {
			if re.Match(raw) {
				return Result{
					Effect: EffectDeny,
					Reason: fmt.Sprintf("parameters match restricted pattern: %s", re.String()),
				}, nil
			}
		}
	}

	return Result{
		Effect: EffectAllow,
		Reason: "approved by default policy",
	}, nil
}
