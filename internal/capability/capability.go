package capability

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// OpClass describes an operation's side-effect discipline.
type OpClass string

const (
	// ClassRead operations have no side effects and may run directly.
	ClassRead OpClass = "read"
	// ClassDraft operations stage a write and produce a draft awaiting
	// explicit user approval.
	ClassDraft OpClass = "draft"
	// ClassConfirm operations execute a previously staged and approved
	// draft, referenced by its draft identifier.
	ClassConfirm OpClass = "confirm"
	// ClassDiscard operations drop a staged draft without executing it.
	// They need no approval; a rejection is expected to lead here.
	ClassDiscard OpClass = "discard"
	// ClassWrite marks the raw destructive operation behind a draft. It is
	// never dispatched from a plan step.
	ClassWrite OpClass = "write"
)

// OperationSpec declares one named operation a provider exposes.
type OperationSpec struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Class       OpClass        `yaml:"class,omitempty" json:"class,omitempty"`
	Params      map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// Draft is returned by draft-class operations to stage a write for approval.
type Draft struct {
	ID        string
	Provider  string
	Operation string
	Params    map[string]any
	Summary   string
	ExpiresAt time.Time
}

// Result is the raw outcome of a provider call before the dispatcher wraps
// it into a step result envelope.
type Result struct {
	Payload any
	Draft   *Draft
}

// Provider is an external capability source. Implementations are swappable
// behind this interface without touching the loop.
type Provider interface {
	Name() string
	Operations() []OperationSpec
	Execute(ctx context.Context, operation string, params map[string]any) (Result, error)
}

// Registry maps provider names to their declared operations. Both the
// planner and the dispatcher validate against it; nothing unvalidated
// reaches a provider.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	specs     map[string]map[string]OperationSpec
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		specs:     make(map[string]map[string]OperationSpec),
	}
}

// Register adds a provider and indexes its declared operations.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if name == "" {
		return fmt.Errorf("register capability: provider name is empty")
	}
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("register capability: provider %q already registered", name)
	}

	ops := make(map[string]OperationSpec)
	for _, spec := range p.Operations() {
		if spec.Name == "" {
			return fmt.Errorf("register capability: provider %q declares an unnamed operation", name)
		}
		if _, dup := ops[spec.Name]; dup {
			return fmt.Errorf("register capability: provider %q declares operation %q twice", name, spec.Name)
		}
		if spec.Class == "" {
			spec.Class = ClassRead
		}
		ops[spec.Name] = spec
	}

	r.providers[name] = p
	r.specs[name] = ops
	return nil
}

// Provider looks up a registered provider by name.
func (r *Registry) Provider(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Spec looks up the declared spec for a (provider, operation) pair.
func (r *Registry) Spec(provider, operation string) (OperationSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ops, ok := r.specs[provider]
	if !ok {
		return OperationSpec{}, false
	}
	spec, ok := ops[operation]
	return spec, ok
}

// ValidateCall checks a requested (provider, operation, params) triple
// against the registry. This is the trust boundary between the untrusted
// reasoning component and everything downstream.
func (r *Registry) ValidateCall(provider, operation string, params map[string]any) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ops, ok := r.specs[provider]
	if !ok {
		return &ValidationError{Provider: provider, Operation: operation, Reason: "unknown provider"}
	}
	spec, ok := ops[operation]
	if !ok {
		return &ValidationError{Provider: provider, Operation: operation, Reason: "unknown operation"}
	}
	if err := ValidateParams(spec.Params, params); err != nil {
		return &ValidationError{Provider: provider, Operation: operation, Reason: err.Error()}
	}
	return nil
}

// Summaries returns a stable, human-readable listing of every registered
// operation, used when prompting the planner.
func (r *Registry) Summaries() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for provider, ops := range r.specs {
		for _, spec := range ops {
			if spec.Class == ClassWrite {
				continue
			}
			out = append(out, fmt.Sprintf("%s.%s (%s): %s", provider, spec.Name, spec.Class, spec.Description))
		}
	}
	sort.Strings(out)
	return out
}
