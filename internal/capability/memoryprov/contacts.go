package memoryprov

import (
	"context"
	"fmt"
	"strings"

	"github.com/majordomo-ai/majordomo/internal/capability"
)

// Contact is one address book entry.
type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Contacts is an in-memory address book provider.
type Contacts struct {
	ops     []capability.OperationSpec
	entries []Contact
}

func NewContacts(defs capability.Definitions) *Contacts {
	return &Contacts{
		ops: defs.Operations("contacts"),
		entries: []Contact{
			{Name: "John Smith", Email: "john@example.com", Phone: "+1-555-0101"},
			{Name: "Alice Chen", Email: "alice@example.com"},
			{Name: "Priya Patel", Email: "priya@example.com", Phone: "+1-555-0155"},
		},
	}
}

func (c *Contacts) Name() string { return "contacts" }

func (c *Contacts) Operations() []capability.OperationSpec { return c.ops }

func (c *Contacts) Execute(ctx context.Context, operation string, params map[string]any) (capability.Result, error) {
	if operation != "resolve" {
		return capability.Result{}, fmt.Errorf("contacts: operation %q not handled", operation)
	}

	name := strings.ToLower(stringParam(params, "name"))
	var matches []Contact
	for _, entry := range c.entries {
		if strings.Contains(strings.ToLower(entry.Name), name) {
			matches = append(matches, entry)
		}
	}
	if len(matches) == 0 {
		return capability.Result{}, fmt.Errorf("contacts: no entry matching %q", stringParam(params, "name"))
	}
	return capability.Result{Payload: map[string]any{
		"contacts": matches,
		"count":    len(matches),
	}}, nil
}
