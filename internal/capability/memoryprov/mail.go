package memoryprov

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/majordomo-ai/majordomo/internal/capability"
)

// Message is one mailbox entry.
type Message struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Unread  bool   `json:"unread"`
}

type mailDraft struct {
	to, subject, body string
	expiresAt         time.Time
}

// Mail is an in-memory mailbox provider.
type Mail struct {
	mu       sync.Mutex
	ops      []capability.OperationSpec
	inbox    []Message
	sent     []Message
	drafts   map[string]mailDraft
	draftTTL time.Duration
	now      func() time.Time
}

func NewMail(defs capability.Definitions) *Mail {
	return &Mail{
		ops: defs.Operations("mail"),
		inbox: []Message{
			{ID: "m-1", From: "alice@example.com", To: "me@example.com", Subject: "Quarterly report", Body: "The Q3 numbers are attached.", Unread: true},
			{ID: "m-2", From: "john@example.com", To: "me@example.com", Subject: "Dinner on Friday?", Body: "Are we still on for Friday dinner?", Unread: true},
			{ID: "m-3", From: "newsletter@example.com", To: "me@example.com", Subject: "Weekly digest", Body: "Top stories this week."},
		},
		drafts:   make(map[string]mailDraft),
		draftTTL: DefaultDraftTTL,
		now:      time.Now,
	}
}

func (m *Mail) Name() string { return "mail" }

func (m *Mail) Operations() []capability.OperationSpec { return m.ops }

func (m *Mail) Execute(ctx context.Context, operation string, params map[string]any) (capability.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch operation {
	case "search":
		return m.search(params), nil
	case "compose":
		return m.compose(params), nil
	case "execute_draft":
		return m.executeDraft(params)
	case "discard_draft":
		return m.discardDraft(params)
	default:
		return capability.Result{}, fmt.Errorf("mail: operation %q not handled", operation)
	}
}

func (m *Mail) search(params map[string]any) capability.Result {
	query := strings.ToLower(stringParam(params, "query"))
	limit := len(m.inbox)
	if raw, ok := params["limit"].(float64); ok && int(raw) > 0 {
		limit = int(raw)
	}

	var matches []Message
	for _, msg := range m.inbox {
		if len(matches) >= limit {
			break
		}
		haystack := strings.ToLower(msg.Subject + " " + msg.Body + " " + msg.From)
		if query == "" || strings.Contains(haystack, query) {
			matches = append(matches, msg)
		}
	}
	return capability.Result{Payload: map[string]any{
		"messages": matches,
		"count":    len(matches),
	}}
}

func (m *Mail) compose(params map[string]any) capability.Result {
	draft := mailDraft{
		to:        stringParam(params, "to"),
		subject:   stringParam(params, "subject"),
		body:      stringParam(params, "body"),
		expiresAt: m.now().Add(m.draftTTL),
	}
	id := uuid.NewString()
	m.drafts[id] = draft

	return capability.Result{
		Payload: map[string]any{"draft_id": id},
		Draft: &capability.Draft{
			ID:        id,
			Provider:  "mail",
			Operation: "send",
			Params:    map[string]any{"to": draft.to, "subject": draft.subject, "body": draft.body},
			Summary:   fmt.Sprintf("email to %s: %q", draft.to, draft.subject),
			ExpiresAt: draft.expiresAt,
		},
	}
}

func (m *Mail) executeDraft(params map[string]any) (capability.Result, error) {
	id := stringParam(params, "draft_id")
	draft, ok := m.drafts[id]
	if !ok {
		return capability.Result{}, fmt.Errorf("mail: draft %q not found", id)
	}
	if !m.now().Before(draft.expiresAt) {
		delete(m.drafts, id)
		return capability.Result{}, fmt.Errorf("mail: draft %q has expired", id)
	}
	delete(m.drafts, id)

	msg := Message{
		ID:      uuid.NewString(),
		From:    "me@example.com",
		To:      draft.to,
		Subject: draft.subject,
		Body:    draft.body,
	}
	m.sent = append(m.sent, msg)
	return capability.Result{Payload: map[string]any{
		"message_id": msg.ID,
		"delivered":  true,
	}}, nil
}

func (m *Mail) discardDraft(params map[string]any) (capability.Result, error) {
	id := stringParam(params, "draft_id")
	if _, ok := m.drafts[id]; !ok {
		return capability.Result{}, fmt.Errorf("mail: draft %q not found", id)
	}
	delete(m.drafts, id)
	return capability.Result{Payload: map[string]any{"discarded": true}}, nil
}

// Sent returns delivered messages, for tests.
func (m *Mail) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}
