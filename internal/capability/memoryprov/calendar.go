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

// Event is one calendar entry.
type Event struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

type eventDraft struct {
	title, start, end string
	expiresAt         time.Time
}

// Calendar is an in-memory calendar provider.
type Calendar struct {
	mu       sync.Mutex
	ops      []capability.OperationSpec
	events   []Event
	drafts   map[string]eventDraft
	draftTTL time.Duration
	now      func() time.Time
}

func NewCalendar(defs capability.Definitions) *Calendar {
	return &Calendar{
		ops: defs.Operations("calendar"),
		events: []Event{
			{ID: "e-1", Title: "Team standup", Start: "2026-09-01T09:30:00Z", End: "2026-09-01T09:45:00Z"},
			{ID: "e-2", Title: "Dentist", Start: "2026-09-03T15:00:00Z", End: "2026-09-03T16:00:00Z"},
		},
		drafts:   make(map[string]eventDraft),
		draftTTL: DefaultDraftTTL,
		now:      time.Now,
	}
}

func (c *Calendar) Name() string { return "calendar" }

func (c *Calendar) Operations() []capability.OperationSpec { return c.ops }

func (c *Calendar) Execute(ctx context.Context, operation string, params map[string]any) (capability.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch operation {
	case "list_events":
		return c.listEvents(params), nil
	case "create_event":
		return c.createEvent(params), nil
	case "commit_event":
		return c.commitEvent(params)
	case "discard_draft":
		return c.discardDraft(params)
	default:
		return capability.Result{}, fmt.Errorf("calendar: operation %q not handled", operation)
	}
}

func (c *Calendar) listEvents(params map[string]any) capability.Result {
	date := stringParam(params, "date")
	var matches []Event
	for _, ev := range c.events {
		if date == "" || strings.HasPrefix(ev.Start, date) {
			matches = append(matches, ev)
		}
	}
	return capability.Result{Payload: map[string]any{
		"events": matches,
		"count":  len(matches),
	}}
}

func (c *Calendar) createEvent(params map[string]any) capability.Result {
	draft := eventDraft{
		title:     stringParam(params, "title"),
		start:     stringParam(params, "start"),
		end:       stringParam(params, "end"),
		expiresAt: c.now().Add(c.draftTTL),
	}
	id := uuid.NewString()
	c.drafts[id] = draft

	return capability.Result{
		Payload: map[string]any{"draft_id": id},
		Draft: &capability.Draft{
			ID:        id,
			Provider:  "calendar",
			Operation: "commit_event",
			Params:    map[string]any{"title": draft.title, "start": draft.start, "end": draft.end},
			Summary:   fmt.Sprintf("event %q at %s", draft.title, draft.start),
			ExpiresAt: draft.expiresAt,
		},
	}
}

func (c *Calendar) commitEvent(params map[string]any) (capability.Result, error) {
	id := stringParam(params, "draft_id")
	draft, ok := c.drafts[id]
	if !ok {
		return capability.Result{}, fmt.Errorf("calendar: draft %q not found", id)
	}
	if !c.now().Before(draft.expiresAt) {
		delete(c.drafts, id)
		return capability.Result{}, fmt.Errorf("calendar: draft %q has expired", id)
	}
	delete(c.drafts, id)

	ev := Event{ID: uuid.NewString(), Title: draft.title, Start: draft.start, End: draft.end}
	c.events = append(c.events, ev)
	return capability.Result{Payload: map[string]any{
		"event_id": ev.ID,
		"created":  true,
	}}, nil
}

func (c *Calendar) discardDraft(params map[string]any) (capability.Result, error) {
	id := stringParam(params, "draft_id")
	if _, ok := c.drafts[id]; !ok {
		return capability.Result{}, fmt.Errorf("calendar: draft %q not found", id)
	}
	delete(c.drafts, id)
	return capability.Result{Payload: map[string]any{"discarded": true}}, nil
}
