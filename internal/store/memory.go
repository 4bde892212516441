package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/majordomo-ai/majordomo/internal/workflow"
)

const memoryCleanupInterval = time.Minute

// Memory keeps workflow state in a TTL cache with optimistic version checks.
// Suitable for tests and single-process deployments.
type Memory struct {
	mu       sync.Mutex
	states   *gocache.Cache
	sessions map[string]string // session id -> workflow id
	now      func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		states:   gocache.New(gocache.NoExpiration, memoryCleanupInterval),
		sessions: make(map[string]string),
		now:      time.Now,
	}
}

func (m *Memory) Save(_ context.Context, state workflow.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.liveState(state.ID)
	switch {
	case !exists:
		if state.Version != 0 {
			return fmt.Errorf("%w: workflow %q expected version 0 on create, got %d",
				ErrVersionConflict, state.ID, state.Version)
		}
		// creating doubles as the session claim: a session may hold at
		// most one non-terminal workflow
		if other, busy := m.liveSessionState(state.SessionID); busy && other.ID != state.ID {
			return fmt.Errorf("%w: session %q already has workflow %q in flight",
				ErrVersionConflict, state.SessionID, other.ID)
		}
		m.put(state, 1)
	case state.Version != current.Version:
		return fmt.Errorf("%w: workflow %q expected version %d, got %d",
			ErrVersionConflict, state.ID, current.Version, state.Version)
	default:
		m.put(state, current.Version+1)
	}
	return nil
}

func (m *Memory) put(state workflow.State, version int64) {
	next := workflow.Clone(state)
	next.Version = version

	ttl := gocache.NoExpiration
	if !next.ExpiresAt.IsZero() {
		ttl = next.ExpiresAt.Sub(m.now())
	}
	m.states.Set(next.ID, next, ttl)
	if next.SessionID != "" {
		m.sessions[next.SessionID] = next.ID
	}
}

// liveSessionState reports the session's current non-terminal workflow.
func (m *Memory) liveSessionState(sessionID string) (workflow.State, bool) {
	if sessionID == "" {
		return workflow.State{}, false
	}
	workflowID, ok := m.sessions[sessionID]
	if !ok {
		return workflow.State{}, false
	}
	state, ok := m.liveState(workflowID)
	if !ok || state.Terminal() {
		return workflow.State{}, false
	}
	return state, true
}

func (m *Memory) liveState(workflowID string) (workflow.State, bool) {
	raw, ok := m.states.Get(workflowID)
	if !ok {
		return workflow.State{}, false
	}
	state := raw.(workflow.State)
	if state.Expired(m.now()) {
		m.states.Delete(workflowID)
		return workflow.State{}, false
	}
	return state, true
}

func (m *Memory) Load(_ context.Context, workflowID string) (workflow.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.liveState(workflowID)
	if !ok {
		return workflow.State{}, ErrNotFound
	}
	return workflow.Clone(state), nil
}

func (m *Memory) LoadBySession(_ context.Context, sessionID string) (workflow.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	workflowID, ok := m.sessions[sessionID]
	if !ok {
		return workflow.State{}, ErrNotFound
	}
	state, ok := m.liveState(workflowID)
	if !ok || state.Terminal() {
		return workflow.State{}, ErrNotFound
	}
	return workflow.Clone(state), nil
}

func (m *Memory) Delete(_ context.Context, workflowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if raw, ok := m.states.Get(workflowID); ok {
		state := raw.(workflow.State)
		if m.sessions[state.SessionID] == workflowID {
			delete(m.sessions, state.SessionID)
		}
	}
	m.states.Delete(workflowID)
	return nil
}
