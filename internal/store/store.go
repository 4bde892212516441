// Package store persists workflow state snapshots. Stores hold no business
// logic: they enforce optimistic version checks and TTL expiry, nothing else.
package store

import (
	"context"
	"errors"

	"github.com/majordomo-ai/majordomo/internal/workflow"
)

var (
	// ErrNotFound is returned when no live workflow matches the key.
	// Expired workflows are treated as absent.
	ErrNotFound = errors.New("workflow not found")
	// ErrVersionConflict is returned when a save loses the optimistic
	// concurrency check. The caller must not retry blindly: a conflict
	// means another writer already advanced the workflow.
	ErrVersionConflict = errors.New("workflow version conflict")
)

// Store is the persistence contract for workflow state.
//
// Save applies an optimistic version check: a state with Version 0 creates
// the record, any other Version must match the stored record exactly, and a
// successful save bumps the stored version by one. Callers advance their
// local copy after a successful save.
type Store interface {
	Load(ctx context.Context, workflowID string) (workflow.State, error)
	// LoadBySession returns the session's non-terminal workflow, if any.
	LoadBySession(ctx context.Context, sessionID string) (workflow.State, error)
	Save(ctx context.Context, state workflow.State) error
	Delete(ctx context.Context, workflowID string) error
}
