// Package gateway adapts chat surfaces onto the orchestrator. An adapter
// turns raw user messages into orchestrator requests, including reading
// approval replies when a confirmation is outstanding.
package gateway

import (
	"context"

	"github.com/majordomo-ai/majordomo/internal/orchestrator"
)

// Handler is the orchestrator surface a gateway drives.
type Handler interface {
	Handle(ctx context.Context, req orchestrator.Request) (orchestrator.Response, error)
	Cancel(ctx context.Context, sessionID string) (orchestrator.Response, error)
}

// Messenger is a running chat adapter.
type Messenger interface {
	// Start begins the message loop and blocks until ctx is done or the
	// input source is exhausted.
	Start(ctx context.Context) error
}
