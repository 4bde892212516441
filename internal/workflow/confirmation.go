package workflow

import "time"

// PendingConfirmation is a staged write operation awaiting explicit user
// approval. A workflow owns at most one outstanding confirmation at a time.
type PendingConfirmation struct {
	DraftID   string         `json:"draft_id"`
	Provider  string         `json:"provider"`
	Operation string         `json:"operation"`
	Params    map[string]any `json:"params,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	Approved  bool           `json:"approved"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// Expired reports whether the confirmation may no longer be executed.
func (c PendingConfirmation) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}
