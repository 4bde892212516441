package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/majordomo-ai/majordomo/internal/workflow"
)

// SQLite persists workflow state durably. One row per workflow, keyed
// additionally by session for active-workflow lookup; the version column
// backs the conditional update that gives single-writer-per-workflow.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLite)(nil)

func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open workflow db: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		state TEXT NOT NULL,
		expires_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_workflows_session ON workflows (session_id, status);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init workflow db: %w", err)
	}

	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Save(ctx context.Context, state workflow.State) error {
	next := workflow.Clone(state)
	next.Version = state.Version + 1
	blob, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode workflow %q: %w", state.ID, err)
	}

	var expiresAt any
	if !next.ExpiresAt.IsZero() {
		expiresAt = next.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	if state.Version == 0 {
		// the guarded insert doubles as the session claim: a session may
		// hold at most one non-terminal workflow, so a duplicate first
		// message loses here instead of spawning a second workflow
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO workflows (id, session_id, status, version, state, expires_at)
			 SELECT ?, ?, ?, ?, ?, ?
			 WHERE NOT EXISTS (
			     SELECT 1 FROM workflows
			     WHERE session_id = ? AND status IN ('active', 'paused')
			       AND (expires_at IS NULL OR expires_at > ?)
			 )`,
			next.ID, next.SessionID, string(next.Status), next.Version, string(blob), expiresAt,
			next.SessionID, s.now().UTC().Format(time.RFC3339Nano))
		if err != nil {
			if exists, checkErr := s.exists(ctx, next.ID); checkErr == nil && exists {
				return fmt.Errorf("%w: workflow %q already exists", ErrVersionConflict, next.ID)
			}
			return fmt.Errorf("create workflow %q: %w", next.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("create workflow %q: %w", next.ID, err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: session %q already has a workflow in flight",
				ErrVersionConflict, next.SessionID)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET session_id = ?, status = ?, version = ?, state = ?, expires_at = ?
		 WHERE id = ? AND version = ?`,
		next.SessionID, string(next.Status), next.Version, string(blob), expiresAt,
		next.ID, state.Version)
	if err != nil {
		return fmt.Errorf("save workflow %q: %w", next.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save workflow %q: %w", next.ID, err)
	}
	if affected == 0 {
		if exists, checkErr := s.exists(ctx, next.ID); checkErr == nil && !exists {
			// matches the memory backend: an unknown workflow with a
			// nonzero version is a version conflict, not a miss
			return fmt.Errorf("%w: workflow %q expected version 0 on create, got %d",
				ErrVersionConflict, next.ID, state.Version)
		}
		return fmt.Errorf("%w: workflow %q stale version %d", ErrVersionConflict, next.ID, state.Version)
	}
	return nil
}

func (s *SQLite) exists(ctx context.Context, workflowID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM workflows WHERE id = ?`, workflowID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLite) Load(ctx context.Context, workflowID string) (workflow.State, error) {
	return s.loadWhere(ctx, `SELECT state FROM workflows WHERE id = ?`, workflowID)
}

func (s *SQLite) LoadBySession(ctx context.Context, sessionID string) (workflow.State, error) {
	return s.loadWhere(ctx,
		`SELECT state FROM workflows
		 WHERE session_id = ? AND status IN ('active', 'paused')
		 ORDER BY version DESC LIMIT 1`, sessionID)
}

func (s *SQLite) loadWhere(ctx context.Context, query string, arg any) (workflow.State, error) {
	var blob string
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.State{}, ErrNotFound
	}
	if err != nil {
		return workflow.State{}, fmt.Errorf("load workflow: %w", err)
	}

	var state workflow.State
	if err := json.Unmarshal([]byte(blob), &state); err != nil {
		return workflow.State{}, fmt.Errorf("decode workflow: %w", err)
	}
	if state.Expired(s.now()) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, state.ID)
		return workflow.State{}, ErrNotFound
	}
	return state, nil
}

func (s *SQLite) Delete(ctx context.Context, workflowID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, workflowID)
	if err != nil {
		return fmt.Errorf("delete workflow %q: %w", workflowID, err)
	}
	return nil
}

// PruneExpired removes rows whose TTL elapsed. Expiry is already enforced on
// every read; this just keeps the table from accumulating dead rows.
func (s *SQLite) PruneExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM workflows WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune workflows: %w", err)
	}
	return res.RowsAffected()
}
