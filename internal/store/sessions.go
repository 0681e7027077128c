package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/weave/internal/expr"
	"github.com/roach88/weave/internal/story"
)

// CreateSession inserts a session with no current node and an empty
// state document.
func (t *Tx) CreateSession(ctx context.Context, now time.Time) (story.Session, error) {
	ts := marshalTime(now)
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO sessions (current_node_id, state, status, created_at, updated_at)
		VALUES (NULL, '{}', ?, ?, ?)
	`, story.StatusRunning, ts, ts)
	if err != nil {
		return story.Session{}, fmt.Errorf("create session: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return story.Session{}, fmt.Errorf("create session: last insert id: %w", err)
	}

	return story.Session{
		ID:        id,
		State:     expr.Doc{},
		Status:    story.StatusRunning,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}, nil
}

// GetSession retrieves a session by id. Returns sql.ErrNoRows if not
// found.
func (t *Tx) GetSession(ctx context.Context, id int64) (story.Session, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT id, current_node_id, state, status, created_at, updated_at
		FROM sessions
		WHERE id = ?
	`, id)
	return scanSession(row)
}

// ListSessions returns all sessions ordered by id.
func (t *Tx) ListSessions(ctx context.Context) ([]story.Session, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT id, current_node_id, state, status, created_at, updated_at
		FROM sessions
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

// UpdateSession overwrites a session's position and state in one write.
// Pass currentNodeID nil to clear the position.
func (t *Tx) UpdateSession(ctx context.Context, now time.Time, id int64, currentNodeID *int64, state expr.Doc) error {
	stateJSON, err := marshalDoc(state)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	res, err := t.q.ExecContext(ctx, `
		UPDATE sessions
		SET current_node_id = ?, state = ?, updated_at = ?
		WHERE id = ?
	`, currentNodeID, stateJSON, marshalTime(now), id)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return requireRow(res, "update session")
}

// EndSession marks a session ended. Idempotent on already-ended
// sessions; returns sql.ErrNoRows only when the session does not exist.
func (t *Tx) EndSession(ctx context.Context, now time.Time, id int64) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE sessions
		SET status = ?, updated_at = ?
		WHERE id = ?
	`, story.StatusEnded, marshalTime(now), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return requireRow(res, "end session")
}

// SessionsAtNode returns running sessions currently positioned at the
// node, ordered by id.
func (t *Tx) SessionsAtNode(ctx context.Context, nodeID int64) ([]story.Session, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT id, current_node_id, state, status, created_at, updated_at
		FROM sessions
		WHERE current_node_id = ? AND status = ?
		ORDER BY id ASC
	`, nodeID, story.StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("query sessions at node: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

// SessionsWithTimedVotes returns running sessions whose state document
// holds an active vote with a positive duration. The expiry check
// itself happens in the engine against its time source; this query just
// narrows the sweep to candidates via json_extract.
func (t *Tx) SessionsWithTimedVotes(ctx context.Context) ([]story.Session, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT id, current_node_id, state, status, created_at, updated_at
		FROM sessions
		WHERE status = ?
		  AND json_extract(state, '$.vote.active') = 1
		  AND json_extract(state, '$.vote.durationSec') > 0
		ORDER BY id ASC
	`, story.StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("query sessions with timed votes: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func collectSessions(rows *sql.Rows) ([]story.Session, error) {
	sessions := []story.Session{}
	for rows.Next() {
		s, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

func scanSession(row *sql.Row) (story.Session, error) {
	var s story.Session
	var state, createdAt, updatedAt string
	if err := row.Scan(&s.ID, &s.CurrentNodeID, &state, &s.Status, &createdAt, &updatedAt); err != nil {
		return story.Session{}, err
	}
	return finishSession(s, state, createdAt, updatedAt)
}

func scanSessionRows(rows *sql.Rows) (story.Session, error) {
	var s story.Session
	var state, createdAt, updatedAt string
	if err := rows.Scan(&s.ID, &s.CurrentNodeID, &state, &s.Status, &createdAt, &updatedAt); err != nil {
		return story.Session{}, fmt.Errorf("scan session: %w", err)
	}
	return finishSession(s, state, createdAt, updatedAt)
}

func finishSession(s story.Session, state, createdAt, updatedAt string) (story.Session, error) {
	doc, err := unmarshalDoc(state)
	if err != nil {
		return story.Session{}, err
	}
	s.State = doc
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return story.Session{}, err
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return story.Session{}, err
	}
	return s, nil
}
