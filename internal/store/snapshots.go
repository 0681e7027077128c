package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/weave/internal/expr"
	"github.com/roach88/weave/internal/story"
)

// CreateSnapshot captures a session's position and state under an
// optional label.
func (t *Tx) CreateSnapshot(ctx context.Context, now time.Time, sessionID int64, label string, currentNodeID *int64, state expr.Doc) (story.Snapshot, error) {
	stateJSON, err := marshalDoc(state)
	if err != nil {
		return story.Snapshot{}, fmt.Errorf("create snapshot: %w", err)
	}

	res, err := t.q.ExecContext(ctx, `
		INSERT INTO snapshots (session_id, label, state, current_node_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, label, stateJSON, currentNodeID, marshalTime(now))
	if err != nil {
		return story.Snapshot{}, fmt.Errorf("create snapshot: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return story.Snapshot{}, fmt.Errorf("create snapshot: last insert id: %w", err)
	}

	return story.Snapshot{
		ID:            id,
		SessionID:     sessionID,
		Label:         label,
		State:         state,
		CurrentNodeID: currentNodeID,
		CreatedAt:     now.UTC(),
	}, nil
}

// GetSnapshot retrieves a snapshot by id. Returns sql.ErrNoRows if not
// found.
func (t *Tx) GetSnapshot(ctx context.Context, id int64) (story.Snapshot, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT id, session_id, label, state, current_node_id, created_at
		FROM snapshots
		WHERE id = ?
	`, id)

	var s story.Snapshot
	var label sql.NullString
	var state, createdAt string
	if err := row.Scan(&s.ID, &s.SessionID, &label, &state, &s.CurrentNodeID, &createdAt); err != nil {
		return story.Snapshot{}, err
	}
	return finishSnapshot(s, label, state, createdAt)
}

// ListSnapshots returns a session's snapshots newest first.
func (t *Tx) ListSnapshots(ctx context.Context, sessionID int64) ([]story.Snapshot, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT id, session_id, label, state, current_node_id, created_at
		FROM snapshots
		WHERE session_id = ?
		ORDER BY created_at DESC, id DESC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := []story.Snapshot{}
	for rows.Next() {
		var s story.Snapshot
		var label sql.NullString
		var state, createdAt string
		if err := rows.Scan(&s.ID, &s.SessionID, &label, &state, &s.CurrentNodeID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap, err := finishSnapshot(s, label, state, createdAt)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return snapshots, nil
}

// DeleteSnapshot removes a snapshot. Returns sql.ErrNoRows if it never
// existed.
func (t *Tx) DeleteSnapshot(ctx context.Context, id int64) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return requireRow(res, "delete snapshot")
}

func finishSnapshot(s story.Snapshot, label sql.NullString, state, createdAt string) (story.Snapshot, error) {
	s.Label = label.String
	doc, err := unmarshalDoc(state)
	if err != nil {
		return story.Snapshot{}, err
	}
	s.State = doc
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return story.Snapshot{}, err
	}
	return s, nil
}
