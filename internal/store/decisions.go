package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/weave/internal/expr"
	"github.com/roach88/weave/internal/story"
)

// AppendDecision records one taken edge for a session.
func (t *Tx) AppendDecision(ctx context.Context, now time.Time, sessionID, nodeID, edgeID int64) (story.Decision, error) {
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO decisions (session_id, node_id, chosen_edge_id, created_at)
		VALUES (?, ?, ?, ?)
	`, sessionID, nodeID, edgeID, marshalTime(now))
	if err != nil {
		return story.Decision{}, fmt.Errorf("append decision: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return story.Decision{}, fmt.Errorf("append decision: last insert id: %w", err)
	}

	return story.Decision{
		ID:           id,
		SessionID:    sessionID,
		NodeID:       nodeID,
		ChosenEdgeID: edgeID,
		CreatedAt:    now.UTC(),
	}, nil
}

// Decisions returns a session's decisions in the canonical replay
// order: created_at ascending, id ascending as the tiebreak.
func (t *Tx) Decisions(ctx context.Context, sessionID int64) ([]story.Decision, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT id, session_id, node_id, chosen_edge_id, created_at
		FROM decisions
		WHERE session_id = ?
		ORDER BY created_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	decisions := []story.Decision{}
	for rows.Next() {
		var d story.Decision
		var createdAt string
		if err := rows.Scan(&d.ID, &d.SessionID, &d.NodeID, &d.ChosenEdgeID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if d.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return decisions, nil
}

// DecisionHistory returns a session's decisions joined with the titles
// and labels needed to render a readable history, in replay order.
func (t *Tx) DecisionHistory(ctx context.Context, sessionID int64) ([]story.DecisionDetail, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT d.id, d.session_id, d.node_id, d.chosen_edge_id, d.created_at,
		       fn.title, e.label, e.to_node_id, tn.title
		FROM decisions d
		JOIN nodes fn ON fn.id = d.node_id
		JOIN edges e  ON e.id = d.chosen_edge_id
		JOIN nodes tn ON tn.id = e.to_node_id
		WHERE d.session_id = ?
		ORDER BY d.created_at ASC, d.id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query decision history: %w", err)
	}
	defer rows.Close()

	details := []story.DecisionDetail{}
	for rows.Next() {
		var d story.DecisionDetail
		var createdAt string
		if err := rows.Scan(&d.ID, &d.SessionID, &d.NodeID, &d.ChosenEdgeID, &createdAt,
			&d.FromTitle, &d.EdgeLabel, &d.ToNodeID, &d.ToTitle); err != nil {
			return nil, fmt.Errorf("scan decision detail: %w", err)
		}
		if d.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decision history: %w", err)
	}
	return details, nil
}

// ReplayStep is a decision joined with the effect of its chosen edge,
// fetched in one query so a rewind replay does not have to re-read each
// edge individually.
type ReplayStep struct {
	Decision story.Decision
	ToNodeID int64
	Effect   expr.Effect
}

// ReplaySteps returns the full replay sequence for a session: every
// decision in canonical order, each carrying its edge's current effect
// and destination.
func (t *Tx) ReplaySteps(ctx context.Context, sessionID int64) ([]ReplayStep, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT d.id, d.session_id, d.node_id, d.chosen_edge_id, d.created_at,
		       e.to_node_id, e.effect
		FROM decisions d
		JOIN edges e ON e.id = d.chosen_edge_id
		WHERE d.session_id = ?
		ORDER BY d.created_at ASC, d.id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query replay steps: %w", err)
	}
	defer rows.Close()

	steps := []ReplayStep{}
	for rows.Next() {
		var step ReplayStep
		var createdAt, effect string
		if err := rows.Scan(&step.Decision.ID, &step.Decision.SessionID, &step.Decision.NodeID,
			&step.Decision.ChosenEdgeID, &createdAt, &step.ToNodeID, &effect); err != nil {
			return nil, fmt.Errorf("scan replay step: %w", err)
		}
		if step.Decision.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if step.Effect, err = unmarshalEffect(effect); err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate replay steps: %w", err)
	}
	return steps, nil
}

// DeleteDecisions removes decisions by id. Used by rewind to drop the
// most recent contiguous suffix; the caller picks the ids.
func (t *Tx) DeleteDecisions(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if _, err := t.q.ExecContext(ctx, `DELETE FROM decisions WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete decision %d: %w", id, err)
		}
	}
	return nil
}

// DeleteAllDecisions removes a session's entire decision history.
func (t *Tx) DeleteAllDecisions(ctx context.Context, sessionID int64) error {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM decisions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete decisions: %w", err)
	}
	return nil
}
