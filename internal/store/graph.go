package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/text/cases"

	"github.com/roach88/weave/internal/expr"
	"github.com/roach88/weave/internal/story"
)

// ErrLabelExists signals a violation of the per-source-node label
// uniqueness invariant (case-insensitive).
var ErrLabelExists = errors.New("edge label already exists for this node")

var labelFolder = cases.Fold()

// foldLabel produces the Unicode case-folded form used for the
// uniqueness check, so "Go North" and "go north" collide.
func foldLabel(label string) string {
	return labelFolder.String(label)
}

// CreateNode inserts a node and returns it with its assigned id.
func (t *Tx) CreateNode(ctx context.Context, now time.Time, title string, content map[string]any) (story.Node, error) {
	contentJSON, err := marshalDoc(content)
	if err != nil {
		return story.Node{}, fmt.Errorf("create node: %w", err)
	}

	ts := marshalTime(now)
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO nodes (title, content, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, title, contentJSON, ts, ts)
	if err != nil {
		return story.Node{}, fmt.Errorf("create node: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return story.Node{}, fmt.Errorf("create node: last insert id: %w", err)
	}

	return story.Node{
		ID:        id,
		Title:     title,
		Content:   content,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}, nil
}

// GetNode retrieves a node by id. Returns sql.ErrNoRows if not found.
func (t *Tx) GetNode(ctx context.Context, id int64) (story.Node, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT id, title, content, created_at, updated_at
		FROM nodes
		WHERE id = ?
	`, id)
	return scanNode(row)
}

// NodeExists reports whether a node id references an existing node.
func (t *Tx) NodeExists(ctx context.Context, id int64) (bool, error) {
	var one int
	err := t.q.QueryRowContext(ctx, `SELECT 1 FROM nodes WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("node exists: %w", err)
	}
	return true, nil
}

// ListNodes returns all nodes ordered by id.
func (t *Tx) ListNodes(ctx context.Context) ([]story.Node, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT id, title, content, created_at, updated_at
		FROM nodes
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	nodes := []story.Node{}
	for rows.Next() {
		n, err := scanNodeRows(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return nodes, nil
}

// EdgeParams carries the authorable fields of an edge.
type EdgeParams struct {
	FromNodeID int64
	ToNodeID   int64
	Label      string
	Condition  expr.Condition
	Effect     expr.Effect
	Aliases    []string
}

// CreateEdge inserts an edge. Returns ErrLabelExists when another edge
// from the same node already carries the label (case-insensitive).
func (t *Tx) CreateEdge(ctx context.Context, now time.Time, p EdgeParams) (story.Edge, error) {
	taken, err := t.labelTaken(ctx, p.FromNodeID, p.Label, 0)
	if err != nil {
		return story.Edge{}, fmt.Errorf("create edge: %w", err)
	}
	if taken {
		return story.Edge{}, ErrLabelExists
	}

	condJSON, err := marshalCondition(p.Condition)
	if err != nil {
		return story.Edge{}, fmt.Errorf("create edge: %w", err)
	}
	effJSON, err := marshalEffect(p.Effect)
	if err != nil {
		return story.Edge{}, fmt.Errorf("create edge: %w", err)
	}
	aliasJSON, err := marshalAliases(p.Aliases)
	if err != nil {
		return story.Edge{}, fmt.Errorf("create edge: %w", err)
	}

	ts := marshalTime(now)
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO edges (from_node_id, to_node_id, label, label_fold, condition, effect, aliases, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.FromNodeID, p.ToNodeID, p.Label, foldLabel(p.Label), condJSON, effJSON, aliasJSON, ts, ts)
	if err != nil {
		return story.Edge{}, fmt.Errorf("create edge: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return story.Edge{}, fmt.Errorf("create edge: last insert id: %w", err)
	}

	return story.Edge{
		ID:         id,
		FromNodeID: p.FromNodeID,
		ToNodeID:   p.ToNodeID,
		Label:      p.Label,
		Condition:  p.Condition,
		Effect:     p.Effect,
		Aliases:    p.Aliases,
		CreatedAt:  now.UTC(),
		UpdatedAt:  now.UTC(),
	}, nil
}

// GetEdge retrieves an edge by id. Returns sql.ErrNoRows if not found.
func (t *Tx) GetEdge(ctx context.Context, id int64) (story.Edge, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT id, from_node_id, to_node_id, label, condition, effect, aliases, created_at, updated_at
		FROM edges
		WHERE id = ?
	`, id)
	return scanEdge(row)
}

// EdgesFrom returns all edges leaving a node in edge-id ascending
// order. This ordering is a contract: clients and vote eligibility
// both rely on it being stable.
func (t *Tx) EdgesFrom(ctx context.Context, nodeID int64) ([]story.Edge, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT id, from_node_id, to_node_id, label, condition, effect, aliases, created_at, updated_at
		FROM edges
		WHERE from_node_id = ?
		ORDER BY id ASC
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("query edges from node: %w", err)
	}
	defer rows.Close()
	return collectEdges(rows)
}

// ListEdges returns all edges ordered by id.
func (t *Tx) ListEdges(ctx context.Context) ([]story.Edge, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT id, from_node_id, to_node_id, label, condition, effect, aliases, created_at, updated_at
		FROM edges
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()
	return collectEdges(rows)
}

// UpdateEdge overwrites an edge's authorable fields. The label
// uniqueness check excludes the edge itself so re-saving an unchanged
// label is not a conflict.
func (t *Tx) UpdateEdge(ctx context.Context, now time.Time, id int64, p EdgeParams) (story.Edge, error) {
	taken, err := t.labelTaken(ctx, p.FromNodeID, p.Label, id)
	if err != nil {
		return story.Edge{}, fmt.Errorf("update edge: %w", err)
	}
	if taken {
		return story.Edge{}, ErrLabelExists
	}

	condJSON, err := marshalCondition(p.Condition)
	if err != nil {
		return story.Edge{}, fmt.Errorf("update edge: %w", err)
	}
	effJSON, err := marshalEffect(p.Effect)
	if err != nil {
		return story.Edge{}, fmt.Errorf("update edge: %w", err)
	}
	aliasJSON, err := marshalAliases(p.Aliases)
	if err != nil {
		return story.Edge{}, fmt.Errorf("update edge: %w", err)
	}

	res, err := t.q.ExecContext(ctx, `
		UPDATE edges
		SET to_node_id = ?, label = ?, label_fold = ?, condition = ?, effect = ?, aliases = ?, updated_at = ?
		WHERE id = ?
	`, p.ToNodeID, p.Label, foldLabel(p.Label), condJSON, effJSON, aliasJSON, marshalTime(now), id)
	if err != nil {
		return story.Edge{}, fmt.Errorf("update edge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return story.Edge{}, fmt.Errorf("update edge: rows affected: %w", err)
	}
	if n == 0 {
		return story.Edge{}, sql.ErrNoRows
	}

	return t.GetEdge(ctx, id)
}

// DeleteEdge removes an edge. Returns sql.ErrNoRows if it never
// existed. Decisions referencing the edge cascade away with it.
func (t *Tx) DeleteEdge(ctx context.Context, id int64) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM edges WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete edge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete edge: rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// labelTaken checks the case-folded uniqueness invariant, excluding
// excludeID (0 to exclude nothing).
func (t *Tx) labelTaken(ctx context.Context, fromNodeID int64, label string, excludeID int64) (bool, error) {
	var one int
	err := t.q.QueryRowContext(ctx, `
		SELECT 1 FROM edges
		WHERE from_node_id = ? AND label_fold = ? AND id <> ?
	`, fromNodeID, foldLabel(label), excludeID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check label: %w", err)
	}
	return true, nil
}

func collectEdges(rows *sql.Rows) ([]story.Edge, error) {
	edges := []story.Edge{}
	for rows.Next() {
		e, err := scanEdgeRows(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edges: %w", err)
	}
	return edges, nil
}

func scanNode(row *sql.Row) (story.Node, error) {
	var n story.Node
	var content, createdAt, updatedAt string
	if err := row.Scan(&n.ID, &n.Title, &content, &createdAt, &updatedAt); err != nil {
		return story.Node{}, err
	}
	return finishNode(n, content, createdAt, updatedAt)
}

func scanNodeRows(rows *sql.Rows) (story.Node, error) {
	var n story.Node
	var content, createdAt, updatedAt string
	if err := rows.Scan(&n.ID, &n.Title, &content, &createdAt, &updatedAt); err != nil {
		return story.Node{}, fmt.Errorf("scan node: %w", err)
	}
	return finishNode(n, content, createdAt, updatedAt)
}

func finishNode(n story.Node, content, createdAt, updatedAt string) (story.Node, error) {
	doc, err := unmarshalDoc(content)
	if err != nil {
		return story.Node{}, err
	}
	n.Content = doc
	if n.CreatedAt, err = parseTime(createdAt); err != nil {
		return story.Node{}, err
	}
	if n.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return story.Node{}, err
	}
	return n, nil
}

func scanEdge(row *sql.Row) (story.Edge, error) {
	var e story.Edge
	var cond, eff, aliases, createdAt, updatedAt string
	if err := row.Scan(&e.ID, &e.FromNodeID, &e.ToNodeID, &e.Label, &cond, &eff, &aliases, &createdAt, &updatedAt); err != nil {
		return story.Edge{}, err
	}
	return finishEdge(e, cond, eff, aliases, createdAt, updatedAt)
}

func scanEdgeRows(rows *sql.Rows) (story.Edge, error) {
	var e story.Edge
	var cond, eff, aliases, createdAt, updatedAt string
	if err := rows.Scan(&e.ID, &e.FromNodeID, &e.ToNodeID, &e.Label, &cond, &eff, &aliases, &createdAt, &updatedAt); err != nil {
		return story.Edge{}, fmt.Errorf("scan edge: %w", err)
	}
	return finishEdge(e, cond, eff, aliases, createdAt, updatedAt)
}

func finishEdge(e story.Edge, cond, eff, aliases, createdAt, updatedAt string) (story.Edge, error) {
	var err error
	if e.Condition, err = unmarshalCondition(cond); err != nil {
		return story.Edge{}, err
	}
	if e.Effect, err = unmarshalEffect(eff); err != nil {
		return story.Edge{}, err
	}
	if e.Aliases, err = unmarshalAliases(aliases); err != nil {
		return story.Edge{}, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return story.Edge{}, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return story.Edge{}, err
	}
	return e, nil
}
