package engine

import (
	"context"
	"database/sql"
	"errors"

	"github.com/roach88/weave/internal/expr"
	"github.com/roach88/weave/internal/store"
	"github.com/roach88/weave/internal/story"
)

// ExpandEdge describes one edge to grow from a session's current node.
// Exactly one of NewNode and ToNodeID must be set.
type ExpandEdge struct {
	Label     string         `json:"label"`
	NewNode   *NewNode       `json:"newNode,omitempty"`
	ToNodeID  *int64         `json:"toNodeId,omitempty"`
	Condition expr.Condition `json:"condition,omitempty"`
	Effect    expr.Effect    `json:"effect,omitempty"`
	Aliases   []string       `json:"aliases,omitempty"`
}

// NewNode is an inline node definition used by expansion.
type NewNode struct {
	Title   string         `json:"title"`
	Content map[string]any `json:"content,omitempty"`
}

// Expand grows the graph from the session's current node: for each
// spec, either creates the target node inline or links an existing
// one. All-or-nothing; a label conflict or bad reference rolls back
// every addition.
func (e *Engine) Expand(ctx context.Context, sessionID int64, specs []ExpandEdge) ([]story.Edge, error) {
	now := e.clock.Now()
	var added []story.Edge
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		sess, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return mapSessionErr(err, sessionID)
		}
		if !sess.Started() {
			return newError(ErrCodeNoCurrentNode, sessionID, "session has no current node")
		}
		from := *sess.CurrentNodeID

		for _, spec := range specs {
			var toNodeID int64
			switch {
			case spec.NewNode != nil && spec.ToNodeID != nil,
				spec.NewNode == nil && spec.ToNodeID == nil:
				return newError(ErrCodeInvalidReference, sessionID,
					"edge %q must name exactly one of newNode or toNodeId", spec.Label)
			case spec.NewNode != nil:
				node, err := tx.CreateNode(ctx, now, spec.NewNode.Title, spec.NewNode.Content)
				if err != nil {
					return err
				}
				toNodeID = node.ID
			default:
				ok, err := tx.NodeExists(ctx, *spec.ToNodeID)
				if err != nil {
					return err
				}
				if !ok {
					return newError(ErrCodeInvalidReference, sessionID, "node %d does not exist", *spec.ToNodeID)
				}
				toNodeID = *spec.ToNodeID
			}

			edge, err := tx.CreateEdge(ctx, now, store.EdgeParams{
				FromNodeID: from,
				ToNodeID:   toNodeID,
				Label:      spec.Label,
				Condition:  spec.Condition,
				Effect:     spec.Effect,
				Aliases:    spec.Aliases,
			})
			if errors.Is(err, store.ErrLabelExists) {
				return newError(ErrCodeEdgeConflict, sessionID,
					"label %q already exists on node %d", spec.Label, from)
			}
			if err != nil {
				return err
			}
			added = append(added, edge)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, edge := range added {
		e.publish(EventOptionAdded, sessionID, now, map[string]any{
			"edgeId":   edge.ID,
			"label":    edge.Label,
			"toNodeId": edge.ToNodeID,
		})
	}
	e.log.Info("graph expanded", "session", sessionID, "edges", len(added))
	return added, nil
}

// AddOption creates one new node and an edge to it from the session's
// current node. Convenience form of Expand.
func (e *Engine) AddOption(ctx context.Context, sessionID int64, label, nodeTitle string, nodeContent map[string]any) (story.Edge, story.Node, error) {
	edges, err := e.Expand(ctx, sessionID, []ExpandEdge{{
		Label:   label,
		NewNode: &NewNode{Title: nodeTitle, Content: nodeContent},
	}})
	if err != nil {
		return story.Edge{}, story.Node{}, err
	}
	edge := edges[0]
	node, err := e.store.GetNode(ctx, edge.ToNodeID)
	if err != nil {
		return story.Edge{}, story.Node{}, err
	}
	return edge, node, nil
}

// EdgePatch carries the mutable edge fields for UpdateEdge. Nil fields
// are left unchanged.
type EdgePatch struct {
	Label     *string         `json:"label,omitempty"`
	ToNodeID  *int64          `json:"toNodeId,omitempty"`
	Condition *expr.Condition `json:"condition,omitempty"`
	Effect    *expr.Effect    `json:"effect,omitempty"`
	Aliases   *[]string       `json:"aliases,omitempty"`
}

// UpdateEdge edits an edge's label, target, condition, effect, or
// aliases. Sessions currently positioned at the edge's source node get
// an edge/updated event.
func (e *Engine) UpdateEdge(ctx context.Context, edgeID int64, patch EdgePatch) (story.Edge, error) {
	now := e.clock.Now()
	var updated story.Edge
	var atSource []story.Session
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		edge, err := tx.GetEdge(ctx, edgeID)
		if errors.Is(err, sql.ErrNoRows) {
			return newError(ErrCodeEdgeNotFound, 0, "edge %d not found", edgeID)
		}
		if err != nil {
			return err
		}

		params := store.EdgeParams{
			FromNodeID: edge.FromNodeID,
			ToNodeID:   edge.ToNodeID,
			Label:      edge.Label,
			Condition:  edge.Condition,
			Effect:     edge.Effect,
			Aliases:    edge.Aliases,
		}
		if patch.Label != nil {
			params.Label = *patch.Label
		}
		if patch.ToNodeID != nil {
			ok, err := tx.NodeExists(ctx, *patch.ToNodeID)
			if err != nil {
				return err
			}
			if !ok {
				return newError(ErrCodeInvalidReference, 0, "node %d does not exist", *patch.ToNodeID)
			}
			params.ToNodeID = *patch.ToNodeID
		}
		if patch.Condition != nil {
			params.Condition = *patch.Condition
		}
		if patch.Effect != nil {
			params.Effect = *patch.Effect
		}
		if patch.Aliases != nil {
			params.Aliases = *patch.Aliases
		}

		updated, err = tx.UpdateEdge(ctx, now, edgeID, params)
		if errors.Is(err, store.ErrLabelExists) {
			return newError(ErrCodeEdgeConflict, 0,
				"label %q already exists on node %d", params.Label, edge.FromNodeID)
		}
		if err != nil {
			return err
		}

		atSource, err = tx.SessionsAtNode(ctx, edge.FromNodeID)
		return err
	})
	if err != nil {
		return story.Edge{}, err
	}

	for _, sess := range atSource {
		e.publish(EventEdgeUpdated, sess.ID, now, map[string]any{"edgeId": edgeID})
	}
	return updated, nil
}

// DeleteEdge removes an edge. Sessions at its source node are
// notified; active votes referencing the edge degrade gracefully at
// close time rather than being rewritten here.
func (e *Engine) DeleteEdge(ctx context.Context, edgeID int64) error {
	now := e.clock.Now()
	var atSource []story.Session
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		edge, err := tx.GetEdge(ctx, edgeID)
		if errors.Is(err, sql.ErrNoRows) {
			return newError(ErrCodeEdgeNotFound, 0, "edge %d not found", edgeID)
		}
		if err != nil {
			return err
		}
		atSource, err = tx.SessionsAtNode(ctx, edge.FromNodeID)
		if err != nil {
			return err
		}
		return tx.DeleteEdge(ctx, edgeID)
	})
	if err != nil {
		return err
	}

	for _, sess := range atSource {
		e.publish(EventEdgeUpdated, sess.ID, now, map[string]any{"edgeId": edgeID, "deleted": true})
	}
	e.log.Info("edge deleted", "edge", edgeID)
	return nil
}

// GraphMode selects the graph view shape.
type GraphMode string

const (
	GraphModeAll     GraphMode = "all"
	GraphModeVisited GraphMode = "visited"
)

// GraphView is a session-scoped rendering of the graph.
type GraphView struct {
	SessionID      int64        `json:"sessionId"`
	Mode           GraphMode    `json:"mode"`
	CurrentNodeID  *int64       `json:"currentNodeId"`
	VisitedNodeIDs []int64      `json:"visitedNodeIds"`
	Nodes          []story.Node `json:"nodes"`
	Edges          []story.Edge `json:"edges"`
}

// Graph renders the whole graph (mode all, with visited ids marked) or
// only the subgraph the session has traversed (mode visited: decision
// endpoints plus the current node).
func (e *Engine) Graph(ctx context.Context, sessionID int64, mode GraphMode) (GraphView, error) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return GraphView{}, mapSessionErr(err, sessionID)
	}

	steps, err := e.store.Decisions(ctx, sessionID)
	if err != nil {
		return GraphView{}, err
	}

	visited := map[int64]bool{}
	visitedEdges := map[int64]bool{}
	for _, d := range steps {
		visited[d.NodeID] = true
		visitedEdges[d.ChosenEdgeID] = true
	}
	allEdges, err := e.store.ListEdges(ctx)
	if err != nil {
		return GraphView{}, err
	}
	for _, edge := range allEdges {
		if visitedEdges[edge.ID] {
			visited[edge.ToNodeID] = true
		}
	}
	if sess.CurrentNodeID != nil {
		visited[*sess.CurrentNodeID] = true
	}

	view := GraphView{
		SessionID:      sessionID,
		Mode:           mode,
		CurrentNodeID:  sess.CurrentNodeID,
		VisitedNodeIDs: []int64{},
		Nodes:          []story.Node{},
		Edges:          []story.Edge{},
	}

	allNodes, err := e.store.ListNodes(ctx)
	if err != nil {
		return GraphView{}, err
	}
	for _, node := range allNodes {
		if visited[node.ID] {
			view.VisitedNodeIDs = append(view.VisitedNodeIDs, node.ID)
		}
	}

	if mode == GraphModeVisited {
		for _, node := range allNodes {
			if visited[node.ID] {
				view.Nodes = append(view.Nodes, node)
			}
		}
		for _, edge := range allEdges {
			if visitedEdges[edge.ID] {
				view.Edges = append(view.Edges, edge)
			}
		}
		return view, nil
	}

	view.Nodes = allNodes
	view.Edges = allEdges
	return view, nil
}
