package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/roach88/weave/internal/expr"
	"github.com/roach88/weave/internal/store"
	"github.com/roach88/weave/internal/story"
)

// Engine orchestrates sessions over the narrative graph. All mutating
// operations run inside one store transaction; events are published
// only after commit.
type Engine struct {
	store *store.Store
	clock TimeSource
	pub   Publisher
	log   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeSource overrides the wall clock. Tests inject a
// deterministic source here.
func WithTimeSource(ts TimeSource) Option {
	return func(e *Engine) { e.clock = ts }
}

// WithPublisher sets the event sink.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.pub = p }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New creates an engine over the given store. Defaults: system clock,
// no-op publisher, default slog logger.
func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store: s,
		clock: SystemTime{},
		pub:   NopPublisher{},
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store exposes the underlying store for read-only callers (CLI
// listings, HTTP graph views).
func (e *Engine) Store() *store.Store {
	return e.store
}

// SessionView is the client-facing snapshot of a session: position,
// node content, currently visible options, state, and the embedded
// vote if one was ever started.
type SessionView struct {
	Session story.Session `json:"session"`
	Node    *story.Node   `json:"node,omitempty"`
	Options []story.Edge  `json:"options"`
	Vote    *story.Vote   `json:"vote,omitempty"`
}

// CreateSession creates a running session. A non-nil startNodeID must
// reference an existing node (INVALID_REFERENCE otherwise) and becomes
// the session's position immediately.
func (e *Engine) CreateSession(ctx context.Context, startNodeID *int64) (story.Session, error) {
	now := e.clock.Now()
	var sess story.Session
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		if startNodeID != nil {
			ok, err := tx.NodeExists(ctx, *startNodeID)
			if err != nil {
				return err
			}
			if !ok {
				return newError(ErrCodeInvalidReference, 0, "start node %d does not exist", *startNodeID)
			}
		}
		var err error
		sess, err = tx.CreateSession(ctx, now)
		if err != nil {
			return err
		}
		if startNodeID != nil {
			if err := tx.UpdateSession(ctx, now, sess.ID, startNodeID, sess.State); err != nil {
				return err
			}
			sess.CurrentNodeID = startNodeID
		}
		return nil
	})
	if err != nil {
		return story.Session{}, err
	}

	e.publish(EventSessionCreated, sess.ID, now, map[string]any{
		"startNodeId": startNodeID,
	})
	e.log.Info("session created", "session", sess.ID)
	return sess, nil
}

// View assembles the session snapshot served to clients.
func (e *Engine) View(ctx context.Context, sessionID int64) (SessionView, error) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return SessionView{}, mapSessionErr(err, sessionID)
	}

	view := SessionView{Session: sess, Options: []story.Edge{}}
	if sess.CurrentNodeID != nil {
		node, err := e.store.GetNode(ctx, *sess.CurrentNodeID)
		if err == nil {
			view.Node = &node
		} else if !errors.Is(err, sql.ErrNoRows) {
			return SessionView{}, err
		}
		edges, err := e.store.EdgesFrom(ctx, *sess.CurrentNodeID)
		if err != nil {
			return SessionView{}, err
		}
		view.Options = visibleEdges(edges, sess.State)
	}
	if vote, ok := story.VoteFromState(sess.State); ok {
		view.Vote = &vote
	}
	return view, nil
}

// SetStart creates a node and binds it as the session's start. Valid
// only while the session has no position.
func (e *Engine) SetStart(ctx context.Context, sessionID int64, title string, content map[string]any) (story.Node, error) {
	now := e.clock.Now()
	var node story.Node
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		sess, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return mapSessionErr(err, sessionID)
		}
		if sess.Started() {
			return newError(ErrCodeAlreadyStarted, sessionID, "session already has a start node")
		}
		node, err = tx.CreateNode(ctx, now, title, content)
		if err != nil {
			return err
		}
		return tx.UpdateSession(ctx, now, sessionID, &node.ID, sess.State)
	})
	if err != nil {
		return story.Node{}, err
	}

	e.log.Info("session started", "session", sessionID, "node", node.ID)
	return node, nil
}

// VisibleOptions returns the edges leaving the session's current node
// whose conditions hold against its state, in edge-id ascending order.
// A session without a position has no options.
func (e *Engine) VisibleOptions(ctx context.Context, sessionID int64) ([]story.Edge, error) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, mapSessionErr(err, sessionID)
	}
	if !sess.Started() {
		return []story.Edge{}, nil
	}
	edges, err := e.store.EdgesFrom(ctx, *sess.CurrentNodeID)
	if err != nil {
		return nil, err
	}
	return visibleEdges(edges, sess.State), nil
}

// DecisionResult reports the outcome of an applied decision.
type DecisionResult struct {
	Decision story.Decision `json:"decision"`
	ToNodeID int64          `json:"toNodeId"`
	State    expr.Doc       `json:"state"`
}

// ApplyDecision takes an edge from the session's current node: applies
// its effect, appends a decision, and moves the session, atomically.
func (e *Engine) ApplyDecision(ctx context.Context, sessionID, edgeID int64) (DecisionResult, error) {
	now := e.clock.Now()
	var result DecisionResult
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		sess, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return mapSessionErr(err, sessionID)
		}
		if !sess.Started() {
			return newError(ErrCodeNoCurrentNode, sessionID, "session has no current node")
		}

		edge, err := tx.GetEdge(ctx, edgeID)
		if errors.Is(err, sql.ErrNoRows) {
			return newError(ErrCodeEdgeNotFound, sessionID, "edge %d not found", edgeID)
		}
		if err != nil {
			return err
		}
		if edge.FromNodeID != *sess.CurrentNodeID {
			return newError(ErrCodeEdgeNotFromCurrentNode, sessionID,
				"edge %d leaves node %d, session is at node %d", edgeID, edge.FromNodeID, *sess.CurrentNodeID)
		}

		next := edge.Effect.Apply(sess.State)
		decision, err := tx.AppendDecision(ctx, now, sessionID, *sess.CurrentNodeID, edgeID)
		if err != nil {
			return err
		}
		if err := tx.UpdateSession(ctx, now, sessionID, &edge.ToNodeID, next); err != nil {
			return err
		}

		result = DecisionResult{Decision: decision, ToNodeID: edge.ToNodeID, State: next}
		return nil
	})
	if err != nil {
		return DecisionResult{}, err
	}

	e.publish(EventDecisionApplied, sessionID, now, map[string]any{
		"toNodeId": result.ToNodeID,
		"edgeId":   edgeID,
	})
	e.log.Info("decision applied", "session", sessionID, "edge", edgeID, "to", result.ToNodeID)
	return result, nil
}

// Jump relocates a session without recording a decision or touching
// state. Authoring escape hatch, not normal traversal.
func (e *Engine) Jump(ctx context.Context, sessionID, toNodeID int64) error {
	now := e.clock.Now()
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		sess, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return mapSessionErr(err, sessionID)
		}
		ok, err := tx.NodeExists(ctx, toNodeID)
		if err != nil {
			return err
		}
		if !ok {
			return newError(ErrCodeInvalidReference, sessionID, "node %d does not exist", toNodeID)
		}
		return tx.UpdateSession(ctx, now, sessionID, &toNodeID, sess.State)
	})
	if err != nil {
		return err
	}

	e.publish(EventJumpApplied, sessionID, now, map[string]any{"toNodeId": toNodeID})
	e.log.Info("jump applied", "session", sessionID, "to", toNodeID)
	return nil
}

// PatchState merges an effect into the session's state document
// out-of-band. Position is untouched.
func (e *Engine) PatchState(ctx context.Context, sessionID int64, effect expr.Effect) (expr.Doc, error) {
	now := e.clock.Now()
	var next expr.Doc
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		sess, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return mapSessionErr(err, sessionID)
		}
		next = effect.Apply(sess.State)
		return tx.UpdateSession(ctx, now, sessionID, sess.CurrentNodeID, next)
	})
	if err != nil {
		return nil, err
	}

	e.publish(EventStateUpdated, sessionID, now, map[string]any{"state": next})
	return next, nil
}

// ReplaceState swaps the entire state document.
func (e *Engine) ReplaceState(ctx context.Context, sessionID int64, state expr.Doc) (expr.Doc, error) {
	now := e.clock.Now()
	if state == nil {
		state = expr.Doc{}
	}
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		sess, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return mapSessionErr(err, sessionID)
		}
		return tx.UpdateSession(ctx, now, sessionID, sess.CurrentNodeID, state)
	})
	if err != nil {
		return nil, err
	}

	e.publish(EventStateUpdated, sessionID, now, map[string]any{"state": state})
	return state, nil
}

// End marks the session ended. Ended sessions accept no further
// decisions by convention; the HTTP layer enforces that, not the data
// layer.
func (e *Engine) End(ctx context.Context, sessionID int64) error {
	now := e.clock.Now()
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.EndSession(ctx, now, sessionID); err != nil {
			return mapSessionErr(err, sessionID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.publish(EventSessionEnded, sessionID, now, map[string]any{})
	e.log.Info("session ended", "session", sessionID)
	return nil
}

// History returns the session's decisions joined with titles, in
// replay order.
func (e *Engine) History(ctx context.Context, sessionID int64) ([]story.DecisionDetail, error) {
	if _, err := e.store.GetSession(ctx, sessionID); err != nil {
		return nil, mapSessionErr(err, sessionID)
	}
	return e.store.DecisionHistory(ctx, sessionID)
}

// visibleEdges filters edges by their conditions against state,
// preserving input order.
func visibleEdges(edges []story.Edge, state expr.Doc) []story.Edge {
	visible := []story.Edge{}
	for _, edge := range edges {
		if edge.Condition.Eval(state) {
			visible = append(visible, edge)
		}
	}
	return visible
}

// mapSessionErr converts the store's not-found sentinel into the
// engine taxonomy.
func mapSessionErr(err error, sessionID int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("session", sessionID)
	}
	return err
}
