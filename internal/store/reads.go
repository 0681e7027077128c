package store

import (
	"context"

	"github.com/roach88/weave/internal/story"
)

// Read-only convenience methods on Store. Each delegates to the same
// implementation the transactional Tx exposes, over the plain
// connection. Mutations always go through WithTx.

func (s *Store) GetNode(ctx context.Context, id int64) (story.Node, error) {
	return s.reader().GetNode(ctx, id)
}

func (s *Store) ListNodes(ctx context.Context) ([]story.Node, error) {
	return s.reader().ListNodes(ctx)
}

func (s *Store) GetEdge(ctx context.Context, id int64) (story.Edge, error) {
	return s.reader().GetEdge(ctx, id)
}

func (s *Store) EdgesFrom(ctx context.Context, nodeID int64) ([]story.Edge, error) {
	return s.reader().EdgesFrom(ctx, nodeID)
}

func (s *Store) ListEdges(ctx context.Context) ([]story.Edge, error) {
	return s.reader().ListEdges(ctx)
}

func (s *Store) GetSession(ctx context.Context, id int64) (story.Session, error) {
	return s.reader().GetSession(ctx, id)
}

func (s *Store) ListSessions(ctx context.Context) ([]story.Session, error) {
	return s.reader().ListSessions(ctx)
}

func (s *Store) SessionsWithTimedVotes(ctx context.Context) ([]story.Session, error) {
	return s.reader().SessionsWithTimedVotes(ctx)
}

func (s *Store) Decisions(ctx context.Context, sessionID int64) ([]story.Decision, error) {
	return s.reader().Decisions(ctx, sessionID)
}

func (s *Store) DecisionHistory(ctx context.Context, sessionID int64) ([]story.DecisionDetail, error) {
	return s.reader().DecisionHistory(ctx, sessionID)
}

func (s *Store) GetSnapshot(ctx context.Context, id int64) (story.Snapshot, error) {
	return s.reader().GetSnapshot(ctx, id)
}

func (s *Store) ListSnapshots(ctx context.Context, sessionID int64) ([]story.Snapshot, error) {
	return s.reader().ListSnapshots(ctx, sessionID)
}

func (s *Store) ChatEvents(ctx context.Context, sessionID int64, limit int) ([]ChatEvent, error) {
	return s.reader().ChatEvents(ctx, sessionID, limit)
}
