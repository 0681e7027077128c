package store

import (
	"context"
	"fmt"
)

// ClearSessions deletes all sessions and their dependent rows while
// leaving the authored graph intact. Explicit deletes rather than
// relying on cascades, so chat_events (no FK) go too.
func (t *Tx) ClearSessions(ctx context.Context) error {
	stmts := []string{
		`DELETE FROM chat_events`,
		`DELETE FROM decisions`,
		`DELETE FROM snapshots`,
		`DELETE FROM sessions`,
	}
	for _, stmt := range stmts {
		if _, err := t.q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear sessions: %w", err)
		}
	}
	return nil
}

// ResetAll wipes every table, graph included. The caller typically
// reseeds afterwards in the same transaction.
func (t *Tx) ResetAll(ctx context.Context) error {
	if err := t.ClearSessions(ctx); err != nil {
		return err
	}
	stmts := []string{
		`DELETE FROM edges`,
		`DELETE FROM nodes`,
		`DELETE FROM sqlite_sequence`,
	}
	for _, stmt := range stmts {
		if _, err := t.q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reset all: %w", err)
		}
	}
	return nil
}
