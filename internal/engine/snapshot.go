package engine

import (
	"context"
	"database/sql"
	"errors"

	"github.com/roach88/weave/internal/store"
	"github.com/roach88/weave/internal/story"
)

// Snapshot captures the session's current position and state under an
// optional label.
func (e *Engine) Snapshot(ctx context.Context, sessionID int64, label string) (story.Snapshot, error) {
	now := e.clock.Now()
	var snap story.Snapshot
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		sess, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return mapSessionErr(err, sessionID)
		}
		snap, err = tx.CreateSnapshot(ctx, now, sessionID, label, sess.CurrentNodeID, sess.State)
		return err
	})
	if err != nil {
		return story.Snapshot{}, err
	}
	e.log.Info("snapshot created", "session", sessionID, "snapshot", snap.ID)
	return snap, nil
}

// Snapshots lists a session's snapshots, newest first.
func (e *Engine) Snapshots(ctx context.Context, sessionID int64) ([]story.Snapshot, error) {
	if _, err := e.store.GetSession(ctx, sessionID); err != nil {
		return nil, mapSessionErr(err, sessionID)
	}
	return e.store.ListSnapshots(ctx, sessionID)
}

// Restore overwrites the session's position and state from a snapshot.
// History is left alone unless clearHistory is set; state and history
// may diverge intentionally.
func (e *Engine) Restore(ctx context.Context, sessionID, snapshotID int64, clearHistory bool) error {
	now := e.clock.Now()
	var restored story.Snapshot
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetSession(ctx, sessionID); err != nil {
			return mapSessionErr(err, sessionID)
		}

		snap, err := tx.GetSnapshot(ctx, snapshotID)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && snap.SessionID != sessionID) {
			return newError(ErrCodeSnapshotNotFound, sessionID, "snapshot %d not found", snapshotID)
		}
		if err != nil {
			return err
		}

		if err := tx.UpdateSession(ctx, now, sessionID, snap.CurrentNodeID, snap.State); err != nil {
			return err
		}
		if clearHistory {
			if err := tx.DeleteAllDecisions(ctx, sessionID); err != nil {
				return err
			}
		}
		restored = snap
		return nil
	})
	if err != nil {
		return err
	}

	e.publish(EventStateUpdated, sessionID, now, map[string]any{"state": restored.State})
	e.log.Info("snapshot restored", "session", sessionID, "snapshot", snapshotID, "clearHistory", clearHistory)
	return nil
}

// DeleteSnapshot removes a snapshot belonging to the session.
func (e *Engine) DeleteSnapshot(ctx context.Context, sessionID, snapshotID int64) error {
	return e.store.WithTx(ctx, func(tx *store.Tx) error {
		snap, err := tx.GetSnapshot(ctx, snapshotID)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && snap.SessionID != sessionID) {
			return newError(ErrCodeSnapshotNotFound, sessionID, "snapshot %d not found", snapshotID)
		}
		if err != nil {
			return err
		}
		return tx.DeleteSnapshot(ctx, snapshotID)
	})
}
