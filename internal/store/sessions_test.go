package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/roach88/weave/internal/expr"
	"github.com/roach88/weave/internal/story"
)

func TestCreateSession_Defaults(t *testing.T) {
	s := createTestStore(t)

	sess := mustSession(t, s)
	if sess.CurrentNodeID != nil {
		t.Errorf("new session should have no current node, got %v", *sess.CurrentNodeID)
	}
	if sess.Status != story.StatusRunning {
		t.Errorf("Status = %q, want running", sess.Status)
	}
	if len(sess.State) != 0 {
		t.Errorf("State should start empty, got %v", sess.State)
	}
}

func TestUpdateSession_PositionAndState(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	n := mustNode(t, s, "Start")
	sess := mustSession(t, s)

	state := expr.Doc{"gold": float64(5), "keys": map[string]any{"cell": true}}
	err := s.WithTx(ctx, func(tx *Tx) error {
		return tx.UpdateSession(ctx, testTime(2), sess.ID, &n.ID, state)
	})
	if err != nil {
		t.Fatalf("UpdateSession() failed: %v", err)
	}

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession() failed: %v", err)
	}
	if got.CurrentNodeID == nil || *got.CurrentNodeID != n.ID {
		t.Errorf("CurrentNodeID = %v, want %d", got.CurrentNodeID, n.ID)
	}
	if got.State["gold"] != float64(5) {
		t.Errorf("State[gold] = %v, want 5", got.State["gold"])
	}
	keys, ok := got.State["keys"].(map[string]any)
	if !ok || keys["cell"] != true {
		t.Errorf("nested state did not round-trip: %v", got.State)
	}
	if !got.UpdatedAt.Equal(testTime(2)) {
		t.Errorf("UpdatedAt = %v, want injected clock value", got.UpdatedAt)
	}
}

func TestUpdateSession_NotFound(t *testing.T) {
	s := createTestStore(t)

	err := s.WithTx(context.Background(), func(tx *Tx) error {
		return tx.UpdateSession(context.Background(), testTime(0), 77, nil, expr.Doc{})
	})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("UpdateSession(missing) error = %v, want sql.ErrNoRows", err)
	}
}

func TestEndSession(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	sess := mustSession(t, s)
	err := s.WithTx(ctx, func(tx *Tx) error {
		return tx.EndSession(ctx, testTime(3), sess.ID)
	})
	if err != nil {
		t.Fatalf("EndSession() failed: %v", err)
	}

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession() failed: %v", err)
	}
	if got.Status != story.StatusEnded {
		t.Errorf("Status = %q, want ended", got.Status)
	}
}

func TestSessionsAtNode(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	n := mustNode(t, s, "Crossroads")
	other := mustNode(t, s, "Elsewhere")

	here := mustSession(t, s)
	away := mustSession(t, s)
	ended := mustSession(t, s)

	err := s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.UpdateSession(ctx, testTime(1), here.ID, &n.ID, expr.Doc{}); err != nil {
			return err
		}
		if err := tx.UpdateSession(ctx, testTime(1), away.ID, &other.ID, expr.Doc{}); err != nil {
			return err
		}
		if err := tx.UpdateSession(ctx, testTime(1), ended.ID, &n.ID, expr.Doc{}); err != nil {
			return err
		}
		return tx.EndSession(ctx, testTime(2), ended.ID)
	})
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	var at []story.Session
	err = s.WithTx(ctx, func(tx *Tx) error {
		var err error
		at, err = tx.SessionsAtNode(ctx, n.ID)
		return err
	})
	if err != nil {
		t.Fatalf("SessionsAtNode() failed: %v", err)
	}
	if len(at) != 1 || at[0].ID != here.ID {
		t.Errorf("SessionsAtNode() = %+v, want only the running session at the node", at)
	}
}

func TestSessionsWithTimedVotes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	n := mustNode(t, s, "Vote here")

	timed := mustSession(t, s)
	untimed := mustSession(t, s)
	closed := mustSession(t, s)

	stateFor := func(active bool, duration int64) expr.Doc {
		doc := expr.Doc{}
		vote := story.Vote{
			Active:      active,
			NodeID:      n.ID,
			Options:     []int64{1},
			Tally:       map[string]int64{"1": 0},
			StartedAt:   testTime(0),
			DurationSec: duration,
		}
		if err := story.WriteVote(doc, vote); err != nil {
			t.Fatalf("WriteVote() failed: %v", err)
		}
		return doc
	}

	err := s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.UpdateSession(ctx, testTime(1), timed.ID, &n.ID, stateFor(true, 30)); err != nil {
			return err
		}
		if err := tx.UpdateSession(ctx, testTime(1), untimed.ID, &n.ID, stateFor(true, 0)); err != nil {
			return err
		}
		return tx.UpdateSession(ctx, testTime(1), closed.ID, &n.ID, stateFor(false, 30))
	})
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	got, err := s.SessionsWithTimedVotes(ctx)
	if err != nil {
		t.Fatalf("SessionsWithTimedVotes() failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != timed.ID {
		t.Errorf("SessionsWithTimedVotes() = %+v, want only the active timed vote", got)
	}
}
