package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/weave/internal/story"
)

// createTestStore creates a fresh on-disk store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testTime returns a fixed base instant plus n seconds, so ordering in
// tests is explicit and reproducible.
func testTime(n int) time.Time {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return base.Add(time.Duration(n) * time.Second)
}

// mustNode inserts a node inside its own transaction.
func mustNode(t *testing.T, s *Store, title string) story.Node {
	t.Helper()
	var n story.Node
	err := s.WithTx(context.Background(), func(tx *Tx) error {
		var err error
		n, err = tx.CreateNode(context.Background(), testTime(0), title, nil)
		return err
	})
	if err != nil {
		t.Fatalf("CreateNode(%q) failed: %v", title, err)
	}
	return n
}

// mustEdge inserts an edge with no condition or effect.
func mustEdge(t *testing.T, s *Store, from, to int64, label string) story.Edge {
	t.Helper()
	var e story.Edge
	err := s.WithTx(context.Background(), func(tx *Tx) error {
		var err error
		e, err = tx.CreateEdge(context.Background(), testTime(0), EdgeParams{
			FromNodeID: from,
			ToNodeID:   to,
			Label:      label,
		})
		return err
	})
	if err != nil {
		t.Fatalf("CreateEdge(%q) failed: %v", label, err)
	}
	return e
}

// mustSession inserts a fresh unstarted session.
func mustSession(t *testing.T, s *Store) story.Session {
	t.Helper()
	var sess story.Session
	err := s.WithTx(context.Background(), func(tx *Tx) error {
		var err error
		sess, err = tx.CreateSession(context.Background(), testTime(0))
		return err
	})
	if err != nil {
		t.Fatalf("CreateSession() failed: %v", err)
	}
	return sess
}
