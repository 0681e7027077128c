package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/weave/internal/expr"
	"github.com/roach88/weave/internal/store"
	"github.com/roach88/weave/internal/story"
	"github.com/roach88/weave/internal/testutil"
)

// capturePublisher records published events for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *capturePublisher) Publish(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *capturePublisher) byType(typ EventType) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Event
	for _, ev := range p.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *capturePublisher, *testutil.DeterministicClock) {
	t.Helper()
	s := setupTestStore(t)
	clock := testutil.NewDeterministicClock(testBase, time.Second)
	pub := &capturePublisher{}
	e := New(s, WithTimeSource(clock), WithPublisher(pub))
	return e, pub, clock
}

// seedLinear builds start -> (edge "Go deeper") -> middle -> (edge
// "Reach the end") -> end and returns the created records.
func seedLinear(t *testing.T, e *Engine) (nodes []story.Node, edges []story.Edge) {
	t.Helper()
	ctx := context.Background()
	err := e.Store().WithTx(ctx, func(tx *store.Tx) error {
		start, err := tx.CreateNode(ctx, testBase, "Start", nil)
		if err != nil {
			return err
		}
		middle, err := tx.CreateNode(ctx, testBase, "Middle", nil)
		if err != nil {
			return err
		}
		end, err := tx.CreateNode(ctx, testBase, "End", nil)
		if err != nil {
			return err
		}
		e1, err := tx.CreateEdge(ctx, testBase, store.EdgeParams{
			FromNodeID: start.ID, ToNodeID: middle.ID, Label: "Go deeper",
			Effect: expr.Effect{Set: map[string]any{"depth": 1}},
		})
		if err != nil {
			return err
		}
		e2, err := tx.CreateEdge(ctx, testBase, store.EdgeParams{
			FromNodeID: middle.ID, ToNodeID: end.ID, Label: "Reach the end",
			Effect: expr.Effect{Add: map[string]float64{"depth": 1}},
		})
		if err != nil {
			return err
		}
		nodes = []story.Node{start, middle, end}
		edges = []story.Edge{e1, e2}
		return nil
	})
	require.NoError(t, err)
	return nodes, edges
}

func TestCreateSession_WithStartNode(t *testing.T) {
	e, pub, _ := newTestEngine(t)
	nodes, _ := seedLinear(t, e)
	ctx := context.Background()

	sess, err := e.CreateSession(ctx, &nodes[0].ID)
	require.NoError(t, err)
	require.NotNil(t, sess.CurrentNodeID)
	assert.Equal(t, nodes[0].ID, *sess.CurrentNodeID)
	assert.Equal(t, story.StatusRunning, sess.Status)

	created := pub.byType(EventSessionCreated)
	require.Len(t, created, 1)
	assert.Equal(t, sess.ID, created[0].SessionID)
}

func TestCreateSession_UnknownStartNode(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	bogus := int64(999)
	_, err := e.CreateSession(ctx, &bogus)
	assert.Equal(t, ErrCodeInvalidReference, CodeOf(err))
}

func TestCreateSession_NoStartNode(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	sess, err := e.CreateSession(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, sess.CurrentNodeID)

	// No position means no options.
	options, err := e.VisibleOptions(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, options)
}

func TestSetStart(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	sess, err := e.CreateSession(ctx, nil)
	require.NoError(t, err)

	node, err := e.SetStart(ctx, sess.ID, "Opening", map[string]any{"text": "Once upon a time"})
	require.NoError(t, err)
	assert.Equal(t, "Opening", node.Title)

	got, err := e.Store().GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CurrentNodeID)
	assert.Equal(t, node.ID, *got.CurrentNodeID)

	// Second start is rejected.
	_, err = e.SetStart(ctx, sess.ID, "Another opening", nil)
	assert.Equal(t, ErrCodeAlreadyStarted, CodeOf(err))
}

func TestVisibleOptions_ConditionGating(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	var start story.Node
	var gated story.Edge
	err := e.Store().WithTx(ctx, func(tx *store.Tx) error {
		var err error
		start, err = tx.CreateNode(ctx, testBase, "Start", nil)
		if err != nil {
			return err
		}
		target, err := tx.CreateNode(ctx, testBase, "Target", nil)
		if err != nil {
			return err
		}
		gated, err = tx.CreateEdge(ctx, testBase, store.EdgeParams{
			FromNodeID: start.ID, ToNodeID: target.ID, Label: "Secret passage",
			Condition: expr.Condition{Leaf: &expr.Predicate{Path: "flags.x", Exists: true}},
		})
		return err
	})
	require.NoError(t, err)

	sess, err := e.CreateSession(ctx, &start.ID)
	require.NoError(t, err)

	options, err := e.VisibleOptions(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, options, "gated edge should be hidden before flags.x exists")

	_, err = e.PatchState(ctx, sess.ID, expr.Effect{Set: map[string]any{"flags.x": true}})
	require.NoError(t, err)

	options, err = e.VisibleOptions(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, options, 1)
	assert.Equal(t, gated.ID, options[0].ID)
}

func TestApplyDecision(t *testing.T) {
	e, pub, _ := newTestEngine(t)
	nodes, edges := seedLinear(t, e)
	ctx := context.Background()

	sess, err := e.CreateSession(ctx, &nodes[0].ID)
	require.NoError(t, err)

	result, err := e.ApplyDecision(ctx, sess.ID, edges[0].ID)
	require.NoError(t, err)
	assert.Equal(t, nodes[1].ID, result.ToNodeID)
	assert.Equal(t, float64(1), asNumber(t, result.State["depth"]))

	got, err := e.Store().GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, nodes[1].ID, *got.CurrentNodeID)

	history, err := e.History(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Go deeper", history[0].EdgeLabel)
	assert.Equal(t, "Start", history[0].FromTitle)
	assert.Equal(t, "Middle", history[0].ToTitle)

	applied := pub.byType(EventDecisionApplied)
	require.Len(t, applied, 1)
}

func TestApplyDecision_EdgeNotFromCurrentNode(t *testing.T) {
	e, _, _ := newTestEngine(t)
	nodes, edges := seedLinear(t, e)
	ctx := context.Background()

	sess, err := e.CreateSession(ctx, &nodes[0].ID)
	require.NoError(t, err)

	// edges[1] leaves the middle node, not the start.
	_, err = e.ApplyDecision(ctx, sess.ID, edges[1].ID)
	assert.Equal(t, ErrCodeEdgeNotFromCurrentNode, CodeOf(err))

	// Failed decision leaves no trace.
	history, err := e.History(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestApplyDecision_UnknownEdge(t *testing.T) {
	e, _, _ := newTestEngine(t)
	nodes, _ := seedLinear(t, e)
	ctx := context.Background()

	sess, err := e.CreateSession(ctx, &nodes[0].ID)
	require.NoError(t, err)

	_, err = e.ApplyDecision(ctx, sess.ID, 999)
	assert.Equal(t, ErrCodeEdgeNotFound, CodeOf(err))
}

func TestApplyDecision_NoCurrentNode(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, edges := seedLinear(t, e)
	ctx := context.Background()

	sess, err := e.CreateSession(ctx, nil)
	require.NoError(t, err)

	_, err = e.ApplyDecision(ctx, sess.ID, edges[0].ID)
	assert.Equal(t, ErrCodeNoCurrentNode, CodeOf(err))
}

func TestJump(t *testing.T) {
	e, pub, _ := newTestEngine(t)
	nodes, _ := seedLinear(t, e)
	ctx := context.Background()

	sess, err := e.CreateSession(ctx, &nodes[0].ID)
	require.NoError(t, err)
	_, err = e.PatchState(ctx, sess.ID, expr.Effect{Set: map[string]any{"gold": 3}})
	require.NoError(t, err)

	require.NoError(t, e.Jump(ctx, sess.ID, nodes[2].ID))

	got, err := e.Store().GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, nodes[2].ID, *got.CurrentNodeID)
	// Jump records no decision and leaves state alone.
	assert.Equal(t, float64(3), asNumber(t, got.State["gold"]))
	history, err := e.History(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	require.Len(t, pub.byType(EventJumpApplied), 1)

	err = e.Jump(ctx, sess.ID, 999)
	assert.Equal(t, ErrCodeInvalidReference, CodeOf(err))
}

func TestPatchState_MergesEffectIntoDocument(t *testing.T) {
	e, pub, _ := newTestEngine(t)
	nodes, _ := seedLinear(t, e)
	ctx := context.Background()

	sess, err := e.CreateSession(ctx, &nodes[0].ID)
	require.NoError(t, err)

	_, err = e.PatchState(ctx, sess.ID, expr.Effect{
		Set: map[string]any{"hero.name": "Kaa", "stale": true},
	})
	require.NoError(t, err)

	next, err := e.PatchState(ctx, sess.ID, expr.Effect{
		Add:    map[string]float64{"hero.hp": 5},
		Toggle: []string{"lantern"},
		Push:   map[string]any{"inventory": "torch"},
		Remove: []string{"stale"},
	})
	require.NoError(t, err)

	hero := next["hero"].(map[string]any)
	assert.Equal(t, "Kaa", hero["name"])
	assert.Equal(t, float64(5), asNumber(t, hero["hp"]))
	assert.Equal(t, true, next["lantern"])
	assert.Equal(t, []any{"torch"}, next["inventory"])
	_, hasStale := next["stale"]
	assert.False(t, hasStale)

	got, err := e.Store().GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, nodes[0].ID, *got.CurrentNodeID)

	assert.Len(t, pub.byType(EventStateUpdated), 2)
}

func TestReplaceState(t *testing.T) {
	e, _, _ := newTestEngine(t)
	nodes, _ := seedLinear(t, e)
	ctx := context.Background()

	sess, err := e.CreateSession(ctx, &nodes[0].ID)
	require.NoError(t, err)
	_, err = e.PatchState(ctx, sess.ID, expr.Effect{Set: map[string]any{"old": true}})
	require.NoError(t, err)

	next, err := e.ReplaceState(ctx, sess.ID, expr.Doc{"fresh": true})
	require.NoError(t, err)
	assert.Equal(t, true, next["fresh"])
	_, hasOld := next["old"]
	assert.False(t, hasOld)
}

func TestEnd(t *testing.T) {
	e, pub, _ := newTestEngine(t)
	ctx := context.Background()

	sess, err := e.CreateSession(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, e.End(ctx, sess.ID))

	got, err := e.Store().GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, story.StatusEnded, got.Status)
	require.Len(t, pub.byType(EventSessionEnded), 1)

	err = e.End(ctx, 999)
	assert.Equal(t, ErrCodeNotFound, CodeOf(err))
}

func TestView(t *testing.T) {
	e, _, _ := newTestEngine(t)
	nodes, edges := seedLinear(t, e)
	ctx := context.Background()

	sess, err := e.CreateSession(ctx, &nodes[0].ID)
	require.NoError(t, err)

	view, err := e.View(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, view.Node)
	assert.Equal(t, "Start", view.Node.Title)
	require.Len(t, view.Options, 1)
	assert.Equal(t, edges[0].ID, view.Options[0].ID)
	assert.Nil(t, view.Vote)
}

// asNumber normalizes the int/float ambiguity of values that have
// round-tripped through JSON.
func asNumber(t *testing.T, v any) float64 {
	t.Helper()
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		t.Fatalf("not a number: %T(%v)", v, v)
		return 0
	}
}
