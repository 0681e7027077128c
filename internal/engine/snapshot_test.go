package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/weave/internal/expr"
)

func TestSnapshot_RestoreStateAndPosition(t *testing.T) {
	e, _, _ := newTestEngine(t)
	nodes, edges := seedLinear(t, e)
	ctx := context.Background()

	sess, err := e.CreateSession(ctx, &nodes[0].ID)
	require.NoError(t, err)
	_, err = e.PatchState(ctx, sess.ID, expr.Effect{Set: map[string]any{"gold": 7}})
	require.NoError(t, err)

	snap, err := e.Snapshot(ctx, sess.ID, "before the descent")
	require.NoError(t, err)
	assert.Equal(t, "before the descent", snap.Label)

	// Move on and mutate.
	_, err = e.ApplyDecision(ctx, sess.ID, edges[0].ID)
	require.NoError(t, err)
	_, err = e.PatchState(ctx, sess.ID, expr.Effect{Remove: []string{"gold"}})
	require.NoError(t, err)

	require.NoError(t, e.Restore(ctx, sess.ID, snap.ID, false))

	got, err := e.Store().GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, nodes[0].ID, *got.CurrentNodeID)
	assert.Equal(t, float64(7), asNumber(t, got.State["gold"]))

	// Restore without clearHistory leaves the ledger alone.
	history, err := e.History(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestSnapshot_RestoreClearHistory(t *testing.T) {
	e, _, _ := newTestEngine(t)
	nodes, edges := seedLinear(t, e)
	ctx := context.Background()

	sess, err := e.CreateSession(ctx, &nodes[0].ID)
	require.NoError(t, err)
	snap, err := e.Snapshot(ctx, sess.ID, "")
	require.NoError(t, err)
	_, err = e.ApplyDecision(ctx, sess.ID, edges[0].ID)
	require.NoError(t, err)

	require.NoError(t, e.Restore(ctx, sess.ID, snap.ID, true))

	history, err := e.History(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSnapshot_CrossSessionRestoreRejected(t *testing.T) {
	e, _, _ := newTestEngine(t)
	nodes, _ := seedLinear(t, e)
	ctx := context.Background()

	owner, err := e.CreateSession(ctx, &nodes[0].ID)
	require.NoError(t, err)
	other, err := e.CreateSession(ctx, &nodes[0].ID)
	require.NoError(t, err)

	snap, err := e.Snapshot(ctx, owner.ID, "mine")
	require.NoError(t, err)

	err = e.Restore(ctx, other.ID, snap.ID, false)
	assert.Equal(t, ErrCodeSnapshotNotFound, CodeOf(err))

	err = e.DeleteSnapshot(ctx, other.ID, snap.ID)
	assert.Equal(t, ErrCodeSnapshotNotFound, CodeOf(err))
}

func TestSnapshot_ListAndDelete(t *testing.T) {
	e, _, clock := newTestEngine(t)
	nodes, _ := seedLinear(t, e)
	ctx := context.Background()

	sess, err := e.CreateSession(ctx, &nodes[0].ID)
	require.NoError(t, err)

	older, err := e.Snapshot(ctx, sess.ID, "older")
	require.NoError(t, err)
	clock.Tick()
	newer, err := e.Snapshot(ctx, sess.ID, "newer")
	require.NoError(t, err)

	snaps, err := e.Snapshots(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, newer.ID, snaps[0].ID)

	require.NoError(t, e.DeleteSnapshot(ctx, sess.ID, older.ID))
	snaps, err = e.Snapshots(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}
