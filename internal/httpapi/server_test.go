package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/weave/internal/engine"
	"github.com/roach88/weave/internal/ingest"
	"github.com/roach88/weave/internal/store"
	"github.com/roach88/weave/internal/testutil"
)

const testKey = "secret"

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type api struct {
	srv    *httptest.Server
	engine *engine.Engine
	store  *store.Store
	clock  *testutil.DeterministicClock

	forkID    int64
	leftEdge  int64
	rightEdge int64
}

// newAPI stands up the full stack over a fork graph: Fork with edges
// "Go left" (alias /left|links/) and "Go right".
func newAPI(t *testing.T) *api {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := testutil.NewDeterministicClock(testBase, time.Second)
	eng := engine.New(s, engine.WithTimeSource(clock))
	ing := ingest.NewService(eng, ingest.WithTimeSource(clock), ingest.WithCooldown(0))

	a := &api{engine: eng, store: s, clock: clock}
	ctx := context.Background()
	err = s.WithTx(ctx, func(tx *store.Tx) error {
		fork, err := tx.CreateNode(ctx, clock.Now(), "Fork", map[string]any{"text": "Choose."})
		if err != nil {
			return err
		}
		left, err := tx.CreateNode(ctx, clock.Now(), "Left path", nil)
		if err != nil {
			return err
		}
		right, err := tx.CreateNode(ctx, clock.Now(), "Right path", nil)
		if err != nil {
			return err
		}
		le, err := tx.CreateEdge(ctx, clock.Now(), store.EdgeParams{
			FromNodeID: fork.ID, ToNodeID: left.ID, Label: "Go left",
			Aliases: []string{"/left|links/"},
		})
		if err != nil {
			return err
		}
		re, err := tx.CreateEdge(ctx, clock.Now(), store.EdgeParams{
			FromNodeID: fork.ID, ToNodeID: right.ID, Label: "Go right",
		})
		if err != nil {
			return err
		}
		a.forkID, a.leftEdge, a.rightEdge = fork.ID, le.ID, re.ID
		return nil
	})
	require.NoError(t, err)

	server := NewServer(eng, Options{APIKey: testKey, Ingest: ing})
	a.srv = httptest.NewServer(server.Router())
	t.Cleanup(a.srv.Close)
	return a
}

// call issues an authenticated JSON request and decodes the response.
func (a *api) call(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

// newSession creates a session positioned at the fork.
func (a *api) newSession(t *testing.T) int64 {
	t.Helper()
	status, body := a.call(t, http.MethodPost, "/sessions", map[string]any{"startNodeId": a.forkID})
	require.Equal(t, http.StatusCreated, status)
	return int64(body["id"].(float64))
}

func (a *api) sessionPath(id int64, rest string) string {
	return fmt.Sprintf("/sessions/%d%s", id, rest)
}

func TestHealth_IsPublic(t *testing.T) {
	a := newAPI(t)
	resp, err := http.Get(a.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth(t *testing.T) {
	a := newAPI(t)

	resp, err := http.Post(a.srv.URL+"/sessions", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "missing key rejected")

	resp, err = http.Post(a.srv.URL+"/sessions?key="+testKey, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode, "query key accepted")
}

func TestSessionLifecycle(t *testing.T) {
	a := newAPI(t)
	id := a.newSession(t)

	status, view := a.call(t, http.MethodGet, a.sessionPath(id, "/"), nil)
	require.Equal(t, http.StatusOK, status)
	node := view["node"].(map[string]any)
	assert.Equal(t, "Fork", node["title"])
	assert.Len(t, view["options"], 2)

	status, result := a.call(t, http.MethodPost, a.sessionPath(id, "/decision"),
		map[string]any{"edgeId": a.leftEdge})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(a.leftEdge), result["decision"].(map[string]any)["chosenEdgeId"])

	status, history := a.call(t, http.MethodGet, a.sessionPath(id, "/history"), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, history["history"], 1)

	status, _ = a.call(t, http.MethodPost, a.sessionPath(id, "/end"), nil)
	require.Equal(t, http.StatusOK, status)

	status, errBody := a.call(t, http.MethodPost, a.sessionPath(id, "/decision"),
		map[string]any{"edgeId": a.rightEdge})
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "SESSION_ENDED", errBody["error"].(map[string]any)["code"])
}

func TestDecision_ErrorMapping(t *testing.T) {
	a := newAPI(t)
	id := a.newSession(t)

	status, body := a.call(t, http.MethodPost, a.sessionPath(id, "/decision"),
		map[string]any{"edgeId": 9999})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "EDGE_NOT_FOUND", body["error"].(map[string]any)["code"])

	status, body = a.call(t, http.MethodPost, "/sessions/424242/decision",
		map[string]any{"edgeId": a.leftEdge})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", body["error"].(map[string]any)["code"])
}

func TestRewind(t *testing.T) {
	a := newAPI(t)
	id := a.newSession(t)

	status, _ := a.call(t, http.MethodPost, a.sessionPath(id, "/decision"),
		map[string]any{"edgeId": a.leftEdge})
	require.Equal(t, http.StatusOK, status)

	status, result := a.call(t, http.MethodPost, a.sessionPath(id, "/rewind"),
		map[string]any{"steps": 1})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(a.forkID), result["newCurrentNodeId"])

	status, body := a.call(t, http.MethodPost, a.sessionPath(id, "/rewind"),
		map[string]any{"steps": 1})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "NOTHING_TO_REWIND", body["error"].(map[string]any)["code"])
}

func TestVoteOverHTTP(t *testing.T) {
	a := newAPI(t)
	id := a.newSession(t)

	status, vote := a.call(t, http.MethodPost, a.sessionPath(id, "/vote/start"),
		map[string]any{"durationSec": 30})
	require.Equal(t, http.StatusCreated, status)
	assert.Len(t, vote["options"], 2)

	status, _ = a.call(t, http.MethodPost, a.sessionPath(id, "/vote/cast"),
		map[string]any{"edgeId": a.rightEdge, "voterId": "alice"})
	require.Equal(t, http.StatusOK, status)

	status, got := a.call(t, http.MethodGet, a.sessionPath(id, "/vote"), nil)
	require.Equal(t, http.StatusOK, status)
	tally := got["vote"].(map[string]any)["tally"].(map[string]any)
	assert.Equal(t, float64(1), tally[fmt.Sprint(a.rightEdge)])

	status, closed := a.call(t, http.MethodPost, a.sessionPath(id, "/vote/close"),
		map[string]any{"apply": true})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(a.rightEdge), closed["winner"])
	require.NotNil(t, closed["applied"])

	// Second close is a no-op reporting the stored winner.
	status, closed = a.call(t, http.MethodPost, a.sessionPath(id, "/vote/close"),
		map[string]any{"apply": true})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(a.rightEdge), closed["winner"])
	assert.Nil(t, closed["applied"])
}

func TestStatePatchAndReplace(t *testing.T) {
	a := newAPI(t)
	id := a.newSession(t)

	status, body := a.call(t, http.MethodPatch, a.sessionPath(id, "/state"),
		map[string]any{"set": map[string]any{"flags.brave": true}, "add": map[string]any{"gold": 5}})
	require.Equal(t, http.StatusOK, status)
	state := body["state"].(map[string]any)
	assert.Equal(t, true, state["flags"].(map[string]any)["brave"])
	assert.Equal(t, float64(5), state["gold"])

	status, body = a.call(t, http.MethodPatch, a.sessionPath(id, "/state"),
		map[string]any{"state": map[string]any{"fresh": true}})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"fresh": true}, body["state"])

	status, _ = a.call(t, http.MethodPatch, a.sessionPath(id, "/state"), map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestExpandAndEdgePatch(t *testing.T) {
	a := newAPI(t)
	id := a.newSession(t)

	status, body := a.call(t, http.MethodPost, a.sessionPath(id, "/expand"), map[string]any{
		"edges": []map[string]any{
			{"label": "Climb the tree", "newNode": map[string]any{"title": "Treetop"}},
		},
	})
	require.Equal(t, http.StatusCreated, status)
	edges := body["edges"].([]any)
	require.Len(t, edges, 1)
	edgeID := int64(edges[0].(map[string]any)["id"].(float64))

	status, body = a.call(t, http.MethodPost, a.sessionPath(id, "/expand"), map[string]any{
		"edges": []map[string]any{
			{"label": "Wait here", "toNodeId": a.forkID},
		},
	})
	assert.Equal(t, http.StatusCreated, status)

	// Case-folded duplicate of "Go left".
	status, body = a.call(t, http.MethodPost, a.sessionPath(id, "/expand"), map[string]any{
		"edges": []map[string]any{
			{"label": "gO lEfT", "toNodeId": a.forkID},
		},
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "EDGE_CONFLICT", body["error"].(map[string]any)["code"])

	status, patched := a.call(t, http.MethodPatch, fmt.Sprintf("/edges/%d", edgeID),
		map[string]any{"label": "Climb higher"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Climb higher", patched["label"])

	status, _ = a.call(t, http.MethodDelete, fmt.Sprintf("/edges/%d", edgeID), nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = a.call(t, http.MethodDelete, fmt.Sprintf("/edges/%d", edgeID), nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSnapshotRoundTrip(t *testing.T) {
	a := newAPI(t)
	id := a.newSession(t)

	status, _ := a.call(t, http.MethodPatch, a.sessionPath(id, "/state"),
		map[string]any{"set": map[string]any{"chapter": 1}})
	require.Equal(t, http.StatusOK, status)

	status, snap := a.call(t, http.MethodPost, a.sessionPath(id, "/snapshot"),
		map[string]any{"label": "before the fight"})
	require.Equal(t, http.StatusCreated, status)
	snapID := int64(snap["id"].(float64))

	status, _ = a.call(t, http.MethodPatch, a.sessionPath(id, "/state"),
		map[string]any{"set": map[string]any{"chapter": 2}})
	require.Equal(t, http.StatusOK, status)

	status, view := a.call(t, http.MethodPost,
		a.sessionPath(id, fmt.Sprintf("/restore/%d", snapID)), map[string]any{})
	require.Equal(t, http.StatusOK, status)
	state := view["session"].(map[string]any)["state"].(map[string]any)
	assert.Equal(t, float64(1), state["chapter"])

	status, list := a.call(t, http.MethodGet, a.sessionPath(id, "/snapshots"), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, list["snapshots"], 1)

	status, _ = a.call(t, http.MethodDelete,
		a.sessionPath(id, fmt.Sprintf("/snapshots/%d", snapID)), nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, body := a.call(t, http.MethodPost,
		a.sessionPath(id, fmt.Sprintf("/restore/%d", snapID)), map[string]any{})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "SNAPSHOT_NOT_FOUND", body["error"].(map[string]any)["code"])
}

func TestGraphModes(t *testing.T) {
	a := newAPI(t)
	id := a.newSession(t)

	status, view := a.call(t, http.MethodGet, a.sessionPath(id, "/graph?mode=all"), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, view["nodes"], 3)

	status, view = a.call(t, http.MethodGet, a.sessionPath(id, "/graph"), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "visited", view["mode"])
	assert.Len(t, view["nodes"], 1, "only the current node before any decision")

	status, _ = a.call(t, http.MethodGet, a.sessionPath(id, "/graph?mode=bogus"), nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestIngestMessage(t *testing.T) {
	a := newAPI(t)
	id := a.newSession(t)

	status, _ := a.call(t, http.MethodPost, a.sessionPath(id, "/vote/start"), nil)
	require.Equal(t, http.StatusCreated, status)

	status, result := a.call(t, http.MethodPost, "/ingest/message", map[string]any{
		"sessionId": id, "platform": "twitch", "userId": "u1", "username": "alice", "message": "links",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "cast", result["status"])
	assert.Equal(t, float64(a.leftEdge), result["edgeId"])

	status, result = a.call(t, http.MethodPost, "/ingest/message", map[string]any{
		"sessionId": id, "platform": "twitch", "userId": "u2", "message": "no idea",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "unresolved", result["status"])

	status, _ = a.call(t, http.MethodPost, "/ingest/message", map[string]any{
		"platform": "twitch", "userId": "u1", "message": "links",
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAdminClearAndReset(t *testing.T) {
	a := newAPI(t)
	a.newSession(t)

	status, _ := a.call(t, http.MethodPost, "/admin/clear", nil)
	require.Equal(t, http.StatusOK, status)

	status, body := a.call(t, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["sessions"])

	status, _ = a.call(t, http.MethodPost, "/admin/reset", nil)
	require.Equal(t, http.StatusOK, status)

	status, view := a.call(t, http.MethodPost, "/sessions", nil)
	require.Equal(t, http.StatusCreated, status)
	assert.Nil(t, view["currentNodeId"], "graph is gone after reset")
}
