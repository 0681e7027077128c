package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/roach88/weave/internal/story"
)

// goldenEvent is the stable serialized form of a published event.
// Event IDs are random and excluded on purpose.
type goldenEvent struct {
	Type      EventType `json:"type"`
	SessionID int64     `json:"sessionId"`
	At        time.Time `json:"at"`
	Payload   any       `json:"payload,omitempty"`
}

type goldenTrace struct {
	Events  []goldenEvent `json:"events"`
	Session story.Session `json:"session"`
}

// TestScenario_VoteRoundTrip drives a full voting round end to end and
// compares the event trace plus the final session row against a golden
// file. The deterministic clock advances one second per operation so
// every timestamp in the trace is fixed.
//
// Regenerate with:
//
//	go test ./internal/engine -run TestScenario_VoteRoundTrip -update
func TestScenario_VoteRoundTrip(t *testing.T) {
	e, pub, clock := newTestEngine(t)
	sess, edges := seedFork(t, e)
	ctx := context.Background()

	clock.Tick()
	_, err := e.StartVote(ctx, sess.ID, nil, 30)
	require.NoError(t, err)

	clock.Tick()
	_, err = e.CastVote(ctx, sess.ID, edges[0].ID, "alice")
	require.NoError(t, err)

	clock.Tick()
	_, err = e.CastVote(ctx, sess.ID, edges[1].ID, "bob")
	require.NoError(t, err)

	clock.Tick()
	_, err = e.CastVote(ctx, sess.ID, edges[1].ID, "alice")
	require.NoError(t, err)

	clock.Tick()
	_, err = e.CloseVote(ctx, sess.ID, true)
	require.NoError(t, err)

	final, err := e.Store().GetSession(ctx, sess.ID)
	require.NoError(t, err)

	trace := goldenTrace{Session: final}
	for _, ev := range pub.events {
		trace.Events = append(trace.Events, goldenEvent{
			Type:      ev.Type,
			SessionID: ev.SessionID,
			At:        ev.At,
			Payload:   ev.Payload,
		})
	}

	data, err := json.MarshalIndent(trace, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "vote_round_trip", append(data, '\n'))
}
