package story

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/weave/internal/expr"
)

func TestVote_ResolveWinner_TieBreaksOnOptionOrder(t *testing.T) {
	v := Vote{
		Options: []int64{10, 11, 12},
		Tally:   map[string]int64{"10": 2, "11": 2, "12": 1},
	}

	winner := v.ResolveWinner()
	require.NotNil(t, winner)
	assert.Equal(t, int64(10), *winner)
}

func TestVote_ResolveWinner_AllZeroPicksFirstOption(t *testing.T) {
	v := Vote{
		Options: []int64{7, 8},
		Tally:   map[string]int64{"7": 0, "8": 0},
	}

	winner := v.ResolveWinner()
	require.NotNil(t, winner)
	assert.Equal(t, int64(7), *winner)
}

func TestVote_ResolveWinner_NoOptions(t *testing.T) {
	assert.Nil(t, Vote{}.ResolveWinner())
}

func TestVote_Expired(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v := Vote{Active: true, StartedAt: start, DurationSec: 30}

	assert.False(t, v.Expired(start.Add(29*time.Second)))
	assert.True(t, v.Expired(start.Add(30*time.Second)))

	// Votes without a duration never expire.
	open := Vote{Active: true, StartedAt: start}
	assert.False(t, open.Expired(start.Add(time.Hour)))

	// Closed votes never expire again.
	closed := Vote{Active: false, StartedAt: start, DurationSec: 1}
	assert.False(t, closed.Expired(start.Add(time.Hour)))
}

func TestVote_StateRoundTrip(t *testing.T) {
	doc := expr.Doc{"flags": map[string]any{"x": true}}
	v := Vote{
		Active:    true,
		NodeID:    3,
		Options:   []int64{10, 11},
		Tally:     map[string]int64{"10": 0, "11": 0},
		Voters:    map[string]int64{},
		StartedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, WriteVote(doc, v))

	back, ok := VoteFromState(doc)
	require.True(t, ok)
	assert.Equal(t, v.Options, back.Options)
	assert.True(t, back.Active)
	assert.Equal(t, int64(3), back.NodeID)

	// Unrelated state untouched.
	_, ok = expr.Lookup(doc, "flags.x")
	assert.True(t, ok)
}

func TestVoteFromState_MissingVote(t *testing.T) {
	_, ok := VoteFromState(expr.Doc{})
	assert.False(t, ok)
}
