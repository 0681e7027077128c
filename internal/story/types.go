// Package story defines the persistent domain model of the narrative
// graph: nodes, edges, sessions, decisions, and snapshots, plus the
// ephemeral vote embedded in a session's state document.
package story

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/weave/internal/expr"
)

// Status is a session's lifecycle status.
type Status string

const (
	StatusRunning Status = "running"
	StatusEnded   Status = "ended"
)

// Node is a story beat with an opaque content document.
type Node struct {
	ID        int64          `json:"id"`
	Title     string         `json:"title"`
	Content   map[string]any `json:"content,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Edge is a labeled, conditionally visible transition between nodes.
// Labels are unique per source node, compared case-insensitively.
// Aliases map free-form chat text onto the edge for vote ingestion;
// entries wrapped in slashes ("/yes|yeah/") are regular expressions,
// all others match as case-insensitive literals.
type Edge struct {
	ID         int64          `json:"id"`
	FromNodeID int64          `json:"fromNodeId"`
	ToNodeID   int64          `json:"toNodeId"`
	Label      string         `json:"label"`
	Condition  expr.Condition `json:"condition,omitempty"`
	Effect     expr.Effect    `json:"effect,omitempty"`
	Aliases    []string       `json:"aliases,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// Session is one traversal thread through the graph. CurrentNodeID is
// nil until a start node has been chosen.
type Session struct {
	ID            int64     `json:"id"`
	CurrentNodeID *int64    `json:"currentNodeId"`
	State         expr.Doc  `json:"state"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Started reports whether the session has a current node.
func (s Session) Started() bool {
	return s.CurrentNodeID != nil
}

// Decision records one edge having been taken: the node occupied at
// decision time and the chosen edge. Append-only; deleted only by
// rewind, and then only as the most recent contiguous suffix.
type Decision struct {
	ID           int64     `json:"id"`
	SessionID    int64     `json:"sessionId"`
	NodeID       int64     `json:"nodeId"`
	ChosenEdgeID int64     `json:"chosenEdgeId"`
	CreatedAt    time.Time `json:"createdAt"`
}

// DecisionDetail is a decision joined with its edge and node titles,
// as served by the history listing.
type DecisionDetail struct {
	Decision
	FromTitle string `json:"fromTitle"`
	EdgeLabel string `json:"edgeLabel"`
	ToNodeID  int64  `json:"toNodeId"`
	ToTitle   string `json:"toTitle"`
}

// Snapshot is a named save-point of a session's position and state.
// Independent of decision history: restoring does not rewrite history
// unless the caller explicitly clears it.
type Snapshot struct {
	ID            int64     `json:"id"`
	SessionID     int64     `json:"sessionId"`
	Label         string    `json:"label,omitempty"`
	State         expr.Doc  `json:"state"`
	CurrentNodeID *int64    `json:"currentNodeId"`
	CreatedAt     time.Time `json:"createdAt"`
}

// VoteStateKey is the reserved key in a session's state document under
// which the ephemeral vote lives.
const VoteStateKey = "vote"

// Vote is an ephemeral collective-choice round over a node's visible
// edges. Tally is keyed by decimal edge id (the document is JSON).
// Closing deactivates the vote rather than deleting it; a new start
// simply overwrites a closed vote.
type Vote struct {
	Active      bool             `json:"active"`
	NodeID      int64            `json:"nodeId"`
	Options     []int64          `json:"options"`
	Tally       map[string]int64 `json:"tally"`
	Voters      map[string]int64 `json:"voters,omitempty"`
	StartedAt   time.Time        `json:"startedAt"`
	DurationSec int64            `json:"durationSec,omitempty"`
	EndedAt     *time.Time       `json:"endedAt,omitempty"`
	Winner      *int64           `json:"winner,omitempty"`
}

// Expired reports whether a time-bounded vote has run out at now.
// Votes without a duration never expire on their own.
func (v Vote) Expired(now time.Time) bool {
	if !v.Active || v.DurationSec <= 0 {
		return false
	}
	return !now.Before(v.StartedAt.Add(time.Duration(v.DurationSec) * time.Second))
}

// CountFor returns the tally for an edge id.
func (v Vote) CountFor(edgeID int64) int64 {
	return v.Tally[fmt.Sprintf("%d", edgeID)]
}

// ResolveWinner picks the edge with the highest tally, iterating the
// vote's stored option order so ties break on the first option seen.
// Returns nil when the vote has no options.
func (v Vote) ResolveWinner() *int64 {
	var winner *int64
	var best int64 = -1
	for _, edgeID := range v.Options {
		count := v.CountFor(edgeID)
		if count > best {
			id := edgeID
			winner = &id
			best = count
		}
	}
	return winner
}

// VoteFromState decodes the vote embedded in a state document.
// The second return is false when no vote has ever been started.
func VoteFromState(doc expr.Doc) (Vote, bool) {
	raw, ok := doc[VoteStateKey]
	if !ok {
		return Vote{}, false
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return Vote{}, false
	}
	var v Vote
	if err := json.Unmarshal(data, &v); err != nil {
		return Vote{}, false
	}
	return v, true
}

// WriteVote embeds a vote into a state document under the reserved
// key, replacing any previous vote. Mutates doc in place.
func WriteVote(doc expr.Doc, v Vote) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode vote: %w", err)
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("embed vote: %w", err)
	}
	doc[VoteStateKey] = tree
	return nil
}
