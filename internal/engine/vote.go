package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/weave/internal/store"
	"github.com/roach88/weave/internal/story"
)

// StartVote opens a voting round over the session's visible options.
// Omitted options default to every visible edge; supplied ids must be
// a subset of the visible set. Only one vote may be active at a time.
func (e *Engine) StartVote(ctx context.Context, sessionID int64, optionIDs []int64, durationSec int64) (story.Vote, error) {
	now := e.clock.Now()
	var vote story.Vote
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		sess, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return mapSessionErr(err, sessionID)
		}
		if !sess.Started() {
			return newError(ErrCodeNoCurrentNode, sessionID, "session has no current node")
		}
		if prev, ok := story.VoteFromState(sess.State); ok && prev.Active {
			return newError(ErrCodeVoteAlreadyActive, sessionID, "a vote is already active")
		}

		edges, err := tx.EdgesFrom(ctx, *sess.CurrentNodeID)
		if err != nil {
			return err
		}
		visible := visibleEdges(edges, sess.State)

		allowed := make(map[int64]bool, len(visible))
		for _, edge := range visible {
			allowed[edge.ID] = true
		}
		if optionIDs == nil {
			optionIDs = make([]int64, 0, len(visible))
			for _, edge := range visible {
				optionIDs = append(optionIDs, edge.ID)
			}
		} else {
			for _, id := range optionIDs {
				if !allowed[id] {
					return newError(ErrCodeOptionsInvalid, sessionID,
						"edge %d is not a visible option of node %d", id, *sess.CurrentNodeID)
				}
			}
		}

		tally := make(map[string]int64, len(optionIDs))
		for _, id := range optionIDs {
			tally[fmt.Sprintf("%d", id)] = 0
		}
		vote = story.Vote{
			Active:      true,
			NodeID:      *sess.CurrentNodeID,
			Options:     optionIDs,
			Tally:       tally,
			Voters:      map[string]int64{},
			StartedAt:   now.UTC(),
			DurationSec: durationSec,
		}

		if err := story.WriteVote(sess.State, vote); err != nil {
			return err
		}
		return tx.UpdateSession(ctx, now, sessionID, sess.CurrentNodeID, sess.State)
	})
	if err != nil {
		return story.Vote{}, err
	}

	e.publish(EventVoteStarted, sessionID, now, map[string]any{
		"options":     vote.Options,
		"startedAt":   vote.StartedAt,
		"durationSec": vote.DurationSec,
	})
	e.log.Info("vote started", "session", sessionID, "options", len(vote.Options), "durationSec", durationSec)
	return vote, nil
}

// CastVote records one ballot. A non-empty voterID gets
// at-most-one-vote semantics: switching edges moves the prior ballot
// (decrement, floor zero, then increment); repeating the same edge is
// a no-op. Anonymous ballots always increment.
func (e *Engine) CastVote(ctx context.Context, sessionID, edgeID int64, voterID string) (story.Vote, error) {
	now := e.clock.Now()
	var vote story.Vote
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		sess, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return mapSessionErr(err, sessionID)
		}
		v, ok := story.VoteFromState(sess.State)
		if !ok || !v.Active {
			return newError(ErrCodeNoActiveVote, sessionID, "no active vote")
		}

		inVote := false
		for _, id := range v.Options {
			if id == edgeID {
				inVote = true
				break
			}
		}
		if !inVote {
			return newError(ErrCodeEdgeNotInVote, sessionID, "edge %d is not part of the vote", edgeID)
		}

		key := fmt.Sprintf("%d", edgeID)
		if v.Voters == nil {
			v.Voters = map[string]int64{}
		}
		if voterID != "" {
			if prev, voted := v.Voters[voterID]; voted {
				if prev == edgeID {
					vote = v
					return nil
				}
				prevKey := fmt.Sprintf("%d", prev)
				if v.Tally[prevKey] > 0 {
					v.Tally[prevKey]--
				}
			}
			v.Voters[voterID] = edgeID
		}
		v.Tally[key]++

		if err := story.WriteVote(sess.State, v); err != nil {
			return err
		}
		if err := tx.UpdateSession(ctx, now, sessionID, sess.CurrentNodeID, sess.State); err != nil {
			return err
		}
		vote = v
		return nil
	})
	if err != nil {
		return story.Vote{}, err
	}

	e.publish(EventVoteTally, sessionID, now, map[string]any{"tally": vote.Tally})
	return vote, nil
}

// GetVote returns the session's vote, which may be inactive. The
// second return is false when no vote has ever been started.
func (e *Engine) GetVote(ctx context.Context, sessionID int64) (story.Vote, bool, error) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return story.Vote{}, false, mapSessionErr(err, sessionID)
	}
	vote, ok := story.VoteFromState(sess.State)
	return vote, ok, nil
}

// CloseResult reports the outcome of a vote close.
type CloseResult struct {
	Winner  *int64          `json:"winner"`
	Applied *DecisionResult `json:"applied,omitempty"`
}

// CloseVote deactivates the vote and resolves the winner (highest
// tally, ties broken by stored option order). With apply set, the
// winning edge is taken as a decision in the same transaction. Closing
// an already-closed vote is a no-op that reports the stored winner, so
// the sweep and a concurrent manual close cannot double-apply.
func (e *Engine) CloseVote(ctx context.Context, sessionID int64, apply bool) (CloseResult, error) {
	now := e.clock.Now()
	var result CloseResult
	var closedNow bool
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		sess, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return mapSessionErr(err, sessionID)
		}
		v, ok := story.VoteFromState(sess.State)
		if !ok {
			return newError(ErrCodeNoActiveVote, sessionID, "no active vote")
		}
		if !v.Active {
			result = CloseResult{Winner: v.Winner}
			return nil
		}

		winner := v.ResolveWinner()
		ended := now.UTC()
		v.Active = false
		v.EndedAt = &ended
		v.Winner = winner
		if err := story.WriteVote(sess.State, v); err != nil {
			return err
		}
		if err := tx.UpdateSession(ctx, now, sessionID, sess.CurrentNodeID, sess.State); err != nil {
			return err
		}
		closedNow = true
		result = CloseResult{Winner: winner}

		if !apply || winner == nil {
			return nil
		}

		// The winning edge may have been deleted, or the session moved,
		// since the vote opened. Both degrade to close-without-apply.
		edge, err := tx.GetEdge(ctx, *winner)
		if errors.Is(err, sql.ErrNoRows) {
			e.log.Warn("vote winner vanished, closing without apply", "session", sessionID, "edge", *winner)
			return nil
		}
		if err != nil {
			return err
		}
		if sess.CurrentNodeID == nil || edge.FromNodeID != *sess.CurrentNodeID {
			e.log.Warn("vote winner no longer leaves current node, closing without apply",
				"session", sessionID, "edge", edge.ID)
			return nil
		}

		next := edge.Effect.Apply(sess.State)
		decision, err := tx.AppendDecision(ctx, now, sessionID, *sess.CurrentNodeID, edge.ID)
		if err != nil {
			return err
		}
		if err := tx.UpdateSession(ctx, now, sessionID, &edge.ToNodeID, next); err != nil {
			return err
		}
		result.Applied = &DecisionResult{Decision: decision, ToNodeID: edge.ToNodeID, State: next}
		return nil
	})
	if err != nil {
		return CloseResult{}, err
	}

	if closedNow {
		payload := map[string]any{"winner": result.Winner, "applied": result.Applied != nil}
		e.publish(EventVoteClosed, sessionID, now, payload)
		if result.Applied != nil {
			e.publish(EventDecisionApplied, sessionID, now, map[string]any{
				"toNodeId": result.Applied.ToNodeID,
				"edgeId":   *result.Winner,
			})
		}
		e.log.Info("vote closed", "session", sessionID, "applied", result.Applied != nil)
	}
	return result, nil
}
