package engine

import (
	"context"

	"github.com/roach88/weave/internal/expr"
	"github.com/roach88/weave/internal/store"
)

// RewindResult reports where a rewind landed.
type RewindResult struct {
	Steps            int      `json:"steps"`
	NewCurrentNodeID int64    `json:"newCurrentNodeId"`
	State            expr.Doc `json:"state"`
}

// Rewind undoes the most recent steps decisions. The surviving prefix
// is replayed from an empty state document; effects are not inverted
// (they are not generally invertible). With nothing left to replay the
// session returns to the node of its very first decision.
func (e *Engine) Rewind(ctx context.Context, sessionID int64, steps int) (RewindResult, error) {
	now := e.clock.Now()
	var result RewindResult
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetSession(ctx, sessionID); err != nil {
			return mapSessionErr(err, sessionID)
		}

		replay, err := tx.ReplaySteps(ctx, sessionID)
		if err != nil {
			return err
		}
		if len(replay) == 0 {
			return newError(ErrCodeNothingToRewind, sessionID, "no decisions to rewind")
		}
		if steps < 1 || steps > len(replay) {
			return newError(ErrCodeStepsExceedHistory, sessionID,
				"cannot rewind %d steps, history has %d", steps, len(replay))
		}

		keep := replay[:len(replay)-steps]
		drop := replay[len(replay)-steps:]

		dropIDs := make([]int64, len(drop))
		for i, step := range drop {
			dropIDs[i] = step.Decision.ID
		}
		if err := tx.DeleteDecisions(ctx, dropIDs); err != nil {
			return err
		}

		state := expr.Doc{}
		for _, step := range keep {
			state = step.Effect.Apply(state)
		}

		var nodeID int64
		if len(keep) > 0 {
			nodeID = keep[len(keep)-1].ToNodeID
		} else {
			// Fully rewound: back to the traversal's start node.
			nodeID = replay[0].Decision.NodeID
		}
		if err := tx.UpdateSession(ctx, now, sessionID, &nodeID, state); err != nil {
			return err
		}

		result = RewindResult{Steps: steps, NewCurrentNodeID: nodeID, State: state}
		return nil
	})
	if err != nil {
		return RewindResult{}, err
	}

	e.publish(EventRewindApplied, sessionID, now, map[string]any{
		"steps":            steps,
		"newCurrentNodeId": result.NewCurrentNodeID,
	})
	e.log.Info("rewind applied", "session", sessionID, "steps", steps, "node", result.NewCurrentNodeID)
	return result, nil
}
