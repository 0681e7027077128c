package storypack

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/weave/internal/store"
)

// SeedResult maps pack node keys to their seeded database ids.
type SeedResult struct {
	StartNodeID int64            `json:"startNodeId"`
	NodeIDs     map[string]int64 `json:"nodeIds"`
	EdgeIDs     []int64          `json:"edgeIds"`
}

// Seed inserts a pack's nodes and edges in one transaction. With
// reset set, every existing row (sessions included) is wiped first.
// Nodes are inserted in sorted key order so ids are deterministic for
// a given pack.
func Seed(ctx context.Context, s *store.Store, pack *Pack, now time.Time, reset bool) (SeedResult, error) {
	if errs := Validate(pack); len(errs) > 0 {
		return SeedResult{}, fmt.Errorf("story pack invalid: %w", errs[0])
	}

	result := SeedResult{NodeIDs: map[string]int64{}}
	err := s.WithTx(ctx, func(tx *store.Tx) error {
		if reset {
			if err := tx.ResetAll(ctx); err != nil {
				return err
			}
		}

		for _, key := range pack.nodeKeys() {
			spec := pack.Nodes[key]
			node, err := tx.CreateNode(ctx, now, spec.Title, spec.Content)
			if err != nil {
				return fmt.Errorf("seed node %q: %w", key, err)
			}
			result.NodeIDs[key] = node.ID
		}

		for _, spec := range pack.Edges {
			edge, err := tx.CreateEdge(ctx, now, store.EdgeParams{
				FromNodeID: result.NodeIDs[spec.From],
				ToNodeID:   result.NodeIDs[spec.To],
				Label:      spec.Label,
				Condition:  spec.Condition,
				Effect:     spec.Effect,
				Aliases:    spec.Aliases,
			})
			if err != nil {
				return fmt.Errorf("seed edge %q: %w", spec.Label, err)
			}
			result.EdgeIDs = append(result.EdgeIDs, edge.ID)
		}

		result.StartNodeID = result.NodeIDs[pack.StartKey()]
		return nil
	})
	if err != nil {
		return SeedResult{}, err
	}
	return result, nil
}

// Demo is the built-in starter story: a trailhead with a left and a
// right path. Used by "weave seed" when no pack file is given.
func Demo() *Pack {
	return &Pack{
		Title: "Demo trail",
		Start: "start",
		Nodes: map[string]Node{
			"start": {Title: "Trailhead", Content: map[string]any{"text": "You stand at the start of your journey."}},
			"left":  {Title: "Left fork", Content: map[string]any{"text": "You went left."}},
			"right": {Title: "Right fork", Content: map[string]any{"text": "You went right."}},
		},
		Edges: []Edge{
			{From: "start", To: "left", Label: "left", Aliases: []string{"/left|links/"}},
			{From: "start", To: "right", Label: "right", Aliases: []string{"/right|rechts/"}},
		},
	}
}
