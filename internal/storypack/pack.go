// Package storypack compiles declarative CUE story packs into graph
// rows. A pack names its nodes by key and wires edges between keys;
// seeding resolves keys to database ids in one transaction.
package storypack

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/roach88/weave/internal/expr"
)

// Pack is a compiled story pack, ready to seed.
type Pack struct {
	Title string `json:"title,omitempty"`
	// Start names the node key sessions should begin on. Defaults to
	// the first node in key order.
	Start string          `json:"start,omitempty"`
	Nodes map[string]Node `json:"nodes"`
	Edges []Edge          `json:"edges"`
}

// Node is an authored story beat.
type Node struct {
	Title   string         `json:"title"`
	Content map[string]any `json:"content,omitempty"`
}

// Edge is an authored transition between node keys.
type Edge struct {
	From      string         `json:"from"`
	To        string         `json:"to"`
	Label     string         `json:"label"`
	Condition expr.Condition `json:"condition,omitempty"`
	Effect    expr.Effect    `json:"effect,omitempty"`
	Aliases   []string       `json:"aliases,omitempty"`
}

// ValidationError describes one problem found in a pack.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// StartKey resolves the node key traversals begin on.
func (p *Pack) StartKey() string {
	if p.Start != "" {
		return p.Start
	}
	keys := p.nodeKeys()
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}

// nodeKeys returns the pack's node keys in sorted order, the order
// nodes are inserted in so seeded ids are deterministic.
func (p *Pack) nodeKeys() []string {
	keys := make([]string, 0, len(p.Nodes))
	for key := range p.Nodes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

var labelFolder = cases.Fold()

// Validate checks referential integrity and the per-source label
// uniqueness invariant. Returns all problems, not just the first.
func Validate(p *Pack) []ValidationError {
	var errs []ValidationError

	if len(p.Nodes) == 0 {
		errs = append(errs, ValidationError{Field: "nodes", Message: "at least one node is required"})
	}
	for key, node := range p.Nodes {
		if strings.TrimSpace(node.Title) == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("nodes.%s.title", key),
				Message: "title is required",
			})
		}
	}
	if p.Start != "" {
		if _, ok := p.Nodes[p.Start]; !ok {
			errs = append(errs, ValidationError{Field: "start", Message: fmt.Sprintf("unknown node key %q", p.Start)})
		}
	}

	seen := map[string]bool{}
	for i, edge := range p.Edges {
		field := fmt.Sprintf("edges[%d]", i)
		if strings.TrimSpace(edge.Label) == "" {
			errs = append(errs, ValidationError{Field: field + ".label", Message: "label is required"})
		}
		if _, ok := p.Nodes[edge.From]; !ok {
			errs = append(errs, ValidationError{Field: field + ".from", Message: fmt.Sprintf("unknown node key %q", edge.From)})
		}
		if _, ok := p.Nodes[edge.To]; !ok {
			errs = append(errs, ValidationError{Field: field + ".to", Message: fmt.Sprintf("unknown node key %q", edge.To)})
		}
		fold := edge.From + "\x00" + labelFolder.String(edge.Label)
		if seen[fold] {
			errs = append(errs, ValidationError{
				Field:   field + ".label",
				Message: fmt.Sprintf("duplicate label %q on node %q (labels are case-insensitive per source node)", edge.Label, edge.From),
			})
		}
		seen[fold] = true
	}
	return errs
}
