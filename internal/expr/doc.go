// Package expr implements the condition/effect expression language that
// gates and mutates session state documents.
//
// A state document is a plain JSON tree (map[string]any with string,
// float64, bool, nil, []any and nested map values). Conditions are
// boolean gates over the tree; effects are declarative mutation batches.
// Both address the tree with dot-separated key paths ("inventory.key",
// "flags.visitedNorth").
//
// # Critical behaviors
//
//   - Unknown leaf operators evaluate TRUE (fail-open). This keeps
//     forward-compatible edge authoring from silently blocking traversal
//     and is relied on by callers; do not change it to fail-closed.
//   - Effect application is pure: the input document is never mutated.
//     Apply(Apply(s, e1), e2) is deterministic, which the decision
//     replay path depends on.
//   - Effect operations run in a fixed order (set, add, toggle, push,
//     remove), and within one operation paths are applied in
//     lexicographic order. Replay determinism depends on both.
//   - Missing intermediate keys never fail: reads resolve to absent,
//     writes create intermediate objects on demand.
package expr
