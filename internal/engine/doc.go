// Package engine implements the narrative runtime: session lifecycle,
// the transactional decision protocol, rewind, snapshots, and the live
// vote rounds layered on top of them.
//
// ARCHITECTURE:
//
// The engine is a thin orchestration layer over the store. Every
// mutating operation runs inside one store transaction: read the
// session, validate against the graph, evaluate conditions, apply
// effects, write back. Because the store serializes writers, two
// concurrent decisions on the same session cannot interleave; the
// second sees the first's result and is validated against it.
//
// Events are published only after the owning transaction commits.
// Subscribers never observe a state that was rolled back.
//
// CRITICAL PATTERNS:
//
// Wall-clock injection:
// The engine never calls time.Now directly. Every operation takes its
// timestamp from the configured TimeSource, so tests drive time
// explicitly and vote expiry is reproducible.
//
// Deterministic replay:
// Rewind recomputes state by replaying the surviving decision prefix
// from an empty document in stored order (created_at, then id). Effects
// apply their operations in a fixed order with sorted paths, so a
// replay of the same decisions always yields the same document.
//
// Fail-open conditions:
// Condition evaluation never errors. Malformed or unknown predicates
// evaluate true, which makes a broken condition reveal an edge rather
// than strand a session.
package engine
