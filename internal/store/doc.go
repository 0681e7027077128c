// Package store provides SQLite-backed durable storage for the
// narrative graph and its sessions.
//
// Tables: nodes, edges, sessions, decisions, snapshots, chat_events.
// Edge condition/effect/aliases and session/snapshot state are stored
// as JSON TEXT columns.
//
// # Critical patterns
//
//   - Single-writer transactions. Every read-modify-write of a session
//     runs inside one immediate transaction obtained via WithTx. With
//     the pool capped at one connection, SQLite's writer lock
//     serializes all mutating transactions, which subsumes the
//     per-session row lock the decision protocol requires. Unrelated
//     reads proceed concurrently under WAL.
//   - Deterministic ordering. Decision listings are always
//     ORDER BY created_at ASC, id ASC; the rewind replay reproduces
//     exactly this order.
//   - Wall-clock injection. Mutators take the caller's timestamp
//     instead of calling time.Now or relying on SQL defaults, so the
//     engine's time source governs every stored instant.
//   - Case-insensitive label uniqueness is enforced on a Unicode
//     case-folded shadow column (label_fold), with a unique index as
//     the backstop behind the explicit conflict check.
//
// Row lookups return sql.ErrNoRows for missing ids; the engine maps
// those onto its error taxonomy.
package store
