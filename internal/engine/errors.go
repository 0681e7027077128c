package engine

import (
	"errors"
	"fmt"
)

// Error represents a domain-rule violation detected by the engine.
// These are expected failures (bad references, protocol violations)
// that callers translate into client-facing responses; infrastructure
// failures stay plain wrapped errors.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// SessionID identifies the affected session, when one is involved.
	SessionID int64

	// Details contains additional context for diagnostics.
	Details map[string]any
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a referenced entity does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeInvalidReference indicates an edge or node reference that
	// points at a nonexistent counterpart.
	ErrCodeInvalidReference ErrorCode = "INVALID_REFERENCE"

	// ErrCodeAlreadyStarted indicates SetStart on a session that
	// already has a position.
	ErrCodeAlreadyStarted ErrorCode = "ALREADY_STARTED"

	// ErrCodeNoCurrentNode indicates an operation that needs a
	// position on a session that has none.
	ErrCodeNoCurrentNode ErrorCode = "NO_CURRENT_NODE"

	// ErrCodeEdgeNotFromCurrentNode indicates a decision naming an
	// edge that does not leave the session's current node.
	ErrCodeEdgeNotFromCurrentNode ErrorCode = "EDGE_NOT_FROM_CURRENT_NODE"

	// ErrCodeEdgeNotFound indicates a decision naming an edge that does
	// not exist.
	ErrCodeEdgeNotFound ErrorCode = "EDGE_NOT_FOUND"

	// ErrCodeNothingToRewind indicates rewind on an empty history.
	ErrCodeNothingToRewind ErrorCode = "NOTHING_TO_REWIND"

	// ErrCodeStepsExceedHistory indicates a rewind deeper than the
	// recorded history.
	ErrCodeStepsExceedHistory ErrorCode = "STEPS_EXCEED_HISTORY"

	// ErrCodeNoActiveVote indicates a ballot or close against a
	// session with no active vote.
	ErrCodeNoActiveVote ErrorCode = "NO_ACTIVE_VOTE"

	// ErrCodeVoteAlreadyActive indicates a vote start while one is
	// still open.
	ErrCodeVoteAlreadyActive ErrorCode = "VOTE_ALREADY_ACTIVE"

	// ErrCodeEdgeNotInVote indicates a ballot for an edge outside the
	// vote's option set.
	ErrCodeEdgeNotInVote ErrorCode = "EDGE_NOT_IN_VOTE"

	// ErrCodeOptionsInvalid indicates a vote start whose requested
	// options are not visible edges of the current node.
	ErrCodeOptionsInvalid ErrorCode = "OPTIONS_INVALID_FOR_CURRENT_NODE"

	// ErrCodeEdgeConflict indicates a label collision on a source node.
	ErrCodeEdgeConflict ErrorCode = "EDGE_CONFLICT"

	// ErrCodeSnapshotNotFound indicates a restore or delete naming a
	// snapshot that does not exist or belongs to another session.
	ErrCodeSnapshotNotFound ErrorCode = "SNAPSHOT_NOT_FOUND"

	// ErrCodeSessionEnded indicates a mutation against an ended session.
	ErrCodeSessionEnded ErrorCode = "SESSION_ENDED"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.SessionID != 0 {
		return fmt.Sprintf("%s: %s (session=%d)", e.Code, e.Message, e.SessionID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf extracts the engine error code from err, unwrapping as
// needed. Returns "" for non-engine errors.
func CodeOf(err error) ErrorCode {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// IsNotFound reports whether err is an engine NOT_FOUND error.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

func newError(code ErrorCode, sessionID int64, format string, args ...any) *Error {
	return &Error{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		SessionID: sessionID,
	}
}

func notFound(kind string, id int64) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s %d not found", kind, id),
		Details: map[string]any{"kind": kind, "id": id},
	}
}
