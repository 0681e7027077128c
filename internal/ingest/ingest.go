package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/weave/internal/engine"
	"github.com/roach88/weave/internal/store"
	"github.com/roach88/weave/internal/story"
)

// DefaultCooldown is the minimum gap between accepted ballots from the
// same voter.
const DefaultCooldown = 2 * time.Second

// Message is a normalized inbound chat message or reaction.
type Message struct {
	SessionID int64  `json:"sessionId"`
	Platform  string `json:"platform"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Text      string `json:"message"`
	Kind      string `json:"kind"`
}

// Status classifies what became of a handled message.
type Status string

const (
	// StatusCast means the message resolved to an option and counted.
	StatusCast Status = "cast"
	// StatusNoActiveVote means the session has no open vote.
	StatusNoActiveVote Status = "no_active_vote"
	// StatusUnresolved means the text matched no alias, label, or
	// numeric form.
	StatusUnresolved Status = "unresolved"
	// StatusCooldown means the voter cast too recently.
	StatusCooldown Status = "cooldown"
	// StatusRejected means the resolved edge was refused by the vote,
	// typically because the vote closed between resolve and cast.
	StatusRejected Status = "rejected"
)

// Result reports how a message was handled. Vote is set only on a
// successful cast.
type Result struct {
	Status Status          `json:"status"`
	EdgeID int64           `json:"edgeId,omitempty"`
	Vote   *story.Vote     `json:"vote,omitempty"`
	Event  store.ChatEvent `json:"event"`
}

// Service interprets raw platform messages against a session's active
// vote. Every message is recorded before interpretation, and stamped
// processed afterward, whatever the outcome. The per-voter cooldown
// lives here rather than in the vote coordinator so direct API casts
// are never throttled.
type Service struct {
	engine   *engine.Engine
	clock    engine.TimeSource
	cooldown time.Duration
	log      *slog.Logger

	mu       sync.Mutex
	lastCast map[string]time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithCooldown overrides the per-voter cooldown. Zero disables it.
func WithCooldown(d time.Duration) Option {
	return func(s *Service) { s.cooldown = d }
}

// WithTimeSource overrides the wall clock.
func WithTimeSource(ts engine.TimeSource) Option {
	return func(s *Service) { s.clock = ts }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates an ingest service over the engine.
func NewService(e *engine.Engine, opts ...Option) *Service {
	s := &Service{
		engine:   e,
		clock:    engine.SystemTime{},
		cooldown: DefaultCooldown,
		log:      slog.Default(),
		lastCast: map[string]time.Time{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// VoterID scopes a platform user id so voters on different platforms
// never collide. An empty user id stays anonymous.
func VoterID(platform, userID string) string {
	if userID == "" {
		return ""
	}
	return platform + ":" + userID
}

// HandleMessage records the message, resolves it against the active
// vote's options, and casts the ballot. Non-error outcomes (no vote,
// unresolved text, cooldown, late cast) are reported in the Result, not
// as errors.
func (s *Service) HandleMessage(ctx context.Context, msg Message) (Result, error) {
	now := s.clock.Now()
	if msg.Kind == "" {
		msg.Kind = "message"
	}

	var event store.ChatEvent
	err := s.engine.Store().WithTx(ctx, func(tx *store.Tx) error {
		var err error
		event, err = tx.RecordChatEvent(ctx, now, store.ChatEvent{
			SessionID: msg.SessionID,
			Platform:  msg.Platform,
			UserID:    msg.UserID,
			Username:  msg.Username,
			Message:   msg.Text,
			Kind:      msg.Kind,
		})
		return err
	})
	if err != nil {
		return Result{}, err
	}
	result := Result{Event: event}

	vote, ok, err := s.engine.GetVote(ctx, msg.SessionID)
	if err != nil {
		return Result{}, err
	}
	if !ok || !vote.Active {
		return s.finish(ctx, result, StatusNoActiveVote)
	}

	options, err := s.voteOptions(ctx, vote)
	if err != nil {
		return Result{}, err
	}
	edgeID, resolved := Resolve(msg.Text, options)
	if !resolved {
		return s.finish(ctx, result, StatusUnresolved)
	}
	result.EdgeID = edgeID

	voter := VoterID(msg.Platform, msg.UserID)
	if !s.allow(voter, now) {
		return s.finish(ctx, result, StatusCooldown)
	}

	cast, err := s.engine.CastVote(ctx, msg.SessionID, edgeID, voter)
	if err != nil {
		switch engine.CodeOf(err) {
		case engine.ErrCodeNoActiveVote, engine.ErrCodeEdgeNotInVote:
			s.log.Info("ballot arrived too late", "session", msg.SessionID, "edge", edgeID)
			return s.finish(ctx, result, StatusRejected)
		}
		return Result{}, err
	}
	s.record(voter, now)
	result.Vote = &cast

	s.log.Info("ballot cast from chat",
		"session", msg.SessionID, "platform", msg.Platform, "edge", edgeID)
	return s.finish(ctx, result, StatusCast)
}

// voteOptions loads the vote's option edges in stored order. Edges
// deleted mid-vote are skipped; position numbers shift with them, same
// as the overlay's displayed list.
func (s *Service) voteOptions(ctx context.Context, vote story.Vote) ([]story.Edge, error) {
	options := make([]story.Edge, 0, len(vote.Options))
	for _, id := range vote.Options {
		edge, err := s.engine.Store().GetEdge(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load vote option %d: %w", id, err)
		}
		options = append(options, edge)
	}
	return options, nil
}

// finish stamps the chat event processed and fills in the status.
func (s *Service) finish(ctx context.Context, result Result, status Status) (Result, error) {
	now := s.clock.Now()
	err := s.engine.Store().WithTx(ctx, func(tx *store.Tx) error {
		return tx.MarkChatEventProcessed(ctx, now, result.Event.ID)
	})
	if err != nil {
		return Result{}, err
	}
	result.Status = status
	result.Event.ProcessedAt = &now
	return result, nil
}

// allow reports whether the voter is outside the cooldown window.
// Anonymous voters are never throttled; they carry no identity to
// throttle on.
func (s *Service) allow(voter string, now time.Time) bool {
	if voter == "" || s.cooldown <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	last, seen := s.lastCast[voter]
	return !seen || now.Sub(last) >= s.cooldown
}

// record notes a successful cast for cooldown tracking.
func (s *Service) record(voter string, now time.Time) {
	if voter == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCast[voter] = now
}
