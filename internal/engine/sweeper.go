package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/roach88/weave/internal/story"
)

// Sweeper closes expired timed votes in the background. It is the
// only scheduled behavior in the engine: a periodic poll, idempotent
// and re-entrant, so a tick racing a manual close is harmless and a
// missed tick is made up by the next one.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	log      *slog.Logger
	cron     *cron.Cron
}

// NewSweeper creates a sweeper polling at the given interval.
func NewSweeper(e *Engine, interval time.Duration, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{engine: e, interval: interval, log: log}
}

// Start schedules the sweep. Returns an error only if the schedule
// spec fails to parse.
func (s *Sweeper) Start() error {
	c := cron.New()
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := c.AddFunc(spec, func() {
		s.Sweep(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	c.Start()
	s.cron = c
	s.log.Info("vote sweeper started", "interval", s.interval.String())
	return nil
}

// Stop halts the schedule, waiting for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Sweep runs one pass: every running session with an active timed
// vote past its deadline gets closed with apply. One session's failure
// is logged and does not abort the rest of the pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	sessions, err := s.engine.Store().SessionsWithTimedVotes(ctx)
	if err != nil {
		s.log.Error("sweep query failed", "err", err)
		return
	}

	now := s.engine.clock.Now()
	for _, sess := range sessions {
		vote, ok := story.VoteFromState(sess.State)
		if !ok || !vote.Expired(now) {
			continue
		}
		if _, err := s.engine.CloseVote(ctx, sess.ID, true); err != nil {
			s.log.Error("auto-close failed", "session", sess.ID, "err", err)
			continue
		}
		s.log.Info("vote auto-closed", "session", sess.ID)
	}
}
