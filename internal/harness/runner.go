package harness

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/weave/internal/engine"
	"github.com/roach88/weave/internal/expr"
	"github.com/roach88/weave/internal/store"
	"github.com/roach88/weave/internal/story"
	"github.com/roach88/weave/internal/storypack"
	"github.com/roach88/weave/internal/testutil"
)

// scenarioBase is the fixed instant every scenario starts at.
var scenarioBase = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Result is the observable outcome of a scenario run.
type Result struct {
	// Session is the final session row.
	Session story.Session

	// Events are the published events in order.
	Events []engine.Event

	// NodeIDs maps pack node keys to seeded ids.
	NodeIDs map[string]int64

	// History is the final decision ledger.
	History []story.DecisionDetail
}

// Runner executes scenarios against a fresh database per run.
type Runner struct {
	// DBPath overrides the database location. Empty uses in-memory
	// SQLite.
	DBPath string

	// Log defaults to a discard-level default logger.
	Log *slog.Logger
}

// eventCollector records published events for assertions.
type eventCollector struct {
	mu     sync.Mutex
	events []engine.Event
}

func (c *eventCollector) Publish(ev engine.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *eventCollector) all() []engine.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]engine.Event{}, c.events...)
}

// Run seeds the scenario's pack, creates one session at its start
// node, executes every step, and returns the outcome. The clock
// advances one second per step. A step failing without a matching
// expect_error aborts the run.
func (r *Runner) Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	pack, err := storypack.CompileFile(scenario.Pack)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	dbPath := r.DBPath
	if dbPath == "" {
		dbPath = ":memory:"
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	defer st.Close()

	log := r.Log
	if log == nil {
		log = slog.Default()
	}
	clock := testutil.NewDeterministicClock(scenarioBase, time.Second)
	collector := &eventCollector{}
	eng := engine.New(st,
		engine.WithTimeSource(clock),
		engine.WithPublisher(collector),
		engine.WithLogger(log))

	seeded, err := storypack.Seed(ctx, st, pack, clock.Now(), false)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: seed: %w", scenario.Name, err)
	}

	sess, err := eng.CreateSession(ctx, &seeded.StartNodeID)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: create session: %w", scenario.Name, err)
	}

	run := &scenarioRun{
		eng:       eng,
		clock:     clock,
		sessionID: sess.ID,
		nodeIDs:   seeded.NodeIDs,
		snapshots: map[string]int64{},
	}
	for i, step := range scenario.Steps {
		clock.Tick()
		err := run.execute(ctx, step)
		switch {
		case step.ExpectError != "":
			if code := engine.CodeOf(err); string(code) != step.ExpectError {
				return nil, fmt.Errorf("scenario %s: steps[%d] (%s): expected error %s, got %v",
					scenario.Name, i, step.Op, step.ExpectError, err)
			}
		case err != nil:
			return nil, fmt.Errorf("scenario %s: steps[%d] (%s): %w", scenario.Name, i, step.Op, err)
		}
	}

	final, err := st.GetSession(ctx, run.sessionID)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	history, err := st.DecisionHistory(ctx, run.sessionID)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	return &Result{
		Session: final,
		Events:  collector.all(),
		NodeIDs: seeded.NodeIDs,
		History: history,
	}, nil
}

// scenarioRun carries per-run execution state.
type scenarioRun struct {
	eng       *engine.Engine
	clock     *testutil.DeterministicClock
	sessionID int64
	nodeIDs   map[string]int64
	snapshots map[string]int64
}

func (r *scenarioRun) execute(ctx context.Context, step Step) error {
	switch step.Op {
	case "decision":
		edgeID, err := r.edgeByLabel(ctx, step.Edge)
		if err != nil {
			return err
		}
		_, err = r.eng.ApplyDecision(ctx, r.sessionID, edgeID)
		return err

	case "jump":
		nodeID, ok := r.nodeIDs[step.Node]
		if !ok {
			return fmt.Errorf("unknown pack node %q", step.Node)
		}
		return r.eng.Jump(ctx, r.sessionID, nodeID)

	case "rewind":
		_, err := r.eng.Rewind(ctx, r.sessionID, step.Steps)
		return err

	case "patch":
		effect := expr.Effect{
			Set: step.Set, Add: step.Add, Toggle: step.Toggle,
			Push: step.Push, Remove: step.Remove,
		}
		_, err := r.eng.PatchState(ctx, r.sessionID, effect)
		return err

	case "snapshot":
		snap, err := r.eng.Snapshot(ctx, r.sessionID, step.Label)
		if err != nil {
			return err
		}
		r.snapshots[step.Label] = snap.ID
		return nil

	case "restore":
		snapID, ok := r.snapshots[step.Label]
		if !ok {
			return fmt.Errorf("no snapshot labeled %q was taken", step.Label)
		}
		return r.eng.Restore(ctx, r.sessionID, snapID, step.ClearHistory)

	case "vote_start":
		var optionIDs []int64
		for _, label := range step.Options {
			id, err := r.edgeByLabel(ctx, label)
			if err != nil {
				return err
			}
			optionIDs = append(optionIDs, id)
		}
		_, err := r.eng.StartVote(ctx, r.sessionID, optionIDs, step.DurationSec)
		return err

	case "vote_cast":
		edgeID, err := r.edgeByLabel(ctx, step.Edge)
		if err != nil {
			return err
		}
		_, err = r.eng.CastVote(ctx, r.sessionID, edgeID, step.Voter)
		return err

	case "vote_close":
		_, err := r.eng.CloseVote(ctx, r.sessionID, step.Apply)
		return err

	case "end":
		return r.eng.End(ctx, r.sessionID)

	case "advance":
		// Move the clock past timers, then run one sweep so expired
		// timed votes close the way the server's sweeper would.
		r.clock.Advance(time.Duration(step.Seconds) * time.Second)
		engine.NewSweeper(r.eng, time.Second, slog.Default()).Sweep(ctx)
		return nil

	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
}

// edgeByLabel resolves a label among the edges leaving the session's
// current node, case-insensitively.
func (r *scenarioRun) edgeByLabel(ctx context.Context, label string) (int64, error) {
	sess, err := r.eng.Store().GetSession(ctx, r.sessionID)
	if err != nil {
		return 0, err
	}
	if sess.CurrentNodeID == nil {
		return 0, fmt.Errorf("edge %q: session has no current node", label)
	}
	edges, err := r.eng.Store().EdgesFrom(ctx, *sess.CurrentNodeID)
	if err != nil {
		return 0, err
	}
	for _, edge := range edges {
		if strings.EqualFold(edge.Label, label) {
			return edge.ID, nil
		}
	}
	return 0, fmt.Errorf("no edge labeled %q leaves node %d", label, *sess.CurrentNodeID)
}
