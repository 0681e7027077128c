package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines one conformance scenario: a story pack, a step
// sequence, and assertions over the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Pack is the path to the CUE story pack, relative to the
	// scenario file.
	Pack string `yaml:"pack"`

	// Steps is the ordered operation list executed against a fresh
	// session.
	Steps []Step `yaml:"steps"`

	// Assertions validate the published events and the final session.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation against the session. Op selects which of the
// remaining fields apply; edges are referenced by label, nodes by pack
// key.
type Step struct {
	// Op is one of: decision, jump, rewind, patch, snapshot, restore,
	// vote_start, vote_cast, vote_close, end, advance.
	Op string `yaml:"op"`

	// Edge is an edge label (decision, vote_cast).
	Edge string `yaml:"edge,omitempty"`

	// Node is a pack node key (jump).
	Node string `yaml:"node,omitempty"`

	// Voter identifies the ballot's voter (vote_cast); empty is
	// anonymous.
	Voter string `yaml:"voter,omitempty"`

	// Options lists edge labels for vote_start; empty means all
	// visible options.
	Options []string `yaml:"options,omitempty"`

	// DurationSec arms the auto-close timer (vote_start).
	DurationSec int64 `yaml:"durationSec,omitempty"`

	// Apply takes the winning edge on vote_close.
	Apply bool `yaml:"apply,omitempty"`

	// Steps is the rewind depth (rewind).
	Steps int `yaml:"steps,omitempty"`

	// Label names a snapshot (snapshot, restore).
	Label string `yaml:"label,omitempty"`

	// ClearHistory wipes the decision ledger on restore.
	ClearHistory bool `yaml:"clearHistory,omitempty"`

	// Effect fields (patch).
	Set    map[string]any     `yaml:"set,omitempty"`
	Add    map[string]float64 `yaml:"add,omitempty"`
	Toggle []string           `yaml:"toggle,omitempty"`
	Push   map[string]any     `yaml:"push,omitempty"`
	Remove []string           `yaml:"remove,omitempty"`

	// Seconds moves the clock forward (advance). Used to expire timed
	// votes before a sweep.
	Seconds int64 `yaml:"seconds,omitempty"`

	// ExpectError names the engine error code this step must fail
	// with. The step's failure is then consumed, not fatal.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Assertion validates events or final session shape.
type Assertion struct {
	// Type is one of event_contains, event_order, event_count,
	// final_state, current_node, history.
	Type string `yaml:"type"`

	// Event is an event type (event_contains, event_count).
	Event string `yaml:"event,omitempty"`

	// Events is an ordered event type list (event_order). Subsequence
	// match: other events may interleave.
	Events []string `yaml:"events,omitempty"`

	// Count is the expected occurrence count (event_count).
	Count int `yaml:"count,omitempty"`

	// State is a subset match against the final state document
	// (final_state).
	State map[string]any `yaml:"state,omitempty"`

	// Node is the expected final position, as a pack key
	// (current_node).
	Node string `yaml:"node,omitempty"`

	// Labels is the expected decision history as edge labels
	// (history).
	Labels []string `yaml:"labels,omitempty"`
}

// Assertion type constants.
const (
	AssertEventContains = "event_contains"
	AssertEventOrder    = "event_order"
	AssertEventCount    = "event_count"
	AssertFinalState    = "final_state"
	AssertCurrentNode   = "current_node"
	AssertHistory       = "history"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields
// are rejected so typos fail loudly. The pack path is resolved
// relative to the scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Pack != "" && !filepath.IsAbs(scenario.Pack) {
		scenario.Pack = filepath.Join(filepath.Dir(path), scenario.Pack)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// stepOps enumerates the legal step operations.
var stepOps = map[string]bool{
	"decision":   true,
	"jump":       true,
	"rewind":     true,
	"patch":      true,
	"snapshot":   true,
	"restore":    true,
	"vote_start": true,
	"vote_cast":  true,
	"vote_close": true,
	"end":        true,
	"advance":    true,
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Pack == "" {
		return fmt.Errorf("pack is required")
	}
	if _, err := os.Stat(s.Pack); os.IsNotExist(err) {
		return fmt.Errorf("pack file not found: %s", s.Pack)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if !stepOps[step.Op] {
			return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
		}
		switch step.Op {
		case "decision", "vote_cast":
			if step.Edge == "" {
				return fmt.Errorf("steps[%d]: edge is required for %s", i, step.Op)
			}
		case "jump":
			if step.Node == "" {
				return fmt.Errorf("steps[%d]: node is required for jump", i)
			}
		case "rewind":
			if step.Steps < 1 && step.ExpectError == "" {
				return fmt.Errorf("steps[%d]: steps must be positive for rewind", i)
			}
		case "advance":
			if step.Seconds < 1 {
				return fmt.Errorf("steps[%d]: seconds must be positive for advance", i)
			}
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertEventContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_contains", index)
		}
	case AssertEventOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for event_order", index)
		}
	case AssertEventCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertFinalState:
		if len(a.State) == 0 {
			return fmt.Errorf("assertions[%d]: state is required for final_state", index)
		}
	case AssertCurrentNode:
		if a.Node == "" {
			return fmt.Errorf("assertions[%d]: node is required for current_node", index)
		}
	case AssertHistory:
		if len(a.Labels) == 0 {
			return fmt.Errorf("assertions[%d]: labels list is required for history", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
