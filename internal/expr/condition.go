package expr

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Op is a leaf predicate operator. Operators outside the known set are
// carried verbatim and evaluate true (fail-open), so an engine running
// older code never blocks traversal authored against newer operators.
type Op string

const (
	OpEq       Op = "=="
	OpNe       Op = "!="
	OpGt       Op = ">"
	OpLt       Op = "<"
	OpGe       Op = ">="
	OpLe       Op = "<="
	OpIn       Op = "in"
	OpNotIn    Op = "not-in"
	OpIncludes Op = "includes"
)

// Predicate is a single test against one path of the state document.
// Exactly one of the three forms is meaningful: Exists, NotExists, or
// an Op/Value comparison.
type Predicate struct {
	Path      string `json:"path"`
	Op        Op     `json:"op,omitempty"`
	Value     any    `json:"value,omitempty"`
	Exists    bool   `json:"exists,omitempty"`
	NotExists bool   `json:"notExists,omitempty"`
}

// Condition is a boolean gate over a state document: either a single
// leaf predicate or a composite of sub-conditions. The zero value
// (no clauses, no leaf) evaluates true.
type Condition struct {
	// Composite clauses. All must hold, at least one of Any must hold
	// (vacuously true when empty), and every Not must fail.
	All []Condition
	Any []Condition
	Not []Condition

	// Leaf predicate; nil for composites.
	Leaf *Predicate
}

// IsZero reports whether the condition has no clauses at all.
func (c Condition) IsZero() bool {
	return c.Leaf == nil && len(c.All) == 0 && len(c.Any) == 0 && len(c.Not) == 0
}

// Eval evaluates the condition against a state document.
func (c Condition) Eval(doc Doc) bool {
	if c.Leaf != nil {
		return c.Leaf.eval(doc)
	}
	for _, sub := range c.All {
		if !sub.Eval(doc) {
			return false
		}
	}
	if len(c.Any) > 0 {
		hit := false
		for _, sub := range c.Any {
			if sub.Eval(doc) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	for _, sub := range c.Not {
		if sub.Eval(doc) {
			return false
		}
	}
	return true
}

func (p *Predicate) eval(doc Doc) bool {
	if p.Exists {
		_, ok := Lookup(doc, p.Path)
		return ok
	}
	if p.NotExists {
		_, ok := Lookup(doc, p.Path)
		return !ok
	}

	cur, found := Lookup(doc, p.Path)

	switch p.Op {
	case OpEq:
		return found && valueEqual(cur, p.Value)
	case OpNe:
		return !found || !valueEqual(cur, p.Value)
	case OpGt, OpLt, OpGe, OpLe:
		// Numeric comparisons only hold when both sides are numeric.
		a, aok := asNumber(cur)
		b, bok := asNumber(p.Value)
		if !found || !aok || !bok {
			return false
		}
		switch p.Op {
		case OpGt:
			return a > b
		case OpLt:
			return a < b
		case OpGe:
			return a >= b
		default:
			return a <= b
		}
	case OpIn, OpNotIn:
		list, ok := p.Value.([]any)
		if !ok {
			return false
		}
		member := false
		for _, item := range list {
			if valueEqual(cur, item) {
				member = true
				break
			}
		}
		if p.Op == OpIn {
			return member
		}
		return !member
	case OpIncludes:
		switch t := cur.(type) {
		case []any:
			for _, item := range t {
				if valueEqual(item, p.Value) {
					return true
				}
			}
			return false
		case string:
			needle, ok := p.Value.(string)
			if !ok {
				needle = fmt.Sprint(p.Value)
			}
			return strings.Contains(t, needle)
		default:
			return false
		}
	default:
		// Fail-open: unrecognized operators never block traversal.
		return true
	}
}

// valueEqual compares two JSON values structurally, treating all
// numeric representations as equal when their values are equal.
func valueEqual(a, b any) bool {
	if an, aok := asNumber(a); aok {
		bn, bok := asNumber(b)
		return bok && an == bn
	}
	switch at := a.(type) {
	case nil:
		return b == nil
	case string:
		bt, ok := b.(string)
		return ok && at == bt
	case bool:
		bt, ok := b.(bool)
		return ok && at == bt
	case []any:
		bt, ok := b.([]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if !valueEqual(at[i], bt[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bt, ok := b.(map[string]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for k, av := range at {
			bv, ok := bt[k]
			if !ok || !valueEqual(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// asNumber normalizes the numeric types that reach us through
// encoding/json, CUE decoding, and Go literals in tests.
func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// conditionWire is the stored JSON shape. A leaf carries path/op/value
// (or exists/notExists); a composite carries all/any/not. "requires"
// is a legacy alias for "all" still present in older story packs.
type conditionWire struct {
	All      []Condition `json:"all,omitempty"`
	Requires []Condition `json:"requires,omitempty"`
	Any      []Condition `json:"any,omitempty"`
	Not      []Condition `json:"not,omitempty"`

	Path      string `json:"path,omitempty"`
	Op        Op     `json:"op,omitempty"`
	Value     any    `json:"value,omitempty"`
	Exists    bool   `json:"exists,omitempty"`
	NotExists bool   `json:"notExists,omitempty"`
}

// UnmarshalJSON decodes either a composite or a leaf condition.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var w conditionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode condition: %w", err)
	}

	*c = Condition{
		All: w.All,
		Any: w.Any,
		Not: w.Not,
	}
	if len(w.Requires) > 0 {
		c.All = append(c.All, w.Requires...)
	}
	if w.Path != "" || w.Exists || w.NotExists || w.Op != "" {
		c.Leaf = &Predicate{
			Path:      w.Path,
			Op:        w.Op,
			Value:     w.Value,
			Exists:    w.Exists,
			NotExists: w.NotExists,
		}
	}
	return nil
}

// MarshalJSON encodes the condition back to its wire shape.
func (c Condition) MarshalJSON() ([]byte, error) {
	if c.Leaf != nil {
		return json.Marshal(*c.Leaf)
	}
	return json.Marshal(conditionWire{
		All: c.All,
		Any: c.Any,
		Not: c.Not,
	})
}
