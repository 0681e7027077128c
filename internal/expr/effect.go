package expr

import "sort"

// Effect is a declarative state-mutation batch. Each field is optional
// and keyed by dot-separated path. Operations apply in a fixed order:
// set, add, toggle, push, remove. "set then add on the same path" is
// therefore well-defined.
type Effect struct {
	// Set overwrites each path with a literal value, creating
	// intermediate objects as needed.
	Set map[string]any `json:"set,omitempty"`

	// Add accumulates a number at each path. A missing or non-numeric
	// current value is normalized to 0 before adding; this coercion is
	// deliberate, not incidental.
	Add map[string]float64 `json:"add,omitempty"`

	// Toggle negates the boolean at each path. Missing or non-boolean
	// values count as false, so the first toggle yields true.
	Toggle []string `json:"toggle,omitempty"`

	// Push appends a value to the list at each path. A non-list current
	// value is replaced by a new single-element list.
	Push map[string]any `json:"push,omitempty"`

	// Remove deletes the leaf key at each path; absent keys are no-ops.
	Remove []string `json:"remove,omitempty"`
}

// IsZero reports whether the effect mutates nothing.
func (e Effect) IsZero() bool {
	return len(e.Set) == 0 && len(e.Add) == 0 && len(e.Toggle) == 0 &&
		len(e.Push) == 0 && len(e.Remove) == 0
}

// Apply returns a new document with the effect applied. The input
// document is never mutated. Within each operation, paths apply in
// lexicographic order so that replay is deterministic.
func (e Effect) Apply(doc Doc) Doc {
	next := DeepCopy(doc)

	for _, path := range sortedKeys(e.Set) {
		setPath(next, path, copyValue(e.Set[path]))
	}

	for _, path := range sortedKeysF(e.Add) {
		cur, _ := Lookup(next, path)
		n, ok := asNumber(cur)
		if !ok {
			n = 0
		}
		setPath(next, path, n+e.Add[path])
	}

	for _, path := range e.Toggle {
		cur, found := Lookup(next, path)
		setPath(next, path, !(found && truthy(cur)))
	}

	for _, path := range sortedKeys(e.Push) {
		val := copyValue(e.Push[path])
		if cur, ok := Lookup(next, path); ok {
			if list, ok := cur.([]any); ok {
				setPath(next, path, append(list, val))
				continue
			}
		}
		setPath(next, path, []any{val})
	}

	for _, path := range e.Remove {
		removePath(next, path)
	}

	return next
}

// truthy mirrors the JSON-document notion of a falsy value: nil,
// false, zero, and the empty string. Lists and objects are truthy.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	default:
		if n, ok := asNumber(v); ok {
			return n != 0
		}
		return true
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysF(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
