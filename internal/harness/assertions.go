package harness

import (
	"fmt"
	"reflect"
)

// Check validates every assertion against a run's result. The first
// failure is returned.
func Check(result *Result, assertions []Assertion) error {
	for i, a := range assertions {
		if err := checkOne(result, &a); err != nil {
			return fmt.Errorf("assertions[%d] (%s): %w", i, a.Type, err)
		}
	}
	return nil
}

func checkOne(result *Result, a *Assertion) error {
	switch a.Type {
	case AssertEventContains:
		for _, ev := range result.Events {
			if string(ev.Type) == a.Event {
				return nil
			}
		}
		return fmt.Errorf("no %s event was published", a.Event)

	case AssertEventOrder:
		next := 0
		for _, ev := range result.Events {
			if next < len(a.Events) && string(ev.Type) == a.Events[next] {
				next++
			}
		}
		if next != len(a.Events) {
			return fmt.Errorf("event order broken at %q (matched %d of %d)",
				a.Events[next], next, len(a.Events))
		}
		return nil

	case AssertEventCount:
		count := 0
		for _, ev := range result.Events {
			if string(ev.Type) == a.Event {
				count++
			}
		}
		if count != a.Count {
			return fmt.Errorf("expected %d %s events, got %d", a.Count, a.Event, count)
		}
		return nil

	case AssertFinalState:
		return subsetMatch("state", a.State, map[string]any(result.Session.State))

	case AssertCurrentNode:
		want, ok := result.NodeIDs[a.Node]
		if !ok {
			return fmt.Errorf("unknown pack node %q", a.Node)
		}
		if result.Session.CurrentNodeID == nil {
			return fmt.Errorf("session has no current node, expected %q", a.Node)
		}
		if *result.Session.CurrentNodeID != want {
			return fmt.Errorf("session is at node %d, expected %q (%d)",
				*result.Session.CurrentNodeID, a.Node, want)
		}
		return nil

	case AssertHistory:
		if len(result.History) != len(a.Labels) {
			return fmt.Errorf("history has %d decisions, expected %d",
				len(result.History), len(a.Labels))
		}
		for i, want := range a.Labels {
			if result.History[i].EdgeLabel != want {
				return fmt.Errorf("history[%d] is %q, expected %q",
					i, result.History[i].EdgeLabel, want)
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// subsetMatch checks that every expected key matches the actual
// document, recursing into nested maps. Extra actual keys are ignored.
// Numbers compare by value across int and float representations (YAML
// decodes ints, the state document holds float64).
func subsetMatch(path string, expected, actual map[string]any) error {
	for key, want := range expected {
		childPath := path + "." + key
		got, ok := actual[key]
		if !ok {
			return fmt.Errorf("%s: missing", childPath)
		}
		if err := valueMatch(childPath, want, got); err != nil {
			return err
		}
	}
	return nil
}

func valueMatch(path string, want, got any) error {
	if wantMap, ok := asStringMap(want); ok {
		gotMap, ok := asStringMap(got)
		if !ok {
			return fmt.Errorf("%s: expected object, got %T", path, got)
		}
		return subsetMatch(path, wantMap, gotMap)
	}

	if wantNum, ok := asFloat(want); ok {
		gotNum, ok := asFloat(got)
		if !ok || wantNum != gotNum {
			return fmt.Errorf("%s: expected %v, got %v", path, want, got)
		}
		return nil
	}

	if wantList, ok := want.([]any); ok {
		gotList, ok := got.([]any)
		if !ok || len(gotList) != len(wantList) {
			return fmt.Errorf("%s: expected list %v, got %v", path, want, got)
		}
		for i := range wantList {
			if err := valueMatch(fmt.Sprintf("%s[%d]", path, i), wantList[i], gotList[i]); err != nil {
				return err
			}
		}
		return nil
	}

	if !reflect.DeepEqual(want, got) {
		return fmt.Errorf("%s: expected %v, got %v", path, want, got)
	}
	return nil
}

func asStringMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
