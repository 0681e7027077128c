package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/weave/internal/expr"
)

// timeLayout is the stored timestamp format: RFC 3339 with
// nanoseconds, always UTC. Lexicographic order equals time order.
const timeLayout = time.RFC3339Nano

func marshalTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

// marshalDoc converts a state/content document to JSON TEXT.
// Go's json.Marshal emits map keys in sorted order, which keeps stored
// documents byte-comparable across replays.
func marshalDoc(doc expr.Doc) (string, error) {
	if doc == nil {
		return "{}", nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	return string(data), nil
}

func unmarshalDoc(data string) (expr.Doc, error) {
	if data == "" || data == "{}" {
		return expr.Doc{}, nil
	}
	var doc expr.Doc
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return doc, nil
}

func marshalCondition(c expr.Condition) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal condition: %w", err)
	}
	return string(data), nil
}

func unmarshalCondition(data string) (expr.Condition, error) {
	if data == "" || data == "{}" {
		return expr.Condition{}, nil
	}
	var c expr.Condition
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return expr.Condition{}, fmt.Errorf("unmarshal condition: %w", err)
	}
	return c, nil
}

func marshalEffect(e expr.Effect) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal effect: %w", err)
	}
	return string(data), nil
}

func unmarshalEffect(data string) (expr.Effect, error) {
	if data == "" || data == "{}" {
		return expr.Effect{}, nil
	}
	var e expr.Effect
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return expr.Effect{}, fmt.Errorf("unmarshal effect: %w", err)
	}
	return e, nil
}

func marshalAliases(aliases []string) (string, error) {
	if len(aliases) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(aliases)
	if err != nil {
		return "", fmt.Errorf("marshal aliases: %w", err)
	}
	return string(data), nil
}

func unmarshalAliases(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var aliases []string
	if err := json.Unmarshal([]byte(data), &aliases); err != nil {
		return nil, fmt.Errorf("unmarshal aliases: %w", err)
	}
	return aliases, nil
}
