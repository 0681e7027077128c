package expr

import "strings"

// Doc is a session state document: a plain JSON tree.
// Values are the encoding/json defaults: nil, bool, float64, string,
// []any and map[string]any.
type Doc = map[string]any

// splitPath splits a dot-separated path into its segments, dropping
// empty segments ("a..b" resolves like "a.b", "" resolves to nothing).
func splitPath(path string) []string {
	parts := strings.Split(path, ".")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Lookup resolves a dot-separated path against a document.
// The second return is false if any segment is missing or a
// non-object value is traversed into.
func Lookup(doc Doc, path string) (any, bool) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, false
	}

	var cur any = doc
	for _, part := range parts {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// setPath writes value at path, creating intermediate objects as needed.
// A non-object intermediate value (scalar or list) is replaced by a new
// object. Mutates doc in place; callers own the copy discipline.
func setPath(doc Doc, path string, value any) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return
	}

	obj := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := obj[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			obj[part] = next
		}
		obj = next
	}
	obj[parts[len(parts)-1]] = value
}

// removePath deletes the leaf key at path. No-op if any segment is
// missing or the parent is not an object.
func removePath(doc Doc, path string) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return
	}

	var cur any = doc
	for _, part := range parts[:len(parts)-1] {
		obj, ok := cur.(map[string]any)
		if !ok {
			return
		}
		cur, ok = obj[part]
		if !ok {
			return
		}
	}
	if obj, ok := cur.(map[string]any); ok {
		delete(obj, parts[len(parts)-1])
	}
}

// DeepCopy returns a structurally independent copy of a document.
// Scalars are shared (immutable); maps and slices are duplicated.
func DeepCopy(doc Doc) Doc {
	if doc == nil {
		return Doc{}
	}
	return copyValue(doc).(map[string]any)
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = copyValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = copyValue(val)
		}
		return out
	default:
		return v
	}
}
