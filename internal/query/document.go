package query

import (
	"maps"
	"strings"
)

// IDField is the primary key field carried by every stored document.
const IDField = "_id"

// Document is a schemaless record flowing through a pipeline. Nested objects are plain maps so that
// documents decoded from JSON, Firestore snapshots, and in-memory fixtures look alike.
type Document map[string]any

// ID returns the document key.
func (d Document) ID() string {
	id, _ := AsString(d[IDField])
	return id
}

// Get resolves a dotted path such as "guestUser.email".
func (d Document) Get(path string) (any, bool) {
	if d == nil || path == "" {
		return nil, false
	}
	var current any = map[string]any(d)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		value, ok := m[part]
		if !ok {
			return nil, false
		}
		current = value
	}
	return current, true
}

// Set assigns a value at a dotted path, creating intermediate objects as needed.
func (d Document) Set(path string, value any) {
	if d == nil || path == "" {
		return
	}
	parts := strings.Split(path, ".")
	current := map[string]any(d)
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(current[part])
		if !ok {
			next = map[string]any{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

// Delete removes the value at a dotted path when present.
func (d Document) Delete(path string) {
	if d == nil || path == "" {
		return
	}
	parts := strings.Split(path, ".")
	current := map[string]any(d)
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(current[part])
		if !ok {
			return
		}
		current = next
	}
	delete(current, parts[len(parts)-1])
}

// Clone returns a deep copy of maps and slices so the result can be mutated independently.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(cloneMap(d))
}

func cloneMap(src map[string]any) map[string]any {
	dst := maps.Clone(src)
	for key, value := range dst {
		dst[key] = cloneValue(value)
	}
	return dst
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case Document:
		return Document(cloneMap(v))
	case map[string]any:
		return cloneMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneMap(item)
		}
		return out
	default:
		return v
	}
}

func asMap(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case Document:
		return map[string]any(v), v != nil
	case map[string]any:
		return v, v != nil
	default:
		return nil, false
	}
}

// AsDocument converts nested map values into a Document.
func AsDocument(value any) (Document, bool) {
	m, ok := asMap(value)
	if !ok {
		return nil, false
	}
	return Document(m), true
}

// AsList returns array values regardless of their concrete slice type.
func AsList(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []map[string]any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out, true
	case []Document:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out, true
	case []string:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out, true
	default:
		return nil, false
	}
}
