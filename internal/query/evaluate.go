package query

import (
	"context"
	"fmt"
	"slices"
)

// Lookup resolves documents of a collection by the value of one of their fields. Implementations
// must fetch all keys in a single round trip and omit keys that have no document.
type Lookup interface {
	Resolve(ctx context.Context, collection, field string, keys []string) (map[string]Document, error)
}

// Run evaluates stages over docs in process. Input documents are never mutated; stages that reshape
// documents work on copies. lookup may be nil when the pipeline has no Join stage.
func Run(ctx context.Context, docs []Document, stages []Stage, lookup Lookup) ([]Document, error) {
	current := slices.Clone(docs)
	for i, st := range stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var err error
		switch s := st.(type) {
		case Match:
			current = filter(current, s.Predicate)
		case Join:
			current, err = join(ctx, current, s, lookup)
		case Project:
			current = project(current, s.Fields)
		case Sort:
			sortDocuments(current, s.Keys)
		case Skip:
			if s.N >= len(current) {
				current = current[:0]
			} else if s.N > 0 {
				current = current[s.N:]
			}
		case Limit:
			if s.N >= 0 && s.N < len(current) {
				current = current[:s.N]
			}
		case Count:
			current = count(current, s.As)
		default:
			err = fmt.Errorf("%w: %T at position %d", ErrUnsupportedStage, st, i)
		}
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}

func filter(docs []Document, pred Predicate) []Document {
	if pred == nil {
		return docs
	}
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if pred.Matches(doc) {
			out = append(out, doc)
		}
	}
	return out
}

func join(ctx context.Context, docs []Document, s Join, lookup Lookup) ([]Document, error) {
	if lookup == nil {
		return nil, fmt.Errorf("%w: join on %s without lookup", ErrUnsupportedStage, s.From)
	}
	as := s.As
	if as == "" {
		as = s.LocalField
	}

	keys := make([]string, 0, len(docs))
	seen := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		for _, key := range localKeys(doc, s.LocalField) {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}

	var resolved map[string]Document
	if len(keys) > 0 {
		var err error
		resolved, err = lookup.Resolve(ctx, s.From, s.ForeignField, keys)
		if err != nil {
			return nil, fmt.Errorf("query: join %s: %w", s.From, err)
		}
	}

	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		var matches []any
		for _, key := range localKeys(doc, s.LocalField) {
			if foreign, ok := resolved[key]; ok {
				matches = append(matches, map[string]any(pick(foreign, s.Fields)))
			}
		}
		if len(matches) == 0 && !s.PreserveUnmatched {
			continue
		}
		next := doc.Clone()
		switch {
		case s.Single && len(matches) == 0:
			next.Delete(as)
		case s.Single:
			next.Set(as, matches[0])
		default:
			if matches == nil {
				matches = []any{}
			}
			next.Set(as, matches)
		}
		out = append(out, next)
	}
	return out, nil
}

func localKeys(doc Document, field string) []string {
	value, ok := doc.Get(field)
	if !ok {
		return nil
	}
	if list, ok := AsList(value); ok {
		keys := make([]string, 0, len(list))
		for _, item := range list {
			if key, ok := AsString(item); ok && key != "" {
				keys = append(keys, key)
			}
		}
		return keys
	}
	if key, ok := AsString(value); ok && key != "" {
		return []string{key}
	}
	return nil
}

func pick(doc Document, fields []string) Document {
	if len(fields) == 0 {
		return doc.Clone()
	}
	out := make(Document, len(fields)+1)
	if id, ok := doc[IDField]; ok {
		out[IDField] = id
	}
	for _, field := range fields {
		if value, ok := doc[field]; ok {
			out[field] = cloneValue(value)
		}
	}
	return out
}

func project(docs []Document, fields []string) []Document {
	if len(fields) == 0 {
		return docs
	}
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		out = append(out, pick(doc, fields))
	}
	return out
}

func sortDocuments(docs []Document, keys []SortKey) {
	if len(keys) == 0 {
		return
	}
	slices.SortStableFunc(docs, func(a, b Document) int {
		for _, key := range keys {
			av, _ := a.Get(key.Field)
			bv, _ := b.Get(key.Field)
			c := Compare(av, bv)
			if c == 0 {
				continue
			}
			if key.Desc {
				return -c
			}
			return c
		}
		return 0
	})
}

func count(docs []Document, as string) []Document {
	if len(docs) == 0 {
		return nil
	}
	if as == "" {
		as = DefaultCountField
	}
	return []Document{{as: int64(len(docs))}}
}
