package repositories

import (
	"context"

	"github.com/emart/api/internal/query"
	"github.com/emart/api/internal/relations"
)

// LoaderLookup serves join stages straight from a loader, without caching. The first document per
// key wins.
type LoaderLookup struct {
	Loader relations.Loader
}

var _ query.Lookup = LoaderLookup{}

// Resolve implements query.Lookup.
func (l LoaderLookup) Resolve(ctx context.Context, collection, field string, keys []string) (map[string]query.Document, error) {
	if field == "" {
		field = query.IDField
	}
	docs, err := l.Loader.LoadBy(ctx, collection, field, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string]query.Document, len(docs))
	for _, doc := range docs {
		value, _ := doc.Get(field)
		if key, ok := query.AsString(value); ok {
			if _, dup := out[key]; !dup {
				out[key] = doc
			}
		}
	}
	return out, nil
}
