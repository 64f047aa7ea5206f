package firestore

import (
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	"github.com/emart/api/internal/query"
)

// EncodeDocument converts an engine document into Firestore values. The id field is dropped since it
// is the document name.
func EncodeDocument(doc query.Document) map[string]any {
	out := make(map[string]any, len(doc))
	for key, value := range doc {
		if key == query.IDField {
			continue
		}
		out[key] = EncodeValue(value)
	}
	return out
}

// EncodeValue converts a single value. Decimals are stored as doubles, which is the only numeric
// type Firestore can increment fractionally.
func EncodeValue(value any) any {
	switch v := value.(type) {
	case decimal.Decimal:
		return v.InexactFloat64()
	case *decimal.Decimal:
		if v == nil {
			return nil
		}
		return v.InexactFloat64()
	case time.Time:
		return v.UTC()
	case query.Document:
		return encodeMap(v)
	case map[string]any:
		return encodeMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = EncodeValue(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = encodeMap(item)
		}
		return out
	case []query.Document:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = encodeMap(item)
		}
		return out
	default:
		return value
	}
}

func encodeMap(src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	for key, value := range src {
		out[key] = EncodeValue(value)
	}
	return out
}

// DecodeSnapshot returns the snapshot data as an engine document keyed by the snapshot id. Missing
// snapshots decode to nil.
func DecodeSnapshot(snap *firestore.DocumentSnapshot) query.Document {
	if snap == nil || !snap.Exists() {
		return nil
	}
	data := snap.Data()
	doc := make(query.Document, len(data)+1)
	for key, value := range data {
		doc[key] = value
	}
	doc[query.IDField] = snap.Ref.ID
	return doc
}
