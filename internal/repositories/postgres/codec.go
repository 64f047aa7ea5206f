package postgres

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/emart/api/internal/query"
)

// encodeJSON renders a value as stored in the data column: decimals as exact JSON numbers and
// timestamps as query.TimeLayout strings.
func encodeJSON(value any) ([]byte, error) {
	return json.Marshal(normalize(value))
}

func normalize(value any) any {
	switch v := value.(type) {
	case decimal.Decimal:
		return json.Number(v.String())
	case *decimal.Decimal:
		if v == nil {
			return nil
		}
		return json.Number(v.String())
	case time.Time:
		return query.FormatTime(v)
	case *time.Time:
		if v == nil {
			return nil
		}
		return query.FormatTime(*v)
	case query.Document:
		return normalizeMap(v)
	case map[string]any:
		return normalizeMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalize(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeMap(item)
		}
		return out
	case []query.Document:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeMap(item)
		}
		return out
	default:
		return value
	}
}

func normalizeMap(src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	for key, value := range src {
		out[key] = normalize(value)
	}
	return out
}

// decodeDocument parses a data column, keeping numbers as json.Number so that money round-trips
// without float conversion.
func decodeDocument(raw []byte) (query.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("postgres: decode document: %w", err)
	}
	return query.Document(doc), nil
}

func isNumber(value any) bool {
	if value == nil {
		return false
	}
	if _, ok := value.(string); ok {
		return false
	}
	_, ok := query.AsDecimal(value)
	return ok
}

func textBound(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case time.Time:
		return query.FormatTime(v), nil
	case *time.Time:
		if v != nil {
			return query.FormatTime(*v), nil
		}
	}
	return "", fmt.Errorf("unsupported bound %T", value)
}
