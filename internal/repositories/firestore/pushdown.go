package firestore

import (
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	pfirestore "github.com/emart/api/internal/platform/firestore"
	"github.com/emart/api/internal/query"
)

// Filter is a field filter evaluated by Firestore.
type Filter struct {
	Path  string
	Op    string
	Value any
}

func (f Filter) apply(q firestore.Query) firestore.Query {
	return q.Where(f.Path, f.Op, f.Value)
}

// SplitPushdown separates the filters Firestore can evaluate from the stages that must run in
// process. Only the leading run of Match stages is considered; within it every Eq and the first
// bounded In are pushed, and what remains of each predicate stays in place.
func SplitPushdown(stages []query.Stage) ([]Filter, []query.Stage) {
	var (
		filters []Filter
		rest    = make([]query.Stage, 0, len(stages))
		usedIn  bool
		i       int
	)
	for ; i < len(stages); i++ {
		match, ok := stages[i].(query.Match)
		if !ok {
			break
		}
		pushed, residual := splitPredicate(match.Predicate, &usedIn)
		filters = append(filters, pushed...)
		if residual != nil {
			rest = append(rest, query.Match{Predicate: residual})
		}
	}
	return filters, append(rest, stages[i:]...)
}

func splitPredicate(pred query.Predicate, usedIn *bool) ([]Filter, query.Predicate) {
	switch p := pred.(type) {
	case query.Eq:
		if p.Field != "" && pushable(p.Value) {
			return []Filter{{Path: p.Field, Op: "==", Value: pfirestore.EncodeValue(p.Value)}}, nil
		}
	case query.In:
		if *usedIn || p.Field == "" || len(p.Values) == 0 || len(p.Values) > maxInValues {
			return nil, pred
		}
		values := make([]any, 0, len(p.Values))
		for _, value := range p.Values {
			if !pushable(value) {
				return nil, pred
			}
			values = append(values, pfirestore.EncodeValue(value))
		}
		*usedIn = true
		return []Filter{{Path: p.Field, Op: "in", Value: values}}, nil
	case query.And:
		var (
			filters  []Filter
			residual []query.Predicate
		)
		for _, term := range p.Terms {
			pushed, rest := splitPredicate(term, usedIn)
			filters = append(filters, pushed...)
			if rest != nil {
				residual = append(residual, rest)
			}
		}
		if len(residual) == 0 {
			return filters, nil
		}
		return filters, query.AllOf(residual...)
	}
	return nil, pred
}

// pushable reports whether Firestore equality gives the same answer as query.Equal for value.
// Nulls are excluded because Firestore does not match missing fields against null.
func pushable(value any) bool {
	switch value.(type) {
	case string, bool, int, int32, int64, float64, decimal.Decimal, time.Time:
		return true
	default:
		return false
	}
}
