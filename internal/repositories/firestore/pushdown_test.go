package firestore

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/emart/api/internal/query"
)

func TestSplitPushdownLeadingMatches(t *testing.T) {
	search := query.AnyOf([]string{"title", "description"}, "lamp")
	stages := []query.Stage{
		query.Match{Predicate: query.Eq{Field: "published", Value: true}},
		query.Match{Predicate: search},
		query.Match{Predicate: query.AllOf(query.Eq{Field: "subCategory", Value: "Lighting"}, query.Contains{Field: "brand", Substring: "a"})},
		query.CategoryJoin,
		query.Match{Predicate: query.Eq{Field: "category.slug", Value: "home"}},
		query.Count{As: "n"},
	}

	filters, rest := SplitPushdown(stages)

	wantFilters := []Filter{
		{Path: "published", Op: "==", Value: true},
		{Path: "subCategory", Op: "==", Value: "Lighting"},
	}
	if diff := cmp.Diff(wantFilters, filters); diff != "" {
		t.Fatalf("unexpected filters (-want +got):\n%s", diff)
	}

	wantRest := []query.Stage{
		query.Match{Predicate: search},
		query.Match{Predicate: query.Contains{Field: "brand", Substring: "a"}},
		query.CategoryJoin,
		query.Match{Predicate: query.Eq{Field: "category.slug", Value: "home"}},
		query.Count{As: "n"},
	}
	if diff := cmp.Diff(wantRest, rest); diff != "" {
		t.Fatalf("unexpected residual stages (-want +got):\n%s", diff)
	}
}

func TestSplitPushdownSingleIn(t *testing.T) {
	stages := []query.Stage{
		query.Match{Predicate: query.In{Field: "status", Values: []any{"Placed", "Pending"}}},
		query.Match{Predicate: query.In{Field: "customerId", Values: []any{"u1"}}},
		query.Match{Predicate: query.Eq{Field: "completedAt", Value: nil}},
	}

	filters, rest := SplitPushdown(stages)
	if len(filters) != 1 || filters[0].Op != "in" || filters[0].Path != "status" {
		t.Fatalf("expected a single in filter, got %+v", filters)
	}
	if len(rest) != 2 {
		t.Fatalf("expected second in and null match to stay in process, got %+v", rest)
	}
}

func TestSplitPushdownFullyPushedCount(t *testing.T) {
	filters, rest := SplitPushdown([]query.Stage{
		query.Match{Predicate: query.Eq{Field: "status", Value: "Delivered"}},
		query.Count{As: query.DefaultCountField},
	})
	if len(filters) != 1 {
		t.Fatalf("expected one filter, got %+v", filters)
	}
	if diff := cmp.Diff([]query.Stage{query.Count{As: query.DefaultCountField}}, rest); diff != "" {
		t.Fatalf("unexpected rest (-want +got):\n%s", diff)
	}
}
