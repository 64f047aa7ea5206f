package query

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBuildPublicProductsInjectsVisibility(t *testing.T) {
	plan, err := NewBuilder(nil).Build(Descriptor{Entity: EntityProducts, Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	filters := plan.Filters()
	first, ok := filters[0].(Match)
	if !ok {
		t.Fatalf("expected visibility match first, got %T", filters[0])
	}
	if diff := cmp.Diff(Eq{Field: "published", Value: true}, first.Predicate); diff != "" {
		t.Fatalf("visibility mismatch (-want +got):\n%s", diff)
	}
	if plan.Collection != "products" {
		t.Fatalf("unexpected collection %q", plan.Collection)
	}
}

func TestBuildAdminSkipsVisibility(t *testing.T) {
	plan, err := NewBuilder(nil).Build(Descriptor{Entity: EntityProducts, IsAdmin: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, st := range plan.Filters() {
		if m, ok := st.(Match); ok {
			if eq, ok := m.Predicate.(Eq); ok && eq.Field == "published" {
				t.Fatalf("admin plan must not filter on published")
			}
		}
	}
}

func TestBuildStageOrder(t *testing.T) {
	desc := Descriptor{
		Entity:      EntityProducts,
		Page:        2,
		PageSize:    5,
		Search:      "phone",
		Category:    "electronics",
		SubCategory: "Mobiles",
		Sort:        []SortKey{{Field: "price"}},
	}
	plan, err := NewBuilder(nil).Build(desc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []Stage{
		Match{Predicate: Eq{Field: "published", Value: true}},
		Match{Predicate: Or{Terms: []Predicate{
			Contains{Field: "title", Substring: "phone"},
			Contains{Field: "description", Substring: "phone"},
		}}},
		CategoryJoin,
		Match{Predicate: Eq{Field: "category.slug", Value: "electronics"}},
		Match{Predicate: Eq{Field: "subCategory", Value: "Mobiles"}},
		Project{Fields: DefaultViews[EntityProducts].Fields},
		Sort{Keys: []SortKey{{Field: "price"}}},
		Skip{N: 5},
		Limit{N: 5},
	}
	if diff := cmp.Diff(want, plan.PageStages()); diff != "" {
		t.Fatalf("page stages mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildJoinsCategoryOnce(t *testing.T) {
	for _, category := range []string{"", "electronics"} {
		plan, err := NewBuilder(nil).Build(Descriptor{Entity: EntityProducts, Category: category})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		joins := 0
		for _, st := range plan.PageStages() {
			if _, ok := st.(Join); ok {
				joins++
			}
		}
		if joins != 1 {
			t.Fatalf("category %q: expected exactly one join, got %d", category, joins)
		}
	}
}

func TestBuildVariantsShareFilters(t *testing.T) {
	plan, err := NewBuilder(nil).Build(Descriptor{
		Entity:   EntityOrders,
		Page:     3,
		PageSize: 20,
		Search:   "lagos",
		Status:   "Pending",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	page := plan.PageStages()
	count := plan.CountStages()
	prefix := plan.Filters()

	if diff := cmp.Diff(prefix, page[:len(prefix)]); diff != "" {
		t.Fatalf("page prefix diverged (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(prefix, count[:len(prefix)]); diff != "" {
		t.Fatalf("count prefix diverged (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Count{As: DefaultCountField}, count[len(count)-1]); diff != "" {
		t.Fatalf("count terminal mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Stage{Sort{Keys: []SortKey{{Field: "createdAt", Desc: true}}}, Skip{N: 40}, Limit{N: 20}}, page[len(prefix):]); diff != "" {
		t.Fatalf("page terminal mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildVariantsDoNotAlias(t *testing.T) {
	plan, err := NewBuilder(nil).Build(Descriptor{Entity: EntityCategories, Search: "home"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	page := plan.PageStages()
	page[0] = Limit{N: 1}
	if _, ok := plan.CountStages()[0].(Match); !ok {
		t.Fatalf("mutating the page variant changed the count variant")
	}
}

func TestBuildCustomerAndWhereFilters(t *testing.T) {
	plan, err := NewBuilder(nil).Build(Descriptor{
		Entity:     EntityOrders,
		CustomerID: "user-1",
		Where:      []Predicate{Exists{Field: "completedAt", Present: true}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Stage{
		Match{Predicate: Eq{Field: "customerId", Value: "user-1"}},
		Match{Predicate: Exists{Field: "completedAt", Present: true}},
	}
	if diff := cmp.Diff(want, plan.Filters()); diff != "" {
		t.Fatalf("filters mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildUnknownEntity(t *testing.T) {
	if _, err := NewBuilder(nil).Build(Descriptor{Entity: "users"}); !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("expected unknown entity error, got %v", err)
	}
}

func TestBuildRejectsOverflowingWindow(t *testing.T) {
	desc := Descriptor{Entity: EntityProducts, Page: 1844674407370955162, PageSize: 10, IsAdmin: true}
	if _, err := NewBuilder(nil).Build(desc); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
