package query

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func mustExecutor(t *testing.T, engine Engine) *Executor {
	t.Helper()
	exec, err := NewExecutor(engine)
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	return exec
}

func listProducts(t *testing.T, exec *Executor, values url.Values, access Access) ([]Document, int64, int) {
	t.Helper()
	desc, err := Compile(values, EntityProducts, access)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	plan, err := NewBuilder(nil).Build(desc)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	env, err := exec.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(env.Items) > env.PageSize {
		t.Fatalf("page holds %d items above pageSize %d", len(env.Items), env.PageSize)
	}
	return env.Items, env.TotalCount, env.TotalPages
}

func TestExecutePriceSortedPages(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	products := make([]Document, 0, 25)
	for i := 0; i < 25; i++ {
		products = append(products, Document{
			IDField:     fmt.Sprintf("p-%02d", i),
			"title":     fmt.Sprintf("Product %02d", i),
			"price":     decimal.NewFromInt(int64((i*7)%25 + 1)),
			"published": true,
			"createdAt": base.Add(time.Duration(i) * time.Minute),
		})
	}
	exec := mustExecutor(t, &stubStore{collections: map[string][]Document{"products": products}})

	items, total, pages := listProducts(t, exec, url.Values{"pageSize": {"10"}, "sortBy": {"price-low-high"}}, Access{})
	if total != 25 || pages != 3 {
		t.Fatalf("expected 25 items over 3 pages, got %d/%d", total, pages)
	}
	if len(items) != 10 {
		t.Fatalf("expected 10 items on page 1, got %d", len(items))
	}
	for i := 1; i < len(items); i++ {
		if Compare(items[i-1]["price"], items[i]["price"]) > 0 {
			t.Fatalf("prices not ascending at %d: %v > %v", i, items[i-1]["price"], items[i]["price"])
		}
	}

	last, _, _ := listProducts(t, exec, url.Values{"page": {"3"}, "pageSize": {"10"}, "sortBy": {"price-low-high"}}, Access{})
	if len(last) != 5 {
		t.Fatalf("expected 5 items on page 3, got %d", len(last))
	}
}

func TestExecutePagesConcatenateToTotal(t *testing.T) {
	store := newCatalogStore()
	store.collections["products"][4]["published"] = false
	exec := mustExecutor(t, store)

	for _, size := range []int{1, 3, 4, 10} {
		seen := map[string]struct{}{}
		_, total, pages := listProducts(t, exec, url.Values{"pageSize": {strconv.Itoa(size)}}, Access{})
		for page := 1; page <= pages; page++ {
			items, _, _ := listProducts(t, exec, url.Values{"page": {strconv.Itoa(page)}, "pageSize": {strconv.Itoa(size)}}, Access{})
			for _, item := range items {
				if _, dup := seen[item.ID()]; dup {
					t.Fatalf("pageSize %d: duplicate %s", size, item.ID())
				}
				seen[item.ID()] = struct{}{}
			}
		}
		if int64(len(seen)) != total || total != 9 {
			t.Fatalf("pageSize %d: expected 9 unique items, got %d (total %d)", size, len(seen), total)
		}
		beyond, _, _ := listProducts(t, exec, url.Values{"page": {strconv.Itoa(pages + 1)}, "pageSize": {strconv.Itoa(size)}}, Access{})
		if len(beyond) != 0 {
			t.Fatalf("pageSize %d: expected empty page past the end, got %d items", size, len(beyond))
		}
	}
}

func TestExecuteFarPagesAreEmpty(t *testing.T) {
	exec := mustExecutor(t, newCatalogStore())

	items, total, _ := listProducts(t, exec, url.Values{"page": {"922337203685477580"}, "pageSize": {"10"}}, Access{IsAdmin: true})
	if total != 10 || len(items) != 0 {
		t.Fatalf("expected an empty page over 10 rows, got %d items (total %d)", len(items), total)
	}

	_, err := Compile(url.Values{"page": {"1844674407370955162"}, "pageSize": {"10"}}, EntityProducts, Access{IsAdmin: true})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected overflowing page to be rejected, got %v", err)
	}
}

func TestExecuteCategorySlugFilter(t *testing.T) {
	exec := mustExecutor(t, newCatalogStore())
	for _, values := range []url.Values{
		{"category": {"electronics"}},
		{"category": {"electronics"}, "page": {"2"}, "pageSize": {"2"}},
		{"category": {"electronics"}, "page": {"9"}, "pageSize": {"50"}},
	} {
		items, total, _ := listProducts(t, exec, values, Access{})
		if total != 3 {
			t.Fatalf("%v: expected totalCount 3, got %d", values, total)
		}
		for _, item := range items {
			if slug, _ := item.Get("category.slug"); slug != "electronics" {
				t.Fatalf("unexpected category %v", slug)
			}
		}
	}
}

func TestExecuteVisibilityInvariant(t *testing.T) {
	store := newCatalogStore()
	for i, doc := range store.collections["products"] {
		doc["published"] = i%2 == 0
	}
	exec := mustExecutor(t, store)

	for _, values := range []url.Values{
		{},
		{"isAdmin": {"true"}},
		{"search": {"item"}, "category": {"electronics"}},
	} {
		items, total, _ := listProducts(t, exec, values, Access{})
		if total != 5 && values.Get("category") == "" {
			t.Fatalf("%v: expected 5 published, got %d", values, total)
		}
		for _, item := range items {
			if item["published"] != true {
				t.Fatalf("%v: unpublished item %s leaked", values, item.ID())
			}
		}
	}

	_, total, _ := listProducts(t, exec, url.Values{}, Access{IsAdmin: true})
	if total != 10 {
		t.Fatalf("expected admin to see 10 products, got %d", total)
	}
}

func TestExecuteEmptyCountIsZero(t *testing.T) {
	exec := mustExecutor(t, newCatalogStore())
	items, total, pages := listProducts(t, exec, url.Values{"search": {"nothing matches"}}, Access{})
	if total != 0 || pages != 0 || items == nil || len(items) != 0 {
		t.Fatalf("expected empty envelope, got items=%v total=%d pages=%d", items, total, pages)
	}
}

func TestExecuteStorageFailureIsFatal(t *testing.T) {
	exec := mustExecutor(t, &stubStore{err: errors.New("connection reset")})
	plan, err := NewBuilder(nil).Build(Descriptor{Entity: EntityCategories})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := exec.Execute(context.Background(), plan); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestNewExecutorRequiresEngine(t *testing.T) {
	if _, err := NewExecutor(nil); err == nil {
		t.Fatalf("expected error for nil engine")
	}
}
