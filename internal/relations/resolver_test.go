package relations

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/emart/api/internal/query"
)

type stubLoader struct {
	mu    sync.Mutex
	docs  map[string][]query.Document
	calls [][]string
	err   error
}

func (s *stubLoader) LoadBy(_ context.Context, collection, field string, keys []string) ([]query.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, slices.Clone(keys))
	if s.err != nil {
		return nil, s.err
	}
	var out []query.Document
	for _, doc := range s.docs[collection] {
		value, _ := query.AsString(doc[field])
		if slices.Contains(keys, value) {
			out = append(out, doc.Clone())
		}
	}
	return out, nil
}

func newStubLoader() *stubLoader {
	return &stubLoader{docs: map[string][]query.Document{
		"categories": {
			{query.IDField: "c1", "name": "Electronics", "slug": "electronics"},
			{query.IDField: "c2", "name": "Home", "slug": "home"},
		},
	}}
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func TestResolveBatchesAndToleratesMissing(t *testing.T) {
	loader := newStubLoader()
	resolver, err := NewResolver(loader)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	got, err := resolver.Resolve(context.Background(), "categories", query.IDField, []string{"c1", "c2", "c1", "missing", ""})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(loader.calls) != 1 {
		t.Fatalf("expected a single batch, got %d calls", len(loader.calls))
	}
	if len(loader.calls[0]) != 3 {
		t.Fatalf("expected deduplicated keys, got %v", loader.calls[0])
	}
	if got["c1"]["name"] != "Electronics" || got["c2"]["name"] != "Home" {
		t.Fatalf("unexpected resolution: %v", got)
	}
	if _, ok := got["missing"]; ok {
		t.Fatalf("missing key must be absent")
	}
}

func TestResolveServesFromCacheUntilExpiry(t *testing.T) {
	loader := newStubLoader()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	resolver, err := NewResolver(loader, WithTTL(time.Minute), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	ctx := context.Background()

	if _, err := resolver.Resolve(ctx, "categories", "slug", []string{"home", "garden"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	got, err := resolver.Resolve(ctx, "categories", "slug", []string{"home", "garden"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(loader.calls) != 1 {
		t.Fatalf("expected cached second call, got %d loads", len(loader.calls))
	}
	if got["home"].ID() != "c2" {
		t.Fatalf("unexpected cached doc: %v", got["home"])
	}

	got["home"]["name"] = "mutated"
	again, _ := resolver.Resolve(ctx, "categories", "slug", []string{"home"})
	if again["home"]["name"] != "Home" {
		t.Fatalf("cache entry was mutated through returned copy")
	}

	clock.now = clock.now.Add(2 * time.Minute)
	if _, err := resolver.Resolve(ctx, "categories", "slug", []string{"home"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(loader.calls) != 2 {
		t.Fatalf("expected reload after expiry, got %d loads", len(loader.calls))
	}
}

func TestResolveWithoutCaching(t *testing.T) {
	loader := newStubLoader()
	resolver, err := NewResolver(loader, WithTTL(0))
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := resolver.Resolve(context.Background(), "categories", "", []string{"c1"}); err != nil {
			t.Fatalf("resolve: %v", err)
		}
	}
	if len(loader.calls) != 2 || resolver.Len() != 0 {
		t.Fatalf("expected uncached loads, got %d calls and %d entries", len(loader.calls), resolver.Len())
	}
}

func TestInvalidateByDocumentID(t *testing.T) {
	loader := newStubLoader()
	resolver, _ := NewResolver(loader)
	ctx := context.Background()

	_, _ = resolver.Resolve(ctx, "categories", "slug", []string{"electronics"})
	_, _ = resolver.Resolve(ctx, "categories", query.IDField, []string{"c1", "c2"})
	if resolver.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", resolver.Len())
	}

	resolver.Invalidate("categories", "c1")
	if resolver.Len() != 1 {
		t.Fatalf("expected entries for c1 under both fields dropped, got %d left", resolver.Len())
	}

	resolver.Invalidate("categories")
	if resolver.Len() != 0 {
		t.Fatalf("expected collection dropped, got %d left", resolver.Len())
	}
}

func TestRefreshReloadsCachedKeys(t *testing.T) {
	loader := newStubLoader()
	resolver, _ := NewResolver(loader)
	ctx := context.Background()

	_, _ = resolver.Resolve(ctx, "categories", query.IDField, []string{"c1"})
	loader.docs["categories"][0]["name"] = "Gadgets"

	if err := resolver.Refresh(ctx, "categories"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	got, _ := resolver.Resolve(ctx, "categories", query.IDField, []string{"c1"})
	if got["c1"]["name"] != "Gadgets" {
		t.Fatalf("expected refreshed name, got %v", got["c1"]["name"])
	}
	if len(loader.calls) != 2 {
		t.Fatalf("expected initial load plus refresh, got %d", len(loader.calls))
	}
}

func TestResolveLoaderFailure(t *testing.T) {
	loader := newStubLoader()
	loader.err = errors.New("unavailable")
	resolver, _ := NewResolver(loader)
	if _, err := resolver.Resolve(context.Background(), "categories", "", []string{"c1"}); err == nil {
		t.Fatalf("expected loader error")
	}
	if resolver.Len() != 0 {
		t.Fatalf("failed loads must not populate the cache")
	}
}

func TestNewResolverRequiresLoader(t *testing.T) {
	if _, err := NewResolver(nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStatsReportsEntriesAndExpiry(t *testing.T) {
	loader := newStubLoader()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	resolver, err := NewResolver(loader, WithTTL(time.Minute), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	ctx := context.Background()

	if _, err := resolver.Resolve(ctx, "categories", "slug", []string{"home", "garden"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	clock.now = start.Add(90 * time.Second)
	if _, err := resolver.Resolve(ctx, "categories", query.IDField, []string{"c1"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	stats := resolver.Stats()
	got, ok := stats["categories"]
	if !ok || len(stats) != 1 {
		t.Fatalf("expected stats for categories only, got %v", stats)
	}
	if got.Entries != 3 || got.Expired != 2 {
		t.Fatalf("expected 3 entries with 2 expired, got %+v", got)
	}
	if !got.OldestLoadedAt.Equal(start) {
		t.Fatalf("expected oldest load at %s, got %s", start, got.OldestLoadedAt)
	}
}
