package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emart/api/internal/query"
	"github.com/emart/api/internal/repositories"
	"github.com/emart/api/internal/repositories/memory"
)

type testBackend struct {
	store    *memory.Store
	registry repositories.Registry
	executor *query.Executor
}

func newTestBackend(t *testing.T, seed string) testBackend {
	t.Helper()
	store := memory.NewStore()
	if seed != "" {
		if err := store.LoadSeed(context.Background(), strings.NewReader(seed)); err != nil {
			t.Fatalf("load seed: %v", err)
		}
	}
	registry, err := repositories.NewRegistry(store, nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	executor, err := query.NewExecutor(store)
	if err != nil {
		t.Fatalf("executor: %v", err)
	}
	return testBackend{store: store, registry: registry, executor: executor}
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

type logEntry struct {
	event  string
	fields map[string]any
}

type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *captureLogger) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{event: event, fields: fields})
}

func (l *captureLogger) find(event string) (logEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.entries {
		if entry.event == event {
			return entry, true
		}
	}
	return logEntry{}, false
}
