package secrets

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestResolverCachesSecretManagerValue(t *testing.T) {
	ctx := context.Background()
	client := newFakeAccessClient()
	resource := "projects/shop/secrets/postgres_dsn/versions/latest"
	client.values[resource] = "postgres://remote"

	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	resolver, err := NewResolver(ctx,
		withClient(client),
		WithProject("shop"),
		WithFallbackFile(""),
		withClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	defer resolver.Close()

	for i := 0; i < 2; i++ {
		got, err := resolver.ResolveSecret(ctx, "secret://postgres_dsn")
		if err != nil {
			t.Fatalf("ResolveSecret: %v", err)
		}
		if got != "postgres://remote" {
			t.Fatalf("expected remote value, got %q", got)
		}
	}
	if calls := client.calls(resource); calls != 1 {
		t.Fatalf("expected one remote call, got %d", calls)
	}

	now = now.Add(DefaultCacheTTL + time.Second)
	if _, err := resolver.ResolveSecret(ctx, "secret://postgres_dsn"); err != nil {
		t.Fatalf("ResolveSecret after expiry: %v", err)
	}
	if calls := client.calls(resource); calls != 2 {
		t.Fatalf("expected refetch after ttl, got %d calls", calls)
	}

	resolver.Forget("sm://postgres_dsn")
	if _, err := resolver.ResolveSecret(ctx, "secret://postgres_dsn"); err != nil {
		t.Fatalf("ResolveSecret after forget: %v", err)
	}
	if calls := client.calls(resource); calls != 3 {
		t.Fatalf("expected refetch after forget, got %d calls", calls)
	}
}

func TestResolverHonoursVersionAndProject(t *testing.T) {
	ctx := context.Background()
	client := newFakeAccessClient()
	client.values["projects/other/secrets/dsn/versions/3"] = "pinned"

	resolver, err := NewResolver(ctx, withClient(client), WithProject("shop"), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	got, err := resolver.ResolveSecret(ctx, "secret://dsn?version=3&project=other")
	if err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	if got != "pinned" {
		t.Fatalf("expected pinned value, got %q", got)
	}
}

func TestResolverFallsBackWhenDenied(t *testing.T) {
	ctx := context.Background()
	path := writeFallback(t, "# local overrides\nsecret://postgres_dsn=postgres://local\nsecret://token?version=2=abc\n")

	client := newFakeAccessClient()
	client.errs["projects/shop/secrets/postgres_dsn/versions/latest"] = status.Error(codes.PermissionDenied, "denied")

	resolver, err := NewResolver(ctx, withClient(client), WithProject("shop"), WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	got, err := resolver.ResolveSecret(ctx, "secret://postgres_dsn")
	if err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	if got != "postgres://local" {
		t.Fatalf("expected fallback value, got %q", got)
	}
}

func TestResolverDoesNotFallBackOnNotFound(t *testing.T) {
	ctx := context.Background()
	path := writeFallback(t, "secret://postgres_dsn=postgres://local\n")

	resolver, err := NewResolver(ctx, withClient(newFakeAccessClient()), WithProject("shop"), WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	if _, err := resolver.ResolveSecret(ctx, "secret://postgres_dsn"); err == nil || !strings.Contains(err.Error(), "postgres_dsn") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestResolverWithoutProjectUsesFallbackOnly(t *testing.T) {
	ctx := context.Background()
	path := writeFallback(t, "secret://token?version=2=abc\n")

	resolver, err := NewResolver(ctx, WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	got, err := resolver.ResolveSecret(ctx, "secret://token?version=2")
	if err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	if got != "abc" {
		t.Fatalf("expected versioned fallback, got %q", got)
	}
	if _, err := resolver.ResolveSecret(ctx, "secret://missing"); err == nil {
		t.Fatalf("expected error for unknown secret")
	}
	if _, err := resolver.ResolveSecret(ctx, "https://example.com"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func writeFallback(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	return path
}

type fakeAccessClient struct {
	mu      sync.Mutex
	values  map[string]string
	errs    map[string]error
	counter map[string]int
}

func newFakeAccessClient() *fakeAccessClient {
	return &fakeAccessClient{
		values:  map[string]string{},
		errs:    map[string]error{},
		counter: map[string]int{},
	}
}

func (f *fakeAccessClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counter[req.GetName()]++
	if err := f.errs[req.GetName()]; err != nil {
		return nil, err
	}
	if value, ok := f.values[req.GetName()]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{
			Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
		}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (f *fakeAccessClient) Close() error { return nil }

func (f *fakeAccessClient) calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter[name]
}
