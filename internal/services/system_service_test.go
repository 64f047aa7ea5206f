package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/emart/api/internal/domain"
	"github.com/emart/api/internal/relations"
	"github.com/emart/api/internal/repositories"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
	calls  int
}

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	s.calls++
	return s.report, s.err
}

var _ repositories.HealthRepository = (*stubHealthRepository)(nil)

type stubCacheInspector map[string]relations.CollectionStats

func (s stubCacheInspector) Stats() map[string]relations.CollectionStats { return s }

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected error when the health repository is missing")
	}
}

func TestSystemServiceReportsStorageAndRelationCache(t *testing.T) {
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	now := start.Add(10 * time.Minute)
	repo := &stubHealthRepository{report: domain.SystemHealthReport{
		Status: domain.HealthStatusOK,
		Checks: map[string]domain.SystemHealthCheck{"storage": {Status: domain.HealthStatusOK}},
	}}
	cache := stubCacheInspector{
		"categories": {Entries: 4, Expired: 1, OldestLoadedAt: now.Add(-90 * time.Second)},
		"products":   {Entries: 2},
	}

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Relations:        cache,
		StorageDriver:    "postgres",
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: "2.4.0", CommitSHA: "f00d", Environment: "staging", StartedAt: start},
	})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("health report: %v", err)
	}
	if report.StorageDriver != "postgres" || report.Status != domain.HealthStatusOK {
		t.Fatalf("unexpected report header %+v", report)
	}
	if report.Version != "2.4.0" || report.Environment != "staging" || report.Uptime != 10*time.Minute || !report.GeneratedAt.Equal(now) {
		t.Fatalf("unexpected build metadata %+v", report)
	}
	want := map[string]domain.RelationCacheStats{
		"categories": {Entries: 4, Expired: 1, OldestAge: 90 * time.Second},
		"products":   {Entries: 2},
	}
	if diff := cmp.Diff(want, report.RelationCache); diff != "" {
		t.Fatalf("relation cache mismatch (-want +got):\n%s", diff)
	}
	if repo.calls != 1 {
		t.Fatalf("expected one collect call, got %d", repo.calls)
	}
}

func TestSystemServiceStatus(t *testing.T) {
	cases := []struct {
		name   string
		report domain.SystemHealthReport
		want   string
	}{
		{name: "no checks", want: domain.HealthStatusOK},
		{
			name: "collected status kept",
			report: domain.SystemHealthReport{
				Status: domain.HealthStatusError,
				Checks: map[string]domain.SystemHealthCheck{"storage": {Status: domain.HealthStatusDegraded}},
			},
			want: domain.HealthStatusError,
		},
		{
			name: "degraded derived",
			report: domain.SystemHealthReport{Checks: map[string]domain.SystemHealthCheck{
				"pubsub":  {Status: domain.HealthStatusDegraded},
				"storage": {Status: domain.HealthStatusOK},
			}},
			want: domain.HealthStatusDegraded,
		},
		{
			name: "error wins",
			report: domain.SystemHealthReport{Checks: map[string]domain.SystemHealthCheck{
				"pubsub":  {Status: domain.HealthStatusDegraded},
				"storage": {Status: domain.HealthStatusError},
			}},
			want: domain.HealthStatusError,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{report: tc.report}})
			if err != nil {
				t.Fatalf("new system service: %v", err)
			}
			report, err := svc.HealthReport(context.Background())
			if err != nil {
				t.Fatalf("health report: %v", err)
			}
			if report.Status != tc.want {
				t.Fatalf("expected status %s, got %s", tc.want, report.Status)
			}
			if report.Checks == nil {
				t.Fatalf("expected non-nil checks")
			}
			if report.RelationCache != nil {
				t.Fatalf("expected no cache section without an inspector, got %v", report.RelationCache)
			}
		})
	}
}

func TestSystemServiceCollectError(t *testing.T) {
	boom := errors.New("collect failed")
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{err: boom}})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped collect error, got %v", err)
	}
}
