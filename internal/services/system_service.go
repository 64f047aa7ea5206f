package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emart/api/internal/domain"
	"github.com/emart/api/internal/relations"
	"github.com/emart/api/internal/repositories"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// RelationCacheInspector reports relation cache occupancy per collection.
type RelationCacheInspector interface {
	Stats() map[string]relations.CollectionStats
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	// Relations is optional; when nil the report carries no cache section.
	Relations     RelationCacheInspector
	StorageDriver string
	Clock         func() time.Time
	Build         BuildInfo
}

type systemService struct {
	health    repositories.HealthRepository
	relations RelationCacheInspector
	driver    string
	clock     func() time.Time
	build     BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service behind the readiness probe.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}
	return &systemService{
		health:    deps.HealthRepository,
		relations: deps.Relations,
		driver:    deps.StorageDriver,
		clock:     func() time.Time { return clock().UTC() },
		build:     build,
	}, nil
}

// HealthReport probes the storage backend and the extra dependencies, then describes the running
// build, the active storage driver and the relation cache. Without a collected status the worst
// check status wins.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	collected, err := s.health.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, fmt.Errorf("system service: collect health: %w", err)
	}

	now := s.clock()
	report := SystemHealthReport{
		Status:        collected.Status,
		Checks:        collected.Checks,
		StorageDriver: s.driver,
		Version:       s.build.Version,
		CommitSHA:     s.build.CommitSHA,
		Environment:   s.build.Environment,
		Uptime:        now.Sub(s.build.StartedAt),
		GeneratedAt:   now,
	}
	if report.Status == "" {
		report.Status = worstStatus(report.Checks)
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	if s.relations != nil {
		report.RelationCache = relationCacheStats(s.relations.Stats(), now)
	}
	return report, nil
}

func relationCacheStats(stats map[string]relations.CollectionStats, now time.Time) map[string]domain.RelationCacheStats {
	out := make(map[string]domain.RelationCacheStats, len(stats))
	for collection, st := range stats {
		entry := domain.RelationCacheStats{Entries: st.Entries, Expired: st.Expired}
		if !st.OldestLoadedAt.IsZero() && now.After(st.OldestLoadedAt) {
			entry.OldestAge = now.Sub(st.OldestLoadedAt)
		}
		out[collection] = entry
	}
	return out
}

// worstStatus ranks error above degraded above ok; unknown statuses count as degraded.
func worstStatus(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusOK, "":
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
