package handlers

import (
	"net/http"
	"sort"
	"time"

	"github.com/emart/api/internal/domain"
	"github.com/emart/api/internal/platform/httpx"
	"github.com/emart/api/internal/services"
)

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	clock  func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthSystemService sets the service whose report backs /readyz.
func WithHealthSystemService(system services.SystemService) HealthOption {
	return func(h *HealthHandlers) { h.system = system }
}

// WithHealthBuildInfo sets the build metadata reported by /healthz.
func WithHealthBuildInfo(build services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) { h.build = build }
}

// WithHealthClock overrides time.Now.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs HealthHandlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

type healthResponse struct {
	Status      string                          `json:"status"`
	Version     string                          `json:"version,omitempty"`
	CommitSHA   string                          `json:"commitSha,omitempty"`
	Environment string                          `json:"environment,omitempty"`
	Uptime      string                          `json:"uptime"`
	Timestamp   time.Time                       `json:"timestamp"`
	Checks      map[string]healthCheckResponse  `json:"checks,omitempty"`
	Details     []string                        `json:"details,omitempty"`
	Storage     string                          `json:"storage,omitempty"`
	Relations   map[string]relationCachePayload `json:"relationCache,omitempty"`
}

type relationCachePayload struct {
	Entries     int   `json:"entries"`
	Expired     int   `json:"expired"`
	OldestAgeMS int64 `json:"oldestAgeMs"`
}

type healthCheckResponse struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

// Healthz reports liveness without touching dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	httpx.WriteJSON(w, http.StatusOK, healthResponse{
		Status:      domain.HealthStatusOK,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).Round(time.Second).String(),
		Timestamp:   now,
	})
}

// Readyz probes dependencies through the system service and answers 503 unless every check is ok.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		h.Healthz(w, r)
		return
	}

	report, err := h.system.HealthReport(r.Context())
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("health_check_failed", "unable to collect health report", http.StatusServiceUnavailable))
		return
	}

	resp := healthResponse{
		Status:      report.Status,
		Version:     report.Version,
		CommitSHA:   report.CommitSHA,
		Environment: report.Environment,
		Uptime:      report.Uptime.Round(time.Second).String(),
		Timestamp:   h.clock().UTC(),
		Checks:      make(map[string]healthCheckResponse, len(report.Checks)),
		Storage:     report.StorageDriver,
	}
	if len(report.RelationCache) > 0 {
		resp.Relations = make(map[string]relationCachePayload, len(report.RelationCache))
		for collection, stats := range report.RelationCache {
			resp.Relations[collection] = relationCachePayload{
				Entries:     stats.Entries,
				Expired:     stats.Expired,
				OldestAgeMS: stats.OldestAge.Milliseconds(),
			}
		}
	}

	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := report.Checks[name]
		resp.Checks[name] = healthCheckResponse{
			Status:    check.Status,
			Detail:    check.Detail,
			Error:     check.Error,
			LatencyMS: check.Latency.Milliseconds(),
		}
		if check.Status != domain.HealthStatusOK && check.Error != "" {
			resp.Details = append(resp.Details, name+": "+check.Error)
		}
	}

	status := http.StatusOK
	if report.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, resp)
}
