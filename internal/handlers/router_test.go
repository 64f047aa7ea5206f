package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/emart/api/internal/domain"
	"github.com/emart/api/internal/platform/auth"
	"github.com/emart/api/internal/services"
)

func pingRoutes(r chi.Router) {
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func newTestRouter(opts ...Option) http.Handler {
	base := []Option{
		WithMiddlewares(auth.NewHeaderAuthenticator().TrustedHeaders),
		WithPublicRoutes(pingRoutes),
		WithMeRoutes(pingRoutes),
		WithAdminRoutes(pingRoutes),
	}
	return NewRouter(append(base, opts...)...)
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestNewRouterHealthProbes(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	health := NewHealthHandlers(
		WithHealthSystemService(&stubSystemService{
			report: services.SystemHealthReport{
				Status:      domain.HealthStatusOK,
				GeneratedAt: now,
				Checks: map[string]domain.SystemHealthCheck{
					"storage": {Status: domain.HealthStatusOK},
				},
			},
		}),
		WithHealthClock(func() time.Time { return now }),
	)
	router := newTestRouter(WithHealthHandlers(health))

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := serve(router, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", path, rr.Code, rr.Body.String())
		}
	}
}

func TestNewRouterUnknownRouteIsJSON(t *testing.T) {
	router := newTestRouter()

	rr := serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "route_not_found" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["request_id"] == "" || body["request_id"] == nil {
		t.Fatalf("expected request id in error body, got %v", body)
	}

	rr = serve(router, httptest.NewRequest(http.MethodPost, "/api/v1/ping", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestNewRouterAccessBoundaries(t *testing.T) {
	router := newTestRouter()

	cases := []struct {
		name  string
		path  string
		user  string
		roles string
		want  int
	}{
		{name: "public anonymous", path: "/api/v1/ping", want: http.StatusNoContent},
		{name: "me anonymous", path: "/api/v1/me/ping", want: http.StatusUnauthorized},
		{name: "me customer", path: "/api/v1/me/ping", user: "u1", want: http.StatusNoContent},
		{name: "admin anonymous", path: "/api/v1/admin/ping", want: http.StatusUnauthorized},
		{name: "admin customer", path: "/api/v1/admin/ping", user: "u1", want: http.StatusForbidden},
		{name: "admin admin", path: "/api/v1/admin/ping", user: "a1", roles: "admin", want: http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.user != "" {
				req.Header.Set(auth.DefaultUserHeader, tc.user)
			}
			if tc.roles != "" {
				req.Header.Set(auth.DefaultRolesHeader, tc.roles)
			}
			if rr := serve(router, req); rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}
}

func TestNewRouterRateLimitsPublicRoutes(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	router := newTestRouter(
		WithRateLimits(RateLimits{PublicPerMinute: 1, AuthenticatedPerMinute: 1, Burst: 1}),
		WithClock(func() time.Time { return now }),
	)

	call := func(path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "192.0.2.10:5000"
		return serve(router, req).Code
	}
	if code := call("/api/v1/ping"); code != http.StatusNoContent {
		t.Fatalf("first call: expected 204, got %d", code)
	}
	if code := call("/api/v1/ping"); code != http.StatusTooManyRequests {
		t.Fatalf("second call: expected 429, got %d", code)
	}
	if code := call("/healthz"); code == http.StatusTooManyRequests {
		t.Fatalf("probes must not be rate limited")
	}
}
