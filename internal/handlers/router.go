package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/emart/api/internal/platform/auth"
	"github.com/emart/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

type routerConfig struct {
	basePath    string
	timeout     time.Duration
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	limits      RateLimits
	clock       func() time.Time

	public []RouteRegistrar
	me     []RouteRegistrar
	admin  []RouteRegistrar
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	defaultAPIPrefix = "/api/v1"
	defaultTimeout   = 30 * time.Second
)

// NewRouter assembles the API: probes at the root, public storefront routes, customer routes under
// /me and admin routes under /admin. Public routes are rate limited per client.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: defaultAPIPrefix,
		timeout:  defaultTimeout,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.Use(middleware.Timeout(cfg.timeout))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	limiter := newRateLimiter(cfg.limits, cfg.clock)

	r.Route(cfg.basePath, func(api chi.Router) {
		api.Group(func(public chi.Router) {
			public.Use(limiter.middleware)
			for _, register := range cfg.public {
				register(public)
			}
		})
		api.Route("/me", func(me chi.Router) {
			me.Use(auth.RequireIdentity(), limiter.middleware)
			for _, register := range cfg.me {
				register(me)
			}
		})
		api.Route("/admin", func(admin chi.Router) {
			admin.Use(auth.RequireIdentity(auth.RoleAdmin))
			for _, register := range cfg.admin {
				register(admin)
			}
		})
	})

	return r
}

// WithMiddlewares appends global middleware. They run after request id assignment and before routing.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz endpoints.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithRateLimits enables per-client rate limiting on public and customer routes.
func WithRateLimits(limits RateLimits) Option {
	return func(cfg *routerConfig) {
		cfg.limits = limits
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(cfg *routerConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithClock overrides the clock used by the rate limiter.
func WithClock(clock func() time.Time) Option {
	return func(cfg *routerConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// WithPublicRoutes adds registrars mounted directly under the API prefix.
func WithPublicRoutes(reg ...RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.public = append(cfg.public, reg...)
	}
}

// WithMeRoutes adds registrars mounted under /me; an identity is required.
func WithMeRoutes(reg ...RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.me = append(cfg.me, reg...)
	}
}

// WithAdminRoutes adds registrars mounted under /admin; the admin role is required.
func WithAdminRoutes(reg ...RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.admin = append(cfg.admin, reg...)
	}
}
