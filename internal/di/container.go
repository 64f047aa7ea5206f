package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/emart/api/internal/domain"
	"github.com/emart/api/internal/platform/config"
	pfirestore "github.com/emart/api/internal/platform/firestore"
	"github.com/emart/api/internal/platform/observability"
	"github.com/emart/api/internal/query"
	"github.com/emart/api/internal/relations"
	"github.com/emart/api/internal/repositories"
	firestoreRepo "github.com/emart/api/internal/repositories/firestore"
	"github.com/emart/api/internal/repositories/memory"
	"github.com/emart/api/internal/repositories/postgres"
	"github.com/emart/api/internal/services"
)

const instrumentationName = "github.com/emart/api"

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Catalog    services.CatalogService
	Categories services.CategoryService
	Orders     services.OrderService
	Analytics  services.AnalyticsService
	System     services.SystemService
}

// Container wires storage, the query layer and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Relations    *relations.Resolver
	Pipelines    *query.Executor
	Compiler     *query.Compiler
	Services     Services
}

// Option customises container construction.
type Option func(*containerOptions)

type containerOptions struct {
	logger *zap.Logger
	events services.OrderEventPublisher
	checks []repositories.DependencyCheck
	build  services.BuildInfo
	clock  func() time.Time
}

// WithLogger sets the base logger used by services and the relation cache.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithOrderEvents publishes order lifecycle events through pub.
func WithOrderEvents(pub services.OrderEventPublisher) Option {
	return func(o *containerOptions) {
		o.events = pub
	}
}

// WithHealthChecks adds dependency probes next to the storage ping.
func WithHealthChecks(checks ...repositories.DependencyCheck) Option {
	return func(o *containerOptions) {
		o.checks = append(o.checks, checks...)
	}
}

// WithBuildInfo sets the metadata reported by the health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = build
	}
}

// WithClock overrides the clock shared by services.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

type lookupRouter interface {
	UseLookup(lookup query.Lookup)
}

// OpenBackend connects the storage driver selected by cfg.Storage.Driver.
func OpenBackend(ctx context.Context, cfg config.Config) (repositories.Backend, error) {
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		store := memory.NewStore()
		if cfg.Storage.SeedFile != "" {
			if err := store.LoadSeedFile(ctx, cfg.Storage.SeedFile); err != nil {
				return nil, err
			}
		}
		return store, nil
	case config.StorageDriverFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		store, err := firestoreRepo.NewStore(provider)
		if err != nil {
			return nil, err
		}
		if err := store.Ping(ctx); err != nil {
			_ = store.Close(ctx)
			return nil, fmt.Errorf("firestore: %w", err)
		}
		return store, nil
	case config.StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		if cfg.Postgres.EnsureSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close(ctx)
				return nil, err
			}
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}

// NewContainer constructs the runtime dependencies on top of backend. Tests can pass an in-memory
// store.
func NewContainer(ctx context.Context, cfg config.Config, backend repositories.Backend, opts ...Option) (*Container, error) {
	if backend == nil {
		return nil, errors.New("storage backend is required")
	}
	options := containerOptions{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	meter := otel.Meter(instrumentationName)
	resolver, err := relations.NewResolver(backend,
		relations.WithTTL(cfg.Catalog.RelationCacheTTL),
		relations.WithClock(options.clock),
		relations.WithLogger(options.logger.Named("relations")),
		relations.WithMeter(meter),
	)
	if err != nil {
		return nil, fmt.Errorf("build relation resolver: %w", err)
	}
	if router, ok := backend.(lookupRouter); ok {
		router.UseLookup(resolver)
	}

	checks := append([]repositories.DependencyCheck{{Name: "storage", Check: backend.Ping, Critical: true}}, options.checks...)
	health, err := repositories.NewDependencyHealthRepository(checks, repositories.WithDependencyClock(options.clock))
	if err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}
	reg, err := repositories.NewRegistry(backend, health)
	if err != nil {
		return nil, err
	}

	executor, err := query.NewExecutor(reg.Engine(),
		query.WithTracer(otel.Tracer(instrumentationName)),
		query.WithMeter(meter),
	)
	if err != nil {
		return nil, fmt.Errorf("build query executor: %w", err)
	}

	compiler := query.NewCompiler(query.CompilerOptions{
		DefaultPageSize: cfg.Catalog.DefaultPageSize,
		MaxPageSize:     cfg.Catalog.MaxPageSize,
		OrderStatuses:   domain.OrderStatusNames(),
	})

	svc, err := buildServices(cfg, reg, executor, resolver, options)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Relations:    resolver,
		Pipelines:    executor,
		Compiler:     compiler,
		Services:     svc,
	}, nil
}

// Close releases the storage backend.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, reg repositories.Registry, executor *query.Executor, resolver *relations.Resolver, options containerOptions) (Services, error) {
	var svc Services
	logger := observability.ServiceLogger(options.logger.Named("services"))

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products:   reg.Products(),
		Categories: reg.Categories(),
		Engine:     reg.Engine(),
		Pipelines:  executor,
		Clock:      options.clock,
		Logger:     logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	categorySvc, err := services.NewCategoryService(services.CategoryServiceDeps{
		Categories: reg.Categories(),
		Engine:     reg.Engine(),
		Pipelines:  executor,
		Relations:  resolver,
		UnitOfWork: reg,
		Clock:      options.clock,
		Logger:     logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build category service: %w", err)
	}
	svc.Categories = categorySvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Referrals:  reg.Referrals(),
		Affiliates: reg.Affiliates(),
		Pipelines:  executor,
		UnitOfWork: reg,
		Clock:      options.clock,
		Events:     options.events,
		Logger:     logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	location, err := cfg.Analytics.Location()
	if err != nil {
		return Services{}, fmt.Errorf("analytics time zone: %w", err)
	}
	analyticsSvc, err := services.NewAnalyticsService(services.AnalyticsServiceDeps{
		Engine:      reg.Engine(),
		Relations:   resolver,
		Location:    location,
		TopProducts: cfg.Analytics.TopProducts,
		Workers:     cfg.Analytics.Workers,
		Clock:       options.clock,
		Logger:      logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build analytics service: %w", err)
	}
	svc.Analytics = analyticsSvc

	build := options.build
	if build.Environment == "" {
		build.Environment = cfg.Security.Environment
	}
	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Relations:        resolver,
		StorageDriver:    cfg.Storage.Driver,
		Clock:            options.clock,
		Build:            build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}
