package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/emart/api/internal/di"
	"github.com/emart/api/internal/handlers"
	"github.com/emart/api/internal/platform/auth"
	"github.com/emart/api/internal/platform/config"
	"github.com/emart/api/internal/platform/idempotency"
	"github.com/emart/api/internal/platform/jobs"
	"github.com/emart/api/internal/platform/observability"
	"github.com/emart/api/internal/platform/pagination"
	"github.com/emart/api/internal/platform/secrets"
	"github.com/emart/api/internal/repositories"
	"github.com/emart/api/internal/services"
)

const envPubSubEmulatorHost = "PUBSUB_EMULATOR_HOST"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	decimal.MarshalJSONWithoutQuotes = true

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	resolver, err := newSecretResolver(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret resolver", zap.Error(err))
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(resolver),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	backend, err := di.OpenBackend(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to open storage", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	containerOpts := []di.Option{
		di.WithLogger(logger),
		di.WithBuildInfo(buildInfo),
	}

	pubsubClient, topic, err := newOrderEventsTopic(ctx, cfg.PubSub)
	if err != nil {
		logger.Warn("order events disabled", zap.Error(err))
	}
	if topic != nil {
		publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		containerOpts = append(containerOpts,
			di.WithOrderEvents(publisher),
			di.WithHealthChecks(repositories.DependencyCheck{
				Name:    "pubsub",
				Timeout: 2 * time.Second,
				Check: func(ctx context.Context) error {
					ok, err := topic.Exists(ctx)
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("topic %s does not exist", topic.ID())
					}
					return nil
				},
			}),
		)
		defer func() {
			topic.Stop()
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
	}

	container, err := di.NewContainer(ctx, cfg, backend, containerOpts...)
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}()

	idempotencyStore := idempotency.NewMemoryStore()
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		sweepIdempotencyKeys(cleanupCtx, logger.Named("idempotency"), idempotencyStore, cfg.Idempotency)
	}()

	svc := container.Services
	productHandlers := handlers.NewProductHandlers(svc.Catalog, container.Compiler)
	categoryHandlers := handlers.NewCategoryHandlers(svc.Categories, svc.Catalog, container.Compiler)
	orderHandlers := handlers.NewOrderHandlers(svc.Orders, container.Compiler,
		handlers.WithIdempotency(idempotencyStore,
			idempotency.WithHeader(cfg.Idempotency.Header),
			idempotency.WithTTL(cfg.Idempotency.TTL),
		),
		handlers.WithOrderPageOptions(pagination.Options{
			DefaultPageSize: cfg.Catalog.DefaultPageSize,
			MaxPageSize:     cfg.Catalog.MaxPageSize,
		}),
	)
	analyticsHandlers := handlers.NewAnalyticsHandlers(svc.Analytics, container.Relations)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	authenticator := auth.NewHeaderAuthenticator()
	httpLogger := logger.Named("http")
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.TraceMiddleware(traceProjectID(cfg)),
			authenticator.TrustedHeaders,
			observability.AccessLog(httpLogger),
			observability.Recoverer(httpLogger),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithRateLimits(handlers.RateLimits{
			PublicPerMinute:        cfg.RateLimits.PublicPerMinute,
			AuthenticatedPerMinute: cfg.RateLimits.AuthenticatedPerMinute,
			Burst:                  cfg.RateLimits.Burst,
		}),
		handlers.WithPublicRoutes(productHandlers.Routes, categoryHandlers.Routes, orderHandlers.Routes),
		handlers.WithMeRoutes(orderHandlers.MeRoutes),
		handlers.WithAdminRoutes(
			productHandlers.AdminRoutes,
			categoryHandlers.AdminRoutes,
			orderHandlers.AdminRoutes,
			analyticsHandlers.AdminRoutes,
		),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := httpLogger.With(zap.String("addr", server.Addr), zap.String("storage", cfg.Storage.Driver))
	go func() {
		serverLogger.Info("emart api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func sweepIdempotencyKeys(ctx context.Context, logger *zap.Logger, store idempotency.Store, cfg config.IdempotencyConfig) {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := store.Sweep(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
			cancel()
			if err != nil {
				logger.Error("idempotency cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

// newOrderEventsTopic returns a nil topic when no project is configured.
func newOrderEventsTopic(ctx context.Context, cfg config.PubSubConfig) (*pubsub.Client, *pubsub.Topic, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, nil, errors.New("pubsub project id not configured")
	}
	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" && os.Getenv(envPubSubEmulatorHost) == "" {
		if err := os.Setenv(envPubSubEmulatorHost, host); err != nil {
			return nil, nil, fmt.Errorf("set pubsub emulator host: %w", err)
		}
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	return client, client.Topic(cfg.OrderEventsTopic), nil
}

func newSecretResolver(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Resolver, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("API_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIRESTORE_PROJECT_ID")
	}
	opts := []secrets.Option{
		secrets.WithProject(project),
		secrets.WithLogger(logger.Named("secrets")),
	}
	if path := lookup("API_SECRET_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if raw := lookup("API_SECRET_CACHE_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("API_SECRET_CACHE_TTL: %w", err)
		}
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}
	return secrets.NewResolver(ctx, opts...)
}

// requiredSecretNames marks the Postgres DSN mandatory when the postgres driver is selected.
func requiredSecretNames(env map[string]string) []string {
	if strings.EqualFold(strings.TrimSpace(env["API_STORAGE_DRIVER"]), config.StorageDriverPostgres) {
		return []string{"Postgres.DSN"}
	}
	return nil
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.PubSub.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
