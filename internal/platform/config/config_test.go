package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Storage.Driver != StorageDriverMemory {
		t.Errorf("expected memory driver by default, got %s", cfg.Storage.Driver)
	}
	if cfg.Catalog.DefaultPageSize != 10 || cfg.Catalog.MaxPageSize != 100 {
		t.Errorf("unexpected catalog page sizes: %+v", cfg.Catalog)
	}
	if cfg.Catalog.RelationCacheTTL != defaultRelationCacheTTL {
		t.Errorf("unexpected relation cache ttl: %s", cfg.Catalog.RelationCacheTTL)
	}
	if cfg.Analytics.TimeZone != "UTC" || cfg.Analytics.TopProducts != 5 {
		t.Errorf("unexpected analytics defaults: %+v", cfg.Analytics)
	}
	if cfg.RateLimits.PublicPerMinute != 120 {
		t.Errorf("unexpected default rate limit: %d", cfg.RateLimits.PublicPerMinute)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected default idempotency ttl: %s", cfg.Idempotency.TTL)
	}
	if cfg.PubSub.ProjectID != "" {
		t.Errorf("expected publishing disabled, got project %s", cfg.PubSub.ProjectID)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                 "9090",
		"API_SERVER_READ_TIMEOUT":         "20s",
		"API_STORAGE_DRIVER":              "Postgres",
		"API_POSTGRES_DSN":                "secret://postgres/dsn",
		"API_POSTGRES_MAX_OPEN_CONNS":     "25",
		"API_POSTGRES_CONN_MAX_LIFETIME":  "1h",
		"API_FIRESTORE_PROJECT_ID":        "emart-prod",
		"API_PUBSUB_ORDER_EVENTS_TOPIC":   "orders",
		"API_CATALOG_MAX_PAGE_SIZE":       "50",
		"API_CATALOG_RELATION_CACHE_TTL":  "30s",
		"API_ANALYTICS_TIMEZONE":          "Asia/Tokyo",
		"API_ANALYTICS_TOP_PRODUCTS":      "10",
		"API_RATELIMIT_PUBLIC_PER_MIN":    "60",
		"API_RATELIMIT_BURST":             "5",
		"API_IDEMPOTENCY_TTL":             "2h",
		"API_IDEMPOTENCY_CLEANUP_BATCH":   "50",
		"API_SECURITY_ENVIRONMENT":        "PROD",
		"API_IDEMPOTENCY_CLEANUP_INTERVAL": "10m",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref == "secret://postgres/dsn" {
			return "postgres://emart:pw@db/emart", nil
		}
		return "", errors.New("unknown")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Storage.Driver != StorageDriverPostgres {
		t.Errorf("expected lower-cased postgres driver, got %s", cfg.Storage.Driver)
	}
	if cfg.Postgres.DSN != "postgres://emart:pw@db/emart" {
		t.Errorf("expected resolved dsn, got %s", cfg.Postgres.DSN)
	}
	if cfg.Postgres.MaxOpenConns != 25 || cfg.Postgres.ConnMaxLifetime != time.Hour {
		t.Errorf("unexpected pool config %+v", cfg.Postgres)
	}
	if cfg.PubSub.ProjectID != "emart-prod" || cfg.PubSub.OrderEventsTopic != "orders" {
		t.Errorf("expected pubsub to inherit firestore project, got %+v", cfg.PubSub)
	}
	if cfg.Catalog.MaxPageSize != 50 || cfg.Catalog.RelationCacheTTL != 30*time.Second {
		t.Errorf("unexpected catalog config %+v", cfg.Catalog)
	}
	loc, err := cfg.Analytics.Location()
	if err != nil || loc.String() != "Asia/Tokyo" {
		t.Errorf("unexpected analytics location %v %v", loc, err)
	}
	if cfg.RateLimits.PublicPerMinute != 60 || cfg.RateLimits.Burst != 5 {
		t.Errorf("unexpected rate limits %+v", cfg.RateLimits)
	}
	if cfg.Security.Environment != "prod" {
		t.Errorf("expected lower-cased environment, got %s", cfg.Security.Environment)
	}
	if cfg.Idempotency.TTL != 2*time.Hour || cfg.Idempotency.CleanupBatchSize != 50 {
		t.Errorf("unexpected idempotency config %+v", cfg.Idempotency)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nexport API_STORAGE_SEED_FILE=\"seed.yaml\"\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Storage.SeedFile != "seed.yaml" {
		t.Errorf("expected seed file from dotenv, got %s", cfg.Storage.SeedFile)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	cases := map[string]struct {
		env  map[string]string
		want string
	}{
		"postgres without dsn":   {map[string]string{"API_STORAGE_DRIVER": "postgres"}, "Postgres.DSN"},
		"firestore without id":   {map[string]string{"API_STORAGE_DRIVER": "firestore"}, "Firestore.ProjectID"},
		"unknown driver":         {map[string]string{"API_STORAGE_DRIVER": "mongo"}, "Storage.Driver"},
		"unknown time zone":      {map[string]string{"API_ANALYTICS_TIMEZONE": "Mars/Olympus"}, "Analytics.TimeZone"},
		"page size above maximum": {map[string]string{"API_CATALOG_DEFAULT_PAGE_SIZE": "200"}, "Catalog.PageSize"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(context.Background(), WithEnvMap(tc.env), WithoutSystemEnv(), WithEnvFile(""))
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !slices.Contains(validation.Fields(), tc.want) {
				t.Fatalf("expected %s in %v", tc.want, validation.Fields())
			}
		})
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_STORAGE_DRIVER": "postgres",
		"API_POSTGRES_DSN":   "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIRESTORE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_FIRESTORE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	overrides := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "override-project",
		"API_SECRET_VERSION_PINS":  "secret://postgres/dsn=5",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["API_FIRESTORE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
	if got := values["API_SECRET_VERSION_PINS"]; got != "secret://postgres/dsn=5" {
		t.Fatalf("expected override version pin, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(map[string]string{}),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Postgres.DSN"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	expectedRedacted := redactSecretName("Postgres.DSN")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic when required secrets missing")
		}
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if len(missing.Names()) != 1 || missing.Names()[0] != "Postgres.DSN" {
			t.Fatalf("unexpected missing secrets %v", missing.Names())
		}
	}()

	Load(context.Background(),
		WithEnvMap(map[string]string{}),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Postgres.DSN"),
		WithPanicOnMissingSecrets(),
	)
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := map[string]string{
		"API_STORAGE_DRIVER": "postgres",
		"API_POSTGRES_DSN":   "sm://postgres/dsn",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref == "secret://postgres/dsn" {
			return "postgres://legacy", nil
		}
		return "", &SecretError{Ref: ref, Err: errors.New("not found")}
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Postgres.DSN != "postgres://legacy" {
		t.Fatalf("expected legacy secret, got %s", cfg.Postgres.DSN)
	}
}
