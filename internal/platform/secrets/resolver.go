package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// DefaultCacheTTL bounds how long a resolved secret is served without re-reading Secret Manager.
	DefaultCacheTTL     = 10 * time.Minute
	defaultFallbackPath = ".secrets.local"
	meterName           = "github.com/emart/api/internal/platform/secrets"
)

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (accessClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Resolver turns secret://name[?version=N&project=P] references into plaintext values. Values come from
// Secret Manager when a project is configured and reachable, otherwise from a local KEY=VALUE file.
type Resolver struct {
	client     accessClient
	ownsClient bool
	project    string
	ttl        time.Duration
	now        func() time.Time
	logger     *zap.Logger

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string
	fallbackErr  error

	mu    sync.Mutex
	cache map[string]cachedSecret

	lookups metric.Int64Counter
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

type resolverConfig struct {
	client       accessClient
	clientOpts   []option.ClientOption
	project      string
	ttl          time.Duration
	fallbackPath string
	logger       *zap.Logger
	meter        metric.Meter
	clock        func() time.Time
}

// Option customises Resolver construction.
type Option func(*resolverConfig)

// WithProject sets the Secret Manager project used when a reference does not carry one.
func WithProject(projectID string) Option {
	return func(cfg *resolverConfig) { cfg.project = strings.TrimSpace(projectID) }
}

// WithFallbackFile overrides the local fallback file path. An empty path disables the fallback.
func WithFallbackFile(path string) Option {
	return func(cfg *resolverConfig) { cfg.fallbackPath = strings.TrimSpace(path) }
}

// WithCacheTTL overrides DefaultCacheTTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(cfg *resolverConfig) { cfg.ttl = ttl }
}

// WithLogger sets the logger used for fallback diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *resolverConfig) { cfg.logger = logger }
}

// WithMeter injects an OpenTelemetry meter.
func WithMeter(meter metric.Meter) Option {
	return func(cfg *resolverConfig) { cfg.meter = meter }
}

// WithClientOptions forwards options to the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *resolverConfig) { cfg.clientOpts = append(cfg.clientOpts, opts...) }
}

func withClient(client accessClient) Option {
	return func(cfg *resolverConfig) { cfg.client = client }
}

func withClock(clock func() time.Time) Option {
	return func(cfg *resolverConfig) { cfg.clock = clock }
}

// NewResolver builds a Resolver. Without a project it never contacts Secret Manager.
func NewResolver(ctx context.Context, opts ...Option) (*Resolver, error) {
	cfg := resolverConfig{
		ttl:          DefaultCacheTTL,
		fallbackPath: defaultFallbackPath,
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.meter == nil {
		cfg.meter = otel.GetMeterProvider().Meter(meterName)
	}

	r := &Resolver{
		client:       cfg.client,
		project:      cfg.project,
		ttl:          cfg.ttl,
		now:          cfg.clock,
		logger:       cfg.logger,
		fallbackPath: cfg.fallbackPath,
		cache:        make(map[string]cachedSecret),
	}

	lookups, err := cfg.meter.Int64Counter("secrets.lookups", metric.WithDescription("Secret lookups by source"))
	if err != nil {
		cfg.logger.Warn("secrets: lookup counter unavailable", zap.Error(err))
	} else {
		r.lookups = lookups
	}

	if r.client == nil && r.project != "" {
		client, err := newSecretManagerClient(ctx, cfg.clientOpts...)
		if err != nil {
			cfg.logger.Warn("secrets: secret manager unavailable, using local fallback", zap.Error(err))
		} else {
			r.client = client
			r.ownsClient = true
		}
	}
	return r, nil
}

// Close releases the Secret Manager client when the resolver created it.
func (r *Resolver) Close() error {
	if r.ownsClient && r.client != nil {
		return r.client.Close()
	}
	return nil
}

// ResolveSecret returns the value behind ref.
func (r *Resolver) ResolveSecret(ctx context.Context, ref string) (string, error) {
	parsed, err := parseRef(ref)
	if err != nil {
		return "", err
	}

	now := r.now()
	r.mu.Lock()
	if entry, ok := r.cache[parsed.key()]; ok && now.Before(entry.expiresAt) {
		r.mu.Unlock()
		r.count(ctx, "cache")
		return entry.value, nil
	}
	r.mu.Unlock()

	project := parsed.project
	if project == "" {
		project = r.project
	}

	if r.client != nil && project != "" {
		value, err := r.access(ctx, project, parsed)
		switch {
		case err == nil:
			r.store(parsed, value, now)
			r.count(ctx, "secretmanager")
			return value, nil
		case !fallbackAllowed(err):
			r.count(ctx, "error")
			return "", fmt.Errorf("secrets: access %s: %w", parsed.name, err)
		default:
			r.logger.Debug("secrets: secret manager refused, trying local fallback", zap.String("secret", parsed.name), zap.Error(err))
		}
	}

	value, ok, err := r.lookupFallback(parsed)
	if err != nil {
		r.count(ctx, "error")
		return "", err
	}
	if !ok {
		r.count(ctx, "error")
		return "", fmt.Errorf("secrets: %s not found in %s", parsed.name, r.fallbackPath)
	}
	r.store(parsed, value, now)
	r.count(ctx, "fallback")
	return value, nil
}

// Forget drops the cached value for ref so the next lookup reads the source again.
func (r *Resolver) Forget(ref string) {
	parsed, err := parseRef(ref)
	if err != nil {
		return
	}
	r.mu.Lock()
	delete(r.cache, parsed.key())
	r.mu.Unlock()
}

func (r *Resolver) access(ctx context.Context, project string, ref secretRef) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.name, ref.version)
	resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("empty payload for %s", name)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (r *Resolver) store(ref secretRef, value string, now time.Time) {
	if r.ttl <= 0 {
		return
	}
	r.mu.Lock()
	r.cache[ref.key()] = cachedSecret{value: value, expiresAt: now.Add(r.ttl)}
	r.mu.Unlock()
}

func (r *Resolver) count(ctx context.Context, source string) {
	if r.lookups == nil {
		return
	}
	r.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func (r *Resolver) lookupFallback(ref secretRef) (string, bool, error) {
	r.fallbackOnce.Do(func() {
		r.fallback, r.fallbackErr = readFallbackFile(r.fallbackPath)
	})
	if r.fallbackErr != nil {
		return "", false, r.fallbackErr
	}
	if value, ok := r.fallback[ref.key()]; ok {
		return value, true, nil
	}
	if value, ok := r.fallback[ref.name]; ok {
		return value, true, nil
	}
	return "", false, nil
}

// readFallbackFile parses lines of the form secret://name[?version=N]=value. A missing file is empty.
func readFallbackFile(path string) (map[string]string, error) {
	values := map[string]string{}
	if path == "" {
		return values, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return values, nil
		}
		return nil, fmt.Errorf("secrets: open %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rawRef, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		// the reference itself may contain '=' in its query string
		if strings.Contains(value, "=") && strings.Contains(rawRef, "?") {
			if idx := strings.LastIndex(line, "="); idx > 0 {
				rawRef, value = line[:idx], line[idx+1:]
			}
		}
		parsed, err := parseRef(strings.TrimSpace(rawRef))
		if err != nil {
			continue
		}
		value = strings.TrimSpace(value)
		values[parsed.key()] = value
		if _, exists := values[parsed.name]; !exists {
			values[parsed.name] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("secrets: read %s: %w", path, err)
	}
	return values, nil
}

type secretRef struct {
	name    string
	version string
	project string
}

func (r secretRef) key() string {
	return r.name + "@" + r.version
}

func parseRef(ref string) (secretRef, error) {
	trimmed := strings.TrimSpace(ref)
	if strings.HasPrefix(trimmed, "sm://") {
		trimmed = "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return secretRef{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return secretRef{}, fmt.Errorf("secrets: unsupported reference %q", ref)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return secretRef{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	version := strings.TrimSpace(u.Query().Get("version"))
	if version == "" {
		version = "latest"
	}
	return secretRef{
		name:    name,
		version: version,
		project: strings.TrimSpace(u.Query().Get("project")),
	}, nil
}

func fallbackAllowed(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
