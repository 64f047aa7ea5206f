package relations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/emart/api/internal/query"
)

const (
	// DefaultTTL bounds how stale a cached relation may be.
	DefaultTTL      = 5 * time.Minute
	metricNamespace = "github.com/emart/api/internal/relations"
)

// Loader fetches every document of collection whose field equals one of keys in a single round trip.
type Loader interface {
	LoadBy(ctx context.Context, collection, field string, keys []string) ([]query.Document, error)
}

// Resolver batch-resolves foreign keys through a read-through cache. It satisfies query.Lookup.
type Resolver struct {
	loader Loader
	ttl    time.Duration
	clock  func() time.Time
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[cacheKey]cacheEntry

	hits   metric.Int64Counter
	misses metric.Int64Counter
}

type cacheKey struct {
	collection string
	field      string
	key        string
}

type cacheEntry struct {
	doc       query.Document
	loadedAt  time.Time
	expiresAt time.Time
}

// CollectionStats summarises the cached entries of one collection.
type CollectionStats struct {
	Entries int
	// Expired entries are reloaded on their next lookup.
	Expired        int
	OldestLoadedAt time.Time
}

type resolverConfig struct {
	ttl    time.Duration
	clock  func() time.Time
	logger *zap.Logger
	meter  metric.Meter
}

// Option customises Resolver construction.
type Option func(*resolverConfig)

// WithTTL sets the staleness bound of cached entries. Zero disables caching.
func WithTTL(ttl time.Duration) Option {
	return func(cfg *resolverConfig) {
		if ttl >= 0 {
			cfg.ttl = ttl
		}
	}
}

// WithClock overrides the time source used for expiry.
func WithClock(clock func() time.Time) Option {
	return func(cfg *resolverConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *resolverConfig) {
		cfg.logger = logger
	}
}

// WithMeter injects a custom OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(cfg *resolverConfig) {
		cfg.meter = m
	}
}

// NewResolver constructs a resolver over loader.
func NewResolver(loader Loader, opts ...Option) (*Resolver, error) {
	if loader == nil {
		return nil, errors.New("relations: loader is required")
	}
	cfg := resolverConfig{ttl: DefaultTTL, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.meter == nil {
		cfg.meter = otel.GetMeterProvider().Meter(metricNamespace)
	}

	hits, err := cfg.meter.Int64Counter("relations.cache.hits",
		metric.WithDescription("Relation keys served from cache"))
	if err != nil {
		cfg.logger.Warn("relations: unable to register hit metric", zap.Error(err))
	}
	misses, err := cfg.meter.Int64Counter("relations.cache.misses",
		metric.WithDescription("Relation keys loaded from storage"))
	if err != nil {
		cfg.logger.Warn("relations: unable to register miss metric", zap.Error(err))
	}

	return &Resolver{
		loader: loader,
		ttl:    cfg.ttl,
		clock:  cfg.clock,
		logger: cfg.logger,
		cache:  make(map[cacheKey]cacheEntry),
		hits:   hits,
		misses: misses,
	}, nil
}

// Resolve maps each key to the document of collection whose field equals it. Keys without a match
// are absent from the result. Cache misses are loaded in one batch. Returned documents are copies.
func (r *Resolver) Resolve(ctx context.Context, collection, field string, keys []string) (map[string]query.Document, error) {
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return nil, errors.New("relations: collection is required")
	}
	if field == "" {
		field = query.IDField
	}

	out := make(map[string]query.Document, len(keys))
	now := r.clock()
	missing := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))

	r.mu.RLock()
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		entry, ok := r.cache[cacheKey{collection, field, key}]
		if ok && r.ttl > 0 && now.Before(entry.expiresAt) {
			if entry.doc != nil {
				out[key] = entry.doc.Clone()
			}
			continue
		}
		missing = append(missing, key)
	}
	r.mu.RUnlock()

	r.count(ctx, r.hits, collection, len(seen)-len(missing))
	r.count(ctx, r.misses, collection, len(missing))
	if len(missing) == 0 {
		return out, nil
	}

	loaded, err := r.load(ctx, collection, field, missing)
	if err != nil {
		return nil, err
	}
	for key, doc := range loaded {
		if doc != nil {
			out[key] = doc.Clone()
		}
	}
	return out, nil
}

func (r *Resolver) load(ctx context.Context, collection, field string, keys []string) (map[string]query.Document, error) {
	docs, err := r.loader.LoadBy(ctx, collection, field, keys)
	if err != nil {
		return nil, fmt.Errorf("relations: load %s by %s: %w", collection, field, err)
	}

	found := make(map[string]query.Document, len(keys))
	for _, doc := range docs {
		value, ok := doc.Get(field)
		if !ok {
			continue
		}
		key, ok := query.AsString(value)
		if !ok {
			continue
		}
		if _, dup := found[key]; !dup {
			found[key] = doc
		}
	}

	if r.ttl > 0 {
		loadedAt := r.clock()
		expiresAt := loadedAt.Add(r.ttl)
		r.mu.Lock()
		for _, key := range keys {
			// unmatched keys are cached as nil entries
			r.cache[cacheKey{collection, field, key}] = cacheEntry{doc: found[key], loadedAt: loadedAt, expiresAt: expiresAt}
		}
		r.mu.Unlock()
	}
	return found, nil
}

// Invalidate drops cached entries of collection for keys, matched against any field, or the whole
// collection when no keys are given.
func (r *Resolver) Invalidate(collection string, keys ...string) {
	wanted := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		wanted[key] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for ck, entry := range r.cache {
		if ck.collection != collection {
			continue
		}
		if len(wanted) == 0 {
			delete(r.cache, ck)
			continue
		}
		if _, ok := wanted[ck.key]; ok {
			delete(r.cache, ck)
			continue
		}
		if entry.doc != nil {
			if _, ok := wanted[entry.doc.ID()]; ok {
				delete(r.cache, ck)
			}
		}
	}
}

// Refresh reloads every cached key of collection, one batch per lookup field.
func (r *Resolver) Refresh(ctx context.Context, collection string) error {
	byField := make(map[string][]string)
	r.mu.RLock()
	for ck := range r.cache {
		if ck.collection == collection {
			byField[ck.field] = append(byField[ck.field], ck.key)
		}
	}
	r.mu.RUnlock()

	for field, keys := range byField {
		if _, err := r.load(ctx, collection, field, keys); err != nil {
			return err
		}
	}
	r.logger.Debug("relations: refreshed",
		zap.String("collection", collection),
		zap.Int("fields", len(byField)),
	)
	return nil
}

// Len reports the number of cached entries.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// Stats reports cache occupancy per collection at the resolver clock.
func (r *Resolver) Stats() map[string]CollectionStats {
	now := r.clock()
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]CollectionStats)
	for ck, entry := range r.cache {
		stats := out[ck.collection]
		stats.Entries++
		if !now.Before(entry.expiresAt) {
			stats.Expired++
		}
		if stats.OldestLoadedAt.IsZero() || entry.loadedAt.Before(stats.OldestLoadedAt) {
			stats.OldestLoadedAt = entry.loadedAt
		}
		out[ck.collection] = stats
	}
	return out
}

func (r *Resolver) count(ctx context.Context, counter metric.Int64Counter, collection string, n int) {
	if counter == nil || n <= 0 {
		return
	}
	counter.Add(ctx, int64(n), metric.WithAttributes(attribute.String("collection", collection)))
}
