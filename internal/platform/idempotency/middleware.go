package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/emart/api/internal/platform/auth"
	"github.com/emart/api/internal/platform/httpx"
	"github.com/emart/api/internal/platform/requestctx"
)

const (
	// DefaultHeader carries the client supplied key.
	DefaultHeader = "Idempotency-Key"
	// ReplayHeader is set on responses served from the store.
	ReplayHeader = "Idempotent-Replayed"
)

type guardConfig struct {
	header   string
	ttl      time.Duration
	required bool
	clock    func() time.Time
}

// Option customises Guard.
type Option func(*guardConfig)

// WithHeader overrides DefaultHeader.
func WithHeader(name string) Option {
	return func(cfg *guardConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.header = name
		}
	}
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(cfg *guardConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithRequiredKey rejects requests that omit the key header.
func WithRequiredKey() Option {
	return func(cfg *guardConfig) { cfg.required = true }
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(cfg *guardConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Guard replays the first response for a repeated key so a retried order placement never creates a
// second order. Only 2xx responses are stored; failures release the key.
func Guard(store Store, opts ...Option) func(http.Handler) http.Handler {
	cfg := guardConfig{header: DefaultHeader, ttl: DefaultTTL, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(cfg.header))
			if key == "" {
				if cfg.required {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", cfg.header+" header is required", http.StatusBadRequest))
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			scoped := scopeKey(ctx, key)
			fingerprint := fingerprintRequest(r, body)
			state, entry, err := store.Claim(ctx, scoped, fingerprint, cfg.clock().UTC(), cfg.ttl)
			switch {
			case errors.Is(err, ErrKeyReused):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_reused", "idempotency key was used for a different request", http.StatusUnprocessableEntity))
				return
			case err != nil:
				requestctx.Logger(ctx).Error("idempotency claim failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
				return
			}

			switch state {
			case StateReplay:
				replay(w, entry)
				return
			case StateInFlight:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "a request with this idempotency key is in progress", http.StatusConflict))
				return
			}

			rec := &bufferedResponse{header: http.Header{}}
			next.ServeHTTP(rec, r)

			if rec.statusCode() >= 200 && rec.statusCode() < 300 {
				err = store.Complete(ctx, scoped, Entry{
					Fingerprint: fingerprint,
					Status:      rec.statusCode(),
					Header:      rec.header.Clone(),
					Body:        rec.body.Bytes(),
					ExpiresAt:   cfg.clock().UTC().Add(cfg.ttl),
				})
			} else {
				err = store.Abandon(ctx, scoped)
			}
			if err != nil {
				requestctx.Logger(ctx).Warn("idempotency store update failed", zap.Error(err))
			}
			rec.flush(w)
		})
	}
}

func scopeKey(ctx context.Context, key string) string {
	owner := "guest"
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.UID != "" {
		owner = identity.UID
	}
	return owner + ":" + key
}

func fingerprintRequest(r *http.Request, body []byte) string {
	h := sha256.New()
	_, _ = io.WriteString(h, r.Method+" "+r.URL.Path+"?"+r.URL.RawQuery+"\n")
	_, _ = h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func replay(w http.ResponseWriter, entry Entry) {
	for name, values := range entry.Header {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(ReplayHeader, "true")
	w.WriteHeader(entry.Status)
	_, _ = w.Write(entry.Body)
}

type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedResponse) statusCode() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedResponse) flush(w http.ResponseWriter) {
	for name, values := range b.header {
		w.Header()[name] = values
	}
	w.WriteHeader(b.statusCode())
	_, _ = w.Write(b.body.Bytes())
}
