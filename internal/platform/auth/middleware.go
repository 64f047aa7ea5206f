package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

const (
	// DefaultUserHeader carries the authenticated user id set by the gateway.
	DefaultUserHeader = "X-Authenticated-User-ID"
	// DefaultRolesHeader carries a comma separated role list set by the gateway.
	DefaultRolesHeader = "X-Authenticated-Roles"

	defaultFallbackRole = RoleCustomer
)

// HeaderAuthenticator turns gateway-verified principal headers into an Identity. Sessions and tokens
// are verified upstream; requests reaching the API without the headers are anonymous.
type HeaderAuthenticator struct {
	userHeader   string
	rolesHeader  string
	fallbackRole string
}

// Option customises HeaderAuthenticator behaviour.
type Option func(*HeaderAuthenticator)

// WithUserHeader overrides the header carrying the user id.
func WithUserHeader(name string) Option {
	return func(a *HeaderAuthenticator) {
		if name = strings.TrimSpace(name); name != "" {
			a.userHeader = name
		}
	}
}

// WithRolesHeader overrides the header carrying the roles.
func WithRolesHeader(name string) Option {
	return func(a *HeaderAuthenticator) {
		if name = strings.TrimSpace(name); name != "" {
			a.rolesHeader = name
		}
	}
}

// WithFallbackRole sets the role assigned when the roles header is empty.
func WithFallbackRole(role string) Option {
	return func(a *HeaderAuthenticator) {
		if role = normaliseRole(role); role != "" {
			a.fallbackRole = role
		}
	}
}

// NewHeaderAuthenticator constructs the authenticator.
func NewHeaderAuthenticator(opts ...Option) *HeaderAuthenticator {
	a := &HeaderAuthenticator{
		userHeader:   DefaultUserHeader,
		rolesHeader:  DefaultRolesHeader,
		fallbackRole: defaultFallbackRole,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// TrustedHeaders attaches an Identity to the request context when the user header is present.
// Anonymous requests pass through untouched.
func (a *HeaderAuthenticator) TrustedHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimSpace(r.Header.Get(a.userHeader))
		if uid == "" {
			next.ServeHTTP(w, r)
			return
		}
		identity := &Identity{UID: uid, Roles: parseRoles(r.Header.Get(a.rolesHeader))}
		if len(identity.Roles) == 0 && a.fallbackRole != "" {
			identity.Roles = []string{a.fallbackRole}
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// RequireIdentity rejects anonymous requests with 401 and, when roles are given, identities lacking
// every one of them with 403.
func RequireIdentity(allowedRoles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedRoles))
	for _, role := range allowedRoles {
		role = normaliseRole(role)
		if role == "" {
			continue
		}
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authenticated principal required")
				return
			}
			if len(allowed) > 0 && !hasAllowedRole(identity.Roles, allowed) {
				respondAuthError(w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasAllowedRole(identityRoles []string, allowed map[string]struct{}) bool {
	for _, role := range identityRoles {
		if _, ok := allowed[normaliseRole(role)]; ok {
			return true
		}
	}
	return false
}

func parseRoles(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		role := normaliseRole(part)
		if role == "" {
			continue
		}
		if _, exists := seen[role]; exists {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func respondAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   code,
		"message": message,
		"status":  status,
	})
}
