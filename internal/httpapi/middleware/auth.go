package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Keys configures API access. Owners maps an owner name to that owner's
// key; a value starting with "$2" is treated as a bcrypt hash.
type Keys struct {
	Public []string
	Admin  []string
	Owners map[string]string
}

func (k Keys) enabled() bool {
	return len(k.Public) > 0 || len(k.Admin) > 0 || len(k.Owners) > 0
}

// Principal is who a request acts as. Admin may act for every owner.
type Principal struct {
	Owner string
	Admin bool
}

// CanManage reports whether p may read or change a domain owned by owner.
func (p Principal) CanManage(owner string) bool {
	return p.Admin || (p.Owner != "" && p.Owner == owner)
}

// Scope is the owner filter for listings: empty for admins (all owners).
func (p Principal) Scope() string {
	if p.Admin {
		return ""
	}
	return p.Owner
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}

func readAuth(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(h), "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if k := r.Header.Get("X-API-Key"); k != "" {
		return strings.TrimSpace(k)
	}
	return ""
}

func hasKey(given string, set []string) bool {
	if given == "" {
		return false
	}
	for _, k := range set {
		if subtle.ConstantTimeCompare([]byte(k), []byte(given)) == 1 {
			return true
		}
	}
	return false
}

func ownerFor(given string, owners map[string]string) (string, bool) {
	if given == "" {
		return "", false
	}
	for owner, want := range owners {
		if strings.HasPrefix(want, "$2") {
			if bcrypt.CompareHashAndPassword([]byte(want), []byte(given)) == nil {
				return owner, true
			}
			continue
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(given)) == 1 {
			return owner, true
		}
	}
	return "", false
}

// resolve maps a presented key to a principal. public is true for keys that
// only grant read access.
func (k Keys) resolve(given string) (p Principal, public bool, ok bool) {
	switch {
	case hasKey(given, k.Admin):
		return Principal{Admin: true}, false, true
	case hasKey(given, k.Public):
		return Principal{}, true, true
	}
	if owner, found := ownerFor(given, k.Owners); found {
		return Principal{Owner: owner}, false, true
	}
	return Principal{}, false, false
}

func deny(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

// RequireAny allows requests that present any configured key.
// If no keys are configured, it allows all requests as admin (local dev).
func RequireAny(keys Keys) func(http.Handler) http.Handler {
	return require(keys, func(_ Principal, _ bool) bool { return true })
}

// RequireOwner admits owner and admin keys; public keys are forbidden.
func RequireOwner(keys Keys) func(http.Handler) http.Handler {
	return require(keys, func(_ Principal, public bool) bool { return !public })
}

// RequireAdmin only permits requests that present an admin key.
func RequireAdmin(keys Keys) func(http.Handler) http.Handler {
	return require(keys, func(p Principal, _ bool) bool { return p.Admin })
}

func require(keys Keys, allow func(p Principal, public bool) bool) func(http.Handler) http.Handler {
	enabled := keys.enabled()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), Principal{Admin: true})))
				return
			}
			key := readAuth(r)
			if key == "" {
				deny(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			p, public, ok := keys.resolve(key)
			if !ok {
				deny(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !allow(p, public) {
				deny(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
