package middleware

import (
	"context"
	"net/http"

	gwerrors "github.com/soundrift/gateway/internal/errors"
	"github.com/soundrift/gateway/internal/policy"
)

// AuthContext carries the caller identity established upstream of the
// gateway. The gateway does not terminate authentication itself; an
// extractor hook populates this from whatever the deployment trusts
// (session cookie, verified token, mTLS peer).
type AuthContext struct {
	Authenticated bool
	UserID        string
	UserRole      string
	Scopes        []string
}

type authContextKey struct{}

// Extractor derives the caller identity from a request. A nil result
// means anonymous.
type Extractor func(r *http.Request) *AuthContext

// WithAuthContext attaches an identity to the request context.
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, ac)
}

// GetAuthContext returns the identity attached to the context, or nil.
func GetAuthContext(ctx context.Context) *AuthContext {
	ac, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return ac
}

// HasScope reports whether the identity carries the scope.
func (ac *AuthContext) HasScope(scope string) bool {
	for _, s := range ac.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// AuthProjection enforces a route's auth policy. The extractor runs
// first; when the policy requires authentication and the caller is
// anonymous without a guest allowance, the request is rejected with a
// 401 envelope. Scope requirements reject with 403.
func AuthProjection(p policy.AuthPolicy, extract Extractor) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var ac *AuthContext
			if extract != nil {
				ac = extract(r)
			}
			if ac == nil {
				ac = &AuthContext{}
			}
			r = r.WithContext(WithAuthContext(r.Context(), ac))

			if p.Required && !ac.Authenticated && !p.AllowGuest {
				gwerrors.ErrUnauthorized.
					WithRequestID(GetRequestID(r.Context())).
					WriteJSON(w)
				return
			}

			if ac.Authenticated {
				for _, scope := range p.Scopes {
					if !ac.HasScope(scope) {
						gwerrors.ErrForbidden.
							WithRequestID(GetRequestID(r.Context())).
							WriteJSON(w)
						return
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
