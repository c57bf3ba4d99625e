package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	gwerrors "github.com/soundrift/gateway/internal/errors"
	"github.com/soundrift/gateway/internal/logging"
)

// Recovery converts handler panics into a 500 error envelope.
func Recovery() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logging.Error("panic while handling request",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path),
						zap.String("requestId", GetRequestID(r.Context())),
						zap.ByteString("stack", debug.Stack()))

					gwerrors.ErrInternalServer.
						WithRequestID(GetRequestID(r.Context())).
						WriteJSON(w)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
