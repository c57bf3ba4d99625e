package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/soundrift/gateway/internal/logging"
	"github.com/soundrift/gateway/internal/policy"
)

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// AccessLog emits one structured line per request at the route's
// configured level. Server errors are always logged at error level.
func AccessLog(p policy.LoggingPolicy) Middleware {
	level := zapcore.InfoLevel
	switch p.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			if rec.status == 0 {
				rec.status = http.StatusOK
			}

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Int("bytes", rec.bytes),
				zap.Duration("duration", time.Since(start)),
				zap.String("clientIp", ClientIP(r)),
				zap.String("requestId", GetRequestID(r.Context())),
			}
			if len(p.Tags) > 0 {
				fields = append(fields, zap.Strings("tags", p.Tags))
			}
			if p.CorrelationHeader != "" {
				if v := r.Header.Get(p.CorrelationHeader); v != "" {
					fields = append(fields, zap.String("correlation", v))
				}
			}

			switch {
			case rec.status >= 500:
				logging.Error("request", fields...)
			case level == zapcore.DebugLevel:
				logging.Debug("request", fields...)
			case level == zapcore.WarnLevel:
				logging.Warn("request", fields...)
			default:
				logging.Info("request", fields...)
			}
		})
	}
}
