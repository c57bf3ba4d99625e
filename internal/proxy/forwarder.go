package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/soundrift/gateway/internal/circuitbreaker"
	"github.com/soundrift/gateway/internal/discovery"
	gwerrors "github.com/soundrift/gateway/internal/errors"
	"github.com/soundrift/gateway/internal/logging"
	"github.com/soundrift/gateway/internal/middleware"
	"github.com/soundrift/gateway/internal/router"
)

// Response headers the forward engine adds.
const (
	HeaderTargetService    = "X-Target-Service"
	HeaderResponseTime     = "X-Response-Time"
	HeaderServedBy         = "X-Served-By"
	HeaderTimeoutRemaining = "X-Timeout-Remaining"
)

// Request headers the forward engine sets for upstream services.
const (
	HeaderOriginalPath = "X-Original-Path"
	HeaderAPIVersion   = "X-Api-Version"
)

const gatewayName = "api-gateway"

// strippedHeaders are inbound headers the gateway never forwards:
// identity headers only the gateway may set, plus hop-by-hop headers.
var strippedHeaders = map[string]bool{
	"x-user-id":           true,
	"x-user-role":         true,
	"x-user-id-signature": true,
	"x-user-id-timestamp": true,
	"x-gateway-service":   true,
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"host":                true,
}

var allowedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// Forwarder executes routing decisions: it picks an instance, builds
// the upstream request, and translates the upstream response.
type Forwarder struct {
	registry     *discovery.Registry
	breakers     *circuitbreaker.Manager
	metrics      *router.Metrics
	signer       *Signer
	portRegistry map[string]int
	budget       time.Duration
	client       *http.Client
}

// NewForwarder creates the forward engine.
func NewForwarder(registry *discovery.Registry, breakers *circuitbreaker.Manager, metrics *router.Metrics, signer *Signer, portRegistry map[string]int, budget time.Duration) *Forwarder {
	return &Forwarder{
		registry:     registry,
		breakers:     breakers,
		metrics:      metrics,
		signer:       signer,
		portRegistry: portRegistry,
		budget:       budget,
		client: &http.Client{
			// Redirects pass through to the client untouched.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Handler returns the terminal handler that forwards requests matched
// to route. injectIdentity controls whether signed identity headers
// are added for authenticated callers.
func (f *Forwarder) Handler(route *router.Route, injectIdentity bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetRequestID(r.Context())

		if !allowedMethods[r.Method] {
			f.metrics.RecordFailure(route.Service)
			gwerrors.New(gwerrors.KindValidation, "UNSUPPORTED_METHOD",
				fmt.Sprintf("Method %s is not supported", r.Method)).
				WithService(route.Service).
				WithRequestID(requestID).
				WriteJSON(w)
			return
		}

		timeout := route.Timeout
		if timeout <= 0 {
			timeout = f.budget
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		breaker := f.breakers.For(route.Service)
		if !breaker.Allow() {
			f.metrics.RecordFailure(route.Service)
			gwerrors.ErrCircuitOpen.
				WithService(route.Service).
				WithRequestID(requestID).
				WriteJSON(w)
			return
		}

		inst := f.pickInstance(route.Service)
		if inst == nil {
			f.metrics.RecordFailure(route.Service)
			gwerrors.ErrServiceUnavailable.
				WithService(route.Service).
				WithRequestID(requestID).
				WriteJSON(w)
			return
		}

		targetPath := BuildTargetPath(route, r.URL.Path)
		targetURL := inst.URL() + targetPath
		if r.URL.RawQuery != "" {
			targetURL += "?" + r.URL.RawQuery
		}

		out, err := http.NewRequestWithContext(ctx, r.Method, targetURL, r.Body)
		if err != nil {
			f.metrics.RecordFailure(route.Service)
			gwerrors.ErrInternalServer.
				WithService(route.Service).
				WithRequestID(requestID).
				WriteJSON(w)
			return
		}
		out.ContentLength = r.ContentLength

		f.composeHeaders(out, r, route, requestID, injectIdentity, ctx)

		resp, err := f.do(out, route)
		if err != nil {
			breaker.RecordFailure()
			f.metrics.RecordFailure(route.Service)
			f.writeUpstreamError(w, err, route.Service, requestID)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			breaker.RecordFailure()
			f.metrics.RecordFailure(route.Service)
		} else {
			breaker.RecordSuccess()
			f.metrics.RecordSuccess(route.Service, time.Since(start))
		}

		copyResponseHeaders(w.Header(), resp.Header)
		w.Header().Set(HeaderGatewayService, gatewayName)
		w.Header().Set(HeaderTargetService, route.Service)
		w.Header().Set(middleware.HeaderRequestID, requestID)
		w.Header().Set(HeaderResponseTime, fmt.Sprintf("%dms", time.Since(start).Milliseconds()))
		w.Header().Set(HeaderServedBy, inst.ID)

		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
	})
}

// do executes the upstream call, retrying idempotent requests on
// network errors up to the route's retry count.
func (f *Forwarder) do(out *http.Request, route *router.Route) (*http.Response, error) {
	attempts := 1
	if route.Retries > 0 && isIdempotent(out.Method) {
		attempts += route.Retries
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		resp, err := f.client.Do(out)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if out.Context().Err() != nil {
			break
		}
		if i < attempts-1 {
			logging.Debug("retrying upstream request",
				zap.String("service", route.Service),
				zap.Int("attempt", i+1),
				zap.Error(err))
		}
	}
	return nil, lastErr
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// composeHeaders copies forwardable client headers and sets the
// gateway's own.
func (f *Forwarder) composeHeaders(out, in *http.Request, route *router.Route, requestID string, injectIdentity bool, ctx context.Context) {
	for name, values := range in.Header {
		if strippedHeaders[strings.ToLower(name)] {
			continue
		}
		for _, v := range values {
			out.Header.Add(name, v)
		}
	}

	clientIP := middleware.ClientIP(in)
	if prior := in.Header.Get("X-Forwarded-For"); prior != "" {
		out.Header.Set("X-Forwarded-For", prior)
	} else {
		out.Header.Set("X-Forwarded-For", clientIP)
	}
	out.Header.Set("X-Forwarded-Host", in.Host)
	proto := "http"
	if in.TLS != nil {
		proto = "https"
	}
	out.Header.Set("X-Forwarded-Proto", proto)

	out.Header.Set(middleware.HeaderRequestID, requestID)
	out.Header.Set(HeaderGatewayService, gatewayName)
	out.Header.Set(HeaderOriginalPath, in.URL.Path)
	out.Header.Set(HeaderAPIVersion, apiVersion(in.URL.Path))

	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline).Milliseconds()
		if remaining < 0 {
			remaining = 0
		}
		out.Header.Set(HeaderTimeoutRemaining, strconv.FormatInt(remaining, 10))
	}

	for name, value := range route.Headers {
		out.Header.Set(name, value)
	}

	if injectIdentity && f.signer != nil {
		if ac := middleware.GetAuthContext(in.Context()); ac != nil && ac.Authenticated && ac.UserID != "" {
			ts := time.Now().UnixMilli()
			out.Header.Set(HeaderUserID, ac.UserID)
			out.Header.Set(HeaderUserRole, ac.UserRole)
			out.Header.Set(HeaderUserIDTimestamp, strconv.FormatInt(ts, 10))
			out.Header.Set(HeaderUserIDSignature, f.signer.Sign(ac.UserID, ac.UserRole, ts))
		}
	}
}

// pickInstance selects a random healthy instance. When discovery knows
// nothing about the service but the port registry does, a localhost
// instance is synthesized so well-known services stay reachable.
func (f *Forwarder) pickInstance(service string) *discovery.Instance {
	instances := f.registry.Discover(service)
	if len(instances) > 0 {
		return instances[rand.Intn(len(instances))]
	}

	if port, ok := f.portRegistry[service]; ok {
		return &discovery.Instance{
			ID:       service + "-registry",
			Service:  service,
			Host:     "localhost",
			Port:     port,
			Protocol: "http",
			Healthy:  true,
		}
	}
	return nil
}

// writeUpstreamError maps transport failures to the error envelope:
// deadline expiry is a 504, everything else a 502.
func (f *Forwarder) writeUpstreamError(w http.ResponseWriter, err error, service, requestID string) {
	var netErr net.Error
	timedOut := errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout())

	ge := gwerrors.ErrBadGateway
	if timedOut {
		ge = gwerrors.ErrGatewayTimeout
	}

	logging.Warn("upstream request failed",
		zap.String("service", service),
		zap.String("requestId", requestID),
		zap.Bool("timeout", timedOut),
		zap.Error(err))

	ge.WithService(service).WithRequestID(requestID).WriteJSON(w)
}

func copyResponseHeaders(dst, src http.Header) {
	for name, values := range src {
		if strippedHeaders[strings.ToLower(name)] {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}
