package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/soundrift/gateway/internal/config"
	"github.com/soundrift/gateway/internal/logging"
	"github.com/soundrift/gateway/internal/middleware"
)

// Version is stamped at build time.
var Version = "dev"

// Server is the gateway's HTTP front. It owns the listener and mounts
// the liveness, admin, and proxy surfaces behind the shared
// middleware stack.
type Server struct {
	gw   *Gateway
	cfg  *config.Config
	http *http.Server
}

// NewServer wires the full handler tree for the gateway.
func NewServer(gw *Gateway, cfg *config.Config) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/version", handleVersion)
	mux.Handle("/api/gateway/", gw.AdminHandler())
	mux.Handle("/", gw)

	handler := middleware.Chain(mux,
		middleware.RequestID(),
		middleware.Recovery(),
		corsMiddleware(cfg.CORS, cfg.Server.IsProduction()),
	)

	return &Server{
		gw:  gw,
		cfg: cfg,
		http: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Run starts discovery, serves until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.gw.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	logging.Info("shutting down")
	return s.http.Shutdown(shutdownCtx)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "api-gateway",
		"version": Version,
	})
}

// corsMiddleware answers preflights and stamps CORS headers for
// allowed origins. Outside production, DevWildcards admits any
// localhost origin so local frontends work without configuration.
func corsMiddleware(cfg config.CORSConfig, production bool) middleware.Middleware {
	allowed := make(map[string]bool, len(cfg.Origins))
	for _, o := range cfg.Origins {
		allowed[o] = true
	}

	originAllowed := func(origin string) bool {
		if allowed[origin] {
			return true
		}
		if cfg.DevWildcards && !production {
			return strings.HasPrefix(origin, "http://localhost:") ||
				strings.HasPrefix(origin, "http://127.0.0.1:") ||
				origin == "http://localhost" || origin == "http://127.0.0.1"
		}
		return false
	}

	methods := strings.Join(cfg.Methods, ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				if cfg.AllowCredentials {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
				if r.Method == http.MethodOptions {
					w.Header().Set("Access-Control-Allow-Methods", methods)
					w.Header().Set("Access-Control-Allow-Headers", headers)
					w.Header().Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
