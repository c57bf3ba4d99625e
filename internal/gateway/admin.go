package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/soundrift/gateway/internal/config"
	gwerrors "github.com/soundrift/gateway/internal/errors"
	"github.com/soundrift/gateway/internal/middleware"
)

// AdminHandler serves the management API under /api/gateway. Debug
// endpoints are omitted in production.
func (g *Gateway) AdminHandler() http.Handler {
	mux := httprouter.New()

	mux.HandlerFunc(http.MethodGet, "/api/gateway/routes", g.handleListRoutes)
	mux.HandlerFunc(http.MethodPost, "/api/gateway/routes", g.handleAddRoute)
	mux.HandlerFunc(http.MethodDelete, "/api/gateway/routes", g.handleRemoveRoute)

	mux.HandlerFunc(http.MethodGet, "/api/gateway/services", g.handleListServices)
	mux.Handle(http.MethodDelete, "/api/gateway/services/:service/instances/:id", g.handleDeregisterInstance)
	mux.HandlerFunc(http.MethodGet, "/api/gateway/status", g.handleStatus)
	mux.HandlerFunc(http.MethodGet, "/api/gateway/health", g.handleDiscoveryHealth)

	mux.HandlerFunc(http.MethodGet, "/api/gateway/metrics", g.handleMetrics)
	mux.HandlerFunc(http.MethodDelete, "/api/gateway/metrics", g.handleClearMetrics)
	mux.HandlerFunc(http.MethodGet, "/api/gateway/metrics/prometheus", g.handlePrometheus)

	mux.HandlerFunc(http.MethodGet, "/api/gateway/breakers", g.handleBreakers)
	mux.Handle(http.MethodPost, "/api/gateway/breakers/:service/reset", g.handleResetBreaker)

	if !g.cfg.Server.IsProduction() {
		mux.HandlerFunc(http.MethodPost, "/api/gateway/debug/discovery/force-dynamic", g.handleForceDynamic)
		mux.HandlerFunc(http.MethodPost, "/api/gateway/debug/discovery/force-static", g.handleForceStatic)
	}

	mux.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gwerrors.ErrNotFound.
			WithRequestID(middleware.GetRequestID(r.Context())).
			WriteJSON(w)
	})
	return mux
}

// respond writes the standard success envelope.
func respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success":   true,
		"data":      data,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (g *Gateway) handleListRoutes(w http.ResponseWriter, r *http.Request) {
	routes := g.Routes()
	out := make([]config.RouteConfig, 0, len(routes))
	for _, rt := range routes {
		out = append(out, rt.Config)
	}
	respond(w, http.StatusOK, map[string]any{"routes": out, "count": len(out)})
}

func (g *Gateway) handleAddRoute(w http.ResponseWriter, r *http.Request) {
	var rc config.RouteConfig
	if err := json.NewDecoder(r.Body).Decode(&rc); err != nil {
		gwerrors.ErrBadRequest.
			WithMessage("Invalid route payload: "+err.Error()).
			WithRequestID(middleware.GetRequestID(r.Context())).
			WriteJSON(w)
		return
	}

	route, err := g.AddRoute(rc)
	if err != nil {
		gwerrors.ErrBadRequest.
			WithMessage(err.Error()).
			WithRequestID(middleware.GetRequestID(r.Context())).
			WriteJSON(w)
		return
	}
	respond(w, http.StatusCreated, route.Config)
}

func (g *Gateway) handleRemoveRoute(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		gwerrors.ErrBadRequest.
			WithMessage("Query parameter path is required").
			WithRequestID(middleware.GetRequestID(r.Context())).
			WriteJSON(w)
		return
	}
	if !g.RemoveRoute(path) {
		gwerrors.ErrNotFound.
			WithMessage("No route registered for "+path).
			WithRequestID(middleware.GetRequestID(r.Context())).
			WriteJSON(w)
		return
	}
	respond(w, http.StatusOK, map[string]any{"removed": path})
}

func (g *Gateway) handleListServices(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]any{
		"mode":     g.disc.Mode(),
		"services": g.disc.Registry().All(),
	})
}

func (g *Gateway) handleDeregisterInstance(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	service := params.ByName("service")
	id := params.ByName("id")
	if !g.disc.Registry().Deregister(service, id) {
		gwerrors.ErrNotFound.
			WithMessage("No instance "+id+" registered for "+service).
			WithRequestID(middleware.GetRequestID(r.Context())).
			WriteJSON(w)
		return
	}
	respond(w, http.StatusOK, map[string]any{"service": service, "removed": id})
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]any{
		"version":       Version,
		"env":           g.cfg.Server.Env,
		"uptimeSeconds": int64(g.Uptime().Seconds()),
		"routes":        g.table.Len(),
		"discovery":     g.disc.Status(),
	})
}

func (g *Gateway) handleDiscoveryHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, g.disc.Status())
}

func (g *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, g.metrics.Snapshot())
}

func (g *Gateway) handleClearMetrics(w http.ResponseWriter, r *http.Request) {
	g.metrics.Clear()
	respond(w, http.StatusOK, map[string]any{"cleared": true})
}

func (g *Gateway) handlePrometheus(w http.ResponseWriter, r *http.Request) {
	g.metrics.WritePrometheus(w)
}

func (g *Gateway) handleBreakers(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]any{"breakers": g.breakers.Snapshots()})
}

func (g *Gateway) handleResetBreaker(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	service := params.ByName("service")
	if !g.breakers.Reset(service) {
		gwerrors.ErrNotFound.
			WithMessage("No circuit breaker for "+service).
			WithRequestID(middleware.GetRequestID(r.Context())).
			WriteJSON(w)
		return
	}
	respond(w, http.StatusOK, map[string]any{"service": service, "state": "closed"})
}

func (g *Gateway) handleForceDynamic(w http.ResponseWriter, r *http.Request) {
	ok := g.disc.ForceDynamic(r.Context())
	respond(w, http.StatusOK, map[string]any{
		"switched": ok,
		"mode":     g.disc.Mode(),
	})
}

func (g *Gateway) handleForceStatic(w http.ResponseWriter, r *http.Request) {
	g.disc.ForceStatic()
	respond(w, http.StatusOK, map[string]any{"mode": g.disc.Mode()})
}
