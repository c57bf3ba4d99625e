package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/soundrift/gateway/internal/config"
	"github.com/soundrift/gateway/internal/discovery"
	"github.com/soundrift/gateway/internal/middleware"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Discovery.PortRegistry = map[string]int{}
	return cfg
}

func registerUpstream(t *testing.T, gw *Gateway, service string, srv *httptest.Server) {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(u.Port())
	gw.Discovery().Registry().Register(&discovery.Instance{
		ID:      service + "-1",
		Service: service,
		Host:    u.Hostname(),
		Port:    port,
		Healthy: true,
	})
}

func serverHandler(gw *Gateway, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/version", handleVersion)
	mux.Handle("/api/gateway/", gw.AdminHandler())
	mux.Handle("/", gw)
	return middleware.Chain(mux,
		middleware.RequestID(),
		middleware.Recovery(),
		corsMiddleware(cfg.CORS, cfg.Server.IsProduction()),
	)
}

func TestGatewayEndToEnd(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tracks"))
	}))
	defer upstream.Close()

	cfg := testConfig()
	gw := New(cfg)
	registerUpstream(t, gw, "catalog-service", upstream)
	if _, err := gw.AddRoute(config.RouteConfig{Path: "/api/catalog/*", Service: "catalog-service"}); err != nil {
		t.Fatal(err)
	}

	h := serverHandler(gw, cfg)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/catalog/tracks", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != "tracks" {
		t.Fatalf("response = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(middleware.HeaderRequestID) == "" {
		t.Error("response must carry a request id")
	}
}

func TestGatewayRouteNotFound(t *testing.T) {
	cfg := testConfig()
	gw := New(cfg)
	h := serverHandler(gw, cfg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nowhere", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Success || body.Error.Code != "ROUTE_NOT_FOUND" {
		t.Errorf("envelope = %+v", body)
	}
}

func TestGatewayAuthRequired(t *testing.T) {
	cfg := testConfig()
	gw := New(cfg) // no extractor: every caller is anonymous
	if _, err := gw.AddRoute(config.RouteConfig{
		Path: "/api/users/*", Service: "user-service", AuthRequired: true,
	}); err != nil {
		t.Fatal(err)
	}

	h := serverHandler(gw, cfg)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/me", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestGatewayExtractorGrantsAccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("profile"))
	}))
	defer upstream.Close()

	cfg := testConfig()
	gw := New(cfg, WithExtractor(func(r *http.Request) *middleware.AuthContext {
		if r.Header.Get("Authorization") == "Bearer good" {
			return &middleware.AuthContext{Authenticated: true, UserID: "u-1", UserRole: "listener"}
		}
		return nil
	}))
	registerUpstream(t, gw, "user-service", upstream)
	if _, err := gw.AddRoute(config.RouteConfig{
		Path: "/api/users/*", Service: "user-service", AuthRequired: true,
	}); err != nil {
		t.Fatal(err)
	}

	h := serverHandler(gw, cfg)
	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "profile" {
		t.Fatalf("response = %d %q", rec.Code, rec.Body.String())
	}
}

func TestAdminRouteLifecycle(t *testing.T) {
	cfg := testConfig()
	gw := New(cfg)
	h := serverHandler(gw, cfg)

	payload := []byte(`{"path":"/api/playback/*","service":"playback-service"}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/gateway/routes", bytes.NewReader(payload)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("add route status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/gateway/routes", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list routes status = %d", rec.Code)
	}
	var list struct {
		Data struct {
			Count int `json:"count"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if list.Data.Count != 1 {
		t.Errorf("route count = %d", list.Data.Count)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete,
		"/api/gateway/routes?path="+url.QueryEscape("/api/playback/*"), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("remove route status = %d: %s", rec.Code, rec.Body.String())
	}

	if gw.table.Len() != 0 {
		t.Errorf("routes after delete = %d", gw.table.Len())
	}
}

func TestAdminAddRouteRejectsInvalid(t *testing.T) {
	cfg := testConfig()
	gw := New(cfg)
	h := serverHandler(gw, cfg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/gateway/routes",
		bytes.NewReader([]byte(`{"path":"no-slash","service":"x"}`))))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAdminDeregisterInstance(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	cfg := testConfig()
	gw := New(cfg)
	registerUpstream(t, gw, "user-service", upstream)
	h := serverHandler(gw, cfg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete,
		"/api/gateway/services/user-service/instances/user-service-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("deregister status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := len(gw.Discovery().Registry().Instances()); got != 0 {
		t.Errorf("instances after deregister = %d", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete,
		"/api/gateway/services/user-service/instances/user-service-1", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second deregister = %d, want 404", rec.Code)
	}
}

func TestAdminStatusAndMetrics(t *testing.T) {
	cfg := testConfig()
	gw := New(cfg)
	gw.Metrics().RecordSuccess("catalog-service", 10*time.Millisecond)
	h := serverHandler(gw, cfg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/gateway/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status endpoint = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/gateway/metrics", nil))
	var metrics struct {
		Data struct {
			TotalRequests int64 `json:"totalRequests"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&metrics); err != nil {
		t.Fatal(err)
	}
	if metrics.Data.TotalRequests != 1 {
		t.Errorf("totalRequests = %d", metrics.Data.TotalRequests)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/gateway/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("clear metrics = %d", rec.Code)
	}
	if gw.Metrics().Snapshot().TotalRequests != 0 {
		t.Error("metrics not cleared")
	}
}

func TestDebugEndpointsHiddenInProduction(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Env = "production"
	gw := New(cfg)
	h := serverHandler(gw, cfg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
		"/api/gateway/debug/discovery/force-static", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("debug endpoint in production = %d, want 404", rec.Code)
	}
}

func TestReloadRoutes(t *testing.T) {
	cfg := testConfig()
	gw := New(cfg)
	gw.AddRoute(config.RouteConfig{Path: "/api/old/*", Service: "old-service"})

	gw.ReloadRoutes([]config.RouteConfig{
		{Path: "/api/new/*", Service: "new-service"},
	})

	if gw.table.Lookup("/api/old/x") != nil {
		t.Error("stale route survived reload")
	}
	if gw.table.Lookup("/api/new/x") == nil {
		t.Error("new route missing after reload")
	}
}

func TestCORSPreflight(t *testing.T) {
	cfg := testConfig()
	cfg.CORS.Origins = []string{"https://app.soundrift.io"}
	gw := New(cfg)
	h := serverHandler(gw, cfg)

	req := httptest.NewRequest(http.MethodOptions, "/api/catalog/tracks", nil)
	req.Header.Set("Origin", "https://app.soundrift.io")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.soundrift.io" {
		t.Errorf("allow origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestCORSDevWildcardLocalhost(t *testing.T) {
	cfg := testConfig() // development env, DevWildcards on
	gw := New(cfg)
	h := serverHandler(gw, cfg)

	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Errorf("dev wildcard origin not allowed: %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	// In production the same origin is refused.
	cfg2 := testConfig()
	cfg2.Server.Env = "production"
	h2 := serverHandler(New(cfg2), cfg2)
	rec2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/health", nil)
	req2.Header.Set("Origin", "http://localhost:5173")
	h2.ServeHTTP(rec2, req2)
	if rec2.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("localhost origin must be refused in production")
	}
}
