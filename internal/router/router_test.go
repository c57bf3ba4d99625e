package router

import (
	"testing"

	"github.com/soundrift/gateway/internal/config"
)

func TestSpecificity(t *testing.T) {
	tests := []struct {
		path string
		want int
	}{
		{"/api/users", 10},               // 8 literals + 2 slashes
		{"/api/users/*", 1},              // 8 literals - 10 + 3 slashes
		{"/api/users/:id", 1},            // 8 literals - 10 + 3 slashes
		{"/api/users/:id/playlists", 11}, // 17 literals - 10 + 4 slashes
		{"/*", -9},                       // 0 - 10 + 1
		{"/api/v1/catalog/tracks", 22},   // 18 literals + 4 slashes
	}
	for _, tt := range tests {
		if got := specificity(tt.path); got != tt.want {
			t.Errorf("specificity(%q) = %d, want %d", tt.path, got, tt.want)
		}
	}
}

func TestLookupExactBeatsWildcard(t *testing.T) {
	tbl := New()
	tbl.AddRoute(config.RouteConfig{Path: "/api/users/*", Service: "user-service"})
	tbl.AddRoute(config.RouteConfig{Path: "/api/users/me", Service: "profile-service"})

	route := tbl.Lookup("/api/users/me")
	if route == nil {
		t.Fatal("expected a match")
	}
	if route.Service != "profile-service" {
		t.Errorf("got service %q, want profile-service", route.Service)
	}

	route = tbl.Lookup("/api/users/42")
	if route == nil || route.Service != "user-service" {
		t.Errorf("wildcard lookup got %+v, want user-service", route)
	}
}

func TestLookupMostSpecificWins(t *testing.T) {
	tbl := New()
	tbl.AddRoute(config.RouteConfig{Path: "/api/*", Service: "catchall"})
	tbl.AddRoute(config.RouteConfig{Path: "/api/catalog/*", Service: "catalog-service"})

	route := tbl.Lookup("/api/catalog/tracks/99")
	if route == nil || route.Service != "catalog-service" {
		t.Fatalf("got %+v, want catalog-service", route)
	}

	route = tbl.Lookup("/api/anything")
	if route == nil || route.Service != "catchall" {
		t.Fatalf("got %+v, want catchall", route)
	}
}

func TestLookupTieBreakRegistrationOrder(t *testing.T) {
	tbl := New()
	// Equal specificity: same literal count, same wildcard count.
	tbl.AddRoute(config.RouteConfig{Path: "/aa/:x", Service: "first"})
	tbl.AddRoute(config.RouteConfig{Path: "/:y/aa", Service: "second"})

	route := tbl.Lookup("/aa/aa")
	if route == nil || route.Service != "first" {
		t.Fatalf("got %+v, want first (registration order)", route)
	}
}

func TestLookupParamSegment(t *testing.T) {
	tbl := New()
	tbl.AddRoute(config.RouteConfig{Path: "/api/playlists/:id", Service: "playlist-service"})

	if r := tbl.Lookup("/api/playlists/abc123"); r == nil {
		t.Error("param segment should match a single segment")
	}
	if r := tbl.Lookup("/api/playlists/abc/tracks"); r != nil {
		t.Error("param segment must not span slashes")
	}
	if r := tbl.Lookup("/api/playlists/"); r != nil {
		t.Error("param segment must not match empty")
	}
}

func TestLookupEmptyPaths(t *testing.T) {
	tbl := New()
	tbl.AddRoute(config.RouteConfig{Path: "/*", Service: "catchall"})

	if r := tbl.Lookup(""); r != nil {
		t.Error("empty path must not match")
	}
	if r := tbl.Lookup("/"); r != nil {
		t.Error("root path must not match")
	}
}

func TestAddRouteReplacesSamePath(t *testing.T) {
	tbl := New()
	tbl.AddRoute(config.RouteConfig{Path: "/api/users/*", Service: "old"})
	tbl.AddRoute(config.RouteConfig{Path: "/api/users/*", Service: "new"})

	if tbl.Len() != 1 {
		t.Fatalf("got %d routes, want 1", tbl.Len())
	}
	if r := tbl.Lookup("/api/users/1"); r == nil || r.Service != "new" {
		t.Errorf("got %+v, want new", r)
	}
}

func TestRemoveRoute(t *testing.T) {
	tbl := New()
	tbl.AddRoute(config.RouteConfig{Path: "/api/users/*", Service: "user-service"})

	if !tbl.RemoveRoute("/api/users/*") {
		t.Fatal("expected removal to succeed")
	}
	if tbl.RemoveRoute("/api/users/*") {
		t.Error("second removal should report not found")
	}
	if r := tbl.Lookup("/api/users/1"); r != nil {
		t.Errorf("lookup after removal got %+v", r)
	}
}
