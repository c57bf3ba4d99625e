package proxy

import (
	"testing"

	"github.com/soundrift/gateway/internal/config"
	"github.com/soundrift/gateway/internal/router"
)

func routeFor(cfg config.RouteConfig) *router.Route {
	tbl := router.New()
	return tbl.AddRoute(cfg)
}

func TestBuildTargetPath(t *testing.T) {
	tests := []struct {
		name    string
		route   config.RouteConfig
		reqPath string
		want    string
	}{
		{
			name:    "passthrough",
			route:   config.RouteConfig{Path: "/api/users/*", Service: "s"},
			reqPath: "/api/users/42",
			want:    "/api/users/42",
		},
		{
			name:    "version prefix normalized",
			route:   config.RouteConfig{Path: "/api/v1/users/*", Service: "s"},
			reqPath: "/api/v1/users/42",
			want:    "/api/users/42",
		},
		{
			name:    "strip prefix",
			route:   config.RouteConfig{Path: "/api/v1/stream/*", Service: "s", StripPrefix: true},
			reqPath: "/api/v1/stream/hls/track-9/manifest.m3u8",
			want:    "/hls/track-9/manifest.m3u8",
		},
		{
			name:    "strip prefix exact",
			route:   config.RouteConfig{Path: "/api/v1/stream/*", Service: "s", StripPrefix: true},
			reqPath: "/api/v1/stream/",
			want:    "/",
		},
		{
			name:    "rewrite grafts remainder",
			route:   config.RouteConfig{Path: "/api/v1/ai/config/*", Service: "s", RewritePath: "/api/config"},
			reqPath: "/api/v1/ai/config/models/default",
			want:    "/api/config/models/default",
		},
		{
			name:    "rewrite without remainder",
			route:   config.RouteConfig{Path: "/api/v1/ai/config/*", Service: "s", RewritePath: "/api/config"},
			reqPath: "/api/v1/ai/config",
			want:    "/api/config",
		},
		{
			name:    "rewrite normalizes version",
			route:   config.RouteConfig{Path: "/api/v1/legacy/*", Service: "s", RewritePath: "/api/v1/modern"},
			reqPath: "/api/v1/legacy/x",
			want:    "/api/modern/x",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildTargetPath(routeFor(tt.route), tt.reqPath)
			if got != tt.want {
				t.Errorf("BuildTargetPath = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAPIVersion(t *testing.T) {
	tests := []struct{ in, want string }{
		{"/api/v1/users/42", "v1"},
		{"/api/v2/users", "v2"},
		{"/api/users/42", "v1"},
		{"/api/v1", "v1"},
		{"/health", "v1"},
		{"/api/version/info", "v1"},
	}
	for _, tt := range tests {
		if got := apiVersion(tt.in); got != tt.want {
			t.Errorf("apiVersion(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeVersion(t *testing.T) {
	tests := []struct{ in, want string }{
		{"/api/v1/users", "/api/users"},
		{"/api/v1", "/api"},
		{"/api/v10/users", "/api/v10/users"},
		{"/other/api/v1", "/other/api/v1"},
	}
	for _, tt := range tests {
		if got := normalizeVersion(tt.in); got != tt.want {
			t.Errorf("normalizeVersion(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
