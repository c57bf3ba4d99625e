package proxy

import (
	"strconv"
	"strings"

	"github.com/soundrift/gateway/internal/router"
)

// BuildTargetPath derives the upstream path for a matched request.
//
// The public surface speaks /api/v1 while upstream services speak
// /api, so that prefix is normalized on both the request path and the
// route pattern before any rewriting. A rewrite path replaces the
// pattern's literal prefix and keeps the wildcard remainder; a
// strip-prefix route drops the literal prefix entirely.
func BuildTargetPath(route *router.Route, requestPath string) string {
	reqPath := normalizeVersion(requestPath)
	pattern := normalizeVersion(route.Path)

	switch {
	case route.RewritePath != "":
		return graft(normalizeVersion(route.RewritePath), pattern, reqPath)
	case route.StripPrefix:
		prefix := strings.TrimSuffix(pattern, "/*")
		out := strings.TrimPrefix(reqPath, prefix)
		if !strings.HasPrefix(out, "/") {
			out = "/" + out
		}
		return out
	default:
		return reqPath
	}
}

// graft joins the rewrite target with the request segments beyond the
// pattern's literal prefix. A trailing wildcard segment is not part of
// the prefix.
func graft(rewrite, pattern, reqPath string) string {
	prefixSegs := splitPath(pattern)
	if n := len(prefixSegs); n > 0 && prefixSegs[n-1] == "*" {
		prefixSegs = prefixSegs[:n-1]
	}

	reqSegs := splitPath(reqPath)
	var rest []string
	if len(reqSegs) > len(prefixSegs) {
		rest = reqSegs[len(prefixSegs):]
	}

	out := strings.TrimSuffix(rewrite, "/")
	if len(rest) > 0 {
		out += "/" + strings.Join(rest, "/")
	}
	if out == "" {
		out = "/"
	}
	return out
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// apiVersion reads the version segment from a public /api/vN path.
// Versionless paths report v1, the current default.
func apiVersion(path string) string {
	seg := strings.TrimPrefix(path, "/api/")
	if seg == path {
		return "v1"
	}
	if i := strings.IndexByte(seg, '/'); i >= 0 {
		seg = seg[:i]
	}
	if len(seg) > 1 && seg[0] == 'v' {
		if _, err := strconv.Atoi(seg[1:]); err == nil {
			return seg
		}
	}
	return "v1"
}

// normalizeVersion maps the public /api/v1 prefix onto the upstream
// /api prefix.
func normalizeVersion(path string) string {
	if path == "/api/v1" {
		return "/api"
	}
	if strings.HasPrefix(path, "/api/v1/") {
		return "/api/" + path[len("/api/v1/"):]
	}
	return path
}
