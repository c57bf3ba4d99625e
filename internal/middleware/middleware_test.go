package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/soundrift/gateway/internal/policy"
)

func TestRequestIDGenerated(t *testing.T) {
	var got string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if got == "" {
		t.Fatal("no request id assigned")
	}
	if rec.Header().Get(HeaderRequestID) != got {
		t.Error("response header must echo the assigned id")
	}
}

func TestRequestIDTrustsInbound(t *testing.T) {
	var got string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "client-supplied-id")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got != "client-supplied-id" {
		t.Errorf("request id = %q, inbound id must be reused", got)
	}
}

func TestRecoveryWritesEnvelope(t *testing.T) {
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), RequestID(), Recovery())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
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
	if body.Success || body.Error.Code != "INTERNAL_ERROR" {
		t.Errorf("envelope = %+v", body)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}), mw("first"), mw("second"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	want := []string{"first", "second", "handler"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"socket peer", "10.0.0.1:1234", nil, "10.0.0.1"},
		{"x-forwarded-for", "10.0.0.1:1234", map[string]string{"X-Forwarded-For": "203.0.113.7"}, "203.0.113.7"},
		{"x-forwarded-for chain", "10.0.0.1:1234", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.2"}, "203.0.113.7"},
		{"x-real-ip", "10.0.0.1:1234", map[string]string{"X-Real-Ip": "198.51.100.3"}, "198.51.100.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := ClientIP(req); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAuthProjectionRejectsAnonymous(t *testing.T) {
	h := AuthProjection(policy.AuthPolicy{Required: true}, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler must not run")
		}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuthProjectionAllowGuest(t *testing.T) {
	called := false
	h := AuthProjection(policy.AuthPolicy{Required: true, AllowGuest: true}, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Error("guest allowance must admit anonymous callers")
	}
}

func TestAuthProjectionScopes(t *testing.T) {
	extract := func(r *http.Request) *AuthContext {
		return &AuthContext{Authenticated: true, UserID: "u-1", Scopes: []string{"catalog:read"}}
	}

	ok := AuthProjection(policy.AuthPolicy{Required: true, Scopes: []string{"catalog:read"}}, extract)
	rec := httptest.NewRecorder()
	ok(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("matching scope rejected: %d", rec.Code)
	}

	denied := AuthProjection(policy.AuthPolicy{Required: true, Scopes: []string{"playlists:write"}}, extract)
	rec = httptest.NewRecorder()
	denied(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("missing scope = %d, want 403", rec.Code)
	}
}

func TestAuthProjectionAttachesContext(t *testing.T) {
	extract := func(r *http.Request) *AuthContext {
		return &AuthContext{Authenticated: true, UserID: "u-9"}
	}
	var got *AuthContext
	h := AuthProjection(policy.AuthPolicy{}, extract)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = GetAuthContext(r.Context())
		}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if got == nil || got.UserID != "u-9" {
		t.Errorf("auth context = %+v", got)
	}
}
