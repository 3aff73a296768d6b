package httpapi

import (
	"net/http"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/v1/chat/completions":    "/chat/completions",
		"/chat/completions":       "/chat/completions",
		"/api/chat":               "/chat",
		"/v1/api/tags":            "/tags",
		"/api/tags":               "/tags",
		"/v1/models":              "/models",
		"/v1":                     "/",
		"/v1/":                    "/",
		"/api":                    "/",
		"":                        "/",
		"/v1x/models":             "/v1x/models",
		"/apix":                   "/apix",
		"/health":                 "/health",
		"/v1/v1/chat/completions": "/v1/chat/completions",
		"/api/v1/models":          "/v1/models",
	}
	for in, want := range cases {
		if got := NormalizePath(in); got != want {
			t.Fatalf("NormalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizePath_IdempotentOnRoutes(t *testing.T) {
	for _, p := range []string{"/", "/health", "/models", "/tags", "/chat", "/chat/completions", "/status"} {
		if got := NormalizePath(NormalizePath(p)); got != p {
			t.Fatalf("not idempotent on %q: %q", p, got)
		}
	}
}

func TestPrefixedRoutesReachSameHandler(t *testing.T) {
	h := newTestMux(&mockService{ready: true})
	for _, p := range []string{"/health", "/v1/health", "/api/health", "/v1/api/health"} {
		if w := do(t, h, http.MethodGet, p, ""); w.Code != http.StatusOK {
			t.Fatalf("%s: status=%d", p, w.Code)
		}
	}
}
