package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// apiPrefixes are the version prefixes clients put in front of the routes,
// longest first.
var apiPrefixes = []string{"/v1/api", "/v1", "/api"}

// NormalizePath strips at most one recognized prefix so "/v1/chat/completions"
// and "/chat/completions" route identically. A prefix only matches on a
// segment boundary: "/v1x" is left alone. It is idempotent only on paths
// that are already routable; stacked prefixes such as "/v1/v1/..." lose one
// prefix per call.
func NormalizePath(p string) string {
	if p == "" {
		return "/"
	}
	for _, pre := range apiPrefixes {
		if p == pre || p == pre+"/" {
			return "/"
		}
		if strings.HasPrefix(p, pre+"/") {
			return p[len(pre):]
		}
	}
	return p
}

// normalizeMiddleware rewrites the routing path before chi matches it.
func normalizeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.RawPath
		if path == "" {
			path = r.URL.Path
		}
		if rc := chi.RouteContext(r.Context()); rc != nil {
			rc.RoutePath = NormalizePath(path)
		}
		next.ServeHTTP(w, r)
	})
}
