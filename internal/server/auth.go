package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/kbgraph-go/internal/logging"
)

// apiKeyHeader is accepted as an alternative to "Authorization: Bearer" for
// clients such as upload scripts that cannot set the Authorization header.
const apiKeyHeader = "X-API-Key"

// apiKeyAuth guards the /api/kb and /api/chat routes with a shared key.
type apiKeyAuth struct {
	key      []byte
	failures *prometheus.CounterVec
}

// newAPIKeyAuth returns the guard for key. An empty key disables the check;
// New logs the warning once at startup. failures may be nil.
func newAPIKeyAuth(key string, failures *prometheus.CounterVec) *apiKeyAuth {
	return &apiKeyAuth{key: []byte(key), failures: failures}
}

// wrap rejects requests that lack the key with 401 and a Bearer challenge.
// The presented credential is compared in constant time and never logged.
func (a *apiKeyAuth) wrap(next http.Handler) http.Handler {
	if len(a.key) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := credential(r)
		switch {
		case token == "":
			a.reject(w, r, "missing", `Bearer realm="kbg"`, "authorization required")
		case subtle.ConstantTimeCompare([]byte(token), a.key) != 1:
			a.reject(w, r, "invalid", `Bearer realm="kbg", error="invalid_token"`, "invalid token")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func (a *apiKeyAuth) reject(w http.ResponseWriter, r *http.Request, reason, challenge, msg string) {
	logging.FromContext(r.Context()).Warn("auth: request rejected",
		slog.String("reason", reason),
		slog.String("path", r.URL.Path),
	)
	if a.failures != nil {
		a.failures.WithLabelValues(reason).Inc()
	}
	w.Header().Set("WWW-Authenticate", challenge)
	writeJSON(w, r, http.StatusUnauthorized, errorResponse{Error: msg})
}

// credential returns the Bearer token, or the X-API-Key header when no
// Authorization header is present. A malformed Authorization header yields
// "" even if X-API-Key is set.
func credential(r *http.Request) string {
	hdr := r.Header.Get("Authorization")
	if hdr == "" {
		return strings.TrimSpace(r.Header.Get(apiKeyHeader))
	}
	scheme, token, ok := strings.Cut(hdr, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
