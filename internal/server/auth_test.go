package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestAuth(key string) (*apiKeyAuth, *prometheus.CounterVec) {
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "auth_failures_total"}, []string{"reason"})
	return newAPIKeyAuth(key, failures), failures
}

func authRequest(h http.Handler, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/kb", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAPIKeyAuth_DisabledWithoutKey(t *testing.T) {
	t.Parallel()
	a, _ := newTestAuth("")

	assert.Equal(t, http.StatusOK, authRequest(a.wrap(okHandler), nil).Code)
}

func TestAPIKeyAuth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		headers    map[string]string
		wantStatus int
		wantReason string
	}{
		{"bearer token", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK, ""},
		{"lowercase scheme", map[string]string{"Authorization": "bearer secret"}, http.StatusOK, ""},
		{"api key header", map[string]string{apiKeyHeader: "secret"}, http.StatusOK, ""},
		{"missing", nil, http.StatusUnauthorized, "missing"},
		{"wrong bearer", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized, "invalid"},
		{"wrong api key", map[string]string{apiKeyHeader: "nope"}, http.StatusUnauthorized, "invalid"},
		{"basic scheme", map[string]string{"Authorization": "Basic c2VjcmV0"}, http.StatusUnauthorized, "missing"},
		{"malformed header wins over api key", map[string]string{"Authorization": "secret", apiKeyHeader: "secret"}, http.StatusUnauthorized, "missing"},
		{"prefix of key", map[string]string{"Authorization": "Bearer secre"}, http.StatusUnauthorized, "invalid"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			a, failures := newTestAuth("secret")

			w := authRequest(a.wrap(okHandler), tc.headers)
			assert.Equal(t, tc.wantStatus, w.Code)
			if tc.wantReason == "" {
				return
			}
			assert.Contains(t, w.Header().Get("WWW-Authenticate"), `realm="kbg"`)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.Equal(t, 1.0, testutil.ToFloat64(failures.WithLabelValues(tc.wantReason)))
		})
	}
}

func TestCredential(t *testing.T) {
	t.Parallel()

	tests := []struct {
		auth, apiKey, want string
	}{
		{"", "", ""},
		{"Bearer mytoken", "", "mytoken"},
		{"BEARER  mytoken ", "", "mytoken"},
		{"Token mytoken", "", ""},
		{"Bearer", "", ""},
		{"", " key ", "key"},
		{"Bearer a", "b", "a"},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.auth != "" {
			req.Header.Set("Authorization", tc.auth)
		}
		if tc.apiKey != "" {
			req.Header.Set(apiKeyHeader, tc.apiKey)
		}
		assert.Equal(t, tc.want, credential(req), "Authorization=%q X-API-Key=%q", tc.auth, tc.apiKey)
	}
}
