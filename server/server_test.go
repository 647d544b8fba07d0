package server

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthz(t *testing.T) {
	recorder := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, "/healthz", nil)
	require.NoError(t, err)

	Router().ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"status":"ok"}`, recorder.Body.String())
	assert.NotEmpty(t, recorder.Header().Get("X-Request-Id"))
}

func TestRequestIDPreserved(t *testing.T) {
	recorder := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, "/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "req-abc123")

	Router().ServeHTTP(recorder, req)
	assert.Equal(t, "req-abc123", recorder.Header().Get("X-Request-Id"))
}

func TestProxyMounted(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	recorder := httptest.NewRecorder()
	path := "/" + url.PathEscape(`{}`) + "$" + upstream.URL
	req, err := http.NewRequest(http.MethodPost, path, nil)
	require.NoError(t, err)

	Router().ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"ok":true}`, recorder.Body.String())
}

func TestProxyBadConfig(t *testing.T) {
	recorder := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodPost, "/not-a-proxy-url", nil)
	require.NoError(t, err)

	Router().ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "CONFIG_PARSE_ERROR")
}
