package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jsonlined/jsonlined/internal/config"
	"github.com/jsonlined/jsonlined/internal/engine"
	"github.com/jsonlined/jsonlined/internal/model"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()

	cfg := config.Default()
	cfg.Log.Path = filepath.Join(t.TempDir(), "data.jsonl")
	cfg.Log.RetryDelay = "5ms"
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	eng := engine.New(engine.Config{
		Path:       cfg.Log.Path,
		MaxRetries: cfg.Log.MaxRetries,
		RetryDelay: cfg.Log.Delay(),
		Workers:    cfg.Log.Workers,
	})
	return New(eng, cfg)
}

func doRequest(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)

	w := doRequest(s, httptest.NewRequest("GET", "/health/", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp healthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestHealthIgnoresLogState(t *testing.T) {
	// Point the engine at an unwritable location; health must not care.
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Log.Path = filepath.Join(t.TempDir(), "missing", "nested", "data.jsonl")
	})

	w := doRequest(s, httptest.NewRequest("GET", "/health/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAppendSuccess(t *testing.T) {
	s := newTestServer(t, nil)

	body := `{"data": {"sensor": "temp", "value": 21.5}}`
	w := doRequest(s, httptest.NewRequest("POST", "/append/", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	var resp appendResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "Data appended successfully", resp.Message)
	_, err := time.Parse(engine.TimestampLayout, resp.Timestamp)
	assert.NoError(t, err)

	raw, err := os.ReadFile(s.cfg.Log.Path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	require.Len(t, lines, 1)

	var entry model.Entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, resp.Timestamp, entry.Timestamp)
	assert.JSONEq(t, `{"sensor": "temp", "value": 21.5}`, string(entry.Data))
}

func TestAppendMissingData(t *testing.T) {
	s := newTestServer(t, nil)

	w := doRequest(s, httptest.NewRequest("POST", "/append/", strings.NewReader(`{"foo": 1}`)))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp errorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Contains(t, resp.Detail, "data")
}

func TestAppendNonObjectData(t *testing.T) {
	s := newTestServer(t, nil)

	for _, body := range []string{
		`{"data": [1, 2, 3]}`,
		`{"data": "text"}`,
		`{"data": 42}`,
		`{"data": null}`,
	} {
		w := doRequest(s, httptest.NewRequest("POST", "/append/", strings.NewReader(body)))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "body: %s", body)
	}
}

func TestAppendInvalidJSON(t *testing.T) {
	s := newTestServer(t, nil)

	w := doRequest(s, httptest.NewRequest("POST", "/append/", strings.NewReader(`{"data":`)))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestAppendMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, nil)

	w := doRequest(s, httptest.NewRequest("GET", "/append/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestAppendEngineFailure(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		// A log path in a directory that does not exist fails every attempt.
		cfg.Log.Path = filepath.Join(t.TempDir(), "missing", "nested", "data.jsonl")
		cfg.Log.MaxRetries = 2
		cfg.Log.RetryDelay = "1ms"
	})

	body := `{"data": {"a": 1}}`
	w := doRequest(s, httptest.NewRequest("POST", "/append/", strings.NewReader(body)))
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var resp errorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Contains(t, resp.Detail, "after 2 attempts")
}

func TestAppendGzipBody(t *testing.T) {
	s := newTestServer(t, nil)

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write([]byte(`{"data": {"compressed": true}}`))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	req := httptest.NewRequest("POST", "/append/", &buf)
	req.Header.Set("Content-Encoding", "gzip")
	w := doRequest(s, req)
	require.Equal(t, http.StatusOK, w.Code)

	raw, err := os.ReadFile(s.cfg.Log.Path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"compressed":true`)
}

func TestAppendAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("sekret"), bcrypt.MinCost)
	require.NoError(t, err)

	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.TokenHash = string(hash)
	})
	body := `{"data": {"a": 1}}`

	w := doRequest(s, httptest.NewRequest("POST", "/append/", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest("POST", "/append/", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, doRequest(s, req).Code)

	req = httptest.NewRequest("POST", "/append/", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer sekret")
	assert.Equal(t, http.StatusOK, doRequest(s, req).Code)
}

func TestHealthUnaffectedByAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("sekret"), bcrypt.MinCost)
	require.NoError(t, err)

	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.TokenHash = string(hash)
	})

	w := doRequest(s, httptest.NewRequest("GET", "/health/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
