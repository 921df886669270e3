package httputil

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tally/pkg/actor"
	"github.com/platinummonkey/tally/pkg/contextkeys"
	"github.com/platinummonkey/tally/pkg/observability"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusOK, map[string]string{"message": "success"})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteErrors(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		msg    string
	}{
		{"error", func(w http.ResponseWriter) { WriteError(w, http.StatusConflict, errors.New("clash")) }, http.StatusConflict, "clash"},
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "invalid input") }, http.StatusBadRequest, "invalid input"},
		{"unauthorized", func(w http.ResponseWriter) { WriteUnauthorized(w, "who are you") }, http.StatusUnauthorized, "who are you"},
		{"not found", func(w http.ResponseWriter) { WriteNotFound(w, "receipt not found") }, http.StatusNotFound, "receipt not found"},
		{"internal", func(w http.ResponseWriter) { WriteInternalError(w, errors.New("boom")) }, http.StatusInternalServerError, "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			assert.Equal(t, tt.status, w.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.msg, body.Error)
		})
	}
}

func TestParseQueryIntOrError(t *testing.T) {
	w := httptest.NewRecorder()
	n, ok := ParseQueryIntOrError(w, httptest.NewRequest("GET", "/?limit=25", nil), "limit", 10)
	assert.True(t, ok)
	assert.Equal(t, 25, n)

	n, ok = ParseQueryIntOrError(w, httptest.NewRequest("GET", "/", nil), "limit", 10)
	assert.True(t, ok)
	assert.Equal(t, 10, n)

	for _, target := range []string{"/?limit=abc", "/?limit=-1"} {
		w = httptest.NewRecorder()
		_, ok = ParseQueryIntOrError(w, httptest.NewRequest("GET", target, nil), "limit", 10)
		assert.False(t, ok, target)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}
}

func TestParseQueryTime(t *testing.T) {
	got, err := ParseQueryTime(httptest.NewRequest("GET", "/?since=2024-03-01T10:00:00Z", nil), "since")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))

	got, err = ParseQueryTime(httptest.NewRequest("GET", "/", nil), "since")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = ParseQueryTime(httptest.NewRequest("GET", "/?since=yesterday", nil), "since")
	assert.EqualError(t, err, "invalid RFC3339 time for query param since: yesterday")
}

func TestActorMiddleware(t *testing.T) {
	var got actor.Actor
	var present bool
	handler := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, present = actor.FromContext(r.Context())
	}))

	serve := func(headers map[string]string) *httptest.ResponseRecorder {
		got, present = actor.Actor{}, false
		req := httptest.NewRequest("POST", "/", nil)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	serve(map[string]string{HeaderUserID: "u1"})
	require.True(t, present)
	assert.Equal(t, actor.User("u1"), got)

	serve(map[string]string{HeaderAPIKeyID: "k1"})
	require.True(t, present)
	assert.Equal(t, actor.APIKey("k1"), got)

	serve(nil)
	assert.False(t, present)

	rec := serve(map[string]string{HeaderUserID: "u1", HeaderAPIKeyID: "k1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, present)
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(observability.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = contextkeys.GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(HeaderRequestID, "req-123")
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", seen)
	assert.Equal(t, "req-123", rec.Header().Get(HeaderRequestID))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Len(t, seen, 36)
	assert.Equal(t, seen, rec.Header().Get(HeaderRequestID))
}

func TestRecoveryAndLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.InfoLevel, &buf)

	handler := Chain(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
	)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/panic" {
			panic("handler exploded")
		}
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/ok", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, buf.String(), `"status":202`)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "PANIC recovered")
}
