package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func TestLogger_RecordsRequest(t *testing.T) {
	logger, buf := newBufferLogger()
	h := chimiddleware.RequestID(Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("hello"))
	})))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/gallery/upload/", nil))

	line := buf.String()
	assert.Contains(t, line, "level=INFO")
	assert.Contains(t, line, "method=POST")
	assert.Contains(t, line, "path=/gallery/upload/")
	assert.Contains(t, line, "status=201")
	assert.Contains(t, line, "bytes=5")
	assert.NotContains(t, line, `requestID=""`)
}

func TestLogger_LevelFollowsStatus(t *testing.T) {
	for status, level := range map[int]string{
		http.StatusOK:                  "level=INFO",
		http.StatusUnauthorized:        "level=WARN",
		http.StatusBadGateway:          "level=ERROR",
		http.StatusInternalServerError: "level=ERROR",
	} {
		logger, buf := newBufferLogger()
		h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		assert.True(t, strings.Contains(buf.String(), level), "status %d: %s", status, buf.String())
	}
}

func TestLogger_FlushReachesUnderlyingWriter(t *testing.T) {
	logger, _ := newBufferLogger()
	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("part"))
		require.NoError(t, http.NewResponseController(w).Flush())
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, rr.Flushed)
}
