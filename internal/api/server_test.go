package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maheshalyana/letterflow/internal/api/websocket"
	"github.com/maheshalyana/letterflow/pkg/auth"
	"github.com/maheshalyana/letterflow/pkg/common/config"
	"github.com/maheshalyana/letterflow/pkg/models"
	"github.com/maheshalyana/letterflow/pkg/observability"
)

type stubPinger struct {
	err error
}

func (p *stubPinger) Ping(ctx context.Context) error { return p.err }

type nostore struct{}

func (nostore) ReadSnapshot(ctx context.Context, documentID string) (*models.Snapshot, error) {
	return &models.Snapshot{DocumentID: documentID}, nil
}

func (nostore) WriteSnapshot(ctx context.Context, documentID, content string, modified time.Time) error {
	return nil
}

type noauth struct{}

func (noauth) Authorize(ctx context.Context, documentID, token string) (*auth.Decision, error) {
	return nil, auth.ErrInvalidToken
}

func newTestAPI(t *testing.T, pinger Pinger) *Server {
	t.Helper()
	logger := observability.NewNoopLogger()
	registry := websocket.NewRegistry(nostore{}, nil, "test", time.Second, logger, nil)
	ws := websocket.NewServer(registry, noauth{}, config.WebSocketConfig{}, logger, nil)
	return NewServer(ws, pinger, config.APIConfig{EnableCORS: true}, logger)
}

func TestHealthEndpoint(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		s := newTestAPI(t, &stubPinger{})

		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, "ok", body["database"])
	})

	t.Run("degraded when database is down", func(t *testing.T) {
		s := newTestAPI(t, &stubPinger{err: errors.New("connection refused")})

		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "degraded", body["status"])
	})
}

func TestWebSocketRouteRejectsPlainRequests(t *testing.T) {
	s := newTestAPI(t, &stubPinger{})

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestAPI(t, &stubPinger{})

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/healthz", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
