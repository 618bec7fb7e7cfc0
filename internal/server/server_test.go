package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydra-ops/hydra/internal/config"
	"github.com/hydra-ops/hydra/internal/handler"
	"github.com/hydra-ops/hydra/internal/logstore"
	"github.com/hydra-ops/hydra/internal/metrics"
	"github.com/hydra-ops/hydra/internal/ml"
)

type constModel struct{}

func (constModel) Predict([]float64) (int, error) { return 1, nil }

func (constModel) Info() (ml.Info, bool) { return ml.Info{}, false }

func newTestServer(t *testing.T) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	cfg := &config.Config{Server: config.ServerConfig{Port: "0", ReadTimeout: time.Second, WriteTimeout: time.Second}}
	return New(Deps{
		Config: cfg,
		Logger: zerolog.Nop(),
		Predictions: &handler.PredictionHandler{
			Models:  constModel{},
			Store:   logstore.NewMemory(),
			Metrics: m,
			Logger:  zerolog.Nop(),
		},
		Gatherer: reg,
	}), reg
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

func TestServer_Routes(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(s, http.MethodPost, "/predict", `{"features":[1,2]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = do(s, http.MethodGet, "/prediction-metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_predictions":1`)

	rec = do(s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `hydra_predictions_total{label="1"} 1`)

	rec = do(s, http.MethodPost, "/ingest", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code, "ingest is only mounted with a publisher")
}

func TestServer_StartStopsOnCancel(t *testing.T) {
	s, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return s.Echo.ListenerAddr() != nil }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
