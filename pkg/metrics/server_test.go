package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nano-cluster/nano-compose/internal/config"
	"github.com/nano-cluster/nano-compose/internal/logger"
	"github.com/nano-cluster/nano-compose/pkg/stats"
	"github.com/nano-cluster/nano-compose/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStats() *stats.Stats {
	st := stats.New()
	call := stats.Call{Caller: "alpha", Callee: "beta", Method: "ping"}
	st.Invoked(call)
	st.Invoked(call)
	st.Resolved(call, false)
	st.Dropped("malformed")
	return st
}

func TestNewServerRequiresStats(t *testing.T) {
	_, err := NewServer(config.MetricsConfig{}, nil, nil)
	require.Error(t, err)
	assert.True(t, types.IsErrCode(err, types.ErrCodeInvalidArgument))
}

func TestHandlerExportsBrokerCounters(t *testing.T) {
	srv, err := NewServer(config.MetricsConfig{Path: "/metrics"}, testStats(), logger.NewNop())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `nano_compose_calls_total{key="alpha:beta",slice="caller_callee"} 2`)
	assert.Contains(t, body, `nano_compose_calls_in_flight{key="ping",slice="method"} 1`)
	assert.Contains(t, body, `nano_compose_broker_dropped_total{reason="malformed"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestHealthEndpoint(t *testing.T) {
	srv, err := NewServer(config.MetricsConfig{}, stats.New(), logger.NewNop())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestStartServeStop(t *testing.T) {
	srv, err := NewServer(config.MetricsConfig{Address: "127.0.0.1:0", Path: "/custom"}, testStats(), logger.NewNop())
	require.NoError(t, err)

	assert.Nil(t, srv.Addr())
	assert.Empty(t, srv.URL())

	require.NoError(t, srv.Start())
	err = srv.Start()
	assert.True(t, types.IsErrCode(err, types.ErrCodeFailedPrecondition))

	require.True(t, strings.HasSuffix(srv.URL(), "/custom"))
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(srv.URL())
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "nano_compose_calls_total")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	assert.Nil(t, srv.Addr())
	require.NoError(t, srv.Stop(ctx), "stopping twice is a no-op")
}

func TestStartBindError(t *testing.T) {
	srv, err := NewServer(config.MetricsConfig{Address: "256.0.0.1:bad"}, stats.New(), logger.NewNop())
	require.NoError(t, err)

	err = srv.Start()
	require.Error(t, err)
	assert.True(t, types.IsErrCode(err, types.ErrCodeUnavailable))
}
