package compose

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
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

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skipf("sh not available: %v", err)
	}
}

func parseConfig(t *testing.T, doc string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(doc), "test.yaml")
	require.NoError(t, err)
	return cfg
}

// quote renders s as a YAML double-quoted scalar
func quote(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}

func waitForFile(t *testing.T, path string) []byte {
	t.Helper()
	var data []byte
	require.Eventually(t, func() bool {
		b, err := os.ReadFile(path)
		if err != nil || !strings.HasSuffix(string(b), "\n") {
			return false
		}
		data = b
		return true
	}, 10*time.Second, 20*time.Millisecond, "module never wrote %s", path)
	return data
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(nil, logger.NewNop())
	assert.True(t, types.IsErrCode(err, types.ErrCodeInvalidArgument))

	_, err = New(&config.Config{}, logger.NewNop())
	assert.True(t, types.IsErrCode(err, types.ErrCodeInvalidArgument))
}

func TestReportStats(t *testing.T) {
	cfg := parseConfig(t, `
modules:
  alpha:
    fork: [./alpha]
    uses: [beta]
  beta:
    fork: [./beta]
`)
	var buf strings.Builder
	log, err := logger.NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	c, err := New(cfg, log)
	require.NoError(t, err)

	ping := stats.Call{Caller: "alpha", Callee: "beta", Method: "ping"}
	work := stats.Call{Caller: "alpha", Callee: "beta", Method: "work"}
	c.Stats().Invoked(ping)
	c.Stats().Resolved(ping, true)
	c.Stats().Invoked(work)
	c.Stats().Invoked(work)
	c.Stats().Resolved(work, false)
	c.Stats().Dropped("malformed")

	require.NoError(t, c.ReportStats(context.Background()))

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(buf.String()), &entry))
	assert.Equal(t, "Call statistics", entry["msg"])
	assert.Equal(t, float64(2), entry["methods"])
	assert.Equal(t, float64(3), entry["calls"])
	assert.Equal(t, float64(1), entry["failed"])
	assert.Equal(t, float64(1), entry["outstanding"])
	assert.Equal(t, float64(1), entry["dropped"])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, types.IsErrCode(c.ReportStats(ctx), types.ErrCodeCanceled))
}

func TestRunAdminGetStats(t *testing.T) {
	requireShell(t)
	out := filepath.Join(t.TempDir(), "probe.out")

	script := `printf '%s\n' '{"method":"_admin.get_stats","id":"probe-1"}'; read -r line; printf '%s\n' "$line" > "$OUT"`
	cfg := parseConfig(t, fmt.Sprintf(`
modules:
  probe:
    fork: [sh, -c, %s]
    uses: [_admin]
    env:
      OUT: %s
shutdown_timeout: 5s
`, quote(script), quote(out)))

	c, err := New(cfg, logger.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, c.Run(ctx), "run ends once the only module exits")
	assert.Equal(t, types.StatusDown, c.Status())

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var resp struct {
		ID     string         `json:"id"`
		Result stats.Snapshot `json:"result"`
	}
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Equal(t, "probe-1", resp.ID)
	assert.Empty(t, resp.Result.Total.Method, "admin calls are not counted")
}

func TestRunRoutesBetweenModules(t *testing.T) {
	requireShell(t)
	if _, err := exec.LookPath("sed"); err != nil {
		t.Skipf("sed not available: %v", err)
	}
	out := filepath.Join(t.TempDir(), "client.out")

	server := `while read -r line; do printf '%s\n' "$line" | sed 's/.*"id":\([0-9]*\).*/{"id":\1,"result":"pong"}/'; done`
	client := `printf '%s\n' '{"method":"server.ping","id":1}'; read -r a;` +
		` printf '%s\n' '{"method":"_admin.get_stats","id":2}'; read -r b;` +
		` printf '%s\n%s\n' "$a" "$b" > "$OUT"; exec sleep 30`
	cfg := parseConfig(t, fmt.Sprintf(`
modules:
  server:
    fork: [sh, -c, %s]
    only_from: [client]
  client:
    fork: [sh, -c, %s]
    uses: [server, _admin]
    env:
      OUT: %s
metrics:
  enabled: true
  address: 127.0.0.1:0
shutdown_timeout: 2s
`, quote(server), quote(client), quote(out)))

	c, err := New(cfg, logger.NewNop(), WithModuleStderr(io.Discard))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	lines := strings.Split(strings.TrimSpace(string(waitForFile(t, out))), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"id":1,"result":"pong"}`, lines[0])

	var resp struct {
		Result stats.Snapshot `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &resp))
	assert.Equal(t, int64(1), resp.Result.Total.Get(stats.SliceCallerCallee, "client:server"))
	assert.Equal(t, int64(0), resp.Result.Balance.Get(stats.SliceMethod, "ping"))

	require.NotNil(t, c.Metrics())
	httpResp, err := http.Get(c.Metrics().URL())
	require.NoError(t, err)
	body, _ := io.ReadAll(httpResp.Body)
	httpResp.Body.Close()
	assert.Contains(t, string(body), `nano_compose_calls_total{key="client:server",slice="caller_callee"} 1`)

	names := make([]string, 0, 2)
	for _, p := range c.Processes() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"server", "client"}, names, "modules start in declaration order")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	for _, p := range c.Processes() {
		assert.True(t, p.Exited(), "module %s still running", p.Name())
	}
}

func TestStartFailureStopsStartedModules(t *testing.T) {
	requireShell(t)
	cfg := parseConfig(t, `
modules:
  sleeper:
    fork: sh -c "sleep 30"
  broken:
    fork: /nonexistent/nano-compose-module
shutdown_timeout: 2s
`)

	c, err := New(cfg, logger.NewNop())
	require.NoError(t, err)

	err = c.Start(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsErrCode(err, types.ErrCodeUnavailable))

	procs := c.Processes()
	require.Len(t, procs, 1)
	assert.True(t, procs[0].Exited())
	assert.Equal(t, types.StatusDown, c.Status())

	err = c.Start(context.Background())
	assert.True(t, types.IsErrCode(err, types.ErrCodeFailedPrecondition))
}

func TestBootstrap(t *testing.T) {
	requireShell(t)
	cfg := parseConfig(t, `
modules:
  idle:
    fork: [sh, -c, "exec sleep 30"]
shutdown_timeout: 2s
`)

	result, err := Bootstrap(context.Background(), BootstrapConfig{Config: cfg, Logger: logger.NewNop()})
	require.NoError(t, err)
	assert.Equal(t, GetVersion(), result.Version)
	assert.Equal(t, types.StatusRunning, result.Compose.Status())

	require.NoError(t, result.Compose.Close())
	require.NoError(t, result.Compose.Close(), "close is idempotent")
	assert.Equal(t, types.StatusDown, result.Compose.Status())
}
