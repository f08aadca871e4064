package supervisor

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nano-cluster/nano-compose/internal/logger"
	"github.com/nano-cluster/nano-compose/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireBinary(t *testing.T, name string) string {
	t.Helper()
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
	return path
}

func waitDone(t *testing.T, p *Process) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("module %s did not exit", p.Name())
	}
}

func TestStartEchoesThroughPipes(t *testing.T) {
	cat := requireBinary(t, "cat")

	p, err := Start(Spec{Name: "echo", Command: []string{cat}}, logger.NewNop())
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, "echo", p.Name())
	assert.Greater(t, p.PID(), 0)
	assert.False(t, p.Exited())

	line := `{"method":"echo.ping","id":1,"params":null}` + "\n"
	_, err = io.WriteString(p.Writer(), line)
	require.NoError(t, err)

	got, err := bufio.NewReader(p.Reader()).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, line, got)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
	assert.True(t, p.Exited())
}

func TestChildExitClosesOutput(t *testing.T) {
	sh := requireBinary(t, "sh")

	p, err := Start(Spec{
		Name:    "short",
		Command: []string{sh, "-c", `echo '{"id":1,"result":true}'; exit 3`},
	}, logger.NewNop())
	require.NoError(t, err)
	defer p.Close()

	reader := bufio.NewReader(p.Reader())
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, `{"id":1,"result":true}`+"\n", line)

	_, err = reader.ReadString('\n')
	assert.ErrorIs(t, err, io.EOF)

	waitDone(t, p)
	var exitErr *exec.ExitError
	require.ErrorAs(t, p.ExitError(), &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode())
}

func TestStartPassesEnvAndDir(t *testing.T) {
	sh := requireBinary(t, "sh")
	dir := t.TempDir()

	p, err := Start(Spec{
		Name:    "env",
		Command: []string{sh, "-c", `printf '%s %s\n' "$NC_GREETING" "$(pwd)"`},
		Env:     map[string]string{"NC_GREETING": "hello"},
		Dir:     dir,
	}, logger.NewNop())
	require.NoError(t, err)
	defer p.Close()

	line, err := bufio.NewReader(p.Reader()).ReadString('\n')
	require.NoError(t, err)

	fields := strings.Fields(line)
	require.Len(t, fields, 2)
	assert.Equal(t, "hello", fields[0])
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, resolved, fields[1])
	waitDone(t, p)
}

func TestStopKillsStubbornModule(t *testing.T) {
	sh := requireBinary(t, "sh")

	p, err := Start(Spec{
		Name:    "stubborn",
		Command: []string{sh, "-c", `trap '' TERM; while :; do sleep 1; done`},
	}, logger.NewNop())
	require.NoError(t, err)
	defer p.Close()

	// give the shell time to install its trap
	time.Sleep(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err = p.Stop(ctx)
	require.Error(t, err)
	assert.True(t, types.IsErrCode(err, types.ErrCodeTimeout))
	assert.True(t, p.Exited())
}

func TestStartErrors(t *testing.T) {
	_, err := Start(Spec{Name: "empty"}, nil)
	require.Error(t, err)
	assert.True(t, types.IsErrCode(err, types.ErrCodeInvalidArgument))

	_, err = Start(Spec{Name: "missing", Command: []string{"/nonexistent/nano-compose-module"}}, nil)
	require.Error(t, err)
	assert.True(t, types.IsErrCode(err, types.ErrCodeUnavailable))
}

func TestSignalsAfterExitAreNoops(t *testing.T) {
	sh := requireBinary(t, "sh")

	p, err := Start(Spec{Name: "quick", Command: []string{sh, "-c", "exit 0"}}, nil)
	require.NoError(t, err)
	defer p.Close()

	waitDone(t, p)
	assert.NoError(t, p.ExitError())
	assert.NoError(t, p.Terminate())
	assert.NoError(t, p.Kill())
	assert.NoError(t, p.Stop(context.Background()))
}
