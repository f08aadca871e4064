// Package supervisor starts module processes and wires them to the broker.
//
// Each module gets two unidirectional pipes. The broker holds the write end
// of the first, whose read end becomes the child's standard input, and the
// read end of the second, whose write end becomes the child's standard
// output. The child's standard error is shared with the broker so module
// diagnostics land in the same stream as broker logs.
//
// On Linux children are started in their own process group and receive
// SIGTERM if the broker dies, so an orphaned module does not outlive it.
// Other platforms only get the process group.
//
// The supervisor never restarts a module. When a child exits its standard
// output closes, which the broker observes as end-of-stream.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"

	"github.com/nano-cluster/nano-compose/internal/logger"
	"github.com/nano-cluster/nano-compose/pkg/types"
)

// Spec describes how to launch one module
type Spec struct {
	Name    string
	Command []string
	Env     map[string]string
	Dir     string
	// Stderr receives the child's standard error. Defaults to os.Stderr.
	Stderr io.Writer
}

// Process is a running module and the broker's ends of its pipes
type Process struct {
	name   string
	cmd    *exec.Cmd
	stdin  *os.File
	stdout *os.File
	logger *logger.Logger

	done    chan struct{}
	waitErr error

	closeOnce sync.Once
}

// ParentDeathSignal reports whether children are signalled when the broker
// dies on this platform
func ParentDeathSignal() bool {
	return parentDeathSignalSupported
}

// Start creates the pipes for a module and launches it. It returns once the
// child has been started; the child may still fail later, which shows up as
// end-of-stream on its output.
func Start(spec Spec, log *logger.Logger) (*Process, error) {
	if len(spec.Command) == 0 || spec.Command[0] == "" {
		return nil, types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("module %s: empty command", spec.Name))
	}
	if log == nil {
		log = logger.NewNop()
	}

	childIn, brokerOut, err := os.Pipe()
	if err != nil {
		return nil, types.WrapError(types.ErrCodeInternal, "failed to create stdin pipe", err)
	}
	brokerIn, childOut, err := os.Pipe()
	if err != nil {
		closeAll(childIn, brokerOut)
		return nil, types.WrapError(types.ErrCodeInternal, "failed to create stdout pipe", err)
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Stdin = childIn
	cmd.Stdout = childOut
	cmd.Stderr = spec.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.Dir = spec.Dir
	cmd.Env = buildEnv(spec.Env)
	cmd.SysProcAttr = sysProcAttr()

	if err := cmd.Start(); err != nil {
		closeAll(childIn, brokerOut, brokerIn, childOut)
		return nil, types.WrapError(types.ErrCodeUnavailable,
			fmt.Sprintf("failed to start module %s", spec.Name), err)
	}

	// The child holds its own copies now. Keeping ours open would hide
	// end-of-stream when the child exits.
	closeAll(childIn, childOut)

	p := &Process{
		name:   spec.Name,
		cmd:    cmd,
		stdin:  brokerOut,
		stdout: brokerIn,
		logger: log.With("component", "supervisor", "module", spec.Name),
		done:   make(chan struct{}),
	}
	go p.wait()

	p.logger.Info("Module started",
		"pid", cmd.Process.Pid,
		"path", spec.Command[0],
		"args", len(spec.Command)-1,
		"parent_death_signal", parentDeathSignalSupported)

	return p, nil
}

func buildEnv(extra map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.waitErr = err
	close(p.done)

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		p.logger.Info("Module exited", "pid", p.PID(), "exit_code", 0)
	case errors.As(err, &exitErr):
		p.logger.Warn("Module exited", "pid", p.PID(), "exit_code", exitErr.ExitCode(), "status", exitErr.String())
	default:
		p.logger.Error("Module wait failed", "pid", p.PID(), "error", err)
	}
}

// Name returns the module name
func (p *Process) Name() string {
	return p.name
}

// PID returns the OS process id
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Writer returns the broker end of the pipe feeding the module's stdin
func (p *Process) Writer() io.Writer {
	return p.stdin
}

// Reader returns the broker end of the pipe carrying the module's stdout
func (p *Process) Reader() io.Reader {
	return p.stdout
}

// Done is closed once the process has exited and been reaped
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has exited
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitError returns the result of waiting for the process. Only meaningful
// after Done is closed.
func (p *Process) ExitError() error {
	return p.waitErr
}

// Terminate asks the module's process group to exit with SIGTERM
func (p *Process) Terminate() error {
	if p.Exited() {
		return nil
	}
	return terminateGroup(p.cmd.Process)
}

// Kill forcibly stops the module's process group
func (p *Process) Kill() error {
	if p.Exited() {
		return nil
	}
	return killGroup(p.cmd.Process)
}

// Stop closes the module's stdin, sends SIGTERM and waits for it to exit.
// When ctx expires first the process group is killed.
func (p *Process) Stop(ctx context.Context) error {
	p.closeWriter()
	if err := p.Terminate(); err != nil {
		p.logger.Warn("Failed to signal module", "pid", p.PID(), "error", err)
	}

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
	}

	p.logger.Warn("Module did not exit in time, killing", "pid", p.PID())
	if err := p.Kill(); err != nil {
		return types.WrapError(types.ErrCodeInternal, fmt.Sprintf("failed to kill module %s", p.name), err)
	}
	<-p.done
	return types.WrapError(types.ErrCodeTimeout, fmt.Sprintf("module %s killed after timeout", p.name), ctx.Err())
}

func (p *Process) closeWriter() {
	p.closeOnce.Do(func() {
		_ = p.stdin.Close()
	})
}

// Close releases the broker ends of both pipes
func (p *Process) Close() error {
	p.closeWriter()
	return p.stdout.Close()
}
