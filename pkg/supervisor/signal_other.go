//go:build !unix

package supervisor

import (
	"errors"
	"os"
	"syscall"
)

const parentDeathSignalSupported = false

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{}
}

// Without process groups both termination paths kill the child directly.
func terminateGroup(proc *os.Process) error {
	return killGroup(proc)
}

func killGroup(proc *os.Process) error {
	err := proc.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
