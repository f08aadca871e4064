//go:build unix

package supervisor

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// signalGroup delivers sig to the whole process group led by proc. A group
// that is already gone is not an error.
func signalGroup(proc *os.Process, sig unix.Signal) error {
	err := unix.Kill(-proc.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func terminateGroup(proc *os.Process) error {
	return signalGroup(proc, unix.SIGTERM)
}

func killGroup(proc *os.Process) error {
	return signalGroup(proc, unix.SIGKILL)
}
