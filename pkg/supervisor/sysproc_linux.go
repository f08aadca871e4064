//go:build linux

package supervisor

import (
	"syscall"

	"golang.org/x/sys/unix"
)

const parentDeathSignalSupported = true

// sysProcAttr puts the child in its own process group and has the kernel
// send it SIGTERM when the broker goes away.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: unix.SIGTERM,
	}
}
