//go:build unix && !linux

package supervisor

import "syscall"

const parentDeathSignalSupported = false

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
