//go:build !windows

package deploy

import (
	"syscall"
)

// defaultSignalCommand delivers a signal to a single process (not the whole
// process group: discovery matched individual PIDs).
func defaultSignalCommand(pid int, signal syscall.Signal) error {
	return syscall.Kill(pid, signal)
}
