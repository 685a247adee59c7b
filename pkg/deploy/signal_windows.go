//go:build windows

package deploy

import (
	"fmt"
	"syscall"
)

// Windows has no equivalent of delivering SIGINT to an arbitrary PID; the
// deployment tooling targets the Unix hosts the receivers run on.
func defaultSignalCommand(pid int, signal syscall.Signal) error {
	return fmt.Errorf("signal delivery not supported on Windows")
}
