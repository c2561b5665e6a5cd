//go:build !windows

package archiver

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// isolate puts the archiver in its own process group so a shell wrapper
// and everything it spawned can be killed together.
func isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(process *os.Process) error {
	err := syscall.Kill(-process.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
