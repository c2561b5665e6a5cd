//go:build windows

package archiver

import (
	"os"
	"os/exec"
	"strconv"
)

func isolate(cmd *exec.Cmd) {}

// killProcessGroup uses taskkill /T so a cmd /C wrapper takes its children
// with it, falling back to killing the wrapper alone.
func killProcessGroup(process *os.Process) error {
	if err := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(process.Pid)).Run(); err == nil {
		return nil
	}
	return process.Kill()
}
