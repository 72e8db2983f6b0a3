//go:build windows

package driver

import (
	"os"
	"os/exec"
)

// Windows has no process groups in the POSIX sense; the backend is killed
// directly.
func setProcessGroup(cmd *exec.Cmd) {}

func terminateGroup(p *os.Process) error {
	return p.Kill()
}

func killGroup(p *os.Process) error {
	return p.Kill()
}

func termination(ps *os.ProcessState) Terminated {
	if ps == nil {
		return Terminated{Code: -1}
	}
	return Terminated{Code: ps.ExitCode()}
}
