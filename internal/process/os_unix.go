//go:build unix

package process

import (
	"os/exec"
	"syscall"
)

// killProcessGroupOnCancel puts the tool in its own process group so that a
// cancelled invocation also takes down the children holding its output pipes.
func killProcessGroupOnCancel(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
