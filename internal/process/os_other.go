//go:build !unix

package process

import "os/exec"

func killProcessGroupOnCancel(cmd *exec.Cmd) {}
