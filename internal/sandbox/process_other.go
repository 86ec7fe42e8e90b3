//go:build !unix

package sandbox

import (
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

// signalTree 不支持进程组时只能直接终止子进程
func signalTree(p *os.Process, force bool) error {
	return p.Kill()
}
