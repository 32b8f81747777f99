//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// setProcAttr puts the child in its own process group so the whole tree
// can be signalled at once.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// signalProcessGroup sends sig to the process group led by pid.
func signalProcessGroup(pid int, sig syscall.Signal) error {
	pgid, err := syscall.Getpgid(pid)
	if err == nil && pgid > 0 {
		// Negative PID signals the entire group.
		return syscall.Kill(-pgid, sig)
	}
	return syscall.Kill(pid, sig)
}

func signalTerm(pid int) error {
	return signalProcessGroup(pid, syscall.SIGTERM)
}

func signalKill(pid int) error {
	return signalProcessGroup(pid, syscall.SIGKILL)
}

func isNoSuchProcess(err error) bool {
	return err == syscall.ESRCH
}

// setupJobObject is a no-op on Unix; process groups are handled by the kernel.
func setupJobObject(cmd *exec.Cmd) error {
	return nil
}

func cleanupJobObject(pid int) {}
