//go:build !windows

package host

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// groupTree starts every interpreter in its own process group and signals
// the whole group.
type groupTree struct{}

// NewProcessTree returns the process-group based tree control.
func NewProcessTree() ProcessTree {
	return groupTree{}
}

func (groupTree) Prepare(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true, // new group, pgid == pid
		Pgid:    0,
	}
}

func (groupTree) Kill(pid int) error {
	return signalGroup(pid, unix.SIGKILL)
}

func (groupTree) Suspend(pid int) error {
	return signalGroup(pid, unix.SIGSTOP)
}

func (groupTree) Resume(pid int) error {
	return signalGroup(pid, unix.SIGCONT)
}

func signalGroup(pid int, sig unix.Signal) error {
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		// Group already gone.
		return nil
	}
	return err
}
