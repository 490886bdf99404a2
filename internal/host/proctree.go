package host

import "os/exec"

// ProcessTree controls an interpreter process together with every process
// it spawned. Implementations are per platform; where true suspension is
// unavailable Suspend returns ErrSuspendNotSupported and callers fall back
// to pausing between actions.
type ProcessTree interface {
	// Prepare configures cmd before Start so its descendants can be found
	// later.
	Prepare(cmd *exec.Cmd)
	Kill(pid int) error
	Suspend(pid int) error
	Resume(pid int) error
}
