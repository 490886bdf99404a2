//go:build windows

package host

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

const processSuspendResume = 0x0800

var (
	ntdll            = windows.NewLazySystemDLL("ntdll.dll")
	procNtSuspendPro = ntdll.NewProc("NtSuspendProcess")
	procNtResumePro  = ntdll.NewProc("NtResumeProcess")
)

// snapshotTree walks the toolhelp process snapshot to find descendants,
// since Windows has no process-group signal that reaches grandchildren.
type snapshotTree struct{}

// NewProcessTree returns the toolhelp-snapshot based tree control.
func NewProcessTree() ProcessTree {
	return snapshotTree{}
}

func (snapshotTree) Prepare(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP | windows.CREATE_NO_WINDOW,
		HideWindow:    true,
	}
}

func (snapshotTree) Kill(pid int) error {
	return forEachInTree(pid, windows.PROCESS_TERMINATE, func(h windows.Handle) error {
		return windows.TerminateProcess(h, 1)
	})
}

func (snapshotTree) Suspend(pid int) error {
	return forEachInTree(pid, processSuspendResume, func(h windows.Handle) error {
		return ntCall(procNtSuspendPro, h)
	})
}

func (snapshotTree) Resume(pid int) error {
	return forEachInTree(pid, processSuspendResume, func(h windows.Handle) error {
		return ntCall(procNtResumePro, h)
	})
}

func ntCall(proc *windows.LazyProc, h windows.Handle) error {
	if err := proc.Find(); err != nil {
		return fmt.Errorf("%s: %w", proc.Name, ErrSuspendNotSupported)
	}
	status, _, _ := proc.Call(uintptr(h))
	if status != 0 {
		return fmt.Errorf("%s: ntstatus 0x%08x", proc.Name, status)
	}
	return nil
}

// forEachInTree applies fn to the root and all of its descendants, parents
// first. Processes that exit in the meantime are skipped.
func forEachInTree(pid int, access uint32, fn func(windows.Handle) error) error {
	pids, err := descendants(uint32(pid))
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range pids {
		h, err := windows.OpenProcess(access, false, p)
		if err != nil {
			if errors.Is(err, windows.ERROR_INVALID_PARAMETER) {
				continue // already exited
			}
			errs = append(errs, fmt.Errorf("open pid %d: %w", p, err))
			continue
		}
		if err := fn(h); err != nil {
			errs = append(errs, fmt.Errorf("pid %d: %w", p, err))
		}
		windows.CloseHandle(h)
	}
	return errors.Join(errs...)
}

func descendants(root uint32) ([]uint32, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return nil, fmt.Errorf("process snapshot: %w", err)
	}
	defer windows.CloseHandle(snap)

	children := make(map[uint32][]uint32)
	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	err = windows.Process32First(snap, &entry)
	for err == nil {
		if entry.ProcessID != entry.ParentProcessID {
			children[entry.ParentProcessID] = append(children[entry.ParentProcessID], entry.ProcessID)
		}
		err = windows.Process32Next(snap, &entry)
	}
	if !errors.Is(err, windows.ERROR_NO_MORE_FILES) {
		return nil, fmt.Errorf("walk process snapshot: %w", err)
	}

	out := []uint32{root}
	seen := map[uint32]bool{root: true}
	for i := 0; i < len(out); i++ {
		for _, c := range children[out[i]] {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out, nil
}
