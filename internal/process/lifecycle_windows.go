//go:build windows

package process

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// jobRegistry maps process IDs to their job object handles so a timed-out
// run can take its children down with it.
var jobRegistry sync.Map // map[int]windows.Handle

// setProcAttr creates the child in a new process group.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// setupJobObject assigns the started process to a kill-on-close job.
func setupJobObject(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return errors.New("process not started")
	}

	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return err
	}

	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	if _, err := windows.SetInformationJobObject(
		job,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	); err != nil {
		windows.CloseHandle(job)
		return err
	}

	handle, err := windows.OpenProcess(
		windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE,
		false,
		uint32(cmd.Process.Pid),
	)
	if err != nil {
		windows.CloseHandle(job)
		return err
	}
	defer windows.CloseHandle(handle)

	if err := windows.AssignProcessToJobObject(job, handle); err != nil {
		windows.CloseHandle(job)
		return err
	}

	jobRegistry.Store(cmd.Process.Pid, job)
	return nil
}

func cleanupJobObject(pid int) {
	if val, ok := jobRegistry.LoadAndDelete(pid); ok {
		windows.CloseHandle(val.(windows.Handle))
	}
}

// signalTerm has no graceful equivalent for a console-less helper, so it
// goes straight to the job object.
func signalTerm(pid int) error {
	return signalKill(pid)
}

func signalKill(pid int) error {
	if val, ok := jobRegistry.Load(pid); ok {
		if err := windows.TerminateJobObject(val.(windows.Handle), 1); err == nil {
			return nil
		}
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

func isNoSuchProcess(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, windows.ERROR_INVALID_PARAMETER) || errors.Is(err, syscall.EINVAL) {
		return true
	}
	return os.IsNotExist(err) || errors.Is(err, os.ErrProcessDone)
}
