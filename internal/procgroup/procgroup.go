// Package procgroup kills whole process trees the way spec.md's Session
// Manager (§4.6) and Headless Executor (§4.7) both require: every spawned
// child starts its own process group so a single signal reaches it and
// any grandchildren it forked, never just the direct child. Grounded on
// the teacher's internal/sandbox/linux.go use of golang.org/x/sys/unix
// for POSIX process control.
package procgroup

import (
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Prepare marks cmd to start in its own process group. Call before
// cmd.Start.
func Prepare(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// Signal sends sig to the process group rooted at pid. pid <= 0 is a
// no-op, matching the zero value of an unset *exec.Cmd.Process.
func Signal(pid int, sig syscall.Signal) {
	if pid <= 0 {
		return
	}
	_ = unix.Kill(-pid, sig)
}

// Terminate sends SIGTERM to the process group rooted at pid, waits up to
// grace for done to fire, then escalates to SIGKILL.
// done is closed by the caller when the process has actually been
// reaped (via cmd.Wait); Terminate stops polling early once done fires.
func Terminate(pid int, grace time.Duration, done <-chan struct{}) {
	if pid <= 0 {
		return
	}
	Signal(pid, syscall.SIGTERM)

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	select {
	case <-done:
		return
	case <-deadline.C:
	}

	select {
	case <-done:
		return
	default:
		Signal(pid, syscall.SIGKILL)
	}
}
