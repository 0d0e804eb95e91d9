//go:build !windows

package process

import (
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/sandboxrouter/core/internal/supervisor"
)

// setProcessGroup makes the child its own process group leader so
// killTree can signal the whole group with a single negative-pid syscall.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// KillTree sends SIGTERM to the child's process group, waits a short
// grace window, then SIGKILLs the group. If the group signal fails
// (handle is not the group leader, or already reaped), it falls back to
// signalling the root pid directly. Idempotent: a handle whose root is
// already gone returns nil.
func (s *Supervisor) KillTree(handle *supervisor.ChildHandle) error {
	if handle == nil {
		return nil
	}
	pid := handle.PID
	if pid <= 0 {
		return nil
	}

	groupErr := unix.Kill(-pid, unix.SIGTERM)
	if groupErr != nil {
		if err := unix.Kill(pid, unix.SIGTERM); err != nil && !isAlreadyGone(err) {
			return fmt.Errorf("killTree: SIGTERM pid %d: %w", pid, err)
		}
	}

	select {
	case <-handle.Exited:
		return nil
	case <-time.After(s.GraceWindow):
	}

	if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
		if err2 := unix.Kill(pid, unix.SIGKILL); err2 != nil && !isAlreadyGone(err2) {
			log.Warn().Int("pid", pid).Err(err2).Msg("killTree: SIGKILL fallback failed")
			return fmt.Errorf("killTree: SIGKILL pid %d: %w", pid, err2)
		}
	}
	return nil
}

func isAlreadyGone(err error) bool {
	return err == unix.ESRCH
}
