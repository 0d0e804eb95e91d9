//go:build windows

package process

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sandboxrouter/core/internal/supervisor"
)

// setProcessGroup is a no-op on Windows — process tree enumeration takes
// the place of process-group signalling.
func setProcessGroup(cmd *exec.Cmd) {}

// directChildren enumerates the direct children of pid via wmic, the OS
// process-info facility used throughout the example pack's Windows
// process-tree code (cf. platform_errors.go's tasklist/netstat usage).
func directChildren(pid int) []int {
	out, err := exec.Command("wmic", "process", "where",
		fmt.Sprintf("(ParentProcessId=%d)", pid), "get", "ProcessId").Output()
	if err != nil {
		return nil
	}
	var children []int
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "ProcessId" {
			continue
		}
		if cpid, err := strconv.Atoi(line); err == nil {
			children = append(children, cpid)
		}
	}
	return children
}

// killTreeRecursive kills pid's descendants before pid itself, so a
// forcefully-terminated parent never leaves an orphaned grandchild.
func killTreeRecursive(pid int) {
	for _, child := range directChildren(pid) {
		killTreeRecursive(child)
	}
	_ = exec.Command("taskkill", "/F", "/PID", strconv.Itoa(pid)).Run()
}

// KillTree enumerates the full descendant tree and force-terminates leaf
// to root, since Windows has no process-group signal equivalent to
// SIGKILL on a negative pid. Idempotent: terminating an already-gone pid
// just fails quietly (taskkill's exit code is not checked).
func (s *Supervisor) KillTree(handle *supervisor.ChildHandle) error {
	if handle == nil || handle.PID <= 0 {
		return nil
	}
	killTreeRecursive(handle.PID)
	return nil
}
