// Package process implements supervisor.Supervisor by spawning the
// sandbox script directly as an OS child process, grounded in the
// teacher's driver.RegisterDriver/init() registration pattern
// (internal/driver/docker/docker.go in the example pack) but targeting a
// bare os/exec child instead of a container.
package process

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sandboxrouter/core/internal/supervisor"
)

const Name = "process"

func init() {
	supervisor.Register(Name, New)
}

// Supervisor spawns sandbox scripts as native child processes.
type Supervisor struct {
	// GraceWindow is how long killTree waits between SIGTERM and SIGKILL
	// on Unix-like systems. Defaults to 100ms per spec.
	GraceWindow time.Duration
}

// New constructs a process Supervisor. cfg["grace_window_ms"] overrides
// the SIGTERM->SIGKILL grace window.
func New(cfg map[string]any) (supervisor.Supervisor, error) {
	s := &Supervisor{GraceWindow: 100 * time.Millisecond}
	if ms, ok := cfg["grace_window_ms"].(int); ok && ms > 0 {
		s.GraceWindow = time.Duration(ms) * time.Millisecond
	}
	return s, nil
}

func (s *Supervisor) Name() string { return Name }

func (s *Supervisor) Healthy(ctx context.Context) error {
	return nil
}

// interpreterFor picks a command based on the script's extension, the way
// the teacher's execSandbox maps a requested language to a command
// (internal/api/handler.go in the example pack). interpreter, if
// non-empty, overrides the extension-based guess entirely.
func interpreterFor(scriptPath, interpreter string) (string, []string) {
	if interpreter != "" {
		return interpreter, []string{scriptPath}
	}
	switch filepath.Ext(scriptPath) {
	case ".py":
		return "python3", []string{scriptPath}
	case ".js":
		return "node", []string{scriptPath}
	case ".sh":
		return "bash", []string{scriptPath}
	default:
		return scriptPath, nil
	}
}

func (s *Supervisor) Spawn(ctx context.Context, cfg supervisor.SpawnConfig) (*supervisor.ChildHandle, error) {
	cmdName, args := interpreterFor(cfg.ScriptPath, cfg.Interpreter)
	cmd := exec.Command(cmdName, args...)

	envList := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		envList = append(envList, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = append(cmd.Environ(), envList...)

	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", supervisor.ErrSpawnFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", supervisor.ErrSpawnFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", supervisor.ErrSpawnFailed, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", supervisor.ErrSpawnFailed, err)
	}

	lines := make(chan supervisor.OutputLine, 64)
	exited := make(chan struct{})

	readPump := func(source string, scanner *bufio.Scanner) chan struct{} {
		done := make(chan struct{})
		go func() {
			defer close(done)
			for scanner.Scan() {
				lines <- supervisor.OutputLine{Source: source, Text: scanner.Text()}
			}
		}()
		return done
	}

	stdoutDone := readPump("stdout", bufio.NewScanner(stdout))
	stderrDone := readPump("stderr", bufio.NewScanner(stderr))

	go func() {
		<-stdoutDone
		<-stderrDone
		close(lines)
	}()

	go func() {
		err := cmd.Wait()
		if err != nil {
			log.Debug().Str("script", cfg.ScriptPath).Err(err).Msg("child process exited")
		}
		close(exited)
	}()

	return supervisor.NewChildHandle(cmd.Process.Pid, stdin, lines, exited, cmd), nil
}
