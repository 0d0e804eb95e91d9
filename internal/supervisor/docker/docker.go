// Package docker implements supervisor.Supervisor by running each sandbox
// script inside a throwaway Docker container. It is adapted from the
// teacher repo's internal/driver/docker/docker.go: the container lifecycle
// (create with a keep-alive entrypoint, inject files via a tar upload,
// exec the real workload, force-remove on teardown) is kept; the contract
// it drives is generalized from driver.Driver's container-as-sandbox model
// to supervisor.Supervisor's child-executor-tree model, where KillTree
// removing the container is exactly equivalent to killing a whole OS
// process tree — the container's pid namespace dies with it.
package docker

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog/log"

	"github.com/sandboxrouter/core/internal/supervisor"
)

const (
	Name         = "docker"
	ManagedLabel = "xyz.sandboxrouter.managed"
	DefaultImage = "python:3.11-slim"
)

func init() {
	supervisor.Register(Name, New)
}

// Supervisor runs sandbox scripts inside Docker containers.
type Supervisor struct {
	cli   *client.Client
	image string
}

// New creates a Docker-backed Supervisor. cfg["image"] overrides the
// default interpreter image used for every sandbox.
func New(cfg map[string]any) (supervisor.Supervisor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker supervisor: %w", err)
	}

	image := DefaultImage
	if v, ok := cfg["image"].(string); ok && v != "" {
		image = v
	}

	go cleanupOrphans(cli)

	return &Supervisor{cli: cli, image: image}, nil
}

func (s *Supervisor) Name() string { return Name }

func (s *Supervisor) Healthy(ctx context.Context) error {
	_, err := s.cli.Ping(ctx)
	return err
}

// cleanupOrphans removes containers left behind by a prior process,
// exactly as the teacher does on Docker driver startup.
func cleanupOrphans(cli *client.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	list, err := cli.ContainerList(ctx, types.ContainerListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", ManagedLabel+"=true")),
	})
	if err != nil {
		log.Warn().Err(err).Msg("docker supervisor: failed to list orphaned containers")
		return
	}
	for _, c := range list {
		if err := cli.ContainerRemove(ctx, c.ID, types.ContainerRemoveOptions{Force: true}); err != nil {
			log.Warn().Str("id", c.ID).Err(err).Msg("docker supervisor: failed to remove orphan")
		}
	}
}

// interpreterFor picks the in-container command for scriptPath. interpreter,
// if non-empty, overrides the extension-based guess entirely.
func interpreterFor(scriptPath, interpreter string) []string {
	if interpreter != "" {
		return []string{interpreter, scriptPath}
	}
	switch filepath.Ext(scriptPath) {
	case ".py":
		return []string{"python3", scriptPath}
	case ".js":
		return []string{"node", scriptPath}
	default:
		return []string{"bash", scriptPath}
	}
}

// Spawn creates a container, injects the script's contents, and execs the
// matching interpreter against it, returning a ChildHandle whose Stdin
// writes to the exec stream and whose Lines are demultiplexed from the
// container's combined stdout/stderr.
func (s *Supervisor) Spawn(ctx context.Context, cfg supervisor.SpawnConfig) (*supervisor.ChildHandle, error) {
	envList := make([]string, 0, len(cfg.Env)+1)
	envList = append(envList, "SANDBOXROUTER_MODE=docker")
	for k, v := range cfg.Env {
		envList = append(envList, fmt.Sprintf("%s=%s", k, v))
	}

	labels := map[string]string{ManagedLabel: "true"}
	for k, v := range cfg.Labels {
		labels[k] = v
	}

	resp, err := s.cli.ContainerCreate(ctx,
		&container.Config{
			Image:  s.image,
			Cmd:    []string{"tail", "-f", "/dev/null"},
			Env:    envList,
			Labels: labels,
		},
		&container.HostConfig{
			Mounts: []mount.Mount{
				{Type: mount.TypeTmpfs, Target: "/tmp"},
			},
		},
		nil, nil, "",
	)
	if err != nil {
		return nil, fmt.Errorf("%w: create container: %v", supervisor.ErrSpawnFailed, err)
	}

	if err := s.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("%w: start container: %v", supervisor.ErrSpawnFailed, err)
	}

	remoteScript := "/" + filepath.Base(cfg.ScriptPath)
	if err := s.uploadHostFile(ctx, resp.ID, cfg.ScriptPath, remoteScript); err != nil {
		_ = s.cli.ContainerRemove(ctx, resp.ID, types.ContainerRemoveOptions{Force: true})
		return nil, fmt.Errorf("%w: inject script: %v", supervisor.ErrSpawnFailed, err)
	}

	execConfig := types.ExecConfig{
		Cmd:          interpreterFor(remoteScript, cfg.Interpreter),
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
	}
	execIDResp, err := s.cli.ContainerExecCreate(ctx, resp.ID, execConfig)
	if err != nil {
		_ = s.cli.ContainerRemove(ctx, resp.ID, types.ContainerRemoveOptions{Force: true})
		return nil, fmt.Errorf("%w: exec create: %v", supervisor.ErrSpawnFailed, err)
	}
	attach, err := s.cli.ContainerExecAttach(ctx, execIDResp.ID, types.ExecStartCheck{})
	if err != nil {
		_ = s.cli.ContainerRemove(ctx, resp.ID, types.ContainerRemoveOptions{Force: true})
		return nil, fmt.Errorf("%w: exec attach: %v", supervisor.ErrSpawnFailed, err)
	}

	lines := make(chan supervisor.OutputLine, 64)
	exited := make(chan struct{})
	go demux(attach, lines, exited)

	stdin := &execStdin{conn: attach}

	return supervisor.NewChildHandle(0, stdin, lines, exited, containerImpl{id: resp.ID, sup: s}), nil
}

type containerImpl struct {
	id  string
	sup *Supervisor
}

// KillTree force-removes the container, which tears down its entire pid
// namespace in one step — the container-backed equivalent of killing a
// whole OS process tree. Idempotent: removing an already-gone container
// is treated as success.
func (s *Supervisor) KillTree(handle *supervisor.ChildHandle) error {
	if handle == nil {
		return nil
	}
	ci, ok := handle.Impl().(containerImpl)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := ci.sup.cli.ContainerRemove(ctx, ci.id, types.ContainerRemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("killTree: remove container %s: %w", ci.id, err)
	}
	return nil
}
