package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types"
)

// uploadHostFile reads hostPath off the local filesystem and writes it
// into the container at containerPath via a tar stream, the same
// mechanism the teacher's internal/driver/docker/files.go PutFile uses
// for context-file injection.
func (s *Supervisor) uploadHostFile(ctx context.Context, containerID, hostPath, containerPath string) error {
	data, err := os.ReadFile(hostPath)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	header := &tar.Header{
		Name:    filepath.Base(containerPath),
		Size:    int64(len(data)),
		Mode:    0755,
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("tar header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("tar write: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("tar close: %w", err)
	}

	return s.cli.CopyToContainer(ctx, containerID, filepath.Dir(containerPath), &buf, types.CopyToContainerOptions{
		AllowOverwriteDirExists: true,
	})
}
