package docker

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/docker/docker/api/types"

	"github.com/sandboxrouter/core/internal/supervisor"
)

// demux splits Docker's multiplexed exec-attach stream (the 8-byte
// stream-type header format documented in the teacher's
// internal/driver/docker/docker.go DockerStream.demux) into classified
// OutputLine values, closing lines once the stream ends.
func demux(attach types.HijackedResponse, lines chan<- supervisor.OutputLine, exited chan<- struct{}) {
	defer close(lines)
	defer close(exited)

	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(attach.Reader, header); err != nil {
			return
		}
		size := binary.BigEndian.Uint32(header[4:8])
		payload := make([]byte, size)
		if _, err := io.ReadFull(attach.Reader, payload); err != nil {
			return
		}

		source := "stdout"
		if header[0] == 2 {
			source = "stderr"
		}
		scanner := bufio.NewScanner(newSliceReader(payload))
		for scanner.Scan() {
			lines <- supervisor.OutputLine{Source: source, Text: scanner.Text()}
		}
	}
}

type sliceReader struct {
	data []byte
	pos  int
}

func newSliceReader(data []byte) *sliceReader { return &sliceReader{data: data} }

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// execStdin adapts the exec-attach connection's write side to
// io.WriteCloser so it can back ChildHandle.Stdin.
type execStdin struct {
	conn types.HijackedResponse
}

func (e *execStdin) Write(p []byte) (int, error) {
	return e.conn.Conn.Write(p)
}

func (e *execStdin) Close() error {
	e.conn.Close()
	return nil
}
