//go:build windows

package docker

import (
	"fmt"
	"time"

	"github.com/Microsoft/go-winio"
)

// detectWindowsPipe probes the Docker Desktop named pipe. The pipe path
// is fixed by Docker Desktop and cannot be customized via filesystem
// location; the stdlib cannot dial named pipes, so go-winio does the
// probe.
func detectWindowsPipe() (string, error) {
	pipePath := `\\.\pipe\docker_engine`
	timeout := 1 * time.Second

	conn, err := winio.DialPipe(pipePath, &timeout)
	if err != nil {
		return "", fmt.Errorf("Docker named pipe not found at %s: %w", pipePath, err)
	}
	conn.Close()
	return "npipe:////./pipe/docker_engine", nil
}
