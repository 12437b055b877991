//go:build !windows

package docker

import "fmt"

// detectWindowsPipe is only reachable when runtime.GOOS is "windows";
// this stub satisfies compilation on other platforms.
func detectWindowsPipe() (string, error) {
	return "", fmt.Errorf("Docker named pipe detection is only available on Windows")
}
