//go:build windows

package ipc

import (
	"net"

	"github.com/Microsoft/go-winio"
)

// Listen binds the daemon's named pipe. path here is the pipe name
// (\\.\pipe\granaryd-<username>), not a filesystem path.
func Listen(path string) (net.Listener, error) {
	cfg := &winio.PipeConfig{
		// Owner-only: the daemon is strictly per-user (§1 Non-goals).
		SecurityDescriptor: "D:P(A;;GA;;;OW)",
		MessageMode:        false,
	}
	return winio.ListenPipe(path, cfg)
}

// EndpointName returns the display name of the given pipe path, for
// logging.
func EndpointName(path string) string {
	return path
}
