//go:build windows

package ipc

import (
	"context"
	"net"

	"github.com/Microsoft/go-winio"
)

// Dial connects to the daemon's named pipe. path here is the pipe name
// (\\.\pipe\granaryd-<username>), not a filesystem path.
func Dial(ctx context.Context, path string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, path)
}
