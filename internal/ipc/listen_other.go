//go:build !windows

package ipc

import (
	"net"
	"os"
	"path/filepath"
)

func socketPath() string {
	return filepath.Join(os.TempDir(), PipeName+".sock")
}

// Listen opens a unix domain socket standing in for the named pipe.
func Listen() (net.Listener, error) {
	path := socketPath()
	os.Remove(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	// Any local session may connect, mirroring the permissive pipe DACL.
	os.Chmod(path, 0666)
	return l, nil
}

// Dial connects to the service's socket endpoint.
func Dial() (net.Conn, error) {
	return net.Dial("unix", socketPath())
}
