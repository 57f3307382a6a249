//go:build windows

package ipc

import (
	"net"

	"github.com/Microsoft/go-winio"
)

// Permissive DACL: SYSTEM and Everyone may connect. The companion runs as a
// regular user while the server runs as a system principal, so the default
// pipe security would reject it.
const pipeSDDL = "D:P(A;;GA;;;SY)(A;;GA;;;WD)"

func pipePath() string {
	return `\\.\pipe\` + PipeName
}

// Listen opens the named pipe endpoint.
func Listen() (net.Listener, error) {
	return winio.ListenPipe(pipePath(), &winio.PipeConfig{
		SecurityDescriptor: pipeSDDL,
		MessageMode:        false,
	})
}

// Dial connects to the service's pipe endpoint.
func Dial() (net.Conn, error) {
	return winio.DialPipe(pipePath(), nil)
}
