package daemon

import (
	"net"
	"time"
)

// New returns a RemoteClient when a daemon accepts connections on addr,
// otherwise a LocalClient over sessionsDir.
//
// Callers don't need to know whether the daemon is running: reads work in
// both modes.
func New(addr, sessionsDir string) Client {
	conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
	if err == nil {
		conn.Close()
		return NewRemoteClient(addr)
	}
	return NewLocalClient(sessionsDir)
}
