//go:build !linux

package operator

import "net"

// peerCredentials is unsupported outside Linux; the 0600 socket
// permission remains the access control either way.
func peerCredentials(conn net.Conn) (uid, pid uint32, ok bool) {
	return 0, 0, false
}
