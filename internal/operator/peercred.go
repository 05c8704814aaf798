//go:build linux

package operator

import (
	"net"

	"golang.org/x/sys/unix"
)

// peerCredentials reads SO_PEERCRED off a Unix domain connection, giving
// the operator audit log the real uid/pid behind a request even though
// the socket's 0600 file permission is what actually gates access.
func peerCredentials(conn net.Conn) (uid, pid uint32, ok bool) {
	uc, isUnix := conn.(*net.UnixConn)
	if !isUnix {
		return 0, 0, false
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return 0, 0, false
	}

	var cred *unix.Ucred
	ctrlErr := raw.Control(func(fd uintptr) {
		cred, err = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctrlErr != nil || err != nil || cred == nil {
		return 0, 0, false
	}
	return cred.Uid, uint32(cred.Pid), true
}
