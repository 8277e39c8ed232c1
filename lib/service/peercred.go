// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// PeerCred is the kernel-reported identity of a unix socket peer.
type PeerCred struct {
	PID int32
	UID uint32
	GID uint32
}

// peerCred extracts SO_PEERCRED from conn. The kernel fills these in
// at connect time; unlike anything the client sends, they cannot be
// forged.
func peerCred(conn net.Conn) (PeerCred, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return PeerCred{}, fmt.Errorf("peer credentials unavailable on %T", conn)
	}
	raw, err := unixConn.SyscallConn()
	if err != nil {
		return PeerCred{}, fmt.Errorf("accessing raw connection: %w", err)
	}

	var (
		cred    *unix.Ucred
		credErr error
	)
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return PeerCred{}, fmt.Errorf("reading peer credentials: %w", err)
	}
	if credErr != nil {
		return PeerCred{}, fmt.Errorf("reading peer credentials: %w", credErr)
	}

	return PeerCred{PID: cred.Pid, UID: cred.Uid, GID: cred.Gid}, nil
}
