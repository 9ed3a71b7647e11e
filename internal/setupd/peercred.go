// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-docsign.
//
// go-docsign is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package setupd

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/sys/unix"

	"github.com/jeremyhahn/go-docsign/pkg/types"
)

// peerCredentialFunc resolves the uid of the process on the far end of
// a connection.
type peerCredentialFunc func(conn net.Conn) (uid uint32, err error)

// connContextKey carries the net.Conn through the request context so
// the peer-credential middleware can reach the socket.
type connContextKey struct{}

func stashConn(ctx context.Context, conn net.Conn) context.Context {
	return context.WithValue(ctx, connContextKey{}, conn)
}

// requireElevatedPeer rejects requests from non-root peers. The uid is
// read from the kernel via SO_PEERCRED, which cannot be spoofed by the
// connecting process.
func (s *Server) requireElevatedPeer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _ := r.Context().Value(connContextKey{}).(net.Conn)
		if conn == nil {
			writeError(w, fmt.Errorf("%w: no peer connection", types.ErrInsufficientPrivilege), http.StatusForbidden)
			return
		}

		uid, err := s.credentials(conn)
		if err != nil {
			writeError(w, fmt.Errorf("%w: %v", types.ErrInsufficientPrivilege, err), http.StatusForbidden)
			return
		}
		if uid != 0 {
			s.logger.Warnf("setupd: rejected setup request from uid %d", uid)
			writeError(w, fmt.Errorf("%w: setup operations require root (peer uid %d)", types.ErrInsufficientPrivilege, uid), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// socketPeerCredentials reads the peer uid of a unix socket connection
// from the kernel.
func socketPeerCredentials(conn net.Conn) (uint32, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return 0, fmt.Errorf("setupd: peer credentials require a unix socket, got %T", conn)
	}

	raw, err := unixConn.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("setupd: failed to access raw connection: %w", err)
	}

	var cred *unix.Ucred
	var credErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctrlErr != nil {
		return 0, fmt.Errorf("setupd: failed to read peer credentials: %w", ctrlErr)
	}
	if credErr != nil {
		return 0, fmt.Errorf("setupd: failed to read peer credentials: %w", credErr)
	}
	return cred.Uid, nil
}
