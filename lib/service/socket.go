// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/tether-foundation/tether/lib/codec"
)

// ActionFunc processes one socket request. The raw parameter is the
// full CBOR request, including the "action" field; the handler decodes
// its own parameters from it.
//
// Return a value to include in the success response, or an error for a
// failure response. A nil value yields a bare {ok: true}; anything
// else is marshaled into the response's "data" field.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// Response is the envelope every socket reply travels in.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// SocketServer serves the status protocol on a unix socket. Each
// connection handles exactly one request-response cycle.
//
// Register actions with Handle or HandlePrivileged before calling
// Serve. Unknown actions receive an error response.
type SocketServer struct {
	socketPath string
	handlers   map[string]handlerEntry
	logger     *slog.Logger

	// ownerUID is the daemon's uid; privileged actions admit only this
	// uid and root.
	ownerUID uint32

	// activeConnections tracks in-flight handlers so Serve can drain
	// before returning.
	activeConnections sync.WaitGroup
}

type handlerEntry struct {
	fn         ActionFunc
	privileged bool
}

// NewSocketServer creates a server that will listen on socketPath.
func NewSocketServer(socketPath string, logger *slog.Logger) *SocketServer {
	return &SocketServer{
		socketPath: socketPath,
		handlers:   make(map[string]handlerEntry),
		logger:     logger,
		ownerUID:   uint32(os.Getuid()),
	}
}

// Handle registers a read-only action. Panics on a duplicate action;
// registration is wiring, not input.
func (s *SocketServer) Handle(action string, handler ActionFunc) {
	s.register(action, handler, false)
}

// HandlePrivileged registers an action that mutates daemon state. The
// server admits it only from the daemon's owner or root, verified via
// the connection's kernel peer credentials.
func (s *SocketServer) HandlePrivileged(action string, handler ActionFunc) {
	s.register(action, handler, true)
}

func (s *SocketServer) register(action string, handler ActionFunc, privileged bool) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
	s.handlers[action] = handlerEntry{fn: handler, privileged: privileged}
}

// Serve accepts connections and dispatches requests until ctx is
// cancelled, then stops accepting and waits for active handlers.
//
// Any stale socket file at the configured path is removed before
// listening, and the socket file is removed on return.
func (s *SocketServer) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("status socket listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// readTimeout is how long the server waits for the request. A
// well-behaved client writes immediately after connecting.
const readTimeout = 30 * time.Second

// writeTimeout bounds the response write.
const writeTimeout = 10 * time.Second

// maxRequestSize caps a single CBOR request. The largest legitimate
// request is an endpoint registration, far below this.
const maxRequestSize = 1024 * 1024

// handleConnection processes one request-response cycle.
func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	// One self-delimiting CBOR value; LimitReader keeps a hostile
	// client from exhausting memory.
	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			// Connected but sent nothing.
			return
		}
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if header.Action == "" {
		s.writeError(conn, "missing required field: action")
		return
	}

	entry, exists := s.handlers[header.Action]
	if !exists {
		s.writeError(conn, fmt.Sprintf("unknown action %q", header.Action))
		return
	}

	if entry.privileged {
		cred, err := peerCred(conn)
		if err != nil {
			s.writeError(conn, fmt.Sprintf("verifying peer: %v", err))
			return
		}
		if !s.permitted(cred) {
			s.logger.Warn("privileged action refused",
				"action", header.Action,
				"peer_uid", cred.UID,
				"peer_pid", cred.PID)
			s.writeError(conn, fmt.Sprintf("action %q requires the daemon owner", header.Action))
			return
		}
	}

	result, err := entry.fn(ctx, []byte(raw))
	if err != nil {
		s.logger.Debug("action failed",
			"action", header.Action,
			"error", err)
		s.writeError(conn, err.Error())
		return
	}

	s.writeSuccess(conn, result)
}

// permitted reports whether cred may invoke privileged actions.
func (s *SocketServer) permitted(cred PeerCred) bool {
	return cred.UID == s.ownerUID || cred.UID == 0
}

// writeError sends {ok: false, error: message}. Write failures are
// logged at debug level; the connection is closing regardless.
func (s *SocketServer) writeError(conn net.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(Response{
		OK:    false,
		Error: message,
	}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

// writeSuccess sends {ok: true} or {ok: true, data: <cbor>}.
func (s *SocketServer) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, fmt.Sprintf("internal: marshaling response: %v", err))
			return
		}
		response.Data = data
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}
