// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// Compile-time interface checks.
var (
	_ Listener = (*TCPListener)(nil)
	_ Dialer   = (*TCPDialer)(nil)
)

// TCPListener accepts probe connections on a TCP address. It serves
// the directly dialable channels: fiber, wifi, wireline, and the
// bridge channels whose platform bridge exposes a TCP address on the
// bridge's behalf. Brokered channels use WebRTCTransport instead.
type TCPListener struct {
	listener net.Listener

	closed    chan struct{}
	closeOnce sync.Once
}

// NewTCPListener binds address (e.g. ":7600" or "192.168.1.10:7600").
// Use ":0" for a random available port.
func NewTCPListener(address string) (*TCPListener, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &TCPListener{
		listener: listener,
		closed:   make(chan struct{}),
	}, nil
}

// Serve accepts connections and dispatches each probe to handler.
// Blocks until ctx is cancelled or Close is called.
func (l *TCPListener) Serve(ctx context.Context, handler Handler) error {
	go func() {
		select {
		case <-ctx.Done():
		case <-l.closed:
		}
		l.listener.Close()
	}()

	var active sync.WaitGroup
	defer active.Wait()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-l.closed:
				return nil
			default:
				return fmt.Errorf("accepting connection: %w", err)
			}
		}
		active.Add(1)
		go func() {
			defer active.Done()
			serveConn(ctx, conn, handler)
		}()
	}
}

// Address returns the bound address in "host:port" form.
func (l *TCPListener) Address() string {
	return l.listener.Addr().String()
}

// Close shuts down the listener. Safe to call more than once.
func (l *TCPListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.listener.Close()
	})
	return err
}

// TCPDialer opens TCP connections to beacon listeners.
type TCPDialer struct {
	// Timeout bounds connection establishment. Zero means no standalone
	// timeout; only the context deadline applies.
	Timeout time.Duration
}

// DialContext opens a TCP connection to address (host:port).
func (d *TCPDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	return (&net.Dialer{Timeout: d.Timeout}).DialContext(ctx, "tcp", address)
}
