// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
)

// Compile-time interface check.
var _ Listener = (*MemoryListener)(nil)

// ErrLinkDown reports a dial over a hub link that SetDown forced down.
var ErrLinkDown = errors.New("link forced down")

// Hub is an in-process network. Listeners bind names on it, dialers
// reach them through synchronous pipes, and individual links can be
// forced down to stage channel outages without touching the endpoints
// under test.
type Hub struct {
	// mu protects listeners and down.
	mu        sync.Mutex
	listeners map[string]*MemoryListener
	down      map[string]bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		listeners: make(map[string]*MemoryListener),
		down:      make(map[string]bool),
	}
}

// Listen binds address on the hub. The address is freed again when the
// listener is closed.
func (h *Hub) Listen(address string) (*MemoryListener, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.listeners[address]; ok {
		return nil, fmt.Errorf("address %q already bound", address)
	}
	listener := &MemoryListener{
		hub:     h,
		address: address,
		conns:   make(chan net.Conn),
		closed:  make(chan struct{}),
	}
	h.listeners[address] = listener
	return listener, nil
}

// SetDown forces the link to address down (dials fail with ErrLinkDown)
// or restores it. The listener itself keeps running either way, the way
// a real endpoint keeps listening on a channel whose path has failed.
func (h *Hub) SetDown(address string, down bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if down {
		h.down[address] = true
		return
	}
	delete(h.down, address)
}

// Dialer returns a Dialer that reaches listeners bound on this hub.
func (h *Hub) Dialer() Dialer {
	return hubDialer{hub: h}
}

type hubDialer struct {
	hub *Hub
}

func (d hubDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	d.hub.mu.Lock()
	down := d.hub.down[address]
	listener, ok := d.hub.listeners[address]
	d.hub.mu.Unlock()

	if down {
		return nil, fmt.Errorf("dialing %s: %w", address, ErrLinkDown)
	}
	if !ok {
		return nil, fmt.Errorf("dialing %s: no listener", address)
	}

	client, server := net.Pipe()
	select {
	case listener.conns <- server:
		return client, nil
	case <-listener.closed:
		client.Close()
		server.Close()
		return nil, fmt.Errorf("dialing %s: listener closed", address)
	case <-ctx.Done():
		client.Close()
		server.Close()
		return nil, ctx.Err()
	}
}

// MemoryListener accepts hub dials for one bound address.
type MemoryListener struct {
	hub     *Hub
	address string
	conns   chan net.Conn

	closed    chan struct{}
	closeOnce sync.Once
}

// Serve dispatches each dialed probe to handler. Blocks until ctx is
// cancelled or Close is called.
func (l *MemoryListener) Serve(ctx context.Context, handler Handler) error {
	var active sync.WaitGroup
	defer active.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.closed:
			return nil
		case conn := <-l.conns:
			active.Add(1)
			go func() {
				defer active.Done()
				serveConn(ctx, conn, handler)
			}()
		}
	}
}

// Address returns the bound hub address.
func (l *MemoryListener) Address() string {
	return l.address
}

// Close unbinds the address. Safe to call more than once.
func (l *MemoryListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)

		l.hub.mu.Lock()
		if current, ok := l.hub.listeners[l.address]; ok && current == l {
			delete(l.hub.listeners, l.address)
		}
		l.hub.mu.Unlock()
	})
	return nil
}
