// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/tether-foundation/tether/lib/codec"
	"github.com/tether-foundation/tether/lib/wire"
	"github.com/tether-foundation/tether/registry"
)

// maxProbeSize caps one encoded probe message. Probes are small; the
// cap exists so a misbehaving peer cannot make the other side buffer
// arbitrary amounts.
const maxProbeSize = 64 << 10

const (
	// probeReadTimeout bounds how long a listener waits for a dialed
	// connection to deliver its request. The dialing side applies its
	// own context deadline.
	probeReadTimeout = 15 * time.Second

	// probeWriteTimeout bounds writing a response back.
	probeWriteTimeout = 10 * time.Second

	// exchangeTimeout caps a full client-side exchange when the caller's
	// context carries no deadline of its own.
	exchangeTimeout = 30 * time.Second
)

// Listener accepts inbound probe connections on one channel's address.
// The beacon runs one Listener per channel it registers.
type Listener interface {
	// Serve accepts connections and dispatches each probe to handler.
	// Blocks until ctx is cancelled or Close is called. Returns nil on
	// clean shutdown.
	Serve(ctx context.Context, handler Handler) error

	// Address returns the dial address to register for this listener.
	// The format is transport-specific: "192.168.1.10:7600" for TCP,
	// the rendezvous name for brokered channels.
	Address() string

	// Close shuts down the listener. Subsequent calls to Serve return
	// immediately.
	Close() error
}

// Dialer opens connections to beacon listeners. The address format
// matches what the target Listener's Address() returns.
type Dialer interface {
	DialContext(ctx context.Context, address string) (net.Conn, error)
}

// Handler answers one probe. Implementations fill the response body;
// the serve loop sets the envelope's OK flag. A returned error travels
// back to the prober as a RemoteError.
type Handler interface {
	ServeProbe(ctx context.Context, req wire.ProbeRequest) (wire.ProbeResponse, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req wire.ProbeRequest) (wire.ProbeResponse, error)

// ServeProbe implements Handler.
func (f HandlerFunc) ServeProbe(ctx context.Context, req wire.ProbeRequest) (wire.ProbeResponse, error) {
	return f(ctx, req)
}

// RemoteError is a failure reported by the remote listener rather than
// by the network path to it.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote: " + e.Message
}

// Exchange runs the client side of one probe: write req, read the
// response, done. The connection is single-use; the caller closes it.
func Exchange(ctx context.Context, conn net.Conn, req wire.ProbeRequest) (wire.ProbeResponse, error) {
	deadline := time.Now().Add(exchangeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return wire.ProbeResponse{}, fmt.Errorf("setting exchange deadline: %w", err)
	}

	if err := codec.NewEncoder(conn).Encode(&req); err != nil {
		return wire.ProbeResponse{}, fmt.Errorf("writing probe request: %w", err)
	}

	// Half-close where the transport supports it so listeners that read
	// to EOF see the request end. CBOR is self-delimiting, so this is
	// optional for our own listeners.
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}

	var resp wire.ProbeResponse
	if err := codec.NewDecoder(io.LimitReader(conn, maxProbeSize)).Decode(&resp); err != nil {
		return wire.ProbeResponse{}, fmt.Errorf("reading probe response: %w", err)
	}
	return resp, nil
}

// serveConn answers one probe connection: decode the request, dispatch
// to handler, encode the result. Handler errors and malformed requests
// are reported to the peer in the response envelope.
func serveConn(ctx context.Context, conn net.Conn, handler Handler) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(probeReadTimeout))

	var req wire.ProbeRequest
	if err := codec.NewDecoder(io.LimitReader(conn, maxProbeSize)).Decode(&req); err != nil {
		writeProbeError(conn, fmt.Errorf("decoding probe request: %w", err))
		return
	}

	resp, err := handler.ServeProbe(ctx, req)
	if err != nil {
		writeProbeError(conn, err)
		return
	}
	resp.OK = true

	_ = conn.SetWriteDeadline(time.Now().Add(probeWriteTimeout))
	_ = codec.NewEncoder(conn).Encode(&resp)
}

func writeProbeError(conn net.Conn, err error) {
	_ = conn.SetWriteDeadline(time.Now().Add(probeWriteTimeout))
	_ = codec.NewEncoder(conn).Encode(&wire.ProbeResponse{Error: err.Error()})
}

// Caller dials a registration's listener and runs one probe exchange
// per call. The daemon wires one Caller into both the heartbeat engine
// (as its prober) and the binding coordinator (as its handshaker).
type Caller struct {
	dialers map[registry.Kind]Dialer
}

// NewCaller returns a Caller routing each probe through the dialer
// registered for the target channel's kind. Channels whose kind has no
// dialer fail at call time, not at construction: a daemon without a
// rendezvous configured still probes its directly dialable channels.
func NewCaller(dialers map[registry.Kind]Dialer) *Caller {
	return &Caller{dialers: dialers}
}

// Probe sends one heartbeat. It satisfies the heartbeat engine's
// prober seam.
func (c *Caller) Probe(ctx context.Context, reg registry.Registration, req wire.HeartbeatRequest) (wire.HeartbeatResponse, error) {
	resp, err := c.exchange(ctx, reg, wire.ProbeRequest{Kind: wire.KindHeartbeat, Heartbeat: &req})
	if err != nil {
		return wire.HeartbeatResponse{}, err
	}
	if resp.Heartbeat == nil {
		return wire.HeartbeatResponse{}, errors.New("probe response carries no heartbeat body")
	}
	return *resp.Heartbeat, nil
}

// Handshake asks the endpoint whether it will accept a binding. It
// satisfies the binding coordinator's handshaker seam. A refusal
// (Accept false) is a valid response, not an error.
func (c *Caller) Handshake(ctx context.Context, reg registry.Registration, req wire.HandshakeRequest) (wire.HandshakeResponse, error) {
	resp, err := c.exchange(ctx, reg, wire.ProbeRequest{Kind: wire.KindHandshake, Handshake: &req})
	if err != nil {
		return wire.HandshakeResponse{}, err
	}
	if resp.Handshake == nil {
		return wire.HandshakeResponse{}, errors.New("probe response carries no handshake body")
	}
	return *resp.Handshake, nil
}

func (c *Caller) exchange(ctx context.Context, reg registry.Registration, req wire.ProbeRequest) (wire.ProbeResponse, error) {
	desc, ok := registry.Describe(reg.Channel)
	if !ok {
		return wire.ProbeResponse{}, fmt.Errorf("channel %s not in catalog", reg.Channel)
	}
	dialer, ok := c.dialers[desc.Kind]
	if !ok {
		return wire.ProbeResponse{}, fmt.Errorf("no dialer for %s channels", desc.Kind)
	}

	conn, err := dialer.DialContext(ctx, reg.Address)
	if err != nil {
		return wire.ProbeResponse{}, fmt.Errorf("dialing %s via %s: %w", reg.Address, reg.Channel, err)
	}
	defer conn.Close()

	resp, err := Exchange(ctx, conn, req)
	if err != nil {
		return wire.ProbeResponse{}, err
	}
	if !resp.OK {
		return wire.ProbeResponse{}, &RemoteError{Message: resp.Error}
	}
	return resp, nil
}
