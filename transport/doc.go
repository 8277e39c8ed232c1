// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries probe exchanges between the daemon and
// endpoint beacons.
//
// The package defines two interfaces: [Listener] accepts inbound probe
// connections on one channel's address (Serve, Address, Close), and
// [Dialer] opens outbound connections (DialContext). A probe is one
// short-lived connection carrying a CBOR-encoded wire.ProbeRequest and
// its wire.ProbeResponse. [Exchange] runs the client side of that
// protocol and [Handler] answers the server side. [Caller] composes
// the two for the daemon: it routes each call through the dialer
// registered for the target channel's kind and satisfies the prober
// and handshaker seams of the heartbeat engine and the binding
// coordinator.
//
// Three transports are provided. [Hub] is an in-process network whose
// links can be forced down, used by tests and outage drills.
// [TCPListener] and [TCPDialer] serve the directly dialable channels:
// fiber, wifi, wireline, and the bridge channels whose platform bridge
// exposes a TCP address on the bridge's behalf. [WebRTCTransport]
// serves brokered channels (endpoints behind NAT or an uplink carrier)
// over pion/webrtc data channels. It implements both Listener and
// Dialer on a single instance so both directions share one pool of
// PeerConnections.
//
// WebRTC signaling is abstracted behind the [Signaler] interface.
// [TCPSignaler] talks to a [SignalServer] rendezvous service in
// production; [MemorySignaler] is the in-process implementation for
// tests. The signaling model is vanilla ICE: all candidates are
// gathered before the SDP is published, so establishment needs exactly
// one round-trip (offer → answer). When both sides offer
// simultaneously, the peer with the lexicographically smaller
// rendezvous name is the canonical offerer and the other side drops
// its redundant attempt. [DataChannelConn] wraps a detached data
// channel as a net.Conn with deadline support.
package transport
