// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
)

// Compile-time interface checks.
var (
	_ Listener = (*WebRTCTransport)(nil)
	_ Dialer   = (*WebRTCTransport)(nil)
)

// signalingPollInterval is how often the transport polls for inbound
// signaling offers.
const signalingPollInterval = 2 * time.Second

// iceGatherTimeout is the maximum time to wait for ICE candidate
// gathering to complete before publishing the SDP.
const iceGatherTimeout = 15 * time.Second

// answerPollInterval is how often the dialer polls for an SDP answer
// after publishing an offer.
const answerPollInterval = 500 * time.Millisecond

// answerTimeout is the maximum time to wait for an SDP answer before
// giving up.
const answerTimeout = 30 * time.Second

// WebRTCTransport carries probe exchanges over WebRTC data channels.
// It serves the brokered channels (cellular, lorawan, hfradio) whose
// listeners sit behind NAT or an uplink carrier and cannot publish a
// directly dialable address. It implements both Listener and Dialer
// because both directions share the same pool of PeerConnections.
//
// Each peer gets one PeerConnection with potentially many data
// channels. Each DialContext call opens a new data channel on the
// existing PeerConnection (or establishes a new PeerConnection if none
// exists), carrying one probe exchange. The Serve side accepts inbound
// data channels and answers each probe with the configured handler.
//
// The address of a brokered registration is the peer's rendezvous
// name: the beacon signals under its endpoint ID, the daemon under its
// principal. Signaling uses the Signaler interface (a SignalServer in
// production, in-process channels in tests). Connection establishment
// uses vanilla ICE: all candidates are gathered before the SDP is
// published, so signaling requires exactly one round-trip.
type WebRTCTransport struct {
	signaler  Signaler
	name      string
	iceConfig ICEConfig
	logger    *slog.Logger

	// mu protects peers and the fields of every peerState in it.
	mu    sync.Mutex
	peers map[string]*peerState

	// inboundConnections carries data channels opened by remote peers,
	// wrapped as net.Conn. Serve reads from this channel and answers
	// each probe.
	inboundConnections chan net.Conn

	// ready is closed when Serve has started the signaling poller and
	// is ready to accept inbound connections. Callers can wait on
	// Ready() before dialing.
	ready     chan struct{}
	readyOnce sync.Once

	// closed signals shutdown.
	closed    chan struct{}
	closeOnce sync.Once

	// channelCounter generates unique data channel labels.
	channelCounter atomic.Uint64
}

// peerState tracks the PeerConnection to a single remote peer.
// Protected by WebRTCTransport.mu.
type peerState struct {
	connection  *webrtc.PeerConnection
	name        string
	established chan struct{} // closed when ICE reaches Connected/Completed
}

// NewWebRTCTransport creates a WebRTC transport. The name identifies
// this party in signaling (the beacon's endpoint ID or the daemon's
// principal). The signaler provides the mechanism for exchanging SDP
// offers and answers.
func NewWebRTCTransport(signaler Signaler, name string, iceConfig ICEConfig, logger *slog.Logger) *WebRTCTransport {
	return &WebRTCTransport{
		signaler:           signaler,
		name:               name,
		iceConfig:          iceConfig,
		logger:             logger.With("component", "webrtc"),
		peers:              make(map[string]*peerState),
		inboundConnections: make(chan net.Conn, 64),
		ready:              make(chan struct{}),
		closed:             make(chan struct{}),
	}
}

// Ready returns a channel that is closed when Serve has started the
// signaling poller and is ready to accept inbound connections.
func (wt *WebRTCTransport) Ready() <-chan struct{} {
	return wt.ready
}

// Serve polls for inbound signaling offers and answers each inbound
// probe with handler. Blocks until ctx is cancelled or Close is called.
func (wt *WebRTCTransport) Serve(ctx context.Context, handler Handler) error {
	go wt.signalingPoller(ctx)

	wt.readyOnce.Do(func() { close(wt.ready) })

	var active sync.WaitGroup
	defer active.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-wt.closed:
			return nil
		case conn := <-wt.inboundConnections:
			active.Add(1)
			go func() {
				defer active.Done()
				serveConn(ctx, conn, handler)
			}()
		}
	}
}

// Address returns the rendezvous name. Registrations for brokered
// channels carry this value as their dial address.
func (wt *WebRTCTransport) Address() string {
	return wt.name
}

// Close shuts down all PeerConnections and stops the signaling poller.
func (wt *WebRTCTransport) Close() error {
	wt.closeOnce.Do(func() {
		close(wt.closed)
	})

	wt.mu.Lock()
	defer wt.mu.Unlock()

	for name, peer := range wt.peers {
		peer.connection.Close()
		delete(wt.peers, name)
	}
	return nil
}

// DialContext opens a data channel to the peer whose rendezvous name
// is address. If no PeerConnection exists to that peer, it creates one
// by publishing an SDP offer and waiting for the answer. Each call
// creates a new ordered, reliable data channel.
func (wt *WebRTCTransport) DialContext(ctx context.Context, address string) (net.Conn, error) {
	select {
	case <-wt.closed:
		return nil, net.ErrClosed
	default:
	}

	peer, err := wt.getOrCreatePeer(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("establishing peer connection to %s: %w", address, err)
	}

	// Wait for the PeerConnection to be established.
	select {
	case <-peer.established:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-wt.closed:
		return nil, net.ErrClosed
	}

	return wt.openDataChannel(peer)
}

// getOrCreatePeer returns the peerState for the given peer name,
// creating and signaling a new PeerConnection if necessary. If another
// goroutine is already establishing a connection to this peer, callers
// wait for that attempt rather than starting a parallel one.
func (wt *WebRTCTransport) getOrCreatePeer(ctx context.Context, peerName string) (*peerState, error) {
	wt.mu.Lock()

	if peer, ok := wt.peers[peerName]; ok {
		state := peer.connection.ICEConnectionState()
		if state != webrtc.ICEConnectionStateFailed &&
			state != webrtc.ICEConnectionStateClosed {
			wt.mu.Unlock()
			return peer, nil
		}
		// Connection is dead. Tear down and re-establish.
		peer.connection.Close()
		delete(wt.peers, peerName)
	}

	// Create the PeerConnection and store it in the map before
	// releasing the lock. Concurrent callers find this entry and wait
	// on peer.established instead of starting duplicate signaling.
	pc, err := wt.newPeerConnection()
	if err != nil {
		wt.mu.Unlock()
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}

	peer := &peerState{
		connection:  pc,
		name:        peerName,
		established: make(chan struct{}),
	}
	wt.peers[peerName] = peer
	wt.mu.Unlock()

	// Run signaling outside the lock. On failure, clean up the map
	// entry so the next caller retries.
	if err := wt.establishOutbound(ctx, peer); err != nil {
		wt.mu.Lock()
		if current, ok := wt.peers[peerName]; ok && current == peer {
			delete(wt.peers, peerName)
		}
		wt.mu.Unlock()
		pc.Close()
		return nil, err
	}

	return peer, nil
}

// establishOutbound performs SDP signaling for a PeerConnection that
// is already stored in the peers map. On success the peer.established
// channel will be closed by the ICE state handler.
func (wt *WebRTCTransport) establishOutbound(ctx context.Context, peer *peerState) error {
	peerName := peer.name
	pc := peer.connection

	// The peer may open data channels toward us on this connection.
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		wt.handleInboundDataChannel(dc, peerName)
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		wt.handleICEStateChange(peerName, peer, state)
	})

	// Create a trigger data channel to generate the SDP offer. The
	// remote side doesn't use this channel; it just forces pion to
	// include a data channel section in the SDP.
	if _, err := pc.CreateDataChannel("init", nil); err != nil {
		return fmt.Errorf("creating init data channel: %w", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating SDP offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}

	// Wait for ICE gathering to complete (vanilla ICE).
	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		return fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	completeSDP := pc.LocalDescription().SDP
	if err := wt.signaler.PublishOffer(ctx, wt.name, peerName, completeSDP); err != nil {
		return fmt.Errorf("publishing SDP offer: %w", err)
	}

	wt.logger.Debug("offer published", "peer", peerName)

	answerSDP, err := wt.waitForAnswer(ctx, peerName)
	if err != nil {
		return fmt.Errorf("waiting for SDP answer from %s: %w", peerName, err)
	}

	answer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}

	wt.logger.Info("outbound connection established", "peer", peerName)
	return nil
}

// waitForAnswer polls the signaler for an SDP answer from the given peer.
func (wt *WebRTCTransport) waitForAnswer(ctx context.Context, peerName string) (string, error) {
	deadline := time.After(answerTimeout)
	ticker := time.NewTicker(answerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return "", fmt.Errorf("timed out after %s", answerTimeout)
		case <-ctx.Done():
			return "", ctx.Err()
		case <-wt.closed:
			return "", net.ErrClosed
		case <-ticker.C:
			answers, err := wt.signaler.PollAnswers(ctx, wt.name)
			if err != nil {
				wt.logger.Warn("polling for SDP answer failed", "error", err)
				continue
			}
			for _, answer := range answers {
				if answer.Peer == peerName {
					return answer.SDP, nil
				}
			}
		}
	}
}

// signalingPoller runs in the background and checks for incoming SDP
// offers.
func (wt *WebRTCTransport) signalingPoller(ctx context.Context) {
	ticker := time.NewTicker(signalingPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-wt.closed:
			return
		case <-ticker.C:
			wt.processInboundOffers(ctx)
		}
	}
}

// processInboundOffers checks for new SDP offers and answers them.
func (wt *WebRTCTransport) processInboundOffers(ctx context.Context) {
	offers, err := wt.signaler.PollOffers(ctx, wt.name)
	if err != nil {
		wt.logger.Warn("polling for SDP offers failed", "error", err)
		return
	}

	for _, offer := range offers {
		wt.mu.Lock()
		existing, hasExisting := wt.peers[offer.Peer]
		wt.mu.Unlock()

		if hasExisting {
			state := existing.connection.ICEConnectionState()
			if state != webrtc.ICEConnectionStateFailed &&
				state != webrtc.ICEConnectionStateClosed {
				// Signaling race: we already have a connection (or are
				// establishing one) to this peer. Tie-breaking: the
				// lexicographically smaller name is the canonical
				// offerer. If the peer should be the offerer (their
				// name < ours), accept their offer and tear down our
				// attempt. Otherwise ignore their offer.
				if offer.Peer > wt.name {
					continue
				}
				wt.mu.Lock()
				existing.connection.Close()
				delete(wt.peers, offer.Peer)
				wt.mu.Unlock()
			} else {
				// Existing connection is dead. Clean it up.
				wt.mu.Lock()
				existing.connection.Close()
				delete(wt.peers, offer.Peer)
				wt.mu.Unlock()
			}
		}

		if err := wt.answerOffer(ctx, offer); err != nil {
			wt.logger.Error("answering offer failed",
				"peer", offer.Peer,
				"error", err,
			)
		}
	}
}

// answerOffer creates a PeerConnection in response to an incoming SDP
// offer.
func (wt *WebRTCTransport) answerOffer(ctx context.Context, offer SignalMessage) error {
	pc, err := wt.newPeerConnection()
	if err != nil {
		return fmt.Errorf("creating PeerConnection: %w", err)
	}

	peer := &peerState{
		connection:  pc,
		name:        offer.Peer,
		established: make(chan struct{}),
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		wt.handleInboundDataChannel(dc, offer.Peer)
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		wt.handleICEStateChange(offer.Peer, peer, state)
	})

	remoteOffer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer.SDP,
	}
	if err := pc.SetRemoteDescription(remoteOffer); err != nil {
		pc.Close()
		return fmt.Errorf("setting remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("creating SDP answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return fmt.Errorf("setting local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		pc.Close()
		return fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		pc.Close()
		return ctx.Err()
	}

	completeSDP := pc.LocalDescription().SDP
	if err := wt.signaler.PublishAnswer(ctx, offer.Peer, wt.name, completeSDP); err != nil {
		pc.Close()
		return fmt.Errorf("publishing SDP answer: %w", err)
	}

	wt.mu.Lock()
	wt.peers[offer.Peer] = peer
	wt.mu.Unlock()

	wt.logger.Info("inbound connection answered", "peer", offer.Peer)
	return nil
}

// handleInboundDataChannel wraps an incoming data channel as a net.Conn
// and pushes it to the inbound connection channel for Serve.
func (wt *WebRTCTransport) handleInboundDataChannel(dc *webrtc.DataChannel, peerName string) {
	// The "init" data channel is a trigger used by establishOutbound to
	// force pion to include a data channel section in the SDP offer.
	// Neither side sends data on it. Letting it into the serve loop
	// would park a goroutine in a read that never returns, and pion's
	// SCTP implementation can exhibit internal lock contention when
	// multiple streams on the same association have concurrent blocked
	// reads. Discarding the init channel avoids both.
	if dc.Label() == "init" {
		dc.OnOpen(func() {
			dc.Close()
		})
		return
	}

	wt.logger.Debug("inbound data channel received",
		"peer", peerName,
		"label", dc.Label(),
	)
	dc.OnOpen(func() {
		rawChannel, err := dc.Detach()
		if err != nil {
			wt.logger.Error("detaching inbound data channel failed",
				"peer", peerName,
				"label", dc.Label(),
				"error", err,
			)
			return
		}

		conn := NewDataChannelConn(
			rawChannel,
			wt.name+"/"+dc.Label(),
			peerName+"/"+dc.Label(),
		)

		select {
		case wt.inboundConnections <- conn:
		case <-wt.closed:
			conn.Close()
		}
	})
}

// handleICEStateChange monitors PeerConnection state and manages the
// established signal.
func (wt *WebRTCTransport) handleICEStateChange(peerName string, peer *peerState, state webrtc.ICEConnectionState) {
	wt.logger.Debug("ICE state change",
		"peer", peerName,
		"state", state.String(),
	)

	switch state {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		// Signal that the connection is ready for data channels.
		select {
		case <-peer.established:
			// Already signaled.
		default:
			close(peer.established)
		}

	case webrtc.ICEConnectionStateFailed:
		wt.logger.Warn("peer connection failed, will re-establish on next dial",
			"peer", peerName,
		)
		// Leave the peers map entry: getOrCreatePeer checks the state
		// and re-establishes on the next dial.

	case webrtc.ICEConnectionStateClosed:
		wt.mu.Lock()
		if current, ok := wt.peers[peerName]; ok && current == peer {
			delete(wt.peers, peerName)
		}
		wt.mu.Unlock()
	}
}

// openDataChannel creates a new ordered, reliable data channel on the
// peer's PeerConnection and returns it as a net.Conn.
func (wt *WebRTCTransport) openDataChannel(peer *peerState) (net.Conn, error) {
	counter := wt.channelCounter.Add(1)
	label := fmt.Sprintf("probe-%d", counter)

	wt.logger.Debug("opening data channel",
		"label", label,
		"peer", peer.name,
	)

	ordered := true
	dc, err := peer.connection.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return nil, fmt.Errorf("creating data channel %s: %w", label, err)
	}

	openChan := make(chan struct{})
	dc.OnOpen(func() {
		close(openChan)
	})

	select {
	case <-openChan:
	case <-time.After(10 * time.Second):
		dc.Close()
		return nil, fmt.Errorf("data channel %s did not open within 10s", label)
	case <-wt.closed:
		dc.Close()
		return nil, net.ErrClosed
	}

	rawChannel, err := dc.Detach()
	if err != nil {
		dc.Close()
		return nil, fmt.Errorf("detaching data channel %s: %w", label, err)
	}

	return NewDataChannelConn(
		rawChannel,
		wt.name+"/"+label,
		peer.name+"/"+label,
	), nil
}

// newPeerConnection creates a pion PeerConnection with the configured
// ICE servers.
func (wt *WebRTCTransport) newPeerConnection() (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{
		ICEServers: wt.iceConfig.Servers,
	}

	// The SettingEngine enables data channel detach (required for
	// stream-oriented ReadWriteCloser access) and loopback ICE
	// candidates (required for same-machine use and test environments
	// where loopback is the only available interface).
	settingEngine := webrtc.SettingEngine{}
	settingEngine.DetachDataChannels()
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(config)
}
