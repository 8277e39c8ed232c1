// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/tether-foundation/tether/lib/codec"
)

// Compile-time interface check.
var _ Signaler = (*TCPSignaler)(nil)

const (
	// signalDialTimeout bounds connecting to the rendezvous service.
	signalDialTimeout = 5 * time.Second

	// signalExchangeTimeout bounds one op round-trip once connected.
	signalExchangeTimeout = 10 * time.Second

	// maxSignalSize caps one encoded signaling message. SDP bodies with
	// embedded candidates run a few KiB.
	maxSignalSize = 256 << 10
)

// Rendezvous op names.
const (
	opPublishOffer  = "publish-offer"
	opPublishAnswer = "publish-answer"
	opPollOffers    = "poll-offers"
	opPollAnswers   = "poll-answers"
)

// signalOp is one rendezvous operation. A client sends one op per
// connection and reads one signalResult back.
type signalOp struct {
	Op     string `cbor:"op"`
	Name   string `cbor:"name"`
	Target string `cbor:"target,omitempty"`
	SDP    string `cbor:"sdp,omitempty"`
}

type signalResult struct {
	OK       bool            `cbor:"ok"`
	Error    string          `cbor:"error,omitempty"`
	Messages []SignalMessage `cbor:"messages,omitempty"`
}

// TCPSignaler is a Signaler backed by a remote SignalServer. Each call
// is one short-lived TCP connection carrying a CBOR op and its result.
type TCPSignaler struct {
	address string
}

// NewTCPSignaler returns a Signaler talking to the rendezvous service
// at address.
func NewTCPSignaler(address string) *TCPSignaler {
	return &TCPSignaler{address: address}
}

func (s *TCPSignaler) PublishOffer(ctx context.Context, name, target, sdp string) error {
	_, err := s.roundTrip(ctx, signalOp{Op: opPublishOffer, Name: name, Target: target, SDP: sdp})
	return err
}

func (s *TCPSignaler) PublishAnswer(ctx context.Context, offerer, name, sdp string) error {
	_, err := s.roundTrip(ctx, signalOp{Op: opPublishAnswer, Name: name, Target: offerer, SDP: sdp})
	return err
}

func (s *TCPSignaler) PollOffers(ctx context.Context, name string) ([]SignalMessage, error) {
	result, err := s.roundTrip(ctx, signalOp{Op: opPollOffers, Name: name})
	if err != nil {
		return nil, err
	}
	return result.Messages, nil
}

func (s *TCPSignaler) PollAnswers(ctx context.Context, name string) ([]SignalMessage, error) {
	result, err := s.roundTrip(ctx, signalOp{Op: opPollAnswers, Name: name})
	if err != nil {
		return nil, err
	}
	return result.Messages, nil
}

func (s *TCPSignaler) roundTrip(ctx context.Context, op signalOp) (signalResult, error) {
	dialer := net.Dialer{Timeout: signalDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.address)
	if err != nil {
		return signalResult{}, fmt.Errorf("dialing signal server %s: %w", s.address, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(signalExchangeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	if err := codec.NewEncoder(conn).Encode(&op); err != nil {
		return signalResult{}, fmt.Errorf("writing %s op: %w", op.Op, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
	}

	var result signalResult
	if err := codec.NewDecoder(io.LimitReader(conn, maxSignalSize)).Decode(&result); err != nil {
		return signalResult{}, fmt.Errorf("reading %s result: %w", op.Op, err)
	}
	if !result.OK {
		return signalResult{}, fmt.Errorf("%s refused: %s", op.Op, result.Error)
	}
	return result, nil
}

// SignalServer is the rendezvous service for brokered channels. It
// keeps offers and answers in memory and serves them to TCPSignaler
// clients; a daemon and the beacons it cannot dial directly all point
// at the same SignalServer. State is ephemeral: after a restart,
// unconsumed signals are gone and peers simply re-offer.
type SignalServer struct {
	listener net.Listener
	store    *MemorySignaler
	logger   *slog.Logger

	closed    chan struct{}
	closeOnce sync.Once
}

// NewSignalServer binds the rendezvous service on address. Use ":0"
// for a random available port.
func NewSignalServer(address string, logger *slog.Logger) (*SignalServer, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("binding signal server: %w", err)
	}
	return &SignalServer{
		listener: listener,
		store:    NewMemorySignaler(),
		logger:   logger.With("component", "signal"),
		closed:   make(chan struct{}),
	}, nil
}

// Address returns the bound address in "host:port" form.
func (s *SignalServer) Address() string {
	return s.listener.Addr().String()
}

// Serve accepts rendezvous connections until ctx is cancelled or Close
// is called.
func (s *SignalServer) Serve(ctx context.Context) error {
	s.logger.Info("signal server listening", "address", s.Address())

	go func() {
		select {
		case <-ctx.Done():
		case <-s.closed:
		}
		s.listener.Close()
	}()

	var active sync.WaitGroup
	defer active.Wait()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-s.closed:
				return nil
			default:
				return fmt.Errorf("accepting signal connection: %w", err)
			}
		}
		active.Add(1)
		go func() {
			defer active.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Close shuts down the service. Safe to call more than once.
func (s *SignalServer) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.listener.Close()
	})
	return err
}

func (s *SignalServer) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(signalExchangeTimeout))

	var op signalOp
	if err := codec.NewDecoder(io.LimitReader(conn, maxSignalSize)).Decode(&op); err != nil {
		s.writeResult(conn, signalResult{Error: fmt.Sprintf("decoding op: %v", err)})
		return
	}

	s.writeResult(conn, s.dispatch(ctx, op))
}

func (s *SignalServer) dispatch(ctx context.Context, op signalOp) signalResult {
	var (
		messages []SignalMessage
		err      error
	)
	switch op.Op {
	case opPublishOffer:
		err = s.store.PublishOffer(ctx, op.Name, op.Target, op.SDP)
	case opPublishAnswer:
		err = s.store.PublishAnswer(ctx, op.Target, op.Name, op.SDP)
	case opPollOffers:
		messages, err = s.store.PollOffers(ctx, op.Name)
	case opPollAnswers:
		messages, err = s.store.PollAnswers(ctx, op.Name)
	default:
		err = fmt.Errorf("unknown op %q", op.Op)
	}
	if err != nil {
		return signalResult{Error: err.Error()}
	}
	return signalResult{OK: true, Messages: messages}
}

func (s *SignalServer) writeResult(conn net.Conn, result signalResult) {
	if err := codec.NewEncoder(conn).Encode(&result); err != nil {
		s.logger.Debug("writing signal result failed", "error", err)
	}
}
