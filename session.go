// Copyright 2025 Kirill Scherba <kirill@scherba.ru>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Session engine: per-WebTransport-session stream/datagram lifecycle, per
// draft-ietf-webtrans-http3-02 §4.

package wt3core

import (
	"context"
	"io"
	"sync"

	"github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/kirgrom/wt3core/h3"
)

// Session is an established WebTransport session: the request stream that
// carries session-control capsules, plus queues of peer-initiated streams
// and datagrams delivered by the owning Connection's classifier.
type Session struct {
	id            uint64
	conn          *Connection
	requestStream quic.Stream

	ctx    context.Context
	cancel context.CancelFunc

	mu                  sync.Mutex
	acceptQueue         []quic.Stream
	acceptUniQueue      []quic.ReceiveStream
	datagramRegistered  bool
	closedByPeer        bool
	peerCloseCode       h3.ErrorCode
	peerCloseMessage    string

	acceptSignal    chan struct{}
	acceptUniSignal chan struct{}
	datagrams       chan []byte

	closeOnce sync.Once
}

func newSession(conn *Connection, requestStream quic.Stream) *Session {
	ctx, cancel := context.WithCancel(conn.ctx)
	return &Session{
		id:              uint64(requestStream.StreamID()),
		conn:            conn,
		requestStream:   requestStream,
		ctx:             ctx,
		cancel:          cancel,
		acceptSignal:    make(chan struct{}, 1),
		acceptUniSignal: make(chan struct{}, 1),
		datagrams:       make(chan []byte, 64),
	}
}

// ID returns the WebTransport session ID: the request stream's QUIC stream
// ID, per draft-ietf-webtrans-http3-02.
func (s *Session) ID() uint64 { return s.id }

// Context is canceled when the session closes, by either side.
func (s *Session) Context() context.Context { return s.ctx }

// start launches the session's background capsule reader. Called once, by
// Request.Accept.
func (s *Session) start() {
	go s.readCapsules()
}

func (s *Session) log() *zap.Logger { return s.conn.log() }

// readCapsules drains CLOSE/REGISTER capsules from the request stream for
// the life of the session.
func (s *Session) readCapsules() {
	for {
		hdr, err := h3.ReadCapsuleHeader(s.requestStream)
		if err != nil {
			s.teardown(h3.ErrGeneralProtocolError)
			return
		}
		switch hdr.Type {
		case h3.CapsuleRegisterDatagramNoContext:
			if err := h3.ReadRegisterDatagramNoContext(s.requestStream, hdr); err != nil {
				s.log().Warn("invalid REGISTER_DATAGRAM_NO_CONTEXT capsule", zap.Uint64("session_id", s.id), zap.Error(err))
				s.teardown(h3.ErrGeneralProtocolError)
				return
			}
			s.mu.Lock()
			s.datagramRegistered = true
			s.mu.Unlock()

		case h3.CapsuleCloseWebTransportSession:
			code, msg, err := h3.ReadCloseSession(s.requestStream, hdr)
			if err != nil {
				s.log().Warn("invalid CLOSE_WEBTRANSPORT_SESSION capsule", zap.Uint64("session_id", s.id), zap.Error(err))
				s.teardown(h3.ErrMessageError)
				return
			}
			// draft-ietf-webtrans-http3-02 §4.5: the request stream must carry
			// nothing past the CLOSE capsule. A peer that keeps sending after
			// it is violating the session-termination contract, not closing
			// cleanly.
			if n, rerr := s.requestStream.Read(make([]byte, 1)); rerr != io.EOF || n != 0 {
				s.log().Warn("data after CLOSE_WEBTRANSPORT_SESSION capsule", zap.Uint64("session_id", s.id))
				s.teardown(h3.ErrGeneralProtocolError)
				return
			}
			s.mu.Lock()
			s.closedByPeer = true
			s.peerCloseCode = h3.ErrorCode(code)
			s.peerCloseMessage = msg
			s.mu.Unlock()
			s.teardown(h3.ErrNoError)
			return

		default:
			if h3.IsReservedDraftCapsuleType(hdr.Type) {
				s.log().Warn("reserved draft capsule type", zap.Uint64("session_id", s.id), zap.Uint64("capsule_type", hdr.Type))
				s.teardown(h3.ErrGeneralProtocolError)
				return
			}
			if err := h3.DropExact(s.requestStream, hdr.Length); err != nil {
				s.teardown(h3.ErrGeneralProtocolError)
				return
			}
		}
	}
}

// teardown aborts the request stream with code and tears down the session,
// draining any not-yet-delivered queued streams.
func (s *Session) teardown(code h3.ErrorCode) {
	s.closeOnce.Do(func() {
		h3.AbortBoth(s.requestStream, code)
		s.cancel()
		s.conn.removeSession(s.id)

		s.mu.Lock()
		queued := s.acceptQueue
		s.acceptQueue = nil
		queuedUni := s.acceptUniQueue
		s.acceptUniQueue = nil
		s.mu.Unlock()
		for _, st := range queued {
			h3.AbortBoth(st, h3.ErrWebTransportBufferedStreamRejected)
		}
		for _, st := range queuedUni {
			st.CancelRead(quic.StreamErrorCode(h3.ErrWebTransportBufferedStreamRejected))
		}
	})
}

// tryQueueStream delivers a peer-initiated bidirectional stream to the
// session's accept queue. ok is false if the session has already closed, in
// which case the caller must abort the stream.
func (s *Session) tryQueueStream(stream quic.Stream) (ok bool) {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	s.mu.Lock()
	s.acceptQueue = append(s.acceptQueue, stream)
	s.mu.Unlock()
	select {
	case s.acceptSignal <- struct{}{}:
	default:
	}
	return true
}

// tryQueueUniStream delivers a peer-initiated unidirectional stream.
func (s *Session) tryQueueUniStream(stream quic.ReceiveStream) (ok bool) {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	s.mu.Lock()
	s.acceptUniQueue = append(s.acceptUniQueue, stream)
	s.mu.Unlock()
	select {
	case s.acceptUniSignal <- struct{}{}:
	default:
	}
	return true
}

// deliverDatagram delivers a routed datagram payload to the session. It
// never blocks; if the receive buffer is full the datagram is dropped.
func (s *Session) deliverDatagram(payload []byte) {
	select {
	case s.datagrams <- payload:
	default:
	}
}

// AcceptStream blocks until a peer-initiated bidirectional stream is
// available, ctx is done, or the session closes.
func (s *Session) AcceptStream(ctx context.Context) (Stream, error) {
	for {
		s.mu.Lock()
		if len(s.acceptQueue) > 0 {
			st := s.acceptQueue[0]
			s.acceptQueue = s.acceptQueue[1:]
			s.mu.Unlock()
			s.conn.metrics().streamAccepted()
			return Stream{st}, nil
		}
		s.mu.Unlock()

		select {
		case <-s.acceptSignal:
		case <-ctx.Done():
			return Stream{}, ctx.Err()
		case <-s.ctx.Done():
			return Stream{}, s.ctx.Err()
		}
	}
}

// AcceptUniStream blocks until a peer-initiated unidirectional stream is
// available, ctx is done, or the session closes.
func (s *Session) AcceptUniStream(ctx context.Context) (ReceiveStream, error) {
	for {
		s.mu.Lock()
		if len(s.acceptUniQueue) > 0 {
			st := s.acceptUniQueue[0]
			s.acceptUniQueue = s.acceptUniQueue[1:]
			s.mu.Unlock()
			s.conn.metrics().streamAccepted()
			// The connection's classifier already consumed this stream's
			// StreamWebTransportUniStream type and session-ID preamble in
			// order to route it here, so the wrapper must not try to read
			// it again.
			return ReceiveStream{ReceiveStream: st, sessionID: s.id, headerRead: true}, nil
		}
		s.mu.Unlock()

		select {
		case <-s.acceptUniSignal:
		case <-ctx.Done():
			return ReceiveStream{}, ctx.Err()
		case <-s.ctx.Done():
			return ReceiveStream{}, s.ctx.Err()
		}
	}
}

// OpenStream opens a server-initiated bidirectional stream and writes its
// WebTransport preamble.
func (s *Session) OpenStream() (Stream, error) {
	st, err := s.conn.quicConn.OpenStream()
	if err != nil {
		return Stream{}, err
	}
	return s.writeStreamPreamble(st)
}

// OpenStreamSync is OpenStream but blocks until a stream slot is available.
func (s *Session) OpenStreamSync(ctx context.Context) (Stream, error) {
	st, err := s.conn.quicConn.OpenStreamSync(ctx)
	if err != nil {
		return Stream{}, err
	}
	return s.writeStreamPreamble(st)
}

func (s *Session) writeStreamPreamble(st quic.Stream) (Stream, error) {
	if err := h3.WriteWebTransportStreamMarker(st, s.id); err != nil {
		s.abortOpenFailure(st, err)
		return Stream{}, err
	}
	return Stream{st}, nil
}

// OpenUniStream opens a server-initiated unidirectional stream. Its
// preamble is written lazily, on the first call to Write.
func (s *Session) OpenUniStream() (SendStream, error) {
	st, err := s.conn.quicConn.OpenUniStream()
	if err != nil {
		return SendStream{}, err
	}
	return SendStream{SendStream: st, sessionID: s.id, writeHeader: true}, nil
}

// OpenUniStreamSync is OpenUniStream but blocks until a stream slot is
// available.
func (s *Session) OpenUniStreamSync(ctx context.Context) (SendStream, error) {
	st, err := s.conn.quicConn.OpenUniStreamSync(ctx)
	if err != nil {
		return SendStream{}, err
	}
	return SendStream{SendStream: st, sessionID: s.id, writeHeader: true}, nil
}

func (s *Session) abortOpenFailure(st quic.Stream, err error) {
	code := h3.ErrInternalError
	if s.ctx.Err() != nil {
		code = h3.ErrRequestCancelled
	}
	h3.AbortBoth(st, code)
}

// SendDatagram sends a WebTransport datagram, prefixed with the session's
// quarter stream ID, per draft-ietf-masque-h3-datagram. It requires a prior
// REGISTER_DATAGRAM_NO_CONTEXT capsule from the peer.
func (s *Session) SendDatagram(payload []byte) error {
	s.mu.Lock()
	registered := s.datagramRegistered
	s.mu.Unlock()
	if !registered {
		return h3.New(h3.KindInvalidOperation, h3.ErrNoError, "datagrams not registered for this session")
	}
	buf, err := WriteVarInt(nil, s.id/4)
	if err != nil {
		return err
	}
	buf = append(buf, payload...)
	return s.conn.quicConn.SendDatagram(buf)
}

// ReceiveDatagram blocks until a datagram routed to this session is
// available, ctx is done, or the session closes.
func (s *Session) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	select {
	case p := <-s.datagrams:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}

// Close ends the session: code==0 with no message sends a bare FIN, else a
// CLOSE_WEBTRANSPORT_SESSION capsule carries (code, message) before the FIN.
func (s *Session) Close(code uint32, message string) error {
	if len(message) > 1024 {
		return h3.New(h3.KindArgumentError, h3.ErrNoError, "close message exceeds 1024 bytes")
	}

	var err error
	if code == 0 && message == "" {
		_, err = s.requestStream.Write(nil)
	} else {
		err = h3.WriteCloseSession(s.requestStream, code, message)
	}
	s.requestStream.Close()

	s.teardown(h3.ErrNoError)
	return err
}

// PeerClosed reports whether the session was closed by the peer, and if so
// the code and message it supplied.
func (s *Session) PeerClosed() (closed bool, code h3.ErrorCode, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closedByPeer, s.peerCloseCode, s.peerCloseMessage
}
