// Copyright 2025 Kirill Scherba <kirill@scherba.ru>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Connection engine: per-QUIC-connection HTTP/3 + WebTransport state
// machine. Grounded on other_examples aptpod conn.go/session_manager.go for
// the accept-queue/session-map shape, generalized from a single-session
// model to the connection's own map of concurrent sessions.

package wt3core

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/kirgrom/wt3core/h3"
)

// noGoaway is the sentinel localGoaway value meaning "no GOAWAY has been
// issued yet", chosen so every real stream ID compares less than it.
const noGoaway = ^uint64(0)

// Connection is the per-QUIC-connection engine: control-stream setup, the
// accept/classify loop for peer-initiated streams, datagram routing, the
// live session map, and GOAWAY.
type Connection struct {
	quicConn quic.Connection
	server   *Server

	ctx    context.Context
	cancel context.CancelFunc

	remoteSettings      h3.SettingsMap
	peerControlStream   quic.ReceiveStream
	localControlStream  quic.SendStream

	mu       sync.RWMutex
	sessions map[uint64]*Session

	lastAcceptedStreamID atomic.Uint64
	localGoaway          atomic.Uint64
	goawaySet            atomic.Bool
	peerGoawaySeen       atomic.Bool
	peerGoaway           atomic.Uint64

	pendingMu     sync.Mutex
	pendingQueue  []*Request
	pendingSignal chan struct{}
	pendingClosed bool
}

func newConnection(server *Server, qc quic.Connection, parent context.Context) *Connection {
	ctx, cancel := context.WithCancel(parent)
	c := &Connection{
		quicConn:      qc,
		server:        server,
		ctx:           ctx,
		cancel:        cancel,
		sessions:      make(map[uint64]*Session),
		pendingSignal: make(chan struct{}, 1),
	}
	c.localGoaway.Store(noGoaway)
	return c
}

func (c *Connection) log() *zap.Logger {
	if c.server == nil {
		return nopLogger()
	}
	return c.server.logger
}

func (c *Connection) metrics() *Metrics {
	if c.server == nil {
		return nil
	}
	return c.server.metrics
}

// run performs Setup, then runs the main loop until the connection or its
// context ends, tearing everything down on exit.
func (c *Connection) run() {
	defer c.teardown()

	if err := c.setup(c.ctx); err != nil {
		c.log().Warn("connection setup failed", zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); c.readControlStream() }()
	go func() { defer wg.Done(); c.acceptBidiLoop() }()
	go func() { defer wg.Done(); c.acceptUniLoop() }()
	go c.readDatagrams()

	wg.Wait()
}

// setup accepts and validates the peer's control stream, then opens and
// writes this core's own, per draft-ietf-webtrans-http3-02 §4.
func (c *Connection) setup(ctx context.Context) error {
	peerStream, err := c.quicConn.AcceptUniStream(ctx)
	if err != nil {
		return err
	}

	streamType, err := h3.ReadStreamType(peerStream)
	if err != nil {
		h3.AbortRead(peerStream, h3.ErrStreamCreationError)
		return err
	}
	if streamType != h3.StreamControl {
		h3.AbortRead(peerStream, h3.ErrStreamCreationError)
		return h3.New(h3.KindInvalidData, h3.ErrStreamCreationError, "first peer unidirectional stream is not the control stream")
	}

	frame, err := h3.ReadFrameHeader(peerStream)
	if err != nil {
		h3.AbortRead(peerStream, h3.ErrMissingSettings)
		return err
	}
	if frame.Type != h3.FrameSettings {
		h3.AbortRead(peerStream, h3.ErrMissingSettings)
		return h3.New(h3.KindInvalidData, h3.ErrMissingSettings, "control stream did not open with a SETTINGS frame")
	}
	body := make([]byte, frame.Length)
	if err := h3.ReadExact(peerStream, body); err != nil {
		h3.AbortRead(peerStream, h3.ErrMissingSettings)
		return err
	}
	settings, err := h3.DecodeSettings(body)
	if err != nil {
		h3.AbortRead(peerStream, h3.ErrSettingsError)
		return err
	}
	if err := settings.RequireWebTransportSupport(); err != nil {
		h3.AbortRead(peerStream, h3.ErrSettingsError)
		return err
	}
	c.remoteSettings = settings
	c.peerControlStream = peerStream

	localStream, err := c.quicConn.OpenUniStream()
	if err != nil {
		return err
	}
	if err := h3.ServerSettings.WriteControlStreamHeader(localStream); err != nil {
		return err
	}
	c.localControlStream = localStream
	return nil
}

// readControlStream drains the peer's control stream, processing GOAWAY and
// dropping anything else (ReadFrameHeader already silently skips grease
// frames).
func (c *Connection) readControlStream() {
	for {
		frame, err := h3.ReadFrameHeader(c.peerControlStream)
		if err != nil {
			c.abort(h3.ErrClosedCriticalStream)
			return
		}

		if frame.Type != h3.FrameGoaway {
			if err := h3.DropExact(c.peerControlStream, frame.Length); err != nil {
				c.abort(h3.ErrClosedCriticalStream)
				return
			}
			continue
		}

		body := make([]byte, frame.Length)
		if err := h3.ReadExact(c.peerControlStream, body); err != nil {
			c.abort(h3.ErrFrameError)
			return
		}
		id, n, ok := PeekVarInt(body)
		if !ok || n != len(body) {
			c.abort(h3.ErrFrameError)
			return
		}
		if c.peerGoawaySeen.Load() && id > c.peerGoaway.Load() {
			c.abort(h3.ErrIDError)
			return
		}
		c.peerGoaway.Store(id)
		c.peerGoawaySeen.Store(true)
	}
}

func (c *Connection) acceptBidiLoop() {
	for {
		st, err := c.quicConn.AcceptStream(c.ctx)
		if err != nil {
			return
		}
		go c.classifyBidiStream(st)
	}
}

func (c *Connection) acceptUniLoop() {
	for {
		st, err := c.quicConn.AcceptUniStream(c.ctx)
		if err != nil {
			return
		}
		go c.classifyUniStream(st)
	}
}

func (c *Connection) recordAcceptedStream(id uint64) {
	for {
		cur := c.lastAcceptedStreamID.Load()
		if id <= cur {
			return
		}
		if c.lastAcceptedStreamID.CompareAndSwap(cur, id) {
			return
		}
	}
}

func (c *Connection) rejectedByGoaway(id uint64) bool {
	watermark := c.localGoaway.Load()
	return watermark != noGoaway && id > watermark
}

func (c *Connection) classifyBidiStream(st quic.Stream) {
	id := uint64(st.StreamID())
	c.recordAcceptedStream(id)

	if c.rejectedByGoaway(id) {
		h3.AbortBoth(st, h3.ErrRequestRejected)
		return
	}

	typ, sessionID, err := h3.ReadWebTransportStreamMarker(st)
	if err != nil {
		h3.AbortBoth(st, h3.ErrFrameError)
		return
	}

	switch typ {
	case h3.FrameWebTransportStream:
		c.routeBidiStream(sessionID, st)

	case h3.FrameHeaders:
		length, err := ReadVarInt(st)
		if err != nil {
			h3.AbortBoth(st, h3.ErrFrameError)
			return
		}
		cr, err := h3.DecodeConnectRequest(st, length)
		if err != nil {
			h3.AbortBoth(st, h3.ErrGeneralProtocolError)
			return
		}
		if !validateOrigin(c.server.allowedOrigins(), cr.Origin) {
			h3.AbortBoth(st, h3.ErrRequestRejected)
			return
		}
		req := newRequest(c, st, cr)
		if !c.enqueueRequest(req) {
			h3.AbortBoth(st, h3.ErrExcessiveLoad)
		}

	default:
		h3.AbortBoth(st, h3.ErrFrameUnexpected)
	}
}

func (c *Connection) routeBidiStream(sessionID uint64, st quic.Stream) {
	c.mu.RLock()
	sess, found := c.sessions[sessionID]
	c.mu.RUnlock()
	if !found {
		h3.AbortBoth(st, h3.ErrIDError)
		return
	}
	if !sess.tryQueueStream(st) {
		h3.AbortBoth(st, h3.ErrWebTransportBufferedStreamRejected)
	}
}

func (c *Connection) classifyUniStream(st quic.ReceiveStream) {
	id := uint64(st.StreamID())
	c.recordAcceptedStream(id)

	if c.rejectedByGoaway(id) {
		st.CancelRead(quic.StreamErrorCode(h3.ErrRequestRejected))
		return
	}

	typ, err := h3.ReadStreamType(st)
	if err != nil {
		st.CancelRead(quic.StreamErrorCode(h3.ErrStreamCreationError))
		return
	}

	if typ == h3.StreamWebTransportUniStream {
		sessionID, err := h3.ReadWebTransportUniHeader(st)
		if err != nil {
			st.CancelRead(quic.StreamErrorCode(h3.ErrStreamCreationError))
			return
		}
		c.mu.RLock()
		sess, found := c.sessions[sessionID]
		c.mu.RUnlock()
		if !found {
			st.CancelRead(quic.StreamErrorCode(h3.ErrIDError))
			return
		}
		if !sess.tryQueueUniStream(st) {
			st.CancelRead(quic.StreamErrorCode(h3.ErrWebTransportBufferedStreamRejected))
		}
		return
	}

	if h3.IsReservedStreamType(typ) {
		st.CancelRead(quic.StreamErrorCode(typ))
		return
	}
	st.CancelRead(quic.StreamErrorCode(h3.ErrStreamCreationError))
}

// readDatagrams routes inbound WebTransport datagrams to their session by
// quarter stream ID, dropping anything that doesn't match a live session.
func (c *Connection) readDatagrams() {
	for {
		msg, err := c.quicConn.ReceiveDatagram(c.ctx)
		if err != nil {
			return
		}
		sessionID, rest, ok := splitDatagram(msg)
		if !ok {
			c.metrics().datagramDropped()
			continue
		}
		c.mu.RLock()
		sess, found := c.sessions[sessionID]
		c.mu.RUnlock()
		if !found {
			c.metrics().datagramDropped()
			continue
		}
		sess.deliverDatagram(rest)
		c.metrics().datagramRouted()
	}
}

func (c *Connection) addSession(s *Session) {
	c.mu.Lock()
	c.sessions[s.id] = s
	c.mu.Unlock()
}

func (c *Connection) removeSession(id uint64) {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
}

// enqueueRequest appends req to the pending-requests FIFO and signals any
// waiting Accept call. ok is false if the connection is closing.
func (c *Connection) enqueueRequest(req *Request) (ok bool) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if c.pendingClosed {
		return false
	}
	c.pendingQueue = append(c.pendingQueue, req)
	select {
	case c.pendingSignal <- struct{}{}:
	default:
	}
	return true
}

// acceptRequest pops the next pending request, blocking until one is
// available, ctx is done, or the connection closes.
func (c *Connection) acceptRequest(ctx context.Context) (*Request, bool) {
	for {
		c.pendingMu.Lock()
		if len(c.pendingQueue) > 0 {
			req := c.pendingQueue[0]
			c.pendingQueue = c.pendingQueue[1:]
			c.pendingMu.Unlock()
			return req, true
		}
		closed := c.pendingClosed
		c.pendingMu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-c.pendingSignal:
		case <-ctx.Done():
			return nil, false
		case <-c.ctx.Done():
			return nil, false
		}
	}
}

// GoAway issues a server-initiated GOAWAY, once. A second call fails
// InvalidOperation.
func (c *Connection) GoAway() error {
	if !c.goawaySet.CompareAndSwap(false, true) {
		return h3.New(h3.KindInvalidOperation, h3.ErrNoError, "GOAWAY already issued on this connection")
	}
	watermark := c.lastAcceptedStreamID.Load()
	c.localGoaway.Store(watermark)

	if err := h3.WriteFrameHeader(c.localControlStream, h3.Frame{Type: h3.FrameGoaway, Length: uint64(SizeVarInt(watermark))}); err != nil {
		return err
	}
	buf, err := WriteVarInt(nil, watermark)
	if err != nil {
		return err
	}
	_, err = c.localControlStream.Write(buf)
	return err
}

func (c *Connection) abort(code h3.ErrorCode) {
	c.quicConn.CloseWithError(quic.ApplicationErrorCode(code), code.String())
	c.cancel()
}

// teardown drains the pending request queue and disposes every live
// session, then closes the QUIC connection.
func (c *Connection) teardown() {
	code := h3.ErrNoError
	if c.ctx.Err() != nil {
		code = h3.ErrClosedCriticalStream
	}

	c.pendingMu.Lock()
	c.pendingClosed = true
	drained := c.pendingQueue
	c.pendingQueue = nil
	c.pendingMu.Unlock()
	for _, req := range drained {
		h3.AbortBoth(req.stream, code)
	}

	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()
	for _, s := range sessions {
		s.teardown(h3.ErrNoError)
	}

	c.quicConn.CloseWithError(quic.ApplicationErrorCode(code), code.String())
	c.cancel()
}
