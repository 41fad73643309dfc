// Copyright 2025 Kirill Scherba <kirill@scherba.ru>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wt3core

import (
	"net/url"
	"sync"

	"github.com/quic-go/quic-go"

	"github.com/kirgrom/wt3core/h3"
)

// Request is a parsed, not-yet-answered extended-CONNECT WebTransport
// request. A Request must be resolved exactly once, by calling either
// Accept or Reject; calling either a second time, or calling both, fails
// with a KindInvalidOperation error instead of acting on the stream again.
type Request struct {
	Authority string
	Path      string
	Origin    string
	Version   string

	conn   *Connection
	stream quic.Stream

	mu       sync.Mutex
	resolved bool
}

func newRequest(conn *Connection, stream quic.Stream, cr h3.ConnectRequest) *Request {
	return &Request{
		Authority: cr.Authority,
		Path:      cr.Path,
		Origin:    cr.Origin,
		Version:   cr.Version,
		conn:      conn,
		stream:    stream,
	}
}

// Accept answers the request with a 200 response and registers a new
// Session keyed by the request stream's ID, returning it to the caller.
// The session's lifetime is bound to ctx's parent, conn.ctx: closing the
// connection tears down every session it ever accepted.
func (req *Request) Accept() (*Session, error) {
	req.mu.Lock()
	defer req.mu.Unlock()
	if req.resolved {
		return nil, h3.New(h3.KindInvalidOperation, h3.ErrNoError, "request expired")
	}
	req.resolved = true

	block := h3.EncodeAcceptHeaderBlock(req.Version)
	if err := h3.WriteFrameHeader(req.stream, h3.Frame{Type: h3.FrameHeaders, Length: uint64(len(block))}); err != nil {
		return nil, err
	}
	if _, err := req.stream.Write(block); err != nil {
		return nil, err
	}

	session := newSession(req.conn, req.stream)
	req.conn.addSession(session)
	req.conn.metrics().sessionAccepted()
	session.start()
	return session, nil
}

// Reject answers the request with the given HTTP status code, sent as an
// indexed-or-literal :status field, and aborts the request stream. No
// Session is created.
func (req *Request) Reject(statusCode int) error {
	req.mu.Lock()
	defer req.mu.Unlock()
	if req.resolved {
		return h3.New(h3.KindInvalidOperation, h3.ErrNoError, "request expired")
	}
	req.resolved = true

	req.conn.metrics().sessionRejected()
	block := h3.EncodeStatusHeaderBlock(statusCode)
	if err := h3.WriteFrameHeader(req.stream, h3.Frame{Type: h3.FrameHeaders, Length: uint64(len(block))}); err != nil {
		h3.AbortBoth(req.stream, h3.ErrRequestRejected)
		return err
	}
	if _, err := req.stream.Write(block); err != nil {
		h3.AbortBoth(req.stream, h3.ErrRequestRejected)
		return err
	}
	h3.AbortBoth(req.stream, h3.ErrRequestRejected)
	return nil
}

// validateOrigin reports whether origin is permitted to establish a
// session, per the given allow-list of hosts (the Server's AllowedOrigins).
// An empty allow-list permits every origin.
func validateOrigin(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, a := range allowed {
		if a == u.Host {
			return true
		}
	}
	return false
}
