// Copyright 2025 Kirill Scherba <kirill@scherba.ru>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wt3core implements a WebTransport-over-HTTP/3 server core atop
// github.com/quic-go/quic-go: the varint codec, HTTP/3 framing, a minimal
// QPACK decoder, capsule protocol, certificate rotation, and the
// Connection/Session engines that drive them.
//
// This package has no relation to Teonet beyond its authorship and may be
// used in any other Go project.
package wt3core

import (
	"context"
	"crypto/tls"
	"sync"

	"github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/kirgrom/wt3core/h3"
)

// Server accepts QUIC connections and drives a Connection engine's
// Setup/main-loop per connection, fanning every live connection's pending
// Requests into a single channel so application code can call Accept once
// regardless of how many connections are open.
type Server struct {
	Addr           string
	AllowedOrigins []string
	QuicConfig     *quic.Config

	logger  *zap.Logger
	metrics *Metrics

	requests chan *Request

	mu        sync.Mutex
	listener  *quic.Listener
	closed    bool
	closeOnce sync.Once
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithLogger sets the *zap.Logger the Server and every Connection/Session
// it drives will log through. Omit for a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics sets the *Metrics the Server and every Connection/Session it
// drives will update. Omit to run without metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer constructs a Server listening on addr, with requests queued
// until the caller calls Accept.
func NewServer(addr string, opts ...Option) *Server {
	s := &Server{
		Addr:     addr,
		requests: make(chan *Request, 64),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = nopLogger()
	}
	return s
}

func (s *Server) allowedOrigins() []string { return s.AllowedOrigins }

// Run starts the QUIC listener and accepts connections until ctx is
// canceled or the listener fails. tlsConfig.GetCertificate should be
// wired to a CertRing's GetCertificateFunc; see tls.go.
func (s *Server) Run(ctx context.Context, tlsConfig *tls.Config) error {
	cfg := s.QuicConfig
	if cfg == nil {
		cfg = &quic.Config{}
	}
	cfg.EnableDatagrams = true

	listener, err := quic.ListenAddr(s.Addr, tlsConfig, cfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		qc, err := listener.Accept(ctx)
		if err != nil {
			return err
		}
		go s.handleConnection(ctx, qc)
	}
}

// handleConnection runs a single Connection engine to completion and
// forwards every Request it produces into the Server's fan-in channel.
func (s *Server) handleConnection(ctx context.Context, qc quic.Connection) {
	conn := newConnection(s, qc, ctx)
	go conn.run()

	for {
		req, ok := conn.acceptRequest(ctx)
		if !ok {
			return
		}
		select {
		case s.requests <- req:
		case <-conn.ctx.Done():
			h3.AbortBoth(req.stream, h3.ErrRequestRejected)
			return
		}
	}
}

// Accept blocks until a Request is available from any live connection or
// ctx is done. Close does not unblock a pending Accept.
func (s *Server) Accept(ctx context.Context) (*Request, error) {
	select {
	case req, ok := <-s.requests:
		if !ok {
			return nil, context.Canceled
		}
		return req, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting new connections. Already-accepted connections run
// their own teardown as their contexts are canceled independently.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		l := s.listener
		s.closed = true
		s.mu.Unlock()
		if l != nil {
			l.Close()
		}
	})
	return nil
}
