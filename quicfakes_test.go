// Copyright 2025 Kirill Scherba <kirill@scherba.ru>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wt3core

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/quic-go/quic-go"
)

// fakeStream is a bytes.Buffer-backed quic.Stream fake, satisfying the
// narrow quic.Stream-like interface each component actually needs rather
// than spinning up a real QUIC listener.
type fakeStream struct {
	id   quic.StreamID
	in   *bytes.Buffer
	out  *bytes.Buffer
	canceledRead  quic.StreamErrorCode
	canceledWrite quic.StreamErrorCode
	readCanceled  bool
	writeCanceled bool
	closed        bool
	inClosedAtEOF bool

	// block is never closed, so a Read past the end of in hangs instead of
	// returning io.EOF: a session's capsule reader is meant to sit idle on
	// an otherwise-quiet request stream, not tear the session down. Tests
	// that need a real FIN instead set inClosedAtEOF via closeIn.
	block chan struct{}
}

func newFakeStream(id quic.StreamID, in []byte) *fakeStream {
	return &fakeStream{id: id, in: bytes.NewBuffer(in), out: &bytes.Buffer{}, block: make(chan struct{})}
}

// closeIn makes reads past the end of the already-buffered input return
// io.EOF instead of blocking, simulating the peer sending a FIN.
func (f *fakeStream) closeIn() { f.inClosedAtEOF = true }

func (f *fakeStream) StreamID() quic.StreamID { return f.id }

func (f *fakeStream) Read(p []byte) (int, error) {
	if f.readCanceled {
		return 0, io.ErrClosedPipe
	}
	if f.in.Len() == 0 {
		if f.inClosedAtEOF {
			return 0, io.EOF
		}
		<-f.block
	}
	return f.in.Read(p)
}

func (f *fakeStream) Write(p []byte) (int, error) {
	if f.writeCanceled {
		return 0, io.ErrClosedPipe
	}
	return f.out.Write(p)
}

func (f *fakeStream) CancelRead(code quic.StreamErrorCode) {
	if f.readCanceled {
		return
	}
	f.readCanceled = true
	f.canceledRead = code
	close(f.block)
}

func (f *fakeStream) CancelWrite(code quic.StreamErrorCode) {
	f.writeCanceled = true
	f.canceledWrite = code
}

func (f *fakeStream) Close() error { f.closed = true; return nil }

func (f *fakeStream) Context() context.Context { return context.Background() }

func (f *fakeStream) SetReadDeadline(time.Time) error  { return nil }
func (f *fakeStream) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeStream) SetDeadline(time.Time) error      { return nil }

var (
	_ quic.Stream        = (*fakeStream)(nil)
	_ quic.SendStream    = (*fakeStream)(nil)
	_ quic.ReceiveStream = (*fakeStream)(nil)
)
